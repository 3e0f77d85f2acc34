package cache

import (
	"testing"
	"time"

	"github.com/tributary-ai/provider-advisor/internal/types"
)

func TestBucketFor(t *testing.T) {
	tests := []struct {
		tokens int64
		want   SizeBucket
	}{
		{0, BucketSmall},
		{999, BucketSmall},
		{1000, BucketMedium},
		{9999, BucketMedium},
		{10000, BucketLarge},
		{99999, BucketLarge},
		{100000, BucketHuge},
	}
	for _, tt := range tests {
		if got := BucketFor(tt.tokens); got != tt.want {
			t.Errorf("BucketFor(%d) = %s, want %s", tt.tokens, got, tt.want)
		}
	}
}

func TestCache_PutGet(t *testing.T) {
	c, err := New(time.Minute)
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	defer c.Close()

	recs := []types.Recommendation{{Provider: "alpha", Score: 0.9}}
	c.Put(types.OperationSummarize, 500, types.ProfileBalanced, recs)
	c.Wait()

	got, ok := c.Get(types.OperationSummarize, 500, types.ProfileBalanced)
	if !ok {
		t.Fatal("Expected cache hit")
	}
	if len(got) != 1 || got[0].Provider != "alpha" {
		t.Errorf("Unexpected cached value: %+v", got)
	}
}

func TestCache_SharedWithinBucket(t *testing.T) {
	c, err := New(time.Minute)
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	defer c.Close()

	recs := []types.Recommendation{{Provider: "alpha"}}
	c.Put(types.OperationSummarize, 100, types.ProfileBalanced, recs)
	c.Wait()

	// 100 and 900 tokens share the small bucket.
	if _, ok := c.Get(types.OperationSummarize, 900, types.ProfileBalanced); !ok {
		t.Error("Expected hit for a different size in the same bucket")
	}
	// 5000 tokens is a different bucket.
	if _, ok := c.Get(types.OperationSummarize, 5000, types.ProfileBalanced); ok {
		t.Error("Expected miss across bucket boundary")
	}
	// Different profile, different entry.
	if _, ok := c.Get(types.OperationSummarize, 100, types.ProfileSpeedOptimized); ok {
		t.Error("Expected miss for a different profile")
	}
	// Different operation, different entry.
	if _, ok := c.Get(types.OperationAnalyze, 100, types.ProfileBalanced); ok {
		t.Error("Expected miss for a different operation")
	}
}

func TestCache_Invalidate(t *testing.T) {
	c, err := New(time.Minute)
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	defer c.Close()

	gen := c.Generation()
	c.Put(types.OperationSummarize, 100, types.ProfileBalanced, []types.Recommendation{{Provider: "alpha"}})
	c.Wait()

	c.Invalidate()
	if c.Generation() != gen+1 {
		t.Errorf("Expected generation %d after invalidate, got %d", gen+1, c.Generation())
	}
	if _, ok := c.Get(types.OperationSummarize, 100, types.ProfileBalanced); ok {
		t.Error("Expected miss after invalidation")
	}

	// New writes land under the new generation.
	c.Put(types.OperationSummarize, 100, types.ProfileBalanced, []types.Recommendation{{Provider: "beta"}})
	c.Wait()
	got, ok := c.Get(types.OperationSummarize, 100, types.ProfileBalanced)
	if !ok || got[0].Provider != "beta" {
		t.Errorf("Expected fresh entry after invalidation, got %+v ok=%t", got, ok)
	}
}

func TestCache_TTLExpiry(t *testing.T) {
	c, err := New(50 * time.Millisecond)
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	defer c.Close()

	c.Put(types.OperationSummarize, 100, types.ProfileBalanced, []types.Recommendation{{Provider: "alpha"}})
	c.Wait()
	if _, ok := c.Get(types.OperationSummarize, 100, types.ProfileBalanced); !ok {
		t.Fatal("Expected hit before TTL expiry")
	}

	time.Sleep(100 * time.Millisecond)
	if _, ok := c.Get(types.OperationSummarize, 100, types.ProfileBalanced); ok {
		t.Error("Expected miss after TTL expiry")
	}
}
