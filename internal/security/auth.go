package security

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

// AuthInfo contains authenticated caller information.
type AuthInfo struct {
	UserID    string     `json:"user_id"`
	AuthType  string     `json:"auth_type"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// JWTClaims represents JWT token claims.
type JWTClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Config holds authentication configuration.
type Config struct {
	APIKeys     []string      `yaml:"api_keys"`
	JWTSecret   string        `yaml:"jwt_secret"`
	JWTExpiry   time.Duration `yaml:"jwt_expiry"`
	RequireAuth bool          `yaml:"require_auth"`
}

type contextKey string

const (
	authInfoKey contextKey = "auth_info"
	clientIPKey contextKey = "client_ip"
)

// AuthProvider validates API keys and JWT tokens for the query interface.
type AuthProvider struct {
	config *Config
	logger *logrus.Logger
}

// NewAuthProvider creates an authentication provider.
func NewAuthProvider(config *Config, logger *logrus.Logger) *AuthProvider {
	if config.JWTExpiry == 0 {
		config.JWTExpiry = 24 * time.Hour
	}
	return &AuthProvider{config: config, logger: logger}
}

// Authenticate validates a token, trying API key first, then JWT.
func (a *AuthProvider) Authenticate(ctx context.Context, token string) (*AuthInfo, error) {
	if info, err := a.ValidateAPIKey(ctx, token); err == nil {
		return info, nil
	}
	if claims, err := a.ValidateJWT(token); err == nil {
		return &AuthInfo{
			UserID:    claims.UserID,
			AuthType:  "jwt",
			ExpiresAt: &claims.ExpiresAt.Time,
		}, nil
	}
	return nil, errors.New("invalid authentication token")
}

// ValidateAPIKey checks a key against the configured list in constant time.
func (a *AuthProvider) ValidateAPIKey(ctx context.Context, apiKey string) (*AuthInfo, error) {
	if apiKey == "" {
		return nil, errors.New("API key is required")
	}
	for _, validKey := range a.config.APIKeys {
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(validKey)) == 1 {
			return &AuthInfo{UserID: userIDForKey(apiKey), AuthType: "api_key"}, nil
		}
	}
	a.logger.WithFields(logrus.Fields{
		"api_key_prefix": maskKey(apiKey),
		"remote_ip":      clientIPFromContext(ctx),
	}).Warn("Invalid API key attempted")
	return nil, errors.New("invalid API key")
}

// GenerateJWT issues a signed token for a user.
func (a *AuthProvider) GenerateJWT(userID string) (string, error) {
	now := time.Now()
	claims := &JWTClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "provider-advisor",
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.config.JWTExpiry)),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(a.config.JWTSecret))
}

// ValidateJWT parses and verifies a token.
func (a *AuthProvider) ValidateJWT(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(a.config.JWTSecret), nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid JWT token")
}

// Middleware enforces authentication on everything except health checks
// and docs.
func (a *AuthProvider) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/health") || strings.HasPrefix(r.URL.Path, "/docs") {
				next.ServeHTTP(w, r)
				return
			}
			if !a.config.RequireAuth {
				next.ServeHTTP(w, r)
				return
			}

			token := extractToken(r)
			if token == "" {
				a.writeUnauthorized(w, "Missing authentication token")
				return
			}

			ctx := context.WithValue(r.Context(), clientIPKey, ClientIP(r))
			info, err := a.Authenticate(ctx, token)
			if err != nil {
				a.logger.WithFields(logrus.Fields{
					"path":      r.URL.Path,
					"method":    r.Method,
					"remote_ip": ClientIP(r),
				}).Warn("Authentication failed")
				a.writeUnauthorized(w, "Invalid authentication token")
				return
			}

			ctx = context.WithValue(ctx, authInfoKey, info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetAuthInfo extracts authentication info from a request context.
func GetAuthInfo(ctx context.Context) (*AuthInfo, bool) {
	info, ok := ctx.Value(authInfoKey).(*AuthInfo)
	return info, ok
}

func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.Header.Get("X-API-Key")
}

func userIDForKey(apiKey string) string {
	if len(apiKey) >= 8 {
		return "user_" + apiKey[:8]
	}
	return "user_" + apiKey
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

func clientIPFromContext(ctx context.Context) string {
	if ip, ok := ctx.Value(clientIPKey).(string); ok {
		return ip
	}
	return "unknown"
}

// ClientIP resolves the caller address, honoring proxy headers.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}

func (a *AuthProvider) writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	response := fmt.Sprintf(`{"error":{"message":"%s","type":"authentication_error","code":401},"timestamp":%d}`,
		message, time.Now().Unix())
	w.Write([]byte(response))
}
