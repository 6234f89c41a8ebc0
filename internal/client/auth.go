package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MikhailOznobikhin/moznods/internal/domain"
	"github.com/MikhailOznobikhin/moznods/pkg/jwt"
)

// AuthResolver turns a bearer token into a user identity.
type AuthResolver interface {
	Resolve(ctx context.Context, token string) (*domain.User, error)
}

// Errors
var (
	ErrUnauthenticated = errors.New("invalid or expired token")
)

// AuthConfig selects and tunes the token resolver.
type AuthConfig struct {
	Driver      string `mapstructure:"driver"` // "jwt", "http"
	JWTSecret   string `mapstructure:"jwt_secret"`
	HTTPAddress string `mapstructure:"http_address"`
}

// NewAuthResolver creates a resolver from configuration.
func NewAuthResolver(cfg AuthConfig) (AuthResolver, error) {
	switch cfg.Driver {
	case "", "jwt":
		if cfg.JWTSecret == "" {
			return nil, fmt.Errorf("auth jwt secret is required")
		}
		return NewJWTResolver(cfg.JWTSecret), nil
	case "http":
		if cfg.HTTPAddress == "" {
			return nil, fmt.Errorf("auth service address is required")
		}
		return NewHTTPAuthClient(cfg.HTTPAddress), nil
	default:
		return nil, fmt.Errorf("unknown auth driver: %s", cfg.Driver)
	}
}

// JWTResolver validates tokens locally against a shared signing secret.
type JWTResolver struct {
	manager *jwt.Manager
}

// NewJWTResolver creates a resolver that validates HS256 tokens.
func NewJWTResolver(secret string) *JWTResolver {
	return &JWTResolver{manager: jwt.NewManager(secret, 24*time.Hour, "moznods")}
}

// Resolve validates the token and extracts the user identity.
func (r *JWTResolver) Resolve(_ context.Context, token string) (*domain.User, error) {
	claims, err := r.manager.Validate(token)
	if err != nil {
		return nil, ErrUnauthenticated
	}
	return &domain.User{
		ID:        claims.UserID,
		Username:  claims.Username,
		Superuser: claims.Superuser,
	}, nil
}

// HTTPAuthClient wraps the auth service HTTP client.
type HTTPAuthClient struct {
	baseURL    string
	httpClient *http.Client
}

type authResponse struct {
	Valid     bool   `json:"valid"`
	UserID    int64  `json:"user_id"`
	Username  string `json:"username"`
	Superuser bool   `json:"superuser"`
	Error     string `json:"error,omitempty"`
}

// NewHTTPAuthClient creates a new auth service client.
func NewHTTPAuthClient(baseURL string) *HTTPAuthClient {
	return &HTTPAuthClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Resolve validates the token with the auth service.
func (c *HTTPAuthClient) Resolve(ctx context.Context, token string) (*domain.User, error) {
	body, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/auth/validate", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to validate token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrUnauthenticated
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth service returned status: %d", resp.StatusCode)
	}

	var authResp authResponse
	if err := json.NewDecoder(resp.Body).Decode(&authResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if !authResp.Valid {
		return nil, ErrUnauthenticated
	}

	return &domain.User{
		ID:        authResp.UserID,
		Username:  authResp.Username,
		Superuser: authResp.Superuser,
	}, nil
}
