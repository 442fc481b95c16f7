package push

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/segmentio/encoding/json"
)

// Authenticator obtains a streaming token.
type Authenticator interface {
	Authenticate(ctx context.Context) (*Token, error)
}

// AuthError is returned when the auth service answers with a non-200 status.
type AuthError struct {
	StatusCode int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth service returned status %d", e.StatusCode)
}

// HTTPAuthenticator calls the auth service over HTTP.
type HTTPAuthenticator struct {
	authURL    string
	sdkKey     string
	headers    map[string]string
	httpClient *http.Client
}

// NewHTTPAuthenticator creates an authenticator against authURL, e.g.
// "https://auth.split.io/api". A nil httpClient gets a 10s timeout client.
func NewHTTPAuthenticator(authURL, sdkKey string, metadata Metadata, httpClient *http.Client) *HTTPAuthenticator {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPAuthenticator{
		authURL:    strings.TrimRight(authURL, "/"),
		sdkKey:     sdkKey,
		headers:    metadata.Headers(sdkKey),
		httpClient: httpClient,
	}
}

type authResponse struct {
	PushEnabled bool   `json:"pushEnabled"`
	Token       string `json:"token"`
}

func (a *HTTPAuthenticator) Authenticate(ctx context.Context) (*Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.authURL+"/v2/auth?s=1.1", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.sdkKey)
	for k, v := range a.headers {
		req.Header.Set(k, v)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach auth service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &AuthError{StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read auth response: %w", err)
	}

	var parsed authResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode auth response: %w", err)
	}
	if !parsed.PushEnabled {
		return &Token{PushEnabled: false}, nil
	}
	return ParseToken(parsed.Token)
}
