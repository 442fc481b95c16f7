package push

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/encoding/json"
)

const (
	capabilitySubscribe  = "subscribe"
	capabilityPublishers = "channel-metadata:publishers"
)

// Token is a streaming access token as issued by the auth service.
type Token struct {
	PushEnabled bool
	Raw         string
	Channels    map[string][]string
	Exp         int64
	Iat         int64
}

type tokenClaims struct {
	Capability string `json:"x-ably-capability"`
	Exp        int64  `json:"exp"`
	Iat        int64  `json:"iat"`
}

// ParseToken decodes the claims segment of a JWT. The signature is not
// verified, the token is only forwarded to the streaming service.
func ParseToken(raw string) (*Token, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed token: expected 3 segments, got %d", len(parts))
	}

	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return nil, fmt.Errorf("malformed token payload: %w", err)
	}

	var claims tokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("malformed token claims: %w", err)
	}

	channels := make(map[string][]string)
	if claims.Capability != "" {
		if err := json.Unmarshal([]byte(claims.Capability), &channels); err != nil {
			return nil, fmt.Errorf("malformed token capability: %w", err)
		}
	}

	return &Token{
		PushEnabled: true,
		Raw:         raw,
		Channels:    channels,
		Exp:         claims.Exp,
		Iat:         claims.Iat,
	}, nil
}

// RefreshIn returns how long after issuance the token should be replaced:
// its lifetime minus grace. It never returns less than a minute.
func (t *Token) RefreshIn(grace time.Duration) time.Duration {
	d := time.Duration(t.Exp-t.Iat)*time.Second - grace
	if d < time.Minute {
		return time.Minute
	}
	return d
}
