package renderer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// defaultTimeout bounds the token negotiation round trip.
const defaultTimeout = 30 * time.Second

// SessionToken is the credential pair returned by the rendering vendor; the
// web client uses it to establish the actual media session.
type SessionToken struct {
	SessionID    string `json:"session_id"`
	SessionToken string `json:"session_token"`
}

// TokenClient negotiates rendering session tokens with the vendor API.
// Sessions run in FULL mode but are driven exclusively through Repeat, so
// the vendor's own conversational AI never answers for us.
type TokenClient struct {
	apiURL   string
	apiKey   string
	avatarID string
	sandbox  bool
	http     *http.Client
}

// Option is a functional option for configuring a TokenClient.
type Option func(*TokenClient)

// WithHTTPClient overrides the HTTP client, primarily for tests pointing at
// an httptest server.
func WithHTTPClient(c *http.Client) Option {
	return func(t *TokenClient) { t.http = c }
}

// WithSandbox toggles the vendor's sandbox mode.
func WithSandbox(sandbox bool) Option {
	return func(t *TokenClient) { t.sandbox = sandbox }
}

// NewTokenClient creates a token client for the given vendor endpoint,
// API key, and avatar identity.
func NewTokenClient(apiURL, apiKey, avatarID string, opts ...Option) *TokenClient {
	t := &TokenClient{
		apiURL:   apiURL,
		apiKey:   apiKey,
		avatarID: avatarID,
		http:     &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// tokenRequest is the vendor session-token payload.
type tokenRequest struct {
	Mode          string         `json:"mode"`
	AvatarID      string         `json:"avatar_id"`
	IsSandbox     bool           `json:"is_sandbox"`
	AvatarPersona map[string]any `json:"avatar_persona"`
}

// tokenResponse unwraps the vendor's {"data": {...}} envelope.
type tokenResponse struct {
	Data *SessionToken `json:"data"`
	SessionToken
}

// CreateSessionToken negotiates a new rendering session token. voiceID is
// optional; when empty the avatar's default voice is used.
func (t *TokenClient) CreateSessionToken(ctx context.Context, voiceID string) (SessionToken, error) {
	persona := map[string]any{}
	if voiceID != "" {
		persona["voice_id"] = voiceID
	}

	body, err := json.Marshal(tokenRequest{
		Mode:          "FULL",
		AvatarID:      t.avatarID,
		IsSandbox:     t.sandbox,
		AvatarPersona: persona,
	})
	if err != nil {
		return SessionToken{}, fmt.Errorf("renderer: marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.apiURL+"/v1/sessions/token", bytes.NewReader(body))
	if err != nil {
		return SessionToken{}, fmt.Errorf("renderer: build token request: %w", err)
	}
	req.Header.Set("X-API-KEY", t.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		return SessionToken{}, fmt.Errorf("renderer: token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return SessionToken{}, fmt.Errorf("renderer: token request: unexpected status %d", resp.StatusCode)
	}

	var decoded tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return SessionToken{}, fmt.Errorf("renderer: decode token response: %w", err)
	}
	if decoded.Data != nil {
		return *decoded.Data, nil
	}
	return decoded.SessionToken, nil
}
