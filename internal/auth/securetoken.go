package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/socq/internal/answer"
)

// DefaultSecureTokenEndpoint is the identity provider's token exchange host.
const DefaultSecureTokenEndpoint = "https://securetoken.googleapis.com"

// SecureTokenProvider exchanges a refresh token for a fresh ID token on every
// call. A rotated refresh token returned by the provider replaces the old one
// in memory only.
type SecureTokenProvider struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger

	mu           sync.Mutex
	refreshToken string
}

// NewSecureTokenProvider creates a provider for the given project API key and
// refresh token. An empty endpoint selects DefaultSecureTokenEndpoint.
func NewSecureTokenProvider(endpoint, apiKey, refreshToken string, httpClient *http.Client) *SecureTokenProvider {
	if endpoint == "" {
		endpoint = DefaultSecureTokenEndpoint
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &SecureTokenProvider{
		endpoint:     strings.TrimRight(endpoint, "/"),
		apiKey:       apiKey,
		httpClient:   httpClient,
		logger:       slog.Default(),
		refreshToken: strings.TrimSpace(refreshToken),
	}
}

type secureTokenResponse struct {
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    string `json:"expires_in"`
	UserID       string `json:"user_id"`
}

type secureTokenError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Token forces a refresh and returns the new ID token.
func (p *SecureTokenProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	refresh := p.refreshToken
	p.mu.Unlock()

	if refresh == "" {
		return "", ErrNoSession
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refresh},
	}
	target := p.endpoint + "/v1/token?key=" + url.QueryEscape(p.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		// url.Error repeats the target, which carries the API key.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return "", &answer.NetworkError{Method: http.MethodPost, URL: p.endpoint + "/v1/token", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reading token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(body))
		var apiErr secureTokenError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
		}
		// 4xx means the session itself is gone (revoked, expired, disabled).
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return "", fmt.Errorf("%w: %s", ErrNoSession, msg)
		}
		return "", fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, msg)
	}

	var tok secureTokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", fmt.Errorf("decoding token response: %w", err)
	}
	if tok.IDToken == "" {
		return "", fmt.Errorf("token response has no id_token")
	}

	if tok.RefreshToken != "" && tok.RefreshToken != refresh {
		p.mu.Lock()
		p.refreshToken = tok.RefreshToken
		p.mu.Unlock()
	}

	p.logger.Debug("id token refreshed", "user_id", tok.UserID, "expires_in", tok.ExpiresIn)
	return tok.IDToken, nil
}
