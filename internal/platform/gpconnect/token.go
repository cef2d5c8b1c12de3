package gpconnect

import (
	"context"
	"crypto/rsa"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	assertionLifetime   = 5 * time.Minute
	clientAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"
	tokenExpirySkew     = 10 * time.Second
)

// LoadPrivateKey reads a PEM encoded RSA private key.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

type tokenResponse struct {
	AccessToken string      `json:"access_token"`
	ExpiresIn   interface{} `json:"expires_in"`
	TokenType   string      `json:"token_type"`
}

// expiresIn accepts both the numeric and the string form PDS has used.
func (r tokenResponse) expiresIn() time.Duration {
	switch v := r.ExpiresIn.(type) {
	case float64:
		return time.Duration(v) * time.Second
	case string:
		if d, err := time.ParseDuration(v + "s"); err == nil {
			return d
		}
	}
	return 0
}

// tokenSource obtains and caches a PDS access token using the signed JWT
// client assertion flow.
type tokenSource struct {
	tokenURL string
	apiKey   string
	keyID    string
	key      *rsa.PrivateKey
	client   *http.Client
	now      func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

// Token returns the cached token, fetching a new one when none is held
// or the held one has expired.
func (s *tokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != "" && s.now().Before(s.expires) {
		return s.token, nil
	}
	return s.refreshLocked(ctx)
}

// Invalidate drops the cached token so the next call fetches a new one.
func (s *tokenSource) Invalidate(stale string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == stale {
		s.token = ""
	}
}

func (s *tokenSource) refreshLocked(ctx context.Context) (string, error) {
	assertion, err := s.assertion()
	if err != nil {
		return "", err
	}

	form := url.Values{
		"grant_type":            {"client_credentials"},
		"client_assertion_type": {clientAssertionType},
		"client_assertion":      {assertion},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: token request: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", &UpstreamError{Service: "pds oauth", StatusCode: resp.StatusCode, Body: truncate(body)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("%w: decode token response: %v", ErrUpstreamUnavailable, err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("%w: token response without access_token", ErrUpstreamUnavailable)
	}

	s.token = tr.AccessToken
	s.expires = s.now().Add(tr.expiresIn() - tokenExpirySkew)
	return s.token, nil
}

// assertion signs the RS512 client assertion presented to the token
// endpoint.
func (s *tokenSource) assertion() (string, error) {
	if s.key == nil {
		return "", fmt.Errorf("%w: no PDS signing key configured", ErrUpstreamUnavailable)
	}
	now := s.now()
	claims := jwt.MapClaims{
		"iss": s.apiKey,
		"sub": s.apiKey,
		"aud": s.tokenURL,
		"jti": uuid.NewString(),
		"exp": now.Add(assertionLifetime).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS512, claims)
	token.Header["kid"] = s.keyID
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign client assertion: %w", err)
	}
	return signed, nil
}
