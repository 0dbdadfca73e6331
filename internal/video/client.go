package video

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Provider is the video conferencing collaborator. Session handles and
// tokens are opaque strings to the rest of the system.
type Provider interface {
	CreateSession(ctx context.Context) (string, error)
	IssueToken(sessionID string, identity TokenIdentity, expiresAt time.Time) (string, error)
}

// TokenIdentity is embedded into the client token as connection data so the
// front end can label participants.
type TokenIdentity struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Role   string `json:"role"`
}

type Config struct {
	BaseURL       string
	ApplicationID string
	PrivateKeyPEM string
	Timeout       time.Duration
}

// Client talks to a Vonage-style video API: sessions are created server side
// with a short-lived application JWT, client tokens are RS256 JWTs signed
// with the same application key.
type Client struct {
	baseURL       string
	applicationID string
	privateKey    *rsa.PrivateKey
	httpClient    *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.ApplicationID == "" {
		return nil, errors.New("video: application id is required")
	}

	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(cfg.PrivateKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("video: parse private key: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Client{
		baseURL:       cfg.BaseURL,
		applicationID: cfg.ApplicationID,
		privateKey:    key,
		httpClient:    &http.Client{Timeout: timeout},
	}, nil
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

// CreateSession allocates a new routed session and returns its handle.
func (c *Client) CreateSession(ctx context.Context) (string, error) {
	appJWT, err := c.applicationJWT()
	if err != nil {
		return "", fmt.Errorf("video: sign application jwt: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/session/create", nil)
	if err != nil {
		return "", fmt.Errorf("video: build session request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+appJWT)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("video: create session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("video: create session: unexpected status %d", resp.StatusCode)
	}

	var sessions []createSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
		return "", fmt.Errorf("video: decode session response: %w", err)
	}
	if len(sessions) == 0 || sessions[0].SessionID == "" {
		return "", errors.New("video: empty session response")
	}

	return sessions[0].SessionID, nil
}

// IssueToken signs a client token for joining the given session. The caller
// controls the expiry; both parties publish, so the role is always publisher.
func (c *Client) IssueToken(sessionID string, identity TokenIdentity, expiresAt time.Time) (string, error) {
	connectionData, err := json.Marshal(identity)
	if err != nil {
		return "", fmt.Errorf("video: marshal connection data: %w", err)
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"application_id":  c.applicationID,
		"sub":             "video",
		"scope":           "session.connect",
		"session_id":      sessionID,
		"role":            "publisher",
		"connection_data": string(connectionData),
		"iat":             now.Unix(),
		"exp":             expiresAt.Unix(),
		"jti":             uuid.NewString(),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(c.privateKey)
	if err != nil {
		return "", fmt.Errorf("video: sign client token: %w", err)
	}
	return token, nil
}

func (c *Client) applicationJWT() (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"application_id": c.applicationID,
		"iat":            now.Unix(),
		"exp":            now.Add(time.Minute).Unix(),
		"jti":            uuid.NewString(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(c.privateKey)
}
