package video

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeyPEM(t *testing.T) (string, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	block := &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}
	return string(pem.EncodeToMemory(block)), key
}

func newTestClient(t *testing.T, baseURL string) (*Client, *rsa.PrivateKey) {
	t.Helper()
	keyPEM, key := testKeyPEM(t)
	client, err := NewClient(Config{
		BaseURL:       baseURL,
		ApplicationID: "app-123",
		PrivateKeyPEM: keyPEM,
	})
	require.NoError(t, err)
	return client, key
}

func TestNewClientRejectsBadKey(t *testing.T) {
	_, err := NewClient(Config{ApplicationID: "app-123", PrivateKeyPEM: "not a key"})
	assert.Error(t, err)

	keyPEM, _ := testKeyPEM(t)
	_, err = NewClient(Config{PrivateKeyPEM: keyPEM})
	assert.Error(t, err, "application id is required")
}

func TestCreateSession(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/session/create", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]map[string]string{{"session_id": "2_MX4session"}})
	}))
	defer srv.Close()

	client, key := newTestClient(t, srv.URL)

	sessionID, err := client.CreateSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2_MX4session", sessionID)

	// the application JWT on the request is signed with our key
	require.True(t, len(gotAuth) > len("Bearer "))
	parsed, err := jwt.Parse(gotAuth[len("Bearer "):], func(tok *jwt.Token) (any, error) {
		return &key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"RS256"}))
	require.NoError(t, err)
	claims := parsed.Claims.(jwt.MapClaims)
	assert.Equal(t, "app-123", claims["application_id"])
}

func TestCreateSessionErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	client, _ := newTestClient(t, srv.URL)

	_, err := client.CreateSession(context.Background())
	assert.ErrorContains(t, err, "unexpected status 403")
}

func TestCreateSessionEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("[]"))
	}))
	defer srv.Close()

	client, _ := newTestClient(t, srv.URL)

	_, err := client.CreateSession(context.Background())
	assert.ErrorContains(t, err, "empty session response")
}

func TestIssueTokenClaims(t *testing.T) {
	client, key := newTestClient(t, "http://unused")

	identity := TokenIdentity{UserID: "u-1", Name: "Ada", Role: "PATIENT"}
	expiresAt := time.Now().Add(90 * time.Minute).Truncate(time.Second)

	token, err := client.IssueToken("2_MX4session", identity, expiresAt)
	require.NoError(t, err)

	parsed, err := jwt.Parse(token, func(tok *jwt.Token) (any, error) {
		return &key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"RS256"}))
	require.NoError(t, err)
	require.True(t, parsed.Valid)

	claims := parsed.Claims.(jwt.MapClaims)
	assert.Equal(t, "app-123", claims["application_id"])
	assert.Equal(t, "video", claims["sub"])
	assert.Equal(t, "session.connect", claims["scope"])
	assert.Equal(t, "2_MX4session", claims["session_id"])
	assert.Equal(t, "publisher", claims["role"])
	assert.Equal(t, float64(expiresAt.Unix()), claims["exp"])
	assert.NotEmpty(t, claims["jti"])

	var gotIdentity TokenIdentity
	require.NoError(t, json.Unmarshal([]byte(claims["connection_data"].(string)), &gotIdentity))
	assert.Equal(t, identity, gotIdentity)
}
