package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/helicopterrun/aiophyn/internal/infrastructure/logging"
)

func cognitoCreds() Credentials {
	return Credentials{
		Username: "test@example.com",
		Password: "password",
		Brand:    "phyn",
		Cognito: CognitoConfig{
			Region:      "us-east-1",
			PoolID:      "us-east-1_pool",
			AppClientID: "client123",
		},
	}
}

func TestCognitoAuthenticate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Amz-Target"); got != cognitoTarget {
			t.Errorf("unexpected target header %q", got)
		}
		var req struct {
			AuthFlow       string            `json:"AuthFlow"`
			ClientId       string            `json:"ClientId"`
			AuthParameters map[string]string `json:"AuthParameters"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if req.AuthFlow != "USER_PASSWORD_AUTH" || req.ClientId != "client123" {
			t.Errorf("unexpected request %+v", req)
		}
		if req.AuthParameters["USERNAME"] != "test@example.com" {
			t.Errorf("unexpected username %q", req.AuthParameters["USERNAME"])
		}
		json.NewEncoder(w).Encode(map[string]any{
			"AuthenticationResult": map[string]any{
				"AccessToken":  "access123",
				"IdToken":      "id123",
				"RefreshToken": "refresh123",
				"ExpiresIn":    3600,
			},
		})
	}))
	defer server.Close()

	a := NewCognitoAuthenticator(
		WithCognitoEndpoint(server.URL),
		WithCognitoLogger(logging.Discard()),
	)
	tokens, err := a.Authenticate(context.Background(), cognitoCreds())
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if tokens.AccessToken != "access123" || tokens.IDToken != "id123" {
		t.Errorf("unexpected tokens %+v", tokens)
	}
	if tokens.ExpiresIn != 3600 {
		t.Errorf("expected ExpiresIn 3600, got %d", tokens.ExpiresIn)
	}
}

func TestCognitoAuthenticateRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{
			"__type":  "NotAuthorizedException",
			"message": "Incorrect username or password.",
		})
	}))
	defer server.Close()

	a := NewCognitoAuthenticator(
		WithCognitoEndpoint(server.URL),
		WithCognitoLogger(logging.Discard()),
	)
	_, err := a.Authenticate(context.Background(), cognitoCreds())
	if !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "NotAuthorizedException") {
		t.Errorf("expected provider error type surfaced, got %q", err)
	}
}

func TestCognitoAuthenticateChallenge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"ChallengeName": "NEW_PASSWORD_REQUIRED"})
	}))
	defer server.Close()

	a := NewCognitoAuthenticator(
		WithCognitoEndpoint(server.URL),
		WithCognitoLogger(logging.Discard()),
	)
	_, err := a.Authenticate(context.Background(), cognitoCreds())
	if !errors.Is(err, ErrAuthenticationFailed) || !strings.Contains(err.Error(), "NEW_PASSWORD_REQUIRED") {
		t.Errorf("expected challenge error, got %v", err)
	}
}

func TestCognitoAuthenticateUnconfiguredPool(t *testing.T) {
	a := NewCognitoAuthenticator(WithCognitoLogger(logging.Discard()))
	creds := cognitoCreds()
	creds.Cognito = CognitoConfig{}

	_, err := a.Authenticate(context.Background(), creds)
	if !errors.Is(err, ErrAuthenticationFailed) {
		t.Errorf("expected ErrAuthenticationFailed, got %v", err)
	}
}
