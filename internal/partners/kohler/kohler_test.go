package kohler

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const (
	testPassword = "hunter2-secret"
	testUserID   = "user123"
)

// testKey is 16 bytes, so its base64 form is a valid AES-128 comm_id.
var testKey = []byte("testdatatestdata")

func testCommID() string {
	return base64.StdEncoding.EncodeToString(testKey)
}

// encryptToken produces the IV-prefixed CBC ciphertext TokenToPassword
// expects. A zero IV keeps fixtures deterministic.
func encryptToken(t *testing.T, key []byte, password string) string {
	t.Helper()
	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	pad := aes.BlockSize - len(password)%aes.BlockSize
	plain := append([]byte(password), bytes.Repeat([]byte{byte(pad)}, pad)...)
	raw := make([]byte, aes.BlockSize+len(plain))
	cipher.NewCBCEncrypter(block, raw[:aes.BlockSize]).CryptBlocks(raw[aes.BlockSize:], plain)
	return base64.StdEncoding.EncodeToString(raw)
}

func clientInfo(uid string) string {
	raw, _ := json.Marshal(map[string]string{"uid": uid})
	return base64.RawURLEncoding.EncodeToString(raw)
}

// serverOpts overrides individual legs of the partner flow; nil fields
// fall back to well-behaved defaults.
type serverOpts struct {
	authorize http.HandlerFunc
	selfAsserted http.HandlerFunc
	confirmed http.HandlerFunc
	token     http.HandlerFunc
	appData   http.HandlerFunc
	phynToken http.HandlerFunc
}

func newPartnerServer(t *testing.T, opts serverOpts) *httptest.Server {
	t.Helper()

	if opts.authorize == nil {
		opts.authorize = func(w http.ResponseWriter, r *http.Request) {
			http.SetCookie(w, &http.Cookie{Name: csrfCookie, Value: "csrf_token_value", Path: "/"})
			fmt.Fprint(w, `var SETTINGS = {"transId":"StateProperties=ABC123"};`)
		}
	}
	if opts.selfAsserted == nil {
		opts.selfAsserted = func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-CSRF-TOKEN") == "" {
				t.Error("credential post missing CSRF header")
			}
			fmt.Fprint(w, `{"status":"200"}`)
		}
	}
	if opts.confirmed == nil {
		opts.confirmed = func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Location", "https://redirect.example?code=AUTH_CODE")
			w.WriteHeader(http.StatusFound)
		}
	}
	if opts.token == nil {
		opts.token = func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{
				"access_token": "token123",
				"expires_in":   3600,
				"client_info":  clientInfo(testUserID),
			})
		}
	}
	if opts.appData == nil {
		opts.appData = func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer token123" {
				t.Errorf("unexpected Authorization header %q", r.Header.Get("Authorization"))
			}
			json.NewEncoder(w).Encode(map[string]any{
				"cognito": map[string]any{
					"region":        "us-east-1",
					"pool_id":       "us-east-1_pool",
					"app_client_id": "client123",
				},
				"pws_api": map[string]any{"app_api_key": "key123"},
				"partner": map[string]any{"comm_id": testCommID()},
			})
		}
	}
	if opts.phynToken == nil {
		opts.phynToken = func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{
				"token": encryptToken(t, testKey, testPassword),
			})
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/v2.0/authorize", opts.authorize)
	mux.HandleFunc("/SelfAsserted", opts.selfAsserted)
	mux.HandleFunc("/api/CombinedSigninAndSignup/confirmed", opts.confirmed)
	mux.HandleFunc("/oauth2/v2.0/token", opts.token)
	mux.HandleFunc("/v1/users/"+testUserID+"/app-data", opts.appData)
	mux.HandleFunc("/v1/users/"+testUserID+"/phyn-token", opts.phynToken)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestClient(t *testing.T, opts serverOpts) *Client {
	t.Helper()
	server := newPartnerServer(t, opts)
	return NewClient("test@example.com", "password",
		WithEndpoints(server.URL, server.URL))
}

func TestPartnerCredentials(t *testing.T) {
	c := newTestClient(t, serverOpts{})

	creds, err := c.PartnerCredentials(context.Background())
	if err != nil {
		t.Fatalf("PartnerCredentials failed: %v", err)
	}
	if creds.Username != "test@example.com" {
		t.Errorf("unexpected username %q", creds.Username)
	}
	if creds.Password != testPassword {
		t.Errorf("expected decrypted password %q, got %q", testPassword, creds.Password)
	}
	if creds.Brand != "kohler" {
		t.Errorf("unexpected brand %q", creds.Brand)
	}
	if creds.Cognito.Region != "us-east-1" || creds.Cognito.PoolID != "us-east-1_pool" {
		t.Errorf("unexpected cognito config %+v", creds.Cognito)
	}
	if got := c.AppAPIKey(); got != "key123" {
		t.Errorf("unexpected app api key %q", got)
	}
}

func TestB2CLoginHTTPError(t *testing.T) {
	c := newTestClient(t, serverOpts{
		authorize: func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		},
	})

	err := c.B2CLogin(context.Background())
	if !errors.Is(err, ErrB2CLogin) {
		t.Fatalf("expected ErrB2CLogin, got %v", err)
	}
	if !strings.Contains(err.Error(), "HTTP 500") {
		t.Errorf("expected status in error, got %q", err)
	}
}

func TestB2CLoginMissingStateProperties(t *testing.T) {
	c := newTestClient(t, serverOpts{
		authorize: func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, "<html>No state properties here</html>")
		},
	})

	err := c.B2CLogin(context.Background())
	if !errors.Is(err, ErrB2CLogin) || !strings.Contains(err.Error(), "StateProperties") {
		t.Errorf("expected StateProperties error, got %v", err)
	}
}

func TestB2CLoginMissingCSRFToken(t *testing.T) {
	c := newTestClient(t, serverOpts{
		authorize: func(w http.ResponseWriter, r *http.Request) {
			// StateProperties present but no CSRF cookie set.
			fmt.Fprint(w, `"StateProperties=ABC123"`)
		},
	})

	err := c.B2CLogin(context.Background())
	if !errors.Is(err, ErrB2CLogin) || !strings.Contains(err.Error(), "CSRF") {
		t.Errorf("expected CSRF error, got %v", err)
	}
}

func TestB2CLoginMissingLocationHeader(t *testing.T) {
	c := newTestClient(t, serverOpts{
		confirmed: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusFound)
		},
	})

	err := c.B2CLogin(context.Background())
	if !errors.Is(err, ErrB2CLogin) || !strings.Contains(err.Error(), "Location header") {
		t.Errorf("expected Location header error, got %v", err)
	}
}

func TestB2CLoginMissingAuthCode(t *testing.T) {
	c := newTestClient(t, serverOpts{
		confirmed: func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Location", "https://redirect.example?error=something")
			w.WriteHeader(http.StatusFound)
		},
	})

	err := c.B2CLogin(context.Background())
	if !errors.Is(err, ErrB2CLogin) || !strings.Contains(strings.ToLower(err.Error()), "authorization code") {
		t.Errorf("expected authorization code error, got %v", err)
	}
}

func TestB2CLoginInvalidTokenJSON(t *testing.T) {
	c := newTestClient(t, serverOpts{
		token: func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, "Not valid JSON")
		},
	})

	err := c.B2CLogin(context.Background())
	if !errors.Is(err, ErrB2CLogin) || !strings.Contains(err.Error(), "JSON") {
		t.Errorf("expected JSON error, got %v", err)
	}
}

func TestB2CLoginMissingClientInfo(t *testing.T) {
	c := newTestClient(t, serverOpts{
		token: func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{
				"access_token": "token123",
				"expires_in":   3600,
			})
		},
	})

	err := c.B2CLogin(context.Background())
	if !errors.Is(err, ErrB2CLogin) || !strings.Contains(err.Error(), "client_info") {
		t.Errorf("expected client_info error, got %v", err)
	}
}

func TestPhynTokenHTTPError(t *testing.T) {
	c := newTestClient(t, serverOpts{
		appData: func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
		},
	})
	if err := c.B2CLogin(context.Background()); err != nil {
		t.Fatalf("B2CLogin failed: %v", err)
	}

	_, err := c.PhynToken(context.Background())
	if !errors.Is(err, ErrTokenExchange) {
		t.Fatalf("expected ErrTokenExchange, got %v", err)
	}
	if !strings.Contains(err.Error(), "HTTP 401") {
		t.Errorf("expected status in error, got %q", err)
	}
}

func TestPhynTokenErrorMsgInResponse(t *testing.T) {
	c := newTestClient(t, serverOpts{
		appData: func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"error_msg": "Invalid partner credentials"})
		},
	})
	if err := c.B2CLogin(context.Background()); err != nil {
		t.Fatalf("B2CLogin failed: %v", err)
	}

	_, err := c.PhynToken(context.Background())
	if !errors.Is(err, ErrTokenExchange) || !strings.Contains(err.Error(), "Invalid partner credentials") {
		t.Errorf("expected partner error message surfaced, got %v", err)
	}
}

func TestPhynTokenMissingCognito(t *testing.T) {
	c := newTestClient(t, serverOpts{
		appData: func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{
				"pws_api": map[string]any{"app_api_key": "key123"},
			})
		},
	})
	if err := c.B2CLogin(context.Background()); err != nil {
		t.Fatalf("B2CLogin failed: %v", err)
	}

	_, err := c.PhynToken(context.Background())
	if !errors.Is(err, ErrTokenExchange) || !strings.Contains(err.Error(), "cognito") {
		t.Errorf("expected cognito error, got %v", err)
	}
}

func TestPhynTokenInvalidJSON(t *testing.T) {
	c := newTestClient(t, serverOpts{
		appData: func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, "Not JSON")
		},
	})
	if err := c.B2CLogin(context.Background()); err != nil {
		t.Fatalf("B2CLogin failed: %v", err)
	}

	_, err := c.PhynToken(context.Background())
	if !errors.Is(err, ErrTokenExchange) || !strings.Contains(err.Error(), "JSON") {
		t.Errorf("expected JSON error, got %v", err)
	}
}

func TestPhynTokenMissingTokenField(t *testing.T) {
	c := newTestClient(t, serverOpts{
		phynToken: func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"other_field": "value"})
		},
	})
	if err := c.B2CLogin(context.Background()); err != nil {
		t.Fatalf("B2CLogin failed: %v", err)
	}

	_, err := c.PhynToken(context.Background())
	if !errors.Is(err, ErrTokenExchange) || !strings.Contains(err.Error(), "Token not found") {
		t.Errorf("expected token-not-found error, got %v", err)
	}
}

func TestPhynTokenRequiresLogin(t *testing.T) {
	c := NewClient("test@example.com", "password")

	_, err := c.PhynToken(context.Background())
	if !errors.Is(err, ErrTokenExchange) || !strings.Contains(err.Error(), "not logged in") {
		t.Errorf("expected not-logged-in error, got %v", err)
	}
}

func TestTokenToPassword(t *testing.T) {
	c := NewClient("test@example.com", "password")
	c.mobile = map[string]any{
		"partner": map[string]any{"comm_id": testCommID()},
	}

	got, err := c.TokenToPassword(encryptToken(t, testKey, testPassword))
	if err != nil {
		t.Fatalf("TokenToPassword failed: %v", err)
	}
	if got != testPassword {
		t.Errorf("expected %q, got %q", testPassword, got)
	}
}

func TestTokenToPasswordInvalidToken(t *testing.T) {
	c := NewClient("test@example.com", "password")
	c.mobile = map[string]any{
		"partner": map[string]any{"comm_id": testCommID()},
	}

	_, err := c.TokenToPassword("\x00\x01\x02")
	if !errors.Is(err, ErrTokenExchange) || !strings.Contains(err.Error(), "decode") {
		t.Errorf("expected decode error, got %v", err)
	}
}

func TestTokenToPasswordMissingPartnerData(t *testing.T) {
	c := NewClient("test@example.com", "password")
	c.mobile = map[string]any{}

	_, err := c.TokenToPassword("dGVzdA")
	if !errors.Is(err, ErrTokenExchange) || !strings.Contains(err.Error(), "comm_id") {
		t.Errorf("expected comm_id error, got %v", err)
	}
}

func TestErrorTaxonomy(t *testing.T) {
	b2cErr := fmt.Errorf("%w: HTTP 500", ErrB2CLogin)
	tokenErr := fmt.Errorf("%w: Token not found", ErrTokenExchange)

	if errors.Is(b2cErr, ErrTokenExchange) {
		t.Error("B2C errors must not match ErrTokenExchange")
	}
	if errors.Is(tokenErr, ErrB2CLogin) {
		t.Error("token errors must not match ErrB2CLogin")
	}
}
