package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// staticTokens implements TokenProvider with a fixed token.
type staticTokens struct {
	token string
	err   error
	calls int32
}

func (s *staticTokens) Token(_ context.Context) (string, error) {
	atomic.AddInt32(&s.calls, 1)
	return s.token, s.err
}

func TestGetInjectsBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tokens := &staticTokens{token: "abc123"}
	client := NewClient(srv.URL, tokens)

	var result struct {
		OK bool `json:"ok"`
	}
	if err := client.Get(context.Background(), "/devices", nil, &result); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if gotAuth != "Bearer abc123" {
		t.Errorf("Authorization = %q, want Bearer abc123", gotAuth)
	}
	if !result.OK {
		t.Error("response not decoded")
	}
	if atomic.LoadInt32(&tokens.calls) != 1 {
		t.Errorf("token provider called %d times, want 1", tokens.calls)
	}
}

func TestGetTokenFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request must not reach the server without a token")
	}))
	defer srv.Close()

	tokens := &staticTokens{err: errors.New("auth down")}
	client := NewClient(srv.URL, tokens)

	err := client.Get(context.Background(), "/devices", nil, nil)
	if err == nil {
		t.Fatal("Get() expected error when token acquisition fails")
	}
}

func TestGetStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, &staticTokens{token: "t"})

	err := client.Get(context.Background(), "/devices", nil, nil)
	if err == nil {
		t.Fatal("Get() expected error for 403")
	}

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("error = %v, want *StatusError", err)
	}
	if statusErr.StatusCode != http.StatusForbidden {
		t.Errorf("StatusCode = %d, want 403", statusErr.StatusCode)
	}
	if !errors.Is(err, ErrRequestFailed) {
		t.Error("StatusError must match ErrRequestFailed")
	}
}

func TestRequestTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	client := NewClient(srv.URL, &staticTokens{token: "t"},
		WithTimeout(50*time.Millisecond))

	start := time.Now()
	err := client.Get(context.Background(), "/slow", nil, nil)
	if err == nil {
		t.Fatal("Get() expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("request took %v, timeout not applied", elapsed)
	}
}

func TestPostSendsJSONBody(t *testing.T) {
	var gotContentType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody = buf
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, &staticTokens{token: "t"})

	body := map[string]bool{"away_mode": true}
	if err := client.Post(context.Background(), "/preferences", body, nil); err != nil {
		t.Fatalf("Post() error = %v", err)
	}

	if gotContentType != "application/json" {
		t.Errorf("Content-Type = %q", gotContentType)
	}
	if string(gotBody) != `{"away_mode":true}` {
		t.Errorf("body = %s", gotBody)
	}
}

func TestMQTTInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/mqtt/v2/connection-info" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"mqtt_host":"broker.phyn.com","mqtt_path":"/mqtt?sig=xyz"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, &staticTokens{token: "t"})

	info, err := client.MQTTInfo(context.Background())
	if err != nil {
		t.Fatalf("MQTTInfo() error = %v", err)
	}
	if info.Host != "broker.phyn.com" || info.Path != "/mqtt?sig=xyz" {
		t.Errorf("info = %+v", info)
	}
}

func TestMQTTInfoMissingHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, &staticTokens{token: "t"})

	_, err := client.MQTTInfo(context.Background())
	if !errors.Is(err, ErrEndpointDiscovery) {
		t.Errorf("MQTTInfo() error = %v, want ErrEndpointDiscovery", err)
	}
}
