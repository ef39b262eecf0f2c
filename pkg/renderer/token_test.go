package renderer_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/parleo-ai/parleo/pkg/renderer"
)

func TestCreateSessionToken(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/sessions/token" {
			t.Errorf("path = %q, want /v1/sessions/token", r.URL.Path)
		}
		if got := r.Header.Get("X-API-KEY"); got != "secret" {
			t.Errorf("api key header = %q, want secret", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]string{
				"session_id":    "sess-1",
				"session_token": "tok-1",
			},
		})
	}))
	defer srv.Close()

	client := renderer.NewTokenClient(srv.URL, "secret", "june",
		renderer.WithHTTPClient(srv.Client()),
		renderer.WithSandbox(true),
	)

	token, err := client.CreateSessionToken(context.Background(), "june-en")
	if err != nil {
		t.Fatalf("CreateSessionToken: %v", err)
	}
	if token.SessionID != "sess-1" || token.SessionToken != "tok-1" {
		t.Fatalf("token = %+v, want sess-1/tok-1", token)
	}

	if gotBody["mode"] != "FULL" {
		t.Errorf("mode = %v, want FULL", gotBody["mode"])
	}
	if gotBody["avatar_id"] != "june" {
		t.Errorf("avatar_id = %v, want june", gotBody["avatar_id"])
	}
	if gotBody["is_sandbox"] != true {
		t.Errorf("is_sandbox = %v, want true", gotBody["is_sandbox"])
	}
	persona, _ := gotBody["avatar_persona"].(map[string]any)
	if persona["voice_id"] != "june-en" {
		t.Errorf("voice_id = %v, want june-en", persona["voice_id"])
	}
}

func TestCreateSessionTokenFlatResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"session_id":    "sess-2",
			"session_token": "tok-2",
		})
	}))
	defer srv.Close()

	client := renderer.NewTokenClient(srv.URL, "k", "june", renderer.WithHTTPClient(srv.Client()))
	token, err := client.CreateSessionToken(context.Background(), "")
	if err != nil {
		t.Fatalf("CreateSessionToken: %v", err)
	}
	if token.SessionID != "sess-2" {
		t.Fatalf("session id = %q, want sess-2", token.SessionID)
	}
}

func TestCreateSessionTokenServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	client := renderer.NewTokenClient(srv.URL, "bad", "june", renderer.WithHTTPClient(srv.Client()))
	if _, err := client.CreateSessionToken(context.Background(), ""); err == nil {
		t.Fatal("expected error on 403 response")
	}
}
