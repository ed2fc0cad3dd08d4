package agent

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/ai-show/backend/internal/config"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDialSendsTokenHeader(t *testing.T) {
	gotAuth := make(chan string, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	client := NewClient(config.AgentConfig{APIKey: "secret", URL: wsURL(srv), ConnectTimeout: time.Second})
	conn, err := client.Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if auth := <-gotAuth; auth != "Token secret" {
		t.Fatalf("unexpected Authorization header %q", auth)
	}
}

func TestDialWithoutKey(t *testing.T) {
	client := NewClient(config.AgentConfig{URL: "ws://127.0.0.1:1"})
	if client.Configured() {
		t.Fatalf("client without key must not be configured")
	}
	if _, err := client.Dial(context.Background()); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestDialRejectedHandshake(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewClient(config.AgentConfig{APIKey: "wrong", URL: wsURL(srv)})
	_, err := client.Dial(context.Background())

	var hsErr *HandshakeError
	if !errors.As(err, &hsErr) {
		t.Fatalf("expected HandshakeError, got %v", err)
	}
	if hsErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unexpected status %d", hsErr.StatusCode)
	}
}

func TestDialHonoursContext(t *testing.T) {
	client := NewClient(config.AgentConfig{APIKey: "k", URL: "ws://127.0.0.1:1"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := client.Dial(ctx); err == nil {
		t.Fatalf("expected error with cancelled context")
	}
}
