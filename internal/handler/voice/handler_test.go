package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/ai-show/backend/internal/config"
	"github.com/zhouzirui/ai-show/backend/internal/middleware"
	agentmodel "github.com/zhouzirui/ai-show/backend/internal/model/agent"
	"github.com/zhouzirui/ai-show/backend/internal/model/persona"
	"github.com/zhouzirui/ai-show/backend/internal/service/agent"
	"github.com/zhouzirui/ai-show/backend/internal/service/relay"
)

// fakeAgent acknowledges Settings and echoes every binary frame.
type fakeAgent struct {
	srv      *httptest.Server
	settings chan agentmodel.Settings
	upgrader websocket.Upgrader
	open     atomic.Int64
}

func newFakeAgent(t *testing.T) *fakeAgent {
	t.Helper()
	fa := &fakeAgent{settings: make(chan agentmodel.Settings, 4)}
	fa.srv = httptest.NewServer(http.HandlerFunc(fa.serve))
	t.Cleanup(fa.srv.Close)
	return fa
}

func (fa *fakeAgent) serve(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Token test-key" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := fa.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	fa.open.Add(1)
	defer fa.open.Add(-1)
	defer conn.Close()

	_, first, err := conn.ReadMessage()
	if err != nil {
		return
	}
	var settings agentmodel.Settings
	if err := json.Unmarshal(first, &settings); err != nil {
		return
	}
	select {
	case fa.settings <- settings:
	default:
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"SettingsApplied"}`)); err != nil {
		return
	}

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if mt == websocket.BinaryMessage {
			if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				return
			}
		}
	}
}

func (fa *fakeAgent) url() string {
	return "ws" + strings.TrimPrefix(fa.srv.URL, "http")
}

type stubPrompts struct {
	mu    sync.Mutex
	text  string
	err   error
	names []string
}

func (s *stubPrompts) Generate(_ context.Context, _ string, interviewerName string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names = append(s.names, interviewerName)
	return s.text, s.err
}

type testEnv struct {
	srv      *httptest.Server
	registry *relay.Registry
}

func newTestEnv(t *testing.T, agentCfg config.AgentConfig, prompts relay.InstructionSource, origins []string) *testEnv {
	t.Helper()
	catalogue, err := persona.NewCatalogue(persona.Seed())
	if err != nil {
		t.Fatalf("NewCatalogue: %v", err)
	}
	agentCfg.ConnectTimeout = 2 * time.Second
	agentCfg.BufferFrames = 16
	registry := relay.NewRegistry()

	h := New(Options{
		Upstream: agent.NewClient(agentCfg),
		Prompts:  prompts,
		Builder:  agent.NewBuilder(catalogue, agentCfg),
		Registry: registry,
		Agent:    agentCfg,
		Origins:  middleware.NewOrigins(origins),
	})
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, registry: registry}
}

func (e *testEnv) dial(t *testing.T, path string, query url.Values) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(e.srv.URL, "http") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	return conn
}

func readError(t *testing.T, conn *websocket.Conn) (agentmodel.ErrorMessage, int) {
	t.Helper()
	mt, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("expected error frame, got %v", err)
	}
	if mt != websocket.TextMessage {
		t.Fatalf("error frame must be text, got %d", mt)
	}
	var msg agentmodel.ErrorMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode error frame: %v", err)
	}

	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		t.Fatalf("expected close after error frame, got %v", err)
	}
	return msg, closeErr.Code
}

func TestTalkEndToEnd(t *testing.T) {
	fa := newFakeAgent(t)
	env := newTestEnv(t, config.AgentConfig{APIKey: "test-key", URL: fa.url()}, nil, nil)

	conn := env.dial(t, "/talk", nil)
	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case s := <-fa.settings:
		if s.Agent.Greeting != "Hello! How may I help you?" {
			t.Fatalf("unexpected greeting %q", s.Agent.Greeting)
		}
		if s.Audio.Input.SampleRate != 48000 || s.Audio.Output.SampleRate != 24000 {
			t.Fatalf("unexpected audio %+v", s.Audio)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("agent never received settings")
	}

	mt, data, err := conn.ReadMessage()
	if err != nil || mt != websocket.TextMessage || !strings.Contains(string(data), "SettingsApplied") {
		t.Fatalf("expected SettingsApplied, got %d %q %v", mt, data, err)
	}
	mt, data, err = conn.ReadMessage()
	if err != nil || mt != websocket.BinaryMessage || string(data) != string([]byte{1, 2, 3, 4}) {
		t.Fatalf("expected echoed audio, got %d %v %v", mt, data, err)
	}

	if env.registry.Len() != 1 {
		t.Fatalf("registry Len = %d, want 1", env.registry.Len())
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))

	deadline := time.Now().Add(3 * time.Second)
	for env.registry.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if env.registry.Len() != 0 {
		t.Fatalf("session not unregistered after close")
	}
}

// talkRoundTrip runs one /talk session: waits for SettingsApplied, sends
// frame, expects the identical echo and closes normally.
func (e *testEnv) talkRoundTrip(frame []byte) error {
	u := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/talk"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	if _, data, err := conn.ReadMessage(); err != nil || !strings.Contains(string(data), "SettingsApplied") {
		return fmt.Errorf("expected SettingsApplied, got %q: %v", data, err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return err
	}
	mt, data, err := conn.ReadMessage()
	if err != nil {
		return err
	}
	if mt != websocket.BinaryMessage || !bytes.Equal(data, frame) {
		return fmt.Errorf("echo mismatch: type %d, %d bytes", mt, len(data))
	}

	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	// 等待服务端回应关闭帧
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return nil
		}
	}
}

func TestLargeAgentFrameIsUnchanged(t *testing.T) {
	fa := newFakeAgent(t)
	env := newTestEnv(t, config.AgentConfig{APIKey: "test-key", URL: fa.url()}, nil, nil)

	frame := make([]byte, 4096)
	for i := range frame {
		frame[i] = byte(255 - i%256)
	}
	if err := env.talkRoundTrip(frame); err != nil {
		t.Fatalf("round trip: %v", err)
	}
}

func TestClosedSessionsReleaseSockets(t *testing.T) {
	fa := newFakeAgent(t)
	env := newTestEnv(t, config.AgentConfig{APIKey: "test-key", URL: fa.url()}, nil, nil)
	baseline := runtime.NumGoroutine()

	const sessions = 20
	errs := make(chan error, sessions)
	var wg sync.WaitGroup
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(seed byte) {
			defer wg.Done()
			frame := bytes.Repeat([]byte{seed}, 4096)
			errs <- env.talkRoundTrip(frame)
		}(byte(i + 1))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("session: %v", err)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if env.registry.Len() == 0 && fa.open.Load() == 0 && runtime.NumGoroutine() <= baseline {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("resources not released: registry=%d agent sockets=%d goroutines=%d baseline=%d",
		env.registry.Len(), fa.open.Load(), runtime.NumGoroutine(), baseline)
}

func TestInterviewEndToEnd(t *testing.T) {
	fa := newFakeAgent(t)
	prompts := &stubPrompts{text: "Ask about distributed systems."}
	env := newTestEnv(t, config.AgentConfig{APIKey: "test-key", URL: fa.url()}, prompts, nil)

	conn := env.dial(t, "/interview", url.Values{
		"role":            {"Backend Engineer"},
		"interviewerName": {"Lauren Ashford"},
	})

	var s agentmodel.Settings
	select {
	case s = <-fa.settings:
	case <-time.After(3 * time.Second):
		t.Fatalf("agent never received settings")
	}
	if s.Agent.Think.Prompt != prompts.text {
		t.Fatalf("think prompt = %q", s.Agent.Think.Prompt)
	}
	catalogue, _ := persona.NewCatalogue(persona.Seed())
	lauren, _ := catalogue.FindByName("Lauren Ashford")
	if s.Agent.Speak != lauren.Speak {
		t.Fatalf("speak = %+v, want %+v", s.Agent.Speak, lauren.Speak)
	}

	if _, data, err := conn.ReadMessage(); err != nil || !strings.Contains(string(data), "SettingsApplied") {
		t.Fatalf("expected SettingsApplied, got %q %v", data, err)
	}
	prompts.mu.Lock()
	defer prompts.mu.Unlock()
	if len(prompts.names) != 1 || prompts.names[0] != "Lauren Ashford" {
		t.Fatalf("prompt generator got %v", prompts.names)
	}
}

func TestInterviewMissingRole(t *testing.T) {
	fa := newFakeAgent(t)
	env := newTestEnv(t, config.AgentConfig{APIKey: "test-key", URL: fa.url()}, &stubPrompts{text: "x"}, nil)

	conn := env.dial(t, "/interview", url.Values{"role": {"   "}})
	msg, code := readError(t, conn)
	if msg.Type != agentmodel.TypeError || msg.Error != relay.MsgMissingRole {
		t.Fatalf("unexpected error frame %+v", msg)
	}
	if code != websocket.ClosePolicyViolation {
		t.Fatalf("close code = %d, want %d", code, websocket.ClosePolicyViolation)
	}

	select {
	case <-fa.settings:
		t.Fatalf("agent must not be contacted")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMissingAgentKey(t *testing.T) {
	env := newTestEnv(t, config.AgentConfig{URL: "ws://127.0.0.1:1"}, nil, nil)

	conn := env.dial(t, "/talk", nil)
	msg, code := readError(t, conn)
	if msg.Error != relay.MsgServerConfig {
		t.Fatalf("unexpected error frame %+v", msg)
	}
	if code != websocket.CloseInternalServerErr {
		t.Fatalf("close code = %d", code)
	}
}

func TestPromptFailureEndsInterview(t *testing.T) {
	fa := newFakeAgent(t)
	prompts := &stubPrompts{err: errors.New("model unavailable")}
	env := newTestEnv(t, config.AgentConfig{APIKey: "test-key", URL: fa.url()}, prompts, nil)

	conn := env.dial(t, "/interview", url.Values{"role": {"Designer"}})
	msg, _ := readError(t, conn)
	if msg.Error != relay.MsgPromptFailed {
		t.Fatalf("unexpected error frame %+v", msg)
	}
}

func TestAgentRejectsKey(t *testing.T) {
	fa := newFakeAgent(t)
	env := newTestEnv(t, config.AgentConfig{APIKey: "wrong-key", URL: fa.url()}, nil, nil)

	conn := env.dial(t, "/talk", nil)
	msg, code := readError(t, conn)
	if msg.Error != relay.MsgAgentFailed {
		t.Fatalf("unexpected error frame %+v", msg)
	}
	if code != websocket.CloseInternalServerErr {
		t.Fatalf("close code = %d", code)
	}
}

func TestOriginNotAllowed(t *testing.T) {
	env := newTestEnv(t, config.AgentConfig{APIKey: "test-key"}, nil, []string{"https://aishow.studio"})

	header := http.Header{"Origin": {"https://evil.example"}}
	u := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/talk"
	_, resp, err := websocket.DefaultDialer.Dial(u, header)
	if err == nil {
		t.Fatalf("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %+v", resp)
	}
}
