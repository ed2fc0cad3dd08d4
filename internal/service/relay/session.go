// Package relay bridges one browser WebSocket to one voice agent WebSocket.
//
// A Session runs a single event loop that owns all of its state and is the
// only writer on both connections. Reader goroutines and the setup goroutine
// feed it through channels, so a close observed on one path can never race
// a write on another.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	agentmodel "github.com/zhouzirui/ai-show/backend/internal/model/agent"
	"github.com/zhouzirui/ai-show/backend/internal/model/persona"
	"github.com/zhouzirui/ai-show/backend/internal/observe"
	"github.com/zhouzirui/ai-show/backend/internal/service/agent"
)

// Client-facing error texts.
const (
	MsgServerConfig  = "Server configuration error"
	MsgAgentFailed   = "Deepgram connection failed"
	MsgPromptFailed  = "Failed to generate interviewer prompt"
	MsgMissingRole   = "Missing required parameter: role"
	closeGracePeriod = time.Second
	inboundQueueSize = 32
)

var (
	errSettingsTimeout = errors.New("settings were not acknowledged in time")
	errNoPromptSource  = errors.New("no prompt generator configured")
	keepAliveFrame     = []byte(`{"type":"KeepAlive"}`)
)

// Conn is the part of *websocket.Conn a session uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Dialer opens the voice agent connection.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context) (Conn, error) { return f(ctx) }

// InstructionSource produces interviewer instructions.
type InstructionSource interface {
	Generate(ctx context.Context, role, interviewerName string) (string, error)
}

// SettingsBuilder resolves personas and builds the Settings payload.
type SettingsBuilder interface {
	Resolve(name string) (persona.Persona, bool)
	Build(req agent.Request) (agentmodel.Settings, error)
}

// Params describe what a session is for.
type Params struct {
	Kind            agentmodel.SessionKind
	Role            string
	InterviewerName string
}

// Options are the collaborators and tunables shared by all sessions.
type Options struct {
	Upstream Dialer
	Prompts  InstructionSource
	Builder  SettingsBuilder
	Clock    Clock
	Metrics  *observe.Metrics

	KeepAliveInterval time.Duration
	SettingsTimeout   time.Duration
	WriteTimeout      time.Duration
	// BufferLimit caps client frames held before the agent acknowledges
	// Settings. Frames past the cap are dropped. Zero drops every early frame.
	BufferLimit       int
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = SystemClock{}
	}
	if o.Metrics == nil {
		o.Metrics = observe.DefaultMetrics()
	}
	if o.KeepAliveInterval <= 0 {
		o.KeepAliveInterval = 5 * time.Second
	}
	if o.SettingsTimeout <= 0 {
		o.SettingsTimeout = 15 * time.Second
	}
	if o.BufferLimit < 0 {
		o.BufferLimit = 0
	}
	return o
}

type inbound struct {
	messageType int
	data        []byte
	err         error
}

type setupResult struct {
	conn     Conn
	settings []byte
	err      error
}

// Session relays frames between one client and one voice agent connection.
type Session struct {
	id     string
	params Params
	opts   Options
	client Conn

	state atomic.Int32
	errMu sync.Mutex
	err   error

	// Owned by the event loop.
	upstream   Conn
	pending    []inbound
	dropped    int
	clientGone bool

	fromClient   chan inbound
	fromUpstream chan inbound
	setupDone    chan setupResult
	stop         chan struct{}
	stopOnce     sync.Once
	done         chan struct{}
	wg           sync.WaitGroup
}

// NewSession creates a session for an accepted client connection.
func NewSession(client Conn, params Params, opts Options) *Session {
	return &Session{
		id:           uuid.NewString(),
		params:       params,
		opts:         opts.withDefaults(),
		client:       client,
		fromClient:   make(chan inbound, inboundQueueSize),
		fromUpstream: make(chan inbound, inboundQueueSize),
		setupDone:    make(chan setupResult),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Kind returns the session kind.
func (s *Session) Kind() agentmodel.SessionKind { return s.params.Kind }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Err returns the error that ended the session, if any.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Done is closed once the event loop has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close asks the session to shut down. Safe to call from any goroutine.
func (s *Session) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Run drives the session until either side closes. It returns once both
// connections are closed and every goroutine the session started has exited.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	kind := string(s.params.Kind)

	s.opts.Metrics.SessionOpened(ctx, kind)
	log.Printf("[relay] session=%s kind=%s started", s.id, kind)

	s.wg.Add(2)
	go s.pump(s.client, s.fromClient)
	go s.setup(ctx)

	err := s.loop(ctx)

	cancel()
	close(s.done)
	s.closeConns()
	s.wg.Wait()

	s.errMu.Lock()
	s.err = err
	s.errMu.Unlock()

	state := s.State()
	s.opts.Metrics.SessionClosed(context.Background(), kind)
	s.opts.Metrics.RecordSession(context.Background(), kind, state.String())
	if err != nil {
		log.Printf("[relay] session=%s ended state=%s: %v", s.id, state, err)
	} else {
		log.Printf("[relay] session=%s ended state=%s", s.id, state)
	}
	return err
}

func (s *Session) loop(ctx context.Context) error {
	var (
		keepAlive  Ticker
		keepAliveC <-chan time.Time
		ackTimer   Timer
		ackC       <-chan time.Time
	)
	defer func() {
		if keepAlive != nil {
			keepAlive.Stop()
		}
		if ackTimer != nil {
			ackTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return s.shutdown()

		case <-s.stop:
			return s.shutdown()

		case res := <-s.setupDone:
			if res.err != nil {
				return s.fail(res.err)
			}
			s.upstream = res.conn
			s.wg.Add(1)
			go s.pump(res.conn, s.fromUpstream)

			if err := s.write(s.upstream, websocket.TextMessage, res.settings); err != nil {
				return s.fail(&UpstreamError{Op: "send settings", Message: MsgAgentFailed, Err: err})
			}
			s.setState(StateConfiguring)
			log.Printf("[relay] session=%s settings sent, awaiting acknowledgement", s.id)
			ackTimer = s.opts.Clock.NewTimer(s.opts.SettingsTimeout)
			ackC = ackTimer.C()

		case in := <-s.fromClient:
			if in.err != nil {
				return s.clientClosed(in.err)
			}
			if s.State() != StateActive {
				s.hold(ctx, in)
				continue
			}
			if err := s.forward(ctx, in); err != nil {
				return s.fail(err)
			}

		case in := <-s.fromUpstream:
			if in.err != nil {
				return s.upstreamClosed(in.err)
			}
			msgType := s.inspect(in)
			if err := s.write(s.client, in.messageType, in.data); err != nil {
				s.clientGone = true
				s.setState(StateErrored)
				return &ClientError{Op: "write", Err: err}
			}
			s.opts.Metrics.RecordFrame(ctx, observe.DirectionAgentToClient, frameTypeName(in.messageType))

			if msgType == agentmodel.TypeSettingsApplied && s.State() == StateConfiguring {
				ackTimer.Stop()
				ackC = nil
				s.setState(StateActive)
				log.Printf("[relay] session=%s active, flushing %d buffered frames", s.id, len(s.pending))
				if err := s.flush(ctx); err != nil {
					return s.fail(err)
				}
				keepAlive = s.opts.Clock.NewTicker(s.opts.KeepAliveInterval)
				keepAliveC = keepAlive.C()
			}

		case <-ackC:
			return s.fail(&UpstreamError{Op: "await settings", Message: MsgAgentFailed, Err: errSettingsTimeout})

		case <-keepAliveC:
			if err := s.write(s.upstream, websocket.TextMessage, keepAliveFrame); err != nil {
				return s.fail(&UpstreamError{Op: "keep-alive", Message: MsgAgentFailed, Err: err})
			}
		}
	}
}

// setup generates instructions, builds Settings and dials the agent. A
// connection that completes after the loop has exited is closed here.
func (s *Session) setup(ctx context.Context) {
	defer s.wg.Done()

	res := s.prepare(ctx)
	select {
	case s.setupDone <- res:
	case <-s.done:
		if res.conn != nil {
			log.Printf("[relay] session=%s closing agent connection opened after teardown", s.id)
			_ = res.conn.Close()
		}
	}
}

func (s *Session) prepare(ctx context.Context) setupResult {
	req := agent.Request{Kind: s.params.Kind, InterviewerName: s.params.InterviewerName}

	if s.params.Kind == agentmodel.KindInterview {
		if s.opts.Prompts == nil {
			return setupResult{err: &SetupError{Op: "generate prompt", Message: MsgServerConfig, Err: errNoPromptSource}}
		}

		interviewer, _ := s.opts.Builder.Resolve(s.params.InterviewerName)
		log.Printf("[relay] session=%s generating prompt role=%q interviewer=%s", s.id, s.params.Role, interviewer.Name)

		start := time.Now()
		text, err := s.opts.Prompts.Generate(ctx, s.params.Role, interviewer.Name)
		s.opts.Metrics.RecordPrompt(ctx, time.Since(start), statusOf(err))
		if err != nil {
			return setupResult{err: &SetupError{Op: "generate prompt", Message: MsgPromptFailed, Err: err}}
		}
		req.Instructions = text
	}

	settings, err := s.opts.Builder.Build(req)
	if err != nil {
		return setupResult{err: &SetupError{Op: "build settings", Message: MsgServerConfig, Err: err}}
	}
	payload, err := json.Marshal(settings)
	if err != nil {
		return setupResult{err: &SetupError{Op: "encode settings", Message: MsgServerConfig, Err: err}}
	}

	start := time.Now()
	conn, err := s.opts.Upstream.Dial(ctx)
	s.opts.Metrics.RecordDial(ctx, time.Since(start), statusOf(err))
	if err != nil {
		if errors.Is(err, agent.ErrMissingAPIKey) {
			return setupResult{err: &SetupError{Op: "dial", Message: MsgServerConfig, Err: err}}
		}
		return setupResult{err: &UpstreamError{Op: "dial", Message: MsgAgentFailed, Err: err}}
	}
	log.Printf("[relay] session=%s agent connected", s.id)

	return setupResult{conn: conn, settings: payload}
}

// pump reads conn until it fails. The read error is delivered on the same
// channel as the frames so nothing queued before it is lost.
func (s *Session) pump(conn Conn, out chan<- inbound) {
	defer s.wg.Done()
	for {
		messageType, data, err := conn.ReadMessage()
		select {
		case out <- inbound{messageType: messageType, data: data, err: err}:
		case <-s.done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) hold(ctx context.Context, in inbound) {
	if len(s.pending) >= s.opts.BufferLimit {
		s.dropped++
		if s.dropped == 1 {
			log.Printf("[relay] session=%s buffer full (%d frames) in state %s, dropping client frames", s.id, s.opts.BufferLimit, s.State())
		}
		s.opts.Metrics.RecordDropped(ctx, string(s.params.Kind))
		return
	}
	s.pending = append(s.pending, in)
}

func (s *Session) flush(ctx context.Context) error {
	pending := s.pending
	s.pending = nil
	for _, in := range pending {
		if err := s.forward(ctx, in); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) forward(ctx context.Context, in inbound) error {
	if err := s.write(s.upstream, in.messageType, in.data); err != nil {
		return &UpstreamError{Op: "forward", Message: MsgAgentFailed, Err: err}
	}
	s.opts.Metrics.RecordFrame(ctx, observe.DirectionClientToAgent, frameTypeName(in.messageType))
	return nil
}

// inspect returns the type field of a JSON text frame. It never changes the
// frame and a parse failure only means the frame is forwarded untyped.
func (s *Session) inspect(in inbound) string {
	if in.messageType != websocket.TextMessage {
		return ""
	}
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(in.data, &probe); err != nil {
		log.Printf("[relay] session=%s agent sent non-JSON text frame (%d bytes)", s.id, len(in.data))
		return ""
	}
	log.Printf("[relay] session=%s agent -> %s", s.id, probe.Type)
	return probe.Type
}

func (s *Session) write(conn Conn, messageType int, data []byte) error {
	if s.opts.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	}
	return conn.WriteMessage(messageType, data)
}

func (s *Session) clientClosed(err error) error {
	s.clientGone = true
	if isNormalClose(err) {
		s.setState(StateClosed)
		log.Printf("[relay] session=%s client disconnected", s.id)
		return nil
	}
	s.setState(StateErrored)
	return &ClientError{Op: "read", Err: err}
}

func (s *Session) upstreamClosed(err error) error {
	if isNormalClose(err) {
		s.setState(StateClosed)
		log.Printf("[relay] session=%s agent closed the connection", s.id)
		s.closeClient(websocket.CloseNormalClosure, "")
		return nil
	}
	return s.fail(&UpstreamError{Op: "read", Message: MsgAgentFailed, Err: err})
}

func (s *Session) shutdown() error {
	s.setState(StateClosed)
	s.closeClient(websocket.CloseGoingAway, "server shutting down")
	return nil
}

// fail moves to errored and sends the single Error frame if the client is
// still there. The loop returns right after, so nothing follows the frame.
func (s *Session) fail(err error) error {
	s.setState(StateErrored)
	if s.clientGone {
		return err
	}

	payload, mErr := json.Marshal(agentmodel.NewErrorMessage(PublicMessage(err)))
	if mErr == nil {
		if wErr := s.write(s.client, websocket.TextMessage, payload); wErr != nil {
			s.clientGone = true
			return err
		}
	}
	s.closeClient(websocket.CloseInternalServerErr, "")
	return err
}

func (s *Session) closeClient(code int, text string) {
	if s.clientGone {
		return
	}
	_ = s.client.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(closeGracePeriod))
}

func (s *Session) closeConns() {
	if s.upstream != nil {
		_ = s.upstream.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(closeGracePeriod))
		_ = s.upstream.Close()
	}
	_ = s.client.Close()
}

// setState is only called from the loop goroutine. Terminal states are final.
func (s *Session) setState(st State) {
	if s.State().Terminal() {
		return
	}
	s.state.Store(int32(st))
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived)
}

func frameTypeName(messageType int) string {
	switch messageType {
	case websocket.BinaryMessage:
		return "binary"
	case websocket.TextMessage:
		return "text"
	default:
		return "other"
	}
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
