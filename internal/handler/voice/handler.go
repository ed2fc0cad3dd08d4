// Package voice 接收浏览器的 talk / interview WebSocket 升级，
// 并把每个连接交给一个 relay 会话。
package voice

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/ai-show/backend/internal/config"
	"github.com/zhouzirui/ai-show/backend/internal/middleware"
	agentmodel "github.com/zhouzirui/ai-show/backend/internal/model/agent"
	"github.com/zhouzirui/ai-show/backend/internal/observe"
	"github.com/zhouzirui/ai-show/backend/internal/service/relay"
)

// Upstream 拨号语音代理，由 *agent.Client 实现
type Upstream interface {
	Configured() bool
	Dial(ctx context.Context) (*websocket.Conn, error)
}

// Options 构造 Handler 所需的依赖
type Options struct {
	Upstream Upstream
	// Prompts 为 nil 时拒绝 interview 会话
	Prompts  relay.InstructionSource
	Builder  relay.SettingsBuilder
	Registry *relay.Registry
	Metrics  *observe.Metrics
	Clock    relay.Clock
	Agent    config.AgentConfig
	Origins  middleware.Origins
}

// Handler 语音会话的 WebSocket 入口
type Handler struct {
	upstream Upstream
	prompts  relay.InstructionSource
	builder  relay.SettingsBuilder
	registry *relay.Registry
	metrics  *observe.Metrics
	clock    relay.Clock
	agentCfg config.AgentConfig
	upgrader websocket.Upgrader
}

// New 创建语音处理器
func New(opts Options) *Handler {
	registry := opts.Registry
	if registry == nil {
		registry = relay.NewRegistry()
	}
	return &Handler{
		upstream: opts.Upstream,
		prompts:  opts.Prompts,
		builder:  opts.Builder,
		registry: registry,
		metrics:  opts.Metrics,
		clock:    opts.Clock,
		agentCfg: opts.Agent,
		upgrader: websocket.Upgrader{
			CheckOrigin:     opts.Origins.CheckOrigin,
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// RegisterRoutes 注册 /talk 与 /interview
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/talk", h.handleTalk)
	r.Get("/interview", h.handleInterview)
}

func (h *Handler) handleTalk(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[talk] upgrade failed: %v", err)
		return
	}
	log.Printf("[talk] client connected from %s", r.RemoteAddr)

	h.serve(r.Context(), conn, relay.Params{Kind: agentmodel.KindTalk})
}

func (h *Handler) handleInterview(w http.ResponseWriter, r *http.Request) {
	// 先完成升级，参数错误通过错误帧告知客户端
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[interview] upgrade failed: %v", err)
		return
	}

	query := r.URL.Query()
	params := relay.Params{
		Kind:            agentmodel.KindInterview,
		Role:            strings.TrimSpace(query.Get("role")),
		InterviewerName: strings.TrimSpace(query.Get("interviewerName")),
	}
	log.Printf("[interview] client connected from %s role=%q interviewer=%q", r.RemoteAddr, params.Role, params.InterviewerName)

	if params.Role == "" {
		reject(conn, relay.MsgMissingRole, websocket.ClosePolicyViolation)
		return
	}
	if h.prompts == nil {
		log.Printf("[interview] prompt generator not configured, refusing session")
		reject(conn, relay.MsgServerConfig, websocket.CloseInternalServerErr)
		return
	}

	h.serve(r.Context(), conn, params)
}

func (h *Handler) serve(ctx context.Context, conn *websocket.Conn, params relay.Params) {
	if h.upstream == nil || !h.upstream.Configured() {
		log.Printf("[%s] voice agent key not configured, refusing session", params.Kind)
		reject(conn, relay.MsgServerConfig, websocket.CloseInternalServerErr)
		return
	}

	session := relay.NewSession(conn, params, relay.Options{
		Upstream:          relay.DialerFunc(h.dial),
		Prompts:           h.prompts,
		Builder:           h.builder,
		Clock:             h.clock,
		Metrics:           h.metrics,
		KeepAliveInterval: h.agentCfg.KeepAliveInterval,
		SettingsTimeout:   h.agentCfg.SettingsTimeout,
		WriteTimeout:      h.agentCfg.WriteTimeout,
		BufferLimit:       h.agentCfg.BufferFrames,
	})

	h.registry.Add(session)
	defer h.registry.Remove(session.ID())

	// 错误已由会话记录
	_ = session.Run(ctx)
}

func (h *Handler) dial(ctx context.Context) (relay.Conn, error) {
	conn, err := h.upstream.Dial(ctx)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// reject 发送一条错误帧后关闭连接，不创建会话
func reject(conn *websocket.Conn, message string, code int) {
	defer conn.Close()

	payload, err := json.Marshal(agentmodel.NewErrorMessage(message))
	if err != nil {
		return
	}
	deadline := time.Now().Add(time.Second)
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		log.Printf("[voice] failed to send error frame: %v", err)
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""), deadline)
}
