package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/ai-show/backend/internal/config"
)

// ErrMissingAPIKey 未配置 DEEPGRAM_KEY。
var ErrMissingAPIKey = errors.New("agent: DEEPGRAM_KEY is not configured")

// HandshakeError 握手被上游拒绝，携带 HTTP 状态码。
type HandshakeError struct {
	StatusCode int
	Err        error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("agent: handshake rejected with status %d: %v", e.StatusCode, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// Client 负责建立到语音代理的出站 WebSocket，每个会话拨号一次。
type Client struct {
	url            string
	apiKey         string
	connectTimeout time.Duration
	dialer         *websocket.Dialer
}

// NewClient 创建语音代理客户端。
func NewClient(cfg config.AgentConfig) *Client {
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		url:            cfg.URL,
		apiKey:         strings.TrimSpace(cfg.APIKey),
		connectTimeout: timeout,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: timeout,
		},
	}
}

// Configured 表示是否具备拨号所需的密钥。
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// Dial 建立连接并完成握手。ctx 仅约束握手阶段。
func (c *Client) Dial(ctx context.Context) (*websocket.Conn, error) {
	if !c.Configured() {
		return nil, ErrMissingAPIKey
	}

	ctx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	header := http.Header{}
	header.Set("Authorization", "Token "+c.apiKey)

	conn, resp, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		if resp != nil {
			return nil, &HandshakeError{StatusCode: resp.StatusCode, Err: err}
		}
		return nil, fmt.Errorf("agent: websocket dial failed: %w", err)
	}
	return conn, nil
}
