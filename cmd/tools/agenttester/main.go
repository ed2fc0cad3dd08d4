// Command agenttester streams a raw PCM file through a running relay and
// records what the voice agent says back.
//
//	go run ./cmd/tools/agenttester -mode=interview -role="Backend Engineer" -audio=in.pcm -out=reply.pcm
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/ai-show/backend/internal/config"
	agentmodel "github.com/zhouzirui/ai-show/backend/internal/model/agent"
)

// 48kHz 16-bit mono
const bytesPerSecond = 48000 * 2

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}

	server := flag.String("server", "", "relay 地址，默认 ws://localhost<PORT>")
	mode := flag.String("mode", "talk", "会话类型: talk 或 interview")
	role := flag.String("role", "", "interview 模式的职位")
	interviewer := flag.String("interviewer", "", "面试官名称，留空使用默认")
	audioPath := flag.String("audio", "", "输入音频 (raw linear16, 48kHz, mono)")
	outputPath := flag.String("out", "agent_reply.pcm", "代理音频输出路径 (raw linear16, 24kHz)")
	chunk := flag.Duration("chunk", 20*time.Millisecond, "每帧音频时长")
	linger := flag.Duration("linger", 10*time.Second, "发送完成后继续接收的时间")
	timeout := flag.Duration("timeout", 2*time.Minute, "整体超时时间")

	flag.Parse()

	kind := agentmodel.SessionKind(*mode)
	if !kind.Valid() {
		flag.Usage()
		log.Fatal("请通过 -mode=talk 或 -mode=interview 指定会话类型")
	}
	if kind == agentmodel.KindInterview && strings.TrimSpace(*role) == "" {
		log.Fatal("interview 模式需要通过 -role 指定职位")
	}

	target, err := buildURL(*server, cfg.Server.Addr, kind, *role, *interviewer)
	if err != nil {
		log.Fatalf("无效的地址: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, target, *audioPath, *outputPath, *chunk, *linger); err != nil {
		log.Fatalf("测试失败: %v", err)
	}
}

func buildURL(server, addr string, kind agentmodel.SessionKind, role, interviewer string) (string, error) {
	if server == "" {
		host := addr
		if strings.HasPrefix(host, ":") {
			host = "localhost" + host
		}
		server = "ws://" + host
	}

	u, err := url.Parse(strings.TrimRight(server, "/") + "/" + string(kind))
	if err != nil {
		return "", err
	}
	if kind == agentmodel.KindInterview {
		q := u.Query()
		q.Set("role", role)
		if interviewer != "" {
			q.Set("interviewerName", interviewer)
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func run(ctx context.Context, target, audioPath, outputPath string, chunk, linger time.Duration) error {
	log.Printf("连接 %s", target)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("dial relay: %w", err)
	}
	defer conn.Close()

	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer out.Close()

	g, gctx := errgroup.WithContext(ctx)

	// 任一方向结束后关闭连接，解除另一侧的阻塞读
	go func() {
		<-gctx.Done()
		_ = conn.Close()
	}()

	g.Go(func() error {
		return receive(conn, out)
	})
	g.Go(func() error {
		if audioPath == "" {
			log.Printf("未指定 -audio，仅接收 %s", linger)
		} else if err := send(gctx, conn, audioPath, chunk); err != nil {
			return err
		}
		select {
		case <-time.After(linger):
		case <-gctx.Done():
			return nil
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		return errDone
	})

	err = g.Wait()
	if errors.Is(err, errDone) {
		err = nil
	}
	if info, statErr := out.Stat(); statErr == nil {
		seconds := float64(info.Size()) / float64(24000*2)
		log.Printf("收到代理音频 %d 字节 (约 %.1fs)，保存至 %s", info.Size(), seconds, outputPath)
	}
	return err
}

var errDone = errors.New("done")

func send(ctx context.Context, conn *websocket.Conn, audioPath string, chunk time.Duration) error {
	file, err := os.Open(audioPath)
	if err != nil {
		return fmt.Errorf("open audio: %w", err)
	}
	defer file.Close()

	size := int(chunk.Seconds() * bytesPerSecond)
	size -= size % 2
	if size <= 0 {
		return fmt.Errorf("chunk %s too small", chunk)
	}

	ticker := time.NewTicker(chunk)
	defer ticker.Stop()

	buf := make([]byte, size)
	sent := 0
	for {
		n, err := io.ReadFull(file, buf)
		if n > 0 {
			if werr := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
				return fmt.Errorf("send audio: %w", werr)
			}
			sent += n
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			log.Printf("音频发送完成: %d 字节", sent)
			return nil
		}
		if err != nil {
			return fmt.Errorf("read audio: %w", err)
		}

		// 按实时速率发送
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func receive(conn *websocket.Conn, out io.Writer) error {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("relay 关闭连接")
				return errDone
			}
			return fmt.Errorf("read: %w", err)
		}

		switch mt {
		case websocket.BinaryMessage:
			if _, err := out.Write(data); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
		case websocket.TextMessage:
			var msg struct {
				Type    string `json:"type"`
				Role    string `json:"role"`
				Content string `json:"content"`
				Error   string `json:"error"`
			}
			if err := json.Unmarshal(data, &msg); err != nil {
				log.Printf("<- %s", data)
				continue
			}
			switch msg.Type {
			case agentmodel.TypeError:
				return fmt.Errorf("relay error: %s", msg.Error)
			case "ConversationText":
				log.Printf("<- [%s] %s", msg.Role, msg.Content)
			default:
				log.Printf("<- %s", msg.Type)
			}
		}
	}
}
