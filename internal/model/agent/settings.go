package agent

// SessionKind 区分语音会话类型。
type SessionKind string

const (
	KindTalk      SessionKind = "talk"
	KindInterview SessionKind = "interview"
)

// Valid 报告 kind 是否为已知的会话类型。
func (k SessionKind) Valid() bool {
	return k == KindTalk || k == KindInterview
}

// Settings 是发往语音代理的首帧配置消息。
type Settings struct {
	Type  string      `json:"type"`
	Audio AudioConfig `json:"audio"`
	Agent AgentConfig `json:"agent"`
}

// AudioConfig 描述上下行音频格式。
type AudioConfig struct {
	Input  AudioFormat `json:"input"`
	Output AudioFormat `json:"output"`
}

// AudioFormat 线性 PCM 编码参数。
type AudioFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
	Container  string `json:"container,omitempty"`
}

// AgentConfig 语音代理的听、想、说三段配置。
type AgentConfig struct {
	Language string `json:"language"`
	Speak    Speak  `json:"speak"`
	Listen   Listen `json:"listen"`
	Think    Think  `json:"think"`
	Greeting string `json:"greeting"`
}

// Speak 语音合成配置，面试官目录中的音色描述即为此结构。
type Speak struct {
	Provider Provider `json:"provider" yaml:"provider"`
}

// Listen 语音识别配置。
type Listen struct {
	Provider Provider `json:"provider"`
}

// Think 大模型配置以及系统提示词。
type Think struct {
	Provider Provider `json:"provider"`
	Prompt   string   `json:"prompt"`
}

// Provider 第三方服务描述，不同厂商使用的字段不同。
type Provider struct {
	Type    string `json:"type" yaml:"type"`
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
	Model   string `json:"model,omitempty" yaml:"model,omitempty"`
	ModelID string `json:"model_id,omitempty" yaml:"model_id,omitempty"`
	VoiceID string `json:"voice_id,omitempty" yaml:"voice_id,omitempty"`
}

// Message types exchanged with the voice agent that the relay cares about.
const (
	TypeSettings        = "Settings"
	TypeSettingsApplied = "SettingsApplied"
	TypeKeepAlive       = "KeepAlive"
	TypeError           = "Error"
)

// ErrorMessage is the only frame the relay itself injects towards the browser.
type ErrorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// NewErrorMessage builds an Error frame with the given text.
func NewErrorMessage(text string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Error: text}
}
