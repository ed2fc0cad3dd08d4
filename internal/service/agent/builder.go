package agent

import (
	"fmt"
	"log"

	"github.com/zhouzirui/ai-show/backend/internal/config"
	agentmodel "github.com/zhouzirui/ai-show/backend/internal/model/agent"
	"github.com/zhouzirui/ai-show/backend/internal/model/persona"
)

// Fixed audio formats: browser microphone in, agent speech out.
var (
	inputFormat  = agentmodel.AudioFormat{Encoding: "linear16", SampleRate: 48000}
	outputFormat = agentmodel.AudioFormat{Encoding: "linear16", SampleRate: 24000, Container: "none"}
)

// Request carries the per-session inputs of Build.
type Request struct {
	Kind            agentmodel.SessionKind
	InterviewerName string
	Instructions    string
}

// Builder maps session parameters to the Settings payload. It performs no
// I/O and keeps no per-session state.
type Builder struct {
	personas      persona.Store
	language      string
	listenModel   string
	thinkProvider string
	thinkModel    string
}

// NewBuilder creates a Builder over an immutable persona catalogue.
func NewBuilder(personas persona.Store, cfg config.AgentConfig) *Builder {
	return &Builder{
		personas:      personas,
		language:      valueOr(cfg.Language, "en"),
		listenModel:   valueOr(cfg.ListenModel, "nova-3"),
		thinkProvider: valueOr(cfg.ThinkProvider, "groq"),
		thinkModel:    valueOr(cfg.ThinkModel, "openai/gpt-oss-20b"),
	}
}

// Resolve returns the persona matching name exactly, or the default entry.
// matched reports whether name was found.
func (b *Builder) Resolve(name string) (p persona.Persona, matched bool) {
	if name != "" {
		if found, ok := b.personas.FindByName(name); ok {
			return found, true
		}
	}
	return b.personas.Default(), false
}

// Build assembles the Settings message for req.
func (b *Builder) Build(req Request) (agentmodel.Settings, error) {
	if !req.Kind.Valid() {
		return agentmodel.Settings{}, fmt.Errorf("agent: unknown session kind %q", req.Kind)
	}

	settings := agentmodel.Settings{
		Type: agentmodel.TypeSettings,
		Audio: agentmodel.AudioConfig{
			Input:  inputFormat,
			Output: outputFormat,
		},
		Agent: agentmodel.AgentConfig{
			Language: b.language,
			Listen: agentmodel.Listen{Provider: agentmodel.Provider{
				Type:    "deepgram",
				Version: "v1",
				Model:   b.listenModel,
			}},
			Think: agentmodel.Think{Provider: agentmodel.Provider{
				Type:  b.thinkProvider,
				Model: b.thinkModel,
			}},
		},
	}

	switch req.Kind {
	case agentmodel.KindTalk:
		settings.Agent.Speak = talkVoice
		settings.Agent.Think.Prompt = talkPrompt
		settings.Agent.Greeting = talkGreeting
	case agentmodel.KindInterview:
		interviewer, matched := b.Resolve(req.InterviewerName)
		if !matched && req.InterviewerName != "" {
			log.Printf("[agent] interviewer %q not found, defaulting to %s", req.InterviewerName, interviewer.Name)
		}
		settings.Agent.Speak = interviewer.Speak
		settings.Agent.Think.Prompt = req.Instructions
		settings.Agent.Greeting = interviewGreeting
	}

	return settings, nil
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
