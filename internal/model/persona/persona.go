package persona

import "github.com/zhouzirui/ai-show/backend/internal/model/agent"

// Persona is a selectable interviewer identity and the voice it speaks with.
type Persona struct {
	Name  string      `json:"name" yaml:"name"`
	Speak agent.Speak `json:"speak" yaml:"speak"`
}

// Seed provides the built-in interviewer catalogue. The first entry is the
// default used when a requested name is unknown.
func Seed() []Persona {
	return []Persona{
		{
			Name: "Kevin McCannly",
			Speak: agent.Speak{Provider: agent.Provider{
				Type:    "eleven_labs",
				ModelID: "eleven_multilingual_v2",
				VoiceID: "onwK4e9ZLuTAKqWW03F9",
			}},
		},
		{
			Name: "Michael Crickett",
			Speak: agent.Speak{Provider: agent.Provider{
				Type:  "deepgram",
				Model: "aura-2-odysseus-en",
			}},
		},
		{
			Name: "Tom Bradshaw",
			Speak: agent.Speak{Provider: agent.Provider{
				Type:  "deepgram",
				Model: "aura-arcas-en",
			}},
		},
		{
			Name: "Lauren Ashford",
			Speak: agent.Speak{Provider: agent.Provider{
				Type:  "deepgram",
				Model: "aura-2-delia-en",
			}},
		},
	}
}
