package persona

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// catalogueFile is the on-disk layout of an interviewer catalogue:
//
//	interviewers:
//	  - name: Kevin McCannly
//	    speak:
//	      provider:
//	        type: eleven_labs
//	        model_id: eleven_multilingual_v2
//	        voice_id: onwK4e9ZLuTAKqWW03F9
type catalogueFile struct {
	Interviewers []Persona `yaml:"interviewers"`
}

// Parse decodes a YAML catalogue document.
func Parse(data []byte) ([]Persona, error) {
	var file catalogueFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("persona: decode catalogue: %w", err)
	}
	if len(file.Interviewers) == 0 {
		return nil, ErrEmptyCatalogue
	}
	return file.Interviewers, nil
}

// Load builds the catalogue from path, or from Seed when path is empty.
func Load(path string) (*Catalogue, error) {
	if path == "" {
		return NewCatalogue(Seed())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("persona: read catalogue %s: %w", path, err)
	}

	items, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return NewCatalogue(items)
}
