package domain

import (
	"encoding"
	"strings"
	"time"
)

type Persona string

const (
	PersonaShopper       Persona = "SHOPPER"
	PersonaResearcher    Persona = "RESEARCHER"
	PersonaLocalVisitor  Persona = "LOCAL_VISITOR"
	PersonaSupportSeeker Persona = "SUPPORT_SEEKER"
	PersonaBrowser       Persona = "BROWSER"
	PersonaUnknown       Persona = "UNKNOWN"
)

var knownPersonas = []Persona{
	PersonaShopper,
	PersonaResearcher,
	PersonaLocalVisitor,
	PersonaSupportSeeker,
	PersonaBrowser,
}

var (
	_ encoding.BinaryMarshaler = Persona("")
	_ encoding.TextMarshaler   = Persona("")
)

func (p Persona) MarshalBinary() ([]byte, error) { return []byte(string(p)), nil }
func (p Persona) MarshalText() ([]byte, error)   { return []byte(string(p)), nil }

// ParsePersona maps free text onto the persona enum. Matching is case-insensitive
// and treats '-' and ' ' as '_'; anything else becomes PersonaUnknown.
func ParsePersona(s string) Persona {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	for _, p := range knownPersonas {
		if string(p) == norm {
			return p
		}
	}
	return PersonaUnknown
}

// Task is one generated persona work item inside a scenario.
type Task struct {
	Number      int     `json:"number" yaml:"number"`
	Persona     Persona `json:"persona" yaml:"persona"`
	StartingURL string  `json:"startingUrl" yaml:"startingUrl"`
	Goal        string  `json:"goal" yaml:"goal"`
	Steps       string  `json:"steps" yaml:"steps"`
}

type Scenario struct {
	ID                  string    `json:"id" yaml:"id"`
	Name                string    `json:"name,omitempty" yaml:"name,omitempty"`
	TargetURL           string    `json:"targetUrl" yaml:"targetUrl"`
	Tasks               []Task    `json:"tasks" yaml:"tasks"`
	SelectedTaskIndices []int     `json:"selectedTaskIndices,omitempty" yaml:"selectedTaskIndices,omitempty"`
	CreatedAt           time.Time `json:"createdAt" yaml:"-"`
	UpdatedAt           time.Time `json:"updatedAt" yaml:"-"`
}

// ResolveTask fills the placeholder fields of the task at idx from the scenario.
func (s *Scenario) ResolveTask(idx int) Task {
	t := s.Tasks[idx]
	if strings.TrimSpace(t.StartingURL) == "" {
		t.StartingURL = s.TargetURL
	}
	if t.Persona == "" {
		t.Persona = PersonaUnknown
	} else {
		t.Persona = ParsePersona(string(t.Persona))
	}
	if t.Number == 0 {
		t.Number = idx + 1
	}
	return t
}

// SystemConfig is handed to the automation capability as-is.
type SystemConfig struct {
	ModelName string    `json:"modelName"`
	Provider  string    `json:"provider,omitempty"`
	APIKey    string    `json:"apiKey,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Redacted returns a copy safe to hand back to API callers.
func (c SystemConfig) Redacted() SystemConfig {
	if c.APIKey != "" {
		c.APIKey = "***"
	}
	return c
}
