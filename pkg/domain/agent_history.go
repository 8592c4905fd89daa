package domain

import "encoding/json"

// AgentHistory is what the automation capability hands back for one task.
type AgentHistory struct {
	Steps           []HistoryStep   `json:"steps"`
	IsDone          bool            `json:"isDone"`
	IsSuccessful    *bool           `json:"isSuccessful,omitempty"`
	DurationSeconds float64         `json:"durationSeconds"`
	NumberOfSteps   int             `json:"numberOfSteps"`
	URLs            []string        `json:"urls,omitempty"`
	FinalResult     *string         `json:"finalResult,omitempty"`
	Errors          []string        `json:"errors,omitempty"`
	Judgement       json.RawMessage `json:"judgement,omitempty"`
}

// HistoryStep pairs the actions the model chose with their results, in order.
type HistoryStep struct {
	URL     string         `json:"url"`
	Actions []RawAction    `json:"actions"`
	Results []ActionResult `json:"results"`
}

// RawAction is a single free-form agent action: one name and its parameters.
type RawAction struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
}

// UnmarshalJSON accepts both {"name":..,"params":..} and the single-key form
// {"click_element": {...}} that browser agents emit.
func (a *RawAction) UnmarshalJSON(b []byte) error {
	var tagged struct {
		Name   string         `json:"name"`
		Params map[string]any `json:"params"`
	}
	if err := json.Unmarshal(b, &tagged); err == nil && tagged.Name != "" {
		a.Name, a.Params = tagged.Name, tagged.Params
		return nil
	}
	var single map[string]json.RawMessage
	if err := json.Unmarshal(b, &single); err != nil {
		return err
	}
	for name, raw := range single {
		a.Name = name
		a.Params = nil
		var params map[string]any
		if err := json.Unmarshal(raw, &params); err == nil {
			a.Params = params
		}
		break
	}
	return nil
}

type ActionResult struct {
	IsDone           bool           `json:"isDone,omitempty"`
	Success          *bool          `json:"success,omitempty"`
	Error            string         `json:"error,omitempty"`
	ExtractedContent string         `json:"extractedContent,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// Verdict is the agent's own completion verdict: the explicit success flag
// when present, otherwise whether it declared itself done.
func (h *AgentHistory) Verdict() bool {
	if h.IsSuccessful != nil {
		return *h.IsSuccessful
	}
	return h.IsDone
}
