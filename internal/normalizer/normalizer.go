// Package normalizer turns free-form agent actions into typed domain events.
//
// Normalize never fails: unrecognized action names become EventUnknown with
// the original name and parameters attached. Missing numeric fields get fixed
// defaults so normalizing the same input twice yields the same event.
package normalizer

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/osvaldoandrade/personaq/pkg/domain"
)

const (
	DefaultScrollDirection = "down"
	DefaultScrollPages     = 1.0
	DefaultWaitSeconds     = 3
)

// actionKinds maps the action names emitted by browser agents onto event kinds.
var actionKinds = map[string]domain.EventKind{
	"click":                   domain.EventClick,
	"click_element":           domain.EventClick,
	"click_element_by_index":  domain.EventClick,
	"scroll":                  domain.EventScroll,
	"scroll_down":             domain.EventScroll,
	"scroll_up":               domain.EventScroll,
	"navigate":                domain.EventNavigate,
	"go_to_url":               domain.EventNavigate,
	"open_tab":                domain.EventNavigate,
	"input":                   domain.EventInput,
	"input_text":              domain.EventInput,
	"search":                  domain.EventSearch,
	"search_google":           domain.EventSearch,
	"go_back":                 domain.EventGoBack,
	"wait":                    domain.EventWait,
	"upload":                  domain.EventUpload,
	"upload_file":             domain.EventUpload,
	"switch_tab":              domain.EventSwitchTab,
	"close_tab":               domain.EventCloseTab,
	"extract":                 domain.EventExtract,
	"extract_content":         domain.EventExtract,
	"extract_structured_data": domain.EventExtract,
	"send_keys":               domain.EventSendKeys,
	"find_text":               domain.EventFindText,
	"scroll_to_text":          domain.EventFindText,
	"screenshot":              domain.EventScreenshot,
	"dropdown_options":        domain.EventDropdownQuery,
	"get_dropdown_options":    domain.EventDropdownQuery,
	"dropdown_select":         domain.EventDropdownSelect,
	"select_dropdown_option":  domain.EventDropdownSelect,
	"done":                    domain.EventDone,
}

// KindFor reports the event kind an action name normalizes to.
func KindFor(actionName string) domain.EventKind {
	if k, ok := actionKinds[strings.ToLower(strings.TrimSpace(actionName))]; ok {
		return k
	}
	return domain.EventUnknown
}

// Normalize builds exactly one event from an action and its paired result.
// stepIndex is assigned by the caller; url is the page the action ran on.
func Normalize(stepIndex int, url string, action domain.RawAction, result domain.ActionResult) domain.Event {
	ev := domain.Event{
		StepIndex:        stepIndex,
		Kind:             KindFor(action.Name),
		Metadata:         result.Metadata,
		ExtractedContent: result.ExtractedContent,
		Error:            result.Error,
	}
	if u := strings.TrimSpace(url); u != "" {
		ev.URL = &u
	}

	p := params(action.Params)
	name := strings.ToLower(strings.TrimSpace(action.Name))

	switch ev.Kind {
	case domain.EventClick:
		ev.Click = &domain.ClickPayload{
			ElementIndex: p.intPtr("index"),
			CoordinateX:  p.floatPtr("coordinate_x"),
			CoordinateY:  p.floatPtr("coordinate_y"),
			NewTab:       p.boolean("new_tab", false),
		}
	case domain.EventScroll:
		ev.Scroll = &domain.ScrollPayload{
			Direction:    scrollDirection(name, p),
			Pages:        p.float(DefaultScrollPages, "pages", "num_pages"),
			ElementIndex: p.intPtr("index", "frame_element_index"),
		}
	case domain.EventNavigate:
		ev.Navigate = &domain.NavigatePayload{
			TargetURL: p.str("url"),
			NewTab:    name == "open_tab" || p.boolean("new_tab", false),
		}
	case domain.EventInput:
		ev.Input = &domain.InputPayload{
			ElementIndex: p.intPtr("index"),
			Text:         p.str("text"),
			Clear:        p.boolean("clear", false),
		}
	case domain.EventSearch:
		engine := p.str("engine", "search_engine")
		if engine == "" && name == "search_google" {
			engine = "google"
		}
		ev.Search = &domain.SearchPayload{Query: p.str("query"), Engine: engine}
	case domain.EventWait:
		ev.Wait = &domain.WaitPayload{Seconds: p.integer("seconds", DefaultWaitSeconds)}
	case domain.EventUpload:
		ev.Upload = &domain.UploadPayload{ElementIndex: p.intPtr("index"), Path: p.str("path")}
	case domain.EventSwitchTab, domain.EventCloseTab:
		ev.Tab = &domain.TabPayload{TabID: p.str("tab_id", "page_id")}
	case domain.EventExtract:
		ev.Extract = &domain.ExtractPayload{
			Query:         p.str("query", "goal"),
			ExtractLinks:  p.boolean("extract_links", false),
			StartFromChar: p.integer("start_from_char", 0),
		}
	case domain.EventSendKeys:
		ev.SendKeys = &domain.SendKeysPayload{Keys: p.str("keys")}
	case domain.EventFindText:
		ev.FindText = &domain.FindTextPayload{Text: p.str("text")}
	case domain.EventScreenshot:
		ev.Screenshot = &domain.ScreenshotPayload{FileName: p.str("file_name")}
	case domain.EventDropdownQuery, domain.EventDropdownSelect:
		ev.Dropdown = &domain.DropdownPayload{ElementIndex: p.intPtr("index"), Option: p.str("text", "option")}
	case domain.EventDone:
		ev.Done = &domain.DonePayload{Text: p.str("text"), Success: p.boolean("success", true)}
	case domain.EventUnknown:
		ev.Unknown = &domain.UnknownPayload{ActionName: action.Name, Params: copyParams(action.Params)}
	}
	return ev
}

// copyParams deep-copies decoded JSON params; nil stays nil.
func copyParams(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyParams(t)
	case []any:
		if t == nil {
			return t
		}
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	}
	return v
}

// NormalizeHistory flattens every action/result pair in history order and
// numbers the resulting events from 1.
func NormalizeHistory(h *domain.AgentHistory) []domain.Event {
	if h == nil {
		return []domain.Event{}
	}
	events := make([]domain.Event, 0, len(h.Steps))
	idx := 0
	for _, step := range h.Steps {
		for i, action := range step.Actions {
			var res domain.ActionResult
			if i < len(step.Results) {
				res = step.Results[i]
			}
			idx++
			events = append(events, Normalize(idx, step.URL, action, res))
		}
	}
	return events
}

func scrollDirection(name string, p params) string {
	switch name {
	case "scroll_up":
		return "up"
	case "scroll_down":
		return "down"
	}
	if d := strings.ToLower(p.str("direction")); d == "up" || d == "down" {
		return d
	}
	if v, ok := p["down"]; ok {
		if b, ok := v.(bool); ok && !b {
			return "up"
		}
		return "down"
	}
	return DefaultScrollDirection
}

type params map[string]any

func (p params) first(keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := p[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func (p params) str(keys ...string) string {
	v, ok := p.first(keys...)
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	}
	return ""
}

func (p params) number(keys ...string) (float64, bool) {
	v, ok := p.first(keys...)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func (p params) float(def float64, keys ...string) float64 {
	if f, ok := p.number(keys...); ok && !math.IsNaN(f) {
		return f
	}
	return def
}

func (p params) floatPtr(key string) *float64 {
	if f, ok := p.number(key); ok {
		return &f
	}
	return nil
}

func (p params) integer(key string, def int) int {
	if f, ok := p.number(key); ok {
		return int(f)
	}
	return def
}

func (p params) intPtr(keys ...string) *int {
	if f, ok := p.number(keys...); ok {
		n := int(f)
		return &n
	}
	return nil
}

func (p params) boolean(key string, def bool) bool {
	v, ok := p[key]
	if !ok || v == nil {
		return def
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		if parsed, err := strconv.ParseBool(b); err == nil {
			return parsed
		}
	}
	return def
}
