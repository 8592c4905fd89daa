package domain

import "encoding"

type EventKind string

const (
	EventClick          EventKind = "click"
	EventScroll         EventKind = "scroll"
	EventNavigate       EventKind = "navigate"
	EventInput          EventKind = "input"
	EventSearch         EventKind = "search"
	EventGoBack         EventKind = "go_back"
	EventWait           EventKind = "wait"
	EventUpload         EventKind = "upload"
	EventSwitchTab      EventKind = "switch_tab"
	EventCloseTab       EventKind = "close_tab"
	EventExtract        EventKind = "extract"
	EventSendKeys       EventKind = "send_keys"
	EventFindText       EventKind = "find_text"
	EventScreenshot     EventKind = "screenshot"
	EventDropdownQuery  EventKind = "dropdown_query"
	EventDropdownSelect EventKind = "dropdown_select"
	EventDone           EventKind = "done"
	EventUnknown        EventKind = "unknown"
)

var (
	_ encoding.BinaryMarshaler = EventKind("")
	_ encoding.TextMarshaler   = EventKind("")
)

func (k EventKind) MarshalBinary() ([]byte, error) { return []byte(string(k)), nil }
func (k EventKind) MarshalText() ([]byte, error)   { return []byte(string(k)), nil }

// Event is one normalized browsing action. Exactly one payload pointer matching
// Kind is set; go_back carries no payload.
type Event struct {
	StepIndex int       `json:"stepIndex"`
	URL       *string   `json:"url"`
	Kind      EventKind `json:"kind"`

	Click      *ClickPayload      `json:"click,omitempty"`
	Scroll     *ScrollPayload     `json:"scroll,omitempty"`
	Navigate   *NavigatePayload   `json:"navigate,omitempty"`
	Input      *InputPayload      `json:"input,omitempty"`
	Search     *SearchPayload     `json:"search,omitempty"`
	Wait       *WaitPayload       `json:"wait,omitempty"`
	Upload     *UploadPayload     `json:"upload,omitempty"`
	Tab        *TabPayload        `json:"tab,omitempty"`
	Extract    *ExtractPayload    `json:"extract,omitempty"`
	SendKeys   *SendKeysPayload   `json:"sendKeys,omitempty"`
	FindText   *FindTextPayload   `json:"findText,omitempty"`
	Screenshot *ScreenshotPayload `json:"screenshot,omitempty"`
	Dropdown   *DropdownPayload   `json:"dropdown,omitempty"`
	Done       *DonePayload       `json:"done,omitempty"`
	Unknown    *UnknownPayload    `json:"unknown,omitempty"`

	// Result side of the action/result pair.
	Metadata         map[string]any `json:"metadata,omitempty"`
	ExtractedContent string         `json:"extractedContent,omitempty"`
	Error            string         `json:"error,omitempty"`
}

// URLValue returns the page URL or "" when the event carries none.
func (e Event) URLValue() string {
	if e.URL == nil {
		return ""
	}
	return *e.URL
}

type ClickPayload struct {
	ElementIndex *int     `json:"elementIndex,omitempty"`
	CoordinateX  *float64 `json:"coordinateX,omitempty"`
	CoordinateY  *float64 `json:"coordinateY,omitempty"`
	NewTab       bool     `json:"newTab,omitempty"`
}

type ScrollPayload struct {
	Direction    string  `json:"direction"`
	Pages        float64 `json:"pages"`
	ElementIndex *int    `json:"elementIndex,omitempty"`
}

type NavigatePayload struct {
	TargetURL string `json:"targetUrl"`
	NewTab    bool   `json:"newTab"`
}

type InputPayload struct {
	ElementIndex *int   `json:"elementIndex,omitempty"`
	Text         string `json:"text"`
	Clear        bool   `json:"clear,omitempty"`
}

type SearchPayload struct {
	Query  string `json:"query"`
	Engine string `json:"engine,omitempty"`
}

type WaitPayload struct {
	Seconds int `json:"seconds"`
}

type UploadPayload struct {
	ElementIndex *int   `json:"elementIndex,omitempty"`
	Path         string `json:"path"`
}

type TabPayload struct {
	TabID string `json:"tabId"`
}

type ExtractPayload struct {
	Query         string `json:"query"`
	ExtractLinks  bool   `json:"extractLinks,omitempty"`
	StartFromChar int    `json:"startFromChar,omitempty"`
}

type SendKeysPayload struct {
	Keys string `json:"keys"`
}

type FindTextPayload struct {
	Text string `json:"text"`
}

type ScreenshotPayload struct {
	FileName string `json:"fileName,omitempty"`
}

type DropdownPayload struct {
	ElementIndex *int   `json:"elementIndex,omitempty"`
	Option       string `json:"option,omitempty"`
}

type DonePayload struct {
	Text    string `json:"text"`
	Success bool   `json:"success"`
}

// UnknownPayload keeps an unrecognized action verbatim.
type UnknownPayload struct {
	ActionName string         `json:"actionName"`
	Params     map[string]any `json:"params"`
}
