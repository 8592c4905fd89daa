package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/osvaldoandrade/personaq/internal/tracing"
	"github.com/osvaldoandrade/personaq/pkg/domain"
)

// AgentRequest is one automated browsing job.
type AgentRequest struct {
	Instruction string              `json:"instruction"`
	StartingURL string              `json:"startingUrl"`
	Persona     domain.Persona      `json:"persona"`
	MaxSteps    int                 `json:"maxSteps"`
	Config      domain.SystemConfig `json:"config"`
}

// Agent is the automated execution capability. Run blocks until the agent
// finishes or ctx is done.
type Agent interface {
	Run(ctx context.Context, req AgentRequest) (*domain.AgentHistory, error)
}

type httpAgent struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPAgent talks to an agent runner over HTTP. The request deadline comes
// from ctx; the client itself has no timeout.
func NewHTTPAgent(baseURL, apiKey string) Agent {
	return &httpAgent{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{},
	}
}

func (a *httpAgent) Run(ctx context.Context, req AgentRequest) (*domain.AgentHistory, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal agent request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/agent/run", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Personaq-Sent-At", time.Now().UTC().Format(time.RFC3339))
	if a.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	}
	tracing.InjectHeaders(ctx, httpReq.Header)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("agent request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("read agent response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("agent returned status %d: %s", resp.StatusCode, snippet(payload))
	}
	var h domain.AgentHistory
	if err := json.Unmarshal(payload, &h); err != nil {
		return nil, fmt.Errorf("decode agent history: %w", err)
	}
	return &h, nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
