package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/osvaldoandrade/personaq/internal/services"
	_ "github.com/osvaldoandrade/personaq/pkg/auth/static"
	"github.com/osvaldoandrade/personaq/pkg/config"
	"github.com/osvaldoandrade/personaq/pkg/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

const (
	operatorToken = "operator-token"
	readerToken   = "reader-token"
)

func TestHTTPIntegrationFlow(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	agentSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/agent/run" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			StartingURL string `json:"startingUrl"`
			Persona     string `json:"persona"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Persona == string(domain.PersonaResearcher) {
			http.Error(w, "browser crashed", http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"isDone": true,
			"isSuccessful": true,
			"durationSeconds": 4,
			"numberOfSteps": 3,
			"steps": [
				{"url": "`+req.StartingURL+`", "actions": [{"go_to_url": {"url": "`+req.StartingURL+`/products"}}], "results": [{}]},
				{"url": "`+req.StartingURL+`/products", "actions": [{"click_element": {"index": 4}}], "results": [{}]},
				{"url": "`+req.StartingURL+`/cart", "actions": [{"done": {"text": "added", "success": true}}], "results": [{"isDone": true, "success": true}]}
			]
		}`)
	}))
	t.Cleanup(agentSrv.Close)

	type hook struct {
		body []byte
		ts   string
		sig  string
	}
	hookCh := make(chan hook, 1)
	hookSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		select {
		case hookCh <- hook{b, r.Header.Get(services.HeaderTimestamp), r.Header.Get(services.HeaderSignature)}:
		default:
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(hookSrv.Close)

	cfg := &config.Config{
		RedisAddr: mr.Addr(),
		Timezone:  "UTC",
		LogLevel:  "error",
		LogFormat: "json",
		Env:       "test",
		Persistence: config.ProviderConfig{
			Provider: "redis",
			Options:  map[string]any{"addr": mr.Addr()},
		},
		Auth: config.ProviderConfig{
			Provider: "static",
			Options: map[string]any{"tokens": []any{
				map[string]any{"token": operatorToken, "subject": "ops", "scopes": []any{"personaq:*"}},
				map[string]any{"token": readerToken, "subject": "viewer", "scopes": []any{"personaq:read"}},
			}},
		},
		AgentURL:                     agentSrv.URL,
		MaxSteps:                     30,
		TaskTimeoutSeconds:           10,
		MaxConcurrentTasks:           2,
		LocalArtifactsDir:            t.TempDir(),
		RunRetentionSeconds:          3600,
		RunCleanupIntervalSeconds:    60,
		WebhookHmacSecret:            "secret",
		RunWebhookMaxAttempts:        3,
		RunWebhookBaseBackoffSeconds: 1,
		RunWebhookMaxBackoffSeconds:  2,
		BackoffPolicy:                "fixed",
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config validate: %v", err)
	}

	app, err := NewApplication(cfg, WithRedisClient(rdb))
	if err != nil {
		t.Fatalf("init app: %v", err)
	}
	SetupMappings(app)
	server := httptest.NewServer(app.Engine)
	t.Cleanup(server.Close)
	t.Cleanup(func() {
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = app.Close(cctx)
	})
	base := server.URL + "/v1/personaq"

	status, body := doJSON(t, ctx, http.MethodPut, base+"/system-config", operatorToken, map[string]any{"modelName": "gpt-4o", "apiKey": "sk-live"}, nil)
	if status != http.StatusOK || strings.Contains(body, "sk-live") {
		t.Fatalf("put system config status %d body=%s", status, body)
	}

	scenario := map[string]any{
		"id":        "checkout",
		"targetUrl": "https://shop.example",
		"tasks": []map[string]any{
			{"persona": "shopper", "goal": "add socks to the cart"},
			{"persona": "researcher", "goal": "compare materials"},
			{"persona": "shopper", "goal": "find the cart", "startingUrl": "https://shop.example/home"},
		},
		"selectedTaskIndices": []int{0, 1, 2},
	}
	if status, body := doJSON(t, ctx, http.MethodPost, base+"/scenarios", readerToken, scenario, nil); status != http.StatusForbidden {
		t.Fatalf("reader must not write scenarios: %d %s", status, body)
	}
	if status, body := doJSON(t, ctx, http.MethodPost, base+"/scenarios", operatorToken, scenario, nil); status != http.StatusOK {
		t.Fatalf("save scenario status %d body=%s", status, body)
	}

	if status, _ := doJSON(t, ctx, http.MethodPost, base+"/scenarios/checkout/runs", operatorToken, map[string]any{"taskIndices": []int{7}}, nil); status != http.StatusBadRequest {
		t.Fatalf("out of range index: got %d", status)
	}
	if status, _ := doJSON(t, ctx, http.MethodPost, base+"/scenarios/missing/runs", operatorToken, nil, nil); status != http.StatusNotFound {
		t.Fatalf("unknown scenario: got %d", status)
	}

	var started domain.RunState
	status, body = doJSON(t, ctx, http.MethodPost, base+"/scenarios/checkout/runs", operatorToken, map[string]any{
		"runId":    "run-1",
		"reportId": "report-1",
		"webhook":  hookSrv.URL,
	}, &started)
	if status != http.StatusAccepted {
		t.Fatalf("start run status %d body=%s", status, body)
	}
	if started.TotalTasks != 3 || started.Status != domain.RunInProgress {
		t.Fatalf("unexpected initial state: %+v", started)
	}

	final := waitForTerminal(t, ctx, base, "run-1")
	if final.Status != domain.RunPartialFailure || final.CompletedCount != 2 || final.FailedCount != 1 {
		t.Fatalf("unexpected final state: %+v", final)
	}
	if len(final.ResultIDs) != 3 {
		t.Fatalf("result ids: %v", final.ResultIDs)
	}

	select {
	case h := <-hookCh:
		ts, _ := strconv.ParseInt(h.ts, 10, 64)
		if h.sig != services.Sign("secret", ts, h.body) {
			t.Fatalf("bad webhook signature")
		}
		var st domain.RunState
		_ = json.Unmarshal(h.body, &st)
		if st.RunID != "run-1" || st.Status != domain.RunPartialFailure {
			t.Fatalf("webhook payload: %+v", st)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("expected run webhook")
	}

	var graph domain.SankeyGraph
	if status, body := doJSON(t, ctx, http.MethodGet, base+"/reports/report-1/graph", readerToken, nil, &graph); status != http.StatusOK {
		t.Fatalf("graph status %d body=%s", status, body)
	}
	if len(graph.Nodes) == 0 || len(graph.Links) == 0 {
		t.Fatalf("empty graph: %+v", graph)
	}
	for i := 1; i < len(graph.Nodes); i++ {
		if graph.Nodes[i-1].URL >= graph.Nodes[i].URL {
			t.Fatalf("nodes not sorted: %+v", graph.Nodes)
		}
	}

	var summary domain.MetricsSummary
	if status, body := doJSON(t, ctx, http.MethodGet, base+"/runs/run-1/metrics", readerToken, nil, &summary); status != http.StatusOK {
		t.Fatalf("metrics status %d body=%s", status, body)
	}
	if summary.TotalRuns != 3 || summary.CompletedRuns != 2 || summary.FailedRuns != 1 {
		t.Fatalf("summary: %+v", summary)
	}

	var listed struct {
		Results []domain.TaskResult `json:"results"`
		Count   int                 `json:"count"`
	}
	if status, body := doJSON(t, ctx, http.MethodGet, base+"/runs/run-1/results?persona=researcher", readerToken, nil, &listed); status != http.StatusOK {
		t.Fatalf("results status %d body=%s", status, body)
	}
	if listed.Count != 1 || listed.Results[0].IsSuccessful || listed.Results[0].ErrorKind == nil {
		t.Fatalf("filtered results: %+v", listed)
	}
	if got := listed.Results[0].EventSequence; got == nil || len(got) != 0 {
		t.Fatalf("failed task events: %+v", got)
	}

	var one domain.TaskResult
	if status, body := doJSON(t, ctx, http.MethodGet, base+"/results/"+final.ResultIDs[0], readerToken, nil, &one); status != http.StatusOK {
		t.Fatalf("get result status %d body=%s", status, body)
	}

	var reconciled domain.RunState
	if status, body := doJSON(t, ctx, http.MethodPost, base+"/runs/run-1/reconcile", operatorToken, nil, &reconciled); status != http.StatusOK {
		t.Fatalf("reconcile status %d body=%s", status, body)
	}
	if reconciled.Done() != 3 {
		t.Fatalf("reconciled: %+v", reconciled)
	}

	var held struct {
		Runs []domain.RunState `json:"runs"`
	}
	if status, body := doJSON(t, ctx, http.MethodGet, base+"/runs?status="+string(reconciled.Status), readerToken, nil, &held); status != http.StatusOK {
		t.Fatalf("list runs status %d body=%s", status, body)
	}
	if len(held.Runs) != 1 || held.Runs[0].RunID != "run-1" {
		t.Fatalf("listed runs: %+v", held.Runs)
	}
	if status, _ := doJSON(t, ctx, http.MethodGet, base+"/runs?status=bogus", readerToken, nil, nil); status != http.StatusBadRequest {
		t.Fatalf("bad status filter: got %d", status)
	}

	if status, _ := doJSON(t, ctx, http.MethodDelete, base+"/runs/run-1", readerToken, nil, nil); status != http.StatusForbidden {
		t.Fatalf("reader ack: got %d", status)
	}
	if status, _ := doJSON(t, ctx, http.MethodDelete, base+"/runs/run-1", operatorToken, nil, nil); status != http.StatusNoContent {
		t.Fatalf("ack: got %d", status)
	}
	if status, _ := doJSON(t, ctx, http.MethodGet, base+"/runs/run-1", readerToken, nil, nil); status != http.StatusNotFound {
		t.Fatalf("status after ack: got %d", status)
	}
	// Results outlive the acknowledged run state.
	if status, _ := doJSON(t, ctx, http.MethodGet, base+"/reports/report-1/results", readerToken, nil, &listed); status != http.StatusOK || listed.Count != 3 {
		t.Fatalf("results after ack: %d %+v", status, listed)
	}

	if status, _ := doJSON(t, ctx, http.MethodGet, server.URL+"/healthz", "", nil, nil); status != http.StatusOK {
		t.Fatalf("healthz: got %d", status)
	}
	status, body = doJSON(t, ctx, http.MethodGet, server.URL+"/metrics", "", nil, nil)
	if status != http.StatusOK || !strings.Contains(body, "personaq_runs_started_total") {
		t.Fatalf("metrics endpoint: %d", status)
	}
}

func TestStartRunWithoutSystemConfig(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{
		Timezone:           "UTC",
		LogLevel:           "error",
		Env:                "dev",
		Persistence:        config.ProviderConfig{Provider: "memory"},
		AgentURL:           "http://127.0.0.1:1",
		MaxConcurrentTasks: 1,
	}
	app, err := NewApplication(cfg)
	if err != nil {
		t.Fatalf("init app: %v", err)
	}
	SetupMappings(app)
	server := httptest.NewServer(app.Engine)
	t.Cleanup(server.Close)
	t.Cleanup(func() { _ = app.Close(context.Background()) })
	base := server.URL + "/v1/personaq"

	scenario := map[string]any{"id": "s", "targetUrl": "https://x.example", "tasks": []map[string]any{{"goal": "look around"}}}
	if status, body := doJSON(t, ctx, http.MethodPost, base+"/scenarios", "", scenario, nil); status != http.StatusOK {
		t.Fatalf("save scenario status %d body=%s", status, body)
	}
	if status, body := doJSON(t, ctx, http.MethodPost, base+"/scenarios/s/runs", "", nil, nil); status != http.StatusBadRequest {
		t.Fatalf("run without selection: got %d body=%s", status, body)
	}
	scenario["selectedTaskIndices"] = []int{0}
	if status, body := doJSON(t, ctx, http.MethodPost, base+"/scenarios", "", scenario, nil); status != http.StatusOK {
		t.Fatalf("save scenario status %d body=%s", status, body)
	}
	var st domain.RunState
	status, body := doJSON(t, ctx, http.MethodPost, base+"/scenarios/s/runs", "", nil, &st)
	if status != http.StatusAccepted {
		t.Fatalf("start run status %d body=%s", status, body)
	}
	if st.Status != domain.RunFailed || st.Error == "" {
		t.Fatalf("expected setup failure, got %+v", st)
	}
}

func waitForTerminal(t *testing.T, ctx context.Context, base, runID string) domain.RunState {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		var st domain.RunState
		status, body := doJSON(t, ctx, http.MethodGet, base+"/runs/"+runID, readerToken, nil, &st)
		if status != http.StatusOK {
			t.Fatalf("run status %d body=%s", status, body)
		}
		if st.Status.Terminal() {
			return st
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("run %s did not finish", runID)
	return domain.RunState{}
}

func doJSON(t *testing.T, ctx context.Context, method, url, token string, body any, out any) (int, string) {
	t.Helper()
	var buf io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		buf = bytes.NewBuffer(b)
	}
	req, _ := http.NewRequestWithContext(ctx, method, url, buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if out != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_ = json.Unmarshal(b, out)
	}
	return resp.StatusCode, string(b)
}
