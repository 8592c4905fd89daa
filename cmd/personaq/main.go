package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/osvaldoandrade/personaq/pkg/domain"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

const apiPrefix = "/v1/personaq"

var stdin = bufio.NewReader(os.Stdin)

type client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type ui struct {
	title func(a ...any) string
	ok    func(a ...any) string
	info  func(a ...any) string
	warn  func(a ...any) string
	err   func(a ...any) string
	dim   func(a ...any) string
}

type profile struct {
	BaseURL string `yaml:"baseUrl"`
	Token   string `yaml:"token"`
}

type cliConfig struct {
	CurrentProfile string             `yaml:"currentProfile"`
	Profiles       map[string]profile `yaml:"profiles"`
}

func newUI() *ui {
	return &ui{
		title: color.New(color.FgHiCyan, color.Bold).SprintFunc(),
		ok:    color.New(color.FgGreen, color.Bold).SprintFunc(),
		info:  color.New(color.FgCyan).SprintFunc(),
		warn:  color.New(color.FgYellow).SprintFunc(),
		err:   color.New(color.FgRed, color.Bold).SprintFunc(),
		dim:   color.New(color.FgHiBlack).SprintFunc(),
	}
}

func newClient(baseURL, token string) *client {
	return &client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *client) request(method, path string, body any) (int, []byte, error) {
	var buf *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		buf = bytes.NewReader(b)
	} else {
		buf = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, c.baseURL+apiPrefix+path, buf)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out, nil
}

// call wraps request with a spinner and turns non-2xx statuses into errors.
func (c *client) call(label, method, path string, body any) ([]byte, error) {
	spin := spinner.New(spinner.CharSets[14], 120*time.Millisecond)
	spin.Suffix = " " + label
	spin.Start()
	status, resp, err := c.request(method, path, body)
	spin.Stop()
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, fmt.Errorf("error (%d): %s", status, strings.TrimSpace(string(resp)))
	}
	return resp, nil
}

func main() {
	baseURL := getenv("PERSONAQ_BASE_URL", "http://localhost:8080")
	token := getenv("PERSONAQ_TOKEN", "")
	profileName := ""
	ui := newUI()

	root := &cobra.Command{
		Use:   "personaq",
		Short: "personaQ CLI",
		Long:  "personaQ CLI for scenarios, persona runs and journey analytics.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			prof, ok := cfg.Profiles[resolveProfileName(profileName, cfg)]
			if !ok {
				return nil
			}
			if !cmd.Flags().Changed("base-url") && os.Getenv("PERSONAQ_BASE_URL") == "" && prof.BaseURL != "" {
				baseURL = prof.BaseURL
			}
			if !cmd.Flags().Changed("token") && os.Getenv("PERSONAQ_TOKEN") == "" && prof.Token != "" {
				token = prof.Token
			}
			return nil
		},
	}
	root.SilenceUsage = true
	root.SilenceErrors = true
	root.SetHelpTemplate(helpTemplate(ui))

	root.PersistentFlags().StringVar(&baseURL, "base-url", baseURL, "personaQ base URL")
	root.PersistentFlags().StringVar(&token, "token", token, "Bearer token")
	root.PersistentFlags().StringVar(&profileName, "profile", "", "Config profile")

	clientFn := func() (*client, error) {
		if token == "" && !isLocalURL(baseURL) {
			return nil, errors.New("token is required (run `personaq init` or set PERSONAQ_TOKEN)")
		}
		return newClient(baseURL, token), nil
	}

	root.AddCommand(
		initCmd(&profileName, ui),
		scenarioCmd(clientFn, ui),
		systemConfigCmd(clientFn, ui),
		runCmd(clientFn, ui),
	)
	root.AddCommand(journeyCmds(clientFn)...)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.err("[ERROR]"), err.Error())
		os.Exit(1)
	}
}

func initCmd(profileName *string, ui *ui) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create or update a profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cfgPath, err := loadConfig()
			if err != nil {
				return err
			}
			name := resolveProfileName(*profileName, cfg)
			prof := cfg.Profiles[name]
			prof.BaseURL = prompt(stdin, "Base URL", emptyOr(prof.BaseURL, "http://localhost:8080"))
			tok, err := promptSecret("Token (leave empty to keep current)")
			if err != nil {
				return err
			}
			if tok != "" {
				prof.Token = tok
			}
			cfg.Profiles[name] = prof
			cfg.CurrentProfile = name
			if err := saveConfig(cfg, cfgPath); err != nil {
				return err
			}
			fmt.Printf("%s Profile '%s' saved to %s\n", ui.ok("[OK]"), name, cfgPath)
			fmt.Printf("%s Token: %s\n", ui.info("•"), maskToken(prof.Token))
			return nil
		},
	}
}

func scenarioCmd(newC func() (*client, error), ui *ui) *cobra.Command {
	scenario := &cobra.Command{
		Use:   "scenario",
		Short: "Scenario operations",
	}

	var file string
	put := &cobra.Command{
		Use:     "put",
		Short:   "Create or replace a scenario from a YAML or JSON file",
		Example: "personaq scenario put -f checkout.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(file) == "" {
				return errors.New("file is required")
			}
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			var sc domain.Scenario
			if err := yaml.Unmarshal(data, &sc); err != nil {
				return fmt.Errorf("invalid scenario file: %w", err)
			}
			c, err := newC()
			if err != nil {
				return err
			}
			resp, err := c.call("Saving scenario...", http.MethodPost, "/scenarios", sc)
			if err != nil {
				return err
			}
			var out domain.Scenario
			if err := json.Unmarshal(resp, &out); err != nil {
				fmt.Println(string(resp))
				return nil
			}
			fmt.Printf("%s Scenario saved: %s (%d tasks)\n", ui.ok("[OK]"), out.ID, len(out.Tasks))
			return nil
		},
	}
	put.Flags().StringVarP(&file, "file", "f", "", "Scenario file")

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Get a scenario",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printGet(newC, "Fetching scenario...", "/scenarios/"+url.PathEscape(args[0]))
		},
	}

	scenario.AddCommand(put, get)
	return scenario
}

func systemConfigCmd(newC func() (*client, error), ui *ui) *cobra.Command {
	sc := &cobra.Command{
		Use:   "config",
		Short: "System configuration (agent model)",
	}

	var model, provider, apiKey string
	set := &cobra.Command{
		Use:     "set",
		Short:   "Set the agent model configuration",
		Example: "personaq config set --model gpt-4o --provider openai --api-key-stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(model) == "" {
				return errors.New("model is required")
			}
			if readKey, _ := cmd.Flags().GetBool("api-key-stdin"); readKey {
				k, err := promptSecret("API key")
				if err != nil {
					return err
				}
				apiKey = k
			}
			c, err := newC()
			if err != nil {
				return err
			}
			body := domain.SystemConfig{ModelName: model, Provider: provider, APIKey: apiKey}
			if _, err := c.call("Saving system config...", http.MethodPut, "/system-config", body); err != nil {
				return err
			}
			fmt.Printf("%s Model set: %s\n", ui.ok("[OK]"), model)
			return nil
		},
	}
	set.Flags().StringVar(&model, "model", "", "Model name")
	set.Flags().StringVar(&provider, "provider", "", "Model provider")
	set.Flags().StringVar(&apiKey, "api-key", "", "Provider API key")
	set.Flags().Bool("api-key-stdin", false, "Read the API key from the terminal")

	get := &cobra.Command{
		Use:   "get",
		Short: "Show the system configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printGet(newC, "Fetching system config...", "/system-config")
		},
	}

	sc.AddCommand(set, get)
	return sc
}

func runCmd(newC func() (*client, error), ui *ui) *cobra.Command {
	run := &cobra.Command{
		Use:   "run",
		Short: "Persona run operations",
	}

	var (
		tasks    string
		runID    string
		reportID string
		webhook  string
		watch    bool
		interval time.Duration
		total    int
	)

	start := &cobra.Command{
		Use:     "start <scenario-id>",
		Short:   "Start a run for a scenario",
		Args:    cobra.ExactArgs(1),
		Example: "personaq run start checkout --tasks 0,2 --watch",
		RunE: func(cmd *cobra.Command, args []string) error {
			indices, err := parseIndices(tasks)
			if err != nil {
				return err
			}
			c, err := newC()
			if err != nil {
				return err
			}
			body := map[string]any{}
			if len(indices) > 0 {
				body["taskIndices"] = indices
			}
			if runID != "" {
				body["runId"] = runID
			}
			if reportID != "" {
				body["reportId"] = reportID
			}
			if webhook != "" {
				body["webhook"] = webhook
			}
			resp, err := c.call("Starting run...", http.MethodPost, "/scenarios/"+url.PathEscape(args[0])+"/runs", body)
			if err != nil {
				return err
			}
			var st domain.RunState
			if err := json.Unmarshal(resp, &st); err != nil {
				fmt.Println(string(resp))
				return nil
			}
			printRunState(st, ui)
			if watch && !st.Status.Terminal() {
				return watchRun(c, st.RunID, interval, ui)
			}
			return nil
		},
	}
	start.Flags().StringVar(&tasks, "tasks", "", "Comma-separated task indices")
	start.Flags().StringVar(&runID, "run-id", "", "Run id (generated when empty)")
	start.Flags().StringVar(&reportID, "report-id", "", "Report id (generated when empty)")
	start.Flags().StringVar(&webhook, "webhook", "", "Completion webhook URL")
	start.Flags().BoolVar(&watch, "watch", false, "Follow progress until the run finishes")
	start.Flags().DurationVar(&interval, "interval", 2*time.Second, "Poll interval for --watch")

	status := &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show run progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newC()
			if err != nil {
				return err
			}
			if watch {
				return watchRun(c, args[0], interval, ui)
			}
			st, err := fetchRun(c, args[0])
			if err != nil {
				return err
			}
			printRunState(st, ui)
			return nil
		},
	}
	status.Flags().BoolVar(&watch, "watch", false, "Follow progress until the run finishes")
	status.Flags().DurationVar(&interval, "interval", 2*time.Second, "Poll interval for --watch")

	ack := &cobra.Command{
		Use:   "ack <run-id>",
		Short: "Acknowledge a finished run and drop its progress record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newC()
			if err != nil {
				return err
			}
			if _, err := c.call("Acknowledging run...", http.MethodDelete, "/runs/"+url.PathEscape(args[0]), nil); err != nil {
				return err
			}
			fmt.Printf("%s Run acknowledged: %s\n", ui.ok("[OK]"), args[0])
			return nil
		},
	}

	reconcile := &cobra.Command{
		Use:   "reconcile <run-id>",
		Short: "Rebuild run progress from stored results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newC()
			if err != nil {
				return err
			}
			body := map[string]any{}
			if total > 0 {
				body["totalTasks"] = total
			}
			resp, err := c.call("Reconciling run...", http.MethodPost, "/runs/"+url.PathEscape(args[0])+"/reconcile", body)
			if err != nil {
				return err
			}
			var st domain.RunState
			if err := json.Unmarshal(resp, &st); err != nil {
				fmt.Println(string(resp))
				return nil
			}
			printRunState(st, ui)
			return nil
		},
	}
	reconcile.Flags().IntVar(&total, "total-tasks", 0, "Expected task count")

	var statusFilter string
	list := &cobra.Command{
		Use:   "list",
		Short: "List runs the server still holds",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newC()
			if err != nil {
				return err
			}
			path := "/runs"
			if statusFilter != "" {
				path += "?status=" + url.QueryEscape(statusFilter)
			}
			resp, err := c.call("Listing runs...", http.MethodGet, path, nil)
			if err != nil {
				return err
			}
			var out struct {
				Runs []domain.RunState `json:"runs"`
			}
			if err := json.Unmarshal(resp, &out); err != nil {
				fmt.Println(string(resp))
				return nil
			}
			if len(out.Runs) == 0 {
				fmt.Printf("%s No runs\n", ui.dim("•"))
				return nil
			}
			for _, st := range out.Runs {
				fmt.Printf("%-38s %-16s %d/%d\n", st.RunID, st.Status, st.Done(), st.TotalTasks)
			}
			return nil
		},
	}
	list.Flags().StringVar(&statusFilter, "status", "", "Only runs in this status")

	run.AddCommand(start, status, list, ack, reconcile)
	return run
}

// journeyCmds returns the read-only analytics commands. Each accepts
// --run or --report and an optional --persona filter.
func journeyCmds(newC func() (*client, error)) []*cobra.Command {
	build := func(use, short, resource string) *cobra.Command {
		var runID, reportID, persona string
		cmd := &cobra.Command{
			Use:   use,
			Short: short,
			RunE: func(cmd *cobra.Command, args []string) error {
				path, err := scopePath(runID, reportID, resource, persona)
				if err != nil {
					return err
				}
				return printGet(newC, "Fetching "+resource+"...", path)
			},
		}
		cmd.Flags().StringVar(&runID, "run", "", "Run id")
		cmd.Flags().StringVar(&reportID, "report", "", "Report id")
		cmd.Flags().StringVar(&persona, "persona", "", "Persona filter")
		return cmd
	}

	result := &cobra.Command{
		Use:   "result <id>",
		Short: "Get a single task result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printGet(newC, "Fetching result...", "/results/"+url.PathEscape(args[0]))
		},
	}

	return []*cobra.Command{
		build("results", "List task results", "results"),
		build("graph", "Journey Sankey graph", "graph"),
		build("metrics", "Metrics summary", "metrics"),
		result,
	}
}

func scopePath(runID, reportID, resource, persona string) (string, error) {
	runID, reportID = strings.TrimSpace(runID), strings.TrimSpace(reportID)
	var path string
	switch {
	case runID != "" && reportID != "":
		return "", errors.New("use either --run or --report, not both")
	case runID != "":
		path = "/runs/" + url.PathEscape(runID) + "/" + resource
	case reportID != "":
		path = "/reports/" + url.PathEscape(reportID) + "/" + resource
	default:
		return "", errors.New("--run or --report is required")
	}
	if p := strings.TrimSpace(persona); p != "" {
		path += "?persona=" + url.QueryEscape(strings.ToUpper(p))
	}
	return path, nil
}

func printGet(newC func() (*client, error), label, path string) error {
	c, err := newC()
	if err != nil {
		return err
	}
	resp, err := c.call(label, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, resp, "", "  ") != nil {
		fmt.Println(string(resp))
		return nil
	}
	fmt.Println(pretty.String())
	return nil
}

func fetchRun(c *client, runID string) (domain.RunState, error) {
	var st domain.RunState
	status, resp, err := c.request(http.MethodGet, "/runs/"+url.PathEscape(runID), nil)
	if err != nil {
		return st, err
	}
	if status >= 300 {
		return st, fmt.Errorf("error (%d): %s", status, strings.TrimSpace(string(resp)))
	}
	err = json.Unmarshal(resp, &st)
	return st, err
}

func watchRun(c *client, runID string, interval time.Duration, ui *ui) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if interval <= 0 {
		interval = 2 * time.Second
	}

	var bar *progressbar.ProgressBar
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		st, err := fetchRun(c, runID)
		if err != nil {
			return err
		}
		if bar == nil && st.TotalTasks > 0 {
			bar = progressbar.NewOptions(st.TotalTasks,
				progressbar.OptionSetDescription("Running "+runID),
				progressbar.OptionSetWidth(18),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
		}
		if bar != nil {
			_ = bar.Set(st.CompletedCount + st.FailedCount)
		}
		if st.Status.Terminal() {
			if bar != nil {
				_ = bar.Finish()
			}
			printRunState(st, ui)
			return nil
		}
		select {
		case <-ctx.Done():
			fmt.Println()
			fmt.Println(ui.warn("[WARN]"), "Stopped watching; the run continues on the server")
			return nil
		case <-ticker.C:
		}
	}
}

func printRunState(st domain.RunState, ui *ui) {
	label := ui.info(string(st.Status))
	switch st.Status {
	case domain.RunCompleted:
		label = ui.ok(string(st.Status))
	case domain.RunPartialFailure:
		label = ui.warn(string(st.Status))
	case domain.RunFailed:
		label = ui.err(string(st.Status))
	}
	fmt.Printf("%s Run %s  %s\n", ui.title("personaq"), st.RunID, label)
	fmt.Printf("%s Scenario: %s  Report: %s\n", ui.info("•"), st.ScenarioID, st.ReportID)
	fmt.Printf("%s Tasks: %d  %s %d  %s %d\n", ui.info("•"), st.TotalTasks,
		ui.ok("OK"), st.CompletedCount, ui.err("FAILED"), st.FailedCount)
	if st.Error != "" {
		fmt.Printf("%s %s\n", ui.err("•"), st.Error)
	}
	if st.CompletedAt != nil {
		fmt.Printf("%s Finished: %s\n", ui.dim("•"), st.CompletedAt.Format(time.RFC3339))
	}
}

func parseIndices(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid task index %q", part)
		}
		out = append(out, n)
	}
	return out, nil
}

func getenv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func isLocalURL(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	host := strings.ToLower(parsed.Hostname())
	return host == "localhost" || host == "127.0.0.1"
}

func helpTemplate(ui *ui) string {
	title := ui.title("personaq")
	return fmt.Sprintf(`%s  CLI for personaQ

Usage:
  {{.UseLine}}

Commands:
{{range .Commands}}{{if (or .IsAvailableCommand .IsAdditionalHelpTopicCommand)}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}

Flags:
  {{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}

Global Flags:
  {{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}

Config:
  %s

Examples:
  personaq init
  personaq config set --model gpt-4o
  personaq scenario put -f checkout.yaml
  personaq run start checkout --watch
  personaq graph --run <run-id> --persona SHOPPER

`, title, configPath())
}

func configPath() string {
	if v := strings.TrimSpace(os.Getenv("PERSONAQ_CONFIG_DIR")); v != "" {
		return filepath.Join(v, "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.yaml"
	}
	return filepath.Join(home, ".personaq", "config.yaml")
}

func promptSecret(label string) (string, error) {
	fmt.Printf("%s: ", label)
	b, err := termReadPassword()
	fmt.Println()
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func termReadPassword() ([]byte, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := stdin.ReadString('\n')
		return []byte(strings.TrimSpace(line)), err
	}
	return term.ReadPassword(fd)
}

func loadConfig() (cliConfig, string, error) {
	path := configPath()
	var cfg cliConfig
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cliConfig{Profiles: map[string]profile{}}, path, nil
		}
		return cfg, path, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, path, err
	}
	if cfg.Profiles == nil {
		cfg.Profiles = map[string]profile{}
	}
	return cfg, path, nil
}

func saveConfig(cfg cliConfig, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func resolveProfileName(flag string, cfg cliConfig) string {
	if strings.TrimSpace(flag) != "" {
		return strings.TrimSpace(flag)
	}
	if v := strings.TrimSpace(os.Getenv("PERSONAQ_PROFILE")); v != "" {
		return v
	}
	if cfg.CurrentProfile != "" {
		return cfg.CurrentProfile
	}
	return "default"
}

func prompt(r *bufio.Reader, label, def string) string {
	if def != "" {
		fmt.Printf("%s [%s]: ", label, def)
	} else {
		fmt.Printf("%s: ", label)
	}
	line, _ := r.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return def
	}
	return line
}

func maskToken(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "<unset>"
	}
	if len(v) <= 8 {
		return "****"
	}
	return v[:4] + "..." + v[len(v)-4:]
}

func emptyOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
