package engine

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/vurun/internal/config"
	"github.com/wesleyorama2/vurun/internal/loaderr"
	"github.com/wesleyorama2/vurun/internal/metrics"
	"github.com/wesleyorama2/vurun/internal/vts"
	"github.com/wesleyorama2/vurun/internal/vts/vtstest"
	"github.com/wesleyorama2/vurun/internal/vu"
)

// shopServer hands out a token on /login and requires it on /cart
func shopServer(t *testing.T) (*httptest.Server, *sync.Map) {
	t.Helper()
	seen := &sync.Map{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			w.Write([]byte(`<input name="token" value="tok-42">`))
		case "/cart":
			if r.Header.Get("X-Token") != "tok-42" {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			seen.Store(r.URL.Query().Get("user"), true)
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"items": 3, "status": "ok"}`))
		case "/logout":
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, seen
}

const shopConfig = `
name: shop
settings:
  baseUrl: "%BASE%"
  timeout: 5s
params:
  user: alice
execution:
  executor: per-vu-iterations
  vus: 2
  iterations: 3
script:
  initialize:
    - request:
        url: "{{baseUrl}}/login"
        transaction: login
        extractors:
          - name: token
            boundary:
              left: 'value="'
              right: '"'
  actions:
    - name: cart
      steps:
        - request:
            url: "{{baseUrl}}/cart"
            headers:
              X-Token: "{{token}}"
            query:
              user: "{{user}}"
            transaction: cart
            textCheck: '"status": "ok"'
            schema: '{"type": "object", "required": ["items"]}'
            extractors:
              - name: items
                jsonPath:
                  path: items
        - dataPoint:
            name: items
            value: "{{items}}"
        - log:
            message: "vu {{vu}} has {{items}} items"
            level: debug
  finalize:
    - request:
        url: "{{baseUrl}}/logout"
thresholds:
  iterations:
    - "failRate < 0.1"
    - "count == 6"
  transactions:
    cart:
      - "p95 < 5s"
      - "failRate == 0"
`

func parseConfig(t *testing.T, yamlText string) *config.TestConfig {
	t.Helper()
	cfg, err := config.ParseConfig([]byte(yamlText), "test.yaml")
	require.NoError(t, err)
	return cfg
}

func TestEngine_RunConfigScript(t *testing.T) {
	srv, seen := shopServer(t)
	cfg := parseConfig(t, strings.ReplaceAll(shopConfig, "%BASE%", srv.URL))

	e, err := NewEngine(cfg, WithScriptPath("testdata/shop.yaml"))
	require.NoError(t, err)

	result, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Passed, "thresholds: %+v", result.Thresholds)
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, int64(6), result.Metrics.Iterations.Total)
	assert.Equal(t, int64(0), result.Metrics.Iterations.Failed)

	cart := result.Metrics.Transactions["cart"]
	assert.Equal(t, int64(6), cart.Passed)
	assert.Equal(t, int64(6), result.Metrics.Transactions["login"].Passed)

	items := result.Metrics.DataPoints["items"]
	assert.Equal(t, int64(6), items.Count)
	assert.Equal(t, 3.0, items.Mean())

	_, ok := seen.Load("alice")
	assert.True(t, ok, "params should resolve placeholders")
	assert.Len(t, result.Thresholds, 4)
	assert.False(t, e.IsRunning())
	assert.Equal(t, 1.0, e.GetProgress())
}

func TestEngine_FailedChecksFailTransaction(t *testing.T) {
	srv, _ := shopServer(t)
	cfg := parseConfig(t, strings.ReplaceAll(`
name: failing
execution:
  executor: shared-iterations
  vus: 1
  iterations: 2
script:
  actions:
    - name: cart
      steps:
        - request:
            url: "%BASE%/cart"
            transaction: cart
thresholds:
  transactions:
    cart:
      - "failRate < 0.5"
`, "%BASE%", srv.URL))

	e, err := NewEngine(cfg)
	require.NoError(t, err)

	result, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, result.Passed)
	assert.Equal(t, int64(2), result.Metrics.Transactions["cart"].Failed)
	assert.Equal(t, int64(2), result.Metrics.Iterations.Failed)
}

func TestEngine_RepeatedTransactionName(t *testing.T) {
	srv, _ := shopServer(t)
	cfg := parseConfig(t, strings.ReplaceAll(`
name: repeat
execution:
  executor: per-vu-iterations
  vus: 1
  iterations: 2
script:
  actions:
    - name: browse
      steps:
        - request:
            url: "%BASE%/login"
            transaction: page
        - request:
            url: "%BASE%/logout"
            transaction: page
    - name: manual
      steps:
        - transaction:
            name: step
            action: start
        - transaction:
            name: step
            action: stop
        - transaction:
            name: step
            action: start
        - transaction:
            name: step
            action: stop
            status: failed
`, "%BASE%", srv.URL))

	e, err := NewEngine(cfg)
	require.NoError(t, err)

	result, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(0), result.Metrics.Iterations.Failed)
	assert.Equal(t, int64(4), result.Metrics.Transactions["page"].Passed)
	assert.Equal(t, int64(2), result.Metrics.Transactions["step"].Passed)
	assert.Equal(t, int64(2), result.Metrics.Transactions["step"].Failed)
}

func TestEngine_ExitIf(t *testing.T) {
	srv, _ := shopServer(t)
	cfg := parseConfig(t, strings.ReplaceAll(`
name: exit
execution:
  executor: per-vu-iterations
  vus: 1
  iterations: 5
script:
  actions:
    - name: first
      steps:
        - request:
            url: "%BASE%/login"
            extractors:
              - name: token
                regexp:
                  expression: 'value="([^"]+)"'
              - name: missing
                boundary:
                  left: "nope="
                  right: ";"
        - exit:
            type: iteration
            if: missing
        - exit:
            type: stop
            if: token
            message: "got {{token}}"
    - name: second
      steps:
        - transaction:
            name: never
            action: start
`, "%BASE%", srv.URL))

	e, err := NewEngine(cfg)
	require.NoError(t, err)

	result, err := e.Run(context.Background())
	require.NoError(t, err)

	// the stop exit ends the only user after its first iteration
	assert.Equal(t, int64(1), result.Metrics.Iterations.Total)
	_, ran := result.Metrics.Transactions["never"]
	assert.False(t, ran)
}

func TestEngine_VTSSteps(t *testing.T) {
	srv := vtstest.NewServer("", "")
	t.Cleanup(srv.Close)
	host, port := srv.HostPort()

	client, err := vts.NewClient(vts.Options{Server: host, Port: port})
	require.NoError(t, err)
	_, err = client.CreateColumn(context.Background(), "accounts")
	require.NoError(t, err)

	cfg := &config.TestConfig{
		Name:      "vts",
		Execution: config.ExecutionConfig{Executor: "per-vu-iterations", VUs: 1, Iterations: 1},
		VTS:       &config.VTSConfig{Server: host, Port: port},
		Script: config.ScriptConfig{Actions: []config.ActionConfig{{
			Name: "accounts",
			Steps: []config.StepConfig{
				{VTS: &config.VTSStepConfig{Column: "accounts", Op: "add", Value: "a1"}},
				{VTS: &config.VTSStepConfig{Column: "accounts", Op: "add", Value: "a2"}},
				{VTS: &config.VTSStepConfig{Column: "accounts", Op: "pop", SaveAs: "account"}},
				{VTS: &config.VTSStepConfig{Column: "accounts", Op: "size", SaveAs: "left"}},
				{DataPoint: &config.DataPointConfig{Name: "left", Value: "{{left}}"}},
				{Exit: &config.ExitConfig{Type: "abort", If: "nothing"}},
			},
		}}},
	}

	e, err := NewEngine(cfg)
	require.NoError(t, err)
	result, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(0), result.Metrics.Iterations.Failed)
	assert.Equal(t, 1.0, result.Metrics.DataPoints["left"].Last)
	assert.Len(t, srv.Fields("accounts"), 1)
}

func TestEngine_GoScript(t *testing.T) {
	script := vu.NewScript()
	var mu sync.Mutex
	users := map[int]bool{}
	require.NoError(t, script.Action("main", func(c *vu.Context) error {
		mu.Lock()
		users[c.UserID()] = true
		mu.Unlock()
		return c.ReportDataPoint("one", 1)
	}))

	cfg := &config.TestConfig{
		Name:      "go",
		Execution: config.ExecutionConfig{Executor: "shared-iterations", VUs: 3, Iterations: 9},
	}
	e, err := NewEngine(cfg, WithScript(script))
	require.NoError(t, err)

	result, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(9), result.Metrics.DataPoints["one"].Count)
	assert.NotEmpty(t, users)
}

func TestNewEngine_InvalidConfig(t *testing.T) {
	_, err := NewEngine(&config.TestConfig{Name: "empty", Execution: config.ExecutionConfig{VUs: 1, Duration: config.Duration(time.Second)}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, loaderr.ErrConfiguration))
}

func TestCompileScript_BadExtractor(t *testing.T) {
	group := 5
	cfg := &config.TestConfig{
		Script: config.ScriptConfig{Actions: []config.ActionConfig{{
			Name: "a",
			Steps: []config.StepConfig{{Request: &config.RequestConfig{
				URL: "http://localhost",
				Extractors: []config.ExtractorConfig{{
					Name:   "x",
					Regexp: &config.RegexpExtractorConfig{Expression: "(a)", Group: &group},
				}},
			}}},
		}}},
	}
	_, err := CompileScript(cfg)
	assert.ErrorIs(t, err, loaderr.ErrConfiguration)
}

func TestEngine_StopEndsRun(t *testing.T) {
	script := vu.NewScript()
	require.NoError(t, script.Action("idle", func(c *vu.Context) error { return c.Sleep(10 * time.Millisecond) }))

	cfg := &config.TestConfig{
		Name:      "stop",
		Execution: config.ExecutionConfig{Executor: "constant-vus", VUs: 2, Duration: config.Duration(time.Hour)},
	}
	e, err := NewEngine(cfg, WithScript(script))
	require.NoError(t, err)

	go func() {
		for !e.IsRunning() || e.GetStats() == nil {
			time.Sleep(5 * time.Millisecond)
		}
		time.Sleep(30 * time.Millisecond)
		e.Stop()
	}()

	done := make(chan struct{})
	var result *TestResult
	go func() {
		result, _ = e.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop() did not end the run")
	}
	require.NotNil(t, result)
	assert.False(t, result.Stats.Aborted)
}

func TestEvaluateThresholds(t *testing.T) {
	snapshot := &metrics.Snapshot{
		Transactions: map[string]metrics.TransactionStats{
			"login": {
				Name: "login", Passed: 9, Failed: 1, FailRate: 0.1,
				Duration: metrics.LatencyStats{P95: 400 * time.Millisecond, Max: 900 * time.Millisecond},
			},
		},
		Iterations: metrics.IterationStats{Total: 10, Failed: 1, FailRate: 0.1, Rate: 2.5},
	}
	cfg := &config.ThresholdsConfig{
		Iterations: []string{"failRate <= 0.1", "rate > 3", "count = 10"},
		Transactions: map[string][]string{
			"login":  {"p95 < 500ms", "max < 500", "failRate < 0.2", "count >= 10", "p42 < 1s", "garbage"},
			"absent": {"p95 < 1s"},
		},
	}

	results := EvaluateThresholds(cfg, snapshot)
	require.Len(t, results, 10)

	passed := make([]bool, len(results))
	for i, r := range results {
		passed[i] = r.Passed
	}
	assert.Equal(t, []bool{true, false, true, false, true, false, true, true, false, false}, passed)
	assert.Contains(t, results[3].Message, "no data")
	assert.Contains(t, results[8].Message, "unknown metric")
	assert.Contains(t, results[9].Message, "parse")
	assert.False(t, AllPassed(results))
	assert.Nil(t, EvaluateThresholds(nil, snapshot))
}

func TestParseThresholdExpression(t *testing.T) {
	tests := []struct {
		expr           string
		metric, op, vl string
		wantErr        bool
	}{
		{"p95 < 500ms", "p95", "<", "500ms", false},
		{"failRate<=0.05", "failRate", "<=", "0.05", false},
		{"count != 3", "count", "!=", "3", false},
		{"< 3", "", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			metric, op, vl, err := parseThresholdExpression(tt.expr)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []string{tt.metric, tt.op, tt.vl}, []string{metric, op, vl})
		})
	}
}
