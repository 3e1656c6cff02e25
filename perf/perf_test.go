package perf_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/vurun/perf"
)

func productsServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("apple,pear,plum"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRunner_GoScript(t *testing.T) {
	srv := productsServer(t)

	script := perf.NewScript()
	require.NoError(t, script.Action("browse", func(c *perf.Context) error {
		req, err := c.NewRequest(perf.RequestOptions{Method: "GET", URL: "/products"})
		if err != nil {
			return err
		}
		tx := c.Transaction("products")
		tx.Start()
		resp, err := c.SendSync(req)
		if err != nil {
			tx.Stop(perf.Failed)
			return err
		}
		tx.Stop(perf.Passed)
		return c.ReportDataPoint("size", len(resp.Body))
	}))

	cfg := &perf.TestConfig{
		Name:      "browse",
		Settings:  perf.GlobalSettings{BaseURL: srv.URL},
		Execution: perf.ExecutionConfig{Executor: "per-vu-iterations", VUs: 2, Iterations: 2},
		Thresholds: &perf.ThresholdsConfig{
			Transactions: map[string][]string{"products": {"count == 4"}},
		},
	}

	runner := perf.NewRunner(cfg, perf.WithScript(script))
	assert.Nil(t, runner.GetMetrics())

	result, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Passed)
	assert.Equal(t, int64(4), result.Metrics.Transactions["products"].Passed)
	assert.Equal(t, 15.0, result.Metrics.DataPoints["size"].Last)
	assert.NotNil(t, runner.GetMetrics())
}

func TestRunTest_ConfigSteps(t *testing.T) {
	srv := productsServer(t)

	cfg := &perf.TestConfig{
		Name:      "steps",
		Execution: perf.ExecutionConfig{Executor: "shared-iterations", VUs: 2, Iterations: 3},
		Script: perf.ScriptConfig{Actions: []perf.ActionConfig{{
			Name: "get",
			Steps: []perf.StepConfig{{Request: &perf.RequestConfig{
				URL:         srv.URL + "/products",
				Transaction: "products",
				TextCheck:   "pear",
			}}},
		}}},
	}

	result, err := perf.RunTest(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.Metrics.Transactions["products"].Passed)
}

func TestRunner_InvalidConfig(t *testing.T) {
	_, err := perf.NewRunner(&perf.TestConfig{Name: "empty"}).Run(context.Background())
	assert.Error(t, err)
}
