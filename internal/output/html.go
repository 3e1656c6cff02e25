package output

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/wesleyorama2/vurun/internal/engine"
	"github.com/wesleyorama2/vurun/internal/metrics"
)

// htmlReport is a self-contained page: no scripts, no external assets
const htmlReport = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>{{.Name}} - Load Test Report</title>
<style>
  :root { --ok: #22c55e; --bad: #ef4444; --muted: #64748b; --border: #e2e8f0; }
  body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Arial, sans-serif; margin: 0; background: #f8fafc; color: #1e293b; }
  .container { max-width: 1100px; margin: 0 auto; padding: 2rem; }
  header { display: flex; justify-content: space-between; align-items: center; }
  .meta { color: var(--muted); }
  .status { font-weight: 700; padding: .5rem 1rem; border-radius: .5rem; color: #fff; }
  .status.pass { background: var(--ok); } .status.fail { background: var(--bad); }
  .cards { display: grid; grid-template-columns: repeat(auto-fit, minmax(160px, 1fr)); gap: 1rem; margin: 1.5rem 0; }
  .card { background: #fff; border: 1px solid var(--border); border-radius: .5rem; padding: 1rem; }
  .card .label { color: var(--muted); font-size: .85rem; } .card .value { font-size: 1.5rem; font-weight: 600; }
  table { width: 100%; border-collapse: collapse; background: #fff; margin-bottom: 1.5rem; }
  th, td { text-align: right; padding: .5rem .75rem; border-bottom: 1px solid var(--border); }
  th:first-child, td:first-child { text-align: left; }
  td.pass { color: var(--ok); } td.fail { color: var(--bad); }
</style>
</head>
<body>
<div class="container">
  <header>
    <div>
      <h1>{{.Name}}</h1>
      {{if .Description}}<p>{{.Description}}</p>{{end}}
      <p class="meta">{{.StartTime.Format "2006-01-02 15:04:05"}} · {{formatDuration .Duration}} · {{.Executor}} · run {{.RunID}}</p>
    </div>
    <div class="status {{if .Passed}}pass{{else}}fail{{end}}">{{if .Passed}}✓ PASSED{{else}}✗ FAILED{{end}}</div>
  </header>

  {{if .ErrorMessage}}<p class="fail">Error: {{.ErrorMessage}}</p>{{end}}

  {{with .Metrics}}
  <div class="cards">
    <div class="card"><div class="label">Iterations</div><div class="value">{{formatNumber .Iterations.Total}}</div></div>
    <div class="card"><div class="label">Iteration rate</div><div class="value">{{printf "%.1f" .Iterations.Rate}}/s</div></div>
    <div class="card"><div class="label">Failed</div><div class="value">{{printf "%.2f" (percent .Iterations.FailRate)}}%</div></div>
    <div class="card"><div class="label">Iteration P95</div><div class="value">{{formatLatency .Iterations.Duration.P95}}</div></div>
  </div>

  {{if .Transactions}}
  <h2>Transactions</h2>
  <table>
    <tr><th>Name</th><th>Passed</th><th>Failed</th><th>Min</th><th>Avg</th><th>P50</th><th>P95</th><th>P99</th><th>Max</th></tr>
    {{range $name := .TransactionNames}}{{with index $.Metrics.Transactions $name}}
    <tr>
      <td>{{$name}}</td><td>{{formatNumber .Passed}}</td><td class="{{if .Failed}}fail{{end}}">{{formatNumber .Failed}}</td>
      <td>{{formatLatency .Duration.Min}}</td><td>{{formatLatency .Duration.Mean}}</td><td>{{formatLatency .Duration.P50}}</td>
      <td>{{formatLatency .Duration.P95}}</td><td>{{formatLatency .Duration.P99}}</td><td>{{formatLatency .Duration.Max}}</td>
    </tr>
    {{end}}{{end}}
  </table>
  {{end}}

  {{if .DataPoints}}
  <h2>Data Points</h2>
  <table>
    <tr><th>Name</th><th>Count</th><th>Avg</th><th>Min</th><th>Max</th><th>Last</th></tr>
    {{range $name, $dp := .DataPoints}}
    <tr><td>{{$name}}</td><td>{{$dp.Count}}</td><td>{{printf "%.2f" $dp.Mean}}</td><td>{{printf "%.2f" $dp.Min}}</td><td>{{printf "%.2f" $dp.Max}}</td><td>{{printf "%.2f" $dp.Last}}</td></tr>
    {{end}}
  </table>
  {{end}}
  {{end}}

  {{if .Thresholds}}
  <h2>Thresholds</h2>
  <table>
    <tr><th>Metric</th><th>Expression</th><th>Actual</th><th>Result</th></tr>
    {{range .Thresholds}}
    <tr><td>{{.Metric}}</td><td>{{.Expression}}</td><td>{{if .Value}}{{.Value}}{{else}}{{.Message}}{{end}}</td>
      <td class="{{if .Passed}}pass{{else}}fail{{end}}">{{if .Passed}}✓{{else}}✗{{end}}</td></tr>
    {{end}}
  </table>
  {{end}}
</div>
</body>
</html>
`

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"formatDuration": formatDuration,
	"formatLatency":  formatDurationShort,
	"formatNumber":   formatNumber,
	"percent":        func(f float64) float64 { return f * 100 },
}).Parse(htmlReport))

// WriteHTML renders result as a standalone HTML page.
func WriteHTML(w io.Writer, result *engine.TestResult) error {
	if result == nil {
		return fmt.Errorf("result cannot be nil")
	}
	data := *result
	if data.Metrics == nil {
		data.Metrics = &metrics.Snapshot{}
	}
	if data.StartTime.IsZero() {
		data.StartTime = time.Now()
	}
	if err := reportTemplate.Execute(w, &data); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}
	return nil
}
