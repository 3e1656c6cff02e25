// Package config provides configuration parsing and validation for vurun tests.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TestConfig is the root configuration for a load test.
//
// Example YAML:
//
//	name: "Checkout"
//	settings:
//	  baseUrl: "https://shop.example.com"
//	  timeout: 30s
//	params:
//	  user: alice
//	execution:
//	  executor: constant-vus
//	  vus: 10
//	  duration: 1m
//	script:
//	  actions:
//	    - name: browse
//	      steps:
//	        - request:
//	            url: "{{baseUrl}}/products"
//	            transaction: products
type TestConfig struct {
	// Name of the test (for reporting)
	Name string `json:"name" yaml:"name"`

	// Description of the test (optional)
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Settings contains HTTP settings shared by every virtual user
	Settings GlobalSettings `json:"settings,omitempty" yaml:"settings,omitempty"`

	// Params are script parameters exposed to every virtual user
	Params map[string]string `json:"params,omitempty" yaml:"params,omitempty"`

	// Execution selects the load strategy
	Execution ExecutionConfig `json:"execution" yaml:"execution"`

	// VTS configures the shared data server connection (optional)
	VTS *VTSConfig `json:"vts,omitempty" yaml:"vts,omitempty"`

	// Script describes the initialize, action and finalize phases
	Script ScriptConfig `json:"script" yaml:"script"`

	// Thresholds define pass/fail criteria for the run
	Thresholds *ThresholdsConfig `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`

	// Logger configures structured logging
	Logger LoggerConfig `json:"logger,omitempty" yaml:"logger,omitempty"`
}

// GlobalSettings contains global HTTP settings.
type GlobalSettings struct {
	// BaseURL is available to scripts as {{baseUrl}}
	BaseURL string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`

	// Timeout is the default HTTP request timeout
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// MaxIdleConnsPerHost limits idle connections per host
	MaxIdleConnsPerHost int `json:"maxIdleConnsPerHost,omitempty" yaml:"maxIdleConnsPerHost,omitempty"`

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`

	// UserAgent is the default User-Agent header
	UserAgent string `json:"userAgent,omitempty" yaml:"userAgent,omitempty"`

	// Headers are default headers applied to all requests
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// ExecutionConfig defines how virtual users are scheduled.
type ExecutionConfig struct {
	// Executor is "constant-vus", "per-vu-iterations", "shared-iterations"
	// or "ramping-vus"
	Executor string `json:"executor" yaml:"executor"`

	// VUs is the number of concurrent virtual users
	VUs int `json:"vus,omitempty" yaml:"vus,omitempty"`

	// Duration is how long constant-vus runs, and the cap for iteration executors
	Duration Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Iterations is per VU or shared, depending on the executor
	Iterations int64 `json:"iterations,omitempty" yaml:"iterations,omitempty"`

	// Stages defines ramping stages (for ramping-vus)
	Stages []StageConfig `json:"stages,omitempty" yaml:"stages,omitempty"`

	// GracefulStop is how long running iterations may finish before abort
	GracefulStop Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// MaxIterationRate caps iteration starts per second across all VUs (0 = unlimited)
	MaxIterationRate float64 `json:"maxIterationRate,omitempty" yaml:"maxIterationRate,omitempty"`

	// Pacing controls time between iterations
	Pacing *PacingConfig `json:"pacing,omitempty" yaml:"pacing,omitempty"`
}

// StageConfig defines a single stage in a ramping executor.
type StageConfig struct {
	// Duration of this stage (e.g., "30s", "2m")
	Duration Duration `json:"duration" yaml:"duration"`

	// Target VU count at the end of the stage
	Target int `json:"target" yaml:"target"`

	// Name is an optional name for this stage (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// PacingConfig controls pacing between iterations.
type PacingConfig struct {
	// Type is the pacing strategy: "none", "constant", "random"
	Type string `json:"type" yaml:"type"`

	// Duration is the wait time for constant pacing
	Duration Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Min is the minimum wait time for random pacing
	Min Duration `json:"min,omitempty" yaml:"min,omitempty"`

	// Max is the maximum wait time for random pacing
	Max Duration `json:"max,omitempty" yaml:"max,omitempty"`
}

// VTSConfig configures the VTS client available to steps
type VTSConfig struct {
	Server   string   `json:"server" yaml:"server"`
	Port     int      `json:"port" yaml:"port"`
	UserName string   `json:"userName,omitempty" yaml:"userName,omitempty"`
	Password string   `json:"password,omitempty" yaml:"password,omitempty"`
	Timeout  Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// ScriptConfig lists the steps of each phase
type ScriptConfig struct {
	Initialize []StepConfig   `json:"initialize,omitempty" yaml:"initialize,omitempty"`
	Actions    []ActionConfig `json:"actions" yaml:"actions"`
	Finalize   []StepConfig   `json:"finalize,omitempty" yaml:"finalize,omitempty"`
}

// ActionConfig is a named, ordered list of steps
type ActionConfig struct {
	Name  string       `json:"name" yaml:"name"`
	Steps []StepConfig `json:"steps" yaml:"steps"`
}

// StepConfig is one script statement. Exactly one field is set.
type StepConfig struct {
	Request     *RequestConfig     `json:"request,omitempty" yaml:"request,omitempty"`
	Sleep       Duration           `json:"sleep,omitempty" yaml:"sleep,omitempty"`
	Log         *LogConfig         `json:"log,omitempty" yaml:"log,omitempty"`
	DataPoint   *DataPointConfig   `json:"dataPoint,omitempty" yaml:"dataPoint,omitempty"`
	Transaction *TransactionConfig `json:"transaction,omitempty" yaml:"transaction,omitempty"`
	VTS         *VTSStepConfig     `json:"vts,omitempty" yaml:"vts,omitempty"`
	Exit        *ExitConfig        `json:"exit,omitempty" yaml:"exit,omitempty"`
}

// Kind names the populated field
func (s *StepConfig) Kind() string {
	var kinds []string
	if s.Request != nil {
		kinds = append(kinds, "request")
	}
	if s.Sleep != 0 {
		kinds = append(kinds, "sleep")
	}
	if s.Log != nil {
		kinds = append(kinds, "log")
	}
	if s.DataPoint != nil {
		kinds = append(kinds, "dataPoint")
	}
	if s.Transaction != nil {
		kinds = append(kinds, "transaction")
	}
	if s.VTS != nil {
		kinds = append(kinds, "vts")
	}
	if s.Exit != nil {
		kinds = append(kinds, "exit")
	}
	return strings.Join(kinds, ",")
}

// RequestConfig defines a single HTTP request.
type RequestConfig struct {
	// Method is the HTTP method, GET when empty
	Method string `json:"method,omitempty" yaml:"method,omitempty"`

	// URL is the request URL (supports variable substitution)
	URL string `json:"url" yaml:"url"`

	// Headers are request-specific headers
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Query parameters appended to the URL
	Query map[string]string `json:"query,omitempty" yaml:"query,omitempty"`

	// Body is the request body (supports variable substitution)
	Body string `json:"body,omitempty" yaml:"body,omitempty"`

	// Timeout is request-specific timeout (overrides global)
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Transaction wraps the request in a transaction of this name
	Transaction string `json:"transaction,omitempty" yaml:"transaction,omitempty"`

	// TextCheck fails the request if the body does not contain this text
	TextCheck string `json:"textCheck,omitempty" yaml:"textCheck,omitempty"`

	// Schema fails the request if the body does not match this JSON Schema
	Schema string `json:"schema,omitempty" yaml:"schema,omitempty"`

	// HandleHTTPError treats 4xx/5xx responses as non-fatal
	HandleHTTPError bool `json:"handleHttpError,omitempty" yaml:"handleHttpError,omitempty"`

	// Resources are fetched after the main request
	Resources []string `json:"resources,omitempty" yaml:"resources,omitempty"`

	// Extractors capture values into variables
	Extractors []ExtractorConfig `json:"extractors,omitempty" yaml:"extractors,omitempty"`
}

// ExtractorConfig defines one extractor. Exactly one kind is set.
type ExtractorConfig struct {
	Name     string                   `json:"name" yaml:"name"`
	Boundary *BoundaryExtractorConfig `json:"boundary,omitempty" yaml:"boundary,omitempty"`
	Regexp   *RegexpExtractorConfig   `json:"regexp,omitempty" yaml:"regexp,omitempty"`
	JSONPath *JSONPathExtractorConfig `json:"jsonPath,omitempty" yaml:"jsonPath,omitempty"`
}

// BoundaryExtractorConfig mirrors extract.BoundaryOptions
type BoundaryExtractorConfig struct {
	Left                string     `json:"left,omitempty" yaml:"left,omitempty"`
	Right               string     `json:"right,omitempty" yaml:"right,omitempty"`
	Occurrence          Occurrence `json:"occurrence,omitempty" yaml:"occurrence,omitempty"`
	IncludeRedirections bool       `json:"includeRedirections,omitempty" yaml:"includeRedirections,omitempty"`
}

// RegexpExtractorConfig mirrors extract.RegexpOptions
type RegexpExtractorConfig struct {
	Expression          string     `json:"expression" yaml:"expression"`
	Flags               string     `json:"flags,omitempty" yaml:"flags,omitempty"`
	Group               *int       `json:"group,omitempty" yaml:"group,omitempty"`
	Occurrence          Occurrence `json:"occurrence,omitempty" yaml:"occurrence,omitempty"`
	IncludeRedirections bool       `json:"includeRedirections,omitempty" yaml:"includeRedirections,omitempty"`
}

// JSONPathExtractorConfig mirrors extract.JSONPathOptions
type JSONPathExtractorConfig struct {
	Path  string `json:"path" yaml:"path"`
	Multi bool   `json:"multi,omitempty" yaml:"multi,omitempty"`
}

// LogConfig writes a log line at the given level
type LogConfig struct {
	Message string `json:"message" yaml:"message"`
	Level   string `json:"level,omitempty" yaml:"level,omitempty"`
}

// DataPointConfig reports a custom numeric value. Value may be a placeholder.
type DataPointConfig struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// TransactionConfig starts or stops a named transaction
type TransactionConfig struct {
	Name   string `json:"name" yaml:"name"`
	Action string `json:"action" yaml:"action"`
	Status string `json:"status,omitempty" yaml:"status,omitempty"`
}

// VTSStepConfig runs one column operation
type VTSStepConfig struct {
	Column string `json:"column" yaml:"column"`
	// Op is "add", "pop", "rotate", "size" or "increment"
	Op        string `json:"op" yaml:"op"`
	Value     string `json:"value,omitempty" yaml:"value,omitempty"`
	Unique    bool   `json:"unique,omitempty" yaml:"unique,omitempty"`
	Placement string `json:"placement,omitempty" yaml:"placement,omitempty"`
	Row       int    `json:"row,omitempty" yaml:"row,omitempty"`
	// SaveAs stores the returned field in a variable
	SaveAs string `json:"saveAs,omitempty" yaml:"saveAs,omitempty"`
}

// ExitConfig ends the iteration or the virtual user, or aborts it.
// If names a variable; when set, the exit only happens if that variable is non-empty.
type ExitConfig struct {
	Type    string `json:"type" yaml:"type"`
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
	If      string `json:"if,omitempty" yaml:"if,omitempty"`
}

// ThresholdsConfig defines pass/fail criteria for the test.
type ThresholdsConfig struct {
	// Iterations thresholds, e.g. ["failRate < 0.1", "count > 100"]
	Iterations []string `json:"iterations,omitempty" yaml:"iterations,omitempty"`

	// Transactions thresholds by transaction name, e.g. {"login": ["p95 < 500ms"]}
	Transactions map[string][]string `json:"transactions,omitempty" yaml:"transactions,omitempty"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" json:"level,omitempty" yaml:"level,omitempty"`
	Format      string `mapstructure:"format" json:"format,omitempty" yaml:"format,omitempty"`
	AddSource   bool   `mapstructure:"add_source" json:"addSource,omitempty" yaml:"addSource,omitempty"`
	ServiceName string `mapstructure:"service_name" json:"serviceName,omitempty" yaml:"serviceName,omitempty"`
	LogFile     string `mapstructure:"log_file" json:"logFile,omitempty" yaml:"logFile,omitempty"`
	MaxSize     int    `mapstructure:"max_size" json:"maxSize,omitempty" yaml:"maxSize,omitempty"`
	MaxBackups  int    `mapstructure:"max_backups" json:"maxBackups,omitempty" yaml:"maxBackups,omitempty"`
	MaxAge      int    `mapstructure:"max_age" json:"maxAge,omitempty" yaml:"maxAge,omitempty"`
	Compress    bool   `mapstructure:"compress" json:"compress,omitempty" yaml:"compress,omitempty"`
}

// Occurrence is "all" or a match number; JSON accepts either a string or a number.
type Occurrence string

// UnmarshalJSON implements json.Unmarshaler.
func (o *Occurrence) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" {
		s = ""
	}
	*o = Occurrence(s)
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (o *Occurrence) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var v interface{}
	if err := unmarshal(&v); err != nil {
		return err
	}
	if v == nil {
		*o = ""
		return nil
	}
	*o = Occurrence(fmt.Sprint(v))
	return nil
}

// Duration is a time.Duration that can be unmarshaled from JSON/YAML strings.
type Duration time.Duration

// GetDuration returns the duration or a default if empty.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}

	if s == "" || s == "null" {
		*d = 0
		return nil
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}

	if s == "" {
		*d = 0
		return nil
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// ParseDurationString parses "30s", "2m" or a bare number of milliseconds.
func ParseDurationString(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}
