package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/wesleyorama2/vurun/internal/extract"
	"github.com/wesleyorama2/vurun/internal/loaderr"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Unwrap lets errors.Is match loaderr.ErrConfiguration.
func (e *ValidationErrors) Unwrap() error {
	return loaderr.ErrConfiguration
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

var validExecutors = map[string]bool{
	"constant-vus":      true,
	"per-vu-iterations": true,
	"shared-iterations": true,
	"ramping-vus":       true,
}

var validMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

var validLogLevels = map[string]bool{
	"": true, "error": true, "warning": true, "info": true, "debug": true, "trace": true,
}

// Validate validates the entire test configuration.
//
// Returns nil if valid, or a ValidationErrors containing all validation errors.
func (c *TestConfig) Validate() error {
	return c.validate(true)
}

// ValidateRunSettings validates everything except the script section, for
// runs whose script is registered in Go code.
func (c *TestConfig) ValidateRunSettings() error {
	return c.validate(false)
}

func (c *TestConfig) validate(withScript bool) error {
	errs := &ValidationErrors{}

	validateExecution(&c.Execution, errs)
	validateSettings(&c.Settings, errs)

	if c.VTS != nil {
		validateVTS(c.VTS, errs)
	}

	if withScript {
		validateScript(&c.Script, c.VTS != nil, errs)
	}

	if c.Thresholds != nil {
		validateThresholds(c.Thresholds, errs)
	}

	validateLogger(&c.Logger, errs)

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateExecution(ex *ExecutionConfig, errs *ValidationErrors) {
	const prefix = "execution"

	if ex.Executor == "" {
		errs.Add(prefix+".executor", "executor type is required")
	} else if !validExecutors[ex.Executor] {
		errs.Add(prefix+".executor", fmt.Sprintf("unknown executor type: %s", ex.Executor))
	}

	if ex.VUs <= 0 && ex.Executor != "ramping-vus" {
		errs.Add(prefix+".vus", "vus must be greater than 0")
	}
	if ex.Duration < 0 {
		errs.Add(prefix+".duration", "duration cannot be negative")
	}
	if ex.GracefulStop < 0 {
		errs.Add(prefix+".gracefulStop", "gracefulStop cannot be negative")
	}
	if ex.MaxIterationRate < 0 {
		errs.Add(prefix+".maxIterationRate", "maxIterationRate cannot be negative")
	}

	switch ex.Executor {
	case "constant-vus":
		if ex.Duration == 0 {
			errs.Add(prefix+".duration", "duration is required for constant-vus executor")
		}
	case "per-vu-iterations", "shared-iterations":
		if ex.Iterations <= 0 {
			errs.Add(prefix+".iterations", fmt.Sprintf("iterations must be greater than 0 for %s executor", ex.Executor))
		}
	case "ramping-vus":
		if len(ex.Stages) == 0 {
			errs.Add(prefix+".stages", "at least one stage is required for ramping-vus executor")
		}
	}

	for i := range ex.Stages {
		validateStage(fmt.Sprintf("%s.stages[%d]", prefix, i), &ex.Stages[i], errs)
	}

	if ex.Pacing != nil {
		validatePacing(prefix+".pacing", ex.Pacing, errs)
	}
}

func validateStage(prefix string, stage *StageConfig, errs *ValidationErrors) {
	if stage.Duration <= 0 {
		errs.Add(prefix+".duration", "duration must be greater than 0")
	}
	if stage.Target < 0 {
		errs.Add(prefix+".target", "target cannot be negative")
	}
}

func validatePacing(prefix string, p *PacingConfig, errs *ValidationErrors) {
	switch p.Type {
	case "", "none":
	case "constant":
		if p.Duration <= 0 {
			errs.Add(prefix+".duration", "duration is required for constant pacing")
		}
	case "random":
		if p.Min < 0 || p.Max <= 0 {
			errs.Add(prefix, "min and max are required for random pacing")
		} else if p.Min > p.Max {
			errs.Add(prefix, "min cannot be greater than max")
		}
	default:
		errs.Add(prefix+".type", fmt.Sprintf("unknown pacing type: %s", p.Type))
	}
}

func validateSettings(s *GlobalSettings, errs *ValidationErrors) {
	if s.BaseURL != "" {
		if _, err := url.ParseRequestURI(s.BaseURL); err != nil {
			errs.Add("settings.baseUrl", fmt.Sprintf("invalid URL: %s", s.BaseURL))
		}
	}
	if s.Timeout < 0 {
		errs.Add("settings.timeout", "timeout cannot be negative")
	}
	if s.MaxIdleConnsPerHost < 0 {
		errs.Add("settings.maxIdleConnsPerHost", "maxIdleConnsPerHost cannot be negative")
	}
}

func validateVTS(v *VTSConfig, errs *ValidationErrors) {
	if v.Server == "" {
		errs.Add("vts.server", "server is required")
	}
	if v.Port <= 0 || v.Port > 65535 {
		errs.Add("vts.port", fmt.Sprintf("invalid port: %d", v.Port))
	}
}

func validateScript(s *ScriptConfig, hasVTS bool, errs *ValidationErrors) {
	if len(s.Actions) == 0 {
		errs.Add("script.actions", "at least one action is required")
	}

	for i := range s.Initialize {
		validateStep(fmt.Sprintf("script.initialize[%d]", i), &s.Initialize[i], hasVTS, errs)
	}

	seen := make(map[string]bool)
	for i, action := range s.Actions {
		prefix := fmt.Sprintf("script.actions[%d]", i)
		if action.Name == "" {
			errs.Add(prefix+".name", "action name is required")
		} else if seen[action.Name] {
			errs.Add(prefix+".name", fmt.Sprintf("duplicate action name: %s", action.Name))
		}
		seen[action.Name] = true

		if len(action.Steps) == 0 {
			errs.Add(prefix+".steps", "at least one step is required")
		}
		for j := range action.Steps {
			validateStep(fmt.Sprintf("%s.steps[%d]", prefix, j), &action.Steps[j], hasVTS, errs)
		}
	}

	for i := range s.Finalize {
		validateStep(fmt.Sprintf("script.finalize[%d]", i), &s.Finalize[i], hasVTS, errs)
	}
}

func validateStep(prefix string, st *StepConfig, hasVTS bool, errs *ValidationErrors) {
	kind := st.Kind()
	switch {
	case kind == "":
		errs.Add(prefix, "step must define one of request, sleep, log, dataPoint, transaction, vts or exit")
		return
	case strings.Contains(kind, ","):
		errs.Add(prefix, fmt.Sprintf("step defines more than one action: %s", kind))
		return
	}

	switch {
	case st.Request != nil:
		validateRequest(prefix+".request", st.Request, errs)
	case st.Sleep < 0:
		errs.Add(prefix+".sleep", "sleep cannot be negative")
	case st.Log != nil:
		if !validLogLevels[strings.ToLower(st.Log.Level)] {
			errs.Add(prefix+".log.level", fmt.Sprintf("unknown log level: %s", st.Log.Level))
		}
	case st.DataPoint != nil:
		if st.DataPoint.Name == "" {
			errs.Add(prefix+".dataPoint.name", "name is required")
		}
		if st.DataPoint.Value == "" {
			errs.Add(prefix+".dataPoint.value", "value is required")
		}
	case st.Transaction != nil:
		validateTransactionStep(prefix+".transaction", st.Transaction, errs)
	case st.VTS != nil:
		if !hasVTS {
			errs.Add(prefix+".vts", "vts step requires a vts section")
		}
		validateVTSStep(prefix+".vts", st.VTS, errs)
	case st.Exit != nil:
		switch strings.ToLower(st.Exit.Type) {
		case "iteration", "stop", "abort":
		default:
			errs.Add(prefix+".exit.type", fmt.Sprintf("unknown exit type: %s", st.Exit.Type))
		}
	}
}

func validateRequest(prefix string, req *RequestConfig, errs *ValidationErrors) {
	if req.URL == "" {
		errs.Add(prefix+".url", "URL is required")
	}
	if req.Method != "" && !validMethods[strings.ToUpper(req.Method)] {
		errs.Add(prefix+".method", fmt.Sprintf("invalid HTTP method: %s", req.Method))
	}
	if req.Timeout < 0 {
		errs.Add(prefix+".timeout", "timeout cannot be negative")
	}

	names := make(map[string]bool)
	for i := range req.Extractors {
		ep := fmt.Sprintf("%s.extractors[%d]", prefix, i)
		ex := &req.Extractors[i]
		if names[ex.Name] {
			errs.Add(ep+".name", fmt.Sprintf("duplicate extractor name: %s", ex.Name))
		}
		names[ex.Name] = true
		if _, err := ex.Spec(); err != nil {
			errs.Add(ep, err.Error())
		}
	}
}

func validateTransactionStep(prefix string, tc *TransactionConfig, errs *ValidationErrors) {
	if tc.Name == "" {
		errs.Add(prefix+".name", "name is required")
	}
	switch tc.Action {
	case "start", "stop":
	default:
		errs.Add(prefix+".action", fmt.Sprintf("action must be start or stop, got %q", tc.Action))
	}
	switch strings.ToLower(tc.Status) {
	case "", "passed", "failed":
	default:
		errs.Add(prefix+".status", fmt.Sprintf("status must be passed or failed, got %q", tc.Status))
	}
}

func validateVTSStep(prefix string, v *VTSStepConfig, errs *ValidationErrors) {
	if v.Column == "" {
		errs.Add(prefix+".column", "column is required")
	}
	switch v.Op {
	case "add":
		if v.Value == "" {
			errs.Add(prefix+".value", "value is required for add")
		}
	case "pop", "size", "clear":
	case "rotate":
		switch strings.ToLower(v.Placement) {
		case "", "stacked", "unique":
		default:
			errs.Add(prefix+".placement", fmt.Sprintf("rotate placement must be stacked or unique, got %q", v.Placement))
		}
	case "increment":
		if v.Row < 1 {
			errs.Add(prefix+".row", "row must be 1 or greater")
		}
		if v.Value != "" {
			if _, err := strconv.ParseInt(v.Value, 10, 64); err != nil {
				errs.Add(prefix+".value", fmt.Sprintf("increment amount must be an integer, got %q", v.Value))
			}
		}
	default:
		errs.Add(prefix+".op", fmt.Sprintf("unknown vts operation: %s", v.Op))
	}
}

func validateThresholds(t *ThresholdsConfig, errs *ValidationErrors) {
	for i, expr := range t.Iterations {
		if strings.TrimSpace(expr) == "" {
			errs.Add(fmt.Sprintf("thresholds.iterations[%d]", i), "threshold expression cannot be empty")
		}
	}
	for name, exprs := range t.Transactions {
		for i, expr := range exprs {
			if strings.TrimSpace(expr) == "" {
				errs.Add(fmt.Sprintf("thresholds.transactions.%s[%d]", name, i), "threshold expression cannot be empty")
			}
		}
	}
}

func validateLogger(l *LoggerConfig, errs *ValidationErrors) {
	if !validLogLevels[strings.ToLower(l.Level)] {
		errs.Add("logger.level", fmt.Sprintf("unknown log level: %s", l.Level))
	}
	switch l.Format {
	case "", "console", "json":
	default:
		errs.Add("logger.format", fmt.Sprintf("unknown log format: %s", l.Format))
	}
}

// Spec builds the extractor described by the configuration.
func (e *ExtractorConfig) Spec() (extract.Spec, error) {
	n := 0
	for _, set := range []bool{e.Boundary != nil, e.Regexp != nil, e.JSONPath != nil} {
		if set {
			n++
		}
	}
	if n != 1 {
		return extract.Spec{}, loaderr.Configf("extractor", "%q must define exactly one of boundary, regexp or jsonPath", e.Name)
	}

	switch {
	case e.Boundary != nil:
		occ, err := extract.ParseOccurrence(string(e.Boundary.Occurrence))
		if err != nil {
			return extract.Spec{}, err
		}
		return extract.BoundaryWithOptions(e.Name, extract.BoundaryOptions{
			Left:                e.Boundary.Left,
			Right:               e.Boundary.Right,
			Occurrence:          occ,
			IncludeRedirections: e.Boundary.IncludeRedirections,
		})
	case e.Regexp != nil:
		occ, err := extract.ParseOccurrence(string(e.Regexp.Occurrence))
		if err != nil {
			return extract.Spec{}, err
		}
		return extract.RegexpWithOptions(e.Name, extract.RegexpOptions{
			Expression:          e.Regexp.Expression,
			Flags:               e.Regexp.Flags,
			Group:               e.Regexp.Group,
			Occurrence:          occ,
			IncludeRedirections: e.Regexp.IncludeRedirections,
		})
	default:
		return extract.JSONPath(e.Name, e.JSONPath.Path, e.JSONPath.Multi)
	}
}
