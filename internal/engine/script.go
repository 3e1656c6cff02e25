package engine

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/wesleyorama2/vurun/internal/config"
	"github.com/wesleyorama2/vurun/internal/extract"
	vhttp "github.com/wesleyorama2/vurun/internal/http"
	"github.com/wesleyorama2/vurun/internal/loaderr"
	"github.com/wesleyorama2/vurun/internal/transaction"
	"github.com/wesleyorama2/vurun/internal/vts"
	"github.com/wesleyorama2/vurun/internal/vu"
)

// vtsClientKey is the user variable caching the VTS client
const vtsClientKey = "__vts_client"

type step func(c *vu.Context) error

// compiler turns the steps of a test file into script callbacks
type compiler struct {
	baseURL string
	vts     *config.VTSConfig
}

// CompileScript builds a vu.Script from the script section of cfg.
// Extractor and placement errors are reported here, before anything runs.
func CompileScript(cfg *config.TestConfig) (*vu.Script, error) {
	c := &compiler{baseURL: cfg.Settings.BaseURL, vts: cfg.VTS}
	script := vu.NewScript()

	if len(cfg.Script.Initialize) > 0 {
		cb, err := c.compileSteps("initialize", cfg.Script.Initialize)
		if err != nil {
			return nil, err
		}
		if err := script.Initialize(cb); err != nil {
			return nil, err
		}
	}

	for _, action := range cfg.Script.Actions {
		cb, err := c.compileSteps(action.Name, action.Steps)
		if err != nil {
			return nil, err
		}
		if err := script.Action(action.Name, cb); err != nil {
			return nil, err
		}
	}

	if len(cfg.Script.Finalize) > 0 {
		cb, err := c.compileSteps("finalize", cfg.Script.Finalize)
		if err != nil {
			return nil, err
		}
		if err := script.Finalize(cb); err != nil {
			return nil, err
		}
	}

	return script, script.Validate()
}

func (c *compiler) compileSteps(phase string, steps []config.StepConfig) (vu.Callback, error) {
	compiled := make([]step, 0, len(steps))
	for i := range steps {
		s, err := c.compileStep(&steps[i])
		if err != nil {
			return nil, fmt.Errorf("%s step %d: %w", phase, i+1, err)
		}
		compiled = append(compiled, s)
	}

	return func(ctx *vu.Context) error {
		for i, s := range compiled {
			if err := s(ctx); err != nil {
				return fmt.Errorf("step %d: %w", i+1, err)
			}
		}
		return nil
	}, nil
}

func (c *compiler) compileStep(sc *config.StepConfig) (step, error) {
	switch {
	case sc.Request != nil:
		return c.requestStep(sc.Request)
	case sc.Sleep != 0:
		d := sc.Sleep.GetDuration(0)
		return func(ctx *vu.Context) error { return ctx.Sleep(d) }, nil
	case sc.Log != nil:
		return c.logStep(sc.Log), nil
	case sc.DataPoint != nil:
		return c.dataPointStep(sc.DataPoint), nil
	case sc.Transaction != nil:
		return transactionStep(sc.Transaction)
	case sc.VTS != nil:
		return c.vtsStep(sc.VTS)
	case sc.Exit != nil:
		return c.exitStep(sc.Exit)
	}
	return nil, loaderr.Configf("step", "empty step")
}

func (c *compiler) requestStep(rc *config.RequestConfig) (step, error) {
	extractors := make([]extract.Spec, 0, len(rc.Extractors))
	for i := range rc.Extractors {
		spec, err := rc.Extractors[i].Spec()
		if err != nil {
			return nil, err
		}
		extractors = append(extractors, spec)
	}

	var handler vhttp.HTTPErrorHandler
	if rc.HandleHTTPError {
		handler = vhttp.IgnoreHTTPErrors
	}

	return func(ctx *vu.Context) error {
		opts := vhttp.RequestOptions{
			URL:             c.resolveVariables(ctx, rc.URL),
			Method:          rc.Method,
			Headers:         c.resolveMap(ctx, rc.Headers),
			Query:           c.resolveMap(ctx, rc.Query),
			Extractors:      extractors,
			HandleHTTPError: handler,
			Timeout:         rc.Timeout.GetDuration(0),
		}
		if rc.Body != "" {
			opts.Body = c.resolveVariables(ctx, rc.Body)
		}
		for _, r := range rc.Resources {
			opts.Resources = append(opts.Resources, c.resolveVariables(ctx, r))
		}

		req, err := ctx.NewRequest(opts)
		if err != nil {
			return err
		}

		var txn *transaction.Transaction
		if rc.Transaction != "" {
			txn = ctx.Transaction(rc.Transaction)
			if err := txn.Start(); err != nil {
				return err
			}
		}

		resp, err := ctx.SendSync(req)
		if err == nil {
			err = checkResponse(resp, rc)
		}
		if resp != nil {
			storeExtracted(ctx, resp.Extractors)
		}

		if txn != nil {
			status := transaction.Passed
			if err != nil {
				status = transaction.Failed
			}
			if stopErr := txn.Stop(status); stopErr != nil && err == nil {
				err = stopErr
			}
		}
		return err
	}, nil
}

func checkResponse(resp *vhttp.Response, rc *config.RequestConfig) error {
	if rc.TextCheck != "" && !resp.TextCheck(rc.TextCheck) {
		return fmt.Errorf("text check failed: %q not found in response from %s", rc.TextCheck, resp.URL)
	}
	if rc.Schema != "" {
		if err := resp.SchemaCheck(rc.Schema); err != nil {
			return err
		}
	}
	return nil
}

func (c *compiler) logStep(lc *config.LogConfig) step {
	level := vu.LogLevel(strings.ToLower(lc.Level))
	return func(ctx *vu.Context) error {
		ctx.Log(c.resolveVariables(ctx, lc.Message), level)
		return nil
	}
}

func (c *compiler) dataPointStep(dc *config.DataPointConfig) step {
	return func(ctx *vu.Context) error {
		raw := c.resolveVariables(ctx, dc.Value)
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return loaderr.Configf("dataPoint", "value %q of %q is not a number", raw, dc.Name)
		}
		return ctx.ReportDataPoint(dc.Name, v)
	}
}

func transactionStep(tc *config.TransactionConfig) (step, error) {
	name := tc.Name
	switch tc.Action {
	case "start":
		return func(ctx *vu.Context) error { return ctx.Transaction(name).Start() }, nil
	case "stop":
		switch tc.Status {
		case "passed":
			return func(ctx *vu.Context) error { return ctx.Transaction(name).Stop(transaction.Passed) }, nil
		case "failed":
			return func(ctx *vu.Context) error { return ctx.Transaction(name).Stop(transaction.Failed) }, nil
		default:
			return func(ctx *vu.Context) error { return ctx.Transaction(name).Stop() }, nil
		}
	}
	return nil, loaderr.Configf("transaction.action", "unknown action %q", tc.Action)
}

func (c *compiler) vtsStep(vc *config.VTSStepConfig) (step, error) {
	if c.vts == nil {
		return nil, loaderr.Configf("vts", "a vts section is required for vts steps")
	}

	placement := vts.Stacked
	if vc.Placement != "" {
		p, err := vts.ParsePlacement(vc.Placement)
		if err != nil {
			return nil, err
		}
		placement = p
	}
	amount := int64(1)
	if vc.Value != "" && vc.Op == "increment" {
		n, err := strconv.ParseInt(vc.Value, 10, 64)
		if err != nil {
			return nil, loaderr.Configf("vts.value", "increment amount must be an integer, got %q", vc.Value)
		}
		amount = n
	}

	return func(ctx *vu.Context) error {
		client, err := c.vtsClient(ctx)
		if err != nil {
			return err
		}
		col := client.Column(c.resolveVariables(ctx, vc.Column))
		bg := ctx.Context()

		var field vts.Field
		switch vc.Op {
		case "add":
			return col.AddValue(bg, c.resolveVariables(ctx, vc.Value), vc.Unique)
		case "clear":
			return col.Clear(bg)
		case "size":
			var n int
			if n, err = col.Size(bg); err == nil {
				field = vts.Value(strconv.Itoa(n))
			}
		case "pop":
			field, err = col.Pop(bg)
		case "rotate":
			field, err = col.Rotate(bg, placement)
		case "increment":
			field, err = col.IncrementField(bg, vc.Row, amount)
		default:
			return loaderr.Configf("vts.op", "unknown vts operation: %s", vc.Op)
		}
		if err != nil {
			return err
		}
		if vc.SaveAs != "" {
			// a null field saves as empty so exit conditions see it as unset
			ctx.SetData(vc.SaveAs, field.Value)
		}
		return nil
	}, nil
}

// vtsClient returns the user's VTS client, connecting on first use
func (c *compiler) vtsClient(ctx *vu.Context) (*vts.Client, error) {
	if v, ok := ctx.GetData(vtsClientKey); ok {
		return v.(*vts.Client), nil
	}
	client, err := ctx.VTSConnect(vts.Options{
		Server:   c.vts.Server,
		Port:     c.vts.Port,
		UserName: c.vts.UserName,
		Password: c.vts.Password,
		Timeout:  c.vts.Timeout.GetDuration(0),
	})
	if err != nil {
		return nil, err
	}
	ctx.SetData(vtsClientKey, client)
	return client, nil
}

func (c *compiler) exitStep(ec *config.ExitConfig) (step, error) {
	kind, err := vu.ParseExitType(ec.Type)
	if err != nil {
		return nil, err
	}
	return func(ctx *vu.Context) error {
		if ec.If != "" {
			v, ok := lookupVariable(ctx, ec.If)
			if !ok || v == "" {
				return nil
			}
		}
		msg := c.resolveVariables(ctx, ec.Message)
		ctx.Logger().Debug("exit step", zap.Stringer("type", kind), zap.String("message", msg))
		ctx.Exit(kind, msg)
		return nil
	}, nil
}
