// Package perf is the library entry point for running vurun load tests
// from Go code.
//
// A test is a TestConfig describing how many virtual users run and for how
// long, plus a script. The script is either the steps of the configuration
// file or a Script built in Go:
//
//	script := perf.NewScript()
//	script.Action("browse", func(c *perf.Context) error {
//	    req, err := c.NewRequest(perf.RequestOptions{Method: "GET", URL: "/products"})
//	    if err != nil {
//	        return err
//	    }
//	    tx := c.Transaction("products")
//	    tx.Start()
//	    resp, err := c.SendSync(req)
//	    if err != nil {
//	        tx.Stop(perf.Failed)
//	        return err
//	    }
//	    tx.Stop(perf.Passed)
//	    return c.ReportDataPoint("size", len(resp.Body))
//	})
//
//	cfg := &perf.TestConfig{
//	    Name:      "Browse",
//	    Settings:  perf.GlobalSettings{BaseURL: "https://shop.example.com"},
//	    Execution: perf.ExecutionConfig{Executor: "constant-vus", VUs: 10, Duration: perf.Duration(time.Minute)},
//	}
//	result, err := perf.NewRunner(cfg, perf.WithScript(script)).Run(ctx)
//
// Each virtual user runs the initialize callback, every action in
// registration order, then finalize, once per iteration. Cookies, sockets,
// timers and open transactions are scoped to the iteration.
package perf
