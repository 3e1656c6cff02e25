package http

import (
	"context"

	"github.com/wesleyorama2/vurun/internal/suspend"
)

type result struct {
	resp *Response
	err  error
}

// Pending is an in-flight asynchronous send
type Pending struct {
	handle *suspend.Handle
}

// Send starts req in the background. onDone, if set, runs on the client's
// loop when the response arrives, before Wait returns.
func (c *Client) Send(ctx context.Context, req *Request, onDone func(*Response, error)) *Pending {
	barrier := suspend.NewBarrier(c.loop)
	// a fresh barrier cannot conflict
	handle, _ := barrier.Arm(0)

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		resp, err := c.Do(ctx, req)
		complete := func() {
			if onDone != nil {
				onDone(resp, err)
			}
			barrier.Resolve(result{resp: resp, err: err})
		}
		if !c.loop.Post(complete) {
			barrier.Resolve(result{resp: resp, err: err})
		}
	}()

	return &Pending{handle: handle}
}

// Settle suspends until every request started with Send has posted its
// completion to the loop, running loop events meanwhile. Completions posted
// after the last drain are left queued for the caller.
func (c *Client) Settle(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()
	return c.loop.Wait(ctx, done)
}

// Done is closed once the response has been delivered
func (p *Pending) Done() <-chan struct{} {
	return p.handle.Done()
}

// Wait suspends until the response is delivered or ctx ends. The response is
// returned alongside HTTP status errors, as with Do.
func (p *Pending) Wait(ctx context.Context) (*Response, error) {
	v, err := p.handle.Await(ctx)
	if err != nil {
		return nil, err
	}
	r := v.(result)
	return r.resp, r.err
}

// SendSync sends req and suspends the caller until it completes
func (c *Client) SendSync(ctx context.Context, req *Request) (*Response, error) {
	return c.Send(ctx, req, nil).Wait(ctx)
}
