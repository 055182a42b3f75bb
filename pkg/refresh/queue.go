package refresh

import (
	"context"
	"time"

	"github.com/chesspath/chessauth/pkg/authlog"
)

// QueueRequest parks req until the current or next refresh cycle settles,
// then replays it with a fresh bearer token and returns the replay's own
// outcome. If the refresh fails, every queued request is rejected with
// ErrRefreshFailed.
//
// N concurrent callers arriving while no refresh is active trigger exactly
// one underlying refresh call; all N observe an outcome consistent with it.
func (c *Coordinator) QueueRequest(ctx context.Context, req *Request) (*Response, error) {
	w := &waiter{ctx: ctx, req: req, done: make(chan waitResult, 1)}

	c.mu.Lock()
	c.pending = append(c.pending, w)
	start := !c.draining
	if start {
		c.draining = true
	}
	c.mu.Unlock()

	if start {
		go c.processQueue(ctx)
	}

	select {
	case res := <-w.done:
		return res.resp, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// processQueue runs one refresh cycle and settles everything queued up to
// the moment it finishes. The queue is swapped to empty before replay
// begins, so requests arriving during replay form a new batch handled by a
// fresh invocation rather than being double-processed.
func (c *Coordinator) processQueue(ctx context.Context) {
	// The refresh serves every queued caller, not just the one that
	// happened to trigger the drain, so it must not die with that
	// caller's context.
	ctx = context.WithoutCancel(ctx)
	ok := c.RefreshToken(ctx)

	c.mu.Lock()
	batch := c.pending
	c.pending = nil
	c.draining = false
	c.mu.Unlock()

	if !ok {
		c.log.Log(ctx, authlog.EventQueueRejected, "coordinator",
			map[string]any{"rejected": len(batch)})
		for _, w := range batch {
			w.done <- waitResult{err: ErrRefreshFailed}
		}
		return
	}

	token := c.tokens.AccessToken(ctx)
	c.log.Log(ctx, authlog.EventQueueDrained, "coordinator",
		map[string]any{"replayed": len(batch)})

	// Replays are initiated in FIFO arrival order; each settles its own
	// waiter independently, so completion order is not guaranteed. Each
	// replay runs on its waiter's own context: one caller cancelling must
	// not fail the others' replays.
	for _, w := range batch {
		go c.replay(w, token)
	}
}

func (c *Coordinator) replay(w *waiter, token string) {
	req := *w.req
	headers := make(map[string]string, len(req.Headers)+1)
	for k, v := range req.Headers {
		headers[k] = v
	}
	headers["Authorization"] = "Bearer " + token
	req.Headers = headers

	resp, err := c.transport.Replay(w.ctx, &req)
	w.done <- waitResult{resp: resp, err: err}
}

// ClearState rejects every pending request with ErrStateCleared and resets
// all in-memory refresh state to its initial value. Wired to explicit
// logout; also the escape hatch for a refresh call that never returns.
func (c *Coordinator) ClearState() {
	c.mu.Lock()
	batch := c.pending
	c.pending = nil
	c.draining = false
	c.refreshing = false
	c.failureCount = 0
	c.lastFailure = time.Time{}
	c.breakerLogged = false
	c.mu.Unlock()

	for _, w := range batch {
		w.done <- waitResult{err: ErrStateCleared}
	}
}
