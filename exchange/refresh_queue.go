package exchange

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-oauth-credentials/internal/utils"
	"github.com/jrsteele09/go-oauth-credentials/token"
)

// RefreshQueue serialises refresh exchanges per refresh token value. Servers
// that rotate refresh tokens invalidate them on first use, so two concurrent
// exchanges with the same value would make one of them fail.
//
// Exchanges for one value form a chain; each waits for its predecessor. A
// caller joins a queued or running exchange that asked for the same scopes.
// Otherwise it appends its own exchange, which reuses the predecessor's
// outcome when the scopes granted are exactly the ones it asked for.
type RefreshQueue struct {
	mu      sync.Mutex
	pending map[string]*pendingRefresh
}

type pendingRefresh struct {
	done   chan struct{}
	scopes []string
	result *token.Token
	err    error

	// guarded by RefreshQueue.mu
	after    *pendingRefresh
	finished bool
}

func NewRefreshQueue() *RefreshQueue {
	return &RefreshQueue{
		pending: make(map[string]*pendingRefresh),
	}
}

// Do runs fn for refreshToken unless a matching exchange is already queued or
// in flight. fn runs detached from ctx so that a caller giving up does not
// fail the other waiters.
func (q *RefreshQueue) Do(ctx context.Context, refreshToken string, scopes []string, fn func(context.Context) (*token.Token, error)) (*token.Token, error) {
	q.mu.Lock()
	p := q.join(refreshToken, scopes)
	if p == nil {
		p = &pendingRefresh{
			done:   make(chan struct{}),
			scopes: append([]string(nil), scopes...),
			after:  q.pending[refreshToken],
		}
		q.pending[refreshToken] = p
		go q.run(context.WithoutCancel(ctx), refreshToken, p, fn)
	}
	q.mu.Unlock()

	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// InFlight reports whether an exchange is queued or running for refreshToken.
func (q *RefreshQueue) InFlight(refreshToken string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.pending[refreshToken]
	return ok
}

// join finds an unfinished exchange in the chain for refreshToken that asked
// for the same scopes. q.mu must be held.
func (q *RefreshQueue) join(refreshToken string, scopes []string) *pendingRefresh {
	for p := q.pending[refreshToken]; p != nil; p = p.after {
		if !p.finished && utils.SameSet(p.scopes, scopes) {
			return p
		}
	}
	return nil
}

func (p *pendingRefresh) satisfies(scopes []string) bool {
	if utils.SameSet(p.scopes, scopes) {
		return true
	}
	return p.err == nil && len(scopes) > 0 && utils.SameSet(p.result.Scopes(), scopes)
}

func (q *RefreshQueue) run(ctx context.Context, refreshToken string, p *pendingRefresh, fn func(context.Context) (*token.Token, error)) {
	q.mu.Lock()
	prev := p.after
	q.mu.Unlock()

	reused := false
	if prev != nil {
		<-prev.done
		if prev.satisfies(p.scopes) {
			p.result, p.err = prev.result, prev.err
			reused = true
		}
	}
	if !reused {
		p.result, p.err = fn(ctx)
	}

	q.mu.Lock()
	p.after = nil
	p.finished = true
	if q.pending[refreshToken] == p {
		delete(q.pending, refreshToken)
	}
	q.mu.Unlock()
	close(p.done)
}
