package exchange_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-oauth-credentials/exchange"
	"github.com/jrsteele09/go-oauth-credentials/token"
	"github.com/stretchr/testify/require"
)

func TestRefreshQueueSharesFailure(t *testing.T) {
	q := exchange.NewRefreshQueue()
	release := make(chan struct{})
	var calls atomic.Int32
	boom := errors.New("boom")
	fn := func(context.Context) (*token.Token, error) {
		calls.Add(1)
		<-release
		return nil, boom
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, errs[0] = q.Do(context.Background(), "rt", []string{"a"}, fn)
	}()
	require.Eventually(t, func() bool { return q.InFlight("rt") }, time.Second, 5*time.Millisecond)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, errs[1] = q.Do(context.Background(), "rt", []string{"a"}, fn)
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.ErrorIs(t, errs[0], boom)
	require.ErrorIs(t, errs[1], boom)
	require.Equal(t, int32(1), calls.Load())
	require.False(t, q.InFlight("rt"))
}

func TestRefreshQueueCancelledCallerDoesNotAbortExchange(t *testing.T) {
	q := exchange.NewRefreshQueue()
	release := make(chan struct{})
	fn := func(ctx context.Context) (*token.Token, error) {
		<-release
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return token.New(token.Token{AccessToken: "fresh"}), nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := q.Do(ctx, "rt", nil, fn)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return q.InFlight("rt") }, time.Second, 5*time.Millisecond)

	secondResult := make(chan *token.Token, 1)
	go func() {
		tok, err := q.Do(context.Background(), "rt", nil, fn)
		require.NoError(t, err)
		secondResult <- tok
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	require.Equal(t, "fresh", (<-secondResult).AccessToken)
}

func TestRefreshQueueIndependentKeysRunConcurrently(t *testing.T) {
	q := exchange.NewRefreshQueue()
	var running atomic.Int32
	both := make(chan struct{})
	fn := func(context.Context) (*token.Token, error) {
		if running.Add(1) == 2 {
			close(both)
		}
		select {
		case <-both:
		case <-time.After(time.Second):
			return nil, errors.New("exchanges for different refresh tokens were serialised")
		}
		return token.New(token.Token{AccessToken: "ok"}), nil
	}

	var wg sync.WaitGroup
	for _, rt := range []string{"rt-1", "rt-2"} {
		wg.Add(1)
		go func(rt string) {
			defer wg.Done()
			_, err := q.Do(context.Background(), rt, nil, fn)
			require.NoError(t, err)
		}(rt)
	}
	wg.Wait()
}

func TestRefreshQueueSimultaneousCallersShareOneExchange(t *testing.T) {
	for round := 0; round < 50; round++ {
		q := exchange.NewRefreshQueue()
		var calls, entered atomic.Int32
		release := make(chan struct{})
		fn := func(context.Context) (*token.Token, error) {
			calls.Add(1)
			<-release
			return token.New(token.Token{AccessToken: "fresh"}), nil
		}

		start := make(chan struct{})
		var wg sync.WaitGroup
		errs := make([]error, 32)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				entered.Add(1)
				_, errs[i] = q.Do(context.Background(), "rt", []string{"api"}, fn)
			}(i)
		}
		close(start)
		require.Eventually(t, func() bool { return entered.Load() == 32 }, time.Second, time.Millisecond)
		time.Sleep(5 * time.Millisecond)
		close(release)
		wg.Wait()

		for _, err := range errs {
			require.NoError(t, err)
		}
		require.Equal(t, int32(1), calls.Load(), "round %d", round)
		require.False(t, q.InFlight("rt"))
	}
}

func TestRefreshQueueChainsDifferentScopes(t *testing.T) {
	q := exchange.NewRefreshQueue()
	release := make(chan struct{})
	var mu sync.Mutex
	var order []string
	running, maxRunning := 0, 0
	fn := func(scope string) func(context.Context) (*token.Token, error) {
		return func(context.Context) (*token.Token, error) {
			mu.Lock()
			running++
			maxRunning = max(maxRunning, running)
			order = append(order, scope)
			mu.Unlock()
			<-release
			mu.Lock()
			running--
			mu.Unlock()
			return token.New(token.Token{AccessToken: scope, Scope: scope}), nil
		}
	}

	var wg sync.WaitGroup
	results := make([]*token.Token, 3)
	errs := make([]error, 3)
	do := func(i int, scope string) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = q.Do(context.Background(), "rt", []string{scope}, fn(scope))
		}()
	}

	do(0, "a")
	require.Eventually(t, func() bool { return q.InFlight("rt") }, time.Second, 5*time.Millisecond)
	do(1, "b")
	time.Sleep(20 * time.Millisecond)
	do(2, "b")
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.NoError(t, errs[2])
	require.Equal(t, []string{"a", "b"}, order)
	require.Equal(t, 1, maxRunning)
	require.Equal(t, "a", results[0].AccessToken)
	require.Equal(t, "b", results[1].AccessToken)
	require.Same(t, results[1], results[2])
	require.False(t, q.InFlight("rt"))
}

func TestRefreshQueueReusesGrantedScopes(t *testing.T) {
	q := exchange.NewRefreshQueue()
	release := make(chan struct{})
	var calls atomic.Int32
	fn := func(context.Context) (*token.Token, error) {
		calls.Add(1)
		<-release
		return token.New(token.Token{AccessToken: "fresh", Scope: "api"}), nil
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	results := make([]*token.Token, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = q.Do(context.Background(), "rt", nil, fn)
	}()
	require.Eventually(t, func() bool { return q.InFlight("rt") }, time.Second, 5*time.Millisecond)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], errs[1] = q.Do(context.Background(), "rt", []string{"api"}, fn)
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.Equal(t, int32(1), calls.Load())
	require.Same(t, results[0], results[1])
}
