// Package loopback receives an authorization response on a local redirect
// URI (RFC 8252 loopback interface redirection) and completes the
// authorization-code login for native clients.
package loopback

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jrsteele09/go-oauth-credentials/oauth2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const CallbackPath = "/callback"

var (
	ErrStateMismatch = errors.New("authorization response state does not match")
	ErrMissingCode   = errors.New("authorization response has no code")
)

// Response is the result delivered to the redirect URI.
type Response struct {
	Code  string
	State string
}

type Option func(*Receiver)

func WithLogger(logger zerolog.Logger) Option {
	return func(r *Receiver) {
		r.logger = logger
	}
}

// Receiver serves the redirect URI until one response has been accepted.
type Receiver struct {
	listener net.Listener
	server   *http.Server
	logger   zerolog.Logger
	results  chan result
	once     sync.Once
}

type result struct {
	resp Response
	err  error
}

// Listen binds addr, normally "127.0.0.1:0" for a random free port.
func Listen(addr string, options ...Option) (*Receiver, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("loopback: listen %s: %w", addr, err)
	}

	r := &Receiver{
		listener: ln,
		logger:   log.Logger,
		results:  make(chan result, 1),
	}
	for _, opt := range options {
		opt(r)
	}
	r.logger = r.logger.With().Str("component", "loopback").Logger()

	mux := http.NewServeMux()
	mux.HandleFunc(CallbackPath, chainMiddleware(r.callbackHandler(), r.recoverMiddleware, r.loggingMiddleware))
	r.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := r.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.deliver(result{err: fmt.Errorf("loopback: serve: %w", err)})
		}
	}()
	return r, nil
}

// RedirectURL is the redirect_uri to register in the authorization request.
func (r *Receiver) RedirectURL() string {
	return "http://" + r.listener.Addr().String() + CallbackPath
}

// Wait blocks for the first authorization response and checks its state.
func (r *Receiver) Wait(ctx context.Context, state string) (Response, error) {
	select {
	case res := <-r.results:
		if res.err != nil {
			return Response{}, res.err
		}
		if res.resp.State != state {
			return Response{}, ErrStateMismatch
		}
		return res.resp, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

func (r *Receiver) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("loopback: shutdown: %w", err)
	}
	return nil
}

func (r *Receiver) deliver(res result) bool {
	delivered := false
	r.once.Do(func() {
		r.results <- res
		delivered = true
	})
	return delivered
}

func (r *Receiver) callbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		// FormValue covers both query and form_post response modes.
		state := req.FormValue("state")
		code := req.FormValue("code")
		errorParam := req.FormValue("error")

		var res result
		switch {
		case errorParam != "":
			res.err = &oauth2.Error{
				Code:        errorParam,
				Description: req.FormValue("error_description"),
				URI:         req.FormValue("error_uri"),
			}
		case code == "":
			res.err = ErrMissingCode
		default:
			res.resp = Response{Code: code, State: state}
		}

		if !r.deliver(res) {
			http.Error(w, "Authorization response already received", http.StatusConflict)
			return
		}
		if res.err != nil {
			http.Error(w, fmt.Sprintf("Authorization failed: %v", res.err), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, "Login complete. You can close this window.")
	}
}

func chainMiddleware(h http.HandlerFunc, mw ...func(http.HandlerFunc) http.HandlerFunc) http.HandlerFunc {
	chained := h
	for i := len(mw) - 1; i >= 0; i-- {
		chained = mw[i](chained)
	}
	return chained
}

func (r *Receiver) recoverMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error().Interface("panic", p).Msg("recovered from panic")
				http.Error(w, "Internal error", http.StatusInternalServerError)
			}
		}()
		next(w, req)
	}
}

func (r *Receiver) loggingMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		r.logger.Debug().Str("method", req.Method).Str("path", req.URL.Path).Msg("callback")
		next(w, req)
	}
}
