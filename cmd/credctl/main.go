package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-oauth-credentials/coordinator"
	"github.com/jrsteele09/go-oauth-credentials/credential"
	"github.com/jrsteele09/go-oauth-credentials/dpop"
	"github.com/jrsteele09/go-oauth-credentials/exchange"
	"github.com/jrsteele09/go-oauth-credentials/internal/config"
	"github.com/jrsteele09/go-oauth-credentials/storage"
	"github.com/jrsteele09/go-oauth-credentials/storage/file"
	"github.com/jrsteele09/go-oauth-credentials/storage/memory"
	"github.com/jrsteele09/go-oauth-credentials/storage/valkey"
	"github.com/jrsteele09/go-oauth-credentials/transport"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal().Err(err).Msg("credctl failed")
	}
}

func run(args []string) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("recovered from panic")
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	fs := flag.NewFlagSet("credctl", flag.ContinueOnError)
	envFile := fs.String("env", ".env", "dotenv file to load")
	banner := fs.Bool("banner", false, "print the banner")
	fs.Usage = usage(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", *envFile, err)
	}

	c := config.New()
	setupLogger(c.GetLogLevel())
	if *banner {
		displayAppname(c.GetAppName())
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("no command given")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, c)
	if err != nil {
		return err
	}
	defer a.close()

	return a.dispatch(ctx, fs.Arg(0), fs.Args()[1:])
}

// app holds everything a command needs.
type app struct {
	cfg         config.Config
	coordinator *coordinator.Coordinator
	pool        *exchange.Pool
	authority   *dpop.MemoryAuthority
	closers     []func()
}

func newApp(ctx context.Context, c config.Config) (*app, error) {
	a := &app{cfg: c}

	store, err := a.openStorage(ctx)
	if err != nil {
		return nil, err
	}

	authority, err := dpop.NewMemoryAuthority(c.GetDPoPNonceTTL())
	if err != nil {
		a.close()
		return nil, err
	}
	a.authority = authority
	a.closers = append(a.closers, authority.Close)

	rt, err := transport.NewRetryTransport(transport.WithHTTPClient(transport.NewHTTPClient(c.GetHTTPTimeout())))
	if err != nil {
		a.close()
		return nil, err
	}

	a.pool = exchange.NewPool(
		exchange.WithTransport(rt),
		exchange.WithAuthority(authority),
		exchange.WithClockSkew(c.GetClockSkew()),
		exchange.WithKeySetTTL(c.GetKeySetCacheTTL()),
	)
	if c.GetIssuer() != "" && c.GetClientID() != "" {
		a.pool.Register(a.clientConfig())
	}

	a.coordinator = coordinator.New(store, credential.PoolFactory(a.pool),
		coordinator.WithGracePeriod(c.GetRefreshGracePeriod()),
	)
	a.closers = append(a.closers, a.coordinator.Close)
	return a, nil
}

func (a *app) openStorage(ctx context.Context) (storage.Storage, error) {
	switch backend := a.cfg.GetStorageBackend(); backend {
	case config.StorageBackendMemory:
		return memory.NewStorage(), nil

	case config.StorageBackendValkey:
		store, b, err := valkey.NewStorage(valkey.Config{
			Address:   a.cfg.GetValkeyAddress(),
			KeyPrefix: a.cfg.GetValkeyKeyPrefix(),
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, b.Close, store.Close)
		return store, nil

	case config.StorageBackendFile:
		var key []byte
		if encoded := a.cfg.GetEncryptionKey(); encoded != "" {
			k, err := file.KeyFromBase64(encoded)
			if err != nil {
				return nil, err
			}
			key = k
		}
		return file.NewStorage(a.cfg.GetStorageFile(), key)

	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

func (a *app) clientConfig() exchange.Config {
	return exchange.Config{
		Issuer:       a.cfg.GetIssuer(),
		ClientID:     a.cfg.GetClientID(),
		ClientSecret: a.cfg.GetClientSecret(),
		Scopes:       a.cfg.GetScopes(),
		UseDPoP:      a.cfg.GetUseDPoP(),
	}
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func setupLogger(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}

func usage(fs *flag.FlagSet) func() {
	return func() {
		out := fs.Output()
		fmt.Fprintf(out, "usage: credctl [flags] <command> [args]\n\ncommands:\n")
		for _, cmd := range commands {
			fmt.Fprintf(out, "  %-32s %s\n", cmd.usage, cmd.help)
		}
		fmt.Fprintf(out, "\nflags:\n")
		fs.PrintDefaults()
	}
}
