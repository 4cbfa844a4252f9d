package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jrsteele09/go-oauth-credentials/exchange"
	"github.com/jrsteele09/go-oauth-credentials/loopback"
	"github.com/jrsteele09/go-oauth-credentials/oauth2"
	"github.com/jrsteele09/go-oauth-credentials/token"
)

type command struct {
	name  string
	usage string
	help  string
	min   int
	run   func(a *app, ctx context.Context, args []string) error
}

var commands []command

func init() {
	commands = []command{
		{"list", "list", "list stored credentials", 0, (*app).list},
		{"show", "show <id>", "print a credential's metadata", 1, (*app).show},
		{"refresh", "refresh <id>", "refresh a credential now", 1, (*app).refresh},
		{"revoke", "revoke <id> [all|access|refresh]", "revoke at the authorization server", 1, (*app).revoke},
		{"default", "default [id|none]", "print or set the default credential", 0, (*app).setDefault},
		{"remove", "remove <id>", "forget a credential without revoking it", 1, (*app).remove},
		{"clear", "clear", "forget every credential", 0, (*app).clear},
		{"tag", "tag <id> [tags...]", "replace a credential's tags", 1, (*app).tag},
		{"login", "login [tags...]", "sign in with the browser and store the token", 0, (*app).login},
		{"import", "import [tags...]", "store a token response read from stdin", 0, (*app).importResponse},
		{"client-credentials", "client-credentials [tags...]", "obtain and store a client_credentials token", 0, (*app).clientCredentials},
	}
}

func (a *app) dispatch(ctx context.Context, name string, args []string) error {
	for _, cmd := range commands {
		if cmd.name != name {
			continue
		}
		if len(args) < cmd.min {
			return fmt.Errorf("usage: credctl %s", cmd.usage)
		}
		return cmd.run(a, ctx, args)
	}
	return fmt.Errorf("unknown command %q", name)
}

func (a *app) list(ctx context.Context, _ []string) error {
	ids, err := a.coordinator.AllIDs(ctx)
	if err != nil {
		return err
	}
	def, err := a.coordinator.Default(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "\tID\tISSUER\tCLIENT\tEXPIRES\tTAGS")
	for _, id := range ids {
		cred, err := a.coordinator.With(ctx, id)
		if err != nil {
			return err
		}
		marker := ""
		if def != nil && def.ID() == id {
			marker = "*"
		}
		m := cred.Metadata()
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", marker, id, m.Issuer, m.ClientID, expiry(cred.Token()), strings.Join(m.Tags, ","))
	}
	return w.Flush()
}

func (a *app) show(ctx context.Context, args []string) error {
	cred, err := a.coordinator.With(ctx, args[0])
	if err != nil {
		return err
	}
	t := cred.Token()
	out := struct {
		*token.Metadata
		TokenType       oauth2.TokenType `json:"token_type"`
		Expires         string           `json:"expires"`
		HasRefreshToken bool             `json:"has_refresh_token"`
	}{cred.Metadata(), t.TokenType, expiry(t), t.HasRefreshToken()}
	return printJSON(os.Stdout, out)
}

func (a *app) refresh(ctx context.Context, args []string) error {
	cred, err := a.coordinator.With(ctx, args[0])
	if err != nil {
		return err
	}
	t, err := cred.Refresh(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%s refreshed, expires %s\n", cred.ID(), expiry(t))
	return nil
}

func (a *app) revoke(ctx context.Context, args []string) error {
	revokeType := oauth2.RevokeAll
	if len(args) > 1 {
		revokeType = oauth2.RevokeType(strings.ToUpper(args[1]))
	}
	cred, err := a.coordinator.With(ctx, args[0])
	if err != nil {
		return err
	}
	return cred.Revoke(ctx, revokeType)
}

func (a *app) setDefault(ctx context.Context, args []string) error {
	if len(args) == 0 {
		def, err := a.coordinator.Default(ctx)
		if err != nil {
			return err
		}
		if def == nil {
			fmt.Println("no default credential")
			return nil
		}
		fmt.Println(def.ID())
		return nil
	}
	if args[0] == "none" {
		return a.coordinator.SetDefault(ctx, nil)
	}
	cred, err := a.coordinator.With(ctx, args[0])
	if err != nil {
		return err
	}
	return a.coordinator.SetDefault(ctx, cred)
}

func (a *app) remove(ctx context.Context, args []string) error {
	return a.coordinator.Remove(ctx, args[0])
}

func (a *app) clear(ctx context.Context, _ []string) error {
	return a.coordinator.Clear(ctx)
}

func (a *app) tag(ctx context.Context, args []string) error {
	return a.coordinator.SetTags(ctx, args[0], args[1:])
}

func (a *app) importResponse(ctx context.Context, tags []string) error {
	client, err := a.client()
	if err != nil {
		return err
	}

	var resp oauth2.TokenResponse
	if err := json.NewDecoder(os.Stdin).Decode(&resp); err != nil {
		return fmt.Errorf("decode token response: %w", err)
	}
	cfg := client.Config()
	t, err := token.FromResponse(&resp, token.Context{Issuer: cfg.Issuer, ClientID: cfg.ClientID, Scopes: cfg.Scopes})
	if err != nil {
		return err
	}
	if t.IDToken != nil {
		if err := client.VerifyIDToken(ctx, t.IDToken, exchange.Expectations{}); err != nil {
			return err
		}
	}

	cred, err := a.coordinator.StoreTagged(ctx, t, tags...)
	if err != nil {
		return err
	}
	fmt.Println(cred.ID())
	return nil
}

func (a *app) login(ctx context.Context, tags []string) error {
	client, err := a.client()
	if err != nil {
		return err
	}
	browser := func(_ context.Context, authURL string) error {
		fmt.Fprintf(os.Stderr, "Open this URL to sign in:\n\n  %s\n\n", authURL)
		return nil
	}
	t, err := loopback.Login(ctx, client, exchange.AuthorizationOptions{}, browser)
	if err != nil {
		return err
	}
	cred, err := a.coordinator.StoreTagged(ctx, t, tags...)
	if err != nil {
		return err
	}
	fmt.Println(cred.ID())
	return nil
}

func (a *app) clientCredentials(ctx context.Context, tags []string) error {
	client, err := a.client()
	if err != nil {
		return err
	}
	t, err := client.Exchange(ctx, exchange.TokenRequest{
		GrantType: oauth2.ClientCredentialsGrant,
		Scopes:    client.Config().Scopes,
	})
	if err != nil {
		return err
	}
	cred, err := a.coordinator.StoreTagged(ctx, t, tags...)
	if err != nil {
		return err
	}
	fmt.Println(cred.ID())
	return nil
}

func (a *app) client() (*exchange.Client, error) {
	cfg := a.clientConfig()
	if cfg.Issuer == "" || cfg.ClientID == "" {
		return nil, errors.New("CREDCTL_ISSUER and CREDCTL_CLIENT_ID must be set")
	}
	return a.pool.Client(cfg)
}

func expiry(t *token.Token) string {
	remaining := t.RemainingValidity(time.Now())
	if remaining <= 0 {
		return "expired"
	}
	return "in " + remaining.Round(time.Second).String()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
