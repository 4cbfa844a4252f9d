package exchange

import (
	"sync"

	"github.com/jrsteele09/go-oauth-credentials/token"
)

// Pool hands out one Client per issuer, client id and DPoP mode. All clients
// share a RefreshQueue so refresh deduplication spans every credential.
type Pool struct {
	mu         sync.Mutex
	clients    map[string]*Client
	registered map[string]Config
	queue      *RefreshQueue
	options    []ClientOption
}

// NewPool applies options to every Client it creates.
func NewPool(options ...ClientOption) *Pool {
	return &Pool{
		clients:    make(map[string]*Client),
		registered: make(map[string]Config),
		queue:      NewRefreshQueue(),
		options:    options,
	}
}

// Register records the full configuration (secret, static endpoints) for an
// issuer and client id, used when a client is later derived from a token.
func (p *Pool) Register(cfg Config) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.registered[registrationKey(cfg.Issuer, cfg.ClientID)] = cfg
}

func (p *Pool) Client(cfg Config) (*Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := cfg.key()
	if c, ok := p.clients[key]; ok {
		return c, nil
	}

	options := append(append([]ClientOption(nil), p.options...), WithRefreshQueue(p.queue))
	c, err := NewClient(cfg, options...)
	if err != nil {
		return nil, err
	}
	p.clients[key] = c
	return c, nil
}

// ForToken returns the client able to refresh, revoke and verify t.
func (p *Pool) ForToken(t *token.Token) (*Client, error) {
	p.mu.Lock()
	cfg, ok := p.registered[registrationKey(t.Context.Issuer, t.Context.ClientID)]
	p.mu.Unlock()
	if !ok {
		cfg = Config{
			Issuer:   t.Context.Issuer,
			ClientID: t.Context.ClientID,
			Scopes:   t.Context.Scopes,
		}
	}
	cfg.UseDPoP = t.Context.DPoPKeyPairID != ""
	return p.Client(cfg)
}

func (p *Pool) Queue() *RefreshQueue {
	return p.queue
}

func registrationKey(issuer, clientID string) string {
	return issuer + "|" + clientID
}
