package coordinator

import (
	"time"

	"github.com/jrsteele09/go-oauth-credentials/credential"
)

type expiryTimer struct {
	timer *time.Timer
}

func (t *expiryTimer) stop() {
	t.timer.Stop()
}

// schedule replaces the expiry timer of cred. Expired tokens get none.
func (c *Coordinator) schedule(cred *credential.Credential) {
	id := cred.ID()
	remaining := cred.Token().RemainingValidity(c.nowFunc())

	c.mu.Lock()
	defer c.mu.Unlock()
	if timer, ok := c.timers[id]; ok {
		timer.stop()
		delete(c.timers, id)
	}
	if remaining <= 0 {
		return
	}

	entry := &expiryTimer{}
	entry.timer = time.AfterFunc(remaining, func() { c.expire(cred, entry) })
	c.timers[id] = entry
	c.logger.Debug().Str("id", id).Dur("in", remaining).Msg("expiry scheduled")
}

// expire runs when a timer fires. The token is checked again against the
// clock since a refresh may have raced the timer.
func (c *Coordinator) expire(cred *credential.Credential, timer *expiryTimer) {
	id := cred.ID()

	c.mu.Lock()
	current, ok := c.timers[id]
	if !ok || current != timer {
		c.mu.Unlock()
		return
	}
	delete(c.timers, id)
	c.mu.Unlock()

	if live, ok := c.source.Get(id); !ok || live != cred {
		return
	}
	if !cred.Token().IsExpiredAt(c.nowFunc()) {
		c.schedule(cred)
		return
	}

	c.logger.Info().Str("id", id).Msg("credential expired")
	c.emitter.Emit(CredentialExpired{Credential: cred})
}

func (c *Coordinator) hasTimer(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.timers[id]
	return ok
}
