package approval

import (
	"sync"
	"time"
)

// Cooldown tracks when critical-risk mutations last ran so the agent cannot
// fire destructive operations back to back. State is per-process.
type Cooldown struct {
	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
}

// NewCooldown creates an empty cooldown tracker.
func NewCooldown() *Cooldown {
	return &Cooldown{
		last: make(map[string]time.Time),
		now:  time.Now,
	}
}

// RecordCritical stamps a critical mutation for an operation.
func (c *Cooldown) RecordCritical(operation string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last[operation] = c.now()
}

// Check reports whether the operation may run now and, if not, how long
// until the cooldown expires.
func (c *Cooldown) Check(operation string, cooldown time.Duration) CooldownStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	last, ok := c.last[operation]
	if !ok {
		return CooldownStatus{Allowed: true}
	}
	elapsed := c.now().Sub(last)
	if elapsed >= cooldown {
		return CooldownStatus{Allowed: true}
	}
	return CooldownStatus{
		Allowed:     false,
		RemainingMs: (cooldown - elapsed).Milliseconds(),
	}
}
