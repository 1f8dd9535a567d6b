package endpoint

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Health is a read-only snapshot of one endpoint's state
type Health struct {
	Endpoint      string    `json:"endpoint"`
	Available     bool      `json:"available"`
	CooldownUntil time.Time `json:"cooldown_until,omitempty"`
	Strikes       int       `json:"strikes"` // consecutive rate limits
	Failures      int       `json:"failures"`
	Successes     int       `json:"successes"`
	LastError     string    `json:"last_error,omitempty"`
	Current       bool      `json:"current"`
}

type state struct {
	cooldownUntil time.Time
	strikes       int
	failures      int
	successes     int
	lastError     string
}

// Pool tracks a fixed, ordered set of endpoint base URLs together with a
// rotating cursor and per-endpoint cooldowns. All methods are safe for
// concurrent use.
type Pool struct {
	mu        sync.Mutex
	endpoints []string
	index     map[string]int
	states    []state
	cursor    int
	now       func() time.Time
}

// Option configures a Pool
type Option func(*Pool)

// WithClock overrides the time source used for cooldown checks
func WithClock(now func() time.Time) Option {
	return func(p *Pool) {
		p.now = now
	}
}

// NewPool validates the endpoint list and creates a pool with the cursor at
// the first endpoint
func NewPool(endpoints []string, opts ...Option) (*Pool, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("at least one endpoint is required")
	}

	p := &Pool{
		endpoints: make([]string, 0, len(endpoints)),
		index:     make(map[string]int, len(endpoints)),
		now:       time.Now,
	}
	for _, raw := range endpoints {
		ep, err := Normalize(raw)
		if err != nil {
			return nil, err
		}
		if _, dup := p.index[ep]; dup {
			return nil, fmt.Errorf("duplicate endpoint %q", ep)
		}
		p.index[ep] = len(p.endpoints)
		p.endpoints = append(p.endpoints, ep)
	}
	p.states = make([]state, len(p.endpoints))

	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Normalize trims whitespace and trailing slashes and checks the URL is absolute
func Normalize(raw string) (string, error) {
	ep := strings.TrimRight(strings.TrimSpace(raw), "/")
	u, err := url.Parse(ep)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid endpoint %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid endpoint %q: missing host", raw)
	}
	return ep, nil
}

// Len returns the number of endpoints
func (p *Pool) Len() int {
	return len(p.endpoints)
}

// Endpoints returns the configured endpoints in pool order
func (p *Pool) Endpoints() []string {
	out := make([]string, len(p.endpoints))
	copy(out, p.endpoints)
	return out
}

// available must be called with the lock held
func (p *Pool) available(i int, now time.Time) bool {
	return !now.Before(p.states[i].cooldownUntil)
}

// Next returns the first endpoint at or after the cursor whose cooldown has
// elapsed and moves the cursor past it, so consecutive calls spread load.
func (p *Pool) Next() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	n := len(p.endpoints)
	for i := 0; i < n; i++ {
		idx := (p.cursor + i) % n
		if p.available(idx, now) {
			p.cursor = (idx + 1) % n
			return p.endpoints[idx], true
		}
	}
	return "", false
}

// Pass is a single walk over the pool, visiting each endpoint at most once
type Pass struct {
	pool  *Pool
	start int
	step  int
}

// Pass starts a walk at the current cursor. Each call to Pass.Next behaves
// like Pool.Next but never returns an endpoint twice.
func (p *Pool) Pass() *Pass {
	p.mu.Lock()
	defer p.mu.Unlock()
	return &Pass{pool: p, start: p.cursor}
}

// Next returns the next endpoint of the walk that is not cooling down.
// Cooldowns are checked at the moment each endpoint is reached.
func (w *Pass) Next() (string, bool) {
	p := w.pool
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	n := len(p.endpoints)
	for w.step < n {
		idx := (w.start + w.step) % n
		w.step++
		if p.available(idx, now) {
			p.cursor = (idx + 1) % n
			return p.endpoints[idx], true
		}
	}
	return "", false
}

// MarkCooldown sets or extends the cooldown of an endpoint. An earlier
// deadline never shortens an existing cooldown.
func (p *Pool) MarkCooldown(endpoint string, until time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx, ok := p.index[endpoint]
	if !ok {
		return
	}
	if until.After(p.states[idx].cooldownUntil) {
		p.states[idx].cooldownUntil = until
	}
}

// MarkRateLimited records a rate-limit response. delay receives the number
// of consecutive rate limits seen before this one and returns the cooldown.
func (p *Pool) MarkRateLimited(endpoint string, delay func(attempt int) time.Duration) time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx, ok := p.index[endpoint]
	if !ok {
		return time.Time{}
	}
	st := &p.states[idx]
	until := p.now().Add(delay(st.strikes))
	st.strikes++
	st.lastError = "rate limited"
	if until.After(st.cooldownUntil) {
		st.cooldownUntil = until
	}
	return st.cooldownUntil
}

// RecordFailure counts a soft failure against an endpoint
func (p *Pool) RecordFailure(endpoint, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if idx, ok := p.index[endpoint]; ok {
		p.states[idx].failures++
		p.states[idx].lastError = reason
	}
}

// RecordSuccess clears the rate-limit streak of an endpoint and points the
// cursor at it so the next request starts there.
func (p *Pool) RecordSuccess(endpoint string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if idx, ok := p.index[endpoint]; ok {
		p.states[idx].successes++
		p.states[idx].strikes = 0
		p.states[idx].lastError = ""
		p.cursor = idx
	}
}

// Current returns the endpoint the next request would start with, or "" if
// every endpoint is cooling down. It does not move the cursor.
func (p *Pool) Current() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	n := len(p.endpoints)
	for i := 0; i < n; i++ {
		idx := (p.cursor + i) % n
		if p.available(idx, now) {
			return p.endpoints[idx]
		}
	}
	return ""
}

// CooldownUntil returns the cooldown deadline of an endpoint
func (p *Pool) CooldownUntil(endpoint string) time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()

	if idx, ok := p.index[endpoint]; ok {
		return p.states[idx].cooldownUntil
	}
	return time.Time{}
}

// Health returns a snapshot of every endpoint in pool order
func (p *Pool) Health() []Health {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	out := make([]Health, len(p.endpoints))
	for i, ep := range p.endpoints {
		st := p.states[i]
		h := Health{
			Endpoint:  ep,
			Available: p.available(i, now),
			Strikes:   st.strikes,
			Failures:  st.failures,
			Successes: st.successes,
			LastError: st.lastError,
			Current:   i == p.cursor,
		}
		if !h.Available {
			h.CooldownUntil = st.cooldownUntil
		}
		out[i] = h
	}
	return out
}
