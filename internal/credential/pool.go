// Package credential validates access tokens and rotates through the valid
// ones.
package credential

import (
	"errors"
	"sync"
)

// ErrEmptyPool is returned by Next when the pool holds no credentials.
var ErrEmptyPool = errors.New("credential: empty pool")

type State int

const (
	Unvalidated State = iota
	Valid
	Invalid
)

func (s State) String() string {
	switch s {
	case Valid:
		return "valid"
	case Invalid:
		return "invalid"
	default:
		return "unvalidated"
	}
}

// Credential is an opaque secret plus its validation outcome.
type Credential struct {
	secret string
	state  State
	name   string // account name reported by the identity check
	reason string // why it is Invalid
}

// New wraps a raw secret as an Unvalidated credential.
func New(secret string) Credential { return Credential{secret: secret} }

func (c Credential) Secret() string { return c.secret }
func (c Credential) State() State   { return c.state }
func (c Credential) Name() string   { return c.name }
func (c Credential) Reason() string { return c.reason }

// Hint is a masked form safe for logs and audit records.
func (c Credential) Hint() string { return Mask(c.secret) }

// Mask keeps the first and last four characters of s.
func Mask(s string) string {
	r := []rune(s)
	if len(r) <= 8 {
		return "****"
	}
	return string(r[:4]) + "…" + string(r[len(r)-4:])
}

// Pool is an ordered set of valid credentials with a round-robin cursor.
// Safe for concurrent use.
type Pool struct {
	mu     sync.Mutex
	creds  []Credential
	cursor uint64
}

// NewPool copies creds; callers should pass only Valid credentials.
func NewPool(creds []Credential) *Pool {
	return &Pool{creds: append([]Credential(nil), creds...)}
}

// Next returns pool[cursor % len] and advances the cursor.
func (p *Pool) Next() (Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.creds) == 0 {
		return Credential{}, ErrEmptyPool
	}
	c := p.creds[p.cursor%uint64(len(p.creds))]
	p.cursor++
	return c, nil
}

func (p *Pool) Reset() {
	p.mu.Lock()
	p.cursor = 0
	p.mu.Unlock()
}

func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.creds)
}

func (p *Pool) Hints() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.creds))
	for i, c := range p.creds {
		out[i] = c.Hint()
	}
	return out
}
