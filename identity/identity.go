// Package identity resolves the stable participant id of a chat
// session: an authenticated customer id, a persisted anonymous id, or
// an operator's agent id. The engine only sees the Resolver interface;
// who issues the ids is a collaborator concern.
package identity

import (
	"errors"
	"sync"
)

type Kind int

const (
	KindAnonymous Kind = iota
	KindCustomer
	KindAgent
)

// ID is a resolved participant identity.
type ID struct {
	Value string
	Kind  Kind
}

// ErrUnresolved is returned while an identity is still pending, e.g.
// the operator's agent id before the admin session loads.
var ErrUnresolved = errors.New("identity: not resolved yet")

type Resolver interface {
	Resolve() (ID, error)
}

// Static resolves to a fixed id, the common case for authenticated
// customers and for tests.
type Static struct {
	id ID
}

func NewStatic(value string, kind Kind) *Static {
	return &Static{id: ID{Value: value, Kind: kind}}
}

func (s *Static) Resolve() (ID, error) {
	return s.id, nil
}

// Pending resolves once a collaborator delivers the id. The operator
// console's agent id arrives asynchronously after mount; until Set is
// called Resolve reports ErrUnresolved and the session controller
// defers role-dependent work.
type Pending struct {
	mu sync.Mutex
	id ID
	ok bool
}

func NewPending() *Pending {
	return &Pending{}
}

func (p *Pending) Resolve() (ID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ok {
		return ID{}, ErrUnresolved
	}
	return p.id, nil
}

// Set delivers the id. Later calls overwrite, which only happens when
// the admin session is re-issued.
func (p *Pending) Set(id ID) {
	p.mu.Lock()
	p.id = id
	p.ok = true
	p.mu.Unlock()
}
