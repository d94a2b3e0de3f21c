package pos

import (
	"sync"

	"kioskpos/backend/internal/domain"
)

// Registry keeps one terminal per authenticated principal.
type Registry struct {
	backend Backend

	mu        sync.Mutex
	terminals map[string]*Terminal
}

func NewRegistry(backend Backend) *Registry {
	return &Registry{backend: backend, terminals: map[string]*Terminal{}}
}

// Terminal returns the principal's terminal, creating it on first use. A
// terminal created for a different role under the same principal is replaced.
func (r *Registry) Terminal(session domain.Session) *Terminal {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.terminals[session.PrincipalID]; ok && t.session.Role == session.Role {
		return t
	}
	t := NewTerminal(r.backend, session)
	r.terminals[session.PrincipalID] = t
	return t
}

// Drop forgets the principal's terminal and its cart.
func (r *Registry) Drop(principalID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.terminals, principalID)
}
