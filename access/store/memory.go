// Package store provides in-memory access.Store implementations.
package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/warp/access-engine/access"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory is an in-memory access.Store.
type Memory struct {
	mu sync.RWMutex
	state
}

// state is everything a transaction may need to roll back.
type state struct {
	users       map[string]access.User
	modules     map[string]access.Module
	moduleOrder []string
	requests    []access.Request
	byProtocol  map[string]int
	accesses    []access.Access
	nextAccess  int64
}

func NewMemory() *Memory {
	return &Memory{state: state{
		users:      make(map[string]access.User),
		modules:    make(map[string]access.Module),
		byProtocol: make(map[string]int),
		nextAccess: 1,
	}}
}

// =============================================================================
// SEEDING
// =============================================================================

// SaveUser adds or replaces a user.
func (m *Memory) SaveUser(_ context.Context, u access.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	return nil
}

// SaveModule adds or replaces a catalog module.
func (m *Memory) SaveModule(_ context.Context, mod access.Module) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.modules[mod.ID]; !ok {
		m.moduleOrder = append(m.moduleOrder, mod.ID)
	}
	m.modules[mod.ID] = cloneModule(mod)
	return nil
}

// =============================================================================
// READS (access.Repositories)
// =============================================================================

func (m *Memory) FindUser(_ context.Context, id string) (*access.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findUser(id), nil
}

func (m *Memory) FindUserByEmail(_ context.Context, email string) (*access.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findUserByEmail(email), nil
}

func (m *Memory) FindModule(_ context.Context, id string) (*access.Module, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findModule(id), nil
}

func (m *Memory) ListModules(_ context.Context) ([]access.Module, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listModules(), nil
}

func (m *Memory) AccessesByUser(_ context.Context, userID string, status access.AccessStatus) ([]access.Access, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterAccesses(func(a access.Access) bool {
		return a.UserID == userID && a.Status == status
	}), nil
}

func (m *Memory) AccessesByUserAndModule(_ context.Context, userID, moduleID string, status access.AccessStatus) ([]access.Access, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterAccesses(func(a access.Access) bool {
		return a.UserID == userID && a.ModuleID == moduleID && a.Status == status
	}), nil
}

func (m *Memory) AccessesByProtocol(_ context.Context, userID, protocol string, status access.AccessStatus) ([]access.Access, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterAccesses(func(a access.Access) bool {
		return a.UserID == userID && a.RequestProtocol == protocol && a.Status == status
	}), nil
}

func (m *Memory) CountRequests(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests), nil
}

func (m *Memory) CountRequestsWithPrefix(_ context.Context, prefix string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.countWithPrefix(prefix), nil
}

func (m *Memory) RequestsByUser(_ context.Context, userID string) ([]access.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterRequests(func(r access.Request) bool { return r.UserID == userID }), nil
}

func (m *Memory) RequestsByUserAndStatus(_ context.Context, userID string, status access.RequestStatus) ([]access.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterRequests(func(r access.Request) bool {
		return r.UserID == userID && r.Status == status
	}), nil
}

func (m *Memory) FindRequest(_ context.Context, protocol, userID string) (*access.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findRequest(protocol, userID), nil
}

// =============================================================================
// WRITES (append-only)
// =============================================================================

func (m *Memory) InsertRequest(_ context.Context, r access.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertRequest(r)
}

func (m *Memory) UpdateRequest(_ context.Context, r access.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateRequest(r)
}

func (m *Memory) AppendAccesses(_ context.Context, accesses []access.Access) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendAccesses(accesses)
	return nil
}

func (m *Memory) UpdateAccessStatus(_ context.Context, userID, protocol string, from, to access.AccessStatus) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateAccessStatus(userID, protocol, from, to), nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(_ context.Context, fn func(access.Repositories) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(&txView{state: &m.state}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

// txView operates on the locked state directly.
type txView struct {
	state *state
}

func (tv *txView) FindUser(_ context.Context, id string) (*access.User, error) {
	return tv.state.findUser(id), nil
}

func (tv *txView) FindUserByEmail(_ context.Context, email string) (*access.User, error) {
	return tv.state.findUserByEmail(email), nil
}

func (tv *txView) FindModule(_ context.Context, id string) (*access.Module, error) {
	return tv.state.findModule(id), nil
}

func (tv *txView) ListModules(_ context.Context) ([]access.Module, error) {
	return tv.state.listModules(), nil
}

func (tv *txView) AccessesByUser(_ context.Context, userID string, status access.AccessStatus) ([]access.Access, error) {
	return tv.state.filterAccesses(func(a access.Access) bool {
		return a.UserID == userID && a.Status == status
	}), nil
}

func (tv *txView) AccessesByUserAndModule(_ context.Context, userID, moduleID string, status access.AccessStatus) ([]access.Access, error) {
	return tv.state.filterAccesses(func(a access.Access) bool {
		return a.UserID == userID && a.ModuleID == moduleID && a.Status == status
	}), nil
}

func (tv *txView) AccessesByProtocol(_ context.Context, userID, protocol string, status access.AccessStatus) ([]access.Access, error) {
	return tv.state.filterAccesses(func(a access.Access) bool {
		return a.UserID == userID && a.RequestProtocol == protocol && a.Status == status
	}), nil
}

func (tv *txView) AppendAccesses(_ context.Context, accesses []access.Access) error {
	tv.state.appendAccesses(accesses)
	return nil
}

func (tv *txView) UpdateAccessStatus(_ context.Context, userID, protocol string, from, to access.AccessStatus) (int, error) {
	return tv.state.updateAccessStatus(userID, protocol, from, to), nil
}

func (tv *txView) CountRequests(_ context.Context) (int, error) {
	return len(tv.state.requests), nil
}

func (tv *txView) CountRequestsWithPrefix(_ context.Context, prefix string) (int, error) {
	return tv.state.countWithPrefix(prefix), nil
}

func (tv *txView) RequestsByUser(_ context.Context, userID string) ([]access.Request, error) {
	return tv.state.filterRequests(func(r access.Request) bool { return r.UserID == userID }), nil
}

func (tv *txView) RequestsByUserAndStatus(_ context.Context, userID string, status access.RequestStatus) ([]access.Request, error) {
	return tv.state.filterRequests(func(r access.Request) bool {
		return r.UserID == userID && r.Status == status
	}), nil
}

func (tv *txView) FindRequest(_ context.Context, protocol, userID string) (*access.Request, error) {
	return tv.state.findRequest(protocol, userID), nil
}

func (tv *txView) InsertRequest(_ context.Context, r access.Request) error {
	return tv.state.insertRequest(r)
}

func (tv *txView) UpdateRequest(_ context.Context, r access.Request) error {
	return tv.state.updateRequest(r)
}

// =============================================================================
// STATE HELPERS - callers hold the lock
// =============================================================================

func (s *state) clone() state {
	c := state{
		users:       make(map[string]access.User, len(s.users)),
		modules:     make(map[string]access.Module, len(s.modules)),
		moduleOrder: slices.Clone(s.moduleOrder),
		requests:    make([]access.Request, len(s.requests)),
		byProtocol:  make(map[string]int, len(s.byProtocol)),
		accesses:    slices.Clone(s.accesses),
		nextAccess:  s.nextAccess,
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.modules {
		c.modules[k] = v
	}
	for i, r := range s.requests {
		c.requests[i] = r.Clone()
	}
	for k, v := range s.byProtocol {
		c.byProtocol[k] = v
	}
	return c
}

func (s *state) findUser(id string) *access.User {
	u, ok := s.users[id]
	if !ok {
		return nil
	}
	return &u
}

func (s *state) findUserByEmail(email string) *access.User {
	for _, u := range s.users {
		if u.Email == email {
			return &u
		}
	}
	return nil
}

func (s *state) findModule(id string) *access.Module {
	mod, ok := s.modules[id]
	if !ok {
		return nil
	}
	mod = cloneModule(mod)
	return &mod
}

func (s *state) listModules() []access.Module {
	result := make([]access.Module, 0, len(s.moduleOrder))
	for _, id := range s.moduleOrder {
		result = append(result, cloneModule(s.modules[id]))
	}
	return result
}

func (s *state) filterAccesses(keep func(access.Access) bool) []access.Access {
	var result []access.Access
	for _, a := range s.accesses {
		if keep(a) {
			result = append(result, a)
		}
	}
	return result
}

func (s *state) appendAccesses(accesses []access.Access) {
	for _, a := range accesses {
		a.ID = s.nextAccess
		s.nextAccess++
		s.accesses = append(s.accesses, a)
	}
}

func (s *state) updateAccessStatus(userID, protocol string, from, to access.AccessStatus) int {
	n := 0
	for i := range s.accesses {
		a := &s.accesses[i]
		if a.UserID == userID && a.RequestProtocol == protocol && a.Status == from {
			a.Status = to
			n++
		}
	}
	return n
}

func (s *state) countWithPrefix(prefix string) int {
	n := 0
	for _, r := range s.requests {
		if strings.HasPrefix(r.Protocol, prefix) {
			n++
		}
	}
	return n
}

func (s *state) filterRequests(keep func(access.Request) bool) []access.Request {
	var result []access.Request
	for _, r := range s.requests {
		if keep(r) {
			result = append(result, r.Clone())
		}
	}
	return result
}

func (s *state) findRequest(protocol, userID string) *access.Request {
	i, ok := s.byProtocol[protocol]
	if !ok || s.requests[i].UserID != userID {
		return nil
	}
	r := s.requests[i].Clone()
	return &r
}

func (s *state) insertRequest(r access.Request) error {
	if _, exists := s.byProtocol[r.Protocol]; exists {
		return fmt.Errorf("%w: %s", access.ErrDuplicateProtocol, r.Protocol)
	}
	s.byProtocol[r.Protocol] = len(s.requests)
	s.requests = append(s.requests, r.Clone())
	return nil
}

// updateRequest stores the new status and denial reason and appends any
// history entries beyond those already recorded.
func (s *state) updateRequest(r access.Request) error {
	i, ok := s.byProtocol[r.Protocol]
	if !ok {
		return fmt.Errorf("%w: %s", access.ErrRequestNotFound, r.Protocol)
	}
	stored := &s.requests[i]
	stored.Status = r.Status
	stored.DenialReason = r.DenialReason
	if len(r.History) > len(stored.History) {
		stored.History = append(stored.History, r.History[len(stored.History):]...)
	}
	return nil
}

func cloneModule(m access.Module) access.Module {
	m.AllowedDepartments = slices.Clone(m.AllowedDepartments)
	m.IncompatibleModules = slices.Clone(m.IncompatibleModules)
	return m
}
