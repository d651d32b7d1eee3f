/*
Package access provides the module access request engine.

PURPOSE:
  Users request access to catalog modules. Every request is adjudicated
  synchronously by a fixed set of business rules and ends up either ATIVO
  (approved, with one Access grant per module) or NEGADO (denied, with a
  human-readable reason). Approved requests can later be cancelled or
  renewed close to expiry.

KEY CONCEPTS IN THIS FILE (types.go):
  - Module:  a gated capability, restricted by department
  - User:    read-only view of the user directory
  - Request: the adjudicated request, keyed by protocol, with history
  - Access:  a single module grant originating from one approved request

DESIGN PRINCIPLES:
  1. Append-only: requests and accesses are never deleted, only moved
     through their status lifecycle
  2. Denial is an outcome, not an error (see Result)
  3. Storage is behind repository interfaces (see store.go)

SEE ALSO:
  - rules.go:  the rule evaluator
  - engine.go: create / cancel / renew / search
  - errors.go: error taxonomy
*/
package access

import (
	"slices"
	"time"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// GrantValidity is how long an approved request and its accesses last.
	GrantValidity = 180 * 24 * time.Hour

	// RenewalWindowDays is how close to expiry (in whole days) an access
	// must be before its request can be renewed.
	RenewalWindowDays = 30

	// DepartmentTI is the department allowed to request any module.
	DepartmentTI = "TI"

	MaxModulesDefault = 5
	MaxModulesTI      = 10
)

// =============================================================================
// STATUSES
// =============================================================================

type RequestStatus string

const (
	RequestActive    RequestStatus = "ATIVO"
	RequestDenied    RequestStatus = "NEGADO"
	RequestCancelled RequestStatus = "CANCELADO"
)

// CanTransitionTo reports whether a request in status s may move to next.
// Only ATIVO -> CANCELADO exists; NEGADO and CANCELADO are terminal.
func (s RequestStatus) CanTransitionTo(next RequestStatus) bool {
	return s == RequestActive && next == RequestCancelled
}

type AccessStatus string

const (
	AccessActive  AccessStatus = "ATIVO"
	AccessRevoked AccessStatus = "REVOGADO"
)

// History actions.
const (
	ActionCreated   = "CREATED"
	ActionApproved  = "APPROVED"
	ActionDenied    = "DENIED"
	ActionRenewal   = "RENEWAL"
	ActionCancelled = "CANCELLED"
)

// =============================================================================
// CATALOG AND DIRECTORY
// =============================================================================

// Module is a capability a user may request access to.
//
// IncompatibleModules is stored one-directionally: module A may list B
// without B listing A. Use IncompatibleWith, which checks both sides.
type Module struct {
	ID                  string
	Name                string
	Description         string
	AllowedDepartments  []string
	IncompatibleModules []string
	Active              bool
}

// AllowsDepartment reports whether users of dept may hold this module.
// TI may hold any module.
func (m Module) AllowsDepartment(dept string) bool {
	if dept == DepartmentTI {
		return true
	}
	return slices.Contains(m.AllowedDepartments, dept)
}

// IncompatibleWith reports whether m and other conflict, in either direction.
func (m Module) IncompatibleWith(other Module) bool {
	return slices.Contains(m.IncompatibleModules, other.ID) ||
		slices.Contains(other.IncompatibleModules, m.ID)
}

// User is an entry of the user directory. Department drives the rules.
type User struct {
	ID           string
	Email        string
	Name         string
	Department   string
	PasswordHash string
}

// MaxModules returns the active-module capacity for a department.
func MaxModules(dept string) int {
	if dept == DepartmentTI {
		return MaxModulesTI
	}
	return MaxModulesDefault
}

// =============================================================================
// REQUEST
// =============================================================================

type HistoryEntry struct {
	At     time.Time
	Action string
}

// Request is a user's request for one to three modules.
type Request struct {
	Protocol       string
	UserID         string
	UserDepartment string
	Modules        []string
	Justification  string
	Urgent         bool
	Status         RequestStatus
	CreatedAt      time.Time
	ExpiresAt      time.Time
	DenialReason   string // set iff Status == RequestDenied
	History        []HistoryEntry
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (r Request) Clone() Request {
	r.Modules = slices.Clone(r.Modules)
	r.History = slices.Clone(r.History)
	return r
}

func (r *Request) appendHistory(at time.Time, action string) {
	r.History = append(r.History, HistoryEntry{At: at, Action: action})
}

// =============================================================================
// ACCESS
// =============================================================================

// Access is one module grant. Accesses are created in a batch when a request
// is approved and are only ever moved to REVOGADO afterwards.
type Access struct {
	ID              int64
	UserID          string
	ModuleID        string
	Status          AccessStatus
	GrantedAt       time.Time
	ExpiresAt       time.Time
	RequestProtocol string
}

// DaysUntilExpiry returns whole days between now and ExpiresAt, truncated
// toward zero.
func (a Access) DaysUntilExpiry(now time.Time) int {
	return int(a.ExpiresAt.Sub(now) / (24 * time.Hour))
}

// =============================================================================
// OUTCOME
// =============================================================================

type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeDenied   Outcome = "denied"
)

// Result is the outcome of a create or renew. A denial is a successful
// adjudication: Request is persisted with status NEGADO and DenialReason set.
// Failures to adjudicate at all are returned as errors instead.
type Result struct {
	Request Request
	Outcome Outcome
}

func (r Result) Approved() bool { return r.Outcome == OutcomeApproved }
func (r Result) Denied() bool   { return r.Outcome == OutcomeDenied }
