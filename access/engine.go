/*
engine.go - Request adjudication engine

PURPOSE:
  Orchestrates the request lifecycle:
  1. Creation: validate preconditions, evaluate rules, persist the request
     and (if approved) its accesses
  2. Cancellation: ATIVO -> CANCELADO, revoke the request's accesses
  3. Renewal: a new request superseding an approved one near expiry
  4. Search / lookup: read-only views of a user's requests

REQUEST FLOW:
  ┌──────────────────────────────────────────────────────────────────┐
  │                                                                  │
  │  createRequest ──▶ preconditions ──▶ rules ──┬──▶ ATIVO ──▶ accesses
  │                        │                     │                   │
  │                        ▼                     └──▶ NEGADO         │
  │                     error                                        │
  │                                                                  │
  │  ATIVO ──cancel──▶ CANCELADO  (accesses ATIVO -> REVOGADO)       │
  │  ATIVO ──renew───▶ new request (old accesses revoked if ATIVO)   │
  │                                                                  │
  └──────────────────────────────────────────────────────────────────┘

PRECONDITIONS vs DENIALS:
  A precondition failure (unknown module, duplicate request, generic
  justification, ...) is returned as an error and nothing is stored.
  A rule violation is a denial: the request is stored as NEGADO and
  returned in a Result with OutcomeDenied.

ATOMICITY:
  Each write operation runs inside one Store.WithTx call. The
  "no duplicate active request" check and the insert that follows happen
  under the same transaction, so concurrent creates cannot both pass.

EXAMPLE:
  engine := access.NewEngine(store)
  res, err := engine.CreateRequest(ctx, "u1", []string{"m1"}, "Auditoria mensal do financeiro", false)
  if err == nil && res.Approved() {
      // res.Request.Protocol == "SOL-20260101-0001"
  }

SEE ALSO:
  - rules.go:    Evaluator
  - protocol.go: ProtocolGenerator
  - store.go:    repository interfaces
*/
package access

import (
	"context"
	"fmt"
	"io"
	"log"
	"slices"
	"sort"
	"strings"
	"time"
)

// =============================================================================
// ENGINE
// =============================================================================

// Engine adjudicates access requests against the ledgers in Store.
type Engine struct {
	Store     Store
	Protocols ProtocolGenerator
	Now       func() time.Time
	Logger    *log.Logger
}

// NewEngine creates an engine with global protocol numbering, the wall clock
// and logging disabled.
func NewEngine(store Store) *Engine {
	return &Engine{
		Store:     store,
		Protocols: GlobalSequence{},
		Now:       time.Now,
		Logger:    log.New(io.Discard, "", 0),
	}
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now().UTC()
	}
	return e.Now().UTC()
}

func (e *Engine) logf(format string, args ...any) {
	if e.Logger != nil {
		e.Logger.Printf("[Engine] "+format, args...)
	}
}

// =============================================================================
// CREATE
// =============================================================================

// CreateRequest adjudicates a new request for moduleIDs.
func (e *Engine) CreateRequest(
	ctx context.Context,
	userID string,
	moduleIDs []string,
	justification string,
	urgent bool,
) (Result, error) {
	if len(moduleIDs) == 0 {
		return Result{}, ErrNoModules
	}

	var result Result
	err := e.Store.WithTx(ctx, func(tx Repositories) error {
		// 1. Resolve the user
		user, err := tx.FindUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to load user: %w", err)
		}
		if user == nil {
			return &RuleError{Err: ErrUserNotFound, Detail: userID}
		}

		// 2. Preconditions
		activeModules, err := activeModuleIDs(ctx, tx, userID)
		if err != nil {
			return err
		}
		if err := e.validateNewRequest(ctx, tx, userID, moduleIDs, activeModules, justification); err != nil {
			return err
		}

		// 3. Adjudicate and persist
		result, err = e.adjudicate(ctx, tx, adjudication{
			user:          *user,
			modules:       moduleIDs,
			active:        activeModules,
			justification: justification,
			urgent:        urgent,
		})
		return err
	})
	if err != nil {
		return Result{}, err
	}

	e.logf("request %s for user %s: %s", result.Request.Protocol, userID, result.Request.Status)
	return result, nil
}

func (e *Engine) validateNewRequest(
	ctx context.Context,
	tx Repositories,
	userID string,
	moduleIDs []string,
	activeModules []string,
	justification string,
) error {
	activeRequests, err := tx.RequestsByUserAndStatus(ctx, userID, RequestActive)
	if err != nil {
		return fmt.Errorf("failed to load active requests: %w", err)
	}

	for _, id := range moduleIDs {
		m, err := tx.FindModule(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to load module %s: %w", id, err)
		}
		if m == nil {
			return moduleError(ErrModuleNotFound, id)
		}
		if !m.Active {
			return moduleError(ErrModuleInactive, id)
		}

		for _, r := range activeRequests {
			if slices.Contains(r.Modules, id) {
				return &RuleError{Err: ErrDuplicateActiveRequest, ModuleID: id, Protocol: r.Protocol}
			}
		}

		if slices.Contains(activeModules, id) {
			return moduleError(ErrAlreadyHasAccess, id)
		}
	}

	if IsGenericJustification(justification) {
		return ErrInsufficientJustification
	}
	return nil
}

// adjudication is one pass through the rules for a new request, shared by
// create and renew.
type adjudication struct {
	user          User
	modules       []string
	active        []string
	justification string
	urgent        bool
	renewalOf     string
}

func (e *Engine) adjudicate(ctx context.Context, tx Repositories, a adjudication) (Result, error) {
	now := e.now()

	protocol, err := e.Protocols.NextProtocol(ctx, tx, now)
	if err != nil {
		return Result{}, err
	}

	evaluator := Evaluator{Catalog: tx}
	denial, err := evaluator.Evaluate(ctx, EvaluationInput{
		UserID:     a.user.ID,
		Department: a.user.Department,
		Requested:  a.modules,
		Active:     a.active,
	})
	if err != nil {
		return Result{}, err
	}

	request := Request{
		Protocol:       protocol,
		UserID:         a.user.ID,
		UserDepartment: a.user.Department,
		Modules:        slices.Clone(a.modules),
		Justification:  a.justification,
		Urgent:         a.urgent,
		Status:         RequestActive,
		CreatedAt:      now,
		ExpiresAt:      now.Add(GrantValidity),
	}
	request.appendHistory(now, ActionCreated)
	if a.renewalOf != "" {
		request.appendHistory(now, ActionRenewal)
	}

	outcome := OutcomeApproved
	if denial != nil {
		outcome = OutcomeDenied
		request.Status = RequestDenied
		request.DenialReason = denial.Reason
		request.appendHistory(now, ActionDenied)
	} else {
		request.appendHistory(now, ActionApproved)
	}

	if err := tx.InsertRequest(ctx, request); err != nil {
		return Result{}, fmt.Errorf("failed to save request %s: %w", protocol, err)
	}

	if outcome == OutcomeApproved {
		if a.renewalOf != "" {
			if _, err := tx.UpdateAccessStatus(ctx, a.user.ID, a.renewalOf, AccessActive, AccessRevoked); err != nil {
				return Result{}, fmt.Errorf("failed to revoke accesses of %s: %w", a.renewalOf, err)
			}
		}
		if err := tx.AppendAccesses(ctx, grantsFor(request)); err != nil {
			return Result{}, fmt.Errorf("failed to save accesses for %s: %w", protocol, err)
		}
	}

	return Result{Request: request.Clone(), Outcome: outcome}, nil
}

func grantsFor(r Request) []Access {
	accesses := make([]Access, 0, len(r.Modules))
	for _, id := range r.Modules {
		accesses = append(accesses, Access{
			UserID:          r.UserID,
			ModuleID:        id,
			Status:          AccessActive,
			GrantedAt:       r.CreatedAt,
			ExpiresAt:       r.ExpiresAt,
			RequestProtocol: r.Protocol,
		})
	}
	return accesses
}

func activeModuleIDs(ctx context.Context, repo AccessRepository, userID string) ([]string, error) {
	accesses, err := repo.AccessesByUser(ctx, userID, AccessActive)
	if err != nil {
		return nil, fmt.Errorf("failed to load active accesses: %w", err)
	}
	ids := make([]string, 0, len(accesses))
	for _, a := range accesses {
		ids = append(ids, a.ModuleID)
	}
	return ids, nil
}

// =============================================================================
// CANCEL
// =============================================================================

// CancelRequest cancels an ATIVO request and revokes its accesses.
func (e *Engine) CancelRequest(ctx context.Context, userID, protocol, reason string) (*Request, error) {
	var cancelled Request
	var revoked int
	err := e.Store.WithTx(ctx, func(tx Repositories) error {
		request, err := tx.FindRequest(ctx, protocol, userID)
		if err != nil {
			return fmt.Errorf("failed to load request %s: %w", protocol, err)
		}
		if request == nil {
			return protocolError(ErrRequestNotFound, protocol, "")
		}
		if !request.Status.CanTransitionTo(RequestCancelled) {
			return protocolError(ErrInvalidStateTransition, protocol,
				fmt.Sprintf("only %s requests can be cancelled, current status: %s", RequestActive, request.Status))
		}

		request.Status = RequestCancelled
		request.appendHistory(e.now(), CancellationAction(reason))
		if err := tx.UpdateRequest(ctx, *request); err != nil {
			return fmt.Errorf("failed to save request %s: %w", protocol, err)
		}

		revoked, err = tx.UpdateAccessStatus(ctx, userID, protocol, AccessActive, AccessRevoked)
		if err != nil {
			return fmt.Errorf("failed to revoke accesses of %s: %w", protocol, err)
		}

		cancelled = request.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logf("request %s cancelled by user %s, %d accesses revoked", protocol, userID, revoked)
	return &cancelled, nil
}

// =============================================================================
// RENEW
// =============================================================================

// RenewAccess creates a new request for the modules of originalProtocol.
// Allowed only while the request is ATIVO and its earliest active access
// expires in fewer than RenewalWindowDays whole days.
func (e *Engine) RenewAccess(ctx context.Context, userID, originalProtocol string) (Result, error) {
	var result Result
	err := e.Store.WithTx(ctx, func(tx Repositories) error {
		original, err := tx.FindRequest(ctx, originalProtocol, userID)
		if err != nil {
			return fmt.Errorf("failed to load request %s: %w", originalProtocol, err)
		}
		if original == nil {
			return protocolError(ErrRequestNotFound, originalProtocol, "")
		}
		if original.Status != RequestActive {
			return protocolError(ErrInvalidStateTransition, originalProtocol,
				fmt.Sprintf("only %s requests can be renewed, current status: %s", RequestActive, original.Status))
		}

		grants, err := tx.AccessesByProtocol(ctx, userID, originalProtocol, AccessActive)
		if err != nil {
			return fmt.Errorf("failed to load accesses of %s: %w", originalProtocol, err)
		}
		if len(grants) == 0 {
			return protocolError(ErrNoActiveAccess, originalProtocol, "")
		}

		earliest := slices.MinFunc(grants, func(a, b Access) int {
			return a.ExpiresAt.Compare(b.ExpiresAt)
		})
		if days := earliest.DaysUntilExpiry(e.now()); days >= RenewalWindowDays {
			return protocolError(ErrTooEarlyToRenew, originalProtocol,
				fmt.Sprintf("%d days until expiration, renewal opens %d days before", days, RenewalWindowDays))
		}

		user, err := tx.FindUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to load user: %w", err)
		}
		if user == nil {
			return &RuleError{Err: ErrUserNotFound, Detail: userID}
		}

		// The grants being superseded do not count against the user.
		active, err := activeModuleIDs(ctx, tx, userID)
		if err != nil {
			return err
		}
		active = withoutGrants(active, grants)

		result, err = e.adjudicate(ctx, tx, adjudication{
			user:          *user,
			modules:       original.Modules,
			active:        active,
			justification: RenewalJustification(originalProtocol),
			urgent:        original.Urgent,
			renewalOf:     originalProtocol,
		})
		return err
	})
	if err != nil {
		return Result{}, err
	}

	e.logf("request %s renewed as %s for user %s: %s",
		originalProtocol, result.Request.Protocol, userID, result.Request.Status)
	return result, nil
}

// withoutGrants removes one occurrence of each grant's module from active.
func withoutGrants(active []string, grants []Access) []string {
	remaining := slices.Clone(active)
	for _, g := range grants {
		if i := slices.Index(remaining, g.ModuleID); i >= 0 {
			remaining = slices.Delete(remaining, i, i+1)
		}
	}
	return remaining
}

// =============================================================================
// QUERIES
// =============================================================================

// SearchFilter narrows SearchRequests. Zero values disable a filter.
type SearchFilter struct {
	Search    string     // substring of protocol or of a module name, case-insensitive
	Status    string     // case-insensitive status
	StartDate *time.Time // inclusive lower bound on CreatedAt
	EndDate   *time.Time // inclusive upper bound on CreatedAt
	Urgent    *bool
}

// SearchRequests returns the user's requests matching every filter, most
// recent first.
func (e *Engine) SearchRequests(ctx context.Context, userID string, filter SearchFilter) ([]Request, error) {
	requests, err := e.Store.RequestsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load requests: %w", err)
	}

	names, err := e.moduleNames(ctx)
	if err != nil {
		return nil, err
	}

	search := strings.ToLower(filter.Search)
	matched := make([]Request, 0, len(requests))
	for _, r := range requests {
		if search != "" && !matchesSearch(r, search, names) {
			continue
		}
		if filter.Status != "" && !strings.EqualFold(string(r.Status), filter.Status) {
			continue
		}
		if filter.StartDate != nil && r.CreatedAt.Before(*filter.StartDate) {
			continue
		}
		if filter.EndDate != nil && r.CreatedAt.After(*filter.EndDate) {
			continue
		}
		if filter.Urgent != nil && r.Urgent != *filter.Urgent {
			continue
		}
		matched = append(matched, r)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return matched, nil
}

func matchesSearch(r Request, search string, names map[string]string) bool {
	if strings.Contains(strings.ToLower(r.Protocol), search) {
		return true
	}
	for _, id := range r.Modules {
		name, ok := names[id]
		if ok && strings.Contains(strings.ToLower(name), search) {
			return true
		}
	}
	return false
}

func (e *Engine) moduleNames(ctx context.Context) (map[string]string, error) {
	modules, err := e.Store.ListModules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list modules: %w", err)
	}
	names := make(map[string]string, len(modules))
	for _, m := range modules {
		names[m.ID] = m.Name
	}
	return names, nil
}

// FindRequestByProtocol returns the user's request, or nil if there is none.
func (e *Engine) FindRequestByProtocol(ctx context.Context, userID, protocol string) (*Request, error) {
	r, err := e.Store.FindRequest(ctx, protocol, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load request %s: %w", protocol, err)
	}
	return r, nil
}

// ListModules returns the whole catalog.
func (e *Engine) ListModules(ctx context.Context) ([]Module, error) {
	return e.Store.ListModules(ctx)
}

// ActiveAccesses returns the user's ATIVO accesses.
func (e *Engine) ActiveAccesses(ctx context.Context, userID string) ([]Access, error) {
	return e.Store.AccessesByUser(ctx, userID, AccessActive)
}
