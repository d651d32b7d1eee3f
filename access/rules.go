/*
rules.go - Business rule evaluator

PURPOSE:
  Decides whether a set of requested modules can be granted to a user,
  given their department and the modules they already hold. Pure: reads
  the catalog, writes nothing.

CHECK ORDER (first failure wins):
  1. For each requested module, in order:
     a. resolve it (ErrModuleNotFound is a hard error, not a denial)
     b. department eligibility
     c. incompatibility with any active module (either direction)
  2. Capacity: active + requested > MaxModules(department)
  3. Pairwise incompatibility within the request (either direction)

  The order decides which reason is surfaced when several rules are broken,
  so it must not change.
*/
package access

import (
	"context"
	"fmt"
)

// Denial reasons, surfaced verbatim to users.
const (
	ReasonDepartmentNotAllowed = "Departamento sem permissão para acessar este módulo"
	ReasonIncompatibleModule   = "Módulo incompatível com outro módulo já ativo em seu perfil"
	ReasonModuleLimitReached   = "Limite de módulos ativos atingido"
)

// Denial explains why a request cannot be approved.
type Denial struct {
	Reason   string
	ModuleID string // offending module, empty for capacity denials
}

// EvaluationInput is everything the evaluator needs about one request.
type EvaluationInput struct {
	UserID     string
	Department string
	Requested  []string
	Active     []string
}

// Evaluator applies the business rules against a module catalog.
type Evaluator struct {
	Catalog ModuleRepository
}

// Evaluate returns nil when the request is approvable, or the first Denial
// found. Errors are reserved for missing modules and catalog failures.
func (e Evaluator) Evaluate(ctx context.Context, in EvaluationInput) (*Denial, error) {
	active, err := e.resolveActive(ctx, in.Active)
	if err != nil {
		return nil, err
	}

	requested := make([]Module, 0, len(in.Requested))
	for _, id := range in.Requested {
		m, err := e.Catalog.FindModule(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load module %s: %w", id, err)
		}
		if m == nil {
			return nil, moduleError(ErrModuleNotFound, id)
		}

		if !m.AllowsDepartment(in.Department) {
			return &Denial{Reason: ReasonDepartmentNotAllowed, ModuleID: id}, nil
		}
		for _, a := range active {
			if m.IncompatibleWith(a) {
				return &Denial{Reason: ReasonIncompatibleModule, ModuleID: id}, nil
			}
		}
		requested = append(requested, *m)
	}

	if len(in.Active)+len(in.Requested) > MaxModules(in.Department) {
		return &Denial{Reason: ReasonModuleLimitReached}, nil
	}

	for i := range requested {
		for j := i + 1; j < len(requested); j++ {
			if requested[i].IncompatibleWith(requested[j]) {
				return &Denial{Reason: ReasonIncompatibleModule, ModuleID: requested[j].ID}, nil
			}
		}
	}

	return nil, nil
}

// resolveActive loads the user's active modules. Active ids that no longer
// exist in the catalog cannot conflict with anything and are skipped.
func (e Evaluator) resolveActive(ctx context.Context, ids []string) ([]Module, error) {
	modules := make([]Module, 0, len(ids))
	for _, id := range ids {
		m, err := e.Catalog.FindModule(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load active module %s: %w", id, err)
		}
		if m != nil {
			modules = append(modules, *m)
		}
	}
	return modules, nil
}
