/*
scenarios.go - Demo scenario loaders for demonstrations

PURPOSE:

	Provides pre-built scenarios that walk a demo user through the request
	lifecycle, so the web client has realistic data to show. Each scenario
	creates its own user (password "senha123") and drives the engine.

AVAILABLE SCENARIOS:

	incompatible-then-cancel: Conflicting RH modules, unblocked by a cancel
	department-denied:        Operações user denied a Financeiro module
	renewal-due:              Financeiro grants approved 160 days ago

HOW SCENARIOS WORK:
 1. Check the modules the scenario needs are in the catalog
 2. Create the demo user
 3. Refuse to run again if the demo user already has requests
 4. Create / cancel requests through the engine, backdating where needed,
    all inside one transaction

	The ledgers are append-only, so nothing is reset. A scenario can be
	loaded once per database.

USAGE VIA API:

	GET  /api/scenarios
	POST /api/scenarios/load
	{"scenario_id": "renewal-due"}

	Routes exist only when the handler has a Catalog writer
	(-demo-scenarios).

SEE ALSO:
  - seed/default.yaml: the module ids scenarios rely on
  - handlers.go: Handler
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/access-engine/access"
	"github.com/warp/access-engine/seed"
)

const demoPassword = "senha123"

// ErrScenarioLoaded is returned when a scenario's demo user already has
// requests.
var ErrScenarioLoaded = errors.New("scenario already loaded")

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenario struct {
	ScenarioDTO
	user    seed.UserDoc
	modules []string
	load    func(ctx context.Context, d demo, userID string) error
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "incompatible-then-cancel",
			Name:        "Incompatible Modules",
			Description: "Administrador RH blocks Colaborador RH until it is cancelled",
			Login:       "demo-rh@empresa.com",
		},
		user:    seed.UserDoc{ID: "demo-rh", Email: "demo-rh@empresa.com", Name: "Demo RH", Department: "RH"},
		modules: []string{"admin-rh", "colaborador-rh"},
		load:    loadIncompatibleThenCancel,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "department-denied",
			Name:        "Department Denied",
			Description: "Operações user denied Gestão Financeira, approved for Estoque",
			Login:       "demo-ops@empresa.com",
		},
		user:    seed.UserDoc{ID: "demo-ops", Email: "demo-ops@empresa.com", Name: "Demo Operações", Department: "Operações"},
		modules: []string{"gestao-financeira", "portal", "estoque"},
		load:    loadDepartmentDenied,
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "renewal-due",
			Name:        "Renewal Due",
			Description: "Financeiro grants expiring in 20 days, ready to renew",
			Login:       "demo-fin@empresa.com",
		},
		user:    seed.UserDoc{ID: "demo-fin", Email: "demo-fin@empresa.com", Name: "Demo Financeiro", Department: "Financeiro"},
		modules: []string{"gestao-financeira", "compras"},
		load:    loadRenewalDue,
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		dtos[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, dtos)
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	var found *scenario
	for i := range scenarios {
		if scenarios[i].ID == req.ScenarioID {
			found = &scenarios[i]
		}
	}
	if found == nil {
		writeError(w, http.StatusBadRequest, "Unknown scenario")
		return
	}

	err := h.runScenario(r.Context(), *found)
	if errors.Is(err, ErrScenarioLoaded) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "loaded",
		"scenario": found.ID,
		"login":    found.Login,
	})
}

func (h *Handler) runScenario(ctx context.Context, s scenario) error {
	for _, id := range s.modules {
		m, err := h.Engine.Store.FindModule(ctx, id)
		if err != nil {
			return err
		}
		if m == nil || !m.Active {
			return fmt.Errorf("scenario %s requires active module %q", s.ID, id)
		}
	}

	existing, err := h.Engine.Store.RequestsByUser(ctx, s.user.ID)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return fmt.Errorf("%w: %s", ErrScenarioLoaded, s.ID)
	}

	user := s.user
	user.Password = demoPassword
	catalog, err := seed.FromDocument(seed.Document{Users: []seed.UserDoc{user}})
	if err != nil {
		return err
	}
	if err := catalog.Apply(ctx, h.Catalog); err != nil {
		return err
	}

	// A scenario's requests commit together.
	return h.Engine.Store.WithTx(ctx, func(tx access.Repositories) error {
		d := demo{engine: *h.Engine, now: h.Now()}
		d.engine.Store = access.JoinTx(tx)
		return s.load(ctx, d, user.ID)
	})
}

// demo drives the engine inside a scenario's transaction.
type demo struct {
	engine access.Engine
	now    time.Time
}

// at returns an engine whose clock is frozen at now minus ago.
func (d demo) at(ago time.Duration) *access.Engine {
	e := d.engine
	t := d.now.Add(-ago)
	e.Now = func() time.Time { return t }
	return &e
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func loadIncompatibleThenCancel(ctx context.Context, d demo, userID string) error {
	// Walk through a week: approve, get blocked, cancel, retry.
	admin, err := d.at(7*24*time.Hour).CreateRequest(ctx, userID,
		[]string{"admin-rh"}, "Responsável pela folha de pagamento da filial.", false)
	if err != nil {
		return err
	}
	if _, err := d.at(6*24*time.Hour).CreateRequest(ctx, userID,
		[]string{"colaborador-rh"}, "Preciso consultar meus holerites pelo portal.", false); err != nil {
		return err
	}
	if _, err := d.at(24*time.Hour).CancelRequest(ctx, userID,
		admin.Request.Protocol, "Mudança de função"); err != nil {
		return err
	}
	_, err = d.at(0).CreateRequest(ctx, userID,
		[]string{"colaborador-rh"}, "Preciso consultar meus holerites pelo portal.", true)
	return err
}

func loadDepartmentDenied(ctx context.Context, d demo, userID string) error {
	if _, err := d.at(0).CreateRequest(ctx, userID,
		[]string{"gestao-financeira"}, "Acompanhar os custos de reposição do estoque.", false); err != nil {
		return err
	}
	_, err := d.at(0).CreateRequest(ctx, userID,
		[]string{"portal", "estoque"}, "Controle diário das entradas e saídas do estoque.", false)
	return err
}

func loadRenewalDue(ctx context.Context, d demo, userID string) error {
	_, err := d.at(160*24*time.Hour).CreateRequest(ctx, userID,
		[]string{"gestao-financeira", "compras"}, "Fechamento contábil e aprovação de compras do setor.", true)
	return err
}
