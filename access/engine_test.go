package access_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/access-engine/access"
	"github.com/warp/access-engine/access/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const (
	day           = 24 * time.Hour
	justification = "Necessito de acesso ao módulo financeiro para a auditoria mensal."
)

var start = time.Date(2026, time.January, 1, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	t      *testing.T
	ctx    context.Context
	store  *store.Memory
	engine *access.Engine
	now    time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	env := &testEnv{
		t:     t,
		ctx:   context.Background(),
		store: store.NewMemory(),
		now:   start,
	}
	env.engine = access.NewEngine(env.store)
	env.engine.Now = func() time.Time { return env.now }
	return env
}

func (e *testEnv) addModules(modules ...access.Module) {
	for _, m := range modules {
		require.NoError(e.t, e.store.SaveModule(e.ctx, m))
	}
}

func (e *testEnv) addUser(id, dept string) {
	require.NoError(e.t, e.store.SaveUser(e.ctx, access.User{
		ID:         id,
		Email:      id + "@empresa.com",
		Name:       "User " + id,
		Department: dept,
	}))
}

func (e *testEnv) advance(d time.Duration) {
	e.now = e.now.Add(d)
}

func (e *testEnv) create(userID string, modules ...string) access.Result {
	e.t.Helper()
	res, err := e.engine.CreateRequest(e.ctx, userID, modules, justification, false)
	require.NoError(e.t, err)
	return res
}

func (e *testEnv) accesses(userID, protocol string, status access.AccessStatus) []access.Access {
	e.t.Helper()
	accesses, err := e.store.AccessesByProtocol(e.ctx, userID, protocol, status)
	require.NoError(e.t, err)
	return accesses
}

func (e *testEnv) requestCount() int {
	e.t.Helper()
	n, err := e.store.CountRequests(e.ctx)
	require.NoError(e.t, err)
	return n
}

func actions(r access.Request) []string {
	out := make([]string, len(r.History))
	for i, h := range r.History {
		out[i] = h.Action
	}
	return out
}

func moduleIDs(accesses []access.Access) []string {
	ids := make([]string, len(accesses))
	for i, a := range accesses {
		ids[i] = a.ModuleID
	}
	return ids
}

// =============================================================================
// CREATE TESTS
// =============================================================================

func TestCreateRequest_Eligible_ApprovedWithOneAccessPerModule(t *testing.T) {
	// GIVEN: An RH user and three RH modules without conflicts
	// WHEN: Requesting all three
	// THEN: ATIVO, no denial reason, one ATIVO access per module under the new protocol

	env := newTestEnv(t)
	env.addModules(mod("m1", rh), mod("m2", rh), mod("m3", rh))
	env.addUser("u1", "RH")

	res := env.create("u1", "m1", "m2", "m3")

	assert.True(t, res.Approved())
	r := res.Request
	assert.Equal(t, "SOL-20260101-0001", r.Protocol)
	assert.Equal(t, access.RequestActive, r.Status)
	assert.Empty(t, r.DenialReason)
	assert.Equal(t, "RH", r.UserDepartment)
	assert.Equal(t, start, r.CreatedAt)
	assert.Equal(t, start.Add(180*day), r.ExpiresAt)
	assert.Equal(t, []string{access.ActionCreated, access.ActionApproved}, actions(r))

	granted := env.accesses("u1", r.Protocol, access.AccessActive)
	assert.ElementsMatch(t, []string{"m1", "m2", "m3"}, moduleIDs(granted))
	for _, a := range granted {
		assert.Equal(t, r.CreatedAt, a.GrantedAt)
		assert.Equal(t, r.ExpiresAt, a.ExpiresAt)
	}
}

func TestCreateRequest_DepartmentNotAllowed_DeniedWithoutAccesses(t *testing.T) {
	env := newTestEnv(t)
	env.addModules(mod("fin", []string{"Financeiro"}))
	env.addUser("u1", "RH")

	res := env.create("u1", "fin")

	assert.True(t, res.Denied())
	assert.Equal(t, access.RequestDenied, res.Request.Status)
	assert.Equal(t, access.ReasonDepartmentNotAllowed, res.Request.DenialReason)
	assert.Equal(t, []string{access.ActionCreated, access.ActionDenied}, actions(res.Request))
	assert.Empty(t, env.accesses("u1", res.Request.Protocol, access.AccessActive))

	// Denials are persisted
	stored, err := env.engine.FindRequestByProtocol(env.ctx, "u1", res.Request.Protocol)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, access.RequestDenied, stored.Status)
}

func TestCreateRequest_TI_ApprovedRegardlessOfDepartments(t *testing.T) {
	env := newTestEnv(t)
	env.addModules(mod("fin", []string{"Financeiro"}), mod("rh", rh))
	env.addUser("ti", access.DepartmentTI)

	res := env.create("ti", "fin", "rh")

	assert.True(t, res.Approved())
}

func TestCreateRequest_IncompatiblePair_Denied(t *testing.T) {
	env := newTestEnv(t)
	env.addModules(mod("aprov", rh, "solic"), mod("solic", rh))
	env.addUser("u1", "RH")

	res := env.create("u1", "solic", "aprov")

	assert.True(t, res.Denied())
	assert.Equal(t, access.ReasonIncompatibleModule, res.Request.DenialReason)
}

func TestCreateRequest_OverCapacity_Denied(t *testing.T) {
	// GIVEN: An RH user already holding 5 modules
	// WHEN: Requesting a 6th compatible module
	// THEN: NEGADO with the limit reason

	env := newTestEnv(t)
	env.addModules(mod("m1", rh), mod("m2", rh), mod("m3", rh), mod("m4", rh), mod("m5", rh), mod("m6", rh))
	env.addUser("u1", "RH")
	require.True(t, env.create("u1", "m1", "m2", "m3").Approved())
	require.True(t, env.create("u1", "m4", "m5").Approved())

	res := env.create("u1", "m6")

	assert.True(t, res.Denied())
	assert.Equal(t, access.ReasonModuleLimitReached, res.Request.DenialReason)
}

func TestCreateRequest_SequentialProtocols(t *testing.T) {
	env := newTestEnv(t)
	env.addModules(mod("m1", rh), mod("fin", []string{"Financeiro"}))
	env.addUser("u1", "RH")

	first := env.create("u1", "fin") // denied requests count too
	env.advance(day)
	second := env.create("u1", "m1")

	assert.Equal(t, "SOL-20260101-0001", first.Request.Protocol)
	assert.Equal(t, "SOL-20260102-0002", second.Request.Protocol)
}

// =============================================================================
// CREATE PRECONDITION TESTS
// =============================================================================

func TestCreateRequest_Preconditions(t *testing.T) {
	inactive := mod("old", rh)
	inactive.Active = false

	tests := []struct {
		name     string
		setup    func(env *testEnv)
		userID   string
		modules  []string
		why      string
		wantErr  error
		notFound bool
	}{
		{
			name:     "unknown user",
			userID:   "ghost",
			modules:  []string{"m1"},
			wantErr:  access.ErrUserNotFound,
			notFound: true,
		},
		{
			name:     "unknown module",
			modules:  []string{"m1", "nope"},
			wantErr:  access.ErrModuleNotFound,
			notFound: true,
		},
		{
			name:    "inactive module",
			modules: []string{"old"},
			wantErr: access.ErrModuleInactive,
		},
		{
			name:    "no modules",
			modules: nil,
			wantErr: access.ErrNoModules,
		},
		{
			name:    "generic justification",
			modules: []string{"m1"},
			why:     " Preciso ",
			wantErr: access.ErrInsufficientJustification,
		},
		{
			name: "module already in an active request",
			setup: func(env *testEnv) {
				env.create("u1", "m1")
			},
			modules: []string{"m2", "m1"},
			wantErr: access.ErrDuplicateActiveRequest,
		},
		{
			name: "module already granted outside any active request",
			setup: func(env *testEnv) {
				require.NoError(t, env.store.AppendAccesses(env.ctx, []access.Access{{
					UserID:          "u1",
					ModuleID:        "m1",
					Status:          access.AccessActive,
					GrantedAt:       start,
					ExpiresAt:       start.Add(180 * day),
					RequestProtocol: "SOL-20251201-0001",
				}}))
			},
			modules: []string{"m1"},
			wantErr: access.ErrAlreadyHasAccess,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.addModules(mod("m1", rh), mod("m2", rh), inactive)
			env.addUser("u1", "RH")
			if tt.setup != nil {
				tt.setup(env)
			}
			before := env.requestCount()

			userID := tt.userID
			if userID == "" {
				userID = "u1"
			}
			why := tt.why
			if why == "" {
				why = justification
			}

			_, err := env.engine.CreateRequest(env.ctx, userID, tt.modules, why, false)

			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.notFound, access.IsNotFound(err))
			assert.Equal(t, !tt.notFound, access.IsPreconditionFailed(err))
			assert.Equal(t, before, env.requestCount(), "nothing is stored on precondition failure")
		})
	}
}

func TestCreateRequest_DuplicateActiveRequest_ReportsModuleAndProtocol(t *testing.T) {
	env := newTestEnv(t)
	env.addModules(mod("m1", rh))
	env.addUser("u1", "RH")
	first := env.create("u1", "m1")

	_, err := env.engine.CreateRequest(env.ctx, "u1", []string{"m1"}, justification, true)

	var ruleErr *access.RuleError
	require.ErrorAs(t, err, &ruleErr)
	assert.Equal(t, "m1", ruleErr.ModuleID)
	assert.Equal(t, first.Request.Protocol, ruleErr.Protocol)
}

// =============================================================================
// ATOMICITY TESTS
// =============================================================================

var errDiskFull = errors.New("disk full")

type failingAppends struct {
	access.Repositories
}

func (failingAppends) AppendAccesses(context.Context, []access.Access) error {
	return errDiskFull
}

type failingStore struct {
	*store.Memory
}

func (s failingStore) WithTx(ctx context.Context, fn func(access.Repositories) error) error {
	return s.Memory.WithTx(ctx, func(tx access.Repositories) error {
		return fn(failingAppends{tx})
	})
}

func TestCreateRequest_AccessWriteFails_NothingCommitted(t *testing.T) {
	// GIVEN: A store whose access ledger rejects writes
	// WHEN: An approvable request is created
	// THEN: The storage error propagates and no ATIVO request is left behind

	env := newTestEnv(t)
	env.addModules(mod("m1", rh))
	env.addUser("u1", "RH")
	engine := access.NewEngine(failingStore{env.store})

	_, err := engine.CreateRequest(env.ctx, "u1", []string{"m1"}, justification, false)

	assert.ErrorIs(t, err, errDiskFull)
	assert.False(t, access.IsPreconditionFailed(err))
	assert.False(t, access.IsNotFound(err))
	assert.Zero(t, env.requestCount())
}

func TestJoinTx_OperationsShareOuterTransaction(t *testing.T) {
	// GIVEN: An engine joined to an open store transaction
	// WHEN: Two requests are created and the outer transaction fails
	// THEN: Neither request nor its accesses are kept

	env := newTestEnv(t)
	env.addModules(mod("m1", rh), mod("m2", rh))
	env.addUser("u1", "RH")

	err := env.store.WithTx(env.ctx, func(tx access.Repositories) error {
		joined := *env.engine
		joined.Store = access.JoinTx(tx)
		for _, m := range []string{"m1", "m2"} {
			res, err := joined.CreateRequest(env.ctx, "u1", []string{m}, justification, false)
			require.NoError(t, err)
			require.True(t, res.Approved())
		}
		return errDiskFull
	})

	assert.ErrorIs(t, err, errDiskFull)
	assert.Zero(t, env.requestCount())
	active, err := env.engine.ActiveAccesses(env.ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, active)
}

// =============================================================================
// CONCURRENCY TESTS
// =============================================================================

func TestCreateRequest_ConcurrentDuplicates_OneWins(t *testing.T) {
	// GIVEN: Many concurrent requests for the same module by the same user
	// WHEN: They race
	// THEN: Exactly one is approved, the rest fail as duplicates

	env := newTestEnv(t)
	env.addModules(mod("m1", rh))
	env.addUser("u1", "RH")

	const workers = 16
	var wg sync.WaitGroup
	results := make([]access.Result, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = env.engine.CreateRequest(env.ctx, "u1", []string{"m1"}, justification, false)
		}(i)
	}
	wg.Wait()

	approved := 0
	for i := range errs {
		if errs[i] == nil {
			assert.True(t, results[i].Approved())
			approved++
			continue
		}
		assert.ErrorIs(t, errs[i], access.ErrDuplicateActiveRequest)
	}
	assert.Equal(t, 1, approved)

	active, err := env.store.AccessesByUser(env.ctx, "u1", access.AccessActive)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

// =============================================================================
// CANCEL TESTS
// =============================================================================

func TestCancelRequest_Active_RevokesOnlyItsAccesses(t *testing.T) {
	env := newTestEnv(t)
	env.addModules(mod("m1", rh), mod("m2", rh), mod("m3", rh))
	env.addUser("u1", "RH")
	target := env.create("u1", "m1", "m2")
	other := env.create("u1", "m3")
	env.advance(time.Hour)

	cancelled, err := env.engine.CancelRequest(env.ctx, "u1", target.Request.Protocol, "Mudança de função")

	require.NoError(t, err)
	assert.Equal(t, access.RequestCancelled, cancelled.Status)
	assert.Equal(t,
		[]string{access.ActionCreated, access.ActionApproved, "CANCELLED: Mudança de função"},
		actions(*cancelled))
	assert.Equal(t, start.Add(time.Hour), cancelled.History[2].At)

	assert.Empty(t, env.accesses("u1", target.Request.Protocol, access.AccessActive))
	assert.Len(t, env.accesses("u1", target.Request.Protocol, access.AccessRevoked), 2)
	assert.Len(t, env.accesses("u1", other.Request.Protocol, access.AccessActive), 1)

	stored, err := env.engine.FindRequestByProtocol(env.ctx, "u1", target.Request.Protocol)
	require.NoError(t, err)
	assert.Equal(t, cancelled, stored)
}

func TestCancelRequest_NotActive_PreconditionFailed(t *testing.T) {
	env := newTestEnv(t)
	env.addModules(mod("m1", rh), mod("fin", []string{"Financeiro"}))
	env.addUser("u1", "RH")
	denied := env.create("u1", "fin")
	cancelled := env.create("u1", "m1")
	_, err := env.engine.CancelRequest(env.ctx, "u1", cancelled.Request.Protocol, "Mudança de função")
	require.NoError(t, err)

	for _, protocol := range []string{denied.Request.Protocol, cancelled.Request.Protocol} {
		_, err := env.engine.CancelRequest(env.ctx, "u1", protocol, "Mudança de função")

		assert.ErrorIs(t, err, access.ErrInvalidStateTransition, protocol)
		assert.True(t, access.IsPreconditionFailed(err))
	}

	again, err := env.engine.FindRequestByProtocol(env.ctx, "u1", cancelled.Request.Protocol)
	require.NoError(t, err)
	assert.Len(t, again.History, 3, "failed cancel appends nothing")
}

func TestCancelRequest_UnknownOrForeign_NotFound(t *testing.T) {
	env := newTestEnv(t)
	env.addModules(mod("m1", rh))
	env.addUser("u1", "RH")
	env.addUser("u2", "RH")
	owned := env.create("u1", "m1")

	_, err := env.engine.CancelRequest(env.ctx, "u1", "SOL-20260101-9999", "Mudança de função")
	assert.ErrorIs(t, err, access.ErrRequestNotFound)

	_, err = env.engine.CancelRequest(env.ctx, "u2", owned.Request.Protocol, "Mudança de função")
	assert.ErrorIs(t, err, access.ErrRequestNotFound)
	assert.Len(t, env.accesses("u1", owned.Request.Protocol, access.AccessActive), 1)
}

// =============================================================================
// RENEW TESTS
// =============================================================================

func TestRenewAccess_Window(t *testing.T) {
	// Accesses last 180 days; renewal opens when fewer than 30 whole days remain.
	tests := []struct {
		name    string
		elapsed time.Duration
		wantErr error
	}{
		{"just created", 0, access.ErrTooEarlyToRenew},
		{"exactly 30 days left", 150 * day, access.ErrTooEarlyToRenew},
		{"29 days and 23 hours left", 150*day + time.Hour, nil},
		{"one day left", 179 * day, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.addModules(mod("m1", rh))
			env.addUser("u1", "RH")
			original := env.create("u1", "m1")
			env.advance(tt.elapsed)

			res, err := env.engine.RenewAccess(env.ctx, "u1", original.Request.Protocol)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.True(t, access.IsPreconditionFailed(err))
				return
			}
			require.NoError(t, err)
			assert.True(t, res.Approved())
			assert.NotEqual(t, original.Request.Protocol, res.Request.Protocol)
		})
	}
}

func TestRenewAccess_Approved_ReplacesGrants(t *testing.T) {
	env := newTestEnv(t)
	env.addModules(mod("m1", rh), mod("m2", rh))
	env.addUser("u1", "RH")
	original, err := env.engine.CreateRequest(env.ctx, "u1", []string{"m1", "m2"}, justification, true)
	require.NoError(t, err)
	env.advance(151 * day)

	res, err := env.engine.RenewAccess(env.ctx, "u1", original.Request.Protocol)

	require.NoError(t, err)
	renewed := res.Request
	assert.Equal(t, "SOL-20260601-0002", renewed.Protocol)
	assert.Equal(t, access.RequestActive, renewed.Status)
	assert.Equal(t, []string{"m1", "m2"}, renewed.Modules)
	assert.True(t, renewed.Urgent, "urgent is copied from the original")
	assert.Equal(t, "Renovação de acesso - Solicitação original: "+original.Request.Protocol, renewed.Justification)
	assert.Equal(t, []string{access.ActionCreated, access.ActionRenewal, access.ActionApproved}, actions(renewed))
	assert.Equal(t, env.now.Add(180*day), renewed.ExpiresAt)

	assert.Empty(t, env.accesses("u1", original.Request.Protocol, access.AccessActive))
	assert.Len(t, env.accesses("u1", original.Request.Protocol, access.AccessRevoked), 2)
	assert.ElementsMatch(t, []string{"m1", "m2"}, moduleIDs(env.accesses("u1", renewed.Protocol, access.AccessActive)))

	// The original request keeps its status; its grants are gone
	stored, err := env.engine.FindRequestByProtocol(env.ctx, "u1", original.Request.Protocol)
	require.NoError(t, err)
	assert.Equal(t, access.RequestActive, stored.Status)

	_, err = env.engine.RenewAccess(env.ctx, "u1", original.Request.Protocol)
	assert.ErrorIs(t, err, access.ErrNoActiveAccess)
}

func TestRenewAccess_AtCapacity_SupersededGrantsDoNotCount(t *testing.T) {
	// GIVEN: An RH user at the 5-module limit
	// WHEN: Renewing a request for 3 of those modules
	// THEN: Approved, since the renewal replaces rather than adds

	env := newTestEnv(t)
	env.addModules(mod("m1", rh), mod("m2", rh), mod("m3", rh), mod("m4", rh), mod("m5", rh))
	env.addUser("u1", "RH")
	original := env.create("u1", "m1", "m2", "m3")
	env.create("u1", "m4", "m5")
	env.advance(160 * day)

	res, err := env.engine.RenewAccess(env.ctx, "u1", original.Request.Protocol)

	require.NoError(t, err)
	assert.True(t, res.Approved())
	active, err := env.store.AccessesByUser(env.ctx, "u1", access.AccessActive)
	require.NoError(t, err)
	assert.Len(t, active, 5)
}

func TestRenewAccess_RulesChanged_DeniedKeepsOriginalGrants(t *testing.T) {
	// GIVEN: A user who moved to a department the module does not allow
	// WHEN: Renewing inside the window
	// THEN: The renewal is NEGADO and the original grants stay ATIVO

	env := newTestEnv(t)
	env.addModules(mod("m1", rh))
	env.addUser("u1", "RH")
	original := env.create("u1", "m1")
	env.advance(170 * day)
	env.addUser("u1", "Financeiro")

	res, err := env.engine.RenewAccess(env.ctx, "u1", original.Request.Protocol)

	require.NoError(t, err)
	assert.True(t, res.Denied())
	assert.Equal(t, access.ReasonDepartmentNotAllowed, res.Request.DenialReason)
	assert.Equal(t, "Financeiro", res.Request.UserDepartment)
	assert.Equal(t, []string{access.ActionCreated, access.ActionRenewal, access.ActionDenied}, actions(res.Request))
	assert.Len(t, env.accesses("u1", original.Request.Protocol, access.AccessActive), 1)
	assert.Empty(t, env.accesses("u1", res.Request.Protocol, access.AccessActive))
}

func TestRenewAccess_Preconditions(t *testing.T) {
	env := newTestEnv(t)
	env.addModules(mod("m1", rh), mod("fin", []string{"Financeiro"}))
	env.addUser("u1", "RH")
	denied := env.create("u1", "fin")
	cancelled := env.create("u1", "m1")
	_, err := env.engine.CancelRequest(env.ctx, "u1", cancelled.Request.Protocol, "Mudança de função")
	require.NoError(t, err)
	env.advance(170 * day)

	_, err = env.engine.RenewAccess(env.ctx, "u1", "SOL-20260101-9999")
	assert.ErrorIs(t, err, access.ErrRequestNotFound)

	_, err = env.engine.RenewAccess(env.ctx, "u1", denied.Request.Protocol)
	assert.ErrorIs(t, err, access.ErrInvalidStateTransition)

	_, err = env.engine.RenewAccess(env.ctx, "u1", cancelled.Request.Protocol)
	assert.ErrorIs(t, err, access.ErrInvalidStateTransition)
}

// =============================================================================
// SCENARIO TESTS
// =============================================================================

func TestScenario_CancelUnblocksIncompatibleModule(t *testing.T) {
	env := newTestEnv(t)
	env.addModules(mod("m1", rh), mod("m2", rh, "m1"))
	env.addUser("u1", "RH")

	// Step 1: m1 is approved
	first := env.create("u1", "m1")
	require.True(t, first.Approved())
	assert.Equal(t, []string{access.ActionCreated, access.ActionApproved}, actions(first.Request))
	assert.Len(t, env.accesses("u1", first.Request.Protocol, access.AccessActive), 1)

	// Step 2: m2 conflicts with the active m1
	blocked := env.create("u1", "m2")
	assert.True(t, blocked.Denied())
	assert.Equal(t, access.ReasonIncompatibleModule, blocked.Request.DenialReason)
	assert.Empty(t, env.accesses("u1", blocked.Request.Protocol, access.AccessActive))

	// Step 3: cancelling m1 revokes it
	cancelled, err := env.engine.CancelRequest(env.ctx, "u1", first.Request.Protocol, "Mudança de função")
	require.NoError(t, err)
	assert.Equal(t, access.RequestCancelled, cancelled.Status)
	assert.Len(t, env.accesses("u1", first.Request.Protocol, access.AccessRevoked), 1)

	// Step 4: m2 now goes through
	retry := env.create("u1", "m2")
	assert.True(t, retry.Approved())
}

// =============================================================================
// QUERY TESTS
// =============================================================================

func TestSearchRequests_Filters(t *testing.T) {
	env := newTestEnv(t)
	folha := mod("m1", rh)
	folha.Name = "Folha de Pagamento"
	env.addModules(folha, mod("m2", rh), mod("fin", []string{"Financeiro"}))
	env.addUser("u1", "RH")
	env.addUser("u2", "RH")

	r1 := env.create("u1", "m1")
	env.advance(day)
	r2, err := env.engine.CreateRequest(env.ctx, "u1", []string{"fin"}, justification, true)
	require.NoError(t, err)
	env.advance(day)
	r3, err := env.engine.CreateRequest(env.ctx, "u1", []string{"m2"}, justification, true)
	require.NoError(t, err)
	_, err = env.engine.CancelRequest(env.ctx, "u1", r3.Request.Protocol, "Mudança de função")
	require.NoError(t, err)
	env.create("u2", "m1")

	jan2 := time.Date(2026, time.January, 2, 0, 0, 0, 0, time.UTC)
	endJan2 := jan2.Add(day - time.Nanosecond)
	yes := true

	tests := []struct {
		name   string
		filter access.SearchFilter
		want   []access.Result
	}{
		{"no filter, newest first", access.SearchFilter{}, []access.Result{r3, r2, r1}},
		{"module name, case-insensitive", access.SearchFilter{Search: "FOLHA"}, []access.Result{r1}},
		{"protocol substring", access.SearchFilter{Search: "20260102"}, []access.Result{r2}},
		{"status, case-insensitive", access.SearchFilter{Status: "negado"}, []access.Result{r2}},
		{"start date inclusive", access.SearchFilter{StartDate: &jan2}, []access.Result{r3, r2}},
		{"end date inclusive", access.SearchFilter{EndDate: &endJan2}, []access.Result{r2, r1}},
		{"urgent", access.SearchFilter{Urgent: &yes}, []access.Result{r3, r2}},
		{"all filters must match", access.SearchFilter{Urgent: &yes, Status: "ATIVO"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := env.engine.SearchRequests(env.ctx, "u1", tt.filter)

			require.NoError(t, err)
			var protocols []string
			for _, r := range got {
				assert.Equal(t, "u1", r.UserID)
				protocols = append(protocols, r.Protocol)
			}
			var want []string
			for _, r := range tt.want {
				want = append(want, r.Request.Protocol)
			}
			assert.Equal(t, want, protocols)
		})
	}
}

func TestQueries_DoNotMutate(t *testing.T) {
	env := newTestEnv(t)
	env.addModules(mod("m1", rh))
	env.addUser("u1", "RH")
	created := env.create("u1", "m1")

	snapshot := func() ([]access.Request, []access.Access) {
		requests, err := env.store.RequestsByUser(env.ctx, "u1")
		require.NoError(t, err)
		accesses, err := env.store.AccessesByUser(env.ctx, "u1", access.AccessActive)
		require.NoError(t, err)
		return requests, accesses
	}
	beforeRequests, beforeAccesses := snapshot()

	for i := 0; i < 3; i++ {
		_, err := env.engine.SearchRequests(env.ctx, "u1", access.SearchFilter{Search: "m"})
		require.NoError(t, err)
		_, err = env.engine.FindRequestByProtocol(env.ctx, "u1", created.Request.Protocol)
		require.NoError(t, err)
	}

	afterRequests, afterAccesses := snapshot()
	assert.Equal(t, beforeRequests, afterRequests)
	assert.Equal(t, beforeAccesses, afterAccesses)
}

func TestFindRequestByProtocol_AbsenceIsNotAnError(t *testing.T) {
	env := newTestEnv(t)
	env.addModules(mod("m1", rh))
	env.addUser("u1", "RH")
	env.addUser("u2", "RH")
	created := env.create("u1", "m1")

	found, err := env.engine.FindRequestByProtocol(env.ctx, "u1", created.Request.Protocol)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, created.Request, *found)

	missing, err := env.engine.FindRequestByProtocol(env.ctx, "u1", "SOL-20260101-0042")
	assert.NoError(t, err)
	assert.Nil(t, missing)

	foreign, err := env.engine.FindRequestByProtocol(env.ctx, "u2", created.Request.Protocol)
	assert.NoError(t, err)
	assert.Nil(t, foreign)
}

func TestActiveAccesses(t *testing.T) {
	env := newTestEnv(t)
	env.addModules(mod("m1", rh), mod("m2", rh))
	env.addUser("u1", "RH")
	kept := env.create("u1", "m1")
	dropped := env.create("u1", "m2")
	_, err := env.engine.CancelRequest(env.ctx, "u1", dropped.Request.Protocol, "Mudança de função")
	require.NoError(t, err)

	active, err := env.engine.ActiveAccesses(env.ctx, "u1")

	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, kept.Request.Protocol, active[0].RequestProtocol)
}
