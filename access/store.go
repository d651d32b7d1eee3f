/*
store.go - Repository interfaces between the engine and persistence

PURPOSE:
  The engine reads users and modules and reads/writes requests and
  accesses only through these interfaces. Two implementations exist and
  are selected at startup:
  - access/store/memory.go: in-memory (tests, dev)
  - store/sqlite/sqlite.go: SQLite

APPEND-ONLY CONTRACT:
  - Requests: InsertRequest creates; UpdateRequest may change status and
    denial reason and may only append to history
  - Accesses: AppendAccesses creates; UpdateAccessStatus moves status
  - Nothing is ever deleted

LOOKUPS:
  Find* methods return (nil, nil) when the record does not exist. Callers
  decide whether absence is an error.

ATOMICITY:
  Store.WithTx runs fn with exclusive access to all repositories. If fn
  returns an error nothing it wrote is kept. Every engine write operation
  runs inside a single WithTx call, so request creation and access
  creation (or cancellation and revocation) commit together. JoinTx lets
  several engine operations share one outer transaction.
*/
package access

import "context"

// UserRepository is the read side of the user directory.
type UserRepository interface {
	FindUser(ctx context.Context, id string) (*User, error)
	FindUserByEmail(ctx context.Context, email string) (*User, error)
}

// ModuleRepository is the read-only module catalog.
type ModuleRepository interface {
	FindModule(ctx context.Context, id string) (*Module, error)
	ListModules(ctx context.Context) ([]Module, error)
}

// AccessRepository is the access ledger.
type AccessRepository interface {
	AccessesByUser(ctx context.Context, userID string, status AccessStatus) ([]Access, error)
	AccessesByUserAndModule(ctx context.Context, userID, moduleID string, status AccessStatus) ([]Access, error)
	AccessesByProtocol(ctx context.Context, userID, protocol string, status AccessStatus) ([]Access, error)

	// AppendAccesses persists a batch of new accesses.
	AppendAccesses(ctx context.Context, accesses []Access) error

	// UpdateAccessStatus moves every access of (userID, protocol) in status
	// from to status to. Returns the number of accesses moved.
	UpdateAccessStatus(ctx context.Context, userID, protocol string, from, to AccessStatus) (int, error)
}

// RequestRepository is the request ledger.
type RequestRepository interface {
	CountRequests(ctx context.Context) (int, error)
	CountRequestsWithPrefix(ctx context.Context, protocolPrefix string) (int, error)

	RequestsByUser(ctx context.Context, userID string) ([]Request, error)
	RequestsByUserAndStatus(ctx context.Context, userID string, status RequestStatus) ([]Request, error)
	FindRequest(ctx context.Context, protocol, userID string) (*Request, error)

	InsertRequest(ctx context.Context, r Request) error
	UpdateRequest(ctx context.Context, r Request) error
}

// Repositories groups everything the engine reads and writes.
type Repositories interface {
	UserRepository
	ModuleRepository
	AccessRepository
	RequestRepository
}

// Store is a Repositories with transaction support.
type Store interface {
	Repositories

	// WithTx executes fn within a transaction.
	// If fn returns error, everything fn wrote is rolled back.
	WithTx(ctx context.Context, fn func(Repositories) error) error
}

// JoinTx returns a Store whose WithTx runs fn directly on tx. An engine
// built on it makes every operation part of the caller's open transaction,
// so a sequence of operations commits or rolls back as one.
func JoinTx(tx Repositories) Store {
	return joinedTx{tx}
}

type joinedTx struct {
	Repositories
}

func (j joinedTx) WithTx(_ context.Context, fn func(Repositories) error) error {
	return fn(j.Repositories)
}
