// Package billing implements the credit ledger: reservation, debit, and
// credit of a user's balance with an append-only transaction log.
//
// Grounded on the pre-consume / decrease-quota pattern used by request
// gateways that bill per token (reserve an estimate before calling upstream,
// settle the exact cost afterward) — re-expressed here with an in-process
// mutex instead of a cache-layer compare-and-swap, since MemLedger is the
// single-process open-source reference implementation. A production
// deployment supplies its own Ledger (e.g. backed by Postgres) behind the
// same interface.
package billing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes transaction types in the append-only log.
type Kind string

const (
	KindReserve Kind = "reserve"
	KindDebit   Kind = "debit"
	KindCredit  Kind = "credit"
	KindRelease Kind = "release"
)

// Transaction is a single append-only ledger entry.
type Transaction struct {
	ID        string
	UserID    string
	Kind      Kind
	Amount    float64 // positive for credit/release, negative for reserve/debit
	Balance   float64 // balance after applying this entry
	Reason    string
	CreatedAt time.Time
}

// ErrInsufficientBalance is returned by Reserve/Debit when the requested
// amount would take the user's balance negative.
var ErrInsufficientBalance = fmt.Errorf("billing: insufficient balance")

// Ledger is the credit-ledger contract the orchestrator depends on.
type Ledger interface {
	// Balance returns the user's current balance.
	Balance(ctx context.Context, userID string) (float64, error)
	// Reserve holds amount against the user's balance ahead of an upstream
	// call whose exact cost isn't known yet. Returns ErrInsufficientBalance
	// if the balance would go negative.
	Reserve(ctx context.Context, userID string, amount float64, reason string) (*Transaction, error)
	// Debit settles the exact cost of a completed request. When a prior
	// Reserve overestimated, callers settle the difference with Credit.
	Debit(ctx context.Context, userID string, amount float64, reason string) (*Transaction, error)
	// Credit adds funds (refund, release of an over-reservation, or a
	// purchased/trial grant).
	Credit(ctx context.Context, userID string, amount float64, reason string) (*Transaction, error)
	// Transactions returns the user's transaction history, oldest first.
	Transactions(ctx context.Context, userID string) ([]Transaction, error)
}

type account struct {
	mu      sync.Mutex
	balance float64
	log     []Transaction
}

// MemLedger is an in-memory, single-process reference Ledger.
type MemLedger struct {
	mu       sync.RWMutex
	accounts map[string]*account
}

// NewMemLedger creates an empty in-memory ledger.
func NewMemLedger() *MemLedger {
	return &MemLedger{accounts: make(map[string]*account)}
}

func (l *MemLedger) account(userID string) *account {
	l.mu.RLock()
	a, ok := l.accounts[userID]
	l.mu.RUnlock()
	if ok {
		return a
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if a, ok = l.accounts[userID]; ok {
		return a
	}
	a = &account{}
	l.accounts[userID] = a
	return a
}

func (l *MemLedger) Balance(_ context.Context, userID string) (float64, error) {
	a := l.account(userID)
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balance, nil
}

func (l *MemLedger) Reserve(ctx context.Context, userID string, amount float64, reason string) (*Transaction, error) {
	return l.apply(ctx, userID, -amount, KindReserve, reason)
}

func (l *MemLedger) Debit(ctx context.Context, userID string, amount float64, reason string) (*Transaction, error) {
	return l.apply(ctx, userID, -amount, KindDebit, reason)
}

func (l *MemLedger) Credit(ctx context.Context, userID string, amount float64, reason string) (*Transaction, error) {
	return l.apply(ctx, userID, amount, KindCredit, reason)
}

// apply performs a balance delta under the account lock: the only place the
// never-negative balance invariant is enforced. A negative delta that would
// take the balance below zero is rejected outright, never clamped.
func (l *MemLedger) apply(_ context.Context, userID string, delta float64, kind Kind, reason string) (*Transaction, error) {
	a := l.account(userID)

	a.mu.Lock()
	defer a.mu.Unlock()

	next := a.balance + delta
	if next < 0 {
		return nil, ErrInsufficientBalance
	}

	a.balance = next
	tx := Transaction{
		ID:        uuid.NewString(),
		UserID:    userID,
		Kind:      kind,
		Amount:    delta,
		Balance:   a.balance,
		Reason:    reason,
		CreatedAt: time.Now(),
	}
	a.log = append(a.log, tx)
	return &tx, nil
}

func (l *MemLedger) Transactions(_ context.Context, userID string) ([]Transaction, error) {
	a := l.account(userID)
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Transaction, len(a.log))
	copy(out, a.log)
	return out, nil
}
