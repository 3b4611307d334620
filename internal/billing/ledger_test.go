package billing

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestCreditThenDebit(t *testing.T) {
	l := NewMemLedger()
	ctx := context.Background()

	if _, err := l.Credit(ctx, "u1", 10, "trial grant"); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Debit(ctx, "u1", 4, "request cost"); err != nil {
		t.Fatal(err)
	}

	bal, err := l.Balance(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if bal != 6 {
		t.Fatalf("expected balance 6, got %v", bal)
	}
}

func TestDebitRejectsWhenInsufficient(t *testing.T) {
	l := NewMemLedger()
	ctx := context.Background()

	if _, err := l.Credit(ctx, "u1", 1, "grant"); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Debit(ctx, "u1", 5, "cost"); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	bal, _ := l.Balance(ctx, "u1")
	if bal != 1 {
		t.Fatalf("balance must be unchanged after rejected debit, got %v", bal)
	}
}

func TestTransactionSumMatchesBalanceDelta(t *testing.T) {
	l := NewMemLedger()
	ctx := context.Background()

	_, _ = l.Credit(ctx, "u1", 20, "grant")
	_, _ = l.Reserve(ctx, "u1", 5, "estimate")
	_, _ = l.Credit(ctx, "u1", 1, "release overestimate")
	_, _ = l.Debit(ctx, "u1", 3, "settle")

	txs, err := l.Transactions(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	var sum float64
	for _, tx := range txs {
		sum += tx.Amount
	}
	bal, _ := l.Balance(ctx, "u1")
	if sum != bal {
		t.Fatalf("sum of deltas %v != balance %v", sum, bal)
	}
}

func TestConcurrentDebitsNeverGoNegative(t *testing.T) {
	l := NewMemLedger()
	ctx := context.Background()
	_, _ = l.Credit(ctx, "u1", 100, "grant")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = l.Debit(ctx, "u1", 3, "concurrent cost")
		}()
	}
	wg.Wait()

	bal, _ := l.Balance(ctx, "u1")
	if bal < 0 {
		t.Fatalf("balance went negative: %v", bal)
	}
}
