package ledger

import (
	"context"
	"testing"
)

func TestLockEscrowMovesFundsFromAvailableToEscrow(t *testing.T) {
	s := NewMemStore(nil)
	s.Credit("p1", 1000)
	ctx := context.Background()

	if err := s.LockEscrow(ctx, "lock-1", "p1", "match-1", 1000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w, _ := s.GetWallet(ctx, "p1")
	if w.AvailableCts != 0 || w.EscrowCts != 1000 {
		t.Fatalf("unexpected wallet state: %+v", w)
	}
}

func TestLockEscrowInsufficientFunds(t *testing.T) {
	s := NewMemStore(nil)
	s.Credit("p1", 500)
	ctx := context.Background()
	if err := s.LockEscrow(ctx, "lock-1", "p1", "match-1", 1000); err != ErrInsufficientFunds {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestLockEscrowIdempotentReplayIsNoOp(t *testing.T) {
	s := NewMemStore(nil)
	s.Credit("p1", 1000)
	ctx := context.Background()
	s.LockEscrow(ctx, "lock-1", "p1", "match-1", 1000)
	if err := s.LockEscrow(ctx, "lock-1", "p1", "match-1", 1000); err != nil {
		t.Fatalf("unexpected error on replay: %v", err)
	}
	w, _ := s.GetWallet(ctx, "p1")
	if w.EscrowCts != 1000 {
		t.Fatalf("expected escrow to remain 1000 after replay, got %d", w.EscrowCts)
	}
}

func TestReleaseEscrowReturnsExactBuyInPerPlayer(t *testing.T) {
	s := NewMemStore(nil)
	s.Credit("p1", 1000)
	s.Credit("p2", 2000)
	ctx := context.Background()
	s.LockEscrow(ctx, "lock-p1", "p1", "match-1", 1000)
	s.LockEscrow(ctx, "lock-p2", "p2", "match-1", 2000)

	if err := s.ReleaseEscrow(ctx, "release-p1", "p1", "match-1", 1000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w1, _ := s.GetWallet(ctx, "p1")
	if w1.AvailableCts != 1000 || w1.EscrowCts != 0 {
		t.Fatalf("expected p1 to recover exactly its own buy-in, got %+v", w1)
	}
	w2, _ := s.GetWallet(ctx, "p2")
	if w2.EscrowCts != 2000 {
		t.Fatalf("expected p2's escrow untouched, got %+v", w2)
	}
}

func TestSettleReleasesBuyInAndCreditsPayout(t *testing.T) {
	s := NewMemStore(nil)
	s.Credit("p1", 1000)
	s.Credit("p2", 1000)
	ctx := context.Background()
	s.LockEscrow(ctx, "lock-p1", "p1", "match-1", 1000)
	s.LockEscrow(ctx, "lock-p2", "p2", "match-1", 1000)

	entries := []SettlementEntry{
		{AccountID: "p1", BuyInCts: 1000, PayoutCts: 1840},
		{AccountID: "p2", BuyInCts: 1000, PayoutCts: 0},
	}
	if err := s.Settle(ctx, "settle-1", "match-1", entries, 160); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w1, _ := s.GetWallet(ctx, "p1")
	if w1.AvailableCts != 1840 || w1.EscrowCts != 0 {
		t.Fatalf("expected winner wallet 1840/0, got %+v", w1)
	}
	w2, _ := s.GetWallet(ctx, "p2")
	if w2.AvailableCts != 0 || w2.EscrowCts != 0 {
		t.Fatalf("expected loser wallet 0/0, got %+v", w2)
	}
	house, _ := s.GetWallet(ctx, HouseAccountID)
	if house.AvailableCts != 160 {
		t.Fatalf("expected house to collect 160 rake, got %+v", house)
	}
}

func TestSettleTwiceIsNoOp(t *testing.T) {
	s := NewMemStore(nil)
	s.Credit("p1", 1000)
	s.Credit("p2", 1000)
	ctx := context.Background()
	s.LockEscrow(ctx, "lock-p1", "p1", "match-1", 1000)
	s.LockEscrow(ctx, "lock-p2", "p2", "match-1", 1000)

	entries := []SettlementEntry{
		{AccountID: "p1", BuyInCts: 1000, PayoutCts: 1900},
		{AccountID: "p2", BuyInCts: 1000, PayoutCts: 0},
	}
	if err := s.Settle(ctx, "settle-1", "match-1", entries, 100); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Settle(ctx, "settle-1", "match-1", entries, 100); err != nil {
		t.Fatalf("unexpected error on replay: %v", err)
	}
	w1, _ := s.GetWallet(ctx, "p1")
	if w1.AvailableCts != 1900 {
		t.Fatalf("expected settle to apply exactly once, got %+v", w1)
	}
}

func TestRefundAfterSettleIsNoOp(t *testing.T) {
	s := NewMemStore(nil)
	s.Credit("p1", 1000)
	ctx := context.Background()
	s.LockEscrow(ctx, "lock-p1", "p1", "match-1", 1000)
	s.Settle(ctx, "settle-1", "match-1", []SettlementEntry{{AccountID: "p1", BuyInCts: 1000, PayoutCts: 1000}}, 0)

	if err := s.Refund(ctx, "refund-1", "match-1", map[string]int64{"p1": 1000}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w1, _ := s.GetWallet(ctx, "p1")
	if w1.AvailableCts != 1000 {
		t.Fatalf("expected refund after settle to be a no-op, got %+v", w1)
	}
}

func TestDepositIdempotentReplayReturnsSameID(t *testing.T) {
	s := NewMemStore(nil)
	ctx := context.Background()
	id1, err := s.Deposit(ctx, "dep-1", "p1", 5000, "psp:abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id2, err := s.Deposit(ctx, "dep-1", "p1", 5000, "psp:abc")
	if err != nil {
		t.Fatalf("unexpected error on replay: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected both calls to return the same entry id, got %q and %q", id1, id2)
	}
	w, _ := s.GetWallet(ctx, "p1")
	if w.AvailableCts != 5000 {
		t.Fatalf("expected wallet to grow by exactly 5000, got %d", w.AvailableCts)
	}
	entries, _, _ := s.History(ctx, "p1", "", 50)
	deposits := 0
	for _, e := range entries {
		if e.Type == EntryDeposit && e.Status == EntryCompleted {
			deposits++
		}
	}
	if deposits != 1 {
		t.Fatalf("expected exactly one completed deposit row, got %d", deposits)
	}
}

func TestWithdrawRequiresApprovedKYC(t *testing.T) {
	s := NewMemStore(nil)
	s.Credit("p1", 5000)
	ctx := context.Background()

	if _, err := s.Withdraw(ctx, "wd-1", "p1", 1000, "sepa"); err != ErrKYCRequired {
		t.Fatalf("expected ErrKYCRequired, got %v", err)
	}
	s.PutAccount(ctx, Account{ID: "p1", KYC: KYCApproved})
	if _, err := s.Withdraw(ctx, "wd-2", "p1", 1000, "sepa"); err != nil {
		t.Fatalf("unexpected error after approval: %v", err)
	}
	w, _ := s.GetWallet(ctx, "p1")
	if w.AvailableCts != 4000 {
		t.Fatalf("expected 4000 remaining, got %d", w.AvailableCts)
	}
}

func TestWithdrawRejectsInsufficientBalance(t *testing.T) {
	s := NewMemStore(nil)
	ctx := context.Background()
	s.PutAccount(ctx, Account{ID: "p1", KYC: KYCApproved})
	s.Credit("p1", 100)
	if _, err := s.Withdraw(ctx, "wd-1", "p1", 1000, "sepa"); err != ErrInsufficientFunds {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestWalletIdentityHoldsAcrossFullMatchFlow(t *testing.T) {
	s := NewMemStore(nil)
	ctx := context.Background()
	s.Deposit(ctx, "dep-p1", "p1", 3000, "")
	s.Deposit(ctx, "dep-p2", "p2", 3000, "")
	s.LockEscrow(ctx, "lock-p1", "p1", "m1", 1000)
	s.LockEscrow(ctx, "lock-p2", "p2", "m1", 1000)
	s.Settle(ctx, "settle-m1", "m1", []SettlementEntry{
		{AccountID: "p1", BuyInCts: 1000, PayoutCts: 1840},
		{AccountID: "p2", BuyInCts: 1000, PayoutCts: 0},
	}, 160)

	// Lock rows carry negative deltas and settlement payouts gross positive
	// ones, so for a quiescent account available + escrow equals the signed
	// sum of every completed entry.
	for _, accountID := range []string{"p1", "p2", HouseAccountID} {
		w, _ := s.GetWallet(ctx, accountID)
		entries, _, _ := s.History(ctx, accountID, "", 100)
		var sum int64
		for _, e := range entries {
			if e.Status != EntryCompleted {
				continue
			}
			sum += e.AmountCts
		}
		if w.AvailableCts+w.EscrowCts != sum {
			t.Fatalf("account %s: available+escrow=%d, signed entry sum=%d", accountID, w.AvailableCts+w.EscrowCts, sum)
		}
	}
}

func TestHistoryPagination(t *testing.T) {
	s := NewMemStore(nil)
	s.Credit("p1", 100)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		s.LockEscrow(ctx, "k"+string(rune('a'+i)), "p1", "match-1", 1)
		s.ReleaseEscrow(ctx, "r"+string(rune('a'+i)), "p1", "match-1", 1)
	}
	page1, cursor, err := s.History(ctx, "p1", "", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page1) != 3 || cursor == "" {
		t.Fatalf("expected a 3-item page with a continuation cursor, got %d items cursor=%q", len(page1), cursor)
	}
	page2, _, err := s.History(ctx, "p1", cursor, 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page1)+len(page2) != 11 {
		t.Fatalf("expected 11 total entries (1 deposit + 10 lock/release), got %d", len(page1)+len(page2))
	}
}
