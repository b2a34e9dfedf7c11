package settlement

import "testing"

func sumPayouts(payouts []Payout) int64 {
	var total int64
	for _, p := range payouts {
		total += p.AmountCts
	}
	return total
}

func TestRakeBasisPointsAndCap(t *testing.T) {
	if got := Rake(10000, 500, 0); got != 500 {
		t.Fatalf("expected 500, got %d", got)
	}
	if got := Rake(1000000, 500, 1000); got != 1000 {
		t.Fatalf("expected cap to apply, got %d", got)
	}
	if got := Rake(0, 500, 0); got != 0 {
		t.Fatalf("expected 0 for empty pot, got %d", got)
	}
}

func TestWinnerTakeAllGivesEntirePotToRankOne(t *testing.T) {
	finishers := []Finisher{
		{AccountID: "a", Rank: 1, Mass: 500},
		{AccountID: "b", Rank: 2, Mass: 300},
		{AccountID: "c", Rank: 3, Mass: 100},
	}
	payouts, err := Compute(ModelWinnerTakeAll, finishers, 9997)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sumPayouts(payouts) != 9997 {
		t.Fatalf("expected sum to equal net pot exactly, got %d", sumPayouts(payouts))
	}
	for _, p := range payouts {
		if p.AccountID == "a" && p.AmountCts != 9997 {
			t.Fatalf("expected rank 1 to receive entire pot, got %d", p.AmountCts)
		}
		if p.AccountID != "a" && p.AmountCts != 0 {
			t.Fatalf("expected non-winners to receive 0, got %d for %s", p.AmountCts, p.AccountID)
		}
	}
}

func TestTop3LadderResidueGoesToRankOne(t *testing.T) {
	finishers := []Finisher{
		{AccountID: "a", Rank: 1, Mass: 500},
		{AccountID: "b", Rank: 2, Mass: 300},
		{AccountID: "c", Rank: 3, Mass: 100},
		{AccountID: "d", Rank: 4, Mass: 10},
	}
	payouts, err := Compute(ModelTop3Ladder, finishers, 10003)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sumPayouts(payouts) != 10003 {
		t.Fatalf("expected sum to equal net pot exactly, got %d", sumPayouts(payouts))
	}
	for _, p := range payouts {
		if p.AccountID == "d" && p.AmountCts != 0 {
			t.Fatalf("expected rank 4 to receive nothing, got %d", p.AmountCts)
		}
	}
}

func TestProportionalSplitsByMassShare(t *testing.T) {
	finishers := []Finisher{
		{AccountID: "a", Rank: 1, Mass: 750},
		{AccountID: "b", Rank: 2, Mass: 250},
	}
	payouts, err := Compute(ModelProportional, finishers, 10001)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sumPayouts(payouts) != 10001 {
		t.Fatalf("expected sum to equal net pot exactly, got %d", sumPayouts(payouts))
	}
}

func TestProportionalDegenerateAllZeroMassSplitsEqually(t *testing.T) {
	finishers := []Finisher{
		{AccountID: "a", Rank: 1, Mass: 0},
		{AccountID: "b", Rank: 2, Mass: 0},
		{AccountID: "c", Rank: 3, Mass: 0},
	}
	payouts, err := Compute(ModelProportional, finishers, 10000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sumPayouts(payouts) != 10000 {
		t.Fatalf("expected sum to equal net pot exactly, got %d", sumPayouts(payouts))
	}
	for _, p := range payouts {
		if p.AmountCts < 3333 || p.AmountCts > 3334 {
			t.Fatalf("expected near-equal split, got %d", p.AmountCts)
		}
	}
}

func TestWinnerTakeAllTwoPlayersEightPercentRake(t *testing.T) {
	pot := int64(2000)
	rake := Rake(pot, 800, 0)
	if rake != 160 {
		t.Fatalf("expected 160 rake, got %d", rake)
	}
	finishers := []Finisher{
		{AccountID: "a", Rank: 1, Mass: 200},
		{AccountID: "b", Rank: 2, Mass: 50},
	}
	payouts, err := Compute(ModelWinnerTakeAll, finishers, pot-rake)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payouts[0].AmountCts != 1840 || payouts[1].AmountCts != 0 {
		t.Fatalf("expected 1840/0, got %d/%d", payouts[0].AmountCts, payouts[1].AmountCts)
	}
	if sumPayouts(payouts)+rake != pot {
		t.Fatalf("payouts + rake must equal pot exactly")
	}
}

func TestTop3LadderFourPlayersCappedRake(t *testing.T) {
	pot := int64(8000)
	rake := Rake(pot, 1000, 500)
	if rake != 500 {
		t.Fatalf("expected rake capped at 500, got %d", rake)
	}
	finishers := []Finisher{
		{AccountID: "a", Rank: 1, Mass: 400},
		{AccountID: "b", Rank: 2, Mass: 300},
		{AccountID: "c", Rank: 3, Mass: 200},
		{AccountID: "d", Rank: 4, Mass: 100},
	}
	payouts, err := Compute(ModelTop3Ladder, finishers, pot-rake)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := map[string]int64{"a": 4875, "b": 1875, "c": 750, "d": 0}
	for _, p := range payouts {
		if p.AmountCts != want[p.AccountID] {
			t.Fatalf("payout for %s: want %d, got %d", p.AccountID, want[p.AccountID], p.AmountCts)
		}
	}
	if sumPayouts(payouts)+rake != pot {
		t.Fatalf("payouts + rake must equal pot exactly")
	}
}

func TestProportionalThreePlayersExactShares(t *testing.T) {
	pot := int64(15000)
	rake := Rake(pot, 800, 0)
	if rake != 1200 {
		t.Fatalf("expected 1200 rake, got %d", rake)
	}
	finishers := []Finisher{
		{AccountID: "a", Rank: 1, Mass: 300},
		{AccountID: "b", Rank: 2, Mass: 200},
		{AccountID: "c", Rank: 3, Mass: 100},
	}
	payouts, err := Compute(ModelProportional, finishers, pot-rake)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := map[string]int64{"a": 6900, "b": 4600, "c": 2300}
	for _, p := range payouts {
		if p.AmountCts != want[p.AccountID] {
			t.Fatalf("payout for %s: want %d, got %d", p.AccountID, want[p.AccountID], p.AmountCts)
		}
	}
}

func TestComputeRejectsUnknownModel(t *testing.T) {
	_, err := Compute(Model("bogus"), []Finisher{{AccountID: "a", Rank: 1}}, 100)
	if err == nil {
		t.Fatalf("expected error for unknown model")
	}
}
