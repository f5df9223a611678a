package institution

import (
	"testing"
	"time"

	"github.com/dvloznov/bank-sync/internal/bank"
)

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestWithinLookback(t *testing.T) {
	runDate := date("2024-03-20")

	txns := []bank.Transaction{
		{Date: date("2024-03-01"), Description: "too old", Amount: -1},
		{Date: date("2024-03-12"), Description: "older in window", Amount: -2},
		{Date: date("2024-03-19"), Description: "newest", Amount: -3},
		{Date: date("2024-03-10"), Description: "boundary", Amount: -4},
	}

	got := WithinLookback(txns, runDate)

	if len(got) != 3 {
		t.Fatalf("got %d transactions, want 3", len(got))
	}
	wantOrder := []string{"newest", "older in window", "boundary"}
	for i, want := range wantOrder {
		if got[i].Description != want {
			t.Errorf("position %d = %q, want %q", i, got[i].Description, want)
		}
	}
}

func TestWithinLookback_MergedStatementCycles(t *testing.T) {
	// A credit-card driver concatenates the unbilled cycle and the previous
	// statement cycle before filtering; the merged, filtered result must be
	// ordered newest first.
	runDate := date("2024-03-20")

	current := []bank.Transaction{{Date: date("2024-03-18"), Description: "current-cycle", Amount: -10}}
	previous := []bank.Transaction{{Date: date("2024-03-14"), Description: "previous-cycle", Amount: -20}}

	merged := append(append([]bank.Transaction{}, current...), previous...)
	got := WithinLookback(merged, runDate)

	if len(got) != 2 {
		t.Fatalf("got %d transactions, want 2", len(got))
	}
	if got[0].Description != "current-cycle" || got[1].Description != "previous-cycle" {
		t.Errorf("merged order = [%s, %s], want [current-cycle, previous-cycle]",
			got[0].Description, got[1].Description)
	}
}

func TestLookbackStart(t *testing.T) {
	if got := LookbackStart(date("2024-03-20")); !got.Equal(date("2024-03-10")) {
		t.Errorf("LookbackStart = %s, want 2024-03-10", got)
	}
}
