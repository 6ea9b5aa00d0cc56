package binance

import (
	"testing"

	"github.com/coachpo/ledgersync/internal/ledger"
)

func TestCanonicalStatusTable(t *testing.T) {
	cases := map[string]ledger.Status{
		"PENDING":             ledger.StatusPending,
		"TRADING":             ledger.StatusProcessing,
		"BUYER_PAYED":         ledger.StatusProcessing,
		"DISTRIBUTING":        ledger.StatusProcessing,
		"IN_APPEAL":           ledger.StatusProcessing,
		"PROCESSING":          ledger.StatusProcessing,
		"COMPLETED":           ledger.StatusCompleted,
		"CANCELLED":           ledger.StatusCancelled,
		"CANCELLED_BY_SYSTEM": ledger.StatusCancelled,
		"FAILED":              ledger.StatusFailed,
		"EXPIRED":             ledger.StatusExpired,
	}
	for raw, want := range cases {
		if got := CanonicalStatus(raw); got != want {
			t.Fatalf("CanonicalStatus(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestCanonicalStatusIsTotal(t *testing.T) {
	for _, raw := range []string{"", "SOMETHING_NEW", "completed ", "  trading", "42"} {
		got := CanonicalStatus(raw)
		switch got {
		case ledger.StatusPending, ledger.StatusProcessing, ledger.StatusCompleted,
			ledger.StatusCancelled, ledger.StatusFailed, ledger.StatusExpired:
		default:
			t.Fatalf("CanonicalStatus(%q) produced non-canonical value %q", raw, got)
		}
	}
	if CanonicalStatus("SOMETHING_NEW") != ledger.StatusPending {
		t.Fatal("unknown status must default to pending")
	}
}

func TestCanonicalStatusIsCaseInsensitive(t *testing.T) {
	if CanonicalStatus("completed") != ledger.StatusCompleted {
		t.Fatal("lowercase input must map like uppercase")
	}
}

func TestWithdrawStatusMapping(t *testing.T) {
	cases := map[int]ledger.Status{
		0: ledger.StatusPending,
		1: ledger.StatusCancelled,
		2: ledger.StatusProcessing,
		3: ledger.StatusFailed,
		4: ledger.StatusProcessing,
		5: ledger.StatusFailed,
		6: ledger.StatusCompleted,
		9: ledger.StatusPending,
	}
	for code, want := range cases {
		if got := withdrawStatus(code); got != want {
			t.Fatalf("withdrawStatus(%d) = %q, want %q", code, got, want)
		}
	}
}

func TestDepositStatusMapping(t *testing.T) {
	cases := map[int]ledger.Status{
		0:  ledger.StatusPending,
		6:  ledger.StatusProcessing,
		1:  ledger.StatusCompleted,
		42: ledger.StatusPending,
	}
	for code, want := range cases {
		if got := depositStatus(code); got != want {
			t.Fatalf("depositStatus(%d) = %q, want %q", code, got, want)
		}
	}
}
