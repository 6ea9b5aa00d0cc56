package okx

import (
	"strings"

	"github.com/coachpo/ledgersync/internal/ledger"
)

// statusTable maps every OKX P2P state string to its canonical value.
// Lookups are case-insensitive.
var statusTable = map[string]ledger.Status{
	"new":        ledger.StatusPending,
	"pending":    ledger.StatusPending,
	"init":       ledger.StatusPending,
	"processing": ledger.StatusProcessing,
	"completed":  ledger.StatusCompleted,
	"success":    ledger.StatusCompleted,
	"done":       ledger.StatusCompleted,
	"cancelled":  ledger.StatusCancelled,
	"failed":     ledger.StatusFailed,
}

// CanonicalStatus maps an OKX P2P state to the canonical enum. Unknown inputs
// default to pending; the function is total.
func CanonicalStatus(raw string) ledger.Status {
	if status, ok := statusTable[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return status
	}
	return ledger.StatusPending
}
