package binance

import (
	"strings"

	"github.com/coachpo/ledgersync/internal/ledger"
)

// p2pStatusTable maps every Binance P2P order status to its canonical value.
var p2pStatusTable = map[string]ledger.Status{
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

// CanonicalStatus maps a Binance P2P order status to the canonical enum.
// Unknown inputs default to pending; the function is total.
func CanonicalStatus(raw string) ledger.Status {
	if status, ok := p2pStatusTable[strings.ToUpper(strings.TrimSpace(raw))]; ok {
		return status
	}
	return ledger.StatusPending
}

// depositStatus maps the numeric deposit status of /sapi/v1/capital/deposit/hisrec.
func depositStatus(code int) ledger.Status {
	switch code {
	case 0:
		return ledger.StatusPending
	case 6:
		return ledger.StatusProcessing // credited but cannot withdraw
	case 1:
		return ledger.StatusCompleted
	default:
		return ledger.StatusPending
	}
}

// withdrawStatus maps the numeric withdrawal status of /sapi/v1/capital/withdraw/history.
func withdrawStatus(code int) ledger.Status {
	switch code {
	case 0: // email sent
		return ledger.StatusPending
	case 1: // cancelled
		return ledger.StatusCancelled
	case 2: // awaiting approval
		return ledger.StatusProcessing
	case 3: // rejected
		return ledger.StatusFailed
	case 4: // processing
		return ledger.StatusProcessing
	case 5: // failure
		return ledger.StatusFailed
	case 6: // completed
		return ledger.StatusCompleted
	default:
		return ledger.StatusPending
	}
}
