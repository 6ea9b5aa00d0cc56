package bybit

import "github.com/coachpo/ledgersync/internal/ledger"

// statusTable maps every Bybit P2P numeric status to its canonical value.
//
//	10  waiting for buyer to pay
//	20  waiting for seller to release
//	30  appealing
//	40  cancelled
//	50  completed
//	60  paying
//	70  payment failed
//	80  cancelled by system
//	100 objectioning
var statusTable = map[int]ledger.Status{
	10:  ledger.StatusPending,
	20:  ledger.StatusProcessing,
	30:  ledger.StatusProcessing,
	40:  ledger.StatusCancelled,
	50:  ledger.StatusCompleted,
	60:  ledger.StatusProcessing,
	70:  ledger.StatusFailed,
	80:  ledger.StatusCancelled,
	100: ledger.StatusProcessing,
}

// CanonicalStatus maps a Bybit P2P status code to the canonical enum. Unknown
// inputs default to pending; the function is total.
func CanonicalStatus(code int) ledger.Status {
	if status, ok := statusTable[code]; ok {
		return status
	}
	return ledger.StatusPending
}
