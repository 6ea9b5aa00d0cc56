package postgres

import (
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/coachpo/ledgersync/internal/ledger"
)

// numericFromDecimal converts a decimal into a pgtype.Numeric value.
func numericFromDecimal(value decimal.Decimal) (pgtype.Numeric, error) {
	var out pgtype.Numeric
	if err := out.Scan(value.String()); err != nil {
		return out, fmt.Errorf("parse numeric %q: %w", value.String(), err)
	}
	return out, nil
}

// decimalFromText parses a numeric column selected as text. Empty or NULL
// values decode to zero.
func decimalFromText(raw string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Zero, nil
	}
	out, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse numeric %q: %w", trimmed, err)
	}
	return out, nil
}

// nullableString maps a nil pointer to SQL NULL so COALESCE keeps the stored
// value.
func nullableString(ptr *string) any {
	if ptr == nil {
		return nil
	}
	return *ptr
}

func nullableStatus(ptr *ledger.Status) any {
	if ptr == nil {
		return nil
	}
	return string(*ptr)
}

func nullableTime(value time.Time) any {
	if value.IsZero() {
		return nil
	}
	return value
}
