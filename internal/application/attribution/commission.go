package attribution

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/baechuer/affiliate-tracker/internal/domain"
)

// Amounts are rounded to the minor unit and always satisfy
// Gross == Fee + Net.
type Amounts struct {
	Gross decimal.Decimal
	Fee   decimal.Decimal
	Net   decimal.Decimal
}

// ComputeCommission prices a conversion against its program. Intermediate
// values keep full precision; rounding happens once on gross and fee.
func ComputeCommission(p domain.Program, subtotal, feeRate decimal.Decimal) (Amounts, error) {
	var gross decimal.Decimal
	switch p.CommissionType {
	case domain.CommissionPercent:
		gross = subtotal.Mul(p.CommissionValue)
	case domain.CommissionFixed:
		gross = p.CommissionValue
	default:
		return Amounts{}, fmt.Errorf("program %s: unknown commission type %q", p.ID, p.CommissionType)
	}

	fee := gross.Mul(feeRate)

	g := domain.RoundMinor(gross)
	f := domain.RoundMinor(fee)
	return Amounts{Gross: g, Fee: f, Net: g.Sub(f)}, nil
}
