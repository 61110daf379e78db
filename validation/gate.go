package validation

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrApprovalBlocked is wrapped by every GateError.
var ErrApprovalBlocked = errors.New("approval blocked")

// GateError lists the flags that prevent approval.
type GateError struct {
	Reasons []string
}

func (e *GateError) Error() string {
	return ErrApprovalBlocked.Error() + ": " + strings.Join(e.Reasons, ", ")
}

func (e *GateError) Unwrap() error { return ErrApprovalBlocked }

// Policy holds tolerances and which soft flags also block approval.
type Policy struct {
	MathTolerance          decimal.Decimal
	VatTolerance           decimal.Decimal
	BlockOnVatInconsistent bool
	BlockOnPanInvalid      bool
}

// DefaultPolicy blocks only on missing fields, math mismatch and failed date
// conversion.
func DefaultPolicy() Policy {
	return Policy{
		MathTolerance: DefaultTolerance,
		VatTolerance:  DefaultTolerance,
	}
}

// Blockers returns the names of raised flags that block approval under p.
func (p Policy) Blockers(f Flags) []string {
	var out []string
	if f.MissingFields {
		out = append(out, "missing_fields")
	}
	if f.MathMismatch {
		out = append(out, "math_mismatch")
	}
	if f.DateConversionFailed {
		out = append(out, "date_conversion_failed")
	}
	if p.BlockOnVatInconsistent && f.VatInconsistent {
		out = append(out, "vat_inconsistent")
	}
	if p.BlockOnPanInvalid && f.PanInvalid {
		out = append(out, "pan_invalid")
	}
	return out
}

// CanApprove is the approval gate.
func (p Policy) CanApprove(f Flags) bool {
	return len(p.Blockers(f)) == 0
}

// Gate returns a *GateError when f cannot be approved under p.
func (p Policy) Gate(f Flags) error {
	if reasons := p.Blockers(f); len(reasons) > 0 {
		return &GateError{Reasons: reasons}
	}
	return nil
}

// CanApprove applies the default policy.
func CanApprove(f Flags) bool {
	return DefaultPolicy().CanApprove(f)
}
