package config

import (
	"os"
	"strings"

	"github.com/shopspring/decimal"

	"bitbucket.org/mmdatafocus/invoice_recon/validation"
)

// BlockOnVatInconsistent turns the VAT consistency flag into a blocking flag
// for the approval gate. Off by default.
//
// Set via env:
// - VALIDATION_BLOCK_ON_VAT_INCONSISTENT=true
func BlockOnVatInconsistent() bool {
	return EnvBoolDefault("VALIDATION_BLOCK_ON_VAT_INCONSISTENT", false)
}

// BlockOnPanInvalid turns an invalid seller PAN into a blocking flag. Off by default.
//
// Set via env:
// - VALIDATION_BLOCK_ON_PAN_INVALID=true
func BlockOnPanInvalid() bool {
	return EnvBoolDefault("VALIDATION_BLOCK_ON_PAN_INVALID", false)
}

// MathTolerance is the absolute amount |taxable+vat-total| may differ by.
func MathTolerance() decimal.Decimal {
	return decimalFromEnv("VALIDATION_MATH_TOLERANCE", decimal.NewFromInt(2))
}

// VatTolerance is the absolute amount |taxable*rate/100-vat| may differ by.
func VatTolerance() decimal.Decimal {
	return decimalFromEnv("VALIDATION_VAT_TOLERANCE", decimal.NewFromInt(2))
}

func EnvBoolDefault(key string, def bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return def
	}
}

func decimalFromEnv(key string, def decimal.Decimal) decimal.Decimal {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := decimal.NewFromString(v)
	if err != nil || d.IsNegative() {
		return def
	}
	return d
}

// ValidationPolicy is the approval policy built from the VALIDATION_* env flags.
func ValidationPolicy() validation.Policy {
	return validation.Policy{
		MathTolerance:          MathTolerance(),
		VatTolerance:           VatTolerance(),
		BlockOnVatInconsistent: BlockOnVatInconsistent(),
		BlockOnPanInvalid:      BlockOnPanInvalid(),
	}
}
