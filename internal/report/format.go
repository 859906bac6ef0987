package report

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// groupThousands inserts comma separators into a string of digits.
func groupThousands(s string) string {
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	start := len(s) % 3
	if start > 0 {
		b.WriteString(s[:start])
	}
	for i := start; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// FormatMoney formats d as dollars with comma separators and two decimals,
// e.g. "$12,345.60" or "-$5.00".
func FormatMoney(d decimal.Decimal) string {
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Neg()
	}
	s := d.StringFixed(2)
	intPart, frac, _ := strings.Cut(s, ".")
	return sign + "$" + groupThousands(intPart) + "." + frac
}

// FormatQuantity formats a share count or amount without trailing zeros
// and with comma separators on the integer part.
func FormatQuantity(d decimal.Decimal) string {
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Neg()
	}
	intPart, frac, ok := strings.Cut(d.String(), ".")
	if !ok {
		return sign + groupThousands(intPart)
	}
	return sign + groupThousands(intPart) + "." + frac
}

// FormatPct formats a ratio as a signed percentage with two decimals,
// e.g. 0.1234 -> "+12.34%".
func FormatPct(r float64) string {
	return fmt.Sprintf("%+.2f%%", r*100)
}

// FormatPrice formats an optional price, or "-" when absent.
func FormatPrice(p *decimal.Decimal) string {
	if p == nil {
		return "-"
	}
	return p.StringFixed(2)
}
