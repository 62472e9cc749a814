package templates

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the dd/mm/yyyy form used in patient-facing messages.
const DateLayout = "02/01/2006"

// CollectionContext builds the placeholder map for a collection message.
func CollectionContext(patientName string, amount decimal.Decimal, dueDate time.Time) map[string]string {
	return map[string]string{
		"nome":       patientName,
		"valor":      FormatAmount(amount),
		"vencimento": dueDate.Format(DateLayout),
	}
}

// FormatAmount renders a currency amount with two decimals, e.g. "R$ 150.00".
func FormatAmount(amount decimal.Decimal) string {
	return "R$ " + amount.StringFixed(2)
}
