package notify

import (
	"fmt"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// DefaultRegion is used for numbers stored without a country code.
const DefaultRegion = "BR"

// NormalizeE164 parses a stored phone number and formats it as E.164.
func NormalizeE164(raw, region string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("notify: empty phone number")
	}
	if region == "" {
		region = DefaultRegion
	}
	number, err := phonenumbers.Parse(trimmed, region)
	if err != nil {
		return "", fmt.Errorf("notify: parse phone %q: %w", trimmed, err)
	}
	if !phonenumbers.IsValidNumber(number) {
		return "", fmt.Errorf("notify: invalid phone %q", trimmed)
	}
	return phonenumbers.Format(number, phonenumbers.E164), nil
}

// DigitsOnly strips the leading plus from an E.164 number. Brazilian SMS and
// WhatsApp gateways expect bare digits.
func DigitsOnly(e164 string) string {
	return strings.TrimPrefix(strings.TrimSpace(e164), "+")
}
