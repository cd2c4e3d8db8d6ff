// internal/payment/contact.go
package payment

import (
	"strings"

	"github.com/javajoker/farmtrace-backend/internal/errs"
)

// ContactFormat describes the international form of a mobile number.
type ContactFormat struct {
	CountryCode    string
	NationalDigits int
}

// KenyaContact is the format used by M-Pesa Kenya.
var KenyaContact = ContactFormat{CountryCode: "254", NationalDigits: 9}

// Normalize converts a raw mobile number into country-code-prefixed digits.
// Leading zeros, a leading plus and common separators are tolerated.
func (f ContactFormat) Normalize(raw string) (string, error) {
	const op = "payment.normalize_contact"

	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '+', '\t':
			return -1
		}
		return r
	}, strings.TrimSpace(raw))

	if cleaned == "" {
		return "", errs.New(errs.KindInvalidRecipient, op, "contact is empty")
	}
	for _, r := range cleaned {
		if r < '0' || r > '9' {
			return "", errs.Newf(errs.KindInvalidRecipient, op, "contact %q contains non-digit characters", raw)
		}
	}

	full := len(f.CountryCode) + f.NationalDigits
	switch {
	case strings.HasPrefix(cleaned, "0") && len(cleaned) == f.NationalDigits+1:
		return f.CountryCode + cleaned[1:], nil
	case strings.HasPrefix(cleaned, f.CountryCode) && len(cleaned) == full:
		return cleaned, nil
	case len(cleaned) == f.NationalDigits:
		return f.CountryCode + cleaned, nil
	}
	return "", errs.Newf(errs.KindInvalidRecipient, op, "contact %q is not a valid mobile number", raw)
}

func NormalizeContact(raw string) (string, error) {
	return KenyaContact.Normalize(raw)
}
