// internal/payment/callback.go
package payment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/javajoker/farmtrace-backend/internal/errs"
)

// CallbackResult is the outcome of a buyer prompt as reported by the rail.
type CallbackResult struct {
	RequestRef  string           `json:"request_ref"`
	MerchantRef string           `json:"merchant_ref,omitempty"`
	ResultCode  string           `json:"result_code"`
	ResultDesc  string           `json:"result_desc"`
	Completed   bool             `json:"completed"`
	ResultRef   string           `json:"result_ref,omitempty"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	Phone       string           `json:"phone,omitempty"`
	PaidAt      *time.Time       `json:"paid_at,omitempty"`
}

type stkCallbackEnvelope struct {
	Body struct {
		StkCallback *struct {
			MerchantRequestID string      `json:"MerchantRequestID"`
			CheckoutRequestID string      `json:"CheckoutRequestID"`
			ResultCode        json.Number `json:"ResultCode"`
			ResultDesc        string      `json:"ResultDesc"`
			CallbackMetadata  *struct {
				Item []struct {
					Name  string `json:"Name"`
					Value any    `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

const mpesaTimeLayout = "20060102150405"

// M-Pesa reports local Nairobi time.
var eastAfrica = time.FixedZone("EAT", 3*60*60)

// ParseCallback reads an STK push result notification. Metadata items are
// optional; their absence leaves the corresponding fields empty.
func ParseCallback(payload []byte) (*CallbackResult, error) {
	const op = "payment.parse_callback"

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var env stkCallbackEnvelope
	if err := dec.Decode(&env); err != nil {
		return nil, errs.Wrap(errs.KindValidation, op, err)
	}
	cb := env.Body.StkCallback
	if cb == nil {
		return nil, errs.New(errs.KindValidation, op, "payload has no Body.stkCallback")
	}
	if cb.CheckoutRequestID == "" {
		return nil, errs.New(errs.KindValidation, op, "callback has no CheckoutRequestID")
	}

	code := cb.ResultCode.String()
	out := &CallbackResult{
		RequestRef:  cb.CheckoutRequestID,
		MerchantRef: cb.MerchantRequestID,
		ResultCode:  code,
		ResultDesc:  cb.ResultDesc,
		Completed:   code == "0",
	}

	if cb.CallbackMetadata == nil {
		return out, nil
	}
	for _, item := range cb.CallbackMetadata.Item {
		value := itemString(item.Value)
		if value == "" {
			continue
		}
		switch item.Name {
		case "MpesaReceiptNumber":
			out.ResultRef = value
		case "Amount":
			if amt, err := decimal.NewFromString(value); err == nil {
				out.Amount = &amt
			}
		case "PhoneNumber":
			out.Phone = value
		case "TransactionDate":
			if ts, err := time.ParseInLocation(mpesaTimeLayout, value, eastAfrica); err == nil {
				ts = ts.UTC()
				out.PaidAt = &ts
			}
		}
	}
	return out, nil
}

func itemString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}
