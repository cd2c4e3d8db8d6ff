// internal/payment/mpesa.go
package payment

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/javajoker/farmtrace-backend/internal/errs"
)

type MPesaConfig struct {
	BaseURL            string
	ConsumerKey        string
	ConsumerSecret     string
	ShortCode          string
	Passkey            string
	InitiatorName      string
	SecurityCredential string
	CallbackURL        string
	ResultURL          string
	TimeoutURL         string

	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	TokenSkew         time.Duration
	Retry             errs.RetryConfig
	Contact           ContactFormat
}

// MPesaClient talks to the Safaricom Daraja API.
type MPesaClient struct {
	cfg        MPesaConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	tokens     *TokenCache
	now        func() time.Time
}

type MPesaOption func(*MPesaClient)

func WithHTTPClient(h *http.Client) MPesaOption {
	return func(c *MPesaClient) { c.httpClient = h }
}

func WithMPesaClock(now func() time.Time) MPesaOption {
	return func(c *MPesaClient) { c.now = now }
}

func NewMPesaClient(cfg MPesaConfig, opts ...MPesaOption) *MPesaClient {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.TokenSkew <= 0 {
		cfg.TokenSkew = 60 * time.Second
	}
	if cfg.Retry.MaxAttempts < 1 {
		cfg.Retry = errs.DefaultRetry
	}
	if cfg.Contact.CountryCode == "" {
		cfg.Contact = KenyaContact
	}

	c := &MPesaClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.tokens = NewTokenCache(c.fetchToken, cfg.TokenSkew, c.now)
	return c
}

// flexInt accepts a JSON number or a numeric string.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("expected integer, got %s", b)
	}
	*f = flexInt(n)
	return nil
}

type oauthResponse struct {
	AccessToken string  `json:"access_token"`
	ExpiresIn   flexInt `json:"expires_in"`
}

type darajaError struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

type b2cRequest struct {
	InitiatorName      string `json:"InitiatorName"`
	SecurityCredential string `json:"SecurityCredential"`
	CommandID          string `json:"CommandID"`
	Amount             int64  `json:"Amount"`
	PartyA             string `json:"PartyA"`
	PartyB             string `json:"PartyB"`
	Remarks            string `json:"Remarks"`
	QueueTimeOutURL    string `json:"QueueTimeOutURL"`
	ResultURL          string `json:"ResultURL"`
	Occasion           string `json:"Occasion"`
}

type b2cResponse struct {
	ConversationID           string `json:"ConversationID"`
	OriginatorConversationID string `json:"OriginatorConversationID"`
	ResponseCode             string `json:"ResponseCode"`
	ResponseDescription      string `json:"ResponseDescription"`
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

type stkQueryRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type stkQueryResponse struct {
	ResponseCode string      `json:"ResponseCode"`
	ResultCode   json.Number `json:"ResultCode"`
	ResultDesc   string      `json:"ResultDesc"`
}

// Daraja reports a prompt the customer has not answered yet as an error.
const errCodeStillProcessing = "500.001.1001"

var errInProgress = errors.New("mpesa: transaction still being processed")

func (c *MPesaClient) Payout(ctx context.Context, contact string, amount decimal.Decimal, memo string) (*PayoutResult, error) {
	const op = "mpesa.payout"

	phone, err := c.cfg.Contact.Normalize(contact)
	if err != nil {
		return nil, err
	}
	shillings, err := wholeUnits(op, amount)
	if err != nil {
		return nil, err
	}

	req := b2cRequest{
		InitiatorName:      c.cfg.InitiatorName,
		SecurityCredential: c.cfg.SecurityCredential,
		CommandID:          "BusinessPayment",
		Amount:             shillings,
		PartyA:             c.cfg.ShortCode,
		PartyB:             phone,
		Remarks:            truncate(memo, 100),
		QueueTimeOutURL:    c.cfg.TimeoutURL,
		ResultURL:          c.cfg.ResultURL,
		Occasion:           truncate(memo, 100),
	}

	var resp b2cResponse
	if err := c.call(ctx, op, "/mpesa/b2c/v1/paymentrequest", req, &resp, false); err != nil {
		return nil, err
	}
	if resp.ResponseCode != "0" {
		return nil, errs.Newf(errs.KindGatewayRejected, op, "response code %s: %s", resp.ResponseCode, resp.ResponseDescription)
	}

	logrus.WithFields(logrus.Fields{
		"conversation_id": resp.ConversationID,
		"recipient":       phone,
		"amount":          shillings,
	}).Info("B2C payout accepted")

	return &PayoutResult{
		Reference:   resp.ConversationID,
		Contact:     phone,
		Amount:      strconv.FormatInt(shillings, 10),
		Description: resp.ResponseDescription,
		AcceptedAt:  c.now().UTC(),
	}, nil
}

func (c *MPesaClient) RequestCollection(ctx context.Context, payer string, amount decimal.Decimal, accountRef string) (*CollectionRequest, error) {
	const op = "mpesa.request_collection"

	phone, err := c.cfg.Contact.Normalize(payer)
	if err != nil {
		return nil, err
	}
	shillings, err := wholeUnits(op, amount)
	if err != nil {
		return nil, err
	}

	password, timestamp := c.stkPassword()
	req := stkPushRequest{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          password,
		Timestamp:         timestamp,
		TransactionType:   "CustomerBuyGoodsOnline",
		Amount:            shillings,
		PartyA:            phone,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       phone,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  truncate(accountRef, 12),
		TransactionDesc:   "Produce purchase",
	}

	var resp stkPushResponse
	if err := c.call(ctx, op, "/mpesa/stkpush/v1/processrequest", req, &resp, false); err != nil {
		return nil, err
	}
	if resp.ResponseCode != "0" {
		return nil, errs.Newf(errs.KindGatewayRejected, op, "response code %s: %s", resp.ResponseCode, resp.ResponseDescription)
	}

	return &CollectionRequest{
		Reference:       resp.CheckoutRequestID,
		MerchantRef:     resp.MerchantRequestID,
		CustomerMessage: resp.CustomerMessage,
	}, nil
}

func (c *MPesaClient) QueryStatus(ctx context.Context, reference string) (CollectionState, error) {
	const op = "mpesa.query_status"
	if reference == "" {
		return "", errs.New(errs.KindValidation, op, "request reference is empty")
	}

	password, timestamp := c.stkPassword()
	req := stkQueryRequest{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          password,
		Timestamp:         timestamp,
		CheckoutRequestID: reference,
	}

	var resp stkQueryResponse
	err := c.call(ctx, op, "/mpesa/stkpushquery/v1/query", req, &resp, true)
	if errors.Is(err, errInProgress) {
		return CollectionPending, nil
	}
	if err != nil {
		return "", err
	}

	if resp.ResultCode.String() == "0" {
		return CollectionCompleted, nil
	}
	return CollectionFailed, nil
}

func (c *MPesaClient) stkPassword() (password, timestamp string) {
	timestamp = c.now().In(eastAfrica).Format(mpesaTimeLayout)
	password = base64.StdEncoding.EncodeToString([]byte(c.cfg.ShortCode + c.cfg.Passkey + timestamp))
	return password, timestamp
}

func (c *MPesaClient) fetchToken(ctx context.Context) (AccessToken, error) {
	const op = "mpesa.oauth"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return AccessToken{}, errs.Wrap(errs.KindInternal, op, err)
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)
	req.Header.Set("Accept", "application/json")

	status, body, err := c.send(req)
	if err != nil {
		return AccessToken{}, errs.Wrap(errs.KindGatewayUnavailable, op, err)
	}

	switch {
	case status == http.StatusBadRequest || status == http.StatusUnauthorized || status == http.StatusForbidden:
		return AccessToken{}, errs.Newf(errs.KindAuthFailure, op, "credentials rejected with status %d", status)
	case status == http.StatusTooManyRequests || status >= 500:
		return AccessToken{}, errs.Newf(errs.KindGatewayUnavailable, op, "token endpoint returned %d", status)
	case status >= 300:
		return AccessToken{}, errs.Newf(errs.KindGatewayRejected, op, "token endpoint returned %d", status)
	}

	var resp oauthResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return AccessToken{}, errs.Wrap(errs.KindGatewayUnavailable, op, err)
	}
	if resp.AccessToken == "" {
		return AccessToken{}, errs.New(errs.KindAuthFailure, op, "token endpoint returned no access token")
	}

	expiresAt := c.now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	logrus.WithField("expires_at", expiresAt.UTC().Format(time.RFC3339)).Debug("M-Pesa access token refreshed")
	return AccessToken{Value: resp.AccessToken, ExpiresAt: expiresAt}, nil
}

// ambiguousError marks a request that may have reached the rail before the
// connection failed.
type ambiguousError struct{ err error }

func (e *ambiguousError) Error() string { return e.err.Error() }
func (e *ambiguousError) Unwrap() error { return e.err }

// call posts body with the cached bearer token and decodes the reply into
// out. Transient failures get the configured retry; a request that is not
// idempotent is not resent after a transport failure.
func (c *MPesaClient) call(ctx context.Context, op, path string, body, out any, idempotent bool) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errs.Wrap(errs.KindInternal, op, err)
	}

	var final error
	err = errs.Retry(ctx, c.cfg.Retry, func(ctx context.Context) error {
		err := c.callOnce(ctx, op, path, payload, out)
		var amb *ambiguousError
		if errors.As(err, &amb) {
			if !idempotent {
				final = amb.err
				return nil
			}
			return amb.err
		}
		return err
	})
	if final != nil {
		return final
	}
	return err
}

func (c *MPesaClient) callOnce(ctx context.Context, op, path string, payload []byte, out any) error {
	for attempt := 0; attempt < 2; attempt++ {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return err
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return errs.Wrap(errs.KindGatewayUnavailable, op, err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
		if err != nil {
			return errs.Wrap(errs.KindInternal, op, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		status, body, err := c.send(req)
		if err != nil {
			return &ambiguousError{err: errs.Wrap(errs.KindGatewayUnavailable, op, err)}
		}
		if status == http.StatusUnauthorized && attempt == 0 {
			// stale token; fetch a fresh one and resend once
			c.tokens.Invalidate()
			continue
		}
		return decodeDaraja(op, status, body, out)
	}
	return errs.New(errs.KindAuthFailure, op, "access token rejected after refresh")
}

func (c *MPesaClient) send(req *http.Request) (int, []byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

func decodeDaraja(op string, status int, body []byte, out any) error {
	if status >= 200 && status < 300 {
		if err := json.Unmarshal(body, out); err != nil {
			return errs.Wrap(errs.KindGatewayUnavailable, op, err)
		}
		return nil
	}

	var de darajaError
	_ = json.Unmarshal(body, &de)
	if de.ErrorCode == errCodeStillProcessing {
		return errInProgress
	}

	detail := de.ErrorMessage
	if detail == "" {
		detail = strings.TrimSpace(string(body))
	}
	if detail == "" {
		detail = http.StatusText(status)
	}
	if de.ErrorCode != "" {
		detail = de.ErrorCode + " " + detail
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errs.Newf(errs.KindAuthFailure, op, "status %d: %s", status, detail)
	case status == http.StatusTooManyRequests || status >= 500:
		return errs.Newf(errs.KindGatewayUnavailable, op, "status %d: %s", status, detail)
	default:
		return errs.Newf(errs.KindGatewayRejected, op, "status %d: %s", status, detail)
	}
}

// wholeUnits rounds to whole currency units; the rail rejects fractions.
func wholeUnits(op string, amount decimal.Decimal) (int64, error) {
	units := amount.Round(0)
	if !units.IsPositive() {
		return 0, errs.Newf(errs.KindValidation, op, "amount %s rounds to a non-positive value", amount.String())
	}
	return units.IntPart(), nil
}

// truncate caps s at n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := 0
	for cut < len(s) {
		_, size := utf8.DecodeRuneInString(s[cut:])
		if cut+size > n {
			break
		}
		cut += size
	}
	return s[:cut]
}
