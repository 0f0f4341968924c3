package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"storefront-checkout/internal/apperr"
	"storefront-checkout/internal/config"
	"storefront-checkout/internal/signature"
)

const (
	payPath    = "/pg/v1/pay"
	refundPath = "/pg/v1/refund"
	statusPath = "/pg/v1/status"
)

// gateway response codes that carry a payment state on their own
var codeStates = map[string]State{
	"PAYMENT_SUCCESS":   StateCompleted,
	"PAYMENT_PENDING":   StatePending,
	"PAYMENT_INITIATED": StatePending,
	"PAYMENT_ERROR":     StateFailed,
	"PAYMENT_DECLINED":  StateFailed,
	"PAYMENT_CANCELLED": StateCancelled,
	"TIMED_OUT":         StateExpired,
}

var nonAlnum = regexp.MustCompile(`[^A-Za-z0-9]`)

type phonePeClientImpl struct {
	httpClient  *http.Client
	baseApiURL  string
	merchantID  string
	callbackURL string
	minAmount   int64
	paymentTTL  time.Duration
	codec       *signature.Codec
	now         func() time.Time
}

type paymentInstrument struct {
	Type string `json:"type"`
}

type payPayload struct {
	MerchantID            string            `json:"merchantId"`
	MerchantTransactionID string            `json:"merchantTransactionId"`
	MerchantUserID        string            `json:"merchantUserId"`
	Amount                int64             `json:"amount"`
	RedirectURL           string            `json:"redirectUrl"`
	RedirectMode          string            `json:"redirectMode"`
	CallbackURL           string            `json:"callbackUrl"`
	MobileNumber          string            `json:"mobileNumber,omitempty"`
	PaymentInstrument     paymentInstrument `json:"paymentInstrument"`
}

type refundPayload struct {
	MerchantID            string `json:"merchantId"`
	MerchantUserID        string `json:"merchantUserId"`
	OriginalTransactionID string `json:"originalTransactionId"`
	MerchantTransactionID string `json:"merchantTransactionId"`
	Amount                int64  `json:"amount"`
	CallbackURL           string `json:"callbackUrl"`
}

type signedRequest struct {
	Request string `json:"request"`
}

type redirectInfo struct {
	URL    string `json:"url"`
	Method string `json:"method"`
}

type instrumentResponse struct {
	Type         string        `json:"type"`
	RedirectInfo *redirectInfo `json:"redirectInfo"`
}

type responseData struct {
	MerchantID            string              `json:"merchantId"`
	MerchantTransactionID string              `json:"merchantTransactionId"`
	TransactionID         string              `json:"transactionId"`
	Amount                int64               `json:"amount"`
	State                 string              `json:"state"`
	ResponseCode          string              `json:"responseCode"`
	InstrumentResponse    *instrumentResponse `json:"instrumentResponse"`
}

// phonePeResponse covers both the nested v1 envelope and the flat shape
// returned by newer checkout endpoints.
type phonePeResponse struct {
	Success bool          `json:"success"`
	Code    string        `json:"code"`
	Message string        `json:"message"`
	Data    *responseData `json:"data"`

	OrderID               string `json:"orderId"`
	MerchantTransactionID string `json:"merchantTransactionId"`
	TransactionID         string `json:"transactionId"`
	State                 string `json:"state"`
	ResponseCode          string `json:"responseCode"`
	RedirectURL           string `json:"redirectUrl"`
	ExpireAt              int64  `json:"expireAt"` // epoch millis
}

func (r *phonePeResponse) data() *responseData {
	if r.Data == nil {
		return &responseData{}
	}
	return r.Data
}

func (r *phonePeResponse) redirectURL() string {
	if ir := r.data().InstrumentResponse; ir != nil && ir.RedirectInfo != nil && ir.RedirectInfo.URL != "" {
		return ir.RedirectInfo.URL
	}
	return r.RedirectURL
}

func (r *phonePeResponse) gatewayOrderID() string {
	return firstNonEmpty(r.data().MerchantTransactionID, r.MerchantTransactionID, r.OrderID)
}

func (r *phonePeResponse) gatewayPaymentID() string {
	return firstNonEmpty(r.data().TransactionID, r.TransactionID)
}

func (r *phonePeResponse) responseCode() string {
	return firstNonEmpty(r.Code, r.data().ResponseCode, r.ResponseCode)
}

// state prefers an explicit state field, then the response code.
func (r *phonePeResponse) state() (State, bool) {
	if st, ok := normalizeState(firstNonEmpty(r.data().State, r.State)); ok {
		return st, true
	}
	st, ok := codeStates[r.Code]
	return st, ok
}

func (r *phonePeResponse) outcome() *Outcome {
	st, ok := r.state()
	if !ok {
		st = StatePending
	}
	return &Outcome{
		GatewayOrderID:   r.gatewayOrderID(),
		GatewayPaymentID: r.gatewayPaymentID(),
		State:            st,
		ResponseCode:     r.responseCode(),
		Message:          r.Message,
		Amount:           r.data().Amount,
	}
}

func NewPhonePeClient(cfg *config.PhonePe) GatewayClient {
	return &phonePeClientImpl{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseApiURL:  strings.TrimRight(cfg.BaseApiURL, "/"),
		merchantID:  cfg.MerchantID,
		callbackURL: cfg.CallbackURL,
		minAmount:   cfg.MinAmount,
		paymentTTL:  cfg.PaymentTTL,
		codec:       signature.NewCodec(cfg.SaltKey, cfg.SaltIndex),
		now:         time.Now,
	}
}

func (c *phonePeClientImpl) InitiatePayment(ctx context.Context, req *InitiatePaymentRequest) (*InitiatePaymentResult, error) {
	if req.Amount < c.minAmount {
		return nil, apperr.New(apperr.KindInvalidAmount, "amount %d is below gateway minimum %d", req.Amount, c.minAmount)
	}

	payload := payPayload{
		MerchantID:            c.merchantID,
		MerchantTransactionID: req.GatewayOrderID,
		MerchantUserID:        merchantUserID(req.Contact.UserID),
		Amount:                req.Amount,
		RedirectURL:           req.RedirectURL,
		RedirectMode:          "POST",
		CallbackURL:           c.callbackURL,
		MobileNumber:          req.Contact.Mobile,
		PaymentInstrument:     paymentInstrument{Type: "PAY_PAGE"},
	}

	status, resp, err := c.postSigned(ctx, payPath, payload)
	if err != nil {
		return nil, fmt.Errorf("phonepe pay: %w", err)
	}

	redirect := resp.redirectURL()
	if redirect == "" {
		if !resp.Success || status >= 300 {
			return nil, apperr.GatewayRejected(status, resp.Code, firstNonEmpty(resp.Message, "payment initiation rejected"))
		}
		return nil, apperr.New(apperr.KindGatewayProtocol, "pay response without redirect url")
	}

	st, ok := resp.state()
	if !ok {
		st = StatePending
	}

	expiresAt := c.now().Add(c.paymentTTL)
	if resp.ExpireAt > 0 {
		expiresAt = time.UnixMilli(resp.ExpireAt)
	}

	return &InitiatePaymentResult{
		GatewayOrderID: firstNonEmpty(resp.gatewayOrderID(), req.GatewayOrderID),
		RedirectURL:    redirect,
		State:          st,
		ExpiresAt:      expiresAt,
	}, nil
}

func (c *phonePeClientImpl) CheckStatus(ctx context.Context, gatewayOrderID string) (*Outcome, error) {
	path := fmt.Sprintf("%s/%s/%s", statusPath, c.merchantID, gatewayOrderID)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseApiURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create status request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-VERIFY", c.codec.Sign(path))
	httpReq.Header.Set("X-MERCHANT-ID", c.merchantID)

	status, resp, err := c.do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("phonepe status: %w", err)
	}

	// failed payments come back with success=false and a payment code, which
	// is an outcome rather than a rejected call
	if _, known := resp.state(); !known {
		if !resp.Success || status >= 300 {
			return nil, apperr.GatewayRejected(status, resp.Code, firstNonEmpty(resp.Message, "status check rejected"))
		}
		return nil, apperr.New(apperr.KindGatewayProtocol, "status response without state")
	}

	outcome := resp.outcome()
	if outcome.GatewayOrderID == "" {
		outcome.GatewayOrderID = gatewayOrderID
	}
	return outcome, nil
}

func (c *phonePeClientImpl) InitiateRefund(ctx context.Context, req *RefundRequest) (*RefundResult, error) {
	payload := refundPayload{
		MerchantID:            c.merchantID,
		MerchantUserID:        merchantUserID(req.UserID),
		OriginalTransactionID: req.GatewayOrderID,
		MerchantTransactionID: req.RefundRef,
		Amount:                req.Amount,
		CallbackURL:           c.callbackURL,
	}

	status, resp, err := c.postSigned(ctx, refundPath, payload)
	if err != nil {
		return nil, fmt.Errorf("phonepe refund: %w", err)
	}
	if !resp.Success || status >= 300 {
		return nil, apperr.GatewayRejected(status, resp.Code, firstNonEmpty(resp.Message, "refund rejected"))
	}

	st, ok := resp.state()
	if !ok {
		st = StatePending
	}

	return &RefundResult{
		Accepted:     st != StateFailed && st != StateCancelled,
		RefundID:     firstNonEmpty(resp.gatewayPaymentID(), req.RefundRef),
		State:        st,
		ResponseCode: resp.responseCode(),
	}, nil
}

// DecodeCallback verifies X-VERIFY over the base64 "response" field and then
// decodes it.
func (c *phonePeClientImpl) DecodeCallback(rawBody []byte, signatureHeader string) (*Outcome, error) {
	var body struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(rawBody, &body); err != nil {
		return nil, apperr.Wrap(apperr.KindMalformedPayload, err, "decode callback body")
	}
	if body.Response == "" {
		return nil, apperr.New(apperr.KindMalformedPayload, "callback body without response")
	}

	if err := c.codec.VerifyOrError(signatureHeader, body.Response); err != nil {
		return nil, err
	}

	var resp phonePeResponse
	if err := signature.DecodePayload(body.Response, &resp); err != nil {
		return nil, err
	}

	outcome := resp.outcome()
	if outcome.GatewayOrderID == "" {
		return nil, apperr.New(apperr.KindMalformedPayload, "callback without merchantTransactionId")
	}
	return outcome, nil
}

func (c *phonePeClientImpl) postSigned(ctx context.Context, path string, payload any) (int, *phonePeResponse, error) {
	encoded, err := signature.EncodePayload(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("encode payload: %w", err)
	}

	body, err := json.Marshal(signedRequest{Request: encoded})
	if err != nil {
		return 0, nil, fmt.Errorf("marshal req payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseApiURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("http new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-VERIFY", c.codec.Sign(encoded+path))

	return c.do(httpReq)
}

func (c *phonePeClientImpl) do(req *http.Request) (int, *phonePeResponse, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, apperr.Wrap(apperr.KindGatewayUnreachable, err, "%s %s", req.Method, req.URL.Path)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, apperr.Wrap(apperr.KindGatewayUnreachable, err, "read response body")
	}

	if resp.StatusCode >= 500 {
		return resp.StatusCode, nil, apperr.New(apperr.KindGatewayUnreachable, "gateway returned status %d", resp.StatusCode)
	}

	var parsed phonePeResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		if resp.StatusCode >= 400 {
			return resp.StatusCode, nil, apperr.GatewayRejected(resp.StatusCode, "", fmt.Sprintf("gateway returned status %d", resp.StatusCode))
		}
		return resp.StatusCode, nil, apperr.Wrap(apperr.KindGatewayProtocol, err, "decode gateway response")
	}

	return resp.StatusCode, &parsed, nil
}

func normalizeState(s string) (State, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "COMPLETED", "SUCCESS":
		return StateCompleted, true
	case "PENDING", "INITIATED", "CREATED":
		return StatePending, true
	case "FAILED", "FAILURE", "DECLINED":
		return StateFailed, true
	case "CANCELLED", "CANCELED":
		return StateCancelled, true
	case "EXPIRED", "TIMED_OUT":
		return StateExpired, true
	}
	return "", false
}

// merchantUserID is "USER" plus the first 20 alphanumerics of the user id.
func merchantUserID(userID string) string {
	clean := nonAlnum.ReplaceAllString(userID, "")
	if len(clean) > 20 {
		clean = clean[:20]
	}
	return "USER" + clean
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
