package client

import (
	"context"
	"time"
)

// State is the normalized gateway payment state.
type State string

const (
	StatePending   State = "PENDING"
	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
	StateCancelled State = "CANCELLED"
	StateExpired   State = "EXPIRED"
)

type Verdict int

const (
	VerdictPending Verdict = iota
	VerdictSuccess
	VerdictFailure
)

func (v Verdict) String() string {
	switch v {
	case VerdictSuccess:
		return "success"
	case VerdictFailure:
		return "failure"
	default:
		return "pending"
	}
}

// Outcome is what the gateway reports about one payment, either from a
// callback or from a status check.
type Outcome struct {
	GatewayOrderID   string
	GatewayPaymentID string
	State            State
	ResponseCode     string
	Message          string
	Amount           int64
}

// Verdict classifies the outcome. Success needs both COMPLETED and the
// configured success code; COMPLETED with any other code stays pending.
func (o *Outcome) Verdict(successCode string) Verdict {
	switch o.State {
	case StateCompleted:
		if o.ResponseCode == successCode {
			return VerdictSuccess
		}
		return VerdictPending
	case StateFailed, StateCancelled, StateExpired:
		return VerdictFailure
	default:
		return VerdictPending
	}
}

type Contact struct {
	UserID string
	Mobile string
	Email  string
}

type InitiatePaymentRequest struct {
	GatewayOrderID string
	Amount         int64 // minor units
	RedirectURL    string
	Contact        Contact
}

type InitiatePaymentResult struct {
	GatewayOrderID string
	RedirectURL    string
	State          State
	ExpiresAt      time.Time
}

type RefundRequest struct {
	GatewayOrderID   string // correlation id of the original payment
	GatewayPaymentID string
	RefundRef        string
	Amount           int64
	UserID           string
}

type RefundResult struct {
	Accepted     bool
	RefundID     string
	State        State
	ResponseCode string
}

type GatewayClient interface {
	InitiatePayment(ctx context.Context, req *InitiatePaymentRequest) (*InitiatePaymentResult, error)
	CheckStatus(ctx context.Context, gatewayOrderID string) (*Outcome, error)
	InitiateRefund(ctx context.Context, req *RefundRequest) (*RefundResult, error)
	DecodeCallback(rawBody []byte, signatureHeader string) (*Outcome, error)
}
