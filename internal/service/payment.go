package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"storefront-checkout/internal/apperr"
	"storefront-checkout/internal/client"
	"storefront-checkout/internal/model"
	"storefront-checkout/internal/repository"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OutcomeResult describes what ApplyGatewayOutcome did to an attempt.
type OutcomeResult struct {
	Verdict  client.Verdict
	Previous model.AttemptStatus
	// Applied is true only for the call that moved the attempt to paid or failed.
	Applied bool
	Attempt *model.PaymentAttempt
}

type PaymentLedger interface {
	CreateAttempt(ctx context.Context, tx *gorm.DB, order *model.Order, contact client.Contact) (*model.PaymentAttempt, error)
	MarkInitiated(ctx context.Context, tx *gorm.DB, attempt *model.PaymentAttempt, res *client.InitiatePaymentResult) error
	MarkInitiationFailed(ctx context.Context, tx *gorm.DB, attempt *model.PaymentAttempt, reason string) error
	ApplyGatewayOutcome(ctx context.Context, tx *gorm.DB, attemptID uint, outcome *client.Outcome) (*OutcomeResult, error)
	Cancel(ctx context.Context, tx *gorm.DB, attemptID uint) (bool, error)
	Refund(ctx context.Context, tx *gorm.DB, attempt *model.PaymentAttempt, amount int64, reason string) (*model.Refund, error)
	CompleteRefund(ctx context.Context, tx *gorm.DB, attempt *model.PaymentAttempt, refund *model.Refund, gatewayRefundID string) (int64, bool, error)
	FailRefund(ctx context.Context, tx *gorm.DB, attempt *model.PaymentAttempt, refund *model.Refund, reason string) error
}

type paymentLedgerImpl struct {
	paymentRepo repository.PaymentRepository
	refundRepo  repository.RefundRepository
	successCode string
	log         *slog.Logger
	now         func() time.Time
}

func NewPaymentLedger(
	paymentRepo repository.PaymentRepository,
	refundRepo repository.RefundRepository,
	successCode string,
	log *slog.Logger,
) PaymentLedger {
	return &paymentLedgerImpl{
		paymentRepo: paymentRepo,
		refundRepo:  refundRepo,
		successCode: successCode,
		log:         log,
		now:         time.Now,
	}
}

func (l *paymentLedgerImpl) CreateAttempt(ctx context.Context, tx *gorm.DB, order *model.Order, contact client.Contact) (*model.PaymentAttempt, error) {
	attempt := &model.PaymentAttempt{
		GatewayOrderID: order.GatewayOrderID,
		OrderID:        order.ID,
		UserID:         order.UserID,
		Amount:         order.Total,
		Currency:       order.Currency,
		Status:         model.AttemptCreated,
		Email:          contact.Email,
		Contact:        contact.Mobile,
	}

	if err := l.paymentRepo.Create(ctx, tx, attempt); err != nil {
		return nil, fmt.Errorf("store payment attempt: %w", err)
	}
	return attempt, nil
}

// MarkInitiated stores the redirect returned by the gateway and moves the
// attempt from created to pending.
func (l *paymentLedgerImpl) MarkInitiated(ctx context.Context, tx *gorm.DB, attempt *model.PaymentAttempt, res *client.InitiatePaymentResult) error {
	expiresAt := res.ExpiresAt
	changed, err := l.paymentRepo.Transition(ctx, tx, attempt.ID,
		[]model.AttemptStatus{model.AttemptCreated},
		map[string]any{
			"status":        model.AttemptPending,
			"redirect_url":  res.RedirectURL,
			"expires_at":    expiresAt,
			"gateway_state": string(res.State),
		})
	if err != nil {
		return fmt.Errorf("mark payment initiated: %w", err)
	}

	if changed {
		attempt.Status = model.AttemptPending
	}
	attempt.RedirectURL = res.RedirectURL
	attempt.ExpiresAt = &expiresAt
	attempt.GatewayState = string(res.State)
	return nil
}

func (l *paymentLedgerImpl) MarkInitiationFailed(ctx context.Context, tx *gorm.DB, attempt *model.PaymentAttempt, reason string) error {
	changed, err := l.paymentRepo.Transition(ctx, tx, attempt.ID, model.OpenAttemptStatuses, map[string]any{
		"status":         model.AttemptFailed,
		"failure_reason": repository.Truncate(reason, 512),
	})
	if err != nil {
		return fmt.Errorf("mark payment initiation failed: %w", err)
	}
	if changed {
		attempt.Status = model.AttemptFailed
		attempt.FailureReason = reason
	}
	return nil
}

// ApplyGatewayOutcome moves an open attempt to paid or failed. The first
// writer wins; replays and late failures after a success are no-ops.
func (l *paymentLedgerImpl) ApplyGatewayOutcome(ctx context.Context, tx *gorm.DB, attemptID uint, outcome *client.Outcome) (*OutcomeResult, error) {
	current, err := l.paymentRepo.LockByID(ctx, tx, attemptID)
	if err != nil {
		return nil, err
	}

	res := &OutcomeResult{
		Verdict:  outcome.Verdict(l.successCode),
		Previous: current.Status,
		Attempt:  current,
	}

	logger := l.log.With(
		"gateway_order_id", current.GatewayOrderID,
		"status", current.Status,
		"gateway_state", outcome.State,
		"response_code", outcome.ResponseCode,
	)

	if !current.Status.IsOpen() {
		switch {
		case res.Verdict == client.VerdictSuccess && current.Status != model.AttemptPaid && current.Status != model.AttemptRefunded:
			logger.ErrorContext(ctx, "gateway reports success for a closed payment attempt")
		case res.Verdict == client.VerdictFailure && (current.Status == model.AttemptPaid || current.Status == model.AttemptRefunded):
			logger.WarnContext(ctx, "late failure ignored, payment already succeeded")
		default:
			logger.DebugContext(ctx, "gateway outcome replay")
		}
		return res, nil
	}

	updates := map[string]any{
		"gateway_state": string(outcome.State),
		"response_code": outcome.ResponseCode,
	}

	var to model.AttemptStatus
	switch res.Verdict {
	case client.VerdictSuccess:
		paidAt := l.now()
		to = model.AttemptPaid
		updates["paid_at"] = paidAt
		updates["gateway_payment_id"] = outcome.GatewayPaymentID
		current.PaidAt = &paidAt
		current.GatewayPaymentID = outcome.GatewayPaymentID
	case client.VerdictFailure:
		to = model.AttemptFailed
		updates["failure_reason"] = repository.Truncate(failureReason(outcome), 512)
		current.FailureReason = failureReason(outcome)
	default:
		if current.Status != model.AttemptCreated {
			return res, nil
		}
		to = model.AttemptPending
	}
	updates["status"] = to

	changed, err := l.paymentRepo.Transition(ctx, tx, current.ID, model.OpenAttemptStatuses, updates)
	if err != nil {
		return nil, fmt.Errorf("transition payment attempt: %w", err)
	}
	if !changed {
		logger.InfoContext(ctx, "payment attempt changed concurrently, outcome skipped")
		return res, nil
	}

	current.Status = to
	current.GatewayState = string(outcome.State)
	current.ResponseCode = outcome.ResponseCode
	res.Applied = res.Verdict != client.VerdictPending

	logger.InfoContext(ctx, "payment attempt updated", "to", to)
	return res, nil
}

// Cancel closes an open attempt when its order is cancelled.
func (l *paymentLedgerImpl) Cancel(ctx context.Context, tx *gorm.DB, attemptID uint) (bool, error) {
	changed, err := l.paymentRepo.Transition(ctx, tx, attemptID, model.OpenAttemptStatuses, map[string]any{
		"status": model.AttemptCancelled,
	})
	if err != nil {
		return false, fmt.Errorf("cancel payment attempt: %w", err)
	}
	return changed, nil
}

// Refund reserves amount against the attempt and records a pending refund.
// The reservation keeps the sum of refunds within the paid amount.
func (l *paymentLedgerImpl) Refund(ctx context.Context, tx *gorm.DB, attempt *model.PaymentAttempt, amount int64, reason string) (*model.Refund, error) {
	if amount <= 0 {
		return nil, apperr.New(apperr.KindInvalidAmount, "refund amount must be positive")
	}

	reserved, err := l.paymentRepo.ReserveRefund(ctx, tx, attempt.ID, amount)
	if err != nil {
		return nil, fmt.Errorf("reserve refund: %w", err)
	}
	if !reserved {
		current, err := l.paymentRepo.LockByID(ctx, tx, attempt.ID)
		if err != nil {
			return nil, err
		}
		if current.Status != model.AttemptPaid {
			return nil, apperr.New(apperr.KindInsufficientCapacity, "payment %s is %s", current.GatewayOrderID, current.Status)
		}
		return nil, apperr.New(apperr.KindInsufficientCapacity, "refund of %d exceeds remaining %d", amount, current.RemainingRefundable())
	}

	refund := &model.Refund{
		RefundID:         newRefundID(),
		PaymentAttemptID: attempt.ID,
		Amount:           amount,
		Currency:         attempt.Currency,
		Status:           model.RefundPending,
		Reason:           repository.Truncate(reason, 255),
	}
	if err := l.refundRepo.Create(ctx, tx, refund); err != nil {
		return nil, fmt.Errorf("store refund: %w", err)
	}

	attempt.RefundedAmount += amount
	return refund, nil
}

// CompleteRefund marks an accepted refund processed. It returns the total of
// processed refunds for the attempt and whether the attempt is now fully
// refunded. A replay returns 0 and false.
func (l *paymentLedgerImpl) CompleteRefund(ctx context.Context, tx *gorm.DB, attempt *model.PaymentAttempt, refund *model.Refund, gatewayRefundID string) (int64, bool, error) {
	changed, err := l.refundRepo.MarkProcessed(ctx, tx, refund.ID, gatewayRefundID)
	if err != nil {
		return 0, false, fmt.Errorf("mark refund processed: %w", err)
	}
	if !changed {
		return 0, false, nil
	}
	refund.Status = model.RefundProcessed
	refund.GatewayRefundID = gatewayRefundID

	processed, err := l.refundRepo.SumProcessed(ctx, tx, attempt.ID)
	if err != nil {
		return 0, false, fmt.Errorf("sum processed refunds: %w", err)
	}
	if processed < attempt.Amount {
		return processed, false, nil
	}

	full, err := l.paymentRepo.Transition(ctx, tx, attempt.ID,
		[]model.AttemptStatus{model.AttemptPaid},
		map[string]any{"status": model.AttemptRefunded})
	if err != nil {
		return 0, false, fmt.Errorf("mark payment refunded: %w", err)
	}
	if full {
		attempt.Status = model.AttemptRefunded
	}
	return processed, full, nil
}

// FailRefund marks the refund failed and releases its reservation.
func (l *paymentLedgerImpl) FailRefund(ctx context.Context, tx *gorm.DB, attempt *model.PaymentAttempt, refund *model.Refund, reason string) error {
	changed, err := l.refundRepo.MarkFailed(ctx, tx, refund.ID, reason)
	if err != nil {
		return fmt.Errorf("mark refund failed: %w", err)
	}
	if !changed {
		return nil
	}
	refund.Status = model.RefundFailed

	if err := l.paymentRepo.ReleaseRefund(ctx, tx, attempt.ID, refund.Amount); err != nil {
		return fmt.Errorf("release refund: %w", err)
	}
	attempt.RefundedAmount -= refund.Amount
	return nil
}

func failureReason(o *client.Outcome) string {
	if o.Message != "" {
		return o.ResponseCode + ": " + o.Message
	}
	if o.ResponseCode != "" {
		return o.ResponseCode
	}
	return "payment " + strings.ToLower(string(o.State))
}

// NewGatewayOrderID returns a merchant transaction id: "MT" and 32 hex chars.
func NewGatewayOrderID() string {
	return "MT" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func newRefundID() string {
	return "RF" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
