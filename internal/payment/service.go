// Package payment orchestrates report unlock purchases through Stripe and
// PayPal with at most one completed unlock per user and quiz attempt.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/BizModelAI/Main12-sub002/internal/account"
	"github.com/BizModelAI/Main12-sub002/internal/email"
	"github.com/BizModelAI/Main12-sub002/internal/models"
	"github.com/BizModelAI/Main12-sub002/internal/quiz"
	"github.com/BizModelAI/Main12-sub002/internal/repository"
	"github.com/BizModelAI/Main12-sub002/internal/session"
)

const unlockDescription = "BizModelAI full report unlock"

// Config wires the payment service. Stripe, PayPal and Mailer may be nil.
type Config struct {
	Store    *repository.Store
	Accounts *account.Service
	Quiz     *quiz.Service
	Stripe   StripeGateway
	PayPal   PayPalGateway
	Mailer   email.Mailer
	Clock    clockwork.Clock
	Logger   *zap.Logger
}

// Service is the payment/unlock orchestrator.
type Service struct {
	store    *repository.Store
	accounts *account.Service
	quiz     *quiz.Service
	stripe   StripeGateway
	paypal   PayPalGateway
	mailer   email.Mailer
	clock    clockwork.Clock
	log      *zap.Logger
}

// NewService creates a payment service
func NewService(cfg Config) *Service {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Service{
		store:    cfg.Store,
		accounts: cfg.Accounts,
		quiz:     cfg.Quiz,
		stripe:   cfg.Stripe,
		paypal:   cfg.PayPal,
		mailer:   cfg.Mailer,
		clock:    cfg.Clock,
		log:      cfg.Logger.Named("payment"),
	}
}

// UnlockInput identifies the attempt to unlock. Email is used to attach an
// anonymous attempt to a temporary user before charging.
type UnlockInput struct {
	QuizAttemptID int64
	Email         string
}

// UnlockResult is returned to the client to complete the payment.
type UnlockResult struct {
	PaymentID     int64  `json:"paymentId"`
	Provider      string `json:"provider"`
	AmountCents   int64  `json:"-"`
	QuizAttemptID int64  `json:"quizAttemptId"`
	ClientSecret  string `json:"clientSecret,omitempty"`
	OrderID       string `json:"orderId,omitempty"`
	ApproveURL    string `json:"approveUrl,omitempty"`
}

// Amount returns the charged amount in dollars.
func (r *UnlockResult) Amount() float64 {
	return models.CentsToDollars(r.AmountCents)
}

// CreateReportUnlockPayment starts a report unlock. A pending payment row
// with a fresh idempotency key is written first, then the provider object is
// created referencing it, then the provider reference is attached to the row.
func (s *Service) CreateReportUnlockPayment(ctx context.Context, id session.Identity, in UnlockInput, provider string) (*UnlockResult, error) {
	if in.QuizAttemptID <= 0 {
		return nil, ErrInvalidAttemptID
	}
	switch provider {
	case models.ProviderStripe:
		if s.stripe == nil {
			return nil, ErrProviderNotConfigured
		}
	case models.ProviderPayPal:
		if s.paypal == nil {
			return nil, ErrProviderNotConfigured
		}
	default:
		return nil, ErrUnknownProvider
	}

	attempt, err := s.store.QuizAttempts.GetByID(ctx, in.QuizAttemptID)
	if err != nil {
		return nil, err
	}
	if err := s.quiz.CanAccess(ctx, id, attempt); err != nil {
		return nil, err
	}

	user, err := s.resolveOwner(ctx, id, attempt, in.Email)
	if err != nil {
		return nil, err
	}

	if _, err := s.store.Payments.FindCompletedUnlock(ctx, user.ID, attempt.ID); err == nil {
		return nil, ErrAlreadyUnlocked
	} else if !errors.Is(err, repository.ErrPaymentNotFound) {
		return nil, err
	}

	payment := &models.Payment{
		UserID:         user.ID,
		QuizAttemptID:  &attempt.ID,
		AmountCents:    models.UnlockPrice(user.IsPaid),
		Currency:       models.DefaultCurrency,
		Type:           models.PaymentTypeReportUnlock,
		Status:         models.PaymentPending,
		Provider:       provider,
		IdempotencyKey: uuid.New(),
	}
	if err := s.store.Payments.Create(ctx, payment); err != nil {
		return nil, err
	}

	result := &UnlockResult{
		PaymentID:     payment.ID,
		Provider:      provider,
		AmountCents:   payment.AmountCents,
		QuizAttemptID: attempt.ID,
	}

	var ref string
	switch provider {
	case models.ProviderStripe:
		intent, err := s.stripe.CreatePaymentIntent(ctx, IntentParams{
			AmountCents:    payment.AmountCents,
			Currency:       payment.Currency,
			Description:    unlockDescription,
			ReceiptEmail:   user.Email,
			IdempotencyKey: payment.IdempotencyKey.String(),
			Metadata:       paymentMetadata(payment),
		})
		if err != nil {
			return nil, s.providerFailed(ctx, payment, err)
		}
		ref = intent.ID
		result.ClientSecret = intent.ClientSecret
	case models.ProviderPayPal:
		order, err := s.paypal.CreateOrder(ctx, OrderParams{
			AmountCents: payment.AmountCents,
			Currency:    payment.Currency,
			Description: unlockDescription,
			ReferenceID: strconv.FormatInt(payment.ID, 10),
			CustomID:    payment.IdempotencyKey.String(),
		})
		if err != nil {
			return nil, s.providerFailed(ctx, payment, err)
		}
		ref = order.ID
		result.OrderID = order.ID
		result.ApproveURL = order.ApproveURL
	}

	if err := s.store.Payments.SetProviderRef(ctx, payment.ID, ref); err != nil {
		s.log.Error("provider object created but payment row not updated",
			zap.Int64("payment_id", payment.ID), zap.String("provider_ref", ref), zap.Error(err))
		return nil, &ReconcileError{PaymentID: payment.ID, ProviderRef: ref, Err: err}
	}

	s.log.Info("report unlock payment created",
		zap.Int64("payment_id", payment.ID),
		zap.Int64("user_id", user.ID),
		zap.Int64("quiz_attempt_id", attempt.ID),
		zap.String("provider", provider),
		zap.Int64("amount_cents", payment.AmountCents))
	return result, nil
}

// resolveOwner returns the attempt's owner, attaching an anonymous attempt
// to the caller or to a temporary user for email first. An email whose
// account is permanent or held by another session is refused.
func (s *Service) resolveOwner(ctx context.Context, id session.Identity, attempt *models.QuizAttempt, emailAddr string) (*models.User, error) {
	if attempt.UserID != nil {
		return s.store.Users.GetByID(ctx, *attempt.UserID)
	}

	var user *models.User
	var err error
	switch {
	case emailAddr != "":
		user, err = s.accounts.CreateTemporaryUser(ctx, id.SessionKey(), emailAddr, account.TemporaryAttrs{})
		if err != nil {
			return nil, err
		}
		if !user.IsTemporary || !user.HeldBySession(id.SessionKey()) {
			return nil, account.ErrEmailTaken
		}
		id.SetUserID(user.ID)
	default:
		userID, ok := id.UserID()
		if !ok {
			return nil, ErrNoOwner
		}
		user, err = s.store.Users.GetByID(ctx, userID)
		if err != nil {
			if errors.Is(err, repository.ErrUserNotFound) {
				return nil, ErrNoOwner
			}
			return nil, err
		}
	}

	assigned, err := s.store.QuizAttempts.AssignOwner(ctx, attempt.ID, user.ID, models.TierFor(user))
	if err != nil {
		return nil, err
	}
	if !assigned {
		// Claimed concurrently; charge whoever owns it now.
		current, err := s.store.QuizAttempts.GetByID(ctx, attempt.ID)
		if err != nil {
			return nil, err
		}
		if current.UserID == nil {
			return nil, ErrNoOwner
		}
		return s.store.Users.GetByID(ctx, *current.UserID)
	}
	if _, err := s.accounts.ClaimAnonymousAttempts(ctx, user, id.SessionKey()); err != nil {
		s.log.Warn("failed to claim remaining anonymous attempts", zap.Int64("user_id", user.ID), zap.Error(err))
	}
	return user, nil
}

func (s *Service) providerFailed(ctx context.Context, payment *models.Payment, err error) error {
	s.log.Error("provider rejected payment creation",
		zap.Int64("payment_id", payment.ID), zap.String("provider", payment.Provider), zap.Error(err))
	if _, markErr := s.store.Payments.MarkFailed(ctx, payment.ID); markErr != nil {
		s.log.Error("failed to mark payment failed", zap.Int64("payment_id", payment.ID), zap.Error(markErr))
	}
	if errors.Is(err, ErrProviderNotConfigured) || errors.Is(err, ErrProviderFailure) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrProviderFailure, err)
}

func paymentMetadata(p *models.Payment) map[string]string {
	md := map[string]string{
		MetaPaymentID: strconv.FormatInt(p.ID, 10),
		MetaUserID:    strconv.FormatInt(p.UserID, 10),
		MetaType:      p.Type,
	}
	if p.QuizAttemptID != nil {
		md[MetaQuizAttemptID] = strconv.FormatInt(*p.QuizAttemptID, 10)
	}
	return md
}

// Completion describes the outcome of CompletePayment.
type Completion struct {
	PaymentID        int64
	UserID           int64
	Promoted         bool
	AlreadyCompleted bool
}

// CompletePayment marks the payment for providerRef completed, unlocks its
// quiz attempt and promotes its user. When no payment carries providerRef,
// fallbackPaymentID (from provider metadata) is tried and the reference
// repaired. Completing an already completed payment is a no-op; a failed
// payment stays failed and yields ErrPaymentClosed.
func (s *Service) CompletePayment(ctx context.Context, providerRef string, fallbackPaymentID int64) (*Completion, error) {
	payment, err := s.lookup(ctx, providerRef, fallbackPaymentID)
	if err != nil {
		return nil, err
	}

	result := &Completion{PaymentID: payment.ID, UserID: payment.UserID}
	if payment.Status == models.PaymentCompleted {
		result.AlreadyCompleted = true
		return result, nil
	}
	if payment.Status == models.PaymentRefunded {
		s.log.Warn("ignoring completion of refunded payment", zap.Int64("payment_id", payment.ID))
		result.AlreadyCompleted = true
		return result, nil
	}
	if payment.Status == models.PaymentFailed {
		s.log.Error("provider reports success for a failed payment; payment needs a refund",
			zap.Int64("payment_id", payment.ID), zap.String("provider_ref", payment.Ref()))
		return nil, ErrPaymentClosed
	}

	err = s.store.Tx.WithTx(ctx, func(ctx context.Context) error {
		updated, err := s.store.Payments.MarkCompleted(ctx, payment.ID, s.clock.Now())
		if err != nil {
			return err
		}
		if !updated {
			result.AlreadyCompleted = true
			return nil
		}
		if payment.QuizAttemptID != nil {
			if err := s.store.QuizAttempts.SetPaid(ctx, *payment.QuizAttemptID, true); err != nil && !errors.Is(err, repository.ErrAttemptNotFound) {
				return err
			}
		}
		if err := s.store.Users.MarkPaid(ctx, payment.UserID); err != nil {
			return err
		}
		promoted, err := s.accounts.PromoteToPermanent(ctx, payment.UserID)
		if err != nil {
			return err
		}
		result.Promoted = promoted
		if promoted {
			if _, err := s.store.AIContents.DeleteByPrefixForUser(ctx, payment.UserID, models.ModelContentPrefix); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateUnlock) {
			if _, markErr := s.store.Payments.MarkFailed(ctx, payment.ID); markErr != nil {
				s.log.Error("failed to mark duplicate unlock failed", zap.Int64("payment_id", payment.ID), zap.Error(markErr))
			}
			s.log.Error("second completed unlock rejected; payment marked failed and needs a refund",
				zap.Int64("payment_id", payment.ID), zap.String("provider_ref", payment.Ref()))
		}
		return nil, err
	}

	if !result.AlreadyCompleted {
		s.log.Info("payment completed",
			zap.Int64("payment_id", payment.ID),
			zap.Int64("user_id", payment.UserID),
			zap.Bool("promoted", result.Promoted))
		s.sendReceipt(ctx, payment.ID)
	}
	return result, nil
}

func (s *Service) lookup(ctx context.Context, providerRef string, fallbackPaymentID int64) (*models.Payment, error) {
	if providerRef != "" {
		payment, err := s.store.Payments.GetByProviderRef(ctx, providerRef)
		if err == nil {
			return payment, nil
		}
		if !errors.Is(err, repository.ErrPaymentNotFound) {
			return nil, err
		}
	}
	if fallbackPaymentID <= 0 {
		return nil, ErrPaymentNotFound
	}

	payment, err := s.store.Payments.GetByID(ctx, fallbackPaymentID)
	if err != nil {
		return nil, err
	}
	if payment.ProviderRef != nil && *payment.ProviderRef != providerRef {
		return nil, ErrPaymentNotFound
	}
	if payment.ProviderRef == nil && providerRef != "" {
		if err := s.store.Payments.SetProviderRef(ctx, payment.ID, providerRef); err != nil {
			return nil, err
		}
		payment.ProviderRef = &providerRef
		s.log.Info("repaired missing provider reference", zap.Int64("payment_id", payment.ID), zap.String("provider_ref", providerRef))
	}
	return payment, nil
}

func (s *Service) sendReceipt(ctx context.Context, paymentID int64) {
	if s.mailer == nil {
		return
	}
	payment, err := s.store.Payments.GetByID(ctx, paymentID)
	if err != nil {
		s.log.Warn("receipt skipped", zap.Int64("payment_id", paymentID), zap.Error(err))
		return
	}
	user, err := s.store.Users.GetByID(ctx, payment.UserID)
	if err != nil {
		s.log.Warn("receipt skipped", zap.Int64("payment_id", paymentID), zap.Error(err))
		return
	}
	if err := s.mailer.SendUnlockReceipt(ctx, user, payment); err != nil && !errors.Is(err, email.ErrUnsubscribed) {
		s.log.Warn("failed to send receipt", zap.Int64("payment_id", paymentID), zap.Error(err))
	}
}

// FailPayment marks a pending payment failed. Other states are left alone.
func (s *Service) FailPayment(ctx context.Context, providerRef string) error {
	payment, err := s.store.Payments.GetByProviderRef(ctx, providerRef)
	if err != nil {
		return err
	}
	if _, err := s.store.Payments.MarkFailed(ctx, payment.ID); err != nil {
		return err
	}
	return nil
}

// HandleStripeWebhook verifies and applies a Stripe event. Once the signature
// is verified it returns nil even when reconciliation fails, so the event is
// acknowledged and not redelivered forever.
func (s *Service) HandleStripeWebhook(ctx context.Context, payload []byte, signature string) error {
	if s.stripe == nil {
		return ErrProviderNotConfigured
	}
	event, err := s.stripe.ParseWebhook(payload, signature)
	if err != nil {
		return err
	}

	log := s.log.With(zap.String("event_id", event.ID), zap.String("event_type", event.Type), zap.String("intent_id", event.Intent.ID))
	switch event.Type {
	case EventIntentSucceeded:
		fallback, _ := strconv.ParseInt(event.Intent.Metadata[MetaPaymentID], 10, 64)
		res, err := s.CompletePayment(ctx, event.Intent.ID, fallback)
		if err != nil {
			log.Error("failed to complete payment from webhook", zap.Error(err))
			return nil
		}
		log.Info("webhook processed", zap.Int64("payment_id", res.PaymentID), zap.Bool("already_completed", res.AlreadyCompleted))
	case EventIntentFailed:
		// the customer may retry on the same intent, so the payment stays pending
		log.Info("payment attempt declined")
	case EventIntentCanceled:
		if err := s.FailPayment(ctx, event.Intent.ID); err != nil {
			log.Warn("failed to mark payment failed from webhook", zap.Error(err))
		}
	default:
		log.Debug("ignoring webhook event")
	}
	return nil
}

// StatusResult is the reconciled state of a payment.
type StatusResult struct {
	PaymentID      int64      `json:"paymentId"`
	Status         string     `json:"status"`
	Provider       string     `json:"provider"`
	Amount         float64    `json:"amount"`
	Currency       string     `json:"currency"`
	QuizAttemptID  *int64     `json:"quizAttemptId"`
	ProviderStatus string     `json:"providerStatus,omitempty"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
}

// Status returns a payment's local status, reconciled with Stripe's live
// status while the payment is still open.
func (s *Service) Status(ctx context.Context, id session.Identity, paymentID int64) (*StatusResult, error) {
	payment, err := s.store.Payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, id, payment); err != nil {
		return nil, err
	}

	var providerStatus string
	if payment.Provider == models.ProviderStripe && payment.ProviderRef != nil && !payment.IsTerminal() && s.stripe != nil {
		intent, err := s.stripe.GetPaymentIntent(ctx, *payment.ProviderRef)
		if err != nil {
			s.log.Warn("failed to fetch live payment status", zap.Int64("payment_id", payment.ID), zap.Error(err))
		} else {
			providerStatus = intent.Status
			switch intent.Status {
			case IntentSucceeded:
				if _, err := s.CompletePayment(ctx, intent.ID, payment.ID); err != nil {
					s.log.Warn("failed to reconcile payment", zap.Int64("payment_id", payment.ID), zap.Error(err))
				}
			case IntentCanceled:
				if _, err := s.store.Payments.MarkFailed(ctx, payment.ID); err != nil {
					s.log.Warn("failed to reconcile payment", zap.Int64("payment_id", payment.ID), zap.Error(err))
				}
			}
			if payment, err = s.store.Payments.GetByID(ctx, paymentID); err != nil {
				return nil, err
			}
		}
	}

	return &StatusResult{
		PaymentID:      payment.ID,
		Status:         payment.Status,
		Provider:       payment.Provider,
		Amount:         payment.Amount(),
		Currency:       payment.Currency,
		QuizAttemptID:  payment.QuizAttemptID,
		ProviderStatus: providerStatus,
		CompletedAt:    payment.CompletedAt,
	}, nil
}

// authorize applies the attempt access rules to payments: owners may see
// them, and unauthenticated callers may see payments of temporary users.
func (s *Service) authorize(ctx context.Context, id session.Identity, payment *models.Payment) error {
	if userID, ok := id.UserID(); ok {
		if userID == payment.UserID {
			return nil
		}
		return quiz.ErrForbidden
	}
	owner, err := s.store.Users.GetByID(ctx, payment.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return quiz.ErrAuthRequired
		}
		return err
	}
	if owner.IsTemporary {
		return nil
	}
	return quiz.ErrAuthRequired
}

// CapturePayPal captures an approved PayPal order and completes its payment.
func (s *Service) CapturePayPal(ctx context.Context, id session.Identity, orderID string) (*Completion, error) {
	if s.paypal == nil {
		return nil, ErrProviderNotConfigured
	}
	payment, err := s.store.Payments.GetByProviderRef(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if payment.Provider != models.ProviderPayPal {
		return nil, ErrPaymentNotFound
	}
	if err := s.authorize(ctx, id, payment); err != nil {
		return nil, err
	}
	if payment.Status == models.PaymentCompleted {
		return &Completion{PaymentID: payment.ID, UserID: payment.UserID, AlreadyCompleted: true}, nil
	}

	capture, err := s.paypal.CaptureOrder(ctx, orderID)
	if err != nil {
		s.log.Error("paypal capture failed", zap.Int64("payment_id", payment.ID), zap.Error(err))
		return nil, err
	}
	if capture.Status != OrderCompleted {
		if _, err := s.store.Payments.MarkFailed(ctx, payment.ID); err != nil {
			s.log.Warn("failed to mark payment failed", zap.Int64("payment_id", payment.ID), zap.Error(err))
		}
		return nil, fmt.Errorf("%w: capture status %s", ErrProviderFailure, capture.Status)
	}
	return s.CompletePayment(ctx, orderID, payment.ID)
}

// Refund refunds a completed Stripe payment in full and revokes the unlock.
func (s *Service) Refund(ctx context.Context, paymentID int64, reason, adminID string) (*models.Refund, error) {
	payment, err := s.store.Payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != models.PaymentCompleted {
		return nil, ErrNotRefundable
	}
	if payment.Provider != models.ProviderStripe {
		return nil, ErrRefundUnsupported
	}
	if s.stripe == nil {
		return nil, ErrProviderNotConfigured
	}

	res, err := s.stripe.Refund(ctx, RefundParams{
		IntentID:       payment.Ref(),
		Reason:         reason,
		IdempotencyKey: "refund-" + payment.IdempotencyKey.String(),
	})
	if err != nil {
		s.log.Error("stripe refund failed", zap.Int64("payment_id", payment.ID), zap.Error(err))
		return nil, err
	}

	refund := &models.Refund{
		PaymentID:   payment.ID,
		AmountCents: payment.AmountCents,
		Reason:      reason,
		Status:      res.Status,
		ProviderRef: &res.ID,
		AdminUserID: adminID,
	}
	err = s.store.Tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.store.Refunds.Create(ctx, refund); err != nil {
			return err
		}
		if _, err := s.store.Payments.MarkRefunded(ctx, payment.ID); err != nil {
			return err
		}
		if payment.QuizAttemptID != nil {
			if err := s.store.QuizAttempts.SetPaid(ctx, *payment.QuizAttemptID, false); err != nil && !errors.Is(err, repository.ErrAttemptNotFound) {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.log.Error("refund issued but not recorded", zap.Int64("payment_id", payment.ID), zap.String("refund_id", res.ID), zap.Error(err))
		return nil, &ReconcileError{PaymentID: payment.ID, ProviderRef: res.ID, Err: err}
	}

	s.log.Info("payment refunded", zap.Int64("payment_id", payment.ID), zap.String("refund_id", res.ID), zap.String("admin", adminID))
	return refund, nil
}
