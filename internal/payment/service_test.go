package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/BizModelAI/Main12-sub002/internal/account"
	"github.com/BizModelAI/Main12-sub002/internal/auth"
	"github.com/BizModelAI/Main12-sub002/internal/models"
	"github.com/BizModelAI/Main12-sub002/internal/quiz"
	"github.com/BizModelAI/Main12-sub002/internal/repository"
	"github.com/BizModelAI/Main12-sub002/internal/repository/repotest"
)

type fakeIdentity struct {
	userID *int64
	key    string
}

func (f *fakeIdentity) UserID() (int64, bool) {
	if f.userID == nil {
		return 0, false
	}
	return *f.userID, true
}

func (f *fakeIdentity) SessionKey() string { return f.key }

func (f *fakeIdentity) SetUserID(id int64) { f.userID = &id }

type fakeStripe struct {
	mu        sync.Mutex
	created   []IntentParams
	refunds   []RefundParams
	createErr error
	intents   map[string]*Intent
	events    map[string]*WebhookEvent
	next      int
}

func newFakeStripe() *fakeStripe {
	return &fakeStripe{intents: map[string]*Intent{}, events: map[string]*WebhookEvent{}}
}

func (f *fakeStripe) CreatePaymentIntent(ctx context.Context, p IntentParams) (*Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, p)
	f.next++
	id := fmt.Sprintf("pi_%d", f.next)
	in := &Intent{ID: id, ClientSecret: id + "_secret", Status: "requires_payment_method", AmountCents: p.AmountCents, Metadata: p.Metadata}
	f.intents[id] = in
	return in, nil
}

func (f *fakeStripe) GetPaymentIntent(ctx context.Context, id string) (*Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	in, ok := f.intents[id]
	if !ok {
		return nil, ErrProviderFailure
	}
	cp := *in
	return &cp, nil
}

func (f *fakeStripe) Refund(ctx context.Context, p RefundParams) (*RefundResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunds = append(f.refunds, p)
	return &RefundResult{ID: "re_" + p.IntentID, Status: "succeeded"}, nil
}

func (f *fakeStripe) ParseWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.events[signature]
	if !ok {
		return nil, ErrInvalidSignature
	}
	return ev, nil
}

func (f *fakeStripe) setStatus(id, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intents[id].Status = status
}

func (f *fakeStripe) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

type fakePayPal struct {
	orders   int
	captured []string
	status   string
}

func (f *fakePayPal) CreateOrder(ctx context.Context, p OrderParams) (*Order, error) {
	f.orders++
	id := fmt.Sprintf("ORDER-%d", f.orders)
	return &Order{ID: id, Status: "CREATED", ApproveURL: "https://paypal.test/approve/" + id}, nil
}

func (f *fakePayPal) CaptureOrder(ctx context.Context, orderID string) (*Capture, error) {
	f.captured = append(f.captured, orderID)
	status := f.status
	if status == "" {
		status = OrderCompleted
	}
	return &Capture{OrderID: orderID, Status: status}, nil
}

type fakeMailer struct {
	mu       sync.Mutex
	receipts []int64
}

func (f *fakeMailer) SendQuizResults(ctx context.Context, user *models.User, attempt *models.QuizAttempt) error {
	return nil
}

func (f *fakeMailer) SendUnlockReceipt(ctx context.Context, user *models.User, payment *models.Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts = append(f.receipts, payment.ID)
	return nil
}

type fixture struct {
	svc      *Service
	accounts *account.Service
	mem      *repotest.Memory
	store    *repository.Store
	stripe   *fakeStripe
	paypal   *fakePayPal
	mailer   *fakeMailer
	clock    *clockwork.FakeClock
}

func newFixture(t *testing.T, mutate ...func(*repository.Store)) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	mem := repotest.New(clock)
	store := mem.Store()
	for _, m := range mutate {
		m(store)
	}
	accounts := account.NewService(store, auth.NewPasswordHasher(bcrypt.MinCost), clock, zap.NewNop())
	quizSvc := quiz.NewService(store, accounts, clock, zap.NewNop())
	f := &fixture{
		accounts: accounts,
		mem:      mem,
		store:    store,
		stripe:   newFakeStripe(),
		paypal:   &fakePayPal{},
		mailer:   &fakeMailer{},
		clock:    clock,
	}
	f.svc = NewService(Config{
		Store:    store,
		Accounts: accounts,
		Quiz:     quizSvc,
		Stripe:   f.stripe,
		PayPal:   f.paypal,
		Mailer:   f.mailer,
		Clock:    clock,
		Logger:   zap.NewNop(),
	})
	return f
}

// temporaryUserWithAttempt creates a temporary user owning one attempt.
func (f *fixture) temporaryUserWithAttempt(t *testing.T, email string) (*models.User, *models.QuizAttempt) {
	t.Helper()
	ctx := context.Background()
	u, err := f.accounts.CreateTemporaryUser(ctx, "key-"+email, email, account.TemporaryAttrs{})
	require.NoError(t, err)
	now := f.clock.Now()
	a := &models.QuizAttempt{UserID: &u.ID, QuizData: json.RawMessage(`{}`), CompletedAt: now,
		ExpiresAt: models.ExpiresAtFor(models.TierTemporary, now)}
	require.NoError(t, f.store.QuizAttempts.Create(ctx, a))
	return u, a
}

func TestCreateReportUnlockPayment_Stripe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u, a := f.temporaryUserWithAttempt(t, "buyer@example.com")

	res, err := f.svc.CreateReportUnlockPayment(ctx, &fakeIdentity{userID: &u.ID}, UnlockInput{QuizAttemptID: a.ID}, models.ProviderStripe)
	require.NoError(t, err)

	assert.Equal(t, int64(999), res.AmountCents)
	assert.Equal(t, 9.99, res.Amount())
	assert.Equal(t, "pi_1_secret", res.ClientSecret)
	assert.Equal(t, a.ID, res.QuizAttemptID)

	require.Len(t, f.stripe.created, 1)
	params := f.stripe.created[0]
	assert.Equal(t, "buyer@example.com", params.ReceiptEmail)
	assert.NotEmpty(t, params.IdempotencyKey)
	assert.Equal(t, fmt.Sprint(res.PaymentID), params.Metadata[MetaPaymentID])
	assert.Equal(t, fmt.Sprint(u.ID), params.Metadata[MetaUserID])
	assert.Equal(t, fmt.Sprint(a.ID), params.Metadata[MetaQuizAttemptID])
	assert.Equal(t, models.PaymentTypeReportUnlock, params.Metadata[MetaType])

	p, err := f.store.Payments.GetByID(ctx, res.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, p.Status)
	assert.Equal(t, "pi_1", p.Ref())
	assert.Equal(t, params.IdempotencyKey, p.IdempotencyKey.String())
}

func TestCreateReportUnlockPayment_RepeatPurchaserDiscount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u, a := f.temporaryUserWithAttempt(t, "repeat@example.com")
	require.NoError(t, f.store.Users.MarkPaid(ctx, u.ID))

	res, err := f.svc.CreateReportUnlockPayment(ctx, &fakeIdentity{userID: &u.ID}, UnlockInput{QuizAttemptID: a.ID}, models.ProviderStripe)
	require.NoError(t, err)
	assert.Equal(t, int64(499), res.AmountCents)
}

func TestCreateReportUnlockPayment_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	anonKey := "anon"

	_, err := f.svc.CreateReportUnlockPayment(ctx, &fakeIdentity{key: anonKey}, UnlockInput{}, models.ProviderStripe)
	assert.ErrorIs(t, err, ErrInvalidAttemptID)

	_, err = f.svc.CreateReportUnlockPayment(ctx, &fakeIdentity{key: anonKey}, UnlockInput{QuizAttemptID: 404}, models.ProviderStripe)
	assert.ErrorIs(t, err, ErrAttemptNotFound)

	_, err = f.svc.CreateReportUnlockPayment(ctx, &fakeIdentity{key: anonKey}, UnlockInput{QuizAttemptID: 1}, "bitcoin")
	assert.ErrorIs(t, err, ErrUnknownProvider)

	anon := &models.QuizAttempt{SessionID: &anonKey, QuizData: json.RawMessage(`{}`), CompletedAt: f.clock.Now()}
	require.NoError(t, f.store.QuizAttempts.Create(ctx, anon))
	_, err = f.svc.CreateReportUnlockPayment(ctx, &fakeIdentity{key: anonKey}, UnlockInput{QuizAttemptID: anon.ID}, models.ProviderStripe)
	assert.ErrorIs(t, err, ErrNoOwner)

	_, err = f.svc.CreateReportUnlockPayment(ctx, &fakeIdentity{key: "someone-else"}, UnlockInput{QuizAttemptID: anon.ID}, models.ProviderStripe)
	assert.ErrorIs(t, err, quiz.ErrAuthRequired)

	assert.Zero(t, f.stripe.createdCount())
}

func TestCreateReportUnlockPayment_AnonymousWithEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := "browser"
	anon := &models.QuizAttempt{SessionID: &key, QuizData: json.RawMessage(`{}`), CompletedAt: f.clock.Now(),
		ExpiresAt: models.ExpiresAtFor(models.TierAnonymous, f.clock.Now())}
	require.NoError(t, f.store.QuizAttempts.Create(ctx, anon))

	id := &fakeIdentity{key: key}
	res, err := f.svc.CreateReportUnlockPayment(ctx, id, UnlockInput{QuizAttemptID: anon.ID, Email: "new@example.com"}, models.ProviderStripe)
	require.NoError(t, err)

	userID, ok := id.UserID()
	require.True(t, ok)
	a, err := f.store.QuizAttempts.GetByID(ctx, anon.ID)
	require.NoError(t, err)
	assert.True(t, a.OwnedBy(userID))

	p, err := f.store.Payments.GetByID(ctx, res.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, userID, p.UserID)
}

func TestCreateReportUnlockPayment_EmailOfAnotherSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	victim, _ := f.temporaryUserWithAttempt(t, "victim@example.com")

	key := "attacker"
	anon := &models.QuizAttempt{SessionID: &key, QuizData: json.RawMessage(`{}`), CompletedAt: f.clock.Now(),
		ExpiresAt: models.ExpiresAtFor(models.TierAnonymous, f.clock.Now())}
	require.NoError(t, f.store.QuizAttempts.Create(ctx, anon))

	id := &fakeIdentity{key: key}
	_, err := f.svc.CreateReportUnlockPayment(ctx, id, UnlockInput{QuizAttemptID: anon.ID, Email: victim.Email}, models.ProviderStripe)
	assert.ErrorIs(t, err, account.ErrEmailTaken)

	_, ok := id.UserID()
	assert.False(t, ok)
	a, err := f.store.QuizAttempts.GetByID(ctx, anon.ID)
	require.NoError(t, err)
	assert.True(t, a.IsAnonymous())
	assert.Zero(t, f.stripe.createdCount())
}

func TestCreateReportUnlockPayment_ProviderFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u, a := f.temporaryUserWithAttempt(t, "fail@example.com")
	f.stripe.createErr = fmt.Errorf("%w: card network down", ErrProviderFailure)

	_, err := f.svc.CreateReportUnlockPayment(ctx, &fakeIdentity{userID: &u.ID}, UnlockInput{QuizAttemptID: a.ID}, models.ProviderStripe)
	assert.ErrorIs(t, err, ErrProviderFailure)

	payments := f.mem.PaymentsFor(u.ID, a.ID)
	require.Len(t, payments, 1)
	assert.Equal(t, models.PaymentFailed, payments[0].Status)
}

func TestCreateReportUnlockPayment_ProviderNotConfigured(t *testing.T) {
	f := newFixture(t)
	f.svc.stripe = nil
	u, a := f.temporaryUserWithAttempt(t, "nocfg@example.com")

	_, err := f.svc.CreateReportUnlockPayment(context.Background(), &fakeIdentity{userID: &u.ID}, UnlockInput{QuizAttemptID: a.ID}, models.ProviderStripe)
	assert.ErrorIs(t, err, ErrProviderNotConfigured)
}

type failingRefPayments struct {
	repository.Payments
}

func (failingRefPayments) SetProviderRef(ctx context.Context, id int64, ref string) error {
	return errors.New("connection reset")
}

func TestCreateReportUnlockPayment_AttachFailureNeedsReconcile(t *testing.T) {
	f := newFixture(t, func(s *repository.Store) {
		s.Payments = failingRefPayments{s.Payments}
	})
	ctx := context.Background()
	u, a := f.temporaryUserWithAttempt(t, "gap@example.com")

	_, err := f.svc.CreateReportUnlockPayment(ctx, &fakeIdentity{userID: &u.ID}, UnlockInput{QuizAttemptID: a.ID}, models.ProviderStripe)
	require.ErrorIs(t, err, ErrPersistAfterProvider)

	var rec *ReconcileError
	require.ErrorAs(t, err, &rec)
	assert.Equal(t, "pi_1", rec.ProviderRef)
	assert.NotZero(t, rec.PaymentID)

	payments := f.mem.PaymentsFor(u.ID, a.ID)
	require.Len(t, payments, 1)
	assert.Equal(t, models.PaymentPending, payments[0].Status, "local row remains for reconciliation")
}

func TestCompletePayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u, a := f.temporaryUserWithAttempt(t, "complete@example.com")

	require.NoError(t, f.store.AIContents.Upsert(ctx, &models.AIContent{QuizAttemptID: a.ID, ContentType: "model_freelancing", Content: json.RawMessage(`{}`)}))
	require.NoError(t, f.store.AIContents.Upsert(ctx, &models.AIContent{QuizAttemptID: a.ID, ContentType: models.ContentTypeResultsPreview, Content: json.RawMessage(`{}`)}))

	res, err := f.svc.CreateReportUnlockPayment(ctx, &fakeIdentity{userID: &u.ID}, UnlockInput{QuizAttemptID: a.ID}, models.ProviderStripe)
	require.NoError(t, err)

	done, err := f.svc.CompletePayment(ctx, "pi_1", 0)
	require.NoError(t, err)
	assert.True(t, done.Promoted)
	assert.False(t, done.AlreadyCompleted)

	user, err := f.store.Users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, user.IsTemporary)
	assert.True(t, user.IsPaid)
	assert.Nil(t, user.ExpiresAt)

	attempt, err := f.store.QuizAttempts.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, attempt.IsPaid)
	assert.Nil(t, attempt.ExpiresAt)

	assert.Equal(t, 1, f.mem.AIContentCount(a.ID), "model_ content purged on promotion")
	assert.Equal(t, []int64{res.PaymentID}, f.mailer.receipts)

	again, err := f.svc.CompletePayment(ctx, "pi_1", 0)
	require.NoError(t, err)
	assert.True(t, again.AlreadyCompleted)
	assert.Len(t, f.mailer.receipts, 1, "redelivery sends no second receipt")

	_, err = f.svc.CompletePayment(ctx, "pi_unknown", 0)
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestAlreadyUnlockedBlocksSecondCharge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u, a := f.temporaryUserWithAttempt(t, "twice@example.com")
	id := &fakeIdentity{userID: &u.ID}

	_, err := f.svc.CreateReportUnlockPayment(ctx, id, UnlockInput{QuizAttemptID: a.ID}, models.ProviderStripe)
	require.NoError(t, err)
	_, err = f.svc.CompletePayment(ctx, "pi_1", 0)
	require.NoError(t, err)

	_, err = f.svc.CreateReportUnlockPayment(ctx, id, UnlockInput{QuizAttemptID: a.ID}, models.ProviderStripe)
	assert.ErrorIs(t, err, ErrAlreadyUnlocked)
	assert.Equal(t, 1, f.stripe.createdCount())
	assert.Len(t, f.mem.PaymentsFor(u.ID, a.ID), 1)
}

func TestCompletePayment_AtMostOneCompletedUnlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u, a := f.temporaryUserWithAttempt(t, "double@example.com")
	id := &fakeIdentity{userID: &u.ID}

	_, err := f.svc.CreateReportUnlockPayment(ctx, id, UnlockInput{QuizAttemptID: a.ID}, models.ProviderStripe)
	require.NoError(t, err)
	_, err = f.svc.CreateReportUnlockPayment(ctx, id, UnlockInput{QuizAttemptID: a.ID}, models.ProviderStripe)
	require.NoError(t, err)

	_, err = f.svc.CompletePayment(ctx, "pi_1", 0)
	require.NoError(t, err)
	_, err = f.svc.CompletePayment(ctx, "pi_2", 0)
	assert.ErrorIs(t, err, repository.ErrDuplicateUnlock)

	statuses := map[string]int{}
	for _, p := range f.mem.PaymentsFor(u.ID, a.ID) {
		statuses[p.Status]++
	}
	assert.Equal(t, map[string]int{models.PaymentCompleted: 1, models.PaymentFailed: 1}, statuses)

	dup, err := f.store.Payments.GetByProviderRef(ctx, "pi_2")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentFailed, dup.Status)
}

func TestHandleStripeWebhook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u, a := f.temporaryUserWithAttempt(t, "hook@example.com")

	_, err := f.svc.CreateReportUnlockPayment(ctx, &fakeIdentity{userID: &u.ID}, UnlockInput{QuizAttemptID: a.ID}, models.ProviderStripe)
	require.NoError(t, err)

	f.stripe.events["good"] = &WebhookEvent{ID: "evt_1", Type: EventIntentSucceeded, Intent: Intent{ID: "pi_1"}}
	f.stripe.events["unknown"] = &WebhookEvent{ID: "evt_2", Type: EventIntentSucceeded, Intent: Intent{ID: "pi_missing"}}
	f.stripe.events["other"] = &WebhookEvent{ID: "evt_3", Type: "customer.created"}

	assert.ErrorIs(t, f.svc.HandleStripeWebhook(ctx, []byte(`{}`), "forged"), ErrInvalidSignature)
	assert.NoError(t, f.svc.HandleStripeWebhook(ctx, []byte(`{}`), "unknown"), "unknown payments are acknowledged")
	assert.NoError(t, f.svc.HandleStripeWebhook(ctx, []byte(`{}`), "other"))
	require.NoError(t, f.svc.HandleStripeWebhook(ctx, []byte(`{}`), "good"))
	require.NoError(t, f.svc.HandleStripeWebhook(ctx, []byte(`{}`), "good"), "redelivery is a no-op")

	user, err := f.store.Users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, user.IsTemporary)
}

func TestHandleStripeWebhook_RepairsMissingReference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u, a := f.temporaryUserWithAttempt(t, "repair@example.com")

	p := &models.Payment{UserID: u.ID, QuizAttemptID: &a.ID, AmountCents: 999, Currency: "usd",
		Type: models.PaymentTypeReportUnlock, Status: models.PaymentPending, Provider: models.ProviderStripe}
	require.NoError(t, f.store.Payments.Create(ctx, p))

	f.stripe.events["sig"] = &WebhookEvent{ID: "evt", Type: EventIntentSucceeded,
		Intent: Intent{ID: "pi_orphan", Metadata: map[string]string{MetaPaymentID: fmt.Sprint(p.ID)}}}
	require.NoError(t, f.svc.HandleStripeWebhook(ctx, nil, "sig"))

	got, err := f.store.Payments.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCompleted, got.Status)
	assert.Equal(t, "pi_orphan", got.Ref())
}

func TestHandleStripeWebhook_DeclineLeavesPaymentOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u, a := f.temporaryUserWithAttempt(t, "declined@example.com")
	res, err := f.svc.CreateReportUnlockPayment(ctx, &fakeIdentity{userID: &u.ID}, UnlockInput{QuizAttemptID: a.ID}, models.ProviderStripe)
	require.NoError(t, err)

	f.stripe.events["declined"] = &WebhookEvent{ID: "evt_1", Type: EventIntentFailed, Intent: Intent{ID: "pi_1"}}
	require.NoError(t, f.svc.HandleStripeWebhook(ctx, nil, "declined"))

	p, err := f.store.Payments.GetByID(ctx, res.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, p.Status)

	// retry with another card on the same intent
	f.stripe.events["succeeded"] = &WebhookEvent{ID: "evt_2", Type: EventIntentSucceeded, Intent: Intent{ID: "pi_1"}}
	require.NoError(t, f.svc.HandleStripeWebhook(ctx, nil, "succeeded"))

	p, err = f.store.Payments.GetByID(ctx, res.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCompleted, p.Status)
}

func TestHandleStripeWebhook_CanceledPaymentStaysFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u, a := f.temporaryUserWithAttempt(t, "canceled@example.com")
	res, err := f.svc.CreateReportUnlockPayment(ctx, &fakeIdentity{userID: &u.ID}, UnlockInput{QuizAttemptID: a.ID}, models.ProviderStripe)
	require.NoError(t, err)

	f.stripe.events["canceled"] = &WebhookEvent{ID: "evt_1", Type: EventIntentCanceled, Intent: Intent{ID: "pi_1"}}
	require.NoError(t, f.svc.HandleStripeWebhook(ctx, nil, "canceled"))

	p, err := f.store.Payments.GetByID(ctx, res.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentFailed, p.Status)

	f.stripe.events["succeeded"] = &WebhookEvent{ID: "evt_2", Type: EventIntentSucceeded, Intent: Intent{ID: "pi_1"}}
	require.NoError(t, f.svc.HandleStripeWebhook(ctx, nil, "succeeded"))

	_, err = f.svc.CompletePayment(ctx, "pi_1", 0)
	assert.ErrorIs(t, err, ErrPaymentClosed)

	p, err = f.store.Payments.GetByID(ctx, res.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentFailed, p.Status)
	assert.Nil(t, p.CompletedAt)

	attempt, err := f.store.QuizAttempts.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, attempt.IsPaid)
}

func TestStatus_ReconcilesWithStripe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u, a := f.temporaryUserWithAttempt(t, "status@example.com")
	id := &fakeIdentity{userID: &u.ID}

	res, err := f.svc.CreateReportUnlockPayment(ctx, id, UnlockInput{QuizAttemptID: a.ID}, models.ProviderStripe)
	require.NoError(t, err)

	st, err := f.svc.Status(ctx, id, res.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, st.Status)
	assert.Equal(t, "requires_payment_method", st.ProviderStatus)
	assert.Equal(t, 9.99, st.Amount)

	f.stripe.setStatus("pi_1", IntentSucceeded)
	st, err = f.svc.Status(ctx, id, res.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCompleted, st.Status)

	other := int64(9999)
	_, err = f.svc.Status(ctx, &fakeIdentity{userID: &other}, res.PaymentID)
	assert.ErrorIs(t, err, quiz.ErrForbidden)

	_, err = f.svc.Status(ctx, id, 12345)
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestPayPalFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u, a := f.temporaryUserWithAttempt(t, "pp@example.com")
	id := &fakeIdentity{userID: &u.ID}

	res, err := f.svc.CreateReportUnlockPayment(ctx, id, UnlockInput{QuizAttemptID: a.ID}, models.ProviderPayPal)
	require.NoError(t, err)
	assert.Equal(t, "ORDER-1", res.OrderID)
	assert.Equal(t, "https://paypal.test/approve/ORDER-1", res.ApproveURL)

	done, err := f.svc.CapturePayPal(ctx, id, "ORDER-1")
	require.NoError(t, err)
	assert.True(t, done.Promoted)
	assert.Equal(t, []string{"ORDER-1"}, f.paypal.captured)

	again, err := f.svc.CapturePayPal(ctx, id, "ORDER-1")
	require.NoError(t, err)
	assert.True(t, again.AlreadyCompleted)
	assert.Len(t, f.paypal.captured, 1, "completed orders are not captured twice")

	_, err = f.svc.CapturePayPal(ctx, id, "ORDER-404")
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestPayPalCaptureNotCompleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u, a := f.temporaryUserWithAttempt(t, "ppfail@example.com")
	id := &fakeIdentity{userID: &u.ID}
	f.paypal.status = "PAYER_ACTION_REQUIRED"

	res, err := f.svc.CreateReportUnlockPayment(ctx, id, UnlockInput{QuizAttemptID: a.ID}, models.ProviderPayPal)
	require.NoError(t, err)

	_, err = f.svc.CapturePayPal(ctx, id, res.OrderID)
	assert.ErrorIs(t, err, ErrProviderFailure)

	p, err := f.store.Payments.GetByID(ctx, res.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentFailed, p.Status)
}

func TestRefund(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u, a := f.temporaryUserWithAttempt(t, "refund@example.com")
	id := &fakeIdentity{userID: &u.ID}

	res, err := f.svc.CreateReportUnlockPayment(ctx, id, UnlockInput{QuizAttemptID: a.ID}, models.ProviderStripe)
	require.NoError(t, err)

	_, err = f.svc.Refund(ctx, res.PaymentID, "requested_by_customer", "admin")
	assert.ErrorIs(t, err, ErrNotRefundable, "pending payments cannot be refunded")

	_, err = f.svc.CompletePayment(ctx, "pi_1", 0)
	require.NoError(t, err)

	refund, err := f.svc.Refund(ctx, res.PaymentID, "requested_by_customer", "admin")
	require.NoError(t, err)
	assert.Equal(t, "re_pi_1", *refund.ProviderRef)
	assert.Equal(t, int64(999), refund.AmountCents)

	p, err := f.store.Payments.GetByID(ctx, res.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRefunded, p.Status)

	attempt, err := f.store.QuizAttempts.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, attempt.IsPaid)

	refunds, err := f.store.Refunds.ListByPayment(ctx, res.PaymentID)
	require.NoError(t, err)
	assert.Len(t, refunds, 1)

	// The report can be bought again after a refund.
	_, err = f.svc.CreateReportUnlockPayment(ctx, id, UnlockInput{QuizAttemptID: a.ID}, models.ProviderStripe)
	assert.NoError(t, err)
}

func TestRefund_PayPalUnsupported(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u, a := f.temporaryUserWithAttempt(t, "ppref@example.com")
	id := &fakeIdentity{userID: &u.ID}

	res, err := f.svc.CreateReportUnlockPayment(ctx, id, UnlockInput{QuizAttemptID: a.ID}, models.ProviderPayPal)
	require.NoError(t, err)
	_, err = f.svc.CapturePayPal(ctx, id, res.OrderID)
	require.NoError(t, err)

	_, err = f.svc.Refund(ctx, res.PaymentID, "", "admin")
	assert.ErrorIs(t, err, ErrRefundUnsupported)
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "9.99", formatAmount(999))
	assert.Equal(t, "4.99", formatAmount(499))
	assert.Equal(t, "10.00", formatAmount(1000))
	assert.Equal(t, "0.05", formatAmount(5))
}
