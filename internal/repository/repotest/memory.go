// Package repotest provides in-memory implementations of the repository
// interfaces for tests. All repositories of one Memory share a single lock
// and enforce the same unique constraints as the PostgreSQL schema.
// Transactions run fn directly and do not roll back.
package repotest

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/BizModelAI/Main12-sub002/internal/models"
	"github.com/BizModelAI/Main12-sub002/internal/repository"
)

type contentKey struct {
	attemptID   int64
	contentType string
}

// Memory holds the shared in-memory state.
type Memory struct {
	mu    sync.Mutex
	clock clockwork.Clock

	users    map[int64]models.User
	attempts map[int64]models.QuizAttempt
	payments map[int64]models.Payment
	refunds  []models.Refund
	content  map[contentKey]models.AIContent

	nextUserID    int64
	nextAttemptID int64
	nextPaymentID int64
	nextRefundID  int64

	// BeforeCreateUser, when set, runs before a user insert without the lock
	// held. Tests use it to interleave a competing insert.
	BeforeCreateUser func(email string)
}

// New returns an empty store using clock for generated timestamps.
func New(clock clockwork.Clock) *Memory {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Memory{
		clock:    clock,
		users:    make(map[int64]models.User),
		attempts: make(map[int64]models.QuizAttempt),
		payments: make(map[int64]models.Payment),
		content:  make(map[contentKey]models.AIContent),
	}
}

// Store returns repository.Store backed by m.
func (m *Memory) Store() *repository.Store {
	return &repository.Store{
		Users:        (*users)(m),
		QuizAttempts: (*attempts)(m),
		Payments:     (*payments)(m),
		Refunds:      (*refunds)(m),
		AIContents:   (*contents)(m),
		Tx:           m,
	}
}

// WithTx runs fn without transactional isolation.
func (m *Memory) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// PaymentsFor returns every payment for a user and quiz attempt.
func (m *Memory) PaymentsFor(userID, quizAttemptID int64) []models.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Payment
	for _, p := range m.payments {
		if p.UserID == userID && p.QuizAttemptID != nil && *p.QuizAttemptID == quizAttemptID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AIContentCount returns the number of cached entries for an attempt.
func (m *Memory) AIContentCount(quizAttemptID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.content {
		if k.attemptID == quizAttemptID {
			n++
		}
	}
	return n
}

func ptr[T any](v T) *T { return &v }

// users implements repository.Users.
type users Memory

func (r *users) Create(ctx context.Context, user *models.User) error {
	if r.BeforeCreateUser != nil {
		r.BeforeCreateUser(user.Email)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if strings.EqualFold(u.Email, user.Email) {
			return repository.ErrUserExists
		}
	}
	r.nextUserID++
	now := r.clock.Now()
	user.ID = r.nextUserID
	user.CreatedAt = now
	user.UpdatedAt = now
	r.users[user.ID] = *user
	return nil
}

func (r *users) GetByID(ctx context.Context, id int64) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return &u, nil
}

func (r *users) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (r *users) update(id int64, fn func(u *models.User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	fn(&u)
	u.UpdatedAt = r.clock.Now()
	r.users[id] = u
	return nil
}

func (r *users) RefreshTemporary(ctx context.Context, id int64, sessionID string, expiresAt time.Time) error {
	err := r.update(id, func(u *models.User) {
		if u.IsTemporary {
			u.SessionID = ptr(sessionID)
			u.ExpiresAt = ptr(expiresAt)
		}
	})
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil
	}
	return err
}

func (r *users) UpdateProfile(ctx context.Context, id int64, passwordHash, firstName, lastName string) error {
	return r.update(id, func(u *models.User) {
		u.PasswordHash = passwordHash
		u.FirstName = firstName
		u.LastName = lastName
	})
}

func (r *users) SetPassword(ctx context.Context, id int64, passwordHash string) error {
	return r.update(id, func(u *models.User) { u.PasswordHash = passwordHash })
}

func (r *users) Promote(ctx context.Context, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok || !u.IsTemporary {
		return false, nil
	}
	u.IsTemporary = false
	u.ExpiresAt = nil
	u.UpdatedAt = r.clock.Now()
	r.users[id] = u
	return true, nil
}

func (r *users) MarkPaid(ctx context.Context, id int64) error {
	return r.update(id, func(u *models.User) { u.IsPaid = true })
}

func (r *users) SetUnsubscribed(ctx context.Context, id int64, unsubscribed bool) error {
	return r.update(id, func(u *models.User) { u.IsUnsubscribed = unsubscribed })
}

func (r *users) DeleteExpiredTemporary(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, u := range r.users {
		if !u.IsTemporary || u.IsPaid || u.ExpiresAt == nil || !u.ExpiresAt.Before(now) {
			continue
		}
		if r.hasCompletedPaymentLocked(id) {
			continue
		}
		delete(r.users, id)
		// ON DELETE CASCADE
		for aid, a := range r.attempts {
			if a.OwnedBy(id) {
				delete(r.attempts, aid)
				(*Memory)(r).deleteContentLocked(aid, "")
			}
		}
		for pid, p := range r.payments {
			if p.UserID == id {
				delete(r.payments, pid)
			}
		}
		n++
	}
	return n, nil
}

func (r *users) hasCompletedPaymentLocked(userID int64) bool {
	for _, p := range r.payments {
		if p.UserID == userID && p.Status == models.PaymentCompleted {
			return true
		}
	}
	return false
}

func (m *Memory) deleteContentLocked(attemptID int64, prefix string) int64 {
	var n int64
	for k := range m.content {
		if k.attemptID == attemptID && strings.HasPrefix(k.contentType, prefix) {
			delete(m.content, k)
			n++
		}
	}
	return n
}

// attempts implements repository.QuizAttempts.
type attempts Memory

func (r *attempts) Create(ctx context.Context, attempt *models.QuizAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextAttemptID++
	attempt.ID = r.nextAttemptID
	r.attempts[attempt.ID] = *attempt
	return nil
}

func (r *attempts) GetByID(ctx context.Context, id int64) (*models.QuizAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.attempts[id]
	if !ok {
		return nil, repository.ErrAttemptNotFound
	}
	return &a, nil
}

func (r *attempts) ListByUser(ctx context.Context, userID int64) ([]models.QuizAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.QuizAttempt, 0)
	for _, a := range r.attempts {
		if a.OwnedBy(userID) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CompletedAt.Equal(out[j].CompletedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CompletedAt.After(out[j].CompletedAt)
	})
	return out, nil
}

func (r *attempts) claimLocked(a *models.QuizAttempt, userID int64, tier models.Tier) {
	a.UserID = ptr(userID)
	a.SessionID = nil
	a.ExpiresAt = models.ExpiresAtFor(tier, a.CompletedAt)
}

func (r *attempts) ClaimBySession(ctx context.Context, userID int64, sessionKey string, tier models.Tier) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, a := range r.attempts {
		if a.UserID == nil && a.SessionID != nil && *a.SessionID == sessionKey {
			r.claimLocked(&a, userID, tier)
			r.attempts[id] = a
			n++
		}
	}
	return n, nil
}

func (r *attempts) AssignOwner(ctx context.Context, attemptID, userID int64, tier models.Tier) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.attempts[attemptID]
	if !ok || a.UserID != nil {
		return false, nil
	}
	r.claimLocked(&a, userID, tier)
	r.attempts[attemptID] = a
	return true, nil
}

func (r *attempts) ReassignOwner(ctx context.Context, fromUserID, toUserID int64, tier models.Tier) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, a := range r.attempts {
		if !a.OwnedBy(fromUserID) {
			continue
		}
		a.UserID = ptr(toUserID)
		if a.IsPaid {
			a.ExpiresAt = nil
		} else {
			a.ExpiresAt = models.ExpiresAtFor(tier, a.CompletedAt)
		}
		r.attempts[id] = a
		n++
	}
	return n, nil
}

func (r *attempts) SetPaid(ctx context.Context, id int64, paid bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.attempts[id]
	if !ok {
		return repository.ErrAttemptNotFound
	}
	a.IsPaid = paid
	if paid {
		a.ExpiresAt = nil
	}
	r.attempts[id] = a
	return nil
}

func (r *attempts) ClearExpiryForUser(ctx context.Context, userID int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, a := range r.attempts {
		if a.OwnedBy(userID) && a.ExpiresAt != nil {
			a.ExpiresAt = nil
			r.attempts[id] = a
			n++
		}
	}
	return n, nil
}

func (r *attempts) DeleteExpiredUnpaid(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, a := range r.attempts {
		if !a.IsPaid && a.ExpiresAt != nil && a.ExpiresAt.Before(now) {
			delete(r.attempts, id)
			(*Memory)(r).deleteContentLocked(id, "")
			n++
		}
	}
	return n, nil
}

// payments implements repository.Payments.
type payments Memory

func (r *payments) Create(ctx context.Context, payment *models.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextPaymentID++
	now := r.clock.Now()
	payment.ID = r.nextPaymentID
	payment.CreatedAt = now
	payment.UpdatedAt = now
	r.payments[payment.ID] = *payment
	return nil
}

func (r *payments) GetByID(ctx context.Context, id int64) (*models.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok {
		return nil, repository.ErrPaymentNotFound
	}
	return &p, nil
}

func (r *payments) GetByProviderRef(ctx context.Context, ref string) (*models.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payments {
		if p.ProviderRef != nil && *p.ProviderRef == ref {
			return &p, nil
		}
	}
	return nil, repository.ErrPaymentNotFound
}

func (r *payments) SetProviderRef(ctx context.Context, id int64, ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok {
		return repository.ErrPaymentNotFound
	}
	p.ProviderRef = ptr(ref)
	p.UpdatedAt = r.clock.Now()
	r.payments[id] = p
	return nil
}

func (r *payments) FindCompletedUnlock(ctx context.Context, userID, quizAttemptID int64) (*models.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.completedUnlockLocked(userID, quizAttemptID, 0); ok {
		return &p, nil
	}
	return nil, repository.ErrPaymentNotFound
}

func (r *payments) completedUnlockLocked(userID, quizAttemptID, exceptID int64) (models.Payment, bool) {
	for _, p := range r.payments {
		if p.ID != exceptID && p.UserID == userID && p.QuizAttemptID != nil && *p.QuizAttemptID == quizAttemptID &&
			p.Type == models.PaymentTypeReportUnlock && p.Status == models.PaymentCompleted {
			return p, true
		}
	}
	return models.Payment{}, false
}

func (r *payments) MarkCompleted(ctx context.Context, id int64, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok || p.Status != models.PaymentPending {
		return false, nil
	}
	if p.Type == models.PaymentTypeReportUnlock && p.QuizAttemptID != nil {
		if _, dup := r.completedUnlockLocked(p.UserID, *p.QuizAttemptID, id); dup {
			return false, repository.ErrDuplicateUnlock
		}
	}
	p.Status = models.PaymentCompleted
	p.CompletedAt = ptr(at)
	p.UpdatedAt = r.clock.Now()
	r.payments[id] = p
	return true, nil
}

func (r *payments) transition(id int64, from, to string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[id]
	if !ok || p.Status != from {
		return false, nil
	}
	p.Status = to
	p.UpdatedAt = r.clock.Now()
	r.payments[id] = p
	return true, nil
}

func (r *payments) MarkFailed(ctx context.Context, id int64) (bool, error) {
	return r.transition(id, models.PaymentPending, models.PaymentFailed)
}

func (r *payments) MarkRefunded(ctx context.Context, id int64) (bool, error) {
	return r.transition(id, models.PaymentCompleted, models.PaymentRefunded)
}

// refunds implements repository.Refunds.
type refunds Memory

func (r *refunds) Create(ctx context.Context, refund *models.Refund) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextRefundID++
	refund.ID = r.nextRefundID
	refund.CreatedAt = r.clock.Now()
	r.refunds = append(r.refunds, *refund)
	return nil
}

func (r *refunds) ListByPayment(ctx context.Context, paymentID int64) ([]models.Refund, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Refund
	for _, rf := range r.refunds {
		if rf.PaymentID == paymentID {
			out = append(out, rf)
		}
	}
	return out, nil
}

// contents implements repository.AIContents.
type contents Memory

func (r *contents) Get(ctx context.Context, quizAttemptID int64, contentType string) (*models.AIContent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.content[contentKey{quizAttemptID, contentType}]
	if !ok {
		return nil, repository.ErrContentNotFound
	}
	return &c, nil
}

func (r *contents) Upsert(ctx context.Context, content *models.AIContent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.content[contentKey{content.QuizAttemptID, content.ContentType}] = *content
	return nil
}

func (r *contents) DeleteByPrefix(ctx context.Context, quizAttemptID int64, prefix string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return (*Memory)(r).deleteContentLocked(quizAttemptID, prefix), nil
}

func (r *contents) DeleteByPrefixForUser(ctx context.Context, userID int64, prefix string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, a := range r.attempts {
		if a.OwnedBy(userID) {
			n += (*Memory)(r).deleteContentLocked(id, prefix)
		}
	}
	return n, nil
}
