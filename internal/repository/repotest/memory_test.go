package repotest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BizModelAI/Main12-sub002/internal/models"
	"github.com/BizModelAI/Main12-sub002/internal/repository"
)

func TestUsers_EmailUniqueIgnoringCase(t *testing.T) {
	store := New(clockwork.NewFakeClock()).Store()
	ctx := context.Background()

	require.NoError(t, store.Users.Create(ctx, &models.User{Email: "ann@example.com"}))
	err := store.Users.Create(ctx, &models.User{Email: "ANN@example.com"})
	assert.ErrorIs(t, err, repository.ErrUserExists)
}

func TestPayments_SingleCompletedUnlock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := New(clock).Store()
	ctx := context.Background()
	attemptID := int64(1)

	first := &models.Payment{UserID: 1, QuizAttemptID: &attemptID, Type: models.PaymentTypeReportUnlock, Status: models.PaymentPending}
	second := &models.Payment{UserID: 1, QuizAttemptID: &attemptID, Type: models.PaymentTypeReportUnlock, Status: models.PaymentPending}
	require.NoError(t, store.Payments.Create(ctx, first))
	require.NoError(t, store.Payments.Create(ctx, second))

	ok, err := store.Payments.MarkCompleted(ctx, first.ID, clock.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = store.Payments.MarkCompleted(ctx, second.ID, clock.Now())
	assert.ErrorIs(t, err, repository.ErrDuplicateUnlock)
}

func TestCleanup_RemovesExpiredTemporaryUsersWithAttempts(t *testing.T) {
	clock := clockwork.NewFakeClock()
	mem := New(clock)
	store := mem.Store()
	ctx := context.Background()

	expired := clock.Now().Add(-time.Hour)
	u := &models.User{Email: "t@example.com", IsTemporary: true, ExpiresAt: &expired}
	require.NoError(t, store.Users.Create(ctx, u))
	a := &models.QuizAttempt{UserID: &u.ID, QuizData: json.RawMessage(`{}`), CompletedAt: clock.Now()}
	require.NoError(t, store.QuizAttempts.Create(ctx, a))
	require.NoError(t, store.AIContents.Upsert(ctx, &models.AIContent{QuizAttemptID: a.ID, ContentType: "model_x"}))

	n, err := store.Users.DeleteExpiredTemporary(ctx, clock.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = store.QuizAttempts.GetByID(ctx, a.ID)
	assert.ErrorIs(t, err, repository.ErrAttemptNotFound)
	assert.Zero(t, mem.AIContentCount(a.ID))
}
