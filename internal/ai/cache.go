package ai

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"

	"github.com/BizModelAI/Main12-sub002/internal/models"
	"github.com/BizModelAI/Main12-sub002/internal/repository"
)

// ContentCache memoizes AI responses per quiz attempt and content type.
// Entries have no TTL and live as long as their attempt.
type ContentCache struct {
	repo  repository.AIContents
	clock clockwork.Clock
}

// NewContentCache creates a new content cache
func NewContentCache(repo repository.AIContents, clock clockwork.Clock) *ContentCache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ContentCache{repo: repo, clock: clock}
}

// Get returns the stored content, or nil on a miss. It never generates.
func (c *ContentCache) Get(ctx context.Context, quizAttemptID int64, contentType string) (*models.AIContent, error) {
	content, err := c.repo.Get(ctx, quizAttemptID, contentType)
	if err != nil {
		if errors.Is(err, repository.ErrContentNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cached content: %w", err)
	}
	return content, nil
}

// Save stores content for the key, overwriting any existing entry.
func (c *ContentCache) Save(ctx context.Context, quizAttemptID int64, contentType string, content json.RawMessage) (*models.AIContent, error) {
	if contentType == "" {
		return nil, ErrContentTypeRequired
	}
	if !json.Valid(content) {
		return nil, ErrInvalidContent
	}

	entry := &models.AIContent{
		QuizAttemptID: quizAttemptID,
		ContentType:   contentType,
		Content:       content,
		ContentHash:   contentHash(content),
		GeneratedAt:   c.clock.Now().UTC(),
	}
	if err := c.repo.Upsert(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to cache content: %w", err)
	}
	return entry, nil
}

// ClearByPrefix removes an attempt's entries whose content type starts with prefix
func (c *ContentCache) ClearByPrefix(ctx context.Context, quizAttemptID int64, prefix string) (int64, error) {
	return c.repo.DeleteByPrefix(ctx, quizAttemptID, prefix)
}

// ClearByPrefixForUser removes matching entries across all attempts of a user
func (c *ContentCache) ClearByPrefixForUser(ctx context.Context, userID int64, prefix string) (int64, error) {
	return c.repo.DeleteByPrefixForUser(ctx, userID, prefix)
}

func contentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
