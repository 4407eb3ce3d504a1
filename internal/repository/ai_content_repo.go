package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/BizModelAI/Main12-sub002/internal/database"
	"github.com/BizModelAI/Main12-sub002/internal/models"
)

// AIContentRepository handles cached AI content
type AIContentRepository struct {
	db *database.DB
}

// NewAIContentRepository creates a new AI content repository
func NewAIContentRepository(db *database.DB) *AIContentRepository {
	return &AIContentRepository{db: db}
}

// Get retrieves the cached content for an attempt and content type
func (r *AIContentRepository) Get(ctx context.Context, quizAttemptID int64, contentType string) (*models.AIContent, error) {
	query := `
		SELECT quiz_attempt_id, content_type, content, content_hash, generated_at
		FROM ai_content
		WHERE quiz_attempt_id = $1 AND content_type = $2
	`
	var c models.AIContent
	err := r.db.QueryRow(ctx, query, quizAttemptID, contentType).Scan(
		&c.QuizAttemptID, &c.ContentType, &c.Content, &c.ContentHash, &c.GeneratedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrContentNotFound
		}
		return nil, fmt.Errorf("failed to get ai content: %w", err)
	}
	return &c, nil
}

// Upsert stores content, overwriting any existing entry for the same key
func (r *AIContentRepository) Upsert(ctx context.Context, content *models.AIContent) error {
	query := `
		INSERT INTO ai_content (quiz_attempt_id, content_type, content, content_hash, generated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (quiz_attempt_id, content_type) DO UPDATE
		SET content = EXCLUDED.content,
		    content_hash = EXCLUDED.content_hash,
		    generated_at = EXCLUDED.generated_at
	`
	_, err := r.db.Exec(ctx, query,
		content.QuizAttemptID, content.ContentType, content.Content, content.ContentHash, content.GeneratedAt)
	if err != nil {
		return fmt.Errorf("failed to save ai content: %w", err)
	}
	return nil
}

// DeleteByPrefix removes an attempt's entries whose content type starts with
// prefix. The prefix is compared literally, so "_" is not a wildcard.
func (r *AIContentRepository) DeleteByPrefix(ctx context.Context, quizAttemptID int64, prefix string) (int64, error) {
	query := `DELETE FROM ai_content WHERE quiz_attempt_id = $1 AND left(content_type, length($2)) = $2`
	n, err := r.db.Exec(ctx, query, quizAttemptID, prefix)
	if err != nil {
		return 0, fmt.Errorf("failed to clear ai content: %w", err)
	}
	return n, nil
}

// DeleteByPrefixForUser removes matching entries across all attempts of a user
func (r *AIContentRepository) DeleteByPrefixForUser(ctx context.Context, userID int64, prefix string) (int64, error) {
	query := `
		DELETE FROM ai_content c
		USING quiz_attempts a
		WHERE c.quiz_attempt_id = a.id AND a.user_id = $1 AND left(c.content_type, length($2)) = $2
	`
	n, err := r.db.Exec(ctx, query, userID, prefix)
	if err != nil {
		return 0, fmt.Errorf("failed to clear ai content for user: %w", err)
	}
	return n, nil
}
