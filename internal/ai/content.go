package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/BizModelAI/Main12-sub002/internal/models"
)

var (
	// ErrContentTypeRequired is returned when no content type is given
	ErrContentTypeRequired = errors.New("contentType is required")
	// ErrInvalidContent is returned when content to cache is not valid JSON
	ErrInvalidContent = errors.New("content must be valid JSON")
	// ErrUnknownContentType is returned when no prompt exists for a content type
	ErrUnknownContentType = errors.New("unknown content type")
	// ErrMalformedResponse is returned when the model answer holds no JSON object
	ErrMalformedResponse = errors.New("ai service returned malformed JSON")
)

var modelSlugRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,63}$`)

// ContentService generates AI content for quiz attempts and caches it.
type ContentService struct {
	cache     *ContentCache
	completer Completer
	log       *zap.Logger
}

// NewContentService creates a new content service. A nil completer leaves
// generation disabled while cached reads keep working.
func NewContentService(cache *ContentCache, completer Completer, log *zap.Logger) *ContentService {
	return &ContentService{
		cache:     cache,
		completer: completer,
		log:       log.Named("ai-content"),
	}
}

// Cache returns the underlying content cache
func (s *ContentService) Cache() *ContentCache {
	return s.cache
}

// Generated is AI content together with whether it came from the cache
type Generated struct {
	Content *models.AIContent
	Cached  bool
}

// GetOrGenerate returns cached content for the attempt, generating and
// caching it on a miss.
func (s *ContentService) GetOrGenerate(ctx context.Context, attempt *models.QuizAttempt, contentType string) (*Generated, error) {
	cached, err := s.cache.Get(ctx, attempt.ID, contentType)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		return &Generated{Content: cached, Cached: true}, nil
	}
	return s.Generate(ctx, attempt, contentType)
}

// Generate asks the AI service for fresh content and overwrites the cache.
func (s *ContentService) Generate(ctx context.Context, attempt *models.QuizAttempt, contentType string) (*Generated, error) {
	if s.completer == nil {
		return nil, ErrNotConfigured
	}
	prompt, err := promptFor(contentType, attempt.QuizData)
	if err != nil {
		return nil, err
	}

	resp, err := s.completer.Chat(ctx, &ChatRequest{
		Temperature: 0.6,
		MaxTokens:   maxTokensFor(contentType),
		JSON:        true,
		Messages: []Message{
			{Role: "system", Content: SystemPrompt},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate %s: %w", contentType, err)
	}

	content, err := parseJSONContent(resp.Content)
	if err != nil {
		s.log.Warn("discarding malformed ai response",
			zap.Int64("quiz_attempt_id", attempt.ID),
			zap.String("content_type", contentType))
		return nil, err
	}

	saved, err := s.cache.Save(ctx, attempt.ID, contentType, content)
	if err != nil {
		return nil, err
	}
	s.log.Info("generated ai content",
		zap.Int64("quiz_attempt_id", attempt.ID),
		zap.String("content_type", contentType),
		zap.Int("completion_tokens", resp.CompletionTokens))
	return &Generated{Content: saved}, nil
}

func promptFor(contentType string, quizData json.RawMessage) (string, error) {
	data := PromptData{QuizData: formatQuizData(quizData)}
	switch {
	case contentType == models.ContentTypeResultsPreview:
		return RenderPrompt(ResultsPreviewPrompt, data)
	case contentType == models.ContentTypeFullReport:
		return RenderPrompt(FullReportPrompt, data)
	case strings.HasPrefix(contentType, models.ModelContentPrefix):
		slug := strings.TrimPrefix(contentType, models.ModelContentPrefix)
		if !modelSlugRegex.MatchString(slug) {
			return "", ErrUnknownContentType
		}
		data.Model = slug
		return RenderPrompt(ModelInsightsPrompt, data)
	default:
		return "", ErrUnknownContentType
	}
}

func maxTokensFor(contentType string) int {
	if contentType == models.ContentTypeFullReport {
		return 3000
	}
	return 1200
}

// parseJSONContent pulls the JSON object out of a model answer
func parseJSONContent(content string) (json.RawMessage, error) {
	content = cleanJSONResponse(content)
	if json.Valid([]byte(content)) && strings.HasPrefix(content, "{") {
		return json.RawMessage(content), nil
	}
	if extracted := extractJSON(content); extracted != "" && json.Valid([]byte(extracted)) {
		return json.RawMessage(extracted), nil
	}
	return nil, ErrMalformedResponse
}
