package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/BizModelAI/Main12-sub002/internal/ai"
	"github.com/BizModelAI/Main12-sub002/internal/api/request"
	"github.com/BizModelAI/Main12-sub002/internal/api/response"
	"github.com/BizModelAI/Main12-sub002/internal/models"
	"github.com/BizModelAI/Main12-sub002/internal/quiz"
	"github.com/BizModelAI/Main12-sub002/internal/session"
)

const (
	maxChatTokens   = 4000
	maxChatMessages = 20
)

// AIHandler handles AI chat and cached AI content endpoints
type AIHandler struct {
	completer ai.Completer
	content   *ai.ContentService
	quiz      *quiz.Service
	*Responder
}

// NewAIHandler creates a new AI handler. completer may be nil when no API
// key is configured.
func NewAIHandler(completer ai.Completer, content *ai.ContentService, quizService *quiz.Service, responder *Responder) *AIHandler {
	return &AIHandler{
		completer: completer,
		content:   content,
		quiz:      quizService,
		Responder: responder,
	}
}

// ChatRequest is a raw chat completion request
type ChatRequest struct {
	Prompt         string       `json:"prompt"`
	SystemPrompt   string       `json:"systemPrompt,omitempty"`
	Messages       []ai.Message `json:"messages,omitempty"`
	MaxTokens      int          `json:"maxTokens,omitempty"`
	Temperature    *float32     `json:"temperature,omitempty"`
	ResponseFormat string       `json:"responseFormat,omitempty"`
}

// ChatResponse is the completion returned to the client
type ChatResponse struct {
	Content string    `json:"content"`
	Model   string    `json:"model"`
	Usage   ChatUsage `json:"usage"`
}

// ChatUsage reports token usage
type ChatUsage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
}

// SaveContentRequest stores client-provided AI content
type SaveContentRequest struct {
	ContentType string          `json:"contentType"`
	Content     json.RawMessage `json:"content"`
}

// ContentResponse wraps a cache entry
type ContentResponse struct {
	Content *models.AIContent `json:"content"`
	Cached  bool              `json:"cached"`
}

// Chat handles POST /api/openai-chat
func (h *AIHandler) Chat(w http.ResponseWriter, r *http.Request) {
	if h.completer == nil {
		h.Fail(w, r, ai.ErrNotConfigured)
		return
	}

	var req ChatRequest
	if err := request.DecodeJSON(w, r, &req); err != nil {
		h.Fail(w, r, err)
		return
	}

	messages := make([]ai.Message, 0, len(req.Messages)+2)
	if req.SystemPrompt != "" {
		messages = append(messages, ai.Message{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, req.Messages...)
	if strings.TrimSpace(req.Prompt) != "" {
		messages = append(messages, ai.Message{Role: "user", Content: req.Prompt})
	}
	if len(messages) == 0 || (req.SystemPrompt != "" && len(messages) == 1) {
		response.BadRequest(w, "prompt or messages is required")
		return
	}
	if len(messages) > maxChatMessages {
		response.BadRequest(w, "too many messages")
		return
	}
	if req.MaxTokens < 0 || req.MaxTokens > maxChatTokens {
		response.BadRequest(w, "maxTokens must be between 1 and 4000")
		return
	}

	chat := &ai.ChatRequest{
		Messages:  messages,
		MaxTokens: req.MaxTokens,
		JSON:      req.ResponseFormat == "json" || req.ResponseFormat == "json_object",
	}
	if req.Temperature != nil {
		if *req.Temperature < 0 || *req.Temperature > 2 {
			response.BadRequest(w, "temperature must be between 0 and 2")
			return
		}
		chat.Temperature = *req.Temperature
	}

	resp, err := h.completer.Chat(r.Context(), chat)
	if err != nil {
		h.Fail(w, r, err)
		return
	}

	response.Success(w, ChatResponse{
		Content: resp.Content,
		Model:   resp.Model,
		Usage: ChatUsage{
			PromptTokens:     resp.PromptTokens,
			CompletionTokens: resp.CompletionTokens,
		},
	})
}

// GetContent handles GET /api/quiz-attempts/attempt/{id}/ai-content. A miss
// returns a null content rather than generating.
func (h *AIHandler) GetContent(w http.ResponseWriter, r *http.Request) {
	attempt, ok := h.attempt(w, r)
	if !ok {
		return
	}
	contentType := request.GetQueryString(r, "contentType", "")
	if contentType == "" {
		h.Fail(w, r, ai.ErrContentTypeRequired)
		return
	}

	content, err := h.content.Cache().Get(r.Context(), attempt.ID, contentType)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	response.Success(w, ContentResponse{Content: content, Cached: content != nil})
}

// SaveContent handles POST /api/quiz-attempts/attempt/{id}/ai-content
func (h *AIHandler) SaveContent(w http.ResponseWriter, r *http.Request) {
	attempt, ok := h.attempt(w, r)
	if !ok {
		return
	}

	var req SaveContentRequest
	if err := request.DecodeJSON(w, r, &req); err != nil {
		h.Fail(w, r, err)
		return
	}
	if req.ContentType == "" {
		req.ContentType = request.GetQueryString(r, "contentType", "")
	}

	saved, err := h.content.Cache().Save(r.Context(), attempt.ID, req.ContentType, req.Content)
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	response.Success(w, ContentResponse{Content: saved})
}

// GenerateContent handles POST /api/quiz-attempts/attempt/{id}/ai-content/generate.
// Cached content is returned unless force=true.
func (h *AIHandler) GenerateContent(w http.ResponseWriter, r *http.Request) {
	attempt, ok := h.attempt(w, r)
	if !ok {
		return
	}

	var req SaveContentRequest
	if err := request.DecodeJSON(w, r, &req); err != nil {
		h.Fail(w, r, err)
		return
	}
	contentType := req.ContentType
	if contentType == "" {
		contentType = request.GetQueryString(r, "contentType", "")
	}
	if contentType == "" {
		h.Fail(w, r, ai.ErrContentTypeRequired)
		return
	}

	var (
		generated *ai.Generated
		err       error
	)
	if request.GetQueryBool(r, "force", false) {
		generated, err = h.content.Generate(r.Context(), attempt, contentType)
	} else {
		generated, err = h.content.GetOrGenerate(r.Context(), attempt, contentType)
	}
	if err != nil {
		h.Fail(w, r, err)
		return
	}
	response.Success(w, ContentResponse{Content: generated.Content, Cached: generated.Cached})
}

func (h *AIHandler) attempt(w http.ResponseWriter, r *http.Request) (*models.QuizAttempt, bool) {
	rc := session.FromContext(r.Context())
	if rc == nil {
		h.Fail(w, r, errNoSession)
		return nil, false
	}
	id, err := request.GetURLParamInt(r, "id")
	if err != nil {
		response.BadRequest(w, "Invalid quiz attempt id")
		return nil, false
	}
	attempt, err := h.quiz.Get(r.Context(), rc, id)
	if err != nil {
		h.Fail(w, r, err)
		return nil, false
	}
	return attempt, true
}
