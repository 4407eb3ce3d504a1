package ai

import (
	"bytes"
	"encoding/json"
	"strings"
	"text/template"
)

// SystemPrompt is sent ahead of every generation request
const SystemPrompt = "You are a business strategist who matches people with online business models. " +
	"Base every statement on the quiz answers you are given. Respond ONLY with valid JSON. No markdown, no explanations."

// ResultsPreviewPrompt is the template for the free results preview
const ResultsPreviewPrompt = `These are the answers of a user who completed the business model quiz:

{{.QuizData}}

Pick the three business models that fit this user best and explain why in plain language.

Respond with ONLY valid JSON:
{
  "headline": "<one sentence personalized headline>",
  "topModels": [
    {"slug": "<kebab-case model id>", "name": "<model name>", "fitScore": <integer 0-100>, "reason": "<one sentence>"}
  ],
  "strengths": ["...", "..."],
  "watchOuts": ["...", "..."]
}`

// FullReportPrompt is the template for the paid full report
const FullReportPrompt = `These are the answers of a user who completed the business model quiz:

{{.QuizData}}

Write the full personalized report. Rank the five best fitting business models and give a
practical 90 day plan for the best one.

Respond with ONLY valid JSON:
{
  "summary": "<2-3 paragraph personalized summary>",
  "rankedModels": [
    {"slug": "<kebab-case model id>", "name": "<model name>", "fitScore": <integer 0-100>, "pros": ["..."], "cons": ["..."]}
  ],
  "personalityInsights": ["...", "..."],
  "actionPlan": {"month1": ["..."], "month2": ["..."], "month3": ["..."]},
  "resources": ["...", "..."]
}`

// ModelInsightsPrompt is the template for insights on one business model
const ModelInsightsPrompt = `These are the answers of a user who completed the business model quiz:

{{.QuizData}}

Explain how well the business model "{{.Model}}" fits this user.

Respond with ONLY valid JSON:
{
  "model": "{{.Model}}",
  "fitScore": <integer 0-100>,
  "whyItFits": ["...", "..."],
  "challenges": ["...", "..."],
  "firstSteps": ["...", "..."],
  "timeToFirstRevenue": "<estimate>"
}`

// PromptData holds data for the generation prompts
type PromptData struct {
	QuizData string
	Model    string
}

// RenderPrompt renders a template with the provided data
func RenderPrompt(tmpl string, data interface{}) (string, error) {
	t, err := template.New("prompt").Parse(tmpl)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}

// formatQuizData pretty-prints quiz answers for a prompt. Invalid JSON is
// passed through as-is.
func formatQuizData(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}

// cleanJSONResponse removes markdown code blocks and whitespace
func cleanJSONResponse(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}

// extractJSON returns the outermost {...} span of s, or "".
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || start >= end {
		return ""
	}
	return s[start : end+1]
}
