package filter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/vtreesearch/vtreesearch/internal/searchmodel"
)

// systemPrompt pins the chat model to the exact JSON-array contract the
// response validator enforces: one verdict per candidate, order-free,
// no prose.
const systemPrompt = `You are a relevance judge for a document search system.
You will be given a question and a JSON array of candidates, each with a
node_id and content. For every candidate, decide whether it is relevant
enough to keep in the final answer set.

Respond with ONLY a JSON array, one object per candidate, in the form:
[{"node_id": "...", "keep": true, "reason": "..."}]

Every candidate must appear exactly once. "reason" must be a short,
non-empty explanation of the keep/drop decision. Do not include any text
outside the JSON array.`

type candidateWire struct {
	NodeID  string `json:"node_id"`
	Content string `json:"content"`
}

// HTTPJudge implements Judge against a chat-completions endpoint via
// go-openai.
type HTTPJudge struct {
	client *openai.Client
	model  string
}

// NewHTTPJudge builds an HTTPJudge against baseURL with apiKey, targeting
// model for the chat-completions call. timeout bounds the underlying HTTP
// client so a stalled relevance-filter endpoint can't wedge a worker.
func NewHTTPJudge(apiKey, baseURL, model string, timeout time.Duration) *HTTPJudge {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if timeout > 0 {
		cfg.HTTPClient = &http.Client{Timeout: timeout}
	}
	return &HTTPJudge{client: openai.NewClientWithConfig(cfg), model: model}
}

// Judge satisfies the filter.Judge signature, issuing one chat-completion
// call per invocation and parsing its response as the verdict array.
func (h *HTTPJudge) Judge(ctx context.Context, question string, candidates []searchmodel.Candidate) ([]Verdict, error) {
	wire := make([]candidateWire, len(candidates))
	for i, c := range candidates {
		wire[i] = candidateWire{NodeID: c.NodeID, Content: c.Content}
	}
	payload, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("marshal candidates: %w", err)
	}

	resp, err := h.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: h.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf("question: %s\ncandidates: %s", question, payload)},
		},
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	var verdicts []Verdict
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &verdicts); err != nil {
		return nil, fmt.Errorf("parse verdict array: %w", err)
	}
	return verdicts, nil
}
