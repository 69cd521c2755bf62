package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/madoguchi-ai/madoguchi/internal/model"
)

const systemPrompt = `You classify customer support messages for an internet service provider.
Categories:
- technical: connectivity, router/modem setup, wifi, speed, outages, device configuration
- billing: invoices, charges, payments, refunds, subscription plans, cancellation
- unknown: anything else, or when the intent is unclear

Respond with a JSON object: {"category": "...", "confidence": 0.0-1.0, "rationale": "..."}.
Confidence reflects how certain you are of the category, not answer quality.`

// OpenAIClassifier calls the chat completions API in JSON mode and
// parses the response against a strict schema. Any deviation from the
// schema is an error; Normalize at the caller turns it into an UNKNOWN
// verdict.
type OpenAIClassifier struct {
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewOpenAIClassifier creates a classifier backed by the OpenAI API.
func NewOpenAIClassifier(apiKey, chatModel string) (*OpenAIClassifier, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("classify: api key is required")
	}
	if chatModel == "" {
		return nil, fmt.Errorf("classify: model is required")
	}
	return &OpenAIClassifier{
		apiKey:     apiKey,
		model:      chatModel,
		httpClient: &http.Client{},
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

type verdict struct {
	Category   string   `json:"category"`
	Confidence *float64 `json:"confidence"`
	Rationale  string   `json:"rationale"`
}

// Classify sends the message plus recent turns to the chat model and
// parses its JSON verdict.
func (c *OpenAIClassifier) Classify(ctx context.Context, message string, recent []model.Turn) (model.ClassificationResult, error) {
	reqData := chatRequest{
		Model:       c.model,
		Messages:    buildMessages(message, recent),
		Temperature: 0,
	}
	reqData.ResponseFormat.Type = "json_object"

	reqBody, err := json.Marshal(reqData)
	if err != nil {
		return model.ClassificationResult{}, fmt.Errorf("classify: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.openai.com/v1/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return model.ClassificationResult{}, fmt.Errorf("classify: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.ClassificationResult{}, fmt.Errorf("classify: send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.ClassificationResult{}, fmt.Errorf("classify: read response: %w", err)
	}

	var result chatResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return model.ClassificationResult{}, fmt.Errorf("classify: unmarshal response: %w", err)
	}
	if result.Error != nil {
		return model.ClassificationResult{}, fmt.Errorf("classify: openai error: %s: %s", result.Error.Type, result.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return model.ClassificationResult{}, fmt.Errorf("classify: unexpected status %d: %s", resp.StatusCode, string(body))
	}
	if len(result.Choices) == 0 {
		return model.ClassificationResult{}, fmt.Errorf("classify: response has no choices")
	}

	return parseVerdict(result.Choices[0].Message.Content)
}

// parseVerdict enforces the verdict schema strictly. A missing or
// out-of-range field is an error, never coerced.
func parseVerdict(content string) (model.ClassificationResult, error) {
	var v verdict
	dec := json.NewDecoder(strings.NewReader(content))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return model.ClassificationResult{}, fmt.Errorf("classify: parse verdict: %w", err)
	}

	cat := model.Category(strings.ToLower(strings.TrimSpace(v.Category)))
	if !cat.Valid() {
		return model.ClassificationResult{}, fmt.Errorf("classify: invalid category %q", v.Category)
	}
	if v.Confidence == nil {
		return model.ClassificationResult{}, fmt.Errorf("classify: verdict missing confidence")
	}
	if *v.Confidence < 0 || *v.Confidence > 1 {
		return model.ClassificationResult{}, fmt.Errorf("classify: confidence %v out of range", *v.Confidence)
	}

	return model.ClassificationResult{
		Category:   cat,
		Confidence: *v.Confidence,
		Rationale:  v.Rationale,
	}, nil
}

func buildMessages(message string, recent []model.Turn) []chatMessage {
	msgs := make([]chatMessage, 0, len(recent)+2)
	msgs = append(msgs, chatMessage{Role: "system", Content: systemPrompt})
	for _, t := range recent {
		role := "user"
		if t.Speaker == model.SpeakerSpecialist {
			role = "assistant"
		}
		msgs = append(msgs, chatMessage{Role: role, Content: t.Text})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: message})
	return msgs
}
