package emotion

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
)

const (
	providerOpenAI       = "openai"
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-4o-mini"
)

// OpenAI classifies faces through an OpenAI-compatible chat completions
// endpoint (OpenAI, Ollama, vLLM and friends).
type OpenAI struct {
	baseURL string
	apiKey  string
	model   string
	t       transport
}

// NewOpenAI builds an OpenAI-compatible classifier. An API key is required
// unless BaseURL points somewhere other than api.openai.com.
func NewOpenAI(opts Options) (*OpenAI, error) {
	baseURL := strings.TrimSuffix(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	if opts.APIKey == "" && baseURL == defaultOpenAIBaseURL {
		return nil, ErrNoAPIKey
	}
	model := opts.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAI{
		baseURL: baseURL,
		apiKey:  opts.APIKey,
		model:   model,
		t:       newTransport(providerOpenAI, opts),
	}, nil
}

// AnalyzeJPEG implements Classifier.
func (c *OpenAI) AnalyzeJPEG(ctx context.Context, jpeg []byte) (Result, error) {
	if len(jpeg) == 0 {
		return Result{}, ErrEmptyImage
	}

	payload := map[string]interface{}{
		"model": c.model,
		"messages": []map[string]interface{}{{
			"role": "user",
			"content": []map[string]interface{}{
				{"type": "text", "text": Prompt},
				{
					"type": "image_url",
					"image_url": map[string]string{
						"url": "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpeg),
					},
				},
			},
		}},
		"max_tokens":  60,
		"temperature": 0,
	}

	header := http.Header{}
	if c.apiKey != "" {
		header.Set("Authorization", "Bearer "+c.apiKey)
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := c.t.postJSON(ctx, c.baseURL+"/chat/completions", header, payload, &result); err != nil {
		return Result{}, err
	}
	if len(result.Choices) == 0 {
		return Result{}, fmt.Errorf("emotion [%s]: no choices returned", providerOpenAI)
	}
	return ParseReply(result.Choices[0].Message.Content)
}

var _ Classifier = (*OpenAI)(nil)
