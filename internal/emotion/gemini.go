package emotion

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
)

const (
	providerGemini       = "gemini"
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiModel   = "gemini-2.0-flash"
)

// Gemini classifies faces with the Google generateContent API.
type Gemini struct {
	baseURL string
	apiKey  string
	model   string
	t       transport
}

// NewGemini builds a Gemini classifier.
func NewGemini(opts Options) (*Gemini, error) {
	if opts.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	baseURL := strings.TrimSuffix(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	model := opts.Model
	if model == "" || strings.HasPrefix(model, "gpt-") {
		model = defaultGeminiModel
	}
	return &Gemini{
		baseURL: baseURL,
		apiKey:  opts.APIKey,
		model:   model,
		t:       newTransport(providerGemini, opts),
	}, nil
}

// AnalyzeJPEG implements Classifier.
func (g *Gemini) AnalyzeJPEG(ctx context.Context, jpeg []byte) (Result, error) {
	if len(jpeg) == 0 {
		return Result{}, ErrEmptyImage
	}

	payload := map[string]interface{}{
		"contents": []map[string]interface{}{{
			"parts": []map[string]interface{}{
				{"text": Prompt},
				{"inline_data": map[string]string{
					"mime_type": "image/jpeg",
					"data":      base64.StdEncoding.EncodeToString(jpeg),
				}},
			},
		}},
		"generationConfig": map[string]interface{}{
			"temperature":      0,
			"maxOutputTokens":  60,
			"responseMimeType": "application/json",
		},
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, g.model, url.QueryEscape(g.apiKey))

	var result struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := g.t.postJSON(ctx, endpoint, nil, payload, &result); err != nil {
		return Result{}, err
	}
	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return Result{}, fmt.Errorf("emotion [%s]: no response content", providerGemini)
	}
	return ParseReply(result.Candidates[0].Content.Parts[0].Text)
}

var _ Classifier = (*Gemini)(nil)
