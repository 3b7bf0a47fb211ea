package emotion

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func TestParseReply(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    Result
		wantErr bool
	}{
		{"plain", `{"emotion":"happy","confidence":0.82}`, Result{"happy", 0.82, true}, false},
		{"fenced", "```json\n{\"emotion\": \"Sad\", \"confidence\": 0.4}\n```", Result{"sad", 0.4, true}, false},
		{"clamped high", `{"emotion":"angry","confidence":1.7}`, Result{"angry", 1, true}, false},
		{"clamped low", `{"emotion":"fear","confidence":-2}`, Result{"fear", 0, true}, false},
		{"string confidence", `{"emotion":"neutral","confidence":"0.25"}`, Result{"neutral", 0.25, true}, false},
		{"missing confidence", `{"emotion":"surprise"}`, Result{"surprise", 0, false}, false},
		{"null confidence", `{"emotion":"disgust","confidence":null}`, Result{"disgust", 0, false}, false},
		{"missing emotion", `{"confidence":0.5}`, Result{}, true},
		{"blank emotion", `{"emotion":"  ","confidence":0.5}`, Result{}, true},
		{"not json", "I think they look happy", Result{}, true},
		{"bad confidence", `{"emotion":"happy","confidence":"high"}`, Result{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseReply(tt.text)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseReply() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseReply() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseReplyMissingEmotionSentinel(t *testing.T) {
	if _, err := ParseReply(`{"confidence":0.5}`); !errors.Is(err, ErrNoEmotion) {
		t.Fatalf("err = %v, want ErrNoEmotion", err)
	}
}

func chatReply(content string) string {
	b, _ := json.Marshal(map[string]interface{}{
		"choices": []map[string]interface{}{{"message": map[string]string{"content": content}}},
	})
	return string(b)
}

func TestOpenAIAnalyzeJPEG(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), "data:image/jpeg;base64,/9j/") {
			t.Errorf("request does not carry the image: %s", body)
		}
		if !strings.Contains(string(body), `"model":"gpt-4o-mini"`) {
			t.Errorf("request missing model: %s", body)
		}
		io.WriteString(w, chatReply(`{"emotion":"happy","confidence":0.9}`))
	}))
	defer srv.Close()

	c, err := NewOpenAI(Options{
		BaseURL: srv.URL + "/v1/",
		APIKey:  "sk-test",
		Logger:  zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatal(err)
	}

	res, err := c.AnalyzeJPEG(context.Background(), []byte{0xff, 0xd8, 0xff, 0xe0})
	if err != nil {
		t.Fatalf("AnalyzeJPEG: %v", err)
	}
	if res.Label != "happy" || res.Confidence != 0.9 || !res.HasConfidence {
		t.Errorf("result = %+v", res)
	}
}

func TestOpenAIRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			io.WriteString(w, `{"error":{"message":"busy"}}`)
			return
		}
		io.WriteString(w, chatReply(`{"emotion":"neutral","confidence":0.3}`))
	}))
	defer srv.Close()

	c, err := NewOpenAI(Options{
		BaseURL:      srv.URL,
		MaxRetries:   2,
		RetryInitial: time.Millisecond,
		Logger:       zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatal(err)
	}

	res, err := c.AnalyzeJPEG(context.Background(), []byte{1})
	if err != nil {
		t.Fatalf("AnalyzeJPEG: %v", err)
	}
	if res.Label != "neutral" {
		t.Errorf("label = %s", res.Label)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("calls = %d, want 2", n)
	}
}

func TestOpenAIDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":{"message":"bad key","code":"invalid_api_key"}}`)
	}))
	defer srv.Close()

	c, err := NewOpenAI(Options{BaseURL: srv.URL, APIKey: "x", MaxRetries: 3, RetryInitial: time.Millisecond, Logger: zaptest.NewLogger(t)})
	if err != nil {
		t.Fatal(err)
	}

	_, err = c.AnalyzeJPEG(context.Background(), []byte{1})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.StatusCode != 401 || apiErr.Code != "invalid_api_key" || apiErr.IsRetryable() {
		t.Errorf("apiErr = %+v", apiErr)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("calls = %d, want 1", n)
	}
}

func TestNewOpenAIRequiresKeyForHostedAPI(t *testing.T) {
	if _, err := NewOpenAI(Options{}); !errors.Is(err, ErrNoAPIKey) {
		t.Fatalf("err = %v, want ErrNoAPIKey", err)
	}
	if _, err := NewOpenAI(Options{BaseURL: "http://localhost:11434/v1"}); err != nil {
		t.Fatalf("local endpoint without key: %v", err)
	}
}

func TestAnalyzeJPEGEmptyImage(t *testing.T) {
	c, err := NewOpenAI(Options{BaseURL: "http://127.0.0.1:1"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.AnalyzeJPEG(context.Background(), nil); !errors.Is(err, ErrEmptyImage) {
		t.Fatalf("err = %v, want ErrEmptyImage", err)
	}
}

func TestGeminiAnalyzeJPEG(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/gemini-2.0-flash:generateContent" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "g-key" {
			t.Errorf("key = %q", r.URL.Query().Get("key"))
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"inline_data"`) {
			t.Errorf("request missing inline_data: %s", body)
		}
		io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"{\"emotion\":\"sad\",\"confidence\":0.6}"}]}}]}`)
	}))
	defer srv.Close()

	g, err := NewGemini(Options{BaseURL: srv.URL, APIKey: "g-key", Model: "gpt-4o-mini", Logger: zaptest.NewLogger(t)})
	if err != nil {
		t.Fatal(err)
	}
	res, err := g.AnalyzeJPEG(context.Background(), []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("AnalyzeJPEG: %v", err)
	}
	if res.Label != "sad" || res.Confidence != 0.6 {
		t.Errorf("result = %+v", res)
	}
}

func TestGeminiEmptyCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"candidates":[]}`)
	}))
	defer srv.Close()

	g, err := NewGemini(Options{BaseURL: srv.URL, APIKey: "k", Logger: zaptest.NewLogger(t)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.AnalyzeJPEG(context.Background(), []byte{1}); err == nil {
		t.Fatal("expected error for empty candidates")
	}
}

func TestRequestsPerMinuteThrottlesRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, err := NewOpenAI(Options{
		BaseURL:           srv.URL,
		MaxRetries:        3,
		RetryInitial:      time.Millisecond,
		RequestsPerMinute: 1,
		Logger:            zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	start := time.Now()
	if _, err := c.AnalyzeJPEG(ctx, []byte{1}); err == nil {
		t.Fatal("expected error")
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("calls = %d, want 1 within one minute", n)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("throttled call blocked for %v", time.Since(start))
	}
}
