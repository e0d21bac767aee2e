package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIChatCompletions(t *testing.T) {
	var got chatCompletionsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  Hello there!\n"}}]}`))
	}))
	defer srv.Close()

	g := NewOpenAI(srv.URL+"/", "sk-test", "gpt-4o-mini", "chat_completions", 100, 0.5, 0)
	text, err := g.GenerateResponse(context.Background(), "say hi")
	require.NoError(t, err)
	assert.Equal(t, "Hello there!", text)
	assert.Equal(t, "gpt-4o-mini", got.Model)
	assert.Equal(t, 100, got.MaxTokens)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Equal(t, "say hi", got.Messages[0].Content)
}

func TestOpenAIResponses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/responses", r.URL.Path)
		w.Write([]byte(`{"output":[{"type":"reasoning"},{"type":"message","content":[{"type":"output_text","text":"Yo"}]}]}`))
	}))
	defer srv.Close()

	g := NewOpenAI(srv.URL, "k", "m", "responses", 0, 0, 0)
	text, err := g.GenerateResponse(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "Yo", text)
}

func TestOpenAIErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
		empty   bool
	}{
		{name: "status", status: 429, body: `rate limited`, wantErr: "status 429"},
		{name: "api error", status: 200, body: `{"error":{"message":"bad model"}}`, wantErr: "bad model"},
		{name: "no choices", status: 200, body: `{"choices":[]}`, wantErr: "no choices"},
		{name: "garbage", status: 200, body: `<html>`, wantErr: "failed to parse"},
		{name: "blank", status: 200, body: `{"choices":[{"message":{"content":"  "}}]}`, empty: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewOpenAI(srv.URL, "k", "m", "chat_completions", 0, 0, 0).GenerateResponse(context.Background(), "x")
			require.Error(t, err)
			if tt.empty {
				assert.ErrorIs(t, err, ErrEmpty)
				return
			}
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestOpenAITimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	g := NewOpenAI(srv.URL, "k", "m", "chat_completions", 0, 0, 100*time.Millisecond)
	start := time.Now()
	_, err := g.GenerateResponse(context.Background(), "x")
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestGemini(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "models/gemini-test:generateContent"), r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"Konnichiwa"}]}}]}`))
	}))
	defer srv.Close()

	g, err := NewGemini(context.Background(), "key", "gemini-test", 50, 0.7, time.Second, srv.URL)
	require.NoError(t, err)
	text, err := g.GenerateResponse(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "Konnichiwa", text)
}

func TestGeminiRequiresKey(t *testing.T) {
	_, err := NewGemini(context.Background(), "", "", 0, 0, 0, "")
	assert.Error(t, err)
}

type stubGenerator struct {
	calls atomic.Int32
	err   error
}

func (s *stubGenerator) GenerateResponse(ctx context.Context, prompt string) (string, error) {
	s.calls.Add(1)
	if s.err != nil {
		return "", s.err
	}
	return "ok:" + prompt, nil
}

func TestBreakerOpensAndRecovers(t *testing.T) {
	stub := &stubGenerator{err: errors.New("down")}
	b := NewBreaker(stub, "test", 2, 100*time.Millisecond, nil)
	ctx := context.Background()

	for range 2 {
		_, err := b.GenerateResponse(ctx, "x")
		assert.EqualError(t, err, "down")
	}
	assert.Equal(t, "open", b.State())

	_, err := b.GenerateResponse(ctx, "x")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.EqualValues(t, 2, stub.calls.Load(), "open circuit does not call through")

	stub.err = nil
	time.Sleep(150 * time.Millisecond)
	text, err := b.GenerateResponse(ctx, "again")
	require.NoError(t, err)
	assert.Equal(t, "ok:again", text)
	assert.Equal(t, "closed", b.State())
}

func TestBreakerIgnoresCancel(t *testing.T) {
	stub := &stubGenerator{err: context.Canceled}
	b := NewBreaker(stub, "test", 1, time.Minute, nil)
	for range 3 {
		_, err := b.GenerateResponse(context.Background(), "x")
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, "closed", b.State())
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	g, err := New(ctx, Config{Backend: "none"})
	require.NoError(t, err)
	assert.Nil(t, g)

	g, err = New(ctx, Config{Backend: "openai"})
	require.NoError(t, err)
	assert.Nil(t, g, "no key means no generator")

	g, err = New(ctx, Config{Backend: "openai", APIKey: "k", BaseURL: "http://localhost"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAI{}, g)

	g, err = New(ctx, Config{Backend: "openai", APIKey: "k", BreakerFailures: 3})
	require.NoError(t, err)
	assert.IsType(t, &Breaker{}, g)

	g, err = New(ctx, Config{Backend: "gemini", APIKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &Gemini{}, g)

	_, err = New(ctx, Config{Backend: "claude"})
	assert.Error(t, err)
}
