package collaborators

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// HTTPStreamingLLM talks to an OpenAI-compatible chat-completions
// endpoint in streaming mode. Grounded on the teacher's
// app/agent/agent.go (POST with system+prompt, os.Getenv("LLM_MODEL"))
// and model/parser.go's NDJSON streaming-decode loop
// (json.NewDecoder + Decode in a for-loop over response chunks),
// adapted here to SSE "data: {...}" framing and chat tokens instead of
// vision-description chunks.
type HTTPStreamingLLM struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewHTTPStreamingLLM(baseURL, apiKey, model string, httpClient *http.Client) *HTTPStreamingLLM {
	return &HTTPStreamingLLM{
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(10), 3),
	}
}

type chatCompletionRequest struct {
	Model    string        `json:"model"`
	Stream   bool          `json:"stream"`
	Messages []chatCompMsg `json:"messages"`
}

type chatCompMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

func (l *HTTPStreamingLLM) Stream(ctx context.Context, systemText string, messages []ChatMessage) (Stream, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	wireMessages := make([]chatCompMsg, 0, len(messages)+1)
	wireMessages = append(wireMessages, chatCompMsg{Role: "system", Content: systemText})
	for _, m := range messages {
		wireMessages = append(wireMessages, chatCompMsg{Role: m.Role, Content: m.Content})
	}

	body, err := json.Marshal(chatCompletionRequest{Model: l.model, Stream: true, Messages: wireMessages})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if l.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+l.apiKey)
	}

	resp, err := l.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("llm unreachable: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		resp.Body.Close()
		return nil, fmt.Errorf("llm provider outage: status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("llm returned status %d", resp.StatusCode)
	}

	s := &sseStream{
		events: make(chan StreamEvent, 8),
	}
	go s.pump(ctx, resp.Body)
	return s, nil
}

type sseStream struct {
	events chan StreamEvent

	mu       sync.Mutex
	full     strings.Builder
	err      error
	finished bool
}

func (s *sseStream) Events() <-chan StreamEvent { return s.events }

func (s *sseStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *sseStream) FullText(ctx context.Context) (string, error) {
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case _, ok := <-s.events:
			if !ok {
				s.mu.Lock()
				defer s.mu.Unlock()
				return s.full.String(), s.err
			}
		}
	}
}

func (s *sseStream) pump(ctx context.Context, body io.ReadCloser) {
	defer close(s.events)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.err = ctx.Err()
			s.mu.Unlock()
			return
		default:
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			s.emit(StreamEvent{Done: true})
			return
		}
		if payload == "" {
			continue
		}

		var chunk chatCompletionChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		if chunk.Error != nil {
			s.mu.Lock()
			if chunk.Error.Code == "content_filter" {
				s.err = &ContentFilteredError{Reason: chunk.Error.Message}
			} else {
				s.err = fmt.Errorf("llm error: %s", chunk.Error.Message)
			}
			s.mu.Unlock()
			return
		}
		for _, choice := range chunk.Choices {
			if choice.FinishReason != nil {
				s.emit(StreamEvent{TextDelta: choice.Delta.Content, Done: true, FinishReason: *choice.FinishReason})
				return
			}
			if choice.Delta.Content != "" {
				s.emit(StreamEvent{TextDelta: choice.Delta.Content})
			}
		}
	}
	if err := scanner.Err(); err != nil {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
	}
}

func (s *sseStream) emit(ev StreamEvent) {
	s.mu.Lock()
	s.full.WriteString(ev.TextDelta)
	s.mu.Unlock()
	s.events <- ev
}
