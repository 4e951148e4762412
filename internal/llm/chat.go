package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lectern-audio/lectern/internal/config"
)

// chatGenerator speaks the OpenAI-compatible /v1/chat/completions dialect,
// which covers Ollama, vLLM, and gateway deployments alike.
type chatGenerator struct {
	endpoint        string
	apiKey          string
	subscriptionKey string
	model           string
	client          *http.Client
}

func NewChatGenerator(cfg config.LLMConfig) Generator {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &chatGenerator{
		endpoint:        cfg.Endpoint,
		apiKey:          cfg.APIKey,
		subscriptionKey: cfg.SubscriptionKey,
		model:           cfg.Model,
		client:          &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (g *chatGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	var messages []chatMessage
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	payload := chatRequest{
		Model:       g.model,
		Messages:    messages,
		Stream:      req.Stream,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	}
	if g.subscriptionKey != "" {
		httpReq.Header.Set("Ocp-Apim-Subscription-Key", g.subscriptionKey)
	}

	start := time.Now()
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("chat endpoint returned status %s", resp.Status)
	}

	if req.Stream {
		return g.consumeStream(ctx, resp.Body, start, consumer)
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("decode chat response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return fmt.Errorf("chat endpoint returned no choices")
	}
	return consumer(Chunk{
		Content:          decoded.Choices[0].Message.Content,
		Partial:          false,
		PromptTokens:     decoded.Usage.PromptTokens,
		CompletionTokens: decoded.Usage.CompletionTokens,
		Latency:          time.Since(start),
	})
}

// consumeStream reads server-sent "data:" lines until [DONE], forwarding each
// delta as a partial chunk and closing with one final empty chunk.
func (g *chatGenerator) consumeStream(ctx context.Context, body io.Reader, start time.Time, consumer func(Chunk) error) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}
		var chunk chatStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		if err := consumer(Chunk{
			Content: chunk.Choices[0].Delta.Content,
			Partial: true,
			Latency: time.Since(start),
		}); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return consumer(Chunk{Partial: false, Latency: time.Since(start)})
}
