package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/clinsim/virtual-patient-api/logger"
)

// Completer is the streaming text-completion service the simulation
// depends on. Implementations wrap an OpenAI-compatible API; tests use
// fakes.
type Completer interface {
	// StreamText streams the completion for the prompt, invoking onDelta
	// for each chunk in arrival order, and returns the full text.
	StreamText(ctx context.Context, system, user string, onDelta func(delta string)) (string, error)
	// GenerateText returns the full completion in one call.
	GenerateText(ctx context.Context, system, user string) (string, error)
}

type aiClient struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewAIClient builds a Completer from the environment: OPENAI_API_KEY,
// OPENAI_BASE_URL (default api.openai.com; OpenRouter works too) and
// OPENAI_MODEL.
func NewAIClient(log *logger.Logger) (Completer, error) {
	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}

	baseURL := strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(os.Getenv("OPENAI_MODEL"))
	if model == "" {
		model = "gpt-4o"
	}

	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	return &aiClient{
		log:        log.With("service", "AIClient"),
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 180 * time.Second},
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *aiClient) messages(system, user string) []chatMessage {
	msgs := make([]chatMessage, 0, 2)
	if strings.TrimSpace(system) != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: system})
	}
	return append(msgs, chatMessage{Role: "user", Content: user})
}

func (c *aiClient) newRequest(ctx context.Context, body chatCompletionRequest) (*http.Request, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/chat/completions", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *aiClient) GenerateText(ctx context.Context, system, user string) (string, error) {
	req, err := c.newRequest(ctx, chatCompletionRequest{
		Model:       c.model,
		Messages:    c.messages(system, user),
		Temperature: 0.5,
	})
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", UpstreamError(err)
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return "", UpstreamError(readErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", UpstreamError(fmt.Errorf("completion http %d: %s", resp.StatusCode, string(raw)))
	}

	var out chatCompletionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", UpstreamError(fmt.Errorf("completion decode: %w", err))
	}
	if out.Error != nil {
		return "", UpstreamError(errors.New(out.Error.Message))
	}
	if len(out.Choices) == 0 {
		return "", UpstreamError(errors.New("completion returned no choices"))
	}
	return out.Choices[0].Message.Content, nil
}

func (c *aiClient) StreamText(ctx context.Context, system, user string, onDelta func(delta string)) (string, error) {
	req, err := c.newRequest(ctx, chatCompletionRequest{
		Model:       c.model,
		Messages:    c.messages(system, user),
		Temperature: 0.5,
		Stream:      true,
	})
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", UpstreamError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return "", UpstreamError(fmt.Errorf("completion http %d: %s", resp.StatusCode, string(raw)))
	}

	var full strings.Builder
	err = scanEventStream(resp.Body, func(data string) error {
		if data == "" || data == "[DONE]" {
			return nil
		}
		var chunk chatCompletionResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Non-JSON keepalives are ignored.
			return nil
		}
		if chunk.Error != nil {
			return errors.New(chunk.Error.Message)
		}
		if len(chunk.Choices) == 0 {
			return nil
		}
		if d := chunk.Choices[0].Delta.Content; d != "" {
			full.WriteString(d)
			if onDelta != nil {
				onDelta(d)
			}
		}
		return nil
	})
	if err != nil {
		return "", UpstreamError(err)
	}
	return full.String(), nil
}

// scanEventStream reads an SSE body, calling onData with each data
// payload (multi-line payloads are joined with newlines).
func scanEventStream(r io.Reader, onData func(data string) error) error {
	br := bufio.NewReader(r)
	var dataLines []string

	flush := func() error {
		if len(dataLines) == 0 {
			return nil
		}
		data := strings.Join(dataLines, "\n")
		dataLines = nil
		return onData(data)
	}

	for {
		line, err := br.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return flush()
			}
			return err
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if err := flush(); err != nil {
				return err
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
}
