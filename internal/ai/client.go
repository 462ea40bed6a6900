// Package ai provides the HTTP client for the model backend service:
// transcription, sentiment, turn analysis, and token-streamed generation.
package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/parley-labs/parley/internal/config"
	"github.com/parley-labs/parley/internal/domain"
)

// ErrBackendStatus indicates a non-200 response from the model backend.
var ErrBackendStatus = errors.New("model backend returned non-200 status")

// Message is one role-tagged entry in a generation request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client talks to the model backend's HTTP API.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
}

// NewClient creates a backend client from configuration.
func NewClient(cfg config.AIConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		http:    &http.Client{},
	}
}

// Transcribe converts an audio attachment to text.
func (c *Client) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)

	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("create multipart file field: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return "", fmt.Errorf("copy audio into request: %w", err)
	}
	if err := mw.WriteField("model", c.model); err != nil {
		return "", fmt.Errorf("write model field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/audio/transcriptions", body)
	if err != nil {
		return "", fmt.Errorf("create transcription request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.authorize(req)

	var out struct {
		Text string `json:"text"`
	}
	if err := c.do(req, &out); err != nil {
		return "", fmt.Errorf("transcription call: %w", err)
	}
	return strings.TrimSpace(out.Text), nil
}

// Sentiment classifies the emotional tone of text.
func (c *Client) Sentiment(ctx context.Context, text string) (domain.Sentiment, error) {
	var out struct {
		Sentiment  string  `json:"sentiment"`
		Confidence float64 `json:"confidence"`
	}
	if err := c.postJSON(ctx, "/v1/analysis/sentiment", map[string]string{"text": text}, &out); err != nil {
		return domain.Sentiment{}, fmt.Errorf("sentiment call: %w", err)
	}
	if !domain.ValidSentiment(out.Sentiment) {
		return domain.Sentiment{}, fmt.Errorf("sentiment call: unrecognized label %q", out.Sentiment)
	}
	return domain.Sentiment{
		Label: out.Sentiment,
		Score: domain.ClampConfidence(out.Confidence),
	}, nil
}

// AnalyzeTurn produces the structured intent/impact reading of a user
// utterance. Callers validate the payload before persisting it.
func (c *Client) AnalyzeTurn(ctx context.Context, text string) (*domain.Analysis, error) {
	var out domain.Analysis
	if err := c.postJSON(ctx, "/v1/analysis/turn", map[string]string{"text": text}, &out); err != nil {
		return nil, fmt.Errorf("turn analysis call: %w", err)
	}
	return &out, nil
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Generate streams completion tokens for the assembled message list.
// Tokens are yielded in arrival order; consuming stops when the iterator
// is broken out of, the stream errors, or the backend signals done.
func (c *Client) Generate(ctx context.Context, messages []Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		reqBody, err := json.Marshal(chatRequest{
			Model:    c.model,
			Messages: messages,
			Stream:   true,
		})
		if err != nil {
			yield("", fmt.Errorf("marshal generation request: %w", err))
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(reqBody))
		if err != nil {
			yield("", fmt.Errorf("create generation request: %w", err))
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")
		c.authorize(req)

		resp, err := c.http.Do(req)
		if err != nil {
			yield("", fmt.Errorf("call generation api: %w", err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			yield("", fmt.Errorf("%w: %s: %s", ErrBackendStatus, resp.Status, string(body)))
			return
		}

		reader := bufio.NewReader(resp.Body)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if errors.Is(err, io.EOF) {
					return
				}
				yield("", fmt.Errorf("read generation stream: %w", err))
				return
			}

			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data: "))
			if data == "[DONE]" {
				return
			}

			var chunk chatChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			token := chunk.Choices[0].Delta.Content
			if token == "" {
				continue
			}
			if !yield(token, nil) {
				return
			}
		}
	}
}

func (c *Client) postJSON(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: %s: %s", ErrBackendStatus, resp.Status, string(body))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
