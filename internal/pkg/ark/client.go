// Package ark talks to the Volcengine Ark (Doubao) chat-completion endpoint.
package ark

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

var (
	ErrTimeout   = errors.New("API请求超时")
	ErrMalformed = errors.New("API响应格式错误")
	ErrNoAPIKey  = errors.New("API Key 未配置")
)

// StatusError is returned when the upstream answers with a non-2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API错误 %d: %s", e.Code, e.Body)
}

type ImageURL struct {
	URL string `json:"url"`
}

type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type Message struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

type ChatRequest struct {
	Model               string    `json:"model"`
	MaxCompletionTokens int       `json:"max_completion_tokens,omitempty"`
	Messages            []Message `json:"messages"`
	Stream              bool      `json:"stream,omitempty"`
	ReasoningEffort     string    `json:"reasoning_effort,omitempty"`
}

type Options struct {
	APIURL              string
	APIKey              string
	Model               string
	MaxCompletionTokens int
	Prompt              string
	ReasoningEffort     string
}

type Client struct {
	opts       Options
	httpClient *http.Client
}

func NewClient(opts Options, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{opts: opts, httpClient: httpClient}
}

// ImageRequest builds the single-turn image + prompt request.
func (c *Client) ImageRequest(imageURL string, stream bool) ChatRequest {
	return ChatRequest{
		Model:               c.opts.Model,
		MaxCompletionTokens: c.opts.MaxCompletionTokens,
		Stream:              stream,
		ReasoningEffort:     c.opts.ReasoningEffort,
		Messages: []Message{
			{
				Role: "user",
				Content: []ContentPart{
					{Type: "image_url", ImageURL: &ImageURL{URL: imageURL}},
					{Type: "text", Text: c.opts.Prompt},
				},
			},
		},
	}
}

// Complete sends a non-streaming request and returns the answer.
func (c *Client) Complete(ctx context.Context, imageURL string) (string, error) {
	resp, err := c.do(ctx, c.ImageRequest(imageURL, false))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", classify(ctx, err)
	}
	if !gjson.ValidBytes(body) {
		return "", errors.Wrap(ErrMalformed, "invalid json")
	}
	content := gjson.GetBytes(body, "choices.0.message.content")
	if !content.Exists() {
		return "", errors.Wrapf(ErrMalformed, "no choices in %s", truncate(string(body), 200))
	}
	return content.String(), nil
}

// Stream sends a streaming request, calls onDelta with every content
// fragment and returns the concatenated answer.
func (c *Client) Stream(ctx context.Context, imageURL string, onDelta func(string) error) (string, error) {
	resp, err := c.do(ctx, c.ImageRequest(imageURL, true))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var full strings.Builder
	err = ReadEvents(resp.Body, func(data string) (bool, error) {
		if data == "[DONE]" {
			return false, nil
		}
		if !gjson.Valid(data) {
			// 单行解析失败时跳过
			return true, nil
		}
		if msg := gjson.Get(data, "error.message"); msg.Exists() {
			return false, errors.Errorf("API返回错误: %s", msg.String())
		}
		delta := gjson.Get(data, "choices.0.delta.content").String()
		if delta == "" {
			return true, nil
		}
		full.WriteString(delta)
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				return false, err
			}
		}
		return true, nil
	})
	if err != nil {
		return full.String(), classify(ctx, err)
	}
	return full.String(), nil
}

func (c *Client) do(ctx context.Context, req ChatRequest) (*http.Response, error) {
	if c.opts.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "marshal request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.APIURL, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classify(ctx, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return resp, nil
}

// ReadEvents scans a server-sent-event body and calls fn with the payload
// of every data line. fn returns false to stop reading.
func ReadEvents(r io.Reader, fn func(data string) (bool, error)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		cont, err := fn(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return scanner.Err()
}

func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errors.Wrap(ErrTimeout, err.Error())
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errors.Wrap(ErrTimeout, err.Error())
	}
	return err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
