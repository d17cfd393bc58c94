// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	// MaxEventSize caps a single SSE event. Delta payloads are small;
	// anything near this limit is a broken or hostile stream.
	MaxEventSize = 64 * 1024

	// doneSentinel terminates an OpenAI-style stream.
	doneSentinel = "[DONE]"
)

// ErrMalformedStream indicates the response body was not a well-formed
// event stream. The session layer treats it as a distinct failure kind.
var ErrMalformedStream = errors.New("malformed event stream")

// StreamChunk is one decoded chunk of a streaming chat completion.
type StreamChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	// Err is set when the endpoint reports a failure inside the stream
	// instead of via HTTP status.
	Err *struct {
		Code    string `json:"code"`
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Content returns the text fragment carried by the chunk. Role-only and
// choiceless chunks carry none.
func (c *StreamChunk) Content() string {
	if len(c.Choices) == 0 {
		return ""
	}
	return c.Choices[0].Delta.Content
}

// FinishReason returns the finish reason, or "" while generation continues.
func (c *StreamChunk) FinishReason() string {
	if len(c.Choices) == 0 || c.Choices[0].FinishReason == nil {
		return ""
	}
	return *c.Choices[0].FinishReason
}

// StreamCallback receives each decoded chunk in receipt order. Callbacks
// run on the stream goroutine; a slow callback slows the stream.
type StreamCallback func(chunk StreamChunk)

// SSEReader reads Server-Sent Events from a response body.
type SSEReader struct {
	reader *bufio.Reader
}

// NewSSEReader wraps r for event-by-event reading.
func NewSSEReader(r io.Reader) *SSEReader {
	return &SSEReader{reader: bufio.NewReader(r)}
}

// ReadEvent returns the next event's type and data. A blank line ends an
// event. EOF with buffered data yields that data first; the next call
// returns io.EOF.
func (r *SSEReader) ReadEvent() (eventType string, data []byte, err error) {
	var dataBuf bytes.Buffer

	for {
		line, err := r.reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF && dataBuf.Len() > 0 {
				return eventType, dataBuf.Bytes(), nil
			}
			return "", nil, err
		}

		line = bytes.TrimRight(line, "\r\n")

		if len(line) == 0 {
			if dataBuf.Len() > 0 || eventType != "" {
				return eventType, dataBuf.Bytes(), nil
			}
			continue
		}

		switch {
		case bytes.HasPrefix(line, []byte("event:")):
			eventType = string(bytes.TrimSpace(line[len("event:"):]))
		case bytes.HasPrefix(line, []byte("data:")):
			if dataBuf.Len() > 0 {
				dataBuf.WriteByte('\n')
			}
			dataBuf.Write(bytes.TrimSpace(line[len("data:"):]))
		case bytes.HasPrefix(line, []byte(":")):
			// comment line, keep-alive
		}

		if dataBuf.Len() > MaxEventSize {
			return "", nil, fmt.Errorf("%w: event exceeds %d bytes", ErrMalformedStream, MaxEventSize)
		}
	}
}

// Stream sends req with streaming enabled and invokes callback for each
// chunk until the stream ends. It returns nil on a clean finish, the
// context's error if ctx is cancelled, and a typed endpoint or transport
// error otherwise. No callback is invoked after an error return.
func (c *Client) Stream(ctx context.Context, req ChatRequest, callback StreamCallback) error {
	if !c.IsConfigured() {
		return ErrNotConfigured
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	req.Stream = true
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.handleErrorResponse(resp)
	}

	return processStream(ctx, resp.Body, callback)
}

// processStream decodes events until [DONE], EOF, or failure. The context
// is checked before every read so cancellation is observed between chunks.
func processStream(ctx context.Context, body io.Reader, callback StreamCallback) error {
	reader := NewSSEReader(body)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, data, err := reader.ReadEvent()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("reading stream: %w", err)
		}

		payload := strings.TrimSpace(string(data))
		if payload == "" {
			continue
		}
		if payload == doneSentinel {
			return nil
		}

		var chunk StreamChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedStream, err)
		}

		if chunk.Err != nil {
			return &APIError{
				Code:    chunk.Err.Code,
				Type:    chunk.Err.Type,
				Message: chunk.Err.Message,
			}
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		callback(chunk)

		if chunk.FinishReason() != "" {
			// Drain until [DONE] or EOF so the connection can be reused.
			continue
		}
	}
}
