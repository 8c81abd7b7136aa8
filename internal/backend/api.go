package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
)

// ChunkResult is the /upload-chunk response.
type ChunkResult struct {
	Message *string `json:"message,omitempty"`
}

// FinalResult is the /upload-final response.
type FinalResult struct {
	Summary    *string `json:"summary,omitempty"`
	Transcript *string `json:"transcript,omitempty"`
}

// ChatResult is the /chat response.
type ChatResult struct {
	Response *string `json:"response,omitempty"`
}

type finalRequest struct {
	SessionID   string `json:"sessionId"`
	TotalChunks int    `json:"totalChunks"`
}

type chatRequest struct {
	SessionID string `json:"sessionId"`
	Query     string `json:"query"`
}

// UploadChunk posts one audio chunk as multipart form data.
func (c *Client) UploadChunk(ctx context.Context, sessionID string, order int, chunk []byte) (ChunkResult, error) {
	build := func(ctx context.Context) (*http.Request, error) {
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		if err := w.WriteField("sessionId", sessionID); err != nil {
			return nil, err
		}
		if err := w.WriteField("order", strconv.Itoa(order)); err != nil {
			return nil, err
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition",
			fmt.Sprintf(`form-data; name="chunk"; filename="chunk-%d.webm"`, order))
		h.Set("Content-Type", "audio/webm")
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(chunk); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload-chunk", &buf)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", w.FormDataContentType())
		return req, nil
	}

	body, err := c.Do(ctx, build)
	if err != nil {
		return ChunkResult{}, err
	}
	var out ChunkResult
	decodeSafely(body, &out)
	return out, nil
}

// UploadFinal asks the backend to summarize the whole session.
func (c *Client) UploadFinal(ctx context.Context, sessionID string, totalChunks int) (FinalResult, error) {
	body, err := c.Do(ctx, c.jsonPost("/upload-final", finalRequest{SessionID: sessionID, TotalChunks: totalChunks}))
	if err != nil {
		return FinalResult{}, err
	}
	var out FinalResult
	decodeSafely(body, &out)
	return out, nil
}

// Chat sends a question about a finished session.
func (c *Client) Chat(ctx context.Context, sessionID, query string) (ChatResult, error) {
	body, err := c.Do(ctx, c.jsonPost("/chat", chatRequest{SessionID: sessionID, Query: query}))
	if err != nil {
		return ChatResult{}, err
	}
	var out ChatResult
	decodeSafely(body, &out)
	return out, nil
}

func (c *Client) jsonPost(path string, payload any) RequestBuilder {
	return func(ctx context.Context) (*http.Request, error) {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s body: %w", path, err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}
}

// decodeSafely leaves *out untouched when body is empty or does not decode.
func decodeSafely[T any](body []byte, out *T) {
	if len(body) == 0 {
		return
	}
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		return
	}
	*out = v
}
