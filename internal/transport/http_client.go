package transport

import (
	"bytes"
	"chatgogo/messenger/internal/models"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 4 << 10
)

// HistoryResponse is the body of a history fetch.
type HistoryResponse struct {
	Messages []models.Message `json:"messages"`
}

// ErrorResponse is the body of a failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HTTPClient implements Transport over the REST API.
type HTTPClient struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

// NewHTTPClient returns a client for baseURL authenticated with token.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: defaultTimeout},
	}
}

func (c *HTTPClient) FetchHistory(ctx context.Context, ref ConversationRef) ([]models.Message, error) {
	var path string
	switch ref.Mode {
	case ModeDirect:
		path = "/api/rooms/" + url.PathEscape(ref.ID) + "/messages"
	case ModeThread:
		path = "/api/threads/" + url.PathEscape(ref.ID) + "/messages"
	default:
		return nil, fmt.Errorf("transport: unknown conversation mode %q", ref.Mode)
	}

	var resp HistoryResponse
	if err := c.do(ctx, http.MethodGet, path, nil, "", &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (c *HTTPClient) SendMessage(ctx context.Context, req SendRequest) (models.Message, error) {
	body, contentType, err := encodeSubmission(req)
	if err != nil {
		return models.Message{}, err
	}

	var msg models.Message
	err = c.do(ctx, http.MethodPost, "/api/messages", body, contentType, &msg)
	return msg, err
}

func (c *HTTPClient) EditMessage(ctx context.Context, id uint64, content string) (models.Message, error) {
	payload, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return models.Message{}, err
	}

	var msg models.Message
	err = c.do(ctx, http.MethodPatch, messagePath(id, ""), bytes.NewReader(payload), "application/json", &msg)
	return msg, err
}

func (c *HTTPClient) DeleteMessage(ctx context.Context, id uint64) error {
	return c.do(ctx, http.MethodDelete, messagePath(id, ""), nil, "", nil)
}

func (c *HTTPClient) MarkBestReply(ctx context.Context, id uint64) (models.Message, error) {
	var msg models.Message
	err := c.do(ctx, http.MethodPost, messagePath(id, "/mark-best"), nil, "", &msg)
	return msg, err
}

func (c *HTTPClient) UnmarkBestReply(ctx context.Context, id uint64) (models.Message, error) {
	var msg models.Message
	err := c.do(ctx, http.MethodPost, messagePath(id, "/unmark-best"), nil, "", &msg)
	return msg, err
}

func messagePath(id uint64, suffix string) string {
	return "/api/messages/" + strconv.FormatUint(id, 10) + suffix
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("transport: build %s %s: %w", method, path, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("transport: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("transport: decode %s %s: %w", method, path, err)
	}
	return nil
}

// checkStatus maps a response status to the transport error taxonomy.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var e ErrorResponse
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &e) == nil && e.Error != "" {
		msg = e.Error
	}
	return &StatusError{Code: resp.StatusCode, Message: msg}
}

// encodeSubmission builds the multipart body of a new message.
func encodeSubmission(req SendRequest) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := []struct{ name, value string }{
		{"roomOrThreadId", req.ConversationID},
		{"senderId", req.SenderID},
		{"receiverId", req.ReceiverID},
		{"threadId", req.ThreadID},
		{"content", req.Content},
		{"kind", string(req.Kind)},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		if err := w.WriteField(f.name, f.value); err != nil {
			return nil, "", fmt.Errorf("transport: encode %s: %w", f.name, err)
		}
	}

	if req.File != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, req.File.Name))
		ct := req.File.MimeType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("transport: encode file: %w", err)
		}
		if _, err := part.Write(req.File.Data); err != nil {
			return nil, "", fmt.Errorf("transport: encode file: %w", err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("transport: encode submission: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}
