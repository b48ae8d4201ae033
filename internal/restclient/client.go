// Package restclient calls the chat server's REST endpoints for message
// history and file uploads.
package restclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"chat-client/internal/models"
)

// Client talks to the chat REST API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a client for baseURL authenticating with a bearer token.
func New(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), token: token, http: httpClient}
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

type wireMessage struct {
	ID          string              `json:"id"`
	RoomID      string              `json:"roomId"`
	SenderID    string              `json:"senderId"`
	Content     string              `json:"content"`
	Attachments []models.Attachment `json:"attachments"`
	CreatedAt   time.Time           `json:"createdAt"`
	EditedAt    *time.Time          `json:"editedAt,omitempty"`
	DeletedAt   *time.Time          `json:"deletedAt,omitempty"`
	ReplyToID   string              `json:"replyToId,omitempty"`
}

// FetchPage returns page (0 = newest) of a room's history.
func (c *Client) FetchPage(ctx context.Context, roomID string, page, size int) ([]models.Message, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))
	path := "/rooms/" + url.PathEscape(roomID) + "/messages?" + q.Encode()

	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var wire []wireMessage
	if err := c.do(req, &wire); err != nil {
		return nil, err
	}

	out := make([]models.Message, 0, len(wire))
	for _, w := range wire {
		out = append(out, models.Message{
			ID:          w.ID,
			RoomID:      w.RoomID,
			SenderID:    w.SenderID,
			Content:     w.Content,
			Attachments: w.Attachments,
			CreatedAt:   w.CreatedAt,
			EditedAt:    w.EditedAt,
			DeletedAt:   w.DeletedAt,
			ReplyToID:   w.ReplyToID,
		})
	}
	return out, nil
}

// Upload sends files as one multipart request and returns their attachments
// in the same order.
func (c *Client) Upload(ctx context.Context, files []models.Upload) ([]models.Attachment, error) {
	if len(files) == 0 {
		return nil, nil
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, f := range files {
		part, err := mw.CreateFormFile("files", f.Name)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/uploads", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var resp struct {
		URLs []string `json:"urls"`
	}
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	if len(resp.URLs) != len(files) {
		return nil, fmt.Errorf("upload returned %d urls for %d files", len(resp.URLs), len(files))
	}

	out := make([]models.Attachment, len(files))
	for i, f := range files {
		out[i] = models.Attachment{URL: resp.URLs[i], Name: f.Name, MimeType: f.MimeType}
	}
	return out, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	return req, nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %s %s", models.ErrNotFound, req.Method, req.URL.Path)
		}
		return &StatusError{Method: req.Method, Path: req.URL.Path, Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
