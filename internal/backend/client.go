// Package backend: REST API учебной платформы (история уведомлений и надёжное подтверждение прочтения).
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/classfeed/internal/logger"
	"github.com/classfeed/internal/model"
)

var ErrNotConfigured = errors.New("backend: base url not configured")

// StatusError возвращается на любой ответ не 2xx.
type StatusError struct {
	Op   string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend %s: status %d", e.Op, e.Code)
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient создаёт клиент. С пустым baseURL каждый вызов вернёт ErrNotConfigured,
// и оптимистичные изменения откатятся.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// FetchNotifications возвращает страницу истории (GET /studentnotifications/).
// Принимает и голый список, и {"results": [...]} с пагинацией.
func (c *Client) FetchNotifications(ctx context.Context) ([]model.Notification, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/studentnotifications/", nil, &raw); err != nil {
		return nil, err
	}
	raw = bytes.TrimSpace(raw)
	var list []model.Notification
	if len(raw) > 0 && raw[0] == '[' {
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("backend notifications: %w", err)
		}
		return list, nil
	}
	var page struct {
		Results       []model.Notification `json:"results"`
		Notifications []model.Notification `json:"notifications"`
	}
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, fmt.Errorf("backend notifications: %w", err)
	}
	if page.Results != nil {
		return page.Results, nil
	}
	return page.Notifications, nil
}

// MarkRead подтверждает прочтение (POST /notifications/{id}/read/).
func (c *Client) MarkRead(ctx context.Context, id model.ID) error {
	return c.do(ctx, http.MethodPost, "/notifications/"+url.PathEscape(string(id))+"/read/", struct{}{}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if c.baseURL == "" {
		return ErrNotConfigured
	}
	defer logger.DeferLogDuration("backend "+method+" "+path, time.Now())()
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Token "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	op := method + " " + path
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return &StatusError{Op: op, Code: resp.StatusCode}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("backend %s: decode: %w", op, err)
	}
	return nil
}
