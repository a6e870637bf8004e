// Package accesslog posts usage events to a remote logging endpoint.
// Delivery is best-effort: failures are logged at debug level and never
// returned to the caller.
package accesslog

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultAppName identifies sprintpilot when no app name is configured.
const DefaultAppName = "sprintpilot"

// Envelope is the JSON body sent for each event.
type Envelope struct {
	AppName  string `json:"appName"`
	Title    string `json:"title"`
	UserInfo string `json:"userInfo"`
	Content  string `json:"content"`
}

// Config configures a Client.
type Config struct {
	// Endpoint receives the POST. Empty disables logging.
	Endpoint string
	AppName  string

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client sends Envelopes. The zero value and a nil *Client are no-ops.
type Client struct {
	endpoint string
	appName  string
	http     *http.Client
	logger   *slog.Logger
}

// New creates a Client from cfg.
func New(cfg Config) *Client {
	c := &Client{
		endpoint: cfg.Endpoint,
		appName:  cfg.AppName,
		http:     cfg.HTTPClient,
		logger:   cfg.Logger,
	}
	if c.appName == "" {
		c.appName = DefaultAppName
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 5 * time.Second}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Enabled reports whether events are sent anywhere.
func (c *Client) Enabled() bool {
	return c != nil && c.endpoint != ""
}

// Log sends one event. userInfo is base64 encoded before sending.
func (c *Client) Log(ctx context.Context, title, userInfo, content string) {
	if !c.Enabled() {
		return
	}
	env := Envelope{
		AppName:  c.appName,
		Title:    title,
		UserInfo: base64.StdEncoding.EncodeToString([]byte(userInfo)),
		Content:  content,
	}
	if err := c.send(ctx, env); err != nil {
		c.logger.Debug("accesslog: send failed", "title", title, "error", err)
	}
}

func (c *Client) send(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("post: status %d", resp.StatusCode)
	}
	return nil
}
