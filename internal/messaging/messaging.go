package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrMissingToken indicates a push without a delivery token.
	ErrMissingToken      = errors.New("messaging: delivery token is required")
	errMissingGatewayURL = errors.New("messaging: gateway url is required")
)

// Message is one push to one device token. Only the data block is sent —
// never a platform notification block — so the receiving client stays in
// control of rendering.
type Message struct {
	Token string            `json:"token"`
	Data  map[string]string `json:"data"`
}

// Sender delivers a single push message.
type Sender interface {
	Send(ctx context.Context, message Message) error
}

// ClientConfig configures the HTTP gateway client.
type ClientConfig struct {
	GatewayURL string
	APIKey     string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client posts messages to the push gateway over HTTP.
type Client struct {
	gatewayURL string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient constructs a gateway client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.GatewayURL == "" {
		return nil, errMissingGatewayURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		gatewayURL: cfg.GatewayURL,
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Send posts one message to the gateway.
func (c *Client) Send(ctx context.Context, message Message) error {
	if message.Token == "" {
		return ErrMissingToken
	}

	body, err := json.Marshal(message)
	if err != nil {
		return err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.gatewayURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		request.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	io.Copy(io.Discard, response.Body) //nolint:errcheck

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		c.logger.Warn("push gateway rejected message",
			zap.Int("status", response.StatusCode),
			zap.String("token", message.Token))
		return fmt.Errorf("messaging: gateway returned status %d", response.StatusCode)
	}
	return nil
}

// Dispatcher wraps a Sender with fire-and-forget delivery. Each send runs on
// its own goroutine and reports its outcome through a logged completion, so
// one bad token never blocks or fails delivery to the others.
type Dispatcher struct {
	sender Sender
	logger *zap.Logger
	wg     sync.WaitGroup
}

// NewDispatcher constructs a dispatcher around the sender.
func NewDispatcher(sender Sender, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{sender: sender, logger: logger}
}

// Dispatch sends the message without waiting for completion. Failures are
// logged, never returned. The send must outlive the triggering request, so
// the caller's cancellation is detached before the goroutine starts.
func (d *Dispatcher) Dispatch(ctx context.Context, message Message) {
	sendCtx := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.sender.Send(sendCtx, message); err != nil {
			d.logger.Warn("push send failed",
				zap.String("token", message.Token),
				zap.Error(err))
			return
		}
		d.logger.Debug("push sent", zap.String("token", message.Token))
	}()
}

// Wait blocks until every in-flight send has completed. Used on shutdown and
// in tests; handlers never call it.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
