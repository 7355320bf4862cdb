package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout is the maximum time to wait for gateway responses that are
// not long-polls.
const DefaultTimeout = 30 * time.Second

// longPollSeconds is how long one updates request may hang at the gateway.
const longPollSeconds = 25

// GatewayDialer talks to the session gateway service that holds the actual
// protocol connections. One gateway serves every tenant; sessions are
// isolated by their tokens.
type GatewayDialer struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
	logger     *zap.Logger
}

var _ Dialer = (*GatewayDialer)(nil)

// NewGatewayDialer creates a Dialer against the session gateway.
func NewGatewayDialer(baseURL, authToken string, logger *zap.Logger) *GatewayDialer {
	return &GatewayDialer{
		baseURL:   baseURL,
		authToken: authToken,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger: logger.Named("gateway"),
	}
}

type gatewayError struct {
	Error             string `json:"error"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}

func (d *GatewayDialer) StartLogin(ctx context.Context, phone string, apiID int, apiHash string, forceSMS bool) (*LoginResult, error) {
	var resp struct {
		FlowToken        string `json:"flow_token"`
		CodeDeliveredVia string `json:"code_delivered_via"`
	}
	err := d.post(ctx, d.httpClient, []string{"v1", "login", "start"}, map[string]any{
		"phone":     phone,
		"api_id":    apiID,
		"api_hash":  apiHash,
		"force_sms": forceSMS,
	}, &resp)
	if err != nil {
		return nil, err
	}

	return &LoginResult{FlowToken: resp.FlowToken, CodeDeliveredVia: resp.CodeDeliveredVia}, nil
}

func (d *GatewayDialer) VerifyCode(ctx context.Context, flowToken, code string) (*LoginResult, error) {
	var resp struct {
		SessionToken     string `json:"session_token"`
		PasswordRequired bool   `json:"password_required"`
		FlowToken        string `json:"flow_token"`
	}
	err := d.post(ctx, d.httpClient, []string{"v1", "login", "code"}, map[string]any{
		"flow_token": flowToken,
		"code":       code,
	}, &resp)
	if err != nil {
		return nil, err
	}

	out := &LoginResult{
		SessionToken:     resp.SessionToken,
		PasswordRequired: resp.PasswordRequired,
		FlowToken:        flowToken,
	}
	if resp.FlowToken != "" {
		out.FlowToken = resp.FlowToken
	}
	return out, nil
}

func (d *GatewayDialer) VerifyPassword(ctx context.Context, flowToken, password string) (*LoginResult, error) {
	var resp struct {
		SessionToken string `json:"session_token"`
	}
	err := d.post(ctx, d.httpClient, []string{"v1", "login", "password"}, map[string]any{
		"flow_token": flowToken,
		"password":   password,
	}, &resp)
	if err != nil {
		return nil, err
	}

	return &LoginResult{SessionToken: resp.SessionToken, FlowToken: flowToken}, nil
}

func (d *GatewayDialer) Connect(ctx context.Context, sessionToken string, handler InboundHandler) (Client, error) {
	var resp struct {
		ConnectionID string `json:"connection_id"`
	}
	err := d.post(ctx, d.httpClient, []string{"v1", "sessions", "connect"}, map[string]any{
		"session_token": sessionToken,
	}, &resp)
	if err != nil {
		return nil, err
	}

	c := &gatewayClient{
		dialer:       d,
		connectionID: resp.ConnectionID,
		pollClient: &http.Client{
			// Long-poll requests hang up to longPollSeconds at the gateway.
			Timeout: (longPollSeconds + 10) * time.Second,
		},
		logger: d.logger.With(zap.String("connection_id", resp.ConnectionID)),
	}
	c.connected.Store(true)

	pollCtx, cancel := context.WithCancel(context.Background())
	c.cancelPoll = cancel
	if handler != nil {
		go c.pollUpdates(pollCtx, handler)
	}

	return c, nil
}

// post executes one JSON request against the gateway and decodes the
// response, translating gateway error payloads into typed auth errors.
func (d *GatewayDialer) post(ctx context.Context, client *http.Client, segments []string, body any, out any) error {
	endpoint, err := buildURL(d.baseURL, segments...)
	if err != nil {
		return fmt.Errorf("failed to build URL: %w", err)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+d.authToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call session gateway: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return d.translateError(resp.StatusCode, raw)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}

	return nil
}

// translateError maps gateway error payloads onto typed auth errors so the
// caller can show the tenant a real message.
func (d *GatewayDialer) translateError(status int, raw []byte) error {
	var ge gatewayError
	if err := json.Unmarshal(raw, &ge); err == nil && ge.Error != "" {
		switch AuthErrorKind(ge.Error) {
		case AuthErrRateLimited:
			return &AuthError{
				Kind:       AuthErrRateLimited,
				RetryAfter: time.Duration(ge.RetryAfterSeconds) * time.Second,
			}
		case AuthErrInvalidCredentials, AuthErrInvalidPhone, AuthErrInvalidCode, AuthErrInvalidPassword:
			return &AuthError{Kind: AuthErrorKind(ge.Error)}
		}
	}

	return fmt.Errorf("session gateway returned status %d: %s", status, string(raw))
}

// gatewayClient is one live connection held open at the gateway.
type gatewayClient struct {
	dialer       *GatewayDialer
	connectionID string
	pollClient   *http.Client
	cancelPoll   context.CancelFunc
	connected    atomic.Bool
	logger       *zap.Logger
}

var _ Client = (*gatewayClient)(nil)

func (c *gatewayClient) SendText(ctx context.Context, userID int64, text string) (int64, error) {
	var resp struct {
		MessageID int64 `json:"message_id"`
	}
	err := c.dialer.post(ctx, c.dialer.httpClient,
		[]string{"v1", "connections", c.connectionID, "send"},
		map[string]any{"user_id": userID, "text": text}, &resp)
	if err != nil {
		return 0, fmt.Errorf("failed to send text: %w", err)
	}
	return resp.MessageID, nil
}

func (c *gatewayClient) SendTextToUsername(ctx context.Context, username, text string) (int64, error) {
	var resp struct {
		MessageID int64 `json:"message_id"`
	}
	err := c.dialer.post(ctx, c.dialer.httpClient,
		[]string{"v1", "connections", c.connectionID, "send"},
		map[string]any{"username": username, "text": text}, &resp)
	if err != nil {
		return 0, fmt.Errorf("failed to send text by username: %w", err)
	}
	return resp.MessageID, nil
}

func (c *gatewayClient) ResolveUser(ctx context.Context, userID int64, force bool) (*ResolvedUser, error) {
	var resp ResolvedUser
	err := c.dialer.post(ctx, c.dialer.httpClient,
		[]string{"v1", "connections", c.connectionID, "resolve"},
		map[string]any{"user_id": userID, "force": force}, &resp)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user %d: %w", userID, err)
	}
	return &resp, nil
}

func (c *gatewayClient) SeedContacts(ctx context.Context) error {
	err := c.dialer.post(ctx, c.dialer.httpClient,
		[]string{"v1", "connections", c.connectionID, "contacts", "seed"}, map[string]any{}, nil)
	if err != nil {
		return fmt.Errorf("failed to seed contacts: %w", err)
	}
	return nil
}

func (c *gatewayClient) Typing(ctx context.Context, userID int64) error {
	return c.dialer.post(ctx, c.dialer.httpClient,
		[]string{"v1", "connections", c.connectionID, "typing"},
		map[string]any{"user_id": userID}, nil)
}

func (c *gatewayClient) Connected() bool {
	return c.connected.Load()
}

func (c *gatewayClient) Close() error {
	if !c.connected.CompareAndSwap(true, false) {
		return nil
	}
	if c.cancelPoll != nil {
		c.cancelPoll()
	}

	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()

	endpoint, err := buildURL(c.dialer.baseURL, "v1", "connections", c.connectionID)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.dialer.authToken)

	resp, err := c.dialer.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to close connection: %w", err)
	}
	resp.Body.Close()

	return nil
}

type gatewayUpdate struct {
	SenderID         int64  `json:"sender_id"`
	Username         string `json:"username"`
	DisplayName      string `json:"display_name"`
	Text             string `json:"text"`
	VoiceURL         string `json:"voice_url"`
	PhotoURL         string `json:"photo_url"`
	Caption          string `json:"caption"`
	ChannelMessageID int64  `json:"message_id"`
}

// pollUpdates long-polls the gateway for inbound events and dispatches each
// to the handler until the connection closes.
func (c *gatewayClient) pollUpdates(ctx context.Context, handler InboundHandler) {
	for ctx.Err() == nil {
		updates, err := c.fetchUpdates(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("update poll failed", zap.Error(err))
			select {
			case <-time.After(3 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		for _, u := range updates {
			c.dispatch(ctx, u, handler)
		}
	}
}

func (c *gatewayClient) fetchUpdates(ctx context.Context) ([]gatewayUpdate, error) {
	endpoint, err := buildURL(c.dialer.baseURL, "v1", "connections", c.connectionID, "updates")
	if err != nil {
		return nil, err
	}
	endpoint += fmt.Sprintf("?wait=%d", longPollSeconds)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.dialer.authToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.pollClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("updates request returned status %d: %s", resp.StatusCode, string(raw))
	}

	var payload struct {
		Updates []gatewayUpdate `json:"updates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode updates: %w", err)
	}

	return payload.Updates, nil
}

func (c *gatewayClient) dispatch(ctx context.Context, u gatewayUpdate, handler InboundHandler) {
	update := InboundUpdate{
		SenderID:         u.SenderID,
		Username:         u.Username,
		DisplayName:      u.DisplayName,
		Text:             u.Text,
		PhotoURL:         u.PhotoURL,
		Caption:          u.Caption,
		ChannelMessageID: u.ChannelMessageID,
	}

	if u.VoiceURL != "" {
		body, err := c.fetchMedia(ctx, u.VoiceURL)
		if err != nil {
			c.logger.Warn("failed to fetch voice media", zap.Error(err))
		} else {
			defer body.Close()
			update.VoiceData = body
		}
	}

	handler(update)
}

func (c *gatewayClient) fetchMedia(ctx context.Context, mediaURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.dialer.authToken)

	resp, err := c.dialer.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("media request returned status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// buildURL constructs a URL by parsing the base and joining path segments.
func buildURL(baseURL string, pathSegments ...string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}

	segments := append([]string{u.Path}, pathSegments...)
	u.Path = path.Join(segments...)

	return u.String(), nil
}
