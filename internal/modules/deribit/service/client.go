package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"option_bot/pkg/clock"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Client — JSON-RPC клиент одного аккаунта: держит токен client_credentials
// и обновляет его заранее, до истечения.
type Client struct {
	tr           Transport
	clientID     string
	clientSecret string
	clock        clock.Clock
	log          *zap.Logger

	mu        sync.Mutex
	token     string
	expiresAt time.Time
	epoch     uint64
}

const tokenSkew = 30 * time.Second

func NewClient(tr Transport, clientID, clientSecret string, c clock.Clock, log *zap.Logger) *Client {
	return &Client{
		tr:           tr,
		clientID:     clientID,
		clientSecret: clientSecret,
		clock:        c,
		log:          log,
	}
}

func (c *Client) Close() error { return c.tr.Close() }

// Call дёргает метод; для private/* сначала убеждается в живом токене.
func (c *Client) Call(ctx context.Context, method string, params any, out any) error {
	if !strings.HasPrefix(method, "private/") {
		return c.tr.Call(ctx, method, params, "", out)
	}

	token, err := c.ensureToken(ctx)
	if err != nil {
		return err
	}
	err = c.tr.Call(ctx, method, params, token, out)

	var apiErr *APIError
	if errors.As(err, &apiErr) && isAuthError(apiErr.Code) {
		// токен отозван биржей: одна повторная попытка со свежим
		c.mu.Lock()
		c.token = ""
		c.mu.Unlock()
		if token, err = c.ensureToken(ctx); err != nil {
			return err
		}
		return c.tr.Call(ctx, method, params, token, out)
	}
	return err
}

func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	epoch := c.tr.Epoch()
	if c.token != "" && c.epoch == epoch && c.clock.Now().Add(tokenSkew).Before(c.expiresAt) {
		return c.token, nil
	}
	if c.clientID == "" || c.clientSecret == "" {
		return "", errors.New("deribit: client credentials are not configured")
	}

	var res authResult
	err := c.tr.Call(ctx, "public/auth", map[string]any{
		"grant_type":    "client_credentials",
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
	}, "", &res)
	if err != nil {
		return "", errors.Wrap(err, "deribit auth")
	}
	if res.AccessToken == "" {
		return "", errors.New("deribit auth: empty access token")
	}

	c.token = res.AccessToken
	c.expiresAt = c.clock.Now().Add(time.Duration(res.ExpiresIn) * time.Second)
	// public/auth по WS мог сам переподключить сокет
	c.epoch = c.tr.Epoch()
	c.log.Debug("authenticated", zap.Time("expires_at", c.expiresAt))
	return c.token, nil
}

// 13009 unauthorized, 13010 token expired
func isAuthError(code int) bool {
	return code == 13009 || code == 13010
}
