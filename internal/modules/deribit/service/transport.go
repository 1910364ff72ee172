package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
)

// Transport — JSON-RPC канал до Deribit. HTTP передаёт токен заголовком,
// WS авторизует само соединение; Epoch меняется при каждом переподключении.
type Transport interface {
	Call(ctx context.Context, method string, params any, token string, out any) error
	Epoch() uint64
	Close() error
}

// APIError — ошибка, которую вернула сама биржа.
type APIError struct {
	Method  string
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("deribit %s: code=%d %s", e.Method, e.Code, e.Message)
}

func decodeResult(method string, resp rpcResponse, out any) error {
	if resp.Error != nil {
		return &APIError{Method: method, Code: resp.Error.Code, Message: resp.Error.Message}
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(resp.Result, out); err != nil {
		return errors.Wrapf(err, "decode %s result", method)
	}
	return nil
}

type HTTPTransport struct {
	baseURL string
	http    *http.Client
	seq     atomic.Int64
}

func NewHTTPTransport(baseURL string, timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (t *HTTPTransport) Epoch() uint64 { return 0 }
func (t *HTTPTransport) Close() error  { return nil }

func (t *HTTPTransport) Call(ctx context.Context, method string, params any, token string, out any) error {
	payload, err := sonic.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      t.seq.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return errors.Wrapf(err, "%s marshal", method)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/"+method, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrapf(err, "%s new request", method)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := t.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s do", method)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)

	var r rpcResponse
	if err := sonic.Unmarshal(data, &r); err != nil {
		if resp.StatusCode/100 != 2 {
			return errors.Errorf("%s http %d: %s", method, resp.StatusCode, string(data))
		}
		return errors.Wrapf(err, "%s decode; body=%s", method, string(data))
	}
	// Deribit отдаёт 400 вместе с нормальным JSON-RPC error
	return decodeResult(method, r, out)
}
