package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// Client 维修记录后端 REST 客户端
// 所有需要认证的调用都显式传入 Credentials，不读取任何全局会话状态
// =============================================================================

// Credentials supplies the bearer token for one login and the teardown hook
// to run when the backend rejects it.
type Credentials interface {
	BearerToken() string
	OnUnauthorized()
}

// Client 后端客户端
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient 创建后端客户端实例
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// envelope is the backend's uniform response shape.
type envelope struct {
	Success *bool           `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func token(creds Credentials) (string, error) {
	if creds == nil {
		return "", ErrAuthRequired
	}
	t := creds.BearerToken()
	if t == "" {
		return "", ErrAuthRequired
	}
	return t, nil
}

// doJSON 执行 JSON 请求
// body 为 nil 时不发送请求体；result 为 nil 时忽略 data
func (c *Client) doJSON(ctx context.Context, creds Credentials, method, path string, body interface{}, result interface{}) (string, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return "", fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := c.newRequest(ctx, creds, method, path, bodyReader)
	if err != nil {
		return "", err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(creds, req, result)
}

func (c *Client) newRequest(ctx context.Context, creds Credentials, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if creds != nil {
		t, err := token(creds)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+t)
	}
	return req, nil
}

// send 发起请求并按统一信封解析
func (c *Client) send(creds Credentials, req *http.Request, result interface{}) (string, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("backend request failed",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.Error(err),
		)
		return "", &NetworkError{Op: req.Method + " " + req.URL.Path, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &NetworkError{Op: "read " + req.URL.Path, Err: err}
	}

	c.logger.Debug("backend request",
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	if err := c.checkStatus(creds, resp.StatusCode, respBody); err != nil {
		return "", err
	}

	if len(bytes.TrimSpace(respBody)) == 0 {
		return "", nil
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return "", fmt.Errorf("decode response envelope: %w", err)
	}
	if env.Success != nil && !*env.Success {
		return "", &ServerError{Status: resp.StatusCode, Message: messageOr(env.Message)}
	}

	if result != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, result); err != nil {
			return "", fmt.Errorf("decode response data: %w", err)
		}
	}
	return env.Message, nil
}

// checkStatus maps a non-2xx status to the error taxonomy. A 401 on an
// authenticated call runs the credentials' teardown hook first.
func (c *Client) checkStatus(creds Credentials, status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}

	var env envelope
	_ = json.Unmarshal(body, &env)

	if status == http.StatusUnauthorized && creds != nil {
		c.logger.Info("backend rejected session token")
		creds.OnUnauthorized()
		return ErrUnauthorized
	}
	return &ServerError{Status: status, Message: messageOr(env.Message)}
}

func messageOr(msg string) string {
	if strings.TrimSpace(msg) == "" {
		return genericFailure
	}
	return msg
}
