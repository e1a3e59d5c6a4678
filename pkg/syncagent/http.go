package syncagent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	appErrors "sudooom.hrchat/internal/errors"
	"sudooom.hrchat/internal/model"
	"sudooom.hrchat/pkg/response"
)

// HTTPAPI 通过 REST 接口实现 API
type HTTPAPI struct {
	baseURL string
	client  *http.Client
}

// NewHTTPAPI 创建 REST 客户端，baseURL 形如 http://host:8080/api/v1
func NewHTTPAPI(baseURL string, client *http.Client) *HTTPAPI {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPAPI{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// ListConversations GET /conversations
func (c *HTTPAPI) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	var convs []model.Conversation
	if err := c.do(ctx, http.MethodGet, "/conversations", nil, &convs); err != nil {
		return nil, err
	}
	return convs, nil
}

// ListMessages GET /conversations/:key/messages
func (c *HTTPAPI) ListMessages(ctx context.Context, keyOrID string) ([]model.Message, error) {
	var msgs []model.Message
	path := "/conversations/" + url.PathEscape(keyOrID) + "/messages"
	if err := c.do(ctx, http.MethodGet, path, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// SendMessage POST /messages
func (c *HTTPAPI) SendMessage(ctx context.Context, req SendRequest) (*model.Message, error) {
	var msg model.Message
	if err := c.do(ctx, http.MethodPost, "/messages", req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// do 发送请求并解开 {code,message,data} 信封。业务错误还原为 AppError，调用方用 appErrors.Is 按错误码判断。
func (c *HTTPAPI) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	envelope := response.Response{Data: out}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode %s %s (status %d): %w", method, path, resp.StatusCode, err)
	}
	if envelope.Code != response.CodeSuccess {
		return appErrors.NewError(envelope.Code, envelope.Message)
	}
	return nil
}
