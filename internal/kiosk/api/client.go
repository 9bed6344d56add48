package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/regnido/regnido/internal/models"
)

// Client 后端 API 客户端
type Client struct {
	http *resty.Client
}

// StatusError 服务端返回的非 2xx 响应
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}

// ErrUnauthorized 令牌缺失或已过期
var ErrUnauthorized = errors.New("unauthorized")

// IsRejection 判断错误是否为服务端对事件本身的永久拒绝。
// 这类事件重试不会成功，不应回到队列里。
func IsRejection(err error) bool {
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	return statusErr.Code == http.StatusBadRequest || statusErr.Code == http.StatusNotFound
}

// NewClient 创建 API 客户端
func NewClient(baseURL string, timeout time.Duration) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	return &Client{http: httpClient}
}

// SetToken 设置访问令牌
func (c *Client) SetToken(token string) {
	c.http.SetAuthToken(token)
}

type errorBody struct {
	Error string `json:"error"`
}

func (c *Client) checkStatus(resp *resty.Response, body *errorBody) error {
	if resp.IsSuccess() {
		return nil
	}
	if resp.StatusCode() == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	message := ""
	if body != nil {
		message = body.Error
	}
	return &StatusError{Code: resp.StatusCode(), Message: message}
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status        string `json:"status"`
	ServerTimeUTC string `json:"server_time_utc"`
	ServerTZ      string `json:"server_tz"`
}

// Health 健康检查，返回响应体与本机相对服务器的时钟偏差
func (c *Client) Health() (*HealthResponse, time.Duration, error) {
	var body HealthResponse
	resp, err := c.http.R().
		SetResult(&body).
		Get("/health")
	if err != nil {
		return nil, 0, fmt.Errorf("health request: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, 0, &StatusError{Code: resp.StatusCode()}
	}

	var skew time.Duration
	if serverTime, err := time.Parse(time.RFC3339, body.ServerTimeUTC); err == nil {
		skew = time.Now().UTC().Sub(serverTime)
	}
	return &body, skew, nil
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Error       string `json:"error"`
}

// Login 用户名密码登录，成功后令牌自动附加到后续请求
func (c *Client) Login(username, password string) (string, error) {
	var body loginResponse
	resp, err := c.http.R().
		SetBody(map[string]string{"username": username, "password": password}).
		SetResult(&body).
		SetError(&body).
		Post("/auth/login")
	if err != nil {
		return "", fmt.Errorf("login request: %w", err)
	}
	if err := c.checkStatus(resp, &errorBody{Error: body.Error}); err != nil {
		return "", err
	}

	c.SetToken(body.AccessToken)
	return body.AccessToken, nil
}

// DeviceProfile 设备档案
type DeviceProfile struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	SiteID   string `json:"site_id"`
	SiteName string `json:"site_name"`
	Active   bool   `json:"active"`
}

type deviceResponse struct {
	Data  *DeviceProfile `json:"data"`
	Error string         `json:"error"`
}

// GetDevice 获取设备档案
func (c *Client) GetDevice(deviceID string) (*DeviceProfile, error) {
	var body deviceResponse
	resp, err := c.http.R().
		SetResult(&body).
		SetError(&body).
		Get("/devices/" + deviceID)
	if err != nil {
		return nil, fmt.Errorf("get device request: %w", err)
	}
	if err := c.checkStatus(resp, &errorBody{Error: body.Error}); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// ChildSummary 花名册条目
type ChildSummary struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type childrenResponse struct {
	Data  []ChildSummary `json:"data"`
	Error string         `json:"error"`
}

// ListChildren 获取设备所属站点的在册儿童名单
func (c *Client) ListChildren(deviceID, search string) ([]ChildSummary, error) {
	var body childrenResponse
	resp, err := c.http.R().
		SetQueryParam("device_id", deviceID).
		SetQueryParam("q", search).
		SetResult(&body).
		SetError(&body).
		Get("/catalog/bambini")
	if err != nil {
		return nil, fmt.Errorf("list children request: %w", err)
	}
	if err := c.checkStatus(resp, &errorBody{Error: body.Error}); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// SubmitResponse 单事件提交响应
type SubmitResponse struct {
	Data      *models.PresenceEvent `json:"data"`
	Duplicate bool                  `json:"duplicate"`
	Error     string                `json:"error"`
}

// Submit 提交单个事件。eventType 为 CHECK_IN 或 CHECK_OUT。
func (c *Client) Submit(event *models.PendingEvent) (*SubmitResponse, error) {
	path := "/presenze/check-in"
	if event.EventType == models.EventCheckOut {
		path = "/presenze/check-out"
	}

	var body SubmitResponse
	resp, err := c.http.R().
		SetBody(map[string]any{
			"child_id":        event.ChildID,
			"device_id":       event.DeviceID,
			"client_event_id": event.ClientEventID,
			"event_time":      event.EventTime.UTC().Format(time.RFC3339Nano),
		}).
		SetResult(&body).
		SetError(&body).
		Post(path)
	if err != nil {
		return nil, fmt.Errorf("submit request: %w", err)
	}
	if err := c.checkStatus(resp, &errorBody{Error: body.Error}); err != nil {
		return nil, err
	}
	return &body, nil
}

type syncResponse struct {
	models.SyncResult
	Error string `json:"error"`
}

// SyncEvents 批量提交待同步事件，返回逐条结果
func (c *Client) SyncEvents(events []*models.PendingEvent) (*models.SyncResult, error) {
	items := make([]map[string]any, 0, len(events))
	for _, event := range events {
		items = append(items, map[string]any{
			"child_id":        event.ChildID,
			"device_id":       event.DeviceID,
			"client_event_id": event.ClientEventID,
			"event_type":      event.EventType,
			"event_time":      event.EventTime.UTC().Format(time.RFC3339Nano),
		})
	}

	var body syncResponse
	resp, err := c.http.R().
		SetBody(map[string]any{"events": items}).
		SetResult(&body).
		SetError(&body).
		Post("/sync")
	if err != nil {
		return nil, fmt.Errorf("sync request: %w", err)
	}
	if err := c.checkStatus(resp, &errorBody{Error: body.Error}); err != nil {
		return nil, err
	}
	return &body.SyncResult, nil
}
