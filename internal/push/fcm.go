package push

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Config FCM推送配置
type Config struct {
	Endpoint  string
	ServerKey string
	Timeout   time.Duration
}

// fcmRequest FCM legacy HTTP 协议请求体
type fcmRequest struct {
	To           string          `json:"to"`
	Notification fcmNotification `json:"notification"`
	Priority     string          `json:"priority"`
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Sound string `json:"sound"`
}

// fcmResponse FCM响应体
type fcmResponse struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
}

// Client 监护人App推送客户端（FCM）。
// 推送是尽力而为的补充通道，失败不影响WhatsApp主通道的结果。
type Client struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewClient 创建FCM客户端
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	client := resty.New().
		SetBaseURL(cfg.Endpoint).
		SetTimeout(cfg.Timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetHeader("Content-Type", "application/json").
		SetHeader("Authorization", "key="+cfg.ServerKey)

	return &Client{
		httpClient: client,
		logger:     logger,
	}
}

// Push 向单个设备令牌推送通知
func (c *Client) Push(ctx context.Context, token, title, body string) error {
	request := fcmRequest{
		To:       token,
		Priority: "high",
		Notification: fcmNotification{
			Title: title,
			Body:  body,
			Sound: "default",
		},
	}

	var response fcmResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(request).
		SetResult(&response).
		Post("")

	if err != nil {
		return fmt.Errorf("failed to call FCM: %w", err)
	}

	if resp.IsError() {
		return fmt.Errorf("FCM returned status %d", resp.StatusCode())
	}

	if response.Failure > 0 {
		return fmt.Errorf("FCM rejected the message (failure=%d)", response.Failure)
	}

	c.logger.Debug("push notification sent",
		zap.String("title", title),
	)
	return nil
}
