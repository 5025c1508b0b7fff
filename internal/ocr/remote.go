package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fyerfyer/ocr-proofreader/internal/models"
	"github.com/sirupsen/logrus"
)

// RemoteConfig 远程OCR接口配置
type RemoteConfig struct {
	URL        string        // 接口地址
	Token      string        // 访问令牌
	Timeout    time.Duration // 请求超时时间
	MaxRetries int           // 最大重试次数
	RetryDelay time.Duration // 重试间隔，按次数线性增加
}

// DefaultRemoteConfig 返回默认配置
func DefaultRemoteConfig() RemoteConfig {
	return RemoteConfig{
		Timeout:    2 * time.Minute,
		MaxRetries: 2,
		RetryDelay: time.Second,
	}
}

// APIError 表示OCR接口返回的错误
type APIError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Detail     string `json:"detail"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ocr api error (status code: %d): %s - %s", e.StatusCode, e.Message, e.Detail)
}

// RemoteClient PaddleOCR版面解析接口客户端
type RemoteClient struct {
	client *http.Client
	config RemoteConfig
	logger *logrus.Logger
}

type remoteRequest struct {
	File                      string `json:"file"`
	FileType                  int    `json:"fileType"`
	UseDocOrientationClassify bool   `json:"useDocOrientationClassify"`
	UseDocUnwarping           bool   `json:"useDocUnwarping"`
	UseChartRecognition       bool   `json:"useChartRecognition"`
}

type remoteResponse struct {
	Result    json.RawMessage `json:"result"`
	ErrorMsg  string          `json:"errorMsg"`
	ErrorCode int             `json:"errorCode"`
}

// NewRemoteClient 创建远程OCR客户端，地址或令牌为空时返回 models.ErrOCRDisabled
func NewRemoteClient(config RemoteConfig, logger *logrus.Logger) (*RemoteClient, error) {
	if config.URL == "" || config.Token == "" {
		return nil, models.ErrOCRDisabled
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &RemoteClient{
		client: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		config: config,
		logger: logger,
	}, nil
}

// Name 引擎名称
func (c *RemoteClient) Name() string {
	return EngineRemote
}

// Recognize 上传图片并返回接口结果中的 result 字段
func (c *RemoteClient) Recognize(ctx context.Context, image []byte) ([]byte, error) {
	payload, err := json.Marshal(remoteRequest{
		File:     base64.StdEncoding.EncodeToString(image),
		FileType: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request data: %w", err)
	}

	body, err := c.doRequestWithRetry(ctx, payload)
	if err != nil {
		return nil, err
	}

	var resp remoteResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response JSON: %w", err)
	}
	if len(resp.Result) == 0 || string(resp.Result) == "null" {
		return nil, &APIError{StatusCode: http.StatusOK, Message: "empty result", Detail: resp.ErrorMsg}
	}
	return resp.Result, nil
}

// doRequestWithRetry 发送请求，网络错误和5xx/429响应会重试
func (c *RemoteClient) doRequestWithRetry(ctx context.Context, payload []byte) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("request context canceled: %w", ctx.Err())
			case <-time.After(c.config.RetryDelay * time.Duration(attempt)):
			}
		}

		body, retry, err := c.do(ctx, payload)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retry {
			break
		}

		c.logger.WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"url":     c.config.URL,
		}).WithError(err).Warn("OCR request attempt failed")
	}

	return nil, lastErr
}

func (c *RemoteClient) do(ctx context.Context, payload []byte) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "token "+c.config.Token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, ctx.Err() == nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Message:    "OCR call failed",
			Detail:     string(body),
		}
		var errResp remoteResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.ErrorMsg != "" {
			apiErr.Detail = errResp.ErrorMsg
		}
		retry := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return nil, retry, apiErr
	}

	return body, false, nil
}
