package utils

import (
	"net/http"
	"time"
)

// NewHTTPClient 构造带连接池的HTTP客户端。
// timeout为0时不设置整体超时,流式响应的连接需要长时间保持。
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
