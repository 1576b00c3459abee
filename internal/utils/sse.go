package utils

import (
	"fmt"
	"net/http"

	"lumichat/internal/model"
)

// StreamWriter 向客户端写出流式协议帧。
// 构造时即设置流式响应头,此后发生的错误只能通过带内error事件传递。
type StreamWriter struct {
	w http.ResponseWriter
}

func NewStreamWriter(w http.ResponseWriter) *StreamWriter {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	return &StreamWriter{w: w}
}

// WriteEvent 写出一帧: "data: " + JSON + "\n\n",并立即刷出
func (s *StreamWriter) WriteEvent(ev model.StreamEvent) error {
	data, err := model.EncodeStreamEvent(ev)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}

	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}

	return nil
}
