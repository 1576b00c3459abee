package model

import (
	"encoding/json"
	"fmt"
)

// StreamEvent 流式协议事件。密封的变体类型:
// 一次流式响应由零个或多个ContentEvent加恰好一个终止事件(DoneEvent或ErrorEvent)组成,
// 终止事件之后不再有任何事件。
type StreamEvent interface {
	streamEvent()
}

// ContentEvent 一个增量文本片段
type ContentEvent struct {
	Content string
}

// DoneEvent 生成正常结束,可选携带用量统计
type DoneEvent struct {
	Usage *Usage
}

// ErrorEvent 生成过程中发生错误,携带可展示的错误说明
type ErrorEvent struct {
	Message string
}

func (ContentEvent) streamEvent() {}
func (DoneEvent) streamEvent()    {}
func (ErrorEvent) streamEvent()   {}

// wireEvent 事件的线上JSON形式,type字段区分变体
type wireEvent struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Usage   *Usage `json:"usage,omitempty"`
	Error   string `json:"error,omitempty"`
}

func EncodeStreamEvent(ev StreamEvent) ([]byte, error) {
	var w wireEvent
	switch e := ev.(type) {
	case ContentEvent:
		w = wireEvent{Type: "content", Content: e.Content}
	case DoneEvent:
		w = wireEvent{Type: "done", Usage: e.Usage}
	case ErrorEvent:
		w = wireEvent{Type: "error", Error: e.Message}
	default:
		return nil, fmt.Errorf("未知的事件类型: %T", ev)
	}
	return json.Marshal(w)
}

func DecodeStreamEvent(data []byte) (StreamEvent, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	switch w.Type {
	case "content":
		return ContentEvent{Content: w.Content}, nil
	case "done":
		return DoneEvent{Usage: w.Usage}, nil
	case "error":
		return ErrorEvent{Message: w.Error}, nil
	default:
		return nil, fmt.Errorf("未知的事件类型: %q", w.Type)
	}
}
