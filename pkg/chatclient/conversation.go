package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"lumichat/internal/model"
	"lumichat/internal/utils"
)

var (
	// ErrNothingToSend 正文为空且没有附件时本地拒绝,不发起网络调用
	ErrNothingToSend = errors.New("消息为空且没有附件")
	// ErrBusy 附件批次处理期间阻止提交
	ErrBusy = errors.New("附件处理中,暂时无法发送")
)

// Client 与聊天服务通信的HTTP客户端
type Client struct {
	BaseURL    string
	Model      string
	HTTPClient *http.Client
	Normalizer *Normalizer
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: utils.NewHTTPClient(0),
		Normalizer: NewNormalizer(),
	}
}

func (c *Client) NewConversation() *Conversation {
	return &Conversation{client: c}
}

// Conversation 持有一段会话的全部状态:已提交的轮次和唯一的在途请求。
// 新请求(包括新会话)先取消旧请求;被取代请求的后续事件全部丢弃,
// 既不修改转写也不产生可见错误。
type Conversation struct {
	client *Client

	mu     sync.Mutex
	turns  []model.ChatTurn
	cancel context.CancelFunc
	gen    uint64 // 每次提交或重置递增,用于丢弃过期请求的事件
	busy   bool   // 附件批次处理中
}

// NormalizeFiles 归一化一批文件。处理期间Busy()为true,消息提交被阻止,
// 但不影响其他操作。
func (cv *Conversation) NormalizeFiles(paths []string) ([]Attachment, []Warning) {
	cv.mu.Lock()
	cv.busy = true
	cv.mu.Unlock()
	defer func() {
		cv.mu.Lock()
		cv.busy = false
		cv.mu.Unlock()
	}()

	return cv.client.Normalizer.NormalizeFiles(paths)
}

func (cv *Conversation) Busy() bool {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	return cv.busy
}

// History 返回转写的快照
func (cv *Conversation) History() []model.ChatTurn {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	out := make([]model.ChatTurn, len(cv.turns))
	copy(out, cv.turns)
	return out
}

// Reset 开始新会话:取消在途请求并清空转写
func (cv *Conversation) Reset() {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	if cv.cancel != nil {
		cv.cancel()
		cv.cancel = nil
	}
	cv.gen++
	cv.turns = nil
}

// Send 提交一轮用户消息并流式接收回复。
// onUpdate在每个增量之后收到当前累积的助手回复。
// 正常完成时把助手轮追加到转写并返回其内容;
// 上游或传输失败时以一条合成的助手轮向用户解释;
// 取消返回context.Canceled,不追加任何轮次,也不算错误。
func (cv *Conversation) Send(ctx context.Context, text string, attachments []Attachment, onUpdate func(partial string)) (string, error) {
	cv.mu.Lock()
	if cv.busy {
		cv.mu.Unlock()
		return "", ErrBusy
	}
	if strings.TrimSpace(text) == "" && len(attachments) == 0 {
		cv.mu.Unlock()
		return "", ErrNothingToSend
	}

	// 单在途请求:新请求先取消旧请求
	if cv.cancel != nil {
		cv.cancel()
	}
	reqCtx, cancel := context.WithCancel(ctx)
	cv.cancel = cancel
	cv.gen++
	gen := cv.gen

	cv.turns = append(cv.turns, model.ChatTurn{
		Role:        model.RoleUser,
		Content:     text,
		Attachments: toWire(attachments),
	})
	history := make([]model.ChatTurn, len(cv.turns))
	copy(history, cv.turns)
	cv.mu.Unlock()

	result, err := cv.client.stream(reqCtx, &model.ChatRequest{Messages: history, Model: cv.client.Model}, func(partial string) {
		// 过期请求的增量不再上报
		if onUpdate != nil && cv.current(gen) {
			onUpdate(partial)
		}
	})

	cv.mu.Lock()
	defer cv.mu.Unlock()

	if gen != cv.gen {
		// 请求已被取代,丢弃全部结果
		return "", context.Canceled
	}
	cv.cancel = nil

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", context.Canceled
		}
		failure := "抱歉,请求失败了: " + err.Error()
		cv.turns = append(cv.turns, model.ChatTurn{Role: model.RoleAssistant, Content: failure})
		return failure, err
	}
	if result.Err != "" {
		// 带内error事件:不保留半截回复,改为一条解释失败的助手轮
		failure := "抱歉,生成过程中出错了: " + result.Err
		cv.turns = append(cv.turns, model.ChatTurn{Role: model.RoleAssistant, Content: failure})
		return failure, nil
	}

	cv.turns = append(cv.turns, model.ChatTurn{Role: model.RoleAssistant, Content: result.Content})
	return result.Content, nil
}

func (cv *Conversation) current(gen uint64) bool {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	return gen == cv.gen
}

// stream 发起一次 /chat/stream 调用并解码响应
func (c *Client) stream(ctx context.Context, req *model.ChatRequest, onUpdate func(string)) (*Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/stream", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("服务端拒绝请求: %s", apiErr.Error)
		}
		return nil, fmt.Errorf("服务端返回状态码 %d", resp.StatusCode)
	}

	return NewDecoder(resp.Body).Run(ctx, onUpdate)
}
