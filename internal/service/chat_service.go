package service

import (
	"context"
	"fmt"
	"io"

	"lumichat/internal/config"
	"lumichat/internal/model"
	"lumichat/internal/utils"
	"lumichat/pkg/logger"

	openai "github.com/sashabaranov/go-openai"
)

// systemPrompt 固定注入的system消息,每次上游调用都会作为第一条消息发送
const systemPrompt = `你是一个友好耐心的AI助手。请遵循以下约定:
1. 回答使用 Markdown 格式组织,代码放在代码块中
2. 语气自然简洁,避免冗长的客套话
3. 遇到不确定或不知道的内容直接说明,不要编造`

type ChatService struct {
	cfg    *config.Config
	client *openai.Client
}

func NewChatService(cfg *config.Config) *ChatService {
	clientConfig := openai.DefaultConfig(cfg.Upstream.APIKey)
	if cfg.Upstream.BaseURL != "" {
		clientConfig.BaseURL = cfg.Upstream.BaseURL
	}
	// 超时约束整次上游调用,包括流式读取;为0时不限制
	clientConfig.HTTPClient = utils.NewHTTPClient(cfg.Upstream.Timeout)

	return &ChatService{
		cfg:    cfg,
		client: openai.NewClientWithConfig(clientConfig),
	}
}

// Ready 上游凭证是否已配置。未配置时请求在校验阶段同步失败,不会打开任何流。
func (s *ChatService) Ready() bool {
	return s.cfg.Upstream.APIKey != ""
}

// StreamChat 打开一次上游流式调用,把增量输出转换为协议事件。
// 返回的channel保证:零个或多个ContentEvent之后恰好一个终止事件,随后关闭。
// ctx取消(客户端断开)时中止上游调用并停止写入。
func (s *ChatService) StreamChat(ctx context.Context, req *model.ChatRequest) <-chan model.StreamEvent {
	events := make(chan model.StreamEvent, 16)

	go func() {
		defer close(events)

		stream, err := s.client.CreateChatCompletionStream(ctx, s.completionRequest(req, true))
		if err != nil {
			logger.Errorf("上游流式调用失败: %v", err)
			emit(ctx, events, model.ErrorEvent{Message: "上游服务调用失败: " + err.Error()})
			return
		}
		defer stream.Close()

		var usage *model.Usage
		for {
			resp, err := stream.Recv()
			if err == io.EOF {
				emit(ctx, events, model.DoneEvent{Usage: usage})
				return
			}
			if err != nil {
				logger.Errorf("上游流读取失败: %v", err)
				emit(ctx, events, model.ErrorEvent{Message: "生成过程中发生错误: " + err.Error()})
				return
			}

			if resp.Usage != nil {
				usage = &model.Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				}
			}

			if len(resp.Choices) > 0 && resp.Choices[0].Delta.Content != "" {
				if !emit(ctx, events, model.ContentEvent{Content: resp.Choices[0].Delta.Content}) {
					return
				}
			}
		}
	}()

	return events
}

// Chat 同步的非流式调用
func (s *ChatService) Chat(ctx context.Context, req *model.ChatRequest) (*model.ChatResponse, error) {
	resp, err := s.client.CreateChatCompletion(ctx, s.completionRequest(req, false))
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("上游返回了空响应")
	}

	out := &model.ChatResponse{
		Content: resp.Choices[0].Message.Content,
		Model:   resp.Model,
	}
	if resp.Usage.TotalTokens > 0 {
		out.Usage = &model.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return out, nil
}

func (s *ChatService) completionRequest(req *model.ChatRequest, stream bool) openai.ChatCompletionRequest {
	m := req.Model
	if m == "" {
		m = s.cfg.Upstream.Model
	}

	out := openai.ChatCompletionRequest{
		Model:       m,
		Messages:    BuildMessages(req.Messages),
		MaxTokens:   s.cfg.Upstream.MaxTokens,
		Temperature: s.cfg.Upstream.Temperature,
	}
	if stream {
		out.Stream = true
		out.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	return out
}

// BuildMessages 把完整的会话历史转换为上游消息格式,并注入固定的system消息
func BuildMessages(turns []model.ChatTurn) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(turns)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt,
	})
	for _, turn := range turns {
		messages = append(messages, convertTurn(turn))
	}
	return messages
}

// convertTurn 单轮消息的转换:
// 助手轮和不带附件的用户轮转换为纯文本消息;
// 带附件的用户轮转换为多part消息,附件part按原始顺序在前,正文在最后。
func convertTurn(turn model.ChatTurn) openai.ChatCompletionMessage {
	role := openai.ChatMessageRoleUser
	if turn.Role == model.RoleAssistant {
		role = openai.ChatMessageRoleAssistant
	}

	if role == openai.ChatMessageRoleAssistant || len(turn.Attachments) == 0 {
		return openai.ChatCompletionMessage{Role: role, Content: turn.Content}
	}

	parts := make([]openai.ChatMessagePart, 0, len(turn.Attachments)+1)
	for _, att := range turn.Attachments {
		switch att.Type {
		case model.AttachmentImage:
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    att.Data,
					Detail: openai.ImageURLDetailAuto,
				},
			})
		default:
			// 文本附件:正文前加上来源文件标注
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: fmt.Sprintf("[文件: %s]\n%s", att.Name, att.Data),
			})
		}
	}
	// 用户正文为空时只发附件
	if turn.Content != "" {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeText,
			Text: turn.Content,
		})
	}

	return openai.ChatCompletionMessage{Role: role, MultiContent: parts}
}

// emit 在ctx取消时放弃写入,避免没有消费者时goroutine泄漏
func emit(ctx context.Context, ch chan<- model.StreamEvent, ev model.StreamEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
