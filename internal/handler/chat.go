package handler

import (
	"net/http"

	"lumichat/internal/model"
	"lumichat/internal/service"
	"lumichat/internal/utils"
	"lumichat/pkg/logger"

	"github.com/gin-gonic/gin"
)

type ChatHandler struct {
	chatService *service.ChatService
}

func NewChatHandler(chatService *service.ChatService) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
	}
}

// validate 流式响应提交前的同步校验,失败时直接以状态码+错误体响应
func (h *ChatHandler) validate(c *gin.Context, req *model.ChatRequest) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求格式错误: " + err.Error()})
		return false
	}
	if len(req.Messages) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "messages 不能为空"})
		return false
	}
	if !h.chatService.Ready() {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "上游服务未配置 API Key"})
		return false
	}
	return true
}

// StreamChat 处理 POST /chat/stream。
// 校验通过后提交为流式响应,之后的失败只能通过带内error事件传递。
func (h *ChatHandler) StreamChat(c *gin.Context) {
	var req model.ChatRequest
	if !h.validate(c, &req) {
		return
	}

	writer := utils.NewStreamWriter(c.Writer)

	// 客户端断开时请求context被取消,上游调用随之中止
	events := h.chatService.StreamChat(c.Request.Context(), &req)
	for ev := range events {
		if err := writer.WriteEvent(ev); err != nil {
			logger.Warnf("写入流式响应失败: %v", err)
			return
		}
	}
}

// Chat 处理 POST /chat,同步返回完整回复
func (h *ChatHandler) Chat(c *gin.Context) {
	var req model.ChatRequest
	if !h.validate(c, &req) {
		return
	}

	resp, err := h.chatService.Chat(c.Request.Context(), &req)
	if err != nil {
		logger.Errorf("同步聊天请求失败: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "上游服务调用失败: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Health 处理 GET /health
func (h *ChatHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, model.HealthResponse{
		Status:  "ok",
		Message: "服务运行正常",
	})
}
