package model

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const (
	AttachmentImage = "image"
	AttachmentText  = "text"
)

// ChatTurn 会话中的一轮消息。助手轮不携带附件。
type ChatTurn struct {
	Role        string       `json:"role"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment 附件的线上传输形式。
// PDF在客户端已按页展开为多个image附件,服务端只会看到image和text两种类型。
type Attachment struct {
	Type string `json:"type"`
	Data string `json:"data"`
	Name string `json:"name"`
}

// ChatRequest POST /chat/stream 和 POST /chat 的请求体。
// 上游无状态,每次请求都携带完整的历史消息。
type ChatRequest struct {
	Messages []ChatTurn `json:"messages"`
	Model    string     `json:"model,omitempty"`
}

// ChatResponse POST /chat 的同步响应
type ChatResponse struct {
	Content string `json:"content"`
	Usage   *Usage `json:"usage,omitempty"`
	Model   string `json:"model"`
}

// Usage 上游返回的token用量统计
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}
