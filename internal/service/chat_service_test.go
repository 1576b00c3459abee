package service

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"lumichat/internal/config"
	"lumichat/internal/model"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	chunkHe    = `{"id":"1","object":"chat.completion.chunk","created":1,"model":"fake-model","choices":[{"index":0,"delta":{"content":"He"}}]}`
	chunkLlo   = `{"id":"1","object":"chat.completion.chunk","created":1,"model":"fake-model","choices":[{"index":0,"delta":{"content":"llo"}}]}`
	chunkUsage = `{"id":"1","object":"chat.completion.chunk","created":1,"model":"fake-model","choices":[],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`
	chunkDone  = `[DONE]`
)

// fakeUpstream 起一个假的上游服务并返回指向它的配置
func fakeUpstream(t *testing.T, h http.HandlerFunc) *config.Config {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return &config.Config{
		Upstream: config.UpstreamConfig{
			APIKey:  "test-key",
			BaseURL: ts.URL,
			Model:   "fake-model",
		},
	}
}

func writeChunks(w http.ResponseWriter, chunks ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	fl, _ := w.(http.Flusher)
	for _, c := range chunks {
		fmt.Fprintf(w, "data: %s\n\n", c)
		if fl != nil {
			fl.Flush()
		}
	}
}

func collect(ch <-chan model.StreamEvent) []model.StreamEvent {
	var evs []model.StreamEvent
	for ev := range ch {
		evs = append(evs, ev)
	}
	return evs
}

func TestStreamChatRelaysDeltasThenDone(t *testing.T) {
	cfg := fakeUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		writeChunks(w, chunkHe, chunkLlo, chunkUsage, chunkDone)
	})
	s := NewChatService(cfg)

	req := &model.ChatRequest{Messages: []model.ChatTurn{{Role: model.RoleUser, Content: "hi"}}}
	evs := collect(s.StreamChat(context.Background(), req))

	require.Len(t, evs, 3)
	assert.Equal(t, model.ContentEvent{Content: "He"}, evs[0])
	assert.Equal(t, model.ContentEvent{Content: "llo"}, evs[1])

	done, ok := evs[2].(model.DoneEvent)
	require.True(t, ok, "最后一个事件必须是终止事件")
	require.NotNil(t, done.Usage)
	assert.Equal(t, 5, done.Usage.TotalTokens)
}

func TestStreamChatUpstreamRejection(t *testing.T) {
	cfg := fakeUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"boom"}}`, http.StatusInternalServerError)
	})
	s := NewChatService(cfg)

	req := &model.ChatRequest{Messages: []model.ChatTurn{{Role: model.RoleUser, Content: "hi"}}}
	evs := collect(s.StreamChat(context.Background(), req))

	require.Len(t, evs, 1)
	_, ok := evs[0].(model.ErrorEvent)
	assert.True(t, ok)
}

func TestStreamChatErrorMidStream(t *testing.T) {
	cfg := fakeUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		writeChunks(w, chunkHe, `{not-json`)
	})
	s := NewChatService(cfg)

	req := &model.ChatRequest{Messages: []model.ChatTurn{{Role: model.RoleUser, Content: "hi"}}}
	evs := collect(s.StreamChat(context.Background(), req))

	require.NotEmpty(t, evs)
	assert.Equal(t, model.ContentEvent{Content: "He"}, evs[0])

	// 恰好一个终止事件,且终止之后不再有事件
	var terminals int
	for i, ev := range evs {
		if _, ok := ev.(model.ErrorEvent); ok {
			terminals++
			assert.Equal(t, len(evs)-1, i)
		}
	}
	assert.Equal(t, 1, terminals)
}

func TestChatSync(t *testing.T) {
	cfg := fakeUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"1","object":"chat.completion","created":1,"model":"fake-model",`+
			`"choices":[{"index":0,"message":{"role":"assistant","content":"Hello"},"finish_reason":"stop"}],`+
			`"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`)
	})
	s := NewChatService(cfg)

	resp, err := s.Chat(context.Background(), &model.ChatRequest{
		Messages: []model.ChatTurn{{Role: model.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello", resp.Content)
	assert.Equal(t, "fake-model", resp.Model)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 5, resp.Usage.TotalTokens)
}

func TestChatAppliesUpstreamTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	cfg := fakeUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		<-block // 上游一直不响应
	})
	cfg.Upstream.Timeout = 50 * time.Millisecond
	s := NewChatService(cfg)

	_, err := s.Chat(context.Background(), &model.ChatRequest{
		Messages: []model.ChatTurn{{Role: model.RoleUser, Content: "hi"}},
	})
	assert.Error(t, err, "配置的上游超时必须生效")
}

func TestBuildMessagesInjectsSystemPrompt(t *testing.T) {
	msgs := BuildMessages([]model.ChatTurn{{Role: model.RoleUser, Content: "hi"}})

	require.Len(t, msgs, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, msgs[0].Role)
	assert.NotEmpty(t, msgs[0].Content)
	assert.Equal(t, openai.ChatMessageRoleUser, msgs[1].Role)
	assert.Equal(t, "hi", msgs[1].Content)
}

func TestBuildMessagesAssistantTurnIsPlainText(t *testing.T) {
	msgs := BuildMessages([]model.ChatTurn{
		{Role: model.RoleUser, Content: "hi"},
		{Role: model.RoleAssistant, Content: "你好"},
	})

	require.Len(t, msgs, 3)
	assert.Equal(t, openai.ChatMessageRoleAssistant, msgs[2].Role)
	assert.Equal(t, "你好", msgs[2].Content)
	assert.Empty(t, msgs[2].MultiContent)
}

func TestBuildMessagesAttachmentOrdering(t *testing.T) {
	img := model.Attachment{Type: model.AttachmentImage, Data: "data:image/png;base64,AAAA", Name: "cat.png"}

	t.Run("单图片无正文只有一个part", func(t *testing.T) {
		msgs := BuildMessages([]model.ChatTurn{{Role: model.RoleUser, Attachments: []model.Attachment{img}}})
		parts := msgs[1].MultiContent
		require.Len(t, parts, 1)
		assert.Equal(t, openai.ChatMessagePartTypeImageURL, parts[0].Type)
		assert.Equal(t, img.Data, parts[0].ImageURL.URL)
	})

	t.Run("图片在前正文在后", func(t *testing.T) {
		msgs := BuildMessages([]model.ChatTurn{{Role: model.RoleUser, Content: "这是什么", Attachments: []model.Attachment{img}}})
		parts := msgs[1].MultiContent
		require.Len(t, parts, 2)
		assert.Equal(t, openai.ChatMessagePartTypeImageURL, parts[0].Type)
		assert.Equal(t, openai.ChatMessagePartTypeText, parts[1].Type)
		assert.Equal(t, "这是什么", parts[1].Text)
	})

	t.Run("PDF按页展开后保持页序", func(t *testing.T) {
		// PDF在客户端已展开为逐页的image附件
		atts := []model.Attachment{
			{Type: model.AttachmentImage, Data: "data:image/jpeg;base64,p1", Name: "doc.pdf#page=1"},
			{Type: model.AttachmentImage, Data: "data:image/jpeg;base64,p2", Name: "doc.pdf#page=2"},
			{Type: model.AttachmentImage, Data: "data:image/jpeg;base64,p3", Name: "doc.pdf#page=3"},
		}
		msgs := BuildMessages([]model.ChatTurn{{Role: model.RoleUser, Content: "总结一下", Attachments: atts}})
		parts := msgs[1].MultiContent
		require.Len(t, parts, 4)
		for i := 0; i < 3; i++ {
			assert.Equal(t, openai.ChatMessagePartTypeImageURL, parts[i].Type)
			assert.Equal(t, atts[i].Data, parts[i].ImageURL.URL)
		}
		assert.Equal(t, openai.ChatMessagePartTypeText, parts[3].Type)
	})

	t.Run("文本附件带来源标注", func(t *testing.T) {
		att := model.Attachment{Type: model.AttachmentText, Data: "hello world", Name: "notes.txt"}
		msgs := BuildMessages([]model.ChatTurn{{Role: model.RoleUser, Attachments: []model.Attachment{att}}})
		parts := msgs[1].MultiContent
		require.Len(t, parts, 1)
		assert.Equal(t, "[文件: notes.txt]\nhello world", parts[0].Text)
	})
}
