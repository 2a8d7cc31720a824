package channel

import (
	"context"
	"errors"
	"time"

	"github.com/wwwzy/llmbot/internal/state"
)

// MessageType 对应 websocket 客户端识别的帧类型。
type MessageType string

const (
	TypeStart   MessageType = "START"
	TypeChunk   MessageType = "CHUNK"
	TypeContext MessageType = "CONTEXT"
	TypeEnd     MessageType = "END"
	TypeMonitor MessageType = "MONITOR"
	TypeError   MessageType = "ERROR"
)

var (
	ErrNoSubscriber = errors.New("no subscriber for connection")
	ErrSlowConsumer = errors.New("subscriber buffer full")
)

// Message 是推送给某个连接的一帧。
// MONITOR/ERROR 帧的 Message 为文本，CHUNK 帧为 {"content": ...}。
type Message struct {
	MessageType         MessageType     `json:"message_type"`
	MessageID           string          `json:"message_id,omitempty"`
	Message             any             `json:"message,omitempty"`
	DDBAdditionalKwargs *AdditionalArgs `json:"ddb_additional_kwargs,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
}

type AdditionalArgs struct {
	Figure []state.Figure `json:"figure"`
}

type ChunkContent struct {
	Content string `json:"content"`
	ChunkID int    `json:"chunk_id"`
}

func Start(messageID string) Message {
	return Message{MessageType: TypeStart, MessageID: messageID, CreatedAt: time.Now()}
}

func Monitor(messageID, text string) Message {
	return Message{MessageType: TypeMonitor, MessageID: messageID, Message: text, CreatedAt: time.Now()}
}

func Chunk(messageID, content string, chunkID int) Message {
	return Message{
		MessageType: TypeChunk,
		MessageID:   messageID,
		Message:     ChunkContent{Content: content, ChunkID: chunkID},
		CreatedAt:   time.Now(),
	}
}

func Context(messageID string, figures []state.Figure) Message {
	if figures == nil {
		figures = []state.Figure{}
	}
	return Message{
		MessageType:         TypeContext,
		MessageID:           messageID,
		DDBAdditionalKwargs: &AdditionalArgs{Figure: figures},
		CreatedAt:           time.Now(),
	}
}

func End(messageID string) Message {
	return Message{MessageType: TypeEnd, MessageID: messageID, CreatedAt: time.Now()}
}

func Error(messageID, text string) Message {
	return Message{MessageType: TypeError, MessageID: messageID, Message: text, CreatedAt: time.Now()}
}

// Publisher 按连接 id 推送消息。实现需支持多个请求并发写不同连接。
type Publisher interface {
	Publish(ctx context.Context, connID string, msg Message) error
}

// Subscriber 订阅某个连接的消息，cancel 后通道关闭。
type Subscriber interface {
	Subscribe(ctx context.Context, connID string) (<-chan Message, func(), error)
}

type Broker interface {
	Publisher
	Subscriber
}
