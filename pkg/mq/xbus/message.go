package xbus

import (
	"encoding/json"
	"fmt"
)

// 协议常量。
const (
	// CommandRefresh 通知订阅方刷新本地缓存中的某个 key。
	CommandRefresh = "refreshYourLocalCacheForKey"

	// DefaultChannel 默认广播频道。
	DefaultChannel = "cacheChannel"
)

// Message 失效广播消息。
type Message struct {
	Command   string `json:"command"`
	CacheKey  string `json:"cacheKey"`
	ProcessID string `json:"processId"`
}

// NewRefresh 构造一条刷新消息。
func NewRefresh(cacheKey, processID string) Message {
	return Message{
		Command:   CommandRefresh,
		CacheKey:  cacheKey,
		ProcessID: processID,
	}
}

// Encode 序列化消息。
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Decode 解析原始负载。
// 无法解析或缺少 cacheKey 时返回 ErrMalformedMessage。
func Decode(raw []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	if m.CacheKey == "" {
		return Message{}, fmt.Errorf("%w: missing cacheKey", ErrMalformedMessage)
	}
	return m, nil
}
