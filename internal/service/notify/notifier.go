// Package notify 把会议消息发送到聊天后端。
package notify

import (
	"context"
	"errors"
	"strings"
)

// ErrDeliveryFailed 包装所有发送失败。
var ErrDeliveryFailed = errors.New("notification delivery failed")

// TargetKind 区分发送对象是用户还是频道。
type TargetKind int

const (
	TargetUser TargetKind = iota
	TargetChannel
)

// Target 一个发送目标。
type Target struct {
	Kind TargetKind
	ID   string
}

func (t Target) String() string {
	if t.Kind == TargetChannel {
		return "channel:" + t.ID
	}
	return t.ID
}

// ParseTarget 把 "channel:<id>"、"#<名称>" 和 "!room" 解析为频道，其余视为用户。
// "#" 前缀保留，由各后端自行解释：Mattermost 去掉前缀，Matrix 按房间别名解析。
func ParseTarget(raw string) Target {
	raw = strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(raw, "channel:"):
		return Target{Kind: TargetChannel, ID: strings.TrimPrefix(raw, "channel:")}
	case strings.HasPrefix(raw, "#"), strings.HasPrefix(raw, "!"):
		return Target{Kind: TargetChannel, ID: raw}
	default:
		return Target{Kind: TargetUser, ID: raw}
	}
}

// Notifier 向一个目标发送一条消息，实现不做重试。
type Notifier interface {
	Send(ctx context.Context, target Target, message string) error
	Name() string
}

// Directory 把参与者显示名解析为聊天用户 id。
type Directory interface {
	// Lookup 返回已知的 id，未知的名字不出现在结果中。
	Lookup(ctx context.Context, names []string) (map[string]string, error)
}

// NormalizeName 目录查找使用的键。
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
