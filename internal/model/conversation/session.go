package conversation

import (
	"strings"
	"time"
)

// Session 一个多轮会话。
type Session struct {
	ID        string          `json:"session_id"`
	Turns     []Turn          `json:"turns"`
	Meeting   *MeetingContext `json:"meeting_context,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Clone 返回会话的深拷贝，调用方可以随意修改而不影响存储中的状态。
func (s Session) Clone() Session {
	out := s
	if s.Turns != nil {
		out.Turns = make([]Turn, len(s.Turns))
		for i, turn := range s.Turns {
			out.Turns[i] = turn.Clone()
		}
	}
	out.Meeting = s.Meeting.Clone()
	return out
}

// MeetingContext 调用方提供的会议元数据。
type MeetingContext struct {
	MeetingID    string   `json:"meeting_id,omitempty"`
	DocumentID   string   `json:"document_id,omitempty"`
	Participants []string `json:"participants,omitempty"`
	Title        string   `json:"title,omitempty"`
	MinutesURL   string   `json:"minutes_url,omitempty"`
}

// Clone 复制上下文，包括参与者切片。
func (m *MeetingContext) Clone() *MeetingContext {
	if m == nil {
		return nil
	}
	out := *m
	if m.Participants != nil {
		out.Participants = append([]string(nil), m.Participants...)
	}
	return &out
}

// Merge 以字段为单位合并：update 中非空字段覆盖当前值，缺省字段保留原值。
// 两者都为空时返回 nil。
func (m *MeetingContext) Merge(update *MeetingContext) *MeetingContext {
	if update == nil {
		return m.Clone()
	}
	merged := m.Clone()
	if merged == nil {
		merged = &MeetingContext{}
	}
	if v := strings.TrimSpace(update.MeetingID); v != "" {
		merged.MeetingID = v
	}
	if v := strings.TrimSpace(update.DocumentID); v != "" {
		merged.DocumentID = v
	}
	if v := strings.TrimSpace(update.Title); v != "" {
		merged.Title = v
	}
	if v := strings.TrimSpace(update.MinutesURL); v != "" {
		merged.MinutesURL = v
	}
	if len(update.Participants) > 0 {
		merged.Participants = append([]string(nil), update.Participants...)
	}
	if merged.IsZero() {
		return nil
	}
	return merged
}

// IsZero 所有字段均为空。
func (m *MeetingContext) IsZero() bool {
	return m == nil || (m.MeetingID == "" && m.DocumentID == "" && m.Title == "" && m.MinutesURL == "" && len(m.Participants) == 0)
}

// ParticipantNames 规范化参与者列表。有的客户端会把整个名单作为一个逗号分隔的字符串发送。
func (m *MeetingContext) ParticipantNames() []string {
	if m == nil {
		return nil
	}
	names := make([]string, 0, len(m.Participants))
	seen := make(map[string]struct{}, len(m.Participants))
	for _, raw := range m.Participants {
		for _, part := range strings.Split(raw, ",") {
			name := strings.TrimSpace(part)
			if name == "" {
				continue
			}
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	return names
}
