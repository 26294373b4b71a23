package intent

import (
	"regexp"
	"strings"
)

// Label 是分类器输出的原始意图标签。
type Label string

const (
	QnA                Label = "qna"
	SendMeetingMinutes Label = "send_meeting_minutes"
	Unsupported        Label = "unsupported"
)

// Decision 关键词分类结果。
type Decision struct {
	Label    Label
	Entities map[string]string
	Score    int
	Reason   string
}

var minutesKeywords = []string{
	"minutes", "meeting notes", "회의록", "会议纪要", "会议记录",
}

var deliveryKeywords = []string{
	"send", "share", "forward", "deliver", "post", "mattermost", "matrix",
	"보내", "전송", "전달", "공유", "매터모스트",
	"发送", "分享", "转发",
}

var unsupportedKeywords = []string{
	"weather", "movie", "stock", "music", "restaurant",
	"날씨", "영화", "주식", "음악", "식당",
	"天气", "电影", "股票", "音乐", "餐厅",
}

var (
	minutesNamePattern = regexp.MustCompile(`(?i)(?:minutes|회의록)\s+(?:of|for)?\s*["']?([\p{L}\p{N}_\-]+)`)
	targetPattern      = regexp.MustCompile(`(?i)\bto\s+([#@]?[\p{L}\p{N}_\-.]+)`)
)

// Classify 用关键词分组把查询映射为意图标签，未配置大模型时作为兜底。
func Classify(query string) Decision {
	normalized := strings.ToLower(strings.TrimSpace(query))
	if normalized == "" {
		return Decision{Label: QnA, Entities: map[string]string{}, Reason: "empty query"}
	}

	minutesScore := countHits(normalized, minutesKeywords)
	deliveryScore := countHits(normalized, deliveryKeywords)
	if minutesScore > 0 && deliveryScore > 0 {
		return Decision{
			Label:    SendMeetingMinutes,
			Entities: extractEntities(query),
			Score:    (minutesScore + deliveryScore) * 3,
			Reason:   "meeting minutes delivery keywords detected",
		}
	}

	if hits := countHits(normalized, unsupportedKeywords); hits > 0 {
		return Decision{
			Label:    Unsupported,
			Entities: map[string]string{},
			Score:    hits * 3,
			Reason:   "unsupported topic keywords detected",
		}
	}

	return Decision{Label: QnA, Entities: map[string]string{}, Reason: "default classification for general queries"}
}

func countHits(normalized string, keywords []string) int {
	hits := 0
	for _, word := range keywords {
		if word != "" && strings.Contains(normalized, strings.ToLower(word)) {
			hits++
		}
	}
	return hits
}

func extractEntities(query string) map[string]string {
	entities := make(map[string]string)
	if m := minutesNamePattern.FindStringSubmatch(query); len(m) > 1 && !isStopWord(m[1]) {
		entities["document_name"] = m[1]
	}
	if m := targetPattern.FindStringSubmatch(query); len(m) > 1 && !isStopWord(m[1]) {
		entities["target_user_or_channel"] = m[1]
	}
	return entities
}

func isStopWord(word string) bool {
	switch strings.ToLower(word) {
	case "the", "a", "an", "to", "all", "everyone", "participants", "attendees", "team":
		return true
	default:
		return false
	}
}
