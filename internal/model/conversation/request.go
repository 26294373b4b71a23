package conversation

import "encoding/json"

// Request 一次提问请求。
type Request struct {
	Query             string          `json:"query"`
	SessionID         string          `json:"session_id,omitempty"`
	UserID            string          `json:"user_id,omitempty"`
	RestrictedScope   bool            `json:"search_in_restricted_scope,omitempty"`
	TargetDocumentIDs []string        `json:"target_document_ids,omitempty"`
	MeetingContext    *MeetingContext `json:"meeting_context,omitempty"`
	// AdditionalParams 为兼容保留，目前忽略。
	AdditionalParams json.RawMessage `json:"additional_params,omitempty"`
}

// WantsRetrieval 请求是否显式限定了检索范围。
func (r Request) WantsRetrieval() bool {
	return r.RestrictedScope || len(r.TargetDocumentIDs) > 0
}
