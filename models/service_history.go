package models

// HistoryParams 描述查询历史列表的参数（书签分页）
type HistoryParams struct {
	Cursor string `json:"cursor" form:"cursor"` // 上一页最后一条会话的 id
	Limit  int    `json:"limit" form:"limit"`   // 每页数量，默认 50，最大 200
}

// Normalize clamps Limit into the supported range.
func (p HistoryParams) Normalize() HistoryParams {
	switch {
	case p.Limit <= 0:
		p.Limit = 50
	case p.Limit > 200:
		p.Limit = 200
	}
	return p
}

// HistoryPage is one page of stored sessions.
type HistoryPage struct {
	Items      []SessionRecord `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// HistoryDetail is a stored session with its recorded outputs.
type HistoryDetail struct {
	Session  SessionRecord   `json:"session"`
	Messages []MessageRecord `json:"messages"`
	Snapshot *Snapshot       `json:"snapshot,omitempty"`
}
