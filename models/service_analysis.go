package models

// AnalysisParams 描述启动一次分析会话的参数
type AnalysisParams struct {
	Ticker          string   `json:"ticker" binding:"required"`
	TradeDate       string   `json:"trade_date"`        // YYYY-MM-DD，默认当天
	Analysts        []string `json:"analysts"`          // market/social/news/fundamentals，默认取配置
	MaxDebateRounds int      `json:"max_debate_rounds"` // 默认取配置
}

// AnalysisStarted is returned when a session has been accepted.
type AnalysisStarted struct {
	SessionID string `json:"session_id"`
	Status    Status `json:"status"`
}
