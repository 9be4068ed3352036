package dataflows

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/dyike/tradecouncil/models"
)

// Bar is one daily OHLCV candle. Indicators work on the float view in
// models.MarketData.
type Bar = models.MarketData

// NewsArticle represents a news article
type NewsArticle struct {
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	URL         string    `json:"url"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"published_at"`
}

// InsiderTransaction represents insider trading data
type InsiderTransaction struct {
	Symbol           string          `json:"symbol"`
	PersonName       string          `json:"person_name"`
	Share            int64           `json:"share"`
	Change           int64           `json:"change"`
	FilingDate       string          `json:"filing_date"`
	TransactionDate  string          `json:"transaction_date"`
	TransactionCode  string          `json:"transaction_code"`
	TransactionPrice decimal.Decimal `json:"transaction_price"`
}

// InsiderSentiment represents aggregate insider sentiment
type InsiderSentiment struct {
	Symbol string          `json:"symbol"`
	Year   int             `json:"year"`
	Month  int             `json:"month"`
	Change int64           `json:"change"`
	MSPR   decimal.Decimal `json:"mspr"` // Monthly Share Purchase Ratio
}

// StatementKind selects one section of a reported filing.
type StatementKind string

const (
	BalanceSheet    StatementKind = "bs"
	CashFlow        StatementKind = "cf"
	IncomeStatement StatementKind = "ic"
)

func (k StatementKind) Title() string {
	switch k {
	case BalanceSheet:
		return "Balance Sheet"
	case CashFlow:
		return "Cash Flow"
	case IncomeStatement:
		return "Income Statement"
	default:
		return string(k)
	}
}

// LineItem is one reported figure.
type LineItem struct {
	Concept string          `json:"concept"`
	Label   string          `json:"label"`
	Unit    string          `json:"unit"`
	Value   decimal.Decimal `json:"value"`
}

// Statement is one filed statement of a given kind.
type Statement struct {
	Symbol  string     `json:"symbol"`
	Year    int        `json:"year"`
	Quarter int        `json:"quarter"`
	Form    string     `json:"form"`
	Filed   string     `json:"filed"`
	Items   []LineItem `json:"items"`
}

// CompanyProfile is the headline company and valuation data.
type CompanyProfile struct {
	Symbol   string                     `json:"symbol"`
	Name     string                     `json:"name"`
	Exchange string                     `json:"exchange"`
	Currency string                     `json:"currency"`
	Price    decimal.Decimal            `json:"price"`
	Metrics  map[string]decimal.Decimal `json:"metrics"`
}
