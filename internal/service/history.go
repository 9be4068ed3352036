package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dyike/tradecouncil/models"
)

var ErrInvalidCursor = errors.New("invalid cursor")

// HistoryStore is the read side of the session archive.
type HistoryStore interface {
	ListSessions(ctx context.Context, cursor int64, limit int) ([]models.SessionRecord, int64, error)
	GetSession(ctx context.Context, id string) (*models.SessionRecord, error)
	ListMessages(ctx context.Context, id string) ([]models.MessageRecord, error)
	GetSnapshot(ctx context.Context, id string) (*models.Snapshot, error)
}

type History struct {
	store HistoryStore
}

func NewHistory(store HistoryStore) *History {
	return &History{store: store}
}

// List 按创建时间倒序列出已归档会话，支持书签分页
func (h *History) List(ctx context.Context, params models.HistoryParams) (models.HistoryPage, error) {
	params = params.Normalize()
	var cursor int64
	if c := strings.TrimSpace(params.Cursor); c != "" {
		parsed, err := strconv.ParseInt(c, 10, 64)
		if err != nil || parsed < 0 {
			return models.HistoryPage{}, fmt.Errorf("%w %q", ErrInvalidCursor, params.Cursor)
		}
		cursor = parsed
	}
	items, next, err := h.store.ListSessions(ctx, cursor, params.Limit)
	if err != nil {
		return models.HistoryPage{}, err
	}
	page := models.HistoryPage{Items: items}
	if page.Items == nil {
		page.Items = []models.SessionRecord{}
	}
	if next > 0 {
		page.NextCursor = strconv.FormatInt(next, 10)
	}
	return page, nil
}

// Detail 返回会话记录、按顺序的消息以及最终快照
func (h *History) Detail(ctx context.Context, id string) (models.HistoryDetail, error) {
	rec, err := h.store.GetSession(ctx, id)
	if err != nil {
		return models.HistoryDetail{}, err
	}
	if rec == nil {
		return models.HistoryDetail{}, ErrNotFound
	}
	msgs, err := h.store.ListMessages(ctx, id)
	if err != nil {
		return models.HistoryDetail{}, err
	}
	snap, err := h.store.GetSnapshot(ctx, id)
	if err != nil {
		return models.HistoryDetail{}, err
	}
	if msgs == nil {
		msgs = []models.MessageRecord{}
	}
	return models.HistoryDetail{Session: *rec, Messages: msgs, Snapshot: snap}, nil
}
