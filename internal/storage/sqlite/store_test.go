package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/tradecouncil/consts"
	"github.com/dyike/tradecouncil/models"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "council.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.CreateSession(ctx, models.SessionRecord{
		Id: "s1", Symbol: "AAPL", TradeDate: "2025-01-02", Analysts: "market,news", DebateDepth: 2,
	}))
	require.NoError(t, s.UpdateSessionStatus(ctx, "s1", "running", "research_debate"))

	rec, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "running", rec.Status)
	assert.Equal(t, "research_debate", rec.Stage)
	assert.Equal(t, 2, rec.DebateDepth)

	snap := models.Snapshot{
		ID:            "s1",
		Ticker:        "AAPL",
		TradeDate:     "2025-01-02",
		Status:        models.StatusCompleted,
		Stage:         consts.StageDone,
		FinalDecision: models.SomeText("Recommendation: SELL"),
		Signal:        models.SignalSell,
	}
	require.NoError(t, s.FinishSession(ctx, snap))

	rec, err = s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "completed", rec.Status)
	assert.Equal(t, "SELL", rec.Signal)
	assert.Equal(t, "Recommendation: SELL", rec.FinalDecision)

	stored, err := s.GetSnapshot(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.SignalSell, stored.Signal)
	assert.Equal(t, consts.StageDone, stored.Stage)

	missing, err := s.GetSession(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMessagesOrderedBySeq(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	require.NoError(t, s.CreateSession(ctx, models.SessionRecord{Id: "s1", Symbol: "AAPL", TradeDate: "2025-01-02"}))

	for _, m := range []models.MessageRecord{
		{Id: "m2", SessionId: "s1", Role: "bear_researcher", Kind: KindTurn, Round: 1, Content: "bear", Seq: 2},
		{Id: "m1", SessionId: "s1", Role: "bull_researcher", Kind: KindTurn, Round: 1, Content: "bull", Seq: 1},
	} {
		require.NoError(t, s.InsertMessage(ctx, m))
	}
	assert.Error(t, s.InsertMessage(ctx, models.MessageRecord{Id: "m3", SessionId: "s1", Role: "x", Seq: 0}))

	msgs, err := s.ListMessages(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "bull", msgs[0].Content)
	assert.Equal(t, "bear", msgs[1].Content)
}

func TestListSessionsPaginates(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.CreateSession(ctx, models.SessionRecord{Id: id, Symbol: "AAPL", TradeDate: "2025-01-02"}))
	}

	page, next, err := s.ListSessions(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "c", page[0].Id)
	assert.Equal(t, "b", page[1].Id)
	require.NotZero(t, next)

	page, next, err = s.ListSessions(ctx, next, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "a", page[0].Id)
	assert.Zero(t, next)
}

func TestReflectionsKeepInsertionOrder(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	at := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.InsertReflection(ctx, models.Reflection{Id: "r2", Situation: "x", Recommendation: "later", CreatedAt: at}))
	require.NoError(t, s.InsertReflection(ctx, models.Reflection{Id: "r1", Situation: "y", Recommendation: "earlier", CreatedAt: at}))

	out, err := s.ListReflections(ctx)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "r2", out[0].Id)
	assert.Equal(t, "r1", out[1].Id)
}

func TestSearchReflectionsRanksByBM25(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "council.db")
	s, err := Open(path)
	require.NoError(t, err)
	if !s.FullText() {
		_ = s.Close()
		t.Skip("sqlite3 built without fts5; run with -tags sqlite_fts5")
	}

	rows := []models.Reflection{
		{Id: "r1", Situation: "rising inflation and rate hikes pressure tech valuations", Recommendation: "trim growth exposure"},
		{Id: "r2", Situation: "strong earnings beat with raised guidance", Recommendation: "add on pullbacks"},
		{Id: "r3", Situation: "rate hikes and inflation surprise", Recommendation: "hedge duration"},
		{Id: "r4", Situation: "oil supply shock", Recommendation: "first"},
		{Id: "r5", Situation: "oil supply shock", Recommendation: "second"},
	}
	for _, r := range rows {
		require.NoError(t, s.InsertReflection(ctx, r))
	}

	hits, err := s.SearchReflections(ctx, "inflation rate hikes", 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "r3", hits[0].Reflection.Id)
	assert.Equal(t, "r1", hits[1].Reflection.Id)
	assert.Greater(t, hits[0].Score, hits[1].Score)

	hits, err = s.SearchReflections(ctx, "oil supply shock", 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "first", hits[0].Reflection.Recommendation)
	assert.Equal(t, "second", hits[1].Reflection.Recommendation)

	hits, err = s.SearchReflections(ctx, "grain harvest weather", 2)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = s.SearchReflections(ctx, `NEAR("oil" AND) * -`, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "r4", hits[0].Reflection.Id)

	// the index survives a reopen
	require.NoError(t, s.Close())
	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	hits, err = s.SearchReflections(ctx, "earnings guidance", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "r2", hits[0].Reflection.Id)
}

func TestSearchReflectionsWithoutFullText(t *testing.T) {
	s := openStore(t)
	s.fullText = false
	_, err := s.SearchReflections(context.Background(), "anything", 2)
	assert.ErrorIs(t, err, ErrNoFullText)
}

func TestMatchQuery(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Rate hikes, rate HIKES!", `"rate" OR "hikes"`},
		{`NEAR("a" AND) *`, `"near" OR "and"`},
		{"  ", ""},
		{"a b c", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, matchQuery(tt.in), tt.in)
	}
}
