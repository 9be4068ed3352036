package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/dyike/tradecouncil/models"
	"github.com/dyike/tradecouncil/pkg/sqlite"
)

const (
	KindReport   = "report"
	KindTurn     = "turn"
	KindDecision = "decision"
)

// ErrNoFullText means the sqlite3 driver was built without FTS5
// (build with -tags sqlite_fts5).
var ErrNoFullText = errors.New("full-text search unavailable")

type Store struct {
	db       *sql.DB
	now      func() time.Time
	fullText bool
}

func Open(dbPath string) (*Store, error) {
	db, err := sqlite.Open(dbPath)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	fullText, err := initFullText(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }, fullText: fullText}, nil
}

// FullText reports whether reflections are indexed for bm25 search.
func (s *Store) FullText() bool {
	return s.fullText
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func initSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    symbol TEXT NOT NULL,
    trade_date TEXT NOT NULL,
    analysts TEXT NOT NULL DEFAULT '',
    debate_depth INTEGER NOT NULL DEFAULT 1,
    status TEXT NOT NULL,
    stage TEXT NOT NULL DEFAULT '',
    final_decision TEXT NOT NULL DEFAULT '',
    signal TEXT NOT NULL DEFAULT '',
    error TEXT NOT NULL DEFAULT '',
    snapshot TEXT,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    role TEXT NOT NULL,
    agent TEXT,
    kind TEXT NOT NULL,
    round INTEGER NOT NULL DEFAULT 0,
    content TEXT NOT NULL DEFAULT '',
    seq INTEGER NOT NULL,
    created_at DATETIME NOT NULL,
    UNIQUE(session_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_messages_session_seq ON messages(session_id, seq);

CREATE TABLE IF NOT EXISTS reflections (
    id TEXT PRIMARY KEY,
    situation TEXT NOT NULL,
    recommendation TEXT NOT NULL,
    created_at DATETIME NOT NULL
);
`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// initFullText mirrors reflections.situation into an external-content FTS5
// table. A driver without the fts5 module is not an error; the caller keeps
// its in-memory ranking instead.
func initFullText(db *sql.DB) (bool, error) {
	_, err := db.Exec(`CREATE VIRTUAL TABLE IF NOT EXISTS reflections_fts USING fts5(
    situation,
    content='reflections',
    content_rowid='rowid'
)`)
	if err != nil {
		if strings.Contains(err.Error(), "no such module") {
			return false, nil
		}
		return false, fmt.Errorf("init reflections_fts: %w", err)
	}
	schema := `
CREATE TRIGGER IF NOT EXISTS reflections_fts_ai AFTER INSERT ON reflections BEGIN
    INSERT INTO reflections_fts(rowid, situation) VALUES (new.rowid, new.situation);
END;

CREATE TRIGGER IF NOT EXISTS reflections_fts_ad AFTER DELETE ON reflections BEGIN
    INSERT INTO reflections_fts(reflections_fts, rowid, situation) VALUES ('delete', old.rowid, old.situation);
END;

INSERT INTO reflections_fts(reflections_fts) VALUES ('rebuild');
`
	if _, err := db.Exec(schema); err != nil {
		return false, fmt.Errorf("init reflections_fts triggers: %w", err)
	}
	return true, nil
}

func (s *Store) CreateSession(ctx context.Context, rec models.SessionRecord) error {
	if strings.TrimSpace(rec.Id) == "" {
		return fmt.Errorf("session id is required")
	}
	if rec.Status == "" {
		rec.Status = string(models.StatusPending)
	}
	now := s.now()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sessions (id, symbol, trade_date, analysts, debate_depth, status, stage, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    symbol=excluded.symbol,
    trade_date=excluded.trade_date,
    analysts=excluded.analysts,
    debate_depth=excluded.debate_depth,
    status=excluded.status,
    stage=excluded.stage,
    updated_at=excluded.updated_at
`, rec.Id, rec.Symbol, rec.TradeDate, rec.Analysts, rec.DebateDepth, rec.Status, rec.Stage, now, now)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *Store) UpdateSessionStatus(ctx context.Context, sessionID, status, stage string) error {
	if strings.TrimSpace(sessionID) == "" || strings.TrimSpace(status) == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
UPDATE sessions
SET status = ?, stage = CASE WHEN ? <> '' THEN ? ELSE stage END, updated_at = ?
WHERE id = ?
`, status, stage, stage, s.now(), sessionID)
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	return nil
}

// FinishSession stores the terminal snapshot along with its summary columns.
func (s *Store) FinishSession(ctx context.Context, snap models.Snapshot) error {
	blob, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	var errText string
	if snap.Failure != nil {
		errText = snap.Failure.Message
	}
	_, err = s.db.ExecContext(ctx, `
UPDATE sessions
SET status = ?, stage = ?, final_decision = ?, signal = ?, error = ?, snapshot = ?, updated_at = ?
WHERE id = ?
`, string(snap.Status), snap.Stage.String(), snap.FinalDecision.String(), string(snap.Signal), errText, string(blob), s.now(), snap.ID)
	if err != nil {
		return fmt.Errorf("finish session: %w", err)
	}
	return nil
}

func (s *Store) InsertMessage(ctx context.Context, msg models.MessageRecord) error {
	if msg.Seq <= 0 {
		return fmt.Errorf("message seq must be positive")
	}
	if strings.TrimSpace(msg.Role) == "" {
		return fmt.Errorf("message role is required")
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO messages (id, session_id, role, agent, kind, round, content, seq, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING
`, msg.Id, msg.SessionId, msg.Role, msg.Agent, msg.Kind, msg.Round, msg.Content, msg.Seq, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

const sessionColumns = `rowid, id, symbol, trade_date, analysts, debate_depth, status, stage, final_decision, signal, error, created_at, updated_at`

func scanSession(scan func(dest ...any) error) (models.SessionRecord, int64, error) {
	var rec models.SessionRecord
	var rowID int64
	err := scan(&rowID, &rec.Id, &rec.Symbol, &rec.TradeDate, &rec.Analysts, &rec.DebateDepth,
		&rec.Status, &rec.Stage, &rec.FinalDecision, &rec.Signal, &rec.Error, &rec.CreatedAt, &rec.UpdatedAt)
	return rec, rowID, err
}

// ListSessions 按 rowid 倒序分页列出会话，返回下一页游标（0 表示没有更多）
func (s *Store) ListSessions(ctx context.Context, cursor int64, limit int) ([]models.SessionRecord, int64, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT `+sessionColumns+`
FROM sessions
WHERE (? = 0 OR rowid < ?)
ORDER BY rowid DESC
LIMIT ?
`, cursor, cursor, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var (
		sessions []models.SessionRecord
		lastRow  int64
	)
	for rows.Next() {
		rec, rowID, err := scanSession(rows.Scan)
		if err != nil {
			return nil, 0, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, rec)
		lastRow = rowID
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list sessions rows: %w", err)
	}
	if len(sessions) < limit {
		lastRow = 0
	}
	return sessions, lastRow, nil
}

// GetSession returns nil when the session does not exist.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*models.SessionRecord, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("session id is required")
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ? LIMIT 1`, sessionID)
	rec, _, err := scanSession(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &rec, nil
}

// GetSnapshot returns the terminal snapshot, or nil if the session never finished.
func (s *Store) GetSnapshot(ctx context.Context, sessionID string) (*models.Snapshot, error) {
	var blob sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT snapshot FROM sessions WHERE id = ?`, sessionID).Scan(&blob)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	if !blob.Valid || blob.String == "" {
		return nil, nil
	}
	var snap models.Snapshot
	if err := json.Unmarshal([]byte(blob.String), &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]models.MessageRecord, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("session id is required")
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, session_id, role, agent, kind, round, content, seq, created_at
FROM messages
WHERE session_id = ?
ORDER BY seq ASC
`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []models.MessageRecord
	for rows.Next() {
		var rec models.MessageRecord
		var agent sql.NullString
		if err := rows.Scan(&rec.Id, &rec.SessionId, &rec.Role, &agent, &rec.Kind, &rec.Round, &rec.Content, &rec.Seq, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		rec.Agent = agent.String
		msgs = append(msgs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages rows: %w", err)
	}
	return msgs, nil
}

func (s *Store) InsertReflection(ctx context.Context, r models.Reflection) error {
	if strings.TrimSpace(r.Id) == "" {
		return fmt.Errorf("reflection id is required")
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO reflections (id, situation, recommendation, created_at)
VALUES (?, ?, ?, ?)
`, r.Id, r.Situation, r.Recommendation, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert reflection: %w", err)
	}
	return nil
}

// ListReflections returns every reflection in insertion order.
func (s *Store) ListReflections(ctx context.Context) ([]models.Reflection, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, situation, recommendation, created_at
FROM reflections
ORDER BY rowid ASC
`)
	if err != nil {
		return nil, fmt.Errorf("list reflections: %w", err)
	}
	defer rows.Close()

	var out []models.Reflection
	for rows.Next() {
		var r models.Reflection
		if err := rows.Scan(&r.Id, &r.Situation, &r.Recommendation, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reflection: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list reflections rows: %w", err)
	}
	return out, nil
}

// SearchReflections ranks stored situations against situation with bm25 and
// returns at most k hits, best first. Ties keep insertion order. Any shared
// word counts as a match.
func (s *Store) SearchReflections(ctx context.Context, situation string, k int) ([]models.ScoredReflection, error) {
	if !s.fullText {
		return nil, ErrNoFullText
	}
	query := matchQuery(situation)
	if k <= 0 || query == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT r.id, r.situation, r.recommendation, r.created_at, bm25(reflections_fts) AS score
FROM reflections_fts
JOIN reflections r ON r.rowid = reflections_fts.rowid
WHERE reflections_fts MATCH ?
ORDER BY score ASC, r.rowid ASC
LIMIT ?
`, query, k)
	if err != nil {
		return nil, fmt.Errorf("search reflections: %w", err)
	}
	defer rows.Close()

	var out []models.ScoredReflection
	for rows.Next() {
		var (
			hit  models.ScoredReflection
			rank float64
		)
		r := &hit.Reflection
		if err := rows.Scan(&r.Id, &r.Situation, &r.Recommendation, &r.CreatedAt, &rank); err != nil {
			return nil, fmt.Errorf("scan reflection: %w", err)
		}
		// bm25 is lower-is-better
		hit.Score = -rank
		out = append(out, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search reflections rows: %w", err)
	}
	return out, nil
}

// matchQuery turns free text into an FTS5 OR query of quoted terms, so user
// text can never reach the query syntax.
func matchQuery(text string) string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(words))
	terms := make([]string, 0, len(words))
	for _, w := range words {
		if len(w) < 2 || seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, `"`+w+`"`)
	}
	return strings.Join(terms, " OR ")
}
