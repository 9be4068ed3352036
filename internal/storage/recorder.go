package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dyike/tradecouncil/consts"
	"github.com/dyike/tradecouncil/internal/graph"
	"github.com/dyike/tradecouncil/internal/storage/sqlite"
	"github.com/dyike/tradecouncil/models"
	"github.com/dyike/tradecouncil/pkg/utils"
)

// ErrUnsafePath means a snapshot's ticker or date would put markdown outside
// the results directory.
var ErrUnsafePath = errors.New("unsafe results path")

// Archive is the write side of the session archive.
type Archive interface {
	CreateSession(ctx context.Context, rec models.SessionRecord) error
	UpdateSessionStatus(ctx context.Context, sessionID, status, stage string) error
	InsertMessage(ctx context.Context, msg models.MessageRecord) error
	FinishSession(ctx context.Context, snap models.Snapshot) error
}

// Recorder persists orchestrator events off the session goroutine. Events are
// queued and written in order by a single writer.
type Recorder struct {
	archive    Archive
	resultsDir string
	logger     *zap.Logger

	events chan graph.Event
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup

	// only touched by the writer goroutine
	seq map[string]int
}

type RecorderOption func(*Recorder)

// WithResultsDir enables markdown reports under dir/<TICKER>/<DATE>.
func WithResultsDir(dir string) RecorderOption {
	return func(r *Recorder) { r.resultsDir = strings.TrimSpace(dir) }
}

func WithRecorderLogger(l *zap.Logger) RecorderOption {
	return func(r *Recorder) {
		if l != nil {
			r.logger = l
		}
	}
}

func NewRecorder(archive Archive, opts ...RecorderOption) (*Recorder, error) {
	if archive == nil {
		return nil, errors.New("archive is required")
	}
	r := &Recorder{
		archive: archive,
		logger:  zap.NewNop(),
		events:  make(chan graph.Event, 512),
		done:    make(chan struct{}),
		seq:     make(map[string]int),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.wg.Add(1)
	go r.loop()
	return r, nil
}

// Observe implements graph.Observer. It only blocks when the queue is full.
func (r *Recorder) Observe(e graph.Event) {
	select {
	case <-r.done:
	case r.events <- e:
	}
}

// Close flushes queued events and stops the writer.
func (r *Recorder) Close() {
	r.once.Do(func() {
		close(r.done)
		r.wg.Wait()
	})
}

func (r *Recorder) loop() {
	defer r.wg.Done()
	ctx := context.Background()
	for {
		select {
		case e := <-r.events:
			r.handle(ctx, e)
		case <-r.done:
			for {
				select {
				case e := <-r.events:
					r.handle(ctx, e)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) handle(ctx context.Context, e graph.Event) {
	var err error
	switch e.Kind {
	case graph.EventStarted:
		rec := models.SessionRecord{
			Id:        e.SessionID,
			Symbol:    e.Ticker,
			TradeDate: e.TradeDate,
			Status:    string(models.StatusRunning),
			Stage:     e.Stage.String(),
		}
		if e.Snapshot != nil {
			keys := make([]string, 0, len(e.Snapshot.Analysts))
			for _, a := range e.Snapshot.Analysts {
				keys = append(keys, a.AnalystKey())
			}
			rec.Analysts = strings.Join(keys, ",")
			rec.DebateDepth = e.Snapshot.DebateDepth
		}
		err = r.archive.CreateSession(ctx, rec)
	case graph.EventStage:
		err = r.archive.UpdateSessionStatus(ctx, e.SessionID, string(models.StatusRunning), e.Stage.String())
	case graph.EventReport:
		err = r.message(ctx, e, sqlite.KindReport)
	case graph.EventTurn:
		err = r.message(ctx, e, sqlite.KindTurn)
	case graph.EventDecision:
		err = r.message(ctx, e, sqlite.KindDecision)
	case graph.EventFinished:
		if e.Snapshot == nil {
			return
		}
		err = r.archive.FinishSession(ctx, *e.Snapshot)
		if r.resultsDir != "" {
			if werr := r.writeMarkdown(*e.Snapshot); werr != nil {
				r.logger.Warn("write markdown", zap.String("session", e.SessionID), zap.Error(werr))
			}
		}
		delete(r.seq, e.SessionID)
	}
	if err != nil {
		r.logger.Warn("record event",
			zap.String("session", e.SessionID), zap.String("kind", string(e.Kind)), zap.Error(err))
	}
}

func (r *Recorder) message(ctx context.Context, e graph.Event, kind string) error {
	r.seq[e.SessionID]++
	return r.archive.InsertMessage(ctx, models.MessageRecord{
		Id:        uuid.NewString(),
		SessionId: e.SessionID,
		Role:      e.Role.String(),
		Agent:     e.Role.Label(),
		Kind:      kind,
		Round:     e.Round,
		Content:   e.Content,
		Seq:       r.seq[e.SessionID],
		CreatedAt: e.At,
	})
}

// writeMarkdown writes whatever the session produced, one file per output.
func (r *Recorder) writeMarkdown(snap models.Snapshot) error {
	dir, err := r.sessionDir(snap)
	if err != nil {
		return err
	}
	var files []struct{ name, content string }
	add := func(name string, t models.Text) {
		if v, ok := t.Get(); ok {
			files = append(files, struct{ name, content string }{name, v})
		}
	}
	for _, role := range consts.Analysts {
		add(role.String()+".md", snap.Reports.Get(role))
	}
	if snap.ResearchDebate != nil && snap.ResearchDebate.Count > 0 {
		add("research_debate.md", models.SomeText(snap.ResearchDebate.History))
	}
	add(consts.ResearchJudge.String()+".md", snap.InvestmentPlan)
	add(consts.Trader.String()+".md", snap.TraderPlan)
	if snap.RiskDebate != nil && snap.RiskDebate.Count > 0 {
		add("risk_debate.md", models.SomeText(snap.RiskDebate.History))
	}
	add(consts.RiskJudge.String()+".md", snap.FinalDecision)

	var errs []error
	for _, f := range files {
		path, err := utils.WriteMarkdown(dir, f.name, f.content)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		r.logger.Debug("written", zap.String("path", path))
	}
	if len(errs) > 0 {
		return fmt.Errorf("markdown: %w", errors.Join(errs...))
	}
	return nil
}

// sessionDir is results/<TICKER>/<DATE>. Snapshots come from outside callers,
// so both parts must be single path segments that stay under resultsDir.
func (r *Recorder) sessionDir(snap models.Snapshot) (string, error) {
	unsafe := func(seg string) bool {
		return seg == "" || seg == "." || seg == ".." || strings.ContainsAny(seg, `/\`)
	}
	if unsafe(snap.Ticker) || unsafe(snap.TradeDate) {
		return "", fmt.Errorf("%w: %q/%q", ErrUnsafePath, snap.Ticker, snap.TradeDate)
	}
	dir := filepath.Join(r.resultsDir, snap.Ticker, snap.TradeDate)
	rel, err := filepath.Rel(r.resultsDir, dir)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%w: %s escapes %s", ErrUnsafePath, dir, r.resultsDir)
	}
	return dir, nil
}
