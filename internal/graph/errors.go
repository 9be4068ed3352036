package graph

import (
	"errors"
	"fmt"

	"github.com/dyike/tradecouncil/consts"
	"github.com/dyike/tradecouncil/models"
)

var ErrToolLoopExhausted = errors.New("analyst tool loop exhausted")

// AnalysisStageFailed means one analyst could not produce its report.
type AnalysisStageFailed struct {
	Role  consts.Role
	Cause error
}

func (e *AnalysisStageFailed) Error() string {
	return fmt.Sprintf("analysis stage %s failed: %v", e.Role, e.Cause)
}

func (e *AnalysisStageFailed) Unwrap() error { return e.Cause }

// DebateTurnFailed means a debate turn's model call failed. Round is 1-based.
type DebateTurnFailed struct {
	Loop  consts.Loop
	Role  consts.Role
	Round int
	Cause error
}

func (e *DebateTurnFailed) Error() string {
	return fmt.Sprintf("%s debate turn by %s in round %d failed: %v", e.Loop, e.Role, e.Round, e.Cause)
}

func (e *DebateTurnFailed) Unwrap() error { return e.Cause }

// JudgeFailed means the research or risk judge produced no decision.
type JudgeFailed struct {
	Judge consts.Role
	Cause error
}

func (e *JudgeFailed) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Judge, e.Cause)
}

func (e *JudgeFailed) Unwrap() error { return e.Cause }

type TraderFailed struct {
	Cause error
}

func (e *TraderFailed) Error() string {
	return fmt.Sprintf("trader failed: %v", e.Cause)
}

func (e *TraderFailed) Unwrap() error { return e.Cause }

// MemoryUnavailable is logged and counted but never returned from Run; the
// affected prompt falls back to the no-memories marker.
type MemoryUnavailable struct {
	Cause error
}

func (e *MemoryUnavailable) Error() string {
	return fmt.Sprintf("memory unavailable: %v", e.Cause)
}

func (e *MemoryUnavailable) Unwrap() error { return e.Cause }

// failureOf locates err within the pipeline for the session record.
func failureOf(err error, stage consts.Stage) models.Failure {
	f := models.Failure{Stage: stage, Message: err.Error()}
	var (
		analysis *AnalysisStageFailed
		turn     *DebateTurnFailed
		judge    *JudgeFailed
		trader   *TraderFailed
	)
	switch {
	case errors.As(err, &analysis):
		f.Role = analysis.Role
	case errors.As(err, &turn):
		f.Role = turn.Role
		f.Round = turn.Round
	case errors.As(err, &judge):
		f.Role = judge.Judge
	case errors.As(err, &trader):
		f.Role = consts.Trader
	}
	return f
}
