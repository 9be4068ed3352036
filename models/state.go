package models

import (
	"fmt"
	"time"

	"github.com/dyike/tradecouncil/consts"
)

// Turn is one completed utterance in a debate loop.
type Turn struct {
	Speaker consts.Role `json:"speaker"`
	Round   int         `json:"round"`
	Content string      `json:"content"`
	At      time.Time   `json:"at"`
}

// DebateState is shared by the research and risk loops.
type DebateState struct {
	Loop            consts.Loop            `json:"loop"`
	Turns           []Turn                 `json:"turns"`
	History         string                 `json:"history"`          // Overall conversation history
	RoleHistory     map[consts.Role]string `json:"role_history"`     // Per-speaker conversation history
	CurrentResponse map[consts.Role]string `json:"current_response"` // Latest labelled response per speaker
	Count           int                    `json:"count"`            // Length of current conversation
	LatestSpeaker   consts.Role            `json:"latest_speaker"`
	JudgeDecision   Text                   `json:"judge_decision"`
}

func NewDebateState(loop consts.Loop) *DebateState {
	return &DebateState{
		Loop:            loop,
		RoleHistory:     make(map[consts.Role]string),
		CurrentResponse: make(map[consts.Role]string),
	}
}

func (d *DebateState) participates(role consts.Role) bool {
	for _, r := range d.Loop.Order() {
		if r == role {
			return true
		}
	}
	return false
}

// Append records a turn by role. The content is labelled with the speaker and
// appended to the shared and per-role transcripts.
func (d *DebateState) Append(role consts.Role, content string, at time.Time) (Turn, error) {
	if !d.participates(role) {
		return Turn{}, fmt.Errorf("%s does not speak in the %s loop", role, d.Loop)
	}
	argument := fmt.Sprintf("%s: %s", role.Label(), content)
	turn := Turn{
		Speaker: role,
		Round:   d.Round(),
		Content: argument,
		At:      at,
	}

	d.History = d.History + "\n" + argument
	d.RoleHistory[role] = d.RoleHistory[role] + "\n" + argument
	d.CurrentResponse[role] = argument
	d.Turns = append(d.Turns, turn)
	d.LatestSpeaker = role
	d.Count++
	return turn, nil
}

// Round is the 1-based round the next turn belongs to.
func (d *DebateState) Round() int {
	n := len(d.Loop.Order())
	if n == 0 {
		return 0
	}
	return d.Count/n + 1
}

// Response returns the latest response of role, or the placeholder if the role
// has not spoken yet.
func (d *DebateState) Response(role consts.Role) string {
	if r, ok := d.CurrentResponse[role]; ok {
		return r
	}
	return consts.NoResponseYet
}

func (d *DebateState) TurnsBy(role consts.Role) int {
	n := 0
	for _, t := range d.Turns {
		if t.Speaker == role {
			n++
		}
	}
	return n
}

func (d *DebateState) clone() *DebateState {
	if d == nil {
		return nil
	}
	out := *d
	out.Turns = append([]Turn(nil), d.Turns...)
	out.RoleHistory = make(map[consts.Role]string, len(d.RoleHistory))
	for k, v := range d.RoleHistory {
		out.RoleHistory[k] = v
	}
	out.CurrentResponse = make(map[consts.Role]string, len(d.CurrentResponse))
	for k, v := range d.CurrentResponse {
		out.CurrentResponse[k] = v
	}
	return &out
}
