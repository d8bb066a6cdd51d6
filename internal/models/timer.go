package models

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/coachkeeper/internal/common"
)

// TimerState is the persisted game clock, so a running game survives restarts.
type TimerState struct {
	Header
	GameID         string     `json:"gameId"`
	ElapsedSeconds int        `json:"elapsedSeconds"`
	IsRunning      bool       `json:"isRunning"`
	StartedAt      *time.Time `json:"startedAt"`
}

func (t *TimerState) Kind() Kind { return KindTimerState }

func (t *TimerState) Validate() error {
	if t.GameID == "" {
		return fmt.Errorf("%w: timer state needs a game id", common.ErrValidation)
	}
	if t.ElapsedSeconds < 0 {
		return fmt.Errorf("%w: negative elapsed time", common.ErrValidation)
	}
	if t.IsRunning && t.StartedAt == nil {
		return fmt.Errorf("%w: running timer without start time", common.ErrValidation)
	}
	return nil
}

func (t *TimerState) References() []Ref {
	return refIfSet(KindGame, &t.GameID)
}

func (t *TimerState) RewriteRef(kind Kind, oldID, newID string) bool {
	if kind != KindGame {
		return false
	}
	return rewritePtr(&t.GameID, oldID, newID)
}

func (t *TimerState) Clone() Entity {
	c := *t
	if t.StartedAt != nil {
		at := *t.StartedAt
		c.StartedAt = &at
	}
	return &c
}
