// Package models holds the domain records managed by the storage engine:
// players, seasons, tournaments, games, app settings and timer state, plus
// the sync queue's operation type.
package models

import "fmt"

// Kind names an entity collection.
type Kind string

const (
	KindPlayer     Kind = "player"
	KindSeason     Kind = "season"
	KindTournament Kind = "tournament"
	KindGame       Kind = "game"
	KindSettings   Kind = "app_setting"
	KindTimerState Kind = "timer_state"
)

// Kinds lists every kind in dependency order: a kind only references kinds
// listed before it.
var Kinds = []Kind{KindPlayer, KindSeason, KindTournament, KindGame, KindSettings, KindTimerState}

const (
	SettingsID   = "app_settings"
	TimerStateID = "timer_state"
)

func (k Kind) Valid() bool {
	for _, kk := range Kinds {
		if kk == k {
			return true
		}
	}
	return false
}

// Singleton reports whether the kind holds exactly one record per owner.
func (k Kind) Singleton() bool {
	return k == KindSettings || k == KindTimerState
}

// SingletonID returns the fixed id of a singleton kind, or "" otherwise.
func (k Kind) SingletonID() string {
	switch k {
	case KindSettings:
		return SettingsID
	case KindTimerState:
		return TimerStateID
	}
	return ""
}

func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown kind %q", s)
	}
	return k, nil
}

// New returns a zero entity of the given kind.
func New(k Kind) (Entity, error) {
	switch k {
	case KindPlayer:
		return &Player{}, nil
	case KindSeason:
		return &Season{}, nil
	case KindTournament:
		return &Tournament{}, nil
	case KindGame:
		return &Game{}, nil
	case KindSettings:
		return &AppSettings{}, nil
	case KindTimerState:
		return &TimerState{}, nil
	}
	return nil, fmt.Errorf("unknown kind %q", k)
}
