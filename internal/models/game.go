package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/coachkeeper/internal/common"
)

const (
	Home = "home"
	Away = "away"
)

// Event types recorded during a game.
const (
	EventGoal         = "goal"
	EventOpponentGoal = "opponentGoal"
	EventSubstitution = "substitution"
	EventPeriodEnd    = "periodEnd"
	EventGameEnd      = "gameEnd"
	EventFairPlayCard = "fairPlayCard"
)

var eventTypes = map[string]bool{
	EventGoal: true, EventOpponentGoal: true, EventSubstitution: true,
	EventPeriodEnd: true, EventGameEnd: true, EventFairPlayCard: true,
}

type GameEvent struct {
	ID          string  `json:"id"`
	Type        string  `json:"type"`
	TimeSeconds int     `json:"timeSeconds"`
	ScorerID    *string `json:"scorerId"`
	AssisterID  *string `json:"assisterId"`
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Drawing struct {
	Points []Point `json:"points"`
}

type Game struct {
	Header
	TeamName          string      `json:"teamName"`
	OpponentName      string      `json:"opponentName"`
	GameDate          string      `json:"gameDate"`
	SeasonID          *string     `json:"seasonId"`
	TournamentID      *string     `json:"tournamentId"`
	HomeOrAway        string      `json:"homeOrAway"`
	HomeScore         int         `json:"homeScore"`
	AwayScore         int         `json:"awayScore"`
	IsPlayed          bool        `json:"isPlayed"`
	Notes             *string     `json:"notes"`
	SelectedPlayerIDs []string    `json:"selectedPlayerIds"`
	Events            []GameEvent `json:"events"`
	Drawings          []Drawing   `json:"drawings"`
}

func (g *Game) Kind() Kind { return KindGame }

func (g *Game) Validate() error {
	if strings.TrimSpace(g.TeamName) == "" {
		return fmt.Errorf("%w: game team name is required", common.ErrValidation)
	}
	if strings.TrimSpace(g.OpponentName) == "" {
		return fmt.Errorf("%w: game opponent name is required", common.ErrValidation)
	}
	if _, err := time.Parse(dateLayout, g.GameDate); err != nil {
		return fmt.Errorf("%w: game date %q is not YYYY-MM-DD", common.ErrValidation, g.GameDate)
	}
	if g.HomeOrAway != Home && g.HomeOrAway != Away {
		return fmt.Errorf("%w: homeOrAway must be %q or %q", common.ErrValidation, Home, Away)
	}
	if g.HomeScore < 0 || g.AwayScore < 0 {
		return fmt.Errorf("%w: negative score", common.ErrValidation)
	}
	seen := make(map[string]bool, len(g.Events))
	for _, ev := range g.Events {
		if ev.ID == "" || seen[ev.ID] {
			return fmt.Errorf("%w: game event id %q missing or duplicated", common.ErrValidation, ev.ID)
		}
		seen[ev.ID] = true
		if !eventTypes[ev.Type] {
			return fmt.Errorf("%w: unknown game event type %q", common.ErrValidation, ev.Type)
		}
		if ev.TimeSeconds < 0 {
			return fmt.Errorf("%w: game event %s has negative time", common.ErrValidation, ev.ID)
		}
	}
	return nil
}

func (g *Game) References() []Ref {
	refs := refIfSet(KindSeason, g.SeasonID)
	refs = append(refs, refIfSet(KindTournament, g.TournamentID)...)
	refs = append(refs, refsOf(KindPlayer, g.SelectedPlayerIDs)...)
	for _, ev := range g.Events {
		refs = append(refs, refIfSet(KindPlayer, ev.ScorerID)...)
		refs = append(refs, refIfSet(KindPlayer, ev.AssisterID)...)
	}
	return refs
}

func (g *Game) RewriteRef(kind Kind, oldID, newID string) bool {
	switch kind {
	case KindSeason:
		return rewritePtr(g.SeasonID, oldID, newID)
	case KindTournament:
		return rewritePtr(g.TournamentID, oldID, newID)
	case KindPlayer:
		changed := rewriteSlice(g.SelectedPlayerIDs, oldID, newID)
		for i := range g.Events {
			if rewritePtr(g.Events[i].ScorerID, oldID, newID) {
				changed = true
			}
			if rewritePtr(g.Events[i].AssisterID, oldID, newID) {
				changed = true
			}
		}
		return changed
	}
	return false
}

func (g *Game) Clone() Entity {
	c := *g
	c.SeasonID = cloneStr(g.SeasonID)
	c.TournamentID = cloneStr(g.TournamentID)
	c.Notes = cloneStr(g.Notes)
	c.SelectedPlayerIDs = cloneStrings(g.SelectedPlayerIDs)
	if g.Events != nil {
		c.Events = make([]GameEvent, len(g.Events))
		for i, ev := range g.Events {
			ev.ScorerID = cloneStr(ev.ScorerID)
			ev.AssisterID = cloneStr(ev.AssisterID)
			c.Events[i] = ev
		}
	}
	if g.Drawings != nil {
		c.Drawings = make([]Drawing, len(g.Drawings))
		for i, d := range g.Drawings {
			if d.Points != nil {
				d.Points = append(make([]Point, 0, len(d.Points)), d.Points...)
			}
			c.Drawings[i] = d
		}
	}
	return &c
}
