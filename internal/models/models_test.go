package models

import (
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/coachkeeper/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleGame() *Game {
	return &Game{
		Header:            Header{ID: "game_1_aaaaaaaa"},
		TeamName:          "Falcons",
		OpponentName:      "Owls",
		GameDate:          "2026-05-01",
		HomeOrAway:        Home,
		SeasonID:          Str("season_1_bbbbbbbb"),
		SelectedPlayerIDs: []string{"p1", "p2"},
		Events: []GameEvent{
			{ID: "e1", Type: EventGoal, TimeSeconds: 61, ScorerID: Str("p1"), AssisterID: Str("p2")},
			{ID: "e2", Type: EventOpponentGoal, TimeSeconds: 300},
		},
		Drawings: []Drawing{{Points: []Point{{X: 1, Y: 2}}}},
	}
}

func TestTempIDs(t *testing.T) {
	for _, k := range []Kind{KindPlayer, KindSeason, KindTournament, KindGame} {
		id := NewTempID(k)
		assert.True(t, IsTempID(id), id)
	}
	assert.False(t, IsTempID("3f1c1e0a-8f7a-4a34-9b2a-0e7c1c1d2e3f"))
	assert.False(t, IsTempID(SettingsID))
	assert.False(t, IsTempID("player_12_zz"))
	assert.NotEqual(t, NewTempID(KindPlayer), NewTempID(KindPlayer))
}

func TestParseKindAndRef(t *testing.T) {
	k, err := ParseKind("game")
	require.NoError(t, err)
	assert.Equal(t, KindGame, k)

	_, err = ParseKind("coach")
	require.Error(t, err)

	r, err := ParseRef("player:abc")
	require.NoError(t, err)
	assert.Equal(t, Ref{Kind: KindPlayer, ID: "abc"}, r)
	assert.Equal(t, "player:abc", r.String())

	_, err = ParseRef("player")
	require.Error(t, err)
}

func TestSingletons(t *testing.T) {
	assert.True(t, KindSettings.Singleton())
	assert.Equal(t, SettingsID, KindSettings.SingletonID())
	assert.Equal(t, TimerStateID, KindTimerState.SingletonID())
	assert.False(t, KindGame.Singleton())
	assert.Empty(t, KindGame.SingletonID())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		e    Entity
		ok   bool
	}{
		{"player ok", &Player{Name: "Ann"}, true},
		{"player blank", &Player{Name: "  "}, false},
		{"season bad date", &Season{Name: "S", StartDate: Str("01/02/2026")}, false},
		{"season reversed range", &Season{Name: "S", StartDate: Str("2026-02-01"), EndDate: Str("2026-01-01")}, false},
		{"tournament ok", &Tournament{Name: "Cup", StartDate: Str("2026-02-01")}, true},
		{"game ok", sampleGame(), true},
		{"game side", &Game{TeamName: "a", OpponentName: "b", GameDate: "2026-01-01", HomeOrAway: "neutral"}, false},
		{"game duplicate events", &Game{TeamName: "a", OpponentName: "b", GameDate: "2026-01-01", HomeOrAway: Away,
			Events: []GameEvent{{ID: "x", Type: EventGoal}, {ID: "x", Type: EventGoal}}}, false},
		{"settings no language", &AppSettings{}, false},
		{"settings ok", DefaultSettings(), true},
		{"timer no game", &TimerState{}, false},
		{"timer running without start", &TimerState{GameID: "g", IsRunning: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.e.Validate()
			if tt.ok {
				require.NoError(t, err)
			} else {
				require.True(t, errors.Is(err, common.ErrValidation), "got %v", err)
			}
		})
	}
}

func TestGameReferencesAndRewrite(t *testing.T) {
	g := sampleGame()
	refs := g.References()
	assert.Contains(t, refs, Ref{Kind: KindSeason, ID: "season_1_bbbbbbbb"})
	assert.Contains(t, refs, Ref{Kind: KindPlayer, ID: "p1"})

	assert.True(t, g.RewriteRef(KindPlayer, "p1", "s-p1"))
	assert.Equal(t, []string{"s-p1", "p2"}, g.SelectedPlayerIDs)
	assert.Equal(t, "s-p1", *g.Events[0].ScorerID)
	assert.Equal(t, "p2", *g.Events[0].AssisterID)

	assert.False(t, g.RewriteRef(KindPlayer, "nobody", "x"))
	assert.True(t, g.RewriteRef(KindSeason, "season_1_bbbbbbbb", "s-1"))
	assert.Equal(t, "s-1", *g.SeasonID)
}

func TestCloneIsDeep(t *testing.T) {
	g := sampleGame()
	c := g.Clone().(*Game)
	c.RewriteRef(KindPlayer, "p1", "changed")
	c.Drawings[0].Points[0].X = 99

	assert.Equal(t, "p1", g.SelectedPlayerIDs[0])
	assert.Equal(t, "p1", *g.Events[0].ScorerID)
	assert.Equal(t, float64(1), g.Drawings[0].Points[0].X)

	var nilSlices Season
	assert.Nil(t, nilSlices.Clone().(*Season).DefaultRosterIDs)

	at := time.Now()
	ts := &TimerState{GameID: "g", StartedAt: &at}
	tc := ts.Clone().(*TimerState)
	*tc.StartedAt = at.Add(time.Hour)
	assert.True(t, ts.StartedAt.Equal(at))
}

func TestIdentityMapping(t *testing.T) {
	m := IdentityMapping{}
	m.Add(KindPlayer, "t1", "s1")
	m.Add(KindPlayer, "same", "same")
	m.Add(KindGame, "tg", "sg")
	assert.Equal(t, 2, m.Len())

	s := &Season{Name: "S", DefaultRosterIDs: []string{"t1", "x"}}
	assert.True(t, m.Apply(s))
	assert.Equal(t, []string{"s1", "x"}, s.DefaultRosterIDs)
	assert.False(t, m.Apply(s))

	set := &AppSettings{Language: "en", CurrentGameID: Str("tg")}
	assert.True(t, m.Apply(set))
	assert.Equal(t, "sg", *set.CurrentGameID)
}

func TestSettingsPatch(t *testing.T) {
	base := DefaultSettings()
	base.CurrentGameID = Str("g1")

	out := SettingsPatch{Language: Str("fi"), AutoBackupEnabled: boolPtr(true)}.Apply(base)
	assert.Equal(t, "fi", out.Language)
	assert.True(t, out.AutoBackupEnabled)
	assert.Equal(t, "g1", *out.CurrentGameID)
	assert.Equal(t, DefaultLanguage, base.Language, "patch must not mutate its input")

	cleared := SettingsPatch{ClearCurrentGame: true}.Apply(out)
	assert.Nil(t, cleared.CurrentGameID)
}

func TestNew(t *testing.T) {
	for _, k := range Kinds {
		e, err := New(k)
		require.NoError(t, err)
		assert.Equal(t, k, e.Kind())
	}
	_, err := New("nope")
	require.Error(t, err)
}

func boolPtr(b bool) *bool { return &b }
