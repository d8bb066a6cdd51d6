package cli

import (
	"context"
	"strings"
	"time"

	"github.com/dmitrijs2005/coachkeeper/internal/client/storage"
	"github.com/dmitrijs2005/coachkeeper/internal/models"
)

// marker tags values that did not come confirmed from the remote store.
func marker[T any](r storage.Result[T]) string {
	switch {
	case r.Pending:
		return " (pending)"
	case r.Stale:
		return " (offline copy)"
	default:
		return ""
	}
}

func (a *App) Players(ctx context.Context) error {
	r, err := a.manager.GetPlayers(ctx)
	if err != nil {
		return err
	}
	if len(r.Value) == 0 {
		a.printf("No players%s\n", marker(r))
		return nil
	}
	for _, p := range r.Value {
		jersey := ""
		if p.JerseyNumber != nil {
			jersey = " #" + *p.JerseyNumber
		}
		a.printf("%s  %s%s\n", p.ID, p.Name, jersey)
	}
	if m := marker(r); m != "" {
		a.printf("%d players%s\n", len(r.Value), m)
	}
	return nil
}

func (a *App) AddPlayer(ctx context.Context, name string) error {
	r, err := a.manager.SavePlayer(ctx, &models.Player{Name: name})
	if err != nil {
		return err
	}
	a.printf("Saved player %s%s\n", r.Value.ID, marker(r))
	return nil
}

func (a *App) DeletePlayer(ctx context.Context, id string) error {
	r, err := a.manager.DeletePlayer(ctx, id)
	if err != nil {
		return err
	}
	a.printf("Deleted player %s%s\n", id, marker(r))
	return nil
}

func (a *App) Seasons(ctx context.Context) error {
	r, err := a.manager.GetSeasons(ctx)
	if err != nil {
		return err
	}
	if len(r.Value) == 0 {
		a.printf("No seasons%s\n", marker(r))
		return nil
	}
	for _, s := range r.Value {
		a.printf("%s  %s (%d players)\n", s.ID, s.Name, len(s.DefaultRosterIDs))
	}
	return nil
}

// AddSeason creates a season whose default roster is every current player.
func (a *App) AddSeason(ctx context.Context, name string) error {
	players, err := a.manager.GetPlayers(ctx)
	if err != nil {
		return err
	}
	roster := make([]string, 0, len(players.Value))
	for _, p := range players.Value {
		roster = append(roster, p.ID)
	}

	r, err := a.manager.SaveSeason(ctx, &models.Season{Name: name, DefaultRosterIDs: roster})
	if err != nil {
		return err
	}
	a.printf("Saved season %s with %d players%s\n", r.Value.ID, len(roster), marker(r))
	return nil
}

func (a *App) Games(ctx context.Context) error {
	r, err := a.manager.GetGames(ctx)
	if err != nil {
		return err
	}
	if len(r.Value) == 0 {
		a.printf("No games%s\n", marker(r))
		return nil
	}
	for _, g := range r.Value {
		a.printf("%s  %s  %s vs %s  %d-%d\n", g.ID, g.GameDate, g.TeamName, g.OpponentName, g.HomeScore, g.AwayScore)
	}
	return nil
}

// AddGame prompts for the game details. Empty answers take the default
// team name from settings, today's date and a home game.
func (a *App) AddGame(ctx context.Context) error {
	settings, err := a.manager.GetSettings(ctx)
	if err != nil {
		return err
	}
	team := ""
	if settings.Value.DefaultTeamName != nil {
		team = *settings.Value.DefaultTeamName
	}

	ask := func(prompt, def string) (string, error) {
		if def != "" {
			prompt += " [" + def + "]"
		}
		v, err := GetSimpleText(a.reader, prompt, a.out)
		if err != nil || v != "" {
			return v, err
		}
		return def, nil
	}

	g := &models.Game{}
	if g.TeamName, err = ask("Team", team); err != nil {
		return err
	}
	if g.OpponentName, err = ask("Opponent", ""); err != nil {
		return err
	}
	if g.GameDate, err = ask("Date (YYYY-MM-DD)", time.Now().Format(time.DateOnly)); err != nil {
		return err
	}
	side, err := ask("home or away", models.Home)
	if err != nil {
		return err
	}
	g.HomeOrAway = strings.ToLower(side)

	r, err := a.manager.SaveGame(ctx, g)
	if err != nil {
		return err
	}
	a.printf("Saved game %s%s\n", r.Value.ID, marker(r))
	return nil
}

func (a *App) Settings(ctx context.Context) error {
	r, err := a.manager.GetSettings(ctx)
	if err != nil {
		return err
	}
	s := r.Value
	a.printf("language: %s\n", s.Language)
	if s.DefaultTeamName != nil {
		a.printf("default team: %s\n", *s.DefaultTeamName)
	}
	if s.CurrentGameID != nil {
		a.printf("current game: %s\n", *s.CurrentGameID)
	}
	a.printf("auto backup: %t%s\n", s.AutoBackupEnabled, marker(r))
	return nil
}

func (a *App) SetLanguage(ctx context.Context, code string) error {
	r, err := a.manager.SaveSettings(ctx, models.SettingsPatch{Language: &code})
	if err != nil {
		return err
	}
	a.printf("Language set to %s%s\n", r.Value.Language, marker(r))
	return nil
}
