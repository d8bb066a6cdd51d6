package storage

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/coachkeeper/internal/common"
	"github.com/dmitrijs2005/coachkeeper/internal/models"
)

func typed[T models.Entity](r Result[models.Entity], err error) (Result[T], error) {
	if err != nil {
		return Result[T]{}, err
	}
	v, ok := r.Value.(T)
	if !ok {
		return Result[T]{}, fmt.Errorf("%w: unexpected %T", common.ErrCodec, r.Value)
	}
	return Result[T]{Value: v, Pending: r.Pending, Stale: r.Stale}, nil
}

func typedList[T models.Entity](r Result[[]models.Entity], err error) (Result[[]T], error) {
	if err != nil {
		return Result[[]T]{}, err
	}
	out := make([]T, 0, len(r.Value))
	for _, e := range r.Value {
		v, ok := e.(T)
		if !ok {
			return Result[[]T]{}, fmt.Errorf("%w: unexpected %T", common.ErrCodec, e)
		}
		out = append(out, v)
	}
	return Result[[]T]{Value: out, Pending: r.Pending, Stale: r.Stale}, nil
}

func (m *Manager) GetPlayers(ctx context.Context) (Result[[]*models.Player], error) {
	return typedList[*models.Player](m.list(ctx, models.KindPlayer))
}

func (m *Manager) GetPlayer(ctx context.Context, id string) (Result[*models.Player], error) {
	return typed[*models.Player](m.get(ctx, models.KindPlayer, id))
}

func (m *Manager) SavePlayer(ctx context.Context, p *models.Player) (Result[*models.Player], error) {
	return typed[*models.Player](m.save(ctx, p))
}

func (m *Manager) DeletePlayer(ctx context.Context, id string) (Result[struct{}], error) {
	return m.remove(ctx, models.KindPlayer, id)
}

func (m *Manager) GetSeasons(ctx context.Context) (Result[[]*models.Season], error) {
	return typedList[*models.Season](m.list(ctx, models.KindSeason))
}

func (m *Manager) GetSeason(ctx context.Context, id string) (Result[*models.Season], error) {
	return typed[*models.Season](m.get(ctx, models.KindSeason, id))
}

func (m *Manager) SaveSeason(ctx context.Context, s *models.Season) (Result[*models.Season], error) {
	return typed[*models.Season](m.save(ctx, s))
}

func (m *Manager) DeleteSeason(ctx context.Context, id string) (Result[struct{}], error) {
	return m.remove(ctx, models.KindSeason, id)
}

func (m *Manager) GetTournaments(ctx context.Context) (Result[[]*models.Tournament], error) {
	return typedList[*models.Tournament](m.list(ctx, models.KindTournament))
}

func (m *Manager) GetTournament(ctx context.Context, id string) (Result[*models.Tournament], error) {
	return typed[*models.Tournament](m.get(ctx, models.KindTournament, id))
}

func (m *Manager) SaveTournament(ctx context.Context, t *models.Tournament) (Result[*models.Tournament], error) {
	return typed[*models.Tournament](m.save(ctx, t))
}

func (m *Manager) DeleteTournament(ctx context.Context, id string) (Result[struct{}], error) {
	return m.remove(ctx, models.KindTournament, id)
}

func (m *Manager) GetGames(ctx context.Context) (Result[[]*models.Game], error) {
	return typedList[*models.Game](m.list(ctx, models.KindGame))
}

func (m *Manager) GetGame(ctx context.Context, id string) (Result[*models.Game], error) {
	return typed[*models.Game](m.get(ctx, models.KindGame, id))
}

func (m *Manager) SaveGame(ctx context.Context, g *models.Game) (Result[*models.Game], error) {
	return typed[*models.Game](m.save(ctx, g))
}

func (m *Manager) DeleteGame(ctx context.Context, id string) (Result[struct{}], error) {
	return m.remove(ctx, models.KindGame, id)
}

// GetSettings returns the owner's settings, or the defaults when none were
// saved yet.
func (m *Manager) GetSettings(ctx context.Context) (Result[*models.AppSettings], error) {
	r, err := typed[*models.AppSettings](m.get(ctx, models.KindSettings, models.SettingsID))
	if isNotFound(err) {
		return Result[*models.AppSettings]{Value: models.DefaultSettings()}, nil
	}
	return r, err
}

// SaveSettings applies a partial update on top of the current settings.
// Concurrent patches are applied one after another.
func (m *Manager) SaveSettings(ctx context.Context, patch models.SettingsPatch) (Result[*models.AppSettings], error) {
	m.settingsMu.Lock()
	defer m.settingsMu.Unlock()

	current, err := m.GetSettings(ctx)
	if err != nil {
		return Result[*models.AppSettings]{}, err
	}
	return typed[*models.AppSettings](m.save(ctx, patch.Apply(current.Value)))
}

func (m *Manager) GetTimerState(ctx context.Context) (Result[*models.TimerState], error) {
	return typed[*models.TimerState](m.get(ctx, models.KindTimerState, models.TimerStateID))
}

func (m *Manager) SaveTimerState(ctx context.Context, t *models.TimerState) (Result[*models.TimerState], error) {
	return typed[*models.TimerState](m.save(ctx, t))
}

func (m *Manager) DeleteTimerState(ctx context.Context) (Result[struct{}], error) {
	return m.remove(ctx, models.KindTimerState, models.TimerStateID)
}
