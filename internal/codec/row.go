package codec

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/dmitrijs2005/coachkeeper/internal/common"
	"github.com/dmitrijs2005/coachkeeper/internal/models"
)

// Row is the flat snake_case shape exchanged with the remote store. Values
// are limited to JSON-compatible types so a Row converts losslessly to a
// protobuf Struct. A game's nested state travels in the game_data column.
type Row map[string]any

const (
	ColID        = "id"
	ColOwnerID   = "owner_id"
	ColUpdatedAt = "updated_at"
	ColVersion   = "version"
	ColDeleted   = "deleted"
	ColGameData  = "game_data"
)

func ToRow(e models.Entity) (Row, error) {
	if e == nil {
		return nil, fmt.Errorf("%w: nil entity", common.ErrCodec)
	}
	h := e.Head()
	r := Row{
		ColID:        h.ID,
		ColUpdatedAt: h.UpdatedAt.UTC().Format(time.RFC3339Nano),
		ColVersion:   h.Version,
	}
	if h.OwnerID != "" {
		r[ColOwnerID] = h.OwnerID
	}
	if h.Deleted {
		r[ColDeleted] = true
	}

	switch v := e.(type) {
	case *models.Player:
		r["name"] = v.Name
		r.putStr("nickname", v.Nickname)
		r.putStr("jersey_number", v.JerseyNumber)
		r["is_goalie"] = v.IsGoalie
		r.putStr("notes", v.Notes)
	case *models.Season:
		r["name"] = v.Name
		r.putStr("location", v.Location)
		r.putStr("start_date", v.StartDate)
		r.putStr("end_date", v.EndDate)
		r.putStrings("default_roster_ids", v.DefaultRosterIDs)
		r["archived"] = v.Archived
		r.putStr("notes", v.Notes)
	case *models.Tournament:
		r["name"] = v.Name
		r.putStr("location", v.Location)
		r.putStr("level", v.Level)
		r.putStr("start_date", v.StartDate)
		r.putStr("end_date", v.EndDate)
		r.putStr("season_id", v.SeasonID)
		r.putStrings("default_roster_ids", v.DefaultRosterIDs)
		r["archived"] = v.Archived
		r.putStr("notes", v.Notes)
	case *models.Game:
		r["team_name"] = v.TeamName
		r["opponent_name"] = v.OpponentName
		r["game_date"] = v.GameDate
		r.putStr("season_id", v.SeasonID)
		r.putStr("tournament_id", v.TournamentID)
		r["home_or_away"] = v.HomeOrAway
		r["home_score"] = int64(v.HomeScore)
		r["away_score"] = int64(v.AwayScore)
		r["is_played"] = v.IsPlayed
		r.putStr("notes", v.Notes)
		r[ColGameData] = gameDataToMap(v)
	case *models.AppSettings:
		r["language"] = v.Language
		r.putStr("default_team_name", v.DefaultTeamName)
		r.putStr("current_game_id", v.CurrentGameID)
		r["auto_backup_enabled"] = v.AutoBackupEnabled
		r["has_seen_app_guide"] = v.HasSeenAppGuide
	case *models.TimerState:
		r["game_id"] = v.GameID
		r["elapsed_seconds"] = int64(v.ElapsedSeconds)
		r["is_running"] = v.IsRunning
		if v.StartedAt != nil {
			r["started_at"] = v.StartedAt.UTC().Format(time.RFC3339Nano)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported entity %T", common.ErrCodec, e)
	}
	return r, nil
}

func FromRow(kind models.Kind, row Row) (models.Entity, error) {
	e, err := models.New(kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrCodec, err)
	}
	rd := &rowReader{kind: kind, m: row}

	h := e.Head()
	h.ID = rd.str(ColID, true)
	h.OwnerID = rd.str(ColOwnerID, false)
	h.UpdatedAt = rd.timestamp(ColUpdatedAt)
	h.Version = rd.integer(ColVersion)
	h.Deleted = rd.boolean(ColDeleted)

	switch v := e.(type) {
	case *models.Player:
		v.Name = rd.str("name", !h.Deleted)
		v.Nickname = rd.optStr("nickname")
		v.JerseyNumber = rd.optStr("jersey_number")
		v.IsGoalie = rd.boolean("is_goalie")
		v.Notes = rd.optStr("notes")
	case *models.Season:
		v.Name = rd.str("name", !h.Deleted)
		v.Location = rd.optStr("location")
		v.StartDate = rd.optStr("start_date")
		v.EndDate = rd.optStr("end_date")
		v.DefaultRosterIDs = rd.strings(rd.m, "default_roster_ids")
		v.Archived = rd.boolean("archived")
		v.Notes = rd.optStr("notes")
	case *models.Tournament:
		v.Name = rd.str("name", !h.Deleted)
		v.Location = rd.optStr("location")
		v.Level = rd.optStr("level")
		v.StartDate = rd.optStr("start_date")
		v.EndDate = rd.optStr("end_date")
		v.SeasonID = rd.optStr("season_id")
		v.DefaultRosterIDs = rd.strings(rd.m, "default_roster_ids")
		v.Archived = rd.boolean("archived")
		v.Notes = rd.optStr("notes")
	case *models.Game:
		v.TeamName = rd.str("team_name", !h.Deleted)
		v.OpponentName = rd.str("opponent_name", !h.Deleted)
		v.GameDate = rd.str("game_date", !h.Deleted)
		v.SeasonID = rd.optStr("season_id")
		v.TournamentID = rd.optStr("tournament_id")
		v.HomeOrAway = rd.str("home_or_away", false)
		v.HomeScore = int(rd.integer("home_score"))
		v.AwayScore = int(rd.integer("away_score"))
		v.IsPlayed = rd.boolean("is_played")
		v.Notes = rd.optStr("notes")
		rd.gameData(v)
	case *models.AppSettings:
		v.Language = rd.str("language", !h.Deleted)
		v.DefaultTeamName = rd.optStr("default_team_name")
		v.CurrentGameID = rd.optStr("current_game_id")
		v.AutoBackupEnabled = rd.boolean("auto_backup_enabled")
		v.HasSeenAppGuide = rd.boolean("has_seen_app_guide")
	case *models.TimerState:
		v.GameID = rd.str("game_id", !h.Deleted)
		v.ElapsedSeconds = int(rd.integer("elapsed_seconds"))
		v.IsRunning = rd.boolean("is_running")
		v.StartedAt = rd.optTime("started_at")
	}

	if rd.err != nil {
		return nil, rd.err
	}
	return e, nil
}

func (r Row) putStr(key string, v *string) {
	if v != nil {
		r[key] = *v
	}
}

func (r Row) putStrings(key string, v []string) {
	if v != nil {
		r[key] = stringsToList(v)
	}
}

func stringsToList(v []string) []any {
	out := make([]any, len(v))
	for i, s := range v {
		out[i] = s
	}
	return out
}

func gameDataToMap(g *models.Game) map[string]any {
	data := map[string]any{}
	if g.SelectedPlayerIDs != nil {
		data["selected_player_ids"] = stringsToList(g.SelectedPlayerIDs)
	}
	if g.Events != nil {
		events := make([]any, len(g.Events))
		for i, ev := range g.Events {
			m := map[string]any{
				"id":           ev.ID,
				"type":         ev.Type,
				"time_seconds": int64(ev.TimeSeconds),
			}
			if ev.ScorerID != nil {
				m["scorer_id"] = *ev.ScorerID
			}
			if ev.AssisterID != nil {
				m["assister_id"] = *ev.AssisterID
			}
			events[i] = m
		}
		data["events"] = events
	}
	if g.Drawings != nil {
		drawings := make([]any, len(g.Drawings))
		for i, d := range g.Drawings {
			m := map[string]any{}
			if d.Points != nil {
				pts := make([]any, len(d.Points))
				for j, p := range d.Points {
					pts[j] = map[string]any{"x": p.X, "y": p.Y}
				}
				m["points"] = pts
			}
			drawings[i] = m
		}
		data["drawings"] = drawings
	}
	return data
}

// rowReader decodes typed values from a Row; the first failure sticks.
type rowReader struct {
	kind models.Kind
	m    map[string]any
	err  error
}

func (rd *rowReader) fail(format string, args ...any) {
	if rd.err == nil {
		rd.err = fmt.Errorf("%w: %s row: %s", common.ErrCodec, rd.kind, fmt.Sprintf(format, args...))
	}
}

func (rd *rowReader) str(key string, required bool) string {
	return rd.strFrom(rd.m, key, required)
}

func (rd *rowReader) strFrom(m map[string]any, key string, required bool) string {
	v, ok := m[key]
	if !ok || v == nil {
		if required {
			rd.fail("missing required column %s", key)
		}
		return ""
	}
	s, ok := v.(string)
	if !ok {
		rd.fail("column %s: want string, got %T", key, v)
		return ""
	}
	if required && s == "" {
		rd.fail("empty required column %s", key)
	}
	return s
}

func (rd *rowReader) optStr(key string) *string {
	return rd.optStrFrom(rd.m, key)
}

func (rd *rowReader) optStrFrom(m map[string]any, key string) *string {
	if v, ok := m[key]; !ok || v == nil {
		return nil
	}
	s := rd.strFrom(m, key, false)
	return &s
}

func (rd *rowReader) integer(key string) int64 {
	return rd.integerFrom(rd.m, key)
}

func (rd *rowReader) integerFrom(m map[string]any, key string) int64 {
	v, ok := m[key]
	if !ok || v == nil {
		return 0
	}
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case float64:
		if n != math.Trunc(n) {
			rd.fail("column %s: %v is not an integer", key, n)
			return 0
		}
		return int64(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			rd.fail("column %s: %v", key, err)
		}
		return i
	}
	rd.fail("column %s: want integer, got %T", key, v)
	return 0
}

func (rd *rowReader) float(m map[string]any, key string) float64 {
	switch n := m[key].(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	case nil:
		return 0
	default:
		rd.fail("column %s: want number, got %T", key, n)
		return 0
	}
}

func (rd *rowReader) boolean(key string) bool {
	v, ok := rd.m[key]
	if !ok || v == nil {
		return false
	}
	b, ok := v.(bool)
	if !ok {
		rd.fail("column %s: want bool, got %T", key, v)
	}
	return b
}

func (rd *rowReader) timestamp(key string) time.Time {
	s := rd.str(key, true)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		rd.fail("column %s: %v", key, err)
	}
	return t
}

func (rd *rowReader) optTime(key string) *time.Time {
	s := rd.optStr(key)
	if s == nil {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, *s)
	if err != nil {
		rd.fail("column %s: %v", key, err)
		return nil
	}
	return &t
}

func (rd *rowReader) list(m map[string]any, key string) ([]any, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, false
	}
	l, ok := v.([]any)
	if !ok {
		rd.fail("column %s: want list, got %T", key, v)
		return nil, false
	}
	return l, true
}

func (rd *rowReader) strings(m map[string]any, key string) []string {
	l, ok := rd.list(m, key)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(l))
	for _, item := range l {
		s, ok := item.(string)
		if !ok {
			rd.fail("column %s: want string items, got %T", key, item)
			return nil
		}
		out = append(out, s)
	}
	return out
}

func (rd *rowReader) object(m map[string]any, key string) map[string]any {
	v, ok := m[key]
	if !ok || v == nil {
		return nil
	}
	obj, ok := v.(map[string]any)
	if !ok {
		rd.fail("column %s: want object, got %T", key, v)
	}
	return obj
}

func (rd *rowReader) gameData(g *models.Game) {
	data := rd.object(rd.m, ColGameData)
	if data == nil {
		return
	}
	g.SelectedPlayerIDs = rd.strings(data, "selected_player_ids")

	if events, ok := rd.list(data, "events"); ok {
		g.Events = make([]models.GameEvent, 0, len(events))
		for _, item := range events {
			m, ok := item.(map[string]any)
			if !ok {
				rd.fail("game event: want object, got %T", item)
				return
			}
			g.Events = append(g.Events, models.GameEvent{
				ID:          rd.strFrom(m, "id", true),
				Type:        rd.strFrom(m, "type", true),
				TimeSeconds: int(rd.integerFrom(m, "time_seconds")),
				ScorerID:    rd.optStrFrom(m, "scorer_id"),
				AssisterID:  rd.optStrFrom(m, "assister_id"),
			})
		}
	}

	if drawings, ok := rd.list(data, "drawings"); ok {
		g.Drawings = make([]models.Drawing, 0, len(drawings))
		for _, item := range drawings {
			m, ok := item.(map[string]any)
			if !ok {
				rd.fail("drawing: want object, got %T", item)
				return
			}
			var d models.Drawing
			if pts, ok := rd.list(m, "points"); ok {
				d.Points = make([]models.Point, 0, len(pts))
				for _, p := range pts {
					pm, ok := p.(map[string]any)
					if !ok {
						rd.fail("drawing point: want object, got %T", p)
						return
					}
					d.Points = append(d.Points, models.Point{X: rd.float(pm, "x"), Y: rd.float(pm, "y")})
				}
			}
			g.Drawings = append(g.Drawings, d)
		}
	}
}
