package records

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/coachkeeper/internal/common"
	"github.com/dmitrijs2005/coachkeeper/internal/dbx"
	"github.com/dmitrijs2005/coachkeeper/internal/models"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	columns = []string{"owner_id", "kind", "id", "client_ref", "version", "updated_at", "server_updated_at", "deleted", "data"}
	edited  = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	stamped = time.Date(2026, 5, 1, 10, 0, 1, 0, time.UTC)
)

func dbxPolicy(attempts int) dbx.RetryPolicy {
	return dbx.RetryPolicy{Attempts: attempts, BaseDelay: time.Microsecond}
}

func newStoreWithMock(t *testing.T) (*PostgresStore, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresStore(db), mock, db
}

func playerRecord(id, ref string, version int64) Record {
	return Record{
		OwnerID:         "u1",
		ClientRef:       ref,
		ServerUpdatedAt: stamped,
		Entity: &models.Player{
			Header: models.Header{ID: id, OwnerID: "u1", UpdatedAt: edited, Version: version},
			Name:   "Mo",
		},
	}
}

func playerRow(rows *sqlmock.Rows, id string, ref any, version int64, deleted bool) *sqlmock.Rows {
	return rows.AddRow("u1", "player", id, ref, version, edited, stamped, deleted,
		[]byte(`{"id":"`+id+`","name":"Mo","is_goalie":false,"updated_at":"2026-05-01T10:00:00Z","version":1}`))
}

func TestGet_Success(t *testing.T) {
	store, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT .* FROM records\s+WHERE owner_id = \$1 AND kind = \$2 AND id = \$3`).
		WithArgs("u1", "player", "p1").
		WillReturnRows(playerRow(sqlmock.NewRows(columns), "p1", nil, 4, false))

	rec, err := store.Get(context.Background(), "u1", models.KindPlayer, "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h := rec.Entity.Head()
	if h.ID != "p1" || h.Version != 4 || h.OwnerID != "u1" || !h.UpdatedAt.Equal(edited) {
		t.Fatalf("unexpected header: %+v", h)
	}
	if rec.Entity.(*models.Player).Name != "Mo" || !rec.ServerUpdatedAt.Equal(stamped) {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	store, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT .* FROM records`).
		WithArgs("u1", "player", "nope").
		WillReturnRows(sqlmock.NewRows(columns))

	_, err := store.Get(context.Background(), "u1", models.KindPlayer, "nope")
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestGet_CorruptData(t *testing.T) {
	store, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT .* FROM records`).
		WithArgs("u1", "player", "p1").
		WillReturnRows(sqlmock.NewRows(columns).AddRow("u1", "player", "p1", nil, 1, edited, stamped, false, []byte(`{oops`)))

	_, err := store.Get(context.Background(), "u1", models.KindPlayer, "p1")
	if !errors.Is(err, common.ErrCodec) {
		t.Fatalf("want ErrCodec, got %v", err)
	}
}

func TestListSince_OrdersByServerTime(t *testing.T) {
	store, mock, db := newStoreWithMock(t)
	defer db.Close()

	since := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(columns)
	playerRow(rows, "p1", "tmp_player_1", 1, false)
	playerRow(rows, "p2", nil, 3, true)
	mock.ExpectQuery(`SELECT .* FROM records\s+WHERE .* server_updated_at > \$3\s+ORDER BY server_updated_at, id`).
		WithArgs("u1", "player", since).
		WillReturnRows(rows)

	recs, err := store.ListSince(context.Background(), "u1", models.KindPlayer, since)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("want 2 records, got %d", len(recs))
	}
	if recs[0].ClientRef != "tmp_player_1" || !recs[1].Entity.Head().Deleted {
		t.Fatalf("unexpected records: %+v", recs)
	}
}

func TestList_QueryError(t *testing.T) {
	store, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT .* FROM records\s+WHERE .* NOT deleted`).
		WithArgs("u1", "player").
		WillReturnError(errors.New("db is down"))

	_, err := store.List(context.Background(), "u1", models.KindPlayer)
	if err == nil || !regexp.MustCompile(`db error: .*db is down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestCreate_Inserts(t *testing.T) {
	store, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO records .* ON CONFLICT DO NOTHING\s+RETURNING`).
		WithArgs("u1", "player", "p1", "tmp_player_1", int64(1), edited, stamped, sqlmock.AnyArg()).
		WillReturnRows(playerRow(sqlmock.NewRows(columns), "p1", "tmp_player_1", 1, false))
	mock.ExpectCommit()

	rec, err := store.Create(context.Background(), playerRecord("p1", "tmp_player_1", 1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.ID() != "p1" || rec.ClientRef != "tmp_player_1" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreate_DuplicateClientRefReturnsExisting(t *testing.T) {
	store, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO records`).
		WillReturnRows(sqlmock.NewRows(columns))
	mock.ExpectQuery(`SELECT .* FROM records\s+WHERE owner_id = \$1 AND kind = \$2 AND client_ref = \$3`).
		WithArgs("u1", "player", "tmp_player_1").
		WillReturnRows(playerRow(sqlmock.NewRows(columns), "first", "tmp_player_1", 1, false))
	mock.ExpectCommit()

	rec, err := store.Create(context.Background(), playerRecord("second", "tmp_player_1", 1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.ID() != "first" {
		t.Fatalf("want the first record, got %q", rec.ID())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreate_IDClashIsConflict(t *testing.T) {
	store, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO records`).
		WillReturnRows(sqlmock.NewRows(columns))
	mock.ExpectRollback()

	_, err := store.Create(context.Background(), playerRecord("p1", "", 1))
	if !errors.Is(err, common.ErrConflict) {
		t.Fatalf("want ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdate_BumpsVersion(t *testing.T) {
	store, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE records\s+SET version = version \+ 1.*WHERE .* AND version = \$4\s+RETURNING`).
		WithArgs("u1", "player", "p1", int64(2), edited, stamped, sqlmock.AnyArg()).
		WillReturnRows(playerRow(sqlmock.NewRows(columns), "p1", nil, 3, false))
	mock.ExpectCommit()

	rec, err := store.Update(context.Background(), playerRecord("p1", "", 2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Entity.Head().Version != 3 {
		t.Fatalf("want version 3, got %d", rec.Entity.Head().Version)
	}
}

func TestUpdate_StaleVersionIsConflict(t *testing.T) {
	store, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE records`).
		WillReturnRows(sqlmock.NewRows(columns))
	mock.ExpectQuery(`SELECT version FROM records`).
		WithArgs("u1", "player", "p1").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(5))
	mock.ExpectRollback()

	_, err := store.Update(context.Background(), playerRecord("p1", "", 2))
	if !errors.Is(err, common.ErrConflict) {
		t.Fatalf("want ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdate_MissingIsNotFound(t *testing.T) {
	store, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE records`).
		WillReturnRows(sqlmock.NewRows(columns))
	mock.ExpectQuery(`SELECT version FROM records`).
		WillReturnRows(sqlmock.NewRows([]string{"version"}))
	mock.ExpectRollback()

	_, err := store.Update(context.Background(), playerRecord("p1", "", 2))
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestUpdate_RetriesSerializationFailure(t *testing.T) {
	store, mock, db := newStoreWithMock(t)
	defer db.Close()
	store.retry.BaseDelay = time.Microsecond

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE records`).
		WillReturnError(&pgconn.PgError{Code: "40001"})
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE records`).
		WillReturnRows(playerRow(sqlmock.NewRows(columns), "p1", nil, 3, false))
	mock.ExpectCommit()

	rec, err := store.Update(context.Background(), playerRecord("p1", "", 2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Entity.Head().Version != 3 {
		t.Fatalf("want version 3, got %d", rec.Entity.Head().Version)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreate_GivesUpAfterRetries(t *testing.T) {
	store, mock, db := newStoreWithMock(t)
	defer db.Close()
	store.retry = dbxPolicy(2)

	for range 2 {
		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO records`).
			WillReturnError(&pgconn.PgError{Code: "40P01"})
		mock.ExpectRollback()
	}

	_, err := store.Create(context.Background(), playerRecord("p1", "tmp_player_1", 1))
	if !errors.Is(err, common.ErrUnavailable) {
		t.Fatalf("want ErrUnavailable, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDelete(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		lookup   *sqlmock.Rows
		wantErr  error
	}{
		{name: "live record", affected: 1},
		{name: "tombstone", affected: 0, lookup: sqlmock.NewRows([]string{"deleted"}).AddRow(true)},
		{name: "unknown", affected: 0, lookup: sqlmock.NewRows([]string{"deleted"}), wantErr: common.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock, db := newStoreWithMock(t)
			defer db.Close()

			mock.ExpectExec(`UPDATE records\s+SET deleted = TRUE, version = version \+ 1, server_updated_at = \$4`).
				WithArgs("u1", "player", "p1", stamped).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))
			if tt.lookup != nil {
				mock.ExpectQuery(`SELECT deleted FROM records`).
					WithArgs("u1", "player", "p1").
					WillReturnRows(tt.lookup)
			}

			err := store.Delete(context.Background(), "u1", models.KindPlayer, "p1", stamped)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("want %v, got %v", tt.wantErr, err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Fatalf("unmet expectations: %v", err)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "serialization", err: &pgconn.PgError{Code: "40001"}, want: common.ErrUnavailable},
		{name: "deadlock", err: &pgconn.PgError{Code: "40P01"}, want: common.ErrUnavailable},
		{name: "lock not available", err: &pgconn.PgError{Code: "55P03"}, want: common.ErrUnavailable},
		{name: "unique violation", err: &pgconn.PgError{Code: "23505"}, want: common.ErrConflict},
		{name: "sentinel passes", err: common.ErrNotFound, want: common.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(tt.err); !errors.Is(got, tt.want) {
				t.Fatalf("classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}

	other := classify(&pgconn.PgError{Code: "42P01"})
	if errors.Is(other, common.ErrUnavailable) || errors.Is(other, common.ErrConflict) {
		t.Fatalf("unexpected kind for undefined table: %v", other)
	}
}
