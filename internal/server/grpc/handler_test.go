package grpc

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmitrijs2005/coachkeeper/internal/client/backend"
	"github.com/dmitrijs2005/coachkeeper/internal/client/client"
	"github.com/dmitrijs2005/coachkeeper/internal/client/identity"
	"github.com/dmitrijs2005/coachkeeper/internal/client/repositories/metadata"
	clientrecords "github.com/dmitrijs2005/coachkeeper/internal/client/repositories/records"
	"github.com/dmitrijs2005/coachkeeper/internal/client/repositories/syncqueue"
	"github.com/dmitrijs2005/coachkeeper/internal/client/storage"
	"github.com/dmitrijs2005/coachkeeper/internal/common"
	"github.com/dmitrijs2005/coachkeeper/internal/logging"
	"github.com/dmitrijs2005/coachkeeper/internal/models"
	"github.com/dmitrijs2005/coachkeeper/internal/server/auth"
	"github.com/dmitrijs2005/coachkeeper/internal/server/records"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

const testSecret = "test-secret"

type e2e struct {
	lis *bufconn.Listener
}

func startServer(t *testing.T) *e2e {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := NewGRPCServer("bufnet", logging.Nop(), records.NewService(records.NewMemoryStore(), nil), testSecret)
	srv := s.NewServer()
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return &e2e{lis: lis}
}

func (e *e2e) client(t *testing.T, owner string) *client.GRPCClient {
	t.Helper()
	token, err := auth.GenerateToken(owner, []byte(testSecret), time.Hour)
	require.NoError(t, err)
	return e.clientWithToken(t, owner, token)
}

func (e *e2e) clientWithToken(t *testing.T, owner, token string) *client.GRPCClient {
	t.Helper()
	c, err := client.NewGRPCClient("passthrough:///bufnet", identity.Static{Owner: owner, Token: token}, 2*time.Second,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return e.lis.DialContext(ctx)
		}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func player(id, name string) *models.Player {
	return &models.Player{Header: models.Header{ID: id, UpdatedAt: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)}, Name: name}
}

func TestE2E_CreateIsDeduplicatedByClientRef(t *testing.T) {
	c := startServer(t).client(t, "o1")
	ctx := context.Background()

	temp := models.NewTempID(models.KindPlayer)
	first, err := c.Put(ctx, player(temp, "Mo"))
	require.NoError(t, err)
	assert.False(t, models.IsTempID(first.Head().ID))
	assert.EqualValues(t, 1, first.Head().Version)
	assert.Equal(t, "o1", first.Head().OwnerID)

	again, err := c.Put(ctx, player(temp, "Mo"))
	require.NoError(t, err)
	assert.Equal(t, first.Head().ID, again.Head().ID)

	list, err := c.List(ctx, models.KindPlayer)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestE2E_UpdateRequiresCurrentVersion(t *testing.T) {
	c := startServer(t).client(t, "o1")
	ctx := context.Background()

	saved, err := c.Put(ctx, player(models.NewTempID(models.KindPlayer), "Mo"))
	require.NoError(t, err)

	edit := saved.Clone().(*models.Player)
	edit.Name = "Moe"
	updated, err := c.Put(ctx, edit)
	require.NoError(t, err)
	assert.EqualValues(t, 2, updated.Head().Version)

	stale := saved.Clone().(*models.Player)
	stale.Name = "Stale"
	_, err = c.Put(ctx, stale)
	assert.ErrorIs(t, err, common.ErrConflict)

	got, err := c.Get(ctx, models.KindPlayer, saved.Head().ID)
	require.NoError(t, err)
	assert.Equal(t, "Moe", got.(*models.Player).Name)
}

func TestE2E_UpdateOfUnknownRecordCreatesIt(t *testing.T) {
	c := startServer(t).client(t, "o1")
	ctx := context.Background()

	settings := &models.AppSettings{Header: models.Header{ID: models.KindSettings.SingletonID()}, Language: "fi"}
	saved, err := c.Put(ctx, settings)
	require.NoError(t, err)
	assert.Equal(t, models.KindSettings.SingletonID(), saved.Head().ID)
	assert.EqualValues(t, 1, saved.Head().Version)
}

func TestE2E_DeleteAndIncrementalListing(t *testing.T) {
	c := startServer(t).client(t, "o1")
	ctx := context.Background()

	a, err := c.Put(ctx, player(models.NewTempID(models.KindPlayer), "A"))
	require.NoError(t, err)
	_, err = c.Put(ctx, player(models.NewTempID(models.KindPlayer), "B"))
	require.NoError(t, err)

	changed, mark, err := c.ListSince(ctx, models.KindPlayer, time.Time{})
	require.NoError(t, err)
	assert.Len(t, changed, 2)
	assert.False(t, mark.IsZero())

	require.NoError(t, c.Delete(ctx, models.KindPlayer, a.Head().ID))
	require.NoError(t, c.Delete(ctx, models.KindPlayer, a.Head().ID), "deleting a tombstone succeeds")
	assert.ErrorIs(t, c.Delete(ctx, models.KindPlayer, "nope"), common.ErrNotFound)

	_, err = c.Get(ctx, models.KindPlayer, a.Head().ID)
	assert.ErrorIs(t, err, common.ErrNotFound)

	list, err := c.List(ctx, models.KindPlayer)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	changed, next, err := c.ListSince(ctx, models.KindPlayer, mark)
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.True(t, changed[0].Head().Deleted)
	assert.True(t, next.After(mark))

	changed, same, err := c.ListSince(ctx, models.KindPlayer, next)
	require.NoError(t, err)
	assert.Empty(t, changed)
	assert.True(t, next.Equal(same))
}

func TestE2E_OwnersAreIsolated(t *testing.T) {
	e := startServer(t)
	ctx := context.Background()

	saved, err := e.client(t, "o1").Put(ctx, player(models.NewTempID(models.KindPlayer), "Mo"))
	require.NoError(t, err)

	other := e.client(t, "o2")
	_, err = other.Get(ctx, models.KindPlayer, saved.Head().ID)
	assert.ErrorIs(t, err, common.ErrNotFound)
	list, err := other.List(ctx, models.KindPlayer)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestE2E_RejectsBadTokenAndInvalidRecords(t *testing.T) {
	e := startServer(t)
	ctx := context.Background()

	bad := e.clientWithToken(t, "o1", "forged")
	_, err := bad.List(ctx, models.KindPlayer)
	assert.ErrorIs(t, err, common.ErrAuth)
	require.NoError(t, bad.Ping(ctx), "ping needs no token")

	c := e.client(t, "o1")
	_, err = c.Put(ctx, player(models.NewTempID(models.KindPlayer), ""))
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestE2E_ManagerConfirmsReferencesAgainstServer(t *testing.T) {
	e := startServer(t)
	ctx := context.Background()

	db, err := client.InitDatabase(ctx, filepath.Join(t.TempDir(), "local.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	remote := e.client(t, "o1")
	queue := syncqueue.NewSQLiteQueue(db, syncqueue.DefaultPolicy())
	m := storage.New(storage.Config{PreferredBackend: backend.Local, FallbackEnabled: true},
		storage.Backends{
			Local:  clientrecords.NewSQLiteStore(db, 0),
			Remote: remote,
			Queue:  queue,
			Meta:   metadata.NewSQLiteRepository(db),
		}, identity.Static{Owner: "o1", Token: "unused"}, nil)

	p, err := m.SavePlayer(ctx, &models.Player{Name: "Mo"})
	require.NoError(t, err)
	s, err := m.SaveSeason(ctx, &models.Season{Name: "Spring", DefaultRosterIDs: []string{p.Value.ID}})
	require.NoError(t, err)
	require.True(t, s.Pending)

	mapping := models.IdentityMapping{}
	for {
		ops, err := queue.Ready(ctx, "o1", time.Now().Add(time.Hour), 10)
		require.NoError(t, err)
		if len(ops) == 0 {
			break
		}
		for _, op := range ops {
			res, err := m.Replay(ctx, op)
			require.NoError(t, err)
			for kind, ids := range res.Mapping {
				for o, n := range ids {
					mapping.Add(kind, o, n)
				}
			}
			require.NoError(t, queue.Remove(ctx, op.OperationID))
		}
	}
	require.Equal(t, 2, mapping.Len())
	_, err = m.Reconcile(ctx, mapping)
	require.NoError(t, err)

	serverPlayerID, _ := mapping.Lookup(models.KindPlayer, p.Value.ID)
	serverSeasonID, _ := mapping.Lookup(models.KindSeason, s.Value.ID)
	onServer, err := remote.Get(ctx, models.KindSeason, serverSeasonID)
	require.NoError(t, err)
	assert.Equal(t, []string{serverPlayerID}, onServer.(*models.Season).DefaultRosterIDs)
}
