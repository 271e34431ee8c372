package database

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresStore(db), mock
}

func TestConfig_DSN(t *testing.T) {
	cfg := Config{Host: "db", Port: 5432, Database: "recovery", User: "u", Password: "p"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=recovery sslmode=disable", cfg.DSN())

	cfg.SSLMode = "require"
	assert.Contains(t, cfg.DSN(), "sslmode=require")
}

func TestPostgresStore_CreateTables(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS entity_state").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.CreateTables(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Save(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO entity_state")).
		WithArgs("backup-job", "j1", []byte(`{"name":"n","count":1,"tags":null}`)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.Save(context.Background(), KindBackupJob, "j1", sample{Name: "n", Count: 1}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Load(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(regexp.QuoteMeta("SELECT data FROM entity_state")).
			WithArgs("dr-plan", "p1").
			WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow([]byte(`{"name":"plan","count":2}`)))

		var out sample
		require.NoError(t, store.Load(context.Background(), KindDRPlan, "p1", &out))
		assert.Equal(t, "plan", out.Name)
		assert.Equal(t, 2, out.Count)
	})

	t.Run("missing", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectQuery(regexp.QuoteMeta("SELECT data FROM entity_state")).
			WithArgs("dr-plan", "p2").
			WillReturnError(sql.ErrNoRows)

		var out sample
		err := store.Load(context.Background(), KindDRPlan, "p2", &out)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestPostgresStore_DeleteAndKeys(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM entity_state")).
		WithArgs("tenant", "t1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM entity_state")).
		WithArgs("tenant").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("t2").AddRow("t3"))

	ctx := context.Background()
	require.NoError(t, store.Delete(ctx, KindTenant, "t1"))
	keys, err := store.Keys(ctx, KindTenant)
	require.NoError(t, err)
	assert.Equal(t, []string{"t2", "t3"}, keys)
	assert.NoError(t, mock.ExpectationsWereMet())
}
