package persist

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exercise runs the same contract against every backend
func exercise(t *testing.T, p Persister) {
	t.Helper()
	ctx := context.Background()

	_, err := p.Load(ctx, "store:scripts")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, p.Save(ctx, "store:scripts", []byte(`{"items":[{"id":"s1"}]}`)))
	got, err := p.Load(ctx, "store:scripts")
	require.NoError(t, err)
	assert.JSONEq(t, `{"items":[{"id":"s1"}]}`, string(got))

	require.NoError(t, p.Save(ctx, "store:scripts", []byte(`{"items":[]}`)))
	got, err = p.Load(ctx, "store:scripts")
	require.NoError(t, err)
	assert.JSONEq(t, `{"items":[]}`, string(got))

	require.NoError(t, p.Delete(ctx, "store:scripts"))
	_, err = p.Load(ctx, "store:scripts")
	require.ErrorIs(t, err, ErrNotFound)

	// deleting twice is fine
	require.NoError(t, p.Delete(ctx, "store:scripts"))
}

func TestNop(t *testing.T) {
	var p Nop
	require.NoError(t, p.Save(context.Background(), "k", []byte("{}")))
	_, err := p.Load(context.Background(), "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStore(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	exercise(t, fs)
}

func TestFileStoreNoTempLeftBehind(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, fs.Save(context.Background(), "store:licenses", []byte("{}")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "store_licenses.json", entries[0].Name())

	info, err := os.Stat(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestSanitizeKey(t *testing.T) {
	tests := []struct {
		key      string
		expected string
	}{
		{"store:scripts", "store_scripts"},
		{"a/b?c=d", "a_b_c_d"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		if got := sanitizeKey(tt.key); got != tt.expected {
			t.Errorf("sanitizeKey(%q) = %s, want %s", tt.key, got, tt.expected)
		}
	}

	long := sanitizeKey(strings.Repeat("x", 300))
	if !strings.HasPrefix(long, "hash_") {
		t.Errorf("expected long key to be hashed, got %s", long)
	}
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s := NewRedisStore(client, "scriptmarket:", 0)
	exercise(t, s)

	require.NoError(t, s.Save(context.Background(), "store:users", []byte("{}")))
	assert.True(t, mr.Exists("scriptmarket:store:users"))
}

func TestRedisStoreTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s := NewRedisStore(client, "", time.Hour)
	require.NoError(t, s.Save(context.Background(), "k", []byte("{}")))

	mr.FastForward(2 * time.Hour)
	_, err := s.Load(context.Background(), "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore(t *testing.T) {
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "snapshots.db"))
	require.NoError(t, err)
	defer s.Close()
	exercise(t, s)
}

// TestPostgresStore needs a database; set TEST_DATABASE_URL to run it.
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()

	s, err := NewPostgresStore(ctx, pool)
	require.NoError(t, err)
	_ = s.Delete(ctx, "store:scripts")
	exercise(t, s)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	p, closeFn, err := Open(ctx, OpenOptions{Backend: BackendNone})
	require.NoError(t, err)
	assert.IsType(t, Nop{}, p)
	assert.NoError(t, closeFn())

	p, closeFn, err = Open(ctx, OpenOptions{Backend: BackendFile, Dir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, p)
	assert.NoError(t, closeFn())

	p, closeFn, err = Open(ctx, OpenOptions{Backend: BackendSQLite, SQLitePath: filepath.Join(t.TempDir(), "s.db")})
	require.NoError(t, err)
	exercise(t, p)
	assert.NoError(t, closeFn())

	mr := miniredis.RunT(t)
	p, closeFn, err = Open(ctx, OpenOptions{Backend: BackendRedis, RedisAddr: mr.Addr()})
	require.NoError(t, err)
	require.NoError(t, p.Save(ctx, "store:scripts", []byte("[]")))
	assert.True(t, mr.Exists("scriptmarket:store:scripts"))
	assert.NoError(t, closeFn())

	_, _, err = Open(ctx, OpenOptions{Backend: "etcd"})
	assert.ErrorContains(t, err, "unknown snapshot backend")
}
