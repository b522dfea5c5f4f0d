package kvstore

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/AtRiskMedia/tractstack-telemetry/internal/domain/telemetry"
	"github.com/AtRiskMedia/tractstack-telemetry/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/tractstack-telemetry/internal/infrastructure/persistence/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ telemetry.KeyValueStore = (*MemoryStore)(nil)
	_ telemetry.KeyValueStore = (*SQLStore)(nil)
)

func newSQLStore(t *testing.T, scope string, maxValueBytes int) *SQLStore {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "kv.db") + "?_busy_timeout=5000"
	db, err := database.NewConnection(database.DriverSQLite, dsn, logging.NewDiscardLogger(), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewSQLStore(db, scope, maxValueBytes)
	require.NoError(t, err)
	return store
}

func TestStores(t *testing.T) {
	stores := map[string]func(t *testing.T, maxValueBytes int) telemetry.KeyValueStore{
		"memory": func(t *testing.T, maxValueBytes int) telemetry.KeyValueStore {
			return NewMemoryStore(maxValueBytes)
		},
		"sqlite": func(t *testing.T, maxValueBytes int) telemetry.KeyValueStore {
			return newSQLStore(t, "local", maxValueBytes)
		},
	}

	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			t.Run("missing key", func(t *testing.T) {
				store := newStore(t, 0)
				value, ok, err := store.Get("faq_user_id")
				require.NoError(t, err)
				assert.False(t, ok)
				assert.Empty(t, value)
			})

			t.Run("set replaces and delete removes", func(t *testing.T) {
				store := newStore(t, 0)
				require.NoError(t, store.Set("faq_consent", "false"))
				require.NoError(t, store.Set("faq_consent", "true"))

				value, ok, err := store.Get("faq_consent")
				require.NoError(t, err)
				assert.True(t, ok)
				assert.Equal(t, "true", value)

				require.NoError(t, store.Delete("faq_consent"))
				require.NoError(t, store.Delete("faq_consent"))
				_, ok, err = store.Get("faq_consent")
				require.NoError(t, err)
				assert.False(t, ok)
			})

			t.Run("quota", func(t *testing.T) {
				store := newStore(t, 16)
				require.NoError(t, store.Set("small", "[]"))

				err := store.Set("small", strings.Repeat("x", 17))
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrQuotaExceeded))

				value, _, err := store.Get("small")
				require.NoError(t, err)
				assert.Equal(t, "[]", value)
			})
		})
	}
}

func TestSQLStoreScopesAreIsolated(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "kv.db") + "?_busy_timeout=5000"
	db, err := database.NewConnection(database.DriverSQLite, dsn, logging.NewDiscardLogger(), time.Second)
	require.NoError(t, err)
	defer db.Close()

	local, err := NewSQLStore(db, "local", 0)
	require.NoError(t, err)
	other, err := NewSQLStore(db, "other", 0)
	require.NoError(t, err)

	require.NoError(t, local.Set("faq_user_id", "user_a"))
	_, ok, err := other.Get("faq_user_id")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewConnectionRejectsUnknownDriver(t *testing.T) {
	_, err := database.NewConnection("postgres", "", logging.NewDiscardLogger(), 0)
	assert.Error(t, err)
}
