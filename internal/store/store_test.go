package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ambientd/internal/config"
)

func sampleInstance(id string) config.InstanceConfig {
	return config.InstanceConfig{
		ID:           id,
		FriendlyName: "Living Room",
		Enabled:      true,
		Device:       config.DeviceConfig{Kind: config.DeviceMem},
	}
}

func testStores(t *testing.T) map[string]config.Store {
	sqlite, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	file := NewFileStore(filepath.Join(t.TempDir(), "ambientd.yaml"))

	return map[string]config.Store{
		"sqlite": sqlite,
		"file":   file,
	}
}

func TestUpsertListDeleteInstance(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ic := sampleInstance("living-room")
			require.NoError(t, s.UpsertInstance(ic))

			list, err := s.ListInstances()
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, "living-room", list[0].ID)
			assert.Equal(t, "Living Room", list[0].FriendlyName)

			require.NoError(t, s.DeleteInstance("living-room"))
			list, err = s.ListInstances()
			require.NoError(t, err)
			assert.Empty(t, list)
		})
	}
}

func TestIssueAndCheckToken(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			sess, err := s.IssueToken("admin", time.Hour)
			require.NoError(t, err)
			assert.NotEmpty(t, sess.Token)

			got, ok, err := s.CheckToken(sess.Token)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "admin", got.User)

			_, ok, err = s.CheckToken("not-a-real-token")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			sess, err := s.IssueToken("admin", -time.Hour)
			require.NoError(t, err)

			_, ok, err := s.CheckToken(sess.Token)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}
