package servers

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storeImplementations(t *testing.T) map[string]func() Store {
	return map[string]func() Store{
		"file": func() Store {
			s, err := NewFileStore(filepath.Join(t.TempDir(), "servers.yaml"))
			require.NoError(t, err)
			return s
		},
		"sqlite": func() Store {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "servers.db"))
			require.NoError(t, err)
			return s
		},
	}
}

func TestStore_Contract(t *testing.T) {
	for name, newStore := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore()
			defer s.Close()

			expires := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
			rec := &Record{
				ID: "srv-1", UserID: "alice", URL: "https://mcp.example.com/mcp", Name: "Example",
				Enabled: true, AuthStatus: AuthStatusAuthorized,
				AccessToken: "at", RefreshToken: "rt", TokenExpiresAt: &expires, ClientID: "cid",
			}
			require.NoError(t, s.Create(ctx, rec))
			require.NoError(t, s.Create(ctx, &Record{ID: "srv-2", UserID: "bob", URL: "https://b", Name: "B"}))

			err := s.Create(ctx, rec)
			assert.ErrorIs(t, err, ErrAlreadyExists)

			got, err := s.Get(ctx, "srv-1")
			require.NoError(t, err)
			assert.Equal(t, rec.URL, got.URL)
			assert.Equal(t, AuthStatusAuthorized, got.AuthStatus)
			require.NotNil(t, got.TokenExpiresAt)
			assert.True(t, expires.Equal(*got.TokenExpiresAt))

			bob, err := s.Get(ctx, "srv-2")
			require.NoError(t, err)
			assert.Equal(t, AuthStatusUnauthenticated, bob.AuthStatus)
			assert.Nil(t, bob.TokenExpiresAt)

			list, err := s.ListByUser(ctx, "alice")
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, "srv-1", list[0].ID)

			all, err := s.ListByUser(ctx, "")
			require.NoError(t, err)
			assert.Len(t, all, 2)

			got.ClearTokens()
			require.NoError(t, s.Update(ctx, got))
			got, err = s.Get(ctx, "srv-1")
			require.NoError(t, err)
			assert.Equal(t, AuthStatusRequired, got.AuthStatus)
			assert.False(t, got.HasToken())
			assert.Empty(t, got.RefreshToken)
			assert.Nil(t, got.TokenExpiresAt)

			assert.ErrorIs(t, s.Update(ctx, &Record{ID: "nope"}), ErrNotFound)

			require.NoError(t, s.Delete(ctx, "srv-1"))
			_, err = s.Get(ctx, "srv-1")
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, s.Delete(ctx, "srv-1"), ErrNotFound)
		})
	}
}

func TestRecord_CloneIsDeep(t *testing.T) {
	ts := time.Now()
	r := &Record{ID: "x", TokenExpiresAt: &ts}
	c := r.Clone()
	*c.TokenExpiresAt = ts.Add(time.Hour)
	assert.Equal(t, ts, *r.TokenExpiresAt)
}

func TestFileStore_ReadsHandWrittenYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "servers.yaml")
	content := `servers:
  - id: gh
    userId: alice
    url: https://api.githubcopilot.com/mcp/
    name: GitHub
    enabled: true
  - name: missing-id
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	s, err := NewFileStore(path)
	require.NoError(t, err)
	defer s.Close()

	list, err := s.ListByUser(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "GitHub", list[0].Name)
	assert.Equal(t, AuthStatusUnauthenticated, list[0].AuthStatus)
}

func TestFileStore_WatchReloads(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	path := filepath.Join(t.TempDir(), "servers.yaml")
	s, err := NewFileStore(path)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Watch(ctx))

	content := "servers:\n  - id: added\n    userId: alice\n    url: https://x\n    name: X\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	require.Eventually(t, func() bool {
		_, err := s.Get(ctx, "added")
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
}
