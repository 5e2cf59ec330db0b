package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ashureev/tutor-core/internal/domain"
)

func repositories(t *testing.T) map[string]Repository {
	t.Helper()
	sqlite, err := NewSQLite(filepath.Join(t.TempDir(), "repo.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })
	return map[string]Repository{"sqlite": sqlite, "memory": NewMemory()}
}

func TestRepositoryUsersAndProfiles(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			u, err := repo.GetUser(ctx, "u1")
			require.NoError(t, err)
			require.Nil(t, u)

			require.NoError(t, repo.UpsertUser(ctx, &domain.User{
				UserID: "u1", Username: "anon-u1", LastSeenAt: now, CreatedAt: now, UpdatedAt: now,
			}))
			require.NoError(t, repo.SetAccessibility(ctx, "u1", true))

			// a later upsert keeps the preference
			require.NoError(t, repo.UpsertUser(ctx, &domain.User{
				UserID: "u1", Username: "renamed", LastSeenAt: now, CreatedAt: now, UpdatedAt: now,
			}))

			u, err = repo.GetUser(ctx, "u1")
			require.NoError(t, err)
			require.Equal(t, "renamed", u.Username)
			require.True(t, u.Accessibility)

			require.Error(t, repo.SetAccessibility(ctx, "ghost", true))
		})
	}
}

func TestRepositorySessionRegistry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	base := time.Unix(1700000000, 0)

	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			for i, id := range []string{"a", "b"} {
				ts := base.Add(time.Duration(i) * time.Minute)
				require.NoError(t, repo.CreateSession(ctx, &domain.Session{
					ID: id, UserID: "u1", Active: domain.WorkflowNone, CreatedAt: ts, UpdatedAt: ts,
				}))
			}
			require.NoError(t, repo.CreateSession(ctx, &domain.Session{
				ID: "c", UserID: "u2", Active: domain.WorkflowNone, CreatedAt: base, UpdatedAt: base,
			}))
			require.Error(t, repo.CreateSession(ctx, &domain.Session{ID: "a", UserID: "u2", CreatedAt: base, UpdatedAt: base}))

			require.NoError(t, repo.UpdateSession(ctx, &domain.Session{
				ID: "a", Active: domain.WorkflowQuiz, LatestSeq: 4, UpdatedAt: base.Add(time.Hour),
			}))

			sess, err := repo.GetSession(ctx, "a")
			require.NoError(t, err)
			require.Equal(t, "u1", sess.UserID)
			require.Equal(t, domain.WorkflowQuiz, sess.Active)
			require.Equal(t, int64(4), sess.LatestSeq)

			list, err := repo.ListSessions(ctx, "u1")
			require.NoError(t, err)
			require.Len(t, list, 2)
			require.Equal(t, "a", list[0].ID)

			require.ErrorIs(t, repo.UpdateSession(ctx, &domain.Session{ID: "missing"}), domain.ErrSessionNotFound)

			require.NoError(t, repo.DeleteSession(ctx, "a"))
			sess, err = repo.GetSession(ctx, "a")
			require.NoError(t, err)
			require.Nil(t, sess)
		})
	}
}

func TestRepositoryDocuments(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			doc := &domain.Document{ID: "d1", UserID: "u1", Title: "Cells", Content: "Cells divide.", CreatedAt: now, UpdatedAt: now}
			require.NoError(t, repo.PutDocument(ctx, doc))

			doc.Content = "Cells divide by mitosis."
			require.NoError(t, repo.PutDocument(ctx, doc))

			got, err := repo.GetDocument(ctx, "d1")
			require.NoError(t, err)
			require.Equal(t, "Cells divide by mitosis.", got.Content)
			require.Equal(t, "u1", got.UserID)

			missing, err := repo.GetDocument(ctx, "nope")
			require.NoError(t, err)
			require.Nil(t, missing)
		})
	}
}
