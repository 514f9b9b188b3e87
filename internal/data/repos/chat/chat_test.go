package chat

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/yungbote/chatcore-backend/internal/data/repos/testutil"
	domain "github.com/yungbote/chatcore-backend/internal/domain/chat"
	"github.com/yungbote/chatcore-backend/internal/platform/apierr"
	"github.com/yungbote/chatcore-backend/internal/platform/dbctx"
)

func TestChatRepoListOrdersPinnedThenRecent(t *testing.T) {
	db := testutil.DB(t)
	repo := NewChatRepo(db, testutil.Logger(t))
	owner := uuid.New()
	base := time.Now().UTC().Add(-time.Hour)

	old := testutil.SeedChat(t, db, owner, func(c *domain.Chat) { c.UpdatedAt = base })
	pinnedOld := testutil.SeedChat(t, db, owner, func(c *domain.Chat) {
		c.UpdatedAt = base.Add(-time.Minute)
		c.IsPinned = true
	})
	recent := testutil.SeedChat(t, db, owner, func(c *domain.Chat) { c.UpdatedAt = base.Add(30 * time.Minute) })
	testutil.SeedChat(t, db, uuid.New(), nil)

	out, err := repo.ListByOwner(dbctx.New(context.Background()), owner, 0)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, []uuid.UUID{pinnedOld.ID, recent.ID, old.ID}, []uuid.UUID{out[0].ID, out[1].ID, out[2].ID})
}

func TestChatRepoTouchIsMonotonic(t *testing.T) {
	db := testutil.DB(t)
	repo := NewChatRepo(db, testutil.Logger(t))
	now := time.Now().UTC().Truncate(time.Microsecond)
	c := testutil.SeedChat(t, db, uuid.New(), func(c *domain.Chat) { c.UpdatedAt = now })
	dbc := dbctx.New(context.Background())

	require.NoError(t, repo.Touch(dbc, c.ID, now.Add(-time.Hour)))
	got, err := repo.GetByID(dbc, c.ID)
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.Equal(now), "touch must never move updated_at backwards")

	later := now.Add(time.Minute)
	require.NoError(t, repo.Touch(dbc, c.ID, later))
	got, err = repo.GetByID(dbc, c.ID)
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.Equal(later))
}

func TestChatRepoDetachForks(t *testing.T) {
	db := testutil.DB(t)
	repo := NewChatRepo(db, testutil.Logger(t))
	dbc := dbctx.New(context.Background())
	parent := testutil.SeedChat(t, db, uuid.New(), nil)
	then := time.Now().UTC().Add(-time.Hour).Truncate(time.Microsecond)
	fork := testutil.SeedChat(t, db, uuid.New(), func(c *domain.Chat) {
		c.ParentChatID = &parent.ID
		c.IsBranch = true
		c.UpdatedAt = then
	})
	other := testutil.SeedChat(t, db, uuid.New(), func(c *domain.Chat) { c.IsBranch = true })

	n, err := repo.DetachForks(dbc, parent.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err := repo.GetByID(dbc, fork.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ParentChatID)
	assert.False(t, got.IsBranch)
	assert.True(t, got.UpdatedAt.Equal(then))

	untouched, err := repo.GetByID(dbc, other.ID)
	require.NoError(t, err)
	assert.True(t, untouched.IsBranch)
}

func TestChatRepoNotFoundMapsToTaxonomy(t *testing.T) {
	db := testutil.DB(t)
	repo := NewChatRepo(db, testutil.Logger(t))
	dbc := dbctx.New(context.Background())

	_, err := repo.GetByID(dbc, uuid.New())
	assert.ErrorIs(t, err, apierr.ErrNotFound)
	assert.ErrorIs(t, repo.Delete(dbc, uuid.New()), apierr.ErrNotFound)
	assert.ErrorIs(t, repo.Touch(dbc, uuid.New(), time.Now()), apierr.ErrNotFound)
}

func TestChatRepoSetTitleIfPlaceholder(t *testing.T) {
	db := testutil.DB(t)
	repo := NewChatRepo(db, testutil.Logger(t))
	dbc := dbctx.New(context.Background())
	c := testutil.SeedChat(t, db, uuid.New(), nil)

	ok, err := repo.SetTitleIfPlaceholder(dbc, c.ID, "Trip planning")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.SetTitleIfPlaceholder(dbc, c.ID, "Something else")
	require.NoError(t, err)
	assert.False(t, ok, "a real title is never overwritten")
}

func TestChatRepoLockRequiresTx(t *testing.T) {
	db := testutil.DB(t)
	repo := NewChatRepo(db, testutil.Logger(t))
	c := testutil.SeedChat(t, db, uuid.New(), nil)

	_, err := repo.LockByID(dbctx.New(context.Background()), c.ID)
	require.Error(t, err)

	err = db.Transaction(func(tx *gorm.DB) error {
		got, err := repo.LockByID(dbctx.Context{Ctx: context.Background(), Tx: tx}, c.ID)
		if err != nil {
			return err
		}
		assert.Equal(t, c.ID, got.ID)
		return nil
	})
	require.NoError(t, err)
}
