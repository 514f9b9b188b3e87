package chat

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/chatcore-backend/internal/data/repos/testutil"
	domain "github.com/yungbote/chatcore-backend/internal/domain/chat"
	"github.com/yungbote/chatcore-backend/internal/platform/dbctx"
)

func TestAttachmentRepoCleanupCandidates(t *testing.T) {
	db := testutil.DB(t)
	repo := NewAttachmentRepo(db, testutil.Logger(t))
	dbc := dbctx.New(context.Background())
	owner := uuid.New()
	old := time.Now().UTC().Add(-2 * time.Hour)

	orphan := testutil.SeedAttachment(t, db, owner, "https://blob/orphan", old)
	referenced := testutil.SeedAttachment(t, db, owner, "https://blob/referenced", old)
	fresh := testutil.SeedAttachment(t, db, owner, "https://blob/fresh", time.Now().UTC())
	stuck := testutil.SeedAttachment(t, db, owner, "https://blob/stuck", time.Now().UTC())
	require.NoError(t, repo.SetStatus(dbc, stuck.ID, domain.AttachmentDeleting))

	chatRow := testutil.SeedChat(t, db, owner, nil)
	require.NoError(t, repo.AddRefs(dbc, []*domain.MessageAttachment{{
		MessageID: uuid.New(), AttachmentID: referenced.ID, ChatID: chatRow.ID, CreatedAt: time.Now().UTC(),
	}}))

	ids, err := repo.ListCleanupCandidates(dbc, time.Now().UTC().Add(-time.Hour), 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{orphan.ID, stuck.ID}, ids)
	assert.NotContains(t, ids, fresh.ID)
}

func TestAttachmentRepoRefs(t *testing.T) {
	db := testutil.DB(t)
	repo := NewAttachmentRepo(db, testutil.Logger(t))
	dbc := dbctx.New(context.Background())
	owner := uuid.New()
	a := testutil.SeedAttachment(t, db, owner, "https://blob/a", time.Now())
	chatA := testutil.SeedChat(t, db, owner, nil)
	chatB := testutil.SeedChat(t, db, owner, nil)
	m1, m2 := uuid.New(), uuid.New()

	refs := []*domain.MessageAttachment{
		{MessageID: m1, AttachmentID: a.ID, ChatID: chatA.ID, CreatedAt: time.Now().UTC()},
		{MessageID: m2, AttachmentID: a.ID, ChatID: chatB.ID, CreatedAt: time.Now().UTC()},
	}
	require.NoError(t, repo.AddRefs(dbc, refs))
	require.NoError(t, repo.AddRefs(dbc, refs[:1]), "duplicate refs are ignored")

	n, err := repo.CountRefs(dbc, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	ids, err := repo.RefAttachmentIDsByChat(dbc, chatA.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a.ID}, ids)

	require.NoError(t, repo.DeleteRefsByChat(dbc, chatA.ID))
	n, err = repo.CountRefs(dbc, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, repo.DeleteRefsByMessages(dbc, []uuid.UUID{m2}))
	n, err = repo.CountRefs(dbc, a.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAttachmentRepoOwnerAndKeyLookups(t *testing.T) {
	db := testutil.DB(t)
	repo := NewAttachmentRepo(db, testutil.Logger(t))
	dbc := dbctx.New(context.Background())
	owner := uuid.New()

	first := testutil.SeedAttachment(t, db, owner, "https://blob/1", time.Now().UTC().Add(-time.Minute))
	second := testutil.SeedAttachment(t, db, owner, "https://blob/2", time.Now().UTC())
	testutil.SeedAttachment(t, db, uuid.New(), "https://blob/other", time.Now().UTC())

	ids, err := repo.ListIDsByOwner(dbc, owner)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{first.ID, second.ID}, ids)

	known, err := repo.KnownObjectKeys(dbc, []string{first.ObjectKey, "attachments/stray"})
	require.NoError(t, err)
	assert.True(t, known[first.ObjectKey])
	assert.False(t, known["attachments/stray"])
}
