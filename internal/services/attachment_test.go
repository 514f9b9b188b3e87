package services

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/chatcore-backend/internal/data/repos/testutil"
	domain "github.com/yungbote/chatcore-backend/internal/domain/chat"
	"github.com/yungbote/chatcore-backend/internal/platform/apierr"
	"github.com/yungbote/chatcore-backend/internal/platform/blob"
	"github.com/yungbote/chatcore-backend/internal/platform/dbctx"
)

func TestUploadStoresBlobAndRow(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	a, err := f.attSvc.Upload(dbctx.New(context.Background()), UploadInput{
		OwnerID:  owner,
		Filename: `C:\photos\cat.png`,
		Body:     strings.NewReader("meow"),
	})
	require.NoError(t, err)
	assert.Equal(t, "cat.png", a.Name)
	assert.Equal(t, "image/png", a.ContentType)
	assert.Equal(t, int64(4), a.SizeBytes)
	assert.True(t, strings.HasPrefix(a.ObjectKey, blob.AttachmentPrefix))
	assert.True(t, strings.HasPrefix(a.URL, "https://blobs.test/"))
	assert.True(t, f.store.Has(a.ObjectKey))

	byURL, err := f.attachments.GetByURL(dbctx.New(context.Background()), a.URL)
	require.NoError(t, err)
	assert.Equal(t, a.ID, byURL.ID)
}

func TestUploadRejectsOversizeAndEmpty(t *testing.T) {
	f := newFixture(t)
	svc := NewAttachmentService(f.db, testutil.Logger(t), f.attachments, f.store, AttachmentConfig{MaxBytes: 8})
	ctx := dbctx.New(context.Background())
	owner := uuid.New()

	_, err := svc.Upload(ctx, UploadInput{OwnerID: owner, Filename: "big.bin", Body: bytes.NewReader(make([]byte, 9))})
	assert.ErrorIs(t, err, apierr.ErrValidation)
	_, err = svc.Upload(ctx, UploadInput{OwnerID: owner, Filename: "empty.txt", Body: strings.NewReader("")})
	assert.ErrorIs(t, err, apierr.ErrValidation)
	_, err = svc.Upload(ctx, UploadInput{OwnerID: owner, Filename: "", Body: strings.NewReader("x")})
	assert.ErrorIs(t, err, apierr.ErrValidation)

	objs, err := f.store.List(context.Background(), blob.AttachmentPrefix)
	require.NoError(t, err)
	assert.Empty(t, objs)
}

func TestCleanupSkipsReferencedAttachments(t *testing.T) {
	f := newFixture(t)
	ctx := dbctx.New(context.Background())
	owner := uuid.New()
	c := f.newChat(t, owner)
	used := f.upload(t, owner, "used.png")
	free := f.upload(t, owner, "free.png")
	_, err := f.msgSvc.AppendMessage(ctx, AppendInput{
		ChatID:   c.ID,
		AuthorID: owner,
		Role:     domain.RoleUser,
		Parts:    domain.Parts{domain.AttachmentRefPart{URL: used.URL}},
	})
	require.NoError(t, err)

	n, err := f.attSvc.Cleanup(context.Background(), []uuid.UUID{used.ID, free.ID, free.ID, uuid.New()})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, f.store.Has(used.ObjectKey))
	assert.False(t, f.store.Has(free.ObjectKey))

	// a second pass is a no-op
	n, err = f.attSvc.Cleanup(context.Background(), []uuid.UUID{free.ID})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDeletingAttachmentCannotBeReferenced(t *testing.T) {
	f := newFixture(t)
	ctx := dbctx.New(context.Background())
	owner := uuid.New()
	c := f.newChat(t, owner)
	a := f.upload(t, owner, "race.png")

	// cleanup won the lock and marked the row before the append arrived
	require.NoError(t, f.attachments.SetStatus(ctx, a.ID, domain.AttachmentDeleting))
	_, err := f.msgSvc.AppendMessage(ctx, AppendInput{
		ChatID:   c.ID,
		AuthorID: owner,
		Role:     domain.RoleUser,
		Parts:    domain.Parts{domain.AttachmentRefPart{URL: a.URL}},
	})
	require.ErrorIs(t, err, apierr.ErrValidation)

	n, err := f.attSvc.Cleanup(context.Background(), []uuid.UUID{a.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSweepRemovesOrphansAndStrayBlobs(t *testing.T) {
	f := newFixture(t)
	ctx := dbctx.New(context.Background())
	owner := uuid.New()
	c := f.newChat(t, owner)
	old := time.Now().Add(-2 * DefaultOrphanGrace)

	orphan := testutil.SeedAttachment(t, f.db, owner, "https://blobs.test/orphan.png", old)
	_, err := f.store.Upload(context.Background(), orphan.ObjectKey, "image/png", strings.NewReader("x"))
	require.NoError(t, err)

	referenced := testutil.SeedAttachment(t, f.db, owner, "https://blobs.test/kept.png", old)
	_, err = f.msgSvc.AppendMessage(ctx, AppendInput{
		ChatID:   c.ID,
		AuthorID: owner,
		Role:     domain.RoleUser,
		Parts:    domain.Parts{domain.AttachmentRefPart{URL: referenced.URL}},
	})
	require.NoError(t, err)

	fresh := f.upload(t, owner, "fresh.png")

	stray := blob.NewAttachmentKey(owner, "stray.png")
	_, err = f.store.Upload(context.Background(), stray, "image/png", strings.NewReader("x"))
	require.NoError(t, err)
	f.store.Touch(stray, old)
	f.store.Touch(orphan.ObjectKey, old)

	res, err := f.attSvc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Rows: 1, Blobs: 1}, res)

	_, err = f.attachments.GetByID(ctx, orphan.ID)
	assert.ErrorIs(t, err, apierr.ErrNotFound)
	assert.False(t, f.store.Has(orphan.ObjectKey))
	assert.False(t, f.store.Has(stray))
	assert.True(t, f.store.Has(fresh.ObjectKey))

	_, err = f.attachments.GetByID(ctx, referenced.ID)
	assert.NoError(t, err)
}
