package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/yungbote/chatcore-backend/internal/domain/chat"
	"github.com/yungbote/chatcore-backend/internal/platform/apierr"
	"github.com/yungbote/chatcore-backend/internal/platform/dbctx"
)

func TestAppendKeepsArrivalOrder(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	c := f.newChat(t, owner)

	f.say(t, c.ID, owner, domain.RoleUser, "M1")
	f.say(t, c.ID, owner, domain.RoleAssistant, "M2")
	f.say(t, c.ID, owner, domain.RoleUser, "M3")

	msgs := f.list(t, c.ID)
	assert.Equal(t, []string{"M1", "M2", "M3"}, texts(msgs))
	for i, m := range msgs {
		assert.Equal(t, int64(i+1), m.Seq)
	}
}

func TestAppendOrderSurvivesClockSkew(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	c := f.newChat(t, owner)
	f.say(t, c.ID, owner, domain.RoleUser, "first")

	svc := f.msgSvc.(*messageService)
	svc.now = func() time.Time { return time.Now().Add(-time.Hour) }
	f.say(t, c.ID, owner, domain.RoleUser, "second")

	msgs := f.list(t, c.ID)
	require.Len(t, msgs, 2)
	assert.Equal(t, []string{"first", "second"}, texts(msgs))
	assert.False(t, msgs[1].CreatedAt.Before(msgs[0].CreatedAt))
}

func TestConcurrentAppendsGetDistinctSeqs(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	c := f.newChat(t, owner)

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.msgSvc.AppendMessage(dbctx.New(context.Background()), AppendInput{
				ChatID:   c.ID,
				AuthorID: owner,
				Role:     domain.RoleUser,
				Parts:    domain.Parts{domain.TextPart{Text: fmt.Sprintf("m%d", i)}},
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	msgs := f.list(t, c.ID)
	require.Len(t, msgs, n)
	seen := map[int64]bool{}
	for i, m := range msgs {
		assert.Equal(t, int64(i+1), m.Seq)
		seen[m.Seq] = true
		if i > 0 {
			assert.False(t, m.CreatedAt.Before(msgs[i-1].CreatedAt))
		}
	}
	assert.Len(t, seen, n)
}

func TestAppendTouchesUpdatedAtMonotonically(t *testing.T) {
	f := newFixture(t)
	ctx := dbctx.New(context.Background())
	owner := uuid.New()
	c := f.newChat(t, owner)

	m := f.say(t, c.ID, owner, domain.RoleUser, "hello")
	after, err := f.chats.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, after.UpdatedAt.Before(c.UpdatedAt))
	assert.False(t, after.UpdatedAt.Before(m.CreatedAt))

	require.NoError(t, f.chats.Touch(ctx, c.ID, after.UpdatedAt.Add(-time.Minute)))
	again, err := f.chats.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, again.UpdatedAt.Equal(after.UpdatedAt))
}

func TestAppendValidation(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	c := f.newChat(t, owner)
	md := &domain.GenerationMetadata{Model: "m"}

	cases := []struct {
		name string
		in   AppendInput
	}{
		{"no parts", AppendInput{ChatID: c.ID, AuthorID: owner, Role: domain.RoleUser}},
		{"bad role", AppendInput{ChatID: c.ID, AuthorID: owner, Role: "tool", Parts: domain.Parts{domain.TextPart{Text: "x"}}}},
		{"empty text", AppendInput{ChatID: c.ID, AuthorID: owner, Role: domain.RoleUser, Parts: domain.Parts{domain.TextPart{Text: "  "}}}},
		{"user metadata", AppendInput{ChatID: c.ID, AuthorID: owner, Role: domain.RoleUser, Parts: domain.Parts{domain.TextPart{Text: "x"}}, Metadata: md}},
		{"missing author", AppendInput{ChatID: c.ID, Role: domain.RoleUser, Parts: domain.Parts{domain.TextPart{Text: "x"}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.msgSvc.AppendMessage(dbctx.New(context.Background()), tc.in)
			assert.ErrorIs(t, err, apierr.ErrValidation)
		})
	}
	assert.Empty(t, f.list(t, c.ID))
}

func TestAppendIdempotencyKeyReplays(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	c := f.newChat(t, owner)
	in := AppendInput{
		ChatID:         c.ID,
		AuthorID:       owner,
		Role:           domain.RoleUser,
		Parts:          domain.Parts{domain.TextPart{Text: "once"}},
		IdempotencyKey: "k-1",
	}

	first, err := f.msgSvc.AppendMessage(dbctx.New(context.Background()), in)
	require.NoError(t, err)
	second, err := f.msgSvc.AppendMessage(dbctx.New(context.Background()), in)
	require.NoError(t, err)

	assert.False(t, first.Replayed)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Message.ID, second.Message.ID)
	assert.Len(t, f.list(t, c.ID), 1)
}

func TestAppendAssistantMetadataRoundTrip(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	c := f.newChat(t, owner)
	reasoning := int64(120)
	_, err := f.msgSvc.AppendMessage(dbctx.New(context.Background()), AppendInput{
		ChatID:   c.ID,
		AuthorID: owner,
		Role:     domain.RoleAssistant,
		Parts: domain.Parts{
			domain.ReasoningPart{Text: "thinking"},
			domain.ToolInvocationPart{ToolName: "memory_write", State: domain.ToolStateCall},
			domain.TextPart{Text: "done"},
		},
		Metadata: &domain.GenerationMetadata{Model: "m", CompletionTokens: 3, ReasoningDurationMS: &reasoning},
	})
	require.NoError(t, err)

	msgs := f.list(t, c.ID)
	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].Parts, 3)
	tool, ok := msgs[0].Parts[1].(domain.ToolInvocationPart)
	require.True(t, ok)
	assert.Equal(t, domain.ToolStateCall, tool.State)
	md := msgs[0].GenerationMetadata()
	require.NotNil(t, md)
	assert.Equal(t, 3, md.CompletionTokens)
	require.NotNil(t, md.ReasoningDurationMS)
	assert.Equal(t, int64(120), *md.ReasoningDurationMS)
}

func TestAppendAttachmentRules(t *testing.T) {
	f := newFixture(t)
	ctx := dbctx.New(context.Background())
	owner, other := uuid.New(), uuid.New()
	c := f.newChat(t, owner)
	mine := f.upload(t, owner, "mine.png")
	theirs := f.upload(t, other, "theirs.png")
	dying := f.upload(t, owner, "dying.png")
	require.NoError(t, f.attachments.SetStatus(ctx, dying.ID, domain.AttachmentDeleting))

	withRef := func(url string) AppendInput {
		return AppendInput{ChatID: c.ID, AuthorID: owner, Role: domain.RoleUser, Parts: domain.Parts{domain.AttachmentRefPart{URL: url}}}
	}

	_, err := f.msgSvc.AppendMessage(ctx, withRef(theirs.URL))
	assert.ErrorIs(t, err, apierr.ErrForbidden)
	_, err = f.msgSvc.AppendMessage(ctx, withRef(dying.URL))
	assert.ErrorIs(t, err, apierr.ErrValidation)
	_, err = f.msgSvc.AppendMessage(ctx, withRef("https://elsewhere.test/x.png"))
	assert.ErrorIs(t, err, apierr.ErrValidation)

	_, err = f.msgSvc.AppendMessage(ctx, withRef(mine.URL))
	require.NoError(t, err)
	refs, err := f.attachments.CountRefs(ctx, mine.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), refs)
}

func TestListMessagesAccess(t *testing.T) {
	f := newFixture(t)
	ctx := dbctx.New(context.Background())
	owner, stranger := uuid.New(), uuid.New()
	c := f.newChat(t, owner)
	f.say(t, c.ID, owner, domain.RoleUser, "hi")

	_, err := f.msgSvc.ListMessages(ctx, c.ID, stranger)
	require.ErrorIs(t, err, apierr.ErrForbidden)

	_, err = f.sharingSvc.ShareChat(ctx, c.ID, owner, true)
	require.NoError(t, err)
	msgs, err := f.msgSvc.ListMessages(ctx, c.ID, stranger)
	require.NoError(t, err)
	assert.Equal(t, []string{"hi"}, texts(msgs))
}

func TestTruncateFrom(t *testing.T) {
	f := newFixture(t)
	ctx := dbctx.New(context.Background())
	owner := uuid.New()
	c := f.newChat(t, owner)
	att := f.upload(t, owner, "tail.png")

	anchor := f.say(t, c.ID, owner, domain.RoleUser, "keep")
	f.say(t, c.ID, owner, domain.RoleAssistant, "drop 1")
	_, err := f.msgSvc.AppendMessage(ctx, AppendInput{
		ChatID:   c.ID,
		AuthorID: owner,
		Role:     domain.RoleUser,
		Parts:    domain.Parts{domain.TextPart{Text: "drop 2"}, domain.AttachmentRefPart{URL: att.URL}},
	})
	require.NoError(t, err)

	_, err = f.msgSvc.TruncateFrom(ctx, c.ID, uuid.New(), anchor.ID)
	require.ErrorIs(t, err, apierr.ErrForbidden)

	removed, err := f.msgSvc.TruncateFrom(ctx, c.ID, owner, anchor.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)
	assert.Equal(t, []string{"keep"}, texts(f.list(t, c.ID)))
	assert.Equal(t, []uuid.UUID{att.ID}, f.dispatch.cleanupIDs())

	next := f.say(t, c.ID, owner, domain.RoleUser, "edited")
	assert.Equal(t, int64(4), next.Seq)
	assert.Equal(t, []string{"keep", "edited"}, texts(f.list(t, c.ID)))

	other := f.newChat(t, owner)
	_, err = f.msgSvc.TruncateFrom(ctx, other.ID, owner, anchor.ID)
	assert.ErrorIs(t, err, apierr.ErrNotFound)
}
