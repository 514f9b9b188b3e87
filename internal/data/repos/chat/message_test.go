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
	"github.com/yungbote/chatcore-backend/internal/platform/apierr"
	"github.com/yungbote/chatcore-backend/internal/platform/dbctx"
)

func newMessage(chatID uuid.UUID, seq int64, at time.Time, role domain.Role, text string) *domain.Message {
	return &domain.Message{
		ID:        uuid.New(),
		ChatID:    chatID,
		Seq:       seq,
		Role:      role,
		Parts:     domain.Parts{domain.TextPart{Text: text}},
		CreatedAt: at,
	}
}

func TestMessageRepoOrdersByCreatedThenSeq(t *testing.T) {
	db := testutil.DB(t)
	repo := NewMessageRepo(db, testutil.Logger(t))
	c := testutil.SeedChat(t, db, uuid.New(), nil)
	dbc := dbctx.New(context.Background())
	at := time.Now().UTC().Truncate(time.Microsecond)

	// Same timestamp: seq breaks the tie.
	require.NoError(t, repo.Create(dbc, []*domain.Message{
		newMessage(c.ID, 2, at, domain.RoleAssistant, "second"),
		newMessage(c.ID, 1, at, domain.RoleUser, "first"),
		newMessage(c.ID, 3, at.Add(time.Millisecond), domain.RoleUser, "third"),
	}))

	out, err := repo.ListByChat(dbc, c.ID)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "first", out[0].Parts.Text())
	assert.Equal(t, "second", out[1].Parts.Text())
	assert.Equal(t, "third", out[2].Parts.Text())

	last, err := repo.Last(dbc, c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), last.Seq)
}

func TestMessageRepoDuplicateSeqConflicts(t *testing.T) {
	db := testutil.DB(t)
	repo := NewMessageRepo(db, testutil.Logger(t))
	c := testutil.SeedChat(t, db, uuid.New(), nil)
	dbc := dbctx.New(context.Background())
	at := time.Now().UTC()

	require.NoError(t, repo.Create(dbc, []*domain.Message{newMessage(c.ID, 1, at, domain.RoleUser, "a")}))
	err := repo.Create(dbc, []*domain.Message{newMessage(c.ID, 1, at, domain.RoleUser, "b")})
	assert.ErrorIs(t, err, apierr.ErrConflict)
}

func TestMessageRepoMetadataRoundTrip(t *testing.T) {
	db := testutil.DB(t)
	repo := NewMessageRepo(db, testutil.Logger(t))
	c := testutil.SeedChat(t, db, uuid.New(), nil)
	dbc := dbctx.New(context.Background())

	reasoning := int64(1200)
	m := newMessage(c.ID, 1, time.Now().UTC(), domain.RoleAssistant, "hi")
	m.SetGenerationMetadata(&domain.GenerationMetadata{Model: "free-mini", CompletionTokens: 12, ReasoningDurationMS: &reasoning})
	u := newMessage(c.ID, 2, time.Now().UTC(), domain.RoleUser, "plain")
	require.NoError(t, repo.Create(dbc, []*domain.Message{m, u}))

	got, err := repo.GetByID(dbc, m.ID)
	require.NoError(t, err)
	md := got.GenerationMetadata()
	require.NotNil(t, md)
	assert.Equal(t, "free-mini", md.Model)
	require.NotNil(t, md.ReasoningDurationMS)
	assert.Equal(t, reasoning, *md.ReasoningDurationMS)

	gotUser, err := repo.GetByID(dbc, u.ID)
	require.NoError(t, err)
	assert.Nil(t, gotUser.GenerationMetadata())
}

func TestMessageRepoTruncateAndCount(t *testing.T) {
	db := testutil.DB(t)
	repo := NewMessageRepo(db, testutil.Logger(t))
	c := testutil.SeedChat(t, db, uuid.New(), nil)
	dbc := dbctx.New(context.Background())
	at := time.Now().UTC()

	rows := []*domain.Message{}
	for i := int64(1); i <= 4; i++ {
		role := domain.RoleUser
		if i%2 == 0 {
			role = domain.RoleAssistant
		}
		rows = append(rows, newMessage(c.ID, i, at.Add(time.Duration(i)*time.Millisecond), role, "m"))
	}
	require.NoError(t, repo.Create(dbc, rows))

	n, err := repo.CountByRole(dbc, c.ID, domain.RoleAssistant)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	ids, err := repo.ListIDsAfterSeq(dbc, c.ID, 2)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{rows[2].ID, rows[3].ID}, ids)

	removed, err := repo.DeleteAfterSeq(dbc, c.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	out, err := repo.ListByChat(dbc, c.ID)
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestMessageRepoIdempotencyLookup(t *testing.T) {
	db := testutil.DB(t)
	repo := NewMessageRepo(db, testutil.Logger(t))
	c := testutil.SeedChat(t, db, uuid.New(), nil)
	dbc := dbctx.New(context.Background())

	m := newMessage(c.ID, 1, time.Now().UTC(), domain.RoleUser, "x")
	m.IdempotencyKey = "k-1"
	require.NoError(t, repo.Create(dbc, []*domain.Message{m}))

	got, err := repo.GetByIdempotencyKey(dbc, c.ID, "k-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, m.ID, got.ID)

	none, err := repo.GetByIdempotencyKey(dbc, c.ID, "k-2")
	require.NoError(t, err)
	assert.Nil(t, none)
}
