package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/chatcore-backend/internal/data/repos/testutil"
	domain "github.com/yungbote/chatcore-backend/internal/domain/chat"
	"github.com/yungbote/chatcore-backend/internal/platform/dbctx"
)

type mockTextGenerator struct {
	mock.Mock
}

func (m *mockTextGenerator) GenerateText(ctx context.Context, model, system, user string) (string, error) {
	args := m.Called(ctx, model, system, user)
	return args.String(0), args.Error(1)
}

func newTitleService(t *testing.T, f *fixture, gen *mockTextGenerator) TitleService {
	t.Helper()
	prompt, err := LoadTitlePrompt(nil)
	require.NoError(t, err)
	return NewTitleService(testutil.Logger(t), f.chats, f.messages, gen, f.notify, prompt, "title-model")
}

func TestLoadTitlePrompt(t *testing.T) {
	p, err := LoadTitlePrompt(nil)
	require.NoError(t, err)
	assert.Equal(t, 80, p.MaxChars)
	assert.Contains(t, p.User, "{{conversation}}")

	_, err = LoadTitlePrompt([]byte("system: hi\nuser: no placeholder\n"))
	assert.Error(t, err)
	_, err = LoadTitlePrompt([]byte("system: [unclosed"))
	assert.Error(t, err)
}

func TestGenerateTitleReplacesPlaceholder(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	c := f.newChat(t, owner)
	f.say(t, c.ID, owner, domain.RoleUser, "How do I bake sourdough?")
	f.say(t, c.ID, owner, domain.RoleAssistant, "Start with a starter.")

	gen := &mockTextGenerator{}
	gen.On("GenerateText", mock.Anything, "title-model", mock.Anything, mock.MatchedBy(func(user string) bool {
		return strings.Contains(user, "user: How do I bake sourdough?") && strings.Contains(user, "assistant: Start with a starter.")
	})).Return("\"Baking Sourdough Bread.\"\nextra line", nil).Once()

	updated, err := newTitleService(t, f, gen).GenerateTitle(context.Background(), c.ID)
	require.NoError(t, err)
	assert.True(t, updated)

	got, err := f.chats.GetByID(dbctx.New(context.Background()), c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Baking Sourdough Bread", got.Title)
	assert.Contains(t, f.notify.events, "chat_updated")
}

func TestGenerateTitleKeepsUserRename(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	c := f.newChat(t, owner)
	f.say(t, c.ID, owner, domain.RoleUser, "hello")

	gen := &mockTextGenerator{}
	gen.On("GenerateText", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			_, err := f.chatSvc.RenameChat(dbctx.New(context.Background()), c.ID, owner, "Mine")
			require.NoError(t, err)
		}).
		Return("Generated", nil).Once()

	updated, err := newTitleService(t, f, gen).GenerateTitle(context.Background(), c.ID)
	require.NoError(t, err)
	assert.False(t, updated)

	got, err := f.chats.GetByID(dbctx.New(context.Background()), c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Mine", got.Title)

	again, err := newTitleService(t, f, gen).GenerateTitle(context.Background(), c.ID)
	require.NoError(t, err)
	assert.False(t, again)
	gen.AssertNumberOfCalls(t, "GenerateText", 1)
}

func TestGenerateTitleFailureLeavesPlaceholder(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	c := f.newChat(t, owner)
	f.say(t, c.ID, owner, domain.RoleUser, "hello")

	gen := &mockTextGenerator{}
	gen.On("GenerateText", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("rate limited")).Once()
	_, err := newTitleService(t, f, gen).GenerateTitle(context.Background(), c.ID)
	require.Error(t, err)

	got, err := f.chats.GetByID(dbctx.New(context.Background()), c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PlaceholderTitle, got.Title)
}

func TestSanitizeTitle(t *testing.T) {
	cases := map[string]string{
		"  Plain title  ":       "Plain title",
		"Title: \"Quoted\"":     "Quoted",
		"Ends with a period.":   "Ends with a period",
		"Is it a question?":     "Is it a question?",
		"**Bold**\nsecond":      "Bold",
		"multi   space\tinside": "multi space inside",
		"":                      "",
		"“Smart quotes”":        "Smart quotes",
	}
	for in, want := range cases {
		if got := sanitizeTitle(in, 80); got != want {
			t.Fatalf("sanitizeTitle(%q) = %q, want %q", in, got, want)
		}
	}
	if got := sanitizeTitle("abcdefghij", 4); got != "abcd" {
		t.Fatalf("clamp = %q", got)
	}
}
