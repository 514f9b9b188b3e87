package services

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	chatrepo "github.com/yungbote/chatcore-backend/internal/data/repos/chat"
	"github.com/yungbote/chatcore-backend/internal/data/repos/testutil"
	domain "github.com/yungbote/chatcore-backend/internal/domain/chat"
	"github.com/yungbote/chatcore-backend/internal/generation"
	"github.com/yungbote/chatcore-backend/internal/platform/blob"
	"github.com/yungbote/chatcore-backend/internal/platform/dbctx"
	"github.com/yungbote/chatcore-backend/internal/ratelimit"
)

type fixture struct {
	db          *gorm.DB
	chats       chatrepo.ChatRepo
	messages    chatrepo.MessageRepo
	attachments chatrepo.AttachmentRepo
	store       *blob.MemoryStore
	dispatch    *recordingDispatcher
	notify      *recordingNotifier

	chatSvc    ChatService
	msgSvc     MessageService
	attSvc     AttachmentService
	sharingSvc SharingService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gdb := testutil.DB(t)
	log := testutil.Logger(t)
	f := &fixture{
		db:          gdb,
		chats:       chatrepo.NewChatRepo(gdb, log),
		messages:    chatrepo.NewMessageRepo(gdb, log),
		attachments: chatrepo.NewAttachmentRepo(gdb, log),
		store:       blob.NewMemoryStore("https://blobs.test"),
		dispatch:    &recordingDispatcher{},
		notify:      &recordingNotifier{},
	}
	f.chatSvc = NewChatService(gdb, log, f.chats, f.messages, f.attachments, f.dispatch, nil, f.notify)
	f.msgSvc = NewMessageService(gdb, log, f.chats, f.messages, f.attachments, f.dispatch, f.notify)
	f.attSvc = NewAttachmentService(gdb, log, f.attachments, f.store, AttachmentConfig{})
	f.sharingSvc = NewSharingService(gdb, log, f.chats, f.messages, f.attachments, nil, f.notify)
	return f
}

func (f *fixture) sessions(t *testing.T, gen generation.Generator, quota QuotaLimiter) SessionService {
	t.Helper()
	return f.sessionsWith(t, gen, quota, SessionConfig{DefaultModel: "free-model"})
}

func (f *fixture) sessionsWith(t *testing.T, gen generation.Generator, quota QuotaLimiter, cfg SessionConfig) SessionService {
	t.Helper()
	return NewSessionService(
		testutil.Logger(t),
		f.chats,
		f.messages,
		f.msgSvc,
		f.sharingSvc,
		gen,
		quota,
		NewMemoryTurnLocker(),
		NewSessionRegistry(),
		f.dispatch,
		f.notify,
		cfg,
	)
}

func (f *fixture) newChat(t *testing.T, ownerID uuid.UUID) *domain.Chat {
	t.Helper()
	c, err := f.chatSvc.CreateChat(dbctx.New(context.Background()), ownerID, "")
	require.NoError(t, err)
	return c
}

func (f *fixture) say(t *testing.T, chatID, authorID uuid.UUID, role domain.Role, text string) *domain.Message {
	t.Helper()
	res, err := f.msgSvc.AppendMessage(dbctx.New(context.Background()), AppendInput{
		ChatID:   chatID,
		AuthorID: authorID,
		Role:     role,
		Parts:    domain.Parts{domain.TextPart{Text: text}},
	})
	require.NoError(t, err)
	return res.Message
}

func (f *fixture) list(t *testing.T, chatID uuid.UUID) []*domain.Message {
	t.Helper()
	msgs, err := f.messages.ListByChat(dbctx.New(context.Background()), chatID)
	require.NoError(t, err)
	return msgs
}

func (f *fixture) upload(t *testing.T, ownerID uuid.UUID, name string) *domain.Attachment {
	t.Helper()
	a, err := f.attSvc.Upload(dbctx.New(context.Background()), UploadInput{
		OwnerID:     ownerID,
		Filename:    name,
		ContentType: "image/png",
		Body:        strings.NewReader("png-bytes"),
	})
	require.NoError(t, err)
	return a
}

func texts(msgs []*domain.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Parts.Text())
	}
	return out
}

type recordingDispatcher struct {
	mu       sync.Mutex
	titles   []uuid.UUID
	cleanups [][]uuid.UUID
}

func (d *recordingDispatcher) EnqueueTitle(_ context.Context, chatID uuid.UUID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.titles = append(d.titles, chatID)
	return nil
}

func (d *recordingDispatcher) EnqueueAttachmentCleanup(_ context.Context, ids []uuid.UUID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cleanups = append(d.cleanups, append([]uuid.UUID(nil), ids...))
	return nil
}

func (d *recordingDispatcher) cleanupIDs() []uuid.UUID {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []uuid.UUID
	for _, batch := range d.cleanups {
		out = append(out, batch...)
	}
	return out
}

func (d *recordingDispatcher) titleCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.titles)
}

type recordingNotifier struct {
	mu       sync.Mutex
	events   []string
	sessions []SessionSnapshot
}

func (n *recordingNotifier) add(ev string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) ChatCreated(uuid.UUID, *domain.Chat) { n.add("chat_created") }
func (n *recordingNotifier) ChatUpdated(uuid.UUID, *domain.Chat) { n.add("chat_updated") }
func (n *recordingNotifier) ChatDeleted(uuid.UUID, uuid.UUID)    { n.add("chat_deleted") }

func (n *recordingNotifier) MessageCommitted(uuid.UUID, uuid.UUID, *domain.Message) {
	n.add("message_committed")
}

func (n *recordingNotifier) MessagesTruncated(uuid.UUID, uuid.UUID, uuid.UUID, int64) {
	n.add("messages_truncated")
}

func (n *recordingNotifier) SessionState(_ uuid.UUID, snap SessionSnapshot) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sessions = append(n.sessions, snap)
}

func (n *recordingNotifier) states() []SessionState {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]SessionState, 0, len(n.sessions))
	for _, s := range n.sessions {
		out = append(out, s.State)
	}
	return out
}

// mockGenerator hands out whatever stream the test queued with On("Generate").
type mockGenerator struct {
	mock.Mock
}

func (m *mockGenerator) Generate(ctx context.Context, req generation.Request) (generation.Stream, error) {
	args := m.Called(ctx, req)
	s, _ := args.Get(0).(generation.Stream)
	return s, args.Error(1)
}

// blockingStream emits its fragments, then blocks until ctx is done.
type blockingStream struct {
	ctx       context.Context
	fragments []generation.Fragment
	started   chan struct{}
	once      sync.Once
	pos       int
}

func newBlockingStream(ctx context.Context, fragments ...generation.Fragment) *blockingStream {
	return &blockingStream{ctx: ctx, fragments: fragments, started: make(chan struct{})}
}

func (s *blockingStream) Recv() (*generation.Fragment, error) {
	if s.pos < len(s.fragments) {
		f := s.fragments[s.pos]
		s.pos++
		return &f, nil
	}
	s.once.Do(func() { close(s.started) })
	<-s.ctx.Done()
	return nil, s.ctx.Err()
}

func (s *blockingStream) Usage() generation.Usage { return generation.Usage{} }
func (s *blockingStream) Close() error            { return nil }

// ctxGenerator builds a blocking stream bound to the generation context.
type ctxGenerator struct {
	fragments []generation.Fragment
	streams   chan *blockingStream
}

func (g *ctxGenerator) Generate(ctx context.Context, _ generation.Request) (generation.Stream, error) {
	s := newBlockingStream(ctx, g.fragments...)
	if g.streams != nil {
		g.streams <- s
	}
	return s, nil
}

type recordingSink struct {
	mu        sync.Mutex
	user      []*domain.Message
	fragments []generation.Fragment
	states    []SessionState
}

func (s *recordingSink) UserMessage(m *domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = append(s.user, m)
}

func (s *recordingSink) Fragment(f generation.Fragment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fragments = append(s.fragments, f)
}

func (s *recordingSink) State(snap SessionSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, snap.State)
}

func newLimiter(t *testing.T, capacity int, resources ...string) *ratelimit.Limiter {
	t.Helper()
	l, err := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), testutil.Logger(t), ratelimit.Config{
		Capacity:  capacity,
		Resources: resources,
	})
	require.NoError(t, err)
	return l
}
