package services

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	chatrepo "github.com/yungbote/chatcore-backend/internal/data/repos/chat"
	domain "github.com/yungbote/chatcore-backend/internal/domain/chat"
	"github.com/yungbote/chatcore-backend/internal/generation"
	"github.com/yungbote/chatcore-backend/internal/platform/dbctx"
	"github.com/yungbote/chatcore-backend/internal/platform/logger"
)

//go:embed title_prompt.yaml
var titlePromptYAML []byte

type TitlePrompt struct {
	Model         string `yaml:"model"`
	MaxChars      int    `yaml:"max_chars"`
	MaxInputChars int    `yaml:"max_input_chars"`
	System        string `yaml:"system"`
	User          string `yaml:"user"`
}

// LoadTitlePrompt parses the embedded prompt, or raw when it is non-empty.
func LoadTitlePrompt(raw []byte) (TitlePrompt, error) {
	if len(raw) == 0 {
		raw = titlePromptYAML
	}
	var p TitlePrompt
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return TitlePrompt{}, fmt.Errorf("parse title prompt: %w", err)
	}
	if strings.TrimSpace(p.System) == "" || !strings.Contains(p.User, "{{conversation}}") {
		return TitlePrompt{}, fmt.Errorf("title prompt needs a system prompt and a {{conversation}} placeholder")
	}
	if p.MaxChars <= 0 {
		p.MaxChars = 80
	}
	if p.MaxInputChars <= 0 {
		p.MaxInputChars = 4000
	}
	return p, nil
}

type TitleService interface {
	// GenerateTitle replaces the placeholder title of chatID. A chat that was
	// renamed in the meantime keeps its name.
	GenerateTitle(ctx context.Context, chatID uuid.UUID) (updated bool, err error)
}

type titleService struct {
	log      *logger.Logger
	chats    chatrepo.ChatRepo
	messages chatrepo.MessageRepo
	gen      generation.TextGenerator
	notify   ChatNotifier
	prompt   TitlePrompt
	model    string
}

func NewTitleService(
	baseLog *logger.Logger,
	chats chatrepo.ChatRepo,
	messages chatrepo.MessageRepo,
	gen generation.TextGenerator,
	notify ChatNotifier,
	prompt TitlePrompt,
	model string,
) TitleService {
	if prompt.Model != "" && model == "" {
		model = prompt.Model
	}
	return &titleService{
		log:      baseLog.With("service", "TitleService"),
		chats:    chats,
		messages: messages,
		gen:      gen,
		notify:   notify,
		prompt:   prompt,
		model:    model,
	}
}

func (s *titleService) GenerateTitle(ctx context.Context, chatID uuid.UUID) (bool, error) {
	dbc := dbctx.New(ctx)
	chat, err := s.chats.GetByID(dbc, chatID)
	if err != nil {
		return false, err
	}
	if !chat.HasPlaceholderTitle() {
		return false, nil
	}
	history, err := s.messages.ListByChat(dbc, chatID)
	if err != nil {
		return false, err
	}
	convo := renderConversation(history, s.prompt.MaxInputChars)
	if convo == "" {
		return false, nil
	}

	raw, err := s.gen.GenerateText(ctx, s.model, s.prompt.System, strings.ReplaceAll(s.prompt.User, "{{conversation}}", convo))
	if err != nil {
		return false, err
	}
	title := sanitizeTitle(raw, s.prompt.MaxChars)
	if title == "" {
		s.log.Warn("title generation returned nothing usable", "chat_id", chatID)
		return false, nil
	}

	updated, err := s.chats.SetTitleIfPlaceholder(dbc, chatID, title)
	if err != nil || !updated {
		return false, err
	}
	chat.Title = title
	s.log.Info("chat titled", "chat_id", chatID)
	if s.notify != nil {
		s.notify.ChatUpdated(chat.OwnerUserID, chat)
	}
	return true, nil
}

func renderConversation(history []*domain.Message, maxChars int) string {
	var b strings.Builder
	for _, m := range history {
		if m.Role == domain.RoleSystem {
			continue
		}
		text := strings.TrimSpace(m.Parts.Text())
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", m.Role, text)
		if b.Len() >= maxChars {
			break
		}
	}
	out := b.String()
	if len(out) > maxChars {
		out = truncateRunes(out, maxChars)
	}
	return strings.TrimSpace(out)
}

// sanitizeTitle keeps the first line, drops wrapping quotes and trailing
// punctuation, and clamps the length on a rune boundary.
func sanitizeTitle(raw string, maxChars int) string {
	t := strings.TrimSpace(raw)
	if i := strings.IndexAny(t, "\r\n"); i >= 0 {
		t = t[:i]
	}
	t = strings.TrimPrefix(t, "Title:")
	t = strings.Trim(strings.TrimSpace(t), "\"'`“”‘’*#")
	t = strings.TrimRightFunc(t, func(r rune) bool {
		return unicode.IsPunct(r) && r != ')' && r != '?' && r != '!'
	})
	t = strings.Join(strings.Fields(t), " ")
	if maxChars > domain.MaxTitleLength || maxChars <= 0 {
		maxChars = domain.MaxTitleLength
	}
	return truncateRunes(t, maxChars)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n]))
}
