package generation

import (
	"context"
	"encoding/json"
	"io"

	domain "github.com/yungbote/chatcore-backend/internal/domain/chat"
)

type FragmentKind string

const (
	KindTextDelta      FragmentKind = "text-delta"
	KindReasoningDelta FragmentKind = "reasoning-delta"
	KindToolCall       FragmentKind = "tool-call"
	KindToolResult     FragmentKind = "tool-result"
)

// Fragment is one streamed piece of an assistant turn. Fragments that share
// an Index build the same part.
type Fragment struct {
	Index      int             `json:"index"`
	Kind       FragmentKind    `json:"kind"`
	Delta      string          `json:"delta,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	Args       json.RawMessage `json:"args,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type Request struct {
	Model        string
	Instructions string
	// History is the full ordered conversation, ending with the user turn being answered.
	History []*domain.Message
}

// Stream is a finite, non-restartable sequence of fragments.
type Stream interface {
	// Recv returns io.EOF once the upstream finished cleanly.
	Recv() (*Fragment, error)
	// Usage is meaningful after Recv returned io.EOF.
	Usage() Usage
	Close() error
}

type Generator interface {
	Generate(ctx context.Context, req Request) (Stream, error)
}

// TextGenerator produces a single short completion, used for titles.
type TextGenerator interface {
	GenerateText(ctx context.Context, model string, system string, user string) (string, error)
}

// SliceStream replays a fixed fragment list. Err, when set, is returned
// instead of io.EOF after the last fragment.
type SliceStream struct {
	Fragments []Fragment
	Err       error
	Tokens    Usage

	pos    int
	closed bool
}

func (s *SliceStream) Recv() (*Fragment, error) {
	if s.closed {
		return nil, io.ErrClosedPipe
	}
	if s.pos >= len(s.Fragments) {
		if s.Err != nil {
			return nil, s.Err
		}
		return nil, io.EOF
	}
	f := s.Fragments[s.pos]
	s.pos++
	return &f, nil
}

func (s *SliceStream) Usage() Usage { return s.Tokens }

func (s *SliceStream) Close() error {
	s.closed = true
	return nil
}

// TextDeltas splits text into one text-delta fragment per word, all at index 0.
func TextDeltas(words ...string) []Fragment {
	out := make([]Fragment, 0, len(words))
	for _, w := range words {
		out = append(out, Fragment{Index: 0, Kind: KindTextDelta, Delta: w})
	}
	return out
}
