package generation

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	domain "github.com/yungbote/chatcore-backend/internal/domain/chat"
)

type slot struct {
	kind domain.PartKind
	text strings.Builder
	tool domain.ToolInvocationPart
}

// Accumulator assembles fragments into parts keyed by fragment index. It is
// owned by a single session goroutine.
type Accumulator struct {
	now   func() time.Time
	start time.Time

	slots map[int]*slot

	firstTokenAt   time.Time
	lastTokenAt    time.Time
	reasoningStart time.Time
	reasoningEnd   time.Time
	textBytes      int
}

func NewAccumulator(now func() time.Time) *Accumulator {
	if now == nil {
		now = time.Now
	}
	return &Accumulator{now: now, start: now(), slots: map[int]*slot{}}
}

func (a *Accumulator) Add(f Fragment) error {
	if f.Index < 0 {
		return fmt.Errorf("fragment index %d out of range", f.Index)
	}
	at := a.now()
	switch f.Kind {
	case KindTextDelta:
		s, err := a.slotFor(f.Index, domain.PartText)
		if err != nil {
			return err
		}
		s.text.WriteString(f.Delta)
		a.textBytes += len(f.Delta)
		a.markToken(at)
	case KindReasoningDelta:
		s, err := a.slotFor(f.Index, domain.PartReasoning)
		if err != nil {
			return err
		}
		s.text.WriteString(f.Delta)
		if a.reasoningStart.IsZero() {
			a.reasoningStart = at
		}
		a.reasoningEnd = at
		a.markToken(at)
	case KindToolCall:
		s, err := a.slotFor(f.Index, domain.PartToolInvocation)
		if err != nil {
			return err
		}
		if s.tool.State == domain.ToolStateResult {
			return fmt.Errorf("tool call at index %d after its result", f.Index)
		}
		if f.ToolName != "" {
			s.tool.ToolName = f.ToolName
		}
		if f.ToolCallID != "" {
			s.tool.ToolCallID = f.ToolCallID
		}
		if len(f.Args) > 0 {
			s.tool.Args = append(s.tool.Args[:0], f.Args...)
		}
		s.tool.State = domain.ToolStateCall
		a.markToken(at)
	case KindToolResult:
		s, err := a.slotFor(f.Index, domain.PartToolInvocation)
		if err != nil {
			return err
		}
		if s.tool.ToolCallID != "" && f.ToolCallID != "" && s.tool.ToolCallID != f.ToolCallID {
			return fmt.Errorf("tool result %q does not match call %q at index %d", f.ToolCallID, s.tool.ToolCallID, f.Index)
		}
		if s.tool.ToolName == "" {
			s.tool.ToolName = f.ToolName
		}
		if s.tool.ToolCallID == "" {
			s.tool.ToolCallID = f.ToolCallID
		}
		s.tool.Result = append(s.tool.Result[:0], f.Result...)
		if len(s.tool.Result) == 0 {
			// a tool that returned nothing still finished
			s.tool.Result = append(s.tool.Result, "null"...)
		}
		s.tool.State = domain.ToolStateResult
		a.markToken(at)
	default:
		return fmt.Errorf("unknown fragment kind %q", f.Kind)
	}
	return nil
}

func (a *Accumulator) slotFor(index int, kind domain.PartKind) (*slot, error) {
	s, ok := a.slots[index]
	if !ok {
		s = &slot{kind: kind}
		a.slots[index] = s
		return s, nil
	}
	if s.kind != kind {
		return nil, fmt.Errorf("fragment index %d mixes %s and %s", index, s.kind, kind)
	}
	return s, nil
}

func (a *Accumulator) markToken(at time.Time) {
	if a.firstTokenAt.IsZero() {
		a.firstTokenAt = at
	}
	a.lastTokenAt = at
}

// Empty reports whether nothing worth committing has arrived.
func (a *Accumulator) Empty() bool {
	return len(a.Parts()) == 0
}

// Parts returns the assembled parts ordered by fragment index. Blank text
// parts are dropped.
func (a *Accumulator) Parts() domain.Parts {
	idx := make([]int, 0, len(a.slots))
	for i := range a.slots {
		idx = append(idx, i)
	}
	sort.Ints(idx)

	out := domain.Parts{}
	for _, i := range idx {
		s := a.slots[i]
		switch s.kind {
		case domain.PartText:
			if strings.TrimSpace(s.text.String()) != "" {
				out = append(out, domain.TextPart{Text: s.text.String()})
			}
		case domain.PartReasoning:
			if s.text.Len() > 0 {
				out = append(out, domain.ReasoningPart{Text: s.text.String()})
			}
		case domain.PartToolInvocation:
			out = append(out, s.tool)
		}
	}
	return out.Clone()
}

// Metadata summarizes generation timings. Completion tokens fall back to a
// length estimate when the provider reports no usage.
func (a *Accumulator) Metadata(model string, usage Usage) *domain.GenerationMetadata {
	end := a.now()
	md := &domain.GenerationMetadata{
		Model:            model,
		ElapsedMS:        end.Sub(a.start).Milliseconds(),
		CompletionTokens: usage.OutputTokens,
	}
	if md.CompletionTokens <= 0 {
		md.CompletionTokens = int(math.Ceil(float64(a.textBytes) / 4.0))
	}
	if !a.firstTokenAt.IsZero() {
		md.TimeToFirstTokenMS = a.firstTokenAt.Sub(a.start).Milliseconds()
		if secs := end.Sub(a.firstTokenAt).Seconds(); secs > 0 {
			md.TokensPerSecond = math.Round(float64(md.CompletionTokens)/secs*100) / 100
		}
	}
	if !a.reasoningStart.IsZero() {
		d := a.reasoningEnd.Sub(a.reasoningStart).Milliseconds()
		md.ReasoningDurationMS = &d
	}
	return md
}
