package chat

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

type PartKind string

const (
	PartText           PartKind = "text"
	PartReasoning      PartKind = "reasoning"
	PartToolInvocation PartKind = "tool-invocation"
	PartAttachmentRef  PartKind = "attachment-ref"
)

type ToolState string

const (
	ToolStateCall   ToolState = "call"
	ToolStateResult ToolState = "result"
)

// Part is one typed fragment of message content. The set of implementations
// is closed: TextPart, ReasoningPart, ToolInvocationPart, AttachmentRefPart.
type Part interface {
	Kind() PartKind
	isPart()
}

type TextPart struct {
	Text string `json:"text"`
}

type ReasoningPart struct {
	Text string `json:"text"`
}

// ToolInvocationPart is a tool call that may still be in flight (State=call,
// no Result yet).
type ToolInvocationPart struct {
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name"`
	State      ToolState       `json:"state"`
	Args       json.RawMessage `json:"args,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
}

// AttachmentRefPart references stored content by URL, never by bytes.
type AttachmentRefPart struct {
	URL         string `json:"url"`
	Name        string `json:"name,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

func (TextPart) Kind() PartKind           { return PartText }
func (ReasoningPart) Kind() PartKind      { return PartReasoning }
func (ToolInvocationPart) Kind() PartKind { return PartToolInvocation }
func (AttachmentRefPart) Kind() PartKind  { return PartAttachmentRef }

func (TextPart) isPart()           {}
func (ReasoningPart) isPart()      {}
func (ToolInvocationPart) isPart() {}
func (AttachmentRefPart) isPart()  {}

// ValidatePart checks a single part for structural problems.
func ValidatePart(p Part) error {
	switch v := p.(type) {
	case TextPart:
		if strings.TrimSpace(v.Text) == "" {
			return fmt.Errorf("text part is empty")
		}
	case ReasoningPart:
		if v.Text == "" {
			return fmt.Errorf("reasoning part is empty")
		}
	case ToolInvocationPart:
		if strings.TrimSpace(v.ToolName) == "" {
			return fmt.Errorf("tool invocation missing tool_name")
		}
		switch v.State {
		case ToolStateCall:
		case ToolStateResult:
			if len(v.Result) == 0 {
				return fmt.Errorf("tool %q in result state has no result", v.ToolName)
			}
		default:
			return fmt.Errorf("tool %q has unknown state %q", v.ToolName, v.State)
		}
		if len(v.Args) > 0 && !json.Valid(v.Args) {
			return fmt.Errorf("tool %q args are not valid json", v.ToolName)
		}
	case AttachmentRefPart:
		if strings.TrimSpace(v.URL) == "" {
			return fmt.Errorf("attachment part missing url")
		}
	case nil:
		return fmt.Errorf("nil part")
	default:
		return fmt.Errorf("unsupported part type %T", p)
	}
	return nil
}

type Parts []Part

func (ps Parts) Validate() error {
	if len(ps) == 0 {
		return fmt.Errorf("message has no parts")
	}
	for i, p := range ps {
		if err := ValidatePart(p); err != nil {
			return fmt.Errorf("part %d: %w", i, err)
		}
	}
	return nil
}

// AttachmentURLs returns the distinct attachment URLs referenced, in order.
func (ps Parts) AttachmentURLs() []string {
	seen := map[string]bool{}
	out := []string{}
	for _, p := range ps {
		if ref, ok := p.(AttachmentRefPart); ok && !seen[ref.URL] {
			seen[ref.URL] = true
			out = append(out, ref.URL)
		}
	}
	return out
}

// Text joins all text parts. Reasoning and tool output are excluded.
func (ps Parts) Text() string {
	var b strings.Builder
	for _, p := range ps {
		if t, ok := p.(TextPart); ok {
			b.WriteString(t.Text)
		}
	}
	return b.String()
}

// Clone returns a deep copy; raw JSON payloads are not shared.
func (ps Parts) Clone() Parts {
	if ps == nil {
		return nil
	}
	out := make(Parts, 0, len(ps))
	for _, p := range ps {
		switch v := p.(type) {
		case ToolInvocationPart:
			v.Args = cloneRaw(v.Args)
			v.Result = cloneRaw(v.Result)
			out = append(out, v)
		default:
			out = append(out, p)
		}
	}
	return out
}

func cloneRaw(r json.RawMessage) json.RawMessage {
	if r == nil {
		return nil
	}
	return append(json.RawMessage(nil), r...)
}

type partEnvelope struct {
	Type PartKind `json:"type"`
}

func (ps Parts) MarshalJSON() ([]byte, error) {
	items := make([]json.RawMessage, 0, len(ps))
	for i, p := range ps {
		raw, err := marshalPart(p)
		if err != nil {
			return nil, fmt.Errorf("part %d: %w", i, err)
		}
		items = append(items, raw)
	}
	return json.Marshal(items)
}

func marshalPart(p Part) ([]byte, error) {
	switch v := p.(type) {
	case TextPart:
		return json.Marshal(struct {
			Type PartKind `json:"type"`
			TextPart
		}{PartText, v})
	case ReasoningPart:
		return json.Marshal(struct {
			Type PartKind `json:"type"`
			ReasoningPart
		}{PartReasoning, v})
	case ToolInvocationPart:
		return json.Marshal(struct {
			Type PartKind `json:"type"`
			ToolInvocationPart
		}{PartToolInvocation, v})
	case AttachmentRefPart:
		return json.Marshal(struct {
			Type PartKind `json:"type"`
			AttachmentRefPart
		}{PartAttachmentRef, v})
	default:
		return nil, fmt.Errorf("unsupported part type %T", p)
	}
}

func (ps *Parts) UnmarshalJSON(b []byte) error {
	var items []json.RawMessage
	if err := json.Unmarshal(b, &items); err != nil {
		return err
	}
	out := make(Parts, 0, len(items))
	for i, raw := range items {
		p, err := unmarshalPart(raw)
		if err != nil {
			return fmt.Errorf("part %d: %w", i, err)
		}
		out = append(out, p)
	}
	*ps = out
	return nil
}

func unmarshalPart(raw json.RawMessage) (Part, error) {
	var env partEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	switch env.Type {
	case PartText:
		var v TextPart
		err := json.Unmarshal(raw, &v)
		return v, err
	case PartReasoning:
		var v ReasoningPart
		err := json.Unmarshal(raw, &v)
		return v, err
	case PartToolInvocation:
		var v ToolInvocationPart
		err := json.Unmarshal(raw, &v)
		return v, err
	case PartAttachmentRef:
		var v AttachmentRefPart
		err := json.Unmarshal(raw, &v)
		return v, err
	default:
		return nil, fmt.Errorf("unknown part type %q", env.Type)
	}
}

func (ps Parts) Value() (driver.Value, error) {
	if ps == nil {
		ps = Parts{}
	}
	b, err := json.Marshal(ps)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (ps *Parts) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*ps = nil
		return nil
	case []byte:
		return ps.UnmarshalJSON(v)
	case string:
		return ps.UnmarshalJSON([]byte(v))
	default:
		return fmt.Errorf("cannot scan %T into Parts", value)
	}
}

func (Parts) GormDataType() string { return "json" }

func (Parts) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	switch db.Dialector.Name() {
	case "postgres":
		return "JSONB"
	default:
		return "JSON"
	}
}
