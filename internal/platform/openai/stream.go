package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/yungbote/chatcore-backend/internal/generation"
)

// Generate starts a streamed response. The request is sent once: a failed
// generation is retried by the caller, never here, so quota and provider
// usage are not charged twice.
func (c *Client) Generate(ctx context.Context, in generation.Request) (generation.Stream, error) {
	reqBody := responsesRequest{
		Model:        c.modelOr(in.Model),
		Instructions: strings.TrimSpace(in.Instructions),
		Input:        buildInput(in.History),
		Stream:       true,
	}
	if len(reqBody.Input) == 0 {
		return nil, fmt.Errorf("empty conversation")
	}
	c.applyTemperature(&reqBody)

	ctx, cancel := context.WithCancel(ctx)
	resp, raw, err := c.openStream(ctx, reqBody)
	if err != nil && reqBody.Temperature != nil && isUnsupportedTemperatureMessage(string(raw)) {
		c.noteNoTempModel(reqBody.Model)
		reqBody.Temperature = nil
		resp, _, err = c.openStream(ctx, reqBody)
	}
	if err != nil {
		cancel()
		return nil, err
	}

	s := &responseStream{
		cancel: cancel,
		body:   resp.Body,
		frags:  make(chan generation.Fragment),
		parts:  map[string]int{},
	}
	go s.run(ctx)
	return s, nil
}

func (c *Client) openStream(ctx context.Context, body responsesRequest) (*http.Response, []byte, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/v1/responses", body)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil, nil
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return nil, raw, &openAIHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
}

type responseStream struct {
	cancel context.CancelFunc
	body   io.ReadCloser
	frags  chan generation.Fragment

	// Written by run before frags is closed.
	err   error
	usage generation.Usage

	// parts maps a provider output slot to a fragment index.
	parts map[string]int

	closeOnce sync.Once
}

func (s *responseStream) Recv() (*generation.Fragment, error) {
	f, ok := <-s.frags
	if !ok {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	return &f, nil
}

func (s *responseStream) Usage() generation.Usage { return s.usage }

func (s *responseStream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		_ = s.body.Close()
	})
	return nil
}

func (s *responseStream) run(ctx context.Context) {
	defer close(s.frags)
	completed := false
	err := streamSSE(s.body, func(event string, data string) error {
		data = strings.TrimSpace(data)
		if data == "" || data == "[DONE]" {
			return nil
		}
		var ev streamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return nil
		}
		if ev.Type == "" {
			ev.Type = strings.TrimSpace(event)
		}
		frags, done, err := s.translate(ev)
		if err != nil {
			return err
		}
		completed = completed || done
		for _, f := range frags {
			select {
			case s.frags <- f:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})
	switch {
	case ctx.Err() != nil:
		s.err = ctx.Err()
	case err != nil:
		s.err = err
	case !completed:
		s.err = errors.New("openai stream ended before response.completed")
	}
}

type streamEvent struct {
	Type         string          `json:"type"`
	Delta        string          `json:"delta"`
	OutputIndex  int             `json:"output_index"`
	ContentIndex int             `json:"content_index"`
	SummaryIndex int             `json:"summary_index"`
	Item         json.RawMessage `json:"item"`
	Response     *struct {
		Usage responsesUsage `json:"usage"`
		Error *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	} `json:"response"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type outputItem struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	Output    string `json:"output"`
}

func (s *responseStream) indexFor(slot string) int {
	if i, ok := s.parts[slot]; ok {
		return i
	}
	i := len(s.parts)
	s.parts[slot] = i
	return i
}

// translate maps one provider event to zero or more fragments. done is set on
// response.completed.
func (s *responseStream) translate(ev streamEvent) ([]generation.Fragment, bool, error) {
	switch ev.Type {
	case "response.output_text.delta":
		if ev.Delta == "" {
			return nil, false, nil
		}
		idx := s.indexFor(fmt.Sprintf("text:%d:%d", ev.OutputIndex, ev.ContentIndex))
		return []generation.Fragment{{Index: idx, Kind: generation.KindTextDelta, Delta: ev.Delta}}, false, nil

	case "response.reasoning_summary_text.delta", "response.reasoning_text.delta":
		if ev.Delta == "" {
			return nil, false, nil
		}
		idx := s.indexFor(fmt.Sprintf("reasoning:%d", ev.OutputIndex))
		return []generation.Fragment{{Index: idx, Kind: generation.KindReasoningDelta, Delta: ev.Delta}}, false, nil

	case "response.refusal.delta":
		return nil, false, fmt.Errorf("model refused: %s", ev.Delta)

	case "response.output_item.done":
		var item outputItem
		if len(ev.Item) == 0 || json.Unmarshal(ev.Item, &item) != nil {
			return nil, false, nil
		}
		return s.toolFragments(ev.OutputIndex, item, ev.Item), false, nil

	case "response.completed":
		if ev.Response != nil {
			s.usage = generation.Usage{
				InputTokens:  ev.Response.Usage.InputTokens,
				OutputTokens: ev.Response.Usage.OutputTokens,
			}
		}
		return nil, true, nil

	case "response.failed", "response.incomplete":
		msg := ev.Type
		if ev.Response != nil && ev.Response.Error != nil {
			msg = ev.Response.Error.Code + ": " + ev.Response.Error.Message
		}
		return nil, false, fmt.Errorf("openai stream error: %s", msg)

	case "error":
		return nil, false, fmt.Errorf("openai stream error: %s %s", ev.Code, ev.Message)
	}
	return nil, false, nil
}

// toolFragments turns a finished tool item into a call fragment, plus a result
// fragment for tools the provider ran itself.
func (s *responseStream) toolFragments(outputIndex int, item outputItem, raw json.RawMessage) []generation.Fragment {
	if item.Type == "" || item.Type == "message" || item.Type == "reasoning" || !strings.HasSuffix(item.Type, "_call") {
		return nil
	}
	idx := s.indexFor(fmt.Sprintf("tool:%d", outputIndex))
	callID := item.CallID
	if callID == "" {
		callID = item.ID
	}
	name := item.Name
	if name == "" {
		name = strings.TrimSuffix(item.Type, "_call")
	}

	call := generation.Fragment{Index: idx, Kind: generation.KindToolCall, ToolCallID: callID, ToolName: name}
	if args := strings.TrimSpace(item.Arguments); args != "" {
		call.Args = jsonOrString(args)
	}
	if item.Type == "function_call" {
		return []generation.Fragment{call}
	}

	result := generation.Fragment{Index: idx, Kind: generation.KindToolResult, ToolCallID: callID, ToolName: name}
	if out := strings.TrimSpace(item.Output); out != "" {
		result.Result = jsonOrString(out)
	} else {
		result.Result = append(json.RawMessage(nil), raw...)
	}
	return []generation.Fragment{call, result}
}

func jsonOrString(s string) json.RawMessage {
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	b, _ := json.Marshal(s)
	return b
}
