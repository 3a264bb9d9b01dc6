package proxy

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"

	"github.com/standardbeagle/errlens/internal/capture"
	"github.com/standardbeagle/errlens/internal/lens"
)

// Message types sent by the page.
const (
	MsgError     = "error"
	MsgRejection = "rejection"
	MsgConsole   = "console"
	MsgSnapshot  = "snapshot"
	MsgListener  = "listener"
	MsgHover     = "hover"
	MsgLeave     = "leave"
	MsgNavigate  = "navigate"
)

// Message types sent to the page.
const (
	MsgOp       = "op"
	MsgDetected = "detected"
)

// Message is the websocket envelope in both directions.
type Message struct {
	Type string          `json:"type"`
	URL  string          `json:"url,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ErrorData reports an uncaught exception.
type ErrorData struct {
	Message string `json:"message"`
	File    string `json:"file"`
	Line    int    `json:"line"`
	Column  int    `json:"column"`
	Stack   string `json:"stack"`
	// Target is the path of the element whose listener threw.
	Target string `json:"target,omitempty"`
}

// RejectionData reports an unhandled promise rejection.
type RejectionData struct {
	Message  string `json:"message"`
	Stack    string `json:"stack"`
	IsError  bool   `json:"is_error"`
	CallSite string `json:"call_site"`
}

// ConsoleArg is one serialised console.error argument.
type ConsoleArg struct {
	Error   bool   `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
	Stack   string `json:"stack,omitempty"`
	Text    string `json:"text,omitempty"`
}

// ConsoleData reports a console.error call.
type ConsoleData struct {
	Args     []ConsoleArg `json:"args"`
	CallSite string       `json:"call_site"`
}

// HoverData names the element under the pointer.
type HoverData struct {
	Path string `json:"path"`
}

// NavigateData names the page that loaded.
type NavigateData struct {
	URL string `json:"url"`
}

// pageError is an error object logged by the page, carrying its own stack.
type pageError struct {
	message string
	stack   string
}

func (e *pageError) Error() string      { return e.message }
func (e *pageError) StackTrace() string { return e.stack }

var _ capture.StackTracer = (*pageError)(nil)

// consoleArgs converts page arguments into values for the intercepted
// console. Error objects become errors carrying their stack.
func consoleArgs(in []ConsoleArg) []any {
	out := make([]any, 0, len(in))
	for _, a := range in {
		if a.Error {
			out = append(out, &pageError{message: a.Message, stack: a.Stack})
			continue
		}
		out = append(out, a.Text)
	}
	return out
}

func (d ErrorData) signal(at time.Time) capture.RawSignal {
	return capture.RawSignal{
		Kind:      capture.KindRuntime,
		Message:   d.Message,
		File:      d.File,
		Line:      d.Line,
		Column:    d.Column,
		Stack:     d.Stack,
		IsError:   d.Stack != "",
		Timestamp: at,
	}
}

func (d RejectionData) signal(at time.Time) capture.RawSignal {
	return capture.RawSignal{
		Kind:      capture.KindRejection,
		Message:   d.Message,
		Stack:     d.Stack,
		IsError:   d.IsError,
		CallSite:  d.CallSite,
		Timestamp: at,
	}
}

// encode builds an outbound message.
func encode(typ string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", typ, err)
	}
	return json.Marshal(Message{Type: typ, Data: raw})
}

// dispatch applies one inbound page message to the engine.
func dispatch(e *lens.Engine, msg Message, at time.Time) error {
	switch msg.Type {
	case MsgError:
		var d ErrorData
		if err := json.Unmarshal(msg.Data, &d); err != nil {
			return fmt.Errorf("invalid %s message: %w", msg.Type, err)
		}
		e.CaptureAt(d.signal(at), d.Target)

	case MsgRejection:
		var d RejectionData
		if err := json.Unmarshal(msg.Data, &d); err != nil {
			return fmt.Errorf("invalid %s message: %w", msg.Type, err)
		}
		e.Capture(d.signal(at))

	case MsgConsole:
		var d ConsoleData
		if err := json.Unmarshal(msg.Data, &d); err != nil {
			return fmt.Errorf("invalid %s message: %w", msg.Type, err)
		}
		e.Console(consoleArgs(d.Args), d.CallSite)

	case MsgSnapshot:
		var s lens.Snapshot
		if err := json.Unmarshal(msg.Data, &s); err != nil {
			return fmt.Errorf("invalid %s message: %w", msg.Type, err)
		}
		if s.URL == "" {
			s.URL = msg.URL
		}
		return e.ApplySnapshot(s)

	case MsgListener:
		var ref lens.ListenerRef
		if err := json.Unmarshal(msg.Data, &ref); err != nil {
			return fmt.Errorf("invalid %s message: %w", msg.Type, err)
		}
		return e.RegisterListener(ref)

	case MsgHover:
		var d HoverData
		if err := json.Unmarshal(msg.Data, &d); err != nil {
			return fmt.Errorf("invalid %s message: %w", msg.Type, err)
		}
		_, err := e.Hover(d.Path)
		return err

	case MsgLeave:
		return e.Leave()

	case MsgNavigate:
		var d NavigateData
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &d); err != nil {
				return fmt.Errorf("invalid %s message: %w", msg.Type, err)
			}
		}
		if d.URL == "" {
			d.URL = msg.URL
		}
		return e.Navigate(d.URL)

	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
	return nil
}
