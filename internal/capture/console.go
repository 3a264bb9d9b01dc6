package capture

import (
	"fmt"
	"strings"

	"github.com/standardbeagle/errlens/internal/debug"
)

// Console is a diagnostic logging channel.
type Console interface {
	Error(args ...any)
}

// ConsoleFunc adapts a function to Console.
type ConsoleFunc func(args ...any)

// Error calls f.
func (f ConsoleFunc) Error(args ...any) { f(args...) }

// StackTracer is implemented by logged values that carry their own stack.
type StackTracer interface {
	StackTrace() string
}

type interceptedConsole struct {
	orig     Console
	capturer *Capturer
	callSite func() string
}

// InterceptConsole wraps a logging channel so every Error call is also
// captured as a logged error. The original channel is always called first with
// the unmodified arguments; capture failures never reach the caller.
//
// callSite, when non-nil, supplies the stack of the logging call and is used to
// build a synthetic stack for values that are not errors.
func InterceptConsole(orig Console, c *Capturer, callSite func() string) Console {
	return &interceptedConsole{orig: orig, capturer: c, callSite: callSite}
}

func (ic *interceptedConsole) Error(args ...any) {
	if ic.orig != nil {
		ic.orig.Error(args...)
	}

	defer func() {
		if r := recover(); r != nil {
			debug.Error("capture", "console capture panicked: %v", r)
		}
	}()
	ic.capturer.Capture(LoggedSignal(args, ic.site()))
}

func (ic *interceptedConsole) site() string {
	if ic.callSite == nil {
		return ""
	}
	return ic.callSite()
}

// LoggedSignal builds a logged-error signal from console arguments. The first
// error argument, if any, supplies the message and stack.
func LoggedSignal(args []any, callSite string) RawSignal {
	sig := RawSignal{Kind: KindLogged, CallSite: callSite}

	parts := make([]string, 0, len(args))
	for _, arg := range args {
		if err, ok := arg.(error); ok && !sig.IsError {
			sig.IsError = true
			if st, ok := arg.(StackTracer); ok {
				sig.Stack = st.StackTrace()
			}
			parts = append(parts, err.Error())
			continue
		}
		parts = append(parts, fmt.Sprint(arg))
	}
	sig.Message = strings.Join(parts, " ")
	return sig
}
