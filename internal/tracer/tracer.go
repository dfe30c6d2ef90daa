// Package tracer routes call events from an instrumented program to an
// inspector. At most one trace session is active per process.
package tracer

import (
	"context"
	"regexp"
	"sync"

	"github.com/google/uuid"

	"caliper/internal/errors"
)

// Event is one observed call.
type Event struct {
	Event      string   `json:"event"`
	Function   string   `json:"function"`
	Line       int      `json:"lineno"`
	StackSize  int      `json:"stacksize,omitempty"`
	Filename   string   `json:"filename"`
	Args       []string `json:"args"`
	Class      string   `json:"class,omitempty"`
	FreeVars   []string `json:"freevars,omitempty"`
	Decorators []string `json:"decorators,omitempty"`
	Locals     []string `json:"locals,omitempty"`
	Module     string   `json:"module"`
	Path       string   `json:"path"`
}

// Inspector receives the events of an active session.
type Inspector interface {
	InspectTrace(ctx context.Context, ev Event) error
}

// Command is one unit of traced work.
type Command func(ctx context.Context) error

// ErrSessionActive is returned by Install while another session holds the
// interceptor.
var ErrSessionActive = errors.Newf(errors.TraceActive, "a trace session is already active")

var anonymous = regexp.MustCompile(`^<.*>$`)

var (
	mu        sync.Mutex
	active    Inspector
	sessionID string
)

// Install makes inspector the process-wide event receiver. The returned
// release func must be called to end the session; it is safe to call more
// than once.
func Install(inspector Inspector) (release func(), err error) {
	mu.Lock()
	defer mu.Unlock()
	if active != nil {
		return nil, ErrSessionActive
	}
	active = inspector
	id := uuid.NewString()
	sessionID = id

	var once sync.Once
	return func() {
		once.Do(func() {
			mu.Lock()
			defer mu.Unlock()
			if sessionID == id {
				active = nil
				sessionID = ""
			}
		})
	}, nil
}

// Active reports the current session id, or "" when idle.
func Active() string {
	mu.Lock()
	defer mu.Unlock()
	return sessionID
}

// Emit delivers ev to the active inspector. Events are dropped when no
// session is active, for private or synthetic modules, and for anonymous
// frames other than module bodies.
func Emit(ctx context.Context, ev Event) error {
	mu.Lock()
	inspector := active
	mu.Unlock()

	if inspector == nil || !relevant(ev) {
		return nil
	}
	return inspector.InspectTrace(ctx, ev)
}

func relevant(ev Event) bool {
	if ev.Module == "" || ev.Module[0] == '_' || anonymous.MatchString(ev.Module) {
		return false
	}
	if ev.Function != "<module>" && anonymous.MatchString(ev.Function) {
		return false
	}
	return true
}

// Trace runs each command inside its own session with inspector installed.
// The interceptor is released even when a command fails or panics, and a
// command's error is returned unchanged.
func Trace(ctx context.Context, inspector Inspector, commands []Command) error {
	for _, cmd := range commands {
		if err := traceOne(ctx, inspector, cmd); err != nil {
			return err
		}
	}
	return nil
}

func traceOne(ctx context.Context, inspector Inspector, cmd Command) error {
	release, err := Install(inspector)
	if err != nil {
		return err
	}
	defer release()
	return cmd(ctx)
}
