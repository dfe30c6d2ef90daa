package tracer

import (
	"bufio"
	"context"
	_ "embed"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"caliper/internal/errors"
	"caliper/internal/slogutil"
)

//go:embed shim/sitecustomize.py
var shim []byte

// traceFD is the descriptor number of the event pipe in the child; it is
// the first of exec.Cmd.ExtraFiles.
const traceFD = "3"

const maxEventSize = 4 << 20

// PythonOptions configures PythonCommand.
type PythonOptions struct {
	Logger *slog.Logger
	Stdout io.Writer
	Stderr io.Writer
	Dir    string
}

// PythonCommand returns a Command that runs name with args under a
// sys.settrace shim and emits every call event it reports.
func PythonCommand(opts PythonOptions, name string, args ...string) Command {
	return func(ctx context.Context) error {
		logger := slogutil.Or(opts.Logger)

		shimDir, err := os.MkdirTemp("", "caliper-trace-*")
		if err != nil {
			return errors.New(errors.InternalError, "creating trace shim directory", err)
		}
		defer os.RemoveAll(shimDir)
		if err := os.WriteFile(filepath.Join(shimDir, "sitecustomize.py"), shim, 0o644); err != nil {
			return errors.New(errors.InternalError, "writing trace shim", err)
		}

		r, w, err := os.Pipe()
		if err != nil {
			return errors.New(errors.InternalError, "creating trace pipe", err)
		}
		defer r.Close()

		cmd := exec.CommandContext(ctx, name, args...)
		cmd.Dir = opts.Dir
		cmd.Stdout = opts.Stdout
		cmd.Stderr = opts.Stderr
		cmd.ExtraFiles = []*os.File{w}
		cmd.Env = append(os.Environ(),
			"PYTHONPATH="+joinPythonPath(shimDir, os.Getenv("PYTHONPATH")),
			"CALIPER_TRACE_FD="+traceFD,
		)

		logger.Info("Tracing command", "command", name, "args", args, "session", Active())
		if err := cmd.Start(); err != nil {
			w.Close()
			return err
		}
		w.Close()

		readErr := ReadEvents(ctx, r)
		if readErr != nil {
			_ = cmd.Process.Kill()
		}
		waitErr := cmd.Wait()
		if readErr != nil {
			return readErr
		}
		return waitErr
	}
}

func joinPythonPath(first, rest string) string {
	if rest == "" {
		return first
	}
	return first + string(os.PathListSeparator) + rest
}

// ReadEvents decodes the shim's JSON lines from r and emits each event. The
// first line carries the interpreter's sys.path, which is used to turn file
// names into module paths.
func ReadEvents(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxEventSize)

	var roots []string
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var header struct {
			SysPath []string `json:"syspath"`
		}
		if roots == nil {
			if err := json.Unmarshal(line, &header); err == nil && header.SysPath != nil {
				roots = sortedRoots(header.SysPath)
				continue
			}
		}

		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return errors.New(errors.InternalError, "decoding trace event", err)
		}
		ev.Module = ModuleOf(ev.Filename, roots)
		ev.Path = PathOf(ev)
		if err := Emit(ctx, ev); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.New(errors.InternalError, "reading trace events", err)
	}
	return nil
}

// sortedRoots orders search path entries longest first so the most
// specific prefix wins.
func sortedRoots(paths []string) []string {
	roots := make([]string, 0, len(paths))
	for _, p := range paths {
		if p != "" {
			roots = append(roots, filepath.Clean(p))
		}
	}
	sort.SliceStable(roots, func(i, j int) bool { return len(roots[i]) > len(roots[j]) })
	return roots
}

// ModuleOf derives a dotted module path from a source file name relative to
// the first matching search path root.
func ModuleOf(filename string, roots []string) string {
	if strings.HasPrefix(filename, "<") {
		return filename
	}
	rel := filepath.Clean(filename)
	for _, root := range roots {
		if prefix := root + string(filepath.Separator); strings.HasPrefix(rel, prefix) {
			rel = strings.TrimPrefix(rel, prefix)
			break
		}
	}
	rel = strings.Trim(filepath.ToSlash(rel), "/")
	rel = strings.TrimSuffix(rel, ".py")
	if rel == "__init__" {
		rel = ""
	}
	rel = strings.TrimSuffix(rel, "/__init__")
	return strings.ReplaceAll(rel, "/", ".")
}

// PathOf is the dotted path of the called function, including the class
// of bound methods.
func PathOf(ev Event) string {
	if ev.Class != "" {
		return ev.Module + "." + ev.Class + "." + ev.Function
	}
	return ev.Module + "." + ev.Function
}
