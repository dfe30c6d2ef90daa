// Package pyparse extracts exports, parameters and imports from Python
// source without executing it.
package pyparse

import (
	"bytes"
	"context"
	stderrors "errors"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"caliper/internal/errors"
)

// ErrUnparseable is returned when no parser can read a file.
var ErrUnparseable = stderrors.New("file cannot be parsed")

// errNoTreeSitter is returned by parseTree in builds without cgo.
var errNoTreeSitter = stderrors.New("tree-sitter requires cgo")

// Kind is the kind of an exported definition.
type Kind string

const (
	KindFunction Kind = "function"
	KindClass    Kind = "class"
)

// Param is one formal parameter of a function.
type Param struct {
	Name     string `json:"name"`
	Type     string `json:"type,omitempty"`
	Position int    `json:"position"`
	// Default is nil, an int64 or float64 for numeric literals, or the
	// source text of any other expression.
	Default interface{} `json:"default,omitempty"`
}

// Export is a function or class definition.
type Export struct {
	// Module is the containing module path; for class members it includes
	// the class name.
	Module string  `json:"module"`
	Path   string  `json:"path"`
	Name   string  `json:"name"`
	Kind   Kind    `json:"type"`
	Params []Param `json:"params,omitempty"`
}

// Import is one imported name.
type Import struct {
	// Path is the importing module path.
	Path string `json:"path"`
	From string `json:"from,omitempty"`
	Name string `json:"import"`
	As   string `json:"as,omitempty"`
}

// ModuleFacts is everything extracted from one file.
type ModuleFacts struct {
	File    string   `json:"file"`
	Module  string   `json:"module"`
	Root    string   `json:"root"`
	Version string   `json:"version"`
	Exports []Export `json:"exports"`
	Imports []Import `json:"imports"`
	// Fallback is set when the primary parser rejected the file and the
	// lenient scanner produced the facts.
	Fallback bool `json:"fallback,omitempty"`
}

// extraction is what either parser produces for a file.
type extraction struct {
	exports []Export
	imports []Import
}

// ParseModule reads filePath and extracts its facts under modulePath,
// tagging them with version.
func ParseModule(ctx context.Context, filePath, modulePath, version string) (*ModuleFacts, error) {
	src, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.New(errors.ParseFailed, "reading "+filePath, err)
	}
	facts, err := ParseSource(ctx, src, modulePath, version)
	if err != nil {
		return nil, err
	}
	facts.File = filePath
	return facts, nil
}

// ParseSource extracts facts from src. The tree-sitter grammar is tried
// first; on syntax errors the lenient scanner takes over.
func ParseSource(ctx context.Context, src []byte, modulePath, version string) (*ModuleFacts, error) {
	facts := &ModuleFacts{
		Module:  modulePath,
		Root:    RootOf(modulePath),
		Version: version,
	}

	ex, ok, err := parseTree(ctx, src, modulePath)
	if err != nil && !stderrors.Is(err, errNoTreeSitter) {
		return nil, errors.New(errors.ParseFailed, "parsing "+modulePath, err)
	}
	if !ok {
		if !readable(src) {
			return nil, errors.New(errors.ParseFailed, modulePath, ErrUnparseable)
		}
		ex = scanLenient(src, modulePath)
		// Without tree-sitter the scanner is the primary parser.
		facts.Fallback = err == nil
	}

	facts.Exports = ex.exports
	facts.Imports = ex.imports
	if facts.Exports == nil {
		facts.Exports = []Export{}
	}
	if facts.Imports == nil {
		facts.Imports = []Import{}
	}
	return facts, nil
}

// RootOf returns the first segment of a dotted module path.
func RootOf(modulePath string) string {
	root, _, _ := strings.Cut(modulePath, ".")
	return root
}

// readable rejects binary content and invalid UTF-8.
func readable(src []byte) bool {
	src = bytes.TrimPrefix(src, []byte("\xef\xbb\xbf"))
	return utf8.Valid(src) && bytes.IndexByte(src, 0) < 0
}

// parseDefault coerces numeric literals to int64 or float64 and returns
// other expressions as normalized source text.
func parseDefault(text string) interface{} {
	text = collapseSpace(text)
	if text == "" {
		return nil
	}
	num := strings.ReplaceAll(text, "_", "")
	sign := ""
	if num[0] == '-' || num[0] == '+' {
		sign, num = num[:1], strings.TrimSpace(num[1:])
	}
	if num == "" {
		return text
	}
	intText := num
	if last := intText[len(intText)-1]; last == 'L' || last == 'l' {
		intText = intText[:len(intText)-1]
	}
	if n, err := strconv.ParseInt(sign+intText, 0, 64); err == nil {
		return n
	}
	if isFloatLiteral(num) {
		if f, err := strconv.ParseFloat(sign+num, 64); err == nil {
			return f
		}
	}
	return text
}

// isFloatLiteral accepts Python float literal spellings only, so that names
// such as inf or nan stay text.
func isFloatLiteral(s string) bool {
	if s == "" || (s[0] != '.' && (s[0] < '0' || s[0] > '9')) {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.', r == 'e', r == 'E', r == '+', r == '-':
		default:
			return false
		}
	}
	return true
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// visited tracks definitions already extracted during one file's parse.
type visited map[[2]int]bool

// first reports whether the definition spanning [start, end) is new and
// marks it seen.
func (v visited) first(start, end int) bool {
	key := [2]int{start, end}
	if v[key] {
		return false
	}
	v[key] = true
	return true
}
