package pyparse

import (
	"bytes"
	"regexp"
	"strings"
)

const identifier = `[\p{L}_][\p{L}\p{N}_]*`

var (
	defPattern    = regexp.MustCompile(`^(?:async\s+)?def\s+(` + identifier + `)\s*\(`)
	classPattern  = regexp.MustCompile(`^class\s+(` + identifier + `)`)
	importPattern = regexp.MustCompile(`^import\s+(.+)$`)
	fromPattern   = regexp.MustCompile(`^from\s+([.\p{L}\p{N}_]+)\s+import\s+(.+)$`)
	namePattern   = regexp.MustCompile(`^([.\p{L}\p{N}_]+|\*)(?:\s+as\s+(` + identifier + `))?$`)
	identPattern  = regexp.MustCompile(`^` + identifier + `$`)
)

// logicalLine is one Python statement with comments removed and
// continuation lines joined.
type logicalLine struct {
	indent int
	text   string
}

type scope struct {
	indent   int
	module   string
	function bool
}

// scanLenient extracts facts line by line. It accepts source the grammar
// rejects, such as Python 2 print statements, at the cost of precision.
func scanLenient(src []byte, modulePath string) extraction {
	var out extraction
	var stack []scope

	for _, line := range logicalLines(src) {
		for len(stack) > 0 && line.indent <= stack[len(stack)-1].indent {
			stack = stack[:len(stack)-1]
		}
		module, inFunction := modulePath, false
		if len(stack) > 0 {
			top := stack[len(stack)-1]
			module, inFunction = top.module, top.function
		}

		text := line.text
		if m := defPattern.FindStringSubmatchIndex(text); m != nil {
			name := text[m[2]:m[3]]
			open := m[1] - 1
			stack = append(stack, scope{indent: line.indent, module: module + "." + name, function: true})
			if !inFunction {
				out.exports = append(out.exports, Export{
					Module: module,
					Path:   module + "." + name,
					Name:   name,
					Kind:   KindFunction,
					Params: splitParams(text[open+1 : closingParen(text, open)]),
				})
			}
			continue
		}
		if m := classPattern.FindStringSubmatch(text); m != nil {
			name := m[1]
			stack = append(stack, scope{indent: line.indent, module: module + "." + name, function: inFunction})
			if !inFunction {
				out.exports = append(out.exports, Export{
					Module: module,
					Path:   module + "." + name,
					Name:   name,
					Kind:   KindClass,
				})
			}
			continue
		}
		if inFunction {
			continue
		}
		if m := fromPattern.FindStringSubmatch(text); m != nil {
			names := strings.TrimSpace(m[2])
			names = strings.TrimSuffix(strings.TrimPrefix(names, "("), ")")
			out.imports = append(out.imports, importList(names, module, m[1])...)
			continue
		}
		if m := importPattern.FindStringSubmatch(text); m != nil {
			out.imports = append(out.imports, importList(m[1], module, "")...)
		}
	}
	return out
}

func importList(names, module, from string) []Import {
	var out []Import
	for _, part := range splitTop(names, ',') {
		part = strings.TrimSpace(part)
		m := namePattern.FindStringSubmatch(part)
		if m == nil {
			continue
		}
		out = append(out, Import{Path: module, From: from, Name: m[1], As: m[2]})
	}
	return out
}

// splitParams parses the text between a def's parentheses.
func splitParams(list string) []Param {
	var out []Param
	for _, part := range splitTop(list, ',') {
		part = strings.TrimSpace(part)
		if part == "" || part == "*" || part == "/" || strings.HasPrefix(part, "**") {
			continue
		}
		part = strings.TrimPrefix(part, "*")

		var def interface{}
		if eq := indexAssign(part); eq >= 0 {
			def = parseDefault(part[eq+1:])
			part = part[:eq]
		}
		name, typ := part, ""
		if colon := indexTop(part, ':'); colon >= 0 {
			name, typ = part[:colon], collapseSpace(part[colon+1:])
		}
		name = strings.TrimSpace(name)
		if !identPattern.MatchString(name) {
			continue
		}
		out = append(out, Param{Name: name, Type: typ, Position: len(out), Default: def})
	}
	return out
}

// logicalLines splits src into statements. Bracketed and backslash
// continuations are joined; semicolons split statements sharing a line.
func logicalLines(src []byte) []logicalLine {
	s := string(bytes.TrimPrefix(src, []byte("\xef\xbb\xbf")))
	var (
		lines   []logicalLine
		b       strings.Builder
		depth   int
		indent  int
		atStart = true
	)
	flush := func() {
		if text := strings.TrimSpace(b.String()); text != "" {
			lines = append(lines, logicalLine{indent: indent, text: text})
		}
		b.Reset()
	}

	for i := 0; i < len(s); {
		if atStart {
			col := 0
			for ; i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\f'); i++ {
				if s[i] == '\t' {
					col = col/8*8 + 8
				} else if s[i] == ' ' {
					col++
				}
			}
			if i >= len(s) {
				break
			}
			if s[i] == '\n' || s[i] == '\r' || s[i] == '#' {
				i = skipLine(s, i)
				continue
			}
			indent, atStart = col, false
			continue
		}

		c := s[i]
		switch {
		case c == '#':
			for i < len(s) && s[i] != '\n' {
				i++
			}
			continue
		case c == '\\' && i+1 < len(s) && (s[i+1] == '\n' || s[i+1] == '\r'):
			i = skipLine(s, i)
			b.WriteByte(' ')
			continue
		case c == '\r':
			i++
			continue
		case c == '\n':
			i++
			if depth > 0 {
				b.WriteByte(' ')
				continue
			}
			flush()
			atStart = true
			continue
		case c == '"' || c == '\'':
			end := scanString(s, i)
			b.WriteString(s[i:end])
			i = end
			continue
		case c == '(' || c == '[' || c == '{':
			depth++
		case c == ')' || c == ']' || c == '}':
			if depth > 0 {
				depth--
			}
		case c == ';' && depth == 0:
			flush()
			i++
			continue
		}
		b.WriteByte(c)
		i++
	}
	flush()
	return lines
}

// skipLine returns the index just past the newline ending the line at i.
func skipLine(s string, i int) int {
	for i < len(s) && s[i] != '\n' {
		i++
	}
	if i < len(s) {
		i++
	}
	return i
}

// scanString returns the index just past the string literal opening at i.
// Unterminated single-quoted strings end at the newline.
func scanString(s string, i int) int {
	q := s[i]
	triple := strings.HasPrefix(s[i:], strings.Repeat(string(q), 3))
	if triple {
		i += 3
	} else {
		i++
	}
	for i < len(s) {
		switch {
		case s[i] == '\\':
			i += 2
		case triple && strings.HasPrefix(s[i:], strings.Repeat(string(q), 3)):
			return i + 3
		case !triple && s[i] == q:
			return i + 1
		case !triple && s[i] == '\n':
			return i
		default:
			i++
		}
	}
	return len(s)
}

// closingParen returns the index of the bracket matching the one at open,
// or len(s) if it is never closed.
func closingParen(s string, open int) int {
	depth := 0
	for i := open; i < len(s); {
		switch c := s[i]; {
		case c == '"' || c == '\'':
			i = scanString(s, i)
			continue
		case c == '(' || c == '[' || c == '{':
			depth++
		case c == ')' || c == ']' || c == '}':
			depth--
			if depth == 0 {
				return i
			}
		}
		i++
	}
	return len(s)
}

// splitTop splits s on sep where sep is outside brackets and strings.
func splitTop(s string, sep byte) []string {
	var parts []string
	start, depth := 0, 0
	for i := 0; i < len(s); {
		switch c := s[i]; {
		case c == '"' || c == '\'':
			i = scanString(s, i)
			continue
		case c == '(' || c == '[' || c == '{':
			depth++
		case c == ')' || c == ']' || c == '}':
			depth--
		case c == sep && depth == 0:
			parts = append(parts, s[start:i])
			start = i + 1
		}
		i++
	}
	return append(parts, s[start:])
}

// indexTop is the position of the first top-level ch in s, or -1.
func indexTop(s string, ch byte) int {
	parts := splitTop(s, ch)
	if len(parts) < 2 {
		return -1
	}
	return len(parts[0])
}

// indexAssign finds the top-level '=' that introduces a default value,
// ignoring comparison operators.
func indexAssign(s string) int {
	offset := 0
	for _, part := range splitTop(s, '=') {
		end := offset + len(part)
		if end >= len(s) {
			return -1
		}
		prev := byte(0)
		if end > 0 {
			prev = s[end-1]
		}
		next := byte(0)
		if end+1 < len(s) {
			next = s[end+1]
		}
		if next != '=' && !strings.ContainsRune("=<>!", rune(prev)) {
			return end
		}
		offset = end + 1
	}
	return -1
}
