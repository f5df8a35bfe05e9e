package script

import "strings"

// Splitter breaks a script into top-level statements. It tracks quoting and
// comment state so a ';' inside a string literal, quoted identifier, comment
// or dollar-quoted body does not end a statement.
type Splitter struct {
	// BackslashEscapes selects MySQL lexing: '\' escapes inside every
	// single-quoted string and '#' starts a line comment. When false only
	// E'...' strings honor the backslash.
	BackslashEscapes bool
}

// Split uses the zero Splitter.
func Split(text string) []string {
	return Splitter{}.Split(text)
}

// SplitNaive splits on every ';' regardless of context. A delimiter inside a
// string literal or comment produces a broken statement; use it only for
// scripts known to avoid embedded delimiters.
func SplitNaive(text string) []string {
	var out []string
	for _, part := range strings.Split(text, ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

// Split returns trimmed statements in source order. Pieces that hold only
// whitespace or comments are dropped.
func (s Splitter) Split(text string) []string {
	var (
		out     []string
		start   int
		hasCode bool
	)

	emit := func(end int) {
		stmt := strings.TrimSpace(text[start:end])
		if hasCode && stmt != "" {
			out = append(out, stmt)
		}
		hasCode = false
	}

	i := 0
	for i < len(text) {
		c := text[i]
		switch {
		case c == '-' && at(text, i+1) == '-':
			i = skipLine(text, i)
			continue
		case c == '#' && s.BackslashEscapes:
			i = skipLine(text, i)
			continue
		case c == '/' && at(text, i+1) == '*':
			i = skipBlock(text, i)
			continue
		case c == '\'':
			i = skipQuoted(text, i, '\'', s.BackslashEscapes || escapePrefixed(text, i))
			hasCode = true
			continue
		case c == '"' || c == '`':
			i = skipQuoted(text, i, c, false)
			hasCode = true
			continue
		case c == '$':
			if tag, ok := dollarTag(text, i); ok {
				i = skipDollar(text, i, tag)
				hasCode = true
				continue
			}
		case c == ';':
			emit(i)
			i++
			start = i
			continue
		}
		if !isSpace(c) {
			hasCode = true
		}
		i++
	}
	emit(len(text))
	return out
}

func at(text string, i int) byte {
	if i < 0 || i >= len(text) {
		return 0
	}
	return text[i]
}

func skipLine(text string, i int) int {
	if j := strings.IndexByte(text[i:], '\n'); j >= 0 {
		return i + j + 1
	}
	return len(text)
}

// skipBlock handles nested /* */ comments as Postgres does.
func skipBlock(text string, i int) int {
	depth := 0
	for i < len(text) {
		switch {
		case text[i] == '/' && at(text, i+1) == '*':
			depth++
			i += 2
		case text[i] == '*' && at(text, i+1) == '/':
			depth--
			i += 2
			if depth == 0 {
				return i
			}
		default:
			i++
		}
	}
	return len(text)
}

// skipQuoted returns the index just past the closing quote. A doubled quote is
// an escaped quote.
func skipQuoted(text string, i int, quote byte, backslash bool) int {
	j := i + 1
	for j < len(text) {
		switch {
		case backslash && text[j] == '\\':
			j += 2
		case text[j] == quote:
			if at(text, j+1) == quote {
				j += 2
				continue
			}
			return j + 1
		default:
			j++
		}
	}
	return len(text)
}

func escapePrefixed(text string, i int) bool {
	p := at(text, i-1)
	if p != 'E' && p != 'e' {
		return false
	}
	return i-1 == 0 || !isIdentChar(text[i-2])
}

// dollarTag recognises $$ and $tag$ openers. $1 style parameters and '$'
// inside identifiers are not tags.
func dollarTag(text string, i int) (string, bool) {
	if i > 0 && isIdentChar(text[i-1]) {
		return "", false
	}
	j := i + 1
	for j < len(text) && isTagChar(text[j]) {
		j++
	}
	if at(text, j) != '$' {
		return "", false
	}
	tag := text[i : j+1]
	if len(tag) > 2 && tag[1] >= '0' && tag[1] <= '9' {
		return "", false
	}
	return tag, true
}

func skipDollar(text string, i int, tag string) int {
	body := i + len(tag)
	if j := strings.Index(text[body:], tag); j >= 0 {
		return body + j + len(tag)
	}
	return len(text)
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}

func isTagChar(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c >= 0x80
}

func isIdentChar(c byte) bool {
	return isTagChar(c) || c == '$'
}
