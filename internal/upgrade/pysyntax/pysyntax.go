// Package pysyntax performs a fast lexical syntax check of Python source
// before any candidate is allowed to execute. It is not a full parser: it
// tracks strings, comments, line continuations and bracket nesting, which is
// enough to reject the malformed output a code-generation model most often
// produces (unbalanced brackets, unterminated strings, truncated files).
package pysyntax

import (
	"fmt"
	"strings"
)

// SyntaxError reports the first lexical problem found in a file.
type SyntaxError struct {
	File string
	Line int
	Col  int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Col, e.Msg)
}

type openBracket struct {
	ch   byte
	line int
	col  int
}

var bracketPairs = map[byte]byte{')': '(', ']': '[', '}': '{'}

// Check scans src and returns a *SyntaxError describing the first problem,
// or nil when the source is lexically well-formed. It has no side effects.
func Check(file string, src []byte) error {
	s := &scanner{file: file, src: src, line: 1, col: 1}
	return s.run()
}

type scanner struct {
	file string
	src  []byte
	pos  int
	line int
	col  int

	stack []openBracket
}

func (s *scanner) errorf(line, col int, format string, args ...any) error {
	return &SyntaxError{File: s.file, Line: line, Col: col, Msg: fmt.Sprintf(format, args...)}
}

func (s *scanner) run() error {
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		switch {
		case c == '#':
			s.skipComment()
		case c == '\'' || c == '"':
			if err := s.scanString(); err != nil {
				return err
			}
		case c == '\\':
			// Line continuation: a backslash must be the last character on
			// the line (outside strings).
			if err := s.scanContinuation(); err != nil {
				return err
			}
		case c == '(' || c == '[' || c == '{':
			s.stack = append(s.stack, openBracket{ch: c, line: s.line, col: s.col})
			s.advance()
		case c == ')' || c == ']' || c == '}':
			if len(s.stack) == 0 {
				return s.errorf(s.line, s.col, "unmatched %q", string(c))
			}
			top := s.stack[len(s.stack)-1]
			if top.ch != bracketPairs[c] {
				return s.errorf(s.line, s.col, "mismatched %q, expected closer for %q opened at line %d", string(c), string(top.ch), top.line)
			}
			s.stack = s.stack[:len(s.stack)-1]
			s.advance()
		default:
			s.advance()
		}
	}
	if len(s.stack) > 0 {
		top := s.stack[len(s.stack)-1]
		return s.errorf(top.line, top.col, "unclosed %q", string(top.ch))
	}
	return nil
}

func (s *scanner) advance() {
	if s.src[s.pos] == '\n' {
		s.line++
		s.col = 1
	} else {
		s.col++
	}
	s.pos++
}

func (s *scanner) skipComment() {
	for s.pos < len(s.src) && s.src[s.pos] != '\n' {
		s.advance()
	}
}

func (s *scanner) scanContinuation() error {
	line, col := s.line, s.col
	s.advance()
	// Allow trailing whitespace before the newline; CPython rejects it, but
	// model output frequently carries it and it is harmless to execution
	// after a round trip through most formatters. Reject anything else.
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		if c == '\n' {
			s.advance()
			return nil
		}
		if c != ' ' && c != '\t' && c != '\r' {
			return s.errorf(line, col, "unexpected character after line continuation")
		}
		s.advance()
	}
	return nil
}

// scanString consumes a single-, double- or triple-quoted string literal.
// Prefixes (r, b, f, u and combinations) have already been consumed as
// ordinary identifier characters by the main loop, which is fine: only the
// quote handling matters for balance checking.
func (s *scanner) scanString() error {
	quote := s.src[s.pos]
	startLine, startCol := s.line, s.col
	raw := s.precededByRawPrefix()

	triple := false
	if s.pos+2 < len(s.src) && s.src[s.pos+1] == quote && s.src[s.pos+2] == quote {
		triple = true
		s.advance()
		s.advance()
	}
	s.advance() // opening quote (or third quote of the opener)

	for s.pos < len(s.src) {
		c := s.src[s.pos]
		if c == '\\' && !raw {
			s.advance()
			if s.pos < len(s.src) {
				s.advance()
			}
			continue
		}
		if c == quote {
			if !triple {
				s.advance()
				return nil
			}
			if s.pos+2 < len(s.src) && s.src[s.pos+1] == quote && s.src[s.pos+2] == quote {
				s.advance()
				s.advance()
				s.advance()
				return nil
			}
			// A lone quote inside a triple-quoted string.
			s.advance()
			continue
		}
		if c == '\n' && !triple {
			return s.errorf(startLine, startCol, "unterminated string literal")
		}
		s.advance()
	}
	if triple {
		return s.errorf(startLine, startCol, "unterminated triple-quoted string literal")
	}
	return s.errorf(startLine, startCol, "unterminated string literal")
}

// precededByRawPrefix reports whether the string literal starting at s.pos
// carries an r/R prefix (possibly combined with b/f), which disables escape
// processing inside the literal.
func (s *scanner) precededByRawPrefix() bool {
	i := s.pos - 1
	prefix := ""
	for i >= 0 && len(prefix) < 2 {
		c := s.src[i]
		if !isPrefixLetter(c) {
			break
		}
		prefix = string(c) + prefix
		i--
	}
	// The prefix must not be part of a longer identifier.
	if i >= 0 && isIdentChar(s.src[i]) {
		return false
	}
	return strings.ContainsAny(prefix, "rR")
}

func isPrefixLetter(c byte) bool {
	switch c {
	case 'r', 'R', 'b', 'B', 'f', 'F', 'u', 'U':
		return true
	}
	return false
}

func isIdentChar(c byte) bool {
	return c == '_' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
