package config

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var errDanglingEscape = errors.New("dangling escape at end of command")

// argvScanner splits a shell-like command line. Single quotes are literal;
// inside double quotes a backslash only escapes '"' and '\'.
type argvScanner struct {
	runes []rune
	pos   int
}

func parseArgv(input string) ([]string, error) {
	input = strings.TrimSpace(input)
	if input == "" || input[0] == '#' {
		return nil, nil
	}

	s := &argvScanner{runes: []rune(input)}
	var argv []string
	for {
		s.skipSpace()
		if s.done() {
			return argv, nil
		}
		word, err := s.word()
		if err != nil {
			return nil, fmt.Errorf("command %q: %w", input, err)
		}
		argv = append(argv, word)
	}
}

func (s *argvScanner) done() bool { return s.pos >= len(s.runes) }

func (s *argvScanner) skipSpace() {
	for !s.done() && unicode.IsSpace(s.runes[s.pos]) {
		s.pos++
	}
}

func (s *argvScanner) word() (string, error) {
	var b strings.Builder
	for !s.done() {
		r := s.runes[s.pos]
		switch {
		case unicode.IsSpace(r):
			return b.String(), nil
		case r == '\\':
			if s.pos+1 >= len(s.runes) {
				return "", errDanglingEscape
			}
			b.WriteRune(s.runes[s.pos+1])
			s.pos += 2
		case r == '\'' || r == '"':
			if err := s.quoted(&b, r); err != nil {
				return "", err
			}
		default:
			b.WriteRune(r)
			s.pos++
		}
	}
	return b.String(), nil
}

func (s *argvScanner) quoted(b *strings.Builder, quote rune) error {
	s.pos++
	for !s.done() {
		r := s.runes[s.pos]
		switch {
		case r == quote:
			s.pos++
			return nil
		case quote == '"' && r == '\\' && s.pos+1 < len(s.runes) &&
			(s.runes[s.pos+1] == '"' || s.runes[s.pos+1] == '\\'):
			b.WriteRune(s.runes[s.pos+1])
			s.pos += 2
		default:
			b.WriteRune(r)
			s.pos++
		}
	}
	return fmt.Errorf("unterminated %c quote", quote)
}

func mustParseArgv(input string) []string {
	argv, err := parseArgv(input)
	if err != nil {
		panic(err)
	}
	return argv
}
