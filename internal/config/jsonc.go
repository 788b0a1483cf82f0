package config

import (
	"bytes"
	"fmt"
	"strings"
)

// standardizeJSONC turns JSONC into plain JSON of the same length. Comments and
// trailing commas become spaces so decoder offsets still index the original text.
func standardizeJSONC(content string) (string, error) {
	buf := []byte(content)
	if err := blankComments(buf); err != nil {
		return "", err
	}
	blankTrailingCommas(buf)
	return string(buf), nil
}

func blankComments(buf []byte) error {
	for i := 0; i < len(buf); i++ {
		if buf[i] == '"' {
			i = skipString(buf, i)
			continue
		}
		if buf[i] != '/' || i+1 >= len(buf) {
			continue
		}

		switch buf[i+1] {
		case '/':
			for ; i < len(buf) && buf[i] != '\n' && buf[i] != '\r'; i++ {
				buf[i] = ' '
			}
		case '*':
			end := bytes.Index(buf[i+2:], []byte("*/"))
			if end < 0 {
				line, col := offsetToLineCol(string(buf), int64(i+1))
				return fmt.Errorf("line %d column %d: unterminated block comment", line, col)
			}
			stop := i + 2 + end + 2
			for ; i < stop; i++ {
				if buf[i] != '\n' && buf[i] != '\r' {
					buf[i] = ' '
				}
			}
			i--
		}
	}
	return nil
}

func blankTrailingCommas(buf []byte) {
	for i := 0; i < len(buf); i++ {
		switch buf[i] {
		case '"':
			i = skipString(buf, i)
		case ',':
			j := i + 1
			for j < len(buf) && isJSONWhitespace(buf[j]) {
				j++
			}
			if j < len(buf) && (buf[j] == '}' || buf[j] == ']') {
				buf[i] = ' '
			}
		}
	}
}

// skipString returns the index of the quote closing the string opened at open.
// An unterminated string runs to the end; the decoder reports it.
func skipString(buf []byte, open int) int {
	for i := open + 1; i < len(buf); i++ {
		switch buf[i] {
		case '\\':
			i++
		case '"':
			return i
		}
	}
	return len(buf)
}

func isJSONWhitespace(ch byte) bool {
	return ch == ' ' || ch == '\n' || ch == '\r' || ch == '\t'
}

// offsetToLineCol maps a 1-based decoder offset to a line and column.
func offsetToLineCol(content string, offset int64) (int, int) {
	if offset <= 0 {
		return 1, 1
	}
	prefix := content[:min(int(offset), len(content))-1]
	line := strings.Count(prefix, "\n") + 1
	col := len(prefix) - strings.LastIndexByte(prefix, '\n')
	return line, col
}
