package sexpr

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrParse marks every error produced for malformed input.
var ErrParse = errors.New("malformed s-expression")

// ParseError locates a syntax error in the parsed text.
type ParseError struct {
	Offset int
	Line   int
	Column int
	Msg    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d, column %d: %s", e.Line, e.Column, e.Msg)
}

// Is lets errors.Is(err, ErrParse) match any ParseError.
func (e *ParseError) Is(target error) bool { return target == ErrParse }

func newParseError(text string, offset int, format string, args ...any) *ParseError {
	line := 1 + strings.Count(text[:offset], "\n")
	col := offset - strings.LastIndex(text[:offset], "\n")
	return &ParseError{Offset: offset, Line: line, Column: col, Msg: fmt.Sprintf(format, args...)}
}

// Parse reads one root list from text. The returned tree reproduces text
// byte-for-byte when serialized without edits.
//
// Parsing is a single left-to-right scan with an explicit stack of open lists,
// so nesting depth is bounded by memory rather than the goroutine stack.
func Parse(text string) (*Node, error) {
	var (
		root  *Node
		stack []*Node
		i     int
	)

	for {
		start := i
		for i < len(text) && isSpace(text[i]) {
			i++
		}
		lead := text[start:i]
		if i == len(text) {
			if len(stack) > 0 {
				open := stack[len(stack)-1]
				return nil, newParseError(text, open.Offset, "unclosed list")
			}
			if root == nil {
				return nil, newParseError(text, i, "no list found")
			}
			root.trail, root.hasTrail = lead, true
			return root, nil
		}

		switch c := text[i]; c {
		case '(':
			if len(stack) == 0 && root != nil {
				return nil, newParseError(text, i, "unexpected content after root list")
			}
			n := &Node{Kind: List, Offset: i, lead: lead, hasLead: true}
			if len(stack) == 0 {
				root = n
			} else {
				top := stack[len(stack)-1]
				top.Children = append(top.Children, n)
			}
			stack = append(stack, n)
			i++

		case ')':
			if len(stack) == 0 {
				return nil, newParseError(text, i, "unmatched closing parenthesis")
			}
			top := stack[len(stack)-1]
			top.tail, top.hasTail = lead, true
			stack = stack[:len(stack)-1]
			i++

		default:
			if len(stack) == 0 {
				return nil, newParseError(text, i, "atom outside of a list")
			}
			var (
				atom *Node
				err  error
			)
			if c == '"' {
				atom, i, err = scanString(text, i)
			} else {
				atom, i = scanBare(text, i)
			}
			if err != nil {
				return nil, err
			}
			atom.lead, atom.hasLead = lead, true
			top := stack[len(stack)-1]
			top.Children = append(top.Children, atom)
		}
	}
}

func scanBare(text string, i int) (*Node, int) {
	start := i
	for i < len(text) && !isSpace(text[i]) && text[i] != '(' && text[i] != ')' {
		i++
	}
	tok := text[start:i]
	return &Node{Kind: Atom, Value: tok, raw: tok, Offset: start}, i
}

func scanString(text string, i int) (*Node, int, error) {
	start := i
	i++
	var b strings.Builder
	for i < len(text) {
		switch c := text[i]; c {
		case '\\':
			if i+1 >= len(text) {
				return nil, 0, newParseError(text, start, "unterminated string")
			}
			switch e := text[i+1]; e {
			case '"', '\\':
				b.WriteByte(e)
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte('\\')
				b.WriteByte(e)
			}
			i += 2
		case '"':
			i++
			return &Node{Kind: Atom, Value: b.String(), Quoted: true, raw: text[start:i], Offset: start}, i, nil
		default:
			b.WriteByte(c)
			i++
		}
	}
	return nil, 0, newParseError(text, start, "unterminated string")
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}
