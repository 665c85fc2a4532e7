// Package sexpr parses and serializes the parenthesized nested-list format used
// by KiCad design files and library tables.
//
// Parsed trees keep the whitespace that surrounded every token, so a tree that
// was not edited serializes back to the exact bytes it was parsed from. Nodes
// created or edited after parsing are rendered with a Style.
package sexpr

import "strings"

// Kind distinguishes atoms from lists.
type Kind int

const (
	Atom Kind = iota
	List
)

// Node is either an atom (bare token or quoted string) or a list of child nodes.
type Node struct {
	Kind Kind

	// Value is the decoded atom text (quotes removed, escapes resolved).
	Value string
	// Quoted reports whether the atom is written as a quoted string.
	Quoted bool
	// Children are the elements of a list, in file order.
	Children []*Node

	// Offset is the byte offset of the node in the parsed text, or -1 for
	// nodes that were created after parsing.
	Offset int

	raw      string // original atom spelling; empty once the value is edited
	lead     string // whitespace before the node
	tail     string // whitespace before the closing paren of a list
	trail    string // whitespace after the root list
	hasLead  bool
	hasTail  bool
	hasTrail bool
	dirtied  bool // value was changed after parsing
}

// NewAtom creates a bare atom.
func NewAtom(value string) *Node {
	return &Node{Kind: Atom, Value: value, Offset: -1}
}

// NewString creates a quoted string atom.
func NewString(value string) *Node {
	return &Node{Kind: Atom, Value: value, Quoted: true, Offset: -1}
}

// NewList creates a list whose head is the bare keyword followed by children.
func NewList(keyword string, children ...*Node) *Node {
	n := &Node{Kind: List, Offset: -1}
	if keyword != "" {
		n.Children = append(n.Children, NewAtom(keyword))
	}
	n.Children = append(n.Children, children...)
	return n
}

// IsList reports whether n is a list.
func (n *Node) IsList() bool { return n != nil && n.Kind == List }

// IsAtom reports whether n is an atom.
func (n *Node) IsAtom() bool { return n != nil && n.Kind == Atom }

// Head returns the value of the first child when it is a bare atom, which is
// the keyword of a KiCad list such as (property ...) or (lib ...).
func (n *Node) Head() string {
	if !n.IsList() || len(n.Children) == 0 {
		return ""
	}
	first := n.Children[0]
	if first.Kind != Atom || first.Quoted {
		return ""
	}
	return first.Value
}

// Arg returns the i-th child (0 is the keyword), or nil.
func (n *Node) Arg(i int) *Node {
	if !n.IsList() || i < 0 || i >= len(n.Children) {
		return nil
	}
	return n.Children[i]
}

// ArgValue returns the atom value of the i-th child, or "" when absent or a list.
func (n *Node) ArgValue(i int) string {
	a := n.Arg(i)
	if a == nil || a.Kind != Atom {
		return ""
	}
	return a.Value
}

// Child returns the first direct child list with the given keyword.
func (n *Node) Child(keyword string) *Node {
	if !n.IsList() {
		return nil
	}
	for _, c := range n.Children {
		if c.Head() == keyword {
			return c
		}
	}
	return nil
}

// ChildrenNamed returns all direct child lists with the given keyword.
func (n *Node) ChildrenNamed(keyword string) []*Node {
	if !n.IsList() {
		return nil
	}
	var out []*Node
	for _, c := range n.Children {
		if c.Head() == keyword {
			out = append(out, c)
		}
	}
	return out
}

// Field returns the first argument of the child list named keyword, as in
// (name "MyLib") -> "MyLib".
func (n *Node) Field(keyword string) (string, bool) {
	c := n.Child(keyword)
	if c == nil || len(c.Children) < 2 || c.Children[1].Kind != Atom {
		return "", false
	}
	return c.Children[1].Value, true
}

// SetValue replaces the value of an atom. The atom keeps its quoting unless the
// new value cannot be written bare.
func (n *Node) SetValue(v string) {
	if n.Kind != Atom || (n.Value == v && !n.dirtied) {
		return
	}
	n.Value = v
	n.raw = ""
	n.dirtied = true
}

// Append adds children to a list. Appended nodes are laid out like the last
// existing sibling list when there is one.
func (n *Node) Append(children ...*Node) {
	n.Children = append(n.Children, children...)
}

// Remove deletes the direct child c and reports whether it was found.
func (n *Node) Remove(c *Node) bool {
	for i, ch := range n.Children {
		if ch == c {
			n.Children = append(n.Children[:i], n.Children[i+1:]...)
			return true
		}
	}
	return false
}

// Clone returns a deep copy of n, trivia included.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	type pair struct{ src, dst *Node }
	root := &Node{}
	stack := []pair{{n, root}}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		*p.dst = *p.src
		if p.src.Children == nil {
			continue
		}
		p.dst.Children = make([]*Node, len(p.src.Children))
		for i, c := range p.src.Children {
			p.dst.Children[i] = &Node{}
			stack = append(stack, pair{c, p.dst.Children[i]})
		}
	}
	return root
}

// Detach clears the layout captured by the parser for n itself so it can be
// placed under a different parent, keeping the layout of its descendants.
func (n *Node) Detach() *Node {
	n.lead, n.hasLead = "", false
	n.trail, n.hasTrail = "", false
	return n
}

// Walk visits n and every descendant depth-first in file order. The callback
// receives the chain of ancestor lists (outermost first), valid only for the
// duration of the call; returning false skips the node's children.
func (n *Node) Walk(fn func(node *Node, ancestors []*Node) bool) {
	type frame struct {
		node  *Node
		depth int
	}
	var path []*Node
	stack := []frame{{n, 0}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		path = path[:f.depth]
		if !fn(f.node, path) || f.node.Kind != List {
			continue
		}
		path = append(path, f.node)
		for i := len(f.node.Children) - 1; i >= 0; i-- {
			stack = append(stack, frame{f.node.Children[i], f.depth + 1})
		}
	}
}

// Equal reports whether two trees have the same shape and atom values.
// Layout and quoting spelling are ignored; the quoted/bare distinction is not.
func Equal(a, b *Node) bool {
	type pair struct{ a, b *Node }
	stack := []pair{{a, b}}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if p.a == nil || p.b == nil {
			if p.a != p.b {
				return false
			}
			continue
		}
		if p.a.Kind != p.b.Kind {
			return false
		}
		if p.a.Kind == Atom {
			if p.a.Value != p.b.Value || p.a.Quoted != p.b.Quoted {
				return false
			}
			continue
		}
		if len(p.a.Children) != len(p.b.Children) {
			return false
		}
		for i := range p.a.Children {
			stack = append(stack, pair{p.a.Children[i], p.b.Children[i]})
		}
	}
	return true
}

// needsQuotes reports whether v cannot be written as a bare atom.
func needsQuotes(v string) bool {
	if v == "" {
		return true
	}
	return strings.ContainsAny(v, " \t\r\n()\"\\")
}
