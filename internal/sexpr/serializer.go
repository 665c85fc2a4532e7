package sexpr

import (
	"strings"
)

// Style describes how nodes without captured layout are written. Parsed nodes
// always keep their own whitespace.
type Style struct {
	// Indent is repeated once per nesting level when a child list breaks onto a
	// new line.
	Indent string
	// Inline lists keywords whose child lists stay on the parent's line. The
	// value is written between two adjacent child lists.
	Inline map[string]string
	// Terminator follows the root list when it was not parsed.
	Terminator string
}

// KiCad matches the layout produced by KiCad 7 and later: tab indentation,
// nested lists on their own lines, and library table entries on one line with
// no space between fields.
var KiCad = Style{
	Indent: "\t",
	Inline: map[string]string{
		"lib":     "",
		"at":      " ",
		"xy":      " ",
		"pts":     " ",
		"size":    " ",
		"offset":  " ",
		"scale":   " ",
		"rotate":  " ",
		"justify": " ",
	},
	Terminator: "\n",
}

// Serialize renders root with the KiCad style.
func Serialize(root *Node) string {
	return KiCad.Format(root)
}

// Format renders root as text.
func (s Style) Format(root *Node) string {
	var b strings.Builder
	s.write(&b, root, nil, 0, 0)
	if root.hasTrail {
		b.WriteString(root.trail)
	} else {
		b.WriteString(s.Terminator)
	}
	return b.String()
}

// Compact renders n on a single line with single spaces and no captured layout.
// Two trees that are Equal have the same compact form.
func Compact(n *Node) string {
	var b strings.Builder
	var walk func(*Node)
	walk = func(n *Node) {
		if n.Kind == Atom {
			b.WriteString(encodeAtom(n.Value, n.Quoted))
			return
		}
		b.WriteByte('(')
		for i, c := range n.Children {
			if i > 0 {
				b.WriteByte(' ')
			}
			walk(c)
		}
		b.WriteByte(')')
	}
	walk(n)
	return b.String()
}

// write renders n at nesting depth; parent is nil for the root and idx is the
// position of n among parent's children.
func (s Style) write(b *strings.Builder, n, parent *Node, depth, idx int) {
	if n.hasLead {
		b.WriteString(n.lead)
	} else if parent != nil {
		b.WriteString(s.separator(parent, idx, depth))
	}

	if n.Kind == Atom {
		if n.raw != "" && !n.dirtied {
			b.WriteString(n.raw)
		} else {
			b.WriteString(encodeAtom(n.Value, n.Quoted))
		}
		return
	}

	b.WriteByte('(')
	for i, c := range n.Children {
		s.write(b, c, n, depth+1, i)
	}
	switch {
	case n.hasTail:
		b.WriteString(n.tail)
	case s.breaks(n):
		b.WriteString("\n" + strings.Repeat(s.Indent, depth))
	}
	b.WriteByte(')')
}

// separator computes the whitespace before the idx-th child of parent when
// the child has no captured layout. child is at nesting level depth.
func (s Style) separator(parent *Node, idx, depth int) string {
	if idx == 0 {
		return ""
	}
	child := parent.Children[idx]
	prev := parent.Children[idx-1]

	// Follow the layout of the closest earlier sibling of the same kind.
	for j := idx - 1; j >= 1; j-- {
		sib := parent.Children[j]
		if sib.hasLead && sib.Kind == child.Kind {
			return sib.lead
		}
	}

	if glue, ok := s.Inline[parent.Head()]; ok {
		if prev.Kind == List && child.Kind == List {
			return glue
		}
		return " "
	}
	if s.breaks(parent) && (child.Kind == List || prev.Kind == List) {
		return "\n" + strings.Repeat(s.Indent, depth)
	}
	return " "
}

// breaks reports whether the children of n are laid out one per line.
func (s Style) breaks(n *Node) bool {
	if _, ok := s.Inline[n.Head()]; ok {
		return false
	}
	for _, c := range n.Children {
		if c.Kind == List {
			return true
		}
	}
	return false
}

// encodeAtom spells an atom value, quoting and escaping when needed.
func encodeAtom(v string, quoted bool) string {
	if !quoted && !needsQuotes(v) {
		return v
	}
	var b strings.Builder
	b.Grow(len(v) + 2)
	b.WriteByte('"')
	for i := 0; i < len(v); i++ {
		switch c := v[i]; c {
		case '"', '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}
