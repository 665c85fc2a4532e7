package localize

import (
	"kicad-bakery/internal/sexpr"
)

// Site describes a structural position holding an identifier, such as the
// value of (property "Footprint" "Device:R") or the name in (lib_id "Device:R").
// Only atoms at a site are ever rewritten.
type Site struct {
	Keyword string
	// Key, when set, must equal the first argument.
	Key string
	// Arg is the index of the value, counting the keyword as 0.
	Arg int
	// Parent, when set, is the required keyword of the enclosing list.
	Parent string
}

var (
	footprintPropertySite = Site{Keyword: "property", Key: "Footprint", Arg: 2}
	datasheetPropertySite = Site{Keyword: "property", Key: "Datasheet", Arg: 2}
	boardFootprintSite    = Site{Keyword: "footprint", Arg: 1, Parent: "kicad_pcb"}
	modelSite             = Site{Keyword: "model", Arg: 1}
	libIDSite             = Site{Keyword: "lib_id", Arg: 1}
	cachedSymbolSite      = Site{Keyword: "symbol", Arg: 1, Parent: "lib_symbols"}
)

// value returns the atom at the site in n, or nil when n is not a site.
func (s Site) value(n *sexpr.Node, ancestors []*sexpr.Node) *sexpr.Node {
	if n.Head() != s.Keyword {
		return nil
	}
	if s.Key != "" && n.ArgValue(1) != s.Key {
		return nil
	}
	if s.Parent != "" {
		if len(ancestors) == 0 || ancestors[len(ancestors)-1].Head() != s.Parent {
			return nil
		}
	}
	v := n.Arg(s.Arg)
	if !v.IsAtom() {
		return nil
	}
	return v
}

// Match is an atom found at a site together with its enclosing lists.
type Match struct {
	Value     *sexpr.Node
	Node      *sexpr.Node
	Ancestors []*sexpr.Node
}

// Find returns every value at site in tree, in file order.
func Find(tree *sexpr.Node, site Site) []Match {
	var out []Match
	tree.Walk(func(n *sexpr.Node, ancestors []*sexpr.Node) bool {
		if v := site.value(n, ancestors); v != nil {
			out = append(out, Match{
				Value:     v,
				Node:      n,
				Ancestors: append([]*sexpr.Node(nil), ancestors...),
			})
		}
		return true
	})
	return out
}

// Rule pairs a site with the substitutions allowed there.
type Rule struct {
	Site Site
	Subs map[string]string
}

// Apply rewrites every site value found in the rules' substitution maps and
// returns the number of substitutions. A value is rewritten by the first rule
// whose site matches it.
func Apply(tree *sexpr.Node, rules ...Rule) int {
	count := 0
	tree.Walk(func(n *sexpr.Node, ancestors []*sexpr.Node) bool {
		for _, r := range rules {
			v := r.Site.value(n, ancestors)
			if v == nil {
				continue
			}
			if repl, ok := r.Subs[v.Value]; ok && repl != v.Value {
				v.SetValue(repl)
				count++
			}
			break
		}
		return true
	})
	return count
}

// Replace parses text, applies rules and returns the serialized result with
// the substitution count. Unchanged text is returned as is.
func Replace(text string, rules ...Rule) (string, int, error) {
	tree, err := sexpr.Parse(text)
	if err != nil {
		return "", 0, err
	}
	n := Apply(tree, rules...)
	if n == 0 {
		return text, 0, nil
	}
	return sexpr.Serialize(tree), n, nil
}
