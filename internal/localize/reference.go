package localize

import (
	"strings"
)

// Category groups references and assets by what they point at.
type Category string

const (
	CategoryFootprint Category = "footprint"
	CategoryModel     Category = "3d_model"
	CategorySymbol    Category = "symbol"
	CategoryDatasheet Category = "datasheet"
)

// Categories lists every category in report order.
var Categories = []Category{CategoryFootprint, CategoryModel, CategorySymbol, CategoryDatasheet}

// LibID is a library-qualified name such as Device:R.
type LibID struct {
	Library string
	Name    string
}

// ParseLibID splits "Lib:Name" at the first colon. Both parts must be
// non-empty.
func ParseLibID(s string) (LibID, bool) {
	s = strings.TrimSpace(s)
	i := strings.Index(s, ":")
	if i <= 0 || i == len(s)-1 {
		return LibID{}, false
	}
	return LibID{Library: s[:i], Name: s[i+1:]}, true
}

func (id LibID) String() string {
	return id.Library + ":" + id.Name
}

// Reference is one occurrence of an external asset identifier in a design
// file.
type Reference struct {
	Category Category `json:"category"`
	// Value is the identifier as written, e.g. Device:R or a datasheet URL.
	Value  string `json:"value"`
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

// Asset is one external resource a run places into the project. Every
// reference with the same Key shares the asset, so it is copied at most once.
type Asset struct {
	Category Category
	// Key is the identifier being replaced.
	Key string
	// Source is the resolved location of the original.
	Source string
	// Dest is the project-local destination path.
	Dest string
	// NewRef replaces Key in design files once the asset is in place.
	NewRef string
	// Identity is the digest of the placed content.
	Identity string
	Refs     []Reference

	// err is a scan-time failure; the asset is not placed.
	err error
}

// position converts a byte offset into a 1-based line and column.
func position(text string, offset int) (int, int) {
	if offset < 0 || offset > len(text) {
		return 0, 0
	}
	line := 1 + strings.Count(text[:offset], "\n")
	col := offset - strings.LastIndex(text[:offset], "\n")
	return line, col
}
