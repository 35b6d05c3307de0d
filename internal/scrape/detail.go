package scrape

import (
	"maps"
	"slices"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Record is the full property set of one remote item.
type Record map[string]string

// Clone returns an independent copy.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	maps.Copy(out, r)
	return out
}

// Keys returns the property names in sorted order.
func (r Record) Keys() []string {
	return slices.Sorted(maps.Keys(r))
}

// RenameRule is one ordered substring replacement applied to script
// property names.
type RenameRule struct {
	Old string
	New string
}

// DetailRules describes how one resource kind renders its edit page.
type DetailRules struct {
	// ScriptAnchor marks the inline script holding `field.value = 'x'`
	// assignments; empty disables the script pass.
	ScriptAnchor string
	// Renames map abbreviated script field names to canonical property names.
	Renames []RenameRule
	// SelectedProperty is filled from the first selected dropdown option.
	SelectedProperty string
	// AlwaysPresent names exist on the item but are never rendered.
	AlwaysPresent []string
}

// ScrapeDetail extracts an edit page. Later passes overwrite earlier ones:
// script assignments, then inputs, then textareas, then the selected option.
func ScrapeDetail(body string, rules DetailRules) (Record, error) {
	doc, err := parse(body)
	if err != nil {
		return nil, &ScrapeError{What: "parse detail page", Err: err}
	}
	rec := make(Record)

	if rules.ScriptAnchor != "" {
		for name, value := range scriptProperties(doc, body, rules) {
			rec[name] = value
		}
	}

	for _, in := range collect(doc, atom.Input) {
		name, hasName := getAttr(in, "name")
		value, hasValue := getAttr(in, "value")
		if hasName && hasValue && name != "" {
			rec[name] = value
		}
	}

	for _, ta := range collect(doc, atom.Textarea) {
		name, ok := getAttr(ta, "name")
		if !ok || name == "" {
			continue
		}
		rec[name] = rawText(ta)
	}

	if rules.SelectedProperty != "" {
		value, ok := selectedOption(doc)
		if !ok {
			return nil, &ScrapeError{
				What:    "no selected option for " + rules.SelectedProperty,
				Excerpt: excerpt(body),
			}
		}
		rec[rules.SelectedProperty] = value
	}

	for _, name := range rules.AlwaysPresent {
		if _, ok := rec[name]; !ok {
			rec[name] = ""
		}
	}
	return rec, nil
}

// scriptProperties reads the assignment block starting at the anchor and
// ending at the first closing brace. Script elements are searched first; the
// raw body is the fallback for pages that inline the block elsewhere.
func scriptProperties(doc *html.Node, body string, rules DetailRules) map[string]string {
	src := ""
	for _, s := range collect(doc, atom.Script) {
		if text := rawText(s); strings.Contains(text, rules.ScriptAnchor) {
			src = text
			break
		}
	}
	if src == "" {
		src = body
	}
	start := strings.Index(src, rules.ScriptAnchor)
	if start < 0 {
		return nil
	}
	block := src[start:]
	if end := strings.IndexByte(block, '}'); end >= 0 {
		block = block[:end]
	}

	out := make(map[string]string)
	for _, stmt := range strings.Split(block, ";") {
		name, value, ok := strings.Cut(stmt, "=")
		if !ok {
			continue
		}
		name = strings.TrimSuffix(strings.TrimSpace(name), ".value")
		if name == "" {
			continue
		}
		out[renameProperty(name, rules.Renames)] = unquote(strings.TrimSpace(value))
	}
	return out
}

func renameProperty(name string, rules []RenameRule) string {
	for _, r := range rules {
		name = strings.ReplaceAll(name, r.Old, r.New)
	}
	return name
}

func unquote(v string) string {
	if len(v) >= 2 {
		first, last := v[0], v[len(v)-1]
		if (first == '\'' || first == '"') && first == last {
			return v[1 : len(v)-1]
		}
	}
	return v
}

func selectedOption(doc *html.Node) (string, bool) {
	for _, opt := range collect(doc, atom.Option) {
		if _, ok := getAttr(opt, "selected"); !ok {
			continue
		}
		if v, ok := getAttr(opt, "value"); ok {
			return v, true
		}
		return strings.TrimSpace(rawText(opt)), true
	}
	return "", false
}
