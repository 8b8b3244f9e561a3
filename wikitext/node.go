package wikitext

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Kind identifies the type of a Node.
type Kind int

const (
	KindText Kind = iota
	KindComment
	KindTemplate
	KindParameter
	KindLink
	KindCategory
	KindFile
	KindExternalLink
	KindHeading
	KindTag
)

var kindNames = map[Kind]string{
	KindText:         "text",
	KindComment:      "comment",
	KindTemplate:     "template",
	KindParameter:    "parameter",
	KindLink:         "link",
	KindCategory:     "category",
	KindFile:         "file",
	KindExternalLink: "external_link",
	KindHeading:      "heading",
	KindTag:          "tag",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Node is one token of a parsed page. String returns the exact source
// text of the token, including any edits made to it.
type Node interface {
	Kind() Kind
	String() string
}

// container is implemented by nodes holding other nodes.
type container interface {
	children() []Nodes
}

// Nodes is a run of sibling tokens.
type Nodes []Node

func (ns Nodes) String() string {
	var b strings.Builder
	for _, n := range ns {
		b.WriteString(n.String())
	}
	return b.String()
}

// Text is plain wikitext without markup the parser recognizes.
type Text struct {
	Value string
}

func (t *Text) Kind() Kind     { return KindText }
func (t *Text) String() string { return t.Value }

// Comment is an HTML comment. An unclosed comment runs to the end of the
// page.
type Comment struct {
	Body     string
	Unclosed bool
}

func (c *Comment) Kind() Kind { return KindComment }

func (c *Comment) String() string {
	if c.Unclosed {
		return "<!--" + c.Body
	}
	return "<!--" + c.Body + "-->"
}

// Param is one argument of a template transclusion.
type Param struct {
	// Key is nil for positional arguments.
	Key   Nodes
	Value Nodes
}

// Named reports whether the argument was given as key=value.
func (p *Param) Named() bool {
	return p.Key != nil
}

func (p *Param) String() string {
	if p.Key != nil {
		return p.Key.String() + "=" + p.Value.String()
	}
	return p.Value.String()
}

// Template is a transclusion, {{name|arg|key=value}}.
type Template struct {
	NameNodes Nodes
	Params    []*Param
}

func (t *Template) Kind() Kind { return KindTemplate }

func (t *Template) String() string {
	var b strings.Builder
	b.WriteString("{{")
	b.WriteString(t.NameNodes.String())
	for _, p := range t.Params {
		b.WriteByte('|')
		b.WriteString(p.String())
	}
	b.WriteString("}}")
	return b.String()
}

func (t *Template) children() []Nodes {
	out := []Nodes{t.NameNodes}
	for _, p := range t.Params {
		if p.Key != nil {
			out = append(out, p.Key)
		}
		out = append(out, p.Value)
	}
	return out
}

// Name returns the normalized template name, without the Template
// namespace prefix.
func (t *Template) Name() string {
	name := NormalizeName(t.NameNodes.String())
	if i := strings.IndexByte(name, ':'); i >= 0 && strings.EqualFold(strings.TrimSpace(name[:i]), "template") {
		name = NormalizeName(name[i+1:])
	}
	return name
}

// keys returns the effective parameter name of each argument. Positional
// arguments are numbered from 1.
func (t *Template) keys() []string {
	keys := make([]string, len(t.Params))
	n := 0
	for i, p := range t.Params {
		if p.Key != nil {
			keys[i] = strings.TrimSpace(p.Key.String())
			continue
		}
		n++
		keys[i] = strconv.Itoa(n)
	}
	return keys
}

func (t *Template) lookup(key string) int {
	found := -1
	// The last occurrence of a duplicated key wins, as in MediaWiki.
	for i, k := range t.keys() {
		if k == key {
			found = i
		}
	}
	return found
}

// Parameter returns the trimmed value of the named or numbered argument.
func (t *Template) Parameter(key string) (string, bool) {
	i := t.lookup(key)
	if i < 0 {
		return "", false
	}
	v := t.Params[i].Value.String()
	if t.Params[i].Key != nil {
		v = strings.TrimSpace(v)
	}
	return v, true
}

// Parameters returns all arguments by effective name.
func (t *Template) Parameters() map[string]string {
	out := make(map[string]string, len(t.Params))
	for _, k := range t.keys() {
		out[k], _ = t.Parameter(k)
	}
	return out
}

// SetParameter replaces the value of an argument, keeping the whitespace
// around the old value, or appends a new argument.
func (t *Template) SetParameter(key, value string) {
	if i := t.lookup(key); i >= 0 {
		p := t.Params[i]
		old := p.Value.String()
		lead := old[:len(old)-len(strings.TrimLeftFunc(old, unicode.IsSpace))]
		trail := old[len(strings.TrimRightFunc(old, unicode.IsSpace)):]
		if strings.TrimSpace(old) == "" {
			lead, trail = "", old
		}
		if p.Key == nil && strings.Contains(value, "=") {
			// Later positional arguments would be renumbered.
			keys := t.keys()
			for j := i; j < len(t.Params); j++ {
				if t.Params[j].Key == nil {
					t.Params[j].Key = Nodes{&Text{Value: keys[j]}}
				}
			}
		}
		p.Value = Nodes{&Text{Value: lead + value + trail}}
		return
	}

	// Multi-line templates keep one argument per line.
	suffix := ""
	if n := len(t.Params); n > 0 {
		last := t.Params[n-1].Value.String()
		if strings.HasSuffix(last, "\n") {
			suffix = "\n"
		}
	} else if strings.HasSuffix(t.NameNodes.String(), "\n") {
		suffix = "\n"
	}

	positional := strconv.Itoa(t.positionalCount() + 1)
	p := &Param{Value: Nodes{&Text{Value: value + suffix}}}
	if key != positional || strings.Contains(value, "=") {
		p.Key = Nodes{&Text{Value: key}}
	}
	t.Params = append(t.Params, p)
}

// RemoveParameter deletes every argument with the given name and reports
// whether one existed.
func (t *Template) RemoveParameter(key string) bool {
	keys := t.keys()
	kept := t.Params[:0]
	removed := false
	for i, p := range t.Params {
		if keys[i] == key {
			removed = true
			continue
		}
		kept = append(kept, p)
	}
	t.Params = kept
	return removed
}

func (t *Template) positionalCount() int {
	n := 0
	for _, p := range t.Params {
		if p.Key == nil {
			n++
		}
	}
	return n
}

// Parameter is a template parameter reference, {{{name|default}}}.
type Parameter struct {
	NameNodes  Nodes
	Default    Nodes
	HasDefault bool
}

func (p *Parameter) Kind() Kind { return KindParameter }

func (p *Parameter) String() string {
	s := "{{{" + p.NameNodes.String()
	if p.HasDefault {
		s += "|" + p.Default.String()
	}
	return s + "}}}"
}

func (p *Parameter) children() []Nodes {
	if p.HasDefault {
		return []Nodes{p.NameNodes, p.Default}
	}
	return []Nodes{p.NameNodes}
}

// Name returns the trimmed parameter name.
func (p *Parameter) Name() string {
	return strings.TrimSpace(p.NameNodes.String())
}

// Link is an internal link, [[target|display]]. Category and file
// links are Links of KindCategory and KindFile.
type Link struct {
	kind  Kind
	Parts []Nodes
}

func (l *Link) Kind() Kind { return l.kind }

func (l *Link) String() string {
	parts := make([]string, len(l.Parts))
	for i, p := range l.Parts {
		parts[i] = p.String()
	}
	return "[[" + strings.Join(parts, "|") + "]]"
}

func (l *Link) children() []Nodes {
	return l.Parts
}

// Target returns the link target without the anchor.
func (l *Link) Target() string {
	target := strings.TrimSpace(l.Parts[0].String())
	if i := strings.IndexByte(target, '#'); i >= 0 {
		target = strings.TrimSpace(target[:i])
	}
	return NormalizeName(target)
}

// Anchor returns the section part of the target, if any.
func (l *Link) Anchor() string {
	target := l.Parts[0].String()
	if i := strings.IndexByte(target, '#'); i >= 0 {
		return strings.TrimSpace(target[i+1:])
	}
	return ""
}

// Display returns the link text: the last part after a pipe, or the
// target.
func (l *Link) Display() string {
	if len(l.Parts) > 1 {
		return strings.TrimSpace(l.Parts[len(l.Parts)-1].String())
	}
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(l.Parts[0].String()), ":"))
}

// Name returns the target without its namespace prefix. For category
// links this is the category name.
func (l *Link) Name() string {
	target := strings.TrimPrefix(l.Target(), ":")
	if l.kind == KindLink {
		return target
	}
	if i := strings.IndexByte(target, ':'); i >= 0 {
		return NormalizeName(target[i+1:])
	}
	return target
}

// SortKey returns the sort key of a category link.
func (l *Link) SortKey() string {
	if l.kind != KindCategory || len(l.Parts) < 2 {
		return ""
	}
	return l.Parts[1].String()
}

// ExternalLink is a bracketed external link, [url label].
type ExternalLink struct {
	URL   string
	Sep   string
	Label Nodes
}

func (e *ExternalLink) Kind() Kind { return KindExternalLink }

func (e *ExternalLink) String() string {
	return "[" + e.URL + e.Sep + e.Label.String() + "]"
}

func (e *ExternalLink) children() []Nodes {
	return []Nodes{e.Label}
}

// Heading is a section heading, == title ==.
type Heading struct {
	Level    int
	Title    Nodes
	Trailing string
}

func (h *Heading) Kind() Kind { return KindHeading }

func (h *Heading) String() string {
	eq := strings.Repeat("=", h.Level)
	return eq + h.Title.String() + eq + h.Trailing
}

func (h *Heading) children() []Nodes {
	return []Nodes{h.Title}
}

// Text returns the trimmed heading text.
func (h *Heading) Text() string {
	return strings.TrimSpace(h.Title.String())
}

// Tag is an HTML or extension tag such as <ref>...</ref>. The body of
// tags whose content is not wikitext (nowiki, pre, math, ...) is a
// single Text node.
type Tag struct {
	Name        string
	Open        string
	Body        Nodes
	Close       string
	SelfClosing bool
}

func (t *Tag) Kind() Kind { return KindTag }

func (t *Tag) String() string {
	return t.Open + t.Body.String() + t.Close
}

func (t *Tag) children() []Nodes {
	return []Nodes{t.Body}
}

// Attr returns the value of an attribute of the opening tag.
func (t *Tag) Attr(name string) (string, bool) {
	re := regexp.MustCompile(`(?i)\s` + regexp.QuoteMeta(name) + `\s*=\s*(?:"([^"]*)"|'([^']*)'|([^\s"'>/]+))`)
	m := re.FindStringSubmatch(t.Open)
	if m == nil {
		return "", false
	}
	for _, v := range m[1:] {
		if v != "" {
			return v, true
		}
	}
	return "", true
}

// NormalizeName trims a page or template name, turns underscores into
// spaces, collapses runs of spaces and upper-cases the first letter.
func NormalizeName(name string) string {
	name = strings.ReplaceAll(name, "_", " ")
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return name
	}
	r, size := utf8.DecodeRuneInString(name)
	return string(unicode.ToUpper(r)) + name[size:]
}
