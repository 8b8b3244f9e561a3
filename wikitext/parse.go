// Package wikitext tokenizes MediaWiki wikitext into a tree of nodes.
//
// The parser is lossless: Document.String returns the input unchanged
// until a node is edited. Markup that is not closed is kept as text.
package wikitext

import (
	"errors"
	"regexp"
	"strings"
)

// ErrExit stops a walk started by Each. Each returns nil when the
// callback returns ErrExit.
var ErrExit = errors.New("wikitext: exit walk")

// Options configures namespace recognition for links. The zero value
// recognizes the English canonical names.
type Options struct {
	// CategoryNamespaces are the names and aliases of namespace 14.
	CategoryNamespaces []string
	// FileNamespaces are the names and aliases of namespace 6.
	FileNamespaces []string
}

var defaultOptions = Options{
	CategoryNamespaces: []string{"Category"},
	FileNamespaces:     []string{"File", "Image"},
}

// Document is a parsed page.
type Document struct {
	Nodes Nodes
}

// Parse tokenizes text with the default Options.
func Parse(text string) *Document {
	return ParseWith(text, Options{})
}

// ParseWith tokenizes text.
func ParseWith(text string, opts Options) *Document {
	if len(opts.CategoryNamespaces) == 0 {
		opts.CategoryNamespaces = defaultOptions.CategoryNamespaces
	}
	if len(opts.FileNamespaces) == 0 {
		opts.FileNamespaces = defaultOptions.FileNamespaces
	}
	p := &parser{src: text, opts: opts}
	nodes, _, _ := p.until(nil, true)
	return &Document{Nodes: nodes}
}

func (d *Document) String() string {
	return d.Nodes.String()
}

// Each calls fn for every node matching selector, in document order,
// including nodes nested in templates, links and tags. A selector is a
// kind name ("template", "link", "category", "file", "tag", ...), "*"
// for every node, "Template:Name" for transclusions of one template or
// "Category:Name" for one category link.
func (d *Document) Each(selector string, fn func(Node) error) error {
	match := compileSelector(selector)
	err := walk(d.Nodes, match, fn)
	if errors.Is(err, ErrExit) {
		return nil
	}
	return err
}

// Find returns the nodes matching selector.
func (d *Document) Find(selector string) []Node {
	var out []Node
	_ = d.Each(selector, func(n Node) error {
		out = append(out, n)
		return nil
	})
	return out
}

// Templates returns every transclusion in the document.
func (d *Document) Templates() []*Template {
	var out []*Template
	for _, n := range d.Find("template") {
		out = append(out, n.(*Template))
	}
	return out
}

// Categories returns the names of the categories the page is put in.
func (d *Document) Categories() []string {
	var out []string
	for _, n := range d.Find("category") {
		out = append(out, n.(*Link).Name())
	}
	return out
}

func walk(nodes Nodes, match func(Node) bool, fn func(Node) error) error {
	for _, n := range nodes {
		if match(n) {
			if err := fn(n); err != nil {
				return err
			}
		}
		if c, ok := n.(container); ok {
			for _, child := range c.children() {
				if err := walk(child, match, fn); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func compileSelector(selector string) func(Node) bool {
	selector = strings.TrimSpace(selector)
	if selector == "" || selector == "*" {
		return func(Node) bool { return true }
	}
	for k, name := range kindNames {
		if strings.EqualFold(selector, name) {
			kind := k
			return func(n Node) bool { return n.Kind() == kind }
		}
	}
	if i := strings.IndexByte(selector, ':'); i > 0 {
		ns, name := strings.ToLower(strings.TrimSpace(selector[:i])), NormalizeName(selector[i+1:])
		switch ns {
		case "template":
			return func(n Node) bool {
				t, ok := n.(*Template)
				return ok && t.Name() == name
			}
		case "category":
			return func(n Node) bool {
				l, ok := n.(*Link)
				return ok && l.kind == KindCategory && l.Name() == name
			}
		}
	}
	return func(Node) bool { return false }
}

// stopFunc reports the delimiter that ends the current run at the start
// of rest, or the empty string.
type stopFunc func(rest string) string

func stopAt(delims ...string) stopFunc {
	return func(rest string) string {
		for _, d := range delims {
			if strings.HasPrefix(rest, d) {
				return d
			}
		}
		return ""
	}
}

var (
	templateStops  = stopAt("|", "}}")
	parameterStops = stopAt("|", "}}}")
	defaultStops   = stopAt("}}}")
	linkStops      = stopAt("|", "]]")
	labelStops     = stopAt("]", "\n")

	urlStart = regexp.MustCompile(`^(?i)(?:https?:|ftp:|ftps:|mailto:|irc:|news:|//)`)
	openTag  = regexp.MustCompile(`^<([a-zA-Z][a-zA-Z0-9]*)(\s[^<>]*?)?(/?)>`)
)

// rawTags hold text that is not parsed as wikitext.
var rawTags = map[string]bool{
	"nowiki": true, "pre": true, "math": true, "syntaxhighlight": true,
	"source": true, "score": true, "chem": true, "templatedata": true,
	"graph": true, "timeline": true, "hiero": true,
}

var voidTags = map[string]bool{"br": true, "hr": true, "wbr": true}

var knownTags = map[string]bool{
	"ref": true, "references": true, "gallery": true, "poem": true,
	"noinclude": true, "includeonly": true, "onlyinclude": true,
	"div": true, "span": true, "small": true, "big": true, "sup": true,
	"sub": true, "center": true, "blockquote": true, "code": true,
	"s": true, "u": true, "b": true, "i": true, "del": true, "ins": true,
	"p": true, "table": true, "tr": true, "td": true, "th": true,
	"abbr": true, "cite": true, "font": true, "kbd": true, "mark": true,
	"q": true, "tt": true, "var": true, "section": true, "categorytree": true,
	"inputbox": true, "mapframe": true, "maplink": true, "indicator": true,
	"langconvert": true,
}

type parser struct {
	src  string
	pos  int
	opts Options
}

// until parses nodes until stop matches or the input ends. ok is false
// when the input ended first and stop was set; the position is left at
// the delimiter, which is not consumed.
func (p *parser) until(stop stopFunc, headings bool) (nodes Nodes, delim string, ok bool) {
	textStart := p.pos
	flush := func() {
		if p.pos > textStart {
			nodes = append(nodes, &Text{Value: p.src[textStart:p.pos]})
		}
	}

	for p.pos < len(p.src) {
		rest := p.src[p.pos:]
		if stop != nil {
			if d := stop(rest); d != "" {
				flush()
				return nodes, d, true
			}
		}

		var n Node
		at := p.pos
		switch {
		case strings.HasPrefix(rest, "<!--"):
			n = p.comment()
		case strings.HasPrefix(rest, "{{{"):
			if n = p.parameter(); n == nil {
				n = p.template()
			}
		case strings.HasPrefix(rest, "{{"):
			n = p.template()
		case strings.HasPrefix(rest, "[["):
			n = p.link()
		case rest[0] == '[' && urlStart.MatchString(rest[1:]):
			n = p.externalLink()
		case rest[0] == '<':
			n = p.tag()
		case rest[0] == '=' && headings && (at == 0 || p.src[at-1] == '\n'):
			n = p.heading()
		}
		if n == nil {
			p.pos = at + 1
			continue
		}

		end := p.pos
		p.pos = at
		flush()
		nodes = append(nodes, n)
		p.pos = end
		textStart = end
	}
	flush()
	return nodes, "", stop == nil
}

func (p *parser) comment() Node {
	body := p.src[p.pos+4:]
	if i := strings.Index(body, "-->"); i >= 0 {
		p.pos += 4 + i + 3
		return &Comment{Body: body[:i]}
	}
	p.pos = len(p.src)
	return &Comment{Body: body, Unclosed: true}
}

func (p *parser) template() Node {
	start := p.pos
	p.pos += 2
	name, delim, ok := p.until(templateStops, false)
	if !ok || strings.TrimSpace(name.String()) == "" {
		p.pos = start
		return nil
	}
	t := &Template{NameNodes: name}
	for delim == "|" {
		p.pos++
		var value Nodes
		value, delim, ok = p.until(templateStops, false)
		if !ok {
			p.pos = start
			return nil
		}
		t.Params = append(t.Params, splitParam(value))
	}
	p.pos += 2
	return t
}

// splitParam splits an argument at the first "=" outside nested markup.
func splitParam(value Nodes) *Param {
	for i, n := range value {
		text, ok := n.(*Text)
		if !ok {
			continue
		}
		j := strings.IndexByte(text.Value, '=')
		if j < 0 {
			continue
		}
		key := append(Nodes{}, value[:i]...)
		if j > 0 {
			key = append(key, &Text{Value: text.Value[:j]})
		}
		val := Nodes{}
		if j+1 < len(text.Value) {
			val = append(val, &Text{Value: text.Value[j+1:]})
		}
		val = append(val, value[i+1:]...)
		return &Param{Key: key, Value: val}
	}
	if value == nil {
		value = Nodes{}
	}
	return &Param{Value: value}
}

func (p *parser) parameter() Node {
	start := p.pos
	p.pos += 3
	name, delim, ok := p.until(parameterStops, false)
	if !ok {
		p.pos = start
		return nil
	}
	param := &Parameter{NameNodes: name}
	if delim == "|" {
		p.pos++
		param.HasDefault = true
		param.Default, _, ok = p.until(defaultStops, false)
		if !ok {
			p.pos = start
			return nil
		}
	}
	p.pos += 3
	return param
}

func (p *parser) link() Node {
	start := p.pos
	p.pos += 2
	l := &Link{}
	for {
		part, delim, ok := p.until(linkStops, false)
		if !ok {
			p.pos = start
			return nil
		}
		l.Parts = append(l.Parts, part)
		if delim == "]]" {
			p.pos += 2
			break
		}
		p.pos++
	}
	target := strings.TrimSpace(l.Parts[0].String())
	if target == "" || strings.ContainsAny(target, "\n[]") {
		p.pos = start
		return nil
	}
	l.kind = p.linkKind(target)
	return l
}

func (p *parser) linkKind(target string) Kind {
	if strings.HasPrefix(target, ":") {
		return KindLink
	}
	i := strings.IndexByte(target, ':')
	if i < 0 {
		return KindLink
	}
	ns := NormalizeName(target[:i])
	for _, c := range p.opts.CategoryNamespaces {
		if strings.EqualFold(ns, NormalizeName(c)) {
			return KindCategory
		}
	}
	for _, f := range p.opts.FileNamespaces {
		if strings.EqualFold(ns, NormalizeName(f)) {
			return KindFile
		}
	}
	return KindLink
}

func (p *parser) externalLink() Node {
	start := p.pos
	rest := p.src[p.pos+1:]
	end := strings.IndexAny(rest, " \t]\n")
	if end <= 0 || rest[end] == '\n' {
		return nil
	}
	e := &ExternalLink{URL: rest[:end]}
	p.pos += 1 + end
	if p.src[p.pos] == ']' {
		p.pos++
		return e
	}
	sepEnd := p.pos
	for sepEnd < len(p.src) && (p.src[sepEnd] == ' ' || p.src[sepEnd] == '\t') {
		sepEnd++
	}
	e.Sep = p.src[p.pos:sepEnd]
	p.pos = sepEnd
	label, delim, ok := p.until(labelStops, false)
	if !ok || delim != "]" {
		p.pos = start
		return nil
	}
	e.Label = label
	p.pos++
	return e
}

func (p *parser) tag() Node {
	start := p.pos
	m := openTag.FindStringSubmatch(p.src[p.pos:])
	if m == nil {
		return nil
	}
	name := strings.ToLower(m[1])
	if !knownTags[name] && !rawTags[name] && !voidTags[name] {
		return nil
	}
	t := &Tag{Name: name, Open: m[0], SelfClosing: m[3] == "/"}
	p.pos += len(m[0])
	if t.SelfClosing || voidTags[name] {
		return t
	}

	closing := regexp.MustCompile(`^(?i)</` + regexp.QuoteMeta(name) + `\s*>`)
	if rawTags[name] {
		loc := regexp.MustCompile(`(?i)</`+regexp.QuoteMeta(name)+`\s*>`).FindStringIndex(p.src[p.pos:])
		if loc == nil {
			p.pos = start
			return nil
		}
		if loc[0] > 0 {
			t.Body = Nodes{&Text{Value: p.src[p.pos : p.pos+loc[0]]}}
		}
		t.Close = p.src[p.pos+loc[0] : p.pos+loc[1]]
		p.pos += loc[1]
		return t
	}

	stop := func(rest string) string {
		if !strings.HasPrefix(rest, "</") {
			return ""
		}
		return closing.FindString(rest)
	}
	body, delim, ok := p.until(stop, true)
	if !ok {
		p.pos = start
		return nil
	}
	t.Body = body
	t.Close = delim
	p.pos += len(delim)
	return t
}

func (p *parser) heading() Node {
	rest := p.src[p.pos:]
	eol := strings.IndexByte(rest, '\n')
	if eol < 0 {
		eol = len(rest)
	}
	line := rest[:eol]
	trimmed := strings.TrimRight(line, " \t")

	opening := len(trimmed) - len(strings.TrimLeft(trimmed, "="))
	closing := len(trimmed) - len(strings.TrimRight(trimmed, "="))
	level := min(opening, closing, 6)
	if 2*level >= len(trimmed) {
		level = (len(trimmed) - 1) / 2
	}
	if level < 1 {
		return nil
	}

	sub := &parser{src: trimmed[level : len(trimmed)-level], opts: p.opts}
	title, _, _ := sub.until(nil, false)
	p.pos += eol
	return &Heading{Level: level, Title: title, Trailing: line[len(trimmed):]}
}

// redirectRE matches the redirect magic word in the wikis this package
// is used with most.
var redirectRE = regexp.MustCompile(`(?i)^\s*#(?:redirect|重定向|weiterleitung|redirection)\s*:?\s*\[\[([^\]|]+)(?:\|[^\]]*)?\]\]`)

// RedirectTarget returns the target of a redirect page.
func RedirectTarget(text string) (string, bool) {
	m := redirectRE.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	target := strings.TrimSpace(m[1])
	if i := strings.IndexByte(target, '#'); i >= 0 {
		target = strings.TrimSpace(target[:i])
	}
	return NormalizeName(target), true
}
