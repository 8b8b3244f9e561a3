package wikiapi

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"cgt.name/pkg/go-wikiapi/params"
	"cgt.name/pkg/go-wikiapi/wikitext"
)

// Namespace IDs that exist on every MediaWiki site.
const (
	NSMedia     = -2
	NSSpecial   = -1
	NSMain      = 0
	NSUser      = 2
	NSProject   = 4
	NSFile      = 6
	NSMediaWiki = 8
	NSTemplate  = 10
	NSHelp      = 12
	NSCategory  = 14
)

// Namespace describes one namespace of a site.
type Namespace struct {
	ID        int      `json:"id"`
	Name      string   `json:"name"`
	Canonical string   `json:"canonical"`
	Case      string   `json:"case"`
	Content   bool     `json:"content"`
	Aliases   []string `json:"-"`
}

// SiteInfo is the general information and namespace table of a site.
type SiteInfo struct {
	SiteName    string
	WikiID      string
	Language    string
	Generator   string
	Server      string
	ArticlePath string
	MainPage    string
	Case        string
	Namespaces  map[int]*Namespace

	index map[string]int
}

var canonicalNamespaces = []Namespace{
	{ID: NSMedia, Name: "Media", Canonical: "Media"},
	{ID: NSSpecial, Name: "Special", Canonical: "Special"},
	{ID: NSMain, Content: true},
	{ID: 1, Name: "Talk", Canonical: "Talk"},
	{ID: NSUser, Name: "User", Canonical: "User"},
	{ID: 3, Name: "User talk", Canonical: "User talk"},
	{ID: NSProject, Name: "Project", Canonical: "Project"},
	{ID: 5, Name: "Project talk", Canonical: "Project talk"},
	{ID: NSFile, Name: "File", Canonical: "File", Aliases: []string{"Image"}},
	{ID: 7, Name: "File talk", Canonical: "File talk", Aliases: []string{"Image talk"}},
	{ID: NSMediaWiki, Name: "MediaWiki", Canonical: "MediaWiki"},
	{ID: 9, Name: "MediaWiki talk", Canonical: "MediaWiki talk"},
	{ID: NSTemplate, Name: "Template", Canonical: "Template"},
	{ID: 11, Name: "Template talk", Canonical: "Template talk"},
	{ID: NSHelp, Name: "Help", Canonical: "Help"},
	{ID: 13, Name: "Help talk", Canonical: "Help talk"},
	{ID: NSCategory, Name: "Category", Canonical: "Category"},
	{ID: 15, Name: "Category talk", Canonical: "Category talk"},
}

// defaultSiteInfo is used until LoadSiteInfo succeeds.
func defaultSiteInfo() *SiteInfo {
	si := &SiteInfo{Case: "first-letter", Namespaces: map[int]*Namespace{}}
	for _, ns := range canonicalNamespaces {
		ns.Case = "first-letter"
		si.Namespaces[ns.ID] = &ns
	}
	si.buildIndex()
	return si
}

func (si *SiteInfo) buildIndex() {
	si.index = map[string]int{}
	for id, ns := range si.Namespaces {
		for _, name := range append([]string{ns.Name, ns.Canonical}, ns.Aliases...) {
			if name != "" || id == NSMain {
				si.index[namespaceKey(name)] = id
			}
		}
	}
}

func namespaceKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(strings.ReplaceAll(name, "_", " ")), " "))
}

// Lookup returns the ID of a namespace name, canonical name or alias,
// ignoring case.
func (si *SiteInfo) Lookup(name string) (int, bool) {
	id, ok := si.index[namespaceKey(name)]
	return id, ok
}

// Names returns the local name, canonical name and aliases of a
// namespace.
func (si *SiteInfo) Names(id int) []string {
	ns, ok := si.Namespaces[id]
	if !ok {
		return nil
	}
	var names []string
	seen := map[string]bool{}
	for _, name := range append([]string{ns.Name, ns.Canonical}, ns.Aliases...) {
		if name != "" && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

type siteInfoResponse struct {
	Error *struct{ Code, Info string } `json:"error"`
	Query struct {
		General struct {
			SiteName    string `json:"sitename"`
			WikiID      string `json:"wikiid"`
			Lang        string `json:"lang"`
			Generator   string `json:"generator"`
			Server      string `json:"server"`
			ArticlePath string `json:"articlepath"`
			MainPage    string `json:"mainpage"`
			Case        string `json:"case"`
		} `json:"general"`
		Namespaces       map[string]*Namespace `json:"namespaces"`
		NamespaceAliases []struct {
			ID    int    `json:"id"`
			Alias string `json:"alias"`
		} `json:"namespacealiases"`
	} `json:"query"`
}

// LoadSiteInfo fetches the general site information and the namespace
// table. Until it is called the title helpers know the canonical English
// namespace names only.
func (s *Session) LoadSiteInfo(ctx context.Context) (*SiteInfo, error) {
	body, err := s.API().GetRaw(ctx, params.Values{
		"action": "query",
		"meta":   "siteinfo",
		"siprop": "general|namespaces|namespacealiases",
	})
	if err != nil {
		return nil, err
	}
	var resp siteInfoResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unable to parse siteinfo response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("siteinfo: %s: %s", resp.Error.Code, resp.Error.Info)
	}

	g := resp.Query.General
	si := &SiteInfo{
		SiteName:    g.SiteName,
		WikiID:      g.WikiID,
		Language:    g.Lang,
		Generator:   g.Generator,
		Server:      g.Server,
		ArticlePath: g.ArticlePath,
		MainPage:    g.MainPage,
		Case:        g.Case,
		Namespaces:  map[int]*Namespace{},
	}
	for key, ns := range resp.Query.Namespaces {
		if ns == nil {
			continue
		}
		if id, err := strconv.Atoi(key); err == nil {
			ns.ID = id
		}
		si.Namespaces[ns.ID] = ns
	}
	for _, a := range resp.Query.NamespaceAliases {
		if ns, ok := si.Namespaces[a.ID]; ok {
			ns.Aliases = append(ns.Aliases, a.Alias)
		}
	}
	si.buildIndex()

	s.mu.Lock()
	s.siteInfo = si
	if s.language == "" {
		s.language = si.Language
	}
	s.mu.Unlock()
	s.logger.Debug("site information loaded", "site", si.WikiID, "namespaces", len(si.Namespaces))
	return si, nil
}

// SiteInfo returns the loaded site information, or the built-in
// canonical namespace table when LoadSiteInfo has not been called.
func (s *Session) SiteInfo() *SiteInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.siteInfo == nil {
		s.siteInfo = defaultSiteInfo()
	}
	return s.siteInfo
}

// parseOptions returns the wikitext options matching the site's
// category and file namespace names.
func (s *Session) parseOptions() wikitext.Options {
	si := s.SiteInfo()
	return wikitext.Options{
		CategoryNamespaces: si.Names(NSCategory),
		FileNamespaces:     si.Names(NSFile),
	}
}

// splitTitle separates a namespace prefix from a title.
func (s *Session) splitTitle(title string) (int, string) {
	title = strings.TrimPrefix(cleanTitle(title), ":")
	prefix, rest, ok := strings.Cut(title, ":")
	if !ok {
		return NSMain, title
	}
	if id, found := s.SiteInfo().Lookup(prefix); found && id != NSMain {
		return id, strings.TrimSpace(rest)
	}
	return NSMain, title
}

func cleanTitle(title string) string {
	title = norm.NFC.String(title)
	title = strings.ReplaceAll(title, "_", " ")
	return strings.Join(strings.Fields(title), " ")
}

func upperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || unicode.IsUpper(r) {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// NormalizeTitle returns title the way the wiki stores it: NFC
// normalized, with spaces instead of underscores, the local namespace
// name and an upper-case first letter where the namespace requires it.
func (s *Session) NormalizeTitle(title string) string {
	id, rest := s.splitTitle(title)
	si := s.SiteInfo()
	if ns, ok := si.Namespaces[id]; !ok || ns.Case != "case-sensitive" {
		rest = upperFirst(rest)
	}
	if id == NSMain {
		return rest
	}
	return si.Namespaces[id].Name + ":" + rest
}

// Namespace returns the namespace ID of a title.
func (s *Session) Namespace(title string) int {
	id, _ := s.splitTitle(title)
	return id
}

// RemoveNamespace strips the namespace prefix from a title.
func (s *Session) RemoveNamespace(title string) string {
	_, rest := s.splitTitle(title)
	return rest
}

// IsNamespace reports whether title is in namespace ns, given as an ID
// or a name.
func (s *Session) IsNamespace(title string, ns any) bool {
	id := s.Namespace(title)
	switch v := ns.(type) {
	case int:
		return id == v
	case string:
		want, ok := s.SiteInfo().Lookup(v)
		return ok && id == want
	}
	return false
}

// ToNamespace moves title into namespace ns, replacing any prefix.
func (s *Session) ToNamespace(title string, ns int) string {
	rest := s.RemoveNamespace(title)
	if ns == NSMain {
		return upperFirst(rest)
	}
	name := ""
	if n, ok := s.SiteInfo().Namespaces[ns]; ok {
		name = n.Name
	}
	if name == "" {
		return upperFirst(rest)
	}
	return name + ":" + upperFirst(rest)
}

// IsTalkNamespace reports whether ns is a talk namespace.
func IsTalkNamespace(ns int) bool {
	return ns > 0 && ns%2 == 1
}

// ToTalkPage returns the title of the talk page of title. Talk pages are
// returned unchanged; special pages have no talk page.
func (s *Session) ToTalkPage(title string) (string, error) {
	id := s.Namespace(title)
	switch {
	case id < 0:
		return "", fmt.Errorf("%q has no talk page", title)
	case IsTalkNamespace(id):
		return s.NormalizeTitle(title), nil
	}
	return s.ToNamespace(title, id+1), nil
}

// TalkPageToMain returns the subject page of a talk page. Other titles
// are returned normalized.
func (s *Session) TalkPageToMain(title string) string {
	id := s.Namespace(title)
	if !IsTalkNamespace(id) {
		return s.NormalizeTitle(title)
	}
	return s.ToNamespace(title, id-1)
}

// namespaceParam encodes namespace IDs for a list module.
func namespaceParam(ids []int) string {
	sorted := append([]int(nil), ids...)
	sort.Ints(sorted)
	parts := make([]string, len(sorted))
	for i, id := range sorted {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, "|")
}
