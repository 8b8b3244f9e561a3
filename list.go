package wikiapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/antonholmquist/jason"

	"cgt.name/pkg/go-wikiapi/params"
)

// ListType names an API list module.
type ListType string

// These are the list modules supported by List and For.
const (
	CategoryMembers ListType = "categorymembers"
	EmbeddedIn      ListType = "embeddedin"
	BackLinks       ListType = "backlinks"
	ImageUsage      ListType = "imageusage"
	AllPages        ListType = "allpages"
	AllCategories   ListType = "allcategories"
	AllRedirects    ListType = "allredirects"
	PrefixSearch    ListType = "prefixsearch"
	SearchList      ListType = "search"
	RecentChanges   ListType = "recentchanges"
	UserContribs    ListType = "usercontribs"
	LogEvents       ListType = "logevents"
	ExtURLUsage     ListType = "exturlusage"
	ProtectedTitles ListType = "protectedtitles"
)

type listModule struct {
	prefix string
	// key is the parameter receiving the title argument, without prefix.
	key string
}

var listModules = map[ListType]listModule{
	CategoryMembers: {"cm", "title"},
	EmbeddedIn:      {"ei", "title"},
	BackLinks:       {"bl", "title"},
	ImageUsage:      {"iu", "title"},
	AllPages:        {"ap", "prefix"},
	AllCategories:   {"ac", "prefix"},
	AllRedirects:    {"ar", "prefix"},
	PrefixSearch:    {"ps", "search"},
	SearchList:      {"sr", "search"},
	RecentChanges:   {"rc", ""},
	UserContribs:    {"uc", "user"},
	LogEvents:       {"le", "title"},
	ExtURLUsage:     {"eu", "query"},
	ProtectedTitles: {"pt", ""},
}

// ListItem is one entry of a list. Fields a module does not return are
// left empty; Raw holds the entry as returned.
type ListItem struct {
	PageID    int64  `json:"pageid"`
	NS        int    `json:"ns"`
	Title     string `json:"title"`
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	User      string `json:"user"`
	Comment   string `json:"comment"`
	RevID     int64  `json:"revid"`
	OldRevID  int64  `json:"old_revid"`
	RCID      int64  `json:"rcid"`
	Size      int    `json:"size"`
	NewLen    int    `json:"newlen"`
	OldLen    int    `json:"oldlen"`
	WordCount int    `json:"wordcount"`
	Snippet   string `json:"snippet"`
	URL       string `json:"url"`
	Bot       bool   `json:"bot"`
	Category  string `json:"category"`

	Raw *jason.Object `json:"-"`
}

// ListOptions configure List and For.
type ListOptions struct {
	// Namespace restricts the entries to these namespaces.
	Namespace []int
	// Limit is the maximum number of entries; zero means all.
	Limit int
	// Extra parameters are added to the query, with their module
	// prefix (e.g. "cmtype").
	Extra params.Values
}

// PageList is the result of List.
type PageList struct {
	Type  ListType
	Title string
	Items []ListItem
}

// Len returns the number of entries.
func (l *PageList) Len() int {
	return len(l.Items)
}

// Titles returns the titles of the entries.
func (l *PageList) Titles() []string {
	titles := make([]string, len(l.Items))
	for i, item := range l.Items {
		titles[i] = item.Title
	}
	return titles
}

// Each calls fn for every entry. Returning ErrStop ends the iteration
// without an error.
func (l *PageList) Each(fn func(ListItem) error) error {
	for _, item := range l.Items {
		if err := fn(item); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
	return nil
}

func (s *Session) listParams(typ ListType, title string, opts ListOptions) (params.Values, error) {
	mod, ok := listModules[typ]
	if !ok {
		return nil, fmt.Errorf("unsupported list type %q", typ)
	}
	p := params.Values{"list": string(typ)}
	if mod.key != "" && title != "" {
		if typ == CategoryMembers && !s.IsNamespace(title, NSCategory) {
			title = s.ToNamespace(title, NSCategory)
		}
		p.Set(mod.prefix+mod.key, title)
	}
	if len(opts.Namespace) > 0 {
		p.Set(mod.prefix+"namespace", namespaceParam(opts.Namespace))
	}
	limit := "max"
	if opts.Limit > 0 && opts.Limit < 500 {
		limit = strconv.Itoa(opts.Limit)
	}
	p.Set(mod.prefix+"limit", limit)
	switch typ {
	case RecentChanges:
		p.Set("rcprop", "title|ids|timestamp|user|comment|sizes|flags")
	case UserContribs:
		p.Set("ucprop", "ids|title|timestamp|comment|size|flags")
	case LogEvents:
		p.Set("leprop", "ids|title|type|user|timestamp|comment")
	case AllRedirects:
		p.Set("arprop", "ids|title")
	}
	return params.Merge(p, opts.Extra), nil
}

// For calls fn for each entry of a list, following continuations. The
// title argument is the page, prefix, user or search key the module
// takes; it is ignored by modules that take none. Returning ErrStop
// from fn ends the iteration without an error.
func (s *Session) For(ctx context.Context, typ ListType, title string, fn func(ListItem) error, opts ListOptions) error {
	p, err := s.listParams(typ, title, opts)
	if err != nil {
		return err
	}
	seen := 0
	err = s.QueryEach(ctx, p, func(resp *jason.Object) error {
		items, err := resp.GetObjectArray("query", string(typ))
		if err != nil {
			// An empty batch may come without the list key.
			return nil
		}
		for _, obj := range items {
			item, err := decodeListItem(obj)
			if err != nil {
				return err
			}
			if item.Title == "" && item.Category != "" {
				item.Title = s.ToNamespace(item.Category, NSCategory)
				item.NS = NSCategory
			}
			if err := fn(item); err != nil {
				return err
			}
			seen++
			if opts.Limit > 0 && seen >= opts.Limit {
				return ErrStop
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("list %s of %q: %w", typ, title, err)
	}
	return nil
}

func decodeListItem(obj *jason.Object) (ListItem, error) {
	raw, err := obj.Marshal()
	if err != nil {
		return ListItem{}, err
	}
	var item ListItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return ListItem{}, fmt.Errorf("unable to decode list entry: %w", err)
	}
	item.Raw = obj
	return item, nil
}

// List collects the entries of a list module.
func (s *Session) List(ctx context.Context, typ ListType, title string, opts ListOptions) (*PageList, error) {
	list := &PageList{Type: typ, Title: title}
	err := s.For(ctx, typ, title, func(item ListItem) error {
		list.Items = append(list.Items, item)
		return nil
	}, opts)
	if err != nil {
		return nil, err
	}
	return list, nil
}

// CategoryMembers lists the members of a category. The "Category:"
// prefix may be left out.
func (s *Session) CategoryMembers(ctx context.Context, category string, opts ListOptions) (*PageList, error) {
	return s.List(ctx, CategoryMembers, category, opts)
}

// EmbeddedIn lists the pages transcluding a page.
func (s *Session) EmbeddedIn(ctx context.Context, title string, opts ListOptions) (*PageList, error) {
	return s.List(ctx, EmbeddedIn, title, opts)
}

// BackLinks lists the pages linking to a page.
func (s *Session) BackLinks(ctx context.Context, title string, opts ListOptions) (*PageList, error) {
	return s.List(ctx, BackLinks, title, opts)
}

// ImageUsage lists the pages using a file.
func (s *Session) ImageUsage(ctx context.Context, file string, opts ListOptions) (*PageList, error) {
	if !s.IsNamespace(file, NSFile) {
		file = s.ToNamespace(file, NSFile)
	}
	return s.List(ctx, ImageUsage, file, opts)
}

// AllPages lists the pages whose titles start with prefix.
func (s *Session) AllPages(ctx context.Context, prefix string, opts ListOptions) (*PageList, error) {
	return s.List(ctx, AllPages, prefix, opts)
}

// AllCategories lists the categories whose names start with prefix.
func (s *Session) AllCategories(ctx context.Context, prefix string, opts ListOptions) (*PageList, error) {
	return s.List(ctx, AllCategories, prefix, opts)
}

// AllRedirects lists the redirects whose titles start with prefix.
func (s *Session) AllRedirects(ctx context.Context, prefix string, opts ListOptions) (*PageList, error) {
	return s.List(ctx, AllRedirects, prefix, opts)
}

// PrefixSearch lists the pages found by the prefix search engine.
func (s *Session) PrefixSearch(ctx context.Context, prefix string, opts ListOptions) (*PageList, error) {
	return s.List(ctx, PrefixSearch, prefix, opts)
}

// UserContribs lists the contributions of a user.
func (s *Session) UserContribs(ctx context.Context, user string, opts ListOptions) (*PageList, error) {
	return s.List(ctx, UserContribs, user, opts)
}

// LogEvents lists the log entries of a page.
func (s *Session) LogEvents(ctx context.Context, title string, opts ListOptions) (*PageList, error) {
	return s.List(ctx, LogEvents, title, opts)
}

// ExtURLUsage lists the pages linking to a URL.
func (s *Session) ExtURLUsage(ctx context.Context, url string, opts ListOptions) (*PageList, error) {
	return s.List(ctx, ExtURLUsage, url, opts)
}

// RecentChanges lists recent changes, newest first.
func (s *Session) RecentChanges(ctx context.Context, opts ListOptions) (*PageList, error) {
	return s.List(ctx, RecentChanges, "", opts)
}

// SearchOptions configure Search.
type SearchOptions struct {
	Namespace []int
	// Limit is the maximum number of results; zero means all.
	Limit int
	// What is "text" (the default), "title" or "nearmatch".
	What  string
	Extra params.Values
}

// Search runs a full-text search.
func (s *Session) Search(ctx context.Context, key string, opts SearchOptions) (*PageList, error) {
	extra := params.Values{"srprop": "size|wordcount|timestamp|snippet"}
	if opts.What != "" {
		extra.Set("srwhat", opts.What)
	}
	return s.List(ctx, SearchList, key, ListOptions{
		Namespace: opts.Namespace,
		Limit:     opts.Limit,
		Extra:     params.Merge(extra, opts.Extra),
	})
}
