package wikiapi

import (
	"context"
	"fmt"
	"sort"

	"github.com/antonholmquist/jason"

	"cgt.name/pkg/go-wikiapi/mwclient"
	"cgt.name/pkg/go-wikiapi/params"
	"cgt.name/pkg/go-wikiapi/wikitext"
)

// RedirectsOptions configure RedirectsHere and RegisterRedirects.
type RedirectsOptions struct {
	// Namespace is the namespace of titles given without a prefix, such
	// as NSTemplate for template names.
	Namespace int
	// ExcludeRoot leaves the redirect target out of the RedirectsHere
	// result.
	ExcludeRoot bool
}

func (s *Session) qualify(title string, ns int) string {
	if ns != NSMain && s.Namespace(title) == NSMain {
		return s.ToNamespace(title, ns)
	}
	return title
}

// RedirectsRoot returns the title a page redirects to, following the
// whole chain. A title that is not a redirect is returned normalized.
func (s *Session) RedirectsRoot(ctx context.Context, title string) (string, error) {
	resp, err := s.API().GetPages(ctx, params.Values{"titles": title, "redirects": ""})
	if err != nil && !mwclient.IsWarnings(err) {
		return "", err
	}
	return resp.Resolve(title), nil
}

// RedirectsRootPage fetches the page a title redirects to. The returned
// page records the requested title in RedirectFrom.
func (s *Session) RedirectsRootPage(ctx context.Context, title string, opts PageOptions) (*PageData, error) {
	opts.Redirects = true
	page, err := s.Page(ctx, title, opts)
	if err != nil {
		return nil, err
	}
	if page.RedirectFrom == "" && page.Title != title {
		page.RedirectFrom = title
	}
	return page, nil
}

// redirectGroup is a redirect target and the redirects pointing at it.
type redirectGroup struct {
	root      ListItem
	redirects []ListItem
}

// redirectGroups resolves titles to their targets and lists the
// redirects of each target. The result is keyed by the requested title.
func (s *Session) redirectGroups(ctx context.Context, titles []string) (map[string]*redirectGroup, error) {
	p := params.Values{
		"prop":    "redirects|info",
		"rdprop":  "pageid|title",
		"rdlimit": "max",
	}
	p.AddRange("titles", titles...)
	p.Set("redirects", "")

	byRoot := map[string]*redirectGroup{}
	var resolve func(string) string
	err := s.QueryEach(ctx, p, func(obj *jason.Object) error {
		resp, err := decodePages(obj)
		if err != nil {
			return err
		}
		if resolve == nil {
			resolve = resp.Resolve
		}
		pages, _ := obj.GetObjectArray("query", "pages")
		for _, page := range pages {
			root, err := decodeListItem(page)
			if err != nil {
				return err
			}
			g, ok := byRoot[root.Title]
			if !ok {
				g = &redirectGroup{root: root}
				byRoot[root.Title] = g
			}
			rds, _ := page.GetObjectArray("redirects")
			for _, rd := range rds {
				item, err := decodeListItem(rd)
				if err != nil {
					return err
				}
				g.redirects = append(g.redirects, item)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make(map[string]*redirectGroup, len(titles))
	for _, title := range titles {
		root := title
		if resolve != nil {
			root = resolve(title)
		}
		if g, ok := byRoot[root]; ok {
			out[title] = g
		}
	}
	return out, nil
}

// RedirectsHere lists the pages redirecting to the target of title. The
// target itself comes first unless opts.ExcludeRoot is set.
func (s *Session) RedirectsHere(ctx context.Context, title string, opts RedirectsOptions) ([]ListItem, error) {
	title = s.qualify(title, opts.Namespace)
	groups, err := s.redirectGroups(ctx, []string{title})
	if err != nil {
		return nil, err
	}
	g, ok := groups[title]
	if !ok {
		return nil, fmt.Errorf("no page for %q in the response", title)
	}
	var out []ListItem
	if !opts.ExcludeRoot {
		out = append(out, g.root)
	}
	return append(out, g.redirects...), nil
}

// RegisterRedirects records the redirects of the given pages, usually
// templates, so that RedirectTargetOf, AliasesOfPage and IsTemplate
// recognize every alias. It returns the aliases of each target.
func (s *Session) RegisterRedirects(ctx context.Context, titles []string, opts RedirectsOptions) (map[string][]string, error) {
	qualified := make([]string, len(titles))
	for i, t := range titles {
		qualified[i] = s.qualify(t, opts.Namespace)
	}

	result := map[string][]string{}
	for start := 0; start < len(qualified); start += 50 {
		end := min(start+50, len(qualified))
		batch := qualified[start:end]
		groups, err := s.redirectGroups(ctx, batch)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		for _, title := range batch {
			g, ok := groups[title]
			if !ok {
				continue
			}
			root := g.root.Title
			s.redirects[title] = root
			s.redirects[root] = root
			aliases := []string{root}
			for _, rd := range g.redirects {
				s.redirects[rd.Title] = root
				aliases = append(aliases, rd.Title)
			}
			result[root] = aliases
		}
		s.mu.Unlock()
	}
	s.logger.Debug("redirects registered", "pages", len(titles), "targets", len(result))
	return result, nil
}

// titleOf accepts a title, a *PageData or a *wikitext.Template.
func (s *Session) titleOf(page any) string {
	switch p := page.(type) {
	case string:
		return s.NormalizeTitle(p)
	case *PageData:
		return s.NormalizeTitle(p.Title)
	case *wikitext.Template:
		return s.ToNamespace(p.Name(), NSTemplate)
	case ListItem:
		return s.NormalizeTitle(p.Title)
	}
	return ""
}

// RedirectTargetOf returns the registered redirect target of a title, a
// *PageData or a *wikitext.Template, or the normalized title when it is
// not a registered redirect.
func (s *Session) RedirectTargetOf(page any) string {
	title := s.titleOf(page)
	s.mu.Lock()
	defer s.mu.Unlock()
	if root, ok := s.redirects[title]; ok {
		return root
	}
	return title
}

// AliasesOfPage returns the target of a registered page followed by all
// registered titles redirecting to it.
func (s *Session) AliasesOfPage(page any) []string {
	root := s.RedirectTargetOf(page)
	s.mu.Lock()
	defer s.mu.Unlock()
	aliases := []string{root}
	for alias, target := range s.redirects {
		if target == root && alias != root {
			aliases = append(aliases, alias)
		}
	}
	sort.Strings(aliases[1:])
	return aliases
}

// IsTemplate reports whether tpl calls the template name, directly or
// through a registered redirect.
func (s *Session) IsTemplate(name string, tpl *wikitext.Template) bool {
	return s.RedirectTargetOf(s.qualify(name, NSTemplate)) == s.RedirectTargetOf(tpl)
}
