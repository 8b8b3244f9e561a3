package wikiapi

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/antonholmquist/jason"

	"cgt.name/pkg/go-wikiapi/metrics"
	"cgt.name/pkg/go-wikiapi/mwclient"
	"cgt.name/pkg/go-wikiapi/params"
	"cgt.name/pkg/go-wikiapi/wikitext"
)

// PageID selects a page by its ID instead of its title.
type PageID int64

// PageData is a page with its metadata and the revisions fetched with
// it, newest first.
type PageData struct {
	PageID        int64
	NS            int
	Title         string
	Missing       bool
	Redirect      bool
	RedirectFrom  string
	ContentModel  string
	LastRevID     int64
	Touched       string
	Length        int
	Revisions     []mwclient.Revision
	ImageInfo     []mwclient.ImageInfo
	PageProps     map[string]string
	invalidReason string

	session *Session
}

// Wikitext returns the content of the newest fetched revision, or the
// empty string when the page has no revisions.
func (p *PageData) Wikitext() string {
	s, _ := p.Revision(0)
	return s
}

// Revision returns the content of the nth fetched revision, 0 being the
// newest.
func (p *PageData) Revision(n int) (string, bool) {
	if n < 0 || n >= len(p.Revisions) {
		return "", false
	}
	return p.Revisions[n].Content(), true
}

// Timestamp returns the timestamp of the newest fetched revision.
func (p *PageData) Timestamp() string {
	if len(p.Revisions) == 0 {
		return ""
	}
	return p.Revisions[0].Timestamp
}

// Exists reports whether the page exists on the wiki.
func (p *PageData) Exists() bool {
	return !p.Missing && p.invalidReason == ""
}

// Parse parses the wikitext of the newest revision. Every call returns
// a new tree; changes to one tree do not affect the page or other trees.
func (p *PageData) Parse() *wikitext.Document {
	if p.session == nil {
		return wikitext.Parse(p.Wikitext())
	}
	return wikitext.ParseWith(p.Wikitext(), p.session.parseOptions())
}

// Session returns the session that fetched the page.
func (p *PageData) Session() *Session {
	return p.session
}

func (s *Session) newPageData(pg mwclient.Page) *PageData {
	return &PageData{
		PageID:        pg.PageID,
		NS:            pg.NS,
		Title:         pg.Title,
		Missing:       pg.Missing,
		Redirect:      pg.Redirect,
		ContentModel:  pg.ContentModel,
		LastRevID:     pg.LastRevID,
		Touched:       pg.Touched,
		Length:        pg.Length,
		Revisions:     pg.Revisions,
		ImageInfo:     pg.ImageInfo,
		PageProps:     pg.PageProps,
		invalidReason: pg.InvalidReason,
		session:       s,
	}
}

// PageOptions configure Page.
type PageOptions struct {
	// Revisions is the number of revisions to fetch, newest first. The
	// default is one.
	Revisions int
	// RevProps replaces the revision properties requested.
	RevProps []string
	// Redirects follows redirects to their targets.
	Redirects bool
	// Extra parameters are added to the query.
	Extra params.Values
}

var defaultRevProps = []string{"ids", "timestamp", "flags", "user", "comment", "size", "content"}

func (o PageOptions) query() params.Values {
	p := params.Values{
		"prop":    "revisions|info",
		"rvslots": "main",
	}
	props := o.RevProps
	if len(props) == 0 {
		props = defaultRevProps
	}
	p.AddRange("rvprop", props...)
	if o.Revisions > 1 {
		p.SetInt("rvlimit", int64(o.Revisions))
	}
	p.SetBool("redirects", o.Redirects)
	return params.Merge(p, o.Extra)
}

// pageTarget converts the accepted page targets into titles or pageids
// parameters.
func pageTarget(target any) (params.Values, error) {
	switch t := target.(type) {
	case string:
		if strings.TrimSpace(t) == "" {
			return nil, fmt.Errorf("empty page title")
		}
		return params.Values{"titles": t}, nil
	case PageID:
		return params.Values{"pageids": strconv.FormatInt(int64(t), 10)}, nil
	case int:
		return params.Values{"pageids": strconv.Itoa(t)}, nil
	case int64:
		return params.Values{"pageids": strconv.FormatInt(t, 10)}, nil
	case *PageData:
		if t == nil {
			return nil, fmt.Errorf("nil page")
		}
		if t.PageID > 0 {
			return params.Values{"pageids": strconv.FormatInt(t.PageID, 10)}, nil
		}
		return params.Values{"titles": t.Title}, nil
	case ListItem:
		if t.PageID > 0 {
			return params.Values{"pageids": strconv.FormatInt(t.PageID, 10)}, nil
		}
		return params.Values{"titles": t.Title}, nil
	}
	return nil, fmt.Errorf("unsupported page target of type %T", target)
}

// Page fetches a page, given as a title, a PageID or a *PageData, with
// its newest revisions. A page that does not exist is returned with
// Missing set. The page becomes the target of Edit and MoveTo.
func (s *Session) Page(ctx context.Context, target any, opts PageOptions) (*PageData, error) {
	p, err := pageTarget(target)
	if err != nil {
		return nil, err
	}
	if strings.Contains(p.Get("titles"), "|") {
		return nil, fmt.Errorf("cannot fetch several pages at once (%q); use ForEachPage", p.Get("titles"))
	}

	resp, err := s.API().GetPages(ctx, params.Merge(opts.query(), p))
	if err != nil {
		if !mwclient.IsWarnings(err) {
			metrics.RecordPage("error")
			return nil, err
		}
		s.logger.Warn("page query returned warnings", "target", target, "warnings", err.Error())
	}
	if len(resp.Query.Pages) == 0 {
		metrics.RecordPage("error")
		return nil, fmt.Errorf("no page in the response for %v", target)
	}

	page := s.newPageData(resp.Query.Pages[0])
	if opts.Redirects {
		for _, rd := range resp.Query.Redirects {
			if rd.To == page.Title {
				page.RedirectFrom = rd.From
			}
		}
	}
	if page.invalidReason != "" {
		metrics.RecordPage("invalid")
		return nil, mwclient.APIError{Code: "invalidtitle", Info: page.invalidReason}
	}
	if page.Missing {
		metrics.RecordPage("missing")
		s.logger.Debug("page does not exist", "title", page.Title)
	} else {
		metrics.RecordPage("found")
	}
	s.setLastPage(page)
	return page, nil
}

// fetchPages fetches the newest revision of several pages in one request
// and returns them in the order of titles. Missing pages are included
// with Missing set.
func (s *Session) fetchPages(ctx context.Context, titles []string, opts PageOptions) ([]*PageData, error) {
	opts.Revisions = 0
	p := opts.query()
	p.AddRange("titles", titles...)
	resp, err := s.API().GetPages(ctx, p)
	if err != nil {
		if !mwclient.IsWarnings(err) {
			return nil, err
		}
		s.logger.Warn("page query returned warnings", "warnings", err.Error())
	}

	byTitle := make(map[string]mwclient.Page, len(resp.Query.Pages))
	for _, pg := range resp.Query.Pages {
		byTitle[pg.Title] = pg
	}
	pages := make([]*PageData, 0, len(titles))
	for _, title := range titles {
		resolved := resp.Resolve(title)
		pg, ok := byTitle[resolved]
		if !ok {
			pg = mwclient.Page{Title: resolved, Missing: true}
		}
		page := s.newPageData(pg)
		for _, rd := range resp.Query.Redirects {
			if rd.To == resolved && rd.From != resolved {
				page.RedirectFrom = rd.From
			}
		}
		if page.Missing {
			metrics.RecordPage("missing")
		} else {
			metrics.RecordPage("found")
		}
		pages = append(pages, page)
	}
	return pages, nil
}

// decodePages converts a query response into pages.
func decodePages(obj *jason.Object) (*mwclient.PagesResponse, error) {
	raw, err := obj.Marshal()
	if err != nil {
		return nil, err
	}
	var resp mwclient.PagesResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("unable to parse API response: %w", err)
	}
	return &resp, nil
}
