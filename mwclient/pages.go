package mwclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"cgt.name/pkg/go-wikiapi/params"
)

// ErrPageNotFound is the page-specific error of a page that does not
// exist.
var ErrPageNotFound = errors.New("page not found")

// Slot is one content slot of a revision.
type Slot struct {
	ContentModel  string `json:"contentmodel"`
	ContentFormat string `json:"contentformat"`
	Content       string `json:"content"`
}

// Revision is a page revision as returned by prop=revisions in format
// version 2.
type Revision struct {
	RevID     int64           `json:"revid"`
	ParentID  int64           `json:"parentid"`
	Minor     bool            `json:"minor"`
	User      string          `json:"user"`
	Timestamp string          `json:"timestamp"`
	Comment   string          `json:"comment"`
	Size      int             `json:"size"`
	SHA1      string          `json:"sha1"`
	Tags      []string        `json:"tags"`
	Slots     map[string]Slot `json:"slots"`
}

// Content returns the content of the main slot.
func (r Revision) Content() string {
	return r.Slots["main"].Content
}

// ImageInfo is one entry of prop=imageinfo.
type ImageInfo struct {
	Timestamp      string `json:"timestamp"`
	User           string `json:"user"`
	Size           int64  `json:"size"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	URL            string `json:"url"`
	DescriptionURL string `json:"descriptionurl"`
	ThumbURL       string `json:"thumburl"`
	ThumbWidth     int    `json:"thumbwidth"`
	ThumbHeight    int    `json:"thumbheight"`
	Mime           string `json:"mime"`
	SHA1           string `json:"sha1"`
}

// Page is one entry of query.pages in format version 2.
type Page struct {
	PageID        int64             `json:"pageid"`
	NS            int               `json:"ns"`
	Title         string            `json:"title"`
	Missing       bool              `json:"missing"`
	Invalid       bool              `json:"invalid"`
	InvalidReason string            `json:"invalidreason"`
	Redirect      bool              `json:"redirect"`
	ContentModel  string            `json:"contentmodel"`
	PageLanguage  string            `json:"pagelanguage"`
	Touched       string            `json:"touched"`
	LastRevID     int64             `json:"lastrevid"`
	Length        int               `json:"length"`
	Revisions     []Revision        `json:"revisions"`
	ImageInfo     []ImageInfo       `json:"imageinfo"`
	PageProps     map[string]string `json:"pageprops"`
}

// Rename records a title normalization or redirect resolution.
type Rename struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Fragment string `json:"tofragment"`
}

// PagesResponse is the decoded answer of an action=query request that
// returns pages.
type PagesResponse struct {
	BatchComplete bool                         `json:"batchcomplete"`
	Continue      map[string]string            `json:"continue"`
	Warnings      map[string]map[string]string `json:"warnings"`
	Error         *APIError                    `json:"error"`
	Query         struct {
		Normalized []Rename `json:"normalized"`
		Redirects  []Rename `json:"redirects"`
		Pages      []Page   `json:"pages"`
	} `json:"query"`
}

// warnings converts the decoded warnings into APIWarnings.
func (r *PagesResponse) warnings() error {
	var warnings APIWarnings
	for module, w := range r.Warnings {
		text := w["warnings"]
		if text == "" {
			text = w["*"]
		}
		for _, line := range strings.Split(text, "\n") {
			if line != "" {
				warnings = append(warnings, APIWarning{Module: module, Info: line})
			}
		}
	}
	if len(warnings) == 0 {
		return nil
	}
	return warnings
}

// Resolve follows normalizations and redirects listed in the response
// and returns the final title for a requested title.
func (r *PagesResponse) Resolve(title string) string {
	for _, n := range r.Query.Normalized {
		if n.From == title {
			title = n.To
			break
		}
	}
	// Redirect chains are resolved by the API; one hop is listed.
	for _, rd := range r.Query.Redirects {
		if rd.From == title {
			title = rd.To
			break
		}
	}
	return title
}

// GetPages performs an action=query request that returns pages and
// decodes the answer. A response with warnings is returned together with
// an APIWarnings error. Long title lists are sent by POST.
func (w *Client) GetPages(ctx context.Context, p params.Values) (*PagesResponse, error) {
	p = p.Clone()
	p.Set("action", "query")

	var body []byte
	var err error
	if len(p.Get("titles"))+len(p.Get("pageids")) > 1500 {
		body, err = w.PostRaw(ctx, p)
	} else {
		body, err = w.GetRaw(ctx, p)
	}
	if err != nil {
		return nil, err
	}

	var resp PagesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unable to parse API response: %w", err)
	}
	if resp.Error != nil {
		return nil, *resp.Error
	}
	return &resp, resp.warnings()
}

// BriefRevision contains basic information on a page's latest revision.
type BriefRevision struct {
	Content   string
	Timestamp string
	Error     error
	PageID    string
}

// GetPagesByName gets the contents of multiple pages (specified by
// their titles) and the timestamps of their most recent revisions.
// The returned map is keyed by the requested titles. Page specific
// errors (such as a missing page) are in BriefRevision.Error.
func (w *Client) GetPagesByName(ctx context.Context, titles ...string) (map[string]BriefRevision, error) {
	p := params.Values{
		"prop":    "revisions",
		"rvprop":  "content|timestamp",
		"rvslots": "main",
	}
	p.AddRange("titles", titles...)

	resp, err := w.GetPages(ctx, p)
	if err != nil && !IsWarnings(err) {
		return nil, err
	}
	pages, perr := handleGetPages(titles, resp)
	if perr != nil {
		return pages, perr
	}
	return pages, err
}

// GetPageByName gets the content of a page (specified by its name) and
// the timestamp of its most recent revision.
func (w *Client) GetPageByName(ctx context.Context, pageName string) (content string, timestamp string, err error) {
	pages, err := w.GetPagesByName(ctx, pageName)
	if err != nil && !IsWarnings(err) {
		return "", "", err
	}
	page := pages[pageName]
	if page.Error != nil {
		return "", "", page.Error
	}
	return page.Content, page.Timestamp, err
}

// GetPageByID gets the content of a page (specified by its id) and
// the timestamp of its most recent revision.
func (w *Client) GetPageByID(ctx context.Context, pageID string) (content string, timestamp string, err error) {
	resp, err := w.GetPages(ctx, params.Values{
		"prop":    "revisions",
		"rvprop":  "content|timestamp",
		"rvslots": "main",
		"pageids": pageID,
	})
	if err != nil && !IsWarnings(err) {
		return "", "", err
	}
	if len(resp.Query.Pages) == 0 {
		return "", "", fmt.Errorf("%w (id: %s)", ErrPageNotFound, pageID)
	}
	page := resp.Query.Pages[0]
	if page.Missing || len(page.Revisions) == 0 {
		return "", "", fmt.Errorf("%w (id: %s)", ErrPageNotFound, pageID)
	}
	return page.Revisions[0].Content(), page.Revisions[0].Timestamp, err
}

func handleGetPages(titles []string, resp *PagesResponse) (map[string]BriefRevision, error) {
	byTitle := make(map[string]Page, len(resp.Query.Pages))
	for _, page := range resp.Query.Pages {
		byTitle[page.Title] = page
	}

	pages := make(map[string]BriefRevision, len(titles))
	for _, title := range titles {
		page, ok := byTitle[resp.Resolve(title)]
		var entry BriefRevision
		switch {
		case !ok:
			entry.Error = fmt.Errorf("%w: no entry for %q in response", ErrPageNotFound, title)
		case page.Invalid:
			entry.Error = APIError{Code: "invalidtitle", Info: page.InvalidReason}
		case page.Missing:
			entry.Error = fmt.Errorf("%w: %q", ErrPageNotFound, title)
		case len(page.Revisions) == 0:
			entry.Error = fmt.Errorf("no revisions returned for %q", title)
		default:
			entry.Content = page.Revisions[0].Content()
			entry.Timestamp = page.Revisions[0].Timestamp
			entry.PageID = strconv.FormatInt(page.PageID, 10)
		}
		pages[title] = entry
	}
	return pages, resp.warnings()
}
