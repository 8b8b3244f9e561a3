package wikiapi

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/antonholmquist/jason"
	"github.com/pmezard/go-difflib/difflib"

	"cgt.name/pkg/go-wikiapi/metrics"
	"cgt.name/pkg/go-wikiapi/mwclient"
	"cgt.name/pkg/go-wikiapi/params"
)

// ContentFunc computes the new text of a page from its current state.
// It may return ErrSkipEdit or a *Cancel to leave the page alone.
type ContentFunc func(ctx context.Context, page *PageData) (string, error)

// EditOptions configure an edit.
type EditOptions struct {
	Summary    string
	Bot        bool
	Minor      bool
	NoCreate   bool
	CreateOnly bool
	Recreate   bool
	// Section is a section number, or "new" to append a section titled
	// SectionTitle.
	Section      string
	SectionTitle string
	// AllowEmpty permits saving an empty page.
	AllowEmpty bool
	Tags       []string
	Watchlist  string
	// DryRun computes the diff of the edit without saving it.
	DryRun bool
	// Extra parameters are added to the edit request.
	Extra params.Values
}

func (o EditOptions) params() params.Values {
	p := params.Values{}
	if o.Summary != "" {
		p.Set("summary", o.Summary)
	}
	p.SetBool("bot", o.Bot)
	if o.Minor {
		p.Set("minor", "")
	} else {
		p.Set("notminor", "")
	}
	p.SetBool("nocreate", o.NoCreate)
	p.SetBool("createonly", o.CreateOnly)
	p.SetBool("recreate", o.Recreate)
	if o.Section != "" {
		p.Set("section", o.Section)
	}
	if o.SectionTitle != "" {
		p.Set("sectiontitle", o.SectionTitle)
	}
	if len(o.Tags) > 0 {
		p.AddRange("tags", o.Tags...)
	}
	if o.Watchlist != "" {
		p.Set("watchlist", o.Watchlist)
	}
	return p
}

// EditResult describes the outcome of an edit. Skipped, Empty and
// Cancelled edits did not reach the wiki.
type EditResult struct {
	Title        string
	PageID       int64
	OldRevID     int64
	NewRevID     int64
	NewTimestamp string
	NoChange     bool
	Skipped      bool
	Empty        bool
	Cancelled    bool
	Reason       string
	// Diff is the unified diff of a dry run.
	Diff string
	// Result is the "edit" object of the API answer.
	Result *jason.Object
}

// Saved reports whether the edit created a new revision.
func (r *EditResult) Saved() bool {
	return r.NewRevID > 0
}

// Edit changes the page most recently fetched by Page. content is the
// new text or a function computing it: a ContentFunc or a
// func(*PageData) (string, error).
func (s *Session) Edit(ctx context.Context, content any, opts EditOptions) (*EditResult, error) {
	page := s.LastPage()
	if page == nil {
		return nil, ErrNoLastPage
	}
	return s.editPage(ctx, page, content, opts)
}

// EditPage fetches the page given as a title, PageID or *PageData and
// edits it. A *PageData that already holds its newest revision is used
// without fetching it again.
func (s *Session) EditPage(ctx context.Context, target any, content any, opts EditOptions) (*EditResult, error) {
	page, ok := target.(*PageData)
	if !ok || page == nil || (len(page.Revisions) == 0 && !page.Missing) {
		var err error
		page, err = s.Page(ctx, target, PageOptions{})
		if err != nil {
			return nil, err
		}
	}
	return s.editPage(ctx, page, content, opts)
}

func resolveContent(ctx context.Context, page *PageData, content any) (string, error) {
	switch c := content.(type) {
	case string:
		return c, nil
	case ContentFunc:
		return c(ctx, page)
	case func(context.Context, *PageData) (string, error):
		return c(ctx, page)
	case func(*PageData) (string, error):
		return c(page)
	case nil:
		return "", errors.New("no content given")
	}
	return "", fmt.Errorf("unsupported content of type %T", content)
}

func (s *Session) editPage(ctx context.Context, page *PageData, content any, opts EditOptions) (*EditResult, error) {
	result := &EditResult{Title: page.Title, PageID: page.PageID}

	text, err := resolveContent(ctx, page, content)
	var cancel *Cancel
	switch {
	case errors.Is(err, ErrSkipEdit):
		metrics.RecordEdit("edit", "skipped")
		result.Skipped = true
		return result, nil
	case errors.As(err, &cancel):
		metrics.RecordEdit("edit", "cancelled")
		s.logger.Info("edit cancelled", "title", page.Title, "reason", cancel.Reason)
		result.Cancelled = true
		result.Reason = cancel.Reason
		return result, nil
	case err != nil:
		return nil, err
	}

	if strings.TrimSpace(text) == "" && !opts.AllowEmpty {
		metrics.RecordEdit("edit", "empty")
		s.logger.Warn("refusing to blank page", "title", page.Title)
		result.Empty = true
		return result, nil
	}
	if opts.Section == "" && page.Exists() && len(page.Revisions) > 0 && text == page.Wikitext() {
		metrics.RecordEdit("edit", "nochange")
		result.NoChange = true
		return result, nil
	}
	if opts.DryRun {
		diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
			A:        difflib.SplitLines(page.Wikitext()),
			B:        difflib.SplitLines(text),
			FromFile: page.Title,
			ToFile:   page.Title,
			Context:  3,
		})
		if err != nil {
			return nil, err
		}
		metrics.RecordEdit("edit", "dryrun")
		result.Diff = diff
		return result, nil
	}

	p := params.Merge(s.defaults, opts.params(), opts.Extra)
	if page.PageID > 0 {
		p.Set("pageid", strconv.FormatInt(page.PageID, 10))
	} else {
		p.Set("title", page.Title)
	}
	p.Set("text", text)
	if ts := page.Timestamp(); ts != "" {
		p.Set("basetimestamp", ts)
	}

	resp, err := s.API().Edit(ctx, p)
	if err != nil {
		metrics.RecordEdit("edit", "failure")
		return nil, editError(page.Title, resp, err)
	}

	result.Result = resp
	result.PageID, _ = resp.GetInt64("pageid")
	if title, err := resp.GetString("title"); err == nil {
		result.Title = title
	}
	result.OldRevID, _ = resp.GetInt64("oldrevid")
	result.NewRevID, _ = resp.GetInt64("newrevid")
	result.NewTimestamp, _ = resp.GetString("newtimestamp")
	result.NoChange, _ = resp.GetBoolean("nochange")

	if result.NoChange {
		metrics.RecordEdit("edit", "nochange")
		return result, nil
	}
	metrics.RecordEdit("edit", "success")
	s.logger.Info("page edited", "title", result.Title, "revision", result.NewRevID)
	if opts.Section == "" {
		page.update(result, text)
	}
	return result, nil
}

// update records a saved edit so the page reflects the new text.
func (p *PageData) update(r *EditResult, text string) {
	rev := mwclient.Revision{
		RevID:     r.NewRevID,
		ParentID:  r.OldRevID,
		Timestamp: r.NewTimestamp,
		Slots:     map[string]mwclient.Slot{"main": {ContentModel: "wikitext", Content: text}},
	}
	p.Revisions = append([]mwclient.Revision{rev}, p.Revisions...)
	p.LastRevID = r.NewRevID
	p.Missing = false
	if r.PageID > 0 {
		p.PageID = r.PageID
	}
}

// editError converts a failed write request into an *EditError. Errors
// that are not answers of the API are returned unchanged.
func editError(title string, resp *jason.Object, err error) error {
	var failure mwclient.EditFailure
	var captcha mwclient.CaptchaError
	var apiErr mwclient.APIError
	switch {
	case errors.As(err, &failure):
		info, _ := failure.Response.GetString("info")
		return &EditError{Title: title, Code: failure.Result, Info: info, Result: resp, Err: err}
	case errors.As(err, &captcha):
		return &EditError{Title: title, Code: "captcha", Info: captcha.Error(), Result: resp, Err: err}
	case errors.As(err, &apiErr):
		return &EditError{Title: title, Code: apiErr.Code, Info: apiErr.Info, Result: resp, Err: err}
	}
	return err
}
