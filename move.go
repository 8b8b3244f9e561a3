package wikiapi

import (
	"context"
	"fmt"
	"strconv"

	"github.com/antonholmquist/jason"

	"cgt.name/pkg/go-wikiapi/metrics"
	"cgt.name/pkg/go-wikiapi/mwclient"
	"cgt.name/pkg/go-wikiapi/params"
)

// MoveOptions configure a page move.
type MoveOptions struct {
	Reason         string
	NoRedirect     bool
	MoveTalk       bool
	MoveSubpages   bool
	IgnoreWarnings bool
	Watchlist      string
	Tags           []string
	Extra          params.Values
}

// MoveResult is the answer of a successful move.
type MoveResult struct {
	From            string
	To              string
	Reason          string
	TalkFrom        string
	TalkTo          string
	RedirectCreated bool
	Result          *jason.Object
}

// MoveTo moves the page most recently fetched by Page to a new title.
func (s *Session) MoveTo(ctx context.Context, to string, opts MoveOptions) (*MoveResult, error) {
	page, from := s.lastPageItem()
	if page == nil {
		return nil, fmt.Errorf("cannot move to %q: %w", to, ErrNoLastPage)
	}
	res, err := s.MovePage(ctx, from, to, opts)
	if err != nil {
		return nil, err
	}
	if res.To != "" {
		s.mu.Lock()
		page.Title = res.To
		s.mu.Unlock()
	}
	return res, nil
}

// MovePage moves the page given as a title, PageID or *PageData to a
// new title.
func (s *Session) MovePage(ctx context.Context, from any, to string, opts MoveOptions) (*MoveResult, error) {
	target, err := pageTarget(from)
	if err != nil {
		return nil, err
	}
	api := s.API()
	token, err := api.GetToken(ctx, mwclient.CSRFToken)
	if err != nil {
		return nil, fmt.Errorf("unable to obtain csrf token: %w", err)
	}

	p := params.Values{"action": "move", "to": to, "token": token}
	title := target.Get("titles")
	if title != "" {
		p.Set("from", title)
	} else {
		p.Set("fromid", target.Get("pageids"))
		title = "#" + target.Get("pageids")
	}
	if opts.Reason != "" {
		p.Set("reason", opts.Reason)
	}
	p.SetBool("noredirect", opts.NoRedirect)
	p.SetBool("movetalk", opts.MoveTalk)
	p.SetBool("movesubpages", opts.MoveSubpages)
	p.SetBool("ignorewarnings", opts.IgnoreWarnings)
	if opts.Watchlist != "" {
		p.Set("watchlist", opts.Watchlist)
	}
	if len(opts.Tags) > 0 {
		p.AddRange("tags", opts.Tags...)
	}
	p = params.Merge(p, opts.Extra)

	resp, err := api.Post(ctx, p)
	if err != nil && !mwclient.IsWarnings(err) {
		metrics.RecordEdit("move", "failure")
		return nil, editError(title, resp, err)
	}
	if err != nil {
		s.logger.Warn("move returned warnings", "from", title, "warnings", err.Error())
	}

	move, err := resp.GetObject("move")
	if err != nil {
		metrics.RecordEdit("move", "failure")
		return nil, &EditError{Title: title, Code: "invalid-response", Info: "no move object in the answer", Result: resp, Err: err}
	}
	res := &MoveResult{Result: move}
	res.From, _ = move.GetString("from")
	res.To, _ = move.GetString("to")
	res.Reason, _ = move.GetString("reason")
	res.TalkFrom, _ = move.GetString("talkfrom")
	res.TalkTo, _ = move.GetString("talkto")
	res.RedirectCreated, _ = move.GetBoolean("redirectcreated")

	metrics.RecordEdit("move", "success")
	s.logger.Info("page moved", "from", res.From, "to", res.To)
	return res, nil
}

// DeleteOptions configure a deletion.
type DeleteOptions struct {
	Reason    string
	Watchlist string
	Tags      []string
	Extra     params.Values
}

// DeleteResult is the answer of a successful deletion.
type DeleteResult struct {
	Title  string
	Reason string
	LogID  int64
}

// Delete deletes the page given as a title, PageID or *PageData. A nil
// target deletes the page most recently fetched by Page.
func (s *Session) Delete(ctx context.Context, target any, opts DeleteOptions) (*DeleteResult, error) {
	if target == nil {
		page, item := s.lastPageItem()
		if page == nil {
			return nil, ErrNoLastPage
		}
		target = item
	}
	t, err := pageTarget(target)
	if err != nil {
		return nil, err
	}
	api := s.API()
	token, err := api.GetToken(ctx, mwclient.CSRFToken)
	if err != nil {
		return nil, fmt.Errorf("unable to obtain csrf token: %w", err)
	}

	p := params.Values{"action": "delete", "token": token}
	title := t.Get("titles")
	if title != "" {
		p.Set("title", title)
	} else {
		id, _ := strconv.ParseInt(t.Get("pageids"), 10, 64)
		p.SetInt("pageid", id)
		title = "#" + t.Get("pageids")
	}
	if opts.Reason != "" {
		p.Set("reason", opts.Reason)
	}
	if opts.Watchlist != "" {
		p.Set("watchlist", opts.Watchlist)
	}
	if len(opts.Tags) > 0 {
		p.AddRange("tags", opts.Tags...)
	}
	p = params.Merge(p, opts.Extra)

	resp, err := api.Post(ctx, p)
	if err != nil && !mwclient.IsWarnings(err) {
		metrics.RecordEdit("delete", "failure")
		return nil, editError(title, resp, err)
	}
	res := &DeleteResult{}
	res.Title, _ = resp.GetString("delete", "title")
	res.Reason, _ = resp.GetString("delete", "reason")
	res.LogID, _ = resp.GetInt64("delete", "logid")
	metrics.RecordEdit("delete", "success")
	s.logger.Info("page deleted", "title", res.Title, "logid", res.LogID)
	return res, nil
}
