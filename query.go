package wikiapi

import (
	"context"
	"errors"
	"fmt"

	"github.com/antonholmquist/jason"

	"cgt.name/pkg/go-wikiapi/mwclient"
	"cgt.name/pkg/go-wikiapi/params"
)

// Query sends an arbitrary API request by POST and returns the decoded
// answer. The action defaults to "query". API warnings are logged; an
// API error is returned as mwclient.APIError.
func (s *Session) Query(ctx context.Context, p params.Values) (*jason.Object, error) {
	p = p.Clone()
	p.SetDefault("action", "query")
	resp, err := s.API().Post(ctx, p)
	if err != nil && mwclient.IsWarnings(err) {
		s.logger.Warn("query returned warnings", "action", p.Get("action"), "warnings", err.Error())
		err = nil
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// QueryEach runs an action=query request and follows its continuations,
// calling fn with every answer. Returning ErrStop from fn ends the
// iteration without an error.
func (s *Session) QueryEach(ctx context.Context, p params.Values, fn func(*jason.Object) error) error {
	q := s.API().NewQuery(p)
	for q.Next(ctx) {
		if err := fn(q.Resp()); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
	return q.Err()
}

// PurgeResult is the purge status of one page.
type PurgeResult struct {
	NS      int
	Title   string
	Purged  bool
	Missing bool
}

// Purge clears the parser cache of pages. target is a title, a list of
// titles, a PageID, a *PageData or a list of them; nil or the empty
// string purges the page most recently fetched by Page. p holds extra
// parameters such as forcelinkupdate.
func (s *Session) Purge(ctx context.Context, target any, p params.Values) ([]PurgeResult, error) {
	tp, err := s.purgeTarget(target)
	if err != nil {
		return nil, err
	}
	req := params.Merge(p, tp)
	req.Set("action", "purge")

	resp, err := s.API().Post(ctx, req)
	if err != nil && !mwclient.IsWarnings(err) {
		return nil, err
	}
	items, err := resp.GetObjectArray("purge")
	if err != nil {
		return nil, fmt.Errorf("invalid purge response: %w", err)
	}
	results := make([]PurgeResult, 0, len(items))
	for _, item := range items {
		var r PurgeResult
		ns, _ := item.GetInt64("ns")
		r.NS = int(ns)
		r.Title, _ = item.GetString("title")
		r.Purged, _ = item.GetBoolean("purged")
		r.Missing, _ = item.GetBoolean("missing")
		results = append(results, r)
	}
	s.logger.Debug("pages purged", "count", len(results))
	return results, nil
}

func (s *Session) purgeTarget(target any) (params.Values, error) {
	switch t := target.(type) {
	case nil:
		return s.lastPageTarget()
	case string:
		if t == "" {
			return s.lastPageTarget()
		}
	case []string:
		if len(t) == 0 {
			return nil, errors.New("no pages to purge")
		}
		p := params.Values{}
		p.AddRange("titles", t...)
		return p, nil
	case []*PageData:
		p := params.Values{}
		for _, page := range t {
			if page == nil {
				continue
			}
			p.Add("titles", page.Title)
		}
		if p.Get("titles") == "" {
			return nil, errors.New("no pages to purge")
		}
		return p, nil
	}
	return pageTarget(target)
}

func (s *Session) lastPageTarget() (params.Values, error) {
	page, item := s.lastPageItem()
	if page == nil {
		return nil, ErrNoLastPage
	}
	return pageTarget(item)
}
