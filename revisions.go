package wikiapi

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/antonholmquist/jason"

	"cgt.name/pkg/go-wikiapi/mwclient"
	"cgt.name/pkg/go-wikiapi/params"
)

// TrackingOptions configure TrackingRevisions.
type TrackingOptions struct {
	// Removed looks for the revision that removed the text instead of
	// the one that added it.
	Removed bool
	// BatchSize is the number of revisions fetched per request (50).
	BatchSize int
	// Limit is the maximum number of revisions examined; zero means the
	// whole history.
	Limit int
}

// TrackedRevision is the result of TrackingRevisions. When Found is
// false the text never changed state within the examined revisions and
// Revision is the oldest one examined.
type TrackedRevision struct {
	mwclient.Revision
	Page  *PageData
	Found bool
}

// matcher reports whether a revision text contains what is searched.
type matcher func(text string) bool

func newMatcher(search any) (matcher, error) {
	switch s := search.(type) {
	case string:
		if s == "" {
			return nil, errors.New("empty search text")
		}
		return func(text string) bool { return strings.Contains(text, s) }, nil
	case *regexp.Regexp:
		return s.MatchString, nil
	case func(string) bool:
		return s, nil
	}
	return nil, fmt.Errorf("unsupported search of type %T", search)
}

// TrackingRevisions walks the history of a page from the newest revision
// back and returns the revision that added search, the oldest of the
// uninterrupted run of revisions containing it. With opts.Removed it
// returns the revision that removed it instead. search is a string, a
// *regexp.Regexp or a func(text string) bool.
func (s *Session) TrackingRevisions(ctx context.Context, title string, search any, opts TrackingOptions) (*TrackedRevision, error) {
	match, err := newMatcher(search)
	if err != nil {
		return nil, err
	}
	batch := opts.BatchSize
	if batch <= 0 {
		batch = 50
	}
	// want is the state of the newest revisions; the run ends at the
	// first revision in the other state.
	want := !opts.Removed

	p := PageOptions{Extra: params.Values{"rvdir": "older"}}.query()
	p.Set("titles", title)
	p.SetInt("rvlimit", int64(batch))

	var (
		page     *PageData
		newer    mwclient.Revision
		matched  bool
		examined int
		found    bool
		limited  bool
	)
	err = s.QueryEach(ctx, p, func(obj *jason.Object) error {
		resp, err := decodePages(obj)
		if err != nil {
			return err
		}
		if len(resp.Query.Pages) == 0 {
			return fmt.Errorf("no page in the response for %q", title)
		}
		pg := resp.Query.Pages[0]
		if pg.Missing {
			return fmt.Errorf("%q: %w", title, ErrPageMissing)
		}
		if page == nil {
			page = s.newPageData(pg)
			page.Revisions = nil
		}
		for _, rev := range pg.Revisions {
			examined++
			if match(rev.Content()) != want {
				// Nothing matched when the newest revision is already in
				// the other state.
				found = matched
				return ErrStop
			}
			page.Revisions = append(page.Revisions, rev)
			newer, matched = rev, true
			if opts.Limit > 0 && examined >= opts.Limit {
				limited = true
				return ErrStop
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if page == nil {
		return nil, fmt.Errorf("no revisions of %q", title)
	}

	result := &TrackedRevision{Page: page}
	if !matched {
		s.logger.Debug("newest revision does not match", "title", title, "removed", opts.Removed)
		return result, nil
	}
	result.Revision = newer
	// A run reaching the first revision means the page was created with
	// the text. A removal needs a revision that still had it.
	result.Found = found || (!opts.Removed && !limited && newer.ParentID == 0)
	s.logger.Debug("revision tracked", "title", title, "revision", newer.RevID, "found", result.Found)
	return result, nil
}
