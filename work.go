package wikiapi

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// WorkOptions configure ForEachPage.
type WorkOptions struct {
	// EditOptions are used for the edits made with the content returned
	// by the page function.
	EditOptions
	// NoEdit calls the page function without saving what it returns.
	NoEdit bool
	// ThrowError aborts the run at the first error. Otherwise errors are
	// logged, recorded in the WorkResult and the run goes on.
	ThrowError bool
	// BatchSize is the number of pages fetched per request (50).
	BatchSize int
	// PageOptions configure the page fetches. Revisions is ignored.
	PageOptions PageOptions
	// LogTo is a page the run report is appended to as a new section.
	LogTo string
	// Last is called with the result when the run ends.
	Last func(*WorkResult)
}

// WorkResult summarizes a ForEachPage run.
type WorkResult struct {
	Done      int
	Edited    int
	NoChange  int
	Skipped   int
	Cancelled int
	Missing   int
	// Errors maps the titles of the pages that failed to their error.
	Errors   map[string]error
	Duration time.Duration
}

// Err returns the errors of the run joined, or nil.
func (r *WorkResult) Err() error {
	titles := make([]string, 0, len(r.Errors))
	for title := range r.Errors {
		titles = append(titles, title)
	}
	sort.Strings(titles)
	errs := make([]error, len(titles))
	for i, title := range titles {
		errs[i] = fmt.Errorf("%s: %w", title, r.Errors[title])
	}
	return errors.Join(errs...)
}

// Report renders the result as wikitext.
func (r *WorkResult) Report() string {
	var b strings.Builder
	fmt.Fprintf(&b, "* Pages processed: %d\n", r.Done)
	fmt.Fprintf(&b, "* Edited: %d\n", r.Edited)
	fmt.Fprintf(&b, "* Unchanged: %d\n", r.NoChange)
	fmt.Fprintf(&b, "* Skipped: %d\n", r.Skipped+r.Cancelled)
	fmt.Fprintf(&b, "* Missing: %d\n", r.Missing)
	fmt.Fprintf(&b, "* Duration: %s\n", r.Duration.Round(time.Second))
	if len(r.Errors) > 0 {
		fmt.Fprintf(&b, "* Errors: %d\n", len(r.Errors))
		titles := make([]string, 0, len(r.Errors))
		for title := range r.Errors {
			titles = append(titles, title)
		}
		sort.Strings(titles)
		for _, title := range titles {
			fmt.Fprintf(&b, "** [[:%s]]: <nowiki>%s</nowiki>\n", title, r.Errors[title])
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// workTitles converts the accepted page lists into titles.
func workTitles(pages any) ([]string, error) {
	switch p := pages.(type) {
	case []string:
		return p, nil
	case string:
		return []string{p}, nil
	case []*PageData:
		titles := make([]string, len(p))
		for i, page := range p {
			titles[i] = page.Title
		}
		return titles, nil
	case *PageList:
		return p.Titles(), nil
	case []ListItem:
		titles := make([]string, len(p))
		for i, item := range p {
			titles[i] = item.Title
		}
		return titles, nil
	}
	return nil, fmt.Errorf("unsupported page list of type %T", pages)
}

// ForEachPage fetches the newest revision of every page in pages (a
// slice of titles, []*PageData, []ListItem or a *PageList) in batches and
// calls fn with each page, in list order. The next batch is fetched
// while the current one is processed. Unless opts.NoEdit is set, the
// text fn returns is saved; fn may return ErrSkipEdit or a *Cancel to
// leave a page alone. Page errors are returned only when
// opts.ThrowError is set; a batch that cannot be fetched always ends the
// run with an error.
func (s *Session) ForEachPage(ctx context.Context, pages any, fn ContentFunc, opts WorkOptions) (*WorkResult, error) {
	titles, err := workTitles(pages)
	if err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, errors.New("no page function given")
	}
	size := opts.BatchSize
	if size <= 0 {
		size = 50
	}
	start := time.Now()
	result := &WorkResult{Errors: map[string]error{}}

	g, gctx := errgroup.WithContext(ctx)
	batches := make(chan []*PageData, 1)
	g.Go(func() error {
		defer close(batches)
		for i := 0; i < len(titles); i += size {
			batch, err := s.fetchPages(gctx, titles[i:min(i+size, len(titles))], opts.PageOptions)
			if err != nil {
				return fmt.Errorf("fetching pages %d-%d: %w", i+1, min(i+size, len(titles)), err)
			}
			select {
			case batches <- batch:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})
	g.Go(func() error {
		for batch := range batches {
			for _, page := range batch {
				if err := s.workPage(gctx, page, fn, opts, result); err != nil {
					return err
				}
			}
		}
		return nil
	})
	err = g.Wait()
	result.Duration = time.Since(start)
	s.logger.Info("page run finished",
		"pages", result.Done, "edited", result.Edited, "errors", len(result.Errors),
		"duration", result.Duration)

	if opts.LogTo != "" {
		s.postReport(ctx, opts, result)
	}
	if opts.Last != nil {
		opts.Last(result)
	}
	return result, err
}

// workPage handles one page of a run. The returned error aborts it.
func (s *Session) workPage(ctx context.Context, page *PageData, fn ContentFunc, opts WorkOptions, result *WorkResult) error {
	result.Done++
	if page.Missing {
		result.Missing++
	}
	fail := func(err error) error {
		s.logger.Error("page failed", "title", page.Title, "error", err)
		result.Errors[page.Title] = err
		if opts.ThrowError {
			return fmt.Errorf("%s: %w", page.Title, err)
		}
		return nil
	}

	if opts.NoEdit {
		_, err := fn(ctx, page)
		var cancel *Cancel
		switch {
		case errors.Is(err, ErrSkipEdit):
			result.Skipped++
		case errors.As(err, &cancel):
			result.Cancelled++
		case err != nil:
			return fail(err)
		}
		return nil
	}

	res, err := s.editPage(ctx, page, fn, opts.EditOptions)
	if err != nil {
		return fail(err)
	}
	switch {
	case res.Skipped, res.Empty:
		result.Skipped++
	case res.Cancelled:
		result.Cancelled++
	case res.NoChange:
		result.NoChange++
	default:
		result.Edited++
	}
	return nil
}

func (s *Session) postReport(ctx context.Context, opts WorkOptions, result *WorkResult) {
	summary := opts.Summary
	if summary == "" {
		summary = "Run report"
	}
	_, err := s.EditPage(ctx, opts.LogTo, result.Report(), EditOptions{
		Summary:      summary,
		Bot:          opts.Bot,
		Section:      "new",
		SectionTitle: fmt.Sprintf("%s: %s", summary, time.Now().UTC().Format("2006-01-02 15:04")),
		Minor:        true,
	})
	if err != nil {
		s.logger.Error("cannot post run report", "page", opts.LogTo, "error", err)
	}
}
