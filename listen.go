package wikiapi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cgt.name/pkg/go-wikiapi/params"
)

// ListenOptions configure Listen.
type ListenOptions struct {
	// Interval between two polls (10s).
	Interval time.Duration
	// Namespace restricts the changes reported.
	Namespace []int
	// Types restricts the change types: edit, new, log, categorize.
	Types []string
	// Since is the time of the oldest change reported; the default is
	// the time Listen is called.
	Since time.Time
	// Extra parameters are added to the recentchanges query.
	Extra params.Values
}

const rcTimestamp = "2006-01-02T15:04:05Z"

// Listen polls the recent changes of the wiki and calls fn for every new
// change, oldest first, until ctx is done or fn returns an error.
// Returning ErrStop from fn ends Listen with a nil error; otherwise
// Listen returns the context error.
func (s *Session) Listen(ctx context.Context, fn func(ListItem) error, opts ListenOptions) error {
	interval := opts.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	since := opts.Since
	if since.IsZero() {
		since = time.Now()
	}
	extra := params.Values{"rcdir": "newer"}
	if len(opts.Types) > 0 {
		extra.AddRange("rctype", opts.Types...)
	}
	lo := ListOptions{Namespace: opts.Namespace, Extra: params.Merge(extra, opts.Extra)}

	seen := map[int64]bool{}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	s.logger.Info("listening to recent changes", "since", since.UTC().Format(rcTimestamp), "interval", interval)
	for {
		lo.Extra.Set("rcstart", since.UTC().Format(rcTimestamp))
		latest := since
		current := map[int64]bool{}
		stopped := false
		err := s.For(ctx, RecentChanges, "", func(item ListItem) error {
			if item.RCID != 0 {
				current[item.RCID] = true
				if seen[item.RCID] {
					return nil
				}
			}
			if ts, err := time.Parse(rcTimestamp, item.Timestamp); err == nil && ts.After(latest) {
				latest = ts
			}
			err := fn(item)
			if errors.Is(err, ErrStop) {
				stopped = true
			}
			return err
		}, lo)
		switch {
		case stopped:
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			return fmt.Errorf("listen: %w", err)
		}
		// The next poll starts at the newest timestamp seen, which
		// returns those changes again; they are skipped by rcid.
		if latest.After(since) {
			since = latest
			seen = current
		} else {
			for id := range current {
				seen[id] = true
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
