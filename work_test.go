package wikiapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// workWiki serves the pages A, B and D with their title as text. Every
// other page is missing. Saved edits are recorded by title.
type workWiki struct {
	mu    sync.Mutex
	edits map[string]url.Values
}

func (ww *workWiki) edit(title string) (url.Values, bool) {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	form, ok := ww.edits[title]
	return form, ok
}

func (ww *workWiki) handler(t *testing.T) http.HandlerFunc {
	ids := map[string]int{"A": 1, "B": 2, "D": 4}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Form.Get("action") == "edit" {
			title := r.Form.Get("title")
			for name, id := range ids {
				if r.Form.Get("pageid") == fmt.Sprint(id) {
					title = name
				}
			}
			ww.mu.Lock()
			ww.edits[title] = r.Form
			ww.mu.Unlock()
			fmt.Fprintf(w, `{"edit":{"result":"Success","title":%q,"newrevid":9}}`, title)
			return
		}
		var pages []string
		for _, title := range strings.Split(r.Form.Get("titles"), "|") {
			id, ok := ids[title]
			if !ok {
				pages = append(pages, fmt.Sprintf(`{"ns":0,"title":%q,"missing":true}`, title))
				continue
			}
			pages = append(pages, fmt.Sprintf(`{"pageid":%d,"ns":0,"title":%q,"revisions":[
				{"revid":%d,"parentid":0,"timestamp":"2024-01-01T00:00:00Z","slots":{"main":{"content":%q}}}]}`,
				id, title, id, title))
		}
		fmt.Fprintf(w, `{"batchcomplete":true,"query":{"pages":[%s]}}`, strings.Join(pages, ","))
	}
}

func newWorkWiki(t *testing.T) (*Session, *workWiki) {
	ww := &workWiki{edits: map[string]url.Values{}}
	return newTestSession(t, ww.handler(t)), ww
}

func TestForEachPage(t *testing.T) {
	s, ww := newWorkWiki(t)

	var order []string
	var last *WorkResult
	res, err := s.ForEachPage(context.Background(), []string{"A", "B", "C", "D"}, func(ctx context.Context, page *PageData) (string, error) {
		order = append(order, page.Title)
		switch page.Title {
		case "B":
			return "", ErrSkipEdit
		case "D":
			return page.Wikitext(), nil
		}
		return page.Wikitext() + " edited", nil
	}, WorkOptions{
		EditOptions: EditOptions{Summary: "run"},
		BatchSize:   2,
		Last:        func(r *WorkResult) { last = r },
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C", "D"}, order)
	assert.Same(t, res, last)

	assert.Equal(t, 4, res.Done)
	assert.Equal(t, 2, res.Edited)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.NoChange)
	assert.Equal(t, 1, res.Missing)
	assert.Empty(t, res.Errors)
	assert.NoError(t, res.Err())

	a, ok := ww.edit("A")
	require.True(t, ok)
	assert.Equal(t, "A edited", a.Get("text"))
	assert.Equal(t, "run", a.Get("summary"))
	c, ok := ww.edit("C")
	require.True(t, ok)
	assert.Equal(t, " edited", c.Get("text"))
	_, ok = ww.edit("B")
	assert.False(t, ok)
	_, ok = ww.edit("D")
	assert.False(t, ok)
}

func TestForEachPageErrors(t *testing.T) {
	boom := errors.New("boom")
	fn := func(ctx context.Context, page *PageData) (string, error) {
		if page.Title == "A" {
			return "", boom
		}
		return "", CancelEdit("not today")
	}

	s, _ := newWorkWiki(t)
	res, err := s.ForEachPage(context.Background(), []string{"A", "B"}, fn, WorkOptions{NoEdit: true})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Done)
	assert.Equal(t, 1, res.Cancelled)
	assert.ErrorIs(t, res.Errors["A"], boom)
	assert.ErrorIs(t, res.Err(), boom)
	assert.Contains(t, res.Report(), "** [[:A]]: <nowiki>boom</nowiki>")

	res, err = s.ForEachPage(context.Background(), []string{"A", "B"}, fn, WorkOptions{ThrowError: true})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, res.Done)

	_, err = s.ForEachPage(context.Background(), 42, fn, WorkOptions{})
	assert.Error(t, err)
}

func TestForEachPageLogTo(t *testing.T) {
	s, ww := newWorkWiki(t)
	res, err := s.ForEachPage(context.Background(), &PageList{Items: []ListItem{{Title: "A"}}},
		func(ctx context.Context, page *PageData) (string, error) {
			return "changed", nil
		}, WorkOptions{LogTo: "Run log", EditOptions: EditOptions{Summary: "cleanup"}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Edited)

	report, ok := ww.edit("Run log")
	require.True(t, ok)
	assert.Equal(t, "new", report.Get("section"))
	assert.True(t, strings.HasPrefix(report.Get("sectiontitle"), "cleanup: "))
	assert.True(t, report.Has("minor"))
	assert.Contains(t, report.Get("text"), "* Edited: 1")
}
