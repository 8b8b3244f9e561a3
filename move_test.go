package wikiapi

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMoveTo(t *testing.T) {
	s := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Form.Get("action") != "move" {
			fmt.Fprint(w, fooPage)
			return
		}
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "1", r.Form.Get("fromid"))
		assert.Equal(t, "Bar", r.Form.Get("to"))
		assert.Equal(t, "rename", r.Form.Get("reason"))
		assert.True(t, r.Form.Has("movetalk"))
		assert.True(t, r.Form.Has("noredirect"))
		assert.False(t, r.Form.Has("movesubpages"))
		assert.Equal(t, "TOKEN", r.Form.Get("token"))
		fmt.Fprint(w, `{"move":{"from":"Foo","to":"Bar","reason":"rename","talkfrom":"Talk:Foo","talkto":"Talk:Bar"}}`)
	})
	ctx := context.Background()

	_, err := s.MoveTo(ctx, "Bar", MoveOptions{})
	assert.ErrorIs(t, err, ErrNoLastPage)

	page, err := s.Page(ctx, "Foo", PageOptions{})
	require.NoError(t, err)
	res, err := s.MoveTo(ctx, "Bar", MoveOptions{Reason: "rename", MoveTalk: true, NoRedirect: true})
	require.NoError(t, err)
	assert.Equal(t, "Foo", res.From)
	assert.Equal(t, "Bar", res.To)
	assert.Equal(t, "Talk:Bar", res.TalkTo)
	assert.False(t, res.RedirectCreated)
	assert.Equal(t, "Bar", page.Title)
}

func TestMovePageFailure(t *testing.T) {
	s := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Foo", r.Form.Get("from"))
		fmt.Fprint(w, `{"error":{"code":"articleexists","info":"A page of that name already exists"}}`)
	})
	_, err := s.MovePage(context.Background(), "Foo", "Bar", MoveOptions{})

	var editErr *EditError
	require.ErrorAs(t, err, &editErr)
	assert.Equal(t, "articleexists", editErr.Code)
	assert.Equal(t, "Foo", editErr.Title)
	require.NotNil(t, editErr.Result)
}

func TestDelete(t *testing.T) {
	s := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Form.Get("action") != "delete" {
			fmt.Fprint(w, fooPage)
			return
		}
		assert.Equal(t, "1", r.Form.Get("pageid"))
		assert.Equal(t, "cleanup", r.Form.Get("reason"))
		fmt.Fprint(w, `{"delete":{"title":"Foo","reason":"cleanup","logid":77}}`)
	})
	ctx := context.Background()

	_, err := s.Delete(ctx, nil, DeleteOptions{})
	assert.ErrorIs(t, err, ErrNoLastPage)

	_, err = s.Page(ctx, "Foo", PageOptions{})
	require.NoError(t, err)
	res, err := s.Delete(ctx, nil, DeleteOptions{Reason: "cleanup"})
	require.NoError(t, err)
	assert.Equal(t, "Foo", res.Title)
	assert.Equal(t, int64(77), res.LogID)
}

func TestMoveConcurrentColdTokenCache(t *testing.T) {
	var tokenRequests atomic.Int32
	s := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Form.Get("meta") == "tokens":
			tokenRequests.Add(1)
			fmt.Fprint(w, `{"batchcomplete":true,"query":{"tokens":{"csrftoken":"FRESH"}}}`)
		case r.Form.Get("action") == "move":
			assert.Equal(t, "FRESH", r.Form.Get("token"))
			fmt.Fprintf(w, `{"move":{"from":%q,"to":%q}}`, r.Form.Get("from"), r.Form.Get("to"))
		default:
			fmt.Fprint(w, fooPage)
		}
	})
	ctx := context.Background()
	_, err := s.Page(ctx, "Foo", PageOptions{})
	require.NoError(t, err)
	s.API().ClearTokens()

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := s.MovePage(ctx, "A", fmt.Sprint("B", i), MoveOptions{})
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := s.MoveTo(ctx, fmt.Sprint("C", i), MoveOptions{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.GreaterOrEqual(t, tokenRequests.Load(), int32(1))
	tok, ok := s.API().Token("csrf")
	assert.True(t, ok)
	assert.Equal(t, "FRESH", tok)
}

func TestMoveToKeepsTitleWithoutTarget(t *testing.T) {
	s := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Form.Get("action") != "move" {
			fmt.Fprint(w, fooPage)
			return
		}
		fmt.Fprint(w, `{"move":{"from":"Foo"}}`)
	})
	ctx := context.Background()
	page, err := s.Page(ctx, "Foo", PageOptions{})
	require.NoError(t, err)

	res, err := s.MoveTo(ctx, "Bar", MoveOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.To)
	assert.Equal(t, "Foo", page.Title)
}
