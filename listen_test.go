package wikiapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListen(t *testing.T) {
	var mu sync.Mutex
	var starts []string
	s := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "recentchanges", r.Form.Get("list"))
		assert.Equal(t, "newer", r.Form.Get("rcdir"))
		assert.Equal(t, "0", r.Form.Get("rcnamespace"))
		mu.Lock()
		starts = append(starts, r.Form.Get("rcstart"))
		poll := len(starts)
		mu.Unlock()
		changes := `{"type":"edit","ns":0,"title":"A","rcid":1,"timestamp":"2024-05-01T10:00:00Z"},
			{"type":"new","ns":0,"title":"B","rcid":2,"timestamp":"2024-05-01T10:00:05Z"}`
		if poll > 1 {
			changes = `{"type":"new","ns":0,"title":"B","rcid":2,"timestamp":"2024-05-01T10:00:05Z"},
				{"type":"edit","ns":0,"title":"C","rcid":3,"timestamp":"2024-05-01T10:00:09Z"},
				{"type":"edit","ns":0,"title":"D","rcid":4,"timestamp":"2024-05-01T10:00:09Z"}`
		}
		fmt.Fprintf(w, `{"batchcomplete":true,"query":{"recentchanges":[%s]}}`, changes)
	})

	var titles []string
	err := s.Listen(context.Background(), func(item ListItem) error {
		titles = append(titles, item.Title)
		if item.Title == "C" {
			return ErrStop
		}
		return nil
	}, ListenOptions{
		Interval:  10 * time.Millisecond,
		Namespace: []int{0},
		Since:     time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, titles)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, starts, 2)
	assert.Equal(t, "2024-05-01T09:00:00Z", starts[0])
	assert.Equal(t, "2024-05-01T10:00:05Z", starts[1])
}

func TestListenStopsWithContext(t *testing.T) {
	s := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"batchcomplete":true,"query":{"recentchanges":[]}}`)
	})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := s.Listen(ctx, func(ListItem) error {
		t.Error("no change expected")
		return nil
	}, ListenOptions{Interval: 10 * time.Millisecond})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestListenError(t *testing.T) {
	s := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"batchcomplete":true,"query":{"recentchanges":[{"title":"A","rcid":1,"timestamp":"2024-05-01T10:00:00Z"}]}}`)
	})
	boom := errors.New("boom")
	err := s.Listen(context.Background(), func(ListItem) error { return boom }, ListenOptions{Interval: time.Millisecond})
	assert.ErrorIs(t, err, boom)
}
