package mwclient

import (
	"context"
	"fmt"

	"github.com/antonholmquist/jason"

	"cgt.name/pkg/go-wikiapi/params"
)

// Query provides a simple interface to deal with query continuations.
//
// A Query should be instantiated through the NewQuery method on the
// Client type. Once you have instantiated a Query, call the Next method
// to retrieve the first set of results from the API.
// If Next returns false, then either you have received all the results
// for the query or an error occurred. If an error occurs, it will be
// available through the Err method.
// If Next returns true, then there are more results to be retrieved and
// another call to Next will retrieve the next results.
//
// The following example will retrieve all the pages that are in the
// category "Soap":
//	p := params.Values{
//		"list":    "categorymembers",
//		"cmtitle": "Category:Soap",
//	}
//	q := w.NewQuery(p) // w being an instantiated Client
//	for q.Next(ctx) {
//		fmt.Println(q.Resp())
//	}
//	if q.Err() != nil {
//		// handle the error
//	}
// See https://www.mediawiki.org/wiki/API:Query for more details on how to
// query the MediaWiki API.
type Query struct {
	w      *Client
	params params.Values
	resp   *jason.Object
	err    error
	done   bool
	// Post sends the requests as POST, for long title lists.
	Post bool
}

// Err returns the first error encountered by the Next method.
// API warnings are not reported here; they are logged.
func (q *Query) Err() error {
	return q.err
}

// Resp returns the API response retrieved by the Next method.
func (q *Query) Resp() *jason.Object {
	return q.resp
}

// NewQuery instantiates a new query with the given parameters.
// Automatically sets action=query and continue= on a copy of the
// provided params.Values.
func (w *Client) NewQuery(p params.Values) *Query {
	p = p.Clone()
	p.Set("action", "query")
	p.Set("continue", "")

	return &Query{
		w:      w,
		params: p,
	}
}

// Next retrieves the next set of results from the API and makes them
// available through the Resp method. Next returns true if new results
// are available through Resp or false if there were no more results to
// request or if an error occurred.
func (q *Query) Next(ctx context.Context) bool {
	if q.done || q.err != nil {
		return false
	}

	if q.resp != nil {
		cont, err := q.resp.GetObject("continue")
		if err != nil {
			q.done = true
			return false
		}
		for k, v := range cont.Map() {
			value, err := v.String()
			if err != nil {
				q.err = fmt.Errorf("response processing error: %w", err)
				return false
			}
			q.params.Set(k, value)
		}
	}

	var resp *jason.Object
	var err error
	if q.Post {
		resp, err = q.w.Post(ctx, q.params)
	} else {
		resp, err = q.w.Get(ctx, q.params)
	}
	if err != nil && IsWarnings(err) {
		q.w.logger.Warn("query returned warnings", "warnings", err.Error())
		err = nil
	}
	if err != nil {
		q.err = err
		return false
	}
	q.resp = resp
	return true
}
