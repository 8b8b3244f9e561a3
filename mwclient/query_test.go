package mwclient

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"cgt.name/pkg/go-wikiapi/params"
)

func TestQuery(t *testing.T) {
	reqCount := 0 // incremented on each request to queryHandler

	queryHandler := func(w http.ResponseWriter, r *http.Request) {
		err := r.ParseForm()
		if err != nil {
			panic("Bad HTTP form")
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		if reqCount == 0 {
			if value := r.Form.Get("continue"); value != "" {
				t.Fatalf("'continue' value not empty in first req: continue=%s",
					value)
			}
			fmt.Fprintf(w, `{"continue":{"fkcontinue":"sendthisback","continue":"-||"}}`)
		} else if reqCount == 1 {
			if value := r.Form.Get("continue"); value != "-||" {
				t.Fatalf("'continue' key has different value than '-||': continue=%s",
					value)
			}
			if r.Form.Get("fkcontinue") != "sendthisback" {
				t.Fatalf("client did not return fkcontinue parameter")
			}
			fmt.Fprintf(w, "{}") // no continue element
		} else {
			t.Fatalf("unexpected request number %d", reqCount)
		}

		reqCount++
	}

	server, client := setup(queryHandler)
	defer server.Close()

	ctx := context.Background()
	q := client.NewQuery(params.Values{})
	n := 0
	for q.Next(ctx) {
		n++
	}
	if err := q.Err(); err != nil {
		t.Fatalf("q.Err() != nil: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 result sets, got %d", n)
	}
	if q.Next(ctx) {
		t.Fatalf("Next returned true after the query was exhausted")
	}
}

func TestQueryIgnoresWarnings(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"warnings":{"main":{"warnings":"Unrecognized parameter: foo."}},"query":{"pages":[]}}`)
	}
	server, client := setup(handler)
	defer server.Close()

	q := client.NewQuery(params.Values{"foo": "bar"})
	if !q.Next(context.Background()) {
		t.Fatalf("Next returned false on a response with warnings only: %v", q.Err())
	}
	if q.Resp() == nil {
		t.Fatalf("expected a response")
	}
}

func TestQueryStopsOnError(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":{"code":"badvalue","info":"Unrecognized value for parameter \"list\"."}}`)
	}
	server, client := setup(handler)
	defer server.Close()

	q := client.NewQuery(params.Values{"list": "nope"})
	if q.Next(context.Background()) {
		t.Fatalf("Next returned true on API error")
	}
	if _, ok := q.Err().(APIError); !ok {
		t.Fatalf("expected APIError, got %T: %v", q.Err(), q.Err())
	}
}
