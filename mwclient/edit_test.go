package mwclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"cgt.name/pkg/go-wikiapi/params"
)

func TestEdit(t *testing.T) {
	resp := `{"edit":{"result":"Success","pageid":42,"title":"PAGE",
	"contentmodel":"wikitext","oldrevid":7936766,"newrevid":7950155,
	"newtimestamp":"2015-02-12T17:13:01Z"}}`

	httpHandler := func(w http.ResponseWriter, r *http.Request) {
		err := r.ParseForm()
		if err != nil {
			panic("Bad HTTP form")
		}

		if r.Method != "POST" {
			t.Fatalf("edit requests must be posted. Method: %v", r.Method)
		}
		if v := r.Form.Get("action"); v != "edit" {
			t.Fatalf("action != edit: action=%s", v)
		}
		if v := r.Form.Get("token"); v != "VALIDTOKEN" {
			t.Fatalf("token != VALIDTOKEN: token=%s", v)
		}

		fmt.Fprint(w, resp)
	}

	server, client := setup(httpHandler)
	defer server.Close()

	client.SetToken(CSRFToken, "VALIDTOKEN")
	edit, err := client.Edit(context.Background(), params.Values{"title": "PAGE", "text": "x"})
	if err != nil {
		t.Fatalf("edit request returned error: %v", err)
	}
	if rev, _ := edit.GetInt64("newrevid"); rev != 7950155 {
		t.Errorf("newrevid = %d, want 7950155", rev)
	}
}

func TestGetToken(t *testing.T) {
	resp := `{"batchcomplete":"","query":{"tokens":{"csrftoken":"+\\"}}}`
	httpHandler := func(w http.ResponseWriter, r *http.Request) {
		err := r.ParseForm()
		if err != nil {
			panic("Bad HTTP form")
		}

		if v := r.Form.Get("action"); v != "query" {
			t.Fatalf("action != query: action=%s", v)
		}
		if v := r.Form.Get("meta"); v != "tokens" {
			t.Fatalf("meta != tokens: meta=%s", v)
		}
		if v := r.Form.Get("type"); v != CSRFToken {
			t.Fatalf("meta != %s: meta=%s", CSRFToken, v)
		}

		fmt.Fprint(w, resp)
	}

	server, client := setup(httpHandler)
	defer server.Close()

	token, err := client.GetToken(context.Background(), CSRFToken)
	if err != nil {
		t.Fatalf("token request failed: %v", err)
	}
	if token != "+\\" {
		t.Fatalf("received token does not match sent token")
	}
}

func TestGetTokenConcurrent(t *testing.T) {
	httpHandler := func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			panic("Bad HTTP form")
		}
		fmt.Fprint(w, `{"batchcomplete":"","query":{"tokens":{"csrftoken":"abc+\\","watchtoken":"w+\\"}}}`)
	}

	server, client := setup(httpHandler)
	defer server.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name := CSRFToken
			if i%2 == 1 {
				name = WatchToken
			}
			if _, err := client.GetToken(context.Background(), name); err != nil {
				errs <- err
			}
			if i%4 == 0 {
				client.ClearTokens()
			}
			_ = client.UserName()
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("token request failed: %v", err)
	}

	if _, err := client.GetToken(context.Background(), CSRFToken); err != nil {
		t.Fatalf("token request failed: %v", err)
	}
	if tok, ok := client.Token(CSRFToken); !ok || tok != "abc+\\" {
		t.Fatalf("token not cached: %q", tok)
	}
}

func TestGetCachedToken(t *testing.T) {
	client, err := New("http://example.com", "go-wikiapi test")
	if err != nil {
		panic(err)
	}
	client.SetToken(CSRFToken, "tokenvalue")
	gotToken, err := client.GetToken(context.Background(), CSRFToken)
	if err != nil {
		panic(err)
	}
	if gotToken != "tokenvalue" {
		t.Fatalf("got token does not match manually cached token: CSRFToken=%s",
			gotToken)
	}
}

func TestEditCaptchaImage(t *testing.T) {
	resp := `{
	"edit": {
		"captcha": {
			"type": "image",
			"mime": "image/png",
			"id": "1",
			"url": "CAPTCHAURL"
		},
		"result": "Failure"
	}
}`
	httpHandler := func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, resp)
	}

	server, client := setup(httpHandler)
	defer server.Close()

	client.SetToken("csrf", "doesn't matter")
	_, err := client.Edit(context.Background(), params.Values{})
	if err == nil {
		t.Fatalf("error not detected despite edit failure")
	}
	var e CaptchaError
	if !errors.As(err, &e) {
		t.Fatalf("error returned, but is not of type CaptchaError: %T", err)
	}

	// Check that CaptchaError fields are correct
	if e.ID != "1" {
		t.Errorf("CaptchaError.ID is not \"1\": ID == %s", e.ID)
	}
	if e.Mime != "image/png" {
		t.Errorf("CaptchaError.Mime is not \"image/png\": Mime == %s", e.Mime)
	}
	if e.Type != "image" {
		t.Errorf("CaptchaError.Type is not \"image\": Type == %s", e.Type)
	}
	if e.URL != "CAPTCHAURL" {
		t.Errorf("CaptchaError.URL is not \"CAPTCHAURL\": URL == %s", e.URL)
	}
	if e.Question != "" {
		t.Errorf("e.Question is not empty string despite image captcha: %s",
			e.Question)
	}
}

func TestEditCaptchaMath(t *testing.T) {
	resp := `{
    "edit": {
        "captcha": {
            "type": "math",
            "mime": "text/tex",
            "id": "1",
            "question": "84 - 3 = "
        },
        "result": "Failure"
    }
}`
	httpHandler := func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, resp)
	}

	server, client := setup(httpHandler)
	defer server.Close()

	client.SetToken("csrf", "doesn't matter")
	_, err := client.Edit(context.Background(), params.Values{})
	if err == nil {
		t.Fatalf("error not detected despite edit failure")
	}
	var e CaptchaError
	if !errors.As(err, &e) {
		t.Fatalf("error returned, but is not of type CaptchaError: %T", err)
	}

	// Check that CaptchaError fields are correct
	if e.ID != "1" {
		t.Errorf("CaptchaError.ID is not \"1\": ID == %s", e.ID)
	}
	if e.Mime != "text/tex" {
		t.Errorf("CaptchaError.Mime is not \"text/tex\": Mime == %s", e.Mime)
	}
	if e.Type != "math" {
		t.Errorf("CaptchaError.Type is not \"math\": Type == %s", e.Type)
	}
	if e.Question != "84 - 3 = " {
		t.Errorf("CaptchaError.Question is not \"84  - 3 = \": Question == %s",
			e.Question)
	}
	if e.URL != "" {
		t.Errorf("e.URL is not empty string despite math captcha: %s", e.URL)
	}
}

func TestHandleGetPagesReturnsPagesEvenIfWarning(t *testing.T) {
	jsonResp := []byte(`
{
  "warnings": {
    "main": {
      "warnings": "Unrecognized parameter: foo."
    }
  },
  "batchcomplete": true,
  "query": {
    "pages": [
      {
        "pageid": 15580374,
        "ns": 0,
        "title": "Main Page",
        "revisions": [
          {
            "timestamp": "2018-06-26T14:19:36Z",
            "slots": {
              "main": {
                "contentmodel": "wikitext",
                "contentformat": "text/x-wiki",
                "content": "...snip..."
              }
            }
          }
        ]
      }
    ]
  }
}
`)

	var resp PagesResponse
	err := json.Unmarshal(jsonResp, &resp)
	if err != nil {
		panic(err)
	}
	titles := []string{"Main Page"}

	pages, err := handleGetPages(titles, &resp)

	if pages == nil {
		t.Error("expected non-nil pages, got nil")
	}
	if err == nil {
		t.Error("expected non-nil error, got nil")
	}
}

func TestHandleGetPagesReturnsBothWarningsAndPageErrors(t *testing.T) {
	jsonResp := []byte(`
{
  "warnings": {
    "main": {
      "warnings": "Unrecognized parameter: foo."
    }
  },
  "batchcomplete": true,
  "query": {
    "pages": [
      {
        "ns": 0,
        "title": "DoesNotExist",
        "missing": true
      }
    ]
  }
}
`)
	var resp PagesResponse
	err := json.Unmarshal(jsonResp, &resp)
	if err != nil {
		panic(err)
	}
	titles := []string{"DoesNotExist"}

	pages, err := handleGetPages(titles, &resp)

	if err == nil {
		t.Error("expected error, got nil")
	} else if !IsWarnings(err) {
		t.Errorf("expected APIWarnings error, got %#v", err)
	}

	if pages == nil {
		t.Error("expected non-nil pages, got nil")
	} else {
		page := pages[titles[0]]
		if page.Error == nil {
			t.Error("expected page-specific error, got nil")
		}
	}
}

func TestEditFailure(t *testing.T) {
	httpHandler := func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"edit":{"result":"Failure","spamblacklist":"example.com"}}`)
	}

	server, client := setup(httpHandler)
	defer server.Close()

	client.SetToken(CSRFToken, "+\\")
	edit, err := client.Edit(context.Background(), params.Values{"title": "PAGE"})
	var failure EditFailure
	if !errors.As(err, &failure) {
		t.Fatalf("expected EditFailure, got %T: %v", err, err)
	}
	if failure.Result != "Failure" {
		t.Errorf("EditFailure.Result = %q", failure.Result)
	}
	if edit == nil {
		t.Fatalf("edit object should be returned along with the failure")
	}
	if v, _ := edit.GetString("spamblacklist"); v != "example.com" {
		t.Errorf("spamblacklist = %q", v)
	}
}

func TestEditFetchesToken(t *testing.T) {
	var tokenRequests int
	httpHandler := func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			panic("Bad HTTP form")
		}
		switch r.Form.Get("action") {
		case "query":
			tokenRequests++
			fmt.Fprint(w, `{"batchcomplete":true,"query":{"tokens":{"csrftoken":"abc+\\"}}}`)
		case "edit":
			if v := r.Form.Get("token"); v != "abc+\\" {
				t.Fatalf("token = %q", v)
			}
			fmt.Fprint(w, `{"edit":{"result":"Success","nochange":true}}`)
		}
	}

	server, client := setup(httpHandler)
	defer server.Close()

	for i := 0; i < 2; i++ {
		if _, err := client.Edit(context.Background(), params.Values{"title": "PAGE"}); err != nil {
			t.Fatalf("edit %d failed: %v", i, err)
		}
	}
	if tokenRequests != 1 {
		t.Errorf("token requested %d times, want 1", tokenRequests)
	}
}
