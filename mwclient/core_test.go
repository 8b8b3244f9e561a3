package mwclient

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cgt.name/pkg/go-wikiapi/params"
)

func noSleep(d time.Duration) {} // the test monster under my bed is keeping me awake

func setup(handler func(w http.ResponseWriter, r *http.Request)) (*httptest.Server, *Client) {
	server := httptest.NewServer(http.HandlerFunc(handler))
	client, err := New(server.URL, "go-wikiapi test")
	if err != nil {
		panic(err)
	}
	client.Maxlag.sleep = noSleep

	return server, client
}

func TestLoginToken(t *testing.T) {
	loginHandler := func(w http.ResponseWriter, r *http.Request) {
		err := r.ParseForm()
		if err != nil {
			panic("Bad HTTP form")
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")

		lgtoken := `b53b3ef3792bdaa1caff44fca1nb240756bc4eeb+\\`
		lgtokenExpected := `b53b3ef3792bdaa1caff44fca1nb240756bc4eeb+\`

		if q := r.URL.Query(); q.Get("action") == "query" && q.Get("meta") == "tokens" {
			// handle token request
			tokenTypes := strings.Split(q["type"][0], "|")
			foundLogin := false
			for _, t := range tokenTypes {
				if t == "login" {
					foundLogin = true
				}
			}
			if !foundLogin {
				t.Errorf("token requested, but not logintoken: %s", q["type"][0])
			}
			_, err := fmt.Fprintf(
				w,
				`{"batchcomplete":"","query":{"tokens":{"logintoken":"%s"}}}`,
				lgtoken)
			if err != nil {
				panic(err)
			}
		} else if r.Method == "POST" && r.PostFormValue("action") == "login" {
			// handle login request
			var errs []string
			fail := false
			if lgname := r.PostFormValue("lgname"); lgname != "username" {
				fail = true
				errs = append(errs,
					fmt.Sprintf(
						"expected \"username\" for lgname, got \"%s\"",
						lgname))
			}
			if lgpw := r.PostFormValue("lgpassword"); lgpw != "password" {
				fail = true
				errs = append(errs,
					fmt.Sprintf(
						"expected \"password\" for lgpassword, got \"%s\"",
						lgpw))
			}
			if lgtok := r.PostFormValue("lgtoken"); lgtok != lgtokenExpected {
				fail = true
				errs = append(errs,
					fmt.Sprintf(
						"expected \"%s\" for lgtoken, got \"%s\"",
						lgtokenExpected,
						lgtok))
			}

			if fail {
				if len(errs) > 1 {
					errMsg := strings.Join(errs, "; ")
					t.Error(errMsg)
				} else if len(errs) == 1 {
					t.Error(errs[0])
				} else {
					panic("TestLoginToken: fail == true, but empty errs")
				}
			}

			fmt.Fprint(
				w,
				`{"login":{"result":"Success","lguserid": 1,
				"lgusername":"username",
				"lgtoken":"32db2c4f4f5dca04a72e0a0913b27c25",
				"cookieprefix":"commonswiki",
				"sessionid":"vaggusqhjuh2m6u1rbchoaphm9ie19l"}}`)
		} else {
			t.Errorf("Unexpected request: %s", r.URL)
		}
	}

	server, client := setup(loginHandler)
	defer server.Close()

	if err := client.Login(context.Background(), "username", "password"); err != nil {
		t.Errorf("Login() returned err: %v", err)
	}
	if client.UserName() != "username" {
		t.Errorf("UserName() = %q after login", client.UserName())
	}
}

func TestMaxlagOn(t *testing.T) {
	httpHandler := func(w http.ResponseWriter, r *http.Request) {
		err := r.ParseForm()
		if err != nil {
			panic("Bad HTTP form")
		}

		if r.Form.Get("maxlag") == "" {
			t.Fatalf("maxlag param not set. Params: %s", r.Form.Encode())
		}
	}

	server, client := setup(httpHandler)
	defer server.Close()

	p := params.Values{}
	client.Maxlag.On = true
	client.call(context.Background(), p, false, nil)
}

func TestMaxlagOff(t *testing.T) {
	httpHandler := func(w http.ResponseWriter, r *http.Request) {
		err := r.ParseForm()
		if err != nil {
			panic("Bad HTTP form")
		}

		if r.Form.Get("maxlag") != "" {
			t.Fatalf("maxlag param set. Params: %s", r.Form.Encode())
		}
	}

	server, client := setup(httpHandler)
	defer server.Close()

	p := params.Values{}
	// Maxlag is off by default
	client.call(context.Background(), p, false, nil)
}

func TestMaxlagRetryFail(t *testing.T) {
	httpHandler := func(w http.ResponseWriter, r *http.Request) {
		err := r.ParseForm()
		if err != nil {
			panic("Bad HTTP form")
		}
		if r.Form.Get("maxlag") == "" {
			t.Fatalf("maxlag param not set. Params: %s", r.Form.Encode())
		}

		header := w.Header()
		header.Set("X-Database-Lag", "10") // Value does not matter
		header.Set("Retry-After", "1")     // Value *does* matter
	}

	server, client := setup(httpHandler)
	defer server.Close()

	p := params.Values{}
	client.Maxlag.On = true
	_, err := client.call(context.Background(), p, false, nil)
	if err != ErrAPIBusy {
		t.Fatalf("Expected ErrAPIBusy error from call(), got: %v", err)
	}
}

func TestAssertOff(t *testing.T) {
	httpHandler := func(w http.ResponseWriter, r *http.Request) {
		err := r.ParseForm()
		if err != nil {
			panic("Bad HTTP form")
		}

		if r.Form.Get("assert") != "" {
			t.Fatalf("Expected no assert param, found 'assert=%s'", r.Form.Get("assert"))
		}
	}

	server, client := setup(httpHandler)
	defer server.Close()

	p := params.Values{}
	// Assert should be off by default
	client.Get(context.Background(), p)
}

func TestAssertUser(t *testing.T) {
	httpHandler := func(w http.ResponseWriter, r *http.Request) {
		err := r.ParseForm()
		if err != nil {
			panic("Bad HTTP form")
		}

		if r.Form.Get("assert") == "" {
			t.Fatalf("Expected assert param, got none or empty")
		}
		if v := r.Form.Get("assert"); v != "user" {
			t.Fatalf("Expected 'assert=user', got 'assert=%s'", v)
		}
	}

	server, client := setup(httpHandler)
	defer server.Close()

	p := params.Values{}
	client.Assert = AssertUser
	client.Get(context.Background(), p)
}

func TestAssertBot(t *testing.T) {
	httpHandler := func(w http.ResponseWriter, r *http.Request) {
		err := r.ParseForm()
		if err != nil {
			panic("Bad HTTP form")
		}

		if r.Form.Get("assert") == "" {
			t.Fatalf("Expected assert param, got none or empty")
		}
		if v := r.Form.Get("assert"); v != "bot" {
			t.Fatalf("Expected 'assert=bot', got 'assert=%s'", v)
		}
	}

	server, client := setup(httpHandler)
	defer server.Close()

	p := params.Values{}
	client.Assert = AssertBot
	client.Get(context.Background(), p)
}

func TestNewInvalidURL(t *testing.T) {
	for _, u := range []string{"", "en", "://bad", "/w/api.php"} {
		if _, err := New(u, "go-wikiapi test"); err == nil {
			t.Errorf("New(%q) returned no error", u)
		}
	}
}

func TestFormatVersion(t *testing.T) {
	httpHandler := func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			panic("Bad HTTP form")
		}
		if r.Form.Get("format") != "json" || r.Form.Get("formatversion") != "2" {
			t.Errorf("expected format=json&formatversion=2, got %s", r.Form.Encode())
		}
		if ua := r.Header.Get("User-Agent"); !strings.HasPrefix(ua, "go-wikiapi test ") {
			t.Errorf("unexpected User-Agent %q", ua)
		}
		fmt.Fprint(w, `{}`)
	}

	server, client := setup(httpHandler)
	defer server.Close()

	if _, err := client.Get(context.Background(), params.Values{"action": "query"}); err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
}

func TestPostFile(t *testing.T) {
	httpHandler := func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("expected multipart request: %v", err)
		}
		if v := r.FormValue("action"); v != "upload" {
			t.Errorf("action = %q, want upload", v)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("no file field: %v", err)
		}
		defer f.Close()
		if hdr.Filename != "Example.txt" {
			t.Errorf("filename = %q", hdr.Filename)
		}
		fmt.Fprint(w, `{"upload":{"result":"Success","filename":"Example.txt"}}`)
	}

	server, client := setup(httpHandler)
	defer server.Close()

	resp, err := client.PostFile(context.Background(),
		params.Values{"action": "upload", "filename": "Example.txt", "token": "+\\"},
		"file", "Example.txt", []byte("hello"))
	if err != nil {
		t.Fatalf("PostFile returned error: %v", err)
	}
	if v, _ := resp.GetString("upload", "result"); v != "Success" {
		t.Errorf("upload result = %q", v)
	}
}

func TestHTTPErrorStatus(t *testing.T) {
	httpHandler := func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}

	server, client := setup(httpHandler)
	defer server.Close()

	if _, err := client.Get(context.Background(), params.Values{}); err == nil {
		t.Fatalf("expected error on HTTP 503")
	}
}

func TestRateLimitCancelled(t *testing.T) {
	httpHandler := func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}

	server, client := setup(httpHandler)
	defer server.Close()

	client.SetRateLimit(0.001, 1)
	ctx := context.Background()
	if _, err := client.Get(ctx, params.Values{}); err != nil {
		t.Fatalf("first request should pass the limiter: %v", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	if _, err := client.Get(ctx, params.Values{}); err == nil {
		t.Fatalf("second request should wait for the limiter and fail on the deadline")
	}
}
