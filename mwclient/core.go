package mwclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/antonholmquist/jason"
	"github.com/mrjones/oauth"
	"golang.org/x/time/rate"

	"cgt.name/pkg/go-wikiapi/metrics"
	"cgt.name/pkg/go-wikiapi/params"
	"cgt.name/pkg/go-wikiapi/tracing"
)

// If you modify this package, please change the user agent.
const DefaultUserAgent = "go-wikiapi (https://cgt.name/pkg/go-wikiapi)"

// These consts are the values accepted by the assert parameter.
// See https://www.mediawiki.org/wiki/API:Assert.
const (
	AssertNone = iota
	AssertUser
	AssertBot
)

type assertType uint8

var assertTypes = map[assertType]string{
	AssertUser: "user",
	AssertBot:  "bot",
}

// ErrAPIBusy is returned by the request methods when maxlag is enabled
// and the API kept answering that the servers are lagged until the
// configured number of retries was used up.
var ErrAPIBusy = errors.New("the API is too busy. Try again later")

// Maxlag configures the maxlag parameter.
// See https://www.mediawiki.org/wiki/Manual:Maxlag_parameter.
type Maxlag struct {
	// If true, the client will set the maxlag parameter on every request.
	On bool
	// Timeout is the value sent as maxlag, in seconds.
	Timeout string
	// Retries is how many times a lagged request is sent before
	// ErrAPIBusy is returned.
	Retries int
	sleep   func(d time.Duration)
}

// Client represents a session with one MediaWiki API endpoint.
type Client struct {
	httpc     *http.Client
	apiURL    *url.URL
	UserAgent string
	Maxlag    Maxlag
	// Assert is one of AssertNone, AssertUser and AssertBot.
	Assert assertType

	limiter *rate.Limiter
	logger  *slog.Logger

	mu       sync.Mutex // guards tokens and username
	tokens   map[string]string
	username string
}

// New returns a pointer to an initialized Client object. If the provided
// API URL is invalid (as defined by the net/url package), then it will
// return nil and the error from url.Parse(). userAgent identifies the
// caller to the wiki operators; DefaultUserAgent is sent when empty.
func New(inURL, userAgent string) (*Client, error) {
	apiurl, err := url.Parse(inURL)
	if err != nil {
		return nil, err
	}
	if apiurl.Scheme == "" || apiurl.Host == "" {
		return nil, fmt.Errorf("invalid API URL %q: scheme and host are required", inURL)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	ua := DefaultUserAgent
	if userAgent != "" {
		ua = userAgent + " " + DefaultUserAgent
	}

	return &Client{
		httpc:     &http.Client{Jar: jar, Timeout: 60 * time.Second},
		apiURL:    apiurl,
		UserAgent: ua,
		tokens:    map[string]string{},
		Maxlag: Maxlag{
			Timeout: "5",
			Retries: 3,
			sleep:   time.Sleep,
		},
		logger: slog.Default(),
	}, nil
}

// APIURL returns the endpoint the client talks to.
func (w *Client) APIURL() *url.URL {
	u := *w.apiURL
	return &u
}

// SetLogger replaces the client's logger.
func (w *Client) SetLogger(l *slog.Logger) {
	if l != nil {
		w.logger = l
	}
}

// SetHTTPTimeout sets the timeout of every HTTP request.
func (w *Client) SetHTTPTimeout(d time.Duration) {
	w.httpc.Timeout = d
}

// SetRateLimit paces requests to at most r per second with the given
// burst. A limit of zero removes pacing.
func (w *Client) SetRateLimit(r rate.Limit, burst int) {
	if r <= 0 {
		w.limiter = nil
		return
	}
	if burst <= 0 {
		burst = 1
	}
	w.limiter = rate.NewLimiter(r, burst)
}

// HTTPClient returns the underlying HTTP client, which carries the
// session cookies. It is used to fetch files from the wiki's servers.
func (w *Client) HTTPClient() *http.Client {
	return w.httpc
}

// OAuth configures the client to sign every request with an owner-only
// OAuth 1.0a consumer. Cookies set until now are kept.
// See https://www.mediawiki.org/wiki/OAuth/Owner-only_consumers.
func (w *Client) OAuth(consumerToken, consumerSecret, accessToken, accessSecret string) error {
	consumer := oauth.NewConsumer(consumerToken, consumerSecret, oauth.ServiceProvider{})
	access := &oauth.AccessToken{Token: accessToken, Secret: accessSecret}

	httpc, err := consumer.MakeHttpClient(access)
	if err != nil {
		return fmt.Errorf("unable to create OAuth client: %w", err)
	}
	httpc.Jar = w.httpc.Jar
	httpc.Timeout = w.httpc.Timeout
	w.httpc = httpc
	w.ClearTokens()
	return nil
}

// upload is a file sent along with a multipart POST request.
type upload struct {
	field, name string
	content     []byte
}

// call makes a GET or POST request to the Mediawiki API (depending on
// whether the post argument is true or false (if true, it will POST)).
// When file is non-nil the request is a multipart POST.
func (w *Client) call(ctx context.Context, p params.Values, post bool, file *upload) (body []byte, err error) {
	p = p.Clone()
	p.Set("format", "json")
	p.Set("formatversion", "2")
	if a, ok := assertTypes[w.Assert]; ok {
		p.Set("assert", a)
	}
	if w.Maxlag.On {
		if _, ok := p["maxlag"]; !ok {
			p.Set("maxlag", w.Maxlag.Timeout)
		}
	}

	method := http.MethodGet
	if post || file != nil {
		method = http.MethodPost
	}
	action := p.Get("action")

	ctx, span := tracing.StartAPISpan(ctx, action, method)
	tracing.AddPageAttributes(span, p.Get("title"))
	start := time.Now()
	defer func() {
		code := ""
		var apiErr APIError
		if errors.As(err, &apiErr) {
			code = apiErr.Code
		}
		metrics.RecordAPICall(action, method, time.Since(start).Seconds(), err == nil, code)
		tracing.End(span, err)
	}()

	callf := func() ([]byte, error) {
		if w.limiter != nil {
			if err := w.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		req, err := w.newRequest(ctx, method, p, file)
		if err != nil {
			return nil, fmt.Errorf("unable to make request: %w", err)
		}

		resp, err := w.httpc.Do(req)
		if err != nil {
			return nil, fmt.Errorf("error occurred during HTTP request: %w", err)
		}
		defer resp.Body.Close()

		// Handle maxlag
		if resp.Header.Get("X-Database-Lag") != "" {
			retry, err := strconv.Atoi(resp.Header.Get("Retry-After"))
			if err != nil {
				return nil, fmt.Errorf("unable to parse Retry-After header: %w", err)
			}
			return nil, maxLagError{
				Message: resp.Header.Get("X-Database-Lag"),
				Wait:    retry,
			}
		}

		if resp.StatusCode >= http.StatusBadRequest {
			return nil, fmt.Errorf("API returned HTTP status %s", resp.Status)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("unable to read response body: %w", err)
		}
		return body, nil
	}

	if !w.Maxlag.On {
		return callf()
	}

	for tries := 0; tries < w.Maxlag.Retries; tries++ {
		body, err := callf()
		var lagErr maxLagError
		if errors.As(err, &lagErr) {
			metrics.MaxlagRetries.Inc()
			w.logger.Warn("server lagged, retrying",
				"action", action,
				"lag", lagErr.Message,
				"wait", lagErr.Wait,
				"attempt", tries+1)
			w.Maxlag.sleep(time.Duration(lagErr.Wait) * time.Second)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		return body, err
	}
	return nil, ErrAPIBusy
}

func (w *Client) newRequest(ctx context.Context, method string, p params.Values, file *upload) (*http.Request, error) {
	if file != nil {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		err := p.Each(func(k, v string) error {
			return mw.WriteField(k, v)
		})
		if err != nil {
			return nil, err
		}
		fw, err := mw.CreateFormFile(file.field, file.name)
		if err != nil {
			return nil, err
		}
		if _, err := fw.Write(file.content); err != nil {
			return nil, err
		}
		if err := mw.Close(); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, method, w.apiURL.String(), &buf)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("User-Agent", w.UserAgent)
		return req, nil
	}

	var req *http.Request
	var err error
	if method == http.MethodPost {
		req, err = http.NewRequestWithContext(ctx, method, w.apiURL.String(), strings.NewReader(p.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		u := *w.apiURL
		u.RawQuery = p.Encode()
		req, err = http.NewRequestWithContext(ctx, method, u.String(), nil)
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", w.UserAgent)
	return req, nil
}

// callJSON wraps call and decodes the response, checking it for API
// errors and warnings.
func (w *Client) callJSON(ctx context.Context, p params.Values, post bool, file *upload) (*jason.Object, error) {
	body, err := w.call(ctx, p, post, file)
	if err != nil {
		return nil, err
	}
	resp, err := jason.NewObjectFromBytes(body)
	if err != nil {
		return nil, fmt.Errorf("unable to parse API response: %w", err)
	}
	return resp, extractAPIErrors(resp)
}

// GetRaw performs a GET request with the specified parameters
// and returns the raw JSON response as a []byte.
// Unlike Get, GetRaw does not check the API response for errors and
// warnings.
func (w *Client) GetRaw(ctx context.Context, p params.Values) ([]byte, error) {
	return w.call(ctx, p, false, nil)
}

// PostRaw performs a POST request with the specified parameters
// and returns the raw JSON response as a []byte.
// Unlike Post, PostRaw does not check the API response for errors and
// warnings.
func (w *Client) PostRaw(ctx context.Context, p params.Values) ([]byte, error) {
	return w.call(ctx, p, true, nil)
}

// Get performs a GET request with the specified parameters and returns
// the response as a *jason.Object.
// Get will return any API errors and/or warnings (if no other errors
// occur) as the error return value. A response is returned along with
// warnings, so callers may choose to ignore an APIWarnings error.
func (w *Client) Get(ctx context.Context, p params.Values) (*jason.Object, error) {
	return w.callJSON(ctx, p, false, nil)
}

// Post performs a POST request with the specified parameters and
// returns the response as a *jason.Object. Errors and warnings are
// handled as in Get.
func (w *Client) Post(ctx context.Context, p params.Values) (*jason.Object, error) {
	return w.callJSON(ctx, p, true, nil)
}

// PostFile performs a multipart POST request carrying content as the
// form file field. It is used by action=upload.
func (w *Client) PostFile(ctx context.Context, p params.Values, field, filename string, content []byte) (*jason.Object, error) {
	return w.callJSON(ctx, p, true, &upload{field: field, name: filename, content: content})
}

// Login attempts to login using the provided username and password.
// Bots should use a bot password (Special:BotPasswords).
// Tokens cached before the login are discarded.
func (w *Client) Login(ctx context.Context, username, password string) error {
	token, err := w.fetchToken(ctx, LoginToken)
	if err != nil {
		return fmt.Errorf("unable to obtain login token: %w", err)
	}

	v := params.Values{
		"action":     "login",
		"lgname":     username,
		"lgpassword": password,
		"lgtoken":    token,
	}
	resp, err := w.Post(ctx, v)
	if err != nil {
		return err
	}

	result, err := resp.GetString("login", "result")
	if err != nil {
		return fmt.Errorf("invalid login response: %w", err)
	}
	if result != "Success" {
		reason, _ := resp.GetString("login", "reason")
		return APIError{Code: result, Info: reason}
	}

	name, err := resp.GetString("login", "lgusername")
	if err != nil {
		name = username
	}
	w.setUser(name)
	w.logger.Info("logged in", "user", name, "api", w.apiURL.Host)
	return nil
}

// UserName returns the name the client logged in as, or the empty
// string.
func (w *Client) UserName() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.username
}

// setUser records the logged-in user and drops the cached tokens, which
// belong to the previous user.
func (w *Client) setUser(name string) {
	w.mu.Lock()
	w.username = name
	w.tokens = map[string]string{}
	w.mu.Unlock()
}

// Logout logs out. It does not take into account whether or not a user
// is actually logged in (because it is irrelevant).
func (w *Client) Logout(ctx context.Context) error {
	token, err := w.GetToken(ctx, CSRFToken)
	if err != nil {
		return err
	}
	_, err = w.Post(ctx, params.Values{"action": "logout", "token": token})
	w.setUser("")
	return err
}
