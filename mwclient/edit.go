package mwclient

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/antonholmquist/jason"

	"cgt.name/pkg/go-wikiapi/params"
)

// EditFailure is returned by Edit when the API answers an edit request
// with a result other than "Success" and no CAPTCHA. Response holds the
// "edit" object of the answer.
type EditFailure struct {
	Result   string
	Response *jason.Object
}

func (e EditFailure) Error() string {
	return fmt.Sprintf("edit failed with result %q: %v", e.Result, e.Response)
}

// Edit takes a params.Values containing parameters for an edit action
// and attempts to perform the edit. On success it returns the "edit"
// object of the response (with newrevid, newtimestamp or nochange).
// When the API answers with an error, the whole response is returned
// along with the APIError.
// The p params.Values argument should contain parameters from:
//	https://www.mediawiki.org/wiki/API:Edit#Parameters
// Edit will set the 'action' and 'token' parameters automatically, but
// if the token field in p is non-empty, Edit will not override it.
// Edit does not check p for sanity.
// p example:
//	params.Values{
//		"pageid":   "709377",
//		"text":     "Complete new text for page",
//		"summary":  "Take that, page!",
//		"notminor": "",
//	}
func (w *Client) Edit(ctx context.Context, p params.Values) (*jason.Object, error) {
	p = p.Clone()
	// If edit token not set, obtain one from API or cache
	if p["token"] == "" {
		csrfToken, err := w.GetToken(ctx, CSRFToken)
		if err != nil {
			return nil, fmt.Errorf("unable to obtain csrf token: %w", err)
		}
		p["token"] = csrfToken
	}
	p.Set("action", "edit")

	resp, err := w.Post(ctx, p)
	if err != nil && !IsWarnings(err) {
		return resp, err
	}

	edit, err := resp.GetObject("edit")
	if err != nil {
		return nil, fmt.Errorf("invalid edit response: %w", err)
	}
	editResult, err := edit.GetString("result")
	if err != nil {
		return nil, fmt.Errorf("unable to assert 'result' field to type string: %w", err)
	}

	if editResult != "Success" {
		if captcha, err := edit.GetObject("captcha"); err == nil {
			captchaBytes, err := captcha.Marshal()
			if err != nil {
				return nil, fmt.Errorf("error occurred while creating error message: %w", err)
			}
			var captchaerr CaptchaError
			if err := json.Unmarshal(captchaBytes, &captchaerr); err != nil {
				return nil, fmt.Errorf("error occurred while creating error message: %w", err)
			}
			return edit, captchaerr
		}
		return edit, EditFailure{Result: editResult, Response: edit}
	}

	return edit, nil
}

// These consts represents MW API token names.
// They are meant to be used with the GetToken method like so:
// 	ClientInstance.GetToken(ctx, mwclient.CSRFToken)
const (
	CSRFToken                   = "csrf"
	DeleteGlobalAccountToken    = "deleteglobalaccount"
	LoginToken                  = "login"
	PatrolToken                 = "patrol"
	RollbackToken               = "rollback"
	SetGlobalAccountStatusToken = "setglobalaccountstatus"
	UserRightsToken             = "userrights"
	WatchToken                  = "watch"
)

// GetToken returns a specified token (and an error if this is not
// possible). If the token is not already cached, it will attempt to
// retrieve it via the API.
// tokenName should be "csrf" (or whatever), not "csrftoken".
// The token consts (e.g., mwclient.CSRFToken) should be used
// as the tokenName argument.
// Concurrent callers on a cold cache may each fetch a token; the last
// one is kept.
func (w *Client) GetToken(ctx context.Context, tokenName string) (string, error) {
	if tok, ok := w.Token(tokenName); ok {
		return tok, nil
	}
	token, err := w.fetchToken(ctx, tokenName)
	if err != nil {
		return "", err
	}
	w.SetToken(tokenName, token)
	return token, nil
}

// Token returns a cached token without asking the API.
func (w *Client) Token(tokenName string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	tok, ok := w.tokens[tokenName]
	return tok, ok
}

// SetToken stores a token in the cache.
func (w *Client) SetToken(tokenName, token string) {
	w.mu.Lock()
	w.tokens[tokenName] = token
	w.mu.Unlock()
}

// ClearTokens empties the token cache.
func (w *Client) ClearTokens() {
	w.mu.Lock()
	w.tokens = map[string]string{}
	w.mu.Unlock()
}

// fetchToken requests a token from the API without consulting the
// cache. Login tokens are only valid once and are never cached.
func (w *Client) fetchToken(ctx context.Context, tokenName string) (string, error) {
	p := params.Values{
		"action": "query",
		"meta":   "tokens",
		"type":   tokenName,
	}

	resp, err := w.Get(ctx, p)
	if err != nil && !IsWarnings(err) {
		return "", err
	}

	token, err := resp.GetString("query", "tokens", tokenName+"token")
	if err != nil {
		// This really shouldn't happen.
		return "", fmt.Errorf("error occurred while converting token to string: %w", err)
	}
	return token, nil
}
