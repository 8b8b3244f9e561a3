package mwclient

import (
	"context"
	"net/http"

	"cgt.name/pkg/go-wikiapi/params"
)

// DumpCookies exports the cookies stored in the client. Together with
// LoadCookies it lets a program keep a login across runs.
func (w *Client) DumpCookies() []*http.Cookie {
	return w.httpc.Jar.Cookies(w.apiURL)
}

// LoadCookies imports cookies into the client.
func (w *Client) LoadCookies(cookies []*http.Cookie) {
	w.httpc.Jar.SetCookies(w.apiURL, cookies)
}

// UserInfo describes the user the session acts as.
type UserInfo struct {
	ID     int64
	Name   string
	Anon   bool
	Groups []string
}

// CurrentUser asks the API who the session is logged in as. It is
// useful after LoadCookies, to check that the stored session is still
// valid.
func (w *Client) CurrentUser(ctx context.Context) (UserInfo, error) {
	resp, err := w.Get(ctx, params.Values{
		"action": "query",
		"meta":   "userinfo",
		"uiprop": "groups",
	})
	if err != nil && !IsWarnings(err) {
		return UserInfo{}, err
	}
	var u UserInfo
	u.ID, _ = resp.GetInt64("query", "userinfo", "id")
	u.Name, _ = resp.GetString("query", "userinfo", "name")
	u.Anon, _ = resp.GetBoolean("query", "userinfo", "anon")
	u.Groups, _ = resp.GetStringArray("query", "userinfo", "groups")
	if !u.Anon && u.ID > 0 {
		w.mu.Lock()
		w.username = u.Name
		w.mu.Unlock()
	}
	return u, nil
}
