/*
Package mwclient is the protocol client behind package wikiapi. It
talks to one MediaWiki API endpoint and does not try to hide the API:
callers pass API parameters and receive the decoded JSON response.

Requests use version 2 of the MW JSON API (formatversion=2).

Basic usage

	w, err := mwclient.New("https://en.wikipedia.org/w/api.php", "myWikibot")
	if err != nil {
		return err // Malformed URL
	}

	resp, err := w.Get(ctx, params.Values{
		"action": "query",
		"list":   "recentchanges",
	})
	if err != nil && !mwclient.IsWarnings(err) {
		return err
	}

A Client holds the connection state of one site: the cookie jar, the
token cache, the maxlag and assert settings and an optional request
rate limiter. Use one Client per site.

Get, GetRaw, Post, PostRaw and PostFile make arbitrary requests. Login,
Edit, GetToken, NewQuery and the GetPage* methods cover the common
requests and are implemented on top of the same methods.

Error handling

The non-Raw methods parse API errors and warnings out of the response
and return them as APIError and APIWarnings. Warnings are returned
together with the response, so IsWarnings(err) tells a caller that the
response can still be used. When both are present they are joined and
errors.As finds either. The Raw methods do not inspect the response.

If maxlag is enabled and the servers stay lagged for every retry, the
error is ErrAPIBusy. A CAPTCHA demanded by an edit is a CaptchaError;
any other unsuccessful edit is an EditFailure.

For more information about API errors and warnings, please see
https://www.mediawiki.org/wiki/API:Errors_and_warnings.

Every request is counted in package metrics and traced as a span of
package tracing.
*/
package mwclient // import "cgt.name/pkg/go-wikiapi/mwclient"
