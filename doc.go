/*
Package wikiapi is a toolkit for writing bots and tools against MediaWiki
sites, in particular the Wikimedia projects and Wikidata.

A Session is a connection to one wiki. It wraps a protocol client
(package mwclient), keeps the page most recently fetched, knows the
namespaces of the site and talks to the Wikibase repository (package
wikidata) and, when configured, to a database replica of the wiki
(package replica).

Basic usage

	s, err := wikiapi.New("en", wikiapi.WithUserAgent("MyBot/1.0 (User:Me)"))
	if err != nil {
		return err
	}
	if _, err := s.Login(ctx, "Me@MyBot", botPassword); err != nil {
		return err
	}

	page, err := s.Page(ctx, "Wikipedia:Sandbox", wikiapi.PageOptions{})
	if err != nil {
		return err
	}
	res, err := s.Edit(ctx, page.Wikitext()+"\nHello", wikiapi.EditOptions{
		Summary: "test",
	})

New accepts an API URL, a language code ("en", "zh-classical"), a
project ("fr.wikisource"), a database name ("enwiktionary") or one of
"commons", "wikidata", "meta", "mediawiki", "species" and "test".

Edits

Edit and EditPage take the new text or a function computing it from the
current page. The function can return ErrSkipEdit or CancelEdit(reason)
to leave the page alone; either way the call succeeds and the
EditResult tells what happened. An edit that would blank the page is
not sent unless AllowEmpty is set. Failures reported by the API are
returned as *EditError, carrying the result object of the answer.

ForEachPage runs a function over many pages, fetching them in batches
while the previous batch is processed, and saves what it returns.

Lists

List and For give access to the list modules of the API
(categorymembers, embeddedin, backlinks, search, ...), following
continuations. CategoryTree expands a category and its sub-categories.

Page arguments

Methods taking a page accept a title, a PageID, a *PageData or a
ListItem. Purge and Delete act on the last page fetched by Page when
given no target.
*/
package wikiapi
