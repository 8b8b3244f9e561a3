// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package params is a MediaWiki specific replacement for parts of net/url.
// Specifically, it contains a fork of url.Values (params.Values) that
// is based on map[string]string instead of map[string][]string.
// The purpose of this is that the MediaWiki API does not use multiple keys
// to allow multiple values for a key (e.g., "a=b&a=c"). Instead it uses
// one key with values separated by a pipe (e.g. "a=b|c").
//
// Values doubles as the option bag of the wikiapi package: unknown
// keys given by a caller are forwarded to the API untouched, and Merge
// layers several bags with later bags taking precedence.
package params // import "cgt.name/pkg/go-wikiapi/params"

import (
	"bytes"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Values maps a string key to a string value.
// It is typically used for query parameters and form values.
// Unlike in the http.Header map, the keys in a Values map
// are case-sensitive.
type Values map[string]string

// Get gets the value associated with the given key.
// If there are no values associated with the key, Get returns
// the empty string.
func (v Values) Get(key string) string {
	if v == nil {
		return ""
	}
	return v[key]
}

// Has reports whether key is present, even with an empty value.
// MediaWiki treats a present boolean parameter as true regardless of
// its value.
func (v Values) Has(key string) bool {
	if v == nil {
		return false
	}
	_, ok := v[key]
	return ok
}

// Set sets the key to value. It replaces any existing
// values.
func (v Values) Set(key, value string) {
	v[key] = value
}

// SetInt sets key to the decimal form of n.
func (v Values) SetInt(key string, n int64) {
	v[key] = strconv.FormatInt(n, 10)
}

// SetBool sets key as a MediaWiki boolean flag. A true flag is sent as
// an empty value; a false flag is removed, because the API treats any
// present flag as set.
func (v Values) SetBool(key string, on bool) {
	if on {
		v[key] = ""
	} else {
		delete(v, key)
	}
}

// SetDefault sets key to value only if key is not already present.
func (v Values) SetDefault(key, value string) {
	if _, ok := v[key]; !ok {
		v[key] = value
	}
}

// Add adds the value to key. It appends to any existing
// values associated with key.
func (v Values) Add(key, value string) {
	if current, ok := v[key]; ok {
		v[key] = current + "|" + value
	} else {
		v[key] = value
	}
}

// AddRange adds multiple values to a key.
// It appends to any existing values associated with key.
func (v Values) AddRange(key string, values ...string) {
	if len(values) == 0 {
		return
	}
	if current, ok := v[key]; ok {
		list := make([]string, 0, 1+len(values))
		list = append(list, current)
		list = append(list, values...)
		v[key] = strings.Join(list, "|")
	} else {
		v[key] = strings.Join(values, "|")
	}
}

// Del deletes the value associated with key.
func (v Values) Del(key string) {
	delete(v, key)
}

// Clone returns a copy of v. Cloning a nil Values returns an empty,
// non-nil Values.
func (v Values) Clone() Values {
	c := make(Values, len(v))
	for k, val := range v {
		c[k] = val
	}
	return c
}

// Merge returns a new Values holding every key of the given bags.
// When a key appears in more than one bag the last one wins, so the
// usual call is Merge(sessionDefaults, defaults, callSite).
func Merge(bags ...Values) Values {
	out := make(Values)
	for _, b := range bags {
		for k, val := range b {
			out[k] = val
		}
	}
	return out
}

// Encode encodes the values into ``URL encoded'' form
// ("bar=baz&foo=quux") sorted by key, with the exception of the key
// "token", which will be appended to the end instead of being subject
// to regular sorting. This is done in accordance with MW API guidelines
// to ensure that an action will not be executed if the query string has
// been cut off for some reason.
func (v Values) Encode() string {
	if v == nil {
		return ""
	}
	var buf bytes.Buffer
	keys := v.keys()
	token := false
	for _, k := range keys {
		if k == "token" {
			token = true
			continue
		}
		if buf.Len() > 0 {
			buf.WriteByte('&')
		}
		buf.WriteString(url.QueryEscape(k))
		buf.WriteByte('=')
		buf.WriteString(url.QueryEscape(v[k]))
	}
	if token {
		if buf.Len() > 0 {
			buf.WriteByte('&')
		}
		buf.WriteString("token=" + url.QueryEscape(v["token"]))
	}
	return buf.String()
}

// Each calls fn for every key in the order Encode would emit them.
// It is used when the values are written as multipart form fields.
func (v Values) Each(fn func(key, value string) error) error {
	keys := v.keys()
	var token bool
	for _, k := range keys {
		if k == "token" {
			token = true
			continue
		}
		if err := fn(k, v[k]); err != nil {
			return err
		}
	}
	if token {
		return fn("token", v["token"])
	}
	return nil
}

func (v Values) keys() []string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
