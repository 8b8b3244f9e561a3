package wikidata

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
)

// entityPrefix is the concept URI prefix of Wikidata entities.
const entityPrefix = "http://www.wikidata.org/entity/"

// Binding is the value of one variable in a result row.
type Binding struct {
	Type     string // "uri", "literal" or "bnode"
	Value    string
	Lang     string
	DataType string
}

// EntityID returns the entity ID of a uri binding pointing at an entity.
func (b Binding) EntityID() (string, bool) {
	if b.Type != "uri" {
		return "", false
	}
	for _, prefix := range []string{entityPrefix, "https://www.wikidata.org/entity/", "https://www.wikidata.org/wiki/"} {
		if id, ok := strings.CutPrefix(b.Value, prefix); ok && IsEntityID(id) {
			return id, true
		}
	}
	return "", false
}

// Results holds the answer of a SELECT query.
type Results struct {
	Vars []string
	Rows []map[string]Binding
}

// Column returns the values of one variable, skipping unbound rows.
func (r *Results) Column(name string) []string {
	var out []string
	for _, row := range r.Rows {
		if b, ok := row[name]; ok {
			out = append(out, b.Value)
		}
	}
	return out
}

// IDs returns the entity IDs bound to the first variable, in order and
// without duplicates.
func (r *Results) IDs() []string {
	if len(r.Vars) == 0 {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	for _, row := range r.Rows {
		id, ok := row[r.Vars[0]].EntityID()
		if ok && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// ParseResults decodes SPARQL 1.1 query results in JSON.
func ParseResults(body []byte) (*Results, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("query service returned invalid JSON")
	}
	doc := gjson.ParseBytes(body)
	res := &Results{}
	for _, v := range doc.Get("head.vars").Array() {
		res.Vars = append(res.Vars, v.String())
	}
	doc.Get("results.bindings").ForEach(func(_, row gjson.Result) bool {
		r := make(map[string]Binding)
		row.ForEach(func(name, b gjson.Result) bool {
			r[name.String()] = Binding{
				Type:     b.Get("type").String(),
				Value:    b.Get("value").String(),
				Lang:     b.Map()["xml:lang"].String(),
				DataType: b.Get("datatype").String(),
			}
			return true
		})
		res.Rows = append(res.Rows, r)
		return true
	})
	return res, nil
}

// SPARQL runs a SELECT query against the client's query service. Long
// queries are sent by POST.
func (c *Client) SPARQL(ctx context.Context, query string) (*Results, error) {
	form := url.Values{"query": {query}, "format": {"json"}}

	var req *http.Request
	var err error
	if len(query) > 2000 {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, c.sparqlEndpoint, strings.NewReader(form.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, c.sparqlEndpoint+"?"+form.Encode(), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to make SPARQL request: %w", err)
	}
	req.Header.Set("Accept", "application/sparql-results+json")
	req.Header.Set("User-Agent", c.api.UserAgent)

	resp, err := c.api.HTTPClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("SPARQL request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("unable to read SPARQL response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(body))
		if len(msg) > 300 {
			msg = msg[:300]
		}
		return nil, fmt.Errorf("query service returned HTTP status %s: %s", resp.Status, msg)
	}
	res, err := ParseResults(body)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("SPARQL query done", "rows", len(res.Rows))
	return res, nil
}
