// Package wikidata reads and edits Wikibase entities through the
// wbgetentities and wbeditentity API modules and runs SPARQL queries
// against a query service.
package wikidata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/antonholmquist/jason"
	"github.com/tidwall/sjson"

	"cgt.name/pkg/go-wikiapi/metrics"
	"cgt.name/pkg/go-wikiapi/mwclient"
	"cgt.name/pkg/go-wikiapi/params"
)

// DefaultSPARQLEndpoint is the Wikidata Query Service.
const DefaultSPARQLEndpoint = "https://query.wikidata.org/sparql"

// ErrEntityMissing is returned by Get when the repository has no entity
// for the key.
var ErrEntityMissing = errors.New("entity does not exist")

// EditFailure is returned when wbeditentity refused an edit. Result is
// the decoded answer of the API.
type EditFailure struct {
	Err    error
	Result *jason.Object
}

func (e *EditFailure) Error() string {
	return "wbeditentity: " + e.Err.Error()
}

func (e *EditFailure) Unwrap() error {
	return e.Err
}

// Key selects an entity.
type Key interface {
	params(ctx context.Context, c *Client) (params.Values, error)
}

// ID selects an entity by its ID, such as "Q42" or "P31".
type ID string

func (id ID) params(context.Context, *Client) (params.Values, error) {
	if !IsEntityID(string(id)) {
		return nil, fmt.Errorf("invalid entity ID %q", string(id))
	}
	return params.Values{"ids": string(id)}, nil
}

// SiteTitle selects the entity linked to a page of a client wiki.
type SiteTitle struct {
	Site  string // e.g. "enwiki"
	Title string
}

func (s SiteTitle) params(context.Context, *Client) (params.Values, error) {
	return params.Values{"sites": s.Site, "titles": s.Title, "normalize": ""}, nil
}

// Label selects the first entity whose label in Language is Label.
type Label struct {
	Language string
	Label    string
}

func (l Label) params(ctx context.Context, c *Client) (params.Values, error) {
	id, err := c.SearchLabel(ctx, l.Language, l.Label)
	if err != nil {
		return nil, err
	}
	return params.Values{"ids": id}, nil
}

// Client talks to a Wikibase repository.
type Client struct {
	api            *mwclient.Client
	sparqlEndpoint string
	logger         *slog.Logger
}

// New returns a Client using api for repository requests.
func New(api *mwclient.Client) *Client {
	return &Client{
		api:            api,
		sparqlEndpoint: DefaultSPARQLEndpoint,
		logger:         slog.Default(),
	}
}

// SetSPARQLEndpoint changes the query service URL.
func (c *Client) SetSPARQLEndpoint(endpoint string) {
	c.sparqlEndpoint = endpoint
}

// SetLogger replaces the client's logger.
func (c *Client) SetLogger(l *slog.Logger) {
	if l != nil {
		c.logger = l
	}
}

// API returns the repository's protocol client.
func (c *Client) API() *mwclient.Client {
	return c.api
}

type entitiesResponse struct {
	Entities map[string]*Entity `json:"entities"`
	Error    *mwclient.APIError `json:"error"`
	Success  int                `json:"success"`
}

// Get fetches one entity. props limits the returned parts (labels,
// descriptions, aliases, claims, sitelinks, info); all are returned
// when empty.
func (c *Client) Get(ctx context.Context, key Key, props ...string) (*Entity, error) {
	p, err := key.params(ctx, c)
	if err != nil {
		return nil, err
	}
	p.Set("action", "wbgetentities")
	if len(props) > 0 {
		p.AddRange("props", props...)
	}

	body, err := c.api.GetRaw(ctx, p)
	if err != nil {
		return nil, err
	}
	var resp entitiesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unable to parse wbgetentities response: %w", err)
	}
	if resp.Error != nil {
		if resp.Error.Code == "no-such-entity" {
			return nil, fmt.Errorf("%w: %s", ErrEntityMissing, resp.Error.Info)
		}
		return nil, *resp.Error
	}
	for _, e := range resp.Entities {
		if e.Missing {
			return nil, ErrEntityMissing
		}
		e.client = c
		return e, nil
	}
	return nil, ErrEntityMissing
}

// SearchLabel returns the ID of the first item whose label or alias in
// a language matches exactly.
func (c *Client) SearchLabel(ctx context.Context, language, label string) (string, error) {
	resp, err := c.api.Get(ctx, params.Values{
		"action":         "wbsearchentities",
		"search":         label,
		"language":       language,
		"strictlanguage": "",
		"type":           "item",
		"limit":          "10",
	})
	if err != nil && !mwclient.IsWarnings(err) {
		return "", err
	}
	results, err := resp.GetObjectArray("search")
	if err != nil {
		return "", fmt.Errorf("invalid wbsearchentities response: %w", err)
	}
	for _, r := range results {
		text, _ := r.GetString("match", "text")
		if text == label || strings.EqualFold(text, label) {
			return r.GetString("id")
		}
	}
	return "", fmt.Errorf("%w: no item labelled %q in %s", ErrEntityMissing, label, language)
}

// ClaimEdit adds or removes statements of one property.
type ClaimEdit struct {
	Property string
	// Value is a string, EntityID, Time, Quantity, MonolingualText,
	// Coordinate, int or float64. A nil Value with Remove removes every
	// statement of the property.
	Value      any
	Qualifiers map[string]any
	// References are groups of property values backing the statement.
	References []map[string]any
	Rank       string
	Remove     bool
}

// Edit describes changes to an entity.
type Edit struct {
	Labels       map[string]string
	Descriptions map[string]string
	Aliases      map[string][]string
	Sitelinks    map[string]string
	Claims       []ClaimEdit
}

// EditOptions are passed to wbeditentity.
type EditOptions struct {
	Summary   string
	Bot       bool
	BaseRevID int64
	// Clear replaces the whole entity with the new data.
	Clear bool
}

// data builds the wbeditentity JSON for edit, resolving the statement
// GUIDs of removals against current.
func (e Edit) data(current *Entity) (string, error) {
	doc := "{}"
	var err error
	set := func(path string, v any) {
		if err == nil {
			doc, err = sjson.Set(doc, path, v)
		}
	}
	for lang, v := range e.Labels {
		set("labels."+escapePath(lang), Term{Language: lang, Value: v})
	}
	for lang, v := range e.Descriptions {
		set("descriptions."+escapePath(lang), Term{Language: lang, Value: v})
	}
	for lang, vs := range e.Aliases {
		terms := make([]Term, len(vs))
		for i, v := range vs {
			terms[i] = Term{Language: lang, Value: v}
		}
		set("aliases."+escapePath(lang), terms)
	}
	for site, title := range e.Sitelinks {
		set("sitelinks."+escapePath(site), Sitelink{Site: site, Title: title})
	}
	if err != nil {
		return "", err
	}

	var claims []any
	for _, ce := range e.Claims {
		if ce.Remove {
			guids := removalGUIDs(current, ce)
			if len(guids) == 0 {
				return "", fmt.Errorf("no statement of %s to remove", ce.Property)
			}
			for _, id := range guids {
				claims = append(claims, map[string]string{"id": id, "remove": ""})
			}
			continue
		}
		st, err := statement(ce)
		if err != nil {
			return "", err
		}
		claims = append(claims, st)
	}
	if len(claims) > 0 {
		set("claims", claims)
	}
	return doc, err
}

func statement(ce ClaimEdit) (map[string]any, error) {
	main, err := valueSnak(ce.Property, ce.Value)
	if err != nil {
		return nil, err
	}
	rank := ce.Rank
	if rank == "" {
		rank = "normal"
	}
	st := map[string]any{"mainsnak": main, "type": "statement", "rank": rank}
	if len(ce.Qualifiers) > 0 {
		q := map[string][]Snak{}
		for prop, v := range ce.Qualifiers {
			s, err := valueSnak(prop, v)
			if err != nil {
				return nil, err
			}
			q[prop] = append(q[prop], s)
		}
		st["qualifiers"] = q
	}
	for _, group := range ce.References {
		snaks := map[string][]Snak{}
		for prop, v := range group {
			s, err := valueSnak(prop, v)
			if err != nil {
				return nil, err
			}
			snaks[prop] = append(snaks[prop], s)
		}
		refs, _ := st["references"].([]map[string]any)
		st["references"] = append(refs, map[string]any{"snaks": snaks})
	}
	return st, nil
}

func valueSnak(property string, v any) (Snak, error) {
	dv, err := encodeValue(v)
	if err != nil {
		return Snak{}, fmt.Errorf("%s: %w", property, err)
	}
	return Snak{SnakType: "value", Property: property, DataValue: dv}, nil
}

func removalGUIDs(current *Entity, ce ClaimEdit) []string {
	if current == nil {
		return nil
	}
	var ids []string
	for _, st := range current.Claims[ce.Property] {
		if ce.Value == nil || (st.MainSnak.DataValue != nil && st.MainSnak.DataValue.Equal(ce.Value)) {
			ids = append(ids, st.ID)
		}
	}
	return ids
}

// escapePath escapes the sjson path syntax in a key.
func escapePath(key string) string {
	r := strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`, "|", `\|`, "#", `\#`)
	return r.Replace(key)
}

// Edit applies changes to an existing entity and returns the entity as
// stored afterwards. current is needed to resolve statement removals and
// may be nil otherwise.
func (c *Client) Edit(ctx context.Context, id string, current *Entity, edit Edit, opts EditOptions) (*Entity, error) {
	p := params.Values{"id": id}
	if opts.BaseRevID == 0 && current != nil {
		opts.BaseRevID = current.LastRevID
	}
	return c.editEntity(ctx, p, current, edit, opts)
}

// Create makes a new entity of type "item" or "property".
func (c *Client) Create(ctx context.Context, entityType string, edit Edit, opts EditOptions) (*Entity, error) {
	if entityType == "" {
		entityType = "item"
	}
	return c.editEntity(ctx, params.Values{"new": entityType}, nil, edit, opts)
}

func (c *Client) editEntity(ctx context.Context, p params.Values, current *Entity, edit Edit, opts EditOptions) (*Entity, error) {
	data, err := edit.data(current)
	if err != nil {
		return nil, err
	}
	token, err := c.api.GetToken(ctx, mwclient.CSRFToken)
	if err != nil {
		return nil, fmt.Errorf("unable to obtain csrf token: %w", err)
	}

	p.Set("action", "wbeditentity")
	p.Set("data", data)
	p.Set("token", token)
	if opts.Summary != "" {
		p.Set("summary", opts.Summary)
	}
	p.SetBool("bot", opts.Bot)
	p.SetBool("clear", opts.Clear)
	if opts.BaseRevID > 0 {
		p.Set("baserevid", strconv.FormatInt(opts.BaseRevID, 10))
	}

	body, err := c.api.PostRaw(ctx, p)
	if err != nil {
		metrics.RecordEdit("wbeditentity", "error")
		return nil, err
	}
	var resp struct {
		Entity  *Entity            `json:"entity"`
		Error   *mwclient.APIError `json:"error"`
		Success int                `json:"success"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		metrics.RecordEdit("wbeditentity", "error")
		return nil, fmt.Errorf("unable to parse wbeditentity response: %w", err)
	}
	if resp.Error != nil || resp.Entity == nil {
		metrics.RecordEdit("wbeditentity", "failure")
		failure := &EditFailure{Err: errors.New("no entity in the answer")}
		if resp.Error != nil {
			failure.Err = *resp.Error
		}
		failure.Result, _ = jason.NewObjectFromBytes(body)
		return nil, failure
	}
	metrics.RecordEdit("wbeditentity", "success")
	resp.Entity.client = c
	c.logger.Info("entity edited", "id", resp.Entity.ID, "revision", resp.Entity.LastRevID)
	return resp.Entity, nil
}

// Modify applies changes to the entity and replaces its contents with
// the stored result.
func (e *Entity) Modify(ctx context.Context, edit Edit, opts EditOptions) error {
	if e.client == nil {
		return errors.New("entity was not fetched through a client")
	}
	updated, err := e.client.Edit(ctx, e.ID, e, edit, opts)
	if err != nil {
		return err
	}
	*e = *updated
	return nil
}
