package wikiapi

import (
	"context"
	"errors"
	"fmt"

	"cgt.name/pkg/go-wikiapi/wikidata"
)

// dataClient returns the client of the Wikibase repository, connecting
// and logging in to it the first time. A session on Wikidata itself
// uses its own connection.
func (s *Session) dataClient(ctx context.Context) (*wikidata.Client, error) {
	s.mu.Lock()
	if s.data != nil {
		c := s.data
		s.mu.Unlock()
		return c, nil
	}
	dataAPI, endpoint, login := s.dataAPI, s.sparqlEndpoint, s.login
	s.mu.Unlock()

	api := s.API()
	if dataAPI == "" && s.SiteName() == "wikidatawiki" {
		dataAPI = api.APIURL().String()
	}
	if dataAPI == "" {
		dataAPI = DefaultDataAPI
	}
	if dataAPI != api.APIURL().String() {
		var err error
		if api, err = s.newClient(dataAPI); err != nil {
			return nil, err
		}
		if login != nil {
			if _, err := loginClient(ctx, api, *login); err != nil {
				return nil, fmt.Errorf("login to %s: %w", api.APIURL().Host, err)
			}
		}
	}

	c := wikidata.New(api)
	c.SetLogger(s.logger)
	if endpoint != "" {
		c.SetSPARQLEndpoint(endpoint)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		s.data = c
	}
	return s.data, nil
}

// Data fetches a Wikibase entity. key is a wikidata.Key, an entity ID
// such as "Q42", a title of a page of this wiki, a *PageData, or a
// [language, label] pair given as [2]string or []string. props limits
// the parts returned.
func (s *Session) Data(ctx context.Context, key any, props ...string) (*wikidata.Entity, error) {
	k, err := s.dataKey(key)
	if err != nil {
		return nil, err
	}
	c, err := s.dataClient(ctx)
	if err != nil {
		return nil, err
	}
	return c.Get(ctx, k, props...)
}

func (s *Session) dataKey(key any) (wikidata.Key, error) {
	switch k := key.(type) {
	case wikidata.Key:
		return k, nil
	case string:
		if wikidata.IsEntityID(k) {
			return wikidata.ID(k), nil
		}
		return wikidata.SiteTitle{Site: s.SiteName(), Title: k}, nil
	case *PageData:
		if k == nil {
			return nil, fmt.Errorf("nil page")
		}
		return wikidata.SiteTitle{Site: s.SiteName(), Title: k.Title}, nil
	case [2]string:
		return wikidata.Label{Language: k[0], Label: k[1]}, nil
	case []string:
		if len(k) != 2 {
			return nil, fmt.Errorf("a label key is [language, label], got %d elements", len(k))
		}
		return wikidata.Label{Language: k[0], Label: k[1]}, nil
	}
	return nil, fmt.Errorf("unsupported data key of type %T", key)
}

// EntityOptions configure NewDataEntity.
type EntityOptions struct {
	// Type is "item" (the default) or "property".
	Type    string
	Summary string
	Bot     bool
}

// NewDataEntity creates a Wikibase entity.
func (s *Session) NewDataEntity(ctx context.Context, edit wikidata.Edit, opts EntityOptions) (*wikidata.Entity, error) {
	c, err := s.dataClient(ctx)
	if err != nil {
		return nil, err
	}
	e, err := c.Create(ctx, opts.Type, edit, wikidata.EditOptions{Summary: opts.Summary, Bot: opts.Bot})
	if err != nil {
		return nil, entityError(err)
	}
	return e, nil
}

// entityError converts a refused wbeditentity request into an
// *EditError carrying the answer of the API.
func entityError(err error) error {
	var failure *wikidata.EditFailure
	if !errors.As(err, &failure) {
		return err
	}
	if e, ok := editError("", failure.Result, failure.Err).(*EditError); ok {
		return e
	}
	return &EditError{Code: "invalid-response", Info: failure.Err.Error(), Result: failure.Result, Err: err}
}

// SPARQLOptions configure SPARQL.
type SPARQLOptions struct {
	// Endpoint replaces the query service of the session.
	Endpoint string
}

// SPARQL runs a SELECT query against the query service.
func (s *Session) SPARQL(ctx context.Context, query string, opts SPARQLOptions) (*wikidata.Results, error) {
	endpoint := opts.Endpoint
	if endpoint == "" {
		s.mu.Lock()
		endpoint = s.sparqlEndpoint
		s.mu.Unlock()
	}
	c := wikidata.New(s.API())
	c.SetLogger(s.logger)
	if endpoint != "" {
		c.SetSPARQLEndpoint(endpoint)
	}
	return c.SPARQL(ctx, query)
}
