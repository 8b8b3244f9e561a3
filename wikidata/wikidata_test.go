package wikidata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"cgt.name/pkg/go-wikiapi/mwclient"
)

const q42 = `{"entities":{"Q42":{"type":"item","id":"Q42","lastrevid":100,
"labels":{"en":{"language":"en","value":"Douglas Adams"}},
"descriptions":{"en":{"language":"en","value":"English writer"}},
"aliases":{"en":[{"language":"en","value":"Douglas Noël Adams"}]},
"sitelinks":{"enwiki":{"site":"enwiki","title":"Douglas Adams","badges":[]}},
"claims":{
 "P31":[{"id":"Q42$1","rank":"normal","type":"statement","mainsnak":{"snaktype":"value","property":"P31",
   "datavalue":{"type":"wikibase-entityid","value":{"entity-type":"item","numeric-id":5,"id":"Q5"}}}}],
 "P1477":[{"id":"Q42$2","rank":"normal","type":"statement","mainsnak":{"snaktype":"value","property":"P1477",
   "datavalue":{"type":"monolingualtext","value":{"text":"Douglas Noël Adams","language":"en"}}}}],
 "P569":[{"id":"Q42$3","rank":"normal","type":"statement","mainsnak":{"snaktype":"value","property":"P569",
   "datavalue":{"type":"time","value":{"time":"+1952-03-11T00:00:00Z","precision":11,"calendarmodel":"http://www.wikidata.org/entity/Q1985727"}}}}],
 "P2048":[{"id":"Q42$4","rank":"normal","type":"statement","mainsnak":{"snaktype":"value","property":"P2048",
   "datavalue":{"type":"quantity","value":{"amount":"+1.96","unit":"http://www.wikidata.org/entity/Q11573"}}}},
  {"id":"Q42$5","rank":"deprecated","type":"statement","mainsnak":{"snaktype":"value","property":"P2048",
   "datavalue":{"type":"quantity","value":{"amount":"+2","unit":"http://www.wikidata.org/entity/Q11573"}}}}],
 "P735":[{"id":"Q42$6","rank":"normal","type":"statement","mainsnak":{"snaktype":"somevalue","property":"P735"}}]
}}}}`

func setup(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	api, err := mwclient.New(server.URL, "go-wikiapi test")
	require.NoError(t, err)
	c := New(api)
	c.SetSPARQLEndpoint(server.URL + "/sparql")
	return c
}

func TestGetByID(t *testing.T) {
	c := setup(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "wbgetentities", r.FormValue("action"))
		assert.Equal(t, "Q42", r.FormValue("ids"))
		assert.Equal(t, "labels|claims", r.FormValue("props"))
		fmt.Fprint(w, q42)
	})

	e, err := c.Get(context.Background(), ID("Q42"), "labels", "claims")
	require.NoError(t, err)
	assert.Equal(t, "Douglas Adams", e.Label("en"))
	assert.Equal(t, "English writer", e.Description("en"))
	assert.Equal(t, []string{"Douglas Noël Adams"}, e.AliasValues("en"))
	assert.Equal(t, "Douglas Adams", e.Sitelink("enwiki"))

	assert.Equal(t, EntityID("Q5"), e.Value("P31"))
	assert.Equal(t, MonolingualText{Text: "Douglas Noël Adams", Language: "en"}, e.Value("P1477"))
	assert.Equal(t, "+1952-03-11T00:00:00Z", e.Value("P569").(Time).Time)

	heights := e.Values("P2048")
	require.Len(t, heights, 1, "deprecated statements are skipped")
	h, err := heights[0].(Quantity).Float()
	require.NoError(t, err)
	assert.InDelta(t, 1.96, h, 1e-9)

	assert.Nil(t, e.Value("P735"), "somevalue snaks have no value")
}

func TestGetMissing(t *testing.T) {
	c := setup(t, func(w http.ResponseWriter, r *http.Request) {
		if r.FormValue("sites") != "" {
			assert.Equal(t, "enwiki", r.FormValue("sites"))
			assert.Equal(t, "No such page", r.FormValue("titles"))
			fmt.Fprint(w, `{"entities":{"-1":{"site":"enwiki","title":"No such page","missing":true}},"success":1}`)
			return
		}
		fmt.Fprint(w, `{"error":{"code":"no-such-entity","info":"Could not find an entity with the ID \"Q999999999\"."}}`)
	})

	_, err := c.Get(context.Background(), SiteTitle{Site: "enwiki", Title: "No such page"})
	assert.ErrorIs(t, err, ErrEntityMissing)

	_, err = c.Get(context.Background(), ID("Q999999999"))
	assert.ErrorIs(t, err, ErrEntityMissing)

	_, err = c.Get(context.Background(), ID("not an id"))
	assert.Error(t, err)
}

func TestGetByLabel(t *testing.T) {
	c := setup(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.FormValue("action") {
		case "wbsearchentities":
			assert.Equal(t, "en", r.FormValue("language"))
			fmt.Fprint(w, `{"search":[
				{"id":"Q1","match":{"type":"label","language":"en","text":"Universe (disambiguation)"}},
				{"id":"Q42","match":{"type":"label","language":"en","text":"Douglas Adams"}}]}`)
		case "wbgetentities":
			assert.Equal(t, "Q42", r.FormValue("ids"))
			fmt.Fprint(w, q42)
		}
	})

	e, err := c.Get(context.Background(), Label{Language: "en", Label: "Douglas Adams"})
	require.NoError(t, err)
	assert.Equal(t, "Q42", e.ID)
}

func TestEditData(t *testing.T) {
	var current Entity
	require.NoError(t, json.Unmarshal([]byte(gjson.Get(q42, "entities.Q42").Raw), &current))

	data, err := Edit{
		Labels: map[string]string{"de": "Douglas Adams"},
		Claims: []ClaimEdit{
			{Property: "P31", Value: "Q5", Remove: true},
			{Property: "P1082", Value: 42, Qualifiers: map[string]any{"P585": Time{Time: "+2020-00-00T00:00:00Z", Precision: 9}}},
			{Property: "P856", Value: "https://example.org", References: []map[string]any{{"P854": "https://example.com"}}},
		},
	}.data(&current)
	require.NoError(t, err)

	doc := gjson.Parse(data)
	assert.Equal(t, "Douglas Adams", doc.Get("labels.de.value").String())
	assert.Equal(t, "Q42$1", doc.Get("claims.0.id").String())
	assert.True(t, doc.Get("claims.0.remove").Exists())
	assert.Equal(t, "quantity", doc.Get("claims.1.mainsnak.datavalue.type").String())
	assert.Equal(t, "+42", doc.Get("claims.1.mainsnak.datavalue.value.amount").String())
	assert.Equal(t, int64(9), doc.Get("claims.1.qualifiers.P585.0.datavalue.value.precision").Int())
	assert.Equal(t, "string", doc.Get("claims.2.mainsnak.datavalue.type").String())
	assert.Equal(t, "https://example.com", doc.Get("claims.2.references.0.snaks.P854.0.datavalue.value").String())

	_, err = Edit{Claims: []ClaimEdit{{Property: "P999", Remove: true}}}.data(&current)
	assert.Error(t, err, "removing an absent statement")
}

func TestModify(t *testing.T) {
	c := setup(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.FormValue("action") {
		case "query":
			fmt.Fprint(w, `{"batchcomplete":true,"query":{"tokens":{"csrftoken":"tok+\\"}}}`)
		case "wbgetentities":
			fmt.Fprint(w, q42)
		case "wbeditentity":
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "Q42", r.FormValue("id"))
			assert.Equal(t, "100", r.FormValue("baserevid"))
			assert.Equal(t, "tok+\\", r.FormValue("token"))
			assert.Equal(t, "Adams", gjson.Get(r.FormValue("data"), "labels.fr.value").String())
			fmt.Fprint(w, `{"entity":{"type":"item","id":"Q42","lastrevid":101,
				"labels":{"fr":{"language":"fr","value":"Adams"}}},"success":1}`)
		}
	})

	e, err := c.Get(context.Background(), ID("Q42"))
	require.NoError(t, err)
	require.NoError(t, e.Modify(context.Background(), Edit{Labels: map[string]string{"fr": "Adams"}}, EditOptions{Bot: true}))
	assert.Equal(t, int64(101), e.LastRevID)
	assert.Equal(t, "Adams", e.Label("fr"))

	var orphan Entity
	assert.Error(t, orphan.Modify(context.Background(), Edit{}, EditOptions{}))
}

func TestCreateFailure(t *testing.T) {
	c := setup(t, func(w http.ResponseWriter, r *http.Request) {
		if r.FormValue("action") == "wbeditentity" {
			assert.Equal(t, "item", r.FormValue("new"))
			fmt.Fprint(w, `{"error":{"code":"failed-save","info":"The save has failed."}}`)
			return
		}
		fmt.Fprint(w, `{"query":{"tokens":{"csrftoken":"+\\"}}}`)
	})

	_, err := c.Create(context.Background(), "", Edit{Labels: map[string]string{"en": "x"}}, EditOptions{})
	var apiErr mwclient.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "failed-save", apiErr.Code)

	var failure *EditFailure
	require.ErrorAs(t, err, &failure)
	require.NotNil(t, failure.Result)
	info, _ := failure.Result.GetString("error", "info")
	assert.Equal(t, "The save has failed.", info)
}

func TestModifyNoEntity(t *testing.T) {
	c := setup(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.FormValue("action") {
		case "wbgetentities":
			fmt.Fprint(w, q42)
		case "wbeditentity":
			fmt.Fprint(w, `{"success":0,"warnings":{"main":{"*":"odd"}}}`)
		default:
			fmt.Fprint(w, `{"query":{"tokens":{"csrftoken":"+\\"}}}`)
		}
	})

	e, err := c.Get(context.Background(), ID("Q42"))
	require.NoError(t, err)
	err = e.Modify(context.Background(), Edit{Labels: map[string]string{"fr": "Adams"}}, EditOptions{})
	var failure *EditFailure
	require.ErrorAs(t, err, &failure)
	success, _ := failure.Result.GetInt64("success")
	assert.Zero(t, success)
	assert.Equal(t, int64(100), e.LastRevID, "entity unchanged")
}

func TestSPARQL(t *testing.T) {
	c := setup(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sparql", r.URL.Path)
		assert.Equal(t, "application/sparql-results+json", r.Header.Get("Accept"))
		assert.Contains(t, r.FormValue("query"), "wdt:P31")
		fmt.Fprint(w, `{"head":{"vars":["item","itemLabel"]},"results":{"bindings":[
			{"item":{"type":"uri","value":"http://www.wikidata.org/entity/Q42"},
			 "itemLabel":{"xml:lang":"en","type":"literal","value":"Douglas Adams"}},
			{"item":{"type":"uri","value":"http://www.wikidata.org/entity/Q42"}},
			{"item":{"type":"uri","value":"http://www.wikidata.org/entity/Q5"}},
			{"itemLabel":{"type":"literal","value":"unbound item"}}]}}`)
	})

	res, err := c.SPARQL(context.Background(), `SELECT ?item ?itemLabel WHERE { ?item wdt:P31 wd:Q5 }`)
	require.NoError(t, err)
	assert.Equal(t, []string{"item", "itemLabel"}, res.Vars)
	require.Len(t, res.Rows, 4)
	assert.Equal(t, "en", res.Rows[0]["itemLabel"].Lang)
	assert.Equal(t, []string{"Q42", "Q5"}, res.IDs())
	assert.Equal(t, []string{"Douglas Adams", "unbound item"}, res.Column("itemLabel"))
}

func TestSPARQLHTTPError(t *testing.T) {
	c := setup(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "MalformedQueryException", http.StatusBadRequest)
	})
	_, err := c.SPARQL(context.Background(), "SELECT")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MalformedQueryException")
}

func TestIsEntityID(t *testing.T) {
	for s, want := range map[string]bool{
		"Q42": true, "P31": true, "L1": true, "Q": false, "Q0": false,
		"Q4a": false, "X42": false, "": false, "q42": false,
	} {
		assert.Equal(t, want, IsEntityID(s), s)
	}
}
