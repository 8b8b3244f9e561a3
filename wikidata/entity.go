package wikidata

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Term is a label, description or alias in one language.
type Term struct {
	Language string `json:"language"`
	Value    string `json:"value"`
}

// Sitelink links an entity to a page on a client wiki.
type Sitelink struct {
	Site   string   `json:"site"`
	Title  string   `json:"title"`
	Badges []string `json:"badges"`
	URL    string   `json:"url,omitempty"`
}

// DataValue is the typed value of a snak. Value is kept raw and decoded
// on demand by Decode.
type DataValue struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// Snak is a property-value pair.
type Snak struct {
	SnakType  string     `json:"snaktype"`
	Property  string     `json:"property"`
	Hash      string     `json:"hash,omitempty"`
	DataType  string     `json:"datatype,omitempty"`
	DataValue *DataValue `json:"datavalue,omitempty"`
}

// Reference is a group of snaks supporting a statement.
type Reference struct {
	Hash  string            `json:"hash"`
	Snaks map[string][]Snak `json:"snaks"`
}

// Statement is a claim with rank, qualifiers and references.
type Statement struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Rank       string            `json:"rank"`
	MainSnak   Snak              `json:"mainsnak"`
	Qualifiers map[string][]Snak `json:"qualifiers,omitempty"`
	References []Reference       `json:"references,omitempty"`
}

// Entity is a Wikibase item or property.
type Entity struct {
	ID           string                 `json:"id"`
	Type         string                 `json:"type"`
	LastRevID    int64                  `json:"lastrevid"`
	Modified     string                 `json:"modified"`
	Title        string                 `json:"title"`
	Missing      bool                   `json:"-"`
	Labels       map[string]Term        `json:"labels"`
	Descriptions map[string]Term        `json:"descriptions"`
	Aliases      map[string][]Term      `json:"aliases"`
	Claims       map[string][]Statement `json:"claims"`
	Sitelinks    map[string]Sitelink    `json:"sitelinks"`

	client *Client
}

// UnmarshalJSON accepts the "missing" flag in both format versions and
// the "statements" key used by MediaInfo entities.
func (e *Entity) UnmarshalJSON(data []byte) error {
	type plain Entity
	var aux struct {
		plain
		MissingFlag json.RawMessage        `json:"missing"`
		Statements  map[string][]Statement `json:"statements"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*e = Entity(aux.plain)
	e.Missing = aux.MissingFlag != nil && string(aux.MissingFlag) != "false"
	if e.Claims == nil && aux.Statements != nil {
		e.Claims = aux.Statements
	}
	return nil
}

// Label returns the label in a language, or the empty string.
func (e *Entity) Label(language string) string {
	return e.Labels[language].Value
}

// Description returns the description in a language.
func (e *Entity) Description(language string) string {
	return e.Descriptions[language].Value
}

// AliasValues returns the aliases in a language.
func (e *Entity) AliasValues(language string) []string {
	var out []string
	for _, a := range e.Aliases[language] {
		out = append(out, a.Value)
	}
	return out
}

// Sitelink returns the title linked on a client wiki, such as "enwiki".
func (e *Entity) Sitelink(site string) string {
	return e.Sitelinks[site].Title
}

// Values decodes the main values of the statements for a property,
// skipping deprecated statements and snaks without a value.
func (e *Entity) Values(property string) []any {
	var out []any
	for _, st := range e.Claims[property] {
		if st.Rank == "deprecated" || st.MainSnak.DataValue == nil {
			continue
		}
		v, err := st.MainSnak.DataValue.Decode()
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}

// Value returns the first value of Values, or nil.
func (e *Entity) Value(property string) any {
	if vs := e.Values(property); len(vs) > 0 {
		return vs[0]
	}
	return nil
}

// EntityID is a wikibase-entityid value.
type EntityID string

// Time is a point in time with its precision (11 = day, 9 = year).
type Time struct {
	Time          string `json:"time"`
	Timezone      int    `json:"timezone"`
	Before        int    `json:"before"`
	After         int    `json:"after"`
	Precision     int    `json:"precision"`
	CalendarModel string `json:"calendarmodel"`
}

// Quantity is an amount with an optional unit entity URI.
type Quantity struct {
	Amount     string `json:"amount"`
	Unit       string `json:"unit"`
	UpperBound string `json:"upperBound,omitempty"`
	LowerBound string `json:"lowerBound,omitempty"`
}

// Float returns the amount as a number.
func (q Quantity) Float() (float64, error) {
	return strconv.ParseFloat(strings.TrimPrefix(q.Amount, "+"), 64)
}

// MonolingualText is a string in one language.
type MonolingualText struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// Coordinate is a position on a globe.
type Coordinate struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Altitude  *float64 `json:"altitude"`
	Precision float64  `json:"precision"`
	Globe     string   `json:"globe"`
}

// Decode returns a Go value for the data value: string, EntityID, Time,
// Quantity, MonolingualText or Coordinate.
func (d *DataValue) Decode() (any, error) {
	switch d.Type {
	case "string":
		var s string
		err := json.Unmarshal(d.Value, &s)
		return s, err
	case "wikibase-entityid":
		var v struct {
			ID         string `json:"id"`
			EntityType string `json:"entity-type"`
			NumericID  int64  `json:"numeric-id"`
		}
		if err := json.Unmarshal(d.Value, &v); err != nil {
			return nil, err
		}
		if v.ID == "" {
			prefix := "Q"
			if v.EntityType == "property" {
				prefix = "P"
			}
			v.ID = prefix + strconv.FormatInt(v.NumericID, 10)
		}
		return EntityID(v.ID), nil
	case "time":
		var t Time
		err := json.Unmarshal(d.Value, &t)
		return t, err
	case "quantity":
		var q Quantity
		err := json.Unmarshal(d.Value, &q)
		return q, err
	case "monolingualtext":
		var m MonolingualText
		err := json.Unmarshal(d.Value, &m)
		return m, err
	case "globecoordinate":
		var c Coordinate
		err := json.Unmarshal(d.Value, &c)
		return c, err
	}
	return nil, fmt.Errorf("unsupported data value type %q", d.Type)
}

// encodeValue converts a Go value into a datavalue object. Plain
// strings that look like entity IDs are taken as entity IDs when the
// property's datatype is not known.
func encodeValue(v any) (*DataValue, error) {
	var typ string
	var value any
	switch x := v.(type) {
	case EntityID:
		typ, value = "wikibase-entityid", entityIDValue(string(x))
	case string:
		if IsEntityID(x) {
			typ, value = "wikibase-entityid", entityIDValue(x)
		} else {
			typ, value = "string", x
		}
	case Time:
		if x.CalendarModel == "" {
			x.CalendarModel = "http://www.wikidata.org/entity/Q1985727"
		}
		if x.Precision == 0 {
			x.Precision = 11
		}
		typ, value = "time", x
	case Quantity:
		if x.Unit == "" {
			x.Unit = "1"
		}
		if !strings.HasPrefix(x.Amount, "+") && !strings.HasPrefix(x.Amount, "-") {
			x.Amount = "+" + x.Amount
		}
		typ, value = "quantity", x
	case int:
		return encodeValue(Quantity{Amount: strconv.Itoa(x)})
	case float64:
		return encodeValue(Quantity{Amount: strconv.FormatFloat(x, 'f', -1, 64)})
	case MonolingualText:
		typ, value = "monolingualtext", x
	case Coordinate:
		if x.Globe == "" {
			x.Globe = "http://www.wikidata.org/entity/Q2"
		}
		typ, value = "globecoordinate", x
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return &DataValue{Type: typ, Value: raw}, nil
}

func entityIDValue(id string) map[string]string {
	typ := "item"
	switch id[0] {
	case 'P':
		typ = "property"
	case 'L':
		typ = "lexeme"
	}
	return map[string]string{"entity-type": typ, "id": id}
}

// IsEntityID reports whether s looks like an item, property or lexeme
// ID such as Q42.
func IsEntityID(s string) bool {
	if len(s) < 2 || !strings.ContainsRune("QPLM", rune(s[0])) {
		return false
	}
	_, err := strconv.ParseUint(s[1:], 10, 64)
	return err == nil && s[1] != '0'
}

// Equal reports whether the data value holds v, comparing the encoded
// forms.
func (d *DataValue) Equal(v any) bool {
	other, err := encodeValue(v)
	if err != nil || other.Type != d.Type {
		return false
	}
	a, errA := d.Decode()
	b, errB := other.Decode()
	if errA != nil || errB != nil {
		return false
	}
	switch x := a.(type) {
	case Quantity:
		y := b.(Quantity)
		fa, errA := x.Float()
		fb, errB := y.Float()
		return errA == nil && errB == nil && fa == fb
	case Time:
		y := b.(Time)
		return x.Time == y.Time
	}
	return a == b
}
