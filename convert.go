package wikiapi

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"cgt.name/pkg/go-wikiapi/mwclient"
	"cgt.name/pkg/go-wikiapi/params"
)

// DefaultConverterAPI is the wiki whose language converter is used by
// ConvertChinese when the session is not a Chinese wiki.
const DefaultConverterAPI = "https://zh.wikipedia.org/w/api.php"

const convertClass = "wikiapi-convert"

// convertEscaper keeps the texts from being read as wikitext or HTML.
var convertEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	"[", "&#91;",
	"]", "&#93;",
	"{", "&#123;",
	"}", "&#125;",
	"|", "&#124;",
	"'", "&#39;",
	"~", "&#126;",
	"_", "&#95;",
	"-", "&#45;",
	"=", "&#61;",
	"*", "&#42;",
	"#", "&#35;",
	":", "&#58;",
	";", "&#59;",
	"\n", "&#10;",
)

// ConvertChinese converts texts to a Chinese variant such as "zh-hans",
// "zh-hant", "zh-tw" or "zh-cn" with the language converter of a Chinese
// wiki. The result has one entry per text, in order.
func (s *Session) ConvertChinese(ctx context.Context, texts []string, variant string) ([]string, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if !strings.HasPrefix(variant, "zh") {
		return nil, fmt.Errorf("%q is not a Chinese variant", variant)
	}
	api, err := s.converter()
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	for _, text := range texts {
		fmt.Fprintf(&b, "<div class=\"%s\">%s</div>\n", convertClass, convertEscaper.Replace(text))
	}
	resp, err := api.Post(ctx, params.Values{
		"action":             "parse",
		"contentmodel":       "wikitext",
		"text":               b.String(),
		"prop":               "text",
		"uselang":            variant,
		"variant":            variant,
		"disablelimitreport": "",
		"disableeditsection": "",
	})
	if err != nil && !mwclient.IsWarnings(err) {
		return nil, err
	}
	html, err := resp.GetString("parse", "text")
	if err != nil {
		return nil, fmt.Errorf("invalid parse response: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	out := make([]string, 0, len(texts))
	doc.Find("div." + convertClass).Each(func(_ int, sel *goquery.Selection) {
		out = append(out, sel.Text())
	})
	if len(out) != len(texts) {
		return nil, fmt.Errorf("converted %d of %d texts", len(out), len(texts))
	}
	return out, nil
}

// ConvertChineseText converts a single text; see ConvertChinese.
func (s *Session) ConvertChineseText(ctx context.Context, text, variant string) (string, error) {
	out, err := s.ConvertChinese(ctx, []string{text}, variant)
	if err != nil {
		return "", err
	}
	if len(out) == 0 {
		return "", errors.New("no conversion returned")
	}
	return out[0], nil
}

func (s *Session) converter() (*mwclient.Client, error) {
	if s.converterAPI == "" && strings.HasPrefix(s.Language(), "zh") {
		return s.API(), nil
	}
	apiURL := s.converterAPI
	if apiURL == "" {
		apiURL = DefaultConverterAPI
	}
	if apiURL == s.API().APIURL().String() {
		return s.API(), nil
	}
	return s.newClient(apiURL)
}
