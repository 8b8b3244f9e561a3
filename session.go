package wikiapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"cgt.name/pkg/go-wikiapi/mwclient"
	"cgt.name/pkg/go-wikiapi/params"
	"cgt.name/pkg/go-wikiapi/replica"
	"cgt.name/pkg/go-wikiapi/wikidata"
)

// DefaultDataAPI is the Wikibase repository used by Data when no other
// repository is configured.
const DefaultDataAPI = "https://www.wikidata.org/w/api.php"

// Session is a connection to one MediaWiki site. All methods are safe
// for concurrent use.
type Session struct {
	api            *mwclient.Client
	logger         *slog.Logger
	language       string
	userAgent      string
	defaults       params.Values
	dataAPI        string
	sparqlEndpoint string
	converterAPI   string
	sqlDriver      string
	sqlDSN         string
	clientOpts     []func(*mwclient.Client)

	mu        sync.Mutex
	lastPage  *PageData
	siteInfo  *SiteInfo
	redirects map[string]string
	data      *wikidata.Client
	db        *replica.DB
	login     *LoginOptions
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger of the session and its clients.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithUserAgent sets the User-Agent prefix sent with every request.
func WithUserAgent(ua string) Option {
	return func(s *Session) { s.userAgent = ua }
}

// WithDefaults sets parameters added to every edit-like request of the
// session. Options given to a call take precedence.
func WithDefaults(p params.Values) Option {
	return func(s *Session) { s.defaults = p.Clone() }
}

// WithDataAPI sets the API URL of the Wikibase repository used by Data
// and NewDataEntity.
func WithDataAPI(apiURL string) Option {
	return func(s *Session) { s.dataAPI = apiURL }
}

// WithSPARQLEndpoint sets the query service used by SPARQL.
func WithSPARQLEndpoint(endpoint string) Option {
	return func(s *Session) { s.sparqlEndpoint = endpoint }
}

// WithConverterAPI sets the wiki used by ConvertChinese when the session
// itself is not a Chinese wiki.
func WithConverterAPI(apiURL string) Option {
	return func(s *Session) { s.converterAPI = apiURL }
}

// WithReplica sets the database used by RunSQL.
func WithReplica(driver, dsn string) Option {
	return func(s *Session) {
		s.sqlDriver = driver
		s.sqlDSN = dsn
	}
}

// WithMaxlag enables the maxlag parameter with the given number of
// seconds. Zero disables it.
func WithMaxlag(seconds int) Option {
	return func(s *Session) {
		s.clientOpts = append(s.clientOpts, func(c *mwclient.Client) {
			c.Maxlag.On = seconds > 0
			if seconds > 0 {
				c.Maxlag.Timeout = fmt.Sprint(seconds)
			}
		})
	}
}

// WithAssert makes every request assert that the session is logged in
// ("user") or has the bot right ("bot").
func WithAssert(assert string) Option {
	return func(s *Session) {
		s.clientOpts = append(s.clientOpts, func(c *mwclient.Client) {
			switch assert {
			case "user":
				c.Assert = mwclient.AssertUser
			case "bot":
				c.Assert = mwclient.AssertBot
			default:
				c.Assert = mwclient.AssertNone
			}
		})
	}
}

// WithRateLimit paces requests to r per second with the given burst.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(s *Session) {
		s.clientOpts = append(s.clientOpts, func(c *mwclient.Client) {
			c.SetRateLimit(r, burst)
		})
	}
}

// WithHTTPTimeout sets the timeout of each HTTP request.
func WithHTTPTimeout(d time.Duration) Option {
	return func(s *Session) {
		s.clientOpts = append(s.clientOpts, func(c *mwclient.Client) {
			c.SetHTTPTimeout(d)
		})
	}
}

// New returns a session for target, which is an API URL, a language
// code such as "en" or "zh-classical", a project such as "zh.wikinews",
// a database name such as "enwiktionary", or one of "commons",
// "wikidata", "meta", "mediawiki", "species" and "test". An empty target
// means the English Wikipedia.
func New(target string, opts ...Option) (*Session, error) {
	apiURL, language, err := APIURL(target)
	if err != nil {
		return nil, err
	}
	s := &Session{
		logger:    slog.Default(),
		language:  language,
		sqlDriver: replica.DefaultDriver,
		redirects: map[string]string{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.api, err = s.newClient(apiURL)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) newClient(apiURL string) (*mwclient.Client, error) {
	c, err := mwclient.New(apiURL, s.userAgent)
	if err != nil {
		return nil, err
	}
	c.SetLogger(s.logger)
	for _, opt := range s.clientOpts {
		opt(c)
	}
	return c, nil
}

var (
	languageCode = regexp.MustCompile(`^[a-z]{2,12}(-[a-z]+)*$`)
	projectHost  = regexp.MustCompile(`^([a-z]{2,12}(?:-[a-z]+)*)\.(wikipedia|wiktionary|wikisource|wikibooks|wikinews|wikiquote|wikiversity|wikivoyage)\.org$`)
	families     = []string{"wiktionary", "wikisource", "wikibooks", "wikinews", "wikiquote", "wikiversity", "wikivoyage", "wiki"}
)

var wikimediaSites = map[string]string{
	"commons":   "https://commons.wikimedia.org/w/api.php",
	"wikidata":  "https://www.wikidata.org/w/api.php",
	"meta":      "https://meta.wikimedia.org/w/api.php",
	"mediawiki": "https://www.mediawiki.org/w/api.php",
	"species":   "https://species.wikimedia.org/w/api.php",
	"test":      "https://test.wikipedia.org/w/api.php",
}

// APIURL resolves a session target (see New) into an API URL and, for
// Wikimedia projects, the content language.
func APIURL(target string) (apiURL, language string, err error) {
	target = strings.TrimSpace(target)
	if target == "" {
		target = "en"
	}
	if strings.Contains(target, "://") {
		u, err := url.Parse(target)
		if err != nil {
			return "", "", err
		}
		if u.Path == "" || u.Path == "/" {
			u.Path = "/w/api.php"
		}
		if m := projectHost.FindStringSubmatch(u.Host); m != nil {
			language = m[1]
		}
		return u.String(), language, nil
	}
	if u, ok := wikimediaSites[target]; ok {
		return u, "", nil
	}
	if lang, family, ok := strings.Cut(target, "."); ok && languageCode.MatchString(lang) {
		family = strings.TrimSuffix(family, ".org")
		if family == "wiki" {
			family = "wikipedia"
		}
		return "https://" + lang + "." + family + ".org/w/api.php", lang, nil
	}
	for _, family := range families {
		lang, ok := strings.CutSuffix(target, family)
		if !ok || lang == "" {
			continue
		}
		lang = strings.ReplaceAll(lang, "_", "-")
		if !languageCode.MatchString(lang) {
			continue
		}
		if family == "wiki" {
			family = "wikipedia"
		}
		return "https://" + lang + "." + family + ".org/w/api.php", lang, nil
	}
	if languageCode.MatchString(target) {
		return "https://" + target + ".wikipedia.org/w/api.php", target, nil
	}
	return "", "", fmt.Errorf("unrecognized wiki %q", target)
}

// API returns the protocol client of the session.
func (s *Session) API() *mwclient.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.api
}

// Logger returns the session logger.
func (s *Session) Logger() *slog.Logger {
	return s.logger
}

// Language returns the content language of the site, or the empty
// string when it is not known yet (see LoadSiteInfo).
func (s *Session) Language() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.language == "" && s.siteInfo != nil {
		return s.siteInfo.Language
	}
	return s.language
}

// SiteName returns the database name of the site, such as "enwiki" or
// "commonswiki". For wikis outside Wikimedia it is the wiki ID reported
// by LoadSiteInfo, or the host name before that.
func (s *Session) SiteName() string {
	api := s.API()
	host := api.APIURL().Host
	if m := projectHost.FindStringSubmatch(host); m != nil {
		family := m[2]
		if family == "wikipedia" {
			family = "wiki"
		}
		return strings.ReplaceAll(m[1], "-", "_") + family
	}
	switch host {
	case "www.wikidata.org":
		return "wikidatawiki"
	case "www.mediawiki.org":
		return "mediawikiwiki"
	}
	if name, ok := strings.CutSuffix(host, ".wikimedia.org"); ok {
		return name + "wiki"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.siteInfo != nil && s.siteInfo.WikiID != "" {
		return s.siteInfo.WikiID
	}
	return host
}

// LastPage returns the page most recently fetched by Page, or nil.
func (s *Session) LastPage() *PageData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPage
}

// lastPageItem returns the title and ID of the last page as they are
// now. MoveTo may rename the last page from another goroutine.
func (s *Session) lastPageItem() (*PageData, ListItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.lastPage
	if p == nil {
		return nil, ListItem{}
	}
	return p, ListItem{PageID: p.PageID, NS: p.NS, Title: p.Title}
}

func (s *Session) setLastPage(p *PageData) {
	s.mu.Lock()
	s.lastPage = p
	s.mu.Unlock()
}

// OAuthCredentials are the four secrets of an owner-only OAuth 1.0a
// consumer.
type OAuthCredentials struct {
	ConsumerToken, ConsumerSecret string
	AccessToken, AccessSecret     string
}

// LoginOptions configure LoginWith.
type LoginOptions struct {
	User     string
	Password string
	// OAuth is used instead of User and Password when set.
	OAuth *OAuthCredentials
	// API switches the session to another wiki before logging in.
	API string
	// DataAPI and SPARQL replace the Wikibase repository and query
	// service of the session.
	DataAPI string
	SPARQL  string
}

// Login logs in with a user name and (bot) password and returns the
// name the wiki knows the user by.
func (s *Session) Login(ctx context.Context, user, password string) (string, error) {
	return s.LoginWith(ctx, LoginOptions{User: user, Password: password})
}

// LoginWith logs in as described by opts. The Wikibase repository, when
// it is another wiki, is logged in with the same credentials the first
// time Data is used.
func (s *Session) LoginWith(ctx context.Context, opts LoginOptions) (string, error) {
	api := s.API()
	var language string
	if opts.API != "" {
		apiURL, lang, err := APIURL(opts.API)
		if err != nil {
			return "", err
		}
		if api, err = s.newClient(apiURL); err != nil {
			return "", err
		}
		language = lang
	}

	name, err := loginClient(ctx, api, opts)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if opts.API != "" {
		s.language = language
		s.siteInfo = nil
		s.lastPage = nil
		s.redirects = map[string]string{}
	}
	s.api = api
	if opts.DataAPI != "" {
		s.dataAPI = opts.DataAPI
	}
	if opts.SPARQL != "" {
		s.sparqlEndpoint = opts.SPARQL
	}
	stored := opts
	s.login = &stored
	s.data = nil
	s.logger.Info("session logged in", "user", name, "site", api.APIURL().Host)
	return name, nil
}

// loginClient logs api in as described by opts and returns the user
// name.
func loginClient(ctx context.Context, api *mwclient.Client, opts LoginOptions) (string, error) {
	switch {
	case opts.OAuth != nil:
		o := opts.OAuth
		if err := api.OAuth(o.ConsumerToken, o.ConsumerSecret, o.AccessToken, o.AccessSecret); err != nil {
			return "", err
		}
		u, err := api.CurrentUser(ctx)
		if err != nil {
			return "", err
		}
		if u.Anon {
			return "", errors.New("the wiki did not accept the OAuth credentials")
		}
		return u.Name, nil
	case opts.User != "":
		if err := api.Login(ctx, opts.User, opts.Password); err != nil {
			return "", err
		}
		return api.UserName(), nil
	}
	return "", errors.New("login needs a user name or OAuth credentials")
}

// Close releases the database connection opened by RunSQL.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
