// Command wikiapi runs single operations against a MediaWiki site from
// the shell: fetching and editing pages, lists, Wikidata lookups, SPARQL
// queries and replica SQL.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	wikiapi "cgt.name/pkg/go-wikiapi"
	"cgt.name/pkg/go-wikiapi/internal/config"
	"cgt.name/pkg/go-wikiapi/tracing"
)

var version = "dev"

// app carries the state shared by the sub-commands of one invocation.
type app struct {
	configPath string
	site       string
	format     string

	cfg      *config.Config
	logger   *slog.Logger
	session  *wikiapi.Session
	shutdown func(context.Context) error
	out      io.Writer
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out}
	root := &cobra.Command{
		Use:           "wikiapi",
		Short:         "Work with a MediaWiki site from the command line",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close(cmd.Context())
		},
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file path")
	root.PersistentFlags().StringVar(&a.site, "site", "", "wiki to use, overriding site.api")
	root.PersistentFlags().StringVarP(&a.format, "output", "o", "yaml", "output format (yaml, json)")

	root.AddCommand(
		a.pageCmd(),
		a.editCmd(),
		a.queryCmd(),
		a.purgeCmd(),
		a.moveCmd(),
		a.searchCmd(),
		a.categoryCmd(),
		a.sparqlCmd(),
		a.dataCmd(),
		a.listenCmd(),
		a.sqlCmd(),
		a.uploadCmd(),
		a.downloadCmd(),
	)
	return root
}

func (a *app) setup(ctx context.Context) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.site != "" {
		cfg.Site.API = a.site
	}
	switch a.format {
	case "yaml", "json":
	default:
		return fmt.Errorf("unknown output format %q", a.format)
	}
	a.cfg = cfg
	a.logger = cfg.Logger(nil)
	slog.SetDefault(a.logger)

	a.shutdown, err = tracing.Setup(ctx, cfg.TracingSetup())
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	return nil
}

func (a *app) close(ctx context.Context) error {
	if a.session != nil {
		if err := a.session.Close(); err != nil {
			a.logger.Warn("failed to close replica", "error", err)
		}
	}
	if a.shutdown != nil {
		return a.shutdown(ctx)
	}
	return nil
}

// sessionOptions converts the site and sql sections into session
// options.
func sessionOptions(cfg *config.Config, logger *slog.Logger) []wikiapi.Option {
	site := cfg.Site
	opts := []wikiapi.Option{
		wikiapi.WithLogger(logger),
		wikiapi.WithMaxlag(site.Maxlag),
		wikiapi.WithAssert(site.Assert),
	}
	if site.UserAgent != "" {
		opts = append(opts, wikiapi.WithUserAgent(site.UserAgent))
	}
	if site.DataAPI != "" {
		opts = append(opts, wikiapi.WithDataAPI(site.DataAPI))
	}
	if site.SPARQL != "" {
		opts = append(opts, wikiapi.WithSPARQLEndpoint(site.SPARQL))
	}
	if site.RateLimit > 0 {
		opts = append(opts, wikiapi.WithRateLimit(rate.Limit(site.RateLimit), max(site.Burst, 1)))
	}
	if site.Timeout > 0 {
		opts = append(opts, wikiapi.WithHTTPTimeout(site.Timeout))
	}
	if cfg.SQL.DSN != "" {
		opts = append(opts, wikiapi.WithReplica(cfg.SQL.Driver, cfg.SQL.DSN))
	}
	return opts
}

// openSession connects to the configured wiki and logs in when
// credentials are configured.
func openSession(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*wikiapi.Session, error) {
	s, err := wikiapi.New(cfg.Site.API, sessionOptions(cfg, logger)...)
	if err != nil {
		return nil, err
	}
	var login *wikiapi.LoginOptions
	switch {
	case cfg.OAuth.Enabled():
		o := cfg.OAuth
		login = &wikiapi.LoginOptions{OAuth: &wikiapi.OAuthCredentials{
			ConsumerToken:  o.ConsumerToken,
			ConsumerSecret: o.ConsumerSecret,
			AccessToken:    o.AccessToken,
			AccessSecret:   o.AccessSecret,
		}}
	case cfg.Site.User != "":
		login = &wikiapi.LoginOptions{User: cfg.Site.User, Password: cfg.Site.Password}
	}
	if login != nil {
		if _, err := s.LoginWith(ctx, *login); err != nil {
			return nil, fmt.Errorf("login failed: %w", err)
		}
	}
	return s, nil
}

// wiki returns the session of this invocation, opening it on first use.
func (a *app) wiki(ctx context.Context) (*wikiapi.Session, error) {
	if a.session != nil {
		return a.session, nil
	}
	s, err := openSession(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, err
	}
	a.session = s
	return s, nil
}

// print writes v in the selected output format. Values go through JSON
// first so both formats use the same field names.
func (a *app) print(v any) error {
	if a.format == "json" {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	enc := yaml.NewEncoder(a.out)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}

func main() {
	root := newRootCmd(os.Stdout)
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
