package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/antonholmquist/jason"
	"github.com/spf13/cobra"

	wikiapi "cgt.name/pkg/go-wikiapi"
	"cgt.name/pkg/go-wikiapi/params"
	"cgt.name/pkg/go-wikiapi/replica"
)

// pageOutput is what the page command prints.
type pageOutput struct {
	Title        string `json:"title"`
	PageID       int64  `json:"pageid,omitempty"`
	Missing      bool   `json:"missing,omitempty"`
	RedirectFrom string `json:"redirect_from,omitempty"`
	RevID        int64  `json:"revid,omitempty"`
	Timestamp    string `json:"timestamp,omitempty"`
	Wikitext     string `json:"wikitext,omitempty"`
}

func (a *app) pageCmd() *cobra.Command {
	var redirects bool
	cmd := &cobra.Command{
		Use:   "page TITLE",
		Short: "Print the newest revision of a page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.wiki(cmd.Context())
			if err != nil {
				return err
			}
			page, err := s.Page(cmd.Context(), args[0], wikiapi.PageOptions{Redirects: redirects})
			if err != nil {
				return err
			}
			out := pageOutput{
				Title:        page.Title,
				PageID:       page.PageID,
				Missing:      page.Missing,
				RedirectFrom: page.RedirectFrom,
				Timestamp:    page.Timestamp(),
				Wikitext:     page.Wikitext(),
			}
			if len(page.Revisions) > 0 {
				out.RevID = page.Revisions[0].RevID
			}
			return a.print(out)
		},
	}
	cmd.Flags().BoolVar(&redirects, "redirects", false, "follow redirects")
	return cmd
}

func (a *app) editCmd() *cobra.Command {
	var (
		opts     wikiapi.EditOptions
		text     string
		file     string
		appendTo bool
	)
	cmd := &cobra.Command{
		Use:   "edit TITLE",
		Short: "Replace or extend the text of a page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if file != "" {
				b, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				text = string(b)
			}
			if text == "" {
				return fmt.Errorf("no text given; use --text or --file")
			}
			s, err := a.wiki(cmd.Context())
			if err != nil {
				return err
			}
			var content any = text
			if appendTo {
				content = func(page *wikiapi.PageData) (string, error) {
					return strings.TrimRight(page.Wikitext(), "\n") + "\n" + text, nil
				}
			}
			res, err := s.EditPage(cmd.Context(), args[0], content, opts)
			if err != nil {
				return err
			}
			if opts.DryRun {
				_, err := fmt.Fprint(a.out, res.Diff)
				return err
			}
			return a.print(map[string]any{
				"title":     res.Title,
				"saved":     res.Saved(),
				"nochange":  res.NoChange,
				"oldrevid":  res.OldRevID,
				"newrevid":  res.NewRevID,
				"timestamp": res.NewTimestamp,
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&text, "text", "", "new page text")
	f.StringVar(&file, "file", "", "read the new page text from a file")
	f.BoolVar(&appendTo, "append", false, "append the text to the page")
	f.StringVar(&opts.Summary, "summary", "", "edit summary")
	f.BoolVar(&opts.Bot, "bot", false, "mark the edit as a bot edit")
	f.BoolVar(&opts.Minor, "minor", false, "mark the edit as minor")
	f.BoolVar(&opts.NoCreate, "nocreate", false, "fail when the page does not exist")
	f.BoolVar(&opts.DryRun, "dry-run", false, "print the diff instead of saving")
	return cmd
}

// parseParams turns key=value arguments into parameters.
func parseParams(args []string) (params.Values, error) {
	p := params.Values{}
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("argument %q is not key=value", arg)
		}
		p.Set(k, v)
	}
	return p, nil
}

// plain converts an API response into values the encoders understand.
func plain(obj *jason.Object) (any, error) {
	raw, err := obj.Marshal()
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func (a *app) queryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "query KEY=VALUE...",
		Short: "Run an API request and print the answer",
		Long: `Run an API request and print the answer. The action defaults to
query, for example:

  wikiapi query meta=siteinfo siprop=general`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parseParams(args)
			if err != nil {
				return err
			}
			s, err := a.wiki(cmd.Context())
			if err != nil {
				return err
			}
			resp, err := s.Query(cmd.Context(), p)
			if err != nil {
				return err
			}
			v, err := plain(resp)
			if err != nil {
				return err
			}
			return a.print(v)
		},
	}
}

func (a *app) purgeCmd() *cobra.Command {
	var links bool
	cmd := &cobra.Command{
		Use:   "purge TITLE...",
		Short: "Purge the parser cache of pages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.wiki(cmd.Context())
			if err != nil {
				return err
			}
			p := params.Values{}
			p.SetBool("forcelinkupdate", links)
			res, err := s.Purge(cmd.Context(), args, p)
			if err != nil {
				return err
			}
			return a.print(res)
		},
	}
	cmd.Flags().BoolVar(&links, "links", false, "update the links tables too")
	return cmd
}

func (a *app) moveCmd() *cobra.Command {
	var opts wikiapi.MoveOptions
	cmd := &cobra.Command{
		Use:   "move FROM TO",
		Short: "Move a page",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.wiki(cmd.Context())
			if err != nil {
				return err
			}
			res, err := s.MovePage(cmd.Context(), args[0], args[1], opts)
			if err != nil {
				return err
			}
			return a.print(map[string]any{
				"from":     res.From,
				"to":       res.To,
				"talkfrom": res.TalkFrom,
				"talkto":   res.TalkTo,
				"redirect": res.RedirectCreated,
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.Reason, "reason", "", "move reason")
	f.BoolVar(&opts.MoveTalk, "talk", false, "move the talk page too")
	f.BoolVar(&opts.MoveSubpages, "subpages", false, "move the subpages too")
	f.BoolVar(&opts.NoRedirect, "noredirect", false, "do not leave a redirect")
	return cmd
}

func (a *app) searchCmd() *cobra.Command {
	var opts wikiapi.SearchOptions
	cmd := &cobra.Command{
		Use:   "search KEY",
		Short: "Search the wiki and print the titles found",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.wiki(cmd.Context())
			if err != nil {
				return err
			}
			list, err := s.Search(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			return a.print(list.Titles())
		},
	}
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum number of results")
	cmd.Flags().StringVar(&opts.What, "what", "", "text, title or nearmatch")
	cmd.Flags().IntSliceVar(&opts.Namespace, "namespace", nil, "namespaces to search")
	return cmd
}

// treeOutput is a category tree as printed by the category command.
type treeOutput struct {
	Title         string       `json:"title"`
	Members       []string     `json:"members,omitempty"`
	Subcategories []treeOutput `json:"subcategories,omitempty"`
}

func newTreeOutput(t *wikiapi.CategoryTree) treeOutput {
	out := treeOutput{Title: t.Title}
	for _, m := range t.Members {
		out.Members = append(out.Members, m.Title)
	}
	for _, name := range t.SubcategoryNames() {
		sub := t.Subcategories[name]
		if sub.Expanded {
			out.Subcategories = append(out.Subcategories, newTreeOutput(sub))
		} else {
			out.Subcategories = append(out.Subcategories, treeOutput{Title: sub.Title})
		}
	}
	return out
}

func (a *app) categoryCmd() *cobra.Command {
	var opts wikiapi.CategoryTreeOptions
	cmd := &cobra.Command{
		Use:   "category NAME",
		Short: "Print the tree of a category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.wiki(cmd.Context())
			if err != nil {
				return err
			}
			tree, err := s.CategoryTree(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			return a.print(newTreeOutput(tree))
		},
	}
	cmd.Flags().IntVar(&opts.Depth, "depth", 0, "sub-category levels to expand")
	cmd.Flags().BoolVar(&opts.SubcategoriesOnly, "subcats", false, "list sub-categories only")
	return cmd
}

func (a *app) sparqlCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "sparql [QUERY]",
		Short: "Run a SPARQL SELECT query",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var query string
			switch {
			case file != "":
				b, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				query = string(b)
			case len(args) == 1:
				query = args[0]
			default:
				return fmt.Errorf("no query given")
			}
			s, err := a.wiki(cmd.Context())
			if err != nil {
				return err
			}
			res, err := s.SPARQL(cmd.Context(), query, wikiapi.SPARQLOptions{})
			if err != nil {
				return err
			}
			rows := make([]map[string]string, len(res.Rows))
			for i, row := range res.Rows {
				rows[i] = make(map[string]string, len(row))
				for name, b := range row {
					rows[i][name] = b.Value
				}
			}
			return a.print(rows)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "read the query from a file")
	return cmd
}

func (a *app) dataCmd() *cobra.Command {
	var (
		props    []string
		language string
	)
	cmd := &cobra.Command{
		Use:   "data KEY",
		Short: "Print a Wikidata entity",
		Long: `Print a Wikidata entity. KEY is an entity ID such as Q42, or the
title of a page of the configured wiki.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.wiki(cmd.Context())
			if err != nil {
				return err
			}
			var key any = args[0]
			if language != "" {
				key = [2]string{language, args[0]}
			}
			e, err := s.Data(cmd.Context(), key, props...)
			if err != nil {
				return err
			}
			return a.print(e)
		},
	}
	cmd.Flags().StringSliceVar(&props, "props", nil, "entity parts to fetch (labels, claims, ...)")
	cmd.Flags().StringVar(&language, "label", "", "look KEY up as a label in this language")
	return cmd
}

func (a *app) sqlCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "sql QUERY",
		Short: "Run a query against the configured replica",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.wiki(cmd.Context())
			if err != nil {
				return err
			}
			var rows []replica.Row
			_, err = s.RunSQL(cmd.Context(), args[0], func(row replica.Row) error {
				rows = append(rows, row)
				if limit > 0 && len(rows) >= limit {
					return wikiapi.ErrStop
				}
				return nil
			})
			if err != nil {
				return err
			}
			return a.print(rows)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of rows")
	return cmd
}

func (a *app) uploadCmd() *cobra.Command {
	var file wikiapi.FileData
	cmd := &cobra.Command{
		Use:   "upload PATH|URL",
		Short: "Upload a local file or a file at a URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.Contains(args[0], "://") {
				file.MediaURL = args[0]
			} else {
				file.FilePath = args[0]
			}
			s, err := a.wiki(cmd.Context())
			if err != nil {
				return err
			}
			res, err := s.Upload(cmd.Context(), file)
			if err != nil {
				return err
			}
			return a.print(map[string]string{"result": res.Result, "filename": res.Filename})
		},
	}
	f := cmd.Flags()
	f.StringVar(&file.Filename, "name", "", "file name on the wiki")
	f.StringVar(&file.Comment, "comment", "", "upload comment")
	f.StringVar(&file.Text, "text", "", "description page text")
	f.StringSliceVar(&file.Categories, "category", nil, "categories of the file")
	f.BoolVar(&file.IgnoreWarnings, "force", false, "ignore warnings such as an existing file")
	return cmd
}

func (a *app) downloadCmd() *cobra.Command {
	var opts wikiapi.DownloadOptions
	cmd := &cobra.Command{
		Use:   "download FILE|CATEGORY",
		Short: "Download a file or the files of a category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.wiki(cmd.Context())
			if err != nil {
				return err
			}
			files, err := s.Download(cmd.Context(), args[0], opts)
			if perr := a.print(files); perr != nil {
				return perr
			}
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.Directory, "dir", ".", "target directory")
	f.IntVar(&opts.Depth, "depth", 0, "category levels to expand")
	f.IntVar(&opts.Width, "width", 0, "width of a scaled rendition")
	f.BoolVar(&opts.Reget, "reget", false, "download files that exist locally")
	f.IntVar(&opts.MaxThreads, "threads", 4, "concurrent downloads")
	return cmd
}

// changeLine formats a recent change for the listen command.
func changeLine(item wikiapi.ListItem) string {
	ts := item.Timestamp
	if t, err := time.Parse(time.RFC3339, ts); err == nil {
		ts = t.Format("15:04:05")
	}
	return fmt.Sprintf("%s %-4s %s (%s) %s", ts, item.Type, item.Title, item.User, item.Comment)
}
