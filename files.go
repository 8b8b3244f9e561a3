package wikiapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/antonholmquist/jason"
	"golang.org/x/sync/errgroup"

	"cgt.name/pkg/go-wikiapi/metrics"
	"cgt.name/pkg/go-wikiapi/mwclient"
	"cgt.name/pkg/go-wikiapi/params"
)

// Information holds the fields of the {{Information}} template placed on
// the description page of an uploaded file.
type Information struct {
	Description   string
	Date          string
	Source        string
	Author        string
	Permission    string
	OtherVersions string
	OtherFields   string
}

// FileData describes a file to upload. Either FilePath, Content or
// MediaURL must be set.
type FileData struct {
	// FilePath is a local file read when Content is nil.
	FilePath string
	Content  []byte
	// MediaURL lets the wiki fetch the file itself (upload by URL).
	MediaURL string
	// Filename is the name on the wiki, without namespace. It defaults
	// to the base name of FilePath or MediaURL.
	Filename string
	Comment  string

	// Text is the description page. When Information is set, the page is
	// built from it together with License, AdditionalText and
	// Categories instead.
	Text           string
	Information    *Information
	License        []string
	AdditionalText string
	Categories     []string

	// IgnoreWarnings overwrites an existing file.
	IgnoreWarnings bool
	Bot            bool
	Tags           []string
	Extra          params.Values
}

func (f FileData) filename() string {
	if f.Filename != "" {
		return f.Filename
	}
	if f.FilePath != "" {
		return filepath.Base(f.FilePath)
	}
	if u, err := url.Parse(f.MediaURL); err == nil && u.Path != "" {
		name, err := url.PathUnescape(path.Base(u.Path))
		if err == nil {
			return name
		}
	}
	return ""
}

// pageText builds the description page of the file.
func (f FileData) pageText() string {
	if f.Information == nil {
		if len(f.License) == 0 && f.AdditionalText == "" && len(f.Categories) == 0 {
			return f.Text
		}
	}
	var b strings.Builder
	if f.Information != nil {
		info := f.Information
		b.WriteString("== {{int:filedesc}} ==\n{{Information\n")
		for _, field := range [][2]string{
			{"description", info.Description},
			{"date", info.Date},
			{"source", info.Source},
			{"author", info.Author},
			{"permission", info.Permission},
			{"other versions", info.OtherVersions},
			{"other fields", info.OtherFields},
		} {
			fmt.Fprintf(&b, "|%s=%s\n", field[0], field[1])
		}
		b.WriteString("}}\n")
	} else if f.Text != "" {
		b.WriteString(strings.TrimRight(f.Text, "\n"))
		b.WriteString("\n")
	}
	if len(f.License) > 0 {
		b.WriteString("\n== {{int:license-header}} ==\n")
		for _, l := range f.License {
			b.WriteString(l)
			b.WriteString("\n")
		}
	}
	if f.AdditionalText != "" {
		b.WriteString("\n")
		b.WriteString(strings.TrimRight(f.AdditionalText, "\n"))
		b.WriteString("\n")
	}
	if len(f.Categories) > 0 {
		b.WriteString("\n")
		for _, c := range f.Categories {
			if !strings.HasPrefix(c, "[[") {
				c = "[[Category:" + strings.TrimPrefix(c, "Category:") + "]]"
			}
			b.WriteString(c)
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// UploadResult is the answer of a successful upload.
type UploadResult struct {
	Result   string
	Filename string
	Raw      *jason.Object
}

// Upload uploads a file. A file that already exists, or any other
// upload warning, makes the upload fail with an *EditError of code
// "upload-warning" unless IgnoreWarnings is set.
func (s *Session) Upload(ctx context.Context, file FileData) (*UploadResult, error) {
	name := file.filename()
	if name == "" {
		return nil, errors.New("upload: no file name")
	}
	name = s.RemoveNamespace(s.ToNamespace(name, NSFile))
	content := file.Content
	if content == nil && file.MediaURL == "" {
		if file.FilePath == "" {
			return nil, errors.New("upload: no file content, path or URL")
		}
		var err error
		if content, err = os.ReadFile(file.FilePath); err != nil {
			return nil, fmt.Errorf("upload: %w", err)
		}
	}

	api := s.API()
	token, err := api.GetToken(ctx, mwclient.CSRFToken)
	if err != nil {
		return nil, fmt.Errorf("unable to obtain csrf token: %w", err)
	}
	p := params.Values{"action": "upload", "filename": name, "token": token}
	if file.Comment != "" {
		p.Set("comment", file.Comment)
	}
	if text := file.pageText(); text != "" {
		p.Set("text", text)
	}
	p.SetBool("ignorewarnings", file.IgnoreWarnings)
	p.SetBool("bot", file.Bot)
	if len(file.Tags) > 0 {
		p.AddRange("tags", file.Tags...)
	}
	p = params.Merge(s.defaults, p, file.Extra)
	p.Del("summary")

	var resp *jason.Object
	if content == nil {
		p.Set("url", file.MediaURL)
		resp, err = api.Post(ctx, p)
	} else {
		resp, err = api.PostFile(ctx, p, "file", name, content)
	}
	title := s.ToNamespace(name, NSFile)
	if err != nil && !mwclient.IsWarnings(err) {
		metrics.RecordEdit("upload", "failure")
		return nil, editError(title, resp, err)
	}

	up, err := resp.GetObject("upload")
	if err != nil {
		metrics.RecordEdit("upload", "failure")
		return nil, &EditError{Title: title, Code: "invalid-response", Info: "no upload object in the answer", Result: resp, Err: err}
	}
	res := &UploadResult{Raw: up, Filename: name}
	res.Result, _ = up.GetString("result")
	if fn, err := up.GetString("filename"); err == nil {
		res.Filename = fn
	}
	switch res.Result {
	case "Success":
	case "Warning":
		metrics.RecordEdit("upload", "warning")
		var codes []string
		if w, err := up.GetObject("warnings"); err == nil {
			for code := range w.Map() {
				codes = append(codes, code)
			}
		}
		sort.Strings(codes)
		return nil, &EditError{Title: title, Code: "upload-warning", Info: strings.Join(codes, ", "), Result: up}
	default:
		metrics.RecordEdit("upload", "failure")
		return nil, &EditError{Title: title, Code: strings.ToLower(res.Result), Result: up}
	}
	metrics.RecordEdit("upload", "success")
	s.logger.Info("file uploaded", "title", title)
	return res, nil
}

// DownloadOptions configure Download.
type DownloadOptions struct {
	// Directory receives the files; the default is the working
	// directory. Categories are mirrored as sub-directories.
	Directory string
	// FileName replaces the local name of a single file.
	FileName string
	// Width and Height request a scaled rendition, which is also how a
	// raster version of a vector file is obtained.
	Width  int
	Height int
	// Reget downloads files that already exist locally.
	Reget bool
	// MaxThreads bounds the concurrent downloads (4).
	MaxThreads int
	// Depth is the category depth expanded for category targets.
	Depth int
	// NoCategoryTree downloads the files of a category without
	// sub-directories or sub-categories.
	NoCategoryTree bool
	// PageFilter, when set, selects the files to download.
	PageFilter func(ListItem) bool
}

// DownloadedFile describes one file handled by Download.
type DownloadedFile struct {
	Title   string
	Path    string
	URL     string
	Size    int64
	Mime    string
	Skipped bool
}

type downloadJob struct {
	item ListItem
	dir  string
}

// Download saves files to the local disk. target is a file title, a
// category title, a *PageData, a ListItem, a *PageList or a slice of
// titles or list items. Files that fail are reported together in a
// *DownloadError after the others were downloaded.
func (s *Session) Download(ctx context.Context, target any, opts DownloadOptions) ([]DownloadedFile, error) {
	dir := opts.Directory
	if dir == "" {
		dir = "."
	}
	jobs, err := s.downloadJobs(ctx, target, dir, opts)
	if err != nil {
		return nil, err
	}
	if opts.PageFilter != nil {
		jobs = slices.DeleteFunc(jobs, func(j downloadJob) bool { return !opts.PageFilter(j.item) })
	}
	if len(jobs) == 0 {
		return nil, nil
	}

	infos := map[string]mwclient.ImageInfo{}
	for start := 0; start < len(jobs); start += 50 {
		end := min(start+50, len(jobs))
		titles := make([]string, 0, end-start)
		for _, j := range jobs[start:end] {
			titles = append(titles, j.item.Title)
		}
		if err := s.imageInfo(ctx, titles, opts, infos); err != nil {
			return nil, err
		}
	}

	threads := opts.MaxThreads
	if threads <= 0 {
		threads = 4
	}
	var (
		mu     sync.Mutex
		failed []string
		errs   []error
	)
	files := make([]DownloadedFile, len(jobs))
	var g errgroup.Group
	g.SetLimit(threads)
	for i, job := range jobs {
		g.Go(func() error {
			info, ok := infos[job.item.Title]
			var f DownloadedFile
			var err error
			if !ok {
				err = fmt.Errorf("%q: %w", job.item.Title, ErrPageMissing)
			} else {
				name := localName(job.item.Title, s.RemoveNamespace(job.item.Title))
				if opts.FileName != "" && len(jobs) == 1 {
					name = opts.FileName
				}
				f, err = s.downloadFile(ctx, job, info, filepath.Join(job.dir, name), opts.Reget)
			}
			if err != nil {
				s.logger.Warn("download failed", "title", job.item.Title, "error", err)
				mu.Lock()
				failed = append(failed, job.item.Title)
				errs = append(errs, err)
				mu.Unlock()
				return nil
			}
			files[i] = f
			return nil
		})
	}
	_ = g.Wait()

	if len(failed) > 0 {
		sort.Strings(failed)
		done := files[:0]
		for _, f := range files {
			if f.Title != "" {
				done = append(done, f)
			}
		}
		return done, &DownloadError{ErrorTitles: failed, Err: errors.Join(errs...)}
	}
	return files, nil
}

// localName turns a file name into a name safe for the local disk.
func localName(title, name string) string {
	if name == "" {
		name = title
	}
	return strings.NewReplacer("/", "_", "\\", "_", " ", "_").Replace(name)
}

func (s *Session) downloadJobs(ctx context.Context, target any, dir string, opts DownloadOptions) ([]downloadJob, error) {
	var jobs []downloadJob
	addTitle := func(title string) {
		if !s.IsNamespace(title, NSFile) {
			title = s.ToNamespace(title, NSFile)
		}
		jobs = append(jobs, downloadJob{item: ListItem{Title: s.NormalizeTitle(title), NS: NSFile}, dir: dir})
	}
	switch t := target.(type) {
	case string:
		if s.IsNamespace(t, NSCategory) {
			return s.categoryJobs(ctx, t, dir, opts)
		}
		addTitle(t)
	case *PageData:
		addTitle(t.Title)
	case ListItem:
		jobs = append(jobs, downloadJob{item: t, dir: dir})
	case *PageList:
		for _, item := range t.Items {
			jobs = append(jobs, downloadJob{item: item, dir: dir})
		}
	case []ListItem:
		for _, item := range t {
			jobs = append(jobs, downloadJob{item: item, dir: dir})
		}
	case []string:
		for _, title := range t {
			addTitle(title)
		}
	default:
		return nil, fmt.Errorf("unsupported download target of type %T", target)
	}
	return jobs, nil
}

func (s *Session) categoryJobs(ctx context.Context, category, dir string, opts DownloadOptions) ([]downloadJob, error) {
	depth := opts.Depth
	if opts.NoCategoryTree {
		depth = 0
	}
	tree, err := s.CategoryTree(ctx, category, CategoryTreeOptions{
		Depth:      depth,
		Namespace:  []int{NSFile},
		MaxThreads: opts.MaxThreads,
	})
	if err != nil {
		return nil, err
	}
	var jobs []downloadJob
	seen := map[string]bool{}
	var walk func(t *CategoryTree, dir string)
	walk = func(t *CategoryTree, dir string) {
		for _, m := range t.Members {
			if !seen[m.Title] {
				seen[m.Title] = true
				jobs = append(jobs, downloadJob{item: m, dir: dir})
			}
		}
		if opts.NoCategoryTree {
			return
		}
		for _, name := range t.SubcategoryNames() {
			if sub := t.Subcategories[name]; sub.Expanded {
				walk(sub, filepath.Join(dir, localName(sub.Title, name)))
			}
		}
	}
	walk(tree, dir)
	return jobs, nil
}

// imageInfo fetches the URLs of files into infos, keyed by title.
func (s *Session) imageInfo(ctx context.Context, titles []string, opts DownloadOptions, infos map[string]mwclient.ImageInfo) error {
	p := params.Values{
		"prop":   "imageinfo",
		"iiprop": "url|size|mime|sha1|timestamp",
	}
	if opts.Width > 0 {
		p.SetInt("iiurlwidth", int64(opts.Width))
	}
	if opts.Height > 0 {
		p.SetInt("iiurlheight", int64(opts.Height))
	}
	p.AddRange("titles", titles...)
	resp, err := s.API().GetPages(ctx, p)
	if err != nil && !mwclient.IsWarnings(err) {
		return err
	}
	byTitle := map[string]mwclient.ImageInfo{}
	for _, pg := range resp.Query.Pages {
		if len(pg.ImageInfo) > 0 {
			byTitle[pg.Title] = pg.ImageInfo[0]
		}
	}
	for _, title := range titles {
		if info, ok := byTitle[resp.Resolve(title)]; ok {
			infos[title] = info
		}
	}
	return nil
}

func (s *Session) downloadFile(ctx context.Context, job downloadJob, info mwclient.ImageInfo, dest string, reget bool) (DownloadedFile, error) {
	f := DownloadedFile{Title: job.item.Title, Path: dest, URL: info.URL, Size: info.Size, Mime: info.Mime}
	if info.ThumbURL != "" {
		f.URL = info.ThumbURL
		f.Size = 0
	}
	if !reget {
		if st, err := os.Stat(dest); err == nil && (f.Size == 0 || st.Size() == f.Size) {
			f.Skipped = true
			return f, nil
		}
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return f, err
	}

	api := s.API()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return f, err
	}
	req.Header.Set("User-Agent", api.UserAgent)
	resp, err := api.HTTPClient().Do(req)
	if err != nil {
		return f, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return f, fmt.Errorf("GET %s: %s", f.URL, resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return f, err
	}
	n, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return f, err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return f, err
	}
	f.Size = n
	s.logger.Debug("file downloaded", "title", f.Title, "path", dest, "bytes", n)
	return f, nil
}
