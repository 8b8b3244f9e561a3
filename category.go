package wikiapi

import (
	"context"
	"slices"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"cgt.name/pkg/go-wikiapi/params"
)

// CategoryTreeOptions configure CategoryTree.
type CategoryTreeOptions struct {
	// Depth is how many levels of sub-categories below the root are
	// expanded. Zero lists the root only, naming its sub-categories
	// without their members.
	Depth int
	// Namespace restricts the members listed, besides sub-categories.
	Namespace []int
	// SubcategoriesOnly skips members that are not categories.
	SubcategoriesOnly bool
	// MaxThreads bounds the categories listed concurrently (4).
	MaxThreads int
}

// CategoryTree is a category with its members and sub-categories.
// Sub-categories below the requested depth, and categories reached a
// second time, are present but not Expanded.
type CategoryTree struct {
	Title         string
	Expanded      bool
	Members       []ListItem
	Subcategories map[string]*CategoryTree
}

// SubcategoryNames returns the names of the direct sub-categories,
// without namespace, sorted.
func (t *CategoryTree) SubcategoryNames() []string {
	names := make([]string, 0, len(t.Subcategories))
	for name := range t.Subcategories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AllMembers returns the members of the tree and all expanded
// sub-trees, each page once.
func (t *CategoryTree) AllMembers() []ListItem {
	var out []ListItem
	seen := map[string]bool{}
	t.walk(func(c *CategoryTree) {
		for _, m := range c.Members {
			if !seen[m.Title] {
				seen[m.Title] = true
				out = append(out, m)
			}
		}
	})
	return out
}

// AllSubcategories returns the titles of every category below the root.
func (t *CategoryTree) AllSubcategories() []string {
	var out []string
	seen := map[string]bool{t.Title: true}
	t.walk(func(c *CategoryTree) {
		for _, name := range c.SubcategoryNames() {
			sub := c.Subcategories[name]
			if !seen[sub.Title] {
				seen[sub.Title] = true
				out = append(out, sub.Title)
			}
		}
	})
	return out
}

func (t *CategoryTree) walk(fn func(*CategoryTree)) {
	fn(t)
	for _, name := range t.SubcategoryNames() {
		if sub := t.Subcategories[name]; sub.Expanded {
			sub.walk(fn)
		}
	}
}

// CategoryTree lists a category and its sub-categories down to
// opts.Depth, one level at a time. Categories already visited are not
// listed again, so cycles in the category graph terminate.
func (s *Session) CategoryTree(ctx context.Context, root string, opts CategoryTreeOptions) (*CategoryTree, error) {
	if !s.IsNamespace(root, NSCategory) {
		root = s.ToNamespace(root, NSCategory)
	}
	root = s.NormalizeTitle(root)
	threads := opts.MaxThreads
	if threads <= 0 {
		threads = 4
	}

	tree := &CategoryTree{Title: root}
	visited := map[string]bool{root: true}
	level := []*CategoryTree{tree}

	for depth := 0; len(level) > 0; depth++ {
		var mu sync.Mutex
		var next []*CategoryTree

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(threads)
		for _, node := range level {
			g.Go(func() error {
				subs, err := s.expandCategory(gctx, node, opts)
				if err != nil {
					return err
				}
				if depth >= opts.Depth {
					return nil
				}
				mu.Lock()
				defer mu.Unlock()
				for _, sub := range subs {
					if !visited[sub.Title] {
						visited[sub.Title] = true
						next = append(next, sub)
					}
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		sort.Slice(next, func(i, j int) bool { return next[i].Title < next[j].Title })
		level = next
	}
	s.logger.Debug("category tree listed", "root", root, "depth", opts.Depth)
	return tree, nil
}

// expandCategory lists the members of one category and returns its
// sub-categories.
func (s *Session) expandCategory(ctx context.Context, node *CategoryTree, opts CategoryTreeOptions) ([]*CategoryTree, error) {
	node.Expanded = true
	node.Subcategories = map[string]*CategoryTree{}
	lo := ListOptions{Extra: params.Values{"cmprop": "ids|title|type|timestamp"}}
	if opts.SubcategoriesOnly {
		lo.Extra.Set("cmtype", "subcat")
	}
	var subs []*CategoryTree
	err := s.For(ctx, CategoryMembers, node.Title, func(item ListItem) error {
		if item.NS == NSCategory {
			sub := &CategoryTree{Title: item.Title}
			node.Subcategories[s.RemoveNamespace(item.Title)] = sub
			subs = append(subs, sub)
			return nil
		}
		if len(opts.Namespace) > 0 && !slices.Contains(opts.Namespace, item.NS) {
			return nil
		}
		node.Members = append(node.Members, item)
		return nil
	}, lo)
	return subs, err
}
