package wikiapi

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// categoryWiki serves a small category graph with a cycle:
// Root > A > C > Root, Root > B.
func categoryWiki(t *testing.T, requested *[]string) http.HandlerFunc {
	members := map[string]string{
		"Category:Root": `{"ns":0,"title":"Page 1","pageid":1},{"ns":14,"title":"Category:A","pageid":10},{"ns":14,"title":"Category:B","pageid":11}`,
		"Category:A":    `{"ns":0,"title":"Page 2","pageid":2},{"ns":6,"title":"File:X.png","pageid":3},{"ns":14,"title":"Category:C","pageid":12}`,
		"Category:B":    `{"ns":0,"title":"Page 1","pageid":1}`,
		"Category:C":    `{"ns":0,"title":"Page 4","pageid":4},{"ns":14,"title":"Category:Root","pageid":13}`,
	}
	var mu sync.Mutex
	return func(w http.ResponseWriter, r *http.Request) {
		title := r.Form.Get("cmtitle")
		assert.Equal(t, "ids|title|type|timestamp", r.Form.Get("cmprop"))
		mu.Lock()
		*requested = append(*requested, title)
		mu.Unlock()
		body, ok := members[title]
		if !ok {
			t.Errorf("unexpected category %q", title)
		}
		fmt.Fprintf(w, `{"batchcomplete":true,"query":{"categorymembers":[%s]}}`, body)
	}
}

func TestCategoryTree(t *testing.T) {
	var requested []string
	s := newTestSession(t, categoryWiki(t, &requested))

	tree, err := s.CategoryTree(context.Background(), "root", CategoryTreeOptions{Depth: 5, MaxThreads: 2})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Category:Root", "Category:A", "Category:B", "Category:C"}, requested)

	assert.Equal(t, "Category:Root", tree.Title)
	assert.True(t, tree.Expanded)
	assert.Equal(t, []string{"A", "B"}, tree.SubcategoryNames())
	a := tree.Subcategories["A"]
	require.True(t, a.Expanded)
	c := a.Subcategories["C"]
	require.True(t, c.Expanded)
	assert.False(t, c.Subcategories["Root"].Expanded, "a category reached twice is not listed again")

	var titles []string
	for _, m := range tree.AllMembers() {
		titles = append(titles, m.Title)
	}
	assert.ElementsMatch(t, []string{"Page 1", "Page 2", "File:X.png", "Page 4"}, titles)
	assert.ElementsMatch(t, []string{"Category:A", "Category:B", "Category:C"}, tree.AllSubcategories())
}

func TestCategoryTreeDepth(t *testing.T) {
	var requested []string
	s := newTestSession(t, categoryWiki(t, &requested))

	tree, err := s.CategoryTree(context.Background(), "Category:Root", CategoryTreeOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Category:Root"}, requested)
	assert.Equal(t, []string{"A", "B"}, tree.SubcategoryNames())
	assert.False(t, tree.Subcategories["A"].Expanded)

	requested = nil
	tree, err = s.CategoryTree(context.Background(), "Category:Root", CategoryTreeOptions{Depth: 1, Namespace: []int{NSFile}})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Category:Root", "Category:A", "Category:B"}, requested)
	assert.False(t, tree.Subcategories["A"].Subcategories["C"].Expanded)
	members := tree.AllMembers()
	require.Len(t, members, 1)
	assert.Equal(t, "File:X.png", members[0].Title)
}
