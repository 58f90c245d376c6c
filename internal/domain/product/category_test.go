package product

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTree() *CategoryTree {
	return NewCategoryTree([]Category{
		{ID: "electronics", Name: "Electronics"},
		{ID: "computers", Name: "Computers", ParentID: "electronics"},
		{ID: "laptops", Name: "Laptops", ParentID: "computers"},
		{ID: "clothing", Name: "Clothing"},
	})
}

func TestCategoryTree_Children(t *testing.T) {
	tree := sampleTree()

	roots := tree.Children("")
	assert.Len(t, roots, 2)

	kids := tree.Children("electronics")
	require.Len(t, kids, 1)
	assert.Equal(t, "computers", kids[0].ID)
}

func TestCategoryTree_Path(t *testing.T) {
	tree := sampleTree()

	path, err := tree.Path("laptops")

	require.NoError(t, err)
	require.Len(t, path, 3)
	assert.Equal(t, "electronics", path[0].ID)
	assert.Equal(t, "laptops", path[2].ID)
}

func TestCategoryTree_Reparent(t *testing.T) {
	tree := sampleTree()

	require.NoError(t, tree.Reparent("laptops", "clothing"))

	c, _ := tree.Get("laptops")
	assert.Equal(t, "clothing", c.ParentID)
}

func TestCategoryTree_ReparentRejectsCycle(t *testing.T) {
	tree := sampleTree()

	err := tree.Reparent("electronics", "laptops")

	assert.ErrorIs(t, err, ErrCategoryCycle)
	c, _ := tree.Get("electronics")
	assert.Empty(t, c.ParentID, "cycle attempt must not mutate the tree")
}

func TestCategoryTree_ReparentSelf(t *testing.T) {
	tree := sampleTree()
	assert.ErrorIs(t, tree.Reparent("computers", "computers"), ErrCategoryCycle)
}

func TestCategoryTree_ReparentUnknown(t *testing.T) {
	tree := sampleTree()
	assert.ErrorIs(t, tree.Reparent("nope", ""), ErrCategoryNotFound)
	assert.ErrorIs(t, tree.Reparent("laptops", "nope"), ErrCategoryNotFound)
}
