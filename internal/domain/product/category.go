package product

import "errors"

var (
	ErrCategoryNotFound = errors.New("category not found")
	ErrCategoryCycle    = errors.New("category cannot be its own ancestor")
)

// Category nodes reference their parent by id; the hierarchy is an
// adjacency list, never nested structs.
type Category struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	ParentID string `json:"parentId,omitempty"`
}

// CategoryTree indexes categories by id for parent-chain walks.
type CategoryTree struct {
	byID map[string]Category
}

func NewCategoryTree(categories []Category) *CategoryTree {
	t := &CategoryTree{byID: make(map[string]Category, len(categories))}
	for _, c := range categories {
		t.byID[c.ID] = c
	}
	return t
}

func (t *CategoryTree) Get(id string) (Category, bool) {
	c, ok := t.byID[id]
	return c, ok
}

// Children returns the direct children of a category id ("" for roots).
func (t *CategoryTree) Children(parentID string) []Category {
	var out []Category
	for _, c := range t.byID {
		if c.ParentID == parentID {
			out = append(out, c)
		}
	}
	return out
}

// Reparent moves a category under a new parent, rejecting moves that would
// make the category its own ancestor.
func (t *CategoryTree) Reparent(id, newParentID string) error {
	c, ok := t.byID[id]
	if !ok {
		return ErrCategoryNotFound
	}
	if newParentID != "" {
		if _, ok := t.byID[newParentID]; !ok {
			return ErrCategoryNotFound
		}
		// Walk the new parent's ancestor chain looking for id.
		for cur := newParentID; cur != ""; {
			if cur == id {
				return ErrCategoryCycle
			}
			parent, ok := t.byID[cur]
			if !ok {
				break
			}
			cur = parent.ParentID
		}
	}
	c.ParentID = newParentID
	t.byID[id] = c
	return nil
}

// Path returns the ancestor chain from root to the given category.
func (t *CategoryTree) Path(id string) ([]Category, error) {
	c, ok := t.byID[id]
	if !ok {
		return nil, ErrCategoryNotFound
	}
	var path []Category
	for {
		path = append([]Category{c}, path...)
		if c.ParentID == "" {
			return path, nil
		}
		parent, ok := t.byID[c.ParentID]
		if !ok {
			return path, nil
		}
		c = parent
	}
}
