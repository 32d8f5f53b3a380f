package backbone

import (
	"context"
	"fmt"
	"strings"

	"github.com/cutting-room-floor/backbone-couch/internal/couch"
)

// Entity is what a model or collection exposes to the adapter.
type Entity interface {
	// ID is the framework id. An empty ID on read selects collection mode.
	ID() string
	// URL resolves the entity's identity: the document _id for models, the
	// logical collection path for collections.
	URL() string
	// Attributes returns a serializable snapshot of the entity's state.
	Attributes() map[string]any
	// Revision is the last revision the entity observed, "" if never saved.
	Revision() couch.Revision
}

// QueryParamer is implemented by collections that pass view options
// (limit, descending, startkey, ...) on read.
type QueryParamer interface {
	QueryParams() map[string]any
}

// Syncer is the persistence hook models and collections call into.
type Syncer interface {
	Do(ctx context.Context, intent Intent, entity Entity) (Result, error)
}

// Model is a minimal entity backed by an attribute map. Its identity is the
// collection path joined with its "id" attribute, e.g. /api/Number/one.
type Model struct {
	Path  string
	attrs map[string]any
}

// NewModel creates a model under the collection path with initial attributes.
func NewModel(path string, attrs map[string]any) *Model {
	m := &Model{Path: path, attrs: make(map[string]any, len(attrs))}
	for k, v := range attrs {
		m.attrs[k] = v
	}
	return m
}

// ModelAt creates a model from its full identity, splitting off the last
// path segment as its id.
func ModelAt(url string) *Model {
	i := strings.LastIndex(url, "/")
	if i < 0 {
		return NewModel("", map[string]any{"id": url})
	}
	return NewModel(url[:i], map[string]any{"id": url[i+1:]})
}

// ID implements Entity. A model without an "id" attribute takes its
// stored _id, such as one the store assigned on create.
func (m *Model) ID() string {
	switch v := m.attrs["id"].(type) {
	case string:
		if v != "" {
			return v
		}
	case nil:
	default:
		return fmt.Sprint(v)
	}
	return m.storedID()
}

func (m *Model) storedID() string {
	id, _ := m.attrs["_id"].(string)
	return id
}

// URL implements Entity. The stored _id wins over the path, and a model
// with no id at all resolves to its collection path.
func (m *Model) URL() string {
	if id := m.storedID(); id != "" {
		return id
	}
	id := m.ID()
	if id == "" {
		return m.Path
	}
	return m.Path + "/" + id
}

// Attributes implements Entity.
func (m *Model) Attributes() map[string]any {
	out := make(map[string]any, len(m.attrs))
	for k, v := range m.attrs {
		out[k] = v
	}
	return out
}

// Revision implements Entity.
func (m *Model) Revision() couch.Revision {
	return couch.Document(m.attrs).Rev()
}

// Get returns one attribute.
func (m *Model) Get(key string) any {
	return m.attrs[key]
}

// Set merges attributes into the model.
func (m *Model) Set(attrs map[string]any) {
	if m.attrs == nil {
		m.attrs = make(map[string]any, len(attrs))
	}
	for k, v := range attrs {
		m.attrs[k] = v
	}
}

// IsNew reports whether the model has never been saved.
func (m *Model) IsNew() bool {
	return m.Revision() == ""
}

// Fetch replaces the model's attributes with the stored document.
func (m *Model) Fetch(ctx context.Context, s Syncer) error {
	res, err := s.Do(ctx, IntentRead, m)
	if err != nil {
		return err
	}
	m.attrs = make(map[string]any, len(res.Document))
	for k, v := range res.Document {
		m.attrs[k] = v
	}
	return nil
}

// Save creates the model if it is new and updates it otherwise, then
// records the new revision.
func (m *Model) Save(ctx context.Context, s Syncer) error {
	intent := IntentUpdate
	if m.IsNew() {
		intent = IntentCreate
	}
	res, err := s.Do(ctx, intent, m)
	if err != nil {
		return err
	}
	if m.attrs == nil {
		m.attrs = make(map[string]any, 2)
	}
	m.attrs["_rev"] = string(res.Rev)
	if _, ok := m.attrs["_id"]; !ok && res.ID != "" {
		m.attrs["_id"] = res.ID
	}
	return nil
}

// Destroy deletes the stored document.
func (m *Model) Destroy(ctx context.Context, s Syncer) error {
	_, err := s.Do(ctx, IntentDelete, m)
	return err
}

// Collection is an ordered set of models read through a view.
type Collection struct {
	Path   string
	Params map[string]any
	Models []*Model
}

// NewCollection creates an empty collection at path.
func NewCollection(path string) *Collection {
	return &Collection{Path: path}
}

// ID implements Entity. Collections never carry an id.
func (c *Collection) ID() string { return "" }

// URL implements Entity.
func (c *Collection) URL() string { return c.Path }

// Attributes implements Entity.
func (c *Collection) Attributes() map[string]any { return nil }

// Revision implements Entity.
func (c *Collection) Revision() couch.Revision { return "" }

// QueryParams implements QueryParamer.
func (c *Collection) QueryParams() map[string]any { return c.Params }

// Fetch replaces the collection's models with the view result, in order.
func (c *Collection) Fetch(ctx context.Context, s Syncer) error {
	res, err := s.Do(ctx, IntentRead, c)
	if err != nil {
		return err
	}
	c.Models = make([]*Model, 0, len(res.Documents))
	for _, doc := range res.Documents {
		c.Models = append(c.Models, NewModel(c.Path, doc))
	}
	return nil
}

// Len returns the number of models.
func (c *Collection) Len() int {
	return len(c.Models)
}
