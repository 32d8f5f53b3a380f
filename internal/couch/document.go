package couch

import (
	"encoding/json"
	"strings"
)

// Revision is the opaque token the store assigns on every successful write.
// Clients compare revisions for equality and never interpret them.
type Revision string

// Document is the JSON attribute mapping of one document, including the
// store-managed _id and _rev fields.
type Document map[string]any

// ID returns the document's _id, or "" when unset.
func (d Document) ID() string {
	id, _ := d["_id"].(string)
	return id
}

// Rev returns the document's _rev, or "" when unset.
func (d Document) Rev() Revision {
	switch v := d["_rev"].(type) {
	case string:
		return Revision(v)
	case Revision:
		return v
	}
	return ""
}

// SetID stamps the document's _id.
func (d Document) SetID(id string) {
	d["_id"] = id
}

// SetRev stamps the document's _rev. An empty revision removes the field so
// the store treats the write as a create.
func (d Document) SetRev(rev Revision) {
	if rev == "" {
		delete(d, "_rev")
		return
	}
	d["_rev"] = string(rev)
}

// Clone returns a shallow copy of the document.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Merge copies every attribute of src over d. Keys in src win on collision.
func (d Document) Merge(src map[string]any) Document {
	for k, v := range src {
		d[k] = v
	}
	return d
}

// WriteResult is the store's acknowledgement of a PUT, POST or DELETE.
type WriteResult struct {
	OK  bool     `json:"ok"`
	ID  string   `json:"id"`
	Rev Revision `json:"rev"`
}

// ViewResult is the body of a view (or rewritten view) query.
type ViewResult struct {
	TotalRows int       `json:"total_rows"`
	Offset    int       `json:"offset"`
	Rows      []ViewRow `json:"rows"`
}

// ViewRow is a single row of a view result. Doc is only present when the
// query asked for include_docs.
type ViewRow struct {
	ID    string          `json:"id"`
	Key   json.RawMessage `json:"key,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
	Doc   Document        `json:"doc,omitempty"`
}

// Documents returns the embedded documents of all rows in result order.
// Rows without a document are skipped.
func (r *ViewResult) Documents() []Document {
	if r == nil {
		return nil
	}
	docs := make([]Document, 0, len(r.Rows))
	for _, row := range r.Rows {
		if row.Doc != nil {
			docs = append(docs, row.Doc)
		}
	}
	return docs
}

// revisionFromETag strips the quotes CouchDB puts around the ETag value.
func revisionFromETag(etag string) Revision {
	etag = strings.TrimPrefix(etag, "W/")
	return Revision(strings.Trim(etag, `"`))
}
