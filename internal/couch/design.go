package couch

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultDesignID is the design document the sync adapter installs and
// rewrites collection reads through.
const DefaultDesignID = "_design/backbone"

// ErrInvalidDesign indicates a design document without a "_design/" id.
var ErrInvalidDesign = errors.New("couch: design document _id must start with \"_design/\"")

// View is a named map (and optional reduce) function of a design document.
type View struct {
	Map    string `json:"map" yaml:"map"`
	Reduce string `json:"reduce,omitempty" yaml:"reduce,omitempty"`
}

// Rewrite maps a logical request path to a view invocation with fixed
// query parameters.
type Rewrite struct {
	From   string         `json:"from" yaml:"from"`
	To     string         `json:"to" yaml:"to"`
	Method string         `json:"method,omitempty" yaml:"method,omitempty"`
	Query  map[string]any `json:"query,omitempty" yaml:"query,omitempty"`
}

// DesignDoc is a store-side set of views and rewrite rules.
type DesignDoc struct {
	ID       string          `json:"_id" yaml:"_id"`
	Rev      Revision        `json:"_rev,omitempty" yaml:"_rev,omitempty"`
	Language string          `json:"language,omitempty" yaml:"language,omitempty"`
	Views    map[string]View `json:"views,omitempty" yaml:"views,omitempty"`
	Rewrites []Rewrite       `json:"rewrites,omitempty" yaml:"rewrites,omitempty"`
}

// DesignSource produces a design document to install.
type DesignSource interface {
	Design() (*DesignDoc, error)
}

// Design implements DesignSource.
func (d *DesignDoc) Design() (*DesignDoc, error) {
	return d, d.Validate()
}

// DesignFile is a path to a JSON or YAML design document.
type DesignFile string

// Design implements DesignSource by loading the file.
func (f DesignFile) Design() (*DesignDoc, error) {
	return LoadDesignFile(string(f))
}

// Name returns the design document name without its "_design/" prefix.
func (d *DesignDoc) Name() string {
	return strings.TrimPrefix(d.ID, designPrefix)
}

// Validate checks the design document id.
func (d *DesignDoc) Validate() error {
	if !strings.HasPrefix(d.ID, designPrefix) || d.Name() == "" {
		return fmt.Errorf("%w: got %q", ErrInvalidDesign, d.ID)
	}
	return nil
}

// Document converts the design document into a generic Document.
func (d *DesignDoc) Document() (Document, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("couch: failed to marshal design document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("couch: failed to convert design document: %w", err)
	}
	return doc, nil
}

// RewritePath returns the path through which logical collection URLs are
// rewritten, e.g. "_design/backbone/_rewrite".
func (d *DesignDoc) RewritePath() string {
	return designPrefix + d.Name() + "/_rewrite"
}

// LoadDesignFile reads a design document from a .json, .yaml or .yml file.
func LoadDesignFile(path string) (*DesignDoc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("couch: failed to read design document: %w", err)
	}

	var d DesignDoc
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &d); err != nil {
			return nil, fmt.Errorf("couch: invalid design document %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, fmt.Errorf("couch: invalid design document %s: %w", path, err)
		}
	}

	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// DefaultDesignDoc lists every document through a single view and rewrites
// any logical collection path onto it.
func DefaultDesignDoc() *DesignDoc {
	return &DesignDoc{
		ID:       DefaultDesignID,
		Language: "javascript",
		Views: map[string]View{
			"all": {
				Map: "function(doc) { if (doc._id.indexOf('_design/') !== 0) { emit(doc._id, null); } }",
			},
		},
		Rewrites: []Rewrite{
			{
				From:  "/*",
				To:    "_view/all",
				Query: map[string]any{"include_docs": "true"},
			},
		},
	}
}
