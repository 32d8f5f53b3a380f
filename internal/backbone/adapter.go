// Package backbone translates the four sync intents of a model/collection
// framework into document store requests, enforcing revision-based
// optimistic concurrency on update.
//
// The adapter keeps no state between calls. Every intent runs as a fresh
// sequence of at most two store round trips:
//
//	read    GET doc            | GET view/rewrite (collections)
//	create  PUT doc            | POST doc (store-assigned ids)
//	update  GET doc → compare _rev → PUT merged doc
//	delete  HEAD doc (ETag)    → DELETE ?rev=
package backbone

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cutting-room-floor/backbone-couch/internal/couch"
	"github.com/rs/zerolog/log"
)

// Intent is one of the abstract operations a framework requests.
type Intent string

const (
	IntentRead   Intent = "read"
	IntentCreate Intent = "create"
	IntentUpdate Intent = "update"
	IntentDelete Intent = "delete"
)

// ParseIntent validates an intent name.
func ParseIntent(s string) (Intent, error) {
	switch i := Intent(strings.ToLower(s)); i {
	case IntentRead, IntentCreate, IntentUpdate, IntentDelete:
		return i, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownIntent, s)
}

var (
	// ErrUnknownIntent is returned for intents other than read/create/update/delete.
	ErrUnknownIntent = errors.New("backbone: unknown sync intent")

	// ErrMissingIdentity is returned when a document-level intent has no URL.
	ErrMissingIdentity = errors.New("backbone: entity has no identity")
)

// UpdatePolicy decides what update does when the pre-fetch finds no document.
type UpdatePolicy int

const (
	// UpdatePropagate fails the update with the fetch error.
	UpdatePropagate UpdatePolicy = iota
	// UpdateCreateMissing writes the entity as a new document when the
	// pre-fetch reports NotFound. Any other fetch error still propagates.
	UpdateCreateMissing
)

// ParseUpdatePolicy parses "propagate" or "create".
func ParseUpdatePolicy(s string) (UpdatePolicy, error) {
	switch strings.ToLower(s) {
	case "", "propagate":
		return UpdatePropagate, nil
	case "create", "create-missing":
		return UpdateCreateMissing, nil
	}
	return 0, fmt.Errorf("backbone: unknown update policy %q", s)
}

// CreateMode selects the store interaction used by create.
type CreateMode int

const (
	// CreatePut writes to the client-assigned identity.
	CreatePut CreateMode = iota
	// CreatePost lets the store assign the identity when the entity has no URL.
	CreatePost
)

// ParseCreateMode parses "put" or "post".
func ParseCreateMode(s string) (CreateMode, error) {
	switch strings.ToLower(s) {
	case "", "put":
		return CreatePut, nil
	case "post":
		return CreatePost, nil
	}
	return 0, fmt.Errorf("backbone: unknown create mode %q", s)
}

// Result is what a successful intent hands back to the framework.
type Result struct {
	Document  couch.Document   // read of a single entity
	Documents []couch.Document // read of a collection, in store order
	ID        string           // create, update, delete
	Rev       couch.Revision   // create, update, delete
}

// DocumentStore is the subset of the document store client the adapter uses.
type DocumentStore interface {
	GetDocument(ctx context.Context, id string) (couch.Document, error)
	GetRevision(ctx context.Context, id string) (couch.Revision, error)
	PutDocument(ctx context.Context, doc couch.Document) (couch.WriteResult, error)
	PostDocument(ctx context.Context, doc couch.Document) (couch.WriteResult, error)
	DeleteDocument(ctx context.Context, id string, rev couch.Revision) (couch.WriteResult, error)
	QueryView(ctx context.Context, path string, params map[string]any) (*couch.ViewResult, error)
}

// Adapter implements the sync hook on top of a DocumentStore.
// It holds no mutable state and is safe for concurrent use.
type Adapter struct {
	store         DocumentStore
	rewritePrefix string // e.g. "_design/backbone/_rewrite"
	viewPath      string // when set, collections read this view instead of a rewrite
	updatePolicy  UpdatePolicy
	createMode    CreateMode
}

// Option customizes an Adapter.
type Option func(*Adapter)

// WithRewritePrefix routes collection reads through another design
// document's rewrites, e.g. "_design/custom/_rewrite".
func WithRewritePrefix(prefix string) Option {
	return func(a *Adapter) {
		a.rewritePrefix = strings.TrimSuffix(strings.TrimPrefix(prefix, "/"), "/")
	}
}

// WithViewPath reads collections from a fixed view, e.g.
// "_design/backbone/_view/all", ignoring the collection URL.
func WithViewPath(path string) Option {
	return func(a *Adapter) {
		a.viewPath = strings.TrimPrefix(path, "/")
	}
}

// WithUpdatePolicy sets the update-when-fetch-fails policy.
func WithUpdatePolicy(p UpdatePolicy) Option {
	return func(a *Adapter) {
		a.updatePolicy = p
	}
}

// WithCreateMode sets how create submits documents.
func WithCreateMode(m CreateMode) Option {
	return func(a *Adapter) {
		a.createMode = m
	}
}

// New creates an adapter. Construct one per database and hand it to the
// models and collections that persist there.
func New(store DocumentStore, opts ...Option) *Adapter {
	a := &Adapter{
		store:         store,
		rewritePrefix: couch.DefaultDesignDoc().RewritePath(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Sync runs intent for entity and invokes exactly one of onSuccess or
// onError, exactly once. Either callback may be nil.
func (a *Adapter) Sync(ctx context.Context, intent Intent, entity Entity, onSuccess func(Result), onError func(error)) {
	res, err := a.Do(ctx, intent, entity)
	if err != nil {
		if onError != nil {
			onError(err)
		}
		return
	}
	if onSuccess != nil {
		onSuccess(res)
	}
}

// Do runs intent for entity and returns its result.
func (a *Adapter) Do(ctx context.Context, intent Intent, entity Entity) (Result, error) {
	logger := log.With().
		Str("intent", string(intent)).
		Str("url", entity.URL()).
		Logger()

	var (
		res Result
		err error
	)
	switch intent {
	case IntentRead:
		res, err = a.read(ctx, entity)
	case IntentCreate:
		res, err = a.create(ctx, entity)
	case IntentUpdate:
		res, err = a.update(ctx, entity)
	case IntentDelete:
		res, err = a.remove(ctx, entity)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownIntent, intent)
	}

	if err != nil {
		logger.Debug().Err(err).Str("kind", couch.KindOf(err).String()).Msg("sync failed")
		return Result{}, err
	}
	logger.Debug().Str("rev", string(res.Rev)).Int("documents", len(res.Documents)).Msg("sync completed")
	return res, nil
}

// read fetches a single document, or a collection through a view when the
// entity has no id.
func (a *Adapter) read(ctx context.Context, entity Entity) (Result, error) {
	if entity.ID() != "" {
		doc, err := a.store.GetDocument(ctx, entity.URL())
		if err != nil {
			return Result{}, err
		}
		return Result{Document: doc, ID: doc.ID(), Rev: doc.Rev()}, nil
	}

	params := map[string]any{}
	if q, ok := entity.(QueryParamer); ok {
		for k, v := range q.QueryParams() {
			params[k] = v
		}
	}

	path := a.viewPath
	if path == "" {
		path = a.rewritePrefix + "/" + strings.TrimPrefix(entity.URL(), "/")
	}
	if _, ok := params["include_docs"]; !ok {
		params["include_docs"] = true
	}

	res, err := a.store.QueryView(ctx, path, params)
	if err != nil {
		return Result{}, err
	}
	docs := res.Documents()
	if len(docs) == 0 {
		return Result{}, &couch.Error{Kind: couch.KindNotFound, Op: "read", ID: entity.URL(), Code: "not_found", Reason: "no results"}
	}
	return Result{Documents: docs}, nil
}

// toDocument snapshots the entity and stamps its identity as _id. An
// entity without an id has no document identity yet, and its URL (a
// collection path) is never used as one.
func toDocument(entity Entity) couch.Document {
	doc := couch.Document(entity.Attributes())
	if doc == nil {
		doc = couch.Document{}
	}
	if entity.ID() == "" {
		delete(doc, "_id")
		return doc
	}
	doc.SetID(entity.URL())
	return doc
}

func (a *Adapter) create(ctx context.Context, entity Entity) (Result, error) {
	doc := toDocument(entity)

	var (
		res couch.WriteResult
		err error
	)
	switch {
	case a.createMode == CreatePost:
		res, err = a.store.PostDocument(ctx, doc)
	case doc.ID() == "":
		return Result{}, ErrMissingIdentity
	default:
		res, err = a.store.PutDocument(ctx, doc)
	}
	if err != nil {
		return Result{}, err
	}

	id := res.ID
	if id == "" {
		id = doc.ID()
	}
	return Result{ID: id, Rev: res.Rev}, nil
}

// update fetches the current document, refuses to write from a stale base,
// and writes the entity's attributes merged over the stored ones.
func (a *Adapter) update(ctx context.Context, entity Entity) (Result, error) {
	if entity.ID() == "" {
		return Result{}, ErrMissingIdentity
	}
	id := entity.URL()

	current, err := a.store.GetDocument(ctx, id)
	switch {
	case err == nil:
		if current.Rev() != entity.Revision() {
			log.Debug().
				Str("url", id).
				Str("clientRev", string(entity.Revision())).
				Str("serverRev", string(current.Rev())).
				Msg("revision mismatch, refusing update")
			return Result{}, &couch.Error{
				Kind:   couch.KindConflict,
				Op:     "update",
				ID:     id,
				Code:   "conflict",
				Reason: "document update conflict",
			}
		}
	case a.updatePolicy == UpdateCreateMissing && couch.IsNotFound(err):
		current = couch.Document{}
	default:
		return Result{}, err
	}

	confirmed := current.Rev()
	merged := current.Clone().Merge(toDocument(entity))
	merged.SetRev(confirmed)

	res, err := a.store.PutDocument(ctx, merged)
	if err != nil {
		return Result{}, err
	}
	return Result{ID: id, Rev: res.Rev}, nil
}

// remove learns the current revision with a metadata-only fetch, since the
// delete request carries no body, then deletes that revision.
func (a *Adapter) remove(ctx context.Context, entity Entity) (Result, error) {
	if entity.ID() == "" {
		return Result{}, ErrMissingIdentity
	}
	id := entity.URL()

	rev, err := a.store.GetRevision(ctx, id)
	if err != nil {
		return Result{}, err
	}

	res, err := a.store.DeleteDocument(ctx, id, rev)
	if err != nil {
		return Result{}, err
	}
	return Result{ID: id, Rev: res.Rev}, nil
}
