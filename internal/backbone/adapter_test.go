package backbone

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cutting-room-floor/backbone-couch/internal/couch"
)

// mockStore records every call and answers from its fields.
type mockStore struct {
	calls []string

	doc    couch.Document
	getErr error

	rev    couch.Revision
	revErr error

	putDoc couch.Document
	putRes couch.WriteResult
	putErr error

	postDoc couch.Document

	delRev couch.Revision
	delErr error

	viewPath   string
	viewParams map[string]any
	view       *couch.ViewResult
	viewErr    error

	createErrs []error
	dropErr    error
	designs    []couch.DesignSource
}

func (m *mockStore) GetDocument(_ context.Context, id string) (couch.Document, error) {
	m.calls = append(m.calls, "GET "+id)
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.doc.Clone(), nil
}

func (m *mockStore) GetRevision(_ context.Context, id string) (couch.Revision, error) {
	m.calls = append(m.calls, "HEAD "+id)
	return m.rev, m.revErr
}

func (m *mockStore) PutDocument(_ context.Context, doc couch.Document) (couch.WriteResult, error) {
	m.calls = append(m.calls, "PUT "+doc.ID())
	m.putDoc = doc
	return m.putRes, m.putErr
}

func (m *mockStore) PostDocument(_ context.Context, doc couch.Document) (couch.WriteResult, error) {
	m.calls = append(m.calls, "POST")
	m.postDoc = doc
	return m.putRes, m.putErr
}

func (m *mockStore) DeleteDocument(_ context.Context, id string, rev couch.Revision) (couch.WriteResult, error) {
	m.calls = append(m.calls, "DELETE "+id)
	m.delRev = rev
	if m.delErr != nil {
		return couch.WriteResult{}, m.delErr
	}
	return couch.WriteResult{OK: true, ID: id, Rev: "9-deleted"}, nil
}

func (m *mockStore) QueryView(_ context.Context, path string, params map[string]any) (*couch.ViewResult, error) {
	m.calls = append(m.calls, "VIEW "+path)
	m.viewPath = path
	m.viewParams = params
	return m.view, m.viewErr
}

func (m *mockStore) CreateDatabase(context.Context) error {
	m.calls = append(m.calls, "CREATE")
	if len(m.createErrs) == 0 {
		return nil
	}
	err := m.createErrs[0]
	m.createErrs = m.createErrs[1:]
	return err
}

func (m *mockStore) DropDatabase(context.Context) error {
	m.calls = append(m.calls, "DROP")
	return m.dropErr
}

func (m *mockStore) InstallDesignDocs(_ context.Context, sources []couch.DesignSource) error {
	m.calls = append(m.calls, "DESIGN")
	m.designs = sources
	return nil
}

func (m *mockStore) wrote() bool {
	for _, c := range m.calls {
		if strings.HasPrefix(c, "PUT") || strings.HasPrefix(c, "POST") || strings.HasPrefix(c, "DELETE") {
			return true
		}
	}
	return false
}

func notFound(id string) error {
	return &couch.Error{Kind: couch.KindNotFound, Op: "get", ID: id, Status: 404, Code: "not_found", Reason: "missing"}
}

func TestReadDocument(t *testing.T) {
	store := &mockStore{doc: couch.Document{"_id": "/api/Number/one", "_rev": "1-a", "number": 1.0}}
	a := New(store)

	res, err := a.Do(context.Background(), IntentRead, ModelAt("/api/Number/one"))
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if res.Document["number"] != 1.0 {
		t.Errorf("expected number=1, got %v", res.Document["number"])
	}
	if res.Rev != "1-a" {
		t.Errorf("expected rev 1-a, got %s", res.Rev)
	}
	if len(store.calls) != 1 || store.calls[0] != "GET /api/Number/one" {
		t.Errorf("unexpected calls: %v", store.calls)
	}
}

func TestReadDocumentNotFound(t *testing.T) {
	store := &mockStore{getErr: notFound("/api/Number/nine")}
	_, err := New(store).Do(context.Background(), IntentRead, ModelAt("/api/Number/nine"))
	if !errors.Is(err, couch.ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestReadCollection(t *testing.T) {
	view := &couch.ViewResult{Rows: []couch.ViewRow{
		{ID: "/api/Number/three", Doc: couch.Document{"_id": "/api/Number/three"}},
		{ID: "/api/Number/two", Doc: couch.Document{"_id": "/api/Number/two"}},
	}}

	tests := []struct {
		name     string
		opts     []Option
		params   map[string]any
		wantPath string
	}{
		{
			name:     "default rewrite",
			wantPath: "_design/backbone/_rewrite/api/Number",
		},
		{
			name:     "custom rewrite prefix",
			opts:     []Option{WithRewritePrefix("/_design/custom/_rewrite/")},
			wantPath: "_design/custom/_rewrite/api/Number",
		},
		{
			name:     "fixed view",
			opts:     []Option{WithViewPath("_design/backbone/_view/all")},
			params:   map[string]any{"limit": 2, "descending": true},
			wantPath: "_design/backbone/_view/all",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &mockStore{view: view}
			coll := NewCollection("/api/Number")
			coll.Params = tt.params

			res, err := New(store, tt.opts...).Do(context.Background(), IntentRead, coll)
			if err != nil {
				t.Fatalf("read failed: %v", err)
			}
			if store.viewPath != tt.wantPath {
				t.Errorf("expected path %s, got %s", tt.wantPath, store.viewPath)
			}
			if store.viewParams["include_docs"] != true {
				t.Errorf("expected include_docs=true, got %v", store.viewParams["include_docs"])
			}
			for k, v := range tt.params {
				if store.viewParams[k] != v {
					t.Errorf("expected param %s=%v, got %v", k, v, store.viewParams[k])
				}
			}
			if len(res.Documents) != 2 || res.Documents[0].ID() != "/api/Number/three" {
				t.Errorf("unexpected documents: %v", res.Documents)
			}
		})
	}
}

func TestReadCollectionEmpty(t *testing.T) {
	store := &mockStore{view: &couch.ViewResult{}}
	_, err := New(store).Do(context.Background(), IntentRead, NewCollection("/api/Empty"))
	if !couch.IsNotFound(err) {
		t.Fatalf("expected NotFound for empty collection, got %v", err)
	}
}

func TestReadCollectionQueryFailure(t *testing.T) {
	store := &mockStore{viewErr: &couch.Error{Kind: couch.KindNotFound, Code: "not_found", Reason: "missing_named_view"}}
	_, err := New(store).Do(context.Background(), IntentRead, NewCollection("/api/Number"))
	if !couch.IsNotFound(err) {
		t.Fatalf("expected query error to propagate, got %v", err)
	}
}

func TestCreate(t *testing.T) {
	t.Run("put to identity", func(t *testing.T) {
		store := &mockStore{putRes: couch.WriteResult{OK: true, ID: "/api/Number/one", Rev: "1-a"}}
		m := NewModel("/api/Number", map[string]any{"id": "one", "number": 1})

		res, err := New(store).Do(context.Background(), IntentCreate, m)
		if err != nil {
			t.Fatalf("create failed: %v", err)
		}
		if res.Rev != "1-a" || res.ID != "/api/Number/one" {
			t.Errorf("unexpected result: %+v", res)
		}
		if store.putDoc.ID() != "/api/Number/one" {
			t.Errorf("expected _id=/api/Number/one, got %s", store.putDoc.ID())
		}
		if store.putDoc["number"] != 1 {
			t.Errorf("expected attributes in body, got %v", store.putDoc)
		}
	})

	t.Run("post without identity", func(t *testing.T) {
		store := &mockStore{putRes: couch.WriteResult{OK: true, ID: "abc123", Rev: "1-a"}}
		m := NewModel("", map[string]any{"number": 7})

		res, err := New(store, WithCreateMode(CreatePost)).Do(context.Background(), IntentCreate, m)
		if err != nil {
			t.Fatalf("create failed: %v", err)
		}
		if res.ID != "abc123" {
			t.Errorf("expected store assigned id, got %s", res.ID)
		}
		if _, ok := store.postDoc["_id"]; ok {
			t.Errorf("expected no _id in posted body, got %v", store.postDoc)
		}
	})

	t.Run("post under a collection path", func(t *testing.T) {
		store := &mockStore{putRes: couch.WriteResult{OK: true, ID: "abc123", Rev: "1-a"}}
		a := New(store, WithCreateMode(CreatePost))
		m := NewModel("/api/Number", map[string]any{"name": "a"})

		if err := m.Save(context.Background(), a); err != nil {
			t.Fatalf("save failed: %v", err)
		}
		if _, ok := store.postDoc["_id"]; ok {
			t.Errorf("expected no _id in posted body, got %v", store.postDoc)
		}
		if m.URL() != "abc123" || m.ID() != "abc123" {
			t.Errorf("expected the store assigned identity, got url=%s id=%s", m.URL(), m.ID())
		}

		store.calls = nil
		store.doc = couch.Document{"_id": "abc123", "_rev": "1-a", "name": "a"}
		store.putRes = couch.WriteResult{OK: true, ID: "abc123", Rev: "2-b"}
		m.Set(map[string]any{"name": "b"})
		if err := m.Save(context.Background(), a); err != nil {
			t.Fatalf("update failed: %v", err)
		}
		want := []string{"GET abc123", "PUT abc123"}
		if len(store.calls) != len(want) || store.calls[0] != want[0] || store.calls[1] != want[1] {
			t.Errorf("expected calls %v, got %v", want, store.calls)
		}
		if m.Revision() != "2-b" {
			t.Errorf("expected rev 2-b, got %s", m.Revision())
		}
	})

	t.Run("put under a collection path without id", func(t *testing.T) {
		store := &mockStore{}
		_, err := New(store).Do(context.Background(), IntentCreate, NewModel("/api/Number", map[string]any{"name": "a"}))
		if !errors.Is(err, ErrMissingIdentity) {
			t.Fatalf("expected ErrMissingIdentity, got %v", err)
		}
		if store.wrote() {
			t.Errorf("expected no write, got %v", store.calls)
		}
	})

	t.Run("put without identity", func(t *testing.T) {
		store := &mockStore{}
		_, err := New(store).Do(context.Background(), IntentCreate, NewModel("", nil))
		if !errors.Is(err, ErrMissingIdentity) {
			t.Fatalf("expected ErrMissingIdentity, got %v", err)
		}
		if store.wrote() {
			t.Errorf("expected no write, got %v", store.calls)
		}
	})

	t.Run("duplicate", func(t *testing.T) {
		store := &mockStore{putErr: &couch.Error{Kind: couch.KindConflict, Status: 409, Code: "conflict", Reason: "Document update conflict."}}
		_, err := New(store).Do(context.Background(), IntentCreate, ModelAt("/api/Number/one"))
		if !couch.IsConflict(err) {
			t.Fatalf("expected Conflict, got %v", err)
		}
	})
}

func TestUpdate(t *testing.T) {
	stored := couch.Document{"_id": "/api/Number/one", "_rev": "1-a", "number": 1.0, "label": "uno"}

	t.Run("matching revision merges and writes", func(t *testing.T) {
		store := &mockStore{doc: stored, putRes: couch.WriteResult{OK: true, ID: "/api/Number/one", Rev: "2-b"}}
		m := NewModel("/api/Number", map[string]any{"id": "one", "_rev": "1-a", "number": 2})

		res, err := New(store).Do(context.Background(), IntentUpdate, m)
		if err != nil {
			t.Fatalf("update failed: %v", err)
		}
		if res.Rev != "2-b" {
			t.Errorf("expected rev 2-b, got %s", res.Rev)
		}
		if store.putDoc["number"] != 2 {
			t.Errorf("expected client value to win, got %v", store.putDoc["number"])
		}
		if store.putDoc["label"] != "uno" {
			t.Errorf("expected stored field to survive merge, got %v", store.putDoc["label"])
		}
		if store.putDoc.Rev() != "1-a" {
			t.Errorf("expected confirmed rev 1-a, got %s", store.putDoc.Rev())
		}
	})

	t.Run("stale revision is refused without a write", func(t *testing.T) {
		store := &mockStore{doc: stored}
		m := NewModel("/api/Number", map[string]any{"id": "one", "_rev": "0-stale", "number": 2})

		_, err := New(store).Do(context.Background(), IntentUpdate, m)
		if !couch.IsConflict(err) {
			t.Fatalf("expected Conflict, got %v", err)
		}
		var cErr *couch.Error
		if !errors.As(err, &cErr) || cErr.Reason != "document update conflict" {
			t.Errorf("expected reason 'document update conflict', got %v", err)
		}
		if store.wrote() {
			t.Errorf("expected no write, got %v", store.calls)
		}
	})

	t.Run("missing revision on existing document conflicts", func(t *testing.T) {
		store := &mockStore{doc: stored}
		_, err := New(store).Do(context.Background(), IntentUpdate, ModelAt("/api/Number/one"))
		if !couch.IsConflict(err) {
			t.Fatalf("expected Conflict, got %v", err)
		}
	})

	t.Run("fetch failure propagates by default", func(t *testing.T) {
		store := &mockStore{getErr: notFound("/api/Number/one")}
		_, err := New(store).Do(context.Background(), IntentUpdate, ModelAt("/api/Number/one"))
		if !couch.IsNotFound(err) {
			t.Fatalf("expected NotFound, got %v", err)
		}
		if store.wrote() {
			t.Errorf("expected no write, got %v", store.calls)
		}
	})

	t.Run("create missing policy writes without revision", func(t *testing.T) {
		store := &mockStore{getErr: notFound("/api/Number/one"), putRes: couch.WriteResult{OK: true, Rev: "1-c"}}
		m := NewModel("/api/Number", map[string]any{"id": "one", "_rev": "3-old", "number": 5})

		res, err := New(store, WithUpdatePolicy(UpdateCreateMissing)).Do(context.Background(), IntentUpdate, m)
		if err != nil {
			t.Fatalf("update failed: %v", err)
		}
		if res.Rev != "1-c" {
			t.Errorf("expected rev 1-c, got %s", res.Rev)
		}
		if _, ok := store.putDoc["_rev"]; ok {
			t.Errorf("expected no _rev on write, got %v", store.putDoc["_rev"])
		}
	})

	t.Run("create missing policy still propagates other errors", func(t *testing.T) {
		store := &mockStore{getErr: &couch.Error{Kind: couch.KindTransport, Op: "get"}}
		_, err := New(store, WithUpdatePolicy(UpdateCreateMissing)).Do(context.Background(), IntentUpdate, ModelAt("/api/Number/one"))
		if couch.KindOf(err) != couch.KindTransport {
			t.Fatalf("expected Transport, got %v", err)
		}
		if store.wrote() {
			t.Errorf("expected no write, got %v", store.calls)
		}
	})
}

func TestDelete(t *testing.T) {
	t.Run("deletes current revision", func(t *testing.T) {
		store := &mockStore{rev: "4-d"}
		res, err := New(store).Do(context.Background(), IntentDelete, ModelAt("/api/Number/one"))
		if err != nil {
			t.Fatalf("delete failed: %v", err)
		}
		if store.delRev != "4-d" {
			t.Errorf("expected delete of rev 4-d, got %s", store.delRev)
		}
		if res.Rev != "9-deleted" {
			t.Errorf("unexpected rev %s", res.Rev)
		}
		want := []string{"HEAD /api/Number/one", "DELETE /api/Number/one"}
		if len(store.calls) != 2 || store.calls[0] != want[0] || store.calls[1] != want[1] {
			t.Errorf("expected calls %v, got %v", want, store.calls)
		}
	})

	t.Run("missing document fails without delete", func(t *testing.T) {
		store := &mockStore{revErr: notFound("/api/Number/gone")}
		_, err := New(store).Do(context.Background(), IntentDelete, ModelAt("/api/Number/gone"))
		if !couch.IsNotFound(err) {
			t.Fatalf("expected NotFound, got %v", err)
		}
		if store.wrote() {
			t.Errorf("expected no DELETE, got %v", store.calls)
		}
	})
}

func TestUnknownIntent(t *testing.T) {
	store := &mockStore{}
	_, err := New(store).Do(context.Background(), Intent("patch"), ModelAt("/a/b"))
	if !errors.Is(err, ErrUnknownIntent) {
		t.Fatalf("expected ErrUnknownIntent, got %v", err)
	}
	if len(store.calls) != 0 {
		t.Errorf("expected no store calls, got %v", store.calls)
	}
}

func TestSyncCallbacksExactlyOnce(t *testing.T) {
	tests := []struct {
		name        string
		store       *mockStore
		wantSuccess int
		wantError   int
	}{
		{
			name:        "success",
			store:       &mockStore{doc: couch.Document{"_id": "/a/b", "_rev": "1-a"}},
			wantSuccess: 1,
		},
		{
			name:      "error",
			store:     &mockStore{getErr: notFound("/a/b")},
			wantError: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var successes, failures int
			New(tt.store).Sync(context.Background(), IntentRead, ModelAt("/a/b"),
				func(Result) { successes++ },
				func(error) { failures++ },
			)
			if successes != tt.wantSuccess || failures != tt.wantError {
				t.Errorf("expected %d/%d callbacks, got %d/%d", tt.wantSuccess, tt.wantError, successes, failures)
			}
		})
	}

	t.Run("nil callbacks", func(t *testing.T) {
		a := New(&mockStore{getErr: notFound("/a/b")})
		a.Sync(context.Background(), IntentRead, ModelAt("/a/b"), nil, nil)
	})
}

func TestParseOptions(t *testing.T) {
	if p, err := ParseUpdatePolicy("create"); err != nil || p != UpdateCreateMissing {
		t.Errorf("expected UpdateCreateMissing, got %v, %v", p, err)
	}
	if p, err := ParseUpdatePolicy(""); err != nil || p != UpdatePropagate {
		t.Errorf("expected UpdatePropagate default, got %v, %v", p, err)
	}
	if _, err := ParseUpdatePolicy("retry"); err == nil {
		t.Error("expected error for unknown policy")
	}
	if m, err := ParseCreateMode("POST"); err != nil || m != CreatePost {
		t.Errorf("expected CreatePost, got %v, %v", m, err)
	}
	if i, err := ParseIntent("Delete"); err != nil || i != IntentDelete {
		t.Errorf("expected IntentDelete, got %v, %v", i, err)
	}
	if _, err := ParseIntent("patch"); !errors.Is(err, ErrUnknownIntent) {
		t.Errorf("expected ErrUnknownIntent, got %v", err)
	}
}

func TestModelZeroValue(t *testing.T) {
	store := &mockStore{putRes: couch.WriteResult{OK: true, ID: "/api/Number/one", Rev: "1-a"}}
	m := &Model{Path: "/api/Number"}
	m.Set(map[string]any{"id": "one"})
	if m.URL() != "/api/Number/one" {
		t.Fatalf("expected /api/Number/one, got %s", m.URL())
	}
	if err := m.Save(context.Background(), New(store)); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if m.Revision() != "1-a" {
		t.Errorf("expected rev 1-a, got %s", m.Revision())
	}
}

func TestModelSaveWithoutAttributes(t *testing.T) {
	store := &mockStore{putRes: couch.WriteResult{OK: true, ID: "abc123", Rev: "1-a"}}
	m := &Model{Path: "/api/Number"}
	if err := m.Save(context.Background(), New(store, WithCreateMode(CreatePost))); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if m.URL() != "abc123" || m.Revision() != "1-a" {
		t.Errorf("unexpected model state url=%s rev=%s", m.URL(), m.Revision())
	}
}
