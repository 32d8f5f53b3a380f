// Package fakecouch is an in-memory server speaking the subset of the
// CouchDB HTTP API the sync adapter relies on. It backs the end-to-end tests
// and the couchfake development server.
//
// Views are not evaluated: every view, whatever its map function, behaves
// as an index keyed by document _id over all non-design documents.
package fakecouch

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/cutting-room-floor/backbone-couch/internal/auth"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// Options configures a Server.
type Options struct {
	// Credentials required from clients. The zero value disables auth.
	Credentials auth.Credentials

	// RecreateLag rejects the next N creates of a database after it is
	// deleted with 412 file_exists, like a store whose delete is not yet
	// visible to create.
	RecreateLag int
}

// Server holds dependencies for HTTP handlers
type Server struct {
	store *Store
	opts  Options
}

// New creates a server with an empty store.
func New(opts Options) *Server {
	return &Server{store: NewStore(opts.RecreateLag), opts: opts}
}

// Store exposes the backing store for assertions.
func (s *Server) Store() *Store {
	return s.store
}

// Routes creates the HTTP router with all store endpoints
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(Correlation)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"couchdb": "Welcome", "vendor": map[string]string{"name": "fakecouch"}})
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(s.opts.Credentials))

		r.Route("/{db}", func(r chi.Router) {
			// Database
			r.Put("/", s.CreateDB)
			r.Delete("/", s.DropDB)
			r.Head("/", s.HeadDB)
			r.Get("/", s.GetDB)
			r.Post("/", s.PostDoc)
			r.Get("/_all_docs", s.AllDocs)

			// Design documents, views and rewrites
			r.Get("/_design/{ddoc}/_view/{view}", s.QueryView)
			r.Get("/_design/{ddoc}/_rewrite/*", s.Rewrite)
			r.Get("/_design/{ddoc}", s.GetDoc)
			r.Head("/_design/{ddoc}", s.HeadDoc)
			r.Put("/_design/{ddoc}", s.PutDoc)
			r.Delete("/_design/{ddoc}", s.DeleteDoc)

			// Documents
			r.Get("/{docid}", s.GetDoc)
			r.Head("/{docid}", s.HeadDoc)
			r.Put("/{docid}", s.PutDoc)
			r.Delete("/{docid}", s.DeleteDoc)
		})
	})

	return r
}

// param returns an unescaped URL parameter. chi matches against the raw path
// when the request carries escaped characters such as %2F.
func param(r *http.Request, key string) string {
	v := chi.URLParam(r, key)
	if u, err := url.PathUnescape(v); err == nil {
		return u
	}
	return v
}

// docID resolves the addressed document id for document and design routes.
func docID(r *http.Request) string {
	if ddoc := param(r, "ddoc"); ddoc != "" {
		return "_design/" + ddoc
	}
	return param(r, "docid")
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

// writeError writes a CouchDB-style error body.
func writeError(w http.ResponseWriter, err error) {
	if sErr, ok := err.(*storeErr); ok {
		writeJSON(w, sErr.status, map[string]string{"error": sErr.code, "reason": sErr.reason})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "unknown_error", "reason": err.Error()})
}

func badRequest(w http.ResponseWriter, reason string) {
	writeError(w, &storeErr{http.StatusBadRequest, "bad_request", reason})
}

func setETag(w http.ResponseWriter, rev string) {
	w.Header().Set("ETag", `"`+rev+`"`)
}
