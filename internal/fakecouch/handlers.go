package fakecouch

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/cutting-room-floor/backbone-couch/internal/auth"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// CreateDB handles PUT /{db}
func (s *Server) CreateDB(w http.ResponseWriter, r *http.Request) {
	name := param(r, "db")
	if err := s.store.createDB(name); err != nil {
		writeError(w, err)
		return
	}
	log.Ctx(r.Context()).Info().Str("db", name).Msg("database created")
	writeJSON(w, http.StatusCreated, map[string]bool{"ok": true})
}

// DropDB handles DELETE /{db}
func (s *Server) DropDB(w http.ResponseWriter, r *http.Request) {
	name := param(r, "db")
	if err := s.store.dropDB(name); err != nil {
		writeError(w, err)
		return
	}
	log.Ctx(r.Context()).Info().Str("db", name).Msg("database deleted")
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// HeadDB handles HEAD /{db}
func (s *Server) HeadDB(w http.ResponseWriter, r *http.Request) {
	if !s.store.hasDB(param(r, "db")) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetDB handles GET /{db}
func (s *Server) GetDB(w http.ResponseWriter, r *http.Request) {
	info, err := s.store.dbInfo(param(r, "db"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// GetDoc handles GET /{db}/{docid} and GET /{db}/_design/{ddoc}
func (s *Server) GetDoc(w http.ResponseWriter, r *http.Request) {
	doc, rev, err := s.store.get(param(r, "db"), docID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	setETag(w, rev)
	writeJSON(w, http.StatusOK, doc)
}

// HeadDoc handles HEAD /{db}/{docid}. The revision is only in the ETag.
func (s *Server) HeadDoc(w http.ResponseWriter, r *http.Request) {
	_, rev, err := s.store.get(param(r, "db"), docID(r))
	if err != nil {
		if sErr, ok := err.(*storeErr); ok {
			w.WriteHeader(sErr.status)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	setETag(w, rev)
	w.WriteHeader(http.StatusOK)
}

// decodeBody reads a JSON object request body. A null body is rejected.
func decodeBody(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		badRequest(w, "invalid UTF-8 JSON")
		return nil, false
	}
	if body == nil {
		badRequest(w, "Document must be a JSON object")
		return nil, false
	}
	return body, true
}

// PutDoc handles PUT /{db}/{docid} and PUT /{db}/_design/{ddoc}
func (s *Server) PutDoc(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeBody(w, r)
	if !ok {
		return
	}
	if _, ok := body["_rev"]; !ok {
		if rev := r.URL.Query().Get("rev"); rev != "" {
			body["_rev"] = rev
		}
	}

	id := docID(r)
	s.write(w, r, id, body)
}

// PostDoc handles POST /{db}. The store assigns an id when the body has none.
func (s *Server) PostDoc(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeBody(w, r)
	if !ok {
		return
	}

	id, _ := body["_id"].(string)
	if id == "" {
		id = strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	s.write(w, r, id, body)
}

func (s *Server) write(w http.ResponseWriter, r *http.Request, id string, body map[string]any) {
	rev, err := s.store.put(param(r, "db"), id, body)
	if err != nil {
		writeError(w, err)
		return
	}

	log.Ctx(r.Context()).Debug().Str("id", id).Str("rev", rev).Str("user", auth.Subject(r.Context())).Msg("document written")

	setETag(w, rev)
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "id": id, "rev": rev})
}

// DeleteDoc handles DELETE /{db}/{docid}?rev=
func (s *Server) DeleteDoc(w http.ResponseWriter, r *http.Request) {
	rev := r.URL.Query().Get("rev")
	if rev == "" {
		rev = strings.Trim(r.Header.Get("If-Match"), `"`)
	}

	id := docID(r)
	newRev, err := s.store.remove(param(r, "db"), id, rev)
	if err != nil {
		writeError(w, err)
		return
	}

	log.Ctx(r.Context()).Debug().Str("id", id).Str("rev", newRev).Str("user", auth.Subject(r.Context())).Msg("document deleted")

	setETag(w, newRev)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "id": id, "rev": newRev})
}
