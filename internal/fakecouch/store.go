package fakecouch

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// storeErr is a CouchDB error response.
type storeErr struct {
	status int
	code   string
	reason string
}

func (e *storeErr) Error() string {
	return fmt.Sprintf("%d %s: %s", e.status, e.code, e.reason)
}

var (
	errDBMissing  = &storeErr{404, "not_found", "Database does not exist."}
	errDocMissing = &storeErr{404, "not_found", "missing"}
	errDocDeleted = &storeErr{404, "not_found", "deleted"}
	errConflict   = &storeErr{409, "conflict", "Document update conflict."}
	errDBExists   = &storeErr{412, "file_exists", "The database could not be created, the file already exists."}
)

type docEntry struct {
	body    map[string]any
	rev     string
	gen     int
	deleted bool
}

type database struct {
	docs map[string]*docEntry
}

// Store is the in-memory state behind the fake server. It is safe for
// concurrent use.
type Store struct {
	mu          sync.Mutex
	dbs         map[string]*database
	recreateLag int
	pending     map[string]int // creates left to reject after a delete
	writes      int
}

// NewStore creates an empty store. recreateLag is the number of database
// creates rejected with file_exists after the database is deleted.
func NewStore(recreateLag int) *Store {
	return &Store{
		dbs:         make(map[string]*database),
		recreateLag: recreateLag,
		pending:     make(map[string]int),
	}
}

// Writes returns the number of successful document writes and deletes.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func newRev(gen int) string {
	return strconv.Itoa(gen) + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (s *Store) createDB(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.dbs[name]; ok {
		return errDBExists
	}
	if s.pending[name] > 0 {
		s.pending[name]--
		return errDBExists
	}
	s.dbs[name] = &database{docs: make(map[string]*docEntry)}
	return nil
}

func (s *Store) dropDB(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.dbs[name]; !ok {
		return &storeErr{404, "not_found", "missing"}
	}
	delete(s.dbs, name)
	if s.recreateLag > 0 {
		s.pending[name] = s.recreateLag
	}
	return nil
}

func (s *Store) hasDB(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.dbs[name]
	return ok
}

func (s *Store) dbInfo(name string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, ok := s.dbs[name]
	if !ok {
		return nil, errDBMissing
	}
	count := 0
	for _, d := range db.docs {
		if !d.deleted {
			count++
		}
	}
	return map[string]any{"db_name": name, "doc_count": count}, nil
}

// get returns a copy of the document body with _id and _rev.
func (s *Store) get(dbName, id string) (map[string]any, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, ok := s.dbs[dbName]
	if !ok {
		return nil, "", errDBMissing
	}
	entry, ok := db.docs[id]
	if !ok {
		return nil, "", errDocMissing
	}
	if entry.deleted {
		return nil, "", errDocDeleted
	}
	return entry.snapshot(id), entry.rev, nil
}

func (e *docEntry) snapshot(id string) map[string]any {
	out := make(map[string]any, len(e.body)+2)
	for k, v := range e.body {
		out[k] = v
	}
	out["_id"] = id
	out["_rev"] = e.rev
	return out
}

// put writes body under id. The body's _rev must match the current revision
// of an existing document and must be absent for a new (or deleted) one.
func (s *Store) put(dbName, id string, body map[string]any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, ok := s.dbs[dbName]
	if !ok {
		return "", errDBMissing
	}

	rev, _ := body["_rev"].(string)
	entry, exists := db.docs[id]
	gen := 1
	switch {
	case exists && !entry.deleted:
		if rev != entry.rev {
			return "", errConflict
		}
		gen = entry.gen + 1
	case exists && entry.deleted:
		if rev != "" && rev != entry.rev {
			return "", errConflict
		}
		gen = entry.gen + 1
	default:
		if rev != "" {
			return "", errConflict
		}
	}

	stored := make(map[string]any, len(body))
	for k, v := range body {
		if k == "_id" || k == "_rev" {
			continue
		}
		stored[k] = v
	}

	newEntry := &docEntry{body: stored, rev: newRev(gen), gen: gen}
	db.docs[id] = newEntry
	s.writes++
	return newEntry.rev, nil
}

func (s *Store) remove(dbName, id, rev string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, ok := s.dbs[dbName]
	if !ok {
		return "", errDBMissing
	}
	entry, ok := db.docs[id]
	if !ok || entry.deleted {
		return "", errDocMissing
	}
	if rev != entry.rev {
		return "", errConflict
	}

	entry.gen++
	entry.rev = newRev(entry.gen)
	entry.deleted = true
	entry.body = nil
	s.writes++
	return entry.rev, nil
}

// row is one entry of an _id-keyed index.
type row struct {
	id  string
	rev string
	doc map[string]any
}

// index lists the live documents of a database ordered by _id. Design
// documents are included only when withDesign is set.
func (s *Store) index(dbName string, withDesign bool) ([]row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, ok := s.dbs[dbName]
	if !ok {
		return nil, errDBMissing
	}
	rows := make([]row, 0, len(db.docs))
	for id, entry := range db.docs {
		if entry.deleted {
			continue
		}
		if !withDesign && strings.HasPrefix(id, "_design/") {
			continue
		}
		rows = append(rows, row{id: id, rev: entry.rev, doc: entry.snapshot(id)})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].id < rows[j].id })
	return rows, nil
}
