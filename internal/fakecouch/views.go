package fakecouch

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// viewParams are the supported view query options.
type viewParams struct {
	limit       int // -1 means unlimited
	skip        int
	descending  bool
	includeDocs bool
	key         *string
	startKey    *string
	endKey      *string
}

func parseViewParams(q url.Values) (viewParams, error) {
	p := viewParams{limit: -1}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, fmt.Errorf("invalid value for integer: %q", v)
		}
		p.limit = n
	}
	if v := q.Get("skip"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, fmt.Errorf("invalid value for integer: %q", v)
		}
		p.skip = n
	}

	var err error
	if p.descending, err = parseBool(q, "descending"); err != nil {
		return p, err
	}
	if p.includeDocs, err = parseBool(q, "include_docs"); err != nil {
		return p, err
	}

	for _, k := range []struct {
		names []string
		dst   **string
	}{
		{[]string{"key"}, &p.key},
		{[]string{"startkey", "start_key"}, &p.startKey},
		{[]string{"endkey", "end_key"}, &p.endKey},
	} {
		for _, name := range k.names {
			v := q.Get(name)
			if v == "" {
				continue
			}
			var s string
			if err := json.Unmarshal([]byte(v), &s); err != nil {
				return p, fmt.Errorf("invalid JSON for %s: only string keys are supported", name)
			}
			*k.dst = &s
		}
	}

	return p, nil
}

func parseBool(q url.Values, name string) (bool, error) {
	v := q.Get(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid boolean parameter %s: %q", name, v)
	}
	return b, nil
}

// apply orders, filters and pages index rows.
func (p viewParams) apply(rows []row) ([]row, int) {
	if p.descending {
		for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
			rows[i], rows[j] = rows[j], rows[i]
		}
	}

	filtered := rows[:0:0]
	for _, r := range rows {
		if p.key != nil && r.id != *p.key {
			continue
		}
		if p.startKey != nil {
			if (!p.descending && r.id < *p.startKey) || (p.descending && r.id > *p.startKey) {
				continue
			}
		}
		if p.endKey != nil {
			if (!p.descending && r.id > *p.endKey) || (p.descending && r.id < *p.endKey) {
				continue
			}
		}
		filtered = append(filtered, r)
	}

	offset := p.skip
	if offset > len(filtered) {
		offset = len(filtered)
	}
	filtered = filtered[offset:]
	if p.limit >= 0 && p.limit < len(filtered) {
		filtered = filtered[:p.limit]
	}
	return filtered, offset
}

// AllDocs handles GET /{db}/_all_docs
func (s *Server) AllDocs(w http.ResponseWriter, r *http.Request) {
	p, err := parseViewParams(r.URL.Query())
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	rows, err := s.store.index(param(r, "db"), true)
	if err != nil {
		writeError(w, err)
		return
	}
	total := len(rows)
	page, offset := p.apply(rows)

	out := make([]map[string]any, 0, len(page))
	for _, row := range page {
		item := map[string]any{"id": row.id, "key": row.id, "value": map[string]string{"rev": row.rev}}
		if p.includeDocs {
			item["doc"] = row.doc
		}
		out = append(out, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"total_rows": total, "offset": offset, "rows": out})
}

// QueryView handles GET /{db}/_design/{ddoc}/_view/{view}
func (s *Server) QueryView(w http.ResponseWriter, r *http.Request) {
	s.runView(w, r, param(r, "ddoc"), param(r, "view"), r.URL.Query())
}

func (s *Server) runView(w http.ResponseWriter, r *http.Request, ddoc, view string, q url.Values) {
	design, err := s.loadDesign(param(r, "db"), ddoc)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, ok := design.Views[view]; !ok {
		writeError(w, &storeErr{http.StatusNotFound, "not_found", "missing_named_view"})
		return
	}

	p, err := parseViewParams(q)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	rows, err := s.store.index(param(r, "db"), false)
	if err != nil {
		writeError(w, err)
		return
	}
	total := len(rows)
	page, offset := p.apply(rows)

	out := make([]map[string]any, 0, len(page))
	for _, row := range page {
		item := map[string]any{"id": row.id, "key": row.id, "value": nil}
		if p.includeDocs {
			item["doc"] = row.doc
		}
		out = append(out, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"total_rows": total, "offset": offset, "rows": out})
}

// Rewrite handles GET /{db}/_design/{ddoc}/_rewrite/* by resolving the
// request path through the design document's rewrite rules.
func (s *Server) Rewrite(w http.ResponseWriter, r *http.Request) {
	ddoc := param(r, "ddoc")
	design, err := s.loadDesign(param(r, "db"), ddoc)
	if err != nil {
		writeError(w, err)
		return
	}

	path := "/" + strings.Trim(param(r, "*"), "/")
	rule, ok := design.match(path, r.Method)
	if !ok {
		writeError(w, &storeErr{http.StatusNotFound, "not_found", "missing_rewrite"})
		return
	}

	view, ok := strings.CutPrefix(rule.To, "_view/")
	if !ok || view == "" || strings.Contains(view, "/") {
		badRequest(w, fmt.Sprintf("unsupported rewrite target %q", rule.To))
		return
	}

	// Rule query parameters override the request's own
	q := r.URL.Query()
	for k, v := range rule.Query {
		q.Set(k, queryString(v))
	}

	s.runView(w, r, ddoc, view, q)
}

type rewriteRule struct {
	From   string         `json:"from"`
	To     string         `json:"to"`
	Method string         `json:"method"`
	Query  map[string]any `json:"query"`
}

type designDoc struct {
	Views    map[string]json.RawMessage `json:"views"`
	Rewrites []rewriteRule              `json:"rewrites"`
}

// match returns the first rule whose from pattern matches path. A trailing
// "*" matches any suffix.
func (d *designDoc) match(path, method string) (rewriteRule, bool) {
	for _, rule := range d.Rewrites {
		if rule.Method != "" && rule.Method != "*" && !strings.EqualFold(rule.Method, method) {
			continue
		}
		from := rule.From
		if prefix, ok := strings.CutSuffix(from, "*"); ok {
			if strings.HasPrefix(path, prefix) || path == strings.TrimSuffix(prefix, "/") {
				return rule, true
			}
			continue
		}
		if "/"+strings.Trim(from, "/") == path {
			return rule, true
		}
	}
	return rewriteRule{}, false
}

func (s *Server) loadDesign(dbName, ddoc string) (*designDoc, error) {
	doc, _, err := s.store.get(dbName, "_design/"+ddoc)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var d designDoc
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, &storeErr{http.StatusInternalServerError, "invalid_design_doc", err.Error()}
	}
	return &d, nil
}

func queryString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		raw, _ := json.Marshal(t)
		return string(raw)
	}
}
