// Package backendtest provides an in-memory backend for tests.
//
// Server speaks enough of the REST and RPC surface used by package backend
// to exercise clients end to end: eq/neq/gt/gte/lt/lte/in/is filters,
// ordering, limits, inserts, patches, deletes and registered procedures.
// Comparisons are done on the string form of values.
package backendtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
)

const (
	restPrefix = "/rest/v1/"
	rpcPrefix  = "/rest/v1/rpc/"
)

// Row is one stored record.
type Row = map[string]any

// RPCFunc implements a procedure. A returned error is answered with HTTP
// 400 and the error text as the message.
type RPCFunc func(args map[string]any) (any, error)

// Failure is an error response injected for one method and resource.
type Failure struct {
	Status  int
	Code    string
	Message string
	Hint    string
}

// Request is a recorded request.
type Request struct {
	Method   string
	Resource string
	Query    url.Values
	Body     []byte
	Header   http.Header
}

// Server is an in-memory backend.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	tables    map[string][]Row
	rpcs      map[string]RPCFunc
	failures  map[string]Failure
	requests  []Request
	onRequest func(Request)
	nextID    int
}

// NewServer starts a Server. Callers must Close it.
func NewServer() *Server {
	s := &Server{
		tables:   make(map[string][]Row),
		rpcs:     make(map[string]RPCFunc),
		failures: make(map[string]Failure),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// Seed appends rows to table. Rows may be maps or JSON-encodable structs.
func (s *Server) Seed(table string, rows ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		s.tables[table] = append(s.tables[table], toRow(r))
	}
}

// Rows returns a copy of table.
func (s *Server) Rows(table string) []Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Row, len(s.tables[table]))
	for i, r := range s.tables[table] {
		out[i] = copyRow(r)
	}
	return out
}

// HandleRPC registers a procedure.
func (s *Server) HandleRPC(name string, fn RPCFunc) {
	s.mu.Lock()
	s.rpcs[name] = fn
	s.mu.Unlock()
}

// Fail makes every method request on resource (a table or procedure name)
// answer with f until Recover is called.
func (s *Server) Fail(method, resource string, f Failure) {
	if f.Status == 0 {
		f.Status = http.StatusBadRequest
	}
	s.mu.Lock()
	s.failures[method+" "+resource] = f
	s.mu.Unlock()
}

// Recover removes an injected failure.
func (s *Server) Recover(method, resource string) {
	s.mu.Lock()
	delete(s.failures, method+" "+resource)
	s.mu.Unlock()
}

// OnRequest installs a hook called before each request is answered.
func (s *Server) OnRequest(fn func(Request)) {
	s.mu.Lock()
	s.onRequest = fn
	s.mu.Unlock()
}

// Requests returns the recorded requests.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Count returns how many method requests reached resource.
func (s *Server) Count(method, resource string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.requests {
		if r.Method == method && r.Resource == resource {
			n++
		}
	}
	return n
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	isRPC := strings.HasPrefix(r.URL.Path, rpcPrefix)
	resource := strings.TrimPrefix(r.URL.Path, restPrefix)
	if isRPC {
		resource = strings.TrimPrefix(r.URL.Path, rpcPrefix)
	}
	req := Request{Method: r.Method, Resource: resource, Query: r.URL.Query(), Body: body, Header: r.Header.Clone()}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	hook := s.onRequest
	failure, failing := s.failures[r.Method+" "+resource]
	s.mu.Unlock()

	if hook != nil {
		hook(req)
	}
	if failing {
		writeJSON(w, failure.Status, map[string]string{"code": failure.Code, "message": failure.Message, "hint": failure.Hint})
		return
	}

	switch {
	case isRPC && r.Method == http.MethodPost:
		s.serveRPC(w, resource, body)
	case resource == "" && r.Method == http.MethodHead:
		w.WriteHeader(http.StatusOK)
	case resource == "":
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "not found"})
	case r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, s.selectRows(resource, req.Query))
	case r.Method == http.MethodPost:
		rows, err := s.insert(resource, body)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"code": "PGRST102", "message": err.Error()})
			return
		}
		writeJSON(w, http.StatusCreated, rows)
	case r.Method == http.MethodPatch:
		rows, err := s.update(resource, req.Query, body)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"code": "PGRST102", "message": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, rows)
	case r.Method == http.MethodDelete:
		s.remove(resource, req.Query)
		w.WriteHeader(http.StatusNoContent)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"message": "method not allowed"})
	}
}

func (s *Server) serveRPC(w http.ResponseWriter, name string, body []byte) {
	s.mu.Lock()
	fn, ok := s.rpcs[name]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"code": "PGRST202", "message": "Could not find the function public." + name})
		return
	}
	args := map[string]any{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &args); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"code": "PGRST102", "message": err.Error()})
			return
		}
	}
	out, err := fn(args)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"code": "P0001", "message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) selectRows(table string, q url.Values) []Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Row{}
	for _, r := range s.tables[table] {
		if matches(r, q) {
			out = append(out, copyRow(r))
		}
	}
	if order := q.Get("order"); order != "" {
		col, dir, _ := strings.Cut(strings.Split(order, ",")[0], ".")
		sort.SliceStable(out, func(i, j int) bool {
			a, b := str(out[i][col]), str(out[j][col])
			if dir == "desc" {
				return a > b
			}
			return a < b
		})
	}
	if off, _ := strconv.Atoi(q.Get("offset")); off > 0 {
		if off > len(out) {
			off = len(out)
		}
		out = out[off:]
	}
	if limit, _ := strconv.Atoi(q.Get("limit")); limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

func (s *Server) insert(table string, body []byte) ([]Row, error) {
	var rows []Row
	if err := json.Unmarshal(body, &rows); err != nil {
		var one Row
		if err := json.Unmarshal(body, &one); err != nil {
			return nil, fmt.Errorf("invalid body: %w", err)
		}
		rows = []Row{one}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		if id, _ := r["id"].(string); id == "" {
			s.nextID++
			r["id"] = fmt.Sprintf("%s-%d", table, s.nextID)
		}
		s.tables[table] = append(s.tables[table], r)
		out = append(out, copyRow(r))
	}
	return out, nil
}

func (s *Server) update(table string, q url.Values, body []byte) ([]Row, error) {
	var patch Row
	if err := json.Unmarshal(body, &patch); err != nil {
		return nil, fmt.Errorf("invalid body: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Row{}
	for _, r := range s.tables[table] {
		if !matches(r, q) {
			continue
		}
		for k, v := range patch {
			r[k] = v
		}
		out = append(out, copyRow(r))
	}
	return out, nil
}

func (s *Server) remove(table string, q url.Values) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.tables[table][:0]
	for _, r := range s.tables[table] {
		if !matches(r, q) {
			kept = append(kept, r)
		}
	}
	s.tables[table] = kept
}

var reserved = map[string]bool{"select": true, "order": true, "limit": true, "offset": true}

func matches(r Row, q url.Values) bool {
	for col, conds := range q {
		if reserved[col] {
			continue
		}
		for _, c := range conds {
			if !matchOne(r[col], c) {
				return false
			}
		}
	}
	return true
}

func matchOne(v any, cond string) bool {
	op, arg, _ := strings.Cut(cond, ".")
	s := str(v)
	switch op {
	case "eq":
		return v != nil && s == arg
	case "neq":
		return s != arg
	case "gt":
		return s > arg
	case "gte":
		return s >= arg
	case "lt":
		return s < arg
	case "lte":
		return s <= arg
	case "like":
		return strings.Contains(s, strings.Trim(arg, "*%"))
	case "is":
		return (arg == "null" && v == nil) || arg == s
	case "in":
		for _, item := range strings.Split(strings.Trim(arg, "()"), ",") {
			if strings.Trim(item, `"`) == s {
				return true
			}
		}
	}
	return false
}

func str(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

func toRow(v any) Row {
	if r, ok := v.(Row); ok {
		return copyRow(r)
	}
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("backendtest: encode row: %v", err))
	}
	var r Row
	if err := json.Unmarshal(data, &r); err != nil {
		panic(fmt.Sprintf("backendtest: row must encode to an object: %v", err))
	}
	return r
}

func copyRow(r Row) Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
