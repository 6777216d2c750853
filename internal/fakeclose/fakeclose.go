// Package fakeclose is an in-memory stand-in for the Close API used by tests.
//
// Collections are paged like the real API: offset paging with `_skip`/`_limit`, cursor paging
// with `_cursor` for paths registered with CursorPaged, `_limit=0` counts, and the
// `slice:i/n` search qualifier. Other non-underscore params are equality filters, except
// range filters such as `date_created__gte` which are accepted and ignored.
package fakeclose

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/ellogroup/ello-golang-closeio/closeio"
)

const DefaultPageSize = 100

var sliceRe = regexp.MustCompile(`slice:(\d+)/(\d+)`)

// ignoredParams are never treated as equality filters.
var ignoredParams = map[string]bool{"query": true, "fields": true}

type Call struct {
	Method  string
	Path    string
	Params  url.Values
	Payload closeio.Record
}

// SearchFunc reports whether a record matches a search `query`.
type SearchFunc func(r closeio.Record, query string) bool

// CreateHook builds the record stored and returned for a create call.
type CreateHook func(path string, payload closeio.Record, id string) (closeio.Record, error)

// Server is safe for concurrent use.
type Server struct {
	PageSize int

	mu          sync.Mutex
	collections map[string][]closeio.Record
	docs        map[string]closeio.Record
	cursorPaged map[string]bool
	onCreate    map[string]CreateHook
	search      map[string]SearchFunc
	failWhen    []func(c Call) error
	calls       []Call
	seq         int
}

func New() *Server {
	return &Server{
		PageSize:    DefaultPageSize,
		collections: map[string][]closeio.Record{},
		docs:        map[string]closeio.Record{},
		cursorPaged: map[string]bool{},
		onCreate:    map[string]CreateHook{},
		search:      map[string]SearchFunc{},
	}
}

// Seed appends records to a collection.
func (s *Server) Seed(path string, records ...closeio.Record) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.collections[path] = append(s.collections[path], r.Clone())
	}
	return s
}

// SetDoc registers the response of a Get on path.
func (s *Server) SetDoc(path string, doc closeio.Record) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[path] = doc.Clone()
	return s
}

func (s *Server) CursorPaged(path string) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursorPaged[path] = true
	return s
}

func (s *Server) OnCreate(path string, hook CreateHook) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCreate[path] = hook
	return s
}

// SearchWith makes List on path keep only the records fn matches whenever a query is given.
// Without it queries only select slices.
func (s *Server) SearchWith(path string, fn SearchFunc) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.search[path] = fn
	return s
}

// FailWhen makes every call for which fn returns an error fail with that error.
func (s *Server) FailWhen(fn func(c Call) error) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWhen = append(s.failWhen, fn)
	return s
}

// Records returns a copy of a collection.
func (s *Server) Records(path string) []closeio.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]closeio.Record, len(s.collections[path]))
	for i, r := range s.collections[path] {
		out[i] = r.Clone()
	}
	return out
}

// Calls returns the recorded calls with the given method and path. An empty method or path
// matches any.
func (s *Server) Calls(method, path string) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Call
	for _, c := range s.calls {
		if (method == "" || c.Method == method) && (path == "" || c.Path == path) {
			out = append(out, c)
		}
	}
	return out
}

// NotFound builds the error the server returns for missing objects.
func NotFound(path string) *closeio.APIError {
	return &closeio.APIError{StatusCode: http.StatusNotFound, Message: "Empty query: object does not exist.", Path: path}
}

// BadRequest builds a structured 400 error, handy in FailWhen.
func BadRequest(msg string) *closeio.APIError {
	return &closeio.APIError{StatusCode: http.StatusBadRequest, Message: msg}
}

// record must be called with mu held.
func (s *Server) record(c Call) error {
	s.calls = append(s.calls, c)
	for _, fn := range s.failWhen {
		if err := fn(c); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) List(ctx context.Context, path string, params url.Values) (*closeio.Page[closeio.Record], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(Call{Method: http.MethodGet, Path: path, Params: copyParams(params)}); err != nil {
		return nil, err
	}

	items := filter(s.collections[path], params)
	if fn, q := s.search[path], params.Get("query"); fn != nil && q != "" {
		matched := items[:0:0]
		for _, r := range items {
			if fn(r, q) {
				matched = append(matched, r)
			}
		}
		items = matched
	}
	total := len(items)

	if params.Get("_limit") == "0" {
		return &closeio.Page[closeio.Record]{Data: []closeio.Record{}, HasMore: total > 0, TotalResults: total}, nil
	}

	limit := s.PageSize
	if l, err := strconv.Atoi(params.Get("_limit")); err == nil && l > 0 && l < limit {
		limit = l
	}

	if s.cursorPaged[path] {
		start, _ := strconv.Atoi(params.Get("_cursor"))
		data, end := window(items, start, limit)
		page := &closeio.Page[closeio.Record]{Data: data}
		if end < total {
			page.CursorNext = strconv.Itoa(end)
		}
		return page, nil
	}

	skip, _ := strconv.Atoi(params.Get("_skip"))
	data, end := window(items, skip, limit)
	return &closeio.Page[closeio.Record]{Data: data, HasMore: end < total, TotalResults: total}, nil
}

func (s *Server) Get(ctx context.Context, path string, params url.Values) (closeio.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(Call{Method: http.MethodGet, Path: path, Params: copyParams(params)}); err != nil {
		return nil, err
	}

	if doc, ok := s.docs[path]; ok {
		return doc.Clone(), nil
	}
	if _, rec := s.find(path); rec != nil {
		return rec.Clone(), nil
	}
	return nil, NotFound(path)
}

func (s *Server) Create(ctx context.Context, path string, payload closeio.Record) (closeio.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(Call{Method: http.MethodPost, Path: path, Payload: payload.Clone()}); err != nil {
		return nil, err
	}

	s.seq++
	id := fmt.Sprintf("%s_%d", strings.ReplaceAll(strings.Trim(path, "/"), "/", "_"), s.seq)

	rec := payload.Clone()
	if rec == nil {
		rec = closeio.Record{}
	}
	rec["id"] = id
	if hook, ok := s.onCreate[path]; ok {
		var err error
		if rec, err = hook(path, payload.Clone(), id); err != nil {
			return nil, err
		}
	}
	s.collections[path] = append(s.collections[path], rec)
	return rec.Clone(), nil
}

func (s *Server) Update(ctx context.Context, path string, payload closeio.Record) (closeio.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(Call{Method: http.MethodPut, Path: path, Payload: payload.Clone()}); err != nil {
		return nil, err
	}

	_, rec := s.find(path)
	if rec == nil {
		return nil, NotFound(path)
	}
	for k, v := range payload.Clone() {
		rec[k] = v
	}
	return rec.Clone(), nil
}

func (s *Server) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(Call{Method: http.MethodDelete, Path: path}); err != nil {
		return err
	}

	collection, rec := s.find(path)
	if rec == nil {
		return NotFound(path)
	}
	items := s.collections[collection]
	for i, r := range items {
		if r.ID() == rec.ID() {
			s.collections[collection] = append(items[:i:i], items[i+1:]...)
			break
		}
	}
	return nil
}

// find resolves `<collection>/<id>` to the stored record. Must be called with mu held.
func (s *Server) find(path string) (string, closeio.Record) {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return "", nil
	}
	collection, id := path[:i], path[i+1:]
	for _, r := range s.collections[collection] {
		if r.ID() == id {
			return collection, r
		}
	}
	return "", nil
}

func filter(items []closeio.Record, params url.Values) []closeio.Record {
	shard, shards := 0, 0
	if m := sliceRe.FindStringSubmatch(params.Get("query")); m != nil {
		shard, _ = strconv.Atoi(m[1])
		shards, _ = strconv.Atoi(m[2])
	}

	var out []closeio.Record
	for j, r := range items {
		if shards > 0 && j%shards != shard-1 {
			continue
		}
		if !matches(r, params) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func matches(r closeio.Record, params url.Values) bool {
	for k := range params {
		if strings.HasPrefix(k, "_") || ignoredParams[k] || strings.Contains(k, "__") {
			continue
		}
		if fmt.Sprint(r[k]) != params.Get(k) {
			return false
		}
	}
	return true
}

func window(items []closeio.Record, start, limit int) ([]closeio.Record, int) {
	if start > len(items) {
		start = len(items)
	}
	end := start + limit
	if end > len(items) {
		end = len(items)
	}
	out := make([]closeio.Record, 0, end-start)
	for _, r := range items[start:end] {
		out = append(out, r.Clone())
	}
	return out, end
}

func copyParams(params url.Values) url.Values {
	out := make(url.Values, len(params))
	for k, v := range params {
		out[k] = append([]string(nil), v...)
	}
	return out
}
