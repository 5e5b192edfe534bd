// Package oictest runs an in-memory fake of the OIC integration REST API and
// its IDCS token endpoint for tests.
package oictest

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/tidwall/gjson"

	"github.com/stacklok/oic-target/internal/entity"
)

const (
	// TokenPath is where the fake issues client-credentials tokens
	TokenPath = "/oauth2/v1/token"

	// ClientID and ClientSecret are the credentials the token endpoint accepts
	ClientID     = "oic-client"
	ClientSecret = "oic-secret"

	// TokenLifetime is reported as expires_in
	TokenLifetime = 3600

	maxUploadSize = 32 << 20
)

// Call is one request served by the API routes
type Call struct {
	Method string
	// Path is unescaped and relative to entity.BasePath
	Path   string
	Status int
	Header http.Header
}

type failure struct {
	method    string
	path      string
	status    int
	remaining int
	always    bool
}

// Server is a fake OIC instance. Entities are keyed "collection/id" with ids
// unescaped, the same way the entity handlers address them.
type Server struct {
	*httptest.Server

	mu            sync.Mutex
	entities      map[string]map[string]any
	calls         []Call
	tokens        map[string]bool
	tokenRequests int
	rejectTokens  bool
	failures      []*failure
}

// New starts a fake and stops it when t finishes
func New(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		entities: make(map[string]map[string]any),
		tokens:   make(map[string]bool),
	}
	s.Server = httptest.NewServer(s.router())
	t.Cleanup(s.Close)
	return s
}

// BaseURL is the value for the base_url setting
func (s *Server) BaseURL() string {
	return s.URL
}

// TokenURL is the value for the oauth_token_url setting
func (s *Server) TokenURL() string {
	return s.URL + TokenPath
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Post(TokenPath, s.issueToken)

	r.Route(entity.BasePath, func(r chi.Router) {
		r.Use(s.record, s.authenticate, s.inject)

		r.Get("/{coll}/{id}", s.getEntity)
		r.Get("/{coll}/{id}/{sub}", s.getEntity)

		r.Post("/{coll}", s.create)
		r.Post("/{coll}/archive", s.importArchive)
		r.Put("/{coll}/archive", s.importArchive)
		r.Put("/{coll}/{id}", s.update)
		r.Delete("/{coll}/{id}", s.remove)
		r.Post("/{coll}/{id}", s.patch)

		r.Post("/{coll}/{id}/{sub}", s.subresource)
		r.Put("/{coll}/{id}/{sub}", s.subresource)
	})
	return r
}

// Seed stores an entity as if it already existed remotely
func (s *Server) Seed(collection, id string, doc map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc == nil {
		doc = map[string]any{}
	}
	s.entities[key(collection, id)] = doc
}

// Entity returns a copy of the stored document
func (s *Server) Entity(collection, id string) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.entities[key(collection, id)]
	return clone(doc), ok
}

// Len is the number of stored entities in a collection
func (s *Server) Len(collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.entities {
		if strings.HasPrefix(k, collection+"/") && strings.Count(k, "/") == 1 {
			n++
		}
	}
	return n
}

// Fail makes the next times requests matching method and path answer with
// status. times <= 0 fails every matching request. path is relative to
// entity.BasePath and unescaped.
func (s *Server) Fail(method, path string, status, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, &failure{
		method:    method,
		path:      path,
		status:    status,
		remaining: times,
		always:    times <= 0,
	})
}

// RevokeTokens invalidates every token issued so far
func (s *Server) RevokeTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for tok := range s.tokens {
		s.tokens[tok] = false
	}
}

// RejectTokens makes the API answer 401 to every token, new ones included
func (s *Server) RejectTokens(reject bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectTokens = reject
}

// TokenRequests counts successful and failed token requests
func (s *Server) TokenRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokenRequests
}

// Calls returns the API requests served so far
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Count is the number of served requests matching method and path
func (s *Server) Count(method, path string) int {
	n := 0
	for _, c := range s.Calls() {
		if c.Method == method && c.Path == path {
			n++
		}
	}
	return n
}

func (s *Server) issueToken(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.tokenRequests++
	seq := s.tokenRequests
	s.mu.Unlock()

	id, secret, ok := r.BasicAuth()
	if !ok {
		id, secret = r.PostFormValue("client_id"), r.PostFormValue("client_secret")
	}
	if id != ClientID || secret != ClientSecret {
		writeJSON(w, map[string]string{"error": "invalid_client"}, http.StatusUnauthorized)
		return
	}
	if r.PostFormValue("grant_type") != "client_credentials" {
		writeJSON(w, map[string]string{"error": "unsupported_grant_type"}, http.StatusBadRequest)
		return
	}

	tok := fmt.Sprintf("token-%d", seq)
	s.mu.Lock()
	s.tokens[tok] = true
	s.mu.Unlock()

	writeJSON(w, map[string]any{
		"access_token": tok,
		"token_type":   "Bearer",
		"expires_in":   TokenLifetime,
	}, http.StatusOK)
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.mu.Lock()
		s.calls = append(s.calls, Call{
			Method: r.Method,
			Path:   relative(r),
			Status: ww.Status(),
			Header: r.Header.Clone(),
		})
		s.mu.Unlock()
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")

		s.mu.Lock()
		valid := ok && s.tokens[tok] && !s.rejectTokens
		s.mu.Unlock()

		if !valid {
			writeError(w, "invalid or expired token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) inject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := relative(r)

		s.mu.Lock()
		status := 0
		for _, f := range s.failures {
			if f.method != r.Method || f.path != p || (!f.always && f.remaining == 0) {
				continue
			}
			if !f.always {
				f.remaining--
			}
			status = f.status
			break
		}
		s.mu.Unlock()

		if status != 0 {
			writeError(w, fmt.Sprintf("injected failure for %s %s", r.Method, p), status)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) getEntity(w http.ResponseWriter, r *http.Request) {
	k, ok := entityKey(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	_, doc, found := s.lookup(k)
	doc = clone(doc)
	s.mu.Unlock()

	if !found {
		writeError(w, "not found: "+k, http.StatusNotFound)
		return
	}
	writeJSON(w, doc, http.StatusOK)
}

func (s *Server) create(w http.ResponseWriter, r *http.Request) {
	coll := chi.URLParam(r, "coll")
	doc, err := decode(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	id := identify(doc)
	if id == "" {
		writeError(w, "payload carries no identifier", http.StatusBadRequest)
		return
	}
	s.store(w, key(coll, id), doc, false)
}

// importArchive stores an archive upload. Without a code field the id is the
// file name stem, and a version is only known when sent as a field.
func (s *Server) importArchive(w http.ResponseWriter, r *http.Request) {
	coll := chi.URLParam(r, "coll")
	doc, err := decode(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	id := identify(doc)
	if id == "" {
		name, _ := doc["fileName"].(string)
		id = strings.TrimSuffix(name, path.Ext(name))
	}
	if id == "" {
		writeError(w, "archive carries no identifier", http.StatusBadRequest)
		return
	}
	s.store(w, key(coll, id), doc, r.Method == http.MethodPut)
}

func (s *Server) update(w http.ResponseWriter, r *http.Request) {
	k, ok := entityKey(w, r)
	if !ok {
		return
	}
	doc, err := decode(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.store(w, k, doc, true)
}

func (s *Server) remove(w http.ResponseWriter, r *http.Request) {
	k, ok := entityKey(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	_, found := s.entities[k]
	delete(s.entities, k)
	s.mu.Unlock()

	if !found {
		writeError(w, "not found: "+k, http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// patch serves POST with X-HTTP-Method-Override: PATCH, used for status changes
func (s *Server) patch(w http.ResponseWriter, r *http.Request) {
	if !strings.EqualFold(r.Header.Get("X-HTTP-Method-Override"), http.MethodPatch) {
		writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	k, ok := entityKey(w, r)
	if !ok {
		return
	}
	doc, err := decode(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.store(w, k, doc, true)
}

// subresource serves schedules, monitoring and the integration and
// connection actions
func (s *Server) subresource(w http.ResponseWriter, r *http.Request) {
	coll := chi.URLParam(r, "coll")
	id, err := param(r, "id")
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	sub := chi.URLParam(r, "sub")
	parent := key(coll, id)

	s.mu.Lock()
	_, _, found := s.lookup(parent)
	s.mu.Unlock()
	if !found {
		writeError(w, "not found: "+parent, http.StatusNotFound)
		return
	}

	switch sub {
	case "schedule", "monitoring":
		doc, err := decode(r)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.store(w, parent+"/"+sub, doc, r.Method == http.MethodPut)
	case "test", "clone", "metadata":
		writeJSON(w, map[string]string{"status": "OK", "action": sub, "target": id}, http.StatusOK)
	default:
		writeError(w, "unknown resource "+sub, http.StatusNotFound)
	}
}

// store writes doc under k. Creates conflict with existing entities and
// updates require one; updates merge into the stored document.
func (s *Server) store(w http.ResponseWriter, k string, doc map[string]any, update bool) {
	s.mu.Lock()
	stored, existing, found := s.lookup(k)
	switch {
	case update && !found:
		s.mu.Unlock()
		writeError(w, "not found: "+k, http.StatusNotFound)
		return
	case !update && found:
		s.mu.Unlock()
		writeError(w, "already exists: "+k, http.StatusConflict)
		return
	case update:
		for field, v := range doc {
			existing[field] = v
		}
		doc, k = existing, stored
	}
	s.entities[k] = doc
	doc = clone(doc)
	s.mu.Unlock()

	status := http.StatusCreated
	if update {
		status = http.StatusOK
	}
	writeJSON(w, doc, status)
}

// lookup resolves k to the stored key. "code|version" matches the bare code,
// which is how archives imported without a version field are stored, and the
// reverse. Callers hold mu.
func (s *Server) lookup(k string) (string, map[string]any, bool) {
	if doc, ok := s.entities[k]; ok {
		return k, doc, true
	}
	coll, rest, _ := strings.Cut(k, "/")
	id, sub, hasSub := strings.Cut(rest, "/")
	code, _, ok := strings.Cut(id, "|")
	if !ok {
		if hasSub {
			return "", nil, false
		}
		for stored, doc := range s.entities {
			if strings.HasPrefix(stored, k+"|") && !strings.Contains(strings.TrimPrefix(stored, coll+"/"), "/") {
				return stored, doc, true
			}
		}
		return "", nil, false
	}
	fallback := key(coll, code)
	if hasSub {
		fallback += "/" + sub
	}
	doc, ok := s.entities[fallback]
	return fallback, doc, ok
}

// identify picks the id a payload creates. A version field makes it composite.
func identify(doc map[string]any) string {
	raw, err := json.Marshal(doc)
	if err != nil {
		return ""
	}
	parsed := gjson.ParseBytes(raw)

	var id string
	for _, p := range []string{"identifier", "code", "alias", "name", "id", "connectionProperties.identifier"} {
		if v := parsed.Get(p); v.Exists() && v.String() != "" {
			id = v.String()
			break
		}
	}
	if id == "" {
		return ""
	}
	if v := parsed.Get("version"); v.Exists() && v.String() != "" {
		id += "|" + v.String()
	}
	return id
}

// decode reads a JSON body or a multipart upload. Upload fields become
// document fields next to fileName and size.
func decode(r *http.Request) (map[string]any, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxUploadSize); err != nil {
			return nil, fmt.Errorf("invalid multipart body: %w", err)
		}
		doc := map[string]any{}
		for k, vs := range r.MultipartForm.Value {
			if len(vs) > 0 {
				doc[k] = vs[0]
			}
		}
		files := r.MultipartForm.File["file"]
		if len(files) == 0 {
			return nil, fmt.Errorf("multipart body has no file part")
		}
		doc["fileName"] = files[0].Filename
		doc["size"] = files[0].Size
		return doc, nil
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	doc := map[string]any{}
	if len(strings.TrimSpace(string(data))) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	return doc, nil
}

func entityKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := param(r, "id")
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return "", false
	}
	k := key(chi.URLParam(r, "coll"), id)
	if sub := chi.URLParam(r, "sub"); sub != "" {
		k += "/" + sub
	}
	return k, true
}

func param(r *http.Request, name string) (string, error) {
	v, err := url.PathUnescape(chi.URLParam(r, name))
	if err != nil {
		return "", fmt.Errorf("invalid URL encoding in %s", name)
	}
	if strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("%s cannot be empty", name)
	}
	return v, nil
}

func clone(doc map[string]any) map[string]any {
	if doc == nil {
		return nil
	}
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

func key(collection, id string) string {
	return collection + "/" + id
}

func relative(r *http.Request) string {
	return strings.TrimPrefix(r.URL.Path, entity.BasePath)
}

func writeJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, map[string]string{"error": message}, statusCode)
}
