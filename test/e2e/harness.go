// Package e2e provides an end-to-end harness for the full sync
// pipeline: a real database, fake origin and target REST systems, and
// a capturing event sink, wired to the production engine.
package e2e

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/marcus/syncbridge/internal/collab"
	"github.com/marcus/syncbridge/internal/db"
	"github.com/marcus/syncbridge/internal/delivery"
	"github.com/marcus/syncbridge/internal/engine"
	"github.com/marcus/syncbridge/internal/models"
	"github.com/marcus/syncbridge/internal/restapi"
)

// Harness wires a reconciler and delivery engine against in-memory
// external systems.
type Harness struct {
	DB         *db.DB
	Reconciler *engine.Reconciler
	Delivery   *delivery.Engine

	Origin *FakeSystem
	Target *FakeSystem
	Sink   *Sink
}

// Setup builds a harness with one synchronization named syncID already
// registered, plus a push subscription pointed at the sink.
func Setup(t *testing.T, syncID string) *Harness {
	t.Helper()

	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	conn.SetMaxOpenConns(1)
	database, err := db.NewFromConn(conn)
	if err != nil {
		t.Fatalf("init db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	origin := NewFakeSystem(t)
	target := NewFakeSystem(t)
	sink := NewSink(t)

	s := &models.Synchronization{
		ID:      syncID,
		Name:    syncID,
		Source:  models.Descriptor{Kind: "rest", Endpoint: origin.URL()},
		Target:  models.Descriptor{Kind: "rest", Endpoint: target.URL()},
		Enabled: true,
	}
	if err := database.UpsertSynchronization(s); err != nil {
		t.Fatal(err)
	}

	sub := &models.EventSubscription{
		Reference: "e2e-sink",
		Style:     models.StylePush,
		Sink:      sink.URL(),
		Enabled:   true,
	}
	if err := database.UpsertSubscription(sub); err != nil {
		t.Fatal(err)
	}

	rest := restapi.NewClient()
	return &Harness{
		DB: database,
		Reconciler: engine.NewReconciler(engine.Reconciler{
			Syncs:     database,
			Contracts: database,
			Logs:      database,
			Mapper:    &collab.FieldMapper{Store: database},
			Rules:     collab.BasicRules{},
			Target:    rest,
			Origin:    rest,
		}),
		Delivery: delivery.NewEngine(delivery.Engine{
			Messages: database,
			Subs:     database,
			Backoff:  delivery.Backoff{Base: 0, Cap: 0, MaxRetries: 3},
		}),
		Origin: origin,
		Target: target,
		Sink:   sink,
	}
}

// FakeSystem is an in-memory REST collection speaking the offset
// pagination and CRUD dialect the production client uses.
type FakeSystem struct {
	mu      sync.Mutex
	objects map[string]map[string]any
	nextID  int
	srv     *httptest.Server

	// Writes counts mutating requests, for asserting minimal-change
	// behavior.
	Writes int
}

func NewFakeSystem(t *testing.T) *FakeSystem {
	fs := &FakeSystem{objects: map[string]map[string]any{}}
	fs.srv = httptest.NewServer(http.HandlerFunc(fs.handle))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *FakeSystem) URL() string { return fs.srv.URL }

// Put stores an object under the given id, creating or replacing it.
func (fs *FakeSystem) Put(id string, obj map[string]any) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	stored := map[string]any{"id": id}
	for k, v := range obj {
		stored[k] = v
	}
	fs.objects[id] = stored
}

// Remove deletes an object.
func (fs *FakeSystem) Remove(id string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.objects, id)
}

// Get returns a stored object, or nil.
func (fs *FakeSystem) Get(id string) map[string]any {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.objects[id]
}

// Len returns the object count.
func (fs *FakeSystem) Len() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return len(fs.objects)
}

func (fs *FakeSystem) handle(w http.ResponseWriter, r *http.Request) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	id := strings.TrimPrefix(r.URL.Path, "/")
	switch r.Method {
	case http.MethodGet:
		if id == "" {
			fs.list(w, r)
			return
		}
		obj, ok := fs.objects[id]
		if !ok {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(obj)

	case http.MethodPost:
		fs.Writes++
		var obj map[string]any
		if err := json.NewDecoder(r.Body).Decode(&obj); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fs.nextID++
		newID := fmt.Sprintf("gen-%d", fs.nextID)
		obj["id"] = newID
		fs.objects[newID] = obj
		json.NewEncoder(w).Encode(obj)

	case http.MethodPut:
		fs.Writes++
		if _, ok := fs.objects[id]; !ok {
			http.NotFound(w, r)
			return
		}
		var obj map[string]any
		if err := json.NewDecoder(r.Body).Decode(&obj); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		obj["id"] = id
		fs.objects[id] = obj
		json.NewEncoder(w).Encode(obj)

	case http.MethodDelete:
		fs.Writes++
		if _, ok := fs.objects[id]; !ok {
			http.NotFound(w, r)
			return
		}
		delete(fs.objects, id)
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// list serves the collection in stable id order with limit/offset.
func (fs *FakeSystem) list(w http.ResponseWriter, r *http.Request) {
	ids := make([]string, 0, len(fs.objects))
	for id := range fs.objects {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	limit := len(ids)
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	offset := 0
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			offset = n
		}
	}

	page := []map[string]any{}
	for i := offset; i < len(ids) && len(page) < limit; i++ {
		page = append(page, fs.objects[ids[i]])
	}
	json.NewEncoder(w).Encode(page)
}

// Sink captures delivered events.
type Sink struct {
	mu     sync.Mutex
	events []delivery.Event
	srv    *httptest.Server

	// FailNext makes that many upcoming requests fail with a 500.
	FailNext int
}

func NewSink(t *testing.T) *Sink {
	s := &Sink{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.FailNext > 0 {
			s.FailNext--
			http.Error(w, "unavailable", http.StatusInternalServerError)
			return
		}
		var ev delivery.Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.events = append(s.events, ev)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *Sink) URL() string { return s.srv.URL }

// Events returns a copy of everything delivered so far.
func (s *Sink) Events() []delivery.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]delivery.Event(nil), s.events...)
}

// Fail arms the sink to reject the next n deliveries.
func (s *Sink) Fail(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FailNext = n
}
