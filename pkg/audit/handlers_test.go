package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// apiStore stubs Store for handler tests and captures the parsed filter.
type apiStore struct {
	fakeStore
	entries    []*LogEntry
	getEntry   *LogEntry
	getErr     error
	lastFilter SearchFilter
}

func (s *apiStore) Search(ctx context.Context, filter SearchFilter) ([]*LogEntry, error) {
	s.lastFilter = filter
	return s.entries, nil
}

func (s *apiStore) Count(ctx context.Context, filter SearchFilter) (int64, error) {
	return int64(len(s.entries)), nil
}

func (s *apiStore) Get(ctx context.Context, id int64) (*LogEntry, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.getEntry, nil
}

func newTestAPI(t *testing.T, store Store) *mux.Router {
	t.Helper()
	registry := NewRegistry()
	registry.Register("shop.Product", WithMappingFields(map[string]string{"name": "Product name"}))
	router := mux.NewRouter()
	NewHandlers(store, registry).RegisterRoutes(router)
	return router
}

func TestListEntries(t *testing.T) {
	store := &apiStore{entries: exportFixture()}
	router := newTestAPI(t, store)

	req := httptest.NewRequest("GET", "/api/v1/audit/entries?entity_type=shop.Product&actor=alice", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Entries []*LogEntry `json:"entries"`
		Total   int64       `json:"total"`
		Limit   int         `json:"limit"`
		Offset  int         `json:"offset"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Entries, 2)
	assert.Equal(t, int64(2), body.Total)
	assert.Equal(t, 50, body.Limit, "limit defaults to 50")
	assert.Equal(t, 0, body.Offset)

	assert.Equal(t, "shop.Product", store.lastFilter.EntityType)
	assert.Equal(t, "alice", store.lastFilter.Actor)
}

func TestListEntriesFilterParsing(t *testing.T) {
	store := &apiStore{}
	router := newTestAPI(t, store)

	req := httptest.NewRequest("GET",
		"/api/v1/audit/entries?object_id=7&action=create,update&start_time=2026-05-01T00:00:00Z&limit=5000&offset=20", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, store.lastFilter.ObjectID)
	assert.Equal(t, int64(7), *store.lastFilter.ObjectID)
	assert.Equal(t, []Action{ActionCreate, ActionUpdate}, store.lastFilter.Actions)
	require.NotNil(t, store.lastFilter.StartTime)
	assert.Equal(t, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), store.lastFilter.StartTime.UTC())
	assert.Nil(t, store.lastFilter.EndTime)
	assert.Equal(t, 1000, store.lastFilter.Limit, "limit is capped")
	assert.Equal(t, 20, store.lastFilter.Offset)
}

func TestListEntriesBadRequest(t *testing.T) {
	router := newTestAPI(t, &apiStore{})

	for _, url := range []string{
		"/api/v1/audit/entries?action=truncate",
		"/api/v1/audit/entries?start_time=yesterday",
		"/api/v1/audit/entries?limit=many",
	} {
		req := httptest.NewRequest("GET", url, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, url)
	}
}

func TestListEntriesDisplayMapping(t *testing.T) {
	entry := &LogEntry{
		ID:         1,
		EntityType: "shop.Product",
		Action:     ActionUpdate,
		Changes:    Changes{"name": {Old: strPtr("Widget"), New: strPtr("Gadget")}},
	}
	store := &apiStore{entries: []*LogEntry{entry}}
	router := newTestAPI(t, store)

	req := httptest.NewRequest("GET", "/api/v1/audit/entries?display=true", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Entries []*LogEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Entries, 1)
	assert.Contains(t, body.Entries[0].Changes, "Product name")
	assert.NotContains(t, body.Entries[0].Changes, "name")
}

func TestGetEntry(t *testing.T) {
	store := &apiStore{getEntry: exportFixture()[0]}
	router := newTestAPI(t, store)

	req := httptest.NewRequest("GET", "/api/v1/audit/entries/2", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var entry LogEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.Equal(t, int64(2), entry.ID)
	assert.Equal(t, ActionUpdate, entry.Action)
}

func TestGetEntryNotFound(t *testing.T) {
	store := &apiStore{getErr: sql.ErrNoRows}
	router := newTestAPI(t, store)

	req := httptest.NewRequest("GET", "/api/v1/audit/entries/99", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExportEntriesCSV(t *testing.T) {
	store := &apiStore{entries: exportFixture()}
	router := newTestAPI(t, store)

	req := httptest.NewRequest("GET", "/api/v1/audit/entries/export?format=csv", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "audit_entries.csv")
	assert.Contains(t, rec.Body.String(), "shop.Product")
}

func TestExportEntriesUnknownFormat(t *testing.T) {
	router := newTestAPI(t, &apiStore{})

	req := httptest.NewRequest("GET", "/api/v1/audit/entries/export?format=xml", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListEntityTypes(t *testing.T) {
	router := newTestAPI(t, &apiStore{})

	req := httptest.NewRequest("GET", "/api/v1/audit/entity-types", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		EntityTypes []string `json:"entity_types"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []string{"shop.Product"}, body.EntityTypes)
}
