package audit

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/chronicle/pkg/httputil"
)

// Handlers serves the read-only HTTP API over stored log entries. Entries
// are immutable, so the API exposes no write routes.
type Handlers struct {
	store    Store
	registry *Registry
}

// NewHandlers creates the audit API handlers.
func NewHandlers(store Store, registry *Registry) *Handlers {
	return &Handlers{store: store, registry: registry}
}

// RegisterRoutes configures the audit API routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/v1/audit/entries", h.listEntries).Methods("GET")
	router.HandleFunc("/api/v1/audit/entries/export", h.exportEntries).Methods("GET")
	router.HandleFunc("/api/v1/audit/entries/{id:[0-9]+}", h.getEntry).Methods("GET")
	router.HandleFunc("/api/v1/audit/entity-types", h.listEntityTypes).Methods("GET")
}

// listEntries handles GET /api/v1/audit/entries
func (h *Handlers) listEntries(w http.ResponseWriter, r *http.Request) {
	filter, ok := parseFilter(w, r)
	if !ok {
		return
	}

	entries, err := h.store.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	total, err := h.store.Count(r.Context(), filter)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	if httputil.ParseQueryString(r, "display", "") == "true" {
		h.applyDisplayMapping(entries)
	}

	if entries == nil {
		entries = []*LogEntry{}
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"entries": entries,
		"total":   total,
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})
}

// getEntry handles GET /api/v1/audit/entries/{id}
func (h *Handlers) getEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	entry, err := h.store.Get(r.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		httputil.WriteNotFoundError(w, fmt.Sprintf("entry %d not found", id))
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	if httputil.ParseQueryString(r, "display", "") == "true" {
		h.applyDisplayMapping([]*LogEntry{entry})
	}
	httputil.WriteSuccess(w, entry)
}

// exportEntries handles GET /api/v1/audit/entries/export
func (h *Handlers) exportEntries(w http.ResponseWriter, r *http.Request) {
	filter, ok := parseFilter(w, r)
	if !ok {
		return
	}
	format, err := ParseExportFormat(httputil.ParseQueryString(r, "format", ""))
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	entries, err := h.store.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	switch format {
	case FormatCSV:
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="audit_entries.csv"`)
	case FormatNDJSON:
		w.Header().Set("Content-Type", "application/x-ndjson")
	default:
		w.Header().Set("Content-Type", "application/json")
	}
	if err := Export(w, entries, format); err != nil {
		// Headers are already sent; nothing left to report to the client.
		return
	}
}

// listEntityTypes handles GET /api/v1/audit/entity-types
func (h *Handlers) listEntityTypes(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, map[string]interface{}{
		"entity_types": h.registry.EntityTypes(),
	})
}

func (h *Handlers) applyDisplayMapping(entries []*LogEntry) {
	for _, entry := range entries {
		cfg, err := h.registry.Config(entry.EntityType)
		if err != nil || len(cfg.MappingFields) == 0 {
			continue
		}
		entry.Changes = entry.ChangesDisplay(cfg.MappingFields)
	}
}

func parseFilter(w http.ResponseWriter, r *http.Request) (SearchFilter, bool) {
	filter := SearchFilter{
		EntityType: httputil.ParseQueryString(r, "entity_type", ""),
		ObjectPK:   httputil.ParseQueryString(r, "object_pk", ""),
		Actor:      httputil.ParseQueryString(r, "actor", ""),
		CID:        httputil.ParseQueryString(r, "cid", ""),
	}

	objectID, err := httputil.ParseQueryInt64(r, "object_id", 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return filter, false
	}
	if objectID != 0 {
		filter.ObjectID = &objectID
	}

	if actions := httputil.ParseQueryString(r, "action", ""); actions != "" {
		for _, name := range strings.Split(actions, ",") {
			action, err := parseAction(strings.TrimSpace(name))
			if err != nil {
				httputil.WriteBadRequest(w, err.Error())
				return filter, false
			}
			filter.Actions = append(filter.Actions, action)
		}
	}

	if filter.StartTime, err = httputil.ParseQueryTime(r, "start_time"); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return filter, false
	}
	if filter.EndTime, err = httputil.ParseQueryTime(r, "end_time"); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return filter, false
	}

	if filter.Limit, err = httputil.ParseQueryInt(r, "limit", 50); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return filter, false
	}
	if filter.Limit > 1000 {
		filter.Limit = 1000
	}
	if filter.Offset, err = httputil.ParseQueryInt(r, "offset", 0); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return filter, false
	}
	return filter, true
}

func parseAction(name string) (Action, error) {
	switch strings.ToLower(name) {
	case "create":
		return ActionCreate, nil
	case "update":
		return ActionUpdate, nil
	case "delete":
		return ActionDelete, nil
	case "access":
		return ActionAccess, nil
	default:
		return 0, fmt.Errorf("unknown action %q", name)
	}
}
