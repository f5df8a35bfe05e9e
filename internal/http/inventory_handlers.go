package httpserver

import (
	"log/slog"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"

	"dbsetup/internal/db"
)

type InventoryHandler struct {
	deps   Deps
	logger *slog.Logger
}

func (h *InventoryHandler) Schemas(w http.ResponseWriter, r *http.Request) {
	inv, err := h.deps.Inspector.Walk(r.Context())
	if err != nil {
		h.logger.Error("list schemas failed", "error", err)
		writeError(w, http.StatusBadGateway, "introspection_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (h *InventoryHandler) Rows(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	if !slices.Contains(h.deps.Tables, table) {
		writeError(w, http.StatusNotFound, "not_found", "unknown table")
		return
	}
	rows, err := h.deps.Store.Select(r.Context(), table)
	if err != nil {
		h.logger.Error("select rows failed", "table", table, "error", err)
		writeError(w, http.StatusBadGateway, "select_failed", "failed to read table")
		return
	}
	if rows == nil {
		rows = []db.Row{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"table": table, "rows": rows})
}
