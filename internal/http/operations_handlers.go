package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"dbsetup/internal/script"
)

const maxScriptBytes = 4 << 20

type OperationHandler struct {
	deps   Deps
	logger *slog.Logger
}

type executeScriptRequest struct {
	Name string `json:"name"`
	SQL  string `json:"sql"`
}

func (h *OperationHandler) ExecuteScript(w http.ResponseWriter, r *http.Request) {
	var req executeScriptRequest
	if !decodeJSON(w, r, maxScriptBytes, &req) {
		return
	}
	if strings.TrimSpace(req.SQL) == "" {
		writeError(w, http.StatusBadRequest, "invalid_script", "sql is required")
		return
	}
	if req.Name == "" {
		req.Name = "api"
	}

	// A started script runs to completion even if the client goes away.
	ctx := context.WithoutCancel(r.Context())
	report, err := h.deps.Scripts.Execute(ctx, script.Script{Name: req.Name, Text: req.SQL})
	if err != nil {
		h.logger.Error("script execution interrupted", "error", err)
		writeError(w, http.StatusInternalServerError, "execution_interrupted", err.Error())
		return
	}
	if err := h.deps.Journal.RecordScript(ctx, report); err != nil {
		h.logger.Warn("journal write failed", "run_id", report.RunID.String(), "error", err)
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *OperationHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx := context.WithoutCancel(r.Context())
	res := h.deps.Refresher.Refresh(ctx)
	if err := h.deps.Journal.RecordRefresh(ctx, res); err != nil {
		h.logger.Warn("journal write failed", "run_id", res.RunID.String(), "error", err)
	}
	status := http.StatusOK
	if !res.Success {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, res)
}
