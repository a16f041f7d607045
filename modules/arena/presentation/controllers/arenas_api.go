package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/jacksonlee411/arena-engine/modules/arena/domain/types"
	"github.com/jacksonlee411/arena-engine/modules/arena/services"
)

const maxBodyBytes = 1 << 20

type ActorGetter func(ctx context.Context) (actorID string, ok bool)

type ArenaReconciler interface {
	Approve(ctx context.Context, req types.ApprovalRequest) (types.ApprovalResult, error)
	Backfill(ctx context.Context, opts services.BackfillOptions) (types.BackfillSummary, error)
	ListLive(ctx context.Context) ([]types.Arena, error)
}

type ArenasController struct {
	Actor   ActorGetter
	Service ArenaReconciler
	Logger  *zap.Logger
}

type approvalAPIRequest struct {
	ProjectID string `json:"projectId"`
	StartsAt  string `json:"startsAt"`
	EndsAt    string `json:"endsAt"`
}

type approvalAPIResponse struct {
	OK           bool          `json:"ok"`
	Outcome      types.Outcome `json:"outcome"`
	ObservedKind types.Kind    `json:"observedKind,omitempty"`
	Arena        types.Arena   `json:"arena"`
}

type backfillAPIRequest struct {
	Limit  int   `json:"limit"`
	DryRun *bool `json:"dryRun"`
}

type backfillAPIResponse struct {
	OK      bool                  `json:"ok"`
	DryRun  bool                  `json:"dryRun"`
	Summary types.BackfillSummary `json:"summary"`
}

type backfillInterruptedResponse struct {
	errorEnvelope
	DryRun  bool                  `json:"dryRun"`
	Summary types.BackfillSummary `json:"summary"`
}

func (c ArenasController) HandleApprovalsAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	actor, ok := c.actor(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "actor_missing", "actor missing")
		return
	}

	var req approvalAPIRequest
	if !decodeBody(w, r, &req) {
		return
	}
	startsAt, err := services.ParseArenaDate("startsAt", req.StartsAt)
	if err != nil {
		c.writeReconcileError(w, r, err)
		return
	}
	endsAt, err := services.ParseArenaEndDate("endsAt", req.EndsAt)
	if err != nil {
		c.writeReconcileError(w, r, err)
		return
	}

	res, err := c.Service.Approve(r.Context(), types.ApprovalRequest{
		ProjectID:  req.ProjectID,
		StartsAt:   startsAt,
		EndsAt:     endsAt,
		ApprovedBy: actor,
	})
	if err != nil {
		c.writeReconcileError(w, r, err)
		return
	}

	status := http.StatusOK
	if res.Outcome == types.OutcomeCreated {
		status = http.StatusCreated
	}
	writeJSON(w, status, approvalAPIResponse{
		OK:           true,
		Outcome:      res.Outcome,
		ObservedKind: res.ObservedKind,
		Arena:        res.Arena,
	})
}

// HandleBackfillAPI runs a backfill pass. dryRun defaults to true; a caller
// must send dryRun=false to write. A run cut short by the request context
// answers 503 with the work done so far.
func (c ArenasController) HandleBackfillAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	var req backfillAPIRequest
	if !decodeBody(w, r, &req) {
		return
	}
	dryRun := true
	if req.DryRun != nil {
		dryRun = *req.DryRun
	}

	summary, err := c.Service.Backfill(r.Context(), services.BackfillOptions{Limit: req.Limit, DryRun: dryRun})
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if c.Logger != nil {
			c.Logger.Warn("backfill interrupted",
				zap.Bool("dry_run", dryRun),
				zap.Int("scanned", summary.ScannedCount),
				zap.Error(err),
			)
		}
		writeJSON(w, http.StatusServiceUnavailable, backfillInterruptedResponse{
			errorEnvelope: newErrorEnvelope(r, "backfill_interrupted", "backfill interrupted"),
			DryRun:        dryRun,
			Summary:       summary,
		})
		return
	}
	if err != nil {
		c.writeReconcileError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, backfillAPIResponse{OK: true, DryRun: dryRun, Summary: summary})
}

func (c ArenasController) HandleLiveAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	arenas, err := c.Service.ListLive(r.Context())
	if err != nil {
		c.writeReconcileError(w, r, err)
		return
	}
	if arenas == nil {
		arenas = make([]types.Arena, 0)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"arenas": arenas,
	})
}

func (c ArenasController) actor(ctx context.Context) (string, bool) {
	if c.Actor == nil {
		return "", false
	}
	id, ok := c.Actor(ctx)
	id = strings.TrimSpace(id)
	return id, ok && id != ""
}

func (c ArenasController) writeReconcileError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusForError(err)
	msg := types.MessageOf(err)
	if status == http.StatusInternalServerError {
		if c.Logger != nil {
			c.Logger.Error("arena request failed",
				zap.String("path", r.URL.Path),
				zap.String("method", r.Method),
				zap.Error(err),
			)
		}
		msg = "internal error"
	}
	writeError(w, r, status, code, msg)
}

func statusForError(err error) (int, string) {
	switch {
	case types.IsInvalidInput(err):
		return http.StatusBadRequest, string(types.CodeInvalidInput)
	case types.IsProjectNotFound(err):
		return http.StatusNotFound, string(types.CodeProjectNotFound)
	case types.IsNotEligible(err):
		return http.StatusUnprocessableEntity, string(types.CodeNotEligible)
	case types.IsConflict(err):
		return http.StatusConflict, string(types.CodeReconciliationConflict)
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// decodeBody accepts an empty body as the zero request.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_json", "bad json")
		return false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_json", "bad json")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorEnvelope struct {
	OK      bool              `json:"ok"`
	Code    string            `json:"code"`
	Message string            `json:"message"`
	TraceID string            `json:"trace_id"`
	Meta    errorEnvelopeMeta `json:"meta"`
}

type errorEnvelopeMeta struct {
	Path   string `json:"path"`
	Method string `json:"method"`
}

func newErrorEnvelope(r *http.Request, code string, message string) errorEnvelope {
	return errorEnvelope{
		Code:    code,
		Message: message,
		TraceID: traceIDFromRequest(r),
		Meta: errorEnvelopeMeta{
			Path:   r.URL.Path,
			Method: r.Method,
		},
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code string, message string) {
	writeJSON(w, status, newErrorEnvelope(r, code, message))
}

// traceIDFromRequest extracts the trace id from a W3C traceparent header.
func traceIDFromRequest(r *http.Request) string {
	traceparent := strings.TrimSpace(r.Header.Get("traceparent"))
	if traceparent == "" {
		return ""
	}
	parts := strings.Split(traceparent, "-")
	if len(parts) != 4 {
		return ""
	}
	traceID := strings.ToLower(parts[1])
	if len(traceID) != 32 || traceID == "00000000000000000000000000000000" {
		return ""
	}
	for _, ch := range traceID {
		if (ch < '0' || ch > '9') && (ch < 'a' || ch > 'f') {
			return ""
		}
	}
	return traceID
}
