package app

import (
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/mux"
)

// ============================================================
// MCP approvals
// ============================================================

// handleListApprovals lists the destructive MCP calls waiting on a user:
// those of the standalone process, stored in the database, and those of
// this server's /mcp endpoint, held in memory.
func (a *App) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	stored, err := a.approvals.ListPending(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]ApprovalView, 0, len(stored))
	for _, ap := range stored {
		out = append(out, ApprovalView{
			ID:          ap.ID,
			Tool:        ap.Tool,
			Description: ap.Description,
			Metadata:    ap.Metadata,
			CreatedAt:   ap.CreatedAt.Format(time.RFC3339),
		})
	}
	for _, id := range a.mcp.Approvals().Pending() {
		out = append(out, ApprovalView{ID: id, InProcess: true})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleResolveApproval answers an approval. In-memory requests are
// released directly; stored ones are picked up by the polling process.
func (a *App) handleResolveApproval(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]
	approved := vars["decision"] == "approve"

	queue := a.mcp.Approvals()
	if slices.Contains(queue.Pending(), id) {
		if approved {
			queue.Approve(id)
		} else {
			queue.Reject(id)
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := a.approvals.Resolve(r.Context(), id, approved); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
