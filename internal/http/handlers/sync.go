package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/harborline/crm-platform/internal/accounting"
	"github.com/harborline/crm-platform/internal/syncer"
	"github.com/harborline/crm-platform/pkg/logging"
)

// AccountingSyncRunner runs a full accounting pull sync.
type AccountingSyncRunner interface {
	Run(ctx context.Context) (*syncer.AccountingSummary, error)
}

// TelephonySyncRunner runs a full telephony history import.
type TelephonySyncRunner interface {
	Run(ctx context.Context) (*syncer.TelephonySummary, error)
}

// SyncHandler exposes the manual sync triggers. Record-level errors come back
// embedded in a 200 summary; non-200 is reserved for total failure.
type SyncHandler struct {
	accounting AccountingSyncRunner
	telephony  TelephonySyncRunner
	logger     *logging.Logger
}

func NewSyncHandler(accountingSync AccountingSyncRunner, telephonySync TelephonySyncRunner, logger *logging.Logger) *SyncHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &SyncHandler{accounting: accountingSync, telephony: telephonySync, logger: logger}
}

// RunAccounting triggers a full accounting pull sync.
func (h *SyncHandler) RunAccounting(w http.ResponseWriter, r *http.Request) {
	if h.accounting == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "accounting sync not configured")
		return
	}
	summary, err := h.accounting.Run(r.Context())
	if err != nil {
		h.logger.Error("accounting sync failed", "error", err)
		writeJSONError(w, syncFailureStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// RunTelephony triggers a full telephony history import.
func (h *SyncHandler) RunTelephony(w http.ResponseWriter, r *http.Request) {
	if h.telephony == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "telephony sync not configured")
		return
	}
	summary, err := h.telephony.Run(r.Context())
	if err != nil {
		h.logger.Error("telephony import failed", "error", err)
		writeJSONError(w, syncFailureStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// syncFailureStatus distinguishes "fix your setup" from "provider is down".
func syncFailureStatus(err error) int {
	switch {
	case errors.Is(err, accounting.ErrConfigMissing):
		return http.StatusServiceUnavailable
	case errors.Is(err, accounting.ErrNotConnected):
		return http.StatusBadGateway
	default:
		return http.StatusBadGateway
	}
}
