package http

import (
	"net/http"

	"impegni/internal/core"
)

type statusRequest struct {
	Merchant  string `json:"merchant"`
	Status    string `json:"status"`
	ChangedAt string `json:"changedAt,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

type overrideRequest struct {
	Merchant           string  `json:"merchant"`
	Frequency          *string `json:"frequency,omitempty"`
	MonthlyAmountCents *int64  `json:"monthlyAmountCents,omitempty"`
}

type mergeRequest struct {
	Sources []string `json:"sources"`
	Target  string   `json:"target"`
}

type splitRequest struct {
	TransactionIDs []string `json:"transactionIds"`
	NewMerchant    string   `json:"newMerchant"`
}

type transactionRequest struct {
	TransactionID string `json:"transactionId"`
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	opts, err := parseDetectOptions(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	overview, err := s.service.Overview(r.Context(), opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

func (s *Server) handleTrend(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	opts, err := parseDetectOptions(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	points, err := s.service.Trend(r.Context(), opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"points": points})
}

func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req statusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	status, err := core.ParseStatus(req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var changedAt core.Date
	if req.ChangedAt != "" {
		if changedAt, err = core.ParseDate(req.ChangedAt); err != nil {
			writeError(w, r, core.Invalidf("invalid changedAt date %q", req.ChangedAt))
			return
		}
	}

	if err := s.service.SetStatus(r.Context(), req.Merchant, status, req.Notes, changedAt); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"merchant": req.Merchant, "status": string(status)})
}

func (s *Server) handleSetOverride(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req overrideRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	var frequency *core.Frequency
	if req.Frequency != nil {
		f, err := core.ParseFrequency(*req.Frequency)
		if err != nil {
			writeError(w, r, err)
			return
		}
		frequency = &f
	}

	if err := s.service.SetOverride(r.Context(), req.Merchant, frequency, req.MonthlyAmountCents); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"merchant": req.Merchant})
}

func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req mergeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	updated, err := s.service.MergeMerchants(r.Context(), req.Sources, req.Target)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"target": req.Target, "reassigned": updated})
}

func (s *Server) handleSplit(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req splitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	updated, err := s.service.SplitMerchant(r.Context(), req.TransactionIDs, req.NewMerchant)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"merchant": req.NewMerchant, "reassigned": updated})
}

func (s *Server) handleExcludeTransaction(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req transactionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.service.ExcludeTransaction(r.Context(), req.TransactionID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"transactionId": req.TransactionID})
}

func (s *Server) handleRestoreTransaction(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req transactionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.service.RestoreTransaction(r.Context(), req.TransactionID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"transactionId": req.TransactionID})
}
