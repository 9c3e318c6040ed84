package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"markethours/internal/domain"
	"markethours/internal/engine"
	"markethours/internal/oracle"
	"markethours/internal/pda"
	"markethours/internal/program"
	"markethours/internal/store"
)

// CreateRequest is the body of POST /api/v1/oracle.
type CreateRequest struct {
	Signer pda.Address `json:"signer"`
	Payer  pda.Address `json:"payer"` // zero means the signer pays
}

// CrankRequest is the body of POST /api/v1/oracle/crank.
type CrankRequest struct {
	Signer pda.Address `json:"signer"`
}

// AirdropRequest is the body of POST /api/v1/airdrop.
type AirdropRequest struct {
	Address  pda.Address `json:"address"`
	Lamports uint64      `json:"lamports"`
}

// BalanceResponse reports the lamports held at an address.
type BalanceResponse struct {
	Address  pda.Address `json:"address"`
	Lamports uint64      `json:"lamports"`
}

// ReceiptsResponse lists receipts, newest first.
type ReceiptsResponse struct {
	Receipts []domain.Receipt `json:"receipts"`
}

// CallError is the body returned for a failed instruction.
type CallError struct {
	Error   string          `json:"error"`
	Receipt *domain.Receipt `json:"receipt,omitempty"`
}

var (
	errAirdropDisabled = errors.New("airdrop disabled")
	errRateLimited     = errors.New("rate limited")
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Status(r.Context())
	if err != nil {
		writeError(w, httpStatus(err), err.Error())
		return
	}
	writeJSON(w, st)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rc, err := s.svc.Create(r.Context(), req.Signer, req.Payer)
	if err != nil {
		writeCallError(w, err, rc)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(rc); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func (s *Server) handleCrank(w http.ResponseWriter, r *http.Request) {
	var req CrankRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rc, err := s.svc.Crank(r.Context(), req.Signer)
	if err != nil {
		writeCallError(w, err, rc)
		return
	}
	writeJSON(w, rc)
}

func (s *Server) handleAirdrop(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Server.AllowAirdrop {
		writeError(w, http.StatusForbidden, errAirdropDisabled.Error())
		return
	}
	var req AirdropRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Lamports == 0 {
		writeError(w, http.StatusBadRequest, "lamports must be positive")
		return
	}
	if !s.airdropLimiter.Allow(req.Address.String()) {
		writeError(w, http.StatusTooManyRequests, errRateLimited.Error())
		return
	}
	rc, err := s.svc.Airdrop(r.Context(), req.Address, req.Lamports)
	if err != nil {
		writeCallError(w, err, rc)
		return
	}
	writeJSON(w, rc)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := pda.ParseAddress(r.PathValue("address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	lamports, err := s.svc.Balance(r.Context(), addr)
	if err != nil {
		writeError(w, httpStatus(err), err.Error())
		return
	}
	writeJSON(w, BalanceResponse{Address: addr, Lamports: lamports})
}

func (s *Server) handleClock(w http.ResponseWriter, r *http.Request) {
	if v := r.URL.Query().Get("at"); v != "" {
		t, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid at %q", v))
			return
		}
		writeJSON(w, oracle.NewClockView(t))
		return
	}
	view, err := s.svc.Clock(r.Context())
	if err != nil {
		writeError(w, httpStatus(err), err.Error())
		return
	}
	writeJSON(w, view)
}

func (s *Server) handleReceipts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	end := time.Now().UTC()
	start := end.Add(-24 * time.Hour)
	var err error
	if v := q.Get("start"); v != "" {
		if start, err = time.Parse(time.RFC3339, v); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid start %q", v))
			return
		}
	}
	if v := q.Get("end"); v != "" {
		if end, err = time.Parse(time.RFC3339, v); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid end %q", v))
			return
		}
	}
	limit := 100
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", v))
			return
		}
	}

	receipts, err := s.svc.Receipts(r.Context(), start, end, limit)
	if err != nil {
		writeError(w, httpStatus(err), err.Error())
		return
	}
	if receipts == nil {
		receipts = []domain.Receipt{}
	}
	writeJSON(w, ReceiptsResponse{Receipts: receipts})
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// decodeBody parses a JSON body into v, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decoding request: %v", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func writeCallError(w http.ResponseWriter, err error, rc *domain.Receipt) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus(err))
	json.NewEncoder(w).Encode(CallError{Error: err.Error(), Receipt: rc})
}

// httpStatus maps a service error to an HTTP status code.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, oracle.ErrNotInitialized),
		errors.Is(err, store.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrAccountInUse):
		return http.StatusConflict
	case errors.Is(err, engine.ErrMissingSignature),
		errors.Is(err, engine.ErrMissingAccount),
		errors.Is(err, engine.ErrUnknownInstruction):
		return http.StatusBadRequest
	case errors.Is(err, program.ErrSeedsMismatch),
		errors.Is(err, engine.ErrIllegalOwner),
		errors.Is(err, engine.ErrInvalidSeeds),
		errors.Is(err, engine.ErrInsufficientFunds),
		errors.Is(err, domain.ErrUnknownValidationVersion),
		errors.Is(err, domain.ErrNotOracleAccount):
		return http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrClockUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
