package api

import (
	"encoding/json"
	"errors"
	"math"
	"math/big"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fluxfolio/engine/pkg/jobstore"
	"github.com/fluxfolio/engine/pkg/models"
)

// percentTolerance absorbs float drift when validating allocation sums
const percentTolerance = 0.01

func (s *Server) handleCreatePortfolio(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r)
	s.submit(w, r, models.CreatePortfolioPayload{Username: session.Username})
}

type buyBundleRequest struct {
	BundleID string              `json:"bundleId"`
	Amount   string              `json:"amount"`
	Quotes   []models.Quote      `json:"quotes"`
	Targets  []models.Allocation `json:"targets"`
}

func (s *Server) handleBuyBundle(w http.ResponseWriter, r *http.Request) {
	var req buyBundleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.BundleID == "" {
		writeError(w, http.StatusBadRequest, "bundleId is required")
		return
	}
	if !validBaseAmount(req.Amount) {
		writeError(w, http.StatusBadRequest, "amount must be a positive base-unit integer")
		return
	}
	if len(req.Quotes) == 0 || len(req.Quotes) != len(req.Targets) {
		writeError(w, http.StatusBadRequest, "quotes and targets must be non-empty and match in length")
		return
	}
	if !validAllocations(req.Targets) {
		writeError(w, http.StatusBadRequest, "target percentages must sum to 100")
		return
	}

	session := sessionFrom(r)
	s.submit(w, r, models.BuyBundlePayload{
		Username: session.Username,
		BundleID: req.BundleID,
		Amount:   req.Amount,
		Quotes:   req.Quotes,
		Targets:  req.Targets,
	})
}

type rebalanceRequest struct {
	Allocations []models.Allocation `json:"allocations"`
}

func (s *Server) handleRebalance(w http.ResponseWriter, r *http.Request) {
	var req rebalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if len(req.Allocations) == 0 {
		writeError(w, http.StatusBadRequest, "allocations are required")
		return
	}
	if !validAllocations(req.Allocations) {
		writeError(w, http.StatusBadRequest, "allocation percentages must sum to 100")
		return
	}

	session := sessionFrom(r)
	s.submit(w, r, models.RebalancePayload{
		Username:    session.Username,
		Allocations: req.Allocations,
	})
}

type withdrawRequest struct {
	Asset     string `json:"asset"`
	Amount    string `json:"amount"`
	Decimals  int    `json:"decimals"`
	ToAddress string `json:"toAddress"`
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Asset == "" {
		writeError(w, http.StatusBadRequest, "asset is required")
		return
	}
	if !validBaseAmount(req.Amount) {
		writeError(w, http.StatusBadRequest, "amount must be a positive base-unit integer")
		return
	}
	if req.ToAddress == "" {
		writeError(w, http.StatusBadRequest, "toAddress is required")
		return
	}

	session := sessionFrom(r)
	s.submit(w, r, models.WithdrawPayload{
		Username:  session.Username,
		Asset:     req.Asset,
		Amount:    req.Amount,
		Decimals:  req.Decimals,
		ToAddress: req.ToAddress,
	})
}

type assignAgentRequest struct {
	AgentID string `json:"agentId"`
}

func (s *Server) handleAssignAgent(w http.ResponseWriter, r *http.Request) {
	var req assignAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.AgentID == "" {
		writeError(w, http.StatusBadRequest, "agentId is required")
		return
	}

	session := sessionFrom(r)
	s.submit(w, r, models.AssignAgentPayload{
		Username: session.Username,
		AgentID:  req.AgentID,
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, err := s.store.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("Failed to load job %s: %v", jobID, err)
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}

	// Jobs are only visible to their owner
	session := sessionFrom(r)
	if job.OwnerID != "" && job.OwnerID != session.UserID {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r)

	jobs, err := s.store.ListJobsByOwner(r.Context(), session.UserID)
	if err != nil {
		s.logger.Error("Failed to list jobs for %s: %v", session.UserID, err)
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []*models.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

// validBaseAmount checks for a positive decimal integer string
func validBaseAmount(amount string) bool {
	value, ok := new(big.Int).SetString(amount, 10)
	return ok && value.Sign() > 0
}

// validAllocations checks every percentage is positive and the set sums to 100
func validAllocations(allocations []models.Allocation) bool {
	var total float64
	for _, a := range allocations {
		if a.AssetID == "" || a.Percentage <= 0 {
			return false
		}
		total += a.Percentage
	}
	return math.Abs(total-100) <= percentTolerance
}
