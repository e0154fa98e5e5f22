package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/holiman/uint256"

	"time26-oracle/internal/eligibility"
	"time26-oracle/internal/fixedpoint"
	"time26-oracle/internal/storage"
)

type pricesResponse struct {
	TIME26USD string `json:"time26Usd"`
	POLUSD    string `json:"polUsd"`
	Ratio     string `json:"ratio"`
	Fresh     bool   `json:"fresh"`
}

func (s *server) handlePrices(w http.ResponseWriter, _ *http.Request) {
	snap, err := s.prices.StaleSnapshot()
	if err != nil {
		s.writeOracleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pricesResponse{
		TIME26USD: snap.TIME26USD.String(),
		POLUSD:    snap.POLUSD.String(),
		Ratio:     snap.Ratio.String(),
		Fresh:     snap.Fresh,
	})
}

type quoteResponse struct {
	CostTIME26          string `json:"costTime26"`
	CostNative          string `json:"costNative"`
	CostTIME26Formatted string `json:"costTime26Formatted"`
	CostNativeFormatted string `json:"costNativeFormatted"`
	TIME26USD           string `json:"time26Usd"`
	POLUSD              string `json:"polUsd"`
	Ratio               string `json:"ratio"`
}

// handleQuote converts a cost given either in TIME26 (mintCost) or POL (nativeCost) smallest units.
func (s *server) handleQuote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mintRaw, nativeRaw := q.Get("mintCost"), q.Get("nativeCost")
	if (mintRaw == "") == (nativeRaw == "") {
		writeError(w, http.StatusBadRequest, "exactly one of mintCost or nativeCost is required")
		return
	}

	snap, err := s.prices.Snapshot(r.Context())
	if err != nil {
		s.writeOracleError(w, err)
		return
	}

	var time26, native *uint256.Int
	if mintRaw != "" {
		if time26, err = fixedpoint.ParseAmount(mintRaw); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("mintCost: %v", err))
			return
		}
		reciprocal, rerr := fixedpoint.RatioFromPrices(snap.TIME26USD, snap.POLUSD)
		if rerr != nil {
			s.writeOracleError(w, rerr)
			return
		}
		native, err = fixedpoint.Convert(time26, reciprocal)
	} else {
		if native, err = fixedpoint.ParseAmount(nativeRaw); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("nativeCost: %v", err))
			return
		}
		time26, err = fixedpoint.Convert(native, snap.ScaledRatio)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, quoteResponse{
		CostTIME26:          time26.Dec(),
		CostNative:          native.Dec(),
		CostTIME26Formatted: fixedpoint.Format(time26, eligibility.DisplayDecimals),
		CostNativeFormatted: fixedpoint.Format(native, eligibility.DisplayDecimals),
		TIME26USD:           snap.TIME26USD.String(),
		POLUSD:              snap.POLUSD.String(),
		Ratio:               snap.Ratio.String(),
	})
}

type eligibilityRequest struct {
	UnclaimedBalance string `json:"unclaimedBalance"`
	MintCost         string `json:"mintCost"`
	EstimatedGasWei  string `json:"estimatedGasWei"`
}

func (s *server) handleEligibility(w http.ResponseWriter, r *http.Request) {
	var body eligibilityRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req := eligibility.Request{}
	fields := []struct {
		name string
		raw  string
		dst  **uint256.Int
	}{
		{"unclaimedBalance", body.UnclaimedBalance, &req.UnclaimedBalance},
		{"mintCost", body.MintCost, &req.MintCost},
		{"estimatedGasWei", body.EstimatedGasWei, &req.EstimatedGasWei},
	}
	for _, f := range fields {
		v, err := fixedpoint.ParseAmount(f.raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("%s: %v", f.name, err))
			return
		}
		*f.dst = v
	}

	result, err := s.evaluator.Evaluate(r.Context(), req)
	if err != nil {
		s.writeOracleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type verificationEntry struct {
	Day             string  `json:"day"`
	BlockNumber     *int64  `json:"blockNumber,omitempty"`
	InitialDeposit  string  `json:"initialDeposit"`
	ContractBalance string  `json:"contractBalance"`
	TotalBurned     string  `json:"totalBurned"`
	TotalClaimed    string  `json:"totalClaimed"`
	Difference      string  `json:"difference"`
	IsValid         bool    `json:"isValid"`
	Status          string  `json:"status"`
	Error           *string `json:"error,omitempty"`
}

func (s *server) handleVerification(w http.ResponseWriter, r *http.Request) {
	if s.snapshots == nil {
		writeError(w, http.StatusServiceUnavailable, "settlement storage disabled")
		return
	}

	limit := defaultSnapshotLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxSnapshotLimit)
	}

	snaps, err := s.snapshots.ListRecentSnapshots(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("list snapshots failed")
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}

	entries := make([]verificationEntry, 0, len(snaps))
	for _, snap := range snaps {
		entries = append(entries, toEntry(snap))
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": entries})
}

func toEntry(s storage.SettlementSnapshot) verificationEntry {
	diff := "0"
	if s.Difference != nil {
		diff = s.Difference.String()
	}
	return verificationEntry{
		Day:             s.Day.UTC().Format(time.DateOnly),
		BlockNumber:     s.BlockNumber,
		InitialDeposit:  decOrZero(s.InitialDeposit),
		ContractBalance: decOrZero(s.ContractBalance),
		TotalBurned:     decOrZero(s.TotalBurned),
		TotalClaimed:    decOrZero(s.TotalClaimed),
		Difference:      diff,
		IsValid:         s.IsValid,
		Status:          s.Status,
		Error:           s.Error,
	}
}

func decOrZero(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
