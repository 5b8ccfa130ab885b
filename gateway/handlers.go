package gateway

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"orphi/commission"
	"orphi/core/types"
	"orphi/gateway/middleware"
	"orphi/ledger"
	"orphi/matrix"
	"orphi/pools"
	"orphi/withdraw"
)

type registerRequest struct {
	Member  string `json:"member"`
	Sponsor string `json:"sponsor"`
	Tier    uint8  `json:"tier"`
	// Amount is the contribution in minor currency units. Alternatively the
	// caller may submit Units plus PricePerUnit and the gateway converts.
	Amount       string `json:"amount,omitempty"`
	Units        string `json:"units,omitempty"`
	PricePerUnit string `json:"pricePerUnit,omitempty"`
}

type upgradeRequest struct {
	Tier         uint8  `json:"tier"`
	Amount       string `json:"amount,omitempty"`
	Units        string `json:"units,omitempty"`
	PricePerUnit string `json:"pricePerUnit,omitempty"`
}

type withdrawRequest struct {
	Amount string `json:"amount"`
}

type accrueRequest struct {
	Amount string `json:"amount"`
}

type memberResponse struct {
	Address        string `json:"address"`
	Sponsor        string `json:"sponsor,omitempty"`
	Tier           uint8  `json:"tier"`
	TotalInvested  string `json:"totalInvested"`
	LifetimeEarned string `json:"lifetimeEarned"`
	Withdrawable   string `json:"withdrawable"`
	Cap            string `json:"cap"`
	Headroom       string `json:"headroom"`
	Capped         bool   `json:"capped"`
	MatrixParent   string `json:"matrixParent,omitempty"`
	MatrixLeg      string `json:"matrixLeg"`
	LeftVolume     string `json:"leftVolume"`
	RightVolume    string `json:"rightVolume"`
	DirectCount    uint32 `json:"directCount"`
	TeamSize       uint64 `json:"teamSize"`
	RegisteredAt   int64  `json:"registeredAt"`
	Blacklisted    bool   `json:"blacklisted"`
	AutoCompound   bool   `json:"autoCompound"`
}

type creditLineResponse struct {
	Beneficiary string `json:"beneficiary"`
	Kind        string `json:"kind"`
	Level       int    `json:"level,omitempty"`
	Proposed    string `json:"proposed"`
	Credited    string `json:"credited"`
}

type receiptResponse struct {
	Member        string               `json:"member"`
	Tier          uint8                `json:"tier"`
	Gross         string               `json:"gross"`
	AdminFee      string               `json:"adminFee"`
	Distributable string               `json:"distributable"`
	Lines         []creditLineResponse `json:"lines"`
	PoolAccruals  map[string]string    `json:"poolAccruals"`
	TotalCredited string               `json:"totalCredited"`
	Breakage      string               `json:"breakage"`
}

type registerResponse struct {
	Parent  string          `json:"parent"`
	Leg     string          `json:"leg"`
	Depth   int             `json:"depth"`
	Receipt receiptResponse `json:"receipt"`
}

type withdrawResponse struct {
	Member      string `json:"member"`
	Requested   string `json:"requested"`
	AdminFee    string `json:"adminFee"`
	Net         string `json:"net"`
	PayableBps  uint32 `json:"payableBps"`
	DirectCount uint32 `json:"directCount"`
	Payable     string `json:"payable"`
	Reinvest    string `json:"reinvest"`
	Bonus       string `json:"bonus"`
	At          int64  `json:"at"`
}

type distributionResponse struct {
	Pool      string            `json:"pool"`
	At        int64             `json:"at"`
	Eligible  int               `json:"eligible"`
	PerShare  string            `json:"perShare"`
	TotalPaid string            `json:"totalPaid"`
	Breakage  string            `json:"breakage"`
	Remainder string            `json:"remainder"`
	Payouts   map[string]string `json:"payouts"`
}

func (s *Server) handleGetMember(w http.ResponseWriter, r *http.Request) {
	member, err := s.node.GetMember(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, memberToResponse(member))
}

func (s *Server) handleMatrixChildren(w http.ResponseWriter, r *http.Request) {
	left, right, err := s.node.MatrixChildren(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"left": left, "right": right})
}

func (s *Server) handleUpline(w http.ResponseWriter, r *http.Request) {
	chain, err := s.node.Upline(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]string, 0, len(chain))
	for _, ancestor := range chain {
		out = append(out, ancestor.Address)
	}
	writeJSON(w, http.StatusOK, map[string]any{"upline": out})
}

func (s *Server) handleRank(w http.ResponseWriter, r *http.Request) {
	rank, err := s.node.RankOf(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"rank": rank.String()})
}

func (s *Server) handleWithdrawalHistory(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeJSON(w, http.StatusOK, map[string]any{"withdrawals": []any{}})
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.writeBadRequest(w, "invalid limit")
			return
		}
		limit = parsed
	}
	records, err := s.audit.ListByMember(chi.URLParam(r, "id"), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"withdrawals": records})
}

func (s *Server) handlePoolBalances(w http.ResponseWriter, _ *http.Request) {
	balances, err := s.node.PoolBalances()
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make(map[string]string, len(balances))
	for name, balance := range balances {
		out[name] = balance.String()
	}
	writeJSON(w, http.StatusOK, map[string]any{"pools": out})
}

func (s *Server) handlePoolReadiness(w http.ResponseWriter, r *http.Request) {
	due, nextAt, err := s.node.Readiness(chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"due":    due,
		"nextAt": nextAt.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeBadRequest(w, "invalid request body")
		return
	}
	if req.Member == "" || req.Sponsor == "" {
		s.writeBadRequest(w, "member and sponsor are required")
		return
	}
	gross, err := resolveAmount(req.Amount, req.Units, req.PricePerUnit)
	if err != nil {
		s.writeBadRequest(w, err.Error())
		return
	}
	result, err := s.node.Register(req.Sponsor, req.Member, req.Tier, gross)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, registerResponse{
		Parent:  result.Position.Parent,
		Leg:     result.Position.Leg.String(),
		Depth:   result.Position.Depth,
		Receipt: receiptToResponse(result.Receipt),
	})
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	var req upgradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeBadRequest(w, "invalid request body")
		return
	}
	gross, err := resolveAmount(req.Amount, req.Units, req.PricePerUnit)
	if err != nil {
		s.writeBadRequest(w, err.Error())
		return
	}
	receipt, err := s.node.Upgrade(chi.URLParam(r, "id"), req.Tier, gross)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receiptToResponse(receipt))
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeBadRequest(w, "invalid request body")
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeBadRequest(w, err.Error())
		return
	}
	receipt, err := s.node.Withdraw(chi.URLParam(r, "id"), amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, withdrawResponse{
		Member:      receipt.Member,
		Requested:   receipt.Requested.String(),
		AdminFee:    receipt.AdminFee.String(),
		Net:         receipt.Net.String(),
		PayableBps:  receipt.PayableBps,
		DirectCount: receipt.DirectCount,
		Payable:     receipt.Payable.String(),
		Reinvest:    receipt.Reinvest.String(),
		Bonus:       receipt.Bonus.String(),
		At:          receipt.At.Unix(),
	})
}

func (s *Server) handleDistribute(w http.ResponseWriter, r *http.Request) {
	actor := middleware.Subject(r.Context())
	report, err := s.node.Distribute(chi.URLParam(r, "name"), time.Now().UTC(), actor)
	if err != nil {
		s.writeError(w, err)
		return
	}
	payouts := make(map[string]string, len(report.Payouts))
	for _, payout := range report.Payouts {
		payouts[payout.Member] = payout.Credited.String()
	}
	writeJSON(w, http.StatusOK, distributionResponse{
		Pool:      report.Pool,
		At:        report.At.Unix(),
		Eligible:  report.Eligible,
		PerShare:  report.PerShare.String(),
		TotalPaid: report.TotalPaid.String(),
		Breakage:  report.Breakage.String(),
		Remainder: report.Remainder.String(),
		Payouts:   payouts,
	})
}

func (s *Server) handleAccrue(w http.ResponseWriter, r *http.Request) {
	var req accrueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeBadRequest(w, "invalid request body")
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeBadRequest(w, err.Error())
		return
	}
	if err := s.node.Accrue(chi.URLParam(r, "name"), amount); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accrued"})
}

func memberToResponse(m *types.Member) memberResponse {
	return memberResponse{
		Address:        m.Address,
		Sponsor:        m.Sponsor,
		Tier:           m.Tier,
		TotalInvested:  m.TotalInvested.String(),
		LifetimeEarned: m.LifetimeEarned.String(),
		Withdrawable:   m.Withdrawable.String(),
		Cap:            m.Cap().String(),
		Headroom:       m.Headroom().String(),
		Capped:         m.Capped(),
		MatrixParent:   m.MatrixParent,
		MatrixLeg:      m.MatrixLeg.String(),
		LeftVolume:     m.LeftVolume.String(),
		RightVolume:    m.RightVolume.String(),
		DirectCount:    m.DirectCount,
		TeamSize:       m.TeamSize,
		RegisteredAt:   m.RegisteredAt,
		Blacklisted:    m.Blacklisted,
		AutoCompound:   m.AutoCompound,
	}
}

func receiptToResponse(receipt *commission.Receipt) receiptResponse {
	lines := make([]creditLineResponse, 0, len(receipt.Lines))
	for _, line := range receipt.Lines {
		lines = append(lines, creditLineResponse{
			Beneficiary: line.Beneficiary,
			Kind:        string(line.Kind),
			Level:       line.Level,
			Proposed:    line.Proposed.String(),
			Credited:    line.Credited.String(),
		})
	}
	accruals := make(map[string]string, len(receipt.PoolAccruals))
	for name, amount := range receipt.PoolAccruals {
		accruals[name] = amount.String()
	}
	return receiptResponse{
		Member:        receipt.Member,
		Tier:          receipt.Tier,
		Gross:         receipt.Gross.String(),
		AdminFee:      receipt.AdminFee.String(),
		Distributable: receipt.Distributable.String(),
		Lines:         lines,
		PoolAccruals:  accruals,
		TotalCredited: receipt.TotalCredited.String(),
		Breakage:      receipt.Breakage.String(),
	}
}

// resolveAmount prefers a minor-unit amount; otherwise converts units at the
// supplied quote.
func resolveAmount(amount, units, pricePerUnit string) (*big.Int, error) {
	if amount != "" {
		return parseAmount(amount)
	}
	if units == "" || pricePerUnit == "" {
		return nil, errors.New("amount or units with pricePerUnit required")
	}
	unitVal, err := parseAmount(units)
	if err != nil {
		return nil, err
	}
	price, err := parseAmount(pricePerUnit)
	if err != nil {
		return nil, err
	}
	return commission.ConvertUnits(unitVal, price), nil
}

func parseAmount(raw string) (*big.Int, error) {
	if raw == "" {
		return nil, errors.New("amount required")
	}
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok || value.Sign() <= 0 {
		return nil, errors.New("amount must be a positive integer")
	}
	return value, nil
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ledger.ErrUnknownMember),
		errors.Is(err, ledger.ErrUnknownPool),
		errors.Is(err, matrix.ErrUnknownSponsor):
		status = http.StatusNotFound
	case errors.Is(err, ledger.ErrMemberExists),
		errors.Is(err, matrix.ErrAlreadyPlaced),
		errors.Is(err, commission.ErrTierRegression),
		errors.Is(err, pools.ErrDistributionNotDue):
		status = http.StatusConflict
	case errors.Is(err, commission.ErrInvalidTier),
		errors.Is(err, withdraw.ErrInvalidAmount):
		status = http.StatusBadRequest
	case errors.Is(err, withdraw.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrInsufficientBalance):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, withdraw.ErrWithdrawalBlocked),
		errors.Is(err, pools.ErrNotAuthorized):
		status = http.StatusForbidden
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "error", err)
		writeJSON(w, status, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
