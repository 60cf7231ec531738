package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stablevault/native/vault"
	"stablevault/observability/metrics"
)

// Config defines HTTP server parameters.
type Config struct {
	AdminToken string
	AdminAddr  common.Address
}

// Server exposes the vault engine over HTTP.
type Server struct {
	engine     *vault.Engine
	logger     *slog.Logger
	metrics    *metrics.VaultMetrics
	adminToken string
	adminAddr  common.Address
}

// New constructs the HTTP surface around an engine.
func New(cfg Config, engine *vault.Engine, logger *slog.Logger) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("server: engine required")
	}
	if strings.TrimSpace(cfg.AdminToken) == "" {
		return nil, fmt.Errorf("server: admin token required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:     engine,
		logger:     logger,
		metrics:    metrics.Vault(),
		adminToken: cfg.AdminToken,
		adminAddr:  cfg.AdminAddr,
	}, nil
}

// Router assembles the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Route("/v1", func(r chi.Router) {
		r.Post("/deposits/token", s.handleDepositToken)
		r.Post("/deposits/native", s.handleDepositNative)
		r.Post("/withdrawals", s.handleWithdraw)
		r.Get("/balances/{address}", s.handleBalance)
		r.Get("/bank", s.handleBank)
		r.Route("/admin", func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Post("/pause", s.handlePause)
			r.Post("/unpause", s.handleUnpause)
		})
	})
	return r
}

type depositTokenRequest struct {
	Depositor string `json:"depositor"`
	Asset     string `json:"asset"`
	Amount    string `json:"amount"`
}

type depositNativeRequest struct {
	Depositor string `json:"depositor"`
	Amount    string `json:"amount"`
}

type withdrawRequest struct {
	Depositor string `json:"depositor"`
	Amount    string `json:"amount"`
}

type depositResponse struct {
	ID       string `json:"id"`
	Class    string `json:"class"`
	Credited string `json:"credited"`
	Bridged  bool   `json:"bridged"`
}

type withdrawResponse struct {
	ID     string `json:"id"`
	Amount string `json:"amount"`
}

type balanceResponse struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

type bankResponse struct {
	Held string `json:"held"`
}

type errorResponse struct {
	Error   string            `json:"error"`
	Kind    string            `json:"kind"`
	Context map[string]string `json:"context,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDepositToken(w http.ResponseWriter, r *http.Request) {
	var req depositTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMalformed(w)
		return
	}
	depositor, err := parseAddress(req.Depositor)
	if err != nil {
		s.writeError(w, err)
		return
	}
	asset, err := parseAddress(req.Asset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	record, err := s.engine.DepositToken(r.Context(), depositor, asset, amount)
	if err != nil {
		s.metrics.ObserveDepositFailure(errorKind(err))
		s.writeError(w, err)
		return
	}
	s.metrics.ObserveDeposit(string(record.Class), record.Bridged)
	s.publishHeldValue(r)
	s.logger.Info("deposit normalised",
		"id", record.ID,
		"depositor", record.Depositor.Hex(),
		"class", record.Class,
		"credited", record.Credited.String(),
		"bridged", record.Bridged,
	)
	writeJSON(w, http.StatusOK, depositResponse{
		ID:       record.ID,
		Class:    string(record.Class),
		Credited: record.Credited.String(),
		Bridged:  record.Bridged,
	})
}

func (s *Server) handleDepositNative(w http.ResponseWriter, r *http.Request) {
	var req depositNativeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMalformed(w)
		return
	}
	depositor, err := parseAddress(req.Depositor)
	if err != nil {
		s.writeError(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	record, err := s.engine.DepositNative(r.Context(), depositor, amount)
	if err != nil {
		s.metrics.ObserveDepositFailure(errorKind(err))
		s.writeError(w, err)
		return
	}
	s.metrics.ObserveDeposit(string(record.Class), record.Bridged)
	s.publishHeldValue(r)
	s.logger.Info("native deposit normalised",
		"id", record.ID,
		"depositor", record.Depositor.Hex(),
		"credited", record.Credited.String(),
	)
	writeJSON(w, http.StatusOK, depositResponse{
		ID:       record.ID,
		Class:    string(record.Class),
		Credited: record.Credited.String(),
	})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMalformed(w)
		return
	}
	depositor, err := parseAddress(req.Depositor)
	if err != nil {
		s.writeError(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	record, err := s.engine.Withdraw(r.Context(), depositor, amount)
	if err != nil {
		s.metrics.ObserveWithdrawalFailure(errorKind(err))
		s.writeError(w, err)
		return
	}
	s.metrics.ObserveWithdrawal()
	s.publishHeldValue(r)
	s.logger.Info("withdrawal settled",
		"id", record.ID,
		"depositor", record.Depositor.Hex(),
		"amount", record.Amount.String(),
	)
	writeJSON(w, http.StatusOK, withdrawResponse{ID: record.ID, Amount: record.Amount.String()})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	address, err := parseAddress(chi.URLParam(r, "address"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	balance, err := s.engine.UserBalance(address)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Address: address.Hex(), Balance: balance.String()})
}

func (s *Server) handleBank(w http.ResponseWriter, r *http.Request) {
	held, err := s.engine.BankBalance(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bankResponse{Held: held.String()})
}

func (s *Server) handlePause(w http.ResponseWriter, _ *http.Request) {
	if err := s.engine.Pause(s.adminAddr); err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("vault paused", "caller", s.adminAddr.Hex())
	writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

func (s *Server) handleUnpause(w http.ResponseWriter, _ *http.Request) {
	if err := s.engine.Unpause(s.adminAddr); err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("vault unpaused", "caller", s.adminAddr.Hex())
	writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid admin token", Kind: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) publishHeldValue(r *http.Request) {
	held, err := s.engine.BankBalance(r.Context())
	if err != nil {
		return
	}
	value, _ := new(big.Float).SetInt(held).Float64()
	s.metrics.SetHeldValue(value)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	resp := errorResponse{Error: err.Error(), Kind: errorKind(err)}

	switch {
	case errors.Is(err, vault.ErrInvalidAmount), errors.Is(err, vault.ErrZeroAddress):
		status = http.StatusBadRequest
	case errors.Is(err, vault.ErrValueNotReceived):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, vault.ErrPaused):
		status = http.StatusServiceUnavailable
	case errors.Is(err, vault.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, vault.ErrUnsupportedAsset):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, vault.ErrCapacityExceeded):
		status = http.StatusUnprocessableEntity
		var capErr *vault.CapacityExceededError
		if errors.As(err, &capErr) {
			resp.Context = map[string]string{
				"held":   capErr.Held.String(),
				"amount": capErr.Amount.String(),
				"cap":    capErr.Cap.String(),
			}
		}
	case errors.Is(err, vault.ErrLimitExceeded):
		status = http.StatusUnprocessableEntity
		var limitErr *vault.LimitExceededError
		if errors.As(err, &limitErr) {
			resp.Context = map[string]string{
				"requested": limitErr.Amount.String(),
				"max":       limitErr.Max.String(),
			}
		}
	case errors.Is(err, vault.ErrInsufficientBalance):
		status = http.StatusUnprocessableEntity
		var balErr *vault.InsufficientBalanceError
		if errors.As(err, &balErr) {
			resp.Context = map[string]string{
				"requested": balErr.Amount.String(),
				"balance":   balErr.Balance.String(),
			}
		}
	}
	writeJSON(w, status, resp)
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, vault.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, vault.ErrZeroAddress):
		return "zero_address"
	case errors.Is(err, vault.ErrPaused):
		return "paused"
	case errors.Is(err, vault.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, vault.ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, vault.ErrLimitExceeded):
		return "limit_exceeded"
	case errors.Is(err, vault.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, vault.ErrValueNotReceived):
		return "value_not_received"
	case errors.Is(err, vault.ErrUnsupportedAsset):
		return "unsupported_asset"
	case errors.Is(err, vault.ErrNoLiquidity):
		return "no_liquidity"
	case errors.Is(err, vault.ErrSwapFailed):
		return "swap_failed"
	default:
		return "internal"
	}
}

func parseAddress(raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("%w: invalid address %q", vault.ErrZeroAddress, raw)
	}
	return common.HexToAddress(trimmed), nil
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: invalid amount %q", vault.ErrInvalidAmount, raw)
	}
	return amount, nil
}

func writeMalformed(w http.ResponseWriter) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body", Kind: "malformed_body"})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
