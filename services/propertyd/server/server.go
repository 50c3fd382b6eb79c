package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"drems/core/events"
	"drems/native/bridge"
	"drems/native/collateral"
	"drems/native/pricefeed"
	"drems/native/rent"
	"drems/native/schedule"
	"drems/native/valuation"
	"drems/observability"
)

// ValuationReader exposes stored valuations to the API.
type ValuationReader interface {
	GetValuation(propertyID string) (*valuation.PropertyValuation, bool, error)
}

// Server exposes the accounting core over HTTP.
type Server struct {
	ledger     *bridge.Ledger
	engine     *collateral.Engine
	oracle     *pricefeed.Aggregator
	rents      rent.Store
	schedules  schedule.Store
	valuations ValuationReader
	bus        *events.Bus
	logger     *slog.Logger
}

// New constructs the HTTP server facade. Nil components disable their routes'
// behaviour with 503 responses rather than panics.
func New(ledger *bridge.Ledger, engine *collateral.Engine, oracle *pricefeed.Aggregator, rents rent.Store, schedules schedule.Store, valuations ValuationReader, bus *events.Bus, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		ledger:     ledger,
		engine:     engine,
		oracle:     oracle,
		rents:      rents,
		schedules:  schedules,
		valuations: valuations,
		bus:        bus,
		logger:     logger,
	}
}

// Router assembles the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/bridge/transfers", func(r chi.Router) {
			r.Post("/", s.handleBridgeSubmit)
			r.Get("/{messageID}", s.handleBridgeStatus)
			r.Post("/{messageID}/inflight", s.handleBridgeInFlight)
			r.Post("/{messageID}/delivered", s.handleBridgeDelivered)
			r.Post("/{messageID}/failed", s.handleBridgeFailed)
		})
		r.Route("/positions", func(r chi.Router) {
			r.Post("/open", s.handlePositionOpen)
			r.Post("/close", s.handlePositionClose)
			r.Post("/liquidate", s.handlePositionLiquidate)
			r.Get("/{owner}/{token}", s.handlePositionGet)
		})
		r.Route("/properties/{propertyID}", func(r chi.Router) {
			r.Get("/valuation", s.handleValuation)
			r.Get("/rent/{periodKey}", s.handleRentRecord)
			r.Get("/schedule", s.handleSchedule)
		})
	})

	r.Get("/ws/events", s.handleEventStream)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

type bridgeSubmitRequest struct {
	Sender             string `json:"sender"`
	Recipient          string `json:"recipient"`
	Token              string `json:"token"`
	Amount             string `json:"amount"`
	SourceChainID      uint64 `json:"sourceChainId"`
	DestinationChainID uint64 `json:"destinationChainId"`
	FeePaid            string `json:"feePaid"`
}

func parseAmount(raw string) (*big.Int, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), true
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	return value, ok
}

func (s *Server) handleBridgeSubmit(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("bridge ledger unavailable"))
		return
	}
	var req bridgeSubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		writeError(w, http.StatusBadRequest, errors.New("invalid amount"))
		return
	}
	fee, ok := parseAmount(req.FeePaid)
	if !ok {
		writeError(w, http.StatusBadRequest, errors.New("invalid fee"))
		return
	}
	record, err := s.ledger.Submit(
		common.HexToAddress(req.Sender),
		common.HexToAddress(req.Recipient),
		common.HexToAddress(req.Token),
		amount,
		req.SourceChainID,
		req.DestinationChainID,
		fee,
	)
	if err != nil {
		if errors.Is(err, bridge.ErrInsufficientFee) {
			writeError(w, http.StatusPaymentRequired, err)
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}
	observability.Bridge().Transition(record.Status.String())
	writeJSON(w, http.StatusCreated, record)
}

func (s *Server) messageID(r *http.Request) common.Hash {
	return common.HexToHash(chi.URLParam(r, "messageID"))
}

func (s *Server) handleBridgeStatus(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("bridge ledger unavailable"))
		return
	}
	record, err := s.ledger.Transfer(s.messageID(r))
	if err != nil {
		if errors.Is(err, bridge.ErrUnknownMessage) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleBridgeInFlight(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("bridge ledger unavailable"))
		return
	}
	if err := s.ledger.MarkInFlight(s.messageID(r)); err != nil {
		s.bridgeTransitionError(w, err)
		return
	}
	observability.Bridge().Transition(bridge.StatusInFlight.String())
	writeJSON(w, http.StatusOK, map[string]string{"status": bridge.StatusInFlight.String()})
}

func (s *Server) handleBridgeDelivered(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil || s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("bridge ledger unavailable"))
		return
	}
	err := s.ledger.MarkDelivered(s.messageID(r), s.engine.CreditCollateral)
	if err != nil {
		if errors.Is(err, bridge.ErrDuplicateDelivery) {
			observability.Bridge().Duplicate()
			writeError(w, http.StatusConflict, err)
			return
		}
		s.bridgeTransitionError(w, err)
		return
	}
	observability.Bridge().Transition(bridge.StatusCompleted.String())
	writeJSON(w, http.StatusOK, map[string]string{"status": bridge.StatusCompleted.String()})
}

func (s *Server) handleBridgeFailed(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("bridge ledger unavailable"))
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if err := s.ledger.MarkFailed(s.messageID(r), req.Reason); err != nil {
		s.bridgeTransitionError(w, err)
		return
	}
	observability.Bridge().Transition(bridge.StatusFailed.String())
	writeJSON(w, http.StatusOK, map[string]string{"status": bridge.StatusFailed.String()})
}

func (s *Server) bridgeTransitionError(w http.ResponseWriter, err error) {
	if errors.Is(err, bridge.ErrUnknownMessage) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeError(w, http.StatusConflict, err)
}

type positionRequest struct {
	Owner      string `json:"owner"`
	Token      string `json:"token"`
	Collateral string `json:"collateral"`
	Synthetic  string `json:"synthetic"`
	Pair       string `json:"pair"`
}

func (s *Server) handlePositionOpen(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("collateral engine unavailable"))
		return
	}
	var req positionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	deposit, ok := parseAmount(req.Collateral)
	if !ok {
		writeError(w, http.StatusBadRequest, errors.New("invalid collateral amount"))
		return
	}
	mint, ok := parseAmount(req.Synthetic)
	if !ok {
		writeError(w, http.StatusBadRequest, errors.New("invalid synthetic amount"))
		return
	}
	if s.oracle == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("price oracle unavailable"))
		return
	}
	quote, err := s.oracle.GetQuote(r.Context(), req.Pair)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	position, err := s.engine.OpenOrIncrease(common.HexToAddress(req.Owner), common.HexToAddress(req.Token), deposit, mint, quote)
	if err != nil {
		if errors.Is(err, collateral.ErrInsufficientCollateral) {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}
	observability.Collateral().Position("open")
	writeJSON(w, http.StatusOK, position)
}

func (s *Server) handlePositionClose(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("collateral engine unavailable"))
		return
	}
	var req positionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	burn, ok := parseAmount(req.Synthetic)
	if !ok {
		writeError(w, http.StatusBadRequest, errors.New("invalid synthetic amount"))
		return
	}
	released, err := s.engine.DecreaseOrClose(common.HexToAddress(req.Owner), common.HexToAddress(req.Token), burn)
	if err != nil {
		if errors.Is(err, collateral.ErrInvalidBurnAmount) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeError(w, http.StatusConflict, err)
		return
	}
	observability.Collateral().Position("close")
	writeJSON(w, http.StatusOK, map[string]string{"releasedCollateral": released.String()})
}

func (s *Server) handlePositionLiquidate(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil || s.oracle == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("collateral engine unavailable"))
		return
	}
	var req positionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	quote, err := s.oracle.GetQuote(r.Context(), req.Pair)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	seized, returned, err := s.engine.Liquidate(common.HexToAddress(req.Owner), common.HexToAddress(req.Token), quote)
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	observability.Collateral().Liquidation(s.engine.ProtocolShortfallUSD())
	writeJSON(w, http.StatusOK, map[string]string{
		"collateralSeized":   seized.String(),
		"collateralReturned": returned.String(),
	})
}

func (s *Server) handlePositionGet(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("collateral engine unavailable"))
		return
	}
	owner := common.HexToAddress(chi.URLParam(r, "owner"))
	token := common.HexToAddress(chi.URLParam(r, "token"))
	position, err := s.engine.Position(owner, token)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if position == nil || position.State == collateral.StateEmpty {
		writeError(w, http.StatusNotFound, errors.New("position not found"))
		return
	}
	writeJSON(w, http.StatusOK, position)
}

func (s *Server) handleValuation(w http.ResponseWriter, r *http.Request) {
	if s.valuations == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("valuation store unavailable"))
		return
	}
	record, ok, err := s.valuations.GetValuation(chi.URLParam(r, "propertyID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("valuation not found"))
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleRentRecord(w http.ResponseWriter, r *http.Request) {
	if s.rents == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("rent store unavailable"))
		return
	}
	record, ok, err := s.rents.GetRecord(chi.URLParam(r, "propertyID"), chi.URLParam(r, "periodKey"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("rent record not found"))
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	if s.schedules == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("schedule store unavailable"))
		return
	}
	sched, ok, err := s.schedules.GetSchedule(chi.URLParam(r, "propertyID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("schedule not found"))
		return
	}
	writeJSON(w, http.StatusOK, sched)
}
