package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"stablemarket/core/market"
	"stablemarket/core/units"
	"stablemarket/native/bank"
	nativecommon "stablemarket/native/common"
	"stablemarket/native/marketplace"
	"stablemarket/native/nft"
	"stablemarket/native/oracle"
	"stablemarket/services/marketd/history"
)

const maxRequestBody = 1 << 20

// OrderView is the JSON rendering of a sell order. Amounts are decimal
// strings in base units; USDPriceDisplay is the human readable price.
type OrderView struct {
	ID              uint64 `json:"id"`
	Asset           string `json:"asset"`
	TokenID         string `json:"tokenId"`
	Seller          string `json:"seller"`
	USDPrice        string `json:"usdPrice"`
	USDPriceDisplay string `json:"usdPriceDisplay"`
	Status          string `json:"status"`
	CreatedAt       uint64 `json:"createdAt"`
	ClosedAt        uint64 `json:"closedAt,omitempty"`
	Buyer           string `json:"buyer,omitempty"`
	PaidAmount      string `json:"paidAmount,omitempty"`
}

func newOrderView(o *marketplace.SellOrder) OrderView {
	view := OrderView{
		ID:              o.ID,
		Asset:           o.Asset.Hex(),
		TokenID:         o.TokenID.String(),
		Seller:          o.Seller.Hex(),
		USDPrice:        o.USDPrice.String(),
		USDPriceDisplay: units.FormatUSD(o.USDPrice),
		Status:          o.Status.String(),
		CreatedAt:       o.CreatedAt,
		ClosedAt:        o.ClosedAt,
	}
	if o.Sold() {
		view.Buyer = o.Buyer.Hex()
		view.PaidAmount = o.PaidAmount.String()
	}
	return view
}

// CreateOrderRequest lists an asset. USDPrice accepts decimals ("199.99").
type CreateOrderRequest struct {
	Asset    string `json:"asset"`
	TokenID  string `json:"tokenId"`
	USDPrice string `json:"usdPrice"`
}

// BuyOrderRequest pays Amount for an order. Amount is either wei or a
// decimal with an "eth" suffix.
type BuyOrderRequest struct {
	Amount string `json:"amount"`
}

// AssetRequest addresses one asset unit.
type AssetRequest struct {
	Asset    string `json:"asset"`
	TokenID  string `json:"tokenId"`
	Operator string `json:"operator,omitempty"`
	To       string `json:"to,omitempty"`
}

// FaucetRequest credits settlement currency on devnet.
type FaucetRequest struct {
	Address string `json:"address,omitempty"`
	Amount  string `json:"amount"`
}

// PauseRequest toggles the marketplace pause flag.
type PauseRequest struct {
	Paused bool `json:"paused"`
}

// EventView is the JSON rendering of a history record.
type EventView struct {
	Seq        uint64            `json:"seq"`
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	OrderID    *uint64           `json:"orderId,omitempty"`
	Actor      string            `json:"actor,omitempty"`
	Attributes map[string]string `json:"attributes"`
	Timestamp  int64             `json:"timestamp"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	var req CreateOrderRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tokenID, err := parseTokenID(req.TokenID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	price, err := units.ParseUSD(req.USDPrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid usdPrice: %v", err))
		return
	}
	id, err := s.market.CreateSellOrder(r.Context(), caller, asset, tokenID, price)
	if err != nil {
		s.writeMarketError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]uint64{"orderId": id})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	id, err := orderIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.market.CancelSellOrder(r.Context(), caller, id); err != nil {
		s.writeMarketError(w, err)
		return
	}
	s.writeOrder(w, id)
}

func (s *Server) handleBuyOrder(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	id, err := orderIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req BuyOrderRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := units.ParseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid amount: %v", err))
		return
	}
	if err := s.market.CreateBuyOrder(r.Context(), caller, id, amount); err != nil {
		s.writeMarketError(w, err)
		return
	}
	s.writeOrder(w, id)
}

func (s *Server) writeOrder(w http.ResponseWriter, id uint64) {
	order, err := s.market.Order(id)
	if err != nil {
		s.writeMarketError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderView(order))
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := orderIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeOrder(w, id)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var filter market.OrderFilter
	if raw := query.Get("seller"); raw != "" {
		seller, err := parseAddress("seller", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Seller = seller
	}
	switch strings.ToLower(query.Get("status")) {
	case "":
	case "active":
		filter.Status = marketplace.OrderActive
	case "inactive":
		filter.Status = marketplace.OrderInactive
	default:
		writeError(w, http.StatusBadRequest, "status must be active or inactive")
		return
	}
	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		filter.Offset = offset
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}
	orders, err := s.market.Orders(filter)
	if err != nil {
		s.writeMarketError(w, err)
		return
	}
	views := make([]OrderView, 0, len(orders))
	for _, order := range orders {
		views = append(views, newOrderView(order))
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": views})
}

func (s *Server) handleOrderPrice(w http.ResponseWriter, r *http.Request) {
	id, err := orderIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := s.market.ExpectedAmount(r.Context(), id)
	if err != nil {
		s.writeMarketError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"orderId":   id,
		"pair":      s.market.Pair(),
		"amount":    amount.String(),
		"formatted": units.FormatEther(amount),
	})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	amount, err := s.market.WithdrawAllFunds(r.Context(), caller)
	if err != nil {
		s.writeMarketError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"owner":     caller.Hex(),
		"amount":    amount.String(),
		"formatted": units.FormatEther(amount),
	})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	var req PauseRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.market.SetPaused(caller, req.Paused); err != nil {
		s.writeMarketError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": s.market.Paused()})
}

func (s *Server) handleFunds(w http.ResponseWriter, _ *http.Request) {
	balance, err := s.market.LedgerBalance()
	if err != nil {
		s.writeMarketError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"owner":     s.market.Owner().Hex(),
		"account":   s.market.Account().Hex(),
		"balance":   balance.String(),
		"formatted": units.FormatEther(balance),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusNotImplemented, "event history disabled")
		return
	}
	query := r.URL.Query()
	filter := history.Filter{Type: query.Get("type")}
	if raw := query.Get("orderId"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid orderId")
			return
		}
		filter.OrderID = &id
	}
	if raw := query.Get("actor"); raw != "" {
		actor, err := parseAddress("actor", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Actor = actor.Hex()
	}
	if raw := query.Get("after"); raw != "" {
		after, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid after")
			return
		}
		filter.AfterSeq = after
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = limit
	}
	records, err := s.events.List(r.Context(), filter)
	if err != nil {
		s.writeMarketError(w, err)
		return
	}
	views := make([]EventView, 0, len(records))
	for _, rec := range records {
		views = append(views, EventView{
			Seq:        rec.Seq,
			ID:         rec.EventID.String(),
			Type:       rec.Type,
			OrderID:    rec.OrderID,
			Actor:      rec.Actor,
			Attributes: rec.Attributes,
			Timestamp:  rec.CreatedAt.Unix(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": views})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	var req AssetRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	asset, tokenID, err := parseAssetRef(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	operator := s.market.Account()
	if req.Operator != "" {
		if operator, err = parseAddress("operator", req.Operator); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if err := s.market.ApproveAsset(r.Context(), caller, asset, tokenID, operator); err != nil {
		s.writeMarketError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"operator": operator.Hex()})
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	var req AssetRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	asset, tokenID, err := parseAssetRef(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to := caller
	if req.To != "" {
		if to, err = parseAddress("to", req.To); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if err := s.market.MintAsset(r.Context(), asset, tokenID, to); err != nil {
		s.writeMarketError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"owner": to.Hex()})
}

func (s *Server) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	asset, tokenID, err := parseAssetRef(AssetRequest{Asset: chi.URLParam(r, "asset"), TokenID: chi.URLParam(r, "tokenId")})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	owner, err := s.market.AssetOwner(asset, tokenID)
	if err != nil {
		s.writeMarketError(w, err)
		return
	}
	approved, err := s.market.AssetApproval(asset, tokenID)
	if err != nil {
		s.writeMarketError(w, err)
		return
	}
	resp := map[string]string{"asset": asset.Hex(), "tokenId": tokenID.String(), "owner": owner.Hex()}
	if approved != (common.Address{}) {
		resp["approved"] = approved.Hex()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	var req FaucetRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	target := caller
	if req.Address != "" {
		var err error
		if target, err = parseAddress("address", req.Address); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	amount, err := units.ParseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid amount: %v", err))
		return
	}
	if err := s.market.Faucet(r.Context(), target, amount); err != nil {
		s.writeMarketError(w, err)
		return
	}
	s.writeBalance(w, target)
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress("address", chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeBalance(w, addr)
}

func (s *Server) writeBalance(w http.ResponseWriter, addr common.Address) {
	balance, err := s.market.Balance(addr)
	if err != nil {
		s.writeMarketError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"address":   addr.Hex(),
		"balance":   balance.String(),
		"formatted": units.FormatEther(balance),
	})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, marketplace.ErrInvalidPrice),
		errors.Is(err, bank.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, marketplace.ErrInvalidValue),
		errors.Is(err, bank.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, marketplace.ErrInvalidCaller),
		errors.Is(err, nft.ErrNotOwner),
		errors.Is(err, nft.ErrNotApproved),
		errors.Is(err, market.ErrDevnetDisabled):
		return http.StatusForbidden
	case errors.Is(err, marketplace.ErrOrderNotFound),
		errors.Is(err, nft.ErrTokenNotFound):
		return http.StatusNotFound
	case errors.Is(err, marketplace.ErrInactiveOrder),
		errors.Is(err, nft.ErrTokenExists):
		return http.StatusConflict
	case errors.Is(err, marketplace.ErrStalePrice),
		errors.Is(err, marketplace.ErrInvalidQuote),
		errors.Is(err, oracle.ErrNoFreshQuote),
		errors.Is(err, oracle.ErrDeviantQuote),
		errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeMarketError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func orderIDParam(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid order id")
	}
	return id, nil
}

func parseAddress(field, raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%s must be a hex address", field)
	}
	return common.HexToAddress(raw), nil
}

func parseTokenID(raw string) (*big.Int, error) {
	id, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || id.Sign() < 0 {
		return nil, fmt.Errorf("tokenId must be a non-negative integer")
	}
	return id, nil
}

func parseAssetRef(req AssetRequest) (common.Address, *big.Int, error) {
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		return common.Address{}, nil, err
	}
	tokenID, err := parseTokenID(req.TokenID)
	if err != nil {
		return common.Address{}, nil, err
	}
	return asset, tokenID, nil
}
