// Package httpapi is the request/response surface: REST handlers on a
// gorilla/mux router and Connect RPC procedures, both forwarding bids to
// the same arbitrator.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mcdev12/bidhouse/go/internal/auction"
	"github.com/mcdev12/bidhouse/go/internal/bidders"
	"github.com/mcdev12/bidhouse/go/internal/ledger"
	"github.com/mcdev12/bidhouse/go/internal/models"
	"github.com/mcdev12/bidhouse/go/internal/timesync"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// BidderHeader carries the caller's bidder id on REST and RPC requests.
const BidderHeader = "X-Bidder-ID"

// BidPlacer is the arbitrator as seen by the transports.
type BidPlacer interface {
	AttemptBid(ctx context.Context, req auction.BidRequest) auction.Outcome
}

// ItemStore is the read side of the ledger.
type ItemStore interface {
	GetItem(ctx context.Context, id uuid.UUID) (*models.AuctionItem, error)
	ListBids(ctx context.Context, itemID uuid.UUID, limit, offset int) ([]*models.Bid, error)
	CountBids(ctx context.Context, itemID uuid.UUID) (int, error)
	ListBidsByBidder(ctx context.Context, bidderID string, limit, offset int) ([]*models.Bid, error)
	CountBidsByBidder(ctx context.Context, bidderID string) (int, error)
}

// Handler contains HTTP request handlers
type Handler struct {
	bids        BidPlacer
	items       ItemStore
	oracle      *timesync.Oracle
	directory   bidders.Directory
	connections func() int
	health      healthChecks
}

func NewHandler(bids BidPlacer, items ItemStore, oracle *timesync.Oracle, directory bidders.Directory, connections func() int) *Handler {
	if connections == nil {
		connections = func() int { return 0 }
	}
	return &Handler{
		bids:        bids,
		items:       items,
		oracle:      oracle,
		directory:   directory,
		connections: connections,
	}
}

// RegisterRoutes configures the REST routes on router.
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/bids", h.PlaceBid).Methods(http.MethodPost)
	api.HandleFunc("/bids/user/me", h.MyBids).Methods(http.MethodGet)
	api.HandleFunc("/items/{id}", h.GetItem).Methods(http.MethodGet)
	api.HandleFunc("/items/{id}/bids", h.ListBids).Methods(http.MethodGet)
	api.HandleFunc("/time", h.ServerTime).Methods(http.MethodGet)
}

// PlaceBidRequest is the body of POST /api/bids.
type PlaceBidRequest struct {
	ItemID string          `json:"item_id"`
	Amount decimal.Decimal `json:"amount"`
}

// PlaceBidResponse is the body of a 201 from POST /api/bids.
type PlaceBidResponse struct {
	Message string              `json:"message"`
	Bid     *models.Bid         `json:"bid"`
	Item    *models.AuctionItem `json:"item"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error      string           `json:"error"`
	Message    string           `json:"message,omitempty"`
	CurrentBid *decimal.Decimal `json:"current_bid,omitempty"`
	YourBid    *decimal.Decimal `json:"your_bid,omitempty"`
}

// PlaceBid handles bid placement requests
func (h *Handler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	var req PlaceBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   auction.CodeInvalidInput,
			Message: "Invalid request body",
		})
		return
	}

	outcome := h.bids.AttemptBid(r.Context(), auction.BidRequest{
		ItemID:   req.ItemID,
		BidderID: r.Header.Get(BidderHeader),
		Amount:   req.Amount,
		Source:   models.BidSourceREST,
	})

	if outcome.Accepted() {
		respondJSON(w, http.StatusCreated, PlaceBidResponse{
			Message: outcome.Message(),
			Bid:     outcome.Bid,
			Item:    outcome.Item,
		})
		return
	}

	body := ErrorResponse{
		Error:   outcome.WireCode(),
		Message: outcome.Message(),
	}
	if outcome.Retryable() {
		current := outcome.CurrentBid
		body.CurrentBid = &current
	}
	if outcome.Kind == auction.OutcomeRejectedConflict {
		yours := req.Amount
		body.YourBid = &yours
	}
	respondJSON(w, statusForOutcome(outcome), body)
}

func statusForOutcome(o auction.Outcome) int {
	switch o.Kind {
	case auction.OutcomeAccepted:
		return http.StatusCreated
	case auction.OutcomeInvalidInput, auction.OutcomeRejectedTooLow:
		return http.StatusBadRequest
	case auction.OutcomeNotFound:
		return http.StatusNotFound
	case auction.OutcomeRejectedConflict:
		return http.StatusConflict
	case auction.OutcomeRejectedEnded:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

// ItemView is an item snapshot enriched for display.
type ItemView struct {
	*models.AuctionItem
	HighestBidderUsername string `json:"highest_bidder_username,omitempty"`
	TimeRemaining         int64  `json:"time_remaining"`
	BidCount              int    `json:"bid_count"`
}

// GetItem retrieves the current state of an item
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	id, ok := parseItemID(w, r)
	if !ok {
		return
	}

	view, err := h.itemView(r.Context(), id)
	if err != nil {
		h.respondLookupError(w, id, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (h *Handler) itemView(ctx context.Context, id uuid.UUID) (*ItemView, error) {
	item, err := h.items.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	count, err := h.items.CountBids(ctx, id)
	if err != nil {
		return nil, err
	}

	view := &ItemView{
		AuctionItem:   item,
		TimeRemaining: item.TimeRemaining(h.oracle.Now()),
		BidCount:      count,
	}
	if item.HighestBidderID != nil {
		view.HighestBidderUsername = bidders.Resolve(ctx, h.directory, *item.HighestBidderID)
	}
	return view, nil
}

// BidHistoryResponse is a page of an item's bids, newest first.
type BidHistoryResponse struct {
	Bids   []*models.Bid `json:"bids"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// ListBids returns an item's bid history
func (h *Handler) ListBids(w http.ResponseWriter, r *http.Request) {
	id, ok := parseItemID(w, r)
	if !ok {
		return
	}

	limit, offset := ledger.ClampPage(queryInt(r, "limit"), queryInt(r, "offset"))

	ctx := r.Context()
	if _, err := h.items.GetItem(ctx, id); err != nil {
		h.respondLookupError(w, id, err)
		return
	}
	bids, err := h.items.ListBids(ctx, id, limit, offset)
	if err != nil {
		h.respondLookupError(w, id, err)
		return
	}
	total, err := h.items.CountBids(ctx, id)
	if err != nil {
		h.respondLookupError(w, id, err)
		return
	}
	if bids == nil {
		bids = []*models.Bid{}
	}

	respondJSON(w, http.StatusOK, BidHistoryResponse{
		Bids:   bids,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// MyBid is one of the caller's bids tagged with their standing on the item.
type MyBid struct {
	*models.Bid
	Status models.BidStanding  `json:"status"`
	Item   *models.AuctionItem `json:"item,omitempty"`
}

// MyBidsResponse is a page of the caller's bids across items, newest first.
type MyBidsResponse struct {
	Bids   []MyBid `json:"bids"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// MyBids lists the calling bidder's own bids with WINNING, OUTBID, WON or LOST
// computed from each item's current state.
func (h *Handler) MyBids(w http.ResponseWriter, r *http.Request) {
	bidderID := r.Header.Get(BidderHeader)
	if bidderID == "" {
		respondJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   auction.CodeInvalidInput,
			Message: "Bidder ID is required",
		})
		return
	}

	limit, offset := ledger.ClampPage(queryInt(r, "limit"), queryInt(r, "offset"))

	ctx := r.Context()
	bids, err := h.items.ListBidsByBidder(ctx, bidderID, limit, offset)
	if err != nil {
		h.respondBidderError(w, bidderID, err)
		return
	}
	total, err := h.items.CountBidsByBidder(ctx, bidderID)
	if err != nil {
		h.respondBidderError(w, bidderID, err)
		return
	}

	items := make(map[uuid.UUID]*models.AuctionItem)
	out := make([]MyBid, 0, len(bids))
	for _, b := range bids {
		item, seen := items[b.ItemID]
		if !seen {
			item, err = h.items.GetItem(ctx, b.ItemID)
			if err != nil && !errors.Is(err, ledger.ErrItemNotFound) {
				h.respondBidderError(w, bidderID, err)
				return
			}
			items[b.ItemID] = item
		}
		out = append(out, MyBid{Bid: b, Status: item.StandingOf(bidderID), Item: item})
	}

	respondJSON(w, http.StatusOK, MyBidsResponse{
		Bids:   out,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

func (h *Handler) respondBidderError(w http.ResponseWriter, bidderID string, err error) {
	log.Error().Err(err).Str("bidder_id", bidderID).Msg("failed to read bidder bids")
	respondJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   auction.CodeServerError,
		Message: "Failed to retrieve bids",
	})
}

// ServerTime returns the authoritative clock for clients that poll instead
// of holding a WebSocket.
func (h *Handler) ServerTime(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.oracle.Snapshot())
}

func (h *Handler) respondLookupError(w http.ResponseWriter, id uuid.UUID, err error) {
	if errors.Is(err, ledger.ErrItemNotFound) {
		respondJSON(w, http.StatusNotFound, ErrorResponse{
			Error:   auction.CodeItemNotFound,
			Message: "Auction item not found",
		})
		return
	}
	log.Error().Err(err).Str("item_id", id.String()).Msg("failed to read item")
	respondJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   auction.CodeServerError,
		Message: "Failed to retrieve item",
	})
}

func parseItemID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   auction.CodeInvalidInput,
			Message: "Item ID is malformed",
		})
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(r *http.Request, key string) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return v
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
