package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mcdev12/bidhouse/go/internal/auction"
	"github.com/mcdev12/bidhouse/go/internal/ledger"
	"github.com/mcdev12/bidhouse/go/internal/models"
	"github.com/mcdev12/bidhouse/go/internal/timesync"
	"github.com/shopspring/decimal"
)

const (
	// BidServiceName is the fully-qualified name of the bid RPC service.
	BidServiceName = "bidhouse.v1.BidService"

	BidServicePlaceBidProcedure = "/" + BidServiceName + "/PlaceBid"
	BidServiceGetItemProcedure  = "/" + BidServiceName + "/GetItem"
	BidServiceGetTimeProcedure  = "/" + BidServiceName + "/GetTime"

	// ErrorCodeHeader carries the wire code on RPC errors so clients can tell
	// rejections that share a Connect code apart.
	ErrorCodeHeader = "Bid-Error-Code"
)

type RPCPlaceBidRequest struct {
	ItemID string          `json:"item_id"`
	Amount decimal.Decimal `json:"amount"`
}

type RPCPlaceBidResponse struct {
	Bid  *models.Bid         `json:"bid"`
	Item *models.AuctionItem `json:"item"`
}

type RPCGetItemRequest struct {
	ItemID string `json:"item_id"`
}

type RPCGetItemResponse struct {
	Item *ItemView `json:"item"`
}

type RPCGetTimeRequest struct{}

type RPCGetTimeResponse struct {
	Time timesync.Snapshot `json:"time"`
}

// RPCService implements the BidService Connect procedures
type RPCService struct {
	handler *Handler
}

func NewRPCService(h *Handler) *RPCService {
	return &RPCService{handler: h}
}

// PlaceBid runs a bid through the arbitrator; the bidder comes from the
// X-Bidder-ID header.
func (s *RPCService) PlaceBid(ctx context.Context, req *connect.Request[RPCPlaceBidRequest]) (*connect.Response[RPCPlaceBidResponse], error) {
	outcome := s.handler.bids.AttemptBid(ctx, auction.BidRequest{
		ItemID:   req.Msg.ItemID,
		BidderID: req.Header().Get(BidderHeader),
		Amount:   req.Msg.Amount,
		Source:   models.BidSourceRPC,
	})
	if !outcome.Accepted() {
		return nil, outcomeError(outcome)
	}
	return connect.NewResponse(&RPCPlaceBidResponse{
		Bid:  outcome.Bid,
		Item: outcome.Item,
	}), nil
}

// GetItem retrieves an item snapshot by ID
func (s *RPCService) GetItem(ctx context.Context, req *connect.Request[RPCGetItemRequest]) (*connect.Response[RPCGetItemResponse], error) {
	id, err := uuid.Parse(req.Msg.ItemID)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	view, err := s.handler.itemView(ctx, id)
	if err != nil {
		if errors.Is(err, ledger.ErrItemNotFound) {
			return nil, connect.NewError(connect.CodeNotFound, err)
		}
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(&RPCGetItemResponse{Item: view}), nil
}

func (s *RPCService) GetTime(_ context.Context, _ *connect.Request[RPCGetTimeRequest]) (*connect.Response[RPCGetTimeResponse], error) {
	return connect.NewResponse(&RPCGetTimeResponse{Time: s.handler.oracle.Snapshot()}), nil
}

// RegisterRoutes mounts every procedure on router.
func (s *RPCService) RegisterRoutes(router *mux.Router, opts ...connect.HandlerOption) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)

	routes := map[string]http.Handler{
		BidServicePlaceBidProcedure: connect.NewUnaryHandler(BidServicePlaceBidProcedure, s.PlaceBid, opts...),
		BidServiceGetItemProcedure:  connect.NewUnaryHandler(BidServiceGetItemProcedure, s.GetItem, opts...),
		BidServiceGetTimeProcedure:  connect.NewUnaryHandler(BidServiceGetTimeProcedure, s.GetTime, opts...),
	}
	for path, handler := range routes {
		router.Handle(path, handler).Methods(http.MethodPost)
	}
}

func outcomeError(o auction.Outcome) *connect.Error {
	code := connect.CodeInternal
	switch o.Kind {
	case auction.OutcomeInvalidInput:
		code = connect.CodeInvalidArgument
	case auction.OutcomeNotFound:
		code = connect.CodeNotFound
	case auction.OutcomeRejectedTooLow, auction.OutcomeRejectedEnded:
		code = connect.CodeFailedPrecondition
	case auction.OutcomeRejectedConflict:
		code = connect.CodeAborted
	}

	cause := errors.New(o.Message())
	if o.Kind == auction.OutcomeInternalFailure {
		// Storage details stay in the server log.
		cause = fmt.Errorf("failed to place bid")
	}
	err := connect.NewError(code, cause)
	err.Meta().Set(ErrorCodeHeader, o.WireCode())
	if o.Retryable() {
		err.Meta().Set("Current-Bid", o.CurrentBid.String())
	}
	return err
}
