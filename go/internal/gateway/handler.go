package gateway

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/mcdev12/bidhouse/go/internal/auction"
	"github.com/mcdev12/bidhouse/go/internal/bidders"
	"github.com/mcdev12/bidhouse/go/internal/ledger"
	"github.com/mcdev12/bidhouse/go/internal/models"
	"github.com/mcdev12/bidhouse/go/internal/timesync"
	"github.com/rs/zerolog/log"
)

// BidPlacer is the arbitrator as seen by the gateway.
type BidPlacer interface {
	AttemptBid(ctx context.Context, req auction.BidRequest) auction.Outcome
}

// AuctionHandler turns typed client messages into registry and arbitrator calls.
type AuctionHandler struct {
	registry  *Registry
	bids      BidPlacer
	oracle    *timesync.Oracle
	directory bidders.Directory
}

func NewAuctionHandler(registry *Registry, bids BidPlacer, oracle *timesync.Oracle, directory bidders.Directory) *AuctionHandler {
	return &AuctionHandler{
		registry:  registry,
		bids:      bids,
		oracle:    oracle,
		directory: directory,
	}
}

// OnConnect sends the first TIME_SYNC so the client can start counting down.
func (h *AuctionHandler) OnConnect(_ context.Context, c *Connection) {
	h.sendTimeSync(c)
}

func (h *AuctionHandler) OnDisconnect(c *Connection) {
	removed := h.registry.ConnectionClosed(c)
	log.Debug().
		Str("connection_id", c.ID()).
		Int("subscriptions_removed", removed).
		Msg("connection cleaned up")
}

func (h *AuctionHandler) HandleMessage(ctx context.Context, c *Connection, msg ClientMessage) {
	switch msg.Type {
	case MessageJoinAuction:
		h.join(ctx, c, msg.Item.ItemID)
	case MessageLeaveAuction:
		h.leave(c, msg.Item.ItemID)
	case MessageBidPlaced:
		h.placeBid(ctx, c, msg.Bid)
	case MessageRequestTimeSync:
		h.sendTimeSync(c)
	default:
		c.sendError(auction.CodeInvalidInput, "unsupported message type")
	}
}

func (h *AuctionHandler) join(ctx context.Context, c *Connection, rawID string) {
	itemID, err := uuid.Parse(rawID)
	if err != nil {
		c.sendError(auction.CodeInvalidInput, "invalid item_id")
		return
	}

	_, err = h.registry.Subscribe(ctx, c, itemID, h.stateFrame)
	if err != nil {
		if errors.Is(err, ledger.ErrItemNotFound) {
			c.sendError(auction.CodeItemNotFound, "Auction item not found")
			return
		}
		log.Error().Err(err).
			Str("connection_id", c.ID()).
			Str("item_id", rawID).
			Msg("failed to join auction")
		c.sendError(auction.CodeServerError, "Failed to join auction")
		return
	}

	log.Debug().
		Str("connection_id", c.ID()).
		Str("bidder_id", c.BidderID()).
		Str("item_id", rawID).
		Msg("joined auction")
}

func (h *AuctionHandler) leave(c *Connection, rawID string) {
	itemID, err := uuid.Parse(rawID)
	if err != nil {
		c.sendError(auction.CodeInvalidInput, "invalid item_id")
		return
	}
	h.registry.Unsubscribe(c, itemID)
}

func (h *AuctionHandler) placeBid(ctx context.Context, c *Connection, p PlaceBidPayload) {
	if h.bids == nil {
		c.sendError(auction.CodeServerError, "Bidding is unavailable")
		return
	}
	outcome := h.bids.AttemptBid(ctx, auction.BidRequest{
		ItemID:   p.ItemID,
		BidderID: c.BidderID(),
		Amount:   p.Amount,
		Source:   models.BidSourceWebSocket,
	})
	if outcome.Accepted() {
		// The room, including this bidder if joined, hears about it via UPDATE_BID.
		return
	}

	payload := OutbidErrorPayload{
		Code:    outcome.WireCode(),
		Message: outcome.Message(),
		ItemID:  p.ItemID,
	}
	if outcome.Retryable() {
		current := outcome.CurrentBid
		yours := p.Amount
		payload.CurrentBid = &current
		payload.YourBid = &yours
	}

	frame, err := EncodeMessage(MessageOutbidError, payload, h.oracle.Now())
	if err != nil {
		log.Error().Err(err).Msg("failed to encode outbid error")
		return
	}
	c.Send(frame)
}

func (h *AuctionHandler) stateFrame(item *models.AuctionItem) []byte {
	now := h.oracle.Now()
	payload := AuctionStatePayload{
		Item:          item,
		TimeRemaining: item.TimeRemaining(now),
		ServerTime:    now.UnixMilli(),
	}
	if item.HighestBidderID != nil {
		payload.HighestBidderUsername = bidders.Resolve(context.Background(), h.directory, *item.HighestBidderID)
	}
	frame, err := EncodeMessage(MessageAuctionState, payload, now)
	if err != nil {
		log.Error().Err(err).Str("item_id", item.ID.String()).Msg("failed to encode auction state")
		return nil
	}
	return frame
}

func (h *AuctionHandler) sendTimeSync(c *Connection) {
	frame, err := timeSyncFrame(h.oracle.Snapshot())
	if err != nil {
		log.Error().Err(err).Msg("failed to encode time sync")
		return
	}
	c.Send(frame)
}
