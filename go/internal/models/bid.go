package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BidSource identifies the transport a bid arrived on.
type BidSource string

const (
	BidSourceREST      BidSource = "rest"
	BidSourceWebSocket BidSource = "ws"
	BidSourceRPC       BidSource = "rpc"
)

// Bid is an immutable entry in an item's bid log.
type Bid struct {
	ID        uuid.UUID       `json:"id"`
	ItemID    uuid.UUID       `json:"item_id"`
	BidderID  string          `json:"bidder_id"`
	Amount    decimal.Decimal `json:"amount"`
	Version   int64           `json:"version"` // item version this bid produced
	Source    BidSource       `json:"source,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// BidDelta is the state change fanned out to subscribers after an accepted bid.
type BidDelta struct {
	ItemID                uuid.UUID       `json:"item_id"`
	CurrentBid            decimal.Decimal `json:"current_bid"`
	HighestBidderID       string          `json:"highest_bidder_id"`
	HighestBidderUsername string          `json:"highest_bidder_username,omitempty"`
	Version               int64           `json:"version"`
	Timestamp             time.Time       `json:"timestamp"`
}
