package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ItemStatus defines the lifecycle status of an auction item.
type ItemStatus string

const (
	ItemStatusLive  ItemStatus = "LIVE"
	ItemStatusEnded ItemStatus = "ENDED"
)

// AuctionItem represents a time-boxed item open for bidding.
type AuctionItem struct {
	ID              uuid.UUID        `json:"id"`
	Title           string           `json:"title"`
	Description     string           `json:"description,omitempty"`
	StartingPrice   decimal.Decimal  `json:"starting_price"`
	CurrentBid      decimal.Decimal  `json:"current_bid"`
	HighestBidderID *string          `json:"highest_bidder_id,omitempty"`
	AuctionEndTime  time.Time        `json:"auction_end_time"`
	Status          ItemStatus       `json:"status"`
	WinnerID        *string          `json:"winner_id,omitempty"`
	FinalPrice      *decimal.Decimal `json:"final_price,omitempty"`
	Version         int64            `json:"version"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// IsLive reports whether the item still accepts bids at instant now.
// An item whose end time is at or before now is treated as ended even
// if the sweeper has not flipped its status yet.
func (i *AuctionItem) IsLive(now time.Time) bool {
	return i.Status == ItemStatusLive && now.Before(i.AuctionEndTime)
}

// TimeRemaining returns the whole seconds left until the auction ends, never negative.
func (i *AuctionItem) TimeRemaining(now time.Time) int64 {
	if !now.Before(i.AuctionEndTime) {
		return 0
	}
	return int64(i.AuctionEndTime.Sub(now) / time.Second)
}

// Clone returns a deep copy so callers can't mutate ledger-owned state.
func (i *AuctionItem) Clone() *AuctionItem {
	if i == nil {
		return nil
	}
	c := *i
	if i.HighestBidderID != nil {
		v := *i.HighestBidderID
		c.HighestBidderID = &v
	}
	if i.WinnerID != nil {
		v := *i.WinnerID
		c.WinnerID = &v
	}
	if i.FinalPrice != nil {
		v := *i.FinalPrice
		c.FinalPrice = &v
	}
	return &c
}

// BidStanding is where a bidder stands on an item they have bid on.
type BidStanding string

const (
	BidStandingWinning BidStanding = "WINNING"
	BidStandingOutbid  BidStanding = "OUTBID"
	BidStandingWon     BidStanding = "WON"
	BidStandingLost    BidStanding = "LOST"
)

// StandingOf reports bidderID's standing on the item. A missing item counts as outbid.
func (i *AuctionItem) StandingOf(bidderID string) BidStanding {
	if i == nil {
		return BidStandingOutbid
	}
	if i.Status == ItemStatusEnded {
		if i.WinnerID != nil && *i.WinnerID == bidderID {
			return BidStandingWon
		}
		return BidStandingLost
	}
	if i.HighestBidderID != nil && *i.HighestBidderID == bidderID {
		return BidStandingWinning
	}
	return BidStandingOutbid
}
