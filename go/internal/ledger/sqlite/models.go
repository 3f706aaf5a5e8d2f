package sqlite

import (
	"time"

	"github.com/shopspring/decimal"
)

// itemRow is the gorm mapping of auction_items. End time is kept as unix
// millis so guard comparisons are numeric rather than string compares.
type itemRow struct {
	ID              string          `gorm:"primaryKey;type:text"`
	Title           string          `gorm:"not null"`
	Description     string          `gorm:"not null;default:''"`
	StartingPrice   decimal.Decimal `gorm:"type:numeric;not null"`
	CurrentBid      decimal.Decimal `gorm:"type:numeric;not null"`
	HighestBidderID *string
	AuctionEndMs    int64  `gorm:"not null;index:idx_items_live_end,priority:2"`
	Status          string `gorm:"not null;default:LIVE;index:idx_items_live_end,priority:1"`
	WinnerID        *string
	FinalPrice      decimal.NullDecimal `gorm:"type:numeric"`
	Version         int64               `gorm:"not null;default:0"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (itemRow) TableName() string { return "auction_items" }

type bidRow struct {
	ID          string          `gorm:"primaryKey;type:text"`
	ItemID      string          `gorm:"not null;uniqueIndex:idx_bids_item_version,priority:1"`
	BidderID    string          `gorm:"not null;index:idx_bids_bidder_created,priority:1"`
	Amount      decimal.Decimal `gorm:"type:numeric;not null"`
	ItemVersion int64           `gorm:"not null;uniqueIndex:idx_bids_item_version,priority:2"`
	Source      string
	CreatedAt   time.Time `gorm:"index:idx_bids_bidder_created,priority:2,sort:desc"`
}

func (bidRow) TableName() string { return "bids" }
