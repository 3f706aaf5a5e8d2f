// Package ledger defines the storage boundary for auction items and their
// bid log. Every backend exposes the same conditional-update primitive; the
// bid arbitrator never performs a read-then-write of its own.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/bidhouse/go/internal/models"
	"github.com/shopspring/decimal"
)

var (
	// ErrNoMatch is returned by ConditionalUpdate and CloseItem when at least
	// one guard did not hold at commit time. It says nothing about why; callers
	// re-read with GetItem to classify.
	ErrNoMatch = errors.New("conditional update did not match")

	// ErrItemNotFound is returned by plain reads for unknown items.
	ErrItemNotFound = errors.New("auction item not found")

	// ErrInvalidItem is returned by CreateItem for items that violate the data model.
	ErrInvalidItem = errors.New("invalid auction item")
)

// Clock is the authoritative time source a ledger evaluates end-time guards against.
type Clock interface {
	Now() time.Time
}

// NewItem carries the fields needed to open an auction.
type NewItem struct {
	ID             uuid.UUID // optional, generated when zero
	Title          string
	Description    string
	StartingPrice  decimal.Decimal
	AuctionEndTime time.Time
}

// Validate checks the data model constraints shared by every backend.
func (n NewItem) Validate() error {
	if n.Title == "" {
		return errors.Join(ErrInvalidItem, errors.New("title is required"))
	}
	if n.StartingPrice.IsNegative() {
		return errors.Join(ErrInvalidItem, errors.New("starting price must be >= 0"))
	}
	if n.AuctionEndTime.IsZero() {
		return errors.Join(ErrInvalidItem, errors.New("auction end time is required"))
	}
	return nil
}

// ConditionalUpdate describes a compare-and-swap on one item. The mutation
// (current bid, highest bidder, version+1) applies only if every guard holds
// at commit time:
//   - version == ExpectedVersion
//   - current_bid < RequireCurrentBidBelow
//   - status == LIVE, when RequireLive
//   - clock.Now() < auction_end_time, when RequireBeforeEnd
type ConditionalUpdate struct {
	ItemID                 uuid.UUID
	ExpectedVersion        int64
	RequireCurrentBidBelow decimal.Decimal
	RequireLive            bool
	RequireBeforeEnd       bool
	NewCurrentBid          decimal.Decimal
	NewHighestBidderID     string
}

// Ledger is the durable store of item state and the append-only bid log.
type Ledger interface {
	GetItem(ctx context.Context, id uuid.UUID) (*models.AuctionItem, error)
	CreateItem(ctx context.Context, item NewItem) (*models.AuctionItem, error)

	// ConditionalUpdate is one indivisible storage operation. It returns the
	// updated record or ErrNoMatch.
	ConditionalUpdate(ctx context.Context, upd ConditionalUpdate) (*models.AuctionItem, error)

	AppendBid(ctx context.Context, bid *models.Bid) error
	// ListBids returns an item's bids newest first.
	ListBids(ctx context.Context, itemID uuid.UUID, limit, offset int) ([]*models.Bid, error)
	CountBids(ctx context.Context, itemID uuid.UUID) (int, error)
	// ListBidsByBidder returns one bidder's bids across all items, newest first.
	ListBidsByBidder(ctx context.Context, bidderID string, limit, offset int) ([]*models.Bid, error)
	CountBidsByBidder(ctx context.Context, bidderID string) (int, error)

	// CloseItem flips a LIVE item whose end time has passed to ENDED and stamps
	// the winner. Returns ErrNoMatch if the item is not closable.
	CloseItem(ctx context.Context, id uuid.UUID) (*models.AuctionItem, error)
	ListLiveItems(ctx context.Context) ([]*models.AuctionItem, error)

	Close() error
}

// Pagination bounds for bid history.
const (
	DefaultBidPageSize = 50
	MaxBidPageSize     = 100
)

// ClampPage normalises caller supplied paging values.
func ClampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultBidPageSize
	}
	if limit > MaxBidPageSize {
		limit = MaxBidPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
