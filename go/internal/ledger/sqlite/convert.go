package sqlite

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/bidhouse/go/internal/models"
)

func (r itemRow) toModel() (*models.AuctionItem, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse item id: %w", err)
	}
	item := &models.AuctionItem{
		ID:              id,
		Title:           r.Title,
		Description:     r.Description,
		StartingPrice:   r.StartingPrice,
		CurrentBid:      r.CurrentBid,
		HighestBidderID: r.HighestBidderID,
		AuctionEndTime:  time.UnixMilli(r.AuctionEndMs).UTC(),
		Status:          models.ItemStatus(r.Status),
		WinnerID:        r.WinnerID,
		Version:         r.Version,
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
	if r.FinalPrice.Valid {
		fp := r.FinalPrice.Decimal
		item.FinalPrice = &fp
	}
	return item, nil
}

func (r bidRow) toModel() (*models.Bid, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse bid id: %w", err)
	}
	itemID, err := uuid.Parse(r.ItemID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse bid item id: %w", err)
	}
	return &models.Bid{
		ID:        id,
		ItemID:    itemID,
		BidderID:  r.BidderID,
		Amount:    r.Amount,
		Version:   r.ItemVersion,
		Source:    models.BidSource(r.Source),
		CreatedAt: r.CreatedAt.UTC(),
	}, nil
}
