package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/bidhouse/go/internal/ledger"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// seedNamespace derives stable ids for seed items declared without one, so
// restarting against a durable ledger does not duplicate them.
var seedNamespace = uuid.MustParse("5f1e8c2a-3b7d-4e91-a6c4-0d2f9b8e7a13")

type SeedFile struct {
	Bidders map[string]string `yaml:"bidders"`
	Items   []SeedItem        `yaml:"items"`
}

type SeedItem struct {
	ID            string          `yaml:"id"`
	Title         string          `yaml:"title"`
	Description   string          `yaml:"description"`
	StartingPrice decimal.Decimal `yaml:"starting_price"`
	Duration      time.Duration   `yaml:"duration"`
	EndsAt        time.Time       `yaml:"ends_at"`
}

func LoadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &seed, nil
}

// NewItem resolves the item's id and end time relative to now.
func (s SeedItem) NewItem(now time.Time) (ledger.NewItem, error) {
	id := uuid.NewSHA1(seedNamespace, []byte(s.Title))
	if s.ID != "" {
		parsed, err := uuid.Parse(s.ID)
		if err != nil {
			return ledger.NewItem{}, fmt.Errorf("seed item %q: invalid id: %w", s.Title, err)
		}
		id = parsed
	}

	end := s.EndsAt
	if end.IsZero() {
		if s.Duration <= 0 {
			return ledger.NewItem{}, fmt.Errorf("seed item %q: duration or ends_at is required", s.Title)
		}
		end = now.Add(s.Duration)
	}

	return ledger.NewItem{
		ID:             id,
		Title:          s.Title,
		Description:    s.Description,
		StartingPrice:  s.StartingPrice,
		AuctionEndTime: end,
	}, nil
}

// Seed creates the file's items when the ledger has no live items.
// Items that already exist are left untouched.
func Seed(ctx context.Context, l ledger.Ledger, seed *SeedFile, now time.Time) (int, error) {
	if seed == nil || len(seed.Items) == 0 {
		return 0, nil
	}
	live, err := l.ListLiveItems(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list live items: %w", err)
	}
	if len(live) > 0 {
		log.Info().Int("live_items", len(live)).Msg("ledger not empty, skipping seed")
		return 0, nil
	}

	created := 0
	for _, s := range seed.Items {
		n, err := s.NewItem(now)
		if err != nil {
			return created, err
		}
		if _, err := l.GetItem(ctx, n.ID); err == nil {
			continue
		} else if !errors.Is(err, ledger.ErrItemNotFound) {
			return created, fmt.Errorf("failed to check seed item %s: %w", n.ID, err)
		}

		item, err := l.CreateItem(ctx, n)
		if err != nil {
			return created, fmt.Errorf("failed to create seed item %q: %w", s.Title, err)
		}
		created++
		log.Info().
			Str("item_id", item.ID.String()).
			Str("title", item.Title).
			Time("ends_at", item.AuctionEndTime).
			Msg("seeded auction item")
	}
	return created, nil
}
