// Package auctionclient is a WebSocket client for /ws/auction. It keeps a
// local view of every joined item and a server-clock drift estimate so
// callers can render an accurate countdown.
package auctionclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/bidhouse/go/internal/gateway"
	"github.com/mcdev12/bidhouse/go/internal/models"
	"github.com/mcdev12/bidhouse/go/internal/timesync"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var ErrClosed = errors.New("auction client closed")

type Config struct {
	URL         string // e.g. ws://localhost:8080/ws/auction
	BidderID    string
	Dialer      *websocket.Dialer
	Clock       clockwork.Clock
	EventBuffer int
}

// Event is one decoded server frame. Exactly one payload field is set, matching Type.
type Event struct {
	Type      gateway.MessageType
	Timestamp time.Time
	State     *gateway.AuctionStatePayload
	Update    *models.BidDelta
	Rejection *gateway.OutbidErrorPayload
	Ended     *gateway.AuctionEndedPayload
	Error     *gateway.ErrorPayload
	TimeSync  *timesync.Snapshot
}

// ItemState is the client's view of one joined item.
type ItemState struct {
	ItemID                uuid.UUID
	CurrentBid            decimal.Decimal
	HighestBidderID       string
	HighestBidderUsername string
	AuctionEndTime        time.Time
	Version               int64
	Ended                 bool
}

type Client struct {
	conn   *websocket.Conn
	clock  clockwork.Clock
	drift  *timesync.DriftTracker
	events chan Event

	writeMu sync.Mutex

	mu    sync.RWMutex
	items map[uuid.UUID]*ItemState

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects and starts reading frames.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.BidderID == "" {
		return nil, fmt.Errorf("bidder id is required")
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse url: %w", err)
	}
	q := u.Query()
	q.Set("bidder_id", cfg.BidderID)
	u.RawQuery = q.Encode()

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	buffer := cfg.EventBuffer
	if buffer <= 0 {
		buffer = 64
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	c := &Client{
		conn:   conn,
		clock:  clock,
		drift:  timesync.NewDriftTracker(),
		events: make(chan Event, buffer),
		items:  make(map[uuid.UUID]*ItemState),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Events delivers decoded frames. It is closed when the connection ends.
// Frames are dropped if the caller falls behind by more than the buffer.
func (c *Client) Events() <-chan Event { return c.events }

func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Join(itemID string) error {
	return c.send(gateway.MessageJoinAuction, gateway.ItemRef{ItemID: itemID})
}

func (c *Client) Leave(itemID string) error {
	if id, err := uuid.Parse(itemID); err == nil {
		c.mu.Lock()
		delete(c.items, id)
		c.mu.Unlock()
	}
	return c.send(gateway.MessageLeaveAuction, gateway.ItemRef{ItemID: itemID})
}

// PlaceBid submits a bid. Acceptance shows up as an UPDATE_BID event,
// rejection as OUTBID_ERROR.
func (c *Client) PlaceBid(itemID string, amount decimal.Decimal) error {
	return c.send(gateway.MessageBidPlaced, gateway.PlaceBidPayload{ItemID: itemID, Amount: amount})
}

func (c *Client) RequestTimeSync() error {
	return c.send(gateway.MessageRequestTimeSync, nil)
}

func (c *Client) send(t gateway.MessageType, payload interface{}) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	env := gateway.Envelope{Type: t, Timestamp: c.clock.Now().UTC()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %w", t, err)
		}
		env.Data = data
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return err
	}
	if err := c.conn.WriteJSON(env); err != nil {
		return fmt.Errorf("failed to send %s: %w", t, err)
	}
	return nil
}

// Item returns a copy of the tracked state for itemID.
func (c *Client) Item(itemID uuid.UUID) (ItemState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.items[itemID]
	if !ok {
		return ItemState{}, false
	}
	return *st, true
}

// Drift is the last observed server-minus-local offset.
func (c *Client) Drift() time.Duration { return c.drift.Drift() }

// TimeRemaining is the drift-corrected countdown for a joined item.
func (c *Client) TimeRemaining(itemID uuid.UUID) (time.Duration, bool) {
	st, ok := c.Item(itemID)
	if !ok {
		return 0, false
	}
	if st.Ended {
		return 0, true
	}
	return c.drift.TimeRemaining(st.AuctionEndTime, c.clock.Now()), true
}

// Countdown renders TimeRemaining as HH:MM:SS.
func (c *Client) Countdown(itemID uuid.UUID) string {
	remaining, _ := c.TimeRemaining(itemID)
	return timesync.FormatRemaining(remaining)
}

func (c *Client) Close() error {
	err := c.conn.Close()
	<-c.done
	return err
}

func (c *Client) readLoop() {
	defer func() {
		c.closeOnce.Do(func() { close(c.done) })
		close(c.events)
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("auction connection closed unexpectedly")
			}
			return
		}

		ev, err := c.handleFrame(raw)
		if err != nil {
			log.Error().Err(err).Msg("failed to decode server frame")
			continue
		}

		select {
		case c.events <- ev:
		default:
			log.Warn().Str("type", string(ev.Type)).Msg("event buffer full, dropping event")
		}
	}
}

func (c *Client) handleFrame(raw []byte) (Event, error) {
	var env gateway.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Event{}, fmt.Errorf("invalid frame: %w", err)
	}
	ev := Event{Type: env.Type, Timestamp: env.Timestamp}

	var err error
	switch env.Type {
	case gateway.MessageTimeSync:
		ev.TimeSync = &timesync.Snapshot{}
		if err = json.Unmarshal(env.Data, ev.TimeSync); err == nil {
			c.drift.ObserveMillis(ev.TimeSync.ServerTime, c.clock.Now())
		}
	case gateway.MessageAuctionState:
		ev.State = &gateway.AuctionStatePayload{}
		if err = json.Unmarshal(env.Data, ev.State); err == nil {
			c.applyState(ev.State)
		}
	case gateway.MessageUpdateBid:
		ev.Update = &models.BidDelta{}
		if err = json.Unmarshal(env.Data, ev.Update); err == nil {
			c.applyUpdate(ev.Update)
		}
	case gateway.MessageAuctionEnded:
		ev.Ended = &gateway.AuctionEndedPayload{}
		if err = json.Unmarshal(env.Data, ev.Ended); err == nil {
			c.applyEnded(ev.Ended)
		}
	case gateway.MessageOutbidError:
		ev.Rejection = &gateway.OutbidErrorPayload{}
		err = json.Unmarshal(env.Data, ev.Rejection)
	case gateway.MessageError:
		ev.Error = &gateway.ErrorPayload{}
		err = json.Unmarshal(env.Data, ev.Error)
	default:
		return Event{}, fmt.Errorf("unknown message type %q", env.Type)
	}
	if err != nil {
		return Event{}, fmt.Errorf("invalid %s payload: %w", env.Type, err)
	}
	return ev, nil
}

func (c *Client) applyState(p *gateway.AuctionStatePayload) {
	if p.Item == nil {
		return
	}
	c.drift.ObserveMillis(p.ServerTime, c.clock.Now())

	st := &ItemState{
		ItemID:                p.Item.ID,
		CurrentBid:            p.Item.CurrentBid,
		HighestBidderUsername: p.HighestBidderUsername,
		AuctionEndTime:        p.Item.AuctionEndTime,
		Version:               p.Item.Version,
		Ended:                 p.Item.Status == models.ItemStatusEnded,
	}
	if p.Item.HighestBidderID != nil {
		st.HighestBidderID = *p.Item.HighestBidderID
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.items[st.ItemID]; ok && cur.Version > st.Version {
		return
	}
	c.items[st.ItemID] = st
}

// applyUpdate ignores deltas for unjoined items and ones at or below the
// version already held.
func (c *Client) applyUpdate(d *models.BidDelta) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.items[d.ItemID]
	if !ok || d.Version <= st.Version {
		return
	}
	st.CurrentBid = d.CurrentBid
	st.HighestBidderID = d.HighestBidderID
	st.HighestBidderUsername = d.HighestBidderUsername
	st.Version = d.Version
}

func (c *Client) applyEnded(p *gateway.AuctionEndedPayload) {
	id, err := uuid.Parse(p.ItemID)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.items[id]; ok {
		st.Ended = true
		if p.FinalPrice != nil {
			st.CurrentBid = *p.FinalPrice
		}
	}
}
