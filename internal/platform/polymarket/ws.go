package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/alanyoungcy/gmparb/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next keep-alive from the peer.
	pongWait = 30 * time.Second

	// pingPeriod sends "PING" frames at this interval. Must be less than pongWait.
	pingPeriod = 10 * time.Second
)

// QuoteHandler receives a normalized top-of-book update from the market feed.
type QuoteHandler func(domain.Quote)

// DisconnectHandler is called once when the connection drops. Reconnection is
// the caller's responsibility; a dropped connection invalidates every book
// this client delivered, so the caller must resnapshot before resubscribing.
type DisconnectHandler func(error)

// WSClient is a single-use WebSocket connection to the Polymarket CLOB
// market channel. It normalizes book and price_change frames into quotes and
// reports disconnects; it never reconnects on its own.
type WSClient struct {
	wsURL string

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	// lastAsk/lastBid track the book tops per asset so price_change deltas
	// can be folded into full quotes.
	bookMu sync.Mutex
	books  map[string]*bookTop

	quoteHandler      QuoteHandler
	disconnectHandler DisconnectHandler
	disconnectOnce    sync.Once

	done chan struct{}
}

type bookTop struct {
	bids map[string]float64 // price -> size
	asks map[string]float64
}

// NewWSClient creates a client for the given WebSocket URL.
//
// wsURL is the market channel endpoint, e.g.
// "wss://ws-subscriptions-clob.polymarket.com/ws/market".
func NewWSClient(wsURL string) *WSClient {
	return &WSClient{
		wsURL: wsURL,
		books: make(map[string]*bookTop),
		done:  make(chan struct{}),
	}
}

// OnQuote registers the handler for normalized quote updates. Must be called
// before Connect.
func (w *WSClient) OnQuote(h QuoteHandler) { w.quoteHandler = h }

// OnDisconnect registers the handler invoked when the connection drops.
// Must be called before Connect.
func (w *WSClient) OnDisconnect(h DisconnectHandler) { w.disconnectHandler = h }

// Connect dials the market channel and subscribes to the given asset IDs.
// The server only accepts the subscription as the first frame, so assets are
// fixed for the life of the connection.
func (w *WSClient) Connect(ctx context.Context, assetIDs []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("polymarket/ws: %w", domain.ErrWSDisconnect)
	}
	if w.conn != nil {
		return fmt.Errorf("polymarket/ws: already connected")
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("polymarket/ws: connect: %w", err)
	}
	w.conn = conn

	sub := WSSubscribe{AssetIDs: assetIDs, Type: "market"}
	data, err := json.Marshal(sub)
	if err != nil {
		conn.Close()
		w.conn = nil
		return fmt.Errorf("polymarket/ws: marshal subscribe: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		conn.Close()
		w.conn = nil
		return fmt.Errorf("polymarket/ws: subscribe: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))

	go w.readLoop(conn)
	go w.pingLoop(conn)

	return nil
}

// Close shuts down the connection. The disconnect handler is not called for
// a deliberate close.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	close(w.done)

	if w.conn != nil {
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return w.conn.Close()
	}
	return nil
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// readLoop reads frames until the connection fails, then reports the
// disconnect exactly once.
func (w *WSClient) readLoop(conn *websocket.Conn) {
	defer conn.Close()

	for {
		select {
		case <-w.done:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				return
			default:
			}
			w.disconnectOnce.Do(func() {
				if w.disconnectHandler != nil {
					w.disconnectHandler(fmt.Errorf("polymarket/ws: read: %w", err))
				}
			})
			return
		}

		conn.SetReadDeadline(time.Now().Add(pongWait))
		w.handleMessage(message)
	}
}

// pingLoop sends periodic text "PING" frames; the market channel does not
// answer protocol-level pings.
func (w *WSClient) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, []byte("PING")); err != nil {
				return
			}
		}
	}
}

// handleMessage parses a raw frame and emits normalized quotes. Frames can be
// a single object or an array of objects.
func (w *WSClient) handleMessage(raw []byte) {
	if string(raw) == "PONG" {
		return
	}

	if len(raw) > 0 && raw[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return
		}
		for _, item := range items {
			w.handleOne(item)
		}
		return
	}
	w.handleOne(raw)
}

func (w *WSClient) handleOne(raw []byte) {
	var envelope struct {
		EventType string `json:"event_type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return // Silently drop unparseable frames.
	}

	switch envelope.EventType {
	case "book":
		var book BookMessage
		if err := json.Unmarshal(raw, &book); err != nil {
			return
		}
		w.applyBook(&book)

	case "price_change":
		var pc PriceChangeMessage
		if err := json.Unmarshal(raw, &pc); err != nil {
			return
		}
		w.applyPriceChange(&pc)
	}
}

// applyBook replaces the tracked book for an asset and emits a quote.
func (w *WSClient) applyBook(b *BookMessage) {
	top := &bookTop{
		bids: make(map[string]float64, len(b.Bids)),
		asks: make(map[string]float64, len(b.Asks)),
	}
	for _, lvl := range b.Bids {
		if s, err := strconv.ParseFloat(lvl.Size, 64); err == nil && s > 0 {
			top.bids[lvl.Price] = s
		}
	}
	for _, lvl := range b.Asks {
		if s, err := strconv.ParseFloat(lvl.Size, 64); err == nil && s > 0 {
			top.asks[lvl.Price] = s
		}
	}

	w.bookMu.Lock()
	w.books[b.AssetID] = top
	q := top.quote(b.AssetID, b.Timestamp)
	w.bookMu.Unlock()

	w.emit(q)
}

// applyPriceChange folds level deltas into the tracked book. Deltas for an
// asset without a prior book snapshot are dropped.
func (w *WSClient) applyPriceChange(pc *PriceChangeMessage) {
	changes := pc.Changes
	if len(changes) == 0 && pc.AssetID != "" {
		changes = []WSPriceChange{{AssetID: pc.AssetID, Side: pc.Side, Price: pc.Price, Size: pc.Size}}
	}

	touched := make(map[string]struct{})

	w.bookMu.Lock()
	for _, ch := range changes {
		assetID := ch.AssetID
		if assetID == "" {
			assetID = pc.AssetID
		}
		top, ok := w.books[assetID]
		if !ok {
			continue
		}
		size, err := strconv.ParseFloat(ch.Size, 64)
		if err != nil {
			continue
		}
		side := top.bids
		if ch.Side == "SELL" {
			side = top.asks
		}
		if size <= 0 {
			delete(side, ch.Price)
		} else {
			side[ch.Price] = size
		}
		touched[assetID] = struct{}{}
	}

	quotes := make([]domain.Quote, 0, len(touched))
	for assetID := range touched {
		quotes = append(quotes, w.books[assetID].quote(assetID, pc.Timestamp))
	}
	w.bookMu.Unlock()

	for _, q := range quotes {
		w.emit(q)
	}
}

// quote reduces the tracked book to top of book. Caller must hold bookMu.
func (t *bookTop) quote(assetID, ts string) domain.Quote {
	q := domain.Quote{
		AssetID: assetID,
		AsOf:    parseWSTimestamp(ts),
		Source:  "ws",
	}
	for price := range t.bids {
		p, err := strconv.ParseFloat(price, 64)
		if err != nil {
			continue
		}
		if q.BestBid == nil || p > *q.BestBid {
			bid := p
			q.BestBid = &bid
		}
	}
	for price := range t.asks {
		p, err := strconv.ParseFloat(price, 64)
		if err != nil {
			continue
		}
		if q.BestAsk == nil || p < *q.BestAsk {
			ask := p
			q.BestAsk = &ask
		}
	}
	return q
}

func (w *WSClient) emit(q domain.Quote) {
	if w.quoteHandler != nil {
		w.quoteHandler(q)
	}
}
