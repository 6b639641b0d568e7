// Package paper simulates basket execution against live quotes so detected
// opportunities can be evaluated without placing real orders.
package paper

import (
	"log/slog"
	"time"

	"github.com/alanyoungcy/gmparb/internal/domain"
	"github.com/google/uuid"
)

// Sizing modes accepted by Config.SizingMode.
const (
	SizingFixed   = "fixed"
	SizingCapital = "capital"
)

// Config holds simulator tuning.
type Config struct {
	// SizingMode selects how leg quantity is chosen: SizingFixed takes
	// SizePerLeg as-is, SizingCapital additionally caps the basket entry cost
	// at MaxCapital. An empty mode behaves as SizingFixed.
	SizingMode string
	// SizePerLeg is the quantity bought on each basket leg.
	SizePerLeg float64
	// MaxCapital bounds one basket's total entry cost in capital mode.
	MaxCapital float64
	// FeeRate is the proportional fee charged on every fill.
	FeeRate float64
	// MaxOrderAge bounds how old a leg's quote may be at fill time; older
	// quotes cancel the order instead of filling it.
	MaxOrderAge time.Duration
	// MaxOpenBaskets caps concurrently open baskets per event and kind.
	MaxOpenBaskets int
}

// Recorder receives simulated trading records for persistence. Calls must
// not block the simulator; the persistence gateway buffers internally.
type Recorder interface {
	RecordOrders(orders []domain.PaperOrder)
	RecordFills(fills []domain.PaperFill)
	RecordPositions(positions []domain.PaperPosition)
	RecordPnL(pnl domain.PaperPnL)
}

// basket is one open simulated basket: the filled legs awaiting close-out.
// qty is the per-leg quantity decided at open, which the close must unwind.
type basket struct {
	kind domain.SignalKind
	legs []domain.SignalLeg
	qty  float64
}

// Simulator applies a static one-shot fill policy: every leg fills in full at
// the current best ask the moment a signal opens, and unwinds at the current
// best bid the moment the condition closes. Partial fills, queue position,
// and market impact are deliberately not modeled.
//
// Simulator is not safe for concurrent use; the pipeline serializes all calls
// for an event on that event's worker.
type Simulator struct {
	cfg Config
	rec Recorder

	open      map[string]map[domain.SignalKind][]basket
	positions map[string]*domain.PaperPosition
	pnl       map[string]*domain.PaperPnL

	logger *slog.Logger
}

// NewSimulator creates a simulator.
func NewSimulator(cfg Config, rec Recorder, logger *slog.Logger) *Simulator {
	return &Simulator{
		cfg:       cfg,
		rec:       rec,
		open:      make(map[string]map[domain.SignalKind][]basket),
		positions: make(map[string]*domain.PaperPosition),
		pnl:       make(map[string]*domain.PaperPnL),
		logger:    logger.With(slog.String("component", "paper")),
	}
}

// OnSignal opens a basket for a freshly detected opportunity. The basket is
// all-or-nothing: if any leg's quote is missing, has an empty ask, or is
// stale, every order is cancelled and no position changes.
func (s *Simulator) OnSignal(sig domain.ArbSignal, quotes map[string]domain.Quote, now time.Time) {
	if len(s.open[sig.EventID][sig.Kind]) >= s.cfg.MaxOpenBaskets {
		s.logger.Debug("basket cap reached",
			slog.String("event_id", sig.EventID),
			slog.String("kind", string(sig.Kind)))
		return
	}

	qty := s.legQuantity(sig.Cost)
	orders := make([]domain.PaperOrder, 0, len(sig.Legs))
	fills := make([]domain.PaperFill, 0, len(sig.Legs))
	executable := true

	for _, leg := range sig.Legs {
		order := domain.PaperOrder{
			ID:        uuid.NewString(),
			SignalID:  sig.ID,
			EventID:   sig.EventID,
			MarketID:  leg.MarketID,
			AssetID:   leg.AssetID,
			Outcome:   leg.Outcome,
			Side:      domain.OrderSideBuy,
			Quantity:  qty,
			Status:    domain.PaperOrderStatusNew,
			CreatedAt: now,
		}

		q, ok := quotes[leg.AssetID]
		if !ok || q.BestAsk == nil || now.Sub(q.AsOf) > s.cfg.MaxOrderAge {
			executable = false
			orders = append(orders, order)
			continue
		}

		price := *q.BestAsk
		fills = append(fills, domain.PaperFill{
			ID:       uuid.NewString(),
			OrderID:  order.ID,
			Quantity: order.Quantity,
			Price:    price,
			Fee:      price * order.Quantity * s.cfg.FeeRate,
			FilledAt: now,
		})
		orders = append(orders, order)
	}

	if !executable {
		for i := range orders {
			orders[i].Status = domain.PaperOrderStatusCancelled
			closed := now
			orders[i].ClosedAt = &closed
		}
		s.rec.RecordOrders(orders)
		s.logger.Warn("basket cancelled, quotes not executable",
			slog.String("event_id", sig.EventID),
			slog.String("kind", string(sig.Kind)))
		return
	}

	pnl := s.eventPnL(sig.EventID)
	touched := make([]domain.PaperPosition, 0, len(fills))
	for i := range orders {
		orders[i].Status = domain.PaperOrderStatusFilled
		closed := now
		orders[i].ClosedAt = &closed

		fill := fills[i]
		pos := s.position(sig.EventID, orders[i].MarketID, orders[i].Outcome)
		pnl.RealizedPnL += pos.ApplyFill(domain.OrderSideBuy, fill.Quantity, fill.Price, now)
		pnl.RealizedPnL -= fill.Fee
		pnl.FeesPaid += fill.Fee
		touched = append(touched, *pos)
	}

	byKind := s.open[sig.EventID]
	if byKind == nil {
		byKind = make(map[domain.SignalKind][]basket)
		s.open[sig.EventID] = byKind
	}
	byKind[sig.Kind] = append(byKind[sig.Kind], basket{kind: sig.Kind, legs: sig.Legs, qty: qty})

	s.rec.RecordOrders(orders)
	s.rec.RecordFills(fills)
	s.rec.RecordPositions(touched)
	s.recordPnL(sig.EventID, quotes, now)

	s.logger.Info("basket opened",
		slog.String("event_id", sig.EventID),
		slog.String("kind", string(sig.Kind)),
		slog.Int("legs", len(fills)))
}

// OnClose unwinds every open basket of the given kind at current best bids.
// A leg with an empty bid side liquidates at zero; an empty book is worth
// nothing executable.
func (s *Simulator) OnClose(eventID string, kind domain.SignalKind, quotes map[string]domain.Quote, now time.Time) {
	baskets := s.open[eventID][kind]
	if len(baskets) == 0 {
		return
	}
	delete(s.open[eventID], kind)

	pnl := s.eventPnL(eventID)
	var (
		orders  []domain.PaperOrder
		fills   []domain.PaperFill
		touched []domain.PaperPosition
	)
	for _, b := range baskets {
		for _, leg := range b.legs {
			var price float64
			if q, ok := quotes[leg.AssetID]; ok && q.BestBid != nil {
				price = *q.BestBid
			}

			order := domain.PaperOrder{
				ID:        uuid.NewString(),
				EventID:   eventID,
				MarketID:  leg.MarketID,
				AssetID:   leg.AssetID,
				Outcome:   leg.Outcome,
				Side:      domain.OrderSideSell,
				Quantity:  b.qty,
				Status:    domain.PaperOrderStatusFilled,
				CreatedAt: now,
			}
			closed := now
			order.ClosedAt = &closed

			fee := price * order.Quantity * s.cfg.FeeRate
			fills = append(fills, domain.PaperFill{
				ID:       uuid.NewString(),
				OrderID:  order.ID,
				Quantity: order.Quantity,
				Price:    price,
				Fee:      fee,
				FilledAt: now,
			})
			orders = append(orders, order)

			pos := s.position(eventID, leg.MarketID, leg.Outcome)
			pnl.RealizedPnL += pos.ApplyFill(domain.OrderSideSell, order.Quantity, price, now)
			pnl.RealizedPnL -= fee
			pnl.FeesPaid += fee
			touched = append(touched, *pos)
		}
	}

	s.rec.RecordOrders(orders)
	s.rec.RecordFills(fills)
	s.rec.RecordPositions(touched)
	s.recordPnL(eventID, quotes, now)

	s.logger.Info("baskets closed",
		slog.String("event_id", eventID),
		slog.String("kind", string(kind)),
		slog.Int("baskets", len(baskets)))
}

// MarkToMarket recomputes unrealized profit for an event from current quotes
// and records the refreshed summary.
func (s *Simulator) MarkToMarket(eventID string, quotes map[string]domain.Quote, now time.Time) {
	if _, ok := s.pnl[eventID]; !ok {
		return
	}
	s.recordPnL(eventID, quotes, now)
}

// OpenBaskets reports the number of open baskets for an event.
func (s *Simulator) OpenBaskets(eventID string) int {
	var n int
	for _, baskets := range s.open[eventID] {
		n += len(baskets)
	}
	return n
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// legQuantity sizes a basket leg from the signal's per-unit basket cost.
// Capital mode shrinks the fixed size so the whole basket costs at most
// MaxCapital at the signal's prices.
func (s *Simulator) legQuantity(basketCost float64) float64 {
	qty := s.cfg.SizePerLeg
	if s.cfg.SizingMode == SizingCapital && basketCost > 0 {
		if capped := s.cfg.MaxCapital / basketCost; capped < qty {
			qty = capped
		}
	}
	return qty
}

func positionKey(eventID, marketID string, outcome domain.Outcome) string {
	return eventID + "|" + marketID + "|" + string(outcome)
}

func (s *Simulator) position(eventID, marketID string, outcome domain.Outcome) *domain.PaperPosition {
	key := positionKey(eventID, marketID, outcome)
	pos, ok := s.positions[key]
	if !ok {
		pos = &domain.PaperPosition{
			EventID:  eventID,
			MarketID: marketID,
			Outcome:  outcome,
		}
		s.positions[key] = pos
	}
	return pos
}

func (s *Simulator) eventPnL(eventID string) *domain.PaperPnL {
	pnl, ok := s.pnl[eventID]
	if !ok {
		pnl = &domain.PaperPnL{EventID: eventID}
		s.pnl[eventID] = pnl
	}
	return pnl
}

// recordPnL refreshes unrealized profit from current mid prices and hands the
// summary to the recorder. Unrealized is Σ qty×(mid − avg_price) over the
// event's open positions.
func (s *Simulator) recordPnL(eventID string, quotes map[string]domain.Quote, now time.Time) {
	pnl := s.eventPnL(eventID)

	var unrealized float64
	for _, pos := range s.positions {
		if pos.EventID != eventID || pos.Quantity == 0 {
			continue
		}
		mark := markPrice(quotes[s.assetFor(pos)])
		unrealized += (mark - pos.AvgPrice) * pos.Quantity
	}
	pnl.UnrealizedPnL = unrealized
	pnl.UpdatedAt = now

	s.rec.RecordPnL(*pnl)
}

// markPrice values one asset for mark-to-market: the mid when both book sides
// are present, the surviving side when only one is, zero for an empty book.
func markPrice(q domain.Quote) float64 {
	if mid, ok := q.Mid(); ok {
		return mid
	}
	if q.BestBid != nil {
		return *q.BestBid
	}
	if q.BestAsk != nil {
		return *q.BestAsk
	}
	return 0
}

// assetFor resolves the asset id a position is marked against by scanning
// the open basket legs for the position's market and outcome.
func (s *Simulator) assetFor(pos *domain.PaperPosition) string {
	for _, byKind := range s.open[pos.EventID] {
		for _, b := range byKind {
			for _, leg := range b.legs {
				if leg.MarketID == pos.MarketID && leg.Outcome == pos.Outcome {
					return leg.AssetID
				}
			}
		}
	}
	return ""
}
