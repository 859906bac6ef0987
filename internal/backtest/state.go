package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"covercall/internal/calendar"
	"covercall/internal/domain"
	"covercall/internal/ledger"
	"covercall/internal/marketdata"
	"covercall/internal/perf"
	"covercall/internal/selector"
)

// State is a step of the simulation loop.
type State int

const (
	StateBuyShares State = iota
	StateSellCall
	StateAwaitExpiration
	StateSettleOption
	StateRebalance
	StateFinalize
)

var stateNames = [...]string{
	StateBuyShares:       "BuyShares",
	StateSellCall:        "SellCall",
	StateAwaitExpiration: "AwaitExpiration",
	StateSettleOption:    "SettleOption",
	StateRebalance:       "Rebalance",
	StateFinalize:        "Finalize",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// simulation is the transient state of one run.
type simulation struct {
	runner *Runner
	params Params
	walker *calendar.Walker
	ledger *ledger.Ledger
	end    time.Time
	log    *slog.Logger

	current time.Time
	cycle   Cycle // cycle in progress
	cycles  []Cycle
	summary perf.Summary
}

func (s *simulation) run(ctx context.Context) error {
	state := StateBuyShares
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		next, err := s.step(ctx, state)
		if err != nil {
			return fmt.Errorf("%s on %s: %w", state, calendar.Format(s.current), err)
		}
		if state == StateFinalize {
			return nil
		}
		state = next
	}
}

func (s *simulation) step(ctx context.Context, state State) (State, error) {
	switch state {
	case StateBuyShares:
		if s.current.After(s.end) {
			return StateFinalize, nil
		}
		return s.buyShares(ctx)
	case StateSellCall:
		return s.sellCall(ctx)
	case StateAwaitExpiration:
		s.current = s.cycle.Expiration
		return StateSettleOption, nil
	case StateSettleOption:
		return s.settle(ctx)
	case StateRebalance:
		return s.rebalance()
	case StateFinalize:
		return StateFinalize, s.finalize(ctx)
	}
	return state, fmt.Errorf("unknown state %d", int(state))
}

func (s *simulation) buyShares(ctx context.Context) (State, error) {
	p := s.params
	open, err := s.openPrice(ctx, s.current)
	if err != nil {
		return 0, err
	}
	s.cycle = Cycle{
		Index:     len(s.cycles) + 1,
		TradeDate: s.current,
		SpotOpen:  open,
	}

	var shares decimal.Decimal
	if s.cycle.Index == 1 {
		shares = decimal.NewFromInt(p.InitialShares)
		if capital := open.Mul(shares); capital.IsPositive() {
			err := s.ledger.Append(ledger.Entry{
				Asset:     domain.CashAsset,
				Direction: domain.DirectionIn,
				Concept:   domain.ConceptInflow,
				Date:      s.current,
				Phase:     domain.PhaseOpen,
				Quantity:  capital,
			})
			if err != nil {
				return 0, err
			}
		}
	} else {
		shares = affordableShares(s.ledger.CashPosition(), open)
	}

	if shares.IsPositive() {
		price := open
		err := s.ledger.Append(
			ledger.Entry{
				Asset:     p.Ticker,
				Direction: domain.DirectionIn,
				Concept:   domain.ConceptPurchase,
				Date:      s.current,
				Phase:     domain.PhaseOpen,
				Quantity:  shares,
				Price:     &price,
			},
			ledger.Entry{
				Asset:     domain.CashAsset,
				Direction: domain.DirectionOut,
				Concept:   domain.ConceptPurchase,
				Date:      s.current,
				Phase:     domain.PhaseOpen,
				Quantity:  shares.Mul(open),
			},
		)
		if err != nil {
			return 0, fmt.Errorf("buying %s shares: %w", shares, err)
		}
	}
	s.cycle.SharesBought = shares
	return StateSellCall, nil
}

// affordableShares returns the whole number of shares cash can buy at price.
func affordableShares(cash, price decimal.Decimal) decimal.Decimal {
	if !cash.IsPositive() {
		return decimal.Zero
	}
	n := cash.Div(price).Floor()
	for n.IsPositive() && n.Mul(price).GreaterThan(cash) {
		n = n.Sub(decimal.NewFromInt(1))
	}
	return n
}

func (s *simulation) sellCall(ctx context.Context) (State, error) {
	p := s.params
	target := decimal.NewFromFloat(p.RelativeStrike).Mul(s.cycle.SpotOpen)
	band := decimal.NewFromFloat(p.StrikeBand)
	s.cycle.TargetStrike = target

	q := marketdata.ContractQuery{
		Underlying:    p.Ticker,
		Type:          domain.ContractCall,
		ExpirationGTE: s.current,
		ExpirationLTE: calendar.AddMonths(s.current, p.ExpirationWindowMonths),
		StrikeGTE:     target.Sub(band),
		StrikeLTE:     target.Add(band),
	}
	listing, err := s.runner.chain.ListOptionContracts(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("listing contracts: %w", err)
	}
	if listing.Degraded() {
		s.cycle.Partial = true
		s.runner.observer.ListingDegraded(p, s.current, listing.Partial)
		s.log.Warn("contract listing incomplete",
			"date", calendar.Format(s.current),
			"contracts", len(listing.Contracts),
			"error", listing.Partial,
		)
		if len(listing.Contracts) == 0 {
			s.cycle.Outcome = OutcomeSkipped
			s.completeCycle()
			return StateRebalance, nil
		}
	}

	sel, err := selector.Select(listing.Contracts, target, p.ExpirationIndex)
	if err != nil {
		return 0, err
	}
	s.cycle.OptionTicker = sel.Ticker
	s.cycle.Expiration = sel.Expiration
	s.cycle.Strike = sel.Strike
	s.log.Debug("contract selected",
		"option", sel.Ticker,
		"expirations", len(sel.Expirations),
		"strikes", len(sel.Strikes),
		"lowest", sel.Strikes[0],
		"highest", sel.Strikes[len(sel.Strikes)-1],
	)

	lot := decimal.NewFromInt(p.LotSize)
	stock := s.ledger.StockPosition(p.Ticker)
	covered := stock.Div(lot).Floor().Mul(lot)
	s.cycle.CoveredShares = covered
	if !covered.IsPositive() {
		s.log.Debug("no full lot to cover", "date", calendar.Format(s.current), "shares", stock)
		return StateAwaitExpiration, nil
	}

	bar, err := s.runner.chain.OptionDailyBar(ctx, sel.Ticker, s.current)
	if err != nil {
		return 0, fmt.Errorf("pricing %s: %w", sel.Ticker, err)
	}
	vwap := decimal.NewFromFloat(bar.VWAP)
	premium := vwap.Mul(covered)
	s.cycle.OptionVWAP = vwap
	s.cycle.Premium = premium

	if premium.IsPositive() {
		err := s.ledger.Append(ledger.Entry{
			Asset:     domain.CashAsset,
			Direction: domain.DirectionIn,
			Concept:   domain.ConceptCallSold,
			Date:      s.current,
			Quantity:  premium,
		})
		if err != nil {
			return 0, err
		}
	}
	return StateAwaitExpiration, nil
}

// settle exercises or expires the call. An expiration that is not a session
// (a holiday Friday) settles on the close of the last session before it.
func (s *simulation) settle(ctx context.Context) (State, error) {
	p := s.params
	settleDay, err := s.walker.OnOrBefore(s.current)
	if err != nil {
		return 0, err
	}
	if !settleDay.Equal(s.current) {
		s.log.Info("expiration is not a session",
			"expiration", calendar.Format(s.current),
			"settle", calendar.Format(settleDay),
		)
	}
	closePrice, err := s.closePrice(ctx, settleDay)
	if err != nil {
		return 0, err
	}
	s.cycle.SettleClose = closePrice
	s.cycle.Outcome = OutcomeOTM

	covered := s.cycle.CoveredShares
	if closePrice.GreaterThan(s.cycle.Strike) && covered.IsPositive() {
		strike := s.cycle.Strike
		err := s.ledger.Append(
			ledger.Entry{
				Asset:     p.Ticker,
				Direction: domain.DirectionOut,
				Concept:   domain.ConceptCallExercised,
				Date:      settleDay,
				Phase:     domain.PhaseClose,
				Quantity:  covered,
				Price:     &strike,
			},
			ledger.Entry{
				Asset:     domain.CashAsset,
				Direction: domain.DirectionIn,
				Concept:   domain.ConceptCallExercised,
				Date:      settleDay,
				Phase:     domain.PhaseClose,
				Quantity:  strike.Mul(covered),
			},
		)
		if err != nil {
			return 0, fmt.Errorf("settling %s: %w", s.cycle.OptionTicker, err)
		}
		s.cycle.Outcome = OutcomeITM
	}
	s.completeCycle()
	return StateRebalance, nil
}

func (s *simulation) completeCycle() {
	c := s.cycle
	s.cycles = append(s.cycles, c)
	s.runner.observer.CycleCompleted(s.params, c)
	s.log.Info("cycle completed",
		"cycle", c.Index,
		"date", calendar.Format(c.TradeDate),
		"option", c.OptionTicker,
		"strike", c.Strike,
		"covered", c.CoveredShares,
		"premium", c.Premium,
		"outcome", c.Outcome,
	)
}

// rebalance moves to the first session after the current date. A
// non-session expiration rolls to the first session after it.
func (s *simulation) rebalance() (State, error) {
	var (
		next time.Time
		err  error
	)
	if s.walker.Contains(s.current) {
		next, err = s.walker.Next(s.current)
	} else {
		next, err = s.walker.OnOrAfter(s.current)
	}
	if err != nil {
		return 0, err
	}
	s.current = next
	return StateBuyShares, nil
}

func (s *simulation) finalize(ctx context.Context) error {
	lastClose := decimal.Zero
	if s.ledger.Len() > 0 {
		c, err := s.closePrice(ctx, s.ledger.LastDate())
		if err != nil {
			return err
		}
		lastClose = c
	}
	s.summary = perf.Compute(s.ledger, s.params.Ticker, lastClose)
	return nil
}

func (s *simulation) openPrice(ctx context.Context, day time.Time) (decimal.Decimal, error) {
	return checkPrice(s.runner.prices.OpenPrice(ctx, s.params.Ticker, day))
}

func (s *simulation) closePrice(ctx context.Context, day time.Time) (decimal.Decimal, error) {
	return checkPrice(s.runner.prices.ClosePrice(ctx, s.params.Ticker, day))
}

func checkPrice(price decimal.Decimal, err error) (decimal.Decimal, error) {
	if err != nil {
		return decimal.Zero, err
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrInvalidPrice, price)
	}
	return price, nil
}
