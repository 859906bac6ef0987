package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/shopspring/decimal"

	"covercall/internal/backtest"
	"covercall/internal/calendar"
	"covercall/internal/domain"
	"covercall/internal/ledger"
)

var ledgerHeader = []string{"seq", "asset", "direction", "concept", "date", "phase", "quantity", "price"}

// WriteLedgerCSV writes entries as CSV, one row per entry, with concepts
// rendered by their export label.
func WriteLedgerCSV(w io.Writer, entries []ledger.Entry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ledgerHeader); err != nil {
		return err
	}
	for _, e := range entries {
		price := ""
		if e.Price != nil {
			price = e.Price.String()
		}
		err := cw.Write([]string{
			strconv.Itoa(e.Seq),
			e.Asset,
			string(e.Direction),
			e.Concept.Label(),
			calendar.Format(e.Date),
			string(e.Phase),
			e.Quantity.String(),
			price,
		})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadLedgerCSV parses a file written by WriteLedgerCSV.
func ReadLedgerCSV(r io.Reader) ([]ledger.Entry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(ledgerHeader)

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	for i, h := range ledgerHeader {
		if header[i] != h {
			return nil, fmt.Errorf("unexpected column %d %q, want %q", i+1, header[i], h)
		}
	}

	var entries []ledger.Entry
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return nil, err
		}
		e, err := parseLedgerRow(rec)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		entries = append(entries, e)
	}
}

func parseLedgerRow(rec []string) (ledger.Entry, error) {
	seq, err := strconv.Atoi(rec[0])
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("seq: %w", err)
	}
	concept, err := domain.ParseConcept(rec[3])
	if err != nil {
		return ledger.Entry{}, err
	}
	date, err := calendar.ParseDate(rec[4])
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("date: %w", err)
	}
	qty, err := decimal.NewFromString(rec[6])
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("quantity: %w", err)
	}
	e := ledger.Entry{
		Seq:       seq,
		Asset:     rec[1],
		Direction: domain.Direction(rec[2]),
		Concept:   concept,
		Date:      date,
		Phase:     domain.Phase(rec[5]),
		Quantity:  qty,
	}
	if rec[7] != "" {
		p, err := decimal.NewFromString(rec[7])
		if err != nil {
			return ledger.Entry{}, fmt.Errorf("price: %w", err)
		}
		e.Price = &p
	}
	return e, nil
}

// WriteCyclesCSV writes the per-cycle decision log.
func WriteCyclesCSV(w io.Writer, cycles []backtest.Cycle) error {
	cw := csv.NewWriter(w)
	header := []string{
		"cycle", "trade_date", "spot_open", "shares_bought", "target_strike",
		"option", "expiration", "strike", "option_vwap", "covered_shares",
		"premium", "settle_close", "outcome", "partial",
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, c := range cycles {
		exp := ""
		if !c.Expiration.IsZero() {
			exp = calendar.Format(c.Expiration)
		}
		err := cw.Write([]string{
			strconv.Itoa(c.Index),
			calendar.Format(c.TradeDate),
			c.SpotOpen.String(),
			c.SharesBought.String(),
			c.TargetStrike.StringFixed(4),
			c.OptionTicker,
			exp,
			c.Strike.String(),
			c.OptionVWAP.String(),
			c.CoveredShares.String(),
			c.Premium.StringFixed(2),
			c.SettleClose.String(),
			string(c.Outcome),
			strconv.FormatBool(c.Partial),
		})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
