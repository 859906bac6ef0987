package covercall

// Service and method names of the covercall.v1.Backtest gRPC service.
// Messages are google.protobuf.Struct values holding the JSON form of the
// types below.
const (
	ServiceName = "covercall.v1.Backtest"

	MethodRun      = "/" + ServiceName + "/Run"
	MethodGetRun   = "/" + ServiceName + "/GetRun"
	MethodListRuns = "/" + ServiceName + "/ListRuns"
)

// RunRequest holds the strategy parameters of a backtest. Empty strings and
// nil numbers take the server's configured defaults; an explicit zero is
// kept. Dates use YYYY-MM-DD.
type RunRequest struct {
	Ticker          string   `json:"ticker,omitempty"`
	Calendar        string   `json:"calendar,omitempty"`
	StartDate       string   `json:"start_date,omitempty"`
	DurationMonths  *int     `json:"duration_months,omitempty"`
	RelativeStrike  *float64 `json:"relative_strike,omitempty"`
	InitialShares   *int64   `json:"initial_shares,omitempty"`
	ExpirationIndex *int     `json:"expiration_index,omitempty"`
	StrikeBand      *float64 `json:"strike_band,omitempty"`
}

// Ptr returns a pointer to v, for the optional fields of RunRequest.
func Ptr[T any](v T) *T { return &v }

// GetRunRequest selects a persisted run.
type GetRunRequest struct {
	ID string `json:"id"`
}

// ListRunsRequest pages the run history, newest first.
type ListRunsRequest struct {
	Limit int `json:"limit,omitempty"`
}

// ListRunsResponse lists runs without their ledgers.
type ListRunsResponse struct {
	Runs []Run `json:"runs"`
}

// Summary holds the headline metrics of a run. Money and share amounts are
// decimal strings.
type Summary struct {
	InitialCapital      string  `json:"initial_capital"`
	Premiums            string  `json:"premiums"`
	Cash                string  `json:"cash"`
	Shares              string  `json:"shares"`
	LastClose           string  `json:"last_close"`
	Equity              string  `json:"equity"`
	ElapsedDays         int     `json:"elapsed_days"`
	TotalReturn         float64 `json:"total_return"`
	AnnualizedReturn    float64 `json:"annualized_return"`
	CashYield           float64 `json:"cash_yield"`
	AnnualizedCashYield float64 `json:"annualized_cash_yield"`
}

// Entry is one ledger row.
type Entry struct {
	Seq       int    `json:"seq"`
	Asset     string `json:"asset"`
	Direction string `json:"direction"`
	Concept   string `json:"concept"`
	Date      string `json:"date"`
	Phase     string `json:"phase,omitempty"`
	Quantity  string `json:"quantity"`
	Price     string `json:"price,omitempty"`
}

// Cycle is the decision log of one covered-call cycle.
type Cycle struct {
	Index         int    `json:"index"`
	TradeDate     string `json:"trade_date"`
	SpotOpen      string `json:"spot_open"`
	SharesBought  string `json:"shares_bought"`
	OptionTicker  string `json:"option_ticker,omitempty"`
	Expiration    string `json:"expiration,omitempty"`
	Strike        string `json:"strike"`
	OptionVWAP    string `json:"option_vwap"`
	CoveredShares string `json:"covered_shares"`
	Premium       string `json:"premium"`
	SettleClose   string `json:"settle_close"`
	Outcome       string `json:"outcome"`
	Partial       bool   `json:"partial,omitempty"`
}

// Run is a backtest result as returned by the service.
type Run struct {
	ID        string     `json:"id"`
	CreatedAt string     `json:"created_at"` // RFC 3339
	Ticker    string     `json:"ticker"`
	Params    RunRequest `json:"params"`
	Summary   Summary    `json:"summary"`
	Entries   []Entry    `json:"entries,omitempty"`
	Cycles    []Cycle    `json:"cycles,omitempty"`
}
