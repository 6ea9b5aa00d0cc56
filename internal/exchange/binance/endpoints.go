package binance

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/coachpo/ledgersync/errs"
	"github.com/coachpo/ledgersync/internal/exchange"
	"github.com/coachpo/ledgersync/internal/ledger"
)

const (
	pathSpotTrades      = "/api/v3/myTrades"
	pathP2PHistory      = "/sapi/v1/c2c/orderMatch/listUserOrderHistory"
	pathDeposits        = "/sapi/v1/capital/deposit/hisrec"
	pathWithdrawals     = "/sapi/v1/capital/withdraw/history"
	pathPayTransactions = "/sapi/v1/pay/transactions"
	pathTransfers       = "/sapi/v1/asset/transfer"

	sapiSuccessCode = "000000"
	spotTradeLimit  = 1000
	detailLookback  = 30 * 24 * time.Hour
)

// transferTypes enumerates the internal transfer directions synced by default.
var transferTypes = []string{"MAIN_FUNDING", "FUNDING_MAIN"}

// Venue bundles the Binance history surfaces for one credential.
type Venue struct {
	client   *Client
	settings exchange.Settings
}

// New builds a Binance venue bound to the credential. It satisfies
// exchange.Factory.
func New(cred ledger.CredentialRecord, settings exchange.Settings) (exchange.Venue, error) {
	if strings.TrimSpace(cred.APIKey) == "" || strings.TrimSpace(cred.SecretKey) == "" {
		return nil, errs.New(venueName, errs.KindInvalid, errs.WithMessage("api key and secret required"))
	}
	return &Venue{client: NewClient(cred, settings), settings: settings}, nil
}

// RegisterFactory installs the Binance factory into the registry.
func RegisterFactory(reg *exchange.Registry) {
	reg.Register(ledger.ExchangeBinance, New)
}

// Exchange identifies the venue.
func (v *Venue) Exchange() ledger.Exchange { return ledger.ExchangeBinance }

// Endpoints returns fresh endpoint instances for one sync run.
func (v *Venue) Endpoints() []exchange.Endpoint {
	return []exchange.Endpoint{
		newSpotTradesEndpoint(v.client, v.settings.SpotSymbols),
		&p2pEndpoint{client: v.client, side: "BUY"},
		&p2pEndpoint{client: v.client, side: "SELL"},
		&depositsEndpoint{client: v.client},
		&withdrawalsEndpoint{client: v.client},
		&payEndpoint{client: v.client},
		newTransfersEndpoint(v.client),
	}
}

// OrderDetail locates a P2P order by scanning recent order history for both
// trade sides. Binance exposes no dedicated order-detail endpoint on this
// surface, so each side is paged until the order turns up or the lookback is
// exhausted.
func (v *Venue) OrderDetail(ctx context.Context, externalOrderID string) (*exchange.Record, error) {
	const pageSize = 100
	window := exchange.Window{Start: time.Now().Add(-detailLookback), End: time.Now()}
	for _, side := range []string{"BUY", "SELL"} {
		ep := &p2pEndpoint{client: v.client, side: side}
		for page, fetched := 0, 0; ; page++ {
			records, total, err := ep.FetchPage(ctx, window, page, pageSize)
			if err != nil {
				return nil, err
			}
			for i := range records {
				if records[i].ExternalOrderID == externalOrderID {
					return &records[i], nil
				}
			}
			fetched += len(records)
			if len(records) < pageSize || (total >= 0 && fetched >= total) {
				break
			}
		}
	}
	return nil, errs.New(venueName, errs.KindNotFound,
		errs.WithMessage("p2p order "+externalOrderID+" not in recent history"))
}

// sapiEnvelope is the response wrapper used by the c2c and pay surfaces.
type sapiEnvelope struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Total   int             `json:"total"`
	Data    json.RawMessage `json:"data"`
	Success bool            `json:"success"`
}

func (e *sapiEnvelope) check(endpoint string) error {
	code := strings.TrimSpace(e.Code)
	if code == "" || code == sapiSuccessCode {
		return nil
	}
	return errs.New(venueName, errs.KindBusiness,
		errs.WithRawCode(code),
		errs.WithRawMessage(e.Message),
		errs.WithMessage(endpoint))
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func millis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// pageChunker serves fixed-size pages out of source batches fetched lazily.
// It keeps page sizes stable for endpoints whose natural unit (symbol,
// transfer direction) does not align with the pager's page size.
type pageChunker struct {
	buf  []exchange.Record
	done bool
	next func(ctx context.Context, window exchange.Window) ([]exchange.Record, bool, error)
}

func (p *pageChunker) page(ctx context.Context, window exchange.Window, size int) ([]exchange.Record, error) {
	for len(p.buf) < size && !p.done {
		records, more, err := p.next(ctx, window)
		if err != nil {
			return nil, err
		}
		p.buf = append(p.buf, records...)
		if !more {
			p.done = true
		}
	}
	n := size
	if len(p.buf) < n {
		n = len(p.buf)
	}
	out := p.buf[:n:n]
	p.buf = p.buf[n:]
	return out, nil
}

// --- spot trades ---

type spotTrade struct {
	Symbol          string `json:"symbol"`
	ID              int64  `json:"id"`
	OrderID         int64  `json:"orderId"`
	Price           string `json:"price"`
	Qty             string `json:"qty"`
	QuoteQty        string `json:"quoteQty"`
	Commission      string `json:"commission"`
	CommissionAsset string `json:"commissionAsset"`
	Time            int64  `json:"time"`
	IsBuyer         bool   `json:"isBuyer"`
}

type spotTradesEndpoint struct {
	client  *Client
	symbols []string
	idx     int
	chunker pageChunker
}

func newSpotTradesEndpoint(client *Client, symbols []string) *spotTradesEndpoint {
	ep := &spotTradesEndpoint{client: client, symbols: symbols}
	ep.chunker.next = ep.nextSymbol
	return ep
}

func (e *spotTradesEndpoint) Name() string { return pathSpotTrades }

func (e *spotTradesEndpoint) FetchPage(ctx context.Context, window exchange.Window, _ int, size int) ([]exchange.Record, int, error) {
	records, err := e.chunker.page(ctx, window, size)
	return records, -1, err
}

func (e *spotTradesEndpoint) nextSymbol(ctx context.Context, window exchange.Window) ([]exchange.Record, bool, error) {
	if e.idx >= len(e.symbols) {
		return nil, false, nil
	}
	symbol := e.symbols[e.idx]
	e.idx++

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("startTime", millis(window.Start))
	params.Set("endTime", millis(window.End))
	params.Set("limit", strconv.Itoa(spotTradeLimit))

	var trades []spotTrade
	if err := e.client.get(ctx, pathSpotTrades, params, &trades); err != nil {
		return nil, false, err
	}

	records := make([]exchange.Record, 0, len(trades))
	for _, t := range trades {
		raw, _ := json.Marshal(t)
		side := ledger.SideSell
		if t.IsBuyer {
			side = ledger.SideBuy
		}
		records = append(records, exchange.Record{
			Type:            ledger.TypeSpotTrade,
			ExternalOrderID: symbol + "-" + strconv.FormatInt(t.ID, 10),
			Asset:           symbol,
			Side:            side,
			Quantity:        parseDecimal(t.Qty),
			Price:           parseDecimal(t.Price),
			Total:           parseDecimal(t.QuoteQty),
			Commission:      parseDecimal(t.Commission),
			Status:          ledger.StatusCompleted,
			CreatedAt:       time.UnixMilli(t.Time),
			SourceEndpoint:  pathSpotTrades,
			Raw:             raw,
		})
	}
	return records, e.idx < len(e.symbols), nil
}

// --- P2P order history ---

type p2pOrder struct {
	OrderNumber         string `json:"orderNumber"`
	AdvNo               string `json:"advNo"`
	TradeType           string `json:"tradeType"`
	Asset               string `json:"asset"`
	Fiat                string `json:"fiat"`
	Amount              string `json:"amount"`
	TotalPrice          string `json:"totalPrice"`
	UnitPrice           string `json:"unitPrice"`
	OrderStatus         string `json:"orderStatus"`
	CreateTime          int64  `json:"createTime"`
	Commission          string `json:"commission"`
	TakerCommission     string `json:"takerCommission"`
	CounterPartNickName string `json:"counterPartNickName"`
	PayMethodName       string `json:"payMethodName"`
}

type p2pEndpoint struct {
	client *Client
	side   string
}

func (e *p2pEndpoint) Name() string { return pathP2PHistory + "/" + strings.ToLower(e.side) }

func (e *p2pEndpoint) FetchPage(ctx context.Context, window exchange.Window, page, size int) ([]exchange.Record, int, error) {
	params := url.Values{}
	params.Set("tradeType", e.side)
	params.Set("startTimestamp", millis(window.Start))
	params.Set("endTimestamp", millis(window.End))
	params.Set("page", strconv.Itoa(page+1))
	params.Set("rows", strconv.Itoa(size))

	var envelope sapiEnvelope
	if err := e.client.get(ctx, pathP2PHistory, params, &envelope); err != nil {
		return nil, 0, err
	}
	if err := envelope.check(pathP2PHistory); err != nil {
		return nil, 0, err
	}

	var orders []p2pOrder
	if len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, &orders); err != nil {
			return nil, 0, errs.New(venueName, errs.KindDecode,
				errs.WithMessage("decode "+pathP2PHistory),
				errs.WithCause(err))
		}
	}

	records := make([]exchange.Record, 0, len(orders))
	for _, o := range orders {
		raw, _ := json.Marshal(o)
		side := ledger.SideUnknown
		switch strings.ToUpper(o.TradeType) {
		case "BUY":
			side = ledger.SideBuy
		case "SELL":
			side = ledger.SideSell
		}
		records = append(records, exchange.Record{
			Type:                 ledger.TypeP2POrder,
			ExternalOrderID:      o.OrderNumber,
			Asset:                o.Asset,
			Fiat:                 o.Fiat,
			Side:                 side,
			Quantity:             parseDecimal(o.Amount),
			Price:                parseDecimal(o.UnitPrice),
			Total:                parseDecimal(o.TotalPrice),
			Commission:           parseDecimal(o.Commission),
			TakerFee:             parseDecimal(o.TakerCommission),
			Status:               CanonicalStatus(o.OrderStatus),
			CounterpartyNickname: o.CounterPartNickName,
			PaymentMethod:        o.PayMethodName,
			CreatedAt:            time.UnixMilli(o.CreateTime),
			SourceEndpoint:       pathP2PHistory,
			Raw:                  raw,
		})
	}
	return records, envelope.Total, nil
}

// --- deposits ---

type depositRecord struct {
	Amount     string `json:"amount"`
	Coin       string `json:"coin"`
	Network    string `json:"network"`
	Status     int    `json:"status"`
	TxID       string `json:"txId"`
	InsertTime int64  `json:"insertTime"`
}

type depositsEndpoint struct {
	client *Client
}

func (e *depositsEndpoint) Name() string { return pathDeposits }

func (e *depositsEndpoint) FetchPage(ctx context.Context, window exchange.Window, page, size int) ([]exchange.Record, int, error) {
	params := url.Values{}
	params.Set("startTime", millis(window.Start))
	params.Set("endTime", millis(window.End))
	params.Set("offset", strconv.Itoa(page*size))
	params.Set("limit", strconv.Itoa(size))

	var deposits []depositRecord
	if err := e.client.get(ctx, pathDeposits, params, &deposits); err != nil {
		return nil, 0, err
	}

	records := make([]exchange.Record, 0, len(deposits))
	for _, d := range deposits {
		raw, _ := json.Marshal(d)
		records = append(records, exchange.Record{
			Type:            ledger.TypeDeposit,
			ExternalOrderID: d.TxID,
			Asset:           d.Coin,
			Side:            ledger.SideUnknown,
			Quantity:        parseDecimal(d.Amount),
			Status:          depositStatus(d.Status),
			CreatedAt:       time.UnixMilli(d.InsertTime),
			SourceEndpoint:  pathDeposits,
			Raw:             raw,
		})
	}
	return records, -1, nil
}

// --- withdrawals ---

type withdrawRecord struct {
	ID             string `json:"id"`
	Amount         string `json:"amount"`
	TransactionFee string `json:"transactionFee"`
	Coin           string `json:"coin"`
	Status         int    `json:"status"`
	TxID           string `json:"txId"`
	ApplyTime      string `json:"applyTime"`
	Network        string `json:"network"`
}

type withdrawalsEndpoint struct {
	client *Client
}

func (e *withdrawalsEndpoint) Name() string { return pathWithdrawals }

func (e *withdrawalsEndpoint) FetchPage(ctx context.Context, window exchange.Window, page, size int) ([]exchange.Record, int, error) {
	params := url.Values{}
	params.Set("startTime", millis(window.Start))
	params.Set("endTime", millis(window.End))
	params.Set("offset", strconv.Itoa(page*size))
	params.Set("limit", strconv.Itoa(size))

	var withdrawals []withdrawRecord
	if err := e.client.get(ctx, pathWithdrawals, params, &withdrawals); err != nil {
		return nil, 0, err
	}

	records := make([]exchange.Record, 0, len(withdrawals))
	for _, w := range withdrawals {
		raw, _ := json.Marshal(w)
		applied, _ := time.Parse("2006-01-02 15:04:05", w.ApplyTime)
		records = append(records, exchange.Record{
			Type:            ledger.TypeWithdrawal,
			ExternalOrderID: w.ID,
			Asset:           w.Coin,
			Side:            ledger.SideUnknown,
			Quantity:        parseDecimal(w.Amount),
			NetworkFee:      parseDecimal(w.TransactionFee),
			Status:          withdrawStatus(w.Status),
			CreatedAt:       applied,
			SourceEndpoint:  pathWithdrawals,
			Raw:             raw,
		})
	}
	return records, -1, nil
}

// --- pay transactions ---

type payTransaction struct {
	OrderType       string `json:"orderType"`
	TransactionID   string `json:"transactionId"`
	TransactionTime int64  `json:"transactionTime"`
	Amount          string `json:"amount"`
	Currency        string `json:"currency"`
}

type payEndpoint struct {
	client *Client
}

func (e *payEndpoint) Name() string { return pathPayTransactions }

func (e *payEndpoint) FetchPage(ctx context.Context, window exchange.Window, _ int, size int) ([]exchange.Record, int, error) {
	params := url.Values{}
	params.Set("startTime", millis(window.Start))
	params.Set("endTime", millis(window.End))
	params.Set("limit", strconv.Itoa(size))

	var envelope sapiEnvelope
	if err := e.client.get(ctx, pathPayTransactions, params, &envelope); err != nil {
		return nil, 0, err
	}
	if err := envelope.check(pathPayTransactions); err != nil {
		return nil, 0, err
	}

	var transactions []payTransaction
	if len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, &transactions); err != nil {
			return nil, 0, errs.New(venueName, errs.KindDecode,
				errs.WithMessage("decode "+pathPayTransactions),
				errs.WithCause(err))
		}
	}

	records := make([]exchange.Record, 0, len(transactions))
	for _, p := range transactions {
		raw, _ := json.Marshal(p)
		amount := parseDecimal(p.Amount)
		// Outgoing pay transactions carry a negative amount.
		side := ledger.SideBuy
		if amount.IsNegative() {
			side = ledger.SideSell
			amount = amount.Abs()
		}
		records = append(records, exchange.Record{
			Type:            ledger.TypePayTransaction,
			ExternalOrderID: p.TransactionID,
			Asset:           p.Currency,
			Side:            side,
			Quantity:        amount,
			Status:          ledger.StatusCompleted,
			CreatedAt:       time.UnixMilli(p.TransactionTime),
			SourceEndpoint:  pathPayTransactions,
			Raw:             raw,
		})
	}
	// The pay surface exposes no pagination; report the batch as the total.
	return records, len(records), nil
}

// --- internal transfers ---

type transferEnvelope struct {
	Total int           `json:"total"`
	Rows  []transferRow `json:"rows"`
}

type transferRow struct {
	Asset     string `json:"asset"`
	Amount    string `json:"amount"`
	Type      string `json:"type"`
	Status    string `json:"status"`
	TranID    int64  `json:"tranId"`
	Timestamp int64  `json:"timestamp"`
}

type transfersEndpoint struct {
	client  *Client
	typeIdx int
	page    int
	fetched int
	chunker pageChunker
}

func newTransfersEndpoint(client *Client) *transfersEndpoint {
	ep := &transfersEndpoint{client: client}
	ep.chunker.next = ep.nextBatch
	return ep
}

func (e *transfersEndpoint) Name() string { return pathTransfers }

func (e *transfersEndpoint) FetchPage(ctx context.Context, window exchange.Window, _ int, size int) ([]exchange.Record, int, error) {
	records, err := e.chunker.page(ctx, window, size)
	return records, -1, err
}

func (e *transfersEndpoint) nextBatch(ctx context.Context, window exchange.Window) ([]exchange.Record, bool, error) {
	const batchSize = 100
	if e.typeIdx >= len(transferTypes) {
		return nil, false, nil
	}
	transferType := transferTypes[e.typeIdx]

	params := url.Values{}
	params.Set("type", transferType)
	params.Set("startTime", millis(window.Start))
	params.Set("endTime", millis(window.End))
	params.Set("current", strconv.Itoa(e.page+1))
	params.Set("size", strconv.Itoa(batchSize))

	var envelope transferEnvelope
	if err := e.client.get(ctx, pathTransfers, params, &envelope); err != nil {
		return nil, false, err
	}

	e.page++
	e.fetched += len(envelope.Rows)
	exhausted := len(envelope.Rows) < batchSize || e.fetched >= envelope.Total
	if exhausted {
		e.typeIdx++
		e.page = 0
		e.fetched = 0
	}

	records := make([]exchange.Record, 0, len(envelope.Rows))
	for _, row := range envelope.Rows {
		raw, _ := json.Marshal(row)
		status := ledger.StatusCompleted
		if !strings.EqualFold(row.Status, "CONFIRMED") {
			status = ledger.StatusPending
		}
		records = append(records, exchange.Record{
			Type:            ledger.TypeInternalTransfer,
			ExternalOrderID: strconv.FormatInt(row.TranID, 10),
			Asset:           row.Asset,
			Side:            ledger.SideUnknown,
			Quantity:        parseDecimal(row.Amount),
			Status:          status,
			CreatedAt:       time.UnixMilli(row.Timestamp),
			SourceEndpoint:  pathTransfers,
			Raw:             raw,
		})
	}
	return records, e.typeIdx < len(transferTypes), nil
}
