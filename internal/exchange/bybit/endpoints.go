package bybit

import (
	"context"
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
	pathOrderList = "/v5/p2p/order/simplifyList"
	pathOrderInfo = "/v5/p2p/order/info"
)

// Venue bundles the Bybit P2P surfaces for one credential.
type Venue struct {
	client *Client
}

// New builds a Bybit venue bound to the credential. It satisfies
// exchange.Factory.
func New(cred ledger.CredentialRecord, settings exchange.Settings) (exchange.Venue, error) {
	if strings.TrimSpace(cred.APIKey) == "" || strings.TrimSpace(cred.SecretKey) == "" {
		return nil, errs.New(venueName, errs.KindInvalid, errs.WithMessage("api key and secret required"))
	}
	return &Venue{client: NewClient(cred, settings)}, nil
}

// RegisterFactory installs the Bybit factory into the registry.
func RegisterFactory(reg *exchange.Registry) {
	reg.Register(ledger.ExchangeBybit, New)
}

// Exchange identifies the venue.
func (v *Venue) Exchange() ledger.Exchange { return ledger.ExchangeBybit }

// Endpoints returns fresh endpoint instances for one sync run.
func (v *Venue) Endpoints() []exchange.Endpoint {
	return []exchange.Endpoint{&orderListEndpoint{client: v.client}}
}

type orderListRequest struct {
	Page      int    `json:"page"`
	Size      int    `json:"size"`
	BeginTime string `json:"beginTime,omitempty"`
	EndTime   string `json:"endTime,omitempty"`
}

type orderListResult struct {
	Count int         `json:"count"`
	Items []orderItem `json:"items"`
}

type orderItem struct {
	ID             string `json:"id"`
	Side           int    `json:"side"`
	TokenID        string `json:"tokenId"`
	CurrencyID     string `json:"currencyId"`
	Price          string `json:"price"`
	Quantity       string `json:"quantity"`
	Amount         string `json:"amount"`
	Fee            string `json:"fee"`
	Status         int    `json:"status"`
	CreateDate     string `json:"createDate"`
	TargetNickName string `json:"targetNickName"`
	SellerRealName string `json:"sellerRealName"`
	BuyerRealName  string `json:"buyerRealName"`
}

type orderInfoRequest struct {
	OrderID string `json:"orderId"`
}

type orderInfo struct {
	orderItem
	PaymentTermList []paymentTerm `json:"paymentTermList"`
}

type paymentTerm struct {
	PaymentType   int           `json:"paymentType"`
	PaymentConfig paymentConfig `json:"paymentConfigVo"`
}

type paymentConfig struct {
	PaymentName string `json:"paymentName"`
}

type orderListEndpoint struct {
	client *Client
}

func (e *orderListEndpoint) Name() string { return pathOrderList }

func (e *orderListEndpoint) FetchPage(ctx context.Context, window exchange.Window, page, size int) ([]exchange.Record, int, error) {
	request := orderListRequest{
		Page:      page + 1,
		Size:      size,
		BeginTime: strconv.FormatInt(window.Start.UnixMilli(), 10),
		EndTime:   strconv.FormatInt(window.End.UnixMilli(), 10),
	}
	var result orderListResult
	if err := e.client.post(ctx, pathOrderList, request, &result); err != nil {
		return nil, 0, err
	}
	records := make([]exchange.Record, 0, len(result.Items))
	for _, item := range result.Items {
		records = append(records, recordFromItem(item, pathOrderList))
	}
	return records, result.Count, nil
}

// OrderDetail fetches the full detail of one P2P order, including the
// counterparty identity withheld by the list endpoint.
func (v *Venue) OrderDetail(ctx context.Context, externalOrderID string) (*Record, error) {
	var info orderInfo
	if err := v.client.post(ctx, pathOrderInfo, orderInfoRequest{OrderID: externalOrderID}, &info); err != nil {
		return nil, err
	}
	record := recordFromItem(info.orderItem, pathOrderInfo)
	if len(info.PaymentTermList) > 0 {
		record.PaymentMethod = paymentMethodName(info.PaymentTermList[0])
	}
	raw, _ := json.Marshal(info)
	record.Raw = raw
	return &record, nil
}

// Record aliases the shared record type for the exported detail signature.
type Record = exchange.Record

func recordFromItem(item orderItem, endpoint string) exchange.Record {
	raw, _ := json.Marshal(item)
	side := ledger.SideSell
	counterpartyName := item.BuyerRealName
	if item.Side == 0 {
		side = ledger.SideBuy
		counterpartyName = item.SellerRealName
	}
	createdAt := time.Time{}
	if ms, err := strconv.ParseInt(strings.TrimSpace(item.CreateDate), 10, 64); err == nil {
		createdAt = time.UnixMilli(ms)
	}
	return exchange.Record{
		Type:                 ledger.TypeP2POrder,
		ExternalOrderID:      item.ID,
		Asset:                item.TokenID,
		Fiat:                 item.CurrencyID,
		Side:                 side,
		Quantity:             parseDecimal(item.Quantity),
		Price:                parseDecimal(item.Price),
		Total:                parseDecimal(item.Amount),
		Commission:           parseDecimal(item.Fee),
		Status:               CanonicalStatus(item.Status),
		CounterpartyNickname: item.TargetNickName,
		CounterpartyFullName: counterpartyName,
		CreatedAt:            createdAt,
		SourceEndpoint:       endpoint,
		Raw:                  raw,
	}
}

// paymentMethodNames covers the payment types observed on the P2P surface.
var paymentMethodNames = map[int]string{
	1:  "bank_transfer",
	2:  "alipay",
	3:  "wechat_pay",
	14: "sepa",
	51: "wise",
}

func paymentMethodName(term paymentTerm) string {
	if name := strings.TrimSpace(term.PaymentConfig.PaymentName); name != "" {
		return name
	}
	if name, ok := paymentMethodNames[term.PaymentType]; ok {
		return name
	}
	return strconv.Itoa(term.PaymentType)
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}
