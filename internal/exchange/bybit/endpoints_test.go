package bybit

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/ledgersync/internal/exchange"
	"github.com/coachpo/ledgersync/internal/ledger"
)

func TestStatusTableMatchesContract(t *testing.T) {
	cases := map[int]ledger.Status{
		10:  ledger.StatusPending,
		20:  ledger.StatusProcessing,
		30:  ledger.StatusProcessing,
		60:  ledger.StatusProcessing,
		100: ledger.StatusProcessing,
		40:  ledger.StatusCancelled,
		80:  ledger.StatusCancelled,
		50:  ledger.StatusCompleted,
		70:  ledger.StatusFailed,
	}
	for code, want := range cases {
		if got := CanonicalStatus(code); got != want {
			t.Fatalf("CanonicalStatus(%d) = %q, want %q", code, got, want)
		}
	}
	if CanonicalStatus(999) != ledger.StatusPending {
		t.Fatal("unknown status must default to pending")
	}
}

func TestOrderListDecodesCompletedBuyOrder(t *testing.T) {
	var gotBody orderListRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &gotBody))
		_, _ = w.Write([]byte(`{
			"retCode":0,"retMsg":"SUCCESS",
			"result":{"count":1,"items":[{
				"id":"1766694270163140608",
				"side":0,"tokenId":"USDT","currencyId":"EUR",
				"price":"0.92","quantity":"108.69","amount":"99.99","fee":"0.1",
				"status":50,"createDate":"1700000100000",
				"targetNickName":"fastseller",
				"sellerRealName":"Erika Mustermann","buyerRealName":"Max Mustermann"
			}]}
		}`))
	}))
	defer srv.Close()

	ep := &orderListEndpoint{client: fixtureClient(srv.URL)}
	window := exchange.Window{Start: time.UnixMilli(1700000000000), End: time.UnixMilli(1700086400000)}
	records, total, err := ep.FetchPage(context.Background(), window, 0, 30)

	require.NoError(t, err)
	require.Equal(t, 1, gotBody.Page, "pager page 0 maps to Bybit page 1")
	require.Equal(t, 30, gotBody.Size)
	require.Equal(t, 1, total)
	require.Len(t, records, 1)

	rec := records[0]
	require.Equal(t, ledger.TypeP2POrder, rec.Type)
	require.Equal(t, "1766694270163140608", rec.ExternalOrderID)
	require.Equal(t, ledger.SideBuy, rec.Side, "side=0 is a buy")
	require.Equal(t, ledger.StatusCompleted, rec.Status, "status=50 is completed")
	require.Equal(t, "fastseller", rec.CounterpartyNickname)
	require.Equal(t, "Erika Mustermann", rec.CounterpartyFullName,
		"buy orders take the seller's real name as counterparty")
	require.True(t, rec.Quantity.Equal(decimal.RequireFromString("108.69")))
	require.True(t, rec.Total.Equal(decimal.RequireFromString("99.99")))
}

func TestOrderDetailMergesPaymentMethod(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, pathOrderInfo, r.URL.Path)
		_, _ = w.Write([]byte(`{
			"retCode":0,"retMsg":"SUCCESS",
			"result":{
				"id":"1766694270163140608",
				"side":1,"tokenId":"USDT","currencyId":"EUR",
				"price":"0.92","quantity":"50","amount":"46","fee":"0",
				"status":20,"createDate":"1700000100000",
				"targetNickName":"quickbuyer",
				"sellerRealName":"Erika Mustermann","buyerRealName":"Max Mustermann",
				"paymentTermList":[{"paymentType":14}]
			}
		}`))
	}))
	defer srv.Close()

	venue := &Venue{client: fixtureClient(srv.URL)}
	record, err := venue.OrderDetail(context.Background(), "1766694270163140608")

	require.NoError(t, err)
	require.Equal(t, ledger.SideSell, record.Side)
	require.Equal(t, ledger.StatusProcessing, record.Status)
	require.Equal(t, "sepa", record.PaymentMethod)
	require.Equal(t, "Max Mustermann", record.CounterpartyFullName,
		"sell orders take the buyer's real name as counterparty")
}

func TestOrderDetailPrefersVenuePaymentName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{
			"retCode":0,"retMsg":"SUCCESS",
			"result":{
				"id":"1766694270163140608",
				"side":1,"tokenId":"USDT","currencyId":"EUR",
				"price":"0.92","quantity":"50","amount":"46","fee":"0",
				"status":20,"createDate":"1700000100000",
				"targetNickName":"quickbuyer",
				"paymentTermList":[{"paymentType":14,"paymentConfigVo":{"paymentName":"SEPA Instant"}}]
			}
		}`))
	}))
	defer srv.Close()

	venue := &Venue{client: fixtureClient(srv.URL)}
	record, err := venue.OrderDetail(context.Background(), "1766694270163140608")

	require.NoError(t, err)
	require.Equal(t, "SEPA Instant", record.PaymentMethod,
		"the nested paymentConfigVo name must win over the numeric table")
}

func TestVenueExposesSingleListEndpoint(t *testing.T) {
	venue, err := New(ledger.CredentialRecord{APIKey: "k", SecretKey: "s"},
		exchange.Settings{BaseURL: "https://api.bybit.com"})
	require.NoError(t, err)
	require.Equal(t, ledger.ExchangeBybit, venue.Exchange())
	require.Len(t, venue.Endpoints(), 1)
}
