package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/ledgersync/errs"
	"github.com/coachpo/ledgersync/internal/exchange"
	"github.com/coachpo/ledgersync/internal/ledger"
)

const (
	fixtureSecret = "NhqPtmdSJYdKjVHjA7PZj4Mge3R5YNiP1e3UZjInClVN65XAbvqqM6A7H5fATj0j"
	fixtureKey    = "vmPUZE6mv9SD5VNHk4HlWFsOr6aKE2zvsw0MuIgwCIPy6utIco14y7Ju91duEh8A"
)

func fixtureClient(baseURL string) *Client {
	return &Client{
		apiKey:  fixtureKey,
		secret:  fixtureSecret,
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Second},
		now:     func() time.Time { return time.UnixMilli(1699999999999) },
	}
}

func TestSignedQueryReproducesKnownSignature(t *testing.T) {
	c := fixtureClient("")
	params := url.Values{}
	params.Set("asset", "USDT")
	params.Set("startTime", "1700000000000")
	params.Set("endTime", "1700086400000")

	query := c.signedQuery(params, nil)

	require.Equal(t,
		"asset=USDT&endTime=1700086400000&startTime=1700000000000&timestamp=1699999999999"+
			"&signature=38a001966821e39645ec114e4e34d2ae6894b4156c62eb89873a8d395f0cd489",
		query)
}

func TestSignedQueryIncludesJSONBody(t *testing.T) {
	c := fixtureClient("")
	params := url.Values{}
	params.Set("asset", "USDT")
	params.Set("startTime", "1700000000000")
	params.Set("endTime", "1700086400000")

	query := c.signedQuery(params, []byte(`{"page":1,"rows":50}`))

	require.True(t, strings.HasSuffix(query,
		"&signature=c2545e7d5e2a600dadadfe5f08976caa6d3cb93c295395adb20ed04e3811defe"),
		"body bytes must participate in the signature: %s", query)
}

func TestGetSendsAPIKeyHeaderAndSignature(t *testing.T) {
	var gotHeader, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get(apiKeyHeader)
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := fixtureClient(srv.URL)
	var out []spotTrade
	err := c.get(context.Background(), pathSpotTrades, url.Values{"symbol": {"BTCUSDT"}}, &out)

	require.NoError(t, err)
	require.Equal(t, fixtureKey, gotHeader)
	require.Contains(t, gotQuery, "timestamp=1699999999999")
	require.Contains(t, gotQuery, "signature=")
}

func TestAuthBusinessCodeUpgradesToAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-2015,"msg":"Invalid API-key, IP, or permissions for action."}`))
	}))
	defer srv.Close()

	c := fixtureClient(srv.URL)
	err := c.get(context.Background(), pathDeposits, url.Values{}, &[]depositRecord{})

	require.Error(t, err)
	require.True(t, errs.CredentialFatal(err), "binance auth code must be credential-fatal: %v", err)
}

func TestBusinessStatusStaysBusinessError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	}))
	defer srv.Close()

	c := fixtureClient(srv.URL)
	err := c.get(context.Background(), pathSpotTrades, url.Values{}, &[]spotTrade{})

	require.Error(t, err)
	require.True(t, errs.RecordSkippable(err))
	require.False(t, errs.CredentialFatal(err))
}

func TestTransportFailureIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := fixtureClient(srv.URL)
	err := c.get(context.Background(), pathDeposits, url.Values{}, &[]depositRecord{})

	require.Error(t, err)
	require.True(t, errs.Retryable(err))
}

func TestNewClientResolvesTestnetBaseURL(t *testing.T) {
	settings := exchange.Settings{
		BaseURL:        "https://api.binance.com",
		TestnetBaseURL: "https://testnet.binance.vision",
	}.Normalize()

	live := NewClient(ledger.CredentialRecord{APIKey: "k", SecretKey: "s"}, settings)
	test := NewClient(ledger.CredentialRecord{APIKey: "k", SecretKey: "s", IsTestnet: true}, settings)

	require.Equal(t, "https://api.binance.com", live.baseURL)
	require.Equal(t, "https://testnet.binance.vision", test.baseURL)
}
