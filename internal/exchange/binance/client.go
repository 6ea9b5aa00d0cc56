// Package binance implements the Binance history integration: HMAC-SHA256
// query signing, the sapi/api history surfaces, and the Binance status
// vocabulary.
package binance

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"strconv"
	"time"

	json "github.com/goccy/go-json"

	"github.com/coachpo/ledgersync/errs"
	"github.com/coachpo/ledgersync/internal/exchange"
	"github.com/coachpo/ledgersync/internal/ledger"
)

const (
	apiKeyHeader = "X-MBX-APIKEY"
	venueName    = "binance"
)

// Business codes Binance returns for rejected credentials or signatures.
var authErrorCodes = map[int]struct{}{
	-1022: {}, // invalid signature
	-2014: {}, // bad API key format
	-2015: {}, // invalid key, IP or permissions
}

// Client issues signed REST requests against Binance.
type Client struct {
	apiKey  string
	secret  string
	baseURL string
	http    *http.Client
	now     func() time.Time
}

// NewClient constructs a signed Binance REST client for one credential.
func NewClient(cred ledger.CredentialRecord, settings exchange.Settings) *Client {
	httpClient := new(http.Client)
	httpClient.Timeout = settings.HTTPTimeout
	return &Client{
		apiKey:  cred.APIKey,
		secret:  cred.SecretKey,
		baseURL: settings.ResolveBaseURL(cred.IsTestnet),
		http:    httpClient,
		now:     time.Now,
	}
}

// get executes a signed GET request and decodes the response into out.
func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	query := c.signedQuery(params, nil)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query, nil)
	if err != nil {
		return errs.New(venueName, errs.KindInvalid, errs.WithCause(err))
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	return c.execute(req, path, out)
}

// post executes a signed POST request with a JSON body and decodes the
// response into out. The body bytes participate in the signature.
func (c *Client) post(ctx context.Context, path string, params url.Values, body any, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return errs.New(venueName, errs.KindInvalid, errs.WithCause(err))
	}
	query := c.signedQuery(params, encoded)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path+"?"+query, bytes.NewReader(encoded))
	if err != nil {
		return errs.New(venueName, errs.KindInvalid, errs.WithCause(err))
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	return c.execute(req, path, out)
}

func (c *Client) execute(req *http.Request, path string, out any) error {
	body, err := exchange.DoRequest(c.http, req, venueName)
	if err != nil {
		return upgradeAuthError(err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errs.New(venueName, errs.KindDecode,
			errs.WithMessage("decode "+path),
			errs.WithCause(err))
	}
	return nil
}

// signedQuery merges the millisecond timestamp into params, signs the encoded
// query (plus the raw JSON body for POST requests) and appends the signature.
func (c *Client) signedQuery(params url.Values, body []byte) string {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
	encoded := params.Encode()
	payload := encoded + string(body)
	return encoded + "&signature=" + c.sign(payload)
}

func (c *Client) sign(payload string) string {
	mac := hmac.New(sha256.New, []byte(c.secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// upgradeAuthError reclassifies business failures carrying a Binance auth
// error code as credential-fatal.
func upgradeAuthError(err error) error {
	var envelope *errs.E
	if !errs.IsKind(err, errs.KindBusiness) {
		return err
	}
	envelope, _ = err.(*errs.E)
	if envelope == nil {
		return err
	}
	var payload struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if json.Unmarshal([]byte(envelope.RawMsg), &payload) != nil {
		return err
	}
	if _, fatal := authErrorCodes[payload.Code]; !fatal {
		return err
	}
	return errs.New(venueName, errs.KindAuth,
		errs.WithHTTP(envelope.HTTP),
		errs.WithRawCode(strconv.Itoa(payload.Code)),
		errs.WithRawMessage(payload.Msg))
}
