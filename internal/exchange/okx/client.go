// Package okx implements the OKX P2P history integration. OKX signs the
// concatenation of ISO timestamp, HTTP method, request path and body with
// HMAC-SHA256, base64-encoded. For GET requests the signed path must include
// the query string; signing the bare path is the classic way to produce
// signatures OKX rejects.
package okx

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/coachpo/ledgersync/errs"
	"github.com/coachpo/ledgersync/internal/exchange"
	"github.com/coachpo/ledgersync/internal/ledger"
)

const (
	headerAPIKey     = "OK-ACCESS-KEY"
	headerSignature  = "OK-ACCESS-SIGN"
	headerTimestamp  = "OK-ACCESS-TIMESTAMP"
	headerPassphrase = "OK-ACCESS-PASSPHRASE"
	venueName        = "okx"

	timestampLayout = "2006-01-02T15:04:05.000Z"
)

// Business codes OKX returns for rejected credentials or signatures.
var authErrorCodes = map[string]struct{}{
	"50103": {}, // OK-ACCESS-KEY header missing
	"50105": {}, // passphrase incorrect
	"50111": {}, // invalid OK-ACCESS-KEY
	"50113": {}, // invalid signature
}

// envelope is the uniform OKX response wrapper.
type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// Client issues signed REST requests against OKX.
type Client struct {
	apiKey     string
	secret     string
	passphrase string
	baseURL    string
	http       *http.Client
	now        func() time.Time
}

// NewClient constructs a signed OKX REST client for one credential.
func NewClient(cred ledger.CredentialRecord, settings exchange.Settings) *Client {
	httpClient := new(http.Client)
	httpClient.Timeout = settings.HTTPTimeout
	return &Client{
		apiKey:     cred.APIKey,
		secret:     cred.SecretKey,
		passphrase: cred.Passphrase,
		baseURL:    settings.ResolveBaseURL(cred.IsTestnet),
		http:       httpClient,
		now:        time.Now,
	}
}

// get executes a signed GET request and decodes the data array into out.
func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	requestPath := path
	if params != nil {
		if encoded := params.Encode(); encoded != "" {
			requestPath += "?" + encoded
		}
	}
	ts := c.now().UTC().Format(timestampLayout)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+requestPath, nil)
	if err != nil {
		return errs.New(venueName, errs.KindInvalid, errs.WithCause(err))
	}
	req.Header.Set(headerAPIKey, c.apiKey)
	req.Header.Set(headerTimestamp, ts)
	req.Header.Set(headerPassphrase, c.passphrase)
	req.Header.Set(headerSignature, c.sign(ts, http.MethodGet, requestPath, ""))

	body, err := exchange.DoRequest(c.http, req, venueName)
	if err != nil {
		return err
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return errs.New(venueName, errs.KindDecode,
			errs.WithMessage("decode "+path),
			errs.WithCause(err))
	}
	if code := strings.TrimSpace(env.Code); code != "" && code != "0" {
		kind := errs.KindBusiness
		if _, fatal := authErrorCodes[code]; fatal {
			kind = errs.KindAuth
		}
		return errs.New(venueName, kind,
			errs.WithRawCode(code),
			errs.WithRawMessage(env.Msg),
			errs.WithMessage(path))
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return errs.New(venueName, errs.KindDecode,
			errs.WithMessage("decode data "+path),
			errs.WithCause(err))
	}
	return nil
}

// sign computes base64(HMAC-SHA256(timestamp + method + requestPath + body)).
// requestPath must carry the query string for GET requests.
func (c *Client) sign(ts, method, requestPath, body string) string {
	mac := hmac.New(sha256.New, []byte(c.secret))
	mac.Write([]byte(ts + method + requestPath + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
