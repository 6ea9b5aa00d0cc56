// Package bybit implements the Bybit P2P history integration. Bybit signs the
// concatenation of timestamp, api key, receive window and canonical payload;
// the timestamp must be assembled without floating-point math or every
// signature is invalid.
package bybit

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
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
	headerAPIKey     = "X-BAPI-API-KEY"
	headerTimestamp  = "X-BAPI-TIMESTAMP"
	headerRecvWindow = "X-BAPI-RECV-WINDOW"
	headerSignature  = "X-BAPI-SIGN"
	venueName        = "bybit"
)

// Business codes Bybit returns for rejected credentials or signatures.
var authErrorCodes = map[int]struct{}{
	10003: {}, // invalid api key
	10004: {}, // signature error
	10005: {}, // permission denied
	33004: {}, // api key expired
}

// envelope is the uniform Bybit v5 response wrapper.
type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
	Time    int64           `json:"time"`
}

// Client issues signed REST requests against Bybit.
type Client struct {
	apiKey     string
	secret     string
	baseURL    string
	recvWindow string
	http       *http.Client
	now        func() time.Time
}

// NewClient constructs a signed Bybit REST client for one credential.
func NewClient(cred ledger.CredentialRecord, settings exchange.Settings) *Client {
	httpClient := new(http.Client)
	httpClient.Timeout = settings.HTTPTimeout
	return &Client{
		apiKey:     cred.APIKey,
		secret:     cred.SecretKey,
		baseURL:    settings.ResolveBaseURL(cred.IsTestnet),
		recvWindow: strconv.FormatInt(settings.RecvWindow.Milliseconds(), 10),
		http:       httpClient,
		now:        time.Now,
	}
}

// get executes a signed GET request; the sorted-encoded query string is the
// canonical payload.
func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	encoded := ""
	if params != nil {
		encoded = params.Encode()
	}
	ts := timestampMillis(c.now())
	target := c.baseURL + path
	if encoded != "" {
		target += "?" + encoded
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return errs.New(venueName, errs.KindInvalid, errs.WithCause(err))
	}
	c.setHeaders(req, ts, encoded)
	return c.execute(req, path, out)
}

// post executes a signed POST request; the exact raw JSON body is the
// canonical payload.
func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return errs.New(venueName, errs.KindInvalid, errs.WithCause(err))
	}
	ts := timestampMillis(c.now())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return errs.New(venueName, errs.KindInvalid, errs.WithCause(err))
	}
	req.Header.Set("Content-Type", "application/json")
	c.setHeaders(req, ts, string(encoded))
	return c.execute(req, path, out)
}

func (c *Client) setHeaders(req *http.Request, ts, payload string) {
	req.Header.Set(headerAPIKey, c.apiKey)
	req.Header.Set(headerTimestamp, ts)
	req.Header.Set(headerRecvWindow, c.recvWindow)
	req.Header.Set(headerSignature, c.sign(ts, payload))
}

func (c *Client) execute(req *http.Request, path string, out any) error {
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
	if env.RetCode != 0 {
		kind := errs.KindBusiness
		if _, fatal := authErrorCodes[env.RetCode]; fatal {
			kind = errs.KindAuth
		}
		return errs.New(venueName, kind,
			errs.WithRawCode(strconv.Itoa(env.RetCode)),
			errs.WithRawMessage(env.RetMsg),
			errs.WithMessage(path))
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return errs.New(venueName, errs.KindDecode,
			errs.WithMessage("decode result "+path),
			errs.WithCause(err))
	}
	return nil
}

// sign computes HMAC-SHA256 over timestamp + apiKey + recvWindow + payload.
func (c *Client) sign(ts, payload string) string {
	mac := hmac.New(sha256.New, []byte(c.secret))
	mac.Write([]byte(ts + c.apiKey + c.recvWindow + payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// timestampMillis renders t as whole milliseconds by concatenating the Unix
// seconds with the zero-padded millisecond remainder. Going through float
// seconds loses precision and breaks the signature.
func timestampMillis(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10) + fmt.Sprintf("%03d", t.Nanosecond()/int(time.Millisecond))
}
