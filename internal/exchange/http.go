package exchange

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/coachpo/ledgersync/errs"
)

const maxErrorBody = 4 << 10

// DoRequest executes the signed request and classifies the failure mode.
// Transport-level failures (including timeouts, 429 and 5xx) come back as
// retryable transport errors; 401/403 are credential-fatal auth errors; other
// non-2xx statuses are business errors carrying the response body.
func DoRequest(client *http.Client, req *http.Request, exchange string) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, errs.New(exchange, errs.KindTransport,
			errs.WithMessage("request "+req.URL.Path),
			errs.WithCause(err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.New(exchange, errs.KindTransport,
			errs.WithMessage("read body "+req.URL.Path),
			errs.WithCause(err))
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, errs.New(exchange, errs.KindAuth,
			errs.WithHTTP(resp.StatusCode),
			errs.WithRawMessage(trimBody(body)))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, errs.New(exchange, errs.KindTransport,
			errs.WithHTTP(resp.StatusCode),
			errs.WithRawMessage(trimBody(body)))
	default:
		return nil, errs.New(exchange, errs.KindBusiness,
			errs.WithHTTP(resp.StatusCode),
			errs.WithRawCode(strconv.Itoa(resp.StatusCode)),
			errs.WithRawMessage(trimBody(body)))
	}
}

func trimBody(body []byte) string {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return strings.TrimSpace(string(body))
}
