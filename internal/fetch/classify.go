package fetch

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/andrewdyar/switchyard-sub001/internal/pkg/httpx"
)

type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeBotBlocked
	OutcomeTransient
	OutcomeClientError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeBotBlocked:
		return "bot_blocked"
	case OutcomeTransient:
		return "transient"
	case OutcomeClientError:
		return "client_error"
	default:
		return "unknown"
	}
}

// botMarkers are lower-cased fragments that anti-bot vendors put in
// challenge pages and block responses.
var botMarkers = []string{
	"px-captcha",
	"_pxhd",
	"perimeterx",
	"captcha",
	"are you a robot",
	"access denied",
	"request unsuccessful. incapsula",
	"datadome",
	"cf-chl",
	"akamai bot manager",
	"/blocked?",
}

// botHeaders are response headers set only on challenge responses.
var botHeaders = []string{"X-Px-Block", "X-Datadome", "Cf-Mitigated"}

// Classify decides what a completed response means. finalURL is the URL
// after redirects.
func Classify(status int, header http.Header, body []byte, finalURL *url.URL, expectJSON bool) (Outcome, string) {
	if finalURL != nil && strings.Contains(strings.ToLower(finalURL.Path), "/blocked") {
		return OutcomeBotBlocked, "redirected to /blocked"
	}
	switch {
	case status == http.StatusTooManyRequests:
		return OutcomeBotBlocked, "rate limited"
	case status == http.StatusPreconditionFailed || status == http.StatusForbidden:
		if m := botMarker(header, body); m != "" {
			return OutcomeBotBlocked, m
		}
		return OutcomeClientError, http.StatusText(status)
	case httpx.IsRetryableHTTPStatus(status):
		return OutcomeTransient, http.StatusText(status)
	case status >= 400:
		return OutcomeClientError, http.StatusText(status)
	case status >= 200 && status < 300:
		if expectJSON && !json.Valid(bytes.TrimSpace(body)) {
			if m := botMarker(header, body); m != "" {
				return OutcomeBotBlocked, m
			}
			return OutcomeBotBlocked, "non-JSON body"
		}
		return OutcomeOK, ""
	default:
		return OutcomeClientError, http.StatusText(status)
	}
}

func botMarker(header http.Header, body []byte) string {
	for _, h := range botHeaders {
		if header.Get(h) != "" {
			return "header " + h
		}
	}
	if len(body) > 64<<10 {
		body = body[:64<<10]
	}
	lower := bytes.ToLower(body)
	for _, m := range botMarkers {
		if bytes.Contains(lower, []byte(m)) {
			return m
		}
	}
	return ""
}
