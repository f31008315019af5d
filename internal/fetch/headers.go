package fetch

import (
	"net/http"
	"strings"
)

const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// Profile is the browser identity presented to one retailer.
type Profile struct {
	UserAgent      string
	AcceptLanguage string
	Referer        string
	Origin         string
	// Platform is the sec-ch-ua-platform value, e.g. "macOS".
	Platform string
	Mobile   bool
	Extra    map[string]string
}

func (p Profile) withDefaults() Profile {
	if p.UserAgent == "" {
		p.UserAgent = DefaultUserAgent
	}
	if p.AcceptLanguage == "" {
		p.AcceptLanguage = "en-US,en;q=0.9"
	}
	if p.Platform == "" {
		p.Platform = "macOS"
	}
	return p
}

// applyHeaders sets the browser-shaped header set. Headers already present on
// h are kept.
func applyHeaders(h http.Header, p Profile, expectJSON bool) {
	p = p.withDefaults()
	accept := "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8"
	dest, mode := "document", "navigate"
	if expectJSON {
		accept = "application/json, text/plain, */*"
		dest, mode = "empty", "cors"
	}
	mobile := "?0"
	if p.Mobile {
		mobile = "?1"
	}
	set := map[string]string{
		"User-Agent":         p.UserAgent,
		"Accept":             accept,
		"Accept-Language":    p.AcceptLanguage,
		"Sec-Ch-Ua":          `"Google Chrome";v="131", "Chromium";v="131", "Not_A Brand";v="24"`,
		"Sec-Ch-Ua-Mobile":   mobile,
		"Sec-Ch-Ua-Platform": `"` + strings.Trim(p.Platform, `"`) + `"`,
		"Sec-Fetch-Dest":     dest,
		"Sec-Fetch-Mode":     mode,
		"Sec-Fetch-Site":     "same-origin",
	}
	if p.Referer != "" {
		set["Referer"] = p.Referer
	}
	if p.Origin != "" {
		set["Origin"] = p.Origin
	}
	for k, v := range p.Extra {
		set[k] = v
	}
	for k, v := range set {
		if h.Get(k) == "" {
			h.Set(k, v)
		}
	}
}
