package retailers

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/andrewdyar/switchyard-sub001/internal/fetch"
)

// hydrationAdapter fetches browse HTML and reads the application state the
// retailer embeds in a <script> element.
type hydrationAdapter struct {
	base
}

func (a *hydrationAdapter) Products(ctx context.Context, cat Category, page int) (Page, error) {
	if err := a.pace.wait(ctx); err != nil {
		return Page{}, err
	}
	u, err := a.pageURL(cat, page)
	if err != nil {
		return Page{}, err
	}
	resp, err := a.client.Do(ctx, fetch.Request{Method: http.MethodGet, URL: u, Header: headerOf(a.def.Headers)}, a.options(cat, false))
	if err != nil {
		return Page{}, err
	}
	doc, err := ExtractHydration(resp.Body, a.def.Hydration.ScriptID)
	if err != nil {
		// A 200 without the state script is a challenge page.
		return Page{}, &fetch.BotBlockedError{Retailer: a.def.Name, Status: resp.Status, Reason: err.Error(), Proxy: resp.Proxy.String()}
	}
	p := a.page(doc, page, a.def.Hydration.MaxPagePath)
	a.log.Debug("hydration page", "category", cat.Key(), "page", page, "records", len(p.Records), "total", p.Total)
	return p, nil
}

func (a *hydrationAdapter) pageURL(cat Category, page int) (string, error) {
	u, err := url.Parse(a.def.EndpointURL())
	if err != nil {
		return "", fmt.Errorf("%s: endpoint: %w", a.def.Name, err)
	}
	vars := a.vars(cat, page)
	q := u.Query()
	for k, v := range a.def.Hydration.Query {
		if s := queryValue(substitute(v, vars)); s != "" {
			q.Set(k, s)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ExtractHydration returns the JSON body of the script element with the
// given id.
func ExtractHydration(html []byte, scriptID string) ([]byte, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	sel := doc.Find("script#" + scriptID).First()
	if sel.Length() == 0 {
		return nil, fmt.Errorf("script #%s not found", scriptID)
	}
	body := strings.TrimSpace(sel.Text())
	if body == "" || (body[0] != '{' && body[0] != '[') {
		return nil, fmt.Errorf("script #%s is not json", scriptID)
	}
	return []byte(body), nil
}

func headerOf(m map[string]string) http.Header {
	h := http.Header{}
	for k, v := range m {
		h.Set(k, v)
	}
	return h
}
