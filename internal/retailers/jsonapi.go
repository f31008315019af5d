package retailers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/andrewdyar/switchyard-sub001/internal/fetch"
)

// graphqlAdapter pages through a GraphQL listing operation using a
// persisted query hash.
type graphqlAdapter struct {
	base
}

func (a *graphqlAdapter) Products(ctx context.Context, cat Category, page int) (Page, error) {
	if err := a.pace.wait(ctx); err != nil {
		return Page{}, err
	}
	spec := a.def.GraphQL
	vars, _ := substitute(spec.Variables, a.vars(cat, page)).(map[string]any)
	resp, err := a.client.GraphQL(ctx, fetch.GraphQLRequest{
		URL:             a.def.EndpointURL(),
		OperationName:   spec.Operation,
		Variables:       vars,
		Hash:            spec.PersistedHash,
		Query:           spec.Query,
		OperationHeader: spec.OperationHeader,
		Header:          headerOf(a.def.Headers),
	}, a.options(cat, true))
	if err != nil {
		return Page{}, err
	}
	if len(resp.Errors) > 0 {
		a.log.Warn("graphql partial errors", "category", cat.Key(), "page", page, "first", resp.Errors[0].Message)
	}
	p := a.page(resp.Body, page, "")
	a.log.Debug("graphql page", "category", cat.Key(), "page", page, "records", len(p.Records), "total", p.Total)
	return p, nil
}

// restAdapter covers plain JSON search endpoints, GET with query parameters
// or POST with a JSON body.
type restAdapter struct {
	base
}

func (a *restAdapter) Products(ctx context.Context, cat Category, page int) (Page, error) {
	if err := a.pace.wait(ctx); err != nil {
		return Page{}, err
	}
	req, err := a.request(cat, page)
	if err != nil {
		return Page{}, err
	}
	resp, err := a.client.Do(ctx, req, a.options(cat, true))
	if err != nil {
		return Page{}, err
	}
	if !json.Valid(resp.Body) {
		return Page{}, fmt.Errorf("%s: %s: invalid json body", a.def.Name, cat.Key())
	}
	p := a.page(resp.Body, page, "")
	a.log.Debug("json page", "category", cat.Key(), "page", page, "records", len(p.Records), "total", p.Total)
	return p, nil
}

func (a *restAdapter) request(cat Category, page int) (fetch.Request, error) {
	u, err := url.Parse(a.def.EndpointURL())
	if err != nil {
		return fetch.Request{}, fmt.Errorf("%s: endpoint: %w", a.def.Name, err)
	}
	vars := a.vars(cat, page)
	q := u.Query()
	for k, v := range a.def.JSON.Query {
		if s := queryValue(substitute(v, vars)); s != "" {
			q.Set(k, s)
		}
	}
	u.RawQuery = q.Encode()

	req := fetch.Request{Method: a.def.Method, URL: u.String(), Header: headerOf(a.def.Headers)}
	if a.def.Method == http.MethodPost && a.def.JSON.Body != nil {
		body, err := json.Marshal(substitute(a.def.JSON.Body, vars))
		if err != nil {
			return fetch.Request{}, fmt.Errorf("%s: encode body: %w", a.def.Name, err)
		}
		req.Body = body
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}
