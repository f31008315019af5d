package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const DefaultOperationHeader = "X-Apollo-Operation-Name"

type GraphQLRequest struct {
	URL           string
	OperationName string
	Variables     map[string]any
	// Hash is the persisted query sha256. When empty the Query text is sent.
	Hash  string
	Query string
	// OperationHeader carries the operation name; defaults to
	// DefaultOperationHeader.
	OperationHeader string
	Header          http.Header
}

type GraphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []GraphQLError  `json:"errors,omitempty"`
	// Body is the full response document.
	Body []byte `json:"-"`
}

type persistedQuery struct {
	Version    int    `json:"version"`
	Sha256Hash string `json:"sha256Hash"`
}

type graphqlBody struct {
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables"`
	Query         string         `json:"query,omitempty"`
	Extensions    map[string]any `json:"extensions,omitempty"`
}

// GraphQL posts an operation. With a persisted hash the query text is
// omitted; if the server answers PersistedQueryNotFound the request is sent
// once more with the full query attached.
func (c *Client) GraphQL(ctx context.Context, req GraphQLRequest, opts Options) (*GraphQLResponse, error) {
	opts.ExpectJSON = true
	withQuery := req.Hash == ""
	if withQuery && strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("graphql %s: neither persisted hash nor query configured", req.OperationName)
	}

	out, err := c.graphqlOnce(ctx, req, opts, withQuery)
	if err != nil {
		return nil, err
	}
	if !withQuery && persistedQueryMissing(out.Errors) {
		if strings.TrimSpace(req.Query) == "" {
			return nil, fmt.Errorf("graphql %s: %w", req.OperationName, ErrPersistedQueryNotFound)
		}
		c.log.Warn("persisted query not found; retrying with query text", "retailer", opts.Retailer, "operation", req.OperationName)
		out, err = c.graphqlOnce(ctx, req, opts, true)
		if err != nil {
			return nil, err
		}
	}
	if len(out.Errors) > 0 && isNullData(out.Data) {
		return nil, &GraphQLErrors{Operation: req.OperationName, Errors: out.Errors}
	}
	return out, nil
}

func (c *Client) graphqlOnce(ctx context.Context, req GraphQLRequest, opts Options, withQuery bool) (*GraphQLResponse, error) {
	body := graphqlBody{OperationName: req.OperationName, Variables: req.Variables}
	if body.Variables == nil {
		body.Variables = map[string]any{}
	}
	if req.Hash != "" {
		body.Extensions = map[string]any{
			"persistedQuery": persistedQuery{Version: 1, Sha256Hash: req.Hash},
		}
	}
	if withQuery {
		body.Query = req.Query
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("graphql %s: encode: %w", req.OperationName, err)
	}

	h := http.Header{}
	for k, vs := range req.Header {
		h[k] = append([]string(nil), vs...)
	}
	h.Set("Content-Type", "application/json")
	opHeader := req.OperationHeader
	if opHeader == "" {
		opHeader = DefaultOperationHeader
	}
	h.Set(opHeader, req.OperationName)

	resp, err := c.Do(ctx, Request{Method: http.MethodPost, URL: req.URL, Header: h, Body: raw}, opts)
	if err != nil {
		return nil, err
	}
	var out GraphQLResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, fmt.Errorf("graphql %s: decode: %w", req.OperationName, err)
	}
	out.Body = resp.Body
	return &out, nil
}

func persistedQueryMissing(errs []GraphQLError) bool {
	for _, e := range errs {
		if strings.EqualFold(strings.TrimSpace(e.Message), "PersistedQueryNotFound") {
			return true
		}
		if code, _ := e.Extensions["code"].(string); strings.EqualFold(code, "PERSISTED_QUERY_NOT_FOUND") {
			return true
		}
	}
	return false
}

func isNullData(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null" || s == "{}"
}
