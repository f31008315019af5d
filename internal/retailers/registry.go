package retailers

import (
	"fmt"
	"strings"

	"github.com/andrewdyar/switchyard-sub001/internal/cookies"
	"github.com/andrewdyar/switchyard-sub001/internal/fetch"
	apperr "github.com/andrewdyar/switchyard-sub001/internal/pkg/errors"
	"github.com/andrewdyar/switchyard-sub001/internal/pkg/httpx"
	"github.com/andrewdyar/switchyard-sub001/internal/platform/logger"
)

type BuildOption func(*buildOptions)

type buildOptions struct {
	sleep httpx.SleepFunc
}

// WithPaceSleep replaces the sleeper used for rate jitter.
func WithPaceSleep(sleep httpx.SleepFunc) BuildOption {
	return func(o *buildOptions) { o.sleep = sleep }
}

// New builds the adapter for one (retailer, location).
func New(def *Definition, location string, client Fetcher, log *logger.Logger, opts ...BuildOption) (Adapter, error) {
	var o buildOptions
	for _, fn := range opts {
		fn(&o)
	}
	b := newBase(def, location, client, log, o.sleep)
	switch def.Family {
	case FamilyHydration:
		return &hydrationAdapter{base: b}, nil
	case FamilyGraphQL:
		return &graphqlAdapter{base: b}, nil
	case FamilyJSON:
		return &restAdapter{base: b}, nil
	default:
		return nil, fmt.Errorf("%s: unknown family %q", def.Name, def.Family)
	}
}

// Build returns one adapter per configured location of each named retailer,
// in the order given. An empty names list selects every definition.
func Build(defs map[string]*Definition, names []string, client Fetcher, log *logger.Logger, opts ...BuildOption) ([]Adapter, error) {
	if len(names) == 0 {
		names = Names(defs)
	}
	var out []Adapter
	for _, n := range names {
		def, ok := defs[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			return nil, apperr.Configf("INGEST_RETAILERS", "unknown retailer %q", n)
		}
		for _, loc := range def.Locations {
			a, err := New(def, loc, client, log, opts...)
			if err != nil {
				return nil, err
			}
			out = append(out, a)
		}
	}
	return out, nil
}

// CookieRetailers derives the cookie manager configuration.
func CookieRetailers(defs map[string]*Definition) []cookies.Retailer {
	out := make([]cookies.Retailer, 0, len(defs))
	for _, n := range Names(defs) {
		d := defs[n]
		out = append(out, cookies.Retailer{
			Name:            d.Name,
			RefreshURL:      d.RefreshURL(),
			RefreshInterval: d.RefreshInterval,
			Seed:            d.Cookies,
			UserAgent:       fetch.DefaultUserAgent,
		})
	}
	return out
}

// Profiles derives per-retailer browser header profiles.
func Profiles(defs map[string]*Definition) map[string]fetch.Profile {
	out := make(map[string]fetch.Profile, len(defs))
	for n, d := range defs {
		origin := strings.TrimRight(d.BaseURL, "/")
		out[n] = fetch.Profile{Referer: origin + "/", Origin: origin}
	}
	return out
}
