package symbols

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"hedge-volume/internal/venue"
)

// ErrNoValidSymbols means no candidate symbol is tradable on every venue.
// Farming must not start in that case.
var ErrNoValidSymbols = errors.New("no symbol supported by all venues")

// Mapping holds, per standard symbol, the native spelling on each venue.
type Mapping map[string]map[string]string

// Native returns the venue-specific spelling of a standard symbol.
func (m Mapping) Native(symbol, venueName string) (string, bool) {
	byVenue, ok := m[symbol]
	if !ok {
		return "", false
	}
	native, ok := byVenue[venueName]
	return native, ok
}

type Resolver struct {
	log *logrus.Entry
}

func NewResolver() *Resolver {
	return &Resolver{log: logrus.WithField("component", "symbols")}
}

// Resolve validates each candidate against every venue and builds the native
// symbol mapping. A symbol is kept only when all venues support it, directly
// or through a spelling variant. Venues that are not listing-based are
// assumed to accept the raw symbol.
func (r *Resolver) Resolve(ctx context.Context, candidates []string, venues []venue.Gateway) ([]string, Mapping, error) {
	mapping := make(Mapping)

	listings := make(map[string]map[string]struct{})
	for _, gw := range venues {
		if !gw.Capabilities().ListingBased {
			continue
		}
		markets, err := gw.Markets(ctx)
		if err != nil {
			r.log.WithField("venue", gw.Name()).Warnf("fetch markets failed: %v", err)
			listings[gw.Name()] = map[string]struct{}{}
			continue
		}
		set := make(map[string]struct{}, len(markets))
		for _, m := range markets {
			set[m] = struct{}{}
		}
		listings[gw.Name()] = set
	}

	for _, symbol := range candidates {
		byVenue := make(map[string]string, len(venues))
		for _, gw := range venues {
			if !gw.Capabilities().ListingBased {
				byVenue[gw.Name()] = symbol
				continue
			}
			native, ok := match(symbol, listings[gw.Name()])
			if !ok {
				r.log.WithFields(logrus.Fields{
					"venue":  gw.Name(),
					"symbol": symbol,
				}).Warn("symbol not supported, variants exhausted")
				break
			}
			if native != symbol {
				r.log.WithFields(logrus.Fields{
					"venue":  gw.Name(),
					"symbol": symbol,
					"native": native,
				}).Info("symbol mapped via variant")
			}
			byVenue[gw.Name()] = native
		}
		if len(byVenue) == len(venues) {
			mapping[symbol] = byVenue
		} else {
			r.log.WithField("symbol", symbol).Warnf("skipped, supported by %d/%d venues", len(byVenue), len(venues))
		}
	}

	valid := make([]string, 0, len(mapping))
	for _, symbol := range candidates {
		if _, ok := mapping[symbol]; ok {
			valid = append(valid, symbol)
		}
	}
	if len(valid) == 0 {
		return nil, nil, ErrNoValidSymbols
	}
	return valid, mapping, nil
}

func match(symbol string, listing map[string]struct{}) (string, bool) {
	if _, ok := listing[symbol]; ok {
		return symbol, true
	}
	for _, variant := range Variants(symbol) {
		if _, ok := listing[variant]; ok {
			return variant, true
		}
	}
	return "", false
}

// Variants generates the common alternate spellings of a trading pair:
// USD/USDC quote synonyms and settlement-suffix addition or stripping.
// The original symbol comes first; order is deterministic and duplicates
// are removed.
func Variants(symbol string) []string {
	variants := []string{symbol}

	pair, settle := symbol, ""
	if idx := strings.Index(symbol, ":"); idx >= 0 {
		pair, settle = symbol[:idx], symbol[idx+1:]
	}
	base, quote, ok := strings.Cut(pair, "/")
	if !ok {
		return variants
	}
	add := func(q, s string) {
		v := base + "/" + q
		if s != "" {
			v += ":" + s
		}
		variants = append(variants, v)
	}

	switch quote {
	case "USD":
		if settle != "" {
			add("USDC", settle)
		} else {
			add("USDC", "")
			add("USD", "USDC")
			add("USDC", "USDC")
		}
	case "USDC":
		if settle != "" {
			add("USD", settle)
		} else {
			add("USD", "")
			add("USD", "USDC")
			add("USDC", "USDC")
		}
	}
	if settle != "" {
		add(quote, "")
	}

	seen := make(map[string]struct{}, len(variants))
	out := variants[:0]
	for _, v := range variants {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
