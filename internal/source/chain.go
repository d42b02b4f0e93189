package source

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrExhausted is returned by Chain when no member source produced data.
var ErrExhausted = eris.New("source: all sources failed")

// Chain tries its sources in order and returns the first that loads.
type Chain struct {
	Label   string
	Sources []Source
}

// Name implements Source.
func (c *Chain) Name() string {
	if c.Label != "" {
		return c.Label
	}
	return "chain"
}

// Features implements Source.
func (c *Chain) Features(ctx context.Context) ([]Feature, error) {
	log := zap.L().With(zap.String("component", "source.chain"), zap.String("chain", c.Name()))

	var errs []string
	for _, s := range c.Sources {
		features, err := s.Features(ctx)
		if err == nil {
			log.Info("loaded source", zap.String("source", s.Name()), zap.Int("features", len(features)))
			return features, nil
		}
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "source: context cancelled")
		}
		if errors.Is(err, ErrNotFound) {
			log.Debug("source not present", zap.String("source", s.Name()))
		} else {
			log.Warn("source failed", zap.String("source", s.Name()), zap.Error(err))
		}
		errs = append(errs, s.Name()+": "+err.Error())
	}
	return nil, eris.Wrapf(ErrExhausted, "%s: %s", c.Name(), strings.Join(errs, "; "))
}

// Fingerprint combines the fingerprints of every member that reports one,
// in order. A *Remote member is only consulted when no earlier member
// reported one, since a local copy is always read before the network.
// Identical fingerprints are listed once, so a file that a Remote saved
// into the chain's own manual path counts once.
func (c *Chain) Fingerprint(ctx context.Context) (string, error) {
	var parts []string
	for _, s := range c.Sources {
		if _, remote := s.(*Remote); remote && len(parts) > 0 {
			break
		}
		fp, ok := s.(Fingerprinter)
		if !ok {
			continue
		}
		v, err := fp.Fingerprint(ctx)
		if err != nil || slices.Contains(parts, v) {
			continue
		}
		parts = append(parts, v)
	}
	if len(parts) == 0 {
		return "", eris.Errorf("source: %s: no fingerprint available", c.Name())
	}
	return strings.Join(parts, "+"), nil
}
