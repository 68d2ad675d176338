package orchestrator

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/Sternrassler/feedcache/pkg/cache"
	"github.com/Sternrassler/feedcache/pkg/item"
)

// enrich attaches image metadata to a copy of items. Items without a
// transaction id in field are left as they are. Lookups run in parallel and
// never fail the request.
func (s *Service) enrich(ctx context.Context, field string, items []item.Item) []item.Item {
	out := make([]item.Item, len(items))
	copy(out, items)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.EnrichConcurrency)

	for i := range out {
		txID, ok := out[i].Lookup(field)
		if !ok {
			continue
		}
		g.Go(func() error {
			out[i] = out[i].WithImage(s.imageMetadata(gctx, txID))
			return nil
		})
	}
	_ = g.Wait()

	return out
}

// imageMetadata returns cached metadata for txID or asks the detector.
// Definitive answers are cached, including negative ones; answers produced
// because every gateway failed are not.
func (s *Service) imageMetadata(ctx context.Context, txID string) item.ImageMetadata {
	entry, err := s.cache.GetImageMetadata(ctx, txID)
	if err == nil {
		ImageLookups.WithLabelValues("cache").Inc()
		return entry.ImageMetadata
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Debug().Err(err).Str("tx_id", txID).Msg("Image cache lookup failed")
	}

	meta, err := s.detector.Detect(ctx, txID)
	if err != nil {
		ImageLookups.WithLabelValues("failed").Inc()
		s.logger.Warn().Err(err).Str("tx_id", txID).Msg("Image detection failed")
		return meta
	}
	ImageLookups.WithLabelValues("detector").Inc()

	if err := s.cache.SetImageMetadata(ctx, txID, meta); err != nil {
		s.logger.Warn().Err(err).Str("tx_id", txID).Msg("Failed to persist image metadata")
	}
	return meta
}
