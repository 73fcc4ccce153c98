package indengine

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"ta-enginev1/internal/model"
	redisstore "ta-enginev1/internal/store/redis"
)

// consumeFeed reads the bar streams of every configured symbol and hands
// each bar to the streams following that symbol.
func (svc *Service) consumeFeed(ctx context.Context) error {
	symbols := svc.cfg.Symbols()
	if len(symbols) == 0 {
		return nil
	}
	ch := make(chan redisstore.BarMessage, 5000)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(ch)
		return svc.feed.Consume(gctx, symbols, ch)
	})
	if svc.hasResamplers() {
		g.Go(func() error { return svc.runBucketCloser(gctx) })
	}
	g.Go(func() error {
		for msg := range ch {
			svc.ingest(gctx, msg.Symbol, msg.Bar, msg.Forming)
		}
		return nil
	})
	svc.log.Info("consuming bar feed", "symbols", symbols)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// ingest applies one bar to every stream of symbol. Closed bars are
// persisted once, whatever timeframes the streams resample to; forming bars
// only produce previews.
func (svc *Service) ingest(ctx context.Context, symbol string, b model.Bar, forming bool) int {
	applied := 0
	for _, s := range svc.symbolStreams(symbol) {
		if svc.apply(ctx, s, b, forming) {
			applied++
		}
	}
	if !forming && applied > 0 {
		svc.persist(symbol, b)
	}
	return applied
}
