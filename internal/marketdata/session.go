package marketdata

import (
	"context"
	"errors"
	"net/url"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/dwsmith1983/metricwatch/internal/mwerr"
)

// Session memoizes summaries for the lifetime of one ingestion pass, so
// metrics sharing a (market, pair) cost a single request. Concurrent callers
// for the same key share one in-flight request, each waiting on its own
// context.
type Session struct {
	client *Client
	group  singleflight.Group

	mu   sync.Mutex
	memo map[pairKey]Summary
}

type pairKey struct{ market, pair string }

// flightKey escapes both segments so the separator cannot appear in either.
func (k pairKey) flightKey() string {
	return url.PathEscape(k.market) + "/" + url.PathEscape(k.pair)
}

// Session starts a new memo scope.
func (c *Client) Session() *Session {
	return &Session{client: c, memo: make(map[pairKey]Summary)}
}

// Value fetches the summary for (market, pair) once per session and extracts
// the value at path.
func (s *Session) Value(ctx context.Context, market, pair string, path []string) (float64, error) {
	sum, err := s.summary(ctx, market, pair)
	if err != nil {
		return 0, err
	}
	return Extract(sum, path)
}

func (s *Session) cached(key pairKey) (Summary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum, ok := s.memo[key]
	return sum, ok
}

func (s *Session) summary(ctx context.Context, market, pair string) (Summary, error) {
	key := pairKey{market, pair}
	if sum, ok := s.cached(key); ok {
		return sum, nil
	}

	// The shared request runs on the client timeout, detached from whichever
	// caller started it.
	flightCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key.flightKey(), func() (interface{}, error) {
		if sum, ok := s.cached(key); ok {
			return sum, nil
		}
		sum, err := s.client.Summary(flightCtx, market, pair)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.memo[key] = sum
		s.mu.Unlock()
		return sum, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Summary), nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, mwerr.Wrap(mwerr.KindTimeout, ctx.Err(), "waiting for summary %s/%s", market, pair)
		}
		return nil, mwerr.Wrap(mwerr.KindFetchFailed, ctx.Err(), "waiting for summary %s/%s", market, pair)
	}
}
