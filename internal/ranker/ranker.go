// Package ranker computes volatility rank among peer metrics and assembles
// graph series for a user's tracked metrics.
package ranker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/montanaflynn/stats"

	"github.com/dwsmith1983/metricwatch/internal/mwerr"
	"github.com/dwsmith1983/metricwatch/internal/provider"
	"github.com/dwsmith1983/metricwatch/pkg/types"
)

// Ranker serves read-side queries.
type Ranker struct {
	store  provider.Store
	logger *slog.Logger
}

// New creates a Ranker. A nil logger uses slog.Default.
func New(store provider.Store, logger *slog.Logger) *Ranker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ranker{store: store, logger: logger}
}

// Rank returns the 1-based position of id among tracked metrics sharing its
// market and metric type, ordered by population standard deviation
// descending with ties broken by id. A metric without history ranks (0, 0).
func (r *Ranker) Rank(ctx context.Context, id int64) (types.Rank, error) {
	peers, err := r.store.PeerVolatility(ctx, id)
	if err != nil {
		return types.Rank{}, fmt.Errorf("peer volatility for %d: %w", id, err)
	}
	return RankAmong(id, peers), nil
}

// RankAmong ranks id within peers. It does not rely on input order.
func RankAmong(id int64, peers []types.PeerVolatility) types.Rank {
	sorted := append([]types.PeerVolatility(nil), peers...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].StdDev != sorted[j].StdDev {
			return sorted[i].StdDev > sorted[j].StdDev
		}
		return sorted[i].TrackedMetricID < sorted[j].TrackedMetricID
	})
	for i, p := range sorted {
		if p.TrackedMetricID == id {
			return types.Rank{Numerator: i + 1, Denominator: len(sorted)}
		}
	}
	return types.Rank{}
}

// GraphData returns every requested id's series in ascending time order,
// fetched in one batched query. Unknown ids map to an empty series.
func (r *Ranker) GraphData(ctx context.Context, ids []int64) (map[int64][]types.Point, error) {
	out := make(map[int64][]types.Point, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	series, err := r.store.SeriesByIDs(ctx, dedup(ids))
	if err != nil {
		return nil, fmt.Errorf("loading series: %w", err)
	}
	for _, id := range ids {
		pts := series[id]
		if pts == nil {
			pts = []types.Point{}
		}
		out[id] = pts
	}
	return out, nil
}

// ListForUser composes rank and graph data for each of the user's active
// subscriptions. Per-item failures mark the response Incomplete instead of
// failing it.
func (r *Ranker) ListForUser(ctx context.Context, userID int64) (*types.UserMetrics, error) {
	if userID < 1 {
		return nil, mwerr.New(mwerr.KindInvalidUser, "invalid user id %d", userID)
	}
	u, err := r.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading user %d: %w", userID, err)
	}
	if u == nil || !u.Active() {
		return nil, mwerr.New(mwerr.KindInvalidUser, "invalid user id %d", userID)
	}

	subs, err := r.store.ListUserSubscriptions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing subscriptions for user %d: %w", userID, err)
	}

	resp := &types.UserMetrics{UserID: userID, Metrics: make([]types.UserMetric, 0, len(subs))}
	ids := make([]int64, 0, len(subs))
	for _, s := range subs {
		ids = append(ids, s.TrackedMetricID)
	}

	graphs, graphErr := r.GraphData(ctx, ids)
	if graphErr != nil {
		r.logger.Warn("ranker: graph data unavailable", "userId", userID, "error", graphErr)
		resp.Incomplete = true
	}

	for _, s := range subs {
		item := types.UserMetric{
			TrackedMetricID: s.TrackedMetricID,
			Pair:            s.Pair,
			Market:          s.Market,
			MetricName:      s.MetricName,
			GraphData:       []types.Point{},
		}
		var itemErrs []string

		rank, err := r.Rank(ctx, s.TrackedMetricID)
		if err != nil {
			r.logger.Warn("ranker: rank failed", "trackedMetricId", s.TrackedMetricID, "error", err)
			itemErrs = append(itemErrs, "rank: "+err.Error())
		} else {
			item.Rank = rank
		}

		if graphErr != nil {
			itemErrs = append(itemErrs, "graph: "+graphErr.Error())
		} else {
			item.GraphData = graphs[s.TrackedMetricID]
			item.Stats = Summarize(item.GraphData)
		}

		if len(itemErrs) > 0 {
			resp.Incomplete = true
			item.Error = strings.Join(itemErrs, "; ")
		}
		resp.Metrics = append(resp.Metrics, item)
	}
	return resp, nil
}

// Summarize computes summary statistics for a series. It returns nil for an
// empty series.
func Summarize(pts []types.Point) *types.SeriesStats {
	if len(pts) == 0 {
		return nil
	}
	vals := make(stats.Float64Data, len(pts))
	for i, p := range pts {
		vals[i] = p.Value
	}
	mean, _ := vals.Mean()
	sd, _ := vals.StandardDeviationPopulation()
	lo, _ := vals.Min()
	hi, _ := vals.Max()
	return &types.SeriesStats{
		Count:  len(vals),
		Mean:   mean,
		StdDev: sd,
		Min:    lo,
		Max:    hi,
		Latest: pts[len(pts)-1].Value,
	}
}

func dedup(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
