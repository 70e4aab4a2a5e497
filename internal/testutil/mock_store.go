// Package testutil provides shared test utilities for metricwatch.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/dwsmith1983/metricwatch/internal/mwerr"
	"github.com/dwsmith1983/metricwatch/internal/provider"
	"github.com/dwsmith1983/metricwatch/pkg/types"
)

// Compile-time interface satisfaction checks.
var (
	_ provider.Store  = (*MockStore)(nil)
	_ provider.Locker = (*MockLocker)(nil)
)

type trackedKey struct {
	market       string
	pair         string
	metricTypeID int64
}

// MockStore is an in-memory Store with the same uniqueness and upsert
// semantics as the Postgres store.
type MockStore struct {
	mu            sync.Mutex
	nextID        int64
	users         map[int64]types.User
	metricTypes   map[string]types.MetricType
	tracked       map[int64]types.TrackedMetric
	trackedByKey  map[trackedKey]int64
	subscriptions []types.Subscription
	values        map[int64][]types.MetricValue

	errs      map[string]error
	errsOnce  map[string]error
	errsForID map[string]map[int64]error
}

// NewMockStore creates an empty in-memory store.
func NewMockStore() *MockStore {
	return &MockStore{
		users:        make(map[int64]types.User),
		metricTypes:  make(map[string]types.MetricType),
		tracked:      make(map[int64]types.TrackedMetric),
		trackedByKey: make(map[trackedKey]int64),
		values:       make(map[int64][]types.MetricValue),
		errs:         make(map[string]error),
		errsOnce:     make(map[string]error),
		errsForID:    make(map[string]map[int64]error),
	}
}

// SetErr makes every call to method return err. A nil err clears it.
func (m *MockStore) SetErr(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.errs, method)
		return
	}
	m.errs[method] = err
}

// SetErrOnce makes the next call to method return err.
func (m *MockStore) SetErrOnce(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errsOnce[method] = err
}

// SetErrFor makes calls to method for one tracked metric id return err.
func (m *MockStore) SetErrFor(method string, id int64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errsForID[method] == nil {
		m.errsForID[method] = make(map[int64]error)
	}
	m.errsForID[method][id] = err
}

func (m *MockStore) injected(method string, id int64) error {
	if err, ok := m.errsOnce[method]; ok {
		delete(m.errsOnce, method)
		return err
	}
	if err, ok := m.errs[method]; ok {
		return err
	}
	if byID, ok := m.errsForID[method]; ok {
		return byID[id]
	}
	return nil
}

func (m *MockStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *MockStore) PutUser(_ context.Context, email string) (*types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("PutUser", 0); err != nil {
		return nil, err
	}
	u := types.User{ID: m.id(), Email: email, CreatedAt: time.Now()}
	m.users[u.ID] = u
	return &u, nil
}

func (m *MockStore) GetUser(_ context.Context, id int64) (*types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("GetUser", id); err != nil {
		return nil, err
	}
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m *MockStore) DeleteUser(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if ok && u.DeletedAt == nil {
		u.DeletedAt = &at
		m.users[id] = u
	}
	return nil
}

func (m *MockStore) PutMetricType(_ context.Context, name string, accessPath []string) (*types.MetricType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(accessPath) == 0 || len(accessPath) > types.MaxAccessPathDepth {
		return nil, fmt.Errorf("access path must have 1 to %d keys, got %d", types.MaxAccessPathDepth, len(accessPath))
	}
	if mt, ok := m.metricTypes[name]; ok {
		return &mt, nil
	}
	mt := types.MetricType{ID: m.id(), Name: name, AccessPath: append([]string(nil), accessPath...), CreatedAt: time.Now()}
	m.metricTypes[name] = mt
	return &mt, nil
}

func (m *MockStore) GetMetricType(_ context.Context, name string) (*types.MetricType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mt, ok := m.metricTypes[name]
	if !ok {
		return nil, nil
	}
	return &mt, nil
}

func (m *MockStore) RetireMetricType(_ context.Context, name string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mt, ok := m.metricTypes[name]
	if ok && mt.DeletedAt == nil {
		mt.DeletedAt = &at
		m.metricTypes[name] = mt
	}
	return nil
}

func (m *MockStore) validate(key provider.SubscriptionKey) (types.MetricType, error) {
	u, ok := m.users[key.UserID]
	if !ok || u.DeletedAt != nil {
		return types.MetricType{}, mwerr.New(mwerr.KindInvalidUser, "invalid user id %d", key.UserID)
	}
	mt, ok := m.metricTypes[key.MetricName]
	if !ok {
		return types.MetricType{}, mwerr.New(mwerr.KindInvalidMetric, "invalid metric %q", key.MetricName)
	}
	if mt.DeletedAt != nil {
		return types.MetricType{}, mwerr.New(mwerr.KindMetricRetired, "metric %q was retired at %s",
			key.MetricName, mt.DeletedAt.UTC().Format(time.RFC3339))
	}
	return mt, nil
}

func (m *MockStore) activeSubscription(userID, trackedID int64) int {
	for i, s := range m.subscriptions {
		if s.UserID == userID && s.TrackedMetricID == trackedID && s.DeletedAt == nil {
			return i
		}
	}
	return -1
}

func (m *MockStore) Subscribe(_ context.Context, key provider.SubscriptionKey, at time.Time) (provider.SubscribeOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("Subscribe", 0); err != nil {
		return provider.SubscribeOutcome{}, err
	}
	mt, err := m.validate(key)
	if err != nil {
		return provider.SubscribeOutcome{}, err
	}

	tk := trackedKey{market: key.Market, pair: key.Pair, metricTypeID: mt.ID}
	trackedID, ok := m.trackedByKey[tk]
	if !ok {
		trackedID = m.id()
		m.tracked[trackedID] = types.TrackedMetric{ID: trackedID, Market: key.Market, Pair: key.Pair, MetricTypeID: mt.ID, CreatedAt: at}
		m.trackedByKey[tk] = trackedID
	}

	if m.activeSubscription(key.UserID, trackedID) >= 0 {
		return provider.SubscribeOutcome{TrackedMetricID: trackedID}, nil
	}
	m.subscriptions = append(m.subscriptions, types.Subscription{
		ID: m.id(), UserID: key.UserID, TrackedMetricID: trackedID, CreatedAt: at,
	})
	return provider.SubscribeOutcome{TrackedMetricID: trackedID, Created: true}, nil
}

func (m *MockStore) Unsubscribe(_ context.Context, key provider.SubscriptionKey, at time.Time) (provider.UnsubscribeOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("Unsubscribe", 0); err != nil {
		return provider.UnsubscribeOutcome{}, err
	}
	mt, err := m.validate(key)
	if err != nil {
		return provider.UnsubscribeOutcome{}, err
	}
	trackedID, ok := m.trackedByKey[trackedKey{market: key.Market, pair: key.Pair, metricTypeID: mt.ID}]
	if !ok {
		return provider.UnsubscribeOutcome{}, nil
	}
	i := m.activeSubscription(key.UserID, trackedID)
	if i < 0 {
		return provider.UnsubscribeOutcome{TrackedMetricID: trackedID}, nil
	}
	m.subscriptions[i].DeletedAt = &at
	return provider.UnsubscribeOutcome{TrackedMetricID: trackedID, Removed: true}, nil
}

func (m *MockStore) RetireSubscriptions(_ context.Context, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("RetireSubscriptions", 0); err != nil {
		return 0, err
	}
	retired := make(map[int64]bool)
	for _, mt := range m.metricTypes {
		if mt.DeletedAt != nil {
			retired[mt.ID] = true
		}
	}
	var n int64
	for i, s := range m.subscriptions {
		if s.DeletedAt == nil && retired[m.tracked[s.TrackedMetricID].MetricTypeID] {
			m.subscriptions[i].DeletedAt = &at
			n++
		}
	}
	return n, nil
}

func (m *MockStore) metricTypeByID(id int64) types.MetricType {
	for _, mt := range m.metricTypes {
		if mt.ID == id {
			return mt
		}
	}
	return types.MetricType{}
}

func (m *MockStore) ListUserSubscriptions(_ context.Context, userID int64) ([]types.SubscriptionView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("ListUserSubscriptions", userID); err != nil {
		return nil, err
	}
	var views []types.SubscriptionView
	for _, s := range m.subscriptions {
		if s.UserID != userID || s.DeletedAt != nil {
			continue
		}
		tm := m.tracked[s.TrackedMetricID]
		views = append(views, types.SubscriptionView{
			SubscriptionID:  s.ID,
			TrackedMetricID: tm.ID,
			Market:          tm.Market,
			Pair:            tm.Pair,
			MetricName:      m.metricTypeByID(tm.MetricTypeID).Name,
			CreatedAt:       s.CreatedAt,
		})
	}
	return views, nil
}

func (m *MockStore) ListSubscribers(_ context.Context, trackedMetricID int64) ([]types.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("ListSubscribers", trackedMetricID); err != nil {
		return nil, err
	}
	var subs []types.Subscriber
	for _, s := range m.subscriptions {
		if s.TrackedMetricID != trackedMetricID || s.DeletedAt != nil {
			continue
		}
		u := m.users[s.UserID]
		if u.DeletedAt != nil {
			continue
		}
		subs = append(subs, types.Subscriber{UserID: u.ID, Email: u.Email})
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].UserID < subs[j].UserID })
	return subs, nil
}

func (m *MockStore) CountSubscriptionsCreatedBefore(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("CountSubscriptionsCreatedBefore", 0); err != nil {
		return 0, err
	}
	var n int64
	for _, s := range m.subscriptions {
		if s.DeletedAt == nil && s.CreatedAt.Before(before) {
			n++
		}
	}
	return n, nil
}

func (m *MockStore) ListActiveMetrics(_ context.Context) ([]types.ActiveMetric, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("ListActiveMetrics", 0); err != nil {
		return nil, err
	}
	active := make(map[int64]bool)
	for _, s := range m.subscriptions {
		if s.DeletedAt == nil {
			active[s.TrackedMetricID] = true
		}
	}
	var out []types.ActiveMetric
	for id := range active {
		tm := m.tracked[id]
		mt := m.metricTypeByID(tm.MetricTypeID)
		if mt.DeletedAt != nil {
			continue
		}
		out = append(out, types.ActiveMetric{TrackedMetric: tm, MetricName: mt.Name, AccessPath: mt.AccessPath})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockStore) InsertValue(_ context.Context, v types.MetricValue) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("InsertValue", v.TrackedMetricID); err != nil {
		return false, err
	}
	v.QueriedAt = v.QueriedAt.UTC()
	for _, existing := range m.values[v.TrackedMetricID] {
		if existing.QueriedAt.Equal(v.QueriedAt) {
			return false, nil
		}
	}
	m.values[v.TrackedMetricID] = append(m.values[v.TrackedMetricID], v)
	return true, nil
}

func (m *MockStore) WindowStats(_ context.Context, trackedMetricID int64, since, until time.Time) (types.WindowStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("WindowStats", trackedMetricID); err != nil {
		return types.WindowStats{}, err
	}
	var vals []float64
	for _, v := range m.values[trackedMetricID] {
		if !v.QueriedAt.Before(since) && v.QueriedAt.Before(until) {
			vals = append(vals, v.Value)
		}
	}
	if len(vals) == 0 {
		return types.WindowStats{}, nil
	}
	mean, err := stats.Mean(vals)
	if err != nil {
		return types.WindowStats{}, err
	}
	return types.WindowStats{Count: int64(len(vals)), Mean: mean}, nil
}

func (m *MockStore) PruneValues(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("PruneValues", 0); err != nil {
		return 0, err
	}
	var n int64
	for id, vals := range m.values {
		kept := vals[:0]
		for _, v := range vals {
			if v.QueriedAt.Before(before) {
				n++
				continue
			}
			kept = append(kept, v)
		}
		m.values[id] = kept
	}
	return n, nil
}

func (m *MockStore) LatestValueTime(_ context.Context) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("LatestValueTime", 0); err != nil {
		return nil, err
	}
	var latest *time.Time
	for _, vals := range m.values {
		for _, v := range vals {
			if latest == nil || v.QueriedAt.After(*latest) {
				t := v.QueriedAt
				latest = &t
			}
		}
	}
	return latest, nil
}

func (m *MockStore) PeerVolatility(_ context.Context, trackedMetricID int64) ([]types.PeerVolatility, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("PeerVolatility", trackedMetricID); err != nil {
		return nil, err
	}
	target, ok := m.tracked[trackedMetricID]
	if !ok {
		return nil, nil
	}
	var peers []types.PeerVolatility
	for id, tm := range m.tracked {
		if tm.Market != target.Market || tm.MetricTypeID != target.MetricTypeID || len(m.values[id]) == 0 {
			continue
		}
		vals := make([]float64, 0, len(m.values[id]))
		for _, v := range m.values[id] {
			vals = append(vals, v.Value)
		}
		sd, err := stats.StandardDeviationPopulation(vals)
		if err != nil {
			return nil, err
		}
		peers = append(peers, types.PeerVolatility{TrackedMetricID: id, StdDev: sd})
	}
	// Unordered on purpose: the ranker must not rely on store ordering.
	return peers, nil
}

func (m *MockStore) SeriesByIDs(_ context.Context, ids []int64) (map[int64][]types.Point, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.injected("SeriesByIDs", 0); err != nil {
		return nil, err
	}
	out := make(map[int64][]types.Point, len(ids))
	for _, id := range ids {
		pts := []types.Point{}
		for _, v := range m.values[id] {
			pts = append(pts, types.Point{Timestamp: v.QueriedAt, Value: v.Value})
		}
		sort.Slice(pts, func(i, j int) bool { return pts[i].Timestamp.Before(pts[j].Timestamp) })
		out[id] = pts
	}
	return out, nil
}

func (m *MockStore) Ping(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.injected("Ping", 0)
}

// Subscriptions returns a copy of every subscription row, including soft-deleted ones.
func (m *MockStore) Subscriptions() []types.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.Subscription(nil), m.subscriptions...)
}

// TrackedMetrics returns the number of tracked metric rows.
func (m *MockStore) TrackedMetrics() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tracked)
}

// SeedValues inserts samples directly, bypassing upsert checks.
func (m *MockStore) SeedValues(trackedMetricID int64, vals ...types.MetricValue) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range vals {
		v.TrackedMetricID = trackedMetricID
		v.QueriedAt = v.QueriedAt.UTC()
		m.values[trackedMetricID] = append(m.values[trackedMetricID], v)
	}
}

// SetSubscriptionCreatedAt backdates every subscription of a tracked metric.
func (m *MockStore) SetSubscriptionCreatedAt(trackedMetricID int64, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.subscriptions {
		if m.subscriptions[i].TrackedMetricID == trackedMetricID {
			m.subscriptions[i].CreatedAt = at
		}
	}
}

// MockLocker is an in-memory Locker. Locks never expire.
type MockLocker struct {
	mu    sync.Mutex
	locks map[string]bool
	Err   error
}

// NewMockLocker creates an empty MockLocker.
func NewMockLocker() *MockLocker {
	return &MockLocker{locks: make(map[string]bool)}
}

func (l *MockLocker) AcquireLock(_ context.Context, key string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return false, l.Err
	}
	if l.locks[key] {
		return false, nil
	}
	l.locks[key] = true
	return true, nil
}

func (l *MockLocker) ReleaseLock(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.locks, key)
	return nil
}
