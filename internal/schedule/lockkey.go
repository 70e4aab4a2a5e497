package schedule

import (
	"strconv"
	"time"
)

// FreshnessLockKey returns the dedup key for a stale-data alert. One alert is
// sent per bucket of the given width.
func FreshnessLockKey(now time.Time, bucket time.Duration) string {
	return "freshness:" + bucketID(now, bucket)
}

// SlownessLockKey returns the dedup key for a running-slow alert.
func SlownessLockKey(now time.Time, bucket time.Duration) string {
	return "slow:" + bucketID(now, bucket)
}

func bucketID(now time.Time, bucket time.Duration) string {
	if bucket <= 0 {
		bucket = time.Hour
	}
	return strconv.FormatInt(now.UTC().Truncate(bucket).Unix(), 10)
}
