// SPDX-FileCopyrightText: Copyright 2025 Ascending LLC
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit caps self-service token minting per user.
package ratelimit

import (
	"sync"
	"time"
)

// HourlyLimiter counts events per (key, hour bucket). Buckets older than the
// current hour are purged lazily on the next Allow call, so memory stays
// proportional to the active user set.
type HourlyLimiter struct {
	mu     sync.Mutex
	limit  int
	counts map[string]map[int64]int

	// now is swappable for tests.
	now func() time.Time
}

// NewHourlyLimiter creates a limiter allowing limit events per key per hour.
// A non-positive limit disables limiting.
func NewHourlyLimiter(limit int) *HourlyLimiter {
	return &HourlyLimiter{
		limit:  limit,
		counts: make(map[string]map[int64]int),
		now:    time.Now,
	}
}

// Allow records one event for key and reports whether it fits within the
// hourly limit. Events that exceed the limit are not recorded.
func (l *HourlyLimiter) Allow(key string) bool {
	if l.limit <= 0 {
		return true
	}

	bucket := l.now().Unix() / 3600

	l.mu.Lock()
	defer l.mu.Unlock()

	buckets, ok := l.counts[key]
	if !ok {
		buckets = make(map[int64]int)
		l.counts[key] = buckets
	}
	for b := range buckets {
		if b < bucket {
			delete(buckets, b)
		}
	}

	if buckets[bucket] >= l.limit {
		return false
	}
	buckets[bucket]++
	return true
}

// Remaining reports how many events key has left in the current hour.
func (l *HourlyLimiter) Remaining(key string) int {
	if l.limit <= 0 {
		return -1
	}

	bucket := l.now().Unix() / 3600

	l.mu.Lock()
	defer l.mu.Unlock()

	remaining := l.limit - l.counts[key][bucket]
	if remaining < 0 {
		return 0
	}
	return remaining
}
