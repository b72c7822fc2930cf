package tracker

import (
	"sort"
	"sync"
	"time"
)

// maxDailyBuckets bounds how many calendar days of totals are retained.
const maxDailyBuckets = 14

// DayKey returns the local calendar day for t in loc as YYYY-MM-DD.
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format("2006-01-02")
}

// DailyTotals aggregates finalized metrics per day and domain.
type DailyTotals struct {
	mu      sync.Mutex
	loc     *time.Location
	buckets map[string]map[string]float64
}

func newDailyTotals(loc *time.Location) *DailyTotals {
	return &DailyTotals{
		loc:     loc,
		buckets: make(map[string]map[string]float64),
	}
}

func (d *DailyTotals) add(at time.Time, domain string, value float64) {
	if domain == "" || value <= 0 {
		return
	}
	day := DayKey(at, d.loc)

	d.mu.Lock()
	defer d.mu.Unlock()

	bucket, ok := d.buckets[day]
	if !ok {
		bucket = make(map[string]float64)
		d.buckets[day] = bucket
		d.pruneLocked()
	}
	bucket[domain] += value
}

// pruneLocked drops the oldest days beyond maxDailyBuckets.
func (d *DailyTotals) pruneLocked() {
	if len(d.buckets) <= maxDailyBuckets {
		return
	}
	days := make([]string, 0, len(d.buckets))
	for day := range d.buckets {
		days = append(days, day)
	}
	sort.Strings(days)
	for _, day := range days[:len(days)-maxDailyBuckets] {
		delete(d.buckets, day)
	}
}

// Day returns a copy of the domain totals for a YYYY-MM-DD day.
func (d *DailyTotals) Day(day string) map[string]float64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make(map[string]float64, len(d.buckets[day]))
	for domain, v := range d.buckets[day] {
		out[domain] = v
	}
	return out
}

// Days returns the retained days in ascending order.
func (d *DailyTotals) Days() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	days := make([]string, 0, len(d.buckets))
	for day := range d.buckets {
		days = append(days, day)
	}
	sort.Strings(days)
	return days
}
