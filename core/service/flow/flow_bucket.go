// Package flow maps attention scores onto now/later/reference buckets and serves bucket listings.
package flow

import (
	"math"

	"flow_server/core/domain"
	"flow_server/core/port/out"
)

// Classify maps a score onto a bucket. Thresholds are inclusive at the lower bound and apply
// to any float, so 150 is "now" and -10 is "reference".
func Classify(score float64) domain.Bucket {
	switch {
	case score >= domain.NowThreshold:
		return domain.BucketNow
	case score >= domain.LaterThreshold:
		return domain.BucketLater
	default:
		return domain.BucketReference
	}
}

// Tally counts scores per bucket.
func Tally(scores []float64) *out.BucketCounts {
	counts := &out.BucketCounts{}
	for _, s := range scores {
		switch Classify(s) {
		case domain.BucketNow:
			counts.Now++
		case domain.BucketLater:
			counts.Later++
		default:
			counts.Reference++
		}
	}
	return counts
}

// Summarize turns counts into shares rounded to one decimal. All shares are 0 when there are no emails.
func Summarize(counts *out.BucketCounts) *domain.BucketSummary {
	if counts == nil {
		counts = &out.BucketCounts{}
	}
	total := counts.Now + counts.Later + counts.Reference
	stat := func(n int) domain.BucketStat {
		if total == 0 {
			return domain.BucketStat{Count: n}
		}
		return domain.BucketStat{Count: n, Percent: round1(float64(n) * 100 / float64(total))}
	}
	return &domain.BucketSummary{
		Total:     total,
		Now:       stat(counts.Now),
		Later:     stat(counts.Later),
		Reference: stat(counts.Reference),
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
