package domain

// Bucket is the coarse attention bucket derived from an attention score.
type Bucket string

const (
	BucketNow       Bucket = "now"
	BucketLater     Bucket = "later"
	BucketReference Bucket = "reference"
)

// Bucket thresholds, inclusive at the lower bound.
const (
	NowThreshold   = 60.0
	LaterThreshold = 30.0
)

// AllBuckets lists buckets from most to least urgent.
var AllBuckets = []Bucket{BucketNow, BucketLater, BucketReference}

// ParseBucket validates a bucket name.
func ParseBucket(s string) (Bucket, bool) {
	switch Bucket(s) {
	case BucketNow, BucketLater, BucketReference:
		return Bucket(s), true
	default:
		return "", false
	}
}

// ScoreRange returns the [min, max) score interval of the bucket. A nil bound is open.
func (b Bucket) ScoreRange() (min, max *float64) {
	now, later := NowThreshold, LaterThreshold
	switch b {
	case BucketNow:
		return &now, nil
	case BucketLater:
		return &later, &now
	default:
		return nil, &later
	}
}

// BucketStat is the count and share of one bucket.
type BucketStat struct {
	Count   int     `json:"count"`
	Percent float64 `json:"percent"`
}

// BucketSummary describes how a user's emails spread over the buckets.
// Percentages are 0 when Total is 0.
type BucketSummary struct {
	Total     int        `json:"total"`
	Now       BucketStat `json:"now"`
	Later     BucketStat `json:"later"`
	Reference BucketStat `json:"reference"`
}

// EmailOrder selects the listing order of a bucket.
type EmailOrder string

const (
	OrderByScore   EmailOrder = "score"
	OrderByDate    EmailOrder = "date"
	OrderBySubject EmailOrder = "subject"
)

// ParseEmailOrder falls back to score ordering for unknown values.
func ParseEmailOrder(s string) EmailOrder {
	switch EmailOrder(s) {
	case OrderByDate, OrderBySubject:
		return EmailOrder(s)
	default:
		return OrderByScore
	}
}
