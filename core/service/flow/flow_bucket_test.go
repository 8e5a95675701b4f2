package flow

import (
	"testing"

	"flow_server/core/domain"
	"flow_server/core/port/out"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		score float64
		want  domain.Bucket
	}{
		{100, domain.BucketNow},
		{60, domain.BucketNow},
		{59.999, domain.BucketLater},
		{30, domain.BucketLater},
		{29.9, domain.BucketReference},
		{0, domain.BucketReference},
		{150, domain.BucketNow},
		{-10, domain.BucketReference},
	}
	for _, tt := range tests {
		if got := Classify(tt.score); got != tt.want {
			t.Errorf("Classify(%v) = %v, want %v", tt.score, got, tt.want)
		}
	}
}

func TestTally(t *testing.T) {
	got := Tally([]float64{90, 65, 45, 10, 0, 30})
	want := out.BucketCounts{Now: 2, Later: 2, Reference: 2}
	if *got != want {
		t.Errorf("Tally() = %+v, want %+v", *got, want)
	}
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		name   string
		counts *out.BucketCounts
		want   domain.BucketSummary
	}{
		{
			name:   "empty",
			counts: &out.BucketCounts{},
			want:   domain.BucketSummary{},
		},
		{
			name:   "nil",
			counts: nil,
			want:   domain.BucketSummary{},
		},
		{
			name:   "thirds",
			counts: &out.BucketCounts{Now: 1, Later: 1, Reference: 1},
			want: domain.BucketSummary{
				Total:     3,
				Now:       domain.BucketStat{Count: 1, Percent: 33.3},
				Later:     domain.BucketStat{Count: 1, Percent: 33.3},
				Reference: domain.BucketStat{Count: 1, Percent: 33.3},
			},
		},
		{
			name:   "skewed",
			counts: &out.BucketCounts{Now: 3, Later: 1, Reference: 4},
			want: domain.BucketSummary{
				Total:     8,
				Now:       domain.BucketStat{Count: 3, Percent: 37.5},
				Later:     domain.BucketStat{Count: 1, Percent: 12.5},
				Reference: domain.BucketStat{Count: 4, Percent: 50},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Summarize(tt.counts); *got != tt.want {
				t.Errorf("Summarize() = %+v, want %+v", *got, tt.want)
			}
		})
	}
}
