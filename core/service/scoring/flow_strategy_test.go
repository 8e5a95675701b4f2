package scoring

import (
	"errors"
	"math"
	"testing"
	"time"

	"flow_server/core/domain"
)

var (
	wednesdayMorning = time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC)
	wednesdayEvening = time.Date(2024, 1, 3, 19, 30, 0, 0, time.UTC)
	saturdayMorning  = time.Date(2024, 1, 6, 10, 0, 0, 0, time.UTC)
)

func TestSimpleStrategy(t *testing.T) {
	tests := []struct {
		name   string
		isRead bool
		labels []string
		want   float64
	}{
		{"unread important", false, []string{domain.LabelImportant}, 95},
		{"read no labels", true, nil, 50},
		{"read important starred", true, []string{domain.LabelImportant, domain.LabelStarred}, 100},
		{"unread important starred clamps", false, []string{domain.LabelImportant, domain.LabelStarred}, 100},
		{"unread only", false, nil, 65},
		{"starred only", true, []string{domain.LabelStarred}, 70},
	}

	s := NewSimpleStrategy()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := &domain.ScoreInput{
				IsRead:     tt.isRead,
				Labels:     tt.labels,
				ReceivedAt: wednesdayMorning.Add(-500 * time.Hour),
			}
			c := Compute(s, in, wednesdayMorning)
			if c.Final != tt.want {
				t.Errorf("Final = %v, want %v", c.Final, tt.want)
			}
			if c.Multiplier != 1 || c.Boost != 0 {
				t.Errorf("Multiplier/Boost = %v/%v, want 1/0", c.Multiplier, c.Boost)
			}
		})
	}
}

func TestClamp(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{-10, 0},
		{0, 0},
		{42.5, 42.5},
		{100, 100},
		{150, 100},
		{math.NaN(), 0},
		{math.Inf(1), 100},
	}
	for _, tt := range tests {
		if got := Clamp(tt.in); got != tt.want {
			t.Errorf("Clamp(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestEnhancedStrategy_BaseScore(t *testing.T) {
	s := NewEnhancedStrategy(Preset(Production))

	tests := []struct {
		name string
		in   *domain.ScoreInput
		want float64
	}{
		{"read work", &domain.ScoreInput{Category: domain.CategoryWork, IsRead: true}, 70},
		{"unread work", &domain.ScoreInput{Category: domain.CategoryWork}, 80},
		{"unread important starred", &domain.ScoreInput{
			Category: domain.CategoryImportant,
			Labels:   []string{domain.LabelImportant, domain.LabelStarred},
		}, 80 + 10 + 15 + 10},
		{"unknown category uses default", &domain.ScoreInput{Category: "misc", IsRead: true}, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.BaseScore(tt.in); got != tt.want {
				t.Errorf("BaseScore() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEnhancedStrategy_Boosts(t *testing.T) {
	s := NewEnhancedStrategy(Preset(Production))

	tests := []struct {
		name     string
		category string
		subject  string
		now      time.Time
		want     float64
	}{
		{"important business hours", domain.CategoryImportant, "hello", wednesdayMorning, 5},
		{"important evening", domain.CategoryImportant, "hello", wednesdayEvening, 0},
		{"important weekend", domain.CategoryImportant, "hello", saturdayMorning, 4},
		{"personal weekend", domain.CategoryPersonal, "hello", saturdayMorning, 4},
		{"personal weekday", domain.CategoryPersonal, "hello", wednesdayMorning, 0},
		{"newsletter evening", domain.CategoryNewsletters, "digest", wednesdayEvening, 3},
		{"newsletter morning", domain.CategoryNewsletters, "digest", wednesdayMorning, 0},
		{"one urgency phrase", domain.CategoryWork, "Action required: sign", wednesdayMorning, 6},
		{"urgency capped", domain.CategoryWork, "URGENT deadline asap", wednesdayMorning, 12},
		{"total capped", domain.CategoryImportant, "URGENT deadline asap", wednesdayMorning, 15},
		{"promotions nothing", domain.CategoryPromotions, "50% off", saturdayMorning, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := &domain.ScoreInput{Category: tt.category, Subject: tt.subject}
			if got := s.ContextBoost(in, tt.now); got != tt.want {
				t.Errorf("ContextBoost() = %v, want %v (%+v)", got, tt.want, s.Boosts(in, tt.now))
			}
		})
	}
}

func TestEnhancedStrategy_Compute(t *testing.T) {
	s := NewEnhancedStrategy(Preset(Production))
	in := &domain.ScoreInput{
		Category:   domain.CategoryImportant,
		IsRead:     true,
		ReceivedAt: wednesdayMorning.Add(-72 * time.Hour),
	}

	c := Compute(s, in, wednesdayMorning)
	if c.Base != 80 || math.Abs(c.Multiplier-0.75) > 1e-9 || c.Boost != 5 {
		t.Fatalf("components = %+v", c)
	}
	if math.Abs(c.Final-65) > 1e-9 {
		t.Errorf("Final = %v, want 65", c.Final)
	}
}

func TestEnhancedStrategy_FinalAlwaysInRange(t *testing.T) {
	cfg := Preset(Production)
	s := NewEnhancedStrategy(cfg)
	labels := []string{domain.LabelImportant, domain.LabelStarred}

	for _, name := range cfg.CategoryNames() {
		for _, age := range []time.Duration{-time.Hour, 0, time.Hour, 1000 * time.Hour} {
			in := &domain.ScoreInput{
				Category:   name,
				Subject:    "urgent asap deadline final notice",
				Labels:     labels,
				ReceivedAt: wednesdayMorning.Add(-age),
			}
			c := Compute(s, in, wednesdayMorning)
			if c.Final < 0 || c.Final > 100 {
				t.Errorf("%s age %v: Final = %v outside [0,100]", name, age, c.Final)
			}
		}
	}
}

func TestNewStrategy(t *testing.T) {
	cfg := Preset(Testing)
	for _, name := range []string{StrategySimple, StrategyEnhanced} {
		s, err := NewStrategy(name, cfg)
		if err != nil || s.Name() != name {
			t.Errorf("NewStrategy(%q) = %v, %v", name, s, err)
		}
	}
	if _, err := NewStrategy("ml", cfg); !errors.Is(err, ErrUnknownStrategy) {
		t.Errorf("NewStrategy(ml) error = %v, want ErrUnknownStrategy", err)
	}
}
