package classification

import (
	"math"
	"sync"
	"testing"

	"flow_server/core/domain"

	"github.com/rs/zerolog"
)

func testRuleSet() *domain.RuleSet {
	return &domain.RuleSet{
		Categories: []*domain.Category{
			{ID: 1, Name: domain.CategoryPromotions, Priority: 7, IsSystem: true},
			{ID: 2, Name: domain.CategoryNewsletters, Priority: 6, IsSystem: true},
			{ID: 3, Name: domain.CategoryWork, Priority: 3, IsSystem: true},
			{ID: 4, Name: domain.CategoryPersonal, Priority: 2, IsSystem: true},
			{ID: 5, Name: domain.CategoryGeneral, Priority: 99, IsSystem: true},
		},
		KeywordRules: []*domain.KeywordRule{
			{ID: 10, CategoryID: 1, Keyword: "sale", Weight: 5},
		},
		SenderRules: []*domain.SenderRule{
			{ID: 20, CategoryID: 2, Pattern: "nytimes.com", Weight: 8},
		},
	}
}

func TestResolver_SenderRuleWins(t *testing.T) {
	r := NewResolver("", zerolog.Nop())
	email := &domain.Email{FromEmail: "digest@nytimes.com", Subject: "Weekly Digest"}

	res := r.Resolve(testRuleSet(), email)

	if res.Category != domain.CategoryNewsletters || !res.Matched {
		t.Fatalf("Category = %v, want newsletters", res.Category)
	}
	if res.Confidence != 1.0 {
		t.Errorf("Confidence = %v, want 1.0", res.Confidence)
	}
	if len(res.Factors) != 1 || res.Factors[0].Weight != 8 || res.Factors[0].RuleID != 20 {
		t.Errorf("Factors = %+v, want one factor of weight 8", res.Factors)
	}
}

func TestResolver_ConfidenceIsWinnerShare(t *testing.T) {
	r := NewResolver("", zerolog.Nop())
	email := &domain.Email{FromEmail: "News <deals@email.nytimes.com>", Subject: "Big SALE inside"}

	res := r.Resolve(testRuleSet(), email)

	if res.Category != domain.CategoryNewsletters {
		t.Fatalf("Category = %v, want newsletters", res.Category)
	}
	if want := 8.0 / 13.0; math.Abs(res.Confidence-want) > 1e-9 {
		t.Errorf("Confidence = %v, want %v", res.Confidence, want)
	}
	if len(res.Factors) != 2 || res.Factors[0].Weight != 8 || res.Factors[1].Weight != 5 {
		t.Errorf("Factors = %+v, want ordered by weight", res.Factors)
	}
}

func TestResolver_TieBreakByPriority(t *testing.T) {
	set := testRuleSet()
	set.KeywordRules = []*domain.KeywordRule{
		{ID: 1, CategoryID: 3, Keyword: "dinner", Weight: 4},
		{ID: 2, CategoryID: 4, Keyword: "dinner", Weight: 4},
		{ID: 3, CategoryID: 1, Keyword: "dinner", Weight: 4},
	}
	r := NewResolver("", zerolog.Nop())

	for i := 0; i < 20; i++ {
		res := r.Resolve(set, &domain.Email{Subject: "Team dinner"})
		if res.Category != domain.CategoryPersonal {
			t.Fatalf("Category = %v, want personal (lowest priority number)", res.Category)
		}
		if math.Abs(res.Confidence-1.0/3.0) > 1e-9 {
			t.Fatalf("Confidence = %v, want 1/3", res.Confidence)
		}
	}
}

func TestResolver_NoMatchFallsBack(t *testing.T) {
	tests := []struct {
		name     string
		set      *domain.RuleSet
		fallback string
		wantID   int64
	}{
		{"empty rule set", &domain.RuleSet{}, "", 0},
		{"nil rule set", nil, "", 0},
		{"no rule matches", testRuleSet(), "", 5},
		{"custom default", testRuleSet(), domain.CategoryWork, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(tt.fallback, zerolog.Nop())
			res := r.Resolve(tt.set, &domain.Email{FromEmail: "friend@example.org", Subject: "hi"})
			if res.Category != r.DefaultCategory() || res.Confidence != 0 || res.Matched {
				t.Errorf("Resolve() = %+v, want default with confidence 0", res)
			}
			if res.CategoryID != tt.wantID {
				t.Errorf("CategoryID = %d, want %d", res.CategoryID, tt.wantID)
			}
			if res.Factors == nil || len(res.Factors) != 0 {
				t.Errorf("Factors = %v, want empty", res.Factors)
			}
		})
	}
}

func TestResolver_MalformedRegexSkipped(t *testing.T) {
	set := testRuleSet()
	set.KeywordRules = append(set.KeywordRules,
		&domain.KeywordRule{ID: 30, CategoryID: 3, Keyword: "([unclosed", IsRegex: true, Weight: 50},
		&domain.KeywordRule{ID: 31, CategoryID: 3, Keyword: `q[1-4] (report|review)`, IsRegex: true, Weight: 2},
	)
	r := NewResolver("", zerolog.Nop())

	res := r.Resolve(set, &domain.Email{Subject: "Q3 Review agenda"})
	if res.Category != domain.CategoryWork {
		t.Errorf("Category = %v, want work from the valid regex", res.Category)
	}
	if len(res.Factors) != 1 || res.Factors[0].RuleID != 31 {
		t.Errorf("Factors = %+v, want only rule 31", res.Factors)
	}

	// a second resolution reuses the remembered failure
	res = r.Resolve(set, &domain.Email{Subject: "nothing here"})
	if res.Matched {
		t.Errorf("Resolve() matched %+v, want fallback", res)
	}
}

func TestResolver_SkipsUnusableRules(t *testing.T) {
	set := testRuleSet()
	set.KeywordRules = []*domain.KeywordRule{
		{ID: 1, CategoryID: 3, Keyword: "report", Weight: 0},
		{ID: 2, CategoryID: 999, Keyword: "report", Weight: 5},
		{ID: 3, CategoryID: 3, Keyword: "  ", Weight: 5},
	}
	r := NewResolver("", zerolog.Nop())

	if res := r.Resolve(set, &domain.Email{Subject: "report"}); res.Matched {
		t.Errorf("Resolve() = %+v, want no match", res)
	}
}

func TestMatchSender(t *testing.T) {
	tests := []struct {
		name    string
		rule    domain.SenderRule
		from    string
		matched bool
	}{
		{"domain exact", domain.SenderRule{Pattern: "nytimes.com"}, "a@nytimes.com", true},
		{"domain subdomain", domain.SenderRule{Pattern: "nytimes.com"}, "a@email.nytimes.com", true},
		{"domain lookalike", domain.SenderRule{Pattern: "nytimes.com"}, "a@notnytimes.com", false},
		{"domain with at prefix", domain.SenderRule{Pattern: "@GitHub.com"}, "noreply@github.com", true},
		{"address inferred", domain.SenderRule{Pattern: "boss@corp.com"}, "Boss <BOSS@corp.com>", true},
		{"address other user", domain.SenderRule{Pattern: "boss@corp.com"}, "intern@corp.com", false},
		{"explicit domain type", domain.SenderRule{Pattern: "corp.com", MatchType: domain.SenderMatchDomain}, "x@corp.com", true},
		{"empty sender", domain.SenderRule{Pattern: "corp.com"}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := newMatchInput(&domain.Email{FromEmail: tt.from})
			if got := matchSender(&tt.rule, in); got != tt.matched {
				t.Errorf("matchSender(%q, %q) = %v, want %v", tt.rule.Pattern, tt.from, got, tt.matched)
			}
		})
	}
}

func TestResolver_Deterministic(t *testing.T) {
	r := NewResolver("", zerolog.Nop())
	set := testRuleSet()
	email := &domain.Email{FromEmail: "deals@nytimes.com", Subject: "sale"}
	first := r.Resolve(set, email)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := r.Resolve(set, email)
			if res.Category != first.Category || res.Confidence != first.Confidence {
				t.Errorf("Resolve() = %s/%v, want %s/%v", res.Category, res.Confidence, first.Category, first.Confidence)
			}
		}()
	}
	wg.Wait()
}
