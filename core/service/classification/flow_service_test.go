package classification

import (
	"context"
	"errors"
	"testing"
	"time"

	"flow_server/core/domain"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type fakeRuleRepo struct {
	set        *domain.RuleSet
	err        error
	categories map[string]*domain.Category
	keywords   []*domain.KeywordRule
	senders    []*domain.SenderRule
	nextID     int64
}

func newFakeRuleRepo() *fakeRuleRepo {
	return &fakeRuleRepo{categories: make(map[string]*domain.Category)}
}

func (r *fakeRuleRepo) LoadRuleSet(context.Context, uuid.UUID) (*domain.RuleSet, error) {
	return r.set, r.err
}

func (r *fakeRuleRepo) CreateCategory(_ context.Context, c *domain.Category) error {
	r.nextID++
	c.ID = r.nextID
	r.categories[c.Name] = c
	return nil
}

func (r *fakeRuleRepo) DeleteCategory(context.Context, int64) error { return nil }

func (r *fakeRuleRepo) GetCategoryByName(_ context.Context, name string, _ bool) (*domain.Category, error) {
	return r.categories[name], nil
}

func (r *fakeRuleRepo) CreateKeywordRule(_ context.Context, k *domain.KeywordRule) error {
	r.keywords = append(r.keywords, k)
	return nil
}

func (r *fakeRuleRepo) CreateSenderRule(_ context.Context, s *domain.SenderRule) error {
	r.senders = append(r.senders, s)
	return nil
}

type fakeDecisionRepo struct {
	appended []*domain.CategorizationDecision
	err      error
}

func (r *fakeDecisionRepo) Append(_ context.Context, d *domain.CategorizationDecision) error {
	if r.err != nil {
		return r.err
	}
	r.appended = append(r.appended, d)
	return nil
}

func (r *fakeDecisionRepo) ListByEmail(context.Context, int64) ([]*domain.CategorizationDecision, error) {
	return r.appended, nil
}

type fakeTrash struct {
	isTrash bool
	err     error
}

func (f fakeTrash) IsTrash(context.Context, *domain.Email) (bool, float64, error) {
	return f.isTrash, 0.92, f.err
}

var fixedNow = time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC)

func TestService_ResolveRecordsDecision(t *testing.T) {
	rules := newFakeRuleRepo()
	rules.set = testRuleSet()
	decisions := &fakeDecisionRepo{}
	svc := NewService(ServiceConfig{
		Rules:     rules,
		Decisions: decisions,
		Logger:    zerolog.Nop(),
		Now:       func() time.Time { return fixedNow },
	})

	userID := uuid.New()
	d, err := svc.Resolve(context.Background(), &domain.Email{ID: 42, UserID: userID, FromEmail: "digest@nytimes.com"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if d.Category != domain.CategoryNewsletters || d.Method != domain.DecisionRuleBased || d.Confidence != 1 {
		t.Errorf("Resolve() = %+v", d)
	}
	if len(decisions.appended) != 1 {
		t.Fatalf("appended %d decisions, want 1", len(decisions.appended))
	}
	got := decisions.appended[0]
	if got.EmailID != 42 || got.UserID != userID || got.ID == uuid.Nil || !got.CreatedAt.Equal(fixedNow) {
		t.Errorf("decision = %+v", got)
	}
}

func TestService_ResolveCategory(t *testing.T) {
	rules := newFakeRuleRepo()
	rules.set = &domain.RuleSet{}
	svc := NewService(ServiceConfig{Rules: rules, Logger: zerolog.Nop()})

	category, err := svc.ResolveCategory(context.Background(), &domain.Email{ID: 1})
	if err != nil || category != domain.CategoryGeneral {
		t.Errorf("ResolveCategory() = %q, %v, want general", category, err)
	}
}

func TestService_Errors(t *testing.T) {
	storeErr := errors.New("db down")

	tests := []struct {
		name    string
		svc     *Service
		wantErr error
	}{
		{"no rule repository", NewService(ServiceConfig{Logger: zerolog.Nop()}), ErrNoRuleRepository},
		{"rule load failure", NewService(ServiceConfig{
			Rules:  &fakeRuleRepo{err: storeErr},
			Logger: zerolog.Nop(),
		}), storeErr},
		{"decision append failure", NewService(ServiceConfig{
			Rules:     &fakeRuleRepo{set: testRuleSet()},
			Decisions: &fakeDecisionRepo{err: storeErr},
			Logger:    zerolog.Nop(),
		}), storeErr},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.svc.Resolve(context.Background(), &domain.Email{ID: 1})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Resolve() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestService_TrashClassifier(t *testing.T) {
	rules := newFakeRuleRepo()
	rules.set = testRuleSet()
	email := &domain.Email{ID: 1, FromEmail: "digest@nytimes.com"}

	t.Run("learned verdict wins", func(t *testing.T) {
		decisions := &fakeDecisionRepo{}
		svc := NewService(ServiceConfig{Rules: rules, Decisions: decisions, Trash: fakeTrash{isTrash: true}, Logger: zerolog.Nop()})
		d, err := svc.Resolve(context.Background(), email)
		if err != nil {
			t.Fatal(err)
		}
		if d.Category != domain.CategoryTrash || d.Method != domain.DecisionLearned || d.Confidence != 0.92 {
			t.Errorf("Resolve() = %+v, want learned trash", d)
		}
	})

	t.Run("classifier failure falls back to rules", func(t *testing.T) {
		svc := NewService(ServiceConfig{Rules: rules, Trash: fakeTrash{err: errors.New("model missing")}, Logger: zerolog.Nop()})
		d, err := svc.Resolve(context.Background(), email)
		if err != nil {
			t.Fatal(err)
		}
		if d.Category != domain.CategoryNewsletters || d.Method != domain.DecisionRuleBased {
			t.Errorf("Resolve() = %+v, want rule-based newsletters", d)
		}
	})
}

func TestSeedSystemCategories(t *testing.T) {
	repo := newFakeRuleRepo()

	created, err := SeedSystemCategories(context.Background(), repo)
	if err != nil {
		t.Fatalf("SeedSystemCategories() error = %v", err)
	}
	if created != len(SystemCategoryNames()) {
		t.Errorf("created = %d, want %d", created, len(SystemCategoryNames()))
	}
	if len(repo.keywords) == 0 || len(repo.senders) == 0 {
		t.Error("no default rules seeded")
	}
	for _, k := range repo.keywords {
		if k.CategoryID == 0 || k.Weight <= 0 {
			t.Errorf("keyword rule %+v not attached to a category", k)
		}
	}

	again, err := SeedSystemCategories(context.Background(), repo)
	if err != nil || again != 0 {
		t.Errorf("second SeedSystemCategories() = %d, %v, want 0", again, err)
	}

	// every seeded regex compiles
	cache := newRegexCache(zerolog.Nop())
	for _, k := range repo.keywords {
		if k.IsRegex && cache.get(k.ID, k.Keyword) == nil {
			t.Errorf("seeded pattern %q does not compile", k.Keyword)
		}
	}
}

func TestService_PreviewRecordsNothing(t *testing.T) {
	rules := newFakeRuleRepo()
	rules.set = testRuleSet()
	decisions := &fakeDecisionRepo{}
	svc := NewService(ServiceConfig{Rules: rules, Decisions: decisions, Logger: zerolog.Nop()})
	email := &domain.Email{ID: 42, UserID: uuid.New(), FromEmail: "digest@nytimes.com"}

	category, err := svc.PreviewCategory(context.Background(), email)
	if err != nil || category != domain.CategoryNewsletters {
		t.Errorf("PreviewCategory() = %q, %v, want newsletters", category, err)
	}
	d, err := svc.Preview(context.Background(), email)
	if err != nil || d.Category != domain.CategoryNewsletters || d.Confidence != 1 {
		t.Errorf("Preview() = %+v, %v", d, err)
	}
	if len(decisions.appended) != 0 {
		t.Errorf("preview appended %d decisions, want 0", len(decisions.appended))
	}

	if _, err := svc.ResolveCategory(context.Background(), email); err != nil {
		t.Fatal(err)
	}
	if len(decisions.appended) != 1 {
		t.Errorf("ResolveCategory appended %d decisions, want 1", len(decisions.appended))
	}
}
