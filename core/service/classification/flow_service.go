package classification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"flow_server/core/domain"
	"flow_server/core/port/out"
	"flow_server/pkg/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrNoRuleRepository is returned when the service has no rule store to read from.
var ErrNoRuleRepository = errors.New("rule repository not configured")

// ServiceConfig wires the classification service.
type ServiceConfig struct {
	Rules           out.RuleRepository
	Decisions       out.DecisionRepository
	Trash           out.TrashClassifier // optional learned classifier, consulted first
	DefaultCategory string
	Metrics         *metrics.ScoringMetrics
	Logger          zerolog.Logger
	Now             func() time.Time
}

// Service loads the user's rule snapshot, resolves the category and appends the audit decision.
type Service struct {
	rules     out.RuleRepository
	decisions out.DecisionRepository
	trash     out.TrashClassifier
	resolver  *Resolver
	metrics   *metrics.ScoringMetrics
	log       zerolog.Logger
	now       func() time.Time
}

func NewService(cfg ServiceConfig) *Service {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		rules:     cfg.Rules,
		decisions: cfg.Decisions,
		trash:     cfg.Trash,
		resolver:  NewResolver(cfg.DefaultCategory, cfg.Logger),
		metrics:   cfg.Metrics,
		log:       cfg.Logger.With().Str("component", "classification").Logger(),
		now:       cfg.Now,
	}
}

// Resolve decides the category of email and records the decision.
// Store failures are returned; malformed rules and unmatched emails are not errors.
func (s *Service) Resolve(ctx context.Context, email *domain.Email) (*domain.CategorizationDecision, error) {
	decision, err := s.decide(ctx, email)
	if err != nil {
		return nil, err
	}

	decision.ID = uuid.New()
	decision.EmailID = email.ID
	decision.UserID = email.UserID
	decision.CreatedAt = s.now()

	if s.decisions != nil {
		if err := s.decisions.Append(ctx, decision); err != nil {
			return nil, fmt.Errorf("failed to record categorization decision: %w", err)
		}
	}

	s.metrics.Decision(string(decision.Method), decision.Category)
	s.log.Debug().
		Int64("email_id", email.ID).
		Str("category", decision.Category).
		Float64("confidence", decision.Confidence).
		Int("factors", len(decision.Factors)).
		Msg("email categorized")
	return decision, nil
}

// ResolveCategory satisfies the scoring engine's resolver contract.
func (s *Service) ResolveCategory(ctx context.Context, email *domain.Email) (string, error) {
	d, err := s.Resolve(ctx, email)
	if err != nil {
		return "", err
	}
	return d.Category, nil
}

// Preview decides the category of email the same way Resolve does but records nothing.
func (s *Service) Preview(ctx context.Context, email *domain.Email) (*domain.CategorizationDecision, error) {
	return s.decide(ctx, email)
}

// PreviewCategory is ResolveCategory without the audit record. Inspection paths use it.
func (s *Service) PreviewCategory(ctx context.Context, email *domain.Email) (string, error) {
	d, err := s.decide(ctx, email)
	if err != nil {
		return "", err
	}
	return d.Category, nil
}

func (s *Service) decide(ctx context.Context, email *domain.Email) (*domain.CategorizationDecision, error) {
	if s.rules == nil {
		return nil, ErrNoRuleRepository
	}

	decision, err := s.learned(ctx, email)
	if err != nil || decision != nil {
		return decision, err
	}

	set, err := s.rules.LoadRuleSet(ctx, email.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	res := s.resolver.Resolve(set, email)
	return &domain.CategorizationDecision{
		Category:   res.Category,
		Confidence: res.Confidence,
		Method:     domain.DecisionRuleBased,
		Factors:    res.Factors,
	}, nil
}

// learned asks the trash model. Model failures are logged and fall through to the rules.
func (s *Service) learned(ctx context.Context, email *domain.Email) (*domain.CategorizationDecision, error) {
	if s.trash == nil {
		return nil, nil
	}
	isTrash, confidence, err := s.trash.IsTrash(ctx, email)
	if err != nil {
		s.log.Warn().Err(err).Int64("email_id", email.ID).Msg("trash classifier failed, using rules")
		return nil, nil
	}
	if !isTrash {
		return nil, nil
	}
	return &domain.CategorizationDecision{
		Category:   domain.CategoryTrash,
		Confidence: confidence,
		Method:     domain.DecisionLearned,
		Factors:    []domain.MatchedRule{},
	}, nil
}
