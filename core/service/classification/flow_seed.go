package classification

import (
	"context"
	"fmt"

	"flow_server/core/domain"
	"flow_server/core/port/out"
)

type seedKeyword struct {
	keyword string
	regex   bool
	weight  int
}

type seedSender struct {
	pattern string
	weight  int
}

type seedCategory struct {
	name     string
	display  string
	priority int
	keywords []seedKeyword
	senders  []seedSender
}

// 시스템 카테고리 + 기본 규칙
var systemCategories = []seedCategory{
	{
		name: domain.CategoryImportant, display: "Important", priority: 1,
		keywords: []seedKeyword{
			{"urgent", false, 3},
			{"action required", false, 3},
			{"security alert", false, 4},
			{`password (was )?changed`, true, 4},
		},
	},
	{
		name: domain.CategoryPersonal, display: "Personal", priority: 2,
		keywords: []seedKeyword{
			{"family", false, 2},
			{"dinner", false, 2},
			{"birthday", false, 2},
		},
	},
	{
		name: domain.CategoryWork, display: "Work", priority: 3,
		keywords: []seedKeyword{
			{"meeting", false, 2},
			{"invoice", false, 2},
			{"project", false, 1},
			{`pull request #?\d+`, true, 2},
		},
	},
	{
		name: domain.CategoryUpdates, display: "Updates", priority: 4,
		keywords: []seedKeyword{
			{"your order", false, 3},
			{"receipt", false, 2},
			{"shipped", false, 3},
			{"password reset", false, 3},
		},
		senders: []seedSender{
			{"github.com", 2},
		},
	},
	{
		name: domain.CategorySocial, display: "Social", priority: 5,
		keywords: []seedKeyword{
			{"friend request", false, 3},
			{"mentioned you", false, 3},
		},
		senders: []seedSender{
			{"facebookmail.com", 5},
			{"linkedin.com", 5},
			{"x.com", 4},
		},
	},
	{
		name: domain.CategoryNewsletters, display: "Newsletters", priority: 6,
		keywords: []seedKeyword{
			{"newsletter", false, 3},
			{"digest", false, 2},
			{"unsubscribe", false, 1},
			{`weekly (roundup|digest)`, true, 2},
		},
		senders: []seedSender{
			{"substack.com", 5},
			{"medium.com", 4},
		},
	},
	{
		name: domain.CategoryPromotions, display: "Promotions", priority: 7,
		keywords: []seedKeyword{
			{"sale", false, 3},
			{"% off", false, 3},
			{"coupon", false, 3},
			{"limited time", false, 2},
			{"free shipping", false, 2},
		},
	},
	{
		name: domain.CategoryGeneral, display: "General", priority: 99,
	},
}

// SystemCategoryNames lists the seeded categories in priority order.
func SystemCategoryNames() []string {
	names := make([]string, len(systemCategories))
	for i, c := range systemCategories {
		names[i] = c.name
	}
	return names
}

// SeedSystemCategories creates missing system categories with their default global rules.
// Existing system categories are left untouched, so the call is idempotent.
func SeedSystemCategories(ctx context.Context, rules out.RuleRepository) (int, error) {
	if rules == nil {
		return 0, ErrNoRuleRepository
	}

	created := 0
	for _, sc := range systemCategories {
		existing, err := rules.GetCategoryByName(ctx, sc.name, true)
		if err != nil {
			return created, fmt.Errorf("failed to look up category %s: %w", sc.name, err)
		}
		if existing != nil {
			continue
		}

		cat := &domain.Category{
			Name:        sc.name,
			DisplayName: sc.display,
			Priority:    sc.priority,
			IsSystem:    true,
		}
		if err := rules.CreateCategory(ctx, cat); err != nil {
			return created, fmt.Errorf("failed to create category %s: %w", sc.name, err)
		}

		for _, k := range sc.keywords {
			rule := &domain.KeywordRule{CategoryID: cat.ID, Keyword: k.keyword, IsRegex: k.regex, Weight: k.weight}
			if err := rules.CreateKeywordRule(ctx, rule); err != nil {
				return created, fmt.Errorf("failed to create keyword rule %q: %w", k.keyword, err)
			}
		}
		for _, s := range sc.senders {
			rule := &domain.SenderRule{CategoryID: cat.ID, Pattern: s.pattern, Weight: s.weight}
			if err := rules.CreateSenderRule(ctx, rule); err != nil {
				return created, fmt.Errorf("failed to create sender rule %q: %w", s.pattern, err)
			}
		}
		created++
	}
	return created, nil
}
