package domain

import (
	"errors"
	"testing"
)

func TestCategory_Validate(t *testing.T) {
	tests := []struct {
		name     string
		category Category
		wantErr  error
		fails    bool
	}{
		{"user category", Category{Name: "receipts"}, nil, false},
		{"system category", Category{Name: CategoryPromotions, IsSystem: true}, nil, false},
		{"user reuses system name", Category{Name: CategoryPromotions}, ErrReservedCategoryName, true},
		{"case and spaces ignored", Category{Name: " Promotions "}, ErrReservedCategoryName, true},
		{"user takes trash", Category{Name: CategoryTrash}, ErrReservedCategoryName, true},
		{"empty name", Category{Name: "  "}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.category.Validate()
			if (err != nil) != tt.fails {
				t.Fatalf("Validate() error = %v, want failure %v", err, tt.fails)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
