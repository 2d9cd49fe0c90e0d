package analytics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractCategory(t *testing.T) {
	cases := []struct {
		title, priority, want string
	}{
		{"", "HIGH", CategoryUncategorized},
		{"Fix login bug", "LOW", CategoryBugFix},
		{"Исправить ошибку в отчёте", "LOW", CategoryBugFix},
		{"New feature: export", "MEDIUM", CategoryFeatures},
		{"Refactor billing module", "LOW", CategoryRefactoring},
		{"Write tests for API", "LOW", CategoryTesting},
		{"Update docs", "LOW", CategoryDocumentation},
		{"Call the client", "HIGH", CategoryUrgent},
		{"Call the client", "low", CategoryOther},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ExtractCategory(tc.title, tc.priority), tc.title)
	}
}

func TestCategoryOrExtract_PrefersExplicit(t *testing.T) {
	assert.Equal(t, "Ops", categoryOrExtract(" Ops ", "fix bug", "LOW"))
	assert.Equal(t, CategoryBugFix, categoryOrExtract("", "fix bug", "LOW"))
}
