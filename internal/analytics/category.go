package analytics

import "strings"

// Category labels derived from task titles.
const (
	CategoryUncategorized = "Uncategorized"
	CategoryBugFix        = "Bug fixes"
	CategoryFeatures      = "New features"
	CategoryRefactoring   = "Refactoring"
	CategoryTesting       = "Testing"
	CategoryDocumentation = "Documentation"
	CategoryUrgent        = "Urgent"
	CategoryOther         = "Other"
)

var categoryKeywords = []struct {
	label    string
	keywords []string
}{
	{CategoryBugFix, []string{"bug", "fix", "ошибка", "исправ"}},
	{CategoryFeatures, []string{"feature", "функция", "новый"}},
	{CategoryRefactoring, []string{"refactor", "рефактор"}},
	{CategoryTesting, []string{"test", "тест"}},
	{CategoryDocumentation, []string{"doc", "документ"}},
}

// ExtractCategory classifies a task by keywords in its title. The first
// matching group wins; HIGH priority tasks without a match are Urgent.
func ExtractCategory(title, priority string) string {
	lower := strings.ToLower(strings.TrimSpace(title))
	if lower == "" {
		return CategoryUncategorized
	}
	for _, group := range categoryKeywords {
		for _, kw := range group.keywords {
			if strings.Contains(lower, kw) {
				return group.label
			}
		}
	}
	if strings.EqualFold(strings.TrimSpace(priority), "HIGH") {
		return CategoryUrgent
	}
	return CategoryOther
}

func categoryOrExtract(category, title, priority string) string {
	if c := strings.TrimSpace(category); c != "" {
		return c
	}
	return ExtractCategory(title, priority)
}
