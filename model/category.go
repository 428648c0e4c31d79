package model

import "strings"

type Category string

const (
	CategoryFeature  Category = "feature"
	CategoryFix      Category = "fix"
	CategoryDocs     Category = "docs"
	CategoryChore    Category = "chore"
	CategoryBreaking Category = "breaking"
	CategoryOther    Category = "other"
)

// DisplayOrder is the order categories appear in a rendered changelog.
var DisplayOrder = []Category{
	CategoryBreaking,
	CategoryFeature,
	CategoryFix,
	CategoryDocs,
	CategoryChore,
	CategoryOther,
}

var categoryAliases = map[string]Category{
	"feature":         CategoryFeature,
	"feat":            CategoryFeature,
	"features":        CategoryFeature,
	"fix":             CategoryFix,
	"bugfix":          CategoryFix,
	"bug":             CategoryFix,
	"docs":            CategoryDocs,
	"doc":             CategoryDocs,
	"documentation":   CategoryDocs,
	"chore":           CategoryChore,
	"test":            CategoryChore,
	"tests":           CategoryChore,
	"refactor":        CategoryChore,
	"ci":              CategoryChore,
	"build":           CategoryChore,
	"breaking":        CategoryBreaking,
	"breaking-change": CategoryBreaking,
	"other":           CategoryOther,
	"misc":            CategoryOther,
}

// ParseCategory maps a free-form tag onto the closed category set.
func ParseCategory(s string) (Category, bool) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.ReplaceAll(key, " ", "-")
	c, ok := categoryAliases[key]
	return c, ok
}

func (c Category) Valid() bool {
	for _, known := range DisplayOrder {
		if c == known {
			return true
		}
	}
	return false
}

// Heading is the section title used when rendering the category.
func (c Category) Heading() string {
	switch c {
	case CategoryBreaking:
		return "Breaking Changes"
	case CategoryFeature:
		return "Features"
	case CategoryFix:
		return "Fixes"
	case CategoryDocs:
		return "Documentation"
	case CategoryChore:
		return "Chores"
	default:
		return "Other"
	}
}
