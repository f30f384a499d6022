package rules

// BuiltinCategories returns the built-in categories in evaluation order:
// structural, coding-conflict, coverage, provider, pricing, eligibility.
func BuiltinCategories(opts Options) []Category {
	return []Category{
		NewStructuralCategory(opts),
		NewCodingCategory(opts),
		NewCoverageCategory(opts),
		NewProviderCategory(opts),
		NewPricingCategory(opts),
		NewEligibilityCategory(opts),
	}
}
