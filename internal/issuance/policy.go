package issuance

// DefaultProduct is the product code stamped on issued licenses when the
// request leaves the field empty.
const DefaultProduct = "quantum_qi"

// defaultFeatures is the feature set granted for products without an explicit
// policy entry. Order is part of the signed record, so it is fixed here and
// copied on every grant.
var defaultFeatures = []string{"advanced_analytics", "data_export", "realtime_updates"}

// FeaturePolicy decides which product code and feature set a new license
// carries. The zero value grants the default feature set to every product.
type FeaturePolicy struct {
	// DefaultProduct overrides the package default product code.
	DefaultProduct string
	// Grants maps a product code to the features issued for it.
	Grants map[string][]string
}

// ProductCode resolves the product code for a request, falling back to the
// configured default when the request omits it.
func (p FeaturePolicy) ProductCode(requested string) string {
	if requested != "" {
		return requested
	}
	if p.DefaultProduct != "" {
		return p.DefaultProduct
	}
	return DefaultProduct
}

// Features returns the feature grant for a product. The returned slice is a
// copy: grants are embedded in signed records and must never be aliased by
// later policy edits.
func (p FeaturePolicy) Features(product string) []string {
	grant, ok := p.Grants[product]
	if !ok {
		grant = defaultFeatures
	}
	out := make([]string, len(grant))
	copy(out, grant)
	return out
}
