package conference

import "strings"

// ExpectedLabel is one physical volume expected to be loaded on a route.
type ExpectedLabel struct {
	// Code is the canonical matching key, "{index}/{total}-{productCode}",
	// always lowercase.
	Code string
	// Display is the original human-readable label text; casing may differ
	// from Code.
	Display     string
	OrderID     string
	ProductCode string
	VolumeIndex int
	VolumeTotal int
}

// ScanRecord is one accepted scan event. Records are append-only; there is
// no update or delete path for them.
type ScanRecord struct {
	NormalizedCode string
	OrderID        string
	ProductCode    string
	VolumeIndex    int
	VolumeTotal    int
	Matched        bool
}

// ExclusionReason classifies why a product was excluded from scanning.
type ExclusionReason string

const (
	ReasonNoSpace ExclusionReason = "no_space"
	ReasonDamaged ExclusionReason = "damaged"
	ReasonNoStock ExclusionReason = "no_stock"
	ReasonOther   ExclusionReason = "other"
)

// Valid reports whether the reason is one of the fixed enumeration values.
func (r ExclusionReason) Valid() bool {
	switch r {
	case ReasonNoSpace, ReasonDamaged, ReasonNoStock, ReasonOther:
		return true
	}
	return false
}

// ExclusionMark records an operator override: the product's volumes will
// not be scanned. While the mark exists, no scan is accepted for any
// expected label of the same (order, product) pair.
type ExclusionMark struct {
	OrderID     string
	ProductCode string
	Reason      ExclusionReason
	Notes       string
}

// canonicalProductCode folds a product code into the form used by
// expected labels: trimmed and lowercase.
func canonicalProductCode(productCode string) string {
	return strings.ToLower(strings.TrimSpace(productCode))
}

func exclusionKey(orderID, productCode string) string {
	return orderID + "|" + productCode
}
