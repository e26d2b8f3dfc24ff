package entitlement

// Product identifiers sold through the app stores. The legacy IDs are no
// longer offered but remain valid for subscribers who bought them.
const (
	ProductMonthly = "com.pawkeeper.premium.monthly"
	ProductYearly  = "com.pawkeeper.premium.yearly"

	legacyProductMonthly = "com.pawkeeper.pro.monthly"
	legacyProductLaunch  = "com.pawkeeper.sub.launch"
)

var recognizedProducts = map[string]bool{
	ProductMonthly:       true,
	ProductYearly:        true,
	legacyProductMonthly: true,
	legacyProductLaunch:  true,
}

// RecognizedProduct reports whether id is a current or legacy PawKeeper SKU.
// An active entitlement carrying an unrecognized product ID is treated as
// ambiguous and re-verified rather than trusted.
func RecognizedProduct(id string) bool {
	return recognizedProducts[id]
}
