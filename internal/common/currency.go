package common

// Rupee amounts are stored as whole int64 values and converted to paise only at
// the gateway boundary. Integer arithmetic keeps the round trip exact.

// ToMinorUnits converts whole rupees to paise.
func ToMinorUnits(rupees int64) int64 {
	return rupees * 100
}

// FromMinorUnits converts paise back to whole rupees.
func FromMinorUnits(paise int64) int64 {
	return paise / 100
}
