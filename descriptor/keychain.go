package descriptor

// KeychainKind distinguishes the receive descriptor from the change one.
type KeychainKind uint8

const (
	// KeychainExternal is the descriptor addresses are handed out from.
	KeychainExternal KeychainKind = 0

	// KeychainInternal is the descriptor change is sent to.
	KeychainInternal KeychainKind = 1
)

// Keychains lists both keychains in their canonical order.
var Keychains = []KeychainKind{KeychainExternal, KeychainInternal}

// String returns the name of the keychain.
func (k KeychainKind) String() string {
	switch k {
	case KeychainExternal:
		return "external"

	case KeychainInternal:
		return "internal"

	default:
		return "unknown"
	}
}

// branch returns the BIP44 change branch of the keychain.
func (k KeychainKind) branch() uint32 {
	if k == KeychainInternal {
		return 1
	}

	return 0
}
