package fi

import "fmt"

// Version represents a libfabric semantic version.
type Version struct {
	Major uint
	Minor uint
}

// APIVersion is the interface version implemented by this package. Providers
// must share its major version to register.
var APIVersion = Version{Major: 1, Minor: 22}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Compare returns -1 if v < other, 0 if equal, and 1 if v > other.
func (v Version) Compare(other Version) int {
	switch {
	case v.Major < other.Major:
		return -1
	case v.Major > other.Major:
		return 1
	case v.Minor < other.Minor:
		return -1
	case v.Minor > other.Minor:
		return 1
	default:
		return 0
	}
}

// EnsureCompatible validates that a provider built against v can serve the
// requested API version: same major release and a minor version at least as
// new.
func (v Version) EnsureCompatible(requested Version) error {
	if v.Major != requested.Major {
		return fmt.Errorf("libfabric major version mismatch: provider %s, requested %s", v, requested)
	}
	if v.Minor < requested.Minor {
		return fmt.Errorf("libfabric provider %s predates requested minor version %s", v, requested)
	}
	return nil
}
