package orientation

import (
	"fmt"
	"strings"
)

// Installation is where on the trailer the user says the module is mounted.
type Installation int

const (
	Front Installation = iota
	Rear
	DriversSide
	PassengersSide
)

var installationNames = []string{"front", "rear", "drivers_side", "passengers_side"}

func (i Installation) String() string {
	if i < 0 || int(i) >= len(installationNames) {
		return fmt.Sprintf("installation(%d)", int(i))
	}
	return installationNames[i]
}

// ParseInstallation accepts the config spelling ("front", "drivers_side", ...).
// Hyphens and case are tolerated.
func ParseInstallation(s string) (Installation, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for i, name := range installationNames {
		if norm == name {
			return Installation(i), nil
		}
	}
	return 0, fmt.Errorf("unknown installation %q", s)
}

// MarshalText lets Installation appear by name in YAML and JSON.
func (i Installation) MarshalText() ([]byte, error) {
	if i < 0 || int(i) >= len(installationNames) {
		return nil, fmt.Errorf("invalid installation %d", int(i))
	}
	return []byte(installationNames[i]), nil
}

func (i *Installation) UnmarshalText(b []byte) error {
	v, err := ParseInstallation(string(b))
	if err != nil {
		return err
	}
	*i = v
	return nil
}

// Group splits installations by which trailer axis the module faces along.
type Group int

const (
	LengthWise Group = iota // Front, Rear
	SideWise                // DriversSide, PassengersSide
)

func (i Installation) Group() Group {
	if i == DriversSide || i == PassengersSide {
		return SideWise
	}
	return LengthWise
}
