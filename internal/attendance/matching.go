package attendance

import (
	"strings"

	"geoattend/pkg/types"
)

// matchOctets is how many leading octets two addresses must share to be
// treated as the same classroom network (a /24).
const matchOctets = 3

// SubnetMatch reports whether a and b are IPv4 dotted-quads sharing their
// first three octets. Malformed input on either side is a non-match.
func SubnetMatch(a, b string) bool {
	octetsA, ok := types.ParseIPv4(strings.TrimSpace(a))
	if !ok {
		return false
	}
	octetsB, ok := types.ParseIPv4(strings.TrimSpace(b))
	if !ok {
		return false
	}
	for i := 0; i < matchOctets; i++ {
		if octetsA[i] != octetsB[i] {
			return false
		}
	}
	return true
}

// decideStatus is the only automatic status assignment. LATE is never
// produced here; it is reachable only through an override.
func decideStatus(teacherIP, studentIP string) types.AttendanceStatus {
	if SubnetMatch(teacherIP, studentIP) {
		return types.StatusPresent
	}
	return types.StatusAbsent
}
