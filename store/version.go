package main

import (
	"strconv"
	"strings"
)

const defaultMinClientVersion = "0.15.0"

// clientVersionAllowed checks the "<client> <version>" marker against the
// minimum supported version. Markers that cannot be parsed are allowed
// through: the gate exists to push old-but-valid clients forward, not to
// reject experiments with unversioned tooling.
func clientVersionAllowed(marker string, minimum string) bool {
	parts := strings.Fields(marker)
	if len(parts) < 2 {
		return true
	}
	version, ok := parseVersion(parts[len(parts)-1])
	if !ok {
		return true
	}
	min, ok := parseVersion(minimum)
	if !ok {
		return true
	}
	return compareVersions(version, min) >= 0
}

func parseVersion(raw string) ([]int, bool) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	version := make([]int, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return nil, false
		}
		version = append(version, n)
	}
	return version, len(version) > 0
}

// compareVersions orders dotted version numbers segment by segment; a missing
// segment counts as zero, so 1.2 == 1.2.0.
func compareVersions(a, b []int) int {
	for i := 0; i < len(a) || i < len(b); i++ {
		var x, y int
		if i < len(a) {
			x = a[i]
		}
		if i < len(b) {
			y = b[i]
		}
		if x != y {
			if x < y {
				return -1
			}
			return 1
		}
	}
	return 0
}
