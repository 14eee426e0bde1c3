// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package command

// MissingPermissions returns the entries of required absent from granted,
// in required's order. An empty result means the caller is allowed.
func MissingPermissions(required, granted []Permission) []Permission {
	if len(required) == 0 {
		return nil
	}
	have := make(map[Permission]struct{}, len(granted))
	for _, p := range granted {
		have[p] = struct{}{}
	}

	var missing []Permission
	for _, p := range required {
		if _, ok := have[p]; !ok {
			missing = append(missing, p)
			// Guard against duplicates in required.
			have[p] = struct{}{}
		}
	}
	return missing
}
