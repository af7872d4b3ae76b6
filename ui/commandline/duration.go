// Copyright 2026 The Leafscan Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import "time"

// FormatDuration pretty prints a duration with about 4 significant digits: durations of a minute or more
// are rounded to seconds, shorter ones keep 2 decimal places of their unit.
func FormatDuration(d time.Duration) string {
	var precision time.Duration
	switch abs := max(d, -d); {
	case abs >= time.Minute:
		precision = time.Second
	case abs >= time.Second:
		precision = 10 * time.Millisecond
	case abs >= time.Millisecond:
		precision = 10 * time.Microsecond
	case abs >= time.Microsecond:
		precision = 10 * time.Nanosecond
	default:
		return d.String()
	}
	return d.Round(precision).String()
}
