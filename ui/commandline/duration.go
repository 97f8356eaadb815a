// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/oslandia/deeposlandia/pkg/training/callbacks"
)

var durationRegex = regexp.MustCompile(`^(\d+\.?\d*)([a-zµ]+)$`)

// FormatDuration pretty prints duration with 2 decimal digits. Durations of a minute or more are
// rounded to the second.
func FormatDuration(d time.Duration) string {
	if d >= time.Minute {
		return d.Round(time.Second).String()
	}
	s := d.String()
	matches := durationRegex.FindStringSubmatch(s)
	if len(matches) != 3 {
		return s
	}
	num, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return s
	}
	return fmt.Sprintf("%.2f%s", num, matches[2])
}

// FormatValue pretty prints a metric value with thousands separators and at most 4 decimal digits.
// Missing (NaN) values are printed as "NA".
func FormatValue(v float64) string {
	if math.IsNaN(v) {
		return callbacks.MissingValue
	}
	return humanize.CommafWithDigits(v, 4)
}
