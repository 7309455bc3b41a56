// This file is part of the SKA PST Send project.
//
// Distributed under the terms of the BSD 3-clause new license.
// See LICENSE for more info.

package scan

import "time"

// Pair is a data/weights pair keyed by their shared stem, plus the
// stat file that post-processing produces from them. StatFile is nil
// until processing has run for this pair.
type Pair struct {
	Key         string
	DataFile    *VoltageRecorderFile
	WeightsFile *VoltageRecorderFile
	StatFile    *VoltageRecorderFile
}

// HasStat reports whether this pair already has a stat file on disk.
func (p *Pair) HasStat() bool {
	return p.StatFile != nil && p.StatFile.Exists()
}

// IsQuiescent reports whether both members of the pair have been
// untouched for at least minimumAge, the gate applied before a pair
// is handed to the stat binary.
func (p *Pair) IsQuiescent(now time.Time, minimumAge time.Duration) bool {
	return p.DataFile.Age(now) >= minimumAge && p.WeightsFile.Age(now) >= minimumAge
}
