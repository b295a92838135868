// Playmetry - Digital Signage Proof-of-Play Aggregation Pipeline
// Copyright 2026 Playmetry contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doohworks/playmetry

// Package uptime computes per-device daily uptime from telemetry pulses.
//
// Uptime is intentionally coarse: one value per device per calendar day,
// broadcast unchanged onto every hourly row for that device and day.
// Pulse cadence varies across device firmware generations, so the ratio
// of ACTIVE pulses to all pulses is the only defensible signal; wall
// clock coverage is not.
package uptime

import "github.com/doohworks/playmetry/internal/models"

// Percent returns the uptime percentage for one device day. A device
// with no pulses at all reports 0.0: silence means down, not unknown.
func Percent(c models.PulseCounts) float64 {
	if c.Total == 0 {
		return 0.0
	}
	return 100.0 * float64(c.Active) / float64(c.Total)
}

// ForDevice looks up a device's uptime in a day's pulse count map.
// Devices absent from the map had no pulses and report 0.0.
func ForDevice(counts map[string]models.PulseCounts, deviceID string) float64 {
	return Percent(counts[deviceID])
}
