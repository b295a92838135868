// Playmetry - Digital Signage Proof-of-Play Aggregation Pipeline
// Copyright 2026 Playmetry contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doohworks/playmetry

// Package models defines the shared data types for the proof-of-play
// pipeline: raw playback events, telemetry pulses, matched sessions,
// report rows and watermark state.
package models

import "time"

// EventKind identifies the lifecycle stage a raw playback event records.
type EventKind string

const (
	// EventStart marks the beginning of a creative playback.
	EventStart EventKind = "start"
	// EventImpression is emitted by devices that report a single
	// impression ping instead of a start/complete pair.
	EventImpression EventKind = "impression"
	// EventComplete marks the end of a creative playback.
	EventComplete EventKind = "complete"
)

// Rank orders event kinds for anchor selection at identical timestamps:
// start wins over impression. Complete events are never anchors.
func (k EventKind) Rank() int {
	switch k {
	case EventStart:
		return 1
	case EventImpression:
		return 2
	default:
		return 3
	}
}

// IsAnchor reports whether this kind can open a playback session.
func (k EventKind) IsAnchor() bool {
	return k == EventStart || k == EventImpression
}

// RawEvent is one record of the append-only proof-of-play log.
// Events arrive out of order and may contain duplicates; the log is
// read-only to the pipeline.
type RawEvent struct {
	DeviceID   string    `json:"device_id"`
	SlotIndex  int       `json:"slot_index"`
	CampaignID string    `json:"campaign_id"`
	CreativeID string    `json:"creative_id"`
	PlaylistID string    `json:"playlist_id"`
	Kind       EventKind `json:"event_kind"`
	Timestamp  time.Time `json:"timestamp"`
}

// PulseStatus is the device state reported by a telemetry pulse.
type PulseStatus string

const (
	// PulseActive means the device was powered on and rendering.
	PulseActive PulseStatus = "ACTIVE"
	// PulseInactive means the device reported but was not rendering.
	PulseInactive PulseStatus = "INACTIVE"
)

// TelemetryPulse is one periodic heartbeat from a device.
type TelemetryPulse struct {
	DeviceID  string      `json:"device_id"`
	Timestamp time.Time   `json:"timestamp"`
	Status    PulseStatus `json:"status"`
}

// PulseCounts summarizes one device's pulses for a calendar day.
type PulseCounts struct {
	Active int `json:"active"`
	Total  int `json:"total"`
}
