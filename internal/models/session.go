// Playmetry - Digital Signage Proof-of-Play Aggregation Pipeline
// Copyright 2026 Playmetry contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doohworks/playmetry

package models

import "time"

// MatchedSession is a logical playback session reconstructed from raw
// events. Sessions are derived per aggregation window and never persisted
// on their own; they exist only as input to the hourly aggregator.
//
// CompletedAt is nil when no complete event was attributed to the anchor
// within the matching window. PlaySeconds is then the creative's configured
// duration in seconds, or zero when the duration is unknown.
type MatchedSession struct {
	DeviceID    string     `json:"device_id"`
	SlotIndex   int        `json:"slot_index"`
	CampaignID  string     `json:"campaign_id"`
	CreativeID  string     `json:"creative_id"`
	PlaylistID  string     `json:"playlist_id"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	PlaySeconds int64      `json:"play_seconds"`
}

// Completed reports whether a complete event was attributed to the session.
func (s *MatchedSession) Completed() bool {
	return s.CompletedAt != nil
}
