// Playmetry - Digital Signage Proof-of-Play Aggregation Pipeline
// Copyright 2026 Playmetry contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doohworks/playmetry

// Package session reconstructs logical playback sessions from the raw
// proof-of-play event stream.
//
// Devices report playback as unordered start/impression/complete events
// with duplicates. The matcher picks one anchor event per
// (device, slot, timestamp), then attributes to each anchor the nearest
// unclaimed complete event on the same (device, slot) inside the
// creative's expected playback window. The reconstruction is a pure
// in-memory reduction over two pre-sorted slices; it performs no I/O.
package session

import (
	"time"

	"github.com/doohworks/playmetry/internal/models"
)

// DurationFunc resolves a creative's configured playback length.
// Returning zero means the duration is unknown and the matcher falls
// back to Config.FallbackDuration for the attribution window.
type DurationFunc func(creativeID string) time.Duration

// Config carries the matching constants.
type Config struct {
	// FallbackDuration is the expected playback length assumed when a
	// creative has no configured duration.
	FallbackDuration time.Duration
	// Tolerance is the grace period appended to the expected duration
	// when searching for a session's complete event.
	Tolerance time.Duration
}

// Matcher reconstructs sessions for one aggregation window.
type Matcher struct {
	cfg      Config
	duration DurationFunc
}

// NewMatcher returns a matcher using the given constants and creative
// duration resolver. duration may be nil, in which case every creative
// falls back to Config.FallbackDuration.
func NewMatcher(cfg Config, duration DurationFunc) *Matcher {
	if duration == nil {
		duration = func(string) time.Duration { return 0 }
	}
	return &Matcher{cfg: cfg, duration: duration}
}

// anchorKey identifies duplicate anchor candidates: multiple events at
// the identical instant on the same slot describe one playback.
type anchorKey struct {
	deviceID  string
	slotIndex int
	ts        int64
}

// slotKey scopes complete attribution. Completes are matched on
// (device, slot) only; campaign and creative may legitimately differ
// between an anchor and its complete when a playlist advances mid-report.
type slotKey struct {
	deviceID  string
	slotIndex int
}

type completeCandidate struct {
	at      time.Time
	claimed bool
}

// Match reconstructs the sessions anchored inside the window the inputs
// were loaded for. anchors must hold only start/impression events in
// ascending timestamp order; completes must hold only complete events
// sorted by timestamp within each (device, slot).
//
// Every anchor that survives deduplication yields exactly one session.
// Each complete is claimed by at most one anchor; anchors are served in
// timestamp order, so the earliest anchor wins a contested complete
// even when a later anchor is strictly nearer to it. That later anchor
// is then reported without a complete.
func (m *Matcher) Match(anchors, completes []models.RawEvent) []models.MatchedSession {
	deduped := dedupeAnchors(anchors)

	pool := make(map[slotKey][]completeCandidate, 16)
	for _, c := range completes {
		k := slotKey{c.DeviceID, c.SlotIndex}
		pool[k] = append(pool[k], completeCandidate{at: c.Timestamp})
	}

	sessions := make([]models.MatchedSession, 0, len(deduped))
	for _, a := range deduped {
		configured := m.duration(a.CreativeID)

		window := configured
		if window <= 0 {
			window = m.cfg.FallbackDuration
		}
		deadline := a.Timestamp.Add(window + m.cfg.Tolerance)

		s := models.MatchedSession{
			DeviceID:   a.DeviceID,
			SlotIndex:  a.SlotIndex,
			CampaignID: a.CampaignID,
			CreativeID: a.CreativeID,
			PlaylistID: a.PlaylistID,
			StartedAt:  a.Timestamp,
		}

		if at, ok := claimNearest(pool[slotKey{a.DeviceID, a.SlotIndex}], a.Timestamp, deadline); ok {
			s.CompletedAt = &at
			s.PlaySeconds = int64(at.Sub(a.Timestamp) / time.Second)
		} else {
			// Unmatched playback is credited with the configured
			// length; an unknown length contributes no play time.
			s.PlaySeconds = int64(configured / time.Second)
		}

		sessions = append(sessions, s)
	}
	return sessions
}

// dedupeAnchors keeps one event per (device, slot, timestamp), preferring
// the lower kind rank (start beats impression). Input order is preserved
// for the survivors.
func dedupeAnchors(anchors []models.RawEvent) []models.RawEvent {
	seen := make(map[anchorKey]int, len(anchors))
	out := make([]models.RawEvent, 0, len(anchors))

	for _, a := range anchors {
		if !a.Kind.IsAnchor() {
			continue
		}
		k := anchorKey{a.DeviceID, a.SlotIndex, a.Timestamp.UnixNano()}
		if i, dup := seen[k]; dup {
			if a.Kind.Rank() < out[i].Kind.Rank() {
				out[i] = a
			}
			continue
		}
		seen[k] = len(out)
		out = append(out, a)
	}
	return out
}

// claimNearest finds the unclaimed complete in [from, deadline] closest
// to from and marks it claimed. Candidates are sorted by timestamp and
// never precede their anchor, so the first unclaimed candidate in range
// is the nearest.
func claimNearest(candidates []completeCandidate, from, deadline time.Time) (time.Time, bool) {
	for i := range candidates {
		c := &candidates[i]
		if c.claimed || c.at.Before(from) {
			continue
		}
		if c.at.After(deadline) {
			break
		}
		c.claimed = true
		return c.at, true
	}
	return time.Time{}, false
}
