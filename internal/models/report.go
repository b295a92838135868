// Playmetry - Digital Signage Proof-of-Play Aggregation Pipeline
// Copyright 2026 Playmetry contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doohworks/playmetry

package models

import "time"

// ReportKey is the dimension tuple report rows are grouped by.
type ReportKey struct {
	DeviceID   string `json:"device_id"`
	CampaignID string `json:"campaign_id"`
	CreativeID string `json:"creative_id"`
	PlaylistID string `json:"playlist_id"`
	SlotIndex  int    `json:"slot_index"`
}

// ReportRow is one row of dooh_report_hourly or dooh_report_daily.
//
// The two tables carry an identical column set; the hourly table
// additionally stores StatHour (0-23). The daily roll-up depends on that
// equivalence: it re-aggregates hourly rows without any schema
// transformation. StatHour is nil on daily rows.
//
// Metric semantics:
//   - Impressions, Completes, PlaySeconds: additive across hours.
//   - UptimePct: the device's whole-day uptime at aggregation time,
//     broadcast across that day's hourly rows; MAX across hours daily.
//   - Cost: CostMicro / 1,000,000, a flat rate, never summed.
//   - ActiveCampaigns: distinct campaigns in the group whose status is
//     RUNNING.
type ReportRow struct {
	StatDate time.Time `json:"stat_date"`
	StatHour *int      `json:"stat_hour,omitempty"`

	ReportKey

	Impressions     int64   `json:"impressions"`
	Completes       int64   `json:"completes"`
	PlaySeconds     int64   `json:"play_seconds"`
	UptimePct       float64 `json:"uptime_pct"`
	Cost            float64 `json:"cost"`
	ActiveCampaigns int64   `json:"active_campaigns"`

	DimensionSet
}

// CostScale converts monetary micro-units to whole units.
const CostScale = 1_000_000

// HourStart returns the truncated-hour timestamp of an hourly row.
// Only meaningful when StatHour is set.
func (r *ReportRow) HourStart() time.Time {
	hour := 0
	if r.StatHour != nil {
		hour = *r.StatHour
	}
	return time.Date(r.StatDate.Year(), r.StatDate.Month(), r.StatDate.Day(), hour, 0, 0, 0, time.UTC)
}
