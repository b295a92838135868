// Playmetry - Digital Signage Proof-of-Play Aggregation Pipeline
// Copyright 2026 Playmetry contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/doohworks/playmetry

package models

// Dimension master data. These tables are owned by the campaign and device
// management systems; the pipeline reads them by key to denormalize report
// rows and never writes to them.

// CampaignStatusRunning is the status value counted by active_campaigns.
const CampaignStatusRunning = "RUNNING"

// Device is a signage player device.
type Device struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Resolution string `json:"resolution"`
	City       string `json:"city"`
	Timezone   string `json:"timezone"`
}

// Campaign is an advertising campaign booked onto devices.
// CostMicro is a flat per-campaign rate in monetary micro-units
// (1,000,000 micro = 1 unit), not a per-play charge.
type Campaign struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Advertiser string `json:"advertiser"`
	Status     string `json:"status"`
	CostMicro  int64  `json:"cost_micro"`
}

// CreativeAsset is the logical creative booked into a campaign. Duration
// is the configured playback length in seconds; zero means unknown.
type CreativeAsset struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Format      string `json:"format"`
	DurationSec int    `json:"duration_sec"`
}

// CreativeFile is one encoded rendition of a creative, keyed by target
// resolution. The upload UI maintains these; the pipeline only resolves
// the rendition matching a device's resolution for reporting.
type CreativeFile struct {
	ID         string `json:"id"`
	CreativeID string `json:"creative_id"`
	Resolution string `json:"resolution"`
	URL        string `json:"url"`
}

// DimensionSet holds the denormalized attributes captured onto a report
// row at aggregation time. All fields are nullable: a permanently missing
// dimension degrades the row's labels, never drops the row.
type DimensionSet struct {
	DeviceName          *string `json:"device_name,omitempty"`
	DeviceResolution    *string `json:"device_resolution,omitempty"`
	DeviceCity          *string `json:"device_city,omitempty"`
	CampaignName        *string `json:"campaign_name,omitempty"`
	CampaignStatus      *string `json:"campaign_status,omitempty"`
	CostMicro           *int64  `json:"cost_micro,omitempty"`
	CreativeName        *string `json:"creative_name,omitempty"`
	CreativeFormat      *string `json:"creative_format,omitempty"`
	CreativeDurationSec *int    `json:"creative_duration_sec,omitempty"`
	CreativeFileURL     *string `json:"creative_file_url,omitempty"`
}
