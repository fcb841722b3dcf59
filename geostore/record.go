// Copyright 2026 The didactic-barnacle Authors
// SPDX-License-Identifier: Apache-2.0

package geostore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EntityType identifies a kind of domain record.
type EntityType string

const (
	EntityUser      EntityType = "user"
	EntityTreasure  EntityType = "treasure"
	EntityDiscovery EntityType = "discovery"
)

// Action is the kind of mutation recorded in the sync queue.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// EntryStatus is the lifecycle state of a sync queue entry. Completed
// entries are deleted rather than archived, so there is no terminal
// "completed" row state.
type EntryStatus string

const (
	StatusPending EntryStatus = "pending"
	StatusSyncing EntryStatus = "syncing"
	StatusFailed  EntryStatus = "failed"
)

// Record is the generic envelope stored for every entity. Fields holds the
// kind-specific attributes as JSON; Lat/Lon are denormalized from Fields for
// geo-anchored kinds so bounding-box queries stay cheap.
type Record struct {
	EntityType   EntityType
	ID           string
	Fields       json.RawMessage
	Lat          *float64
	Lon          *float64
	LastModified time.Time
	NeedsSync    bool
	Deleted      bool
	Version      int64
}

// Entry is a durable sync queue row referencing a record by identity.
// Payload is the serialized snapshot captured at enqueue time; the sync
// coordinator re-reads live store state before transmitting and uses the
// snapshot only as a fallback.
type Entry struct {
	ID          string
	EntityType  EntityType
	EntityID    string
	Action      Action
	Payload     json.RawMessage
	Status      EntryStatus
	RetryCount  int
	CreatedAt   time.Time
	LastAttempt time.Time
}

// Treasure is a virtual item anchored to real-world coordinates.
type Treasure struct {
	ID             string     `json:"id"`
	CreatorID      string     `json:"creator_id"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	Hint           string     `json:"hint,omitempty"`
	Latitude       float64    `json:"latitude"`
	Longitude      float64    `json:"longitude"`
	Altitude       float64    `json:"altitude,omitempty"`
	Visibility     string     `json:"visibility"`
	Difficulty     string     `json:"difficulty"`
	Points         int        `json:"points"`
	MaxDiscoveries int        `json:"max_discoveries,omitempty"`
	MediaURL       string     `json:"media_url,omitempty"`
	IsActive       bool       `json:"is_active"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

// Discovery records one user finding one treasure.
type Discovery struct {
	ID                   string    `json:"id"`
	TreasureID           string    `json:"treasure_id"`
	UserID               string    `json:"user_id"`
	DiscoveredAt         time.Time `json:"discovered_at"`
	PhotoURL             string    `json:"photo_url,omitempty"`
	Comment              string    `json:"comment,omitempty"`
	Reaction             string    `json:"reaction,omitempty"`
	PointsEarned         int       `json:"points_earned"`
	TimeToFindSeconds    int       `json:"time_to_find_seconds,omitempty"`
	DistanceFromTreasure float64   `json:"distance_from_treasure,omitempty"`
}

// User is the local profile of a player.
type User struct {
	ID               string       `json:"id"`
	Username         string       `json:"username"`
	Email            string       `json:"email"`
	AvatarURL        string       `json:"avatar_url,omitempty"`
	Bio              string       `json:"bio,omitempty"`
	Level            int          `json:"level"`
	Experience       int          `json:"experience"`
	Points           int          `json:"points"`
	TreasuresCreated int          `json:"treasures_created"`
	TreasuresFound   int          `json:"treasures_found"`
	IsActive         bool         `json:"is_active"`
	JoinedAt         time.Time    `json:"joined_at"`
	Settings         UserSettings `json:"settings"`
}

// UserSettings are per-user preferences synced alongside the profile.
type UserSettings struct {
	NotificationsEnabled   bool    `json:"notifications_enabled"`
	LocationSharingEnabled bool    `json:"location_sharing_enabled"`
	PrivateProfile         bool    `json:"private_profile"`
	DiscoveryRadiusMeters  float64 `json:"discovery_radius_meters"`
}

// NewID returns a new client-side identifier, safe to assign while offline.
func NewID() string {
	return uuid.New().String()
}

// TreasureRecord wraps a treasure into the generic envelope, denormalizing
// its coordinates for bounding-box queries.
func TreasureRecord(t Treasure) (Record, error) {
	fields, err := json.Marshal(t)
	if err != nil {
		return Record{}, fmt.Errorf("failed to marshal treasure fields: %w", err)
	}
	lat, lon := t.Latitude, t.Longitude
	return Record{
		EntityType: EntityTreasure,
		ID:         t.ID,
		Fields:     fields,
		Lat:        &lat,
		Lon:        &lon,
	}, nil
}

// DiscoveryRecord wraps a discovery into the generic envelope.
func DiscoveryRecord(d Discovery) (Record, error) {
	fields, err := json.Marshal(d)
	if err != nil {
		return Record{}, fmt.Errorf("failed to marshal discovery fields: %w", err)
	}
	return Record{EntityType: EntityDiscovery, ID: d.ID, Fields: fields}, nil
}

// UserRecord wraps a user profile into the generic envelope.
func UserRecord(u User) (Record, error) {
	fields, err := json.Marshal(u)
	if err != nil {
		return Record{}, fmt.Errorf("failed to marshal user fields: %w", err)
	}
	return Record{EntityType: EntityUser, ID: u.ID, Fields: fields}, nil
}

// DecodeFields unmarshals the envelope's fields into a typed entity struct.
func DecodeFields(rec Record, v any) error {
	if len(rec.Fields) == 0 {
		return fmt.Errorf("record %s/%s has no fields", rec.EntityType, rec.ID)
	}
	if err := json.Unmarshal(rec.Fields, v); err != nil {
		return fmt.Errorf("failed to decode %s fields: %w", rec.EntityType, err)
	}
	return nil
}

// extractCoordinates pulls latitude/longitude out of a fields payload when
// present, so records applied from the remote service stay queryable by
// bounding box without the caller denormalizing them.
func extractCoordinates(fields json.RawMessage) (lat, lon *float64) {
	if len(fields) == 0 {
		return nil, nil
	}
	var probe struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
	}
	if err := json.Unmarshal(fields, &probe); err != nil {
		return nil, nil
	}
	if probe.Latitude == nil || probe.Longitude == nil {
		return nil, nil
	}
	return probe.Latitude, probe.Longitude
}
