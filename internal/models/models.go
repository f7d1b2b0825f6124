package models

import (
	"fmt"
	"time"
)

// Mission statuses
const (
	MissionPending    = "pending"
	MissionInProgress = "in_progress"
	MissionCompleted  = "completed"
	MissionCancelled  = "cancelled"
)

// Mission fleet mission record
type Mission struct {
	ID              string     `json:"id" db:"id"`
	Reference       string     `json:"reference" db:"reference"`
	Status          string     `json:"status" db:"status"`
	PickupAddress   string     `json:"pickup_address,omitempty" db:"pickup_address"`
	DeliveryAddress string     `json:"delivery_address,omitempty" db:"delivery_address"`
	DeliveryLat     *float64   `json:"delivery_lat,omitempty" db:"delivery_lat"`
	DeliveryLng     *float64   `json:"delivery_lng,omitempty" db:"delivery_lng"`
	StartedAt       *time.Time `json:"started_at,omitempty" db:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// Terminal reports whether the mission can no longer produce positions.
func (m *Mission) Terminal() bool {
	return m.Status == MissionCompleted || m.Status == MissionCancelled
}

// PositionSample single GPS fix from the device
type PositionSample struct {
	ID         string    `json:"id" db:"id"`
	MissionID  string    `json:"mission_id" db:"mission_id"`
	Latitude   float64   `json:"latitude" db:"latitude"`
	Longitude  float64   `json:"longitude" db:"longitude"`
	Speed      *float64  `json:"speed,omitempty" db:"speed"`       // m/s
	Heading    *float64  `json:"heading,omitempty" db:"heading"`   // degrees [0,360)
	Accuracy   *float64  `json:"accuracy,omitempty" db:"accuracy"` // meters
	RecordedAt time.Time `json:"recorded_at" db:"recorded_at"`
}

// Validate rejects malformed samples at the API boundary.
func (p *PositionSample) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("sample id is required")
	}
	if p.MissionID == "" {
		return fmt.Errorf("mission id is required")
	}
	if p.Latitude < -90 || p.Latitude > 90 {
		return fmt.Errorf("latitude out of range: %v", p.Latitude)
	}
	if p.Longitude < -180 || p.Longitude > 180 {
		return fmt.Errorf("longitude out of range: %v", p.Longitude)
	}
	if p.Heading != nil && (*p.Heading < 0 || *p.Heading >= 360) {
		return fmt.Errorf("heading out of range: %v", *p.Heading)
	}
	if p.RecordedAt.IsZero() {
		return fmt.Errorf("recorded_at is required")
	}
	return nil
}

// SpeedMps returns the recorded speed, or 0 when absent.
func (p *PositionSample) SpeedMps() float64 {
	if p.Speed == nil {
		return 0
	}
	return *p.Speed
}

// ShareToken public tracking link credential
type ShareToken struct {
	Token       string    `json:"token" db:"token"`
	MissionID   string    `json:"mission_id" db:"mission_id"`
	IsActive    bool      `json:"is_active" db:"is_active"`
	ExpiresAt   time.Time `json:"expires_at" db:"expires_at"`
	AccessCount int       `json:"access_count" db:"access_count"`
	MaxAccesses int       `json:"max_accesses" db:"max_accesses"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Usable reports whether the token would grant access at the given time.
func (t *ShareToken) Usable(now time.Time) bool {
	return t.IsActive && now.Before(t.ExpiresAt) && t.AccessCount < t.MaxAccesses
}

// Address reverse-geocoded place for a position
type Address struct {
	FormattedAddress string `json:"formatted_address"`
	Country          string `json:"country,omitempty"`
	State            string `json:"state,omitempty"`
	City             string `json:"city,omitempty"`
	Suburb           string `json:"suburb,omitempty"`
	Road             string `json:"road,omitempty"`
	Postcode         string `json:"postcode,omitempty"`
}

// RouteEstimate remaining distance and ETA, derived per request
type RouteEstimate struct {
	MissionID       string    `json:"mission_id"`
	DistanceMeters  float64   `json:"distance_meters"`
	DurationSeconds float64   `json:"duration_seconds"`
	RoadRouted      bool      `json:"road_routed"` // false = geometric fallback
	ComputedAt      time.Time `json:"computed_at"`
}

// ETA returns the absolute arrival time implied by the estimate.
func (e *RouteEstimate) ETA() time.Time {
	return e.ComputedAt.Add(time.Duration(e.DurationSeconds * float64(time.Second)))
}
