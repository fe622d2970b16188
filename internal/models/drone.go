package models

import "time"

const (
	DroneStatusAvailable   = "AVAILABLE"
	DroneStatusBusy        = "BUSY"
	DroneStatusMaintenance = "MAINTENANCE"
	DroneStatusCharging    = "CHARGING"
	DroneStatusOffline     = "OFFLINE"
)

// MinBatteryForDelivery is the battery percentage below which a drone is not
// claimed for new deliveries even when AVAILABLE.
const MinBatteryForDelivery = 30

type Drone struct {
	ID           uint64 `json:"id"`
	Code         string `json:"code"`
	Name         string `json:"name"`
	Status       string `json:"status"`
	BatteryLevel int    `json:"battery_level"`

	CurrentLat *float64 `json:"current_lat,omitempty"`
	CurrentLng *float64 `json:"current_lng,omitempty"`

	MaxSpeedKmh float64 `json:"max_speed_kmh"`

	TotalDeliveries int     `json:"total_deliveries"`
	TotalDistanceKm float64 `json:"total_distance_km"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type DroneCreateInput struct {
	Code        string
	Name        string
	MaxSpeedKmh float64
}
