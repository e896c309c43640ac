package models

// Position is a single immutable location sample. Timestamp is
// milliseconds since the epoch, matching what mobile clients send.
type Position struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Timestamp int64   `json:"ts"`
}

// PresenceRecord is the single current location of an identity.
// It is overwritten wholesale on every update (last write wins).
type PresenceRecord struct {
	Identity  string  `json:"identity"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Timestamp int64   `json:"ts"`
}

type AlertKind string

const (
	AlertSOS        AlertKind = "SOS"
	AlertUserPost   AlertKind = "USER_POST"
	AlertCabWarning AlertKind = "CAB_WARNING"
)

// Alert is an author-owned community safety post. Coordinates are
// pointers because an alert may be raised before any fix is known
// (unverified cab boarded indoors, for example).
type Alert struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	Kind      AlertKind `json:"kind"`
	Message   string    `json:"msg"`
	Lat       *float64  `json:"lat"`
	Lng       *float64  `json:"lng"`
	Timestamp int64     `json:"ts"`
}

// RegistryEntry is the curated driver/vehicle metadata behind a
// normalized vehicle id. Rating stays a string so the placeholder
// "N/A" round-trips unchanged.
type RegistryEntry struct {
	DriverName string `json:"driver_name"`
	Company    string `json:"company"`
	Rating     string `json:"rating"`
	Phone      string `json:"phone"`
}

type TripStatus string

const (
	TripActive     TripStatus = "active"
	TripUnverified TripStatus = "unverified"
	TripCompleted  TripStatus = "completed"
)

// Trip records one verification/ride session. Verified and Driver are
// a point-in-time snapshot taken when the trip is created; later
// registry edits do not flow back into existing trips.
type Trip struct {
	ID        string        `json:"id"`
	Identity  string        `json:"identity"`
	VehicleID string        `json:"vehicle_id"`
	Verified  bool          `json:"verified"`
	StartTime int64         `json:"start_time"`
	Status    TripStatus    `json:"status"`
	Driver    RegistryEntry `json:"driver"`
	Feedback  string        `json:"feedback,omitempty"`
}

// HazardZone is a static per-area hazard descriptor loaded at startup.
type HazardZone struct {
	Name     string  `json:"name"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	RadiusM  float64 `json:"radius_m"`
	Severity string  `json:"severity"`
}
