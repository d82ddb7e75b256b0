package model

import (
	"strings"
	"time"
)

// Flight statuses reported by the flights endpoint.
const (
	StatusScheduled = "scheduled"
	StatusActive    = "active"
	StatusLanded    = "landed"
	StatusCancelled = "cancelled"
	StatusIncident  = "incident"
	StatusDiverted  = "diverted"
)

// KnownStatuses lists the documented flight statuses in display order.
var KnownStatuses = []string{
	StatusScheduled,
	StatusActive,
	StatusLanded,
	StatusCancelled,
	StatusIncident,
	StatusDiverted,
}

// FlightRecord is one observed flight instance, flattened from the nested API
// payload into prefixed scalar columns. Pointer fields are nullable: a missing
// or malformed source field leaves the column nil, it never drops the record.
type FlightRecord struct {
	FlightDate   *string `json:"flight_date"`
	FlightStatus *string `json:"flight_status"`

	AirlineName *string `json:"airline_name"`
	AirlineIATA *string `json:"airline_iata"`
	AirlineICAO *string `json:"airline_icao"`

	FlightNumber *string `json:"flight_number"`
	FlightIATA   *string `json:"flight_iata"`
	FlightICAO   *string `json:"flight_icao"`

	DepAirport   *string    `json:"dep_airport"`
	DepIATA      *string    `json:"dep_iata"`
	DepICAO      *string    `json:"dep_icao"`
	DepTimezone  *string    `json:"dep_timezone"`
	DepTerminal  *string    `json:"dep_terminal"`
	DepGate      *string    `json:"dep_gate"`
	DepDelay     *int64     `json:"dep_delay"`
	DepScheduled *time.Time `json:"dep_scheduled"`
	DepEstimated *time.Time `json:"dep_estimated"`
	DepActual    *time.Time `json:"dep_actual"`

	ArrAirport   *string    `json:"arr_airport"`
	ArrIATA      *string    `json:"arr_iata"`
	ArrICAO      *string    `json:"arr_icao"`
	ArrTimezone  *string    `json:"arr_timezone"`
	ArrTerminal  *string    `json:"arr_terminal"`
	ArrGate      *string    `json:"arr_gate"`
	ArrBaggage   *string    `json:"arr_baggage"`
	ArrDelay     *int64     `json:"arr_delay"`
	ArrScheduled *time.Time `json:"arr_scheduled"`
	ArrEstimated *time.Time `json:"arr_estimated"`
	ArrActual    *time.Time `json:"arr_actual"`

	AircraftRegistration *string `json:"aircraft_registration"`
	AircraftIATA         *string `json:"aircraft_iata"`
	AircraftICAO         *string `json:"aircraft_icao"`
	AircraftICAO24       *string `json:"aircraft_icao24"`

	LiveUpdated         *time.Time `json:"live_updated"`
	LiveLatitude        *float64   `json:"live_latitude"`
	LiveLongitude       *float64   `json:"live_longitude"`
	LiveAltitude        *float64   `json:"live_altitude"`
	LiveDirection       *float64   `json:"live_direction"`
	LiveSpeedHorizontal *float64   `json:"live_speed_horizontal"`
	LiveSpeedVertical   *float64   `json:"live_speed_vertical"`
	LiveIsGround        *bool      `json:"live_is_ground"`

	// IsOnTime is derived at flatten time: true when the arrival delay is
	// known and within the on-time threshold.
	IsOnTime bool `json:"is_on_time"`
}

// Key returns the natural key of the record: airline IATA, flight number and
// scheduled departure time. Missing components collapse to the empty string,
// so records lacking key fields still dedupe deterministically.
func (r *FlightRecord) Key() string {
	parts := []string{
		deref(r.AirlineIATA),
		deref(r.FlightNumber),
	}
	if r.DepScheduled != nil {
		parts = append(parts, r.DepScheduled.UTC().Format(time.RFC3339))
	} else {
		parts = append(parts, "")
	}
	return strings.Join(parts, "|")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
