// Package transform flattens nested flight payloads into the flat
// FlightRecord column set. Field extraction is deliberately tolerant: a
// missing or malformed source field nulls the column and never drops the row.
package transform

import (
	"encoding/json"
	"time"

	"github.com/araddon/dateparse"
	"github.com/tidwall/gjson"

	"github.com/skymetrics/skymetrics/internal/model"
)

// DefaultOnTimeThreshold mirrors the usual industry definition: an arrival is
// on time when it is at most 15 minutes late.
const DefaultOnTimeThreshold = 15 * time.Minute

// Flattener converts raw flight objects into FlightRecords.
type Flattener struct {
	onTimeThreshold time.Duration
}

// NewFlattener creates a Flattener. A non-positive threshold falls back to
// DefaultOnTimeThreshold.
func NewFlattener(onTimeThreshold time.Duration) *Flattener {
	if onTimeThreshold <= 0 {
		onTimeThreshold = DefaultOnTimeThreshold
	}
	return &Flattener{onTimeThreshold: onTimeThreshold}
}

// Flatten maps one nested flight object to a FlightRecord.
func (f *Flattener) Flatten(raw json.RawMessage) model.FlightRecord {
	r := model.FlightRecord{
		FlightDate:   str(raw, "flight_date"),
		FlightStatus: str(raw, "flight_status"),

		AirlineName: str(raw, "airline.name"),
		AirlineIATA: str(raw, "airline.iata"),
		AirlineICAO: str(raw, "airline.icao"),

		FlightNumber: str(raw, "flight.number"),
		FlightIATA:   str(raw, "flight.iata"),
		FlightICAO:   str(raw, "flight.icao"),

		DepAirport:   str(raw, "departure.airport"),
		DepIATA:      str(raw, "departure.iata"),
		DepICAO:      str(raw, "departure.icao"),
		DepTimezone:  str(raw, "departure.timezone"),
		DepTerminal:  str(raw, "departure.terminal"),
		DepGate:      str(raw, "departure.gate"),
		DepDelay:     integer(raw, "departure.delay"),
		DepScheduled: timestamp(raw, "departure.scheduled"),
		DepEstimated: timestamp(raw, "departure.estimated"),
		DepActual:    timestamp(raw, "departure.actual"),

		ArrAirport:   str(raw, "arrival.airport"),
		ArrIATA:      str(raw, "arrival.iata"),
		ArrICAO:      str(raw, "arrival.icao"),
		ArrTimezone:  str(raw, "arrival.timezone"),
		ArrTerminal:  str(raw, "arrival.terminal"),
		ArrGate:      str(raw, "arrival.gate"),
		ArrBaggage:   str(raw, "arrival.baggage"),
		ArrDelay:     integer(raw, "arrival.delay"),
		ArrScheduled: timestamp(raw, "arrival.scheduled"),
		ArrEstimated: timestamp(raw, "arrival.estimated"),
		ArrActual:    timestamp(raw, "arrival.actual"),

		AircraftRegistration: str(raw, "aircraft.registration"),
		AircraftIATA:         str(raw, "aircraft.iata"),
		AircraftICAO:         str(raw, "aircraft.icao"),
		AircraftICAO24:       str(raw, "aircraft.icao24"),

		LiveUpdated:         timestamp(raw, "live.updated"),
		LiveLatitude:        float(raw, "live.latitude"),
		LiveLongitude:       float(raw, "live.longitude"),
		LiveAltitude:        float(raw, "live.altitude"),
		LiveDirection:       float(raw, "live.direction"),
		LiveSpeedHorizontal: float(raw, "live.speed_horizontal"),
		LiveSpeedVertical:   float(raw, "live.speed_vertical"),
		LiveIsGround:        boolean(raw, "live.is_ground"),
	}

	r.IsOnTime = r.ArrDelay != nil && time.Duration(*r.ArrDelay)*time.Minute <= f.onTimeThreshold

	return r
}

// FlattenAll flattens a batch of raw flight objects.
func (f *Flattener) FlattenAll(raws []json.RawMessage) []model.FlightRecord {
	records := make([]model.FlightRecord, 0, len(raws))
	for _, raw := range raws {
		records = append(records, f.Flatten(raw))
	}
	return records
}

func str(raw json.RawMessage, path string) *string {
	res := gjson.GetBytes(raw, path)
	if !res.Exists() || res.Type == gjson.Null {
		return nil
	}
	s := res.String()
	return &s
}

func integer(raw json.RawMessage, path string) *int64 {
	res := gjson.GetBytes(raw, path)
	if !res.Exists() || res.Type == gjson.Null {
		return nil
	}
	n := res.Int()
	return &n
}

func float(raw json.RawMessage, path string) *float64 {
	res := gjson.GetBytes(raw, path)
	if !res.Exists() || res.Type == gjson.Null {
		return nil
	}
	f := res.Float()
	return &f
}

func boolean(raw json.RawMessage, path string) *bool {
	res := gjson.GetBytes(raw, path)
	if !res.Exists() || res.Type == gjson.Null {
		return nil
	}
	b := res.Bool()
	return &b
}

func timestamp(raw json.RawMessage, path string) *time.Time {
	res := gjson.GetBytes(raw, path)
	if !res.Exists() || res.Type != gjson.String {
		return nil
	}
	t, err := dateparse.ParseAny(res.String())
	if err != nil {
		return nil
	}
	return &t
}
