package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/skymetrics/skymetrics/internal/model"
)

const flightsTableName = "fact_flights"

const flightColumns = `
	flight_key,
	flight_date,
	flight_status,
	airline_name,
	airline_iata,
	airline_icao,
	flight_number,
	flight_iata,
	flight_icao,
	dep_airport,
	dep_iata,
	dep_icao,
	dep_timezone,
	dep_terminal,
	dep_gate,
	dep_delay,
	dep_scheduled,
	dep_estimated,
	dep_actual,
	arr_airport,
	arr_iata,
	arr_icao,
	arr_timezone,
	arr_terminal,
	arr_gate,
	arr_baggage,
	arr_delay,
	arr_scheduled,
	arr_estimated,
	arr_actual,
	aircraft_registration,
	aircraft_iata,
	aircraft_icao,
	aircraft_icao24,
	live_updated,
	live_latitude,
	live_longitude,
	live_altitude,
	live_direction,
	live_speed_horizontal,
	live_speed_vertical,
	live_is_ground,
	is_on_time,
	updated_at
`

// Flights is a repository for the flights fact table.
type Flights struct {
	db  *DB
	now func() time.Time
}

// NewFlights creates a Flights repository.
func NewFlights(db *DB) *Flights {
	return &Flights{
		db:  db,
		now: time.Now,
	}
}

// Upsert inserts the records, replacing any row that already exists under the
// same natural key. It returns the number of distinct keys written.
func (f *Flights) Upsert(ctx context.Context, records []model.FlightRecord) (int, error) {
	txn, err := f.db.handle.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = txn.Rollback()
		}
	}()

	stmt, err := txn.PrepareContext(ctx, `
		INSERT INTO `+flightsTableName+` (`+flightColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
		        ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (flight_key) DO UPDATE SET
			flight_date           = excluded.flight_date,
			flight_status         = excluded.flight_status,
			airline_name          = excluded.airline_name,
			airline_iata          = excluded.airline_iata,
			airline_icao          = excluded.airline_icao,
			flight_number         = excluded.flight_number,
			flight_iata           = excluded.flight_iata,
			flight_icao           = excluded.flight_icao,
			dep_airport           = excluded.dep_airport,
			dep_iata              = excluded.dep_iata,
			dep_icao              = excluded.dep_icao,
			dep_timezone          = excluded.dep_timezone,
			dep_terminal          = excluded.dep_terminal,
			dep_gate              = excluded.dep_gate,
			dep_delay             = excluded.dep_delay,
			dep_scheduled         = excluded.dep_scheduled,
			dep_estimated         = excluded.dep_estimated,
			dep_actual            = excluded.dep_actual,
			arr_airport           = excluded.arr_airport,
			arr_iata              = excluded.arr_iata,
			arr_icao              = excluded.arr_icao,
			arr_timezone          = excluded.arr_timezone,
			arr_terminal          = excluded.arr_terminal,
			arr_gate              = excluded.arr_gate,
			arr_baggage           = excluded.arr_baggage,
			arr_delay             = excluded.arr_delay,
			arr_scheduled         = excluded.arr_scheduled,
			arr_estimated         = excluded.arr_estimated,
			arr_actual            = excluded.arr_actual,
			aircraft_registration = excluded.aircraft_registration,
			aircraft_iata         = excluded.aircraft_iata,
			aircraft_icao         = excluded.aircraft_icao,
			aircraft_icao24       = excluded.aircraft_icao24,
			live_updated          = excluded.live_updated,
			live_latitude         = excluded.live_latitude,
			live_longitude        = excluded.live_longitude,
			live_altitude         = excluded.live_altitude,
			live_direction        = excluded.live_direction,
			live_speed_horizontal = excluded.live_speed_horizontal,
			live_speed_vertical   = excluded.live_speed_vertical,
			live_is_ground        = excluded.live_is_ground,
			is_on_time            = excluded.is_on_time,
			updated_at            = excluded.updated_at`)
	if err != nil {
		return 0, fmt.Errorf("preparing upsert statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := f.now().UTC()
	written := make(map[string]struct{}, len(records))
	for i := range records {
		r := &records[i]
		key := r.Key()
		if _, err = stmt.ExecContext(ctx,
			key,
			r.FlightDate,
			r.FlightStatus,
			r.AirlineName,
			r.AirlineIATA,
			r.AirlineICAO,
			r.FlightNumber,
			r.FlightIATA,
			r.FlightICAO,
			r.DepAirport,
			r.DepIATA,
			r.DepICAO,
			r.DepTimezone,
			r.DepTerminal,
			r.DepGate,
			r.DepDelay,
			r.DepScheduled,
			r.DepEstimated,
			r.DepActual,
			r.ArrAirport,
			r.ArrIATA,
			r.ArrICAO,
			r.ArrTimezone,
			r.ArrTerminal,
			r.ArrGate,
			r.ArrBaggage,
			r.ArrDelay,
			r.ArrScheduled,
			r.ArrEstimated,
			r.ArrActual,
			r.AircraftRegistration,
			r.AircraftIATA,
			r.AircraftICAO,
			r.AircraftICAO24,
			r.LiveUpdated,
			r.LiveLatitude,
			r.LiveLongitude,
			r.LiveAltitude,
			r.LiveDirection,
			r.LiveSpeedHorizontal,
			r.LiveSpeedVertical,
			r.LiveIsGround,
			r.IsOnTime,
			now,
		); err != nil {
			return 0, fmt.Errorf("upserting flight %s: %w", key, err)
		}
		written[key] = struct{}{}
	}

	if err = txn.Commit(); err != nil {
		return 0, fmt.Errorf("committing upsert: %w", err)
	}
	return len(written), nil
}

// Count returns the number of rows in the flights fact table.
func (f *Flights) Count(ctx context.Context) (int64, error) {
	var count int64
	err := f.db.handle.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+flightsTableName).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting flights: %w", err)
	}
	return count, nil
}

// DeleteUpdatedBefore removes rows last touched before the cutoff. The loader
// uses it to drop keys that disappeared from the remote dataset, keeping the
// fact table a mirror of the latest snapshot.
func (f *Flights) DeleteUpdatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := f.db.handle.ExecContext(ctx,
		`DELETE FROM `+flightsTableName+` WHERE updated_at < ?`, cutoff.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning stale flights: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting pruned flights: %w", err)
	}
	return deleted, nil
}

// GetStatus returns the flight status stored under the given natural key.
func (f *Flights) GetStatus(ctx context.Context, key string) (string, error) {
	var status sql.NullString
	err := f.db.handle.QueryRowContext(ctx,
		`SELECT flight_status FROM `+flightsTableName+` WHERE flight_key = ?`, key,
	).Scan(&status)
	if err != nil {
		return "", fmt.Errorf("fetching flight %s: %w", key, err)
	}
	return status.String, nil
}
