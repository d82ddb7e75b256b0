// Package snapshot reads and writes the columnar flight dataset: one Parquet
// file holding every record of the latest ETL run, replaced atomically on
// each run.
package snapshot

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/types"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/rudderlabs/rudder-go-kit/bytesize"
	"github.com/rudderlabs/rudder-go-kit/config"

	"github.com/skymetrics/skymetrics/internal/model"
)

type flightParquet struct {
	FlightDate   *string `parquet:"name=flight_date, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	FlightStatus *string `parquet:"name=flight_status, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`

	AirlineName *string `parquet:"name=airline_name, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	AirlineIATA *string `parquet:"name=airline_iata, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	AirlineICAO *string `parquet:"name=airline_icao, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`

	FlightNumber *string `parquet:"name=flight_number, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	FlightIATA   *string `parquet:"name=flight_iata, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	FlightICAO   *string `parquet:"name=flight_icao, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`

	DepAirport   *string `parquet:"name=dep_airport, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	DepIATA      *string `parquet:"name=dep_iata, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	DepICAO      *string `parquet:"name=dep_icao, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	DepTimezone  *string `parquet:"name=dep_timezone, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	DepTerminal  *string `parquet:"name=dep_terminal, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	DepGate      *string `parquet:"name=dep_gate, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	DepDelay     *int64  `parquet:"name=dep_delay, type=INT64, repetitiontype=OPTIONAL"`
	DepScheduled *int64  `parquet:"name=dep_scheduled, type=INT64, convertedtype=TIMESTAMP_MICROS, repetitiontype=OPTIONAL"`
	DepEstimated *int64  `parquet:"name=dep_estimated, type=INT64, convertedtype=TIMESTAMP_MICROS, repetitiontype=OPTIONAL"`
	DepActual    *int64  `parquet:"name=dep_actual, type=INT64, convertedtype=TIMESTAMP_MICROS, repetitiontype=OPTIONAL"`

	ArrAirport   *string `parquet:"name=arr_airport, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	ArrIATA      *string `parquet:"name=arr_iata, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	ArrICAO      *string `parquet:"name=arr_icao, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	ArrTimezone  *string `parquet:"name=arr_timezone, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	ArrTerminal  *string `parquet:"name=arr_terminal, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	ArrGate      *string `parquet:"name=arr_gate, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	ArrBaggage   *string `parquet:"name=arr_baggage, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	ArrDelay     *int64  `parquet:"name=arr_delay, type=INT64, repetitiontype=OPTIONAL"`
	ArrScheduled *int64  `parquet:"name=arr_scheduled, type=INT64, convertedtype=TIMESTAMP_MICROS, repetitiontype=OPTIONAL"`
	ArrEstimated *int64  `parquet:"name=arr_estimated, type=INT64, convertedtype=TIMESTAMP_MICROS, repetitiontype=OPTIONAL"`
	ArrActual    *int64  `parquet:"name=arr_actual, type=INT64, convertedtype=TIMESTAMP_MICROS, repetitiontype=OPTIONAL"`

	AircraftRegistration *string `parquet:"name=aircraft_registration, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	AircraftIATA         *string `parquet:"name=aircraft_iata, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	AircraftICAO         *string `parquet:"name=aircraft_icao, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	AircraftICAO24       *string `parquet:"name=aircraft_icao24, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`

	LiveUpdated         *int64   `parquet:"name=live_updated, type=INT64, convertedtype=TIMESTAMP_MICROS, repetitiontype=OPTIONAL"`
	LiveLatitude        *float64 `parquet:"name=live_latitude, type=DOUBLE, repetitiontype=OPTIONAL"`
	LiveLongitude       *float64 `parquet:"name=live_longitude, type=DOUBLE, repetitiontype=OPTIONAL"`
	LiveAltitude        *float64 `parquet:"name=live_altitude, type=DOUBLE, repetitiontype=OPTIONAL"`
	LiveDirection       *float64 `parquet:"name=live_direction, type=DOUBLE, repetitiontype=OPTIONAL"`
	LiveSpeedHorizontal *float64 `parquet:"name=live_speed_horizontal, type=DOUBLE, repetitiontype=OPTIONAL"`
	LiveSpeedVertical   *float64 `parquet:"name=live_speed_vertical, type=DOUBLE, repetitiontype=OPTIONAL"`
	LiveIsGround        *bool    `parquet:"name=live_is_ground, type=BOOLEAN, repetitiontype=OPTIONAL"`

	IsOnTime bool `parquet:"name=is_on_time, type=BOOLEAN"`
}

func toParquet(r model.FlightRecord) flightParquet {
	return flightParquet{
		FlightDate:   r.FlightDate,
		FlightStatus: r.FlightStatus,

		AirlineName: r.AirlineName,
		AirlineIATA: r.AirlineIATA,
		AirlineICAO: r.AirlineICAO,

		FlightNumber: r.FlightNumber,
		FlightIATA:   r.FlightIATA,
		FlightICAO:   r.FlightICAO,

		DepAirport:   r.DepAirport,
		DepIATA:      r.DepIATA,
		DepICAO:      r.DepICAO,
		DepTimezone:  r.DepTimezone,
		DepTerminal:  r.DepTerminal,
		DepGate:      r.DepGate,
		DepDelay:     r.DepDelay,
		DepScheduled: timestampMicros(r.DepScheduled),
		DepEstimated: timestampMicros(r.DepEstimated),
		DepActual:    timestampMicros(r.DepActual),

		ArrAirport:   r.ArrAirport,
		ArrIATA:      r.ArrIATA,
		ArrICAO:      r.ArrICAO,
		ArrTimezone:  r.ArrTimezone,
		ArrTerminal:  r.ArrTerminal,
		ArrGate:      r.ArrGate,
		ArrBaggage:   r.ArrBaggage,
		ArrDelay:     r.ArrDelay,
		ArrScheduled: timestampMicros(r.ArrScheduled),
		ArrEstimated: timestampMicros(r.ArrEstimated),
		ArrActual:    timestampMicros(r.ArrActual),

		AircraftRegistration: r.AircraftRegistration,
		AircraftIATA:         r.AircraftIATA,
		AircraftICAO:         r.AircraftICAO,
		AircraftICAO24:       r.AircraftICAO24,

		LiveUpdated:         timestampMicros(r.LiveUpdated),
		LiveLatitude:        r.LiveLatitude,
		LiveLongitude:       r.LiveLongitude,
		LiveAltitude:        r.LiveAltitude,
		LiveDirection:       r.LiveDirection,
		LiveSpeedHorizontal: r.LiveSpeedHorizontal,
		LiveSpeedVertical:   r.LiveSpeedVertical,
		LiveIsGround:        r.LiveIsGround,

		IsOnTime: r.IsOnTime,
	}
}

func fromParquet(p flightParquet) model.FlightRecord {
	return model.FlightRecord{
		FlightDate:   p.FlightDate,
		FlightStatus: p.FlightStatus,

		AirlineName: p.AirlineName,
		AirlineIATA: p.AirlineIATA,
		AirlineICAO: p.AirlineICAO,

		FlightNumber: p.FlightNumber,
		FlightIATA:   p.FlightIATA,
		FlightICAO:   p.FlightICAO,

		DepAirport:   p.DepAirport,
		DepIATA:      p.DepIATA,
		DepICAO:      p.DepICAO,
		DepTimezone:  p.DepTimezone,
		DepTerminal:  p.DepTerminal,
		DepGate:      p.DepGate,
		DepDelay:     p.DepDelay,
		DepScheduled: timeFromMicros(p.DepScheduled),
		DepEstimated: timeFromMicros(p.DepEstimated),
		DepActual:    timeFromMicros(p.DepActual),

		ArrAirport:   p.ArrAirport,
		ArrIATA:      p.ArrIATA,
		ArrICAO:      p.ArrICAO,
		ArrTimezone:  p.ArrTimezone,
		ArrTerminal:  p.ArrTerminal,
		ArrGate:      p.ArrGate,
		ArrBaggage:   p.ArrBaggage,
		ArrDelay:     p.ArrDelay,
		ArrScheduled: timeFromMicros(p.ArrScheduled),
		ArrEstimated: timeFromMicros(p.ArrEstimated),
		ArrActual:    timeFromMicros(p.ArrActual),

		AircraftRegistration: p.AircraftRegistration,
		AircraftIATA:         p.AircraftIATA,
		AircraftICAO:         p.AircraftICAO,
		AircraftICAO24:       p.AircraftICAO24,

		LiveUpdated:         timeFromMicros(p.LiveUpdated),
		LiveLatitude:        p.LiveLatitude,
		LiveLongitude:       p.LiveLongitude,
		LiveAltitude:        p.LiveAltitude,
		LiveDirection:       p.LiveDirection,
		LiveSpeedHorizontal: p.LiveSpeedHorizontal,
		LiveSpeedVertical:   p.LiveSpeedVertical,
		LiveIsGround:        p.LiveIsGround,

		IsOnTime: p.IsOnTime,
	}
}

func timestampMicros(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	micros := types.TimeToTIMESTAMP_MICROS(*t, true)
	return &micros
}

func timeFromMicros(micros *int64) *time.Time {
	if micros == nil {
		return nil
	}
	t := types.TIMESTAMP_MICROSToTime(*micros, true)
	return &t
}

// Writer serializes flight records to Parquet.
type Writer struct {
	config struct {
		parallelWriters int64
		rowGroupSize    int64
		pageSize        int64
	}
}

// NewWriter creates a snapshot Writer.
func NewWriter(conf *config.Config) *Writer {
	w := &Writer{}
	w.config.parallelWriters = conf.GetInt64("Snapshot.parquetParallelWriters", 4)
	w.config.rowGroupSize = conf.GetInt64("Snapshot.parquetRowGroupSizeInMB", 128)
	w.config.pageSize = conf.GetInt64("Snapshot.parquetPageSizeInKB", 8)
	return w
}

// Write writes the records as SNAPPY-compressed Parquet.
func (w *Writer) Write(wr io.Writer, records []model.FlightRecord) error {
	pw, err := writer.NewParquetWriterFromWriter(wr, new(flightParquet), w.config.parallelWriters)
	if err != nil {
		return fmt.Errorf("creating parquet writer: %w", err)
	}

	pw.RowGroupSize = w.config.rowGroupSize * bytesize.MB
	pw.PageSize = w.config.pageSize * bytesize.KB
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, r := range records {
		if err = pw.Write(toParquet(r)); err != nil {
			return fmt.Errorf("writing to parquet writer: %w", err)
		}
	}
	if err = pw.WriteStop(); err != nil {
		return fmt.Errorf("stopping parquet writer: %w", err)
	}
	return nil
}

// WriteFile replaces the snapshot at path with the given records. The file is
// written to a temporary sibling and renamed into place, so readers either see
// the previous snapshot or the complete new one.
func (w *Writer) WriteFile(path string, records []model.FlightRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temporary snapshot file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err = w.Write(tmp, records); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("closing temporary snapshot file: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing snapshot: %w", err)
	}
	return nil
}

// ReadFile loads every record of the snapshot at path.
func ReadFile(path string) ([]model.FlightRecord, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot: %w", err)
	}
	defer func() { _ = fr.Close() }()

	pr, err := reader.NewParquetReader(fr, new(flightParquet), 4)
	if err != nil {
		return nil, fmt.Errorf("creating parquet reader: %w", err)
	}
	defer pr.ReadStop()

	num := int(pr.GetNumRows())
	records := make([]model.FlightRecord, 0, num)
	for num > 0 {
		batch := num
		if batch > 1000 {
			batch = 1000
		}
		rows := make([]flightParquet, batch)
		if err = pr.Read(&rows); err != nil {
			return nil, fmt.Errorf("reading parquet rows: %w", err)
		}
		for _, row := range rows {
			records = append(records, fromParquet(row))
		}
		num -= batch
	}
	return records, nil
}
