package snapshot

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"

	"github.com/rudderlabs/rudder-go-kit/config"

	"github.com/skymetrics/skymetrics/internal/model"
)

func sampleRecords() []model.FlightRecord {
	depScheduled := time.Date(2025, 8, 20, 8, 15, 0, 0, time.UTC)
	arrDelay := int64(5)
	lat := -2.55
	grounded := false

	return []model.FlightRecord{
		{
			FlightDate:   lo.ToPtr("2025-08-20"),
			FlightStatus: lo.ToPtr(model.StatusLanded),
			AirlineName:  lo.ToPtr("Garuda Indonesia"),
			AirlineIATA:  lo.ToPtr("GA"),
			FlightNumber: lo.ToPtr("832"),
			DepIATA:      lo.ToPtr("CGK"),
			DepScheduled: &depScheduled,
			ArrIATA:      lo.ToPtr("SIN"),
			ArrDelay:     &arrDelay,
			LiveLatitude: &lat,
			LiveIsGround: &grounded,
			IsOnTime:     true,
		},
		{
			// Sparse record: everything nullable stays nil.
			FlightStatus: lo.ToPtr(model.StatusScheduled),
			AirlineIATA:  lo.ToPtr("NH"),
			FlightNumber: lo.ToPtr("821"),
		},
	}
}

func TestSnapshotRoundtrip(t *testing.T) {
	w := NewWriter(config.New())
	path := filepath.Join(t.TempDir(), "flights.parquet")

	records := sampleRecords()
	require.NoError(t, w.WriteFile(path, records))

	got, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, got, len(records))

	full := got[0]
	require.NotNil(t, full.FlightDate)
	require.Equal(t, "2025-08-20", *full.FlightDate)
	require.NotNil(t, full.AirlineName)
	require.Equal(t, "Garuda Indonesia", *full.AirlineName)
	require.NotNil(t, full.DepScheduled)
	require.Equal(t, records[0].DepScheduled.UTC(), full.DepScheduled.UTC())
	require.NotNil(t, full.ArrDelay)
	require.EqualValues(t, 5, *full.ArrDelay)
	require.NotNil(t, full.LiveLatitude)
	require.InDelta(t, -2.55, *full.LiveLatitude, 1e-9)
	require.NotNil(t, full.LiveIsGround)
	require.False(t, *full.LiveIsGround)
	require.True(t, full.IsOnTime)

	sparse := got[1]
	require.Nil(t, sparse.FlightDate)
	require.Nil(t, sparse.DepScheduled)
	require.Nil(t, sparse.ArrDelay)
	require.Nil(t, sparse.LiveLatitude)
	require.Nil(t, sparse.LiveIsGround)
	require.False(t, sparse.IsOnTime)
	require.NotNil(t, sparse.AirlineIATA)
	require.Equal(t, "NH", *sparse.AirlineIATA)
}

func TestWriteFileReplacesAtomically(t *testing.T) {
	w := NewWriter(config.New())
	dir := t.TempDir()
	path := filepath.Join(dir, "flights.parquet")

	require.NoError(t, w.WriteFile(path, sampleRecords()))
	require.NoError(t, w.WriteFile(path, sampleRecords()[:1]))

	got, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, got, 1)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temporary files left behind")
}

func TestWriteFileEmptyDataset(t *testing.T) {
	w := NewWriter(config.New())
	path := filepath.Join(t.TempDir(), "nested", "dir", "flights.parquet")

	require.NoError(t, w.WriteFile(path, nil))

	got, err := ReadFile(path)
	require.NoError(t, err)
	require.Empty(t, got)
}
