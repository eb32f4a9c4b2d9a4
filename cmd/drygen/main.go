// drygen seeds a dryerlink database with synthetic history records, useful
// for exercising the sync protocol against a development cloud.
package main

import (
	"context"
	"flag"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dryerlink/log"
	"dryerlink/models"
	"dryerlink/store"
)

func main() {
	dbPath := flag.String("db", "dryerlink.db", "database file to seed")
	count := flag.Int("count", 500, "number of history records to generate")
	serial := flag.String("serial", "DEV-0001", "device serial to stamp on records")
	flag.Parse()

	logger := log.GetInstance()
	defer logger.Sync()

	st, err := store.Open(*dbPath, log.Component("store"))
	if err != nil {
		logger.Fatal("Failed to open database", zap.Error(err))
	}
	defer st.Close()

	ctx := context.Background()
	if err := st.EnsurePartitions(ctx, time.Now()); err != nil {
		logger.Fatal("Failed to ensure partitions", zap.Error(err))
	}

	// One record per minute, walking backwards from now.
	ts := time.Now().Add(-time.Duration(*count) * time.Minute)
	for i := 0; i < *count; i++ {
		rec := record(*serial, ts)
		if err := st.InsertRecord(ctx, rec); err != nil {
			logger.Fatal("Failed to insert record", zap.Error(err))
		}
		ts = ts.Add(time.Minute)
	}

	logger.Info("Seeded history records",
		zap.Int("count", *count), zap.String("db", *dbPath))
}

func record(serial string, ts time.Time) *models.HistoryRecord {
	inlet := round2(18 + rand.Float64()*6)
	outlet := round2(14 + rand.Float64()*3)
	inletTemp := round2(180 + rand.Float64()*40)
	outletTemp := round2(110 + rand.Float64()*20)
	discharge := round2(4000 + rand.Float64()*2000)
	target := 15.0
	apt := round2(-50 + rand.Float64()*100)

	return &models.HistoryRecord{
		DeviceSerial:      serial,
		SyncID:            uuid.NewString(),
		RecordedAt:        ts,
		AggregationStart:  ts.Add(-time.Minute),
		AggregationEnd:    ts,
		Product:           "corn",
		Mode:              "automatic",
		DryerState:        "running",
		InletMoisture:     &inlet,
		OutletMoisture:    &outlet,
		InletTemperature:  &inletTemp,
		OutletTemperature: &outletTemp,
		DischargeRate:     &discharge,
		MoistureTarget:    &target,
		APT:               &apt,
		SampleCount:       60,
		DataQuality:       100,
		SyncStatus:        models.SyncPending,
	}
}

func round2(v float64) float64 {
	return float64(int(v*100)) / 100
}
