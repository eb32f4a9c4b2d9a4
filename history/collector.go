package history

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dryerlink/config"
	"dryerlink/models"
	"dryerlink/store"
)

// Source provides one reading per configured channel, keyed by channel
// name. Channels the controller did not report are absent from the map.
type Source interface {
	Sample(ctx context.Context, channels []config.Channel) (map[string]float64, error)
}

// Mode and dryer-state codes of the DM2500i controller.
var modeNames = map[int]string{
	10: "local",
	11: "manual",
	12: "automatic",
}

var dryerStateNames = map[int]string{
	0: "standby",
	1: "primed",
	2: "idle run",
	3: "preheat",
	4: "running",
	5: "unloading",
}

// Collector samples the controller once per second and rolls every full
// window of samples into one HistoryRecord. Analog readings outside the
// channel's plausible range are discarded, not clamped; the per-window
// aggregate is an outlier-rejecting average. Code channels resolve to the
// most frequent code of the window, mapped through the name tables.
type Collector struct {
	source           Source
	store            *store.Store
	channels         []config.Channel
	serial           func() string
	sampleInterval   time.Duration
	windowSize       int
	partitionRecheck time.Duration
	logger           *zap.Logger

	analog      map[string][]float64
	codes       map[string][]int
	windowStart time.Time
	ticks       int
}

func NewCollector(source Source, st *store.Store, channels []config.Channel, serial func() string, cfg *config.Config, logger *zap.Logger) *Collector {
	return &Collector{
		source:           source,
		store:            st,
		channels:         channels,
		serial:           serial,
		sampleInterval:   cfg.SampleInterval,
		windowSize:       cfg.AggregationWindow,
		partitionRecheck: cfg.PartitionRecheck,
		logger:           logger,
		analog:           make(map[string][]float64),
		codes:            make(map[string][]int),
	}
}

// Run samples until ctx ends. Partitions for the current and next month are
// ensured up front and rechecked periodically so month rollover never races
// an insert.
func (c *Collector) Run(ctx context.Context) {
	if err := c.store.EnsurePartitions(ctx, time.Now()); err != nil {
		c.logger.Error("Failed to ensure history partitions", zap.Error(err))
	}

	c.windowStart = time.Now()
	sampler := time.NewTicker(c.sampleInterval)
	defer sampler.Stop()
	partitions := time.NewTicker(c.partitionRecheck)
	defer partitions.Stop()

	c.logger.Info("History collector started",
		zap.Duration("interval", c.sampleInterval),
		zap.Int("window", c.windowSize))

	for {
		select {
		case <-ctx.Done():
			return
		case <-partitions.C:
			if err := c.store.EnsurePartitions(ctx, time.Now()); err != nil {
				c.logger.Error("Failed to ensure history partitions", zap.Error(err))
			}
		case <-sampler.C:
			c.sample(ctx)
			if c.ticks >= c.windowSize {
				c.emit(ctx)
			}
		}
	}
}

func (c *Collector) sample(ctx context.Context) {
	// A failed fetch contributes nothing to the window: only collected
	// samples advance the counter that drives sample_count and quality.
	readings, err := c.source.Sample(ctx, c.channels)
	if err != nil {
		c.logger.Debug("Sample fetch failed", zap.Error(err))
		return
	}

	for _, ch := range c.channels {
		v, ok := readings[ch.Name]
		if !ok {
			continue
		}
		switch ch.Kind {
		case config.ChannelCode:
			c.codes[ch.Name] = append(c.codes[ch.Name], int(v))
		default:
			if v < ch.Min || v > ch.Max {
				c.logger.Debug("Discarding out-of-range sample",
					zap.String("channel", ch.Name), zap.Float64("value", v))
				continue
			}
			c.analog[ch.Name] = append(c.analog[ch.Name], v)
		}
	}
	c.ticks++
}

// emit rolls the current window into one record and resets the buffers.
func (c *Collector) emit(ctx context.Context) {
	now := time.Now()
	quality := 0
	if c.windowSize > 0 {
		quality = int(math.Round(float64(c.ticks) / float64(c.windowSize) * 100))
	}

	rec := &models.HistoryRecord{
		DeviceSerial:     c.serial(),
		SyncID:           uuid.NewString(),
		RecordedAt:       now,
		AggregationStart: c.windowStart,
		AggregationEnd:   now,
		Product:          "corn",
		Mode:             codeName(dominantCode(c.codes["mode"]), modeNames),
		DryerState:       codeName(dominantCode(c.codes["dryer_state"]), dryerStateNames),

		InletMoisture:     robustAverage(c.analog["inlet_moisture"]),
		OutletMoisture:    robustAverage(c.analog["outlet_moisture"]),
		InletTemperature:  robustAverage(c.analog["inlet_temperature"]),
		OutletTemperature: robustAverage(c.analog["outlet_temperature"]),
		DischargeRate:     robustAverage(c.analog["discharge_rate"]),
		MoistureTarget:    robustAverage(c.analog["moisture_target"]),
		APT:               robustAverage(c.analog["apt"]),

		SampleCount: c.ticks,
		DataQuality: quality,
		SyncStatus:  models.SyncPending,
	}

	if err := c.store.InsertRecord(ctx, rec); err != nil {
		c.logger.Error("Failed to store history record", zap.Error(err))
	} else {
		c.logger.Debug("History record stored",
			zap.String("sync_id", rec.SyncID),
			zap.Int("quality", rec.DataQuality))
	}

	c.analog = make(map[string][]float64)
	c.codes = make(map[string][]int)
	c.windowStart = now
	c.ticks = 0
}

// robustAverage averages samples after rejecting outliers beyond
// [Q1−1.5·IQR, Q3+1.5·IQR], rounded to two decimals. An empty sample set,
// before or after filtering, yields nil.
func robustAverage(samples []float64) *float64 {
	if len(samples) == 0 {
		return nil
	}

	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	q1 := sorted[int(float64(len(sorted))*0.25)]
	q3 := sorted[int(float64(len(sorted))*0.75)]
	iqr := q3 - q1
	lo := q1 - 1.5*iqr
	hi := q3 + 1.5*iqr

	var sum float64
	var n int
	for _, v := range sorted {
		if v < lo || v > hi {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return nil
	}

	avg := math.Round(sum/float64(n)*100) / 100
	return &avg
}

// dominantCode returns the most frequent code of the window, -1 when the
// window holds none.
func dominantCode(codes []int) int {
	if len(codes) == 0 {
		return -1
	}
	counts := make(map[int]int)
	best, bestCount := codes[0], 0
	for _, code := range codes {
		counts[code]++
		if counts[code] > bestCount {
			best, bestCount = code, counts[code]
		}
	}
	return best
}

func codeName(code int, names map[int]string) string {
	if name, ok := names[code]; ok {
		return name
	}
	return "unknown"
}
