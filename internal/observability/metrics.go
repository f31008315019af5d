package observability

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/andrewdyar/switchyard-sub001/internal/platform/envutil"
	"github.com/andrewdyar/switchyard-sub001/internal/platform/logger"
)

// Metrics holds the ingest counters exposed on /metrics. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	fetchRequests *CounterVec
	fetchLatency  *HistogramVec
	botBlocks     *CounterVec
	records       *CounterVec
	prices        *CounterVec
	unitDuration  *HistogramVec
	unitsActive   *GaugeVec
	dbStats       *GaugeVec
	redisUp       *GaugeVec
	redisPing     *GaugeVec
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool { return envutil.Bool("METRICS_ENABLED", false) }

func Current() *Metrics { return instance }

// Init builds the process-wide Metrics when METRICS_ENABLED is set and
// returns nil otherwise.
func Init(log *logger.Logger) *Metrics {
	initOnce.Do(func() {
		if !Enabled() {
			return
		}
		instance = New()
		if log != nil {
			log.Info("metrics enabled")
		}
	})
	return instance
}

var unitBuckets = []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200}

func New() *Metrics {
	return &Metrics{
		fetchRequests: NewCounterVec("ingest_fetch_requests_total", "Retailer request attempts by outcome.", []string{"retailer", "outcome"}),
		fetchLatency:  NewHistogramVec("ingest_fetch_duration_seconds", "Retailer request attempt latency.", []string{"retailer"}, nil),
		botBlocks:     NewCounterVec("ingest_bot_blocks_total", "Bot-block responses seen by the run coordinator.", []string{"retailer"}),
		records:       NewCounterVec("ingest_records_total", "Normalized records by write result.", []string{"retailer", "result"}),
		prices:        NewCounterVec("ingest_price_rows_total", "Price history rows inserted or closed.", []string{"retailer", "action"}),
		unitDuration:  NewHistogramVec("ingest_unit_duration_seconds", "Work unit wall time by terminal state.", []string{"retailer", "state"}, unitBuckets),
		unitsActive:   NewGaugeVec("ingest_units_active", "Work units currently crawling.", []string{"retailer"}),
		dbStats:       NewGaugeVec("ingest_db_pool", "database/sql pool statistics.", []string{"stat"}),
		redisUp:       NewGaugeVec("ingest_session_redis_up", "Session Redis reachability.", nil),
		redisPing:     NewGaugeVec("ingest_session_redis_ping_seconds", "Session Redis ping latency.", nil),
	}
}

func (m *Metrics) ObserveFetch(retailer, outcome string, dur time.Duration) {
	if m == nil {
		return
	}
	m.fetchRequests.Inc(retailer, outcome)
	m.fetchLatency.Observe(dur.Seconds(), retailer)
}

func (m *Metrics) IncBotBlock(retailer string) {
	if m == nil {
		return
	}
	m.botBlocks.Inc(retailer)
}

// ObserveRecord counts one record outcome: created, updated, unchanged,
// conflict, skipped or failed.
func (m *Metrics) ObserveRecord(retailer, result string) {
	if m == nil {
		return
	}
	m.records.Inc(retailer, result)
}

func (m *Metrics) ObservePrice(retailer string, inserted, closed bool) {
	if m == nil {
		return
	}
	if inserted {
		m.prices.Inc(retailer, "inserted")
	}
	if closed {
		m.prices.Inc(retailer, "closed")
	}
}

func (m *Metrics) UnitStarted(retailer string) {
	if m == nil {
		return
	}
	m.unitsActive.Add(1, retailer)
}

func (m *Metrics) UnitFinished(retailer, state string, dur time.Duration) {
	if m == nil {
		return
	}
	m.unitsActive.Add(-1, retailer)
	m.unitDuration.Observe(dur.Seconds(), retailer, state)
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, _ *http.Request) {
	if m == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(w)
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	type writer interface{ WritePrometheus(io.Writer) error }
	for _, c := range []writer{
		m.fetchRequests, m.fetchLatency, m.botBlocks, m.records, m.prices,
		m.unitDuration, m.unitsActive, m.dbStats, m.redisUp, m.redisPing,
	} {
		if err := c.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}

func scrapeInterval() time.Duration {
	d := envutil.Duration("METRICS_SCRAPE_INTERVAL", 15*time.Second)
	if d < time.Second {
		return time.Second
	}
	return d
}

// StartDBCollector samples the catalog database pool until ctx ends.
func (m *Metrics) StartDBCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	go tick(ctx, scrapeInterval(), func() {
		sqlDB, err := db.DB()
		if err != nil {
			if log != nil {
				log.Warn("metrics: db stats unavailable", "error", err)
			}
			return
		}
		st := sqlDB.Stats()
		m.dbStats.Set(float64(st.OpenConnections), "open_connections")
		m.dbStats.Set(float64(st.InUse), "in_use")
		m.dbStats.Set(float64(st.Idle), "idle")
		m.dbStats.Set(float64(st.WaitCount), "wait_count")
		m.dbStats.Set(st.WaitDuration.Seconds(), "wait_duration_seconds")
	})
}

// StartRedisCollector pings the session Redis at addr until ctx ends.
func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, addr string) {
	addr = strings.TrimSpace(addr)
	if m == nil || addr == "" {
		return
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	go func() {
		defer rdb.Close()
		tick(ctx, scrapeInterval(), func() {
			start := time.Now()
			if err := rdb.Ping(ctx).Err(); err != nil {
				m.redisUp.Set(0)
				if log != nil {
					log.Warn("metrics: redis ping failed", "error", err)
				}
				return
			}
			m.redisUp.Set(1)
			m.redisPing.Set(time.Since(start).Seconds())
		})
	}()
}

func tick(ctx context.Context, every time.Duration, fn func()) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fn()
		}
	}
}
