package metrics

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/AlexAkulov/releasewatch/config"
	"github.com/AlexAkulov/releasewatch/helpers"

	"github.com/go-kit/kit/log"
	m "github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/graphite"
	"github.com/rs/zerolog"
)

const (
	histogramBuckets    = 50
	defaultSendInterval = time.Minute
	flushTimeout        = 5 * time.Second
)

var graphiteNameReplacer = strings.NewReplacer(" ", "_", "/", "_", ":", "_")

// graphiteRepo pushes metrics to carbon over tcp every send interval and
// once more on Stop, so the last cycle is not lost on shutdown.
type graphiteRepo struct {
	address     string
	sendTicker  *time.Ticker
	graphite    *graphite.Graphite
	endSendLoop func()
	log         zerolog.Logger
}

func startGraphiteRepo(conf *config.Metrics, logger zerolog.Logger) IMetricsRepo {
	interval := conf.SendInterval
	if interval <= 0 {
		interval = defaultSendInterval
	}
	graph := graphite.New(preparePrefix(conf.Prefix), makeLog(logger))
	sendTicker := time.NewTicker(interval)
	ctx, endSend := context.WithCancel(context.Background())
	go graph.SendLoop(ctx, sendTicker.C, "tcp", conf.GraphiteAddress)

	logger.Debug().Str("service", "metrics").Str("address", conf.GraphiteAddress).Str("interval", helpers.PrettyDuration(interval)).Msg("graphite started")
	return &graphiteRepo{
		address:     conf.GraphiteAddress,
		sendTicker:  sendTicker,
		graphite:    graph,
		endSendLoop: endSend,
		log:         logger,
	}
}

func makeLog(logger zerolog.Logger) log.Logger {
	return helpers.WrapDebug(logger)
}

func preparePrefix(prefix string) string {
	prefix = strings.TrimSuffix(prefix, ".")
	return prefix + "."
}

func graphiteName(name string) string {
	return graphiteNameReplacer.Replace(name)
}

func (r *graphiteRepo) CreateCounter(name string) m.Counter {
	return r.graphite.NewCounter(graphiteName(name))
}

func (r *graphiteRepo) CreateGauge(name string) m.Gauge {
	return r.graphite.NewGauge(graphiteName(name))
}

func (r *graphiteRepo) CreateHistogram(name string) m.Histogram {
	return r.graphite.NewHistogram(graphiteName(name), histogramBuckets)
}

func (r *graphiteRepo) flush() error {
	conn, err := net.DialTimeout("tcp", r.address, flushTimeout)
	if err != nil {
		return fmt.Errorf("can't connect to graphite with: %w", err)
	}
	defer conn.Close()
	conn.SetWriteDeadline(time.Now().Add(flushTimeout))
	if _, err := r.graphite.WriteTo(conn); err != nil {
		return fmt.Errorf("can't write metrics with: %w", err)
	}
	return nil
}

func (r *graphiteRepo) Stop() (err error) {
	defer helpers.RecoverTo(&err)
	r.sendTicker.Stop()
	r.endSendLoop()
	if err := r.flush(); err != nil {
		r.log.Warn().Str("service", "metrics").Str("error", err.Error()).Msg("last flush failed")
	}
	return nil
}
