package metrics

import (
	"github.com/AlexAkulov/releasewatch/config"

	m "github.com/go-kit/kit/metrics"
	"github.com/rs/zerolog"
)

type IMetricsRepo interface {
	CreateCounter(string) m.Counter
	CreateGauge(string) m.Gauge
	CreateHistogram(string) m.Histogram
	Stop() error
}

// StartMetricsRepo picks graphite when an address and prefix are set,
// prometheus when a listen address is set, and discards metrics otherwise.
func StartMetricsRepo(config *config.Metrics, log zerolog.Logger) (IMetricsRepo, error) {
	if config == nil {
		return discardRepo{}, nil
	}
	if config.GraphiteAddress != "" && config.Prefix != "" {
		return startGraphiteRepo(config, log), nil
	}
	if config.PrometheusListen != "" {
		return startPrometheusRepo(config.PrometheusListen, config.Prefix, log)
	}
	return discardRepo{}, nil
}
