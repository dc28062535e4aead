package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	m "github.com/go-kit/kit/metrics"
	kitprometheus "github.com/go-kit/kit/metrics/prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 5 * time.Second

type prometheusRepo struct {
	namespace string
	addr      string
	registry  *prometheus.Registry
	server    *http.Server
	log       zerolog.Logger
}

func startPrometheusRepo(listen, prefix string, log zerolog.Logger) (IMetricsRepo, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	listener, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, fmt.Errorf("can't listen %s with: %w", listen, err)
	}
	r := &prometheusRepo{
		namespace: metricName(prefix),
		addr:      listener.Addr().String(),
		registry:  registry,
		server:    &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second},
		log:       log,
	}
	go func() {
		if err := r.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.log.Error().Str("service", "metrics").Str("error", err.Error()).Msg("prometheus listener failed")
		}
	}()
	r.log.Debug().Str("service", "metrics").Str("listen", listener.Addr().String()).Msg("prometheus listener started")
	return r, nil
}

// metricName turns graphite style dotted names into prometheus ones.
func metricName(name string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(strings.Trim(name, "."))
}

func (r *prometheusRepo) CreateCounter(name string) m.Counter {
	cv := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.namespace,
		Name:      metricName(name) + "_total",
		Help:      name,
	}, []string{})
	r.registry.MustRegister(cv)
	return kitprometheus.NewCounter(cv)
}

func (r *prometheusRepo) CreateGauge(name string) m.Gauge {
	gv := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: r.namespace,
		Name:      metricName(name),
		Help:      name,
	}, []string{})
	r.registry.MustRegister(gv)
	return kitprometheus.NewGauge(gv)
}

func (r *prometheusRepo) CreateHistogram(name string) m.Histogram {
	hv := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: r.namespace,
		Name:      metricName(name) + "_seconds",
		Help:      name,
		Buckets:   prometheus.DefBuckets,
	}, []string{})
	r.registry.MustRegister(hv)
	return kitprometheus.NewHistogram(hv)
}

func (r *prometheusRepo) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return r.server.Shutdown(ctx)
}
