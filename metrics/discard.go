package metrics

import (
	m "github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
)

// discardRepo is used when no metrics backend is configured. Checks and
// senders still get usable metrics, the values go nowhere.
type discardRepo struct{}

func (discardRepo) CreateCounter(string) m.Counter     { return discard.NewCounter() }
func (discardRepo) CreateGauge(string) m.Gauge         { return discard.NewGauge() }
func (discardRepo) CreateHistogram(string) m.Histogram { return discard.NewHistogram() }
func (discardRepo) Stop() error                        { return nil }
