package executor

import (
	"io"

	"github.com/flowcore/dataflow/pkg/microbatch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Config carries the ambient knobs every Executor is constructed with.
// All fields are optional; validate fills in defaults.
type Config struct {
	// MBSize sets the microbatch capacity requested for this run. The
	// MBSIZE environment variable, if set to a positive integer, overrides
	// it; capacity is fixed for the lifetime of the process once the first
	// Executor is constructed.
	MBSize int

	// Logger receives the executor's top-level lifecycle events (BEGIN/END
	// offload and their echoes). Defaults to a discarding logger so library
	// use stays quiet by default.
	Logger *logrus.Entry

	// Registerer, if non-nil, has the executor's Prometheus collectors
	// registered against it.
	Registerer prometheus.Registerer
}

func (c *Config) validate() {
	if c.MBSize <= 0 {
		c.MBSize = microbatch.DefaultCapacity
	}
	if c.Logger == nil {
		c.Logger = logrus.NewEntry(&logrus.Logger{Out: io.Discard, Level: logrus.PanicLevel, Formatter: new(logrus.TextFormatter)})
	}
}
