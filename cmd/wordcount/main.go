// Command wordcount is a reference driver over pkg/compiler/pkg/executor:
// it reads newline-delimited text, splits it into words, and counts
// occurrences per word, exercising FlatMap + Map + PReduce end to end. It
// is the kind of thin DSL layer pkg/compiler and pkg/kernels are built to
// be driven by.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/flowcore/dataflow/pkg/compiler"
	"github.com/flowcore/dataflow/pkg/executor"
	"github.com/flowcore/dataflow/pkg/kernels"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"golang.org/x/xerrors"
)

var (
	appName = "wordcount"
	appSha  = "populated-at-link-time"
	logger  *logrus.Entry
)

func main() {
	host, _ := os.Hostname()
	rootLogger := logrus.New()
	rootLogger.SetFormatter(new(logrus.TextFormatter))
	logger = rootLogger.WithFields(logrus.Fields{
		"app":  appName,
		"sha":  appSha,
		"host": host,
	})

	if err := makeApp().Run(os.Args); err != nil {
		logger.WithField("err", err).Error("shutting down due to error")
		_ = os.Stderr.Sync()
		os.Exit(1)
	}
}

func makeApp() *cli.App {
	app := cli.NewApp()
	app.Name = appName
	app.Version = appSha
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "input",
			EnvVar: "WORDCOUNT_INPUT",
			Usage:  "Path to the input file; \"-\" or unset reads standard input",
		},
		cli.StringFlag{
			Name:   "output",
			EnvVar: "WORDCOUNT_OUTPUT",
			Usage:  "Path to the output file; \"-\" or unset writes standard output",
		},
		cli.IntFlag{
			Name:   "microbatch-size",
			EnvVar: "WORDCOUNT_MBSIZE",
			Usage:  "Number of items per microbatch (0 uses the built-in default)",
		},
		cli.IntFlag{
			Name:   "metrics-port",
			EnvVar: "WORDCOUNT_METRICS_PORT",
			Usage:  "Port for exposing Prometheus metrics; 0 disables the server",
		},
	}
	app.Action = runMain
	return app
}

func runMain(appCtx *cli.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go watchSignals(cancel)

	registry := prometheus.NewRegistry()
	if port := appCtx.Int("metrics-port"); port > 0 {
		go serveMetrics(port, registry)
	}

	term, st, err := buildTerm(appCtx.String("input"), appCtx.String("output"))
	if err != nil {
		return err
	}

	ex, err := executor.New[kernels.Item](term, st, executor.Config{
		MBSize:     appCtx.Int("microbatch-size"),
		Logger:     logger,
		Registerer: registry,
	})
	if err != nil {
		return xerrors.Errorf("wordcount: build pipeline: %w", err)
	}

	return ex.Run(ctx)
}

func buildTerm(input, output string) (compiler.Term[kernels.Item], compiler.StructureType, error) {
	source := lineSource(input)
	sink := lineSink(output)

	split := &kernels.FlatMap{F: func(item kernels.Item) []kernels.Item {
		fields := strings.Fields(item.(string))
		out := make([]kernels.Item, len(fields))
		for i, f := range fields {
			out[i] = strings.ToLower(f)
		}
		return out
	}}
	tally := &kernels.Map{F: func(item kernels.Item) kernels.Item {
		return kernels.KV{Key: item.(string), Value: 1}
	}}
	count := &kernels.PReduce{
		Key:  func(item kernels.Item) string { return item.(kernels.KV).Key },
		Zero: func() kernels.Item { return 0 },
		Combine: func(acc, item kernels.Item) kernels.Item {
			return acc.(int) + item.(kernels.KV).Value.(int)
		},
	}
	format := &kernels.Map{F: func(item kernels.Item) kernels.Item {
		kv := item.(kernels.KV)
		return fmt.Sprintf("%s\t%d", kv.Key, kv.Value.(int))
	}}

	return compiler.To[kernels.Item]{Children: []compiler.Term[kernels.Item]{
		compiler.Operator[kernels.Item]{Op: source},
		compiler.Operator[kernels.Item]{Op: split},
		compiler.Operator[kernels.Item]{Op: tally},
		compiler.Operator[kernels.Item]{Op: count},
		compiler.Operator[kernels.Item]{Op: format},
		compiler.Operator[kernels.Item]{Op: sink},
	}}, source.Structure(), nil
}

func lineSource(path string) *kernels.LineSource {
	switch path {
	case "", "-":
		return kernels.ReadFromStdin()
	default:
		return kernels.ReadFromFile(path)
	}
}

func lineSink(path string) *kernels.LineSink {
	switch path {
	case "", "-":
		return kernels.WriteToStdout()
	default:
		return kernels.WriteToDisk(path)
	}
}

func serveMetrics(port int, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	addr := fmt.Sprintf(":%d", port)
	logger.WithField("addr", addr).Info("serving prometheus metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.WithField("err", err).Error("metrics server exited")
	}
}

func watchSignals(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	cancel()
}
