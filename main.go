package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rnts08/eth-riskradar/internal/analyzer"
	"github.com/rnts08/eth-riskradar/internal/chain"
	"github.com/rnts08/eth-riskradar/internal/config"
	"github.com/rnts08/eth-riskradar/internal/logging"
	"github.com/rnts08/eth-riskradar/internal/metrics"
	"github.com/rnts08/eth-riskradar/internal/model"
	"github.com/rnts08/eth-riskradar/internal/report"
	"github.com/sirupsen/logrus"
)

type riskEngine interface {
	Analyze(ctx context.Context, chainKey, address string) (*model.RiskResult, error)
	AnalyzeBatch(ctx context.Context, chainKey string, addresses []string, concurrency int, qps float64) []analyzer.BatchItem
	Close()
}

var newEngine = func(opts analyzer.Options, logger logrus.FieldLogger) riskEngine {
	return analyzer.New(opts, logger)
}

type cliFlags struct {
	chain       string
	address     string
	jsonOut     bool
	infile      string
	outCSV      string
	outJSON     string
	concurrency int
	qps         float64
	configPath  string
	metricsAddr string
}

func parseFlags(args []string, stderr io.Writer) (cliFlags, error) {
	var f cliFlags
	fs := flag.NewFlagSet("riskradar", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.chain, "chain", "eth", "Chain to use (eth|bsc)")
	fs.StringVar(&f.address, "address", "", "Token contract address")
	fs.BoolVar(&f.jsonOut, "json", false, "Print the raw JSON result")
	fs.StringVar(&f.infile, "infile", "", "Text file with one address per line (batch mode)")
	fs.StringVar(&f.outCSV, "out-csv", "batch_scan.csv", "Batch CSV output path")
	fs.StringVar(&f.outJSON, "out-json", "batch_scan.json", "Batch JSON output path")
	fs.IntVar(&f.concurrency, "concurrency", 0, "Parallel scans in batch mode (default: use config)")
	fs.Float64Var(&f.qps, "qps", 0, "Max requests per second to explorer APIs (default: use config)")
	fs.StringVar(&f.configPath, "config", "", "Optional YAML/JSON configuration file")
	fs.StringVar(&f.metricsAddr, "metrics", "", "Address to serve Prometheus metrics, e.g. :2112")
	if err := fs.Parse(args); err != nil {
		return f, err
	}
	if _, ok := chain.Lookup(f.chain); !ok {
		return f, fmt.Errorf("chain must be one of %s", strings.Join(chain.Keys(), ", "))
	}
	if f.address == "" && f.infile == "" {
		return f, errors.New("either -address or -infile is required")
	}
	return f, nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	f, err := parseFlags(args, stderr)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(stderr, "%v\n", err)
		}
		return 2
	}

	cfg, err := config.Load(f.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Configuration error: %v\n", err)
		return 1
	}
	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(stderr, "Logging setup failed: %v\n", err)
		return 1
	}
	defer closeLog()
	logger.WithFields(cfg.Presence()).Info("Environment loaded")

	if f.metricsAddr == "" {
		f.metricsAddr = cfg.MetricsAddr
	}
	m := metrics.NewRadarMetrics()
	if f.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		metrics.RegisterMetrics(reg, m)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			logger.WithField("addr", f.metricsAddr).Info("Metrics server listening")
			if err := http.ListenAndServe(f.metricsAddr, mux); err != nil {
				logger.WithError(err).Error("Metrics server error")
			}
		}()
	}

	opts := analyzer.OptionsFromConfig(cfg)
	opts.Metrics = m
	engine := newEngine(opts, logger)
	defer engine.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if f.infile != "" {
		concurrency := cfg.Concurrency
		if f.concurrency > 0 {
			concurrency = f.concurrency
		}
		return runBatch(ctx, engine, f, concurrency, stdout, stderr, logger)
	}
	return runSingle(ctx, engine, f, stdout, stderr)
}

func runSingle(ctx context.Context, engine riskEngine, f cliFlags, stdout, stderr io.Writer) int {
	res, err := engine.Analyze(ctx, f.chain, f.address)
	if err != nil {
		fmt.Fprintf(stderr, "Analysis failed: %v\n", err)
		return 1
	}
	if f.jsonOut {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			fmt.Fprintf(stderr, "JSON encode error: %v\n", err)
			return 1
		}
		return 0
	}
	report.Text(stdout, res)
	return 0
}

func runBatch(ctx context.Context, engine riskEngine, f cliFlags, concurrency int, stdout, stderr io.Writer, logger logrus.FieldLogger) int {
	addresses, err := loadAddresses(f.infile)
	if err != nil {
		fmt.Fprintf(stderr, "Input error: %v\n", err)
		return 1
	}
	batchID := uuid.New().String()
	log := logger.WithFields(logrus.Fields{"batch_id": batchID, "chain": f.chain})
	log.WithFields(logrus.Fields{"count": len(addresses), "concurrency": concurrency, "qps": f.qps}).Info("Batch scan started")

	items := engine.AnalyzeBatch(ctx, f.chain, addresses, concurrency, f.qps)
	entries := make([]report.Entry, len(items))
	failed := 0
	for i, it := range items {
		entries[i] = report.Entry{Chain: f.chain, Address: it.Address, Result: it.Result, Err: it.Err}
		if it.Err != nil {
			failed++
		}
	}

	if err := writeFile(f.outCSV, func(w io.Writer) error { return report.WriteCSV(w, entries) }); err != nil {
		fmt.Fprintf(stderr, "CSV write failed: %v\n", err)
		return 1
	}
	if err := writeFile(f.outJSON, func(w io.Writer) error { return report.WriteJSON(w, entries) }); err != nil {
		fmt.Fprintf(stderr, "JSON write failed: %v\n", err)
		return 1
	}

	log.WithFields(logrus.Fields{"count": len(entries), "failed": failed}).Info("Batch scan finished")
	fmt.Fprintf(stdout, "Done. %d scanned, %d failed. CSV -> %s  JSON -> %s\n", len(entries), failed, f.outCSV, f.outJSON)
	return 0
}

// loadAddresses reads one address per line, skipping blanks and # comments.
func loadAddresses(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var out []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: no addresses", path)
	}
	return out, nil
}

func writeFile(path string, write func(io.Writer) error) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
