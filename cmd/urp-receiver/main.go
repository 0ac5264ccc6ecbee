// Command urp-receiver drives one URP receiver connection: it accepts a
// sender's handshake, reassembles the incoming byte stream into an
// output file, and writes receiver_log.txt plus a trailing summary on
// exit.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/xid"
	"github.com/spf13/pflag"

	"github.com/urp-project/urp/config"
	"github.com/urp-project/urp/metrics"
	"github.com/urp-project/urp/netio"
	"github.com/urp-project/urp/protoerr"
	"github.com/urp-project/urp/receiver"
	"github.com/urp-project/urp/urplog"
)

// defaultMSL is the receiver's maximum segment lifetime, used to size
// the 2*MSL time_wait period before the process exits cleanly.
const defaultMSL = 1 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if protoerr.IsFatal(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run() error {
	var (
		verbose     bool
		metricsAddr string
		configPath  string
	)
	pflag.BoolVarP(&verbose, "verbose", "v", false, "enable debug-level logging")
	pflag.StringVar(&metricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics on this address")
	pflag.StringVar(&configPath, "config", "", "optional YAML overlay for window/MSL parameters")
	pflag.Parse()

	args := pflag.Args()
	if len(args) != 4 {
		return fmt.Errorf("usage: urp-receiver <receiver_port> <sender_port> <output_file> <max_win>")
	}

	receiverPort, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("receiver_port: %w", err)
	}
	senderPort, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("sender_port: %w", err)
	}
	outputFile := args[2]
	maxWin, err := strconv.Atoi(args[3])
	if err != nil {
		return fmt.Errorf("max_win: %w", err)
	}

	cfg := receiver.Config{
		MaxWindow: maxWin,
		MSL:       defaultMSL,
	}

	if configPath != "" {
		overlay, err := config.Load(configPath)
		if err != nil {
			return err
		}
		config.ApplyInt(&cfg.MaxWindow, overlay.MaxWindow)
		if overlay.MSLMillis != nil {
			cfg.MSL = time.Duration(*overlay.MSLMillis) * time.Millisecond
		}
	}

	runID := xid.New().String()
	level := charmlog.InfoLevel
	if verbose {
		level = charmlog.DebugLevel
	}
	charmHandler := charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		ReportTimestamp: true,
		Prefix:          "urp-receiver",
		Level:           level,
	})
	logger := slog.New(charmHandler).With("run_id", runID)

	outFile, err := os.Create(outputFile)
	if err != nil {
		return err
	}
	defer outFile.Close()

	logFile, err := os.Create("receiver_log.txt")
	if err != nil {
		return err
	}
	defer logFile.Close()
	elog := urplog.NewEventLogger(logFile)

	conn, err := netio.ListenUDP(receiverPort)
	if err != nil {
		return err
	}
	defer conn.Close()
	peer := netio.ResolveLoopback(senderPort)

	engine := receiver.New(conn, peer, outFile, cfg, logger, elog)

	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		rm := metrics.NewReceiverMetrics(reg)
		engine.SetMetrics(rm)

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "err", err)
			}
		}()
		defer srv.Close()
	}

	runErr := engine.Run(context.Background())

	stats := engine.Stats()
	summary := urplog.ReceiverSummary{
		OriginalBytes:              stats.OriginalBytes,
		TotalBytes:                 stats.TotalBytes,
		OriginalSegments:           stats.OriginalSegments,
		TotalSegments:              stats.TotalSegments,
		CorruptedSegmentsDiscarded: stats.CorruptedSegmentsDiscarded,
		DuplicateSegmentsReceived:  stats.DuplicateSegmentsReceived,
		TotalAcksSent:              stats.TotalAcksSent,
		DuplicateAcksSent:          stats.DuplicateAcksSent,
	}
	if _, err := summary.WriteTo(os.Stdout); err != nil {
		return err
	}
	return runErr
}
