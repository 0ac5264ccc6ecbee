// Command urp-sender drives one URP sender connection: it segments an
// input file, runs it through the sliding-window sender engine and the
// packet-loss-and-corruption shim, and writes sender_log.txt plus a
// trailing summary on exit.
package main

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/xid"
	"github.com/spf13/pflag"
	"log/slog"
	"net/http"

	"github.com/urp-project/urp/config"
	"github.com/urp-project/urp/internal/xorshift"
	"github.com/urp-project/urp/metrics"
	"github.com/urp-project/urp/netio"
	"github.com/urp-project/urp/plc"
	"github.com/urp-project/urp/protoerr"
	"github.com/urp-project/urp/sender"
	"github.com/urp-project/urp/seqnum"
	"github.com/urp-project/urp/urplog"
)

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
		seed        uint64
		metricsAddr string
		configPath  string
	)
	pflag.BoolVarP(&verbose, "verbose", "v", false, "enable debug-level logging")
	pflag.Uint64Var(&seed, "seed", 0, "seed for the ISN and PLC RNG (0 picks a random seed)")
	pflag.StringVar(&metricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics on this address")
	pflag.StringVar(&configPath, "config", "", "optional YAML overlay for window/RTO/MSS/MSL/PLC parameters")
	pflag.Parse()

	args := pflag.Args()
	if len(args) != 9 {
		return fmt.Errorf("usage: urp-sender <sender_port> <receiver_port> <input_file> <max_win> <rto_ms> <flp> <rlp> <fcp> <rcp>")
	}

	senderPort, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("sender_port: %w", err)
	}
	receiverPort, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("receiver_port: %w", err)
	}
	inputFile := args[2]
	maxWin, err := strconv.Atoi(args[3])
	if err != nil {
		return fmt.Errorf("max_win: %w", err)
	}
	rtoMs, err := strconv.Atoi(args[4])
	if err != nil {
		return fmt.Errorf("rto_ms: %w", err)
	}
	flp, err := strconv.ParseFloat(args[5], 64)
	if err != nil {
		return fmt.Errorf("flp: %w", err)
	}
	rlp, err := strconv.ParseFloat(args[6], 64)
	if err != nil {
		return fmt.Errorf("rlp: %w", err)
	}
	fcp, err := strconv.ParseFloat(args[7], 64)
	if err != nil {
		return fmt.Errorf("fcp: %w", err)
	}
	rcp, err := strconv.ParseFloat(args[8], 64)
	if err != nil {
		return fmt.Errorf("rcp: %w", err)
	}

	cfg := sender.Config{
		MaxWindow: maxWin,
		RTO:       time.Duration(rtoMs) * time.Millisecond,
		MSS:       sender.DefaultMSS,
		PLC: plc.Params{
			ForwardLoss:       flp,
			ReverseLoss:       rlp,
			ForwardCorruption: fcp,
			ReverseCorruption: rcp,
		},
	}

	if configPath != "" {
		overlay, err := config.Load(configPath)
		if err != nil {
			return err
		}
		config.ApplyInt(&cfg.MaxWindow, overlay.MaxWindow)
		if overlay.RTOMillis != nil {
			cfg.RTO = time.Duration(*overlay.RTOMillis) * time.Millisecond
		}
		config.ApplyInt(&cfg.MSS, overlay.MSS)
		config.ApplyFloat(&cfg.PLC.ForwardLoss, overlay.ForwardLoss)
		config.ApplyFloat(&cfg.PLC.ReverseLoss, overlay.ReverseLoss)
		config.ApplyFloat(&cfg.PLC.ForwardCorruption, overlay.ForwardCorruption)
		config.ApplyFloat(&cfg.PLC.ReverseCorruption, overlay.ReverseCorruption)
	}

	if seed == 0 {
		var b [8]byte
		if _, err := rand.Read(b[:]); err != nil {
			return fmt.Errorf("generating seed: %w", err)
		}
		seed = binary.BigEndian.Uint64(b[:])
	}
	cfg.Seed = seed

	runID := xid.New().String()
	level := charmlog.InfoLevel
	if verbose {
		level = charmlog.DebugLevel
	}
	charmHandler := charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		ReportTimestamp: true,
		Prefix:          "urp-sender",
		Level:           level,
	})
	logger := slog.New(charmHandler).With("run_id", runID)

	inFile, err := os.Open(inputFile)
	if err != nil {
		return err
	}
	defer inFile.Close()

	logFile, err := os.Create("sender_log.txt")
	if err != nil {
		return err
	}
	defer logFile.Close()
	elog := urplog.NewEventLogger(logFile)

	conn, err := netio.ListenUDP(senderPort)
	if err != nil {
		return err
	}
	defer conn.Close()
	peer := netio.ResolveLoopback(receiverPort)

	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		sm := metrics.NewSenderMetrics(reg)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "err", err)
			}
		}()
		defer srv.Close()

		isn := seqnum.Value(xorshift.New(seed).Uint16())
		engine := sender.New(conn, peer, inFile, cfg, isn, logger, elog)
		engine.SetMetrics(sm)
		return runEngineAndSummarize(engine)
	}

	isn := seqnum.Value(xorshift.New(seed).Uint16())
	engine := sender.New(conn, peer, inFile, cfg, isn, logger, elog)
	return runEngineAndSummarize(engine)
}

func runEngineAndSummarize(engine *sender.Engine) error {
	runErr := engine.Run(context.Background())

	stats := engine.Stats()
	plcStats := engine.PLCStats()
	summary := urplog.SenderSummary{
		OriginalBytes:          stats.OriginalBytes,
		TotalBytes:             stats.TotalBytes,
		OriginalSegments:       stats.OriginalSegments,
		TotalSegments:          stats.TotalSegments,
		Timeouts:               stats.Timeouts,
		FastRetransmits:        stats.FastRetransmits,
		DuplicateAcksReceived:  stats.DuplicateAcksReceived,
		CorruptedAcksDiscarded: stats.CorruptedAcksDiscarded,
		ForwardDropped:         plcStats.ForwardDropped,
		ForwardCorrupted:       plcStats.ForwardCorrupted,
		ReverseDropped:         plcStats.ReverseDropped,
		ReverseCorrupted:       plcStats.ReverseCorrupted,
	}
	if _, err := summary.WriteTo(os.Stdout); err != nil {
		return err
	}
	return runErr
}
