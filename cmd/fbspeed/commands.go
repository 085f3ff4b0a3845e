package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/NodePath81/fbspeed/internal/app"
	"github.com/NodePath81/fbspeed/internal/binaries"
	"github.com/NodePath81/fbspeed/internal/config"
	"github.com/NodePath81/fbspeed/internal/iface"
	"github.com/NodePath81/fbspeed/internal/monitor"
	"github.com/NodePath81/fbspeed/internal/result"
	"github.com/NodePath81/fbspeed/internal/store"
	"github.com/NodePath81/fbspeed/internal/util"
)

// loadConfig reads path. A missing file at the default location yields the
// built-in defaults so one-off commands work without a config.
func loadConfig(path string) (config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil && path == defaultConfigPath && errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	return cfg, err
}

func runTest(args []string, out io.Writer) int {
	cmd := flag.NewFlagSet("test", flag.ExitOnError)
	configPath := cmd.String("config", defaultConfigPath, "Path to config file")
	mode := cmd.String("mode", "", "Backend: cloudflare, ookla or libre")
	ifaceName := cmd.String("interface", "", "Interface to bind to")
	serverID := cmd.String("server", "", "Server id for external backends")
	asJSON := cmd.Bool("json", false, "Print the raw result record")
	noStore := cmd.Bool("no-store", false, "Do not save the result")
	_ = cmd.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config invalid: %v\n", err)
		return 1
	}
	if *mode != "" {
		m, err := result.ParseMode(*mode)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 2
		}
		cfg.Mode = m
	}
	if *ifaceName != "" {
		cfg.Interface = *ifaceName
	}
	if *serverID != "" {
		cfg.ServerID = *serverID
	}

	logger := util.NewLoggerWithOptions(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)

	var st monitor.Store
	if !*noStore {
		opened, err := store.Open(cfg.Storage.Path)
		if err != nil {
			logger.Error("open store failed", "error", err)
			return 1
		}
		defer opened.Close()
		st = opened
	}

	runner, err := app.BuildRunner(cfg, st, nil, logger)
	if err != nil {
		logger.Error("setup failed", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	rec, err := runner.RunOnce(ctx, store.KindCustom)
	if err != nil {
		logger.Error("test aborted", "error", err)
		return 1
	}

	if *asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		_ = enc.Encode(rec)
	} else {
		printRecord(out, rec)
	}
	if rec.Failed() {
		return 1
	}
	return 0
}

func printRecord(out io.Writer, rec store.Record) {
	if rec.Failed() {
		fmt.Fprintf(out, "%s test failed: %s\n", rec.Mode, rec.Error)
		return
	}
	fmt.Fprintf(out, "Mode:      %s (%s)\n", rec.Mode, rec.Interface)
	if rec.Jitter != nil {
		fmt.Fprintf(out, "Ping:      %d ms (jitter %.2f ms)\n", rec.Ping, *rec.Jitter)
	} else {
		fmt.Fprintf(out, "Ping:      %d ms\n", rec.Ping)
	}
	fmt.Fprintf(out, "Download:  %s\n", util.FormatBitsPerSecond(rec.Download*1e6))
	fmt.Fprintf(out, "Upload:    %s\n", util.FormatBitsPerSecond(rec.Upload*1e6))
	fmt.Fprintf(out, "Duration:  %s\n", util.FormatSeconds(float64(rec.ElapsedMs)/1000))
	if rec.ResultID != "" {
		fmt.Fprintf(out, "Result id: %s\n", rec.ResultID)
	}
}

func checkConfig(path string, out io.Writer) int {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config invalid: %v\n", err)
		return 1
	}
	fmt.Fprintf(out, "config valid: mode %s, interface %q, interval %s-%s\n",
		cfg.Mode, cfg.Interface, cfg.Schedule.Interval.Min.Duration(), cfg.Schedule.Interval.Max.Duration())
	if cfg.Mode == result.ModeCloudflare {
		down, up := app.PlanTotals(cfg.Probe)
		fmt.Fprintf(out, "probe plan: download %s, upload %s per test\n", util.FormatBytes(float64(down)), util.FormatBytes(float64(up)))
		rate := app.MinimumLinkRate(cfg.Probe)
		if math.IsInf(rate, 1) {
			fmt.Fprintf(out, "warning: probe.test_timeout %s is too short for the probe plan\n", cfg.Probe.TestTimeout.Duration())
		} else {
			fmt.Fprintf(out, "probe.test_timeout %s covers links down to %s\n", cfg.Probe.TestTimeout.Duration(), util.FormatBitsPerSecond(rate))
		}
	} else {
		catalog := app.BuildCatalog(cfg.External)
		if path, err := catalog.Resolve(cfg.Mode); err == nil {
			fmt.Fprintf(out, "%s binary: %s\n", cfg.Mode, path)
		} else if errors.Is(err, binaries.ErrMissing) && catalog.Download {
			fmt.Fprintf(out, "%s binary missing; it will be downloaded into %s before the first test\n", cfg.Mode, catalog.Dir)
		} else {
			fmt.Fprintf(out, "%s binary: %v\n", cfg.Mode, err)
		}
	}
	return 0
}

func listInterfaces(out io.Writer) int {
	ifcs, err := iface.List()
	if err != nil {
		fmt.Fprintf(os.Stderr, "list interfaces: %v\n", err)
		return 1
	}
	def, _ := iface.Default()
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tSTATE\t")
	for _, ifc := range ifcs {
		state := "down"
		if ifc.Up {
			state = "up"
		}
		marker := ""
		if ifc.Name == def.Name {
			marker = "default"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", ifc.Name, ifc.Address, state, marker)
	}
	_ = w.Flush()
	return 0
}

func showHistory(args []string, out io.Writer) int {
	cmd := flag.NewFlagSet("history", flag.ExitOnError)
	configPath := cmd.String("config", defaultConfigPath, "Path to config file")
	limit := cmd.Int("limit", 10, "Number of results")
	after := cmd.Int64("after", 0, "Only show results older than this id")
	remove := cmd.Int64("delete", 0, "Delete the result with this id")
	_ = cmd.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config invalid: %v\n", err)
		return 1
	}
	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer st.Close()

	if *remove > 0 {
		if err := st.Delete(context.Background(), *remove); err != nil {
			fmt.Fprintf(os.Stderr, "delete result %d: %v\n", *remove, err)
			return 1
		}
		fmt.Fprintf(out, "deleted result %d\n", *remove)
		return 0
	}

	records, err := st.List(context.Background(), *after, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIME\tMODE\tTYPE\tPING\tDOWN\tUP\tERROR")
	for _, rec := range records {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%.2f\t%.2f\t%s\n",
			rec.ID, rec.Created.Local().Format(time.DateTime), rec.Mode, rec.Type,
			rec.Ping, rec.Download, rec.Upload, rec.Error)
	}
	_ = w.Flush()
	return 0
}

func showStatistics(args []string, out io.Writer) int {
	cmd := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath := cmd.String("config", defaultConfigPath, "Path to config file")
	days := cmd.Int("days", 7, "Window in days (max 30)")
	_ = cmd.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config invalid: %v\n", err)
		return 1
	}
	st, err := store.Open(cfg.Storage.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer st.Close()

	s, err := st.Statistics(context.Background(), *days)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	_ = enc.Encode(s)
	return 0
}
