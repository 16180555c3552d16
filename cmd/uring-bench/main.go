//go:build linux

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/peterbourgon/ff/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	uring "github.com/ehrlich-b/go-uring"
	"github.com/ehrlich-b/go-uring/file"
	"github.com/ehrlich-b/go-uring/internal/logging"
)

// maxTransfer keeps a single buffer well inside the 32-bit SQE length.
const maxTransfer = 1 << 30

func main() {
	fs := flag.NewFlagSet("uring-bench", flag.ContinueOnError)
	var (
		depth       = fs.Int("depth", 64, "Submission queue depth")
		ops         = fs.Int("ops", 100000, "Total operations to run")
		sizeStr     = fs.String("size", "4K", "Transfer size for read/write (e.g., 4K, 1M)")
		fileSizeStr = fs.String("file-size", "64M", "Region of the file to spread I/O across")
		path        = fs.String("file", "", "File for read/write modes (default: a temporary file)")
		workers     = fs.Int("workers", 8, "Concurrent submitting goroutines")
		mode        = fs.String("mode", "nop", "Workload: nop, write, read or probe")
		metricsAddr = fs.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g., :9100)")
		logLevel    = fs.String("log-level", "info", "Log level: debug, info, warn or error")
		logFormat   = fs.String("log-format", "text", "Log format: text or json")
		verbose     = fs.Bool("v", false, "Verbose output (same as -log-level debug)")
	)
	var err error
	if err = ff.Parse(fs, os.Args[1:], ff.WithEnvVarPrefix("URING")); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "uring-bench: %v\n", err)
		os.Exit(2)
	}

	// Set up logging
	logConfig := logging.DefaultConfig()
	logConfig.Format = *logFormat
	if logConfig.Level, err = logging.ParseLevel(*logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "uring-bench: %v\n", err)
		os.Exit(2)
	}
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	defer logger.Close()
	logging.SetDefault(logger)

	if err := uring.Available(); err != nil {
		logger.Error("io_uring is not available", "error", err)
		os.Exit(1)
	}

	size, err := parseSize(*sizeStr)
	if err != nil || size <= 0 || size > maxTransfer {
		logger.Error("invalid size", "size", *sizeStr, "error", err)
		os.Exit(2)
	}
	fileSize, err := parseSize(*fileSizeStr)
	if err != nil || fileSize < size {
		logger.Error("invalid file size", "file_size", *fileSizeStr, "error", err)
		os.Exit(2)
	}
	if *workers < 1 || *ops < 1 {
		logger.Error("workers and ops must be positive", "workers", *workers, "ops", *ops)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	installStackDump(logger)

	params := uring.DefaultRunnerParams()
	params.QueueDepth = *depth
	r, err := uring.NewRunner(ctx, params, &uring.Options{Logger: logger})
	if err != nil {
		logger.Error("failed to create runner", "error", err)
		os.Exit(1)
	}
	defer r.Close()

	if *metricsAddr != "" {
		serveMetrics(*metricsAddr, r, logger)
	}

	if *mode == "probe" {
		printProbe(r)
		return
	}

	bench := &benchmark{
		runner:   r,
		ops:      *ops,
		workers:  *workers,
		size:     size,
		fileSize: fileSize,
		logger:   logger,
	}
	switch *mode {
	case "nop":
		err = bench.run(ctx, bench.nop)
	case "write", "read":
		var cleanup func()
		bench.file, cleanup, err = openBenchFile(r, *path, fileSize, *mode == "read")
		if err != nil {
			logger.Error("failed to open file", "error", err)
			os.Exit(1)
		}
		defer cleanup()
		if *mode == "write" {
			err = bench.run(ctx, bench.write)
		} else {
			err = bench.run(ctx, bench.read)
		}
	default:
		logger.Error("unknown mode", "mode", *mode)
		os.Exit(2)
	}
	if err != nil {
		logger.Error("benchmark failed", "mode", *mode, "error", err)
		os.Exit(1)
	}

	printSummary(*mode, r.MetricsSnapshot())
}

type benchmark struct {
	runner   *uring.Runner
	file     *file.File
	ops      int
	workers  int
	size     int64
	fileSize int64
	logger   *logging.Logger
}

// run splits the operation count across workers and stops at the
// first failure.
func (b *benchmark) run(ctx context.Context, op func(ctx context.Context, i int) error) error {
	g, ctx := errgroup.WithContext(ctx)
	per := b.ops / b.workers
	start := time.Now()

	for w := 0; w < b.workers; w++ {
		n := per
		if w == b.workers-1 {
			n += b.ops % b.workers
		}
		base := w * per
		g.Go(func() error {
			for i := 0; i < n; i++ {
				if err := op(ctx, base+i); err != nil {
					return err
				}
			}
			return nil
		})
	}
	err := g.Wait()
	b.logger.Info("benchmark finished", "elapsed", time.Since(start), "workers", b.workers)
	return err
}

func (b *benchmark) offset(i int) int64 {
	blocks := b.fileSize / b.size
	return (int64(i) % blocks) * b.size
}

func (b *benchmark) nop(ctx context.Context, _ int) error {
	return b.runner.Nop(ctx)
}

func (b *benchmark) write(ctx context.Context, i int) error {
	buf := uring.GetBuffer(uint32(b.size))
	defer uring.PutBuffer(buf)
	for j := range buf {
		buf[j] = byte(i + j)
	}
	_, err := b.file.WriteAtContext(ctx, buf, b.offset(i))
	return err
}

func (b *benchmark) read(ctx context.Context, i int) error {
	buf, err := b.runner.ReadAlloc(ctx, b.file.Fd(), uint32(b.size), b.offset(i))
	if err != nil {
		return err
	}
	uring.PutBuffer(buf)
	return nil
}

// openBenchFile opens path, or a temporary file when path is empty.
// For reads the file is extended to size so every offset has data.
func openBenchFile(r *uring.Runner, path string, size int64, prefill bool) (*file.File, func(), error) {
	remove := func() {}
	if path == "" {
		dir, err := os.MkdirTemp("", "uring-bench")
		if err != nil {
			return nil, nil, err
		}
		path = filepath.Join(dir, "data")
		remove = func() { os.RemoveAll(dir) }
	}

	f, err := file.Open(r, path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		remove()
		return nil, nil, err
	}
	if prefill {
		if cur, err := f.Size(); err == nil && cur < size {
			if err := syscall.Ftruncate(f.Fd(), size); err != nil {
				f.Close()
				remove()
				return nil, nil, fmt.Errorf("extend %s: %w", path, err)
			}
		}
	}
	return f, func() {
		if err := f.Sync(); err != nil {
			logging.Warn("sync failed", "file", path, "error", err)
		}
		f.Close()
		remove()
	}, nil
}

func serveMetrics(addr string, r *uring.Runner, logger *logging.Logger) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		uring.NewCollector(r.Metrics(), prometheus.Labels{"ring": "bench"}),
		collectors.NewGoCollector(),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics server failed", "error", err)
		}
	}()
}

func printProbe(r *uring.Runner) {
	info := r.Info()
	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintf(w, "OPCODE\tNAME\n")
	for _, op := range uring.SupportedOps(r.Probe()) {
		fmt.Fprintf(w, "%d\t%s\n", op, uring.OpName(op))
	}
	w.Flush()
	fmt.Printf("\n%d opcodes supported, queue depth %d\n", len(info.Opcodes), info.QueueDepth)
}

func printSummary(mode string, s uring.MetricsSnapshot) {
	fmt.Printf("Mode:       %s\n", mode)
	fmt.Printf("Operations: %d (%d errors)\n", s.TotalOps, s.ReadErrors+s.WriteErrors+s.FsyncErrors+s.OtherErrors)
	fmt.Printf("IOPS:       %.0f\n", s.IOPS)
	if s.ReadBytes > 0 {
		fmt.Printf("Read:       %s (%s/s)\n", formatSize(int64(s.ReadBytes)), formatSize(int64(s.ReadBandwidth)))
	}
	if s.WriteBytes > 0 {
		fmt.Printf("Written:    %s (%s/s)\n", formatSize(int64(s.WriteBytes)), formatSize(int64(s.WriteBandwidth)))
	}
	fmt.Printf("Latency:    avg=%v p50=%v p99=%v p99.9=%v\n",
		time.Duration(s.AvgLatencyNs), time.Duration(s.LatencyP50Ns),
		time.Duration(s.LatencyP99Ns), time.Duration(s.LatencyP999Ns))
	fmt.Printf("In flight:  avg=%.1f max=%d\n", s.AvgQueueDepth, s.MaxQueueDepth)
	fmt.Printf("SQ full:    %d, interrupted enters: %d\n", s.SQFullEvents, s.InterruptedEnters)
}

// installStackDump writes all goroutine stacks to stderr and a file on SIGUSR1
func installStackDump(logger *logging.Logger) {
	stackDumpCh := make(chan os.Signal, 1)
	signal.Notify(stackDumpCh, syscall.SIGUSR1)
	go func() {
		for range stackDumpCh {
			buf := make([]byte, 1024*1024)
			n := runtime.Stack(buf, true)
			fmt.Fprintf(os.Stderr, "\n=== FULL GOROUTINE STACK DUMP ===\n%s\n=== END STACK DUMP ===\n\n", buf[:n])

			filename := fmt.Sprintf("uring-stacks-%d.txt", time.Now().Unix())
			if f, err := os.Create(filename); err == nil {
				fmt.Fprintf(f, "Goroutine stack dump at %s\n", time.Now().Format(time.RFC3339))
				fmt.Fprintf(f, "Process ID: %d\n\n", os.Getpid())
				f.Write(buf[:n])
				fmt.Fprintf(f, "\n\n=== GOROUTINE PROFILE ===\n")
				pprof.Lookup("goroutine").WriteTo(f, 2)
				f.Close()
				logger.Info("stack trace written to file", "file", filename)
			}
		}
	}()
}

// parseSize parses a size string like "64M", "1G", "512K"
func parseSize(s string) (int64, error) {
	s = strings.ToUpper(s)

	var multiplier int64 = 1
	var numStr string

	if strings.HasSuffix(s, "K") {
		multiplier = 1024
		numStr = strings.TrimSuffix(s, "K")
	} else if strings.HasSuffix(s, "M") {
		multiplier = 1024 * 1024
		numStr = strings.TrimSuffix(s, "M")
	} else if strings.HasSuffix(s, "G") {
		multiplier = 1024 * 1024 * 1024
		numStr = strings.TrimSuffix(s, "G")
	} else {
		numStr = s
	}

	num, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil {
		return 0, err
	}

	return num * multiplier, nil
}

// formatSize formats a byte count as a human-readable string
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	units := []string{"K", "M", "G", "T"}
	return fmt.Sprintf("%.1f %sB", float64(bytes)/float64(div), units[exp])
}
