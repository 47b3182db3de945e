// Command echodemo runs a cooperative TCP echo server driven entirely by
// corort: one spawned task accepts connections, and every connection gets
// its own task alternating between read-readiness and write-readiness
// polls on the shared IoScheduler.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/windstride-labs/corort"
	"github.com/windstride-labs/corort/internal/netutil"
)

var (
	flagAddr        string
	flagWorkers     int
	flagInline      bool
	flagMetricsAddr string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "echodemo",
		Short:         "Cooperative TCP echo server built on the corort io scheduler",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServer,
	}
	rootCmd.Flags().StringVar(&flagAddr, "addr", "127.0.0.1:7777", "listen address (IPv4 host:port)")
	rootCmd.Flags().IntVar(&flagWorkers, "workers", runtime.NumCPU(), "thread pool worker count")
	rootCmd.Flags().BoolVar(&flagInline, "inline", false, "resume continuations on the io goroutine instead of a pool")
	rootCmd.Flags().StringVar(&flagMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (empty disables)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "echodemo:", err)
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	ip, port, err := netutil.ParseAddr(flagAddr)
	if err != nil {
		return err
	}

	opts := []corort.SchedulerOption{corort.WithThreadCount(flagWorkers)}
	if flagInline {
		opts = append(opts, corort.WithExecutionStrategy(corort.StrategyThreadInline))
	}
	if flagMetricsAddr != "" {
		reg := prometheus.NewRegistry()
		opts = append(opts, corort.WithMetrics(reg))
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(flagMetricsAddr, mux); err != nil {
				fmt.Fprintln(os.Stderr, "echodemo: metrics server:", err)
			}
		}()
	}

	sched, err := corort.NewIoScheduler(opts...)
	if err != nil {
		return err
	}

	listenFD, err := netutil.Listen(ip, port, 128)
	if err != nil {
		return err
	}
	defer netutil.Close(listenFD)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	acceptTask := corort.NewTask(func(ctx context.Context) (struct{}, error) {
		return struct{}{}, acceptLoop(ctx, sched, listenFD)
	})
	sched.Spawn(ctx, acceptTask)

	fmt.Printf("echodemo: listening on %s\n", flagAddr)
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return sched.Shutdown(shutdownCtx)
}

func acceptLoop(ctx context.Context, sched *corort.IoScheduler, listenFD int) error {
	for {
		status, err := sched.Poll(ctx, listenFD, corort.PollOpRead, 0)
		if err != nil {
			return err
		}
		if status != corort.PollEvent {
			return nil
		}
		for {
			connFD, err := netutil.Accept(listenFD)
			if err == unix.EAGAIN {
				break
			}
			if err != nil {
				return fmt.Errorf("accept: %w", err)
			}
			conn := corort.NewTask(func(ctx context.Context) (struct{}, error) {
				return struct{}{}, echoConn(ctx, sched, connFD)
			})
			sched.Spawn(ctx, conn)
		}
	}
}

func echoConn(ctx context.Context, sched *corort.IoScheduler, connFD int) error {
	defer netutil.Close(connFD)
	buf := make([]byte, 4096)
	for {
		status, err := sched.Poll(ctx, connFD, corort.PollOpRead, 0)
		if err != nil || status != corort.PollEvent {
			return err
		}
		n, err := unix.Read(connFD, buf)
		if err == unix.EAGAIN {
			continue
		}
		if err != nil || n == 0 {
			return nil
		}
		if err := writeAll(ctx, sched, connFD, buf[:n]); err != nil {
			return err
		}
	}
}

func writeAll(ctx context.Context, sched *corort.IoScheduler, fd int, data []byte) error {
	for len(data) > 0 {
		status, err := sched.Poll(ctx, fd, corort.PollOpWrite, 0)
		if err != nil {
			return err
		}
		if status != corort.PollEvent {
			return fmt.Errorf("write poll: %s", status)
		}
		n, err := unix.Write(fd, data)
		if err == unix.EAGAIN {
			continue
		}
		if err != nil {
			return fmt.Errorf("write: %w", err)
		}
		data = data[n:]
	}
	return nil
}
