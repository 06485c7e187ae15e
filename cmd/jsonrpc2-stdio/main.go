// Command jsonrpc2-stdio hosts a jsonrpc2.Endpoint over standard input and
// standard output, demonstrating the library's stream-agnostic design with
// the simplest possible transport: the process's own stdio pair.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/dkoosis/jsonrpc2x/internal/logging"
	"github.com/dkoosis/jsonrpc2x/internal/metrics"
	"github.com/dkoosis/jsonrpc2x/internal/rpcconfig"
	"github.com/dkoosis/jsonrpc2x/jsonrpc2"
)

var (
	configPath string
	logLevel   string
	timeout    int
)

func main() {
	root := &cobra.Command{
		Use:   "jsonrpc2-stdio",
		Short: "Run a demo JSON-RPC 2.0 peer over stdin/stdout",
		Long: `jsonrpc2-stdio hosts two toy methods, "echo" and "math/add", over a
Content-Length-framed stdio stream, so the library's framing, dispatch, and
cancellation behavior can be exercised end to end from another process.`,
		RunE: run,
	}
	root.Flags().StringVar(&configPath, "config", "", "path to a YAML config file (optional)")
	root.Flags().StringVar(&logLevel, "log-level", "", "override the configured log level (debug|info|warn|error)")
	root.Flags().IntVar(&timeout, "timeout", 0, "override the configured outbound request timeout, in seconds")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(_ *cobra.Command, _ []string) error {
	cfg, err := rpcconfig.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if timeout > 0 {
		cfg.Endpoint.RequestTimeoutSeconds = timeout
	}
	logging.InitLogging(cfg.LogLevel(), os.Stderr)
	logger := logging.GetLogger("jsonrpc2-stdio")

	collector := metrics.NewCollector(prometheus.NewRegistry())

	dispatcher := jsonrpc2.NewMap()
	registerDemoMethods(dispatcher)

	writer := jsonrpc2.NewFrameWriter(os.Stdout, logger).WithMetrics(collector)
	endpointOpts := []jsonrpc2.Option{jsonrpc2.WithLogger(logger), jsonrpc2.WithMetrics(collector)}
	if cfg.Endpoint.RequestTimeoutSeconds > 0 {
		endpointOpts = append(endpointOpts, jsonrpc2.WithRequestTimeout(time.Duration(cfg.Endpoint.RequestTimeoutSeconds)*time.Second))
	}
	endpoint := jsonrpc2.NewEndpoint(dispatcher, func(msg interface{}) error {
		return writer.Write(msg)
	}, endpointOpts...)

	reader := jsonrpc2.NewFrameReader(os.Stdin, logger).WithMetrics(collector)
	logger.Info("jsonrpc2-stdio: listening", "methods", []string{"echo", "math/add"},
		"request_timeout_seconds", cfg.Endpoint.RequestTimeoutSeconds)
	err = reader.Listen(context.Background(), endpoint.Consume)
	endpoint.Shutdown()
	return err
}

// registerDemoMethods wires two handlers, both of which return their result
// synchronously.
func registerDemoMethods(d *jsonrpc2.Map) {
	d.Register("echo", func(_ context.Context, req *jsonrpc2.Request) (interface{}, error) {
		var params json.RawMessage
		if err := req.Bind(&params); err != nil {
			return nil, jsonrpc2.InvalidParams(err.Error())
		}
		return params, nil
	})

	d.Register("math/add", func(_ context.Context, req *jsonrpc2.Request) (interface{}, error) {
		var args struct {
			A float64 `json:"a"`
			B float64 `json:"b"`
		}
		if err := req.Bind(&args); err != nil {
			return nil, jsonrpc2.InvalidParams(err.Error())
		}
		return args.A + args.B, nil
	})
}
