// Command jsonrpc2-ws hosts a jsonrpc2.Endpoint over a WebSocket connection,
// demonstrating that the library's FrameReader/FrameWriter pair only needs
// an io.Reader/io.Writer — any duplex byte stream, not just stdio, works.
package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/dkoosis/jsonrpc2x/internal/logging"
	"github.com/dkoosis/jsonrpc2x/internal/metrics"
	"github.com/dkoosis/jsonrpc2x/internal/rpcconfig"
	"github.com/dkoosis/jsonrpc2x/jsonrpc2"
)

var (
	configPath string
	addr       string
)

func main() {
	root := &cobra.Command{
		Use:   "jsonrpc2-ws",
		Short: "Run a demo JSON-RPC 2.0 peer over a WebSocket",
		Long: `jsonrpc2-ws upgrades incoming HTTP connections to WebSockets and hosts the
same "echo"/"math/add" demo methods as jsonrpc2-stdio, one Endpoint per
connection.`,
		RunE: run,
	}
	root.Flags().StringVar(&configPath, "config", "", "path to a YAML config file (optional)")
	root.Flags().StringVar(&addr, "addr", "", "override the configured listen address (host:port)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(_ *http.Request) bool { return true },
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

func run(_ *cobra.Command, _ []string) error {
	cfg, err := rpcconfig.Load(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Listen.Address = addr
	}
	logging.InitLogging(cfg.LogLevel(), os.Stderr)
	logger := logging.GetLogger("jsonrpc2-ws")
	collector := metrics.NewCollector(prometheus.NewRegistry())

	http.HandleFunc("/rpc", func(w http.ResponseWriter, r *http.Request) {
		handleConnection(w, r, logger, collector, cfg)
	})

	logger.Info("jsonrpc2-ws: listening", "address", cfg.Listen.Address)
	return http.ListenAndServe(cfg.Listen.Address, nil)
}

func handleConnection(w http.ResponseWriter, r *http.Request, logger logging.Logger, collector *metrics.Collector, cfg *rpcconfig.Settings) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("jsonrpc2-ws: upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	stream := &wsStream{conn: conn}
	dispatcher := jsonrpc2.NewMap()
	registerDemoMethods(dispatcher)

	writer := jsonrpc2.NewFrameWriter(stream, logger).WithMetrics(collector)
	endpointOpts := []jsonrpc2.Option{jsonrpc2.WithLogger(logger), jsonrpc2.WithMetrics(collector)}
	if cfg.Endpoint.RequestTimeoutSeconds > 0 {
		endpointOpts = append(endpointOpts, jsonrpc2.WithRequestTimeout(time.Duration(cfg.Endpoint.RequestTimeoutSeconds)*time.Second))
	}
	endpoint := jsonrpc2.NewEndpoint(dispatcher, func(msg interface{}) error {
		return writer.Write(msg)
	}, endpointOpts...)

	reader := jsonrpc2.NewFrameReader(stream, logger).WithMetrics(collector)
	if err := reader.Listen(context.Background(), endpoint.Consume); err != nil {
		logger.Warn("jsonrpc2-ws: connection ended", "error", err)
	}
	endpoint.Shutdown()
}

// wsStream adapts a *websocket.Conn's message-oriented API to the plain
// io.Reader/io.Writer the frame codecs require: each WebSocket text message
// is treated as one chunk of an otherwise ordinary byte stream, with reads
// spanning message boundaries exactly like reads off any other stream.
type wsStream struct {
	conn *websocket.Conn
	buf  bytes.Reader
}

func (s *wsStream) Read(p []byte) (int, error) {
	if s.buf.Len() == 0 {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return 0, io.EOF
		}
		s.buf.Reset(data)
	}
	return s.buf.Read(p)
}

func (s *wsStream) Write(p []byte) (int, error) {
	if err := s.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func registerDemoMethods(d *jsonrpc2.Map) {
	d.Register("echo", func(_ context.Context, req *jsonrpc2.Request) (interface{}, error) {
		return req.Params, nil
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
