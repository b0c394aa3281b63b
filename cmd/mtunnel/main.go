// Command mtunnel acts as both ends of a Markov-obfuscated TCP tunnel: run
// without -s as the local SOCKS-speaking proxy, or with -s as the
// terminating server that dials real targets on the client's behalf.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/cylance/MarkovObfuscate/internal/codec"
	"github.com/cylance/MarkovObfuscate/internal/formatter"
	"github.com/cylance/MarkovObfuscate/internal/platform/config"
	"github.com/cylance/MarkovObfuscate/internal/platform/logger"
	"github.com/cylance/MarkovObfuscate/internal/platform/metrics"
	"github.com/cylance/MarkovObfuscate/internal/tunnel"
)

func main() {
	isServer := flag.Bool("s", false, "run as the terminating mtunnel server")
	remote := flag.String("r", "", "remote mtunnel server to connect to (client mode only)")
	port := flag.Int("p", 9050, "local SOCKS port to listen on (client mode only)")
	remotePort := flag.Int("P", 9999, "port the mtunnel server listens on / binds to")
	corpusPath := flag.String("corpus", "", "training corpus, shared out of band with the other end")
	format := flag.String("format", "book", "corpus format: book (lyrics and binary cannot frame safely)")
	base := flag.Int("base", 64, "alphabet size B, 2 <= B <= 256")
	adminAddr := flag.String("admin", "", "optional address to serve the admin feed and metrics on, e.g. :8080")
	profile := flag.String("profile", "default", "tuning profile: default, stress, or low")
	flag.Parse()

	log := logger.NewLogger()
	cfg := configProfile(*profile)

	if *corpusPath == "" {
		fmt.Fprintln(os.Stderr, "mtunnel: -corpus is required")
		os.Exit(2)
	}

	fmtr, err := formatterFor(*format)
	if err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}

	model, err := trainModel(*base, fmtr, *corpusPath)
	if err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	hub := tunnel.NewHubWithBuffer(log, cfg.AdminBroadcastBuffer)
	go hub.Run(ctx)

	if *adminAddr != "" {
		go serveAdmin(*adminAddr, hub, log, cfg)
		go tuneLoop(ctx, cfg, log)
	}

	if *isServer {
		server, err := tunnel.NewMTunnelServer(model, "0.0.0.0", *remotePort, log, hub)
		if err != nil {
			log.Error(err.Error())
			os.Exit(1)
		}
		log.Info(fmt.Sprintf("running as mtunnel server on 0.0.0.0:%d", *remotePort))
		if err := server.Serve(); err != nil {
			log.Error(err.Error())
			os.Exit(1)
		}
		return
	}

	if *remote == "" {
		fmt.Fprintln(os.Stderr, "mtunnel: -r <remote host> is required in client mode")
		os.Exit(2)
	}

	proxy, err := tunnel.NewLocalProxy(model, "localhost", *port, *remote, *remotePort, log, hub)
	if err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
	log.Info(fmt.Sprintf("running as local SOCKS proxy on localhost:%d connecting to %s:%d", *port, *remote, *remotePort))
	if err := proxy.Serve(); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}

func formatterFor(name string) (formatter.Formatter, error) {
	switch name {
	case "book", "":
		return formatter.Default{}, nil
	default:
		return nil, fmt.Errorf("mtunnel: format %q cannot frame safely over a newline-delimited tunnel", name)
	}
}

func trainModel(base int, fmtr formatter.Formatter, corpusPath string) (*codec.Model, error) {
	corpus, err := os.ReadFile(corpusPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus: %w", err)
	}
	model, err := codec.NewModel(base, fmtr)
	if err != nil {
		return nil, err
	}
	model.LearnBook(string(corpus))
	return model, nil
}

// configProfile resolves the -profile flag to a platform/config tuning
// preset.
func configProfile(name string) *config.Config {
	switch name {
	case "stress":
		return config.StressTestConfig()
	case "low":
		return config.LowResourceConfig()
	default:
		return config.DefaultConfig()
	}
}

// tuneLoop periodically feeds the running metrics snapshot through
// config.Analyze and logs any tuning recommendations it surfaces; an
// operator acts on them by restarting with a different -profile.
func tuneLoop(ctx context.Context, cfg *config.Config, log *logger.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rec := config.Analyze(metrics.Get().Snapshot())
			for _, note := range rec.Notes {
				log.Info("tuning: " + note)
			}
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// serveAdmin exposes the admin feed WebSocket alongside the JSON and
// Prometheus metrics endpoints the platform/metrics package builds, capping
// concurrent observers at cfg.MaxAdminClients.
func serveAdmin(addr string, hub *tunnel.Hub, log *logger.Logger, cfg *config.Config) {
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/feed", func(w http.ResponseWriter, r *http.Request) {
		if hub.ClientCount() >= cfg.MaxAdminClients {
			http.Error(w, "too many admin observers", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error("admin feed upgrade failed: " + err.Error())
			return
		}
		client := tunnel.NewAdminClient(hub, conn, uuid.NewString())
		go client.WritePump()
		client.ReadPump()
	})
	mux.Handle("/metrics/json", metrics.Handler())
	mux.Handle("/metrics", metrics.PrometheusHandler())

	log.Info("admin feed and metrics listening on " + addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("admin HTTP server stopped: " + err.Error())
	}
}
