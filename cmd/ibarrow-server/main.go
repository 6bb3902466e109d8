// Command ibarrow-server serves SQL query results as Arrow streams over
// the framed TCP protocol and Arrow Flight, with Prometheus metrics.
package main

import (
	"context"
	"errors"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/viper"

	"github.com/thomazyujibaba/ibarrow"
	"github.com/thomazyujibaba/ibarrow/api"
	"github.com/thomazyujibaba/ibarrow/engine"
	"github.com/thomazyujibaba/ibarrow/network"
)

func main() {
	v := viper.New()
	v.SetConfigName("ibarrow-server")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/ibarrow")
	v.SetEnvPrefix("ibarrow")
	v.AutomaticEnv()

	v.SetDefault("listen", ":8815")
	v.SetDefault("flight_listen", ":8816")
	v.SetDefault("metrics_listen", ":9090")
	v.SetDefault("driver", "pgx")
	v.SetDefault("workers", 8)
	v.SetDefault("queue_size", 256)
	v.SetDefault("batch_size", ibarrow.DefaultBatchSize)
	v.SetDefault("stream_endpoint", "")
	v.SetDefault("stream_topic", "results")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			log.Fatalf("Failed to read config: %v", err)
		}
	}

	dsn := v.GetString("dsn")
	if dsn == "" {
		log.Fatal("No dsn configured (set dsn in ibarrow-server.yaml or IBARROW_DSN)")
	}

	cfg := ibarrow.DefaultConfig()
	cfg.BatchSize = v.GetInt("batch_size")
	if timeout := v.GetDuration("query_timeout"); timeout > 0 {
		cfg.QueryTimeout = timeout
	}
	cfg.ConnectionTimeout = 10 * time.Second

	conn, err := ibarrow.Open(context.Background(), v.GetString("driver"), dsn, &cfg)
	if err != nil {
		log.Fatalf("Failed to open data source: %v", err)
	}
	defer conn.Close()

	metrics := api.NewMetrics("ibarrow")
	pool := engine.NewQueryPool("server", v.GetInt("workers"), v.GetInt("queue_size"), conn)
	defer pool.Shutdown()

	auth := api.NewAuthenticatorFromEnv()
	if auth.IsEnabled() {
		log.Printf("Auth enabled, token: %s", auth.GetToken())
	}

	server := api.NewServer(api.NewQueryHandler(pool, auth, metrics))
	if err := server.StartAsync(v.GetString("listen")); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
	log.Printf("Query server listening on %s", v.GetString("listen"))

	flightSvc := api.NewFlightService(conn, metrics)
	flightLis, err := net.Listen("tcp", v.GetString("flight_listen"))
	if err != nil {
		log.Fatalf("Failed to listen for Flight: %v", err)
	}
	go func() {
		if err := flightSvc.Serve(flightLis); err != nil {
			log.Printf("Flight server stopped: %v", err)
		}
	}()
	log.Printf("Flight server listening on %s", v.GetString("flight_listen"))

	metricsSrv := api.NewMetricsServer(v.GetString("metrics_listen"))
	metricsSrv.StartAsync()
	log.Printf("Metrics on %s/metrics", v.GetString("metrics_listen"))

	var streamer *network.Streamer
	if endpoint := v.GetString("stream_endpoint"); endpoint != "" {
		streamer = network.NewStreamer(endpoint)
		if err := streamer.Start(); err != nil {
			log.Fatalf("Failed to start result streamer: %v", err)
		}
		defer streamer.Stop()
		topic := v.GetString("stream_topic")
		go func() {
			for result := range pool.Results() {
				if result.Err != nil {
					continue
				}
				if err := streamer.Publish(topic, result.Payload); err != nil {
					log.Printf("Publish failed: %v", err)
				}
			}
		}()
		log.Printf("Streaming results on %s topic %q", endpoint, topic)
	}

	// Keep the pool gauges fresh.
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			stats := pool.Stats()
			metrics.UpdatePool(stats.Active, stats.Pending)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")
	flightSvc.Shutdown()
	server.Stop()
	metricsSrv.Stop()
	log.Println("Server stopped.")
}
