// Package main is the entry point for the llmproxy gateway.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/nolanhoward/llmproxy/internal/config"
	"github.com/nolanhoward/llmproxy/internal/forwarder"
	"github.com/nolanhoward/llmproxy/internal/metrics"
	"github.com/nolanhoward/llmproxy/internal/repository"
	"github.com/nolanhoward/llmproxy/internal/server"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the gateway config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	repo, err := repository.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("failed to open repository: %v", err)
	}
	defer repo.Close()

	if cfg.Redis.Addr != "" {
		repo.SetFenceMirror(redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr}))
		log.Printf("mirroring auto-disable fences to redis at %s", cfg.Redis.Addr)
	}

	var sink metrics.Sink = metrics.NoopSink{}
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		promSink := metrics.NewPrometheusSink(reg)
		sink = promSink

		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			log.Printf("metrics listening on %s", cfg.Metrics.Addr)
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
				log.Printf("metrics server error: %v", err)
			}
		}()
	}

	fwd := forwarder.New(repo, http.DefaultClient, sink, log.Default())

	srv := server.New(cfg, fwd)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	log.Printf("llmproxy listening on :%d", cfg.Server.Port)

	if err := httpServer.ListenAndServe(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
