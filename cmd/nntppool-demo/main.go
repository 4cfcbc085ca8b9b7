// Command nntppool-demo wires a streamclient.Client from .env-configured
// providers, runs a health check, and prints the provider count and pool
// throughput — grounded on
// the teacher's cmd/streamnzb/main.go bootstrap sequence (godotenv load,
// logger.Init, provider iteration), narrowed to this module's scope.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"nntppool/pkg/logger"
	"nntppool/pkg/providerconfig"
	"nntppool/pkg/streamclient"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println("no .env file found, using environment variables")
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}
	logger.Init(logLevel)

	providers, err := loadProviders()
	if err != nil {
		logger.Error("failed to load providers", "err", err)
		os.Exit(1)
	}
	if len(providers) == 0 {
		logger.Error("no usable providers configured (set NNTP_PROVIDERS or NNTP_HOST/PORT/USER/PASS)")
		os.Exit(1)
	}

	client, err := streamclient.New(providers, streamclient.WithDispatchStrategy(streamclient.DispatchRoundRobin))
	if err != nil {
		logger.Error("failed to build streaming client", "err", err)
		os.Exit(1)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("checking reachability", "providers", client.NumProviders())
	if err := client.WaitForReady(ctx); err != nil {
		logger.Error("provider unreachable", "err", err)
		os.Exit(1)
	}

	segs := strings.Fields(os.Getenv("NNTP_HEALTHCHECK_SEGMENTS"))
	if len(segs) > 0 {
		healthy, err := client.CheckHealth(ctx, segs)
		if err != nil {
			logger.Error("health check failed", "err", err)
		} else {
			logger.Info("health check complete", "healthy", healthy, "segments", len(segs))
		}
	}

	mbps, totalMB := client.Speed()
	fmt.Printf("pool ready: %d provider(s), %.2f Mbps, %.2f MB transferred\n", client.NumProviders(), mbps, totalMB)
}

// loadProviders builds the provider list from either NNTP_PROVIDERS (a JSON
// array matching providerconfig.Provider) or the single-provider
// NNTP_HOST/PORT/USER/PASS/SSL/CONNECTIONS env vars, mirroring the
// teacher's config.Load provider-assembly step.
func loadProviders() ([]providerconfig.Provider, error) {
	if raw := os.Getenv("NNTP_PROVIDERS"); raw != "" {
		var providers []providerconfig.Provider
		if err := json.Unmarshal([]byte(raw), &providers); err != nil {
			return nil, fmt.Errorf("parse NNTP_PROVIDERS: %w", err)
		}
		return providerconfig.Normalize(providers), nil
	}

	host := os.Getenv("NNTP_HOST")
	if host == "" {
		return nil, nil
	}
	port, _ := strconv.Atoi(os.Getenv("NNTP_PORT"))
	conns, _ := strconv.Atoi(os.Getenv("NNTP_CONNECTIONS"))
	p := providerconfig.Provider{
		Name:        "default",
		Host:        host,
		Port:        port,
		UseSSL:      os.Getenv("NNTP_SSL") == "true",
		User:        os.Getenv("NNTP_USER"),
		Pass:        os.Getenv("NNTP_PASS"),
		Connections: conns,
	}
	return providerconfig.Normalize([]providerconfig.Provider{p}), nil
}
