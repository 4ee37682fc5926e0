// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sagex/relay-receiver/attachment"
	"github.com/sagex/relay-receiver/config"
	"github.com/sagex/relay-receiver/content"
	"github.com/sagex/relay-receiver/decrypt"
	"github.com/sagex/relay-receiver/event"
	"github.com/sagex/relay-receiver/group"
	"github.com/sagex/relay-receiver/health"
	"github.com/sagex/relay-receiver/httpapi"
	"github.com/sagex/relay-receiver/internal/logger"
	"github.com/sagex/relay-receiver/internal/metrics"
	"github.com/sagex/relay-receiver/ratchet"
	"github.com/sagex/relay-receiver/receiver"
	"github.com/sagex/relay-receiver/signalingkey"
	"github.com/sagex/relay-receiver/store"
)

var (
	runConfigPath    string
	runConfigDir     string
	runEnvironment   string
	runSignalingPath string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to a relay and print events until interrupted",
	RunE:  runReceiver,
}

func init() {
	runCmd.Flags().StringVar(&runConfigPath, "config", "", "path to a single config file (overrides --config-dir/--env)")
	runCmd.Flags().StringVar(&runConfigDir, "config-dir", "config", "directory to search for <env>.yaml, default.yaml, config.yaml")
	runCmd.Flags().StringVar(&runEnvironment, "env", "", "environment name (defaults to RELAY_ENV, then ENVIRONMENT, or development)")
	runCmd.Flags().StringVar(&runSignalingPath, "signaling-key", "", "path to the 52-byte signaling key (overrides receiver.signaling_key_path)")
}

func runReceiver(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := buildLogger(cfg.Logging)

	keyPath := runSignalingPath
	if keyPath == "" {
		keyPath = cfg.Receiver.SignalingKeyPath
	}
	signalingKey, err := loadSignalingKey(keyPath)
	if err != nil {
		return fmt.Errorf("load signaling key: %w", err)
	}

	self := content.Identity{Number: cfg.Receiver.Number, DeviceID: int(cfg.Receiver.DeviceID)}
	sessions := ratchet.NewMemoryStore()
	roster := store.NewRosterStore()
	blocked := store.NewBlockedStore()

	reconciler := group.New(roster, sessions, func(addr ratchet.Address) ratchet.SessionCipher {
		return ratchet.NewPendingAEADSessionCipher(nil)
	}, self.Number, log)

	bus := event.New()
	subscribeDemoLogger(bus, log)

	decr := decrypt.New(sessions, log)
	httpClient := httpapi.New(cfg.Receiver.RelayHTTPURL, cfg.Receiver.Number, cfg.Receiver.Password)
	var fetcher attachment.Fetcher = httpClient
	disp := content.New(self, reconciler, roster, blocked, fetcher, bus, log)

	rcv := receiver.New(receiver.Config{
		WebSocketURL: cfg.Receiver.RelayWSURL,
		HTTPBaseURL:  cfg.Receiver.RelayHTTPURL,
		Number:       cfg.Receiver.Number,
		DeviceID:     cfg.Receiver.DeviceID,
		Password:     cfg.Receiver.Password,
		SignalingKey: signalingKey,
		KeepAlive: receiver.KeepAliveConfig{
			Path:            cfg.Receiver.KeepAlive.Path,
			Interval:        cfg.Receiver.KeepAlive.Interval,
			AckTimeout:      cfg.Receiver.KeepAlive.AckTimeout,
			DisablePeriodic: cfg.Receiver.KeepAlive.DisablePeriodic,
		},
	}, decr, disp, blocked, httpClient, bus, nil, log)

	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		go serveOpsEndpoints(cfg.Metrics.Addr, httpClient, rcv, cfg.Receiver.Number, log)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := rcv.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	log.Info("receiver connected", logger.String("ws_url", cfg.Receiver.RelayWSURL))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	return rcv.Close()
}

func loadConfig() (*config.Config, error) {
	if runConfigPath != "" {
		return config.LoadFromFile(runConfigPath)
	}
	return config.Load(config.LoaderOptions{
		ConfigDir:   runConfigDir,
		Environment: runEnvironment,
		EnvFile:     ".env",
	})
}

func buildLogger(cfg *config.LoggingConfig) *logger.StructuredLogger {
	level := logger.InfoLevel
	if cfg != nil {
		switch cfg.Level {
		case "debug":
			level = logger.DebugLevel
		case "warn":
			level = logger.WarnLevel
		case "error":
			level = logger.ErrorLevel
		}
	}
	l := logger.NewLogger(os.Stdout, level)
	return l
}

// loadSignalingKey reads the key file, trying base64 first since that is
// how the key is typically provisioned, falling back to raw bytes.
func loadSignalingKey(path string) (*signalingkey.Key, error) {
	if path == "" {
		return nil, fmt.Errorf("no signaling key path configured")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if decoded, err := base64.StdEncoding.DecodeString(string(data)); err == nil {
		if key, err := signalingkey.ParseKey(decoded); err == nil {
			return key, nil
		}
	}
	return signalingkey.ParseKey(data)
}

// serveOpsEndpoints exposes /metrics and /healthz on one listener so the
// demo doesn't bind the same address twice.
func serveOpsEndpoints(addr string, httpClient *httpapi.Client, rcv *receiver.Receiver, number string, log logger.Logger) {
	checker := health.NewHealthChecker(5 * time.Second)
	checker.RegisterCheck("relay", health.RelayHealthCheck(func(ctx context.Context) error {
		return httpClient.ProbeReachability(ctx, number)
	}))
	checker.RegisterCheck("receiver", health.ReceiverStatusCheck(rcv.Status, receiver.StatusDisconnected))

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		sys := checker.GetSystemHealth(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if sys.Status != health.StatusHealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(sys)
	})

	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("ops server stopped", logger.Error(err))
	}
}

func subscribeDemoLogger(bus *event.Bus, log logger.Logger) {
	bus.On(event.Message, func(payload interface{}) {
		e := payload.(*event.MessageEvent)
		log.Info("message", logger.String("source", e.Source))
	})
	bus.On(event.Sent, func(payload interface{}) {
		e := payload.(*event.SentEvent)
		log.Info("sent", logger.String("destination", e.Destination))
	})
	bus.On(event.Receipt, func(payload interface{}) {
		e := payload.(*event.ReceiptEvent)
		log.Info("receipt", logger.String("source", e.Source))
	})
	bus.On(event.Read, func(payload interface{}) {
		e := payload.(*event.ReadEvent)
		log.Info("read", logger.String("sender", e.Sender))
	})
	bus.On(event.Contact, func(payload interface{}) {
		e := payload.(*event.ContactEvent)
		log.Info("contact", logger.String("number", e.Number))
	})
	bus.On(event.Group, func(payload interface{}) {
		log.Info("group", logger.Any("event", payload))
	})
	bus.On(event.Error, func(payload interface{}) {
		e := payload.(*event.ErrorEvent)
		log.Error("receiver error", logger.Error(e.Err))
	})
}
