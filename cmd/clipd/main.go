// Frontline Perception System
// Copyright (C) 2020-2025 TurbineOne LLC
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/TurbineOne/ffmpeg-clipreader/pkg/clip"
	"github.com/TurbineOne/ffmpeg-clipreader/pkg/codec/ffsrc"
	"github.com/TurbineOne/ffmpeg-clipreader/pkg/codec/opener"
	"github.com/TurbineOne/ffmpeg-clipreader/pkg/interrupt"
)

// socketName is the health socket under the service socket root.
const socketName = "clipd.sock"

var log zerolog.Logger //nolint:gochecknoglobals // Don't care.

func main() {
	if len(os.Args) > 1 && os.Args[1] == "print-config" {
		if err := printDefaultConfig(); err != nil {
			fmt.Println(err.Error()) //nolint:forbidigo // OK to print here.
			os.Exit(-1)
		}

		return
	}

	initConfig() // May early exit if config init fails.

	if err := ffsrc.Setup(&currentConfig.Codec.Ffmpeg, &log); err != nil {
		log.Error().Err(err).Msg("failed to set up ffmpeg")

		return
	}

	serviceSocket := filepath.Join(currentConfig.Clipd.ServiceSocketRoot, socketName)
	if err := os.RemoveAll(serviceSocket); err != nil {
		log.Error().Err(err).Msg("failed to remove existing socket")
	}

	l, err := net.Listen("unix", serviceSocket)
	if err != nil {
		log.Error().Err(err).Msg("failed to listen on socket")

		return
	}

	defer func() {
		_ = l.Close()
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := interrupt.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Info().Err(err).Msg("shutting down")
		}

		cancel()
	}()

	registry := newRegistry()
	pool := clip.NewPool(&currentConfig.Clip, &log, opener.New(&currentConfig.Codec), registry)

	disp, err := newDisplay(&currentConfig.Clipd.Display, pool)
	if err != nil {
		log.Error().Err(err).Msg("failed to create display")

		return
	}

	disp.AddAll(currentConfig.Clipd.Clips)

	healthServer := health.NewServer()
	server := grpc.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)

	var wg sync.WaitGroup

	if currentConfig.Clipd.MetricsAddr != "" {
		ml, err := net.Listen("tcp", currentConfig.Clipd.MetricsAddr)
		if err != nil {
			log.Error().Err(err).Msg("failed to listen for metrics")

			return
		}

		metrics := newMetricsServer(currentConfig.Clipd.MetricsAddr, registry)

		wg.Add(1)

		go func() {
			defer wg.Done()

			if err := metrics.Serve(ml); err != nil {
				log.Error().Err(err).Msg("metrics error")
			}
		}()

		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()

			_ = metrics.Shutdown(shutdownCtx)
			wg.Wait()
		}()
	}

	go func() {
		if err := pool.Run(ctx); err != nil {
			log.Error().Err(err).Msg("pool error")
		}

		healthServer.Shutdown()
		server.Stop()
	}()

	go func() {
		if err := disp.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("display error")
		}

		pool.Finish()
	}()

	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	log.Info().Str("socket", serviceSocket).Msg("starting server")

	err = server.Serve(l)
	if err != nil {
		log.Error().Err(err).Msg("gRPC server failed")
	}

	log.Info().Msg("server stopped")
}
