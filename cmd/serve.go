// Copyright 2018-2023 CERN
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// In applying this license, CERN does not waive the privileges and immunities
// granted to it by virtue of its status as an Intergovernmental Organization
// or submit itself to any jurisdiction.

package cmd

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cs3org/sweettooth/service"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Expose sweettooth as an HTTP service.",
	Run: func(cmd *cobra.Command, args []string) {
		defer closeLogger()

		s, err := service.New(&config.Sweettooth)
		if err != nil {
			log.Fatal().Err(err).Send()
		}

		ctx, cancel := context.WithCancel(log.WithContext(cmd.Context()))
		defer cancel()
		s.Start(ctx)

		handler := service.RecoverFromPanicMiddleware(log, s.Handler())
		handler = service.RequestLoggerMiddleware(log, handler)
		server := &http.Server{
			Addr:              config.HTTP.Address,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}

		// TODO: add support to TLS
		done := trapSignals(server, cancel, s)
		log.Info().Str("address", config.HTTP.Address).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Send()
		}
		<-done
	},
}

func trapSignals(server *http.Server, cancel context.CancelFunc, closable ...io.Closer) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		sig := <-sigint
		log.Info().Stringer("signal", sig).Msg("shutting down")

		cancel()
		ctx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
		defer stop()
		if err := server.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("error shutting down http server")
		}
		for _, c := range closable {
			if err := c.Close(); err != nil {
				log.Error().Err(err).Send()
			}
		}
	}()
	return done
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
