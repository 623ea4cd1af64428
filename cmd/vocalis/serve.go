/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"vocalis/internal/app"
	"vocalis/internal/command"
	applog "vocalis/internal/log"
	"vocalis/internal/metrics"
)

const shutdownTimeout = 5 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	var (
		metricsAddr    string
		recoverSidecar bool
	)
	cmd := &cobra.Command{
		Use:   "serve <dir>",
		Short: "Open a project and keep its session running (autosave, voicebank reload, metrics)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := absDir(args[0])
			cfg := opts.cfg
			if metricsAddr != "" {
				cfg.Metrics.Addr = metricsAddr
			}
			l := applog.WithComponent("cli").With(slog.String("root", root))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := app.Open(ctx, root, app.Options{Config: cfg, Recover: recoverSidecar})
			if err != nil {
				return err
			}
			opts.reporter.Root = root
			opts.reporter.Doc = s.Engine()

			var srv *http.Server
			if cfg.Metrics.Addr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", metrics.Handler())
				srv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						l.Error("metrics server stopped", slog.Any("err", err))
					}
				}()
				l.Info("metrics endpoint", slog.String("addr", cfg.Metrics.Addr))
			}

			if cfg.Render.PreRender {
				s.Engine().Execute(command.PreRenderNotification{})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Serving %s (Ctrl+C to stop)\n", root)
			<-ctx.Done()

			l.Info("shutting down")
			if srv != nil {
				sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := srv.Shutdown(sctx); err != nil {
					l.Warn("metrics server shutdown", slog.Any("err", err))
				}
			}
			return s.Close()
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "listen address for /metrics (overrides config)")
	cmd.Flags().BoolVar(&recoverSidecar, "recover", false, "load a newer autosave or crash snapshot if present")
	return cmd
}
