/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package metrics exposes Prometheus collectors for the editor core.
package metrics

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vocalis/internal/command"
)

var (
	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vocalis_commands_total",
		Help: "Commands published on the notification bus by type and direction",
	}, []string{"type", "direction"})

	listenerPanics = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vocalis_listener_panics_total",
		Help: "Recovered panics in notification listeners",
	})

	undoDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vocalis_undo_depth",
		Help: "Groups on the undo stack",
	})

	redoDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vocalis_redo_depth",
		Help: "Groups on the redo stack",
	})

	renderJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vocalis_render_jobs_total",
		Help: "Render jobs by kind and result (completed, canceled, failed)",
	}, []string{"kind", "result"})

	renderDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vocalis_render_duration_seconds",
		Help:    "Render job duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
	}, []string{"kind"})

	reloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vocalis_asset_reloads_total",
		Help: "Voicebank reloads by result",
	}, []string{"result"})

	reloadAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vocalis_asset_reload_attempts_total",
		Help: "Individual reload attempts including retries",
	})

	autosavesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vocalis_autosaves_total",
		Help: "Autosave runs by result",
	}, []string{"result"})
)

func result(err error) string {
	if err != nil {
		return "failed"
	}
	return "ok"
}

// ObserveRender records a finished render job. result is completed, canceled or failed.
func ObserveRender(kind, result string, d time.Duration) {
	renderJobs.WithLabelValues(kind, result).Inc()
	if result == "completed" {
		renderDuration.WithLabelValues(kind).Observe(d.Seconds())
	}
}

// ObserveReload records one processed asset and how many attempts it took.
func ObserveReload(attempts int, err error) {
	reloadsTotal.WithLabelValues(result(err)).Inc()
	reloadAttempts.Add(float64(attempts))
}

func ObserveAutosave(err error) { autosavesTotal.WithLabelValues(result(err)).Inc() }

func ListenerPanic() { listenerPanics.Inc() }

// Handler serves the default registry.
func Handler() http.Handler { return promhttp.Handler() }

// DepthSource reports history depth, implemented by the undo engine.
type DepthSource interface {
	UndoDepth() int
	RedoDepth() int
}

// Listener counts published commands and refreshes history gauges.
type Listener struct {
	depth DepthSource
}

func NewListener(d DepthSource) *Listener { return &Listener{depth: d} }

func (l *Listener) OnNotify(cmd command.Command, isUndo bool) {
	dir := "do"
	if isUndo {
		dir = "undo"
	}
	commandsTotal.WithLabelValues(typeName(cmd), dir).Inc()
	if l.depth != nil {
		undoDepth.Set(float64(l.depth.UndoDepth()))
		redoDepth.Set(float64(l.depth.RedoDepth()))
	}
}

// typeName strips the package path and pointer marker from the dynamic type.
func typeName(v any) string {
	s := strings.TrimPrefix(fmt.Sprintf("%T", v), "*")
	if i := strings.LastIndexByte(s, '.'); i >= 0 {
		s = s[i+1:]
	}
	return s
}
