// Copyright (c) 2019 Cisco and/or its affiliates.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at:
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package stats exports counters about the event loop and the reconciler
// in the Prometheus format.
package stats

import (
	"net/http"
	"time"

	"github.com/ligato/cn-infra/infra"
	"github.com/ligato/cn-infra/rpc/rest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/unrolled/render"
)

// API is used by the event loop and the reconciler to account processed work.
// All methods are safe to call on a nil plugin, which keeps the callers free
// of nil checks when metrics are disabled.
type API interface {
	EventProcessed(eventName string, duration time.Duration)
	HandlerError(handler string)
	TransactionCommitted()
	TransactionError()
	ObjectsAsserted(count int)
	ObjectsSwept(count int)
	SetObjectCount(count int)
}

// Plugin implements API and serves the metrics over the shared HTTP server.
type Plugin struct {
	Deps

	registry *prometheus.Registry

	eventsProcessed *prometheus.CounterVec
	eventDuration   *prometheus.HistogramVec
	handlerErrors   *prometheus.CounterVec
	txnsCommitted   prometheus.Counter
	txnErrors       prometheus.Counter
	objectsAsserted prometheus.Counter
	objectsSwept    prometheus.Counter
	objectCount     prometheus.Gauge
}

// Deps lists dependencies of the stats plugin.
type Deps struct {
	infra.PluginDeps
	HTTPHandlers rest.HTTPHandlers
}

// Init creates the collectors and registers the /metrics handler.
func (p *Plugin) Init() error {
	p.registry = prometheus.NewRegistry()

	p.eventsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gbp_events_processed_total",
		Help: "Number of processed events per event type.",
	}, []string{"event"})
	p.eventDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "gbp_event_duration_seconds",
		Help: "Time spent processing a single event.",
	}, []string{"event"})
	p.handlerErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gbp_handler_errors_total",
		Help: "Number of errors returned by event handlers.",
	}, []string{"handler"})
	p.txnsCommitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gbp_transactions_committed_total",
		Help: "Number of successfully committed dataplane transactions.",
	})
	p.txnErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gbp_transaction_errors_total",
		Help: "Number of failed dataplane transactions.",
	})
	p.objectsAsserted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gbp_objects_asserted_total",
		Help: "Number of desired-state objects asserted by the renderers.",
	})
	p.objectsSwept = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gbp_objects_swept_total",
		Help: "Number of desired-state objects removed by the sweep phase.",
	})
	p.objectCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gbp_object_count",
		Help: "Current number of desired-state objects.",
	})

	collectors := []prometheus.Collector{
		p.eventsProcessed, p.eventDuration, p.handlerErrors,
		p.txnsCommitted, p.txnErrors,
		p.objectsAsserted, p.objectsSwept, p.objectCount,
	}
	for _, collector := range collectors {
		if err := p.registry.Register(collector); err != nil {
			return err
		}
	}

	if p.HTTPHandlers != nil {
		p.HTTPHandlers.RegisterHTTPHandler("/metrics",
			func(formatter *render.Render) http.HandlerFunc {
				return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{}).ServeHTTP
			}, "GET")
	}
	return nil
}

// Close is NOOP.
func (p *Plugin) Close() error {
	return nil
}

// EventProcessed accounts one processed event.
func (p *Plugin) EventProcessed(eventName string, duration time.Duration) {
	if p == nil {
		return
	}
	p.eventsProcessed.WithLabelValues(eventName).Inc()
	p.eventDuration.WithLabelValues(eventName).Observe(duration.Seconds())
}

// HandlerError accounts one handler failure.
func (p *Plugin) HandlerError(handler string) {
	if p == nil {
		return
	}
	p.handlerErrors.WithLabelValues(handler).Inc()
}

// TransactionCommitted accounts one committed transaction.
func (p *Plugin) TransactionCommitted() {
	if p == nil {
		return
	}
	p.txnsCommitted.Inc()
}

// TransactionError accounts one failed transaction.
func (p *Plugin) TransactionError() {
	if p == nil {
		return
	}
	p.txnErrors.Inc()
}

// ObjectsAsserted accounts objects put by the renderers.
func (p *Plugin) ObjectsAsserted(count int) {
	if p == nil {
		return
	}
	p.objectsAsserted.Add(float64(count))
}

// ObjectsSwept accounts objects removed by the sweep phase.
func (p *Plugin) ObjectsSwept(count int) {
	if p == nil {
		return
	}
	p.objectsSwept.Add(float64(count))
}

// SetObjectCount updates the desired-state object count gauge.
func (p *Plugin) SetObjectCount(count int) {
	if p == nil {
		return
	}
	p.objectCount.Set(float64(count))
}
