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

// Package controller implements the serialized event loop of the agent.
// Policy updates, DHCP notifications and operational state changes are all
// pushed into one queue and processed strictly one at a time; every event
// is applied to the dataplane in its own transaction.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ligato/cn-infra/health/statuscheck"
	"github.com/ligato/cn-infra/infra"
	"github.com/ligato/cn-infra/rpc/rest"
	scheduler "github.com/ligato/vpp-agent/plugins/kvscheduler/api"

	"github.com/gbpvpp/agent/plugins/controller/api"
	"github.com/gbpvpp/agent/plugins/stats"
)

// Controller implements single-threaded event processing.
type Controller struct {
	Deps

	config *Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	eventQueue chan api.Event
	closeLock  sync.Mutex
	closed     bool

	evSeqNum uint64

	historyLock  sync.Mutex
	eventHistory []*EventRecord
}

// Deps lists dependencies of the Controller.
type Deps struct {
	infra.PluginDeps

	Scheduler     scheduler.KVScheduler
	StatusCheck   statuscheck.PluginStatusWriter // optional
	HTTPHandlers  rest.HTTPHandlers              // optional
	Stats         *stats.Plugin                  // optional
	EventHandlers []api.EventHandler

	// ExtTxnFactory, when set, replaces the KVScheduler-backed transactions.
	// Used by tests to record the applied configuration.
	ExtTxnFactory api.TxnFactory
}

// Config holds the tunables of the event loop.
type Config struct {
	EventQueueSize        int           `json:"eventQueueSize"`
	EnableRetry           bool          `json:"enableRetry"`
	DelayRetry            time.Duration `json:"delayRetry"`
	EnableExpBackoffRetry bool          `json:"enableExpBackoffRetry"`
	RecordEventHistory    bool          `json:"recordEventHistory"`
	EventHistorySize      int           `json:"eventHistorySize"`
}

func defaultConfig() *Config {
	return &Config{
		EventQueueSize:        1000,
		EnableRetry:           true,
		DelayRetry:            time.Second,
		EnableExpBackoffRetry: true,
		RecordEventHistory:    true,
		EventHistorySize:      500,
	}
}

// EventRecord is a per-event entry of the processing history.
type EventRecord struct {
	SeqNum      uint64
	Name        string
	Description string
	Handlers    []*EventHandlingRecord
	TxnSeqNum   int
	TxnErrorStr string
	Started     time.Time
	Ended       time.Time
}

// EventHandlingRecord records the outcome of one handler for one event.
type EventHandlingRecord struct {
	Handler  string
	Change   string
	ErrorStr string
}

// Init loads the configuration and starts the event loop.
func (c *Controller) Init() error {
	c.config = defaultConfig()
	if c.Cfg != nil {
		if _, err := c.Cfg.LoadValue(c.config); err != nil {
			return err
		}
	}

	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.eventQueue = make(chan api.Event, c.config.EventQueueSize)

	c.wg.Add(1)
	go c.eventLoop()

	if c.HTTPHandlers != nil {
		c.registerHandlers()
	}
	return nil
}

// AfterInit pushes the startup resync.
func (c *Controller) AfterInit() error {
	return c.PushEvent(&api.Resync{})
}

// Close terminates the event loop.
func (c *Controller) Close() error {
	c.closeLock.Lock()
	if !c.closed {
		c.closed = true
		c.cancel()
	}
	c.closeLock.Unlock()
	c.wg.Wait()
	return nil
}

// PushEvent adds an event into the processing queue.
func (c *Controller) PushEvent(event api.Event) error {
	c.closeLock.Lock()
	defer c.closeLock.Unlock()
	if c.closed {
		return errors.New("event loop is closed")
	}
	select {
	case c.eventQueue <- event:
		return nil
	default:
		return errors.New("event queue is full")
	}
}

func (c *Controller) eventLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return

		case event := <-c.eventQueue:
			if _, isShutdown := event.(*api.Shutdown); isShutdown {
				return
			}
			err := c.processEvent(event)
			if err != nil && api.IsFatalError(err) {
				// the agent cannot continue without a working dataplane
				if c.StatusCheck != nil {
					c.StatusCheck.ReportStateChange(c.PluginName, statuscheck.Error, err)
				}
				return
			}
		}
	}
}

// processEvent runs all interested handlers over the event and commits
// the collected updates in a single transaction.
func (c *Controller) processEvent(event api.Event) error {
	var wasErr error
	started := time.Now()

	evRecord := &EventRecord{
		SeqNum:      c.evSeqNum,
		Name:        event.GetName(),
		Description: event.String(),
		TxnSeqNum:   -1,
		Started:     started,
	}
	c.evSeqNum++

	handlers := filterHandlersForEvent(event, c.EventHandlers)
	c.Log.Infof("event #%d: %s, handlers: %v",
		evRecord.SeqNum, event.String(), handlerNames(handlers))

	var txn api.Transaction
	if c.ExtTxnFactory != nil {
		txn = c.ExtTxnFactory.NewTxn()
	} else {
		txn = newTransaction(c.Scheduler)
	}

	var fatal bool
	changes := make(map[string]string) // handler -> change description
	for _, handler := range handlers {
		change, err := handler.Update(event, txn)
		if change != "" {
			changes[handler.String()] = change
		}
		record := &EventHandlingRecord{
			Handler: handler.String(),
			Change:  change,
		}
		if err != nil {
			record.ErrorStr = err.Error()
			wasErr = err
			c.Stats.HandlerError(handler.String())
			if api.IsFatalError(err) {
				fatal = true
			}
		}
		evRecord.Handlers = append(evRecord.Handlers, record)
		if fatal {
			break
		}
	}

	_, isResync := event.(*api.Resync)
	if !fatal && (len(changes) > 0 || isResync) {
		description := event.GetName()
		for _, handler := range sortedKeys(changes) {
			description += fmt.Sprintf("\n* %s: %s", handler, changes[handler])
		}
		ctx := context.Background()
		ctx = scheduler.WithDescription(ctx, description)
		if c.config.EnableRetry {
			ctx = scheduler.WithRetry(ctx, c.config.DelayRetry, 0, c.config.EnableExpBackoffRetry)
		}
		if isResync {
			ctx = scheduler.WithResync(ctx, scheduler.FullResync, false)
		}

		seqNum, err := txn.Commit(ctx)
		evRecord.TxnSeqNum = seqNum
		if err != nil {
			evRecord.TxnErrorStr = err.Error()
			wasErr = err
			c.Stats.TransactionError()
		} else {
			c.Stats.TransactionCommitted()
		}
	}

	evRecord.Ended = time.Now()
	c.recordEvent(evRecord)
	c.Stats.EventProcessed(event.GetName(), evRecord.Ended.Sub(started))

	if wasErr != nil {
		c.Log.Errorf("event #%d (%s) failed: %v", evRecord.SeqNum, event.GetName(), wasErr)
	}
	return wasErr
}

func (c *Controller) recordEvent(record *EventRecord) {
	if !c.config.RecordEventHistory {
		return
	}
	c.historyLock.Lock()
	defer c.historyLock.Unlock()
	c.eventHistory = append(c.eventHistory, record)
	if len(c.eventHistory) > c.config.EventHistorySize {
		c.eventHistory = c.eventHistory[len(c.eventHistory)-c.config.EventHistorySize:]
	}
}

// EventHistory returns a copy of the recorded event history.
func (c *Controller) EventHistory() []*EventRecord {
	c.historyLock.Lock()
	defer c.historyLock.Unlock()
	history := make([]*EventRecord, len(c.eventHistory))
	copy(history, c.eventHistory)
	return history
}

func filterHandlersForEvent(event api.Event, handlers []api.EventHandler) []api.EventHandler {
	var filtered []api.EventHandler
	for _, handler := range handlers {
		if handler.HandlesEvent(event) {
			filtered = append(filtered, handler)
		}
	}
	return filtered
}

func handlerNames(handlers []api.EventHandler) (names []string) {
	for _, handler := range handlers {
		names = append(names, handler.String())
	}
	return names
}

func sortedKeys(m map[string]string) (keys []string) {
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
