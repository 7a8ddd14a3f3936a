// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package usage

import (
	"context"
	"sync"
	"time"

	"axonflow/gateway/shared/logger"
)

// deliveryTimeout bounds one background delivery attempt.
const deliveryTimeout = 5 * time.Second

// Sink receives usage records. The proxy's control-plane client implements
// this; tests substitute their own.
type Sink interface {
	RecordUsage(ctx context.Context, record Record) error
}

// Recorder ships records to a Sink off the request path. Failures are
// logged, never propagated: metering must not affect request outcomes.
type Recorder struct {
	sink Sink
	log  *logger.Logger
	wg   sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewRecorder creates a recorder around the sink.
func NewRecorder(sink Sink, log *logger.Logger) *Recorder {
	return &Recorder{sink: sink, log: log}
}

// Record queues one record for delivery and returns immediately. Records
// arriving after Close are dropped.
func (r *Recorder) Record(record Record) {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		defer cancel()

		if err := r.sink.RecordUsage(ctx, record); err != nil && r.log != nil {
			r.log.Warn(record.UserID, record.RequestID, "failed to record usage", map[string]interface{}{
				"provider": record.Provider,
				"model":    record.Model,
				"error":    err.Error(),
			})
		}
	}()
}

// Close waits for in-flight deliveries to finish. Subsequent Record calls
// are no-ops.
func (r *Recorder) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.wg.Wait()
}
