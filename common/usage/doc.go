// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

/*
Package usage defines the gateway's usage record and an asynchronous
recorder for shipping records off the request path.

# Overview

Every completed proxy request produces one Record with token counts, cost,
security flags, and timing. Records are write-only from the data plane's
perspective: the proxy emits them to the control plane, which persists and
aggregates them.

# Recording

Create a recorder around any Sink (the proxy uses its control-plane client):

	recorder := usage.NewRecorder(sink, log)
	defer recorder.Close()

	recorder.Record(usage.Record{
	    UserID:       "user-123",
	    Provider:     "OPENAI",
	    Model:        "gpt-4o-mini",
	    InputTokens:  150,
	    OutputTokens: 200,
	    TotalTokens:  350,
	    Cost:         0.000495,
	    RequestID:    requestID,
	})

Record returns immediately; delivery happens on a background goroutine with
its own deadline, so a slow or unreachable sink can never delay a client
response. Delivery failures are logged and dropped; usage metering is
best-effort.

# Thread Safety

Recorder is safe for concurrent use. Close waits for in-flight deliveries.
*/
package usage
