// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

/*
Package logger provides structured JSON logging for the gateway services.

Every entry is a single JSON object on stdout carrying the component name,
instance and container identifiers, the authenticated user ID, and the
request ID so one request can be traced across the data plane, the control
plane, and the usage record it produces.

Usage:

	log := logger.New("gateway")
	log.Info(userID, requestID, "request processed", map[string]interface{}{
		"provider": "OPENAI",
		"blocked":  false,
	})

Pass empty strings for userID or requestID when no request is in scope
(startup, background refresh).
*/
package logger
