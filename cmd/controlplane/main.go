// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package main is the entry point for the AxonFlow Gateway control plane.
//
// The control plane owns per-user security rules, gateway configuration,
// usage records, and the audit log, and serves the internal API the data
// plane consults.
//
// Usage:
//
//	./controlplane
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 3001)
//	STORAGE_BACKEND - postgres (default) or mongodb
//	DATABASE_URL - PostgreSQL connection string (postgres backend)
//	MONGO_URL - MongoDB connection string (mongodb backend)
package main

import (
	"log"

	"axonflow/gateway/controlplane"
)

func main() {
	if err := controlplane.Run(); err != nil {
		log.Fatalf("controlplane: %v", err)
	}
}
