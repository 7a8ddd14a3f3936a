// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package pii detects and reversibly anonymizes personally identifiable
// information in message text.
//
// Detection has two paths. The primary path calls the external analyzer and
// anonymizer services over HTTP. When the services are unreachable, a
// built-in regex set covering the structured entity types (email, phone,
// credit card, SSN, IP address) takes over with a fixed confidence score.
//
// Anonymization replaces each detected span with a placeholder like
// <EMAIL_1> and records a TokenMapping for every replacement. Mappings are
// strictly request-scoped: the TokenMap is created per request, consumed
// once when the provider response is restored, and discarded.
package pii
