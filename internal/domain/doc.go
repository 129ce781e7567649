// Package domain contains the core domain entities and value objects for chunkship.
//
// This package is the innermost layer of the Clean Architecture. It has no
// dependencies on infrastructure concerns (HTTP, storage engines, logging) and
// contains only the vocabulary shared by the delivery core and its adapters.
//
// # Entities
//
//   - [Chunk]: An opaque unit of device data, delivered byte for byte
//   - [SenderState]: The state of a per-device sender
//   - [Outcome]: The completion record of one delivery attempt
//
// # Design Principles
//
// Domain entities are:
//   - Free of infrastructure dependencies
//   - Opaque where the delivery core must not look inside (chunk payloads)
//   - Testable without mocks or external systems
package domain
