// Package ports defines the interfaces (ports) that connect the application
// layer to infrastructure adapters.
//
// In Clean Architecture / Hexagonal Architecture, ports are the boundaries
// between the application core and the outside world. They define what the
// delivery core needs from external systems without specifying how those needs
// are fulfilled.
//
// # Port Interfaces
//
//   - [ChunkQueue]: Ordered pending chunks for one device
//   - [ChunkQueueProvider]: Creates the queue for a device on first use
//   - [Transport]: Delivers a batch of chunks to the ingestion service
//   - [EventEmitter]: Receives the outcome of every delivery attempt
//   - [StatusRepository]: Persists per-device delivery status
//   - [Logger]: Structured logging abstraction
//   - [HTTPClient]: HTTP request abstraction for dependency injection
//
// # Usage
//
// The application layer (internal/app) depends only on these interfaces.
// Infrastructure adapters (internal/adapters) implement them with concrete
// implementations (memory, Badger, SQLite, HTTP, zerolog, etc.).
package ports
