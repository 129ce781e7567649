// Package chunkship provides an embeddable store-and-forward agent that relays
// opaque device chunks to a chunks ingestion service.
//
// Every device identity gets its own FIFO queue and sender. A sender keeps at
// most one request in flight, retries a failed batch with exponential backoff
// and, after MaxConsecutiveErrors failed attempts, drops the batch and moves on.
//
// # Basic Usage
//
//	cfg := chunkship.DefaultConfig()
//	cfg.ProjectKey = "your-project-key"
//
//	cs, err := chunkship.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer cs.Close()
//
//	if err := cs.EnqueueAndPost("device-serial", []chunkship.Chunk{data}); err != nil {
//	    log.Printf("enqueue: %v", err)
//	}
//
// # Queues
//
// Chunks are kept in memory by default and lost on exit. Set
// Config.QueueDriver to [QueueBadger] or [QueueSQLite] with a QueuePath to
// keep them across restarts; devices with pending chunks are resumed by Start.
//
// # Background Workers
//
// [Chunkship.Start] runs the optional workers: a flush scheduler
// (Config.FlushInterval) requesting delivery for every device, and a status
// recorder (Config.StatusDir) persisting per-device delivery counters.
//
// # Event Handling
//
// Implement [EventHandler] and pass it via [WithEventHandler]. Delivery events
// are called synchronously from a device's delivery goroutine and should
// return quickly.
//
// # Dependency Injection
//
// For testing, inject a transport or queue backend:
//
//	cs, err := chunkship.New(cfg,
//	    chunkship.WithTransport(fakeTransport),
//	    chunkship.WithLogger(customLogger),
//	)
package chunkship
