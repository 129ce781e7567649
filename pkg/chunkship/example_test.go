package chunkship_test

import (
	"context"
	"fmt"
	"time"

	"github.com/bft-labs/chunkship/pkg/chunkship"
)

// ExampleNew demonstrates how to embed chunkship in your application.
func ExampleNew() {
	cfg := chunkship.DefaultConfig()
	cfg.ProjectKey = "your-project-key"
	cfg.FlushInterval = time.Minute

	cs, err := chunkship.New(cfg, chunkship.WithTransport(printTransport{}))
	if err != nil {
		fmt.Printf("failed to create chunkship: %v\n", err)
		return
	}

	if err := cs.Start(context.Background()); err != nil {
		fmt.Printf("failed to start: %v\n", err)
		return
	}

	_ = cs.EnqueueAndPost("SN-0001", []chunkship.Chunk{[]byte("chunk-1"), []byte("chunk-2")})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = cs.Flush(ctx)

	_ = cs.Close()
	fmt.Println(cs.Status())

	// Output:
	// SN-0001: 2 chunks
	// Stopped
}

// printTransport prints each batch instead of uploading it.
type printTransport struct{}

func (printTransport) Post(ctx context.Context, deviceID string, chunks []chunkship.Chunk) error {
	fmt.Printf("%s: %d chunks\n", deviceID, len(chunks))
	return nil
}

// Example_withEventHandler demonstrates how to receive delivery events.
func Example_withEventHandler() {
	cfg := chunkship.DefaultConfig()
	cfg.ProjectKey = "your-project-key"

	cs, err := chunkship.New(cfg, chunkship.WithEventHandler(&logHandler{}))
	if err != nil {
		fmt.Printf("failed to create chunkship: %v\n", err)
		return
	}
	defer cs.Close()

	_ = cs // Enqueue chunks...
}

// logHandler implements chunkship.EventHandler for delivery notifications.
type logHandler struct {
	chunkship.BaseEventHandler // Embed for no-op defaults
}

func (h *logHandler) OnDelivery(event chunkship.DeliveryEvent) {
	switch {
	case event.Error == nil:
		fmt.Printf("%s: delivered %d chunks in %v\n", event.DeviceID, event.ChunkCount, event.Duration)
	case event.Dropped:
		fmt.Printf("%s: dropped %d chunks: %v\n", event.DeviceID, event.ChunkCount, event.Error)
	default:
		fmt.Printf("%s: attempt %d failed, retry in %v: %v\n", event.DeviceID, event.Attempt, event.RetryIn, event.Error)
	}
}
