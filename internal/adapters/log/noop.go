package log

import "github.com/bft-labs/chunkship/internal/ports"

// Noop implements ports.Logger by discarding every message.
// It is the default when no logger is configured.
type Noop struct{}

func (Noop) Debug(string, ...ports.Field) {}
func (Noop) Info(string, ...ports.Field)  {}
func (Noop) Warn(string, ...ports.Field)  {}
func (Noop) Error(string, ...ports.Field) {}
