package events

import (
	"sync"

	"appevents/pkg/models"
)

// Processor gets a last look at an event's params before they are
// serialized. It receives a private copy and returns the params to emit.
type Processor interface {
	Process(params models.Params) models.Params
}

type ProcessorFunc func(params models.Params) models.Params

func (f ProcessorFunc) Process(params models.Params) models.Params {
	return f(params)
}

type ProcessorRegistry struct {
	mu         sync.RWMutex
	processors []Processor
}

func NewProcessorRegistry() *ProcessorRegistry {
	return &ProcessorRegistry{}
}

func (r *ProcessorRegistry) Register(p Processor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processors = append(r.processors, p)
}

// Processors returns the registered processors in registration order.
func (r *ProcessorRegistry) Processors() []Processor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Processor, len(r.processors))
	copy(out, r.processors)
	return out
}
