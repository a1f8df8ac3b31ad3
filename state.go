package corevk

import (
	"fmt"

	vk "github.com/vulkan-go/vulkan"
)

// pendingTransition is one not-yet-flushed request to move a handle's
// resource from its current logical layout to a new one, generalizing
// the teacher's immediate-mode per-call transitions (renderpass.go) so
// multiple requests against the same handle within a frame can
// coalesce into a single barrier (spec.md §4.5/§4.6).
type pendingTransition struct {
	handle Handle
	kind   ResourceKind
	to     interface{} // ImageLayout or BufferLayout
}

// StateTranslator accumulates pending layout transitions across a
// frame and flushes them as one coalesced PipelineBarrierBatch,
// replacing the teacher's scattered vkCmdPipelineBarrier call sites
// in renderpass.go/application.go with the single "one barrier per
// handle per flush" path spec.md §4.6 requires.
type StateTranslator struct {
	table     *ResourceTable
	pending   []pendingTransition
	indexOf   map[Handle]int // handle -> index into pending, for coalescing
	capacity  int
}

// NewStateTranslator bounds the pending ring to capacity entries
// (spec.md §4.6: "bounded ring, ~64 pending translations"); Request
// beyond capacity returns an error rather than growing unbounded.
func NewStateTranslator(table *ResourceTable, capacity int) *StateTranslator {
	return &StateTranslator{
		table:    table,
		pending:  make([]pendingTransition, 0, capacity),
		indexOf:  make(map[Handle]int, capacity),
		capacity: capacity,
	}
}

// RequestImageTransition queues (or coalesces into an existing queued
// entry for the same handle) a transition to layout `to`. When a
// handle is requested twice in the same flush window, only the final
// `to` survives — the coalescing spec.md §4.6 mandates.
func (t *StateTranslator) RequestImageTransition(h Handle, to ImageLayout) error {
	return t.request(h, ResourceImage, to)
}

func (t *StateTranslator) RequestBufferTransition(h Handle, to BufferLayout) error {
	return t.request(h, ResourceBuffer, to)
}

func (t *StateTranslator) request(h Handle, kind ResourceKind, to interface{}) error {
	if idx, ok := t.indexOf[h]; ok {
		t.pending[idx].to = to
		return nil
	}
	if len(t.pending) >= t.capacity {
		return fmt.Errorf("corevk: state translator pending ring full (capacity %d)", t.capacity)
	}
	t.indexOf[h] = len(t.pending)
	t.pending = append(t.pending, pendingTransition{handle: h, kind: kind, to: to})
	return nil
}

// Flush builds one PipelineBarrierBatch out of every pending
// transition, applies the resulting layout to each resource, and
// clears the pending set. Returns an error (without clearing) if the
// accumulated batch would exceed PipelineBarrierBuilder's bounds,
// matching spec.md §4.6's bounded-barrier invariant.
func (t *StateTranslator) Flush() (PipelineBarrierBatch, error) {
	builder := NewPipelineBarrierBuilder()
	for _, p := range t.pending {
		res := t.table.Get(p.handle)
		if res == nil {
			continue // handle was freed before flush; nothing to transition
		}
		switch p.kind {
		case ResourceImage:
			to := p.to.(ImageLayout)
			from := res.Image.Layout()
			if from == to {
				continue
			}
			aspect := aspectForFormat(res.Image.Format())
			ext := res.Image.Extent()
			if err := builder.AddImageTransition(res.Image.Handle(), vk.ImageAspectFlags(aspect), from, to, 0, ext.MipLevels, 0, ext.ArrayLayers*maxU32(ext.Faces, 1)); err != nil {
				return PipelineBarrierBatch{}, err
			}
			res.Image.SetLayout(to)
		case ResourceBuffer:
			to := p.to.(BufferLayout)
			from := res.Buffer.Layout()
			if from == to {
				continue
			}
			if err := builder.AddBufferTransition(res.Buffer.Handle(), from, to, 0, res.Buffer.Size()); err != nil {
				return PipelineBarrierBatch{}, err
			}
			res.Buffer.SetLayout(to)
		}
	}
	t.pending = t.pending[:0]
	for k := range t.indexOf {
		delete(t.indexOf, k)
	}
	return builder.Build(), nil
}

// Pending reports how many transitions are currently queued, exposed
// for metrics and tests.
func (t *StateTranslator) Pending() int {
	return len(t.pending)
}
