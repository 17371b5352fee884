package recorder

import (
	"github.com/gomlx/steptrace/pkg/trace/correlate"
	"github.com/pkg/errors"
)

// Optimizer is the capability the DistributedOptimizer needs from the wrapped optimizer.
// T is the framework's tensor type.
type Optimizer[T any] interface {
	Update(index int, weight, grad T, state any) error
	SetLearningRate(lr float64)
	SetLRMult(mult map[string]float64)
	SetWDMult(mult map[string]float64)
}

// PushPuller aggregates a gradient across workers, in place.
type PushPuller[T any] interface {
	PushPull(grad T, name string, priority int) error
}

// TraceEmitter is optionally implemented by a PushPuller able to dump the communication
// trace of one tensor to the communication stream.
type TraceEmitter interface {
	EmitTrace(name string) error
}

// DistributedOptimizer aggregates each gradient across workers before handing it to the
// wrapped optimizer, and reports every update to the Recorder.
type DistributedOptimizer[T any] struct {
	opt      Optimizer[T]
	comm     PushPuller[T]
	recorder *Recorder
}

// NewDistributedOptimizer wraps opt. recorder may be nil, in which case nothing is traced.
func NewDistributedOptimizer[T any](opt Optimizer[T], comm PushPuller[T], recorder *Recorder) *DistributedOptimizer[T] {
	return &DistributedOptimizer[T]{opt: opt, comm: comm, recorder: recorder}
}

// Update push-pulls the gradient of parameter index, with higher priority for lower
// indices, records it and updates the weight.
func (d *DistributedOptimizer[T]) Update(index int, weight, grad T, state any) error {
	name := correlate.GradientTensorName(index)
	if err := d.comm.PushPull(grad, name, -index); err != nil {
		return errors.WithMessagef(err, "push-pull of %q", name)
	}
	if err := d.record(index, name); err != nil {
		return err
	}
	return d.opt.Update(index, weight, grad, state)
}

// UpdateBatch updates several parameters at once: indices, weights, grads and states
// must have the same length.
func (d *DistributedOptimizer[T]) UpdateBatch(indices []int, weights, grads []T, states []any) error {
	if len(weights) != len(indices) || len(grads) != len(indices) || len(states) != len(indices) {
		return errors.Errorf("UpdateBatch: got %d indices, %d weights, %d gradients and %d states",
			len(indices), len(weights), len(grads), len(states))
	}
	for i, index := range indices {
		if err := d.Update(index, weights[i], grads[i], states[i]); err != nil {
			return err
		}
	}
	return nil
}

// record reports the update to the recorder; index 0 drives the step counter.
func (d *DistributedOptimizer[T]) record(index int, name string) error {
	if d.recorder == nil {
		return nil
	}
	emit, err := d.recorder.Observe(index, index == 0)
	if err != nil || !emit {
		return err
	}
	if emitter, ok := d.comm.(TraceEmitter); ok {
		if err = emitter.EmitTrace(name); err != nil {
			return errors.WithMessagef(err, "emitting communication trace of %q", name)
		}
	}
	d.recorder.MarkEmitted(index)
	return nil
}

// SetLearningRate of the wrapped optimizer.
func (d *DistributedOptimizer[T]) SetLearningRate(lr float64) { d.opt.SetLearningRate(lr) }

// SetLRMult sets the per-parameter learning rate multipliers of the wrapped optimizer.
func (d *DistributedOptimizer[T]) SetLRMult(mult map[string]float64) { d.opt.SetLRMult(mult) }

// SetWDMult sets the per-parameter weight decay multipliers of the wrapped optimizer.
func (d *DistributedOptimizer[T]) SetWDMult(mult map[string]float64) { d.opt.SetWDMult(mult) }
