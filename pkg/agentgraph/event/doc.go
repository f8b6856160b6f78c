// Package event provides the synchronous event pipeline that agent runs
// report through.
//
// The interpreter, the tool-call loop and the checkpoint manager emit
// typed events (node lifecycle, tool calls, model calls, stream frames,
// checkpoints, rollbacks) into a Pipeline. Subscribers receive them in
// registration order, on the emitting goroutine.
//
// # Failure isolation
//
// A subscriber that returns an error or panics never affects the run or the
// other subscribers. The failure is logged and recorded in the pipeline's
// DeadLetters:
//
//	p := event.NewPipeline(event.WithLogger(logger))
//	p.Subscribe(exporter, event.NodeCompleted, event.NodeFailed)
//	p.Emit(ctx, event.Event{Kind: event.NodeCompleted, NodeID: "callLLM"})
//	for _, f := range p.DeadLetters().List() {
//	    log.Println(f.Subscriber, f.Error)
//	}
//
// Close closes every subscriber, best-effort, and joins their errors.
package event
