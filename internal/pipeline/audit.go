package pipeline

import (
	"context"

	"fieldbridge/internal/eventbus"
	"fieldbridge/internal/storage"
	logx "fieldbridge/pkg/logx"
)

// Recorder persists cycle and delivery events to the audit store.
type Recorder struct {
	store storage.Store
	log   logx.Logger
}

func NewRecorder(store storage.Store, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{store: store, log: log}
}

// Run consumes events from ch until ctx is done or ch closes. Events already
// buffered when ctx is done are still written.
func (r *Recorder) Run(ctx context.Context, ch <-chan eventbus.Event) error {
	for {
		select {
		case <-ctx.Done():
			r.drain(context.WithoutCancel(ctx), ch)
			return ctx.Err()
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			r.write(ctx, e)
		}
	}
}

func (r *Recorder) drain(ctx context.Context, ch <-chan eventbus.Event) {
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return
			}
			r.write(ctx, e)
		default:
			return
		}
	}
}

func (r *Recorder) write(ctx context.Context, e eventbus.Event) {
	if err := r.record(ctx, e); err != nil {
		r.log.Warn("audit write failed", logx.String("event", e.Type), logx.Err(err))
	}
}

func (r *Recorder) record(ctx context.Context, e eventbus.Event) error {
	switch e.Type {
	case eventbus.CycleFinished:
		rep, ok := e.Data.(Report)
		if !ok {
			return nil
		}
		return r.store.AppendCycle(ctx, storage.CycleRecord{
			RunID:      rep.RunID,
			StartedAt:  rep.StartedAt,
			FinishedAt: rep.FinishedAt,
			Workspaces: rep.Workspaces,
			Tasks:      rep.Tasks,
			Documents:  rep.Documents,
			Fallbacks:  rep.Fallbacks,
			Success:    rep.Success,
			Failed:     rep.Failed,
			Error:      rep.Error,
		})
	case eventbus.Delivery:
		d, ok := e.Data.(DeliveryEvent)
		if !ok {
			return nil
		}
		return r.store.AppendDelivery(ctx, storage.DeliveryRecord{
			RunID:  e.RunID,
			At:     e.Time,
			Kind:   d.Kind,
			TaskID: d.TaskID,
			OK:     d.OK,
		})
	}
	return nil
}
