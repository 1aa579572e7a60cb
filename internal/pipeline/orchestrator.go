// Package pipeline runs one poll cycle: fetch updated tasks, render cards,
// deliver them.
package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"fieldbridge/internal/card"
	"fieldbridge/internal/eventbus"
	"fieldbridge/internal/fieldwire"
	"fieldbridge/internal/teams"
	logx "fieldbridge/pkg/logx"
)

// Source is the Fieldwire side. List methods return a non-nil error only
// when the cycle must be abandoned (authentication).
type Source interface {
	ListWorkspaces(ctx context.Context, filter []string) ([]fieldwire.Workspace, error)
	ListUpdatedTasks(ctx context.Context, workspaceID string, window time.Duration) ([]fieldwire.Task, error)
	ListAttachments(ctx context.Context, workspaceID, taskID string) ([]fieldwire.Attachment, error)
	ResolveAttachmentURL(ctx context.Context, workspaceID, attachmentID string) (string, bool)
}

type Renderer interface {
	RenderResult(task fieldwire.Task, atts []fieldwire.Attachment) card.Result
}

// Deliverer is the Teams side. SendAll attempts every document and reports
// each outcome in BatchResult.Delivered.
type Deliverer interface {
	SendAll(ctx context.Context, docs []card.Document) teams.BatchResult
	SendSummary(ctx context.Context, doc card.SummaryDocument) (bool, error)
}

// Delivery modes.
const (
	ModeCards   = "cards"
	ModeSummary = "summary"
	ModeBoth    = "both"
)

// Options are the per-cycle knobs; they can change between cycles.
type Options struct {
	// ProjectFilter keeps only these workspace ids; empty means all.
	ProjectFilter []string
	// Window is the trailing update window, normally the poll interval.
	Window time.Duration
	Mode   string
	// ResolveURLs looks up media URLs for attachments that arrive without one.
	ResolveURLs bool
}

// Report describes one cycle.
type Report struct {
	RunID       string
	StartedAt   time.Time
	FinishedAt  time.Time
	Workspaces  int
	Tasks       int
	Documents   int
	Fallbacks   int
	Success     int
	Failed      int
	SummarySent bool
	Error       string
}

// DeliveryEvent is the payload of eventbus.Delivery.
type DeliveryEvent struct {
	Kind   string // card or summary
	TaskID string
	OK     bool
}

type rendered struct {
	taskID string
	doc    card.Document
}

// Orchestrator owns the cycle. It is driven by one goroutine at a time.
type Orchestrator struct {
	src Source
	r   Renderer
	d   Deliverer
	bus eventbus.Bus
	log logx.Logger

	mu   sync.Mutex
	opts Options

	newID func() string
	now   func() time.Time
}

func New(src Source, r Renderer, d Deliverer, bus eventbus.Bus, opts Options, log logx.Logger) *Orchestrator {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Orchestrator{
		src:   src,
		r:     r,
		d:     d,
		bus:   bus,
		log:   log,
		opts:  opts,
		newID: uuid.NewString,
		now:   time.Now,
	}
}

// SetOptions applies to the next cycle.
func (o *Orchestrator) SetOptions(opts Options) {
	o.mu.Lock()
	o.opts = opts
	o.mu.Unlock()
}

func (o *Orchestrator) options() Options {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opts
}

func (o *Orchestrator) publish(typ, runID string, data any) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(eventbus.Event{Type: typ, RunID: runID, Data: data})
}

// Run executes one cycle. Any error aborts the cycle before delivery; a
// panic is recovered and returned as an error.
func (o *Orchestrator) Run(ctx context.Context) (rep Report, err error) {
	opts := o.options()
	rep = Report{RunID: o.newID(), StartedAt: o.now()}
	log := o.log.With(logx.String("run", rep.RunID))
	o.publish(eventbus.CycleStarted, rep.RunID, rep)

	defer func() {
		if r := recover(); r != nil {
			log.Error("poll cycle panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic in poll cycle: %v", r)
		}
		rep.FinishedAt = o.now()
		if err != nil {
			rep.Error = err.Error()
		}
		o.publish(eventbus.CycleFinished, rep.RunID, rep)
	}()

	log.Info("starting task sync", logx.Duration("window", opts.Window), logx.String("mode", mode(opts)))

	docs, err := o.collect(ctx, log, opts, &rep)
	if err != nil {
		if fieldwire.IsAuthError(err) {
			log.Error("fieldwire authentication failed; cycle abandoned", logx.Err(err))
		}
		return rep, err
	}
	if len(docs) == 0 {
		log.Info("nothing to send")
		return rep, nil
	}

	o.deliver(ctx, log, mode(opts), docs, &rep)
	log.Info("cycle complete",
		logx.Int("sent", rep.Success), logx.Int("failed", rep.Failed),
		logx.Int("fallbacks", rep.Fallbacks), logx.Duration("took", o.now().Sub(rep.StartedAt)))
	return rep, nil
}

// RunSafe is the scheduled entry point: it logs and swallows cycle errors.
func (o *Orchestrator) RunSafe(ctx context.Context) {
	if _, err := o.Run(ctx); err != nil {
		o.log.Error("error in poll cycle", logx.Err(err))
	}
}

func (o *Orchestrator) collect(ctx context.Context, log logx.Logger, opts Options, rep *Report) ([]rendered, error) {
	workspaces, err := o.src.ListWorkspaces(ctx, opts.ProjectFilter)
	if err != nil {
		return nil, err
	}
	rep.Workspaces = len(workspaces)
	if len(workspaces) == 0 {
		log.Warn("no projects found")
		return nil, nil
	}

	var docs []rendered
	for _, ws := range workspaces {
		tasks, err := o.src.ListUpdatedTasks(ctx, ws.ID, opts.Window)
		if err != nil {
			return nil, err
		}
		for _, task := range tasks {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			rep.Tasks++
			atts, err := o.src.ListAttachments(ctx, ws.ID, task.ID)
			if err != nil {
				return nil, err
			}
			if opts.ResolveURLs {
				o.resolveMissing(ctx, ws.ID, atts)
			}
			res := o.r.RenderResult(task, atts)
			if res.Fallback {
				rep.Fallbacks++
			}
			docs = append(docs, rendered{taskID: task.ID, doc: res.Doc})
		}
	}
	rep.Documents = len(docs)
	return docs, nil
}

// resolveMissing fills media URLs for the attachments a card will show.
func (o *Orchestrator) resolveMissing(ctx context.Context, workspaceID string, atts []fieldwire.Attachment) {
	for i := range atts {
		if i >= card.MaxPhotos {
			return
		}
		a := &atts[i]
		if a.MediaURL() != "" || strings.TrimSpace(a.ID) == "" {
			continue
		}
		if u, ok := o.src.ResolveAttachmentURL(ctx, workspaceID, a.ID); ok {
			a.FileURL = u
		}
	}
}

func (o *Orchestrator) deliver(ctx context.Context, log logx.Logger, m string, docs []rendered, rep *Report) {
	all := make([]card.Document, len(docs))
	for i, r := range docs {
		all[i] = r.doc
	}
	if m == ModeSummary || m == ModeBoth {
		ok, err := o.d.SendSummary(ctx, card.RenderBatchSummary(all))
		if err != nil {
			log.Error("error sending summary", logx.Err(err))
		}
		rep.SummarySent = ok
		o.publish(eventbus.Delivery, rep.RunID, DeliveryEvent{Kind: "summary", OK: ok})
	}
	if m == ModeSummary {
		return
	}
	res := o.d.SendAll(ctx, all)
	rep.Success, rep.Failed = res.Success, res.Failed
	for i, r := range docs {
		ok := i < len(res.Delivered) && res.Delivered[i]
		if !ok {
			log.Warn("card not delivered", logx.String("task", r.taskID))
		}
		o.publish(eventbus.Delivery, rep.RunID, DeliveryEvent{Kind: "card", TaskID: r.taskID, OK: ok})
	}
}

func mode(opts Options) string {
	switch m := strings.ToLower(strings.TrimSpace(opts.Mode)); m {
	case ModeSummary, ModeBoth:
		return m
	default:
		return ModeCards
	}
}
