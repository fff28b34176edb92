package graph

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/aretw0/weft/pkg/domain"
	"github.com/aretw0/weft/pkg/executor"
)

// errEndReached cancels in-flight nodes once the End node has emitted.
var errEndReached = errors.New("end node reached")

type nodeState struct {
	node    domain.Node
	exec    executor.Executor
	caps    executor.Capabilities
	in      []int
	out     []int
	running bool
	runs    int
}

// batch is one queue entry. Node outputs are queued one message per entry;
// the task seeded on Start edges is a single entry so a node downstream of
// Start receives the whole task in one firing.
type batch []domain.Message

type completion struct {
	id      string
	outputs []domain.Message
	err     error
}

// run is the state of one graph execution. Queues and node flags are owned by
// the goroutine running execute; workers only report completions.
type run struct {
	e      *Executor
	g      *domain.Graph
	rc     *executor.Context
	start  string
	order  []string
	nodes  map[string]*nodeState
	queues [][]batch
	back   []bool

	pool    *semaphore.Weighted
	running int
	done    chan completion

	result   Result
	sinkLast map[string][]domain.Message
}

func newRun(e *Executor, g *domain.Graph, rc *executor.Context) (*run, error) {
	r := &run{
		e:        e,
		g:        g,
		rc:       rc,
		start:    g.Start(),
		nodes:    make(map[string]*nodeState, len(g.Nodes)),
		queues:   make([][]batch, len(g.Edges)),
		back:     make([]bool, len(g.Edges)),
		pool:     semaphore.NewWeighted(int64(e.maxParallel)),
		done:     make(chan completion),
		sinkLast: make(map[string][]domain.Message),
		result:   Result{Outputs: make(map[string]domain.Message)},
	}
	for _, ei := range BackEdges(g) {
		r.back[ei] = true
	}
	for _, n := range g.Nodes {
		ex, err := e.registry.Build(rc, n)
		if err != nil {
			return nil, fmt.Errorf("build node %s: %w", n.ID, err)
		}
		r.order = append(r.order, n.ID)
		r.nodes[n.ID] = &nodeState{
			node: n,
			exec: ex,
			caps: e.registry.Capabilities(n.Type),
			in:   g.Incoming(n.ID),
			out:  g.Outgoing(n.ID),
		}
	}
	return r, nil
}

func (r *run) execute(ctx context.Context, task []domain.Message) (Result, error) {
	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	r.seed(task)
	for {
		if ctx.Err() != nil {
			return r.abort(cancel, domain.Cancelled(ctx))
		}

		launched := r.launchReady(runCtx, false)
		if r.running == 0 && launched == 0 {
			if r.launchReady(runCtx, true) == 0 {
				if pending := r.pending(); len(pending) > 0 {
					err := fmt.Errorf("%w: queued input for %s", domain.ErrSchedulerStalled, strings.Join(pending, ", "))
					r.rc.Log.Error("", "scheduler stalled", map[string]any{"nodes": pending})
					return r.result, err
				}
				r.finish()
				return r.result, nil
			}
		}

		select {
		case c := <-r.done:
			r.running--
			r.nodes[c.id].running = false
			end, err := r.complete(ctx, c)
			if err != nil {
				return r.abort(cancel, err)
			}
			if end {
				cancel(errEndReached)
				r.drain()
				return r.result, nil
			}
		case <-ctx.Done():
			return r.abort(cancel, domain.Cancelled(ctx))
		}
	}
}

// seed places the task on every edge leaving Start.
func (r *run) seed(task []domain.Message) {
	if len(task) == 0 {
		task = []domain.Message{domain.NewMessage(domain.RoleUser, "")}
	}
	for _, ei := range r.g.Outgoing(r.start) {
		b := make(batch, len(task))
		for i, m := range task {
			m = m.Clone()
			if m.Source() == "" {
				m = m.WithMeta("source", r.start)
			}
			b[i] = m
		}
		r.queues[ei] = append(r.queues[ei], b)
	}
}

func (r *run) abort(cancel context.CancelCauseFunc, err error) (Result, error) {
	cancel(err)
	r.drain()
	r.result.Cancelled = true
	r.rc.Log.Warn("", "run cancelled", map[string]any{"error": err.Error()})
	return r.result, err
}

// drain waits for in-flight workers after the run context was cancelled and
// discards what they produce.
func (r *run) drain() {
	for r.running > 0 {
		c := <-r.done
		r.running--
		r.nodes[c.id].running = false
	}
}

// settled computes which nodes can never fire again. In forced mode every
// idle node without queued input counts as settled.
func (r *run) settled(forced bool) map[string]bool {
	s := map[string]bool{r.start: true}
	if forced {
		for id, ns := range r.nodes {
			if !ns.running && !r.queued(ns) {
				s[id] = true
			}
		}
		return s
	}
	for changed := true; changed; {
		changed = false
		for _, id := range r.order {
			ns := r.nodes[id]
			if s[id] || ns.running || r.queued(ns) {
				continue
			}
			ok := true
			for _, ei := range ns.in {
				if !s[r.g.Edges[ei].From] {
					ok = false
					break
				}
			}
			if ok {
				s[id] = true
				changed = true
			}
		}
	}
	return s
}

func (r *run) queued(ns *nodeState) bool {
	for _, ei := range ns.in {
		if len(r.queues[ei]) > 0 {
			return true
		}
	}
	return false
}

// ready reports whether ns has input and no required edge is empty. Back
// edges and edges from settled sources are optional.
func (r *run) ready(ns *nodeState, settled map[string]bool) bool {
	if ns.running {
		return false
	}
	hasInput := false
	for _, ei := range ns.in {
		if len(r.queues[ei]) > 0 {
			hasInput = true
			continue
		}
		if r.back[ei] || settled[r.g.Edges[ei].From] {
			continue
		}
		return false
	}
	return hasInput
}

func (r *run) launchReady(ctx context.Context, forced bool) int {
	settled := r.settled(forced)
	n := 0
	for _, id := range r.order {
		ns := r.nodes[id]
		if !r.ready(ns, settled) {
			continue
		}
		r.launch(ctx, ns, r.consume(ns))
		n++
	}
	return n
}

// consume pops one entry from every non-empty incoming edge.
func (r *run) consume(ns *nodeState) []domain.Message {
	var inputs []domain.Message
	for _, ei := range ns.in {
		if q := r.queues[ei]; len(q) > 0 {
			inputs = append(inputs, q[0]...)
			r.queues[ei] = q[1:]
		}
	}
	return inputs
}

func (r *run) launch(ctx context.Context, ns *nodeState, inputs []domain.Message) {
	ns.running = true
	ns.runs++
	r.running++
	node := ns.node
	go func() {
		outputs, err := r.invoke(ctx, ns, node, inputs)
		r.done <- completion{id: node.ID, outputs: outputs, err: err}
	}()
}

// invoke runs one node inside the worker pool and its resource semaphore.
func (r *run) invoke(ctx context.Context, ns *nodeState, node domain.Node, inputs []domain.Message) (outputs []domain.Message, err error) {
	if err := r.pool.Acquire(ctx, 1); err != nil {
		return nil, domain.Cancelled(ctx)
	}
	defer r.pool.Release(1)

	release, err := r.e.limiter.Acquire(ctx, ns.caps.ResourceKey, ns.caps.ResourceLimit)
	if err != nil {
		return nil, domain.Cancelled(ctx)
	}
	defer release()

	started := time.Now()
	event := &domain.NodeEvent{
		EventBase: domain.EventBase{Timestamp: started, Type: domain.EventNodeEnter, RunID: r.runID()},
		NodeID:    node.ID,
		NodeType:  node.Type,
		Inputs:    len(inputs),
	}
	if r.rc.Hooks.OnNodeEnter != nil {
		r.rc.Hooks.OnNodeEnter(ctx, event)
	}
	r.rc.Log.NodeBegin(node.ID, map[string]any{"type": node.Type, "inputs": len(inputs), "run": ns.runs})
	var hookToken string
	if r.rc.Hook != nil {
		hookToken = r.rc.Hook.BeforeNode(ctx, node, r.rc.Workspace)
	}

	defer func() {
		if p := recover(); p != nil {
			r.rc.Logger.Error("node panicked", "node", node.ID, "panic", p, "stack", string(debug.Stack()))
			outputs, err = nil, fmt.Errorf("panic: %v", p)
		}
		if r.rc.Hook != nil {
			r.rc.Hook.AfterNode(context.WithoutCancel(ctx), node, r.rc.Workspace, hookToken, err == nil)
		}
		elapsed := time.Since(started)
		payload := map[string]any{"outputs": len(outputs)}
		if err != nil {
			payload["error"] = err.Error()
		}
		r.rc.Log.NodeEnd(node.ID, payload, elapsed)
		if r.rc.Hooks.OnNodeLeave != nil {
			leave := *event
			leave.Timestamp = time.Now()
			leave.Type = domain.EventNodeLeave
			leave.Outputs = len(outputs)
			leave.Duration = elapsed
			leave.Err = err
			r.rc.Hooks.OnNodeLeave(ctx, &leave)
		}
	}()

	if err := r.rc.CheckCancelled(ctx); err != nil {
		return nil, err
	}
	return ns.exec.Execute(ctx, node, inputs)
}

// complete routes a finished node's outputs. It reports whether the End node
// terminated the run, or an error when the node was cancelled.
func (r *run) complete(ctx context.Context, c completion) (bool, error) {
	ns := r.nodes[c.id]
	outputs := c.outputs
	if c.err != nil {
		if isCancellation(ctx, c.err) {
			if errors.Is(c.err, domain.ErrWorkflowCancelled) {
				return false, c.err
			}
			return false, domain.Cancelled(ctx)
		}
		r.rc.Logger.Error("node failed", "node", c.id, "type", ns.node.Type, "err", c.err)
		r.rc.Log.Error(c.id, "node failed", map[string]any{"error": c.err.Error(), "type": ns.node.Type})
		outputs = []domain.Message{
			domain.NewMessage(domain.RoleAssistant, fmt.Sprintf("Error executing node %s: %v", c.id, c.err)).
				WithMeta("source", c.id).
				WithMeta("error", c.err.Error()),
		}
	}
	if len(outputs) == 0 {
		return false, nil
	}
	for i := range outputs {
		if outputs[i].Source() == "" {
			outputs[i] = outputs[i].WithMeta("source", c.id)
		}
	}
	last := outputs[len(outputs)-1]
	r.result.Outputs[c.id] = last.Clone()

	if c.id == r.g.EndNodeID {
		final := last.Clone()
		r.result.FinalMessage = &final
		r.result.Terminal = domain.CloneMessages(outputs)
		return true, nil
	}
	if len(ns.out) == 0 {
		r.sinkLast[c.id] = domain.CloneMessages(outputs)
		final := last.Clone()
		r.result.FinalMessage = &final
	}
	for _, ei := range ns.out {
		for _, m := range outputs {
			r.queues[ei] = append(r.queues[ei], batch{m.Clone()})
		}
	}
	return false, nil
}

// finish builds the terminal messages of a run that ended by quiescence.
func (r *run) finish() {
	for _, id := range r.order {
		if msgs, ok := r.sinkLast[id]; ok {
			r.result.Terminal = append(r.result.Terminal, msgs...)
		}
	}
}

func (r *run) pending() []string {
	var ids []string
	for _, id := range r.order {
		if r.queued(r.nodes[id]) {
			ids = append(ids, id)
		}
	}
	return ids
}

func (r *run) runID() string {
	if r.rc.Log == nil {
		return ""
	}
	return r.rc.Log.LogID()
}
