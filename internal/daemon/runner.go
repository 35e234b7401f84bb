package daemon

import (
	"context"
	"time"

	"github.com/benaskins/hotmacro/internal/action"
)

// runWorker executes queued macros one at a time so runs never interleave.
func (d *Daemon) runWorker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			d.drainQueue()
			return
		case j := <-d.queue:
			d.runJob(ctx, j)
		}
	}
}

func (d *Daemon) runJob(ctx context.Context, j job) {
	runCtx, cancel := context.WithCancel(action.WithTrigger(ctx, j.trigger))
	defer cancel()

	// A cancel that lands after the job left the queue but before it is
	// registered here still applies to it.
	d.runMu.Lock()
	if j.gen != d.cancelGen {
		d.runMu.Unlock()
		d.logger.Debug("skipping macro cancelled while queued", "key", j.key)
		d.finish(j, skippedReport(j))
		return
	}
	d.runCancel = cancel
	d.runMu.Unlock()

	report := d.dispatcher.ExecuteMacro(runCtx, j.key, j.actions)

	d.runMu.Lock()
	d.runCancel = nil
	d.runMu.Unlock()

	d.finish(j, report)
}

func (d *Daemon) finish(j job, r action.Report) {
	d.recordReport(r)
	if j.done != nil {
		j.done <- r
	}
}

func (d *Daemon) recordReport(r action.Report) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reports = append(d.reports, r)
	if len(d.reports) > recentRuns {
		d.reports = d.reports[len(d.reports)-recentRuns:]
	}
}

// CancelRuns cancels the running macro and discards queued ones, including
// any the worker has taken but not yet started. It returns how many runs
// were affected.
func (d *Daemon) CancelRuns() int {
	n := 0
	d.runMu.Lock()
	d.cancelGen++
	if d.runCancel != nil {
		d.runCancel()
		n++
	}
	d.runMu.Unlock()

	n += d.drainQueue()
	if n > 0 {
		d.logger.Info("cancelled macro runs", "count", n)
	}
	return n
}

// drainQueue discards queued jobs, answering waiters with a cancelled report.
func (d *Daemon) drainQueue() int {
	n := 0
	for {
		select {
		case j := <-d.queue:
			n++
			if j.done != nil {
				j.done <- skippedReport(j)
			}
		default:
			return n
		}
	}
}

func skippedReport(j job) action.Report {
	r := action.Report{Key: j.key, StartedAt: time.Now(), Cancelled: true}
	for _, a := range j.actions {
		c := action.Classify(a)
		r.Outcomes = append(r.Outcomes, action.Outcome{Action: a, Kind: c.Kind, Target: c.Target, Status: action.StatusSkipped})
	}
	return r
}
