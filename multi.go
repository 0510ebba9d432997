package dive

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"go.tigermatt.uk/dive/protocol"
	"go.tigermatt.uk/dive/registry"
)

// Job is one device to download from.
type Job struct {
	Descriptor registry.Descriptor
	Addr       string
	// Options apply to this job only, after the shared ones.
	Options []protocol.Option
}

// Outcome is the result of one Job.
type Outcome struct {
	Job    Job
	Result *protocol.Result
	Err    error
}

// DownloadAll downloads from several devices at once, at most limit at a
// time (no limit when limit <= 0). Every job gets its own Connection; a
// failed job does not stop the others. Outcomes are in job order and the
// error joins the failures. Shared options run on several goroutines, so
// callbacks they install must be safe for concurrent use.
func DownloadAll(ctx context.Context, jobs []Job, limit int, opts ...protocol.Option) ([]Outcome, error) {
	out := make([]Outcome, len(jobs))

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, job := range jobs {
		g.Go(func() error {
			o := append(append([]protocol.Option(nil), opts...), job.Options...)
			res, err := Download(ctx, job.Descriptor, job.Addr, o...)
			out[i] = Outcome{Job: job, Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, o := range out {
		if o.Err != nil {
			errs = append(errs, fmt.Errorf("%s at %s: %w", o.Job.Descriptor.ID(), o.Job.Addr, o.Err))
		}
	}
	return out, errors.Join(errs...)
}
