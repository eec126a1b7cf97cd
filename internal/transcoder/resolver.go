package transcoder

import (
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/smazurov/doorbell/internal/events"
	"github.com/smazurov/doorbell/internal/logging"
	"github.com/smazurov/doorbell/internal/metrics"
)

// ErrNoTranscoderAvailable is returned when every candidate fails its probe.
var ErrNoTranscoderAvailable = errors.New("no usable transcoder found")

// Prober checks whether a candidate can be run.
type Prober interface {
	Probe(ctx context.Context, c Candidate) error
}

// ExecProber runs "<executable> <fixed args> -version" and succeeds on exit
// code 0.
type ExecProber struct {
	Timeout time.Duration
}

// Probe implements Prober.
func (p ExecProber) Probe(ctx context.Context, c Candidate) error {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	return exec.CommandContext(ctx, c.Executable, c.Argv("-version")...).Run()
}

// Resolver picks the transcoder command once per process. Concurrent first
// callers share a single probe run. A failed resolution is not cached.
type Resolver struct {
	candidates []Candidate
	prober     Prober
	bus        *events.Bus
	logger     *slog.Logger

	group    singleflight.Group
	mu       sync.RWMutex
	resolved *Candidate
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithCandidates replaces DefaultCandidates.
func WithCandidates(c []Candidate) ResolverOption {
	return func(r *Resolver) { r.candidates = slices.Clone(c) }
}

// WithProber replaces the default ExecProber.
func WithProber(p Prober) ResolverOption {
	return func(r *Resolver) { r.prober = p }
}

// WithEventBus publishes a TranscoderResolvedEvent on success.
func WithEventBus(bus *events.Bus) ResolverOption {
	return func(r *Resolver) { r.bus = bus }
}

// NewResolver creates a Resolver.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		candidates: DefaultCandidates,
		prober:     ExecProber{Timeout: 5 * time.Second},
		logger:     logging.GetLogger("transcoder"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolved returns the cached command, if any.
func (r *Resolver) Resolved() (Candidate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.resolved == nil {
		return Candidate{}, false
	}
	return *r.resolved, true
}

// Resolve returns the cached command or probes the candidates in order.
// A caller whose ctx ends stops waiting; the shared probe run continues for
// the others.
func (r *Resolver) Resolve(ctx context.Context) (Candidate, error) {
	if c, ok := r.Resolved(); ok {
		return c, nil
	}

	probeCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan("resolve", func() (any, error) {
		if c, ok := r.Resolved(); ok {
			return c, nil
		}
		return r.probeAll(probeCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Candidate{}, res.Err
		}
		return res.Val.(Candidate), nil
	case <-ctx.Done():
		return Candidate{}, ctx.Err()
	}
}

func (r *Resolver) probeAll(ctx context.Context) (Candidate, error) {
	for _, c := range r.candidates {
		err := r.prober.Probe(ctx, c)
		metrics.TranscoderProbe(c.Executable, err == nil)
		if err != nil {
			r.logger.Debug("Transcoder candidate rejected", "command", c.String(), "error", err)
			continue
		}

		resolved := Candidate{Executable: c.Executable, FixedArgs: slices.Clone(c.FixedArgs)}
		r.mu.Lock()
		r.resolved = &resolved
		r.mu.Unlock()

		r.logger.Info("Transcoder resolved", "command", resolved.String())
		r.bus.Publish(events.TranscoderResolvedEvent{
			Executable: resolved.Executable,
			FixedArgs:  slices.Clone(resolved.FixedArgs),
			Timestamp:  time.Now().UTC().Format(time.RFC3339),
		})
		return resolved, nil
	}

	r.logger.Error("No usable transcoder found", "candidates", len(r.candidates))
	return Candidate{}, ErrNoTranscoderAvailable
}
