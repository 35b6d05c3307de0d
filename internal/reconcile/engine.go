package reconcile

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/danmuck/plcctl/internal/mirror"
	"github.com/danmuck/plcctl/internal/mutate"
	"github.com/danmuck/plcctl/internal/observability"
	"github.com/danmuck/plcctl/internal/resource"
	"github.com/danmuck/plcctl/internal/scrape"
	"github.com/rs/zerolog/log"
)

// Dialer opens an authenticated console session for one run.
type Dialer func(ctx context.Context) (mutate.Console, error)

// Engine applies desired records to one console.
type Engine struct {
	Kinds  *resource.Registry
	Dial   Dialer
	Mirror mirror.Mirror
	// Poll defaults to mutate.DefaultPollConfig when zero.
	Poll mutate.PollConfig

	// Sleep, Now and ReadFile default to the real clock and filesystem.
	Sleep    func(ctx context.Context, d time.Duration) error
	Now      func() time.Time
	ReadFile func(name string) ([]byte, error)
}

// Result is the outcome of one Apply.
type Result struct {
	Changed bool
	Action  Action
}

// Apply validates d, reads the live state it concerns, and carries out the
// decided action. Any error aborts the run; there is no partial result.
func (e *Engine) Apply(ctx context.Context, d resource.Desired) (Result, error) {
	k, err := e.Kinds.Lookup(d.Kind)
	if err != nil {
		return Result{}, err
	}

	res, err := e.apply(ctx, k, d)
	observability.RecordReconcile(k.ID, res.Action.Kind.String(), err)
	if err != nil {
		log.Error().Err(err).Str("kind", k.ID).Str("name", d.Name).Stringer("action", res.Action.Kind).Msg("reconcile failed")
		return Result{}, err
	}
	log.Info().
		Str("kind", k.ID).
		Str("name", d.Name).
		Stringer("action", res.Action.Kind).
		Bool("changed", res.Changed).
		Msg("reconciled")
	return res, nil
}

func (e *Engine) apply(ctx context.Context, k resource.Kind, d resource.Desired) (Result, error) {
	if err := d.Validate(k); err != nil {
		return Result{}, err
	}
	if k.Artifact != nil {
		return e.applyArtifact(ctx, k, d)
	}
	return e.applyForm(ctx, k, d)
}

func (e *Engine) applyForm(ctx context.Context, k resource.Kind, d resource.Desired) (Result, error) {
	props, err := d.ResolvedProperties(k)
	if err != nil {
		return Result{}, err
	}
	console, err := e.Dial(ctx)
	if err != nil {
		return Result{}, err
	}

	var idx scrape.Index
	if !k.Singleton {
		resp, err := console.Get(ctx, k.ListPath)
		if err != nil {
			return Result{}, fmt.Errorf("list %s: %w", k.ID, err)
		}
		if idx, err = scrape.ScrapeIndex(resp.Body, k.KeyColumn); err != nil {
			return Result{}, fmt.Errorf("list %s: %w", k.ID, err)
		}
	}

	fetch := func(ctx context.Context, id string) (scrape.Record, error) {
		path := k.DetailPath
		if id != "" {
			path += url.QueryEscape(id)
		}
		resp, err := console.Get(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("detail %s %s: %w", k.ID, d.Name, err)
		}
		rec, err := scrape.ScrapeDetail(resp.Body, k.Detail)
		if err != nil {
			return nil, fmt.Errorf("detail %s %s: %w", k.ID, d.Name, err)
		}
		return rec, nil
	}

	action, err := Decide(ctx, k, d, props, idx, fetch)
	if err != nil {
		return Result{Action: action}, err
	}
	for _, c := range action.Changes {
		log.Debug().Str("kind", k.ID).Str("name", d.Name).Str("property", c.Property).Str("from", c.From).Str("to", c.To).Msg("property differs")
	}

	form := &mutate.Form{Console: console, Kind: k, ReadFile: e.ReadFile}
	switch action.Kind {
	case Create:
		err = form.Create(ctx, d, props)
	case Update:
		err = form.Update(ctx, d, action.Record)
	case Delete:
		err = form.Delete(ctx, action.RemoteID)
	}
	return Result{Changed: err == nil && action.Changed(), Action: action}, err
}

func (e *Engine) applyArtifact(ctx context.Context, k resource.Kind, d resource.Desired) (Result, error) {
	var local []byte
	if d.State == resource.StatePresent {
		data, err := e.readFile(d.File)
		if err != nil {
			return Result{}, fmt.Errorf("read %s: %w", d.File, err)
		}
		local = data
	}

	console, err := e.Dial(ctx)
	if err != nil {
		return Result{}, err
	}
	resp, err := console.Get(ctx, k.ListPath)
	if err != nil {
		return Result{}, fmt.Errorf("list %s: %w", k.ID, err)
	}
	rows, err := scrape.Rows(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("list %s: %w", k.ID, err)
	}

	m := e.Mirror
	if m == nil {
		m = mirror.Nop{}
	}
	action, err := DecideArtifact(ctx, k, d, local, rows, m)
	if err != nil {
		return Result{}, err
	}

	poll := e.Poll
	if poll == (mutate.PollConfig{}) {
		poll = mutate.DefaultPollConfig()
	}
	art := &mutate.Artifact{
		Console: console,
		Kind:    k,
		Mirror:  m,
		Poll:    poll,
		Sleep:   e.Sleep,
		Now:     e.Now,
	}
	switch action.Kind {
	case Create:
		err = art.Create(ctx, d, local)
	case Update:
		err = art.Update(ctx, d, action.RemoteID)
	case Delete:
		err = art.Delete(ctx, action.RemoteID, action.Filename)
	case NoOp:
		if action.Resume {
			err = art.Resume(ctx)
		}
	}
	return Result{Changed: err == nil && action.Changed(), Action: action}, err
}

func (e *Engine) readFile(name string) ([]byte, error) {
	if e.ReadFile != nil {
		return e.ReadFile(name)
	}
	return os.ReadFile(name)
}
