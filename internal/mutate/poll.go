package mutate

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/danmuck/plcctl/internal/observability"
	"github.com/danmuck/plcctl/internal/scrape"
	"github.com/rs/zerolog/log"
)

// Outcome is the observed state of an asynchronous build.
type Outcome int

const (
	Pending Outcome = iota
	Succeeded
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Pending:
		return "pending"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// FailureMarker is a log line that ends a build as failed.
type FailureMarker struct {
	Text   string
	Reason string
}

// Markers classify a compile log.
type Markers struct {
	Success  string
	Failures []FailureMarker
}

// DefaultMarkers are the lines the console's compiler writes. The compiler
// prints a literal "error(s)"; the plural spelling is accepted as well.
var DefaultMarkers = Markers{
	Success: "Compilation finished successfully!",
	Failures: []FailureMarker{
		{Text: "Compilation finished with errors!", Reason: "compilation finished with errors"},
		{Text: "error(s) found. Bailing out!", Reason: "error during compilation of the code"},
		{Text: "errors found. Bailing out!", Reason: "error during compilation of the code"},
	},
}

// Classify reads one log snapshot. Success is checked first, so a log that
// carries both a success and a failure line counts as succeeded.
func Classify(body string, m Markers) (Outcome, FailureMarker) {
	if m.Success != "" {
		if _, ok := scrape.ContainsAny(body, m.Success); ok {
			return Succeeded, FailureMarker{}
		}
	}
	for _, f := range m.Failures {
		if _, ok := scrape.ContainsAny(body, f.Text); ok {
			return Failed, f
		}
	}
	return Pending, FailureMarker{}
}

// Poller waits for a build by rereading its log.
type Poller struct {
	Console Console
	LogPath string
	Markers Markers
	Config  PollConfig
	// Sleep defaults to SleepContext; tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
	// Rand drives Config.Jitter; nil seeds one from the clock.
	Rand *rand.Rand
}

// Wait sleeps, reads the log and classifies it until the build ends. A
// pending log is not an error. The loop stops early on ctx cancellation or
// when Config.MaxAttempts reads have stayed pending.
func (p *Poller) Wait(ctx context.Context, token string) (Outcome, error) {
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepContext
	}
	markers := p.Markers
	if markers.Success == "" && len(markers.Failures) == 0 {
		markers = DefaultMarkers
	}
	rng := p.Rand
	if rng == nil && p.Config.Jitter {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	for attempt := 1; ; attempt++ {
		if p.Config.MaxAttempts > 0 && attempt > p.Config.MaxAttempts {
			return Pending, fmt.Errorf("%w: %s after %d reads", ErrPollExhausted, token, p.Config.MaxAttempts)
		}
		if err := sleep(ctx, NextPollDelay(p.Config, attempt, rng)); err != nil {
			return Pending, err
		}

		resp, err := p.Console.Get(ctx, p.LogPath)
		if err != nil {
			return Pending, err
		}
		outcome, marker := Classify(resp.Body, markers)
		observability.RecordCompilePoll(outcome.String())
		log.Debug().Str("token", token).Int("attempt", attempt).Stringer("outcome", outcome).Msg("compile poll")

		switch outcome {
		case Succeeded:
			return Succeeded, nil
		case Failed:
			return Failed, &CompilationError{
				Token:  token,
				Marker: marker.Text,
				Reason: marker.Reason,
				Log:    tailLines(resp.Body, 20),
			}
		}
	}
}
