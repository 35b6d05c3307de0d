package mutate

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/plcctl/internal/controller"
	"github.com/danmuck/plcctl/internal/mirror"
	"github.com/danmuck/plcctl/internal/resource"
	"github.com/danmuck/plcctl/internal/scrape"
	"github.com/rs/zerolog/log"
)

// Artifact runs the upload/compile pipeline for one artifact kind.
type Artifact struct {
	Console Console
	Kind    resource.Kind
	Mirror  mirror.Mirror
	Poll    PollConfig
	Sleep   func(ctx context.Context, d time.Duration) error
	Now     func() time.Time
}

func (a *Artifact) layout() (*resource.ArtifactLayout, error) {
	if a.Kind.Artifact == nil {
		return nil, fmt.Errorf("mutate: kind %s has no artifact layout", a.Kind.ID)
	}
	return a.Kind.Artifact, nil
}

// Create uploads data as a new artifact named by d and waits for it to build.
func (a *Artifact) Create(ctx context.Context, d resource.Desired, data []byte) error {
	layout, err := a.layout()
	if err != nil {
		return err
	}

	resp, err := a.Console.Post(ctx, layout.UploadPath, url.Values{}, &controller.Upload{
		Field:       layout.UploadField,
		Filename:    filepath.Base(d.File),
		ContentType: layout.ContentType,
		Data:        data,
	})
	if err != nil {
		return fmt.Errorf("submit %s: %w", d.Name, err)
	}
	token, err := scrape.ScrapeToken(resp.Body, layout.TokenPattern)
	if err != nil {
		return fmt.Errorf("submit %s: %w", d.Name, err)
	}
	log.Info().Str("kind", a.Kind.ID).Str("name", d.Name).Str("token", token).Msg("artifact submitted")

	if _, err := a.Console.Post(ctx, layout.RegisterPath, a.registerForm(d, token), nil); err != nil {
		return fmt.Errorf("register %s as %s: %w", token, d.Name, err)
	}
	if layout.CompileOnCreate {
		if _, err := a.Console.Get(ctx, layout.CompilePath+url.QueryEscape(token)); err != nil {
			return fmt.Errorf("compile %s: %w", token, err)
		}
	}
	return a.build(ctx, layout, token)
}

// Update re-stages the listed artifact id, rebuilds it and resumes the
// runtime, which stops while the active program changes.
func (a *Artifact) Update(ctx context.Context, d resource.Desired, id string) error {
	layout, err := a.layout()
	if err != nil {
		return err
	}

	resp, err := a.Console.Get(ctx, layout.ReloadPath+url.QueryEscape(id))
	if err != nil {
		return fmt.Errorf("reload %s: %w", id, err)
	}
	token, err := scrape.ScrapeToken(resp.Body, layout.TokenPattern)
	if err != nil {
		return fmt.Errorf("reload %s: %w", id, err)
	}
	log.Info().Str("kind", a.Kind.ID).Str("name", d.Name).Str("id", id).Str("token", token).Msg("artifact reloaded")

	if _, err := a.Console.Post(ctx, layout.UpdateRegisterPath, a.registerForm(d, token), nil); err != nil {
		return fmt.Errorf("register %s as %s: %w", token, d.Name, err)
	}
	if _, err := a.Console.Get(ctx, layout.CompilePath+url.QueryEscape(token)); err != nil {
		return fmt.Errorf("compile %s: %w", token, err)
	}
	if err := a.build(ctx, layout, token); err != nil {
		return err
	}
	return a.Resume(ctx)
}

// Delete removes the listed artifact, then its stored copy. Removing the
// copy is best effort: failures are logged and dropped.
func (a *Artifact) Delete(ctx context.Context, id, filename string) error {
	if _, err := a.Console.Get(ctx, a.Kind.DeletePath+url.QueryEscape(id)); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	if a.Mirror == nil || filename == "" {
		return nil
	}
	if err := a.Mirror.Remove(ctx, filename); err != nil {
		log.Warn().Err(err).Str("kind", a.Kind.ID).Str("file", filename).Msg("stored artifact not removed")
	}
	return nil
}

// Resume puts the runtime back into running mode.
func (a *Artifact) Resume(ctx context.Context) error {
	layout, err := a.layout()
	if err != nil {
		return err
	}
	if layout.StartPath == "" {
		return nil
	}
	if _, err := a.Console.Get(ctx, layout.StartPath); err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	return nil
}

func (a *Artifact) build(ctx context.Context, layout *resource.ArtifactLayout, token string) error {
	poller := Poller{
		Console: a.Console,
		LogPath: layout.LogPath,
		Config:  a.Poll,
		Sleep:   a.Sleep,
	}
	if _, err := poller.Wait(ctx, token); err != nil {
		return err
	}
	log.Info().Str("kind", a.Kind.ID).Str("token", token).Msg("artifact built")
	return a.verify(ctx, layout, token)
}

// verify rereads the listing; the token must now be a stored artifact.
func (a *Artifact) verify(ctx context.Context, layout *resource.ArtifactLayout, token string) error {
	resp, err := a.Console.Get(ctx, a.Kind.ListPath)
	if err != nil {
		return fmt.Errorf("verify %s: %w", token, err)
	}
	rows, err := scrape.Rows(resp.Body)
	if err != nil {
		return fmt.Errorf("verify %s: %w", token, err)
	}
	files := scrape.IndexRows(rows, layout.FileColumn)
	if _, ok := files[token]; ok {
		return nil
	}
	listed := make([]string, 0, len(files))
	for name := range files {
		listed = append(listed, name)
	}
	sort.Strings(listed)
	return &VerificationError{Token: token, Listed: listed}
}

func (a *Artifact) registerForm(d resource.Desired, token string) url.Values {
	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	epoch := float64(now().UnixNano()) / float64(time.Second)
	return url.Values{
		"epoch_time": {strconv.FormatFloat(epoch, 'f', 6, 64)},
		"prog_name":  {d.Name},
		"prog_descr": {d.Description},
		"prog_file":  {token},
	}
}

func tailLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
