package reconcile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/danmuck/plcctl/internal/mirror"
	"github.com/danmuck/plcctl/internal/resource"
	"github.com/danmuck/plcctl/internal/scrape"
	"github.com/rs/zerolog/log"
)

// DetailFetcher scrapes the live record with remote id. Singleton kinds are
// fetched with an empty id.
type DetailFetcher func(ctx context.Context, id string) (scrape.Record, error)

// Decide picks the action for a form-backed kind. props are the desired
// properties with file-backed values already resolved.
func Decide(ctx context.Context, k resource.Kind, d resource.Desired, props resource.Properties, idx scrape.Index, fetch DetailFetcher) (Action, error) {
	if k.Singleton {
		if d.State != resource.StatePresent {
			return Action{}, &resource.ValidationError{Kind: k.ID, Name: d.Name, Field: resource.FieldState, Reason: "singleton kinds are present-only"}
		}
		return decideUpdate(ctx, k, d, props, "", fetch)
	}

	id, known := idx[d.Name]
	switch {
	case !known && d.State == resource.StateAbsent:
		return Action{Kind: NoOp}, nil
	case !known:
		return Action{Kind: Create}, nil
	case d.State == resource.StateAbsent:
		return Action{Kind: Delete, RemoteID: id}, nil
	default:
		return decideUpdate(ctx, k, d, props, id, fetch)
	}
}

func decideUpdate(ctx context.Context, k resource.Kind, d resource.Desired, props resource.Properties, id string, fetch DetailFetcher) (Action, error) {
	live, err := fetch(ctx, id)
	if err != nil {
		return Action{}, err
	}
	changes, merged, err := Diff(k.ID, d.Name, props, live)
	if err != nil {
		return Action{}, err
	}
	if len(changes) == 0 {
		return Action{Kind: NoOp, RemoteID: id}, nil
	}
	return Action{Kind: Update, RemoteID: id, Changes: changes, Record: merged}, nil
}

// Diff compares desired properties against a live record. Every desired key
// must exist in the live record. The returned record is a copy of live with
// the desired values applied; live itself is left untouched.
func Diff(kind, name string, desired resource.Properties, live scrape.Record) ([]Change, scrape.Record, error) {
	merged := live.Clone()
	var changes []Change
	for _, key := range slices.Sorted(maps.Keys(desired)) {
		current, ok := live[key]
		if !ok {
			return nil, nil, &resource.ValidationError{
				Kind:   kind,
				Name:   name,
				Field:  resource.FieldProperties,
				Reason: fmt.Sprintf("%q is not a property of the live record (have %v)", key, live.Keys()),
			}
		}
		want := desired[key]
		if current == want {
			continue
		}
		changes = append(changes, Change{Property: key, From: current, To: want})
		merged[key] = want
	}
	return changes, merged, nil
}

// DecideArtifact picks the action for an artifact kind. For a listed
// artifact the stored copy is compared with local first: identical bytes
// are a NoOp that still resumes the runtime. An unreadable stored copy is
// treated as different.
func DecideArtifact(ctx context.Context, k resource.Kind, d resource.Desired, local []byte, rows []scrape.Row, m mirror.Mirror) (Action, error) {
	if k.Artifact == nil {
		return Action{}, fmt.Errorf("reconcile: kind %s has no artifact layout", k.ID)
	}

	row, known := findRow(rows, k.KeyColumn, d.Name)
	switch {
	case !known && d.State == resource.StateAbsent:
		return Action{Kind: NoOp}, nil
	case !known:
		return Action{Kind: Create}, nil
	}

	filename, _ := row.Cell(k.Artifact.FileColumn)
	if d.State == resource.StateAbsent {
		return Action{Kind: Delete, RemoteID: row.ID, Filename: filename}, nil
	}

	if m != nil && filename != "" {
		stored, err := m.Fetch(ctx, filename)
		switch {
		case err == nil && bytes.Equal(stored, local):
			return Action{Kind: NoOp, RemoteID: row.ID, Filename: filename, Resume: true}, nil
		case errors.Is(err, mirror.ErrUnavailable):
			log.Debug().Str("kind", k.ID).Str("name", d.Name).Msg("no mirror; rebuilding")
		case err != nil:
			log.Warn().Err(err).Str("kind", k.ID).Str("file", filename).Msg("stored artifact unreadable; rebuilding")
		}
	}
	return Action{Kind: Update, RemoteID: row.ID, Filename: filename}, nil
}

// findRow returns the last row named name, matching the last-wins index.
func findRow(rows []scrape.Row, keyColumn int, name string) (scrape.Row, bool) {
	var (
		found scrape.Row
		ok    bool
	)
	for _, row := range rows {
		if cell, has := row.Cell(keyColumn); has && cell == name {
			found, ok = row, true
		}
	}
	return found, ok
}
