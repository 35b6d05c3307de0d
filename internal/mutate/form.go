package mutate

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/danmuck/plcctl/internal/controller"
	"github.com/danmuck/plcctl/internal/resource"
	"github.com/danmuck/plcctl/internal/scrape"
	"github.com/rs/zerolog/log"
)

// Form mutates form-backed kinds: one POST to create or update, one GET to
// delete.
type Form struct {
	Console Console
	Kind    resource.Kind
	// ReadFile loads upload property files; defaults to os.ReadFile.
	ReadFile func(name string) ([]byte, error)
}

// Create posts props as a new record named by d. Every property in
// Kind.CreateRequired must be present.
func (f *Form) Create(ctx context.Context, d resource.Desired, props resource.Properties) error {
	var missing []string
	for _, name := range f.Kind.CreateRequired {
		if _, ok := props[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &resource.ValidationError{
			Kind:   f.Kind.ID,
			Name:   d.Name,
			Field:  resource.FieldProperties,
			Reason: "missing " + strings.Join(missing, ", ") + " to create",
		}
	}

	values := make(map[string]string, len(props)+1)
	for k, v := range props {
		values[k] = v
	}
	if f.Kind.NameProperty != "" {
		values[f.Kind.NameProperty] = d.Name
	}
	if err := f.post(ctx, f.Kind.CreatePath, values); err != nil {
		return fmt.Errorf("create %s %s: %w", f.Kind.ID, d.Name, err)
	}
	log.Info().Str("kind", f.Kind.ID).Str("name", d.Name).Msg("record created")
	return nil
}

// Update posts the full merged record; the console replaces every field it
// receives.
func (f *Form) Update(ctx context.Context, d resource.Desired, record scrape.Record) error {
	if err := f.post(ctx, f.Kind.UpdatePath, record); err != nil {
		return fmt.Errorf("update %s %s: %w", f.Kind.ID, d.Name, err)
	}
	log.Info().Str("kind", f.Kind.ID).Str("name", d.Name).Msg("record updated")
	return nil
}

// Delete removes the record with remote id.
func (f *Form) Delete(ctx context.Context, id string) error {
	if _, err := f.Console.Get(ctx, f.Kind.DeletePath+url.QueryEscape(id)); err != nil {
		return fmt.Errorf("delete %s %s: %w", f.Kind.ID, id, err)
	}
	log.Info().Str("kind", f.Kind.ID).Str("id", id).Msg("record deleted")
	return nil
}

func (f *Form) post(ctx context.Context, path string, values map[string]string) error {
	form := url.Values{}
	var upload *controller.Upload
	for k, v := range values {
		if k == f.Kind.UploadProperty && v != "" {
			u, err := f.upload(v)
			if err != nil {
				return err
			}
			upload = u
			continue
		}
		form.Set(k, v)
	}
	_, err := f.Console.Post(ctx, path, form, upload)
	return err
}

// upload reads a local file; its part is typed image/<ext>.
func (f *Form) upload(path string) (*controller.Upload, error) {
	read := f.ReadFile
	if read == nil {
		read = os.ReadFile
	}
	data, err := read(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	return &controller.Upload{
		Field:       f.Kind.UploadProperty,
		Filename:    path,
		ContentType: "image/" + ext,
		Data:        data,
	}, nil
}
