package resource

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrKindExists  = errors.New("kind already exists")
	ErrInvalidKind = errors.New("invalid kind")
	ErrUnknownKind = errors.New("unknown kind")
)

// Registry stores kinds by identifier.
type Registry struct {
	items map[string]Kind
}

// NewRegistry creates an empty kind registry.
func NewRegistry() *Registry {
	return &Registry{items: make(map[string]Kind)}
}

// ValidateKind checks that a kind is complete enough to reconcile.
func ValidateKind(k Kind) error {
	id := strings.TrimSpace(k.ID)
	if !isValidID(id) {
		return fmt.Errorf("%w: invalid id format %q", ErrInvalidKind, id)
	}
	if len(k.ValidStates) == 0 {
		return fmt.Errorf("%w: %s: no valid states", ErrInvalidKind, id)
	}
	if k.Singleton {
		if k.DetailPath == "" || k.UpdatePath == "" {
			return fmt.Errorf("%w: %s: singleton needs detail and update paths", ErrInvalidKind, id)
		}
		return nil
	}
	if k.ListPath == "" {
		return fmt.Errorf("%w: %s: list path is required", ErrInvalidKind, id)
	}
	if k.KeyColumn < 0 {
		return fmt.Errorf("%w: %s: negative key column", ErrInvalidKind, id)
	}
	if k.Artifact != nil {
		a := k.Artifact
		if a.UploadPath == "" || a.RegisterPath == "" || a.LogPath == "" {
			return fmt.Errorf("%w: %s: artifact needs upload, register and log paths", ErrInvalidKind, id)
		}
		return nil
	}
	if k.DetailPath == "" || k.CreatePath == "" || k.UpdatePath == "" {
		return fmt.Errorf("%w: %s: detail, create and update paths are required", ErrInvalidKind, id)
	}
	return nil
}

// Register adds a kind to the registry.
func (r *Registry) Register(k Kind) error {
	if err := ValidateKind(k); err != nil {
		return err
	}
	if _, ok := r.items[k.ID]; ok {
		return ErrKindExists
	}
	r.items[k.ID] = k
	return nil
}

// Resolve returns a kind by id.
func (r *Registry) Resolve(id string) (Kind, bool) {
	k, ok := r.items[strings.TrimSpace(id)]
	return k, ok
}

// Lookup is Resolve with an error for unknown ids.
func (r *Registry) Lookup(id string) (Kind, error) {
	k, ok := r.Resolve(id)
	if !ok {
		return Kind{}, fmt.Errorf("%w: %q", ErrUnknownKind, id)
	}
	return k, nil
}

// List returns kinds ordered by id.
func (r *Registry) List() []Kind {
	list := make([]Kind, 0, len(r.items))
	for _, k := range r.items {
		list = append(list, k)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].ID < list[j].ID
	})
	return list
}

func isValidID(id string) bool {
	if id == "" {
		return false
	}
	lastSep := false
	for i := 0; i < len(id); i++ {
		c := id[i]
		isLower := c >= 'a' && c <= 'z'
		isDigit := c >= '0' && c <= '9'
		isSep := c == '.' || c == '-' || c == '_'
		if !(isLower || isDigit || isSep) {
			return false
		}
		if i == 0 || i == len(id)-1 {
			if isSep {
				return false
			}
		}
		if isSep && lastSep {
			return false
		}
		lastSep = isSep
	}
	return true
}
