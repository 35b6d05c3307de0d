package resource

import (
	"regexp"

	"github.com/danmuck/plcctl/internal/scrape"
)

// Invocation fields that a kind may require.
const (
	FieldName       = "name"
	FieldState      = "state"
	FieldProperties = "properties"
	FieldFile       = "file"
)

// Kind is the console layout of one resource type.
type Kind struct {
	ID          string
	Description string

	// ListPath renders the listing table; KeyColumn holds the display name.
	ListPath  string
	KeyColumn int

	// DetailPath is the edit page; the remote id is appended for listed kinds.
	DetailPath string
	CreatePath string
	UpdatePath string
	// DeletePath is requested with the remote id appended.
	DeletePath string

	// NameProperty receives the desired name on create.
	NameProperty string
	Detail       scrape.DetailRules

	ValidStates    []State
	Required       []string
	CreateRequired []string

	// UploadProperty is sent as a multipart file part when its value is set.
	UploadProperty string
	// FileProperties hold a local path whose contents are the desired value.
	FileProperties []string

	// Singleton kinds have one edit page and no listing.
	Singleton bool

	Artifact *ArtifactLayout
}

// ArtifactLayout is the upload/compile surface of artifact kinds.
type ArtifactLayout struct {
	UploadPath  string
	UploadField string
	ContentType string
	// RegisterPath names a freshly uploaded artifact.
	RegisterPath string
	// ReloadPath is requested with the remote id appended to re-stage a
	// listed artifact.
	ReloadPath string
	// UpdateRegisterPath names a reloaded artifact.
	UpdateRegisterPath string
	// CompilePath is requested with the token appended.
	CompilePath string
	LogPath     string
	StartPath   string
	// FileColumn is the listing column holding the stored artifact name.
	FileColumn int
	// CompileOnCreate requests CompilePath after registering a new upload.
	// When false the register step is expected to start the build itself.
	CompileOnCreate bool
	TokenPattern    *regexp.Regexp
}

// Allows reports whether s is a valid state for this kind.
func (k Kind) Allows(s State) bool {
	for _, v := range k.ValidStates {
		if v == s {
			return true
		}
	}
	return false
}

// IsFileProperty reports whether name is read from a local file.
func (k Kind) IsFileProperty(name string) bool {
	for _, p := range k.FileProperties {
		if p == name {
			return true
		}
	}
	return false
}
