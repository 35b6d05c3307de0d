package reconcile

import (
	"fmt"

	"github.com/danmuck/plcctl/internal/scrape"
)

// ActionKind is what a reconcile run will do to the console.
type ActionKind int

const (
	NoOp ActionKind = iota
	Create
	Update
	Delete
)

func (k ActionKind) String() string {
	switch k {
	case NoOp:
		return "noop"
	case Create:
		return "create"
	case Update:
		return "update"
	case Delete:
		return "delete"
	default:
		return fmt.Sprintf("action(%d)", int(k))
	}
}

// Change is one property whose live value differs from the desired one.
type Change struct {
	Property string
	From     string
	To       string
}

// Action is a decision for one desired record.
type Action struct {
	Kind ActionKind
	// RemoteID is set for Update and Delete on listed kinds.
	RemoteID string
	// Changes and Record are set for form Updates; Record is the live record
	// with every change applied.
	Changes []Change
	Record  scrape.Record
	// Filename is the stored artifact of the listed row.
	Filename string
	// Resume asks a NoOp to put the runtime back into running mode.
	Resume bool
}

// Changed reports whether carrying out the action modifies the console.
func (a Action) Changed() bool { return a.Kind != NoOp }
