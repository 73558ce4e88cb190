package watcher

import (
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Kind is the top-level classification of an Event.
type Kind uint8

const (
	KindCreate Kind = iota + 1
	KindModify
	KindRemove
	KindError
)

// ModifyKind refines KindModify events.
type ModifyKind uint8

const (
	ModifyAny ModifyKind = iota
	ModifyData
	ModifyMetadata
	ModifyName
)

const (
	TypeCreate         = "create"
	TypeModifyAny      = "modify_any"
	TypeModifyData     = "modify_data"
	TypeModifyMetadata = "modify_metadata"
	TypeModifyName     = "modify_name"
	TypeRemove         = "remove"
	TypeError          = "error"
)

func (k Kind) String() string {
	switch k {
	case KindCreate:
		return "create"
	case KindModify:
		return "modify"
	case KindRemove:
		return "remove"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

func (m ModifyKind) String() string {
	switch m {
	case ModifyData:
		return "data"
	case ModifyMetadata:
		return "metadata"
	case ModifyName:
		return "name"
	default:
		return "any"
	}
}

// Classify maps an fsnotify operation onto an event kind. fsnotify reports
// a bitmask; when several bits are set a content write wins, since that is
// the only signal that the bytes on disk changed.
func Classify(op fsnotify.Op) (Kind, ModifyKind) {
	switch {
	case op.Has(fsnotify.Write):
		return KindModify, ModifyData
	case op.Has(fsnotify.Create):
		return KindCreate, ModifyAny
	case op.Has(fsnotify.Remove):
		return KindRemove, ModifyAny
	case op.Has(fsnotify.Rename):
		return KindModify, ModifyName
	case op.Has(fsnotify.Chmod):
		return KindModify, ModifyMetadata
	default:
		return KindModify, ModifyAny
	}
}

// NewEvent classifies a raw fsnotify event.
func NewEvent(raw fsnotify.Event) Event {
	kind, modify := Classify(raw.Op)
	return Event{
		Kind:      kind,
		Modify:    modify,
		Path:      raw.Name,
		Op:        raw.Op,
		Timestamp: time.Now().UTC(),
	}
}

// NewErrorEvent wraps a backend error as an event.
func NewErrorEvent(err error) Event {
	return Event{
		Kind:      KindError,
		Err:       err,
		Timestamp: time.Now().UTC(),
	}
}

// IsDataChange reports whether the event signals a change of file content.
func (e Event) IsDataChange() bool {
	return e.Kind == KindModify && e.Modify == ModifyData
}

// Type returns a stable name used for logging and metric labels.
func (e Event) Type() string {
	switch e.Kind {
	case KindCreate:
		return TypeCreate
	case KindRemove:
		return TypeRemove
	case KindError:
		return TypeError
	case KindModify:
		switch e.Modify {
		case ModifyData:
			return TypeModifyData
		case ModifyMetadata:
			return TypeModifyMetadata
		case ModifyName:
			return TypeModifyName
		default:
			return TypeModifyAny
		}
	default:
		return "unknown"
	}
}

func (e Event) String() string {
	if e.Kind == KindError {
		return fmt.Sprintf("%s: %v", e.Type(), e.Err)
	}
	return fmt.Sprintf("%s %s (%s)", e.Type(), e.Path, e.Op)
}
