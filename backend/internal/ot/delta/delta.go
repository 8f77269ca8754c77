package delta

import "errors"

type Kind string

const (
	KindRetain Kind = "retain"
	KindInsert Kind = "insert"
	KindDelete Kind = "delete"
)

type Op struct {
	Kind  Kind           `json:"kind"`            // "retain" / "insert" / "delete"
	Count int            `json:"count,omitempty"` // retain/delete length
	Text  string         `json:"text,omitempty"`  // insert text
	Attrs map[string]any `json:"attrs,omitempty"` // style attributes
}

// Delta is an ordered run of retain/insert/delete ops against a document.
// Wire shape: [{"kind":"retain","count":5},{"kind":"insert","text":"Hello"}]
type Delta []Op

var ErrInvalidOp = errors.New("INVALID_DELTA_OP")

// Validate rejects ops with impossible shapes before they reach a buffer.
func (d Delta) Validate() error {
	for _, op := range d {
		switch op.Kind {
		case KindRetain, KindDelete:
			if op.Count <= 0 || op.Text != "" {
				return ErrInvalidOp
			}
		case KindInsert:
			if op.Text == "" || op.Count != 0 {
				return ErrInvalidOp
			}
		default:
			return ErrInvalidOp
		}
	}
	return nil
}

// BaseLen is the minimum document length the delta can apply to.
func (d Delta) BaseLen() int {
	n := 0
	for _, op := range d {
		switch op.Kind {
		case KindRetain, KindDelete:
			n += op.Count
		}
	}
	return n
}
