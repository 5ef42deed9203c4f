package payments

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// Form is the per-attempt hidden tokenization form. Static fields are the
// session credentials that stay constant across retries; dynamic fields are
// injected per attempt and must be cleared before the next one so failed
// attempts never leak fields into the following submission.
type Form struct {
	action  string
	frame   string
	static  map[string]string
	dynamic map[string]string
}

func NewForm(action string, static map[string]string) *Form {
	f := &Form{
		action:  action,
		static:  make(map[string]string, len(static)),
		dynamic: make(map[string]string),
	}
	for k, v := range static {
		f.static[k] = v
	}
	f.rotateFrame()
	return f
}

// Action is the gateway tokenization endpoint the form posts to.
func (f *Form) Action() string { return f.action }

// Frame is the unique hidden-frame name targeted by this attempt's
// submission. It rotates on Reset so a late response to a previous attempt
// cannot land in the current frame.
func (f *Form) Frame() string { return f.frame }

// Reset drops every dynamic field and rotates the target frame. Idempotent;
// calling it on an already-clean form is a no-op apart from the rotation.
func (f *Form) Reset() {
	f.dynamic = make(map[string]string)
	f.rotateFrame()
}

// Set injects one dynamic field for the current attempt.
func (f *Form) Set(name, value string) {
	f.dynamic[name] = value
}

// Fields returns the merged static+dynamic field set in stable order.
func (f *Form) Fields() []Field {
	out := make([]Field, 0, len(f.static)+len(f.dynamic))
	for k, v := range f.static {
		out = append(out, Field{Name: k, Value: v})
	}
	for k, v := range f.dynamic {
		out = append(out, Field{Name: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// FieldCount is the total number of fields the submission would carry.
func (f *Form) FieldCount() int {
	return len(f.static) + len(f.dynamic)
}

type Field struct {
	Name  string
	Value string
}

func (f *Form) rotateFrame() {
	f.frame = fmt.Sprintf("tokenization_frame_%s", uuid.NewString()[:8])
}
