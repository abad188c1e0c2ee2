package inspect

import (
	"errors"
	"fmt"
	"io"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/xlab/treeprint"

	"github.com/grafana/vtinspect/pkg/valueobject"
)

// Report is the vtable of one object as found by Inspect.
type Report struct {
	Object      string        `json:"object"`
	Address     string        `json:"address,omitempty"`
	VTable      string        `json:"vtable,omitempty"`
	DisplayName string        `json:"display_name,omitempty"`
	Value       string        `json:"value,omitempty"`
	Size        uint64        `json:"size,omitempty"`
	NumEntries  uint64        `json:"num_entries"`
	Truncated   bool          `json:"truncated,omitempty"`
	Entries     []EntryReport `json:"entries,omitempty"`
	Error       string        `json:"error,omitempty"`
	ErrorKind   string        `json:"error_kind,omitempty"`
}

type EntryReport struct {
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	Value   string `json:"value,omitempty"`
	Type    string `json:"type,omitempty"`
	Summary string `json:"summary,omitempty"`
	Error   string `json:"error,omitempty"`
}

type ModuleReport struct {
	Path      string `json:"path"`
	DebugFile string `json:"debug_file,omitempty"`
	BuildID   string `json:"build_id,omitempty"`
	Start     string `json:"start"`
	End       string `json:"end"`
	Size      uint64 `json:"size"`
	Bias      string `json:"bias"`
	Symbols   int    `json:"symbols"`
	DWARF     bool   `json:"dwarf"`
}

var errorKinds = map[valueobject.ErrorKind]string{
	valueobject.NoParent:             "NoParent",
	valueobject.ScopeLost:            "ScopeLost",
	valueobject.ParentUpdateFailed:   "ParentUpdateFailed",
	valueobject.NoProcess:            "NoProcess",
	valueobject.NoTarget:             "NoTarget",
	valueobject.InvalidParentAddress: "InvalidParentAddress",
	valueobject.NoLoadAddress:        "NoLoadAddress",
	valueobject.MemoryReadFailed:     "MemoryReadFailed",
	valueobject.UnresolvedAddress:    "UnresolvedAddress",
	valueobject.NotAVTable:           "NotAVTable",
}

// errorKind names the kind of a node error, "unknown" for other errors.
func errorKind(err error) string {
	var verr *valueobject.Error
	if errors.As(err, &verr) {
		if name, ok := errorKinds[verr.Kind]; ok {
			return name
		}
	}
	return "unknown"
}

func (r *Report) setError(err error) {
	if err == nil {
		return
	}
	r.Error = err.Error()
	r.ErrorKind = errorKind(err)
}

// WriteText renders r as a tree, one branch per entry.
func (r *Report) WriteText(w io.Writer) error {
	var root strings.Builder
	root.WriteString(r.Object)
	if r.Address != "" {
		fmt.Fprintf(&root, " @ %s", r.Address)
	}
	if r.Error != "" {
		fmt.Fprintf(&root, ": %s (%s)", r.Error, r.ErrorKind)
		_, err := fmt.Fprintln(w, root.String())
		return err
	}
	fmt.Fprintf(&root, ": %s = %s, %d entries", r.DisplayName, r.Value, r.NumEntries)
	if r.Truncated {
		fmt.Fprintf(&root, ", first %d shown", len(r.Entries))
	}

	tree := treeprint.NewWithRoot(root.String())
	for _, e := range r.Entries {
		tree.AddNode(e.line())
	}
	_, err := io.WriteString(w, tree.String())
	return err
}

func (e EntryReport) line() string {
	if e.Error != "" {
		return fmt.Sprintf("%s error: %s", e.Name, e.Error)
	}
	parts := []string{e.Name, e.Value}
	if e.Type != "" {
		parts = append(parts, "("+e.Type+")")
	}
	if e.Summary != "" {
		parts = append(parts, e.Summary)
	}
	return strings.Join(parts, " ")
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v interface{}) error {
	enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
