package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/liveview/internal/ir"
	"github.com/roach88/liveview/internal/schema"
)

// CollectionInfo describes one compiled collection schema.
type CollectionInfo struct {
	Name       string            `json:"name"`
	Visibility string            `json:"visibility"`
	Owner      string            `json:"owner,omitempty"`
	Fields     map[string]string `json:"fields"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid       bool             `json:"valid"`
	Collections []CollectionInfo `json:"collections"`
}

func (r ValidationResult) String() string {
	var b strings.Builder
	for i, c := range r.Collections {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s %s (visibility: %s", okMark("\u2713"), c.Name, c.Visibility)
		if c.Owner != "" {
			fmt.Fprintf(&b, ", owner: %s", c.Owner)
		}
		b.WriteString(")")

		names := make([]string, 0, len(c.Fields))
		for name := range c.Fields {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, "\n    %-20s %s", name, c.Fields[name])
		}
	}
	return b.String()
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [schema-dir]",
		Short: "Compile collection schemas and report them",
		Long: `Compile the CUE collection schemas in schema-dir, or collection.schema_dir
from the config, or the built-in tasks schema, and print what was declared.

Float fields, missing visibility fields and unsupported field types are
rejected.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := rootOpts.Config.Collection.SchemaDir
			if len(args) == 1 {
				dir = args[0]
			}
			return runValidate(rootOpts, dir, cmd)
		},
	}
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	f := newFormatter(cmd, opts)
	if dir != "" {
		f.VerboseLog("Loading schemas from %s", dir)
	}

	reg, err := schema.Load(dir)
	if err != nil {
		_ = f.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitFailure, "schema validation failed", err)
	}

	result := ValidationResult{Valid: true, Collections: []CollectionInfo{}}
	for _, name := range reg.Names() {
		c, _ := reg.Collection(name)
		result.Collections = append(result.Collections, describe(c.Schema))
	}
	return f.Success(result)
}

func describe(s ir.CollectionSchema) CollectionInfo {
	fields := make(map[string]string, len(s.Fields))
	for name, kind := range s.Fields {
		fields[name] = string(kind)
	}
	return CollectionInfo{
		Name:       s.Name,
		Visibility: s.VisibilityField,
		Owner:      s.OwnerField,
		Fields:     fields,
	}
}
