package commands

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/dotcommander/lore/internal/output"
)

// NewSchemaCmd creates the schema command. root is used to collect command schemas.
func NewSchemaCmd(root *cobra.Command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect command schemas and database migrations",
		Args:  cobra.NoArgs,
	}
	cmd.AddCommand(newSchemaCommandsCmd(root))
	cmd.AddCommand(newSchemaMigrationsCmd())
	return cmd
}

func newSchemaCommandsCmd(root *cobra.Command) *cobra.Command {
	return &cobra.Command{
		Use:   "commands",
		Short: "Show command argument schemas for scripted use",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchemaMode(root)
		},
	}
}

func newSchemaMigrationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrations",
		Short: "Show the applied and latest migration versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, dbCfg, err := openStore(cmdContext(cmd))
			if err != nil {
				return cmdErr(err)
			}
			defer st.Close()

			current, latest, err := st.SchemaVersion()
			if err != nil {
				return cmdErr(err)
			}
			type resp struct {
				Driver   string `json:"driver"`
				Dialect  string `json:"dialect"`
				Current  int64  `json:"current"`
				Latest   int64  `json:"latest"`
				UpToDate bool   `json:"up_to_date"`
			}
			return output.PrintSuccess(resp{
				Driver:   dbCfg.Driver,
				Dialect:  string(st.Dialect()),
				Current:  current,
				Latest:   latest,
				UpToDate: current >= latest,
			})
		},
	}
}

func runSchemaMode(root *cobra.Command) error {
	type resp struct {
		Commands []commandSchema `json:"commands"`
	}
	schemas := make([]commandSchema, 0)
	collectCommandSchemas(root, &schemas)
	return output.PrintSuccess(resp{Commands: schemas})
}

// commandSchema describes one runnable command for scripts and agents.
type commandSchema struct {
	Command     string       `json:"command"`
	Description string       `json:"description,omitempty"`
	Positional  []string     `json:"positional,omitempty"`
	Flags       objectSchema `json:"flags"`
}

type objectSchema struct {
	Type       string                    `json:"type"`
	Properties map[string]propertySchema `json:"properties"`
	Required   []string                  `json:"required,omitempty"`
}

type propertySchema struct {
	Type        string          `json:"type"`
	Items       *propertySchema `json:"items,omitempty"`
	Description string          `json:"description,omitempty"`
	Default     any             `json:"default,omitempty"`
	Enum        []string        `json:"enum,omitempty"`
}

// collectCommandSchemas walks the tree depth-first. Group commands without a
// Run (db, schema) and hidden commands are skipped; their children are not.
func collectCommandSchemas(cmd *cobra.Command, out *[]commandSchema) {
	if cmd.HasParent() && cmd.Runnable() && !cmd.Hidden {
		*out = append(*out, buildCommandSchema(cmd))
	}
	for _, child := range cmd.Commands() {
		if !child.Hidden {
			collectCommandSchemas(child, out)
		}
	}
}

func buildCommandSchema(cmd *cobra.Command) commandSchema {
	flags := objectSchema{Type: "object", Properties: map[string]propertySchema{}}

	addFlag := func(f *pflag.Flag) {
		if f.Hidden || f.Name == "help" {
			return
		}
		if _, seen := flags.Properties[f.Name]; seen {
			return
		}
		flags.Properties[f.Name] = flagProperty(f)
		if isRequiredFlag(f) {
			flags.Required = append(flags.Required, f.Name)
		}
	}
	cmd.InheritedFlags().VisitAll(addFlag)
	cmd.NonInheritedFlags().VisitAll(addFlag)

	return commandSchema{
		Command:     cmd.CommandPath(),
		Description: cmd.Short,
		Positional:  positionalArgs(cmd.Use),
		Flags:       flags,
	}
}

func flagProperty(f *pflag.Flag) propertySchema {
	p := propertySchema{
		Type:        jsonType(f.Value.Type()),
		Description: f.Usage,
		Enum:        parseEnumValues(f.Usage),
	}
	if p.Type == "array" {
		p.Items = &propertySchema{Type: "string"}
	} else if f.DefValue != "" {
		p.Default = typedFlagDefault(p.Type, f.DefValue)
	}
	return p
}

// jsonType maps a pflag value type to a JSON schema type.
func jsonType(flagType string) string {
	switch flagType {
	case "int", "int8", "int16", "int32", "int64", "uint", "uint8", "uint16", "uint32", "uint64":
		return "integer"
	case "float32", "float64":
		return "number"
	case "bool":
		return "boolean"
	case "stringArray", "stringSlice":
		return "array"
	default:
		return "string"
	}
}

func typedFlagDefault(schemaType, raw string) any {
	switch schemaType {
	case "boolean":
		if v, err := strconv.ParseBool(raw); err == nil {
			return v
		}
	case "integer":
		if v, err := strconv.Atoi(raw); err == nil {
			return v
		}
	case "number":
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			return v
		}
	}
	return raw
}

func isRequiredFlag(f *pflag.Flag) bool {
	if vals, ok := f.Annotations[cobra.BashCompOneRequiredFlag]; ok && len(vals) > 0 && vals[0] == "true" {
		return true
	}
	return strings.Contains(strings.ToLower(f.Usage), "(required)")
}

// positionalArgs lists the <name> and [name] placeholders in a Use line.
func positionalArgs(use string) []string {
	fields := strings.Fields(use)
	if len(fields) < 2 {
		return nil
	}
	var args []string
	for _, f := range fields[1:] {
		name := strings.Trim(f, "<>[]")
		if name == "" || name == "flags" {
			continue
		}
		args = append(args, strings.ReplaceAll(name, ">", ""))
	}
	return args
}

// parseEnumValues reads "Label: a|b|c" usage strings.
func parseEnumValues(usage string) []string {
	_, cand, ok := strings.Cut(usage, ":")
	if !ok || !strings.Contains(cand, "|") {
		return nil
	}
	return normalizeEnumParts(strings.Split(cand, "|"))
}

func normalizeEnumParts(parts []string) []string {
	values := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(strings.Trim(strings.TrimSpace(p), "[]"))
		if p == "" || strings.ContainsAny(p, ". ") {
			continue
		}
		values = append(values, p)
	}
	if len(values) < 2 {
		return nil
	}
	return values
}
