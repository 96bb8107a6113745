package commands

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func TestJSONType(t *testing.T) {
	require.Equal(t, "integer", jsonType("int64"))
	require.Equal(t, "number", jsonType("float64"))
	require.Equal(t, "boolean", jsonType("bool"))
	require.Equal(t, "array", jsonType("stringArray"))
	require.Equal(t, "string", jsonType("duration"))
	require.Equal(t, "string", jsonType("string"))
}

func TestTypedFlagDefault(t *testing.T) {
	require.Equal(t, true, typedFlagDefault("boolean", "true"))
	require.Equal(t, 42, typedFlagDefault("integer", "42"))
	require.Equal(t, 0.05, typedFlagDefault("number", "0.05"))
	require.Equal(t, "oops", typedFlagDefault("integer", "oops"))
	require.Equal(t, "abc", typedFlagDefault("string", "abc"))
}

func TestIsRequiredFlag(t *testing.T) {
	reqByAnnotation := &pflag.Flag{Annotations: map[string][]string{cobra.BashCompOneRequiredFlag: {"true"}}}
	require.True(t, isRequiredFlag(reqByAnnotation))
	require.True(t, isRequiredFlag(&pflag.Flag{Usage: "Item id (Required)"}))
	require.False(t, isRequiredFlag(&pflag.Flag{Usage: "optional flag"}))
}

func TestParseEnumValues(t *testing.T) {
	require.Equal(t, []string{"sqlite", "postgres"}, parseEnumValues("Database driver: sqlite|postgres"))
	require.Equal(t, []string{"hash", "cli", "gemini"}, parseEnumValues("AI provider: [hash]|cli|gemini"))
	require.Nil(t, parseEnumValues("Listen address: host:port"))
	require.Nil(t, parseEnumValues("Minimum relevance score 0..1"))
	require.Nil(t, parseEnumValues(""))
}

func TestNormalizeEnumParts(t *testing.T) {
	require.Equal(t, []string{"a", "b"}, normalizeEnumParts([]string{" a ", "[b]", "skip me", "1.2"}))
	require.Nil(t, normalizeEnumParts([]string{"onlyone"}))
}

func TestPositionalArgs(t *testing.T) {
	require.Nil(t, positionalArgs("stats"))
	require.Equal(t, []string{"id"}, positionalArgs("get <id>"))
	require.Equal(t, []string{"path..."}, positionalArgs("ingest <path>..."))
	require.Equal(t, []string{"query", "limit"}, positionalArgs("find <query> [limit] [flags]"))
}

func TestBuildCommandSchema_CollectsFlagsAndRequired(t *testing.T) {
	root := &cobra.Command{Use: "lore"}
	root.PersistentFlags().String("provider", "hash", "AI provider: hash|gemini|ollama")

	child := &cobra.Command{Use: "add", Short: "Add a knowledge item", Run: func(*cobra.Command, []string) {}}
	child.Flags().String("title", "", "Item title (required)")
	child.Flags().StringArray("tag", nil, "Tag (repeatable)")
	child.Flags().Float64("min-score", 0.05, "Minimum score")
	child.Flags().String("hidden-flag", "x", "hidden")
	require.NoError(t, child.Flags().MarkHidden("hidden-flag"))
	root.AddCommand(child)

	schema := buildCommandSchema(child)
	require.Equal(t, "lore add", schema.Command)
	require.Equal(t, "Add a knowledge item", schema.Description)
	require.Equal(t, "object", schema.Flags.Type)

	props := schema.Flags.Properties
	require.NotContains(t, props, "hidden-flag")

	provider := props["provider"]
	require.Equal(t, "string", provider.Type)
	require.Equal(t, "hash", provider.Default)
	require.Equal(t, []string{"hash", "gemini", "ollama"}, provider.Enum)

	tag := props["tag"]
	require.Equal(t, "array", tag.Type)
	require.Equal(t, "string", tag.Items.Type)
	require.Nil(t, tag.Default)

	require.Equal(t, 0.05, props["min-score"].Default)
	require.Equal(t, []string{"title"}, schema.Flags.Required)
}

func TestCollectCommandSchemas_SkipsGroupsAndHidden(t *testing.T) {
	run := func(*cobra.Command, []string) {}
	root := &cobra.Command{Use: "lore", Run: run}
	group := &cobra.Command{Use: "db"}
	path := &cobra.Command{Use: "path", Run: run}
	visible := &cobra.Command{Use: "search <query>", Short: "Search", Run: run}
	hidden := &cobra.Command{Use: "secret", Hidden: true, Run: run}
	group.AddCommand(path)
	root.AddCommand(group, visible, hidden)

	var out []commandSchema
	collectCommandSchemas(root, &out)

	names := make([]string, 0, len(out))
	for _, s := range out {
		names = append(names, s.Command)
	}
	require.ElementsMatch(t, []string{"lore db path", "lore search"}, names)
}
