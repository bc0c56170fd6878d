package claude

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildArgs(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want []string
	}{
		{
			name: "minimal",
			opts: Options{Model: ModelHaiku, Prompt: "fix bug"},
			want: []string{"--model", "haiku", "-p", "fix bug"},
		},
		{
			name: "allowed tools and one server",
			opts: Options{Model: ModelOpus, Prompt: "hi", MCPServers: []string{"mcp__github"}, AllowedTools: true},
			want: []string{"--allowedTools", "--model", "opus", "mcp__github", "-p", "hi"},
		},
		{
			name: "server order preserved",
			opts: Options{Model: ModelSonnet, Prompt: "p", MCPServers: []string{"mcp__shadcn", "mcp__codacy"}},
			want: []string{"--model", "sonnet", "mcp__shadcn", "mcp__codacy", "-p", "p"},
		},
		{
			name: "prompt with shell metacharacters stays one argument",
			opts: Options{Model: ModelSonnet, Prompt: `say "hi"; rm -rf / && echo $HOME`},
			want: []string{"--model", "sonnet", "-p", `say "hi"; rm -rf / && echo $HOME`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildArgs(tt.opts))
		})
	}
}

func TestOptionsValidate(t *testing.T) {
	ok := Options{Model: ModelSonnet, Prompt: "p", MCPServers: DefaultMCPServers()}
	require.NoError(t, ok.Validate())

	noPrompt := ok
	noPrompt.Prompt = "  "
	assert.ErrorIs(t, noPrompt.Validate(), ErrMissingConfiguration)

	badModel := ok
	badModel.Model = "gpt-4"
	assert.Error(t, badModel.Validate())

	badServer := ok
	badServer.MCPServers = []string{"github"}
	assert.ErrorContains(t, badServer.Validate(), "mcp__")
}

func TestParseModel(t *testing.T) {
	for _, m := range Models {
		got, err := ParseModel(string(m))
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}

	got, err := ParseModel(" OpusPlan ")
	require.NoError(t, err)
	assert.Equal(t, ModelOpusPlan, got)

	for _, bad := range []string{"", "claude-sonnet-4-5", "gpt-4"} {
		_, err = ParseModel(bad)
		assert.Errorf(t, err, "ParseModel(%q)", bad)
	}
}

func TestParseMCPServers(t *testing.T) {
	assert.Equal(t, []string{"mcp__github", "mcp__codacy"}, ParseMCPServers("  mcp__github \t mcp__codacy\n"))
	assert.Empty(t, ParseMCPServers("   "))
}

func TestDefaultMCPServersIsACopy(t *testing.T) {
	a := DefaultMCPServers()
	a[0] = "mutated"
	assert.Equal(t, "mcp__github", DefaultMCPServers()[0])
	assert.Len(t, a, 5)
}
