package persona

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestRelayPrompt_WrapsContent(t *testing.T) {
	p := Default()
	prompt := p.RelayPrompt("status update?")

	require.True(t, strings.HasPrefix(prompt, "You are Senator Ted Budd of North Carolina."))
	require.True(t, strings.HasSuffix(prompt, "\n\nMessage: status update?"))
	require.NotContains(t, prompt, PlaceholderAudience)
}

func TestChatPrompt_WrapsContent(t *testing.T) {
	p := Default()
	require.Equal(t, "Respond as Senator Ted Budd of North Carolina to: hello", p.ChatPrompt("hello"))
}

func TestRender_UserPlaceholdersStayLiteral(t *testing.T) {
	p := &Persona{Name: "X", ChatTemplate: "{{MESSAGE}} / {{NAME}}"}
	require.Equal(t, "{{NAME}} / X", p.ChatPrompt("{{NAME}}"))
}

func TestLoadFile_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persona.yaml")
	content := "name: Harbor Master\nchat_template: \"As {{NAME}}: {{MESSAGE}}\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	p, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, "Harbor Master", p.Name)
	require.Equal(t, "As Harbor Master: ping", p.ChatPrompt("ping"))
	require.Equal(t, DefaultFallback, p.Fallback)
}

func TestLoadFile_RejectsTemplateWithoutMessage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persona.yaml")
	require.NoError(t, os.WriteFile(path, []byte("relay_template: \"no slot\"\n"), 0o644))

	_, err := LoadFile(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "relay_template")
}

func TestLoad_EmptyPathUsesDefault(t *testing.T) {
	p, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default().Name, p.Name)
}
