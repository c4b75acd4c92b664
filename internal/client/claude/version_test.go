package claude

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVersionPattern(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   string
	}{
		{"plain version", "2.0.13", "2.0.13"},
		{"with product suffix", "2.0.13 (Claude Code)", "2.0.13"},
		{"prerelease", "2.1.0-beta.1 (Claude Code)", "2.1.0-beta.1"},
		{"trailing newline handled by caller", "1.0.0", "1.0.0"},
		{"no version", "command not found", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, versionPattern.FindString(tt.output))
		})
	}
}
