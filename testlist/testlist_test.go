package testlist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExpand(t *testing.T) {
	tests := []struct {
		name     string
		args     func(dir string) []string
		setup    func(dir string) error
		expected []string
	}{
		{
			name: "plain specs pass through",
			args: func(string) []string {
				return []string{"SuiteA", "SuiteB#TestOne"}
			},
			expected: []string{"SuiteA", "SuiteB#TestOne"},
		},
		{
			name: "argfile tokens spliced in place",
			args: func(dir string) []string {
				return []string{"First", "@" + filepath.Join(dir, "tests.txt"), "Last"}
			},
			setup: func(dir string) error {
				content := "SuiteA\nSuiteB#TestOne\tSuiteC\n"
				return os.WriteFile(filepath.Join(dir, "tests.txt"), []byte(content), 0644)
			},
			expected: []string{"First", "SuiteA", "SuiteB#TestOne", "SuiteC", "Last"},
		},
		{
			name: "empty argfile adds nothing",
			args: func(dir string) []string {
				return []string{"@" + filepath.Join(dir, "empty.txt"), "SuiteA"}
			},
			setup: func(dir string) error {
				return os.WriteFile(filepath.Join(dir, "empty.txt"), nil, 0644)
			},
			expected: []string{"SuiteA"},
		},
		{
			name: "argfile references do not nest",
			args: func(dir string) []string {
				return []string{"@" + filepath.Join(dir, "outer.txt")}
			},
			setup: func(dir string) error {
				return os.WriteFile(filepath.Join(dir, "outer.txt"), []byte("@inner.txt SuiteA"), 0644)
			},
			expected: []string{"@inner.txt", "SuiteA"},
		},
		{
			name: "no args",
			args: func(string) []string {
				return nil
			},
			expected: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			if tt.setup != nil {
				require.NoError(t, tt.setup(tmpDir))
			}

			specs, err := Expand(tt.args(tmpDir))
			require.NoError(t, err)
			require.Equal(t, tt.expected, specs)
		})
	}
}

func TestExpandMissingArgFile(t *testing.T) {
	tmpDir := t.TempDir()

	_, err := Expand([]string{"@" + filepath.Join(tmpDir, "missing.txt")})
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to load args from arg file")
}
