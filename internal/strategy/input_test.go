package strategy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIDs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		doc      string
		format   Format
		seeds    []string
		all      []string
		wantsErr bool
	}{
		{
			name:   "charts listing",
			doc:    `{"GAME":{"apps_topgrossing":["b","a"]},"APPLICATION":{"apps_topselling_free":["a","c"]}}`,
			format: FormatCharts,
			seeds:  []string{"a", "b", "c"},
			all:    []string{"a", "b", "c"},
		},
		{
			name:   "list",
			doc:    `["z","y","z"]`,
			format: FormatList,
			seeds:  []string{"y", "z"},
			all:    []string{"y", "z"},
		},
		{
			name:   "checkpoint",
			doc:    `{"done":["a"],"ids":["b","c"],"level":2}`,
			format: FormatCheckpoint,
			seeds:  []string{"b", "c"},
			all:    []string{"a", "b", "c"},
		},
		{name: "number", doc: `42`, wantsErr: true},
		{name: "empty", doc: ` `, wantsErr: true},
		{name: "object of strings", doc: `{"a":"b"}`, wantsErr: true},
		{name: "broken", doc: `{"done":`, wantsErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			in, err := ParseIDs([]byte(tt.doc))
			if tt.wantsErr {
				require.ErrorIs(t, err, ErrInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.format, in.Format)
			assert.Equal(t, tt.seeds, in.Seeds())
			assert.Equal(t, tt.all, in.All())
		})
	}
}

func TestLoadIDs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "ids.json")
	require.NoError(t, os.WriteFile(path, []byte(`["a"]`), 0o600))

	in, err := LoadIDs(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, in.IDs)

	_, err = LoadIDs(filepath.Join(dir, "missing.json"))
	require.ErrorIs(t, err, ErrInput)
	require.ErrorIs(t, err, os.ErrNotExist)
}
