package mp3_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gleb-shnshn/DeepFilterNet/mp3"
)

func TestReadAllErrors(t *testing.T) {
	_, _, err := mp3.ReadAll(filepath.Join(t.TempDir(), "none.mp3"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "empty.mp3")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	_, _, err = mp3.ReadAll(path)
	assert.Error(t, err)
}

func TestNilPump(t *testing.T) {
	var p *mp3.Pump
	assert.Equal(t, 0, p.SampleRate())
}
