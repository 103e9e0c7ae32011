package deepfilternet

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gleb-shnshn/DeepFilterNet/config"
	"github.com/gleb-shnshn/DeepFilterNet/graph"
	"github.com/gleb-shnshn/DeepFilterNet/stage"
)

// Layout of a model directory.
const (
	ConfigFile = "config.ini"
	ExportDir  = "export"
)

// Models holds offline graphs of a model export. DelaySpec is optional.
type Models struct {
	Encoder   graph.Model
	Decoder   graph.Model
	DFNet     graph.Model
	DelaySpec graph.Model
}

// artifact returns the path of named artifact with any registered
// extension.
func artifact(dir, name string) (string, error) {
	for _, ext := range graph.Extensions() {
		path := filepath.Join(dir, name+ext)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", &ArtifactNotFoundError{Path: filepath.Join(dir, name)}
}

func openArtifact(dir, name string) (graph.Model, error) {
	path, err := artifact(dir, name)
	if err != nil {
		return nil, err
	}
	m, err := graph.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return m, nil
}

// LoadModels opens stage graphs from export directory. Backends must be
// registered before the call, see graph.Register.
func LoadModels(dir string) (Models, error) {
	var (
		ms  Models
		err error
	)
	if ms.Encoder, err = openArtifact(dir, stage.NameEncoder); err != nil {
		return Models{}, err
	}
	if ms.Decoder, err = openArtifact(dir, stage.NameDecoder); err != nil {
		return Models{}, err
	}
	if ms.DFNet, err = openArtifact(dir, stage.NameDFNet); err != nil {
		return Models{}, err
	}
	ms.DelaySpec, err = openArtifact(dir, stage.NameDelaySpec)
	var notFound *ArtifactNotFoundError
	if errors.As(err, &notFound) {
		return ms, nil
	}
	return ms, err
}

// Open creates a pipeline from a model directory holding config.ini and
// export subdirectory.
func Open(baseDir string, channels int, options ...Option) (*Pipeline, error) {
	if _, err := os.Stat(baseDir); err != nil {
		return nil, &ArtifactNotFoundError{Path: baseDir}
	}
	cfg := filepath.Join(baseDir, ConfigFile)
	if _, err := os.Stat(cfg); err != nil {
		return nil, &ArtifactNotFoundError{Path: cfg}
	}
	params, err := config.Load(cfg)
	if err != nil {
		return nil, err
	}
	models, err := LoadModels(filepath.Join(baseDir, ExportDir))
	if err != nil {
		return nil, err
	}
	return New(params, models, channels, options...)
}
