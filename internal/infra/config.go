package infra

import (
	"encoding/json"
	"os"

	"go.uber.org/zap"

	"github.com/ps5dev/backport/internal/domain"
)

// JSONConfigStore implements domain.ConfigStore over a JSON file. Persistence
// is advisory: a lost or partially written config must never affect pipeline
// correctness, so every failure here is swallowed after a debug log.
type JSONConfigStore struct {
	path   string
	logger *zap.Logger
}

// NewJSONConfigStore creates a store backed by the default config file in dir.
func NewJSONConfigStore(dir string, logger *zap.Logger) domain.ConfigStore {
	return NewJSONConfigStoreWithPath(dir+string(os.PathSeparator)+domain.ConfigFileName, logger)
}

// NewJSONConfigStoreWithPath creates a store at a specific path (for testing).
func NewJSONConfigStoreWithPath(path string, logger *zap.Logger) domain.ConfigStore {
	return &JSONConfigStore{path: path, logger: logger}
}

// Save overwrites only the directories section, preserving any other sections
// already present in the file.
func (s *JSONConfigStore) Save(inputDir, outputDir string) {
	config := s.load()

	dirs, err := json.Marshal(domain.LastDirectories{
		LastInput:  inputDir,
		LastOutput: outputDir,
		LastUsed:   domain.Timestamp(),
	})
	if err != nil {
		s.logger.Debug("failed to encode directories", zap.Error(err))
		return
	}
	config["directories"] = dirs

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		s.logger.Debug("failed to encode config", zap.Error(err))
		return
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		s.logger.Debug("failed to write config", zap.String("path", s.path), zap.Error(err))
	}
}

// Load returns the stored directories, or empty strings if the file is
// missing, unparseable, or lacks the fields.
func (s *JSONConfigStore) Load() (inputDir, outputDir string) {
	config := s.load()
	raw, ok := config["directories"]
	if !ok {
		return "", ""
	}

	var dirs domain.LastDirectories
	if err := json.Unmarshal(raw, &dirs); err != nil {
		s.logger.Debug("failed to decode directories", zap.Error(err))
		return "", ""
	}
	return dirs.LastInput, dirs.LastOutput
}

// load reads the whole config file, falling back to an empty structure on any
// failure so unknown sections survive a round trip.
func (s *JSONConfigStore) load() map[string]json.RawMessage {
	config := make(map[string]json.RawMessage)

	data, err := os.ReadFile(s.path)
	if err != nil {
		return config
	}
	if err := json.Unmarshal(data, &config); err != nil {
		s.logger.Debug("config file unparseable, using defaults",
			zap.String("path", s.path),
			zap.Error(err))
		return make(map[string]json.RawMessage)
	}
	return config
}

// Ensure JSONConfigStore implements domain.ConfigStore.
var _ domain.ConfigStore = (*JSONConfigStore)(nil)
