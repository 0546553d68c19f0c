package model

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/wisbric/llmgate/internal/apperror"
)

// ResolveConfigPath implements the MODELS_YAML / APP_ROOT / APP_CONFIG_PATH
// resolution order: an explicit APP_CONFIG_PATH always wins; otherwise
// an absolute MODELS_YAML is used as-is, and a relative one is resolved
// against appRoot.
func ResolveConfigPath(appRoot, modelsYAML, appConfigPath string) string {
	if appConfigPath != "" {
		return appConfigPath
	}
	if filepath.IsAbs(modelsYAML) {
		return modelsYAML
	}
	return filepath.Join(appRoot, modelsYAML)
}

// LoadConfig reads and normalizes the models.yaml document at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperror.ModelsYAMLMissing.Wrap(err)
		}
		return nil, apperror.ModelsYAMLInvalid.Wrap(err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, apperror.ModelsYAMLInvalid.Wrap(err)
	}

	if err := cfg.Normalize(); err != nil {
		return nil, apperror.ModelConfigInvalid.Wrap(err)
	}

	return &cfg, nil
}
