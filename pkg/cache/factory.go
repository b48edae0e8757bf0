package cache

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/Humphrey-He/hguard/pkg/codec"
)

// NewFromJSON creates a new store from a JSON configuration.
//
// NewFromJSON 从JSON配置创建新的存储。
//
// Parameters:
//   - reader: An io.Reader providing the JSON configuration data
//
// Returns:
//   - *Store[V]: The created store
//   - error: An error if the configuration parsing or store creation fails
func NewFromJSON[V any](reader io.Reader) (*Store[V], error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read JSON configuration: %w", err)
	}
	config := NewDefaultConfig()
	if err := codec.NewJSONCodec(false).Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to decode JSON configuration: %w", err)
	}
	return New[V](config)
}

// NewFromYAML creates a new store from a YAML configuration.
//
// NewFromYAML 从YAML配置创建新的存储。
func NewFromYAML[V any](reader io.Reader) (*Store[V], error) {
	config := NewDefaultConfig()
	if err := yaml.NewDecoder(reader).Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode YAML configuration: %w", err)
	}
	return New[V](config)
}

// NewFromFile creates a new store from a configuration file.
// The file format (JSON or YAML) is determined by the file extension.
//
// NewFromFile 从配置文件创建新的存储，格式由扩展名决定。
func NewFromFile[V any](filename string) (*Store[V], error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open configuration file: %w", err)
	}
	defer file.Close()

	switch filepath.Ext(filename) {
	case ".json":
		return NewFromJSON[V](file)
	case ".yaml", ".yml":
		return NewFromYAML[V](file)
	default:
		return nil, fmt.Errorf("unsupported file format for %s", filename)
	}
}
