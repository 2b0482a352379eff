package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds everything the bootstrap pipeline needs to know.
type Config struct {
	// SourceURL is where the project archive is downloaded from.
	SourceURL string `yaml:"source_url" validate:"required,http_url"`
	// ArchiveFilename is the local name of the downloaded archive.
	ArchiveFilename string `yaml:"archive_file" validate:"required,excludesall=/\\"`
	// ProjectPrefix selects the extracted top-level directory.
	ProjectPrefix string `yaml:"project_prefix" validate:"required"`
	// ManifestFilename is the dependency manifest consumed by the installer.
	ManifestFilename string `yaml:"manifest_file" validate:"required"`
	// ProbeFilename is where the generated probe script is written.
	ProbeFilename string `yaml:"probe_file" validate:"required"`
	// Interpreter runs both the package manager and the probe.
	Interpreter string `yaml:"interpreter" validate:"required"`
	// Checksum is an optional base64 SHA512 of the archive.
	Checksum string `yaml:"checksum,omitempty" validate:"omitempty,base64"`
	// Timeout bounds the download. Zero means no client-side limit.
	Timeout time.Duration `yaml:"timeout,omitempty" validate:"gte=0"`
	// ReportFile enables writing the run report when set.
	ReportFile string `yaml:"report_file,omitempty"`
	// Probe describes what the generated probe imports.
	Probe Probe `yaml:"probe"`
}

// Probe names the pieces of the downloaded library the probe script touches.
type Probe struct {
	// ImportPath is appended to the interpreter's module search path.
	ImportPath string `yaml:"import_path"`
	// Module is the module the class is imported from.
	Module string `yaml:"module" validate:"required"`
	// Class is instantiated with no arguments.
	Class string `yaml:"class" validate:"required"`
	// Runtime is the tensor runtime whose version and accelerator flag are printed.
	Runtime string `yaml:"runtime" validate:"required"`
}

const (
	// DefaultConfigFilename is the settings file looked up when no path is given.
	DefaultConfigFilename = "repo-bootstrap-settings.yaml"

	// DefaultArchiveFilename is the local name of the downloaded archive.
	DefaultArchiveFilename = "olympiad-automl.zip"

	// DefaultProjectPrefix matches the directory GitHub puts at the archive root.
	DefaultProjectPrefix = "olympiad-image-automl"

	// DefaultManifestFilename is the pip requirements file.
	DefaultManifestFilename = "requirements.txt"

	// DefaultProbeFilename is the generated smoke-test script.
	DefaultProbeFilename = "check_installation.py"

	// DefaultInterpreter is resolved through PATH at run time.
	DefaultInterpreter = "python3"

	// DefaultFilePermissions is used for files this tool writes.
	DefaultFilePermissions = 0o600
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// ErrInvalid wraps every validation failure.
	ErrInvalid = errors.New("invalid settings")

	//nolint:gochecknoglobals // validator caches struct metadata, one instance is enough.
	validate     *validator.Validate
	validateOnce sync.Once
)

// Default returns settings populated with defaults and no source URL.
func Default() *Config {
	cfg := new(Config)
	applyDefaults(cfg)

	return cfg
}

// Read parses settings from path and fills defaults without validating,
// so callers can apply overrides first.
func Read(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	cfg := new(Config)
	if err = yaml.Unmarshal(contents, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	applyDefaults(cfg)

	return cfg, nil
}

// Load reads settings from path and validates them.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}

	if err = Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes settings to path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate fills missing defaults and checks the settings.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	applyDefaults(cfg)

	err := validatorInstance().Struct(cfg)
	if err == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	problems := make([]string, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		problems = append(problems, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}

	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
}

func applyDefaults(cfg *Config) {
	cfg.SourceURL = strings.TrimSpace(cfg.SourceURL)

	if cfg.ArchiveFilename == "" {
		cfg.ArchiveFilename = DefaultArchiveFilename
	}

	if cfg.ProjectPrefix == "" {
		cfg.ProjectPrefix = DefaultProjectPrefix
	}

	if cfg.ManifestFilename == "" {
		cfg.ManifestFilename = DefaultManifestFilename
	}

	if cfg.ProbeFilename == "" {
		cfg.ProbeFilename = DefaultProbeFilename
	}

	if cfg.Interpreter == "" {
		cfg.Interpreter = DefaultInterpreter
	}

	if cfg.Probe == (Probe{}) {
		cfg.Probe = Probe{
			ImportPath: "src",
			Module:     "automl",
			Class:      "FastPyTorchAutoML",
			Runtime:    "torch",
		}
	}
}

// validatorInstance reports field names by their YAML keys.
func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(field reflect.StructField) string {
			name, _, _ := strings.Cut(field.Tag.Get("yaml"), ",")
			if name == "-" {
				return ""
			}

			return name
		})
	})

	return validate
}
