// Package config resolves bitcheck's run configuration from defaults, JSONC
// config files and command line overrides.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/tailscale/hujson"

	"github.com/calvinalkan/bitcheck/internal/logger"
)

// FileName is the project config file looked up in the working directory.
const FileName = ".bitcheck.json"

// DefaultStagingDir is used when it exists and no staging dir is configured.
const DefaultStagingDir = "/dev/shm"

// Config is the resolved configuration for a run.
type Config struct {
	TargetDir    string   `json:"target_dir"     validate:"required"`
	StagingDir   string   `json:"staging_dir"    validate:"required"`
	Passes       int      `json:"passes"         validate:"gte=0"`
	MinFileSize  Size     `json:"min_file_size"  validate:"gt=0,ltefield=MaxFileSize"`
	MaxFileSize  Size     `json:"max_file_size"  validate:"gt=0,ltefield=BytesPerPass"`
	BytesPerPass Size     `json:"bytes_per_pass" validate:"gt=0"`
	Digest       string   `json:"digest"         validate:"required"`
	Entropy      string   `json:"entropy"        validate:"required"`
	Workers      int      `json:"workers"        validate:"gte=1,lte=256"`
	Duration     Duration `json:"duration"       validate:"gte=0"`
	StrictRename bool     `json:"strict_rename"`
	KeepFailed   bool     `json:"keep_failed"`
	Report       string   `json:"report,omitempty"`
	MetricsAddr  string   `json:"metrics_addr,omitempty"`

	Log logger.Config `json:"log"`

	// Resolved absolute paths (computed, not serialized).
	EffectiveCwd string `json:"-"`

	Sources Sources `json:"-"`
}

// Sources tracks which config files were loaded.
type Sources struct {
	Global  string // Path to global config if loaded, empty otherwise
	Project string // Path to project or -c config if loaded, empty otherwise
}

// Default returns the built-in configuration. TargetDir has no default.
func Default() Config {
	return Config{
		Passes:       1,
		MinFileSize:  64 << 10,
		MaxFileSize:  16 << 20,
		BytesPerPass: 1 << 30,
		Digest:       "auto",
		Entropy:      "auto",
		Workers:      1,
		Log:          logger.Config{Level: "WARN", Format: "text", Output: "stderr"},
	}
}

// Overlay is a partial configuration: the schema of config files and of
// command line overrides. Nil fields leave the underlying value alone.
type Overlay struct {
	TargetDir    *string     `json:"target_dir,omitempty"`
	StagingDir   *string     `json:"staging_dir,omitempty"`
	Passes       *int        `json:"passes,omitempty"`
	MinFileSize  *Size       `json:"min_file_size,omitempty"`
	MaxFileSize  *Size       `json:"max_file_size,omitempty"`
	BytesPerPass *Size       `json:"bytes_per_pass,omitempty"`
	Digest       *string     `json:"digest,omitempty"`
	Entropy      *string     `json:"entropy,omitempty"`
	Workers      *int        `json:"workers,omitempty"`
	Duration     *Duration   `json:"duration,omitempty"`
	StrictRename *bool       `json:"strict_rename,omitempty"`
	KeepFailed   *bool       `json:"keep_failed,omitempty"`
	Report       *string     `json:"report,omitempty"`
	MetricsAddr  *string     `json:"metrics_addr,omitempty"`
	Log          *LogOverlay `json:"log,omitempty"`
}

// LogOverlay is the partial form of [logger.Config].
type LogOverlay struct {
	Level  *string `json:"level,omitempty"`
	Format *string `json:"format,omitempty"`
	Output *string `json:"output,omitempty"`
}

// LoadInput holds the inputs for [Load].
type LoadInput struct {
	WorkDirOverride string            // -C/--cwd flag value; if empty, os.Getwd() is used
	ConfigPath      string            // -c/--config flag value
	Overrides       Overlay           // command line flags that were set
	Env             map[string]string // environment variables
}

// Load resolves configuration with the following precedence (highest wins):
//  1. Defaults
//  2. Global user config ($XDG_CONFIG_HOME/bitcheck/config.json or ~/.config/bitcheck/config.json)
//  3. Project config file (.bitcheck.json in the working directory, if it exists)
//     or the explicit file given with -c, which must exist
//  4. Command line overrides
//
// Relative paths are resolved against the working directory. The target and
// staging directories must exist.
func Load(in LoadInput) (Config, error) {
	cfg, err := Resolve(in)
	if err != nil {
		return Config{}, err
	}

	err = cfg.Validate()
	if err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Resolve is [Load] without [Config.Validate]. Only unreadable or malformed
// config files are errors.
func Resolve(in LoadInput) (Config, error) {
	workDir := in.WorkDirOverride
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	}

	cfg := Default()

	globalPath := globalConfigPath(in.Env)
	if globalPath != "" {
		overlay, loaded, err := loadFile(globalPath, false)
		if err != nil {
			return Config{}, err
		}

		if loaded {
			cfg.Sources.Global = globalPath
			cfg.apply(overlay)
		}
	}

	projectPath, mustExist := filepath.Join(workDir, FileName), false
	if in.ConfigPath != "" {
		projectPath, mustExist = absPath(workDir, in.ConfigPath), true
	}

	overlay, loaded, err := loadFile(projectPath, mustExist)
	if err != nil {
		return Config{}, err
	}

	if loaded {
		cfg.Sources.Project = projectPath
		cfg.apply(overlay)
	}

	cfg.apply(in.Overrides)

	if cfg.StagingDir == "" {
		cfg.StagingDir = defaultStagingDir(in.Env)
	}

	cfg.EffectiveCwd = workDir
	cfg.TargetDir = absPath(workDir, cfg.TargetDir)
	cfg.StagingDir = absPath(workDir, cfg.StagingDir)
	cfg.Report = absPath(workDir, cfg.Report)

	return cfg, nil
}

// Validate checks field constraints and that both directories exist.
func (c Config) Validate() error {
	if c.TargetDir == "" {
		return ErrTargetDirRequired
	}

	err := validate.Struct(c)
	if err != nil {
		return describe(err)
	}

	_, err = logger.ParseLevel(c.Log.Level)
	if err != nil {
		return fmt.Errorf("%w: log.level: %w", ErrInvalid, err)
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "json", "":
	default:
		return fmt.Errorf("%w: log.format must be text or json, got %q", ErrInvalid, c.Log.Format)
	}

	for _, dir := range []struct{ name, path string }{{"target_dir", c.TargetDir}, {"staging_dir", c.StagingDir}} {
		info, err := os.Stat(dir.path)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalid, dir.name, err)
		}

		if !info.IsDir() {
			return fmt.Errorf("%w: %s %s: %w", ErrInvalid, dir.name, dir.path, ErrNotDirectory)
		}
	}

	return nil
}

func (c *Config) apply(o Overlay) {
	setIf(&c.TargetDir, o.TargetDir)
	setIf(&c.StagingDir, o.StagingDir)
	setIf(&c.Passes, o.Passes)
	setIf(&c.MinFileSize, o.MinFileSize)
	setIf(&c.MaxFileSize, o.MaxFileSize)
	setIf(&c.BytesPerPass, o.BytesPerPass)
	setIf(&c.Digest, o.Digest)
	setIf(&c.Entropy, o.Entropy)
	setIf(&c.Workers, o.Workers)
	setIf(&c.Duration, o.Duration)
	setIf(&c.StrictRename, o.StrictRename)
	setIf(&c.KeepFailed, o.KeepFailed)
	setIf(&c.Report, o.Report)
	setIf(&c.MetricsAddr, o.MetricsAddr)

	if o.Log != nil {
		setIf(&c.Log.Level, o.Log.Level)
		setIf(&c.Log.Format, o.Log.Format)
		setIf(&c.Log.Output, o.Log.Output)
	}
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

// globalConfigPath returns $XDG_CONFIG_HOME/bitcheck/config.json, falling
// back to ~/.config. Empty if neither variable is set.
func globalConfigPath(env map[string]string) string {
	if xdgConfig := env["XDG_CONFIG_HOME"]; xdgConfig != "" {
		return filepath.Join(xdgConfig, "bitcheck", "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "bitcheck", "config.json")
	}

	return ""
}

func defaultStagingDir(env map[string]string) string {
	if info, err := os.Stat(DefaultStagingDir); err == nil && info.IsDir() {
		return DefaultStagingDir
	}

	if tmp := env["TMPDIR"]; tmp != "" {
		return tmp
	}

	return os.TempDir()
}

// loadFile reads a JSONC config file. A missing file is only an error when
// mustExist is set.
func loadFile(path string, mustExist bool) (Overlay, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		switch {
		case os.IsNotExist(err) && mustExist:
			return Overlay{}, false, fmt.Errorf("%w: %s", ErrConfigFileNotFound, path)
		case os.IsNotExist(err):
			return Overlay{}, false, nil
		default:
			return Overlay{}, false, fmt.Errorf("%w %s: %w", ErrConfigFileRead, path, err)
		}
	}

	overlay, err := Parse(data)
	if err != nil {
		return Overlay{}, false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	return overlay, true, nil
}

// Parse decodes JSONC (JSON with comments and trailing commas). Unknown keys
// are rejected.
func Parse(data []byte) (Overlay, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Overlay{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(standardized))
	dec.DisallowUnknownFields()

	var o Overlay

	err = dec.Decode(&o)
	if err != nil {
		return Overlay{}, fmt.Errorf("invalid JSON: %w", err)
	}

	return o, nil
}

func absPath(workDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(workDir, path)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report fields by their config file key.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}

		return name
	})

	return v
}

// describe turns validator errors into one readable error.
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	msgs := make([]string, 0, len(verrs))

	for _, fe := range verrs {
		msgs = append(msgs, describeField(fe))
	}

	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
}

func describeField(fe validator.FieldError) string {
	field := fe.Field()

	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "ltefield":
		return fmt.Sprintf("%s (%v) must not exceed %s", field, fe.Value(), jsonName(fe.Param()))
	default:
		return fmt.Sprintf("%s fails %q", field, fe.Tag())
	}
}

// jsonName maps a Go field name used in a cross-field tag to its config key.
func jsonName(goName string) string {
	f, ok := reflect.TypeFor[Config]().FieldByName(goName)
	if !ok {
		return goName
	}

	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")

	return name
}
