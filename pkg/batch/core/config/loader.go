package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"gopkg.in/yaml.v3"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

const moduleName = "config"

// EnvPrefix is the prefix of environment variables that override configuration values,
// e.g. CHUNKBATCH_BATCH_CHUNK_SIZE or CHUNKBATCH_DATABASE_METADATA_HOST.
const EnvPrefix = "CHUNKBATCH_"

var durationType = reflect.TypeOf(time.Duration(0))

// LoadConfig builds the configuration from defaults, the YAML document data and
// the environment, in that order of increasing precedence. envFilePath names a
// .env file to load first; when empty, ./.env is tried.
func LoadConfig(envFilePath string, data []byte) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Warnf(".env file (%s) could not be loaded: %v", envFilePath, err)
		}
	} else if err := godotenv.Load(); err != nil {
		logger.Debugf(".env file not loaded: %v", err)
	}

	cfg := NewConfig()
	if len(data) > 0 {
		expanded := NewOsEnvironmentExpander().Expand(data)
		if err := yaml.Unmarshal(expanded, cfg); err != nil {
			return nil, exception.NewBatchError(moduleName, "failed to parse configuration", err, false, false)
		}
	}
	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem(), ""); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to load configuration from environment variables", err, false, false)
	}
	if err := Validate(cfg); err != nil {
		return nil, exception.NewBatchError(moduleName, "invalid configuration", err, false, false)
	}
	return cfg, nil
}

// LoadConfigFile is LoadConfig over the file at path. A missing file yields the defaults.
func LoadConfigFile(envFilePath, path string) (*Config, error) {
	var data []byte
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			logger.Warnf("Configuration file %s not found, using defaults.", path)
		case err != nil:
			return nil, exception.NewBatchError(moduleName, fmt.Sprintf("failed to read %s", path), err, false, false)
		default:
			data = b
		}
	}
	return LoadConfig(envFilePath, data)
}

// Validate checks limits and that every configured failure kind is registered.
func Validate(cfg *Config) error {
	b := cfg.ChunkBatch.Batch
	if b.ChunkSize < 1 {
		return fmt.Errorf("batch.chunk_size must be positive, got %d", b.ChunkSize)
	}
	if b.ItemRetry.MaxAttempts < 0 || b.ItemSkip.SkipLimit < 0 || b.MaxTotalRetries < 0 {
		return fmt.Errorf("batch retry and skip limits must not be negative")
	}
	if b.ChunkTimeout < 0 {
		return fmt.Errorf("batch.chunk_timeout must not be negative, got %s", b.ChunkTimeout)
	}
	for section, kinds := range map[string][]string{
		"item_retry.retryable_exceptions": b.ItemRetry.RetryableExceptions,
		"item_retry.no_retry_exceptions":  b.ItemRetry.NoRetryExceptions,
		"item_skip.skippable_exceptions":  b.ItemSkip.SkippableExceptions,
		"item_skip.no_skip_exceptions":    b.ItemSkip.NoSkipExceptions,
	} {
		if err := checkExceptionClasses(kinds, section); err != nil {
			return err
		}
	}
	switch cfg.ChunkBatch.Infrastructure.JobRepositoryType {
	case "inmemory":
	case "sql":
		if _, ok := cfg.MetadataDatabase(); !ok {
			return fmt.Errorf("infrastructure.job_repository_db_ref '%s' has no database entry", cfg.ChunkBatch.Infrastructure.JobRepositoryDBRef)
		}
	default:
		return fmt.Errorf("unknown infrastructure.job_repository_type '%s'", cfg.ChunkBatch.Infrastructure.JobRepositoryType)
	}
	return nil
}

// checkExceptionClasses reports kind names that are neither registered nor Go type names.
func checkExceptionClasses(kinds []string, section string) error {
	for _, name := range kinds {
		if exception.IsErrorTypeRegistered(name) || strings.Contains(name, ".") {
			continue
		}
		return fmt.Errorf("%s references unknown failure kind '%s'; register it with exception.RegisterErrorType", section, name)
	}
	return nil
}

// loadStructFromEnv overrides fields of val from environment variables named
// after the upper-cased yaml tags on the path to each field.
func loadStructFromEnv(val reflect.Value, prefix string) error {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		yamlTag, _, _ := strings.Cut(fieldType.Tag.Get("yaml"), ",")
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		envVarName := strings.ToUpper(prefix + yamlTag)

		switch {
		case field.Kind() == reflect.Struct:
			if err := loadStructFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		case field.Kind() == reflect.Map && field.Type().Key().Kind() == reflect.String && field.Type().Elem().Kind() == reflect.Struct:
			if err := loadMapOfStructsFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		}

		envValue, exists := os.LookupEnv(envVarName)
		if !exists {
			continue
		}
		if err := setField(field, envValue); err != nil {
			return fmt.Errorf("failed to set field '%s' from env var '%s': %w", fieldType.Name, envVarName, err)
		}
	}
	return nil
}

// loadMapOfStructsFromEnv applies variables such as CHUNKBATCH_DATABASE_METADATA_HOST
// to the "metadata" entry of a map of structs, creating the entry if needed.
func loadMapOfStructsFromEnv(mapField reflect.Value, prefix string) error {
	if mapField.IsNil() {
		mapField.Set(reflect.MakeMap(mapField.Type()))
	}
	elemType := mapField.Type().Elem()

	for _, env := range os.Environ() {
		name, value, ok := strings.Cut(env, "=")
		if !ok || !strings.HasPrefix(name, prefix) {
			continue
		}
		key, fieldName, ok := strings.Cut(strings.TrimPrefix(name, prefix), "_")
		if !ok || key == "" {
			continue
		}
		mapKey := reflect.ValueOf(strings.ToLower(key))

		elem := reflect.New(elemType).Elem()
		if existing := mapField.MapIndex(mapKey); existing.IsValid() {
			elem.Set(existing)
		}
		if err := setStructFieldFromEnv(elem, fieldName, value); err != nil {
			return fmt.Errorf("failed to set '%s' from env var '%s': %w", fieldName, name, err)
		}
		mapField.SetMapIndex(mapKey, elem)
	}
	return nil
}

// setStructFieldFromEnv sets the field of structVal whose yaml path matches
// fieldName, e.g. "HOST" or "POOL_MAX_OPEN_CONNS".
func setStructFieldFromEnv(structVal reflect.Value, fieldName, value string) error {
	typ := structVal.Type()
	for i := 0; i < typ.NumField(); i++ {
		tag, _, _ := strings.Cut(typ.Field(i).Tag.Get("yaml"), ",")
		if tag == "" || tag == "-" {
			continue
		}
		field := structVal.Field(i)
		if strings.EqualFold(tag, fieldName) {
			return setField(field, value)
		}
		if field.Kind() == reflect.Struct && len(fieldName) > len(tag) && strings.EqualFold(fieldName[:len(tag)+1], tag+"_") {
			return setStructFieldFromEnv(field, fieldName[len(tag)+1:], value)
		}
	}
	return nil
}

func setField(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	if field.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type %s", field.Type())
		}
		var items []string
		for _, s := range strings.Split(value, ",") {
			if s = strings.TrimSpace(s); s != "" {
				items = append(items, s)
			}
		}
		field.Set(reflect.ValueOf(items))
	}
	return nil
}

// ConfigParams are the inputs of NewConfigProvider.
type ConfigParams struct {
	fx.In
	EmbeddedConfig EmbeddedConfig `optional:"true"`
	EnvFilePath    string         `name:"envFilePath" optional:"true"`
}

// NewConfigProvider loads the configuration and applies its process-wide settings.
func NewConfigProvider(p ConfigParams) (*Config, error) {
	cfg, err := LoadConfig(p.EnvFilePath, p.EmbeddedConfig)
	if err != nil {
		return nil, err
	}
	Apply(cfg)
	return cfg, nil
}

// Apply sets the log level, time zone and masked parameter keys from cfg.
func Apply(cfg *Config) {
	sys := cfg.ChunkBatch.System
	logger.SetLogLevel(sys.Logging.Level)
	if sys.Timezone != "" {
		if loc, err := time.LoadLocation(sys.Timezone); err != nil {
			logger.Warnf("Unknown time zone '%s': %v", sys.Timezone, err)
		} else {
			time.Local = loc
		}
	}
	model.SetMaskedParameterKeys(cfg.ChunkBatch.Security.MaskedParameterKeys)
	logger.Debugf("Configuration applied (log level %s, time zone %s).", sys.Logging.Level, sys.Timezone)
}

// Module provides *Config from an optionally supplied EmbeddedConfig.
var Module = fx.Options(
	fx.Provide(NewConfigProvider),
	fx.Provide(func(cfg *Config) *BatchConfig { return &cfg.ChunkBatch.Batch }),
)
