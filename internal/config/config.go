package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/smazurov/doorbell/internal/logging"
)

// EnvPrefix is prepended to every `env` tag when reading overrides.
const EnvPrefix = "DOORBELL_"

// option is one settable field of an options struct with its tags.
type option struct {
	value  reflect.Value
	flag   string
	toml   string
	env    string
	def    string
	hasDef bool
}

func options(opts any) []option {
	v := reflect.ValueOf(opts).Elem()
	t := v.Type()
	out := make([]option, 0, t.NumField())
	for i := range t.NumField() {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		def, hasDef := sf.Tag.Lookup("default")
		out = append(out, option{
			value:  v.Field(i),
			flag:   fieldNameToFlag(sf.Name),
			toml:   sf.Tag.Get("toml"),
			env:    sf.Tag.Get("env"),
			def:    def,
			hasDef: hasDef,
		})
	}
	return out
}

// LoadConfig fills opts from the TOML file named by its Config field and
// from DOORBELL_* environment variables. Precedence is CLI flag > env >
// file: fields whose flag was set on cmd are left untouched. A missing
// config file is not an error.
func LoadConfig(opts any, cmd *cobra.Command) error {
	changed := map[string]bool{}
	if cmd != nil {
		cmd.Flags().Visit(func(f *pflag.Flag) {
			changed[f.Name] = true
		})
	}

	var path string
	if f := reflect.ValueOf(opts).Elem().FieldByName("Config"); f.IsValid() && f.Kind() == reflect.String {
		path = f.String()
	}
	doc, err := readTOML(path)
	if err != nil {
		return err
	}

	for _, o := range options(opts) {
		if changed[o.flag] {
			continue
		}
		if o.toml != "" {
			if raw := getNestedValue(doc, o.toml); raw != nil {
				if err := assign(o.value, raw); err != nil {
					return fmt.Errorf("config %s: %w", o.toml, err)
				}
			}
		}
		if o.env != "" {
			if s := os.Getenv(EnvPrefix + o.env); s != "" {
				if err := assign(o.value, s); err != nil {
					return fmt.Errorf("env %s%s: %w", EnvPrefix, o.env, err)
				}
			}
		}
	}
	return nil
}

func readTOML(path string) (map[string]any, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	var doc map[string]any
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse TOML config: %w", err)
	}
	return doc, nil
}

// ApplyDefaults fills every zero-valued field from its `default` tag.
// Cobra subcommands use it; the humacli root gets defaults from its flags.
func ApplyDefaults(opts any) {
	for _, o := range options(opts) {
		if o.hasDef && o.value.IsZero() {
			_ = assign(o.value, o.def)
		}
	}
}

// Duration parses a duration option, returning fallback for empty or invalid values.
func Duration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// fieldNameToFlag converts a struct field name to a CLI flag name.
// Example: "LoggingLevel" -> "logging-level", "Port" -> "port".
func fieldNameToFlag(fieldName string) string {
	var b strings.Builder
	for i, r := range fieldName {
		if i > 0 && unicode.IsUpper(r) {
			b.WriteByte('-')
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// getNestedValue looks up a dotted path such as "call.retries".
func getNestedValue(data map[string]any, path string) any {
	keys := strings.Split(path, ".")
	node := data
	for _, k := range keys[:len(keys)-1] {
		next, ok := node[k].(map[string]any)
		if !ok {
			return nil
		}
		node = next
	}
	return node[keys[len(keys)-1]]
}

// assign stores raw into field. raw is either a decoded TOML value or a
// string from the environment or a default tag.
func assign(field reflect.Value, raw any) error {
	if !field.CanSet() {
		return nil
	}
	if s, ok := raw.(string); ok && field.Kind() != reflect.String {
		return assignString(field, s)
	}

	switch field.Kind() {
	case reflect.String:
		s, ok := raw.(string)
		if !ok {
			return fmt.Errorf("want string, got %T", raw)
		}
		field.SetString(s)
	case reflect.Bool:
		b, ok := raw.(bool)
		if !ok {
			return fmt.Errorf("want bool, got %T", raw)
		}
		field.SetBool(b)
	case reflect.Int:
		switch n := raw.(type) {
		case int64:
			field.SetInt(n)
		case int:
			field.SetInt(int64(n))
		default:
			return fmt.Errorf("want integer, got %T", raw)
		}
	case reflect.Slice:
		items, ok := raw.([]any)
		if !ok || field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("want string array, got %T", raw)
		}
		out := make([]string, 0, len(items))
		for _, it := range items {
			s, ok := it.(string)
			if !ok {
				return fmt.Errorf("want string array element, got %T", it)
			}
			out = append(out, s)
		}
		field.Set(reflect.ValueOf(out))
	}
	return nil
}

func assignString(field reflect.Value, s string) error {
	switch field.Kind() {
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int:
		n, err := strconv.Atoi(s)
		if err != nil {
			return err
		}
		field.SetInt(int64(n))
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type %s", field.Type())
		}
		parts := strings.Split(s, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		field.Set(reflect.ValueOf(parts))
	}
	return nil
}

// LoadLoggingConfig loads logging configuration from a TOML config file.
// Keys other than level and format under [logging] are module levels.
func LoadLoggingConfig(configPath string) (logging.Config, error) {
	cfg := logging.Config{
		Level:   "info",
		Format:  "text",
		Modules: make(map[string]string),
	}

	if configPath == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	var rawConfig struct {
		Logging map[string]string `toml:"logging"`
	}
	if err := toml.Unmarshal(data, &rawConfig); err != nil {
		return cfg, fmt.Errorf("failed to parse TOML config: %w", err)
	}

	for key, value := range rawConfig.Logging {
		switch key {
		case "level":
			cfg.Level = value
		case "format":
			cfg.Format = value
		default:
			cfg.Modules[key] = value
		}
	}

	return cfg, nil
}
