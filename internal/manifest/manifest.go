package manifest

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/pelletier/go-toml/v2"
)

// FileName is the manifest looked up in a package directory.
const FileName = "Ccbuild.toml"

var defaultProfiles = map[string]ProfileSection{
	"debug": {
		OptLevel: int64(0),
		Debug:    ptr(true),
	},
	"release": {
		OptLevel: int64(3),
		Debug:    ptr(false),
	},
}

func ptr[T any](v T) *T { return &v }

type Manifest struct {
	Library LibrarySection            `toml:"library"`
	Source  SourceSection             `toml:"source"`
	Profile map[string]ProfileSection `toml:"profile"`
}

func (m Manifest) Profiles() []string {
	return slices.Sorted(maps.Keys(m.Profile))
}

// LibrarySection defines the [library(.*)] section
type LibrarySection struct {
	Name               string            `toml:"name"`
	Sources            []string          `toml:"sources"`
	Include            []string          `toml:"include"`
	Defines            map[string]string `toml:"defines"`
	Flags              []string          `toml:"flags"`
	FlagsIfSupported   []string          `toml:"flags-if-supported"`
	Cpp                bool              `toml:"cpp"`
	Cuda               bool              `toml:"cuda"`
	Warnings           *bool             `toml:"warnings"`
	ExtraWarnings      *bool             `toml:"extra-warnings"`
	WarningsIntoErrors bool              `toml:"warnings-into-errors"`
	PIC                *bool             `toml:"pic"`
	StaticCRT          *bool             `toml:"static-crt"`
	CppStdlib          string            `toml:"cpp-stdlib"`
	Build              string            `toml:"build"`
}

// SourceSection defines the [source] section
type SourceSection struct {
	Git string `toml:"git"`
}

// ProfileSection defines the [profile.*] section. OptLevel is an integer or
// one of "s" and "z".
type ProfileSection struct {
	OptLevel any   `toml:"opt-level"`
	Debug    *bool `toml:"debug"`
}

func (p ProfileSection) Opt() string {
	switch v := p.OptLevel.(type) {
	case int64:
		return strconv.FormatInt(v, 10)
	case string:
		return v
	default:
		return ""
	}
}

// mergeStructs merges the fields of the src struct into the dst struct
func mergeStructs(dst, src any) error {
	dstVal := reflect.ValueOf(dst)
	if dstVal.Kind() != reflect.Pointer || dstVal.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("dst must be a pointer to a struct")
	}

	dstElem := dstVal.Elem()
	srcVal := reflect.ValueOf(src)
	if srcVal.Kind() == reflect.Pointer {
		srcVal = srcVal.Elem()
	}
	if srcVal.Kind() != reflect.Struct {
		return fmt.Errorf("src must be a struct or a pointer to a struct")
	}
	if dstElem.Type() != srcVal.Type() {
		return fmt.Errorf("dst and src must be of the same struct type")
	}

	for i := range srcVal.NumField() {
		srcField := srcVal.Field(i)
		dstField := dstElem.Field(i)
		if !dstField.CanSet() {
			continue
		}

		switch dstField.Kind() {
		case reflect.Slice:
			if !srcField.IsNil() {
				dstField.Set(reflect.AppendSlice(dstField, srcField))
			}
		case reflect.Map:
			if !srcField.IsNil() {
				if dstField.IsNil() {
					dstField.Set(reflect.MakeMap(dstField.Type()))
				}
				for _, key := range srcField.MapKeys() {
					dstField.SetMapIndex(key, srcField.MapIndex(key))
				}
			}
		case reflect.Bool:
			dstField.SetBool(dstField.Bool() || srcField.Bool())
		default:
			if !srcField.IsZero() {
				dstField.Set(srcField)
			}
		}
	}
	return nil
}

func remarshal(data any, dst any) error {
	b, err := toml.Marshal(data)
	if err != nil {
		return err
	}
	return toml.Unmarshal(b, dst)
}

// unmarshalSection is a helper to parse sections without conditional logic
func unmarshalSection(raw map[string]any, name string, dst any) error {
	if data, ok := raw[name]; ok {
		if err := remarshal(data, dst); err != nil {
			return fmt.Errorf("failed to parse [%s] section: %w", name, err)
		}
	}
	return nil
}

// unmarshalConditionalSection parses a section and merges every sub-table
// whose key is an expression evaluating to true. Conditions are applied in
// key order.
func unmarshalConditionalSection[T any](raw map[string]any, name string, dst *T, env Env) error {
	sectionData, ok := raw[name]
	if !ok {
		return nil
	}
	sectionMap, ok := sectionData.(map[string]any)
	if !ok {
		return fmt.Errorf("invalid [%s] section format: expected a table", name)
	}

	baseFields := make(map[string]any)
	conditionalFields := make(map[string]map[string]any)
	for key, val := range sectionMap {
		subMap, isTable := val.(map[string]any)
		if !isTable {
			baseFields[key] = val
			continue
		}
		if _, err := expr.Compile(key, expr.Env(env), expr.AsBool()); err == nil {
			conditionalFields[key] = subMap
		} else {
			baseFields[key] = val
		}
	}

	if len(baseFields) > 0 {
		if err := remarshal(baseFields, dst); err != nil {
			return fmt.Errorf("failed to parse base [%s] section: %w", name, err)
		}
	}

	for _, expression := range slices.Sorted(maps.Keys(conditionalFields)) {
		program, err := expr.Compile(expression, expr.Env(env), expr.AsBool())
		if err != nil {
			return fmt.Errorf("failed to compile expression for [%s.%q]: %w", name, expression, err)
		}
		result, err := expr.Run(program, env)
		if err != nil {
			return fmt.Errorf("failed to run expression for [%s.%q]: %w", name, expression, err)
		}
		if matched, ok := result.(bool); !ok || !matched {
			continue
		}

		var condSection T
		if err := remarshal(conditionalFields[expression], &condSection); err != nil {
			return fmt.Errorf("failed to parse conditional section [%s.%q]: %w", name, expression, err)
		}
		if err := mergeStructs(dst, condSection); err != nil {
			return fmt.Errorf("failed to merge conditional section [%s.%q]: %w", name, expression, err)
		}
	}
	return nil
}

var exprRegex = regexp.MustCompile(`\{\{(.+?)\}\}`)

// evaluateString finds and evaluates all {{...}} expressions in a string
func evaluateString(s string, env Env) (string, error) {
	matches := exprRegex.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	var sb strings.Builder
	last := 0
	for _, m := range matches {
		sb.WriteString(s[last:m[0]])

		expression := strings.TrimSpace(s[m[2]:m[3]])
		program, err := expr.Compile(expression, expr.Env(env))
		if err != nil {
			return "", fmt.Errorf("failed to compile expression %q: %w", expression, err)
		}
		result, err := expr.Run(program, env)
		if err != nil {
			return "", fmt.Errorf("failed to run expression %q: %w", expression, err)
		}

		fmt.Fprintf(&sb, "%v", result)
		last = m[1]
	}
	sb.WriteString(s[last:])
	return sb.String(), nil
}

// processExpressions recursively walks the parsed TOML data and evaluates
// expressions in strings. The build hook is left alone; it is an expression
// in its own right.
func processExpressions(data any, env Env) (any, error) {
	switch v := data.(type) {
	case map[string]any:
		for key, val := range v {
			if key == "build" {
				continue
			}
			processed, err := processExpressions(val, env)
			if err != nil {
				return nil, err
			}
			v[key] = processed
		}
		return v, nil
	case []any:
		for i, item := range v {
			processed, err := processExpressions(item, env)
			if err != nil {
				return nil, err
			}
			v[i] = processed
		}
		return v, nil
	case string:
		return evaluateString(v, env)
	default:
		return data, nil
	}
}

func Parse(rdr io.Reader, env Env) (*Manifest, error) {
	var raw map[string]any
	dec := toml.NewDecoder(rdr)
	if err := dec.Decode(&raw); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			return nil, errors.New(derr.String())
		}
		return nil, err
	}

	processed, err := processExpressions(raw, env)
	if err != nil {
		return nil, fmt.Errorf("error processing expressions in manifest: %w", err)
	}
	raw = processed.(map[string]any)

	m := new(Manifest)
	if err := unmarshalConditionalSection(raw, "library", &m.Library, env); err != nil {
		return nil, err
	}
	if err := unmarshalSection(raw, "source", &m.Source); err != nil {
		return nil, err
	}

	m.Profile = maps.Clone(defaultProfiles)
	var profiles map[string]ProfileSection
	if err := unmarshalSection(raw, "profile", &profiles); err != nil {
		return nil, err
	}
	for name, p := range profiles {
		base := m.Profile[name]
		if err := mergeStructs(&base, p); err != nil {
			return nil, fmt.Errorf("failed to merge [profile.%s]: %w", name, err)
		}
		m.Profile[name] = base
	}

	if m.Library.Name == "" {
		return nil, errors.New("[library] name is required")
	}
	return m, nil
}

// Load parses the manifest in dir.
func Load(dir string, env Env) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := Parse(bufio.NewReader(f), env)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// RunBuild evaluates the [library] build hook. The hook must return true.
func (m *Manifest) RunBuild(env Env) error {
	if m.Library.Build == "" {
		return nil
	}

	program, err := expr.Compile(m.Library.Build, expr.Env(env))
	if err != nil {
		return fmt.Errorf("failed to compile build hook for library %q: %w", m.Library.Name, err)
	}
	result, err := expr.Run(program, env)
	if err != nil {
		return fmt.Errorf("failed to run build hook for library %q: %w", m.Library.Name, err)
	}
	if ok, isBool := result.(bool); !isBool || !ok {
		return fmt.Errorf("build hook for library %q returned false\n%s", m.Library.Name, m.Library.Build)
	}
	return nil
}
