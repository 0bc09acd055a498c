package policy

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
)

// Loader reads site policies from disk.
//
// A .rego file is one policy named after the file. Its leading comment block
// is the description, except for directive lines:
//
//	# severity: error
//	# disabled
//
// A .toml file is a manifest naming a policy and pointing at its Rego, either
// inline (rego) or in a file relative to the manifest (rego_file).
type Loader struct {
	logger zerolog.Logger
}

// manifest is the on-disk shape of a .toml policy.
type manifest struct {
	Name        string   `toml:"name"`
	Description string   `toml:"description"`
	Severity    Severity `toml:"severity"`
	Enabled     *bool    `toml:"enabled"`
	Rego        string   `toml:"rego"`
	RegoFile    string   `toml:"rego_file"`
}

// NewLoader creates a policy loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{logger: logger.With().Str("component", "policy-loader").Logger()}
}

// LoadFromPaths loads the policies at paths in order. Directories are walked
// in lexical order. Two policies with the same name are an error.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var policies []Policy
	seen := make(map[string]string)

	for _, root := range paths {
		files, err := policyFiles(root)
		if err != nil {
			return nil, err
		}
		for _, file := range files {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			p, err := l.LoadFile(file)
			if err != nil {
				return nil, err
			}
			if prev, dup := seen[p.Name]; dup {
				return nil, fmt.Errorf("policy %q defined in both %s and %s", p.Name, prev, file)
			}
			seen[p.Name] = file
			policies = append(policies, *p)
		}
	}

	l.logger.Debug().Int("policies", len(policies)).Strs("paths", paths).Msg("Site policies loaded")
	return policies, nil
}

func policyFiles(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("policy path: %w", err)
	}
	if !info.IsDir() {
		return []string{root}, nil
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		switch filepath.Ext(path) {
		case ".rego":
			// rego files referenced by a manifest are loaded through it
			if fileExists(strings.TrimSuffix(path, ".rego") + ".toml") {
				return nil
			}
			files = append(files, path)
		case ".toml":
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}
	return files, nil
}

// LoadFile loads one .rego or .toml policy.
func (l *Loader) LoadFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy: %w", err)
	}

	var p *Policy
	switch filepath.Ext(path) {
	case ".rego":
		p, err = parseRego(path, data)
	case ".toml":
		p, err = parseManifest(path, data)
	default:
		return nil, fmt.Errorf("%s: unsupported policy file type", path)
	}
	if err != nil {
		return nil, err
	}

	l.logger.Debug().Str("policy", p.Name).Str("path", path).Msg("Policy loaded")
	return p, nil
}

func parseRego(path string, data []byte) (*Policy, error) {
	p := &Policy{
		Name:     strings.TrimSuffix(filepath.Base(path), ".rego"),
		Rego:     string(data),
		Severity: SeverityWarning,
		Enabled:  true,
		Source:   path,
	}

	var desc []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			if len(desc) > 0 {
				break
			}
			continue
		}
		if !strings.HasPrefix(line, "#") {
			break
		}
		comment := strings.TrimSpace(strings.TrimPrefix(line, "#"))
		switch {
		case strings.HasPrefix(comment, "severity:"):
			p.Severity = Severity(strings.TrimSpace(strings.TrimPrefix(comment, "severity:")))
		case comment == "disabled":
			p.Enabled = false
		case comment != "":
			desc = append(desc, comment)
		}
	}
	p.Description = strings.Join(desc, " ")

	if err := checkSeverity(path, p.Severity); err != nil {
		return nil, err
	}
	return p, nil
}

func parseManifest(path string, data []byte) (*Policy, error) {
	var m manifest
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	p := &Policy{
		Name:        m.Name,
		Description: m.Description,
		Severity:    m.Severity,
		Enabled:     m.Enabled == nil || *m.Enabled,
		Rego:        m.Rego,
		Source:      path,
	}
	if p.Name == "" {
		p.Name = strings.TrimSuffix(filepath.Base(path), ".toml")
	}
	if p.Severity == "" {
		p.Severity = SeverityWarning
	}
	if err := checkSeverity(path, p.Severity); err != nil {
		return nil, err
	}

	switch {
	case m.Rego != "" && m.RegoFile != "":
		return nil, fmt.Errorf("%s: rego and rego_file are mutually exclusive", path)
	case m.RegoFile != "":
		file := m.RegoFile
		if !filepath.IsAbs(file) {
			file = filepath.Join(filepath.Dir(path), file)
		}
		src, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		p.Rego = string(src)
	case m.Rego == "":
		return nil, fmt.Errorf("%s: one of rego or rego_file is required", path)
	}
	return p, nil
}

func checkSeverity(path string, s Severity) error {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return nil
	}
	return fmt.Errorf("%s: unknown severity %q", path, s)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
