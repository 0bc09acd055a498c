package recipe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cocinero/cocinero/pkg/engine"
)

// Loader reads recipes from disk. A path may name a recipe file, a recipe
// directory holding one of FileNames, or a cookbook directory whose
// subdirectories are recipe directories.
type Loader struct {
	parser *Parser
	vars   *VarsEvaluator
	logger zerolog.Logger
}

// NewLoader creates a loader. A nil vars evaluator disables vars scripts.
func NewLoader(parser *Parser, vars *VarsEvaluator, logger zerolog.Logger) *Loader {
	return &Loader{parser: parser, vars: vars, logger: logger}
}

// Load returns the documents found at path. Cookbook recipes are returned in
// lexical order of their directory names.
func (l *Loader) Load(ctx context.Context, path string) ([]*engine.Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, engine.NewParseError(fmt.Sprintf("cannot open %s", path), err).
			WithCode(engine.ErrCodeNotFound)
	}

	if !info.IsDir() {
		doc, err := l.LoadFile(ctx, path)
		if err != nil {
			return nil, err
		}
		return []*engine.Document{doc}, nil
	}

	if file, ok := findRecipeFile(path); ok {
		doc, err := l.LoadFile(ctx, file)
		if err != nil {
			return nil, err
		}
		return []*engine.Document{doc}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, engine.NewParseError(fmt.Sprintf("cannot read cookbook %s", path), err)
	}

	var docs []*engine.Document
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		file, ok := findRecipeFile(filepath.Join(path, entry.Name()))
		if !ok {
			l.logger.Debug().Str("dir", entry.Name()).Msg("Skipping directory without recipe")
			continue
		}
		doc, err := l.LoadFile(ctx, file)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}

	if len(docs) == 0 {
		return nil, engine.NewParseError(fmt.Sprintf("no recipes found in %s", path), nil).
			WithCode(engine.ErrCodeNotFound)
	}
	return docs, nil
}

// LoadFile parses one recipe file and evaluates the vars script beside it.
func (l *Loader) LoadFile(ctx context.Context, path string) (*engine.Document, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, engine.NewParseError(fmt.Sprintf("cannot resolve %s", path), err)
	}
	name := RecipeName(abs)

	format, err := FormatFromPath(abs)
	if err != nil {
		return nil, engine.NewParseError("unknown recipe format", err).WithRecipe(name)
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, engine.NewParseError(fmt.Sprintf("cannot read %s", path), err).
			WithRecipe(name).
			WithCode(engine.ErrCodeNotFound)
	}

	baseDir := filepath.Dir(abs)
	doc, err := l.parser.Parse(data, format, name, baseDir)
	if err != nil {
		return nil, err
	}

	if l.vars != nil {
		extra, err := l.loadVars(ctx, name, baseDir)
		if err != nil {
			return nil, engine.NewParseError("invalid vars script", err).WithRecipe(name)
		}
		doc.TemplateVars = append(doc.TemplateVars, extra...)
	}

	l.logger.Info().
		Str("recipe", name).
		Str("path", abs).
		Int("steps", len(doc.Steps)).
		Msg("Loaded recipe")
	return doc, nil
}

func (l *Loader) loadVars(ctx context.Context, name, dir string) ([]engine.VariableSet, error) {
	path := filepath.Join(dir, VarsScriptName)
	script, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	sets, err := l.vars.Evaluate(ctx, name, path, script)
	if err != nil {
		return nil, err
	}
	l.logger.Debug().Str("recipe", name).Int("sets", len(sets)).Msg("Evaluated vars script")
	return sets, nil
}

// RecipeName derives a recipe name from its file path: the directory name for
// one of FileNames, otherwise the file name without extension.
func RecipeName(path string) string {
	base := filepath.Base(path)
	for _, name := range FileNames {
		if base == name {
			return filepath.Base(filepath.Dir(path))
		}
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func findRecipeFile(dir string) (string, bool) {
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, true
		}
	}
	return "", false
}
