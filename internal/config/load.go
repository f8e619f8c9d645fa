package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"mergeflow/internal/apperr"
)

// LookupFunc resolves an environment variable.
type LookupFunc func(name string) (string, bool)

// Load reads and decodes the pipeline file at path, substituting variables
// from the process environment.
func Load(path string) (Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Pipeline{}, apperr.Config("config.load", "read %s: %w", path, err)
	}
	p, err := Parse(data, os.LookupEnv)
	if err != nil {
		return p, err
	}
	if p.Name == "" {
		p.Name = strings.TrimSuffix(baseName(path), extName(path))
	}
	return p, nil
}

// Parse decodes a pipeline document. Variable references in scalar values
// are expanded with lookup before decoding, so comments and keys are never
// substituted. Unknown keys are rejected.
func Parse(data []byte, lookup LookupFunc) (Pipeline, error) {
	p := defaults()

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return p, apperr.Config("config.parse", "%w", err)
	}
	if root.Kind == 0 {
		return p, apperr.Config("config.parse", "empty document")
	}
	if err := expandNode(&root, lookup); err != nil {
		return p, err
	}

	// Round-trip through the encoder so the decoder can reject unknown keys.
	expanded, err := yaml.Marshal(&root)
	if err != nil {
		return p, apperr.Config("config.parse", "%w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return p, apperr.Config("config.parse", "%w", err)
	}
	applyDefaults(&p)
	return p, nil
}

// defaults returns the values of keys a document may omit. Decoding into
// this value keeps them unless the document overrides them.
func defaults() Pipeline {
	return Pipeline{
		SpillDir:       DefaultSpillDir,
		ControlColumns: true,
	}
}

func applyDefaults(p *Pipeline) {
	if p.SpillDir == "" {
		p.SpillDir = DefaultSpillDir
	}
	a := &p.Source.API
	if a.Method == "" {
		a.Method = DefaultAPIMethod
	}
	a.Method = strings.ToUpper(a.Method)
	if a.Timeout <= 0 {
		a.Timeout = DefaultAPITimeout
	}
	if a.Auth.Bearer == "" {
		a.Auth.Bearer = DefaultTokenPrefix
	}
	e := &p.Source.Email
	if e.Folder == "" {
		e.Folder = DefaultEmailFolder
	}
	if e.SearchMail == "" {
		e.SearchMail = DefaultEmailSearch
	}
	if e.Port == 0 {
		e.Port = DefaultEmailIMAPPort
	}
	r := &p.Target.Report
	if r.Filename == "" {
		r.Filename = DefaultReportName
	}
	if r.Format == "" {
		r.Format = DefaultReportFormat
	}
	r.Format = strings.ToLower(r.Format)
}

var envRef = regexp.MustCompile(`\$\$|\$\{([A-Za-z_][A-Za-z0-9_]*)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// ExpandEnv replaces $NAME and ${NAME} in s. "$$" yields a literal "$"; a
// "$" not followed by a name is kept. An unset variable is a config error.
func ExpandEnv(s string, lookup LookupFunc) (string, error) {
	if !strings.Contains(s, "$") {
		return s, nil
	}
	var missing []string
	out := envRef.ReplaceAllStringFunc(s, func(m string) string {
		if m == "$$" {
			return "$"
		}
		sub := envRef.FindStringSubmatch(m)
		name := sub[1]
		if name == "" {
			name = sub[2]
		}
		v, ok := lookup(name)
		if !ok {
			missing = append(missing, name)
			return m
		}
		return v
	})
	if len(missing) > 0 {
		return s, apperr.Config("config.env", "undefined environment variable(s): %s", strings.Join(missing, ", "))
	}
	return out, nil
}

func expandNode(n *yaml.Node, lookup LookupFunc) error {
	switch n.Kind {
	case yaml.ScalarNode:
		v, err := ExpandEnv(n.Value, lookup)
		if err != nil {
			return fmt.Errorf("line %d: %w", n.Line, err)
		}
		if v != n.Value && n.Style&(yaml.SingleQuotedStyle|yaml.DoubleQuotedStyle) == 0 {
			// Re-resolve plain scalars: "${PORT}" was a string, "5432" is not.
			n.Tag = ""
		}
		n.Value = v
	case yaml.MappingNode:
		// Keys stay literal; only values are expanded.
		for i := 1; i < len(n.Content); i += 2 {
			if err := expandNode(n.Content[i], lookup); err != nil {
				return err
			}
		}
	case yaml.DocumentNode, yaml.SequenceNode:
		for _, c := range n.Content {
			if err := expandNode(c, lookup); err != nil {
				return err
			}
		}
	}
	return nil
}

func baseName(p string) string {
	if i := strings.LastIndexAny(p, `/\`); i >= 0 {
		return p[i+1:]
	}
	return p
}

func extName(p string) string {
	b := baseName(p)
	if i := strings.LastIndex(b, "."); i > 0 {
		return b[i:]
	}
	return ""
}
