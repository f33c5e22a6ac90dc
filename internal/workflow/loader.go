package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fentz26/conductor/internal/models"
	"github.com/spf13/viper"
)

// Document is the on-disk shape of a template file.
type Document struct {
	Templates []models.WorkflowTemplate `mapstructure:"templates" yaml:"templates" json:"templates"`
}

// LoadTemplates reads a YAML or JSON template file. The format follows the
// file extension and defaults to YAML.
func LoadTemplates(path string) ([]models.WorkflowTemplate, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("template file not found: %s", path)
	}

	v := viper.New()
	v.SetConfigFile(path)
	ext := strings.ToLower(filepath.Ext(path))
	if ext != "" {
		v.SetConfigType(ext[1:])
	} else {
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading template file: %w", err)
	}

	var doc Document
	if err := v.Unmarshal(&doc); err != nil {
		return nil, fmt.Errorf("parsing template file: %w", err)
	}
	if len(doc.Templates) == 0 {
		return nil, fmt.Errorf("%w: %s declares no templates", ErrInvalidTemplate, path)
	}
	return doc.Templates, nil
}

// Merge overlays loaded templates on base: a loaded template replaces the
// base template of the same name, new names are appended.
func Merge(base, loaded []models.WorkflowTemplate) []models.WorkflowTemplate {
	out := append([]models.WorkflowTemplate(nil), base...)
	index := make(map[string]int, len(out))
	for i, t := range out {
		index[t.Name] = i
	}
	for _, t := range loaded {
		if i, ok := index[t.Name]; ok {
			out[i] = t
			continue
		}
		index[t.Name] = len(out)
		out = append(out, t)
	}
	return out
}
