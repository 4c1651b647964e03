// internal/services/format_service.go
package services

import (
	"path/filepath"
	"strings"

	apperrors "github.com/Corphon/calligrapher/internal/errors"
	"github.com/Corphon/calligrapher/internal/models"
)

// extensionFormats maps lower-case extensions to play strategies.
var extensionFormats = map[string]models.StoryFormat{
	".json": models.FormatCompiledJSON,
	".ink":  models.FormatInkSource,
	".txt":  models.FormatPlainText,
	".md":   models.FormatPlainText,
}

// SupportedExtensions lists the accepted extensions in a stable order.
func SupportedExtensions() []string {
	return []string{".json", ".ink", ".txt", ".md"}
}

// ClassifyFile picks the playback strategy for path by its extension.
func ClassifyFile(path string) (models.StoryFormat, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if format, ok := extensionFormats[ext]; ok {
		return format, nil
	}
	return "", apperrors.NewUnsupportedFormatError(path, SupportedExtensions())
}

// IsMarkdown reports whether a plain-text adventure should be rendered as markdown.
func IsMarkdown(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".md")
}
