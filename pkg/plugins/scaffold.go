package plugins

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bijux/bijux-cli/pkg/core"
)

// namePlaceholder is the token replaced by the plugin name in template file
// names and contents.
const namePlaceholder = "__plugin_name__"

// pluginNameRe matches valid plugin names; mirrors the descriptor schema.
var pluginNameRe = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,63}$`)

// TemplateFetcher retrieves a remote template reference into a local
// directory. Implemented by the SFTP transport.
type TemplateFetcher interface {
	Fetch(ctx context.Context, ref, destDir string) error
}

// remoteRef matches user@host:/path template references.
var remoteRef = regexp.MustCompile(`^[^@\s]+@[^:\s]+:.+$`)

// Scaffold creates a new plugin skeleton named name under destDir from the
// given template source. A missing or unreadable template is the distinct
// NoTemplate failure: it is a common, expected mistake worth a precise
// diagnostic rather than a generic usage error.
func (m *Manager) Scaffold(ctx context.Context, name, template, destDir string, fetcher TemplateFetcher) (string, error) {
	if !pluginNameRe.MatchString(name) {
		return "", core.NewUsageError(
			fmt.Sprintf("invalid plugin name %q", name), nil,
		).WithFailure(core.FailInvalidName)
	}
	if strings.TrimSpace(template) == "" {
		return "", core.NewUsageError(
			"no plugin template given: pass a local path or a user@host:/path reference", nil,
		).WithFailure(core.FailNoTemplate)
	}

	templateDir := template
	if remoteRef.MatchString(template) {
		if fetcher == nil {
			return "", core.NewUsageError(
				fmt.Sprintf("remote template %q requires SFTP support", template), nil,
			).WithFailure(core.FailNoTemplate)
		}
		staged, err := os.MkdirTemp("", "bijux-template-")
		if err != nil {
			return "", fmt.Errorf("failed to stage remote template: %w", err)
		}
		defer os.RemoveAll(staged)
		if err := fetcher.Fetch(ctx, template, staged); err != nil {
			return "", core.NewUsageError(
				fmt.Sprintf("no plugin template at %q", template), err,
			).WithFailure(core.FailNoTemplate)
		}
		templateDir = staged
	}

	info, err := os.Stat(templateDir)
	if err != nil || !info.IsDir() {
		return "", core.NewUsageError(
			fmt.Sprintf("no plugin template at %q", template), err,
		).WithFailure(core.FailNoTemplate)
	}

	target := filepath.Join(destDir, name)
	if _, err := os.Stat(target); err == nil {
		return "", core.NewAlreadyExistsError(
			fmt.Sprintf("scaffold target %s already exists", target), nil)
	}

	if err := renderTree(templateDir, target, name); err != nil {
		os.RemoveAll(target)
		return "", fmt.Errorf("failed to render template: %w", err)
	}
	m.logger.Info().Str("plugin", name).Str("path", target).Msg("plugin scaffolded")
	return target, nil
}

// renderTree copies the template, substituting the name placeholder in both
// paths and file contents.
func renderTree(src, dst, name string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, strings.ReplaceAll(rel, namePlaceholder, name))
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		data = []byte(strings.ReplaceAll(string(data), namePlaceholder, name))
		return os.WriteFile(target, data, info.Mode().Perm())
	})
}
