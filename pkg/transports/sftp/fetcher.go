package sftp

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// Fetcher downloads template trees over SFTP. It implements the plugin
// manager's TemplateFetcher interface.
type Fetcher struct {
	config *Config
	logger zerolog.Logger
}

// NewFetcher creates a fetcher with the given configuration. A nil config
// uses defaults.
func NewFetcher(config *Config, logger zerolog.Logger) (*Fetcher, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Fetcher{
		config: config,
		logger: logger.With().Str("component", "sftp-fetcher").Logger(),
	}, nil
}

// Fetch copies the remote directory referenced by user@host:/path into
// destDir, preserving the tree layout.
func (f *Fetcher) Fetch(ctx context.Context, ref, destDir string) error {
	user, host, remotePath, err := parseRef(ref)
	if err != nil {
		return err
	}

	client, sshClient, err := f.connect(ctx, user, host)
	if err != nil {
		return err
	}
	defer sshClient.Close()
	defer client.Close()

	info, err := client.Stat(remotePath)
	if err != nil {
		return fmt.Errorf("failed to stat remote path %s: %w", remotePath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("remote path %s is not a directory", remotePath)
	}

	copied := 0
	walker := client.Walk(remotePath)
	for walker.Step() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := walker.Err(); err != nil {
			return fmt.Errorf("failed to walk remote tree: %w", err)
		}

		rel, err := filepath.Rel(remotePath, walker.Path())
		if err != nil {
			return err
		}
		target := filepath.Join(destDir, rel)

		if walker.Stat().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("failed to create %s: %w", target, err)
			}
			continue
		}
		if err := f.copyFile(client, walker.Path(), target); err != nil {
			return err
		}
		copied++
	}

	f.logger.Debug().
		Str("host", host).
		Str("path", remotePath).
		Int("files", copied).
		Msg("template fetched")
	return nil
}

// connect dials the SSH connection and opens an SFTP session on top of it.
// Dialing runs in a goroutine so ctx cancellation is honored.
func (f *Fetcher) connect(ctx context.Context, user, host string) (*sftp.Client, *ssh.Client, error) {
	clientConfig, err := f.config.buildClientConfig(user)
	if err != nil {
		return nil, nil, err
	}

	address := fmt.Sprintf("%s:%d", host, f.config.Port)
	f.logger.Debug().Str("address", address).Msg("establishing SFTP connection")

	connChan := make(chan *ssh.Client, 1)
	errChan := make(chan error, 1)
	go func() {
		sshClient, err := ssh.Dial("tcp", address, clientConfig)
		if err != nil {
			errChan <- err
			return
		}
		connChan <- sshClient
	}()

	var sshClient *ssh.Client
	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case err := <-errChan:
		return nil, nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	case sshClient = <-connChan:
	}

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, nil, fmt.Errorf("failed to open SFTP session: %w", err)
	}
	return client, sshClient, nil
}

// copyFile downloads one remote file to the local target path.
func (f *Fetcher) copyFile(client *sftp.Client, remote, target string) error {
	src, err := client.Open(remote)
	if err != nil {
		return fmt.Errorf("failed to open remote file %s: %w", remote, err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(target), err)
	}
	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to download %s: %w", remote, err)
	}
	return nil
}

// parseRef splits a user@host:/path reference into its parts.
func parseRef(ref string) (user, host, remotePath string, err error) {
	at := strings.Index(ref, "@")
	if at <= 0 {
		return "", "", "", fmt.Errorf("invalid template reference %q: expected user@host:/path", ref)
	}
	user = ref[:at]
	rest := ref[at+1:]

	colon := strings.Index(rest, ":")
	if colon <= 0 || colon == len(rest)-1 {
		return "", "", "", fmt.Errorf("invalid template reference %q: expected user@host:/path", ref)
	}
	host = rest[:colon]
	remotePath = path.Clean(rest[colon+1:])
	return user, host, remotePath, nil
}
