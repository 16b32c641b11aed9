package archive

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/blockgate/hosting/internal/monitoring"
	"github.com/blockgate/hosting/internal/webdav"
	"github.com/blockgate/hosting/pkg/logger"
)

// Config holds the cold storage connection settings. An empty Host
// disables offloading entirely.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	BasePath string
}

// SharedFS is the slice of the shared filesystem gateway the offloader
// walks and, after a complete upload, clears.
type SharedFS interface {
	List(ctx context.Context, path string) ([]webdav.FileInfo, error)
	Read(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
}

// remoteStore is the slice of an SFTP session the offloader writes to.
type remoteStore interface {
	MkdirAll(path string) error
	Create(path string) (io.WriteCloser, error)
	Close() error
}

const offloadTimeout = 30 * time.Minute

// Offloader copies archived server directories from the shared
// filesystem to SFTP cold storage. The shared-FS copy is removed only
// after every file made it across.
type Offloader struct {
	fs   SharedFS
	cfg  Config
	dial func() (remoteStore, error)
}

func NewOffloader(fs SharedFS, cfg Config) *Offloader {
	o := &Offloader{fs: fs, cfg: cfg}
	o.dial = o.dialSFTP
	return o
}

// Enabled reports whether cold storage is configured.
func (o *Offloader) Enabled() bool {
	return o.cfg.Host != ""
}

// OffloadAsync moves one archived directory tree in the background.
// Failures are logged; the shared-FS copy stays in place for the next
// attempt.
func (o *Offloader) OffloadAsync(sourcePath string) {
	if !o.Enabled() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), offloadTimeout)
		defer cancel()
		if err := o.Offload(ctx, sourcePath); err != nil {
			monitoring.RecordExternalFailure("sftp")
			logger.Error("Archive offload failed", err, map[string]interface{}{
				"path": sourcePath,
			})
		}
	}()
}

// Offload uploads the directory tree at sourcePath to cold storage and
// removes the source on success.
func (o *Offloader) Offload(ctx context.Context, sourcePath string) error {
	if !o.Enabled() {
		return fmt.Errorf("archive offload is not configured")
	}

	remote, err := o.dial()
	if err != nil {
		return fmt.Errorf("failed to reach cold storage: %w", err)
	}
	defer remote.Close()

	target := path.Join(o.cfg.BasePath, path.Base(sourcePath))
	files, bytes, err := o.uploadTree(ctx, remote, sourcePath, target)
	if err != nil {
		return err
	}

	if err := o.fs.Delete(ctx, sourcePath); err != nil {
		return fmt.Errorf("uploaded but failed to clear shared copy: %w", err)
	}

	logger.Info("Archive offloaded to cold storage", map[string]interface{}{
		"source": sourcePath,
		"target": target,
		"files":  files,
		"bytes":  bytes,
	})
	return nil
}

func (o *Offloader) uploadTree(ctx context.Context, remote remoteStore, source, target string) (int, int64, error) {
	if err := remote.MkdirAll(target); err != nil {
		return 0, 0, fmt.Errorf("failed to create %s: %w", target, err)
	}

	entries, err := o.fs.List(ctx, source)
	if err != nil {
		return 0, 0, err
	}

	var files int
	var total int64
	for _, entry := range entries {
		if entry.IsDir {
			f, b, err := o.uploadTree(ctx, remote, entry.Path, path.Join(target, entry.Name))
			if err != nil {
				return files, total, err
			}
			files += f
			total += b
			continue
		}

		data, err := o.fs.Read(ctx, entry.Path)
		if err != nil {
			return files, total, err
		}
		if err := o.uploadFile(remote, path.Join(target, entry.Name), data); err != nil {
			return files, total, err
		}
		files++
		total += int64(len(data))
	}
	return files, total, nil
}

func (o *Offloader) uploadFile(remote remoteStore, remotePath string, data []byte) error {
	writer, err := remote.Create(remotePath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", remotePath, err)
	}
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return fmt.Errorf("failed to upload %s: %w", remotePath, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finish %s: %w", remotePath, err)
	}
	return nil
}

func (o *Offloader) dialSFTP() (remoteStore, error) {
	sshConfig := &ssh.ClientConfig{
		User:            o.cfg.User,
		Auth:            []ssh.AuthMethod{ssh.Password(o.cfg.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         30 * time.Second,
	}

	address := fmt.Sprintf("%s:%d", o.cfg.Host, o.cfg.Port)
	sshClient, err := ssh.Dial("tcp", address, sshConfig)
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s: %w", address, err)
	}
	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, fmt.Errorf("sftp session: %w", err)
	}
	return &sftpConn{ssh: sshClient, sftp: sftpClient}, nil
}

// sftpConn adapts an SFTP session to the remoteStore seam.
type sftpConn struct {
	ssh  *ssh.Client
	sftp *sftp.Client
}

func (c *sftpConn) MkdirAll(path string) error {
	return c.sftp.MkdirAll(path)
}

func (c *sftpConn) Create(path string) (io.WriteCloser, error) {
	return c.sftp.Create(path)
}

func (c *sftpConn) Close() error {
	c.sftp.Close()
	return c.ssh.Close()
}
