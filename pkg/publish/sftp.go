// Package publish mirrors generated artifacts to a remote host over SFTP.
package publish

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Config describes the remote mirror target.
type Config struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	PrivateKeyPath string `mapstructure:"private_key_path"`
	KnownHostsPath string `mapstructure:"known_hosts_path"`
	RemoteDir      string `mapstructure:"remote_dir"`
}

// Enabled reports whether a mirror host is configured.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Host) != ""
}

// SFTPMirror uploads artifacts into RemoteDir on every Push.
type SFTPMirror struct {
	cfg  Config
	dial func(network, addr string, config *ssh.ClientConfig) (*ssh.Client, error)
}

func NewSFTPMirror(cfg Config) (*SFTPMirror, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("mirror host not configured")
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.RemoteDir == "" {
		cfg.RemoteDir = "."
	}
	return &SFTPMirror{cfg: cfg, dial: ssh.Dial}, nil
}

// Push uploads localPath and returns the remote path.
func (m *SFTPMirror) Push(ctx context.Context, localPath string) (string, error) {
	clientConfig, err := m.clientConfig()
	if err != nil {
		return "", err
	}

	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	client, err := m.dial("tcp", addr, clientConfig)
	if err != nil {
		return "", fmt.Errorf("ssh dial failed: %w", err)
	}
	defer client.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			client.Close()
		case <-done:
		}
	}()

	remotePath := path.Join(m.cfg.RemoteDir, filepath.Base(localPath))
	if err := pushFile(client, localPath, remotePath); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("upload %s: %w", remotePath, err)
	}
	return remotePath, nil
}

func (m *SFTPMirror) clientConfig() (*ssh.ClientConfig, error) {
	auth, err := m.authMethods()
	if err != nil {
		return nil, err
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if p := strings.TrimSpace(m.cfg.KnownHostsPath); p != "" {
		hostKey, err = knownhosts.New(p)
		if err != nil {
			return nil, fmt.Errorf("load known hosts: %w", err)
		}
	}

	return &ssh.ClientConfig{
		User:            m.cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         30 * time.Second,
	}, nil
}

func (m *SFTPMirror) authMethods() ([]ssh.AuthMethod, error) {
	methods := make([]ssh.AuthMethod, 0, 2)
	if p := strings.TrimSpace(m.cfg.PrivateKeyPath); p != "" {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read ssh private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("parse ssh private key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if password := strings.TrimSpace(m.cfg.Password); password != "" {
		methods = append(methods, ssh.Password(password))
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("no authentication method provided")
	}
	return methods, nil
}

func pushFile(client *ssh.Client, localPath, remotePath string) error {
	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return err
	}
	defer sftpClient.Close()

	if err := sftpClient.MkdirAll(path.Dir(remotePath)); err != nil {
		return err
	}

	src, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer src.Close()

	tmpPath := remotePath + ".part"
	file, err := sftpClient.Create(tmpPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(file, src); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	if err := sftpClient.Chmod(tmpPath, 0o644); err != nil {
		return err
	}
	return sftpClient.PosixRename(tmpPath, remotePath)
}
