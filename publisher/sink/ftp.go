package sink

import (
	"bytes"
	"context"
	"io"
	"path"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rs/zerolog"
	"github.com/selk/catalogpub/ledger"
	"github.com/selk/catalogpub/publisher"
	"gitlab.com/tozd/go/errors"
)

// DefaultFTPTimeout for connecting and each control command
const DefaultFTPTimeout = 30 * time.Second

// FTPConn is the subset of an FTP session the sink uses
type FTPConn interface {
	Login(user, password string) error
	CurrentDir() (string, error)
	ChangeDir(path string) error
	MakeDir(path string) error
	Stor(path string, r io.Reader) error
	Quit() error
}

// FTPDialer opens a control connection to addr
type FTPDialer func(ctx context.Context, addr string, timeout time.Duration) (FTPConn, error)

// FTPConfig holds connection settings for FTPSink
type FTPConfig struct {
	Address    string // host:port
	User       string
	Password   string
	UploadPath string
	Timeout    time.Duration
}

// FTPSink uploads catalogs under their published name. Every publish opens
// its own session and always quits it.
type FTPSink struct {
	config FTPConfig
	dial   FTPDialer
	logger zerolog.Logger
}

// NewFTPSink creates an FTP sink
func NewFTPSink(config FTPConfig, logger zerolog.Logger) (*FTPSink, error) {
	return newFTPSink(config, dialFTP, logger)
}

func newFTPSink(config FTPConfig, dial FTPDialer, logger zerolog.Logger) (*FTPSink, error) {
	if config.Address == "" || strings.HasPrefix(config.Address, ":") {
		return nil, errors.New("ftp sink requires a host")
	}
	if config.User == "" {
		return nil, errors.New("ftp sink requires a user")
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultFTPTimeout
	}

	return &FTPSink{
		config: config,
		dial:   dial,
		logger: logger.With().Str("sink", "ftp").Str("address", config.Address).Logger(),
	}, nil
}

func dialFTP(ctx context.Context, addr string, timeout time.Duration) (FTPConn, error) {
	conn, err := ftp.Dial(addr, ftp.DialWithTimeout(timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (s *FTPSink) Stage() ledger.Stage {
	return ledger.StageRemote
}

func (s *FTPSink) Publish(ctx context.Context, item publisher.Item) (publisher.Receipt, error) {
	receipt := publisher.Receipt{Details: map[string]string{
		"remote_path": path.Join(s.config.UploadPath, item.Name),
	}}

	if item.Name == "" || strings.ContainsAny(item.Name, "/\r\n") {
		return receipt, errors.Errorf("invalid remote name %q", item.Name)
	}

	err := s.session(ctx, func(conn FTPConn) error {
		if err := conn.Stor(item.Name, bytes.NewReader(item.Content)); err != nil {
			return errors.Errorf("storing %s: %w", item.Name, err)
		}
		return nil
	})
	if err != nil {
		return receipt, err
	}

	s.logger.Debug().Str("file", item.Name).Msg("Catalog uploaded")
	return receipt, nil
}

// TestConnection logs in and enters the upload directory
func (s *FTPSink) TestConnection(ctx context.Context) error {
	return s.session(ctx, func(FTPConn) error { return nil })
}

// session connects, logs in, enters the upload directory and runs fn. The
// session is always closed with QUIT.
func (s *FTPSink) session(ctx context.Context, fn func(conn FTPConn) error) (err error) {
	conn, err := s.dial(ctx, s.config.Address, s.config.Timeout)
	if err != nil {
		return errors.Errorf("connecting to %s: %w", s.config.Address, err)
	}
	defer func() {
		if qerr := conn.Quit(); qerr != nil {
			s.logger.Debug().Err(qerr).Msg("FTP quit failed")
		}
	}()

	if err := conn.Login(s.config.User, s.config.Password); err != nil {
		return errors.Errorf("login as %s: %w", s.config.User, err)
	}
	if err := s.enterUploadDir(conn); err != nil {
		return err
	}
	return fn(conn)
}

// enterUploadDir changes to the upload path, creating it one segment at a
// time when it does not exist. A relative path is resolved against the login
// directory so every segment is addressed absolutely.
func (s *FTPSink) enterUploadDir(conn FTPConn) error {
	dir := s.config.UploadPath
	if dir == "" {
		return nil
	}
	if !strings.HasPrefix(dir, "/") {
		home, err := conn.CurrentDir()
		if err != nil {
			return errors.Errorf("resolving login directory: %w", err)
		}
		dir = path.Join("/", home, dir)
	}
	if err := conn.ChangeDir(dir); err == nil {
		return nil
	}

	s.logger.Warn().Str("dir", dir).Msg("Upload directory missing, creating it")

	current := "/"
	for _, part := range strings.Split(strings.Trim(dir, "/"), "/") {
		if part == "" {
			continue
		}
		current = path.Join(current, part)
		if err := conn.ChangeDir(current); err == nil {
			continue
		}
		if err := conn.MakeDir(current); err != nil {
			s.logger.Warn().Err(err).Str("dir", current).Msg("Failed to create directory")
		}
	}

	if err := conn.ChangeDir(dir); err != nil {
		return errors.Errorf("changing to %s: %w", dir, err)
	}
	return nil
}

func (s *FTPSink) Close() error {
	return nil
}
