package sink

import (
	"bytes"
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/selk/catalogpub/cfg"
	"github.com/selk/catalogpub/ledger"
	"github.com/selk/catalogpub/publisher"
	"github.com/selk/catalogpub/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/tozd/go/errors"
)

func catalogItem(name, content string) publisher.Item {
	return publisher.Item{
		Name:    name,
		Content: []byte(content),
		Source: source.CatalogFile{
			FileName:   name,
			FullPath:   "/catalogs/" + name,
			Size:       int64(len(content)),
			ModifiedAt: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
			Mode:       0o640,
		},
	}
}

func TestLocalSinkCopies(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "mirror", "catalogs")
	s, err := NewLocalSink(dir, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, ledger.StageLocal, s.Stage())

	item := catalogItem("ROPA LABORAL.pdf", "pdf-v1")
	receipt, err := s.Publish(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"source": "/catalogs/ROPA LABORAL.pdf", "action": "copy"}, receipt.Details)

	target := filepath.Join(dir, "ROPA LABORAL.pdf")
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "pdf-v1", string(data))

	info, err := os.Stat(target)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(item.Source.ModifiedAt))
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())

	// Overwrite is idempotent and leaves no temp files behind
	item.Content = []byte("pdf-v2")
	_, err = s.Publish(context.Background(), item)
	require.NoError(t, err)

	data, err = os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "pdf-v2", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLocalSinkRejectsBadNames(t *testing.T) {
	s, err := NewLocalSink(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	for _, name := range []string{"", "../escape.pdf", "a/b.pdf"} {
		_, err := s.Publish(context.Background(), catalogItem(name, "x"))
		assert.Error(t, err, name)
	}
}

func TestLocalSinkUnwritable(t *testing.T) {
	parent := t.TempDir()
	blocker := filepath.Join(parent, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	s, err := NewLocalSink(filepath.Join(blocker, "mirror"), zerolog.Nop())
	require.NoError(t, err)

	receipt, err := s.Publish(context.Background(), catalogItem("A.pdf", "x"))
	require.Error(t, err)
	assert.Equal(t, "copy", receipt.Details["action"])
}

func TestNewLocalSinkRequiresPath(t *testing.T) {
	_, err := NewLocalSink("", zerolog.Nop())
	assert.Error(t, err)
}

type fakeDrive struct {
	files     map[string]string // name -> id
	content   map[string][]byte // id -> content
	searchErr error
	createErr error
	updateErr error
	nextID    int
}

func newFakeDrive() *fakeDrive {
	return &fakeDrive{files: map[string]string{}, content: map[string][]byte{}}
}

func (d *fakeDrive) Search(ctx context.Context, name string) (*DriveFile, error) {
	if d.searchErr != nil {
		return nil, d.searchErr
	}
	id, ok := d.files[name]
	if !ok {
		return nil, nil
	}
	return &DriveFile{ID: id, Name: name}, nil
}

func (d *fakeDrive) Create(ctx context.Context, name string, content []byte) (string, error) {
	if d.createErr != nil {
		return "", d.createErr
	}
	d.nextID++
	id := "id-" + string(rune('0'+d.nextID))
	d.files[name] = id
	d.content[id] = content
	return id, nil
}

func (d *fakeDrive) Update(ctx context.Context, id string, content []byte) error {
	if d.updateErr != nil {
		return d.updateErr
	}
	d.content[id] = content
	return nil
}

func TestDriveSinkCreatesThenUpdates(t *testing.T) {
	api := newFakeDrive()
	s := NewDriveSink(api, zerolog.Nop())
	assert.Equal(t, ledger.StageCloud, s.Stage())

	receipt, err := s.Publish(context.Background(), catalogItem("GRIFERIA.pdf", "v1"))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"action": "created", "file_id": "id-1"}, receipt.Details)

	receipt, err = s.Publish(context.Background(), catalogItem("GRIFERIA.pdf", "v2"))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"action": "updated", "file_id": "id-1"}, receipt.Details)
	assert.Equal(t, "v2", string(api.content["id-1"]))
}

func TestDriveSinkFailures(t *testing.T) {
	api := newFakeDrive()
	api.files["A.pdf"] = "id-a"
	api.updateErr = errors.New("quota exceeded")
	s := NewDriveSink(api, zerolog.Nop())

	receipt, err := s.Publish(context.Background(), catalogItem("A.pdf", "x"))
	require.Error(t, err)
	assert.Equal(t, "updated", receipt.Details["action"])
	assert.Equal(t, "id-a", receipt.Details["file_id"])

	api.createErr = errors.New("forbidden")
	receipt, err = s.Publish(context.Background(), catalogItem("B.pdf", "x"))
	require.Error(t, err)
	assert.Equal(t, "created", receipt.Details["action"])
	assert.Empty(t, receipt.Details["file_id"])

	api.searchErr = errors.New("unauthorized")
	_, err = s.Publish(context.Background(), catalogItem("C.pdf", "x"))
	assert.ErrorContains(t, err, "unauthorized")
}

func TestSearchQueryEscapes(t *testing.T) {
	q := searchQuery(`O'HIGGINS\1.pdf`, "folder-1")
	assert.Equal(t, `name='O\'HIGGINS\\1.pdf' and 'folder-1' in parents and trashed=false`, q)
}

type fakeFTP struct {
	mu       sync.Mutex
	dirs     map[string]bool
	cwd      string
	stored   map[string][]byte
	loginErr error
	storErr  error
	quits    int
	made     []string
}

func newFakeFTP(dirs ...string) *fakeFTP {
	f := &fakeFTP{dirs: map[string]bool{"/": true}, cwd: "/", stored: map[string][]byte{}}
	for _, d := range dirs {
		f.dirs[d] = true
	}
	return f
}

func (f *fakeFTP) Login(user, password string) error { return f.loginErr }

// resolve interprets p against the working directory the way a server does
func (f *fakeFTP) resolve(p string) string {
	if strings.HasPrefix(p, "/") {
		return path.Clean(p)
	}
	return path.Join(f.cwd, p)
}

func (f *fakeFTP) CurrentDir() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cwd, nil
}

func (f *fakeFTP) ChangeDir(p string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p = f.resolve(p)
	if !f.dirs[p] {
		return errors.New("550 no such directory")
	}
	f.cwd = p
	return nil
}

func (f *fakeFTP) MakeDir(p string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p = f.resolve(p)
	f.dirs[p] = true
	f.made = append(f.made, p)
	return nil
}

func (f *fakeFTP) Stor(p string, r io.Reader) error {
	if f.storErr != nil {
		return f.storErr
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stored[f.resolve(p)] = buf.Bytes()
	return nil
}

func (f *fakeFTP) Quit() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quits++
	return nil
}

func newTestFTPSink(t *testing.T, conn *fakeFTP, dialErr error) *FTPSink {
	t.Helper()
	s, err := newFTPSink(FTPConfig{
		Address:    "ftp.example.com:21",
		User:       "selk",
		Password:   "secret",
		UploadPath: "/selk/upload/productos",
	}, func(ctx context.Context, addr string, timeout time.Duration) (FTPConn, error) {
		if dialErr != nil {
			return nil, dialErr
		}
		assert.Equal(t, DefaultFTPTimeout, timeout)
		return conn, nil
	}, zerolog.Nop())
	require.NoError(t, err)
	return s
}

func TestFTPSinkUploadsUnderCanonicalName(t *testing.T) {
	conn := newFakeFTP("/selk", "/selk/upload", "/selk/upload/productos")
	s := newTestFTPSink(t, conn, nil)
	assert.Equal(t, ledger.StageRemote, s.Stage())

	receipt, err := s.Publish(context.Background(), catalogItem("ROPA_LABORAL.pdf", "pdf"))
	require.NoError(t, err)
	assert.Equal(t, "/selk/upload/productos/ROPA_LABORAL.pdf", receipt.Details["remote_path"])
	assert.Equal(t, "pdf", string(conn.stored["/selk/upload/productos/ROPA_LABORAL.pdf"]))
	assert.Equal(t, 1, conn.quits)
	assert.Empty(t, conn.made)
}

func TestFTPSinkCreatesUploadDir(t *testing.T) {
	conn := newFakeFTP("/selk")
	s := newTestFTPSink(t, conn, nil)

	_, err := s.Publish(context.Background(), catalogItem("A.pdf", "x"))
	require.NoError(t, err)
	assert.Equal(t, []string{"/selk/upload", "/selk/upload/productos"}, conn.made)
	assert.Contains(t, conn.stored, "/selk/upload/productos/A.pdf")
}

func TestFTPSinkCreatesRelativeUploadDir(t *testing.T) {
	conn := newFakeFTP("/home/selk", "/home/selk/web")
	conn.cwd = "/home/selk"
	s, err := newFTPSink(FTPConfig{
		Address:    "ftp.example.com:21",
		User:       "selk",
		UploadPath: "web/upload/productos",
	}, func(ctx context.Context, addr string, timeout time.Duration) (FTPConn, error) {
		return conn, nil
	}, zerolog.Nop())
	require.NoError(t, err)

	_, err = s.Publish(context.Background(), catalogItem("A.pdf", "x"))
	require.NoError(t, err)
	assert.Equal(t, []string{"/home/selk/web/upload", "/home/selk/web/upload/productos"}, conn.made)
	assert.Equal(t, "/home/selk/web/upload/productos", conn.cwd)
	assert.Contains(t, conn.stored, "/home/selk/web/upload/productos/A.pdf")

	// the directory now exists, so a second session goes straight in
	conn.cwd = "/home/selk"
	_, err = s.Publish(context.Background(), catalogItem("B.pdf", "y"))
	require.NoError(t, err)
	assert.Len(t, conn.made, 2)
	assert.Contains(t, conn.stored, "/home/selk/web/upload/productos/B.pdf")
}

func TestFTPSinkAlwaysQuits(t *testing.T) {
	conn := newFakeFTP("/selk", "/selk/upload", "/selk/upload/productos")
	conn.loginErr = errors.New("530 login incorrect")
	s := newTestFTPSink(t, conn, nil)

	_, err := s.Publish(context.Background(), catalogItem("A.pdf", "x"))
	require.ErrorContains(t, err, "530")
	assert.Equal(t, 1, conn.quits)

	conn.loginErr = nil
	conn.storErr = errors.New("552 quota")
	_, err = s.Publish(context.Background(), catalogItem("A.pdf", "x"))
	require.ErrorContains(t, err, "552")
	assert.Equal(t, 2, conn.quits)
}

func TestFTPSinkDialFailure(t *testing.T) {
	s := newTestFTPSink(t, nil, errors.New("connection refused"))

	_, err := s.Publish(context.Background(), catalogItem("A.pdf", "x"))
	assert.ErrorContains(t, err, "connection refused")
	assert.ErrorContains(t, s.TestConnection(context.Background()), "connection refused")
}

func TestFTPSinkTestConnection(t *testing.T) {
	conn := newFakeFTP("/selk", "/selk/upload", "/selk/upload/productos")
	s := newTestFTPSink(t, conn, nil)

	require.NoError(t, s.TestConnection(context.Background()))
	assert.Empty(t, conn.stored)
	assert.Equal(t, 1, conn.quits)
}

func TestFTPSinkRejectsBadNames(t *testing.T) {
	conn := newFakeFTP()
	s := newTestFTPSink(t, conn, nil)

	_, err := s.Publish(context.Background(), catalogItem("a/b.pdf", "x"))
	assert.Error(t, err)
	assert.Zero(t, conn.quits)
}

func TestNewFTPSinkValidation(t *testing.T) {
	_, err := NewFTPSink(FTPConfig{Address: ":21", User: "u"}, zerolog.Nop())
	assert.Error(t, err)
	_, err = NewFTPSink(FTPConfig{Address: "h:21"}, zerolog.Nop())
	assert.Error(t, err)
}

func TestBuildFallsBackToUnavailable(t *testing.T) {
	c := cfg.Default()
	c.Local.Path = t.TempDir()
	c.Drive.Enabled = false

	set := Build(context.Background(), c, zerolog.Nop())
	require.Len(t, set.Sinks, 3)
	assert.Nil(t, set.Drive)
	assert.Nil(t, set.FTP)

	assert.IsType(t, &LocalSink{}, set.Sinks[0])
	for _, s := range set.Sinks[1:] {
		_, err := s.Publish(context.Background(), catalogItem("A.pdf", "x"))
		assert.ErrorIs(t, err, publisher.ErrTransportUnavailable)
	}
	assert.Equal(t, ledger.StageCloud, set.Sinks[1].Stage())
	assert.Equal(t, ledger.StageRemote, set.Sinks[2].Stage())
	assert.NoError(t, set.Close())
}

func TestBuildWithFTP(t *testing.T) {
	c := cfg.Default()
	c.Local.Path = t.TempDir()
	c.Drive.Enabled = false
	c.FTP.Host = "ftp.example.com"
	c.FTP.User = "selk"

	set := Build(context.Background(), c, zerolog.Nop())
	require.NotNil(t, set.FTP)
	assert.Same(t, set.FTP, set.Sinks[2])
}

func TestMockSink(t *testing.T) {
	m := NewMockSink(ledger.StageRemote)
	m.Details = map[string]string{"k": "v"}

	receipt, err := m.Publish(context.Background(), catalogItem("A.pdf", "x"))
	require.NoError(t, err)
	assert.Equal(t, "v", receipt.Details["k"])
	assert.Equal(t, []string{"A.pdf"}, m.Names())

	m.PublishErr = errors.New("fail")
	_, err = m.Publish(context.Background(), catalogItem("B.pdf", "x"))
	assert.Error(t, err)

	m.Reset()
	assert.Empty(t, m.Names())
}
