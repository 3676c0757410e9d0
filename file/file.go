// Package file reads artifacts from, and writes them to, a local mirror of
// the GDELT file tree.
package file

import (
	"context"
	"io"
	"io/ioutil"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/pilosa/gdelt/download"
	"github.com/pkg/errors"
)

// Scheme is the URL scheme served by Opener.
const Scheme = "file"

var _ download.Opener = Opener{}

// Opener is a download.Opener for file:// URLs.
type Opener struct{}

// Open implements download.Opener.
func (Opener) Open(ctx context.Context, u string) (io.ReadCloser, error) {
	name, err := Path(u)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", name)
	}
	return f, nil
}

// Path returns the local path named by a file:// URL.
func Path(u string) (string, error) {
	pu, err := url.Parse(u)
	if err != nil {
		return "", errors.Wrapf(err, "parsing %s", u)
	}
	if pu.Scheme != Scheme {
		return "", errors.Errorf("not a file url: %s", u)
	}
	if pu.Host != "" && pu.Host != "localhost" {
		return "", errors.Errorf("remote file url: %s", u)
	}
	return filepath.FromSlash(pu.Path), nil
}

// URL returns the file:// URL of a local path.
func URL(pathname string) (string, error) {
	abs, err := filepath.Abs(pathname)
	if err != nil {
		return "", errors.Wrap(err, "getting absolute path")
	}
	return (&url.URL{Scheme: Scheme, Path: filepath.ToSlash(abs)}).String(), nil
}

// URLs lists the file:// URLs of pathname, which is a file or a directory.
// Directories are walked recursively and the URLs are sorted.
func URLs(pathname string) ([]string, error) {
	info, err := os.Stat(pathname)
	if err != nil {
		return nil, errors.Wrap(err, "statting path")
	}
	var files []string
	if info.IsDir() {
		err = filepath.Walk(pathname, func(p string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.Mode().IsRegular() {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return nil, errors.Wrap(err, "reading directory")
		}
	} else {
		files = []string{pathname}
	}
	urls := make([]string, 0, len(files))
	for _, f := range files {
		u, err := URL(f)
		if err != nil {
			return nil, err
		}
		urls = append(urls, u)
	}
	sort.Strings(urls)
	return urls, nil
}

// Mirror stores artifacts under a directory at the path of their source
// URL, so the directory can later serve as a file:// base URL. Contents are
// gzip compressed whatever the file name says; the downloader sniffs the
// format.
type Mirror struct {
	dir string
}

// NewMirror returns a Mirror rooted at dir, creating it if needed.
func NewMirror(dir string) (*Mirror, error) {
	if dir == "" {
		return nil, errors.New("mirror directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "making directory")
	}
	return &Mirror{dir: dir}, nil
}

// Dir is the mirror's root directory.
func (m *Mirror) Dir() string { return m.dir }

// Path is the local path an artifact from u is stored at.
func (m *Mirror) Path(u string) (string, error) {
	pu, err := url.Parse(u)
	if err != nil {
		return "", errors.Wrapf(err, "parsing %s", u)
	}
	clean := path.Clean("/" + pu.Path)
	if clean == "/" || strings.HasSuffix(pu.Path, "/") {
		return "", errors.Errorf("no file name in %s", u)
	}
	return filepath.Join(m.dir, filepath.FromSlash(clean)), nil
}

// Save writes data, the decompressed artifact from u, into the mirror.
func (m *Mirror) Save(u string, data []byte) (string, error) {
	p, err := m.Path(u)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return "", errors.Wrap(err, "making directory")
	}
	tmp, err := ioutil.TempFile(filepath.Dir(p), ".mirror")
	if err != nil {
		return "", errors.Wrap(err, "creating temp file")
	}
	defer os.Remove(tmp.Name())
	zw := gzip.NewWriter(tmp)
	_, err = zw.Write(data)
	if err == nil {
		err = zw.Close()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", errors.Wrapf(err, "writing %s", p)
	}
	return p, errors.Wrap(os.Rename(tmp.Name(), p), "renaming into place")
}
