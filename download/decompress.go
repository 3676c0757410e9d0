package download

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/pilosa/gdelt"
	"github.com/pkg/errors"
)

var (
	zipMagic      = []byte("PK\x03\x04")
	emptyZipMagic = []byte("PK\x05\x06")
	gzipMagic     = []byte{0x1f, 0x8b}
)

// Decompress sniffs the format of data. A zip archive yields its single
// member, a gzip stream is inflated and anything else is returned as is. An
// archive with no member or several members is an error. Inflated output
// larger than max bytes is an error; max <= 0 means no limit.
func Decompress(data []byte, max int64) ([]byte, error) {
	switch {
	case bytes.HasPrefix(data, zipMagic), bytes.HasPrefix(data, emptyZipMagic):
		return unzip(data, max)
	case bytes.HasPrefix(data, gzipMagic):
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, errors.Wrap(err, "opening gzip")
		}
		defer zr.Close()
		out, err := inflate(zr, max)
		return out, errors.Wrap(err, "inflating gzip")
	}
	return data, nil
}

func inflate(r io.Reader, max int64) ([]byte, error) {
	if max <= 0 {
		return io.ReadAll(r)
	}
	out, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(out)) > max {
		return nil, errors.Errorf("inflates to more than %s", gdelt.Bytes(max))
	}
	return out, nil
}

func unzip(data []byte, max int64) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, errors.Wrap(err, "opening zip")
	}
	var member *zip.File
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if member != nil {
			return nil, errors.Errorf("zip has more than one member: %s, %s", member.Name, f.Name)
		}
		member = f
	}
	if member == nil {
		return nil, errors.New("zip has no members")
	}
	rc, err := member.Open()
	if err != nil {
		return nil, errors.Wrapf(err, "opening zip member %s", member.Name)
	}
	defer rc.Close()
	out, err := inflate(rc, max)
	return out, errors.Wrapf(err, "reading zip member %s", member.Name)
}
