// Package storage is the destination folder the persistence queue writes
// captured artifacts into.
package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"

	"manual-shutter/pkg/storage/consts"
	"manual-shutter/pkg/types"
)

var ErrBadName = errors.New("invalid file name")

type Info struct {
	Count      int    `json:"count"`
	LatestFile string `json:"latestFile"`
	Bytes      int64  `json:"bytes"`

	UpdateAt time.Time `json:"updateAt"`
}

// Folder writes files into one directory and keeps a small info file with the
// latest write. Writes are serialised by the caller's queue; the mutex only
// guards readers running on other goroutines.
type Folder struct {
	dir  string
	lock sync.Mutex
}

func New(dir string) (*Folder, error) {
	if dir == "" {
		return nil, fmt.Errorf("dir can not be empty")
	}
	f := &Folder{dir: dir}
	if err := os.MkdirAll(dir, consts.DefaultDirPerm); err != nil {
		return nil, err
	}
	if _, err := os.Stat(f.infoPath()); os.IsNotExist(err) {
		if err = f.dumpInfo(&Info{}); err != nil {
			return nil, err
		}
	}

	return f, nil
}

func (f *Folder) Dir() string {
	return f.dir
}

// CreateAndWrite implements the persistence sink.
func (f *Folder) CreateAndWrite(name, mime string, data []byte) error {
	if ext := consts.ExtForMime(mime); ext != "" && filepath.Ext(name) != ext {
		return fmt.Errorf("%w: %s does not match %s", ErrBadName, name, mime)
	}
	if err := f.Save(name, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}

	return nil
}

// Save streams src into name.
func (f *Folder) Save(name string, src io.Reader) error {
	p, err := f.Path(name)
	if err != nil {
		return err
	}

	f.lock.Lock()
	defer f.lock.Unlock()
	out, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, consts.DefaultFilePerm)
	if err != nil {
		return err
	}
	n, err := io.Copy(out, src)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	return f.recordWrite(name, n)
}

// Path resolves name inside the folder, refusing anything that escapes it.
func (f *Folder) Path(name string) (string, error) {
	if name == "" || name != path.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %q", ErrBadName, name)
	}
	return filepath.Join(f.dir, name), nil
}

func (f *Folder) Info() (*Info, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.loadInfo()
}

// List returns the files with the given extensions, newest first.
func (f *Folder) List(exts ...string) ([]types.File, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, err
	}
	var res []types.File
	for _, e := range entries {
		if e.IsDir() || e.Name() == consts.DefaultInfoFile {
			continue
		}
		if len(exts) > 0 && !hasExt(e.Name(), exts) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		res = append(res, types.File{
			Name:    e.Name(),
			Size:    humanize.Bytes(uint64(info.Size())),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ModTime.After(res[j].ModTime) })

	return res, nil
}

func (f *Folder) Read(name string) ([]byte, error) {
	p, err := f.Path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("file not found, %w", err)
	}
	return data, nil
}

func (f *Folder) recordWrite(name string, n int64) error {
	info, err := f.loadInfo()
	if err != nil {
		return err
	}
	info.Count++
	info.Bytes += n
	info.LatestFile = name

	return f.dumpInfo(info)
}

func (f *Folder) loadInfo() (*Info, error) {
	data, err := os.ReadFile(f.infoPath())
	if err != nil {
		return nil, fmt.Errorf("read info err: %w", err)
	}
	info := &Info{}
	if err = json.Unmarshal(data, info); err != nil {
		return nil, fmt.Errorf("unmarshal info err: %w", err)
	}

	return info, nil
}

func (f *Folder) dumpInfo(info *Info) error {
	info.UpdateAt = time.Now()
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}

	return os.WriteFile(f.infoPath(), data, consts.DefaultFilePerm)
}

func (f *Folder) infoPath() string {
	return filepath.Join(f.dir, consts.DefaultInfoFile)
}

func hasExt(name string, exts []string) bool {
	for _, ext := range exts {
		if strings.EqualFold(filepath.Ext(name), ext) {
			return true
		}
	}
	return false
}
