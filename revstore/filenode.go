package revstore

import (
	"bufio"
	"errors"
	"os"
	"path"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"

	"syncevo/luid"
)

// fileHeader is written as first line of every node file.
const fileHeader = "# revision tracking node, written by syncevo; do not edit"

// FileNode stores properties as "key=value" lines in one file on a billy
// filesystem. Keys and values are escaped so that neither can contain the
// line separator, the assignment or the comment character.
//
// Flush writes a temporary file next to the node and renames it over the
// original, so a reader sees either the old or the new content.
type FileNode struct {
	fs   billy.Filesystem
	path string
	esc  luid.Escaper
	buf  propertyBuffer
}

// NewFileNode returns a node stored at filePath inside fs. The file is
// created on the first Flush with changes.
func NewFileNode(fs billy.Filesystem, filePath string) *FileNode {
	return &FileNode{
		fs:   fs,
		path: filePath,
		esc:  luid.NewEscaper('%', "=#\r\n"),
	}
}

// Path returns the node's file path inside its filesystem.
func (n *FileNode) Path() string {
	return n.path
}

func (n *FileNode) load() (map[string]string, error) {
	f, err := n.fs.Open(n.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, serr.Wrap(err, "failed to open node file "+n.path)
	}
	defer f.Close()

	values := map[string]string{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		idx := strings.IndexByte(line, '=')
		if idx < 0 {
			logger.LogErr(serr.New("line without assignment"), "skipping unparsable node line",
				"path", n.path, "line", lineNo)
			continue
		}
		key, err := n.esc.UnescapeStrict(line[:idx])
		if err != nil {
			logger.LogErr(err, "skipping node line with bad key", "path", n.path, "line", lineNo)
			continue
		}
		value, err := n.esc.UnescapeStrict(line[idx+1:])
		if err != nil {
			logger.LogErr(err, "skipping node line with bad value", "path", n.path, "line", lineNo)
			continue
		}
		values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, serr.Wrap(err, "failed to read node file "+n.path)
	}

	return values, nil
}

func (n *FileNode) ReadProperties() ([]Property, error) {
	if err := n.buf.ensure(n.load); err != nil {
		return nil, err
	}
	return n.buf.sorted(), nil
}

func (n *FileNode) SetProperty(key, value string) {
	n.buf.set(key, value)
}

func (n *FileNode) Clear() {
	n.buf.clear()
}

// Flush rewrites the whole file. Nothing is written when the node has no
// pending changes.
func (n *FileNode) Flush() error {
	if !n.buf.dirty {
		return nil
	}
	if err := n.buf.ensure(n.load); err != nil {
		return err
	}

	if dir := path.Dir(n.path); dir != "." && dir != "/" {
		if err := n.fs.MkdirAll(dir, 0o755); err != nil {
			return serr.Wrap(err, "failed to create node directory "+dir)
		}
	}

	tmpPath := n.path + ".tmp"
	f, err := n.fs.Create(tmpPath)
	if err != nil {
		return serr.Wrap(err, "failed to create temporary node file")
	}

	w := bufio.NewWriter(f)
	_, _ = w.WriteString(fileHeader + "\n")
	for _, p := range n.buf.sorted() {
		_, _ = w.WriteString(n.esc.Escape(p.Key))
		_ = w.WriteByte('=')
		_, _ = w.WriteString(n.esc.Escape(p.Value))
		_ = w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		_ = n.fs.Remove(tmpPath)
		return serr.Wrap(err, "failed to write node file")
	}
	if err := f.Close(); err != nil {
		_ = n.fs.Remove(tmpPath)
		return serr.Wrap(err, "failed to close node file")
	}

	if err := n.fs.Rename(tmpPath, n.path); err != nil {
		_ = n.fs.Remove(tmpPath)
		return serr.Wrap(err, "failed to replace node file "+n.path)
	}

	n.buf.dirty = false
	n.buf.cleared = false
	logger.Debug("Flushed node file", "path", n.path, "properties", len(n.buf.values))
	return nil
}
