package segmenter

import (
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"rapidmedia/internal/storage"
)

// Layout describes the files an external segmenter writes for one session:
// a single index file and a growing set of numbered chunks, flat in Dir.
type Layout struct {
	Dir      string // session directory, relative to the storage root
	Prefix   string // common prefix of the index and chunk names
	IndexExt string // e.g. "m3u8"
	ChunkExt string // e.g. "ts"
}

// IndexName returns the index file name, <prefix>.<indexExt>.
func (l Layout) IndexName() string {
	return l.Prefix + "." + l.IndexExt
}

// IndexPath returns the index file path relative to the storage root.
func (l Layout) IndexPath() string {
	return path.Join(l.Dir, l.IndexName())
}

// ChunkName returns the name of chunk n, <prefix><n>.<chunkExt>.
func (l Layout) ChunkName(n int) string {
	return l.Prefix + strconv.Itoa(n) + "." + l.ChunkExt
}

// IsChunk reports whether name is a chunk file of this layout.
func (l Layout) IsChunk(name string) bool {
	return strings.HasPrefix(name, l.Prefix) && path.Ext(name) == "."+l.ChunkExt
}

// IsArtifact reports whether name is an index or chunk file of this layout.
func (l Layout) IsArtifact(name string) bool {
	if !strings.HasPrefix(name, l.Prefix) {
		return false
	}
	ext := path.Ext(name)
	return ext == "."+l.ChunkExt || ext == "."+l.IndexExt
}

// Clean deletes every artifact of this layout from store and returns how
// many files were removed. Other files in the directory are left alone.
func (l Layout) Clean(store storage.Storage) (int, error) {
	files, err := store.List(l.Dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, name := range files {
		if !l.IsArtifact(name) {
			continue
		}
		if err := store.Delete(path.Join(l.Dir, name)); err != nil {
			return removed, fmt.Errorf("clean %s: %w", name, err)
		}
		removed++
	}
	return removed, nil
}

// Params are the values substituted into argument templates.
type Params struct {
	Input           string        // absolute path of the source media file
	Dir             string        // absolute path of the session directory
	SegmentDuration time.Duration // target chunk length
	WindowSize      int           // chunks kept in the index
}

// Vars returns the template variables for this layout.
func (l Layout) Vars(p Params) map[string]string {
	return map[string]string{
		"input":     p.Input,
		"dir":       p.Dir,
		"prefix":    l.Prefix,
		"index":     l.IndexName(),
		"index_ext": l.IndexExt,
		"chunk_ext": l.ChunkExt,
		"duration":  strconv.FormatFloat(p.SegmentDuration.Seconds(), 'f', -1, 64),
		"window":    strconv.Itoa(p.WindowSize),
	}
}

// Expand splits template on whitespace and replaces {name} placeholders in
// each argument in a single pass. Splitting happens first, so substituted
// values containing spaces stay a single argument. Unknown placeholders are
// left as is.
func Expand(template string, vars map[string]string) []string {
	pairs := make([]string, 0, 2*len(vars))
	for name, value := range vars {
		pairs = append(pairs, "{"+name+"}", value)
	}
	r := strings.NewReplacer(pairs...)

	fields := strings.Fields(template)
	args := make([]string, 0, len(fields))
	for _, field := range fields {
		args = append(args, r.Replace(field))
	}
	return args
}
