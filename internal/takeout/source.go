package takeout

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"
)

// Source enumerates image metadata from every *.zip under a takeout
// directory (recursively), in sorted order for determinism.
type Source struct {
	dir string
	log *slog.Logger
}

func NewSource(dir string, log *slog.Logger) *Source {
	return &Source{dir: dir, log: log}
}

// Stream opens the enumeration. An unreadable or missing takeout
// directory fails here, before any item is produced.
func (s *Source) Stream(ctx context.Context) (*Stream, error) {
	info, err := os.Stat(s.dir)
	if err != nil {
		return nil, fmt.Errorf("takeout path %s: %w", s.dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("takeout path %s is not a directory", s.dir)
	}

	var zips []string
	err = filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".zip") {
			zips = append(zips, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enumerate takeout ZIPs: %w", err)
	}
	sort.Strings(zips)

	s.log.Info("takeout enumeration opened", "dir", s.dir, "zips", len(zips))
	return &Stream{source: s, zips: zips}, nil
}

// Stream is a lazy, finite, non-restartable sequence of Items.
type Stream struct {
	source *Source
	zips   []string

	zipIdx   int
	cur      *zip.ReadCloser
	curPath  string
	names    map[string]*zip.File
	entryIdx int
}

// Next returns the next image item. It returns io.EOF at exhaustion.
// Failing to open an archive is a batch-level error; a single
// unreadable member or unparseable EXIF/sidecar is not, and the item is
// still yielded with partial metadata.
func (st *Stream) Next(ctx context.Context) (Item, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Item{}, err
		}
		if st.cur == nil {
			if st.zipIdx >= len(st.zips) {
				return Item{}, io.EOF
			}
			path := st.zips[st.zipIdx]
			st.zipIdx++
			rc, err := zip.OpenReader(path)
			if err != nil {
				return Item{}, fmt.Errorf("open takeout zip %s: %w", path, err)
			}
			st.cur = rc
			st.curPath = path
			st.entryIdx = 0
			st.names = make(map[string]*zip.File, len(rc.File))
			for _, f := range rc.File {
				st.names[f.Name] = f
			}
		}

		for st.entryIdx < len(st.cur.File) {
			f := st.cur.File[st.entryIdx]
			st.entryIdx++
			if f.FileInfo().IsDir() || !imageExts[strings.ToLower(filepath.Ext(f.Name))] {
				continue
			}
			return st.buildItem(f), nil
		}

		_ = st.cur.Close()
		st.cur = nil
	}
}

// Close releases the currently open archive, if any.
func (st *Stream) Close() error {
	if st.cur == nil {
		return nil
	}
	err := st.cur.Close()
	st.cur = nil
	return err
}

func (st *Stream) buildItem(f *zip.File) Item {
	log := st.source.log
	zipName := filepath.Base(st.curPath)

	item := Item{
		Filename:  filepath.Base(f.Name),
		SourceURI: fmt.Sprintf("zip://%s::%s", zipName, f.Name),
		FileSize:  int64(f.UncompressedSize64),
		MimeType:  mimeByExt[strings.ToLower(filepath.Ext(f.Name))],
		Exif:      map[string]any{},
		Sidecar:   map[string]any{},
	}

	if sidecar, ok := st.names[f.Name+".json"]; ok {
		if data, err := readMember(sidecar); err != nil {
			log.Warn("failed to read sidecar", "member", sidecar.Name, "error", err)
		} else if err := json.Unmarshal(data, &item.Sidecar); err != nil {
			log.Warn("failed to parse sidecar", "member", sidecar.Name, "error", err)
			item.Sidecar = map[string]any{}
		}
	}

	if data, err := readMember(f); err != nil {
		log.Warn("failed to read image member", "member", f.Name, "error", err)
	} else {
		item.Exif = parseExif(data, log)
	}

	item.TakenAt = normalizeTakenAt(item.Exif, item.Sidecar)
	return item
}

func readMember(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// parseExif extracts the few EXIF fields ingestion normalizes on.
// Anything unreadable yields an empty map, never an error.
func parseExif(data []byte, log *slog.Logger) map[string]any {
	meta := map[string]any{}
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		log.Debug("no EXIF data", "error", err)
		return meta
	}
	for key, field := range map[string]exif.FieldName{
		"make":  exif.Make,
		"model": exif.Model,
		"lens":  exif.LensModel,
	} {
		if tag, err := x.Get(field); err == nil {
			if v, err := tag.StringVal(); err == nil {
				meta[key] = strings.TrimRight(v, "\x00")
			}
		}
	}
	if dt, err := x.DateTime(); err == nil {
		meta["datetime_original"] = dt.Format("2006:01:02 15:04:05")
	}
	return meta
}

// normalizeTakenAt prefers the Google sidecar's photoTakenTime epoch
// over the EXIF capture timestamp.
func normalizeTakenAt(exifMeta, sidecar map[string]any) *time.Time {
	if taken, ok := sidecar["photoTakenTime"].(map[string]any); ok {
		if raw, ok := taken["timestamp"].(string); ok {
			if epoch, err := strconv.ParseInt(raw, 10, 64); err == nil {
				t := time.Unix(epoch, 0).UTC()
				return &t
			}
		}
	}
	if raw, ok := exifMeta["datetime_original"].(string); ok {
		for _, layout := range []string{"2006:01:02 15:04:05", "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, raw); err == nil {
				return &t
			}
		}
	}
	return nil
}
