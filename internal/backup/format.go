// Package backup writes and reads knowledge-graph snapshot files.
//
// A snapshot file is a plain-text JSON header line followed by the
// gzip-compressed JSON snapshot. The header carries a sha256 checksum of the
// compressed payload. Plain JSON snapshots (as printed by `graph --format
// json`) are also accepted on read.
package backup

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/nvandessel/nudgeloop/internal/store"
)

// Format identifiers returned by DetectFormat.
const (
	FormatPlain      = 1 // bare JSON snapshot
	FormatCompressed = 2 // header line + gzip payload
)

// MaxDecompressedSize is the maximum allowed size of a decompressed snapshot (200MB).
const MaxDecompressedSize = 200 * 1024 * 1024

// ErrChecksum is returned when a snapshot payload does not match its header checksum.
var ErrChecksum = errors.New("snapshot checksum mismatch")

// Header is the first line of a compressed snapshot file.
type Header struct {
	Format          int    `json:"format"`
	SnapshotVersion int    `json:"snapshot_version"`
	ExportedAt      string `json:"exported_at"`
	Checksum        string `json:"checksum"`
	NodeCount       int    `json:"node_count"`
	EdgeCount       int    `json:"edge_count"`
}

// DetectFormat reads the first line of a file to tell compressed snapshots
// from plain JSON ones.
func DetectFormat(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	line, err := bufio.NewReader(f).ReadBytes('\n')
	if err != nil && err != io.EOF {
		return 0, fmt.Errorf("reading first line: %w", err)
	}
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return 0, fmt.Errorf("file is empty")
	}

	var h Header
	if err := json.Unmarshal(line, &h); err == nil && h.Format == FormatCompressed {
		return FormatCompressed, nil
	}
	if line[0] == '{' {
		return FormatPlain, nil
	}
	return 0, fmt.Errorf("unrecognized snapshot format")
}

// Write writes snap to path as a compressed snapshot file.
func Write(path string, snap store.Snapshot) (*Header, error) {
	payload, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshaling payload: %w", err)
	}

	var compressed bytes.Buffer
	gzw, err := gzip.NewWriterLevel(&compressed, gzip.DefaultCompression)
	if err != nil {
		return nil, fmt.Errorf("creating gzip writer: %w", err)
	}
	if _, err := gzw.Write(payload); err != nil {
		return nil, fmt.Errorf("compressing payload: %w", err)
	}
	if err := gzw.Close(); err != nil {
		return nil, fmt.Errorf("closing gzip writer: %w", err)
	}

	header := &Header{
		Format:          FormatCompressed,
		SnapshotVersion: snap.Version,
		ExportedAt:      snap.ExportedAt.UTC().Format(time.RFC3339Nano),
		Checksum:        checksum(compressed.Bytes()),
		NodeCount:       len(snap.Nodes),
		EdgeCount:       len(snap.Edges),
	}
	headerBytes, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("marshaling header: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating directory: %w", err)
	}

	// Write to a temp file and rename so readers never see a partial snapshot.
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("creating file: %w", err)
	}
	w := bufio.NewWriter(f)
	w.Write(headerBytes)
	w.WriteByte('\n')
	w.Write(compressed.Bytes())
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return nil, fmt.Errorf("writing snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("closing snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("renaming snapshot: %w", err)
	}

	return header, nil
}

// Read reads a snapshot file in either format. Compressed files are
// verified against their header checksum first.
func Read(path string) (store.Snapshot, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return store.Snapshot{}, err
	}

	if format == FormatPlain {
		data, err := os.ReadFile(path)
		if err != nil {
			return store.Snapshot{}, fmt.Errorf("reading file: %w", err)
		}
		var snap store.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return store.Snapshot{}, fmt.Errorf("parsing snapshot: %w", err)
		}
		return checkVersion(snap)
	}

	_, compressed, err := readCompressed(path)
	if err != nil {
		return store.Snapshot{}, err
	}

	gzr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("creating gzip reader: %w", err)
	}
	defer gzr.Close()

	decompressed, err := io.ReadAll(io.LimitReader(gzr, MaxDecompressedSize+1))
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("decompressing payload: %w", err)
	}
	if int64(len(decompressed)) > MaxDecompressedSize {
		return store.Snapshot{}, fmt.Errorf("decompressed payload exceeds maximum size of %d bytes", MaxDecompressedSize)
	}

	var snap store.Snapshot
	if err := json.Unmarshal(decompressed, &snap); err != nil {
		return store.Snapshot{}, fmt.Errorf("parsing snapshot: %w", err)
	}
	return checkVersion(snap)
}

// ReadHeader reads only the header line of a compressed snapshot file.
func ReadHeader(path string) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()
	return parseHeader(bufio.NewReader(f))
}

// VerifyChecksum checks a compressed snapshot file without decompressing it.
func VerifyChecksum(path string) error {
	_, _, err := readCompressed(path)
	return err
}

func readCompressed(path string) (*Header, []byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	header, err := parseHeader(r)
	if err != nil {
		return nil, nil, err
	}

	compressed, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("reading compressed payload: %w", err)
	}
	if actual := checksum(compressed); actual != header.Checksum {
		return nil, nil, fmt.Errorf("%w: expected %s, got %s", ErrChecksum, header.Checksum, actual)
	}
	return header, compressed, nil
}

func parseHeader(r *bufio.Reader) (*Header, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("reading header line: %w", err)
	}
	var h Header
	if err := json.Unmarshal(bytes.TrimSpace(line), &h); err != nil {
		return nil, fmt.Errorf("parsing header: %w", err)
	}
	if h.Format != FormatCompressed {
		return nil, fmt.Errorf("expected compressed snapshot format, got %d", h.Format)
	}
	return &h, nil
}

func checkVersion(snap store.Snapshot) (store.Snapshot, error) {
	if snap.Version > store.SnapshotVersion {
		return store.Snapshot{}, fmt.Errorf("unsupported snapshot version: %d", snap.Version)
	}
	return snap, nil
}

func checksum(b []byte) string {
	sum := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(sum[:])
}
