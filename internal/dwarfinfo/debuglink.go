package dwarfinfo

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// debugLink reads the .gnu_debuglink section, if present, returning the
// referenced file name and its expected CRC32 (spec.md §4.3 "Debug-link
// resolution", GLOSSARY "Debug-link").
func debugLink(f *elf.File) (name string, crc uint32, ok bool) {
	sec := f.Section(".gnu_debuglink")
	if sec == nil {
		return "", 0, false
	}
	data, err := sec.Data()
	if err != nil {
		return "", 0, false
	}
	return parseDebugLinkSection(data)
}

// parseDebugLinkSection parses the raw contents of a .gnu_debuglink
// section: a NUL-terminated file name, padded to a 4-byte boundary, then a
// 4-byte little-endian CRC32 of the uncompressed debug file.
func parseDebugLinkSection(data []byte) (name string, crc uint32, ok bool) {
	i := bytes.IndexByte(data, 0)
	if i < 0 {
		return "", 0, false
	}
	name = string(data[:i])

	crcOff := (i + 4) &^ 3
	if crcOff+4 > len(data) {
		return "", 0, false
	}
	crc = binary.LittleEndian.Uint32(data[crcOff : crcOff+4])
	return name, crc, true
}

// resolveDebugLink searches the three locations spec.md §4.3 specifies,
// relative to the primary object's directory, for a separate debug file
// matching (name, crc). It returns the opened file on the first candidate
// whose CRC32 matches; on a mismatch or read failure at every candidate it
// falls through silently, returning ok=false so the caller keeps using the
// primary object's own sections.
func resolveDebugLink(primaryPath, name string, wantCRC uint32) (f *os.File, ok bool) {
	dir := filepath.Dir(primaryPath)
	candidates := []string{
		filepath.Join(dir, name),
		filepath.Join(dir, ".debug", name),
		filepath.Join("/usr/lib/debug", strings.TrimPrefix(dir, string(filepath.Separator)), name),
	}
	for _, cand := range candidates {
		cf, err := os.Open(cand)
		if err != nil {
			continue
		}
		got, err := fileCRC32(cf)
		if err != nil || got != wantCRC {
			cf.Close()
			continue
		}
		return cf, true
	}
	return nil, false
}

func fileCRC32(f *os.File) (uint32, error) {
	if _, err := f.Seek(0, 0); err != nil {
		return 0, err
	}
	h := crc32.NewIEEE()
	if _, err := io.Copy(h, f); err != nil {
		return 0, err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return 0, err
	}
	return h.Sum32(), nil
}
