package incremental

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/tmlc/tmlc/internal/fingerprint"
	"github.com/tmlc/tmlc/internal/querykey"
	"github.com/tmlc/tmlc/internal/xerrors"
)

// Magic identifies an incr.bin index file: "TMIC" (tml incremental
// cache), matching the reserved magic from the original driver.
const magic uint32 = 0x544D4943

// Index format version. The major version gates binary layout
// compatibility; a minor bump may add trailing fields older readers
// skip. Bumping major requires bumping headerSize/encode/decode in
// lockstep.
const (
	versionMajor uint16 = 2
	versionMinor uint16 = 0
)

// headerSize is the fixed-size portion of incr.bin, CRC-protected as a
// unit so a truncated or corrupted header is detected before any entry
// is parsed.
const headerSize = 24

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

type header struct {
	Magic             uint32
	VersionMajor      uint16
	VersionMinor      uint16
	CompilerBuildHash uint32
	OptionsHash       uint32
	EntryCount        uint32
	HeaderCRC32C      uint32
}

func encodeHeader(h header) []byte {
	buf := make([]byte, headerSize)

	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint16(buf[4:6], h.VersionMajor)
	binary.LittleEndian.PutUint16(buf[6:8], h.VersionMinor)
	binary.LittleEndian.PutUint32(buf[8:12], h.CompilerBuildHash)
	binary.LittleEndian.PutUint32(buf[12:16], h.OptionsHash)
	binary.LittleEndian.PutUint32(buf[16:20], h.EntryCount)

	crc := crc32.Checksum(buf[:20], castagnoli)
	binary.LittleEndian.PutUint32(buf[20:24], crc)

	return buf
}

func decodeHeader(buf []byte) (header, error) {
	if len(buf) < headerSize {
		return header{}, fmt.Errorf("incremental: truncated header (%d bytes)", len(buf))
	}

	h := header{
		Magic:             binary.LittleEndian.Uint32(buf[0:4]),
		VersionMajor:      binary.LittleEndian.Uint16(buf[4:6]),
		VersionMinor:      binary.LittleEndian.Uint16(buf[6:8]),
		CompilerBuildHash: binary.LittleEndian.Uint32(buf[8:12]),
		OptionsHash:       binary.LittleEndian.Uint32(buf[12:16]),
		EntryCount:        binary.LittleEndian.Uint32(buf[16:20]),
		HeaderCRC32C:      binary.LittleEndian.Uint32(buf[20:24]),
	}

	if got, want := crc32.Checksum(buf[:20], castagnoli), h.HeaderCRC32C; got != want {
		return header{}, fmt.Errorf("%w: header CRC mismatch", xerrors.ErrCacheFormatMismatch)
	}

	return h, nil
}

// PrevSessionEntry is one record read back from a previous session's
// incr.bin: the key, the input/output fingerprints it was stored with,
// and the dependency keys that input fingerprint was folded from.
type PrevSessionEntry struct {
	Key               querykey.Key
	InputFingerprint  fingerprint.Fingerprint
	OutputFingerprint fingerprint.Fingerprint
	Dependencies      []querykey.Key
}

func writeEntry(w *bufio.Writer, e PrevSessionEntry) error {
	if err := writeKey(w, e.Key); err != nil {
		return err
	}

	if err := writeFingerprint(w, e.InputFingerprint); err != nil {
		return err
	}

	if err := writeFingerprint(w, e.OutputFingerprint); err != nil {
		return err
	}

	if err := writeUint32(w, uint32(len(e.Dependencies))); err != nil {
		return err
	}

	for _, dep := range e.Dependencies {
		if err := writeKey(w, dep); err != nil {
			return err
		}
	}

	return nil
}

func readEntry(r io.Reader) (PrevSessionEntry, error) {
	var e PrevSessionEntry

	key, err := readKey(r)
	if err != nil {
		return e, err
	}

	inputFP, err := readFingerprint(r)
	if err != nil {
		return e, err
	}

	outputFP, err := readFingerprint(r)
	if err != nil {
		return e, err
	}

	depCount, err := readUint32(r)
	if err != nil {
		return e, err
	}

	deps := make([]querykey.Key, depCount)
	for i := range deps {
		deps[i], err = readKey(r)
		if err != nil {
			return e, err
		}
	}

	e.Key = key
	e.InputFingerprint = inputFP
	e.OutputFingerprint = outputFP
	e.Dependencies = deps

	return e, nil
}

func writeKey(w *bufio.Writer, k querykey.Key) error {
	if err := w.WriteByte(byte(k.Kind)); err != nil {
		return err
	}

	if err := writeString(w, k.FilePath); err != nil {
		return err
	}

	return writeString(w, k.ModuleName)
}

func readKey(r io.Reader) (querykey.Key, error) {
	var kindBuf [1]byte
	if _, err := io.ReadFull(r, kindBuf[:]); err != nil {
		return querykey.Key{}, err
	}

	filePath, err := readString(r)
	if err != nil {
		return querykey.Key{}, err
	}

	moduleName, err := readString(r)
	if err != nil {
		return querykey.Key{}, err
	}

	return querykey.Key{
		Kind:       querykey.Kind(kindBuf[0]),
		FilePath:   filePath,
		ModuleName: moduleName,
	}, nil
}

func writeString(w *bufio.Writer, s string) error {
	if err := writeUint32(w, uint32(len(s))); err != nil {
		return err
	}

	_, err := w.WriteString(s)

	return err
}

func readString(r io.Reader) (string, error) {
	n, err := readUint32(r)
	if err != nil {
		return "", err
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}

	return string(buf), nil
}

func writeFingerprint(w *bufio.Writer, fp fingerprint.Fingerprint) error {
	if err := writeUint64(w, fp.Hi); err != nil {
		return err
	}

	return writeUint64(w, fp.Lo)
}

func readFingerprint(r io.Reader) (fingerprint.Fingerprint, error) {
	hi, err := readUint64(r)
	if err != nil {
		return fingerprint.Zero, err
	}

	lo, err := readUint64(r)
	if err != nil {
		return fingerprint.Zero, err
	}

	return fingerprint.Fingerprint{Hi: hi, Lo: lo}, nil
}

func writeUint32(w *bufio.Writer, v uint32) error {
	var buf [4]byte

	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])

	return err
}

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(buf[:]), nil
}

func writeUint64(w *bufio.Writer, v uint64) error {
	var buf [8]byte

	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])

	return err
}

func readUint64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint64(buf[:]), nil
}
