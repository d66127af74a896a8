package snapshot

import (
	"bytes"
	"crypto/md5"
	"encoding/gob"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"coursekeeper.ai/internal/encoding"
	"coursekeeper.ai/internal/volume"
)

// Version is the only body layout this package writes and reads.
const Version = 1

const magic = "vcs"

type Format int

const (
	FormatUnknown Format = iota
	FormatZstd
	FormatPlain
)

func (f Format) String() string {
	switch f {
	case FormatZstd:
		return "zstd"
	case FormatPlain:
		return "plain"
	default:
		return "unknown"
	}
}

func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "zstd":
		return FormatZstd, nil
	case "plain":
		return FormatPlain, nil
	}
	return FormatUnknown, fmt.Errorf("unknown snapshot format %q", s)
}

// Header is the first line of every snapshot stream. It carries enough to
// size the body without reading it.
type Header struct {
	Magic    string `json:"magic"`
	Version  int    `json:"version"`
	Origin   [3]int `json:"origin"`
	Dims     [3]int `json:"dims"`
	Palette  int    `json:"palette"`
	Entities int    `json:"entities"`
}

type BodyV1 struct {
	Origin   [3]int
	Dims     [3]int
	Palette  []string
	Blocks   []byte // RLE runs of palette ids, see internal/encoding
	Entities []EntityV1
}

type EntityV1 struct {
	ID     string
	Kind   string
	Offset [3]float64
	Props  []PropV1
}

type PropV1 struct {
	Key   string
	Value string
}

type CodecError struct {
	Op  string
	Err error
}

func (e *CodecError) Error() string { return "snapshot " + e.Op + ": " + e.Err.Error() }
func (e *CodecError) Unwrap() error { return e.Err }

var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault), zstd.WithEncoderConcurrency(1))
	decoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0), zstd.WithDecoderMaxMemory(1<<30))
)

// Encode writes s in the default compressed format.
func Encode(s *volume.Snapshot) ([]byte, error) {
	return EncodeFormat(s, FormatZstd)
}

// EncodeFormat is deterministic: equal snapshots with equal palettes encode
// to identical bytes, which is what digest comparison relies on.
func EncodeFormat(s *volume.Snapshot, f Format) ([]byte, error) {
	if s == nil {
		return nil, &CodecError{Op: "encode", Err: errors.New("nil snapshot")}
	}
	body := BodyV1{
		Origin:  s.Origin(),
		Dims:    s.Dims(),
		Palette: s.Palette(),
		Blocks:  encoding.AppendRLE(nil, s.Blocks()),
	}
	for _, e := range s.Entities() {
		ev := EntityV1{ID: e.ID, Kind: e.Kind, Offset: e.Offset}
		for _, p := range e.Props {
			ev.Props = append(ev.Props, PropV1{Key: p.Key, Value: p.Value})
		}
		body.Entities = append(body.Entities, ev)
	}
	h := Header{
		Magic:    magic,
		Version:  Version,
		Origin:   body.Origin,
		Dims:     body.Dims,
		Palette:  len(body.Palette),
		Entities: len(body.Entities),
	}

	var buf bytes.Buffer
	hb, err := json.Marshal(h)
	if err != nil {
		return nil, &CodecError{Op: "encode", Err: err}
	}
	buf.Write(hb)
	buf.WriteByte('\n')
	if err := gob.NewEncoder(&buf).Encode(&body); err != nil {
		return nil, &CodecError{Op: "encode", Err: fmt.Errorf("gob encode: %w", err)}
	}

	switch f {
	case FormatPlain:
		return buf.Bytes(), nil
	case FormatZstd:
		return encoder.EncodeAll(buf.Bytes(), nil), nil
	default:
		return nil, &CodecError{Op: "encode", Err: fmt.Errorf("unsupported format %d", f)}
	}
}

// DetectFormat sniffs the leading bytes of an encoded snapshot.
func DetectFormat(b []byte) Format {
	switch {
	case bytes.HasPrefix(b, zstdMagic):
		return FormatZstd
	case len(b) > 0 && b[0] == '{':
		return FormatPlain
	default:
		return FormatUnknown
	}
}

func unwrap(b []byte) ([]byte, Format, error) {
	f := DetectFormat(b)
	switch f {
	case FormatPlain:
		return b, f, nil
	case FormatZstd:
		raw, err := decoder.DecodeAll(b, nil)
		if err != nil {
			return nil, f, fmt.Errorf("zstd: %w", err)
		}
		return raw, f, nil
	default:
		return nil, f, errors.New("unrecognized snapshot format")
	}
}

func splitHeader(raw []byte) (Header, []byte, error) {
	var h Header
	nl := bytes.IndexByte(raw, '\n')
	if nl < 0 {
		return h, nil, errors.New("missing header line")
	}
	if err := json.Unmarshal(raw[:nl], &h); err != nil {
		return h, nil, fmt.Errorf("header: %w", err)
	}
	if h.Magic != magic {
		return h, nil, fmt.Errorf("bad magic %q", h.Magic)
	}
	if h.Version != Version {
		return h, nil, fmt.Errorf("unsupported version %d", h.Version)
	}
	return h, raw[nl+1:], nil
}

// Inspect reads only the header of an encoded snapshot.
func Inspect(b []byte) (Header, Format, error) {
	raw, f, err := unwrap(b)
	if err != nil {
		return Header{}, f, &CodecError{Op: "inspect", Err: err}
	}
	h, _, err := splitHeader(raw)
	if err != nil {
		return h, f, &CodecError{Op: "inspect", Err: err}
	}
	return h, f, nil
}

func Decode(b []byte) (*volume.Snapshot, error) {
	raw, _, err := unwrap(b)
	if err != nil {
		return nil, &CodecError{Op: "decode", Err: err}
	}
	h, rest, err := splitHeader(raw)
	if err != nil {
		return nil, &CodecError{Op: "decode", Err: err}
	}

	var body BodyV1
	if err := gob.NewDecoder(bytes.NewReader(rest)).Decode(&body); err != nil {
		return nil, &CodecError{Op: "decode", Err: fmt.Errorf("gob decode: %w", err)}
	}
	if body.Dims != h.Dims || body.Origin != h.Origin || len(body.Palette) != h.Palette || len(body.Entities) != h.Entities {
		return nil, &CodecError{Op: "decode", Err: errors.New("header does not match body")}
	}
	n, err := volume.Cells(body.Dims)
	if err != nil {
		return nil, &CodecError{Op: "decode", Err: err}
	}
	blocks, err := encoding.DecodeRLE(body.Blocks, n)
	if err != nil {
		return nil, &CodecError{Op: "decode", Err: fmt.Errorf("blocks: %w", err)}
	}

	ents := make([]volume.Entity, 0, len(body.Entities))
	for _, ev := range body.Entities {
		e := volume.Entity{ID: ev.ID, Kind: ev.Kind, Offset: ev.Offset}
		for _, p := range ev.Props {
			e.Props = append(e.Props, volume.Prop{Key: p.Key, Value: p.Value})
		}
		ents = append(ents, e)
	}
	s, err := volume.New(body.Origin, body.Dims, body.Palette, blocks, ents)
	if err != nil {
		return nil, &CodecError{Op: "decode", Err: err}
	}
	return s, nil
}

// Hash is a 128-bit content digest. It detects change, it does not
// authenticate.
type Hash [md5.Size]byte

func Digest(b []byte) Hash { return md5.Sum(b) }

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

func (h Hash) IsZero() bool { return h == Hash{} }

func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("digest length %d, want %d", len(b), len(h))
	}
	copy(h[:], b)
	return h, nil
}
