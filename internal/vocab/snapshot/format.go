// Package snapshot implements the binary snapshot format used to persist a
// vocabulary trie and reload it quickly at startup.
//
// A snapshot is a fixed 36-byte header followed by a single zstd frame:
//
//	magic    "SHBDTRIE"      8 bytes
//	version  uint16 BE       currently 1
//	flags    uint16 BE       reserved, must be 0
//	nodes    uint64 BE       node count including the root
//	words    uint64 BE       terminal node count
//	checksum uint64 BE       xxhash64 of the uncompressed body
//
// The uncompressed body is the trie in pre-order. Each node is written as
// uvarint(flags) uvarint(children); every child is preceded by
// uvarint(code point). Bit 0 of flags marks a terminal node.
//
// Decoding is strict: any deviation from the format is reported as
// [ErrPersist] and no trie is returned.
package snapshot

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/MrWong99/shabda/pkg/trie"
)

// Version is the snapshot format version written by [Encode].
const Version uint16 = 1

// HeaderSize is the encoded size of [Header] in bytes.
const HeaderSize = 36

// MaxBodySize caps the decompressed body of a snapshot.
const MaxBodySize = 1 << 30

// maxRecordSize is the largest encoded size of one node record: flags,
// child count and the edge code point, each a short uvarint.
const maxRecordSize = 16

const flagTerminal = 1

var magic = [8]byte{'S', 'H', 'B', 'D', 'T', 'R', 'I', 'E'}

var (
	// ErrPersist is returned when a snapshot cannot be written, or when a
	// stored snapshot is malformed, truncated or of an unsupported version.
	ErrPersist = errors.New("snapshot: persist error")

	// ErrUnavailable is returned by a [Backend] when the store itself cannot
	// be reached or read. The stored snapshot may still be intact.
	ErrUnavailable = errors.New("snapshot: backend unavailable")

	// ErrNotFound is returned by a [Backend] when no snapshot has been saved
	// yet.
	ErrNotFound = errors.New("snapshot: not found")
)

// Header is the fixed-size preamble of a snapshot.
type Header struct {
	Version  uint16
	Nodes    uint64
	Words    uint64
	Checksum uint64
}

// Encode writes t to w in snapshot format. The trie is read-locked while its
// body is serialised.
func Encode(w io.Writer, t *trie.Trie) error {
	var (
		body  bytes.Buffer
		tmp   [binary.MaxVarintLen64]byte
		nodes uint64
		words uint64
	)
	err := t.Records(func(r trie.Record) error {
		if nodes > 0 {
			body.Write(tmp[:binary.PutUvarint(tmp[:], uint64(r.Edge))])
		}
		var flags uint64
		if r.Terminal {
			flags |= flagTerminal
			words++
		}
		body.Write(tmp[:binary.PutUvarint(tmp[:], flags)])
		body.Write(tmp[:binary.PutUvarint(tmp[:], uint64(r.Children))])
		nodes++
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: encode: %w", ErrPersist, err)
	}

	h := Header{
		Version:  Version,
		Nodes:    nodes,
		Words:    words,
		Checksum: xxhash.Sum64(body.Bytes()),
	}
	if _, err := w.Write(h.marshal()); err != nil {
		return fmt.Errorf("%w: write header: %w", ErrPersist, err)
	}

	enc, err := zstd.NewWriter(w, zstd.WithEncoderConcurrency(1))
	if err != nil {
		return fmt.Errorf("%w: init compressor: %w", ErrPersist, err)
	}
	if _, err := enc.Write(body.Bytes()); err != nil {
		_ = enc.Close()
		return fmt.Errorf("%w: write body: %w", ErrPersist, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("%w: flush body: %w", ErrPersist, err)
	}
	return nil
}

// Decode reads a snapshot from r and rebuilds the trie. opts configure the
// returned trie (for example its insert filter). On any error the returned
// trie is nil and the error wraps [ErrPersist].
func Decode(r io.Reader, opts ...trie.Option) (*trie.Trie, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	bound := uint64(MaxBodySize)
	if h.Nodes < MaxBodySize/maxRecordSize {
		bound = h.Nodes * maxRecordSize
	}

	dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("%w: init decompressor: %w", ErrPersist, err)
	}
	defer dec.Close()

	body, err := io.ReadAll(io.LimitReader(dec, int64(bound)+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrPersist, err)
	}
	if uint64(len(body)) > bound {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", ErrPersist, bound)
	}
	if sum := xxhash.Sum64(body); sum != h.Checksum {
		return nil, fmt.Errorf("%w: checksum mismatch: got %016x, header says %016x", ErrPersist, sum, h.Checksum)
	}

	br := bytes.NewReader(body)
	var seen uint64
	next := func() (trie.Record, error) {
		if seen == h.Nodes {
			return trie.Record{}, fmt.Errorf("%w: more nodes than the declared %d", ErrPersist, h.Nodes)
		}
		var rec trie.Record
		if seen > 0 {
			edge, err := binary.ReadUvarint(br)
			if err != nil {
				return rec, truncated(err)
			}
			if edge > 0x10FFFF {
				return rec, fmt.Errorf("%w: code point %d outside unicode", ErrPersist, edge)
			}
			rec.Edge = rune(edge)
		}
		flags, err := binary.ReadUvarint(br)
		if err != nil {
			return rec, truncated(err)
		}
		if flags&^flagTerminal != 0 {
			return rec, fmt.Errorf("%w: unknown node flags %#x", ErrPersist, flags)
		}
		children, err := binary.ReadUvarint(br)
		if err != nil {
			return rec, truncated(err)
		}
		if children >= h.Nodes {
			return rec, fmt.Errorf("%w: child count %d exceeds declared nodes", ErrPersist, children)
		}
		rec.Terminal = flags&flagTerminal != 0
		rec.Children = int(children)
		seen++
		return rec, nil
	}

	t, err := trie.FromRecords(next, opts...)
	if err != nil {
		if errors.Is(err, ErrPersist) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrPersist, err)
	}
	if br.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing body bytes", ErrPersist, br.Len())
	}
	if uint64(t.Nodes()) != h.Nodes || uint64(t.Len()) != h.Words {
		return nil, fmt.Errorf("%w: header declares %d nodes and %d words, body has %d and %d",
			ErrPersist, h.Nodes, h.Words, t.Nodes(), t.Len())
	}
	return t, nil
}

// ReadHeader reads and validates the snapshot header from r.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, fmt.Errorf("%w: read header: %w", ErrPersist, err)
	}
	if !bytes.Equal(buf[:8], magic[:]) {
		return Header{}, fmt.Errorf("%w: bad magic %q", ErrPersist, buf[:8])
	}
	h := Header{
		Version:  binary.BigEndian.Uint16(buf[8:10]),
		Nodes:    binary.BigEndian.Uint64(buf[12:20]),
		Words:    binary.BigEndian.Uint64(buf[20:28]),
		Checksum: binary.BigEndian.Uint64(buf[28:36]),
	}
	if h.Version != Version {
		return Header{}, fmt.Errorf("%w: unsupported version %d", ErrPersist, h.Version)
	}
	if flags := binary.BigEndian.Uint16(buf[10:12]); flags != 0 {
		return Header{}, fmt.Errorf("%w: reserved header flags set: %#x", ErrPersist, flags)
	}
	if h.Nodes == 0 || h.Words >= h.Nodes {
		return Header{}, fmt.Errorf("%w: implausible counts: %d nodes, %d words", ErrPersist, h.Nodes, h.Words)
	}
	return h, nil
}

func (h Header) marshal() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[:8], magic[:])
	binary.BigEndian.PutUint16(buf[8:10], h.Version)
	binary.BigEndian.PutUint64(buf[12:20], h.Nodes)
	binary.BigEndian.PutUint64(buf[20:28], h.Words)
	binary.BigEndian.PutUint64(buf[28:36], h.Checksum)
	return buf
}

func truncated(err error) error {
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return fmt.Errorf("%w: truncated body: %w", ErrPersist, err)
}
