package formats

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"

	"github.com/klauspost/compress/zstd"

	tmath "github.com/Faultbox/midgard-terrain/pkg/math"
)

// Stream magic and version written at the start of every chunk stream.
const (
	StreamMagic   = "MTRN"
	StreamVersion = 1
)

// chunkHeaderSize is id(4) + version(2) + length(4).
const chunkHeaderSize = 10

// Chunk stream errors.
var (
	ErrInvalidStreamMagic      = errors.New("invalid stream magic: expected 'MTRN'")
	ErrUnsupportedStreamVer    = errors.New("unsupported stream version")
	ErrInvalidChunkID          = errors.New("unexpected chunk id")
	ErrUnsupportedChunkVersion = errors.New("unsupported chunk version")
	ErrTruncatedChunkData      = errors.New("truncated chunk data")
	ErrChunkChecksum           = errors.New("chunk checksum mismatch")
	ErrUnbalancedChunks        = errors.New("unbalanced chunk begin/end")
)

// Blob codecs.
const (
	codecRaw  uint8 = 0
	codecZstd uint8 = 1
)

// ChunkID is a 4-byte chunk tag such as "TERR".
type ChunkID [4]byte

// MakeChunkID converts a 4 character tag to a ChunkID.
func MakeChunkID(tag string) ChunkID {
	var id ChunkID
	copy(id[:], tag)
	return id
}

// String returns the tag as text.
func (id ChunkID) String() string {
	return string(id[:])
}

// ChunkHeader describes a chunk read from a stream.
type ChunkHeader struct {
	ID      ChunkID
	Version uint16
	Length  uint32
}

type openChunk struct {
	id      ChunkID
	version uint16
	buf     bytes.Buffer
}

// ChunkWriter writes a nested, checksummed chunk stream.
// Errors are sticky: after the first failure all writes are no-ops and Err reports it.
type ChunkWriter struct {
	w             io.Writer
	stack         []*openChunk
	headerWritten bool
	compress      bool
	encoder       *zstd.Encoder
	err           error
}

// NewChunkWriter creates a writer. Blobs are stored uncompressed unless SetCompression is called.
func NewChunkWriter(w io.Writer) *ChunkWriter {
	return &ChunkWriter{w: w}
}

// SetCompression toggles zstd compression of blobs written from now on.
func (cw *ChunkWriter) SetCompression(on bool) {
	cw.compress = on
}

// Err returns the first error encountered.
func (cw *ChunkWriter) Err() error {
	return cw.err
}

func (cw *ChunkWriter) target() io.Writer {
	if n := len(cw.stack); n > 0 {
		return &cw.stack[n-1].buf
	}
	return cw.w
}

func (cw *ChunkWriter) writeHeader() {
	if cw.headerWritten || cw.err != nil {
		return
	}
	cw.headerWritten = true
	if _, err := io.WriteString(cw.w, StreamMagic); err != nil {
		cw.err = err
		return
	}
	if _, err := cw.w.Write([]byte{StreamVersion}); err != nil {
		cw.err = err
	}
}

func (cw *ChunkWriter) write(v any) {
	if cw.err != nil {
		return
	}
	cw.writeHeader()
	if cw.err != nil {
		return
	}
	if err := binary.Write(cw.target(), binary.LittleEndian, v); err != nil {
		cw.err = err
	}
}

// BeginChunk opens a chunk. Chunks may nest.
func (cw *ChunkWriter) BeginChunk(id ChunkID, version uint16) {
	cw.writeHeader()
	cw.stack = append(cw.stack, &openChunk{id: id, version: version})
}

// EndChunk closes the innermost chunk, which must have the given id.
func (cw *ChunkWriter) EndChunk(id ChunkID) {
	if cw.err != nil {
		return
	}
	n := len(cw.stack)
	if n == 0 || cw.stack[n-1].id != id {
		cw.err = fmt.Errorf("%w: closing %s", ErrUnbalancedChunks, id)
		return
	}
	c := cw.stack[n-1]
	cw.stack = cw.stack[:n-1]

	payload := c.buf.Bytes()
	hdr := make([]byte, chunkHeaderSize)
	copy(hdr[0:4], c.id[:])
	binary.LittleEndian.PutUint16(hdr[4:6], c.version)
	binary.LittleEndian.PutUint32(hdr[6:10], uint32(len(payload)))

	dst := cw.target()
	for _, part := range [][]byte{hdr, payload} {
		if _, err := dst.Write(part); err != nil {
			cw.err = err
			return
		}
	}
	if err := binary.Write(dst, binary.LittleEndian, crc32.ChecksumIEEE(payload)); err != nil {
		cw.err = err
	}
}

// WriteUint8 writes a byte.
func (cw *ChunkWriter) WriteUint8(v uint8) { cw.write(v) }

// WriteUint16 writes a little-endian uint16.
func (cw *ChunkWriter) WriteUint16(v uint16) { cw.write(v) }

// WriteUint32 writes a little-endian uint32.
func (cw *ChunkWriter) WriteUint32(v uint32) { cw.write(v) }

// WriteInt32 writes a little-endian int32.
func (cw *ChunkWriter) WriteInt32(v int32) { cw.write(v) }

// WriteFloat32 writes a little-endian float32.
func (cw *ChunkWriter) WriteFloat32(v float32) { cw.write(v) }

// WriteBool writes a bool as one byte.
func (cw *ChunkWriter) WriteBool(v bool) { cw.write(v) }

// WriteVec3 writes three float32 values.
func (cw *ChunkWriter) WriteVec3(v tmath.Vec3) {
	cw.write([3]float32{v.X, v.Y, v.Z})
}

// WriteString writes a uint32 length followed by the bytes.
func (cw *ChunkWriter) WriteString(s string) {
	cw.write(uint32(len(s)))
	if cw.err != nil {
		return
	}
	if _, err := io.WriteString(cw.target(), s); err != nil {
		cw.err = err
	}
}

// WriteBlob writes a byte array with a codec marker, compressed when enabled.
func (cw *ChunkWriter) WriteBlob(data []byte) {
	if cw.err != nil {
		return
	}
	codec := codecRaw
	stored := data
	if cw.compress && len(data) > 0 {
		if cw.encoder == nil {
			enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
			if err != nil {
				cw.err = fmt.Errorf("creating zstd encoder: %w", err)
				return
			}
			cw.encoder = enc
		}
		stored = cw.encoder.EncodeAll(data, make([]byte, 0, len(data)/2))
		codec = codecZstd
	}
	cw.write(codec)
	cw.write(uint32(len(data)))
	cw.write(uint32(len(stored)))
	if cw.err != nil {
		return
	}
	if _, err := cw.target().Write(stored); err != nil {
		cw.err = err
	}
}

// WriteFloat32Blob writes a float32 array as a blob.
func (cw *ChunkWriter) WriteFloat32Blob(values []float32) {
	cw.WriteBlob(Float32sToBytes(values))
}

// Close verifies all chunks were closed and releases the encoder.
func (cw *ChunkWriter) Close() error {
	if cw.encoder != nil {
		cw.encoder.Close()
		cw.encoder = nil
	}
	if cw.err != nil {
		return cw.err
	}
	cw.writeHeader()
	if len(cw.stack) != 0 {
		return fmt.Errorf("%w: %d chunk(s) still open", ErrUnbalancedChunks, len(cw.stack))
	}
	return cw.err
}

type readFrame struct {
	hdr ChunkHeader
	r   *bytes.Reader
}

// ChunkReader reads a stream produced by ChunkWriter.
type ChunkReader struct {
	base    *bytes.Reader
	stack   []readFrame
	decoder *zstd.Decoder
	Version uint8
}

// NewChunkReader reads the whole stream into memory and validates its header.
func NewChunkReader(r io.Reader) (*ChunkReader, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(data) < len(StreamMagic)+1 {
		return nil, fmt.Errorf("%w: reading stream header", ErrTruncatedChunkData)
	}
	if string(data[:len(StreamMagic)]) != StreamMagic {
		return nil, ErrInvalidStreamMagic
	}
	version := data[len(StreamMagic)]
	if version > StreamVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedStreamVer, version)
	}
	return &ChunkReader{
		base:    bytes.NewReader(data[len(StreamMagic)+1:]),
		Version: version,
	}, nil
}

// Close releases the decoder.
func (cr *ChunkReader) Close() {
	if cr.decoder != nil {
		cr.decoder.Close()
		cr.decoder = nil
	}
}

func (cr *ChunkReader) source() *bytes.Reader {
	if n := len(cr.stack); n > 0 {
		return cr.stack[n-1].r
	}
	return cr.base
}

// IsEOF reports whether the current chunk (or the stream) has no more data.
func (cr *ChunkReader) IsEOF() bool {
	return cr.source().Len() == 0
}

// PeekChunkID returns the id of the next chunk without consuming it.
func (cr *ChunkReader) PeekChunkID() (ChunkID, bool) {
	src := cr.source()
	var id ChunkID
	if src.Len() < chunkHeaderSize {
		return id, false
	}
	pos, _ := src.Seek(0, io.SeekCurrent)
	_, _ = src.Read(id[:])
	_, _ = src.Seek(pos, io.SeekStart)
	return id, true
}

// ReadChunkBegin enters the next chunk, which must have the given id and a version no newer than maxVersion.
// On an id or version mismatch the stream position is left unchanged.
func (cr *ChunkReader) ReadChunkBegin(id ChunkID, maxVersion uint16) (ChunkHeader, error) {
	src := cr.source()
	var hdr ChunkHeader
	if src.Len() < chunkHeaderSize {
		return hdr, fmt.Errorf("%w: reading %s header", ErrTruncatedChunkData, id)
	}
	start, _ := src.Seek(0, io.SeekCurrent)

	raw := make([]byte, chunkHeaderSize)
	_, _ = io.ReadFull(src, raw)
	copy(hdr.ID[:], raw[0:4])
	hdr.Version = binary.LittleEndian.Uint16(raw[4:6])
	hdr.Length = binary.LittleEndian.Uint32(raw[6:10])

	if hdr.ID != id {
		_, _ = src.Seek(start, io.SeekStart)
		return hdr, fmt.Errorf("%w: expected %s, got %s", ErrInvalidChunkID, id, hdr.ID)
	}
	if hdr.Version > maxVersion {
		_, _ = src.Seek(start, io.SeekStart)
		return hdr, fmt.Errorf("%w: %s version %d (max %d)", ErrUnsupportedChunkVersion, id, hdr.Version, maxVersion)
	}

	payload := make([]byte, hdr.Length)
	if _, err := io.ReadFull(src, payload); err != nil {
		return hdr, fmt.Errorf("%w: reading %s payload", ErrTruncatedChunkData, id)
	}
	var sum uint32
	if err := binary.Read(src, binary.LittleEndian, &sum); err != nil {
		return hdr, fmt.Errorf("%w: reading %s checksum", ErrTruncatedChunkData, id)
	}
	if sum != crc32.ChecksumIEEE(payload) {
		return hdr, fmt.Errorf("%w: %s", ErrChunkChecksum, id)
	}

	cr.stack = append(cr.stack, readFrame{hdr: hdr, r: bytes.NewReader(payload)})
	return hdr, nil
}

// ReadChunkEnd leaves the innermost chunk, skipping any unread payload.
func (cr *ChunkReader) ReadChunkEnd(id ChunkID) error {
	n := len(cr.stack)
	if n == 0 || cr.stack[n-1].hdr.ID != id {
		return fmt.Errorf("%w: leaving %s", ErrUnbalancedChunks, id)
	}
	cr.stack = cr.stack[:n-1]
	return nil
}

func (cr *ChunkReader) read(v any, what string) error {
	if err := binary.Read(cr.source(), binary.LittleEndian, v); err != nil {
		return fmt.Errorf("%w: reading %s", ErrTruncatedChunkData, what)
	}
	return nil
}

// ReadUint8 reads a byte.
func (cr *ChunkReader) ReadUint8() (uint8, error) {
	var v uint8
	err := cr.read(&v, "uint8")
	return v, err
}

// ReadUint16 reads a uint16.
func (cr *ChunkReader) ReadUint16() (uint16, error) {
	var v uint16
	err := cr.read(&v, "uint16")
	return v, err
}

// ReadUint32 reads a uint32.
func (cr *ChunkReader) ReadUint32() (uint32, error) {
	var v uint32
	err := cr.read(&v, "uint32")
	return v, err
}

// ReadInt32 reads an int32.
func (cr *ChunkReader) ReadInt32() (int32, error) {
	var v int32
	err := cr.read(&v, "int32")
	return v, err
}

// ReadFloat32 reads a float32.
func (cr *ChunkReader) ReadFloat32() (float32, error) {
	var v float32
	err := cr.read(&v, "float32")
	return v, err
}

// ReadBool reads a one byte bool.
func (cr *ChunkReader) ReadBool() (bool, error) {
	var v bool
	err := cr.read(&v, "bool")
	return v, err
}

// ReadVec3 reads three float32 values.
func (cr *ChunkReader) ReadVec3() (tmath.Vec3, error) {
	var v [3]float32
	if err := cr.read(&v, "vec3"); err != nil {
		return tmath.Vec3{}, err
	}
	return tmath.Vec3{X: v[0], Y: v[1], Z: v[2]}, nil
}

// ReadString reads a length-prefixed string.
func (cr *ChunkReader) ReadString() (string, error) {
	n, err := cr.ReadUint32()
	if err != nil {
		return "", err
	}
	src := cr.source()
	if int64(n) > int64(src.Len()) {
		return "", fmt.Errorf("%w: reading string of %d bytes", ErrTruncatedChunkData, n)
	}
	buf := make([]byte, n)
	_, _ = io.ReadFull(src, buf)
	return string(buf), nil
}

// ReadBlob reads a blob, decompressing it if needed.
func (cr *ChunkReader) ReadBlob() ([]byte, error) {
	codec, err := cr.ReadUint8()
	if err != nil {
		return nil, err
	}
	rawLen, err := cr.ReadUint32()
	if err != nil {
		return nil, err
	}
	storedLen, err := cr.ReadUint32()
	if err != nil {
		return nil, err
	}
	src := cr.source()
	if int64(storedLen) > int64(src.Len()) {
		return nil, fmt.Errorf("%w: reading blob of %d bytes", ErrTruncatedChunkData, storedLen)
	}
	stored := make([]byte, storedLen)
	_, _ = io.ReadFull(src, stored)

	switch codec {
	case codecRaw:
		return stored, nil
	case codecZstd:
		if cr.decoder == nil {
			dec, err := zstd.NewReader(nil)
			if err != nil {
				return nil, fmt.Errorf("creating zstd decoder: %w", err)
			}
			cr.decoder = dec
		}
		out, err := cr.decoder.DecodeAll(stored, make([]byte, 0, rawLen))
		if err != nil {
			return nil, fmt.Errorf("decompressing blob: %w", err)
		}
		if len(out) != int(rawLen) {
			return nil, fmt.Errorf("%w: blob decompressed to %d bytes, want %d", ErrTruncatedChunkData, len(out), rawLen)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown blob codec %d", codec)
	}
}

// ReadFloat32Blob reads a float32 array blob.
func (cr *ChunkReader) ReadFloat32Blob() ([]float32, error) {
	data, err := cr.ReadBlob()
	if err != nil {
		return nil, err
	}
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("%w: float blob of %d bytes", ErrTruncatedChunkData, len(data))
	}
	return BytesToFloat32s(data), nil
}

// Float32sToBytes encodes values little-endian.
func Float32sToBytes(values []float32) []byte {
	out := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

// BytesToFloat32s decodes little-endian float32 values.
func BytesToFloat32s(data []byte) []float32 {
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out
}
