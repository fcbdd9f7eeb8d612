package transfer

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"time"
)

// TCPAuthTimeout bounds how long the Agent's bulk side-band listener waits
// for the Hub to present the one-shot token after dialing.
const TCPAuthTimeout = 5 * time.Second

// maxBulkFrameHeader caps the length-prefixed frame size accepted on the
// bulk side-band, mirroring the size guard on the WS binary frame header.
const maxBulkFrameHeader = 64 * 1024

// ErrBulkAuthFailed is returned when the token presented on a bulk
// side-band connection doesn't match the one issued at init_upload time.
var ErrBulkAuthFailed = errors.New("bulk transfer: token mismatch")

// ErrBulkFrameTooLarge is returned when a length-prefixed frame declares a
// size larger than maxBulkFrameHeader.
var ErrBulkFrameTooLarge = errors.New("bulk transfer: frame too large")

// BulkFileHeader precedes each file's raw bytes on the bulk side-band
// connection. An empty RelativePath is the end-of-stream marker: the Hub
// sends one after the last file instead of just closing the socket, so the
// Agent can distinguish a clean finish from a dropped connection.
type BulkFileHeader struct {
	RelativePath string `json:"relativePath"`
	FileSize     int64  `json:"fileSize"`
}

// IsEndMarker reports whether this header signals the end of the file
// sequence rather than announcing a real file.
func (h BulkFileHeader) IsEndMarker() bool {
	return h.RelativePath == ""
}

// GenerateBulkToken returns a fresh one-shot 128-bit secret, hex-encoded,
// for authenticating a single bulk side-band connection.
func GenerateBulkToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// WriteBulkFrame writes a length-prefixed frame: [u32 BE len][payload].
func WriteBulkFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadBulkFrame reads a length-prefixed frame written by WriteBulkFrame.
func ReadBulkFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > uint32(maxBulkFrameHeader) {
		return nil, ErrBulkFrameTooLarge
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteBulkToken writes the one-shot auth token as the first frame on a
// freshly dialed bulk side-band connection.
func WriteBulkToken(w io.Writer, token string) error {
	return WriteBulkFrame(w, []byte(token))
}

// ReadBulkToken reads the token frame sent immediately after connect.
func ReadBulkToken(r io.Reader) (string, error) {
	b, err := ReadBulkFrame(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// WriteBulkFileHeader writes a BulkFileHeader as a length-prefixed JSON frame.
func WriteBulkFileHeader(w io.Writer, h BulkFileHeader) error {
	b, err := json.Marshal(h)
	if err != nil {
		return err
	}
	return WriteBulkFrame(w, b)
}

// ReadBulkFileHeader reads and decodes a BulkFileHeader frame.
func ReadBulkFileHeader(r io.Reader) (BulkFileHeader, error) {
	var h BulkFileHeader
	b, err := ReadBulkFrame(r)
	if err != nil {
		return h, err
	}
	err = json.Unmarshal(b, &h)
	return h, err
}
