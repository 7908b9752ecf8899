package mcproto

import (
	"bufio"
	"bytes"
	"crypto/cipher"
	"io"
	"os"
	"time"

	"github.com/klauspost/compress/zlib"
	"github.com/pkg/errors"
)

// ErrNoData is returned by a bounded read when nothing arrived before the timeout
var ErrNoData = errors.New("no data available")

// ErrIncompleteFrame is returned when a frame started arriving but was not completed within the
// reader's frame timeout. The stream cannot be resumed after it.
var ErrIncompleteFrame = errors.New("frame not completed in time")

// DefaultFrameTimeout bounds how long a started frame may take to arrive in full
const DefaultFrameTimeout = 30 * time.Second

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// PacketReader reads frames from a stream and decodes them into packets, applying the
// compression and decryption negotiated for the connection.
type PacketReader struct {
	source    io.Reader
	deadliner readDeadliner
	reader    *bufio.Reader
	threshold int

	frameTimeout time.Duration
}

// NewPacketReader creates a reader with compression and encryption disabled. If source supports
// read deadlines, such as a net.Conn, WaitReadable honors its timeout.
func NewPacketReader(source io.Reader) *PacketReader {
	r := &PacketReader{
		source:    source,
		reader:    bufio.NewReader(source),
		threshold: -1,

		frameTimeout: DefaultFrameTimeout,
	}
	if d, ok := source.(readDeadliner); ok {
		r.deadliner = d
	}
	return r
}

// SetCompressionThreshold enables compression for subsequent packets, or disables it when negative
func (r *PacketReader) SetCompressionThreshold(threshold int) {
	r.threshold = threshold
}

func (r *PacketReader) CompressionThreshold() int {
	return r.threshold
}

// SetFrameTimeout changes how long ReadPacketWithin waits for the rest of a started frame.
// Zero or negative waits forever.
func (r *PacketReader) SetFrameTimeout(timeout time.Duration) {
	r.frameTimeout = timeout
}

// EnableDecryption decrypts everything not yet consumed, including bytes already buffered
func (r *PacketReader) EnableDecryption(stream cipher.Stream) {
	pending, _ := r.reader.Peek(r.reader.Buffered())
	remaining := io.MultiReader(bytes.NewReader(append([]byte(nil), pending...)), r.source)
	r.reader = bufio.NewReader(&cipher.StreamReader{S: stream, R: remaining})
}

// Reader exposes the buffered stream, such as for the legacy server list ping which is not framed
func (r *PacketReader) Reader() *bufio.Reader {
	return r.reader
}

// WaitReadable blocks until at least one byte can be read or the timeout elapses, in which case
// ErrNoData is returned and nothing has been consumed.
func (r *PacketReader) WaitReadable(timeout time.Duration) error {
	if r.reader.Buffered() > 0 {
		return nil
	}
	if r.deadliner == nil {
		_, err := r.reader.Peek(1)
		return err
	}

	if err := r.deadliner.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	_, err := r.reader.Peek(1)
	if clearErr := r.deadliner.SetReadDeadline(time.Time{}); clearErr != nil && err == nil {
		err = clearErr
	}
	if err != nil && errors.Is(err, os.ErrDeadlineExceeded) {
		return ErrNoData
	}
	return err
}

// ReadPacketWithin is ReadPacket bounded by the frame timeout, for use once WaitReadable reported
// the start of a frame. ErrIncompleteFrame is returned when the peer stalls mid frame.
func (r *PacketReader) ReadPacketWithin() (*Packet, error) {
	if r.deadliner == nil || r.frameTimeout <= 0 {
		return r.ReadPacket()
	}

	if err := r.deadliner.SetReadDeadline(time.Now().Add(r.frameTimeout)); err != nil {
		return nil, err
	}
	packet, err := r.ReadPacket()
	if clearErr := r.deadliner.SetReadDeadline(time.Time{}); clearErr != nil && err == nil {
		err = clearErr
	}
	if err != nil && errors.Is(err, os.ErrDeadlineExceeded) {
		return nil, ErrIncompleteFrame
	}
	return packet, err
}

// ReadPacket reads the next frame and splits it into packet ID and data
func (r *PacketReader) ReadPacket() (*Packet, error) {
	frame, err := ReadFrame(r.reader)
	if err != nil {
		return nil, err
	}

	body := frame.Payload
	if r.threshold >= 0 {
		body, err = decompress(frame.Payload)
		if err != nil {
			return nil, err
		}
	}

	remainder := bytes.NewBuffer(body)
	packetID, err := ReadVarInt(remainder)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read packet id")
	}

	return &Packet{
		Length:   frame.Length,
		PacketID: packetID,
		Data:     remainder.Bytes(),
		Raw:      body,
	}, nil
}

func decompress(payload []byte) ([]byte, error) {
	buffer := bytes.NewReader(payload)
	dataLength, err := ReadVarInt(buffer)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read data length")
	}
	rest := payload[len(payload)-buffer.Len():]
	if dataLength == 0 {
		return rest, nil
	}
	if dataLength < 0 || dataLength > MaxUncompressedLength {
		return nil, errors.Errorf("uncompressed length %d out of range", dataLength)
	}

	zr, err := zlib.NewReader(bytes.NewReader(rest))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open compressed packet")
	}
	//noinspection GoUnhandledErrorResult
	defer zr.Close()

	body := make([]byte, dataLength)
	if _, err := io.ReadFull(zr, body); err != nil {
		return nil, errors.Wrap(err, "failed to decompress packet")
	}
	return body, nil
}

// PacketWriter frames packets for one direction of a connection. Wire encoding of modelled
// packets is selected by the protocol version negotiated for the connection.
type PacketWriter struct {
	w         io.Writer
	version   ProtocolVersion
	threshold int
	stream    cipher.Stream
}

func NewPacketWriter(w io.Writer, version ProtocolVersion) *PacketWriter {
	return &PacketWriter{
		w:         w,
		version:   version,
		threshold: -1,
	}
}

func (w *PacketWriter) Version() ProtocolVersion {
	return w.version
}

// SetCompressionThreshold enables compression for subsequent packets, or disables it when negative
func (w *PacketWriter) SetCompressionThreshold(threshold int) {
	w.threshold = threshold
}

func (w *PacketWriter) EnableEncryption(stream cipher.Stream) {
	w.stream = stream
}

// WritePacket encodes p for the writer's protocol version and sends it as one frame
func (w *PacketWriter) WritePacket(p Encoder) error {
	raw, err := EncodePacket(p, w.version)
	if err != nil {
		return err
	}
	return w.WriteRaw(raw)
}

// WriteRaw sends a packet ID plus data, such as Packet.Raw, as one frame
func (w *PacketWriter) WriteRaw(raw []byte) error {
	payload := raw
	if w.threshold >= 0 {
		var err error
		payload, err = w.compress(raw)
		if err != nil {
			return err
		}
	}

	var frame bytes.Buffer
	if err := WriteVarInt(&frame, int32(len(payload))); err != nil {
		return err
	}
	frame.Write(payload)

	out := frame.Bytes()
	if w.stream != nil {
		w.stream.XORKeyStream(out, out)
	}
	_, err := w.w.Write(out)
	return err
}

func (w *PacketWriter) compress(raw []byte) ([]byte, error) {
	var b bytes.Buffer
	if len(raw) < w.threshold {
		if err := WriteVarInt(&b, 0); err != nil {
			return nil, err
		}
		b.Write(raw)
		return b.Bytes(), nil
	}

	if err := WriteVarInt(&b, int32(len(raw))); err != nil {
		return nil, err
	}
	zw := zlib.NewWriter(&b)
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}
