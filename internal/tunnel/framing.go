package tunnel

import (
	"bufio"
	"bytes"
	"compress/zlib"
	"errors"
	"io"
	"math/rand"
	"strings"

	"github.com/cylance/MarkovObfuscate/internal/codec"
)

// frameDelimiter separates obfuscated messages on the wire, exactly as the
// original tunnel protocol does. This only round-trips when the model's
// formatter never renders a literal newline in its encoded output: Default
// qualifies (word-regex tokens never match '\n', and its sentence
// terminator is "."). Lyrics does not qualify even though it looks similar
// at a glance: its sentence terminator is "\n" itself, rendered inline by
// Join every time the walk emits TERM, which happens routinely mid-message.
// Binary does not qualify either, since raw byte 0x0A is a legal token.
// Tunnel callers must use a Default model; WriteFrame's guard below and
// cmd/mtunnel's formatterFor both enforce this.
const frameDelimiter = '\n'

// compressThenObfuscate zlib-compresses data at the best ratio and encodes
// the result through m, as the original protocol does on every hop.
func compressThenObfuscate(m *codec.Model, data []byte, rng *rand.Rand) (string, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return "", err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return m.Obfuscate(buf.Bytes(), rng)
}

// deobfuscateThenDecompress is the inverse of compressThenObfuscate.
func deobfuscateThenDecompress(m *codec.Model, encoded string) ([]byte, error) {
	compressed, err := m.Deobfuscate(encoded)
	if err != nil {
		return nil, err
	}
	r, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// frameWriter serializes payloads as compress-obfuscate-then-delimit frames
// onto an underlying writer.
type frameWriter struct {
	w   io.Writer
	m   *codec.Model
	rng *rand.Rand

	// isSOCKS5 records which dialect's CONNECT reply format to use; set by
	// the handshake state machine once the client's version byte is known.
	isSOCKS5 bool
}

func newFrameWriter(w io.Writer, m *codec.Model, rng *rand.Rand) *frameWriter {
	return &frameWriter{w: w, m: m, rng: rng}
}

// WriteFrame compresses, obfuscates and writes one frame, terminated by
// frameDelimiter.
func (fw *frameWriter) WriteFrame(data []byte) error {
	encoded, err := compressThenObfuscate(fw.m, data, fw.rng)
	if err != nil {
		return err
	}
	if bytes.ContainsRune([]byte(encoded), frameDelimiter) {
		return errors.New("tunnel: encoded frame contains the frame delimiter; use a Default model")
	}
	if _, err := io.WriteString(fw.w, encoded); err != nil {
		return err
	}
	_, err = fw.w.Write([]byte{frameDelimiter})
	return err
}

// frameReader reads delimiter-terminated frames and deobfuscates each one.
type frameReader struct {
	r *bufio.Reader
	m *codec.Model
}

func newFrameReader(r io.Reader, m *codec.Model) *frameReader {
	return &frameReader{r: bufio.NewReader(r), m: m}
}

// ReadFrame blocks for the next complete frame and returns its decoded
// payload. Empty frames (two consecutive delimiters) are skipped, matching
// the original protocol's `if len(data) > 0` guard.
func (fr *frameReader) ReadFrame() ([]byte, error) {
	for {
		line, err := fr.r.ReadString(frameDelimiter)
		line = strings.TrimSuffix(line, string(frameDelimiter))
		if len(line) > 0 {
			return deobfuscateThenDecompress(fr.m, line)
		}
		if err != nil {
			return nil, err
		}
	}
}
