package tunnel

import (
	"bytes"
	"io"
	"math/rand"
	"os"
	"testing"

	"github.com/cylance/MarkovObfuscate/internal/codec"
	"github.com/cylance/MarkovObfuscate/internal/formatter"
)

func trainedModel(t *testing.T) *codec.Model {
	t.Helper()
	m, err := codec.NewModel(64, formatter.Default{})
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}
	corpus, err := os.ReadFile("../../testdata/book.txt")
	if err != nil {
		t.Fatalf("reading corpus: %v", err)
	}
	m.LearnBook(string(corpus))
	return m
}

func TestFrameWriterReaderRoundTrip(t *testing.T) {
	m := trainedModel(t)
	var buf bytes.Buffer
	rng := rand.New(rand.NewSource(1))
	fw := newFrameWriter(&buf, m, rng)

	messages := [][]byte{
		[]byte("hello tunnel"),
		[]byte(""),
		[]byte("a longer message carrying several bytes of SOCKS payload data"),
	}
	for _, msg := range messages {
		if err := fw.WriteFrame(msg); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}

	fr := newFrameReader(&buf, m)
	for _, want := range messages {
		got, err := fr.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("got %q, want %q", got, want)
		}
	}
}

func TestFrameReaderSkipsEmptyLines(t *testing.T) {
	m := trainedModel(t)
	var buf bytes.Buffer
	rng := rand.New(rand.NewSource(2))
	fw := newFrameWriter(&buf, m, rng)
	if err := fw.WriteFrame([]byte("first")); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	buf.WriteByte(frameDelimiter) // an extra blank line between frames

	fr := newFrameReader(&buf, m)
	got, err := fr.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !bytes.Equal(got, []byte("first")) {
		t.Fatalf("got %q", got)
	}
	if _, err := fr.ReadFrame(); err != io.EOF {
		t.Fatalf("expected io.EOF after the final frame, got %v", err)
	}
}

func TestFrameReaderPropagatesDecodeErrors(t *testing.T) {
	m := trainedModel(t)
	var buf bytes.Buffer
	buf.WriteString("not a real obfuscated frame")
	buf.WriteByte(frameDelimiter)

	fr := newFrameReader(&buf, m)
	if _, err := fr.ReadFrame(); err == nil {
		t.Fatal("expected a decode error for a frame not produced by this model")
	}
}
