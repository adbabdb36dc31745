package chunk

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/aretw0/tally/pkg/core"
	"github.com/aretw0/tally/pkg/params"
)

// Ext is the file extension of persisted chunks.
const Ext = ".chunk"

// ErrMalformedFile is returned when a chunk file cannot be split into digest
// header and body.
var ErrMalformedFile = errors.New("malformed chunk file")

// Codec converts entries to and from parameter maps. A chunk stores one map
// per entry inside its body.
type Codec interface {
	Encode(e core.Entry) (*params.Map, error)
	Decode(m *params.Map) (core.Entry, error)
}

// FileName returns the store name of the chunk with the given id.
func FileName(id string) string {
	return id + Ext
}

// IDFromFile is the inverse of FileName. Directories are part of the id.
// It reports false for other files.
func IDFromFile(name string) (string, bool) {
	id, ok := strings.CutSuffix(name, Ext)
	return id, ok && id != "" && !strings.HasSuffix(id, "/")
}

// File is the on-disk form of a chunk: a digest header line followed by the
// body the digest was computed over.
//
//	digest=sha256:<hex>;
//	id=<id>;state=open;capacity=100;entries={{...},{...}};
type File struct {
	Digest string
	Body   []byte
}

// EncodeFile renders the header and body.
func EncodeFile(f File) []byte {
	var b bytes.Buffer
	b.WriteString("digest=")
	b.WriteString(f.Digest)
	b.WriteString(";\n")
	b.Write(f.Body)
	return b.Bytes()
}

// DecodeFile splits raw into header and body without verifying the digest.
func DecodeFile(raw []byte) (File, error) {
	header, body, ok := bytes.Cut(raw, []byte("\n"))
	if !ok {
		return File{}, fmt.Errorf("%w: missing header", ErrMalformedFile)
	}

	m, err := params.Parse(string(header))
	if err != nil {
		return File{}, fmt.Errorf("%w: %w", ErrMalformedFile, err)
	}
	digest, err := m.Text("digest")
	if err != nil {
		return File{}, fmt.Errorf("%w: %w", ErrMalformedFile, err)
	}
	if _, _, err := SplitDigest(digest); err != nil {
		return File{}, fmt.Errorf("%w: %w", ErrMalformedFile, err)
	}
	return File{Digest: digest, Body: body}, nil
}

// body is the decoded content of a chunk file.
type body struct {
	ID       string
	State    core.ChunkState
	Capacity int
	Entries  []core.Entry
}

func encodeBody(codec Codec, b body) ([]byte, error) {
	sections := make([]*params.Map, 0, len(b.Entries))
	for _, e := range b.Entries {
		m, err := codec.Encode(e)
		if err != nil {
			return nil, fmt.Errorf("failed to encode entry %s: %w", e.Key(), err)
		}
		sections = append(sections, m)
	}

	m := params.New()
	m.Set("id", b.ID)
	m.Set("state", string(b.State))
	m.SetInt("capacity", b.Capacity)
	m.SetSections("entries", sections)
	return []byte(m.String() + "\n"), nil
}

func decodeBody(codec Codec, raw []byte) (body, error) {
	m, err := params.Parse(string(raw))
	if err != nil {
		return body{}, err
	}

	var b body
	if b.ID, err = m.Text("id"); err != nil {
		return body{}, err
	}
	state, err := m.Text("state")
	if err != nil {
		return body{}, err
	}
	if b.State, err = core.ParseChunkState(state); err != nil {
		return body{}, err
	}
	if b.Capacity, err = m.Int("capacity"); err != nil {
		return body{}, err
	}

	sections, err := m.Sections("entries")
	if err != nil {
		return body{}, err
	}
	for _, s := range sections {
		e, err := codec.Decode(s)
		if err != nil {
			return body{}, fmt.Errorf("failed to decode entry: %w", err)
		}
		b.Entries = append(b.Entries, e)
	}
	return b, nil
}
