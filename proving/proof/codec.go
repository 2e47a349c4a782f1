package proof

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/crytic/kprove/proving/kcfg"
	"github.com/fxamacker/cbor"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// Format is the encoding used for persisted proof files.
type Format string

const (
	// FormatJSON stores proofs as indented JSON.
	FormatJSON Format = "json"
	// FormatCBOR stores proofs as CBOR.
	FormatCBOR Format = "cbor"
)

// zstdMagic is the frame header every zstd stream starts with.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// MalformedProofFileError is returned when a persisted proof cannot be decoded or references a node that does not
// exist. It is fatal for the unit the file belongs to.
type MalformedProofFileError struct {
	// Path is the file the proof was read from, if known.
	Path string
	// Err is the underlying decoding or integrity error.
	Err error
}

// Error implements the error interface.
func (e *MalformedProofFileError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("malformed proof file: %v", e.Err)
	}
	return fmt.Sprintf("malformed proof file %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *MalformedProofFileError) Unwrap() error {
	return e.Err
}

// proofFile is the persisted layout of a Proof.
type proofFile struct {
	Type     Type                     `json:"type" cbor:"type"`
	ID       string                   `json:"id" cbor:"id"`
	Init     kcfg.NodeID              `json:"init" cbor:"init"`
	Target   kcfg.NodeID              `json:"target" cbor:"target"`
	BMCDepth *int                     `json:"bmcDepth,omitempty" cbor:"bmcDepth,omitempty"`
	Bounded  []kcfg.NodeID            `json:"bounded,omitempty" cbor:"bounded,omitempty"`
	Logs     map[kcfg.NodeID][]string `json:"logs" cbor:"logs"`
	CFG      kcfg.Dict                `json:"cfg" cbor:"cfg"`
}

// Encode serializes the proof in the given format, optionally zstd-compressed.
func Encode(p *Proof, format Format, compress bool) ([]byte, error) {
	file := proofFile{
		Type:     p.Type(),
		ID:       p.ID,
		Init:     p.Init(),
		Target:   p.Target(),
		BMCDepth: p.bmcDepth,
		Bounded:  p.Bounded(),
		Logs:     p.logs,
		CFG:      p.KCFG.ToDict(),
	}

	var data []byte
	var err error
	switch format {
	case FormatJSON:
		data, err = json.MarshalIndent(file, "", "\t")
	case FormatCBOR:
		data, err = cbor.Marshal(file, cbor.EncOptions{})
	default:
		return nil, errors.Errorf("unknown proof format %q", format)
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}

	if !compress {
		return data, nil
	}
	var compressed bytes.Buffer
	encoder, err := zstd.NewWriter(&compressed)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if _, err = encoder.Write(data); err != nil {
		encoder.Close()
		return nil, errors.WithStack(err)
	}
	if err = encoder.Close(); err != nil {
		return nil, errors.WithStack(err)
	}
	return compressed.Bytes(), nil
}

// Decode deserializes a proof in the given format. Compressed input is detected by its zstd frame header. Any
// decoding or integrity failure is returned as a MalformedProofFileError.
func Decode(data []byte, format Format) (*Proof, error) {
	if bytes.HasPrefix(data, zstdMagic) {
		decoder, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, errors.WithStack(err)
		}
		defer decoder.Close()
		if data, err = io.ReadAll(decoder); err != nil {
			return nil, malformed(err)
		}
	}

	var file proofFile
	var err error
	switch format {
	case FormatJSON:
		err = json.Unmarshal(data, &file)
	case FormatCBOR:
		err = cbor.Unmarshal(data, &file)
	default:
		return nil, errors.Errorf("unknown proof format %q", format)
	}
	if err != nil {
		return nil, malformed(err)
	}
	return fromFile(file)
}

// fromFile validates a decoded file and builds the proof.
func fromFile(file proofFile) (*Proof, error) {
	switch file.Type {
	case TypeReachability:
		if file.BMCDepth != nil {
			return nil, malformed(errors.New("reachability proof carries a bmcDepth"))
		}
	case TypeBounded:
		if file.BMCDepth == nil {
			return nil, malformed(errors.New("bounded proof has no bmcDepth"))
		}
	default:
		return nil, malformed(errors.Errorf("unknown proof type %q", file.Type))
	}
	if file.ID == "" {
		return nil, malformed(errors.New("proof has no id"))
	}

	graph, err := kcfg.FromDict(file.CFG)
	if err != nil {
		return nil, malformed(err)
	}
	if err = graph.SetInit(file.Init); err != nil {
		return nil, malformed(err)
	}
	if err = graph.SetTarget(file.Target); err != nil {
		return nil, malformed(err)
	}

	p := &Proof{
		ID:       file.ID,
		KCFG:     graph,
		bmcDepth: file.BMCDepth,
		bounded:  make(map[kcfg.NodeID]struct{}),
		logs:     make(map[kcfg.NodeID][]string),
	}
	for _, id := range file.Bounded {
		if err = p.AddBounded(id); err != nil {
			return nil, malformed(err)
		}
	}
	for id, lines := range file.Logs {
		if !graph.Contains(id) {
			return nil, malformed(errors.Wrapf(kcfg.ErrNodeNotFound, "logs for node %d", id))
		}
		p.logs[id] = lines
	}
	return p, nil
}

// malformed wraps an error into a MalformedProofFileError.
func malformed(err error) error {
	return errors.WithStack(&MalformedProofFileError{Err: err})
}
