// Package replay decodes recorded block captures in bulk.
package replay

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/resident-x/go-v2blocks/internal/codec"
	"github.com/resident-x/go-v2blocks/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// DefaultVersion decodes captures without a version before any protocol info
// block has been replayed.
const DefaultVersion = 2000

// Capture is one recorded block payload. Version 0 means the version
// negotiated by the latest protocol info capture of the same replay.
type Capture struct {
	Name    string `cbor:"name,omitempty" json:"name,omitempty"`
	Block   uint16 `cbor:"block" json:"block"`
	Version int    `cbor:"version,omitempty" json:"version,omitempty"`
	Payload []byte `cbor:"payload" json:"payload"`
}

type yamlCapture struct {
	Name    string `yaml:"name,omitempty"`
	Block   uint16 `yaml:"block"`
	Version int    `yaml:"version,omitempty"`
	Payload string `yaml:"payload"`
}

type yamlFile struct {
	Captures []yamlCapture `yaml:"captures"`
}

// ParseYAML reads captures whose payloads are hex strings. Whitespace inside
// a payload is ignored.
func ParseYAML(data []byte) ([]Capture, error) {
	var file yamlFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to parse capture file: %w", err)
	}

	captures := make([]Capture, 0, len(file.Captures))
	for i, c := range file.Captures {
		payload, err := hex.DecodeString(strings.Join(strings.Fields(c.Payload), ""))
		if err != nil {
			return nil, fmt.Errorf("capture %d: invalid hex payload: %w", i, err)
		}
		captures = append(captures, Capture{Name: c.Name, Block: c.Block, Version: c.Version, Payload: payload})
	}
	return captures, nil
}

// MarshalYAML writes captures in the format ParseYAML reads.
func MarshalYAML(captures []Capture) ([]byte, error) {
	file := yamlFile{Captures: make([]yamlCapture, len(captures))}
	for i, c := range captures {
		file.Captures[i] = yamlCapture{Name: c.Name, Block: c.Block, Version: c.Version, Payload: hex.EncodeToString(c.Payload)}
	}
	return yaml.Marshal(&file)
}

// ParseCBOR reads a CBOR array of captures.
func ParseCBOR(data []byte) ([]Capture, error) {
	var captures []Capture
	if err := cbor.Unmarshal(data, &captures); err != nil {
		return nil, fmt.Errorf("failed to parse capture file: %w", err)
	}
	if captures == nil {
		captures = []Capture{}
	}
	return captures, nil
}

// MarshalCBOR writes captures in the format ParseCBOR reads.
func MarshalCBOR(captures []Capture) ([]byte, error) {
	return cbor.Marshal(captures)
}

// Load reads a capture file. Files ending in .cbor are CBOR; everything else
// is YAML.
func Load(path string) ([]Capture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read capture file: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".cbor") {
		return ParseCBOR(data)
	}
	return ParseYAML(data)
}

// Result is the outcome of one capture.
type Result struct {
	Index   int            `json:"index"`
	Name    string         `json:"name,omitempty"`
	Block   uint16         `json:"block"`
	Version int            `json:"version"`
	Kind    string         `json:"result"`
	Error   string         `json:"error,omitempty"`
	Record  *domain.Record `json:"record,omitempty"`
}

// Report summarizes a replay.
type Report struct {
	Total   int            `json:"total"`
	Decoded int            `json:"decoded"`
	Failed  int            `json:"failed"`
	ByKind  map[string]int `json:"failures_by_kind"`
	Results []Result       `json:"results"`
}

// Kinds returns the failure kinds in a stable order.
func (r *Report) Kinds() []string {
	kinds := make([]string, 0, len(r.ByKind))
	for k := range r.ByKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Runner replays captures through a decoder.
type Runner struct {
	decoder domain.BlockDecoder
	logger  zerolog.Logger
}

// NewRunner creates a runner.
func NewRunner(decoder domain.BlockDecoder) *Runner {
	return &Runner{
		decoder: decoder,
		logger:  log.With().Str("component", "replay").Logger(),
	}
}

// SetCustomLogger sets a custom logger for the runner.
func (r *Runner) SetCustomLogger(logger *zerolog.Logger) {
	if logger != nil {
		r.logger = logger.With().Str("component", "replay").Logger()
	}
}

// Run decodes every capture in order. A failing capture is counted and the
// replay carries on.
func (r *Runner) Run(captures []Capture) *Report {
	report := &Report{
		ByKind:  make(map[string]int),
		Results: make([]Result, 0, len(captures)),
	}
	negotiated := DefaultVersion

	for i, c := range captures {
		version := c.Version
		if version == 0 {
			version = negotiated
		}

		res := Result{Index: i, Name: c.Name, Block: c.Block, Version: version}
		rec, err := r.decoder.Decode(c.Block, version, c.Payload)
		res.Kind = codec.Kind(err)
		report.Total++

		if err != nil {
			res.Error = err.Error()
			report.Failed++
			report.ByKind[res.Kind]++
			r.logger.Warn().Err(err).Int("index", i).Uint16("block", c.Block).Msg("Capture failed to decode")
		} else {
			res.Record = rec
			report.Decoded++
			if c.Block == domain.BlockProtocolInfo {
				if v, err := rec.Fields.Int("protocol_version"); err == nil && v > 0 {
					negotiated = int(v)
				}
			}
		}
		report.Results = append(report.Results, res)
	}

	r.logger.Info().
		Int("total", report.Total).
		Int("decoded", report.Decoded).
		Int("failed", report.Failed).
		Msg("Replay completed")
	return report
}

// Run replays captures through decoder with the default logger.
func Run(decoder domain.BlockDecoder, captures []Capture) *Report {
	return NewRunner(decoder).Run(captures)
}
