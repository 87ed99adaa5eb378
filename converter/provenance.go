package converter

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/gzip"
	"github.com/valyala/fastjson"
)

const (
	// ProfileFileName is the name the profile is uploaded under.
	ProfileFileName = "profile.pprof"
	// ProvenanceFileName is the name the code provenance is uploaded under.
	ProvenanceFileName = "code-provenance.json.gz"
)

// Library is one entry of a code provenance document: a set of source paths
// and the package they belong to.
type Library struct {
	Kind    string   `json:"kind"`
	Name    string   `json:"name"`
	Version string   `json:"version"`
	Paths   []string `json:"paths"`
}

// CodeProvenance maps source paths to the libraries they come from, so that
// frames can be attributed to the application or to dependencies.
type CodeProvenance struct {
	V1 []Library `json:"v1"`
}

// Encode returns c as gzipped JSON, ready for upload.
func (c CodeProvenance) Encode() ([]byte, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshalling code provenance: %w", err)
	}
	return gzipBytes(raw)
}

// CompressProvenance checks that raw is a code provenance JSON document and
// returns it re-encoded and gzipped. Fields other than the known ones are
// dropped.
func CompressProvenance(raw []byte) ([]byte, error) {
	c, err := ParseProvenance(raw)
	if err != nil {
		return nil, err
	}
	return c.Encode()
}

// ParseProvenance reads a code provenance JSON document.
func ParseProvenance(raw []byte) (CodeProvenance, error) {
	v, err := fastjson.ParseBytes(raw)
	if err != nil {
		return CodeProvenance{}, fmt.Errorf("parsing code provenance: %w", err)
	}
	libs := v.Get("v1")
	if libs == nil {
		return CodeProvenance{}, fmt.Errorf("code provenance has no v1 section")
	}
	entries, err := libs.Array()
	if err != nil {
		return CodeProvenance{}, fmt.Errorf("code provenance v1 section: %w", err)
	}

	c := CodeProvenance{V1: make([]Library, 0, len(entries))}
	for i, entry := range entries {
		var fields [3]string
		for j, key := range []string{"kind", "name", "version"} {
			f := entry.Get(key)
			if typeOf(f) != fastjson.TypeString {
				return CodeProvenance{}, fmt.Errorf("code provenance entry %d: %q must be a string", i, key)
			}
			fields[j] = string(f.GetStringBytes())
		}
		paths := entry.Get("paths")
		if typeOf(paths) != fastjson.TypeArray {
			return CodeProvenance{}, fmt.Errorf("code provenance entry %d: \"paths\" must be an array", i)
		}
		lib := Library{Kind: fields[0], Name: fields[1], Version: fields[2], Paths: []string{}}
		for _, p := range paths.GetArray() {
			if typeOf(p) != fastjson.TypeString {
				return CodeProvenance{}, fmt.Errorf("code provenance entry %d: paths must be strings", i)
			}
			lib.Paths = append(lib.Paths, string(p.GetStringBytes()))
		}
		c.V1 = append(c.V1, lib)
	}
	return c, nil
}

func typeOf(v *fastjson.Value) fastjson.Type {
	if v == nil {
		return fastjson.TypeNull
	}
	return v.Type()
}

func gzipBytes(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("compressing: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compressing: %w", err)
	}
	return buf.Bytes(), nil
}
