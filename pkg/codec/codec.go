// Package codec implements the Résumé Codec described in spec.md §4.3: a
// deterministic, size-bounded encoding of a résumé into the
// DM_ENTITY.résumé_hash column, with a matching decoder.
package codec

import (
	"bytes"
	"compress/flate"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/senzing-garage/g2-replicator/pkg/resume"
)

// Form identifies which of the three encodings produced a blob.
type Form string

const (
	// FormPlain is an un-compressed CSV token row.
	FormPlain Form = "str"
	// FormZip is a raw-deflate-compressed CSV token row.
	FormZip Form = "zip"
	// FormSha is a one-way SHA-256 digest; decoding it requires a rebuild
	// from the datamart tables.
	FormSha Form = "sha"
)

// shaMarker prefixes the one-way form.
const shaMarker = "~sha~"

// DefaultCap is the default bound L from spec.md §4.3.
const DefaultCap = 250

// Codec encodes/decodes résumés with a configurable size cap L.
type Codec struct {
	Cap int
}

// New returns a Codec with the given cap, or DefaultCap if cap <= 0.
func New(cap int) *Codec {
	if cap <= 0 {
		cap = DefaultCap
	}
	return &Codec{Cap: cap}
}

// tokens builds the sorted token list described in spec.md §4.3.
func tokens(r resume.Resume) []string {
	var out []string
	for _, ds := range r.DataSources() {
		out = append(out, "~d~", ds)
		out = append(out, r.RecordIDs(ds)...)
	}
	for _, relatedID := range r.RelatedIDs() {
		rel := r.RelationSummary[relatedID]
		out = append(out, "~r~",
			strconv.FormatInt(relatedID, 10),
			strconv.Itoa(rel.MatchLevel),
			rel.MatchKey,
			string(rel.MatchCategory),
		)
		sources := append([]string(nil), rel.DataSources...)
		sort.Strings(sources)
		out = append(out, sources...)
	}
	return out
}

func encodeCSV(toks []string) (string, error) {
	if len(toks) == 0 {
		return "", nil
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.UseCRLF = false
	if err := w.Write(toks); err != nil {
		return "", fmt.Errorf("codec: encoding tokens: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

func decodeCSV(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	r := csv.NewReader(strings.NewReader(s))
	rec, err := r.Read()
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("codec: decoding tokens: %w", err)
	}
	return rec, nil
}

// Encode serializes r into the most compact lossless-if-possible form that
// fits within c.Cap bytes, falling back to a one-way SHA-256 digest.
func (c *Codec) Encode(r resume.Resume) (string, Form, error) {
	toks := tokens(r)
	plain, err := encodeCSV(toks)
	if err != nil {
		return "", "", err
	}
	if len(plain) <= c.Cap {
		return plain, FormPlain, nil
	}

	compressed, err := deflate(plain)
	if err != nil {
		return "", "", err
	}
	if len(compressed) <= c.Cap && (len(compressed) == 0 || compressed[0] != '~') {
		return string(compressed), FormZip, nil
	}

	sum := sha256.Sum256([]byte(plain))
	return shaMarker + hex.EncodeToString(sum[:]), FormSha, nil
}

// Decode reverses Encode for the plain and zip forms. For the sha form it
// returns (nil, FormSha, nil): the caller must rebuild the résumé from the
// datamart's Record/Relation tables (spec.md §4.2 step 4).
func (c *Codec) Decode(blob string) (tokens []string, form Form, err error) {
	switch {
	case strings.HasPrefix(blob, shaMarker):
		return nil, FormSha, nil
	case strings.HasPrefix(blob, "~") || blob == "":
		toks, err := decodeCSV(blob)
		return toks, FormPlain, err
	default:
		plain, err := inflate([]byte(blob))
		if err != nil {
			return nil, "", fmt.Errorf("codec: inflating blob: %w", err)
		}
		toks, err := decodeCSV(plain)
		return toks, FormZip, err
	}
}

func deflate(s string) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write([]byte(s)); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func inflate(b []byte) (string, error) {
	r := flate.NewReader(bytes.NewReader(b))
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// ParseTokens reconstructs a résumé's RecordSummary and RelationSummary
// maps from a decoded token list (entity id and name are not encoded in
// the résumé hash and must be supplied by the caller).
func ParseTokens(toks []string) (records map[string][]string, relations map[int64]resume.Relation, err error) {
	records = map[string][]string{}
	relations = map[int64]resume.Relation{}

	isMarker := func(t string) (string, bool) {
		if len(t) == 3 && t[0] == '~' && t[2] == '~' {
			return string(t[1]), true
		}
		return "", false
	}

	i := 0
	for i < len(toks) {
		marker, ok := isMarker(toks[i])
		if !ok {
			return nil, nil, fmt.Errorf("codec: expected section marker at token %d, got %q", i, toks[i])
		}
		i++
		switch marker {
		case "d":
			if i >= len(toks) {
				return nil, nil, fmt.Errorf("codec: truncated data-source section")
			}
			ds := toks[i]
			i++
			var ids []string
			for i < len(toks) {
				if _, ok := isMarker(toks[i]); ok {
					break
				}
				ids = append(ids, toks[i])
				i++
			}
			records[ds] = ids
		case "r":
			if i+3 >= len(toks) {
				return nil, nil, fmt.Errorf("codec: truncated relation section")
			}
			relatedID, err := strconv.ParseInt(toks[i], 10, 64)
			if err != nil {
				return nil, nil, fmt.Errorf("codec: parsing related id: %w", err)
			}
			matchLevel, err := strconv.Atoi(toks[i+1])
			if err != nil {
				return nil, nil, fmt.Errorf("codec: parsing match level: %w", err)
			}
			matchKey := toks[i+2]
			matchCategory := resume.MatchCategory(toks[i+3])
			i += 4
			var sources []string
			for i < len(toks) {
				if _, ok := isMarker(toks[i]); ok {
					break
				}
				sources = append(sources, toks[i])
				i++
			}
			relations[relatedID] = resume.Relation{
				RelatedID:     relatedID,
				MatchLevel:    matchLevel,
				MatchKey:      matchKey,
				MatchCategory: matchCategory,
				DataSources:   sources,
			}
		default:
			return nil, nil, fmt.Errorf("codec: unknown section marker %q", marker)
		}
	}
	return records, relations, nil
}
