package storage

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/dshills/devmemory/pkg/types"
)

const (
	// DefaultSearchLimit is used when a search asks for zero or fewer results
	DefaultSearchLimit = 5

	// SearchOversample is the candidate multiplier over the requested limit
	SearchOversample = 3

	// ProjectBoost is added to the similarity of records in the current project
	ProjectBoost = 0.1

	// RelevanceFloor is the minimum raw similarity a search result may have
	RelevanceFloor = 0.3

	// DedupThreshold is the similarity at or above which an upsert overwrites
	// an existing record instead of inserting
	DedupThreshold = 0.85

	// DedupCandidates bounds the near-duplicate lookup
	DedupCandidates = 5
)

// candidate is a record returned by a nearest-neighbour primitive together
// with its raw similarity to the query
type candidate struct {
	record     *types.Record
	similarity float64
}

// rank applies the project boost, the relevance floor, a deterministic sort
// and truncation. The floor is checked against raw similarity so a candidate
// below it can never be lifted into the results by the boost.
func rank(cands []candidate, currentProjectID int64, limit int) []*types.Record {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	type scored struct {
		candidate
		boosted float64
	}
	kept := make([]scored, 0, len(cands))
	for _, c := range cands {
		if c.record == nil || c.similarity < RelevanceFloor {
			continue
		}
		boosted := c.similarity
		if c.record.ProjectID == currentProjectID {
			boosted = math.Min(boosted+ProjectBoost, 1.0)
		}
		kept = append(kept, scored{candidate: c, boosted: boosted})
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].boosted != kept[j].boosted {
			return kept[i].boosted > kept[j].boosted
		}
		if kept[i].similarity != kept[j].similarity {
			return kept[i].similarity > kept[j].similarity
		}
		return kept[i].record.ID < kept[j].record.ID
	})

	if len(kept) > limit {
		kept = kept[:limit]
	}
	out := make([]*types.Record, len(kept))
	for i, k := range kept {
		rec := *k.record
		rec.Embedding = nil
		sim := k.boosted
		rec.Similarity = &sim
		out[i] = &rec
	}
	return out
}

// sortCandidates sorts candidates by similarity in descending order, ties by id
func sortCandidates(cands []candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].similarity != cands[j].similarity {
			return cands[i].similarity > cands[j].similarity
		}
		return cands[i].record.ID < cands[j].record.ID
	})
}

// bestCandidate returns the candidate with the highest raw similarity
func bestCandidate(cands []candidate) (candidate, bool) {
	if len(cands) == 0 {
		return candidate{}, false
	}
	best := cands[0]
	for _, c := range cands[1:] {
		if c.similarity > best.similarity ||
			(c.similarity == best.similarity && c.record.ID < best.record.ID) {
			best = c
		}
	}
	return best, true
}

// candidateCount is the neighbour count retrieved for a search, leaving
// room for the project boost to reorder
func candidateCount(limit int) int {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	return limit * SearchOversample
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice. libsql
// F32_BLOB values may carry one trailing type byte after the components.
func deserializeVector(blob []byte) ([]float32, error) {
	n := len(blob)
	if n%4 == 1 {
		n--
	}
	if n == 0 || n%4 != 0 {
		return nil, fmt.Errorf("invalid vector blob length %d", len(blob))
	}
	vector := make([]float32, n/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector, nil
}

// vectorLiteral formats a vector as the text form accepted by vector32()
func vectorLiteral(vector []float32) string {
	var sb strings.Builder
	sb.Grow(len(vector) * 12)
	sb.WriteByte('[')
	for i, v := range vector {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	sb.WriteByte(']')
	return sb.String()
}

// dot computes the dot product, which equals cosine similarity for unit vectors
func dot(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// normalize returns a unit-length copy of v
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		return out
	}
	norm := math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// prepareEmbedding validates and normalises an embedding supplied by a caller
func prepareEmbedding(v []float32) ([]float32, error) {
	if err := types.ValidateEmbedding(v); err != nil {
		return nil, err
	}
	return normalize(v), nil
}

// clampSimilarity keeps a derived similarity inside [0,1]
func clampSimilarity(s float64) float64 {
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	}
	return s
}
