package storage

import (
	"encoding/binary"
	"math"
	"strings"

	"github.com/dshills/recall-mcp/internal/tokenize"
)

// buildMatchQuery turns free text into an FTS5 MATCH expression. Every token
// is quoted so FTS5 operators and punctuation in the query are taken
// literally, and tokens are ORed so a chunk matching any term is a candidate.
// Returns "" when the query has no searchable terms.
func buildMatchQuery(query string) string {
	tokens := tokenize.Unique(query)
	if len(tokens) == 0 {
		return ""
	}

	quoted := make([]string, len(tokens))
	for i, tok := range tokens {
		quoted[i] = `"` + strings.ReplaceAll(tok, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " OR ")
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}
