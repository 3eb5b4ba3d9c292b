package valkey

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/ragindex/internal/db"
	"github.com/kailas-cloud/ragindex/internal/domain/filter"
)

const (
	defaultVectorField = "__vector"
	scoreField         = "__vector_score"
)

// SearchKNN runs a KNN vector similarity search via FT.SEARCH.
// Entries come back sorted by similarity, highest first.
func (s *Store) SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
	if q.IndexName == "" {
		return nil, fmt.Errorf("index name is required")
	}
	if len(q.Vector) == 0 {
		return nil, fmt.Errorf("vector is required")
	}
	if q.K <= 0 {
		return nil, fmt.Errorf("k must be positive")
	}

	vectorField := q.VectorField
	if vectorField == "" {
		vectorField = defaultVectorField
	}

	knn := fmt.Sprintf("[KNN %d @%s $BLOB AS %s]", q.K, vectorField, scoreField)
	query := "*=>" + knn
	if f := buildFilter(q.Filters); f != "" {
		query = "(" + f + ")=>" + knn
	}

	args := []string{q.IndexName, query}
	if len(q.ReturnFields) > 0 {
		args = append(args, "RETURN", strconv.Itoa(len(q.ReturnFields)+1))
		args = append(args, q.ReturnFields...)
		args = append(args, scoreField)
	}
	args = append(args,
		"LIMIT", "0", strconv.Itoa(q.K),
		"PARAMS", "2", "BLOB", db.EncodeVector(q.Vector),
		"DIALECT", "2",
	)

	cmd := s.b().Arbitrary("FT.SEARCH").Args(args...).Build()
	raw, err := s.do(ctx, cmd).ToArray()
	if err != nil {
		if isUnknownIndex(err) {
			return nil, db.ErrIndexNotFound
		}
		return nil, opError(db.OpSearch, err)
	}

	res, err := parseSearchResult(raw, true)
	if err != nil {
		return nil, err
	}
	for i := range res.Entries {
		e := &res.Entries[i]
		if d, err := strconv.ParseFloat(e.Fields[scoreField], 64); err == nil {
			e.Score = distanceToSimilarity(d)
		}
		delete(e.Fields, scoreField)
	}
	sort.SliceStable(res.Entries, func(i, j int) bool {
		return res.Entries[i].Score > res.Entries[j].Score
	})
	return res, nil
}

// SearchFiltered runs a filter-only paginated FT.SEARCH.
func (s *Store) SearchFiltered(ctx context.Context, q *db.ListQuery) (*db.SearchResult, error) {
	if q.IndexName == "" {
		return nil, fmt.Errorf("index name is required")
	}
	if q.Limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}

	query := buildFilter(q.Filters)
	if query == "" {
		query = "*"
	}

	args := []string{q.IndexName, query}
	if q.NoContent {
		args = append(args, "NOCONTENT")
	} else if len(q.ReturnFields) > 0 {
		args = append(args, "RETURN", strconv.Itoa(len(q.ReturnFields)))
		args = append(args, q.ReturnFields...)
	}
	args = append(args, "LIMIT", strconv.Itoa(q.Offset), strconv.Itoa(q.Limit), "DIALECT", "2")

	cmd := s.b().Arbitrary("FT.SEARCH").Args(args...).Build()
	raw, err := s.do(ctx, cmd).ToArray()
	if err != nil {
		if isUnknownIndex(err) {
			return nil, db.ErrIndexNotFound
		}
		return nil, opError(db.OpSearch, err)
	}

	return parseSearchResult(raw, !q.NoContent)
}

// distanceToSimilarity converts cosine distance in [0, 2] to similarity in [-1, 1].
func distanceToSimilarity(d float64) float64 {
	return min(1, max(-1, 1-d))
}

// parseSearchResult reads [total, key1, fields1, key2, fields2, ...], or
// [total, key1, key2, ...] when withFields is false.
func parseSearchResult(raw []rueidis.RedisMessage, withFields bool) (*db.SearchResult, error) {
	if len(raw) == 0 {
		return &db.SearchResult{}, nil
	}

	total, err := raw[0].AsInt64()
	if err != nil {
		return nil, fmt.Errorf("parse total: %w", err)
	}

	stride := 1
	if withFields {
		stride = 2
	}

	entries := make([]db.SearchEntry, 0, (len(raw)-1)/stride)
	for i := 1; i+stride-1 < len(raw); i += stride {
		key, err := raw[i].ToString()
		if err != nil {
			continue
		}
		entry := db.SearchEntry{Key: key}
		if withFields {
			fields, err := raw[i+1].ToArray()
			if err != nil {
				continue
			}
			entry.Fields = parseFieldPairs(fields)
		}
		entries = append(entries, entry)
	}

	return &db.SearchResult{Total: int(total), Entries: entries}, nil
}

func parseFieldPairs(fields []rueidis.RedisMessage) map[string]string {
	m := make(map[string]string, len(fields)/2)
	for j := 0; j+1 < len(fields); j += 2 {
		name, err := fields[j].ToString()
		if err != nil {
			continue
		}
		value, err := fields[j+1].ToString()
		if err != nil {
			continue
		}
		m[name] = value
	}
	return m
}

// buildFilter translates a filter.Expression into an FT.SEARCH query string.
func buildFilter(expr filter.Expression) string {
	if expr.IsEmpty() {
		return ""
	}

	parts := make([]string, 0, len(expr.Must())+len(expr.MustNot()))
	for _, cond := range expr.Must() {
		parts = append(parts, buildCondition(cond))
	}
	for _, cond := range expr.MustNot() {
		parts = append(parts, "-"+buildCondition(cond))
	}
	return strings.Join(parts, " ")
}

func buildCondition(cond filter.Condition) string {
	if cond.IsRange() {
		return buildNumericFilter(cond.Key(), *cond.Range())
	}
	return fmt.Sprintf("@%s:{%s}", cond.Key(), escapeTag(cond.Match()))
}

func buildNumericFilter(key string, r filter.Range) string {
	lo, hi := "-inf", "+inf"

	if r.GT() != nil {
		lo = "(" + formatNum(*r.GT())
	} else if r.GTE() != nil {
		lo = formatNum(*r.GTE())
	}
	if r.LT() != nil {
		hi = "(" + formatNum(*r.LT())
	} else if r.LTE() != nil {
		hi = formatNum(*r.LTE())
	}

	return fmt.Sprintf("@%s:[%s %s]", key, lo, hi)
}

func formatNum(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// escapeTag backslash-escapes every punctuation and whitespace rune of a tag value.
func escapeTag(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) * 2)
	for _, r := range s {
		if strings.ContainsRune(tagSpecials, r) {
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

const tagSpecials = ",.<>{}[]\"':;!@#$%^&*()-+=~|/\\ \t"

