package vector

import (
	"strconv"
	"strings"
	"time"

	"github.com/kailas-cloud/ragindex/internal/db"
	"github.com/kailas-cloud/ragindex/internal/domain"
)

// Hash field names of a stored chunk.
const (
	fieldContent     = "__content"
	fieldVector      = "__vector"
	fieldChunkID     = "chunk_id"
	fieldNamespace   = "namespace"
	fieldOwnerID     = "owner_id"
	fieldSource      = "source"
	fieldFileType    = "file_type"
	fieldDeleted     = "deleted"
	fieldChunkIndex  = "chunk_index"
	fieldTotalChunks = "total_chunks"
	fieldUploadedAt  = "uploaded_at"
	fieldPage        = "page"
)

// Filterable field names for callers building filter expressions.
const (
	FieldSource     = fieldSource
	FieldFileType   = fieldFileType
	FieldDeleted    = fieldDeleted
	FieldChunkIndex = fieldChunkIndex
)

// returnFields is everything but the vector blob.
var returnFields = []string{
	fieldContent, fieldChunkID, fieldNamespace, fieldOwnerID, fieldSource, fieldFileType,
	fieldDeleted, fieldChunkIndex, fieldTotalChunks, fieldUploadedAt, fieldPage,
}

func toHash(ns string, rec *domain.VectorRecord) map[string]string {
	m := rec.Metadata
	fields := map[string]string{
		fieldContent:     rec.Content,
		fieldVector:      db.EncodeVector(rec.Vector),
		fieldChunkID:     rec.ID,
		fieldNamespace:   ns,
		fieldOwnerID:     m.OwnerID,
		fieldSource:      m.Source,
		fieldFileType:    string(m.FileType),
		fieldDeleted:     strconv.FormatBool(m.Deleted),
		fieldChunkIndex:  strconv.Itoa(m.ChunkIndex),
		fieldTotalChunks: strconv.Itoa(m.TotalChunks),
		fieldUploadedAt:  strconv.FormatInt(m.UploadedAt.UnixMilli(), 10),
	}
	// HSET never drops fields, so an absent page is written as "" to clear
	// one left by an earlier version of the chunk.
	fields[fieldPage] = ""
	if m.Page != nil {
		fields[fieldPage] = strconv.Itoa(*m.Page)
	}
	return fields
}

func fromEntry(prefix string, e *db.SearchEntry) domain.Match {
	f := e.Fields
	id := f[fieldChunkID]
	if id == "" {
		// key layout is {prefix}{ns}:{id}
		rest := strings.TrimPrefix(e.Key, prefix)
		if i := strings.IndexByte(rest, ':'); i >= 0 {
			id = rest[i+1:]
		}
	}

	meta := domain.ChunkMetadata{
		Source:      f[fieldSource],
		ChunkIndex:  atoi(f[fieldChunkIndex]),
		TotalChunks: atoi(f[fieldTotalChunks]),
		FileType:    domain.FileType(f[fieldFileType]),
		OwnerID:     f[fieldOwnerID],
		Deleted:     f[fieldDeleted] == "true",
	}
	if ms, err := strconv.ParseInt(f[fieldUploadedAt], 10, 64); err == nil {
		meta.UploadedAt = time.UnixMilli(ms).UTC()
	}
	if p, err := strconv.Atoi(f[fieldPage]); err == nil {
		meta.Page = &p
	}

	return domain.Match{
		ID:       id,
		Score:    e.Score,
		Content:  f[fieldContent],
		Metadata: meta,
	}
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
