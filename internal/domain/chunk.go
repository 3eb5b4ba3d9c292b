package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// FileType is the declared format of an uploaded document.
type FileType string

const (
	// FileTypeText is plain text.
	FileTypeText FileType = "txt"
	// FileTypeMarkdown is markdown.
	FileTypeMarkdown FileType = "md"
	// FileTypePDF is a PDF document (text extracted upstream).
	FileTypePDF FileType = "pdf"
	// FileTypeDOCX is a Word document (text extracted upstream).
	FileTypeDOCX FileType = "docx"
)

// ParseFileType normalizes an extension or MIME-ish name into a FileType.
func ParseFileType(s string) (FileType, bool) {
	switch strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), ".") {
	case "txt", "text", "text/plain":
		return FileTypeText, true
	case "md", "markdown", "text/markdown":
		return FileTypeMarkdown, true
	case "pdf", "application/pdf":
		return FileTypePDF, true
	case "docx", "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return FileTypeDOCX, true
	}
	return "", false
}

// ownerIDPattern bounds owner ids to characters safe in keys and tag filters.
var ownerIDPattern = regexp.MustCompile(`^[A-Za-z0-9_\-]{1,128}$`)

// ValidateOwnerID checks that an owner id is well-formed.
func ValidateOwnerID(ownerID string) error {
	if !ownerIDPattern.MatchString(ownerID) {
		return NewValidationError("owner_id", "invalid_owner_id", "must match [A-Za-z0-9_-]{1,128}")
	}
	return nil
}

// Namespace returns the isolation partition of an owner.
func Namespace(ownerID string) string {
	return "user_" + ownerID
}

// ChunkID builds the deterministic id of a chunk.
func ChunkID(ownerID, filename string, chunkIndex int) string {
	return ownerID + "_" + filename + "_" + strconv.Itoa(chunkIndex)
}

// ChunkMetadata is stored alongside every chunk vector.
type ChunkMetadata struct {
	Source      string    `json:"source"`
	ChunkIndex  int       `json:"chunkIndex"`
	TotalChunks int       `json:"totalChunks"`
	FileType    FileType  `json:"fileType"`
	UploadedAt  time.Time `json:"uploadedAt"`
	OwnerID     string    `json:"ownerId"`
	Deleted     bool      `json:"deleted"`
	Page        *int      `json:"page,omitempty"`
}

// DocumentChunk is a unit of stored knowledge.
type DocumentChunk struct {
	ID       string
	Content  string
	Metadata ChunkMetadata
}

// Validate checks the chunk index invariant.
func (c *DocumentChunk) Validate() error {
	m := c.Metadata
	if m.TotalChunks <= 0 || m.ChunkIndex < 0 || m.ChunkIndex >= m.TotalChunks {
		return fmt.Errorf("chunk %s: index %d out of range [0,%d): %w",
			c.ID, m.ChunkIndex, m.TotalChunks, ErrValidation)
	}
	return nil
}
