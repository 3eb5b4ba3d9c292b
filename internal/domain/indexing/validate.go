package indexing

import (
	"fmt"
	"slices"

	"github.com/kailas-cloud/ragindex/internal/domain"
)

// SupportedFileTypes are accepted at upload.
var SupportedFileTypes = []domain.FileType{
	domain.FileTypeText, domain.FileTypeMarkdown, domain.FileTypePDF, domain.FileTypeDOCX,
}

func validateUpload(size int64, ft domain.FileType) *domain.StateValidationError {
	if size > domain.MaxFileSize {
		return &domain.StateValidationError{
			Stage:   string(Uploading),
			Code:    "file_too_large",
			Message: fmt.Sprintf("file size %d exceeds %d bytes", size, domain.MaxFileSize),
		}
	}
	if !slices.Contains(SupportedFileTypes, ft) {
		return &domain.StateValidationError{
			Stage:   string(Uploading),
			Code:    "unsupported_file_type",
			Message: fmt.Sprintf("file type %q is not supported", ft),
		}
	}
	return nil
}

func validateParsing(length int) *domain.StateValidationError {
	switch {
	case length < domain.MinContentLength:
		return &domain.StateValidationError{
			Stage:   string(Parsing),
			Code:    "content_too_short",
			Message: fmt.Sprintf("content has %d characters, need at least %d", length, domain.MinContentLength),
		}
	case length > domain.MaxContentLength:
		return &domain.StateValidationError{
			Stage:   string(Parsing),
			Code:    "content_too_long",
			Message: fmt.Sprintf("content has %d characters, limit is %d", length, domain.MaxContentLength),
		}
	}
	return nil
}

func validateChunking(n int) *domain.StateValidationError {
	if n < domain.MinChunkCount || n > domain.MaxChunkCount {
		return &domain.StateValidationError{
			Stage:   string(Chunking),
			Code:    "chunk_count_out_of_range",
			Message: fmt.Sprintf("produced %d chunks, allowed range is [%d, %d]", n, domain.MinChunkCount, domain.MaxChunkCount),
		}
	}
	return nil
}
