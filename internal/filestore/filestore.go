// Package filestore implements the hybrid inline/disk byte store for
// project file content, plus path validation and MIME detection.
package filestore

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// DefaultInlineThreshold is the hybrid storage cut-over: content strictly
// below it is returned inline, content at or above it is written to disk.
const DefaultInlineThreshold = 1 << 20 // 1 MiB

// PathError describes an invalid externally supplied file path.
type PathError struct {
	Path   string
	Reason string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("invalid path %q: %s", e.Path, e.Reason)
}

// FileStore stores file bytes either inline (small) or as blobs under an
// opaque directory (large).
type FileStore struct {
	blobDir   string
	threshold int64
}

// PutResult describes where content ended up after a Put.
type PutResult struct {
	// InlineText holds the content when it fits under the threshold.
	InlineText string
	// Location is the blob handle for over-threshold content.
	Location string
	// Hash is the SHA-256 hex digest over the exact bytes.
	Hash string
	// Size is the content length in bytes.
	Size int64
}

// New creates a file store writing blobs under blobDir. threshold <= 0
// selects DefaultInlineThreshold.
func New(blobDir string, threshold int64) (*FileStore, error) {
	if blobDir == "" {
		return nil, fmt.Errorf("blob directory is required")
	}
	if threshold <= 0 {
		threshold = DefaultInlineThreshold
	}
	if err := os.MkdirAll(blobDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &FileStore{blobDir: blobDir, threshold: threshold}, nil
}

// Put stores content. Below the threshold it is returned inline; at or
// above it is written to a blob file under a random 32-hex name.
func (fs *FileStore) Put(content []byte) (*PutResult, error) {
	result := &PutResult{
		Hash: HashBytes(content),
		Size: int64(len(content)),
	}

	if result.Size < fs.threshold {
		result.InlineText = string(content)
		return result, nil
	}

	name, err := randomBlobName()
	if err != nil {
		return nil, err
	}
	location := filepath.Join(fs.blobDir, name)
	if err := os.WriteFile(location, content, 0o640); err != nil {
		return nil, fmt.Errorf("failed to write blob: %w", err)
	}
	result.Location = location
	return result, nil
}

// Get resolves content: inline text wins, otherwise the blob at location
// is read.
func (fs *FileStore) Get(inlineText, location string) ([]byte, error) {
	if inlineText != "" {
		return []byte(inlineText), nil
	}
	if location == "" {
		return nil, fmt.Errorf("no content: neither inline text nor location set")
	}
	content, err := os.ReadFile(location)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", location, err)
	}
	return content, nil
}

// Delete unlinks a blob. A missing file is not an error; inline-only files
// have no blob and pass an empty location.
func (fs *FileStore) Delete(location string) error {
	if location == "" {
		return nil
	}
	if err := os.Remove(location); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob %s: %w", location, err)
	}
	return nil
}

// ValidatePath checks an externally supplied relative path and returns its
// normalised form. Rejected: empty paths, absolute paths, and any ".."
// segment before or after normalisation.
func ValidatePath(p string) (string, error) {
	if p == "" {
		return "", &PathError{Path: p, Reason: "path is empty"}
	}
	slashed := filepath.ToSlash(p)
	if strings.HasPrefix(slashed, "/") {
		return "", &PathError{Path: p, Reason: "absolute paths are not allowed"}
	}
	if hasDotDotSegment(slashed) {
		return "", &PathError{Path: p, Reason: "path traversal is not allowed"}
	}
	cleaned := path.Clean(slashed)
	if cleaned == "." || cleaned == "" {
		return "", &PathError{Path: p, Reason: "path resolves to nothing"}
	}
	if strings.HasPrefix(cleaned, "/") || hasDotDotSegment(cleaned) {
		return "", &PathError{Path: p, Reason: "path traversal is not allowed"}
	}
	return cleaned, nil
}

func hasDotDotSegment(p string) bool {
	for _, segment := range strings.Split(p, "/") {
		if segment == ".." {
			return true
		}
	}
	return false
}

// HashBytes returns the SHA-256 hex digest of content.
func HashBytes(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// randomBlobName returns a random 32-hex blob filename.
func randomBlobName() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("failed to generate blob name: %w", err)
	}
	return hex.EncodeToString(buf[:]), nil
}
