// Package blob stores immutable content blobs and describes them with file
// handles. Wiki pages only ever hold handle ids.
package blob

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	MarkdownFileName    = "markdown.txt"
	MarkdownContentType = "text/plain; charset=utf-8"
)

type FileHandle struct {
	ID          string    `json:"id"`
	FileName    string    `json:"fileName"`
	ContentType string    `json:"contentType"`
	ContentSize int64     `json:"contentSize"`
	ContentMD5  string    `json:"contentMd5"`
	CreatedBy   int64     `json:"createdBy"`
	CreatedOn   time.Time `json:"createdOn"`
}

type PutInput struct {
	FileName    string
	ContentType string
	Data        []byte
	CreatedBy   int64
}

type Store interface {
	Put(ctx context.Context, in PutInput) (FileHandle, error)
	Stat(ctx context.Context, id string) (FileHandle, error)
	Open(ctx context.Context, id string) (io.ReadCloser, error)
	Delete(ctx context.Context, id string) error
}

// describe fills the size, checksum and content type of a new handle.
func describe(id string, in PutInput, now time.Time) FileHandle {
	sum := md5.Sum(in.Data)
	contentType := in.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(in.Data)
	}
	return FileHandle{
		ID:          id,
		FileName:    in.FileName,
		ContentType: contentType,
		ContentSize: int64(len(in.Data)),
		ContentMD5:  hex.EncodeToString(sum[:]),
		CreatedBy:   in.CreatedBy,
		CreatedOn:   now.UTC(),
	}
}

// PutMarkdown uploads page markdown as a plain-text blob.
func PutMarkdown(ctx context.Context, store Store, markdown string, createdBy int64) (FileHandle, error) {
	handle, err := store.Put(ctx, PutInput{
		FileName:    MarkdownFileName,
		ContentType: MarkdownContentType,
		Data:        []byte(markdown),
		CreatedBy:   createdBy,
	})
	if err != nil {
		return FileHandle{}, fmt.Errorf("put markdown: %w", err)
	}
	return handle, nil
}

func ReadMarkdown(ctx context.Context, store Store, id string) (string, error) {
	rc, err := store.Open(ctx, id)
	if err != nil {
		return "", fmt.Errorf("open markdown %s: %w", id, err)
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, rc); err != nil {
		return "", fmt.Errorf("read markdown %s: %w", id, err)
	}
	return buf.String(), nil
}
