// ABOUTME: Encrypted upload/download of media through the content repository
// ABOUTME: Envelope generation on upload, hash verification before decryption on download

package attachment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/crypto/attachment"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	// Image header decoders for width/height extraction.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

// MediaClient is the slice of the Matrix client used by the codec.
type MediaClient interface {
	UploadMedia(ctx context.Context, req mautrix.ReqUploadMedia) (*mautrix.RespMediaUpload, error)
	DownloadBytes(ctx context.Context, uri id.ContentURI) ([]byte, error)
}

// Upload is the result of pushing one file to the content repository. File
// is nil for plain (unencrypted) uploads; then URL alone addresses the blob.
type Upload struct {
	URI     id.ContentURI
	File    *event.EncryptedFileInfo
	MsgType event.MessageType
	Info    *event.FileInfo
	Name    string
}

// UploadFile reads a local file, encrypts it unless plain is set, uploads
// the (cipher)text, and returns the envelope needed to send or decrypt it.
// Encryption generates a fresh 256-bit AES-CTR key and random IV per file;
// the envelope hash covers the ciphertext.
func UploadFile(ctx context.Context, client MediaClient, path string, plain bool) (*Upload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	mimeType := DetectMime(data, path)
	info := &event.FileInfo{
		MimeType: mimeType,
		Size:     len(data),
	}
	msgType := MessageTypeFor(mimeType)
	if msgType == event.MsgImage {
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
			info.Width = cfg.Width
			info.Height = cfg.Height
		}
	}

	req := mautrix.ReqUploadMedia{
		ContentBytes: data,
		FileName:     filepath.Base(path),
		ContentType:  mimeType,
	}

	var file *event.EncryptedFileInfo
	if !plain {
		file = &event.EncryptedFileInfo{EncryptedFile: *attachment.NewEncryptedFile()}
		file.EncryptInPlace(data)
		req.ContentBytes = data
		// The repository stores opaque ciphertext; the real type travels
		// in the event info.
		req.ContentType = "application/octet-stream"
	}

	resp, err := client.UploadMedia(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("uploading %s: %w", path, err)
	}

	if file != nil {
		file.URL = resp.ContentURI.CUString()
	}
	return &Upload{
		URI:     resp.ContentURI,
		File:    file,
		MsgType: msgType,
		Info:    info,
		Name:    filepath.Base(path),
	}, nil
}

// Download fetches a blob, verifies and decrypts it when an envelope is
// present, and writes it into dir under the given name. The envelope hash
// is checked against the ciphertext before any plaintext is produced; a
// partial or failed write never leaves a file behind. The file's mtime is
// set to the event's server timestamp.
func Download(ctx context.Context, client MediaClient, uri id.ContentURI, file *event.EncryptedFileInfo, dir, name string, ts time.Time) (string, error) {
	data, err := client.DownloadBytes(ctx, uri)
	if err != nil {
		return "", fmt.Errorf("downloading %s: %w", uri.String(), err)
	}

	if file != nil {
		// Re-serialize the envelope: one that just performed an encryption
		// caches its decoded keys without the hash, and decrypting through
		// it would fail hash verification.
		fresh, err := reparseEnvelope(file)
		if err != nil {
			return "", fmt.Errorf("envelope for %s: %w", uri.String(), err)
		}
		if err := fresh.PrepareForDecryption(); err != nil {
			return "", fmt.Errorf("envelope for %s: %w", uri.String(), err)
		}
		if err := fresh.DecryptInPlace(data); err != nil {
			return "", fmt.Errorf("decrypting %s: %w", uri.String(), err)
		}
	}

	dest := UniquePath(dir, name)
	tmp := dest + ".part-" + uuid.NewString()[:8]
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("writing %s: %w", dest, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("placing %s: %w", dest, err)
	}
	if !ts.IsZero() {
		if err := os.Chtimes(dest, ts, ts); err != nil {
			return dest, fmt.Errorf("setting mtime on %s: %w", dest, err)
		}
	}
	return dest, nil
}

// reparseEnvelope round-trips the envelope through JSON, yielding a copy
// with no cached key state.
func reparseEnvelope(file *event.EncryptedFileInfo) (*event.EncryptedFileInfo, error) {
	raw, err := json.Marshal(file)
	if err != nil {
		return nil, err
	}
	fresh := &event.EncryptedFileInfo{}
	if err := json.Unmarshal(raw, fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}

// DetectMime sniffs the content type from the payload, falling back to the
// file extension when sniffing yields only a generic type.
func DetectMime(data []byte, path string) string {
	sniffed := http.DetectContentType(data)
	if sniffed == "application/octet-stream" || strings.HasPrefix(sniffed, "text/plain") {
		if byExt := mime.TypeByExtension(filepath.Ext(path)); byExt != "" {
			// Strip parameters such as charset.
			if i := strings.Index(byExt, ";"); i >= 0 {
				byExt = byExt[:i]
			}
			return byExt
		}
	}
	if i := strings.Index(sniffed, ";"); i >= 0 {
		sniffed = sniffed[:i]
	}
	return sniffed
}

// MessageTypeFor maps a MIME type onto the Matrix message type.
func MessageTypeFor(mimeType string) event.MessageType {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return event.MsgImage
	case strings.HasPrefix(mimeType, "audio/"):
		return event.MsgAudio
	case strings.HasPrefix(mimeType, "video/"):
		return event.MsgVideo
	default:
		return event.MsgFile
	}
}
