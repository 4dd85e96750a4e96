// Package storage persists uploaded moderation files and hands back an
// opaque reference that is stored on the moderation record.
//
// Two backends exist: LocalStore writes below a directory on disk and
// S3Store uploads to a bucket. Both lay keys out as
// "moderation_uploads/YYYY/MM/DD/<uuid><ext>".
package storage

import (
	"context"
	"io"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store saves an upload and returns its reference. Exists reports whether
// ref names an upload this store produced and still holds; malformed
// references report false without touching the backend.
type Store interface {
	Save(ctx context.Context, filename, contentType string, r io.Reader) (string, error)
	Exists(ctx context.Context, ref string) (bool, error)
}

// KeyPrefix is the top-level folder for moderation uploads.
const KeyPrefix = "moderation_uploads"

// keyPattern matches keys built by newKey.
var keyPattern = regexp.MustCompile(`^` + KeyPrefix +
	`/\d{4}/\d{2}/\d{2}/[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}(\.[a-z0-9]{1,9})?$`)

// ValidKey reports whether key has the shape of a generated upload key.
func ValidKey(key string) bool { return keyPattern.MatchString(key) }

// nowUTC is swapped in tests.
var nowUTC = func() time.Time { return time.Now().UTC() }

// newKey builds a dated, collision-free object key that keeps a sanitized
// extension from the client filename.
func newKey(filename string) string {
	now := nowUTC()
	return path.Join(KeyPrefix, now.Format("2006/01/02"), uuid.NewString()+cleanExt(filename))
}

func cleanExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	if len(ext) < 2 || len(ext) > 10 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}
