// Package fields holds the text utilities notes are stored and compared with:
// joining field values, stripping HTML for checksums and sort keys, and
// generating guids.
package fields

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Separator joins the fields of a note in its stored row.
const Separator = "\x1f"

// Join concatenates field values for storage.
func Join(values []string) string {
	return strings.Join(values, Separator)
}

// Split is the inverse of Join.
func Split(joined string) []string {
	return strings.Split(joined, Separator)
}

// Checksum returns the first 32 bits of the SHA-1 of s, used for fast
// duplicate lookups on the first field.
func Checksum(s string) int64 {
	sum := sha1.Sum([]byte(s))
	hexed := fmt.Sprintf("%x", sum)
	v, _ := strconv.ParseInt(hexed[:8], 16, 64)
	return v
}

// SortFieldAndChecksum returns the stripped sort field and the checksum of
// the stripped first field.
func SortFieldAndChecksum(values []string, sortIdx int) (string, int64) {
	first := ""
	if len(values) > 0 {
		first = StripHTMLMedia(values[0])
	}
	sortField := ""
	if sortIdx >= 0 && sortIdx < len(values) {
		sortField = StripHTMLMedia(values[sortIdx])
	}
	return sortField, Checksum(first)
}

const base91Table = "abcdefghijklmnopqrstuvwxyz" +
	"ABCDEFGHIJKLMNOPQRSTUVWXYZ" +
	"0123456789" +
	"!#$%&()*+,-./:;<=>?@[]^_`{|}~"

// Guid64 returns a short base-91 guid built from 64 random bits.
func Guid64() string {
	id := uuid.New()
	return base91(binary.BigEndian.Uint64(id[8:]))
}

func base91(v uint64) string {
	var buf []byte
	for {
		buf = append(buf, base91Table[v%91])
		v /= 91
		if v == 0 {
			break
		}
	}
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return string(buf)
}

// Normalize concatenates content parts after cleaning each one.
// It trims whitespace, lowercases, and normalizes line endings for each part
// before joining them.
func Normalize(parts ...string) string {
	cleaned := make([]string, len(parts))
	for i, part := range parts {
		p := strings.ToLower(part)
		p = strings.TrimSpace(p)
		p = strings.ReplaceAll(p, "\r\n", "\n")
		cleaned[i] = p
	}

	// Join with a newline so "question" and "answer" cannot run together.
	return strings.Join(cleaned, "\n")
}

// ContentHash normalizes the parts and returns their SHA-256 as hex. Imported
// notes use it as a stable guid.
func ContentHash(parts ...string) string {
	hashBytes := sha256.Sum256([]byte(Normalize(parts...)))
	return fmt.Sprintf("%x", hashBytes)
}
