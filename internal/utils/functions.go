package utils

import (
	"fmt"
	"io/fs"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

func GetRandomUserAgent() string {
	return userAgents[time.Now().UnixNano()%int64(len(userAgents))]
}

// RenewOutputPath appends "-(n)" before the extension until taken reports false.
func RenewOutputPath(outputPath string, taken func(string) bool) string {
	dir := filepath.Dir(outputPath)
	base := filepath.Base(outputPath)
	ext := filepath.Ext(base)
	name := base[:len(base)-len(ext)]
	index := 1
	for {
		outputPath = filepath.Join(dir, fmt.Sprintf("%s-(%d)%s", name, index, ext))
		if !taken(outputPath) {
			return outputPath
		}
		index++
	}
}

func ParseHeaderArgs(headers []string) map[string]string {
	result := make(map[string]string)
	for _, header := range headers {
		parts := strings.SplitN(header, ":", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])
			if key != "" {
				result[key] = value
			}
		}
	}
	return result
}

// SanitizeFileName replaces characters that are illegal on common file systems
// and returns "" when nothing usable is left.
func SanitizeFileName(raw string) string {
	name := illegalNameRegex.ReplaceAllString(raw, "_")
	name = spaceRunRegex.ReplaceAllString(name, "_")
	name = underscoreRunRegex.ReplaceAllString(name, "_")
	if strings.Trim(name, "._") == "" {
		return ""
	}
	return name
}

// DeriveFileName picks a local name for rawURL: the last path segment, or the
// first query value when the path ends in "/". Returns "" when neither is safe.
func DeriveFileName(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	segments := strings.Split(parsed.Path, "/")
	if name := SanitizeFileName(segments[len(segments)-1]); name != "" {
		return name
	}
	if parsed.RawQuery == "" {
		return ""
	}
	first, _, _ := strings.Cut(parsed.RawQuery, "&")
	_, value, found := strings.Cut(first, "=")
	if !found {
		return ""
	}
	if unescaped, err := url.QueryUnescape(value); err == nil {
		value = unescaped
	}
	return SanitizeFileName(filepath.Base(filepath.ToSlash(value)))
}

// ContentDispositionName extracts the file name advertised by a
// Content-Disposition header value.
func ContentDispositionName(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	if fn, ok := params["filename"]; ok && fn != "" {
		return SanitizeFileName(filepath.Base(fn))
	}
	// mime decodes RFC 2231 values into "filename"; this covers raw leftovers
	if fn, ok := params["filename*"]; ok && strings.HasPrefix(fn, "UTF-8''") {
		unescaped, _ := url.PathUnescape(strings.TrimPrefix(fn, "UTF-8''"))
		return SanitizeFileName(filepath.Base(unescaped))
	}
	return ""
}

func GenerateFileName() string {
	return "file_" + uuid.NewString()
}

// CleanPartials removes leftover part files below dir and returns how many were deleted.
func CleanPartials(dir string) (int, error) {
	removed := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), PartSuffix) {
			return nil
		}
		if err := os.Remove(path); err != nil {
			return err
		}
		removed++
		return nil
	})
	return removed, err
}
