package server

import (
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
)

// handleDownload redirects to a remote image with an attachment disposition,
// so the browser saves it under a local name instead of tripping over
// cross-origin download restrictions.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		http.Error(w, "invalid download url", http.StatusBadRequest)
		return
	}

	name := sanitizeFilename(r.URL.Query().Get("filename"))
	if name == "" {
		name = "download"
	}
	ext := path.Ext(u.Path)
	if ext != "" && !strings.HasSuffix(strings.ToLower(name), strings.ToLower(ext)) {
		name += ext
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.Redirect(w, r, target, http.StatusFound)
}

// reservedFilenameChars are path separators and characters most filesystems
// refuse in names.
const reservedFilenameChars = `/\<>:"|?*`

// sanitizeFilename strips path separators, reserved filesystem characters,
// control characters, and trailing dots.
func sanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r < 0x20 || strings.ContainsRune(reservedFilenameChars, r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimRight(strings.TrimSpace(b.String()), ".")
}
