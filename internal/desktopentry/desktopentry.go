// Package desktopentry extracts display metadata from .desktop files.
package desktopentry

import (
	"bufio"
	"bytes"
	"strings"

	"github.com/novik133/novasearch/internal/models"
)

// maxEntryBytes bounds how much of a .desktop file is read. Real entries
// are a few hundred bytes; anything larger is truncated, not rejected.
const maxEntryBytes = 64 * 1024

// Parse extracts the keys the index stores from the [Desktop Entry]
// group of raw .desktop content. Localized variants (Name[de]=...) are
// skipped in favor of the plain key. A file without a [Desktop Entry]
// group yields ok=false and is indexed as a plain file.
func Parse(data []byte) (models.DesktopEntry, bool) {
	if len(data) > maxEntryBytes {
		data = data[:maxEntryBytes]
	}

	var de models.DesktopEntry
	inEntry := false
	found := false

	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			inEntry = line == "[Desktop Entry]"
			if inEntry {
				found = true
			}
			continue
		}
		if !inEntry {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if strings.Contains(key, "[") {
			continue // localized variant
		}

		switch key {
		case "Name":
			de.Name = value
		case "GenericName":
			de.GenericName = value
		case "Comment":
			de.Comment = value
		case "Exec":
			de.Exec = value
		case "Icon":
			de.Icon = value
		case "NoDisplay":
			de.NoDisplay = strings.EqualFold(value, "true")
		}
	}

	return de, found && de.Name != ""
}
