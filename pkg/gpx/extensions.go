package gpx

import (
	"io"
)

// ExtractWithExtensions summarises the file at path and tallies the child
// elements of every point's TrackPointExtension block by local tag name
// (hr, cad, speed, ...). The document is read once.
func ExtractWithExtensions(path string) (*TrackSummary, map[string]int, error) {
	f, abs, err := openTrack(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	return ExtractWithExtensionsReader(f, abs)
}

// ExtractWithExtensionsReader is ExtractWithExtensions over an already open
// document.
func ExtractWithExtensionsReader(r io.Reader, path string) (*TrackSummary, map[string]int, error) {
	doc, err := decode(r, path)
	if err != nil {
		return nil, nil, err
	}
	summary, err := summarise(doc, path)
	if err != nil {
		return nil, nil, err
	}
	return summary, extensionCounts(doc), nil
}

func extensionCounts(doc *document) map[string]int {
	counts := make(map[string]int)
	for _, pt := range doc.points() {
		if pt.Extensions == nil {
			continue
		}
		for _, ext := range pt.Extensions.TrackPointExtensions {
			for _, child := range ext.Children {
				counts[child.XMLName.Local]++
			}
		}
	}
	return counts
}
