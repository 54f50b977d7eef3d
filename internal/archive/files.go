package archive

import (
	"bytes"
	"encoding/base64"
	"io"
	"path"
	"strings"
)

var imageTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".svg":  "image/svg+xml",
}

// File is an entry of an archive, as shown to the reviewers.
// Images are returned as data URIs, everything else as raw text.
type File struct {
	Name    string `json:"filename"`
	Size    uint64 `json:"size"`
	Image   bool   `json:"image"`
	Content string `json:"raw"`
}

// Files lists the regular files stored in the archive, with their content.
func Files(b []byte) ([]File, error) {
	zr, err := openZip(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return nil, err
	}

	files := make([]File, 0, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		raw, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, err
		}

		file := File{Name: f.Name, Size: f.UncompressedSize64}
		if mime, ok := imageTypes[strings.ToLower(path.Ext(f.Name))]; ok {
			file.Image = true
			file.Content = "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(raw)
		} else {
			file.Content = string(raw)
		}
		files = append(files, file)
	}
	return files, nil
}
