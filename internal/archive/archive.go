// Copyright 2018-2023 CERN
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// In applying this license, CERN does not waive the privileges and immunities
// granted to it by virtue of its status as an Intergovernmental Organization
// or submit itself to any jurisdiction.

// Package archive reads and rewrites the zip archives
// uploaded as extension versions.
//
// An archive can store in its root a special file named
// `metadata.json`, describing the extension.
// This file is a JSON object with free-form keys, where
// the following ones are reserved:
//   - "name":        name of the extension
//   - "description": description of the extension
//   - "url":         homepage of the extension
//   - "uuid":        globally unique identifier of the extension
//
// When a version is accepted, the manifest in the stored
// archive is regenerated from the data of the extension.
package archive

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/cs3org/sweettooth/internal/errtypes"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ManifestName is the name of the manifest entry in the archive.
const ManifestName = "metadata.json"

// GeneratedMarker is the value of the `_generated` key
// written in the regenerated manifests.
const GeneratedMarker = "Generated by SweetTooth, do not edit"

// Reserved keys of the manifest.
const (
	FieldName        = "name"
	FieldDescription = "description"
	FieldURL         = "url"
	FieldUUID        = "uuid"
	FieldGenerated   = "_generated"
)

var reserved = []string{FieldName, FieldDescription, FieldURL, FieldUUID, FieldGenerated}

// Metadata is the content of a manifest.
type Metadata map[string]any

// String returns the value of key if it is a string,
// and an empty string otherwise.
func (m Metadata) String(key string) string {
	s, _ := m[key].(string)
	return s
}

// Has returns true if the key is set in the metadata.
func (m Metadata) Has(key string) bool {
	_, ok := m[key]
	return ok
}

// Extra returns a copy of the metadata without the reserved keys.
func (m Metadata) Extra() Metadata {
	extra := make(Metadata, len(m))
	for k, v := range m {
		extra[k] = v
	}
	for _, k := range reserved {
		delete(extra, k)
	}
	return extra
}

// Identity holds the canonical fields of an extension,
// written in the regenerated manifest.
type Identity struct {
	Name        string
	Description string
	URL         string
	UUID        string
}

// Generate returns the manifest of a version, merging its
// extra fields with the canonical fields of the extension.
// Canonical fields always win over the extra ones.
func Generate(extra map[string]any, id Identity) Metadata {
	md := make(Metadata, len(extra)+5)
	for k, v := range extra {
		md[k] = v
	}
	md[FieldGenerated] = GeneratedMarker
	md[FieldName] = id.Name
	md[FieldDescription] = id.Description
	md[FieldURL] = id.URL
	md[FieldUUID] = id.UUID
	return md
}

// Encode serializes the metadata as a JSON object,
// with sorted keys and indented by two spaces.
func Encode(md Metadata) ([]byte, error) {
	var b bytes.Buffer
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(md); err != nil {
		return nil, err
	}
	return bytes.TrimRight(b.Bytes(), "\n"), nil
}

func openZip(r io.ReaderAt, size int64) (*zip.Reader, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, errtypes.InvalidArchive(err.Error())
	}
	return zr, nil
}

func findManifest(zr *zip.Reader) *zip.File {
	for _, f := range zr.File {
		if f.Name == ManifestName {
			return f
		}
	}
	return nil
}

// Extract reads the manifest stored in the archive.
// If the archive does not contain a manifest, an empty
// metadata is returned, meaning that defaults must be used.
// It fails with errtypes.InvalidArchive if the archive cannot
// be read and with errtypes.InvalidMetadata if the manifest
// is malformed.
func Extract(r io.ReaderAt, size int64) (Metadata, error) {
	zr, err := openZip(r, size)
	if err != nil {
		return nil, err
	}

	f := findManifest(zr)
	if f == nil {
		return Metadata{}, nil
	}

	rc, err := f.Open()
	if err != nil {
		return nil, errtypes.InvalidArchive(err.Error())
	}
	defer rc.Close()

	// read it all first, a corrupted entry must be reported
	// as a broken archive, not as a broken manifest
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, errtypes.InvalidArchive(err.Error())
	}
	return ParseMetadata(data)
}

// ExtractBytes is like Extract, reading the archive from memory.
func ExtractBytes(b []byte) (Metadata, error) {
	return Extract(bytes.NewReader(b), int64(len(b)))
}

// ParseMetadata parses the content of a manifest.
func ParseMetadata(data []byte) (Metadata, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, &errtypes.InvalidMetadata{Reason: "invalid JSON data"}
	}

	issues, err := validate(doc)
	if err != nil {
		return nil, err
	}
	if len(issues) != 0 {
		return nil, &errtypes.InvalidMetadata{Reason: "unexpected manifest content", Issues: issues}
	}

	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, &errtypes.InvalidMetadata{Reason: "manifest is not an object"}
	}
	return Metadata(obj), nil
}

// Rewrite copies the archive read from r into w, replacing
// the manifest with md. All the other entries are copied
// without being recompressed.
func Rewrite(r io.ReaderAt, size int64, w io.Writer, md Metadata) error {
	zr, err := openZip(r, size)
	if err != nil {
		return err
	}

	zw := zip.NewWriter(w)
	for _, f := range zr.File {
		if f.Name == ManifestName {
			continue
		}
		if err := zw.Copy(f); err != nil {
			return fmt.Errorf("error copying %s: %w", f.Name, err)
		}
	}

	data, err := Encode(md)
	if err != nil {
		return err
	}
	mw, err := zw.Create(ManifestName)
	if err != nil {
		return err
	}
	if _, err := mw.Write(data); err != nil {
		return err
	}
	return zw.Close()
}

// RewriteBytes is like Rewrite, working in memory.
func RewriteBytes(b []byte, md Metadata) ([]byte, error) {
	var out bytes.Buffer
	if err := Rewrite(bytes.NewReader(b), int64(len(b)), &out, md); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// ErrNoManifest is returned by ReadManifest when
// the archive does not contain a manifest.
var ErrNoManifest = errors.New("manifest not found")

// ReadManifest returns the raw content of the manifest.
func ReadManifest(b []byte) ([]byte, error) {
	zr, err := openZip(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return nil, err
	}
	f := findManifest(zr)
	if f == nil {
		return nil, ErrNoManifest
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
