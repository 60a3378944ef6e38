// Package binary models the host's binary attachments: base64 payload plus file metadata.
package binary

import (
	"encoding/base64"
	"errors"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
)

var ErrEmpty = errors.New("binary data is empty")

type Data struct {
	Data          string `json:"data"`
	MimeType      string `json:"mimeType"`
	FileName      string `json:"fileName,omitempty"`
	FileExtension string `json:"fileExtension,omitempty"`
	FileSize      string `json:"fileSize,omitempty"`
}

func Prepare(data []byte, fileName, mimeType string) Data {
	return Data{
		Data:          base64.StdEncoding.EncodeToString(data),
		MimeType:      mimeType,
		FileName:      fileName,
		FileExtension: strings.TrimPrefix(filepath.Ext(fileName), "."),
		FileSize:      humanize.Bytes(uint64(len(data))),
	}
}

func (d Data) Bytes() ([]byte, error) {
	if d.Data == "" {
		return nil, ErrEmpty
	}
	return base64.StdEncoding.DecodeString(d.Data)
}
