package models

import (
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/lanbeam/lanbeam/internal/utils"
)

// FileTimestamps carries optional file timestamp information.
type FileTimestamps struct {
	Modified string `json:"modified,omitempty"`
	Accessed string `json:"accessed,omitempty"`
}

type FileMeta struct {
	Id         string          `json:"id"`
	Filename   string          `json:"fileName"`
	Size       int64           `json:"size"`
	FileMIME   string          `json:"fileType"`
	Checksum   string          `json:"sha256,omitempty"`
	Preview    string          `json:"preview,omitempty"`
	Timestamps *FileTimestamps `json:"metadata,omitempty"`
	FullPath   string          `json:"-"`
	Token      string          `json:"-"` // receiver-side upload token, never serialized
}

func GenFileMeta(fpath string) (FileMeta, error) {
	fd, err := os.Stat(fpath)
	if err != nil {
		return FileMeta{}, err
	}

	checksum, err := utils.SHA256ofFile(fpath)
	if err != nil {
		return FileMeta{}, err
	}

	fileType := mime.TypeByExtension(filepath.Ext(fpath))
	if fileType == "" {
		fileType = "application/octet-stream"
	}

	modified := fd.ModTime().Format(time.RFC3339)

	return FileMeta{
		Id:       uuid.NewString(),
		Filename: fd.Name(),
		Size:     fd.Size(),
		FileMIME: fileType,
		Checksum: checksum,
		Timestamps: &FileTimestamps{
			Modified: modified,
			Accessed: modified,
		},
		FullPath: fpath,
	}, nil
}
