package filetype

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

// UploadExtensions are the slide extensions accepted for upload, without dots.
var UploadExtensions = []string{"svs", "tif", "tiff", "ndpi", "scn", "mrxs", "vms", "vmu"}

// FileTypeInfo contains detected file type information
type FileTypeInfo struct {
	MIMEType    string
	Extension   string
	IsTIFF      bool
	IsWSI       bool
	Supported   bool
	Description string
}

// Detector handles file type detection using magic bytes
type Detector struct{}

// New creates a new file type detector
func New() *Detector {
	return &Detector{}
}

var bigTIFFMagic = [][]byte{[]byte("II+\x00"), []byte("MM\x00+")}

// Detect detects the actual file type using magic bytes, not filename
func (d *Detector) Detect(filePath string) (*FileTypeInfo, error) {
	mtype, err := mimetype.DetectFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to detect file type: %w", err)
	}

	mimeType := mtype.String()
	extension := mtype.Extension()

	log.Debug().Str("mime", mimeType).Str("ext", extension).Str("file", filePath).Msg("detected file type")

	// mimetype does not know BigTIFF.
	if mimeType == "application/octet-stream" && hasBigTIFFMagic(filePath) {
		mimeType = "image/tiff"
		extension = ".tif"
		log.Debug().Str("original", mtype.String()).Str("override", mimeType).Msg("BigTIFF header detected")
	}

	info := &FileTypeInfo{
		MIMEType:  mimeType,
		Extension: extension,
	}

	d.classify(info, strings.ToLower(filepath.Ext(filePath)))

	return info, nil
}

func hasBigTIFFMagic(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	head := make([]byte, 4)
	if _, err := io.ReadFull(f, head); err != nil {
		return false
	}
	for _, m := range bigTIFFMagic {
		if bytes.Equal(head, m) {
			return true
		}
	}
	return false
}

// classify determines whether the pyramid reader can handle the file
func (d *Detector) classify(info *FileTypeInfo, ext string) {
	mimeType := info.MIMEType

	switch {
	// Aperio, Hamamatsu NDPI, Leica SCN, Ventana BIF and generic pyramids are all TIFF containers
	case mimeType == "image/tiff":
		info.IsTIFF = true
		info.IsWSI = true
		info.Supported = true
		switch ext {
		case ".svs":
			info.Description = "Aperio SVS slide"
		case ".ndpi":
			info.Description = "Hamamatsu NDPI slide"
		case ".scn":
			info.Description = "Leica SCN slide"
		case ".bif":
			info.Description = "Ventana BIF slide"
		default:
			info.Description = "TIFF image (pyramid candidate)"
		}

	// MIRAX and Hamamatsu VMS/VMU index files are plain text pointing at sibling data
	case ext == ".mrxs" || ext == ".vms" || ext == ".vmu":
		info.IsWSI = true
		info.Supported = false
		info.Description = fmt.Sprintf("Multi-file slide format %s is not supported", ext)

	case strings.HasPrefix(mimeType, "image/"):
		info.Supported = false
		info.Description = fmt.Sprintf("Non-pyramidal image (%s)", mimeType)

	default:
		info.Supported = false
		info.Description = fmt.Sprintf("Unsupported file type: %s", mimeType)
	}
}

// AllowedUpload reports whether filename carries one of UploadExtensions.
func AllowedUpload(filename string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	for _, e := range UploadExtensions {
		if e == ext {
			return true
		}
	}
	return false
}
