package consts

const (
	DefaultInfoFile = "info.json"

	JPEGExt = ".jpg"
	RawExt  = ".raw"
	AVIExt  = ".avi"

	MimeJPEG = "image/jpeg"
	MimeRaw  = "image/x-raw"
	MimeAVI  = "video/x-msvideo"

	DefaultFilePerm = 0666
	DefaultDirPerm  = 0777
)

// ExtForMime maps the mime types the session writes to file extensions.
func ExtForMime(mime string) string {
	switch mime {
	case MimeJPEG:
		return JPEGExt
	case MimeRaw:
		return RawExt
	case MimeAVI:
		return AVIExt
	}
	return ""
}
