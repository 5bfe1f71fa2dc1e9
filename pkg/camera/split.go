package camera

import "bytes"

var (
	jpegSOI = []byte{0xFF, 0xD8} // Start of Image
	jpegEOI = []byte{0xFF, 0xD9} // End of Image
)

// SplitJPEG is a bufio.SplitFunc that yields whole JPEG images from a byte
// stream, skipping anything between them (multipart boundaries, headers).
func SplitJPEG(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	start := bytes.Index(data, jpegSOI)
	if start == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		// Keep a trailing 0xFF, it may be the first half of a marker.
		if n := len(data); n > 0 && data[n-1] == 0xFF {
			return n - 1, nil, nil
		}
		return len(data), nil, nil
	}
	end := bytes.Index(data[start+len(jpegSOI):], jpegEOI)
	if end == -1 {
		if atEOF {
			return len(data), nil, nil
		}
		return start, nil, nil
	}
	stop := start + len(jpegSOI) + end + len(jpegEOI)
	return stop, data[start:stop], nil
}
