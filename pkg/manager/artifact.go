package manager

import (
	qrcode "github.com/skip2/go-qrcode"
)

// artifactSize is the pixel width of the generated pairing image.
const artifactSize = 256

// encodeArtifact renders the pairing artifact as a PNG so status pollers
// can display it directly.
func encodeArtifact(artifact string) ([]byte, error) {
	return qrcode.Encode(artifact, qrcode.Medium, artifactSize)
}
