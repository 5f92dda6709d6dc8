// Package vision wraps the ONNX face models behind two small capabilities:
// find every face in a class photo, and embed a single enrollment capture.
package vision

import "github.com/your-org/rollcall/internal/models"

// DetectedFace is one face found in an image together with the descriptor the
// embedding model produced for it.
type DetectedFace struct {
	BBox       [4]float32 // x1, y1, x2, y2 in source pixels
	Confidence float32
	Descriptor models.FaceDescriptor
}

// FaceDetector finds every face in an encoded image. The photo reconciler
// depends on this; tests substitute deterministic implementations.
type FaceDetector interface {
	DetectFaces(image []byte) ([]DetectedFace, error)
}

// FaceEmbedder produces a descriptor for the most prominent face in an image,
// along with its detection confidence. The enrollment endpoints depend on it.
type FaceEmbedder interface {
	EmbedFace(image []byte) (models.FaceDescriptor, float32, error)
}
