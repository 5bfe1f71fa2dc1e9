package detection

import "fmt"

// ClassID identifies an object class in the COCO label map
// (91 ids, 1-based, as used by the TensorFlow SSD models).
type ClassID int

// ClassPerson is the monitored class: a person.
const ClassPerson ClassID = 1

// Labels holds the COCO label map indexed by ClassID. Index 0 is the
// background class the SSD head reserves.
var Labels = []string{
	"background",
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "street sign", "stop sign", "parking meter", "bench",
	"bird", "cat", "dog", "horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe",
	"hat", "backpack", "umbrella", "shoe", "eye glasses", "handbag", "tie", "suitcase",
	"frisbee", "skis", "snowboard", "sports ball", "kite", "baseball bat", "baseball glove",
	"skateboard", "surfboard", "tennis racket", "bottle", "plate", "wine glass", "cup",
	"fork", "knife", "spoon", "bowl", "banana", "apple", "sandwich", "orange", "broccoli",
	"carrot", "hot dog", "pizza", "donut", "cake", "chair", "couch", "potted plant", "bed",
	"mirror", "dining table", "window", "desk", "toilet", "door", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink",
	"refrigerator", "blender", "book", "clock", "vase", "scissors", "teddy bear",
	"hair drier", "toothbrush",
}

// Ids present in the 91-id map but never annotated in the 80-class release.
var unannotated = map[ClassID]bool{
	12: true, 26: true, 29: true, 30: true, 45: true,
	66: true, 68: true, 69: true, 71: true, 83: true,
}

// coco80 maps a 0-based 80-class index (YOLO exports) to a ClassID.
var coco80 = func() []ClassID {
	ids := make([]ClassID, 0, 80)
	for id := ClassID(1); int(id) < len(Labels); id++ {
		if !unannotated[id] {
			ids = append(ids, id)
		}
	}
	return ids
}()

// FromCOCO80 converts a 0-based index from an 80-class model into the
// shared ClassID taxonomy.
func FromCOCO80(idx int) (ClassID, bool) {
	if idx < 0 || idx >= len(coco80) {
		return 0, false
	}
	return coco80[idx], true
}

// String returns the label name.
func (c ClassID) String() string {
	if c < 0 || int(c) >= len(Labels) {
		return fmt.Sprintf("class(%d)", int(c))
	}
	return Labels[c]
}
