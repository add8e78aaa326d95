package sensor

import (
	"image"
	"sync"
)

// HeuristicDetector is a stand-in for a real face detector. A frame counts
// as one face when it is bright enough and differs enough from the previous
// frame; otherwise it counts as none. It can never report more than one face.
type HeuristicDetector struct {
	BrightnessThreshold float64
	DifferenceThreshold float64

	mu       sync.Mutex
	previous []uint8
}

func NewHeuristicDetector() *HeuristicDetector {
	return &HeuristicDetector{
		BrightnessThreshold: 50,
		DifferenceThreshold: 1000,
	}
}

func (d *HeuristicDetector) Detect(frame image.Image) Detection {
	bounds := frame.Bounds()
	pixels := bounds.Dx() * bounds.Dy()
	if pixels == 0 {
		return Detection{}
	}

	reds := make([]uint8, 0, pixels)
	var sum float64
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := frame.At(x, y).RGBA()
			r8, g8, b8 := r>>8, g>>8, b>>8
			sum += float64(r8+g8+b8) / 3
			reds = append(reds, uint8(r8))
		}
	}
	brightness := sum / float64(pixels)

	d.mu.Lock()
	previous := d.previous
	d.previous = reds
	d.mu.Unlock()

	detection := Detection{Brightness: brightness}

	// The first frame has nothing to compare against and counts as movement.
	moved := true
	if len(previous) == len(reds) {
		var diff float64
		for i := range reds {
			delta := int(reds[i]) - int(previous[i])
			if delta < 0 {
				delta = -delta
			}
			diff += float64(delta)
		}
		detection.Difference = diff
		detection.Motion = diff / float64(pixels)
		moved = diff > d.DifferenceThreshold
	}

	if brightness > d.BrightnessThreshold && moved {
		detection.Faces = 1
	}
	return detection
}
