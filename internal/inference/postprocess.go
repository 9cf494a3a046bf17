package inference

import (
	"math"
	"sort"
)

// Softmax returns a normalized copy of logits.
func Softmax(logits []float32) []float32 {
	out := make([]float32, len(logits))
	if len(logits) == 0 {
		return out
	}
	peak := logits[0]
	for _, v := range logits[1:] {
		if v > peak {
			peak = v
		}
	}
	var sum float64
	for i, v := range logits {
		e := math.Exp(float64(v - peak))
		out[i] = float32(e)
		sum += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return out
}

// DecodeYOLO reads a YOLOv8-style head laid out as [4+classes, anchors]
// (cx, cy, w, h, then one score per class) and keeps anchors whose best
// score reaches minConf. Boxes come back as x1,y1,x2,y2 in input pixels.
func DecodeYOLO(output []float32, numClasses, numAnchors int, minConf float32) []Box {
	rows := 4 + numClasses
	if numClasses <= 0 || numAnchors <= 0 || len(output) < rows*numAnchors {
		return nil
	}
	at := func(row, col int) float32 { return output[row*numAnchors+col] }

	var boxes []Box
	for a := 0; a < numAnchors; a++ {
		bestClass, bestScore := 0, float32(-1)
		for c := 0; c < numClasses; c++ {
			if s := at(4+c, a); s > bestScore {
				bestClass, bestScore = c, s
			}
		}
		if bestScore < minConf {
			continue
		}
		cx, cy, w, h := at(0, a), at(1, a), at(2, a), at(3, a)
		boxes = append(boxes, Box{
			XYXY:  []float32{cx - w/2, cy - h/2, cx + w/2, cy + h/2},
			Conf:  []float32{bestScore},
			Class: []float32{float32(bestClass)},
		})
	}
	return boxes
}

// NMS performs greedy non-maximum suppression per class.
func NMS(boxes []Box, iouThreshold float32) []Box {
	order := make([]int, 0, len(boxes))
	for i, b := range boxes {
		if len(b.XYXY) == 4 && len(b.Conf) == 1 && len(b.Class) == 1 {
			order = append(order, i)
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		return boxes[order[a]].Conf[0] > boxes[order[b]].Conf[0]
	})

	kept := make([]Box, 0, len(order))
	suppressed := make([]bool, len(boxes))
	for _, i := range order {
		if suppressed[i] {
			continue
		}
		kept = append(kept, boxes[i])
		for _, j := range order {
			if j == i || suppressed[j] || boxes[j].Class[0] != boxes[i].Class[0] {
				continue
			}
			if IoU(boxes[i].XYXY, boxes[j].XYXY) > iouThreshold {
				suppressed[j] = true
			}
		}
		suppressed[i] = true
	}
	return kept
}

// IoU is the intersection over union of two x1,y1,x2,y2 boxes.
func IoU(a, b []float32) float32 {
	ix1 := max32(a[0], b[0])
	iy1 := max32(a[1], b[1])
	ix2 := min32(a[2], b[2])
	iy2 := min32(a[3], b[3])
	inter := max32(0, ix2-ix1) * max32(0, iy2-iy1)
	union := (a[2]-a[0])*(a[3]-a[1]) + (b[2]-b[0])*(b[3]-b[1]) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// ScaleBoxes maps box coordinates from a (fromW x fromH) frame back to
// (toW x toH), clamping to the target bounds. Malformed boxes are left alone.
func ScaleBoxes(boxes []Box, fromW, fromH, toW, toH int) []Box {
	if fromW <= 0 || fromH <= 0 {
		return boxes
	}
	sx := float32(toW) / float32(fromW)
	sy := float32(toH) / float32(fromH)
	out := make([]Box, len(boxes))
	for i, b := range boxes {
		out[i] = b
		if len(b.XYXY) != 4 {
			continue
		}
		out[i].XYXY = []float32{
			clamp(b.XYXY[0]*sx, float32(toW)),
			clamp(b.XYXY[1]*sy, float32(toH)),
			clamp(b.XYXY[2]*sx, float32(toW)),
			clamp(b.XYXY[3]*sy, float32(toH)),
		}
	}
	return out
}

func clamp(v, hi float32) float32 {
	if v < 0 {
		return 0
	}
	if v > hi {
		return hi
	}
	return v
}

func max32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

func min32(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}
