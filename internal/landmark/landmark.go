// Package landmark defines hand/face keypoints and the extractors that
// produce them.
package landmark

import "signserver/internal/frame"

// Point is a keypoint in normalized image coordinates ([0,1] for x and y).
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type Hand struct {
	Handedness string  `json:"handedness,omitempty"`
	Points     []Point `json:"points"`
}

type Face struct {
	Points []Point `json:"points"`
}

// Set is everything found in one frame.
type Set struct {
	Hands []Hand `json:"hands"`
	Faces []Face `json:"faces"`
}

func (s Set) Empty() bool {
	return len(s.Hands) == 0 && len(s.Faces) == 0
}

// Extractor finds keypoints in an RGB frame.
type Extractor interface {
	Extract(f frame.Frame) (Set, error)
	Close() error
}

// Noop is used when no landmark worker is configured.
type Noop struct{}

func (Noop) Extract(frame.Frame) (Set, error) { return Set{}, nil }
func (Noop) Close() error                     { return nil }

// HandConnections are the 21-point hand skeleton edges.
var HandConnections = [][2]int{
	{0, 1}, {1, 2}, {2, 3}, {3, 4},
	{0, 5}, {5, 6}, {6, 7}, {7, 8},
	{5, 9}, {9, 10}, {10, 11}, {11, 12},
	{9, 13}, {13, 14}, {14, 15}, {15, 16},
	{13, 17}, {0, 17}, {17, 18}, {18, 19}, {19, 20},
}
