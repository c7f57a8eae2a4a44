// Package color provides the side definitions shared by the game core
// and the wire protocol.
package color

// Color represents one side of the board.
type Color string

// The two playable sides.
const (
	White Color = "w"
	Black Color = "b"
)

// Opp returns the opposite side for the given side.
func (c Color) Opp() Color {
	if c == White {
		return Black
	}

	return White
}
