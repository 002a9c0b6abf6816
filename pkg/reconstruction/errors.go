package reconstruction

import "fmt"

// NoValidSlicesError is returned when a scan accepts no slice at all
type NoValidSlicesError struct {
	Dir      string
	Rejected int
}

func (e *NoValidSlicesError) Error() string {
	return fmt.Sprintf("no valid slices found in %q or its subdirectories (%d files rejected)", e.Dir, e.Rejected)
}

// InconsistentSliceShapeError is returned when a slice's rows/columns differ
// from the first slice's
type InconsistentSliceShapeError struct {
	Path string
	Want [2]int
	Got  [2]int
}

func (e *InconsistentSliceShapeError) Error() string {
	return fmt.Sprintf("slice %s is %dx%d, expected %dx%d", e.Path, e.Got[0], e.Got[1], e.Want[0], e.Want[1])
}

// DuplicatePositionError is returned when two slices share a stacking
// position and duplicates are configured to be rejected
type DuplicatePositionError struct {
	Position      float64
	First, Second string
}

func (e *DuplicatePositionError) Error() string {
	return fmt.Sprintf("slices %s and %s share stacking position %g", e.First, e.Second, e.Position)
}
