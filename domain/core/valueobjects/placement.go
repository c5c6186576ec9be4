package valueobjects

import (
	"fmt"

	pkgerrors "loci/pkg/errors"
)

// PlacementCategory is the semantic reason a chunk is being created.
type PlacementCategory string

const (
	CategoryAdd      PlacementCategory = "add"
	CategoryImport   PlacementCategory = "import"
	CategoryResearch PlacementCategory = "research"
)

// ParsePlacementCategory validates a hint. An empty hint means "add".
func ParsePlacementCategory(raw string) (PlacementCategory, error) {
	switch PlacementCategory(raw) {
	case "":
		return CategoryAdd, nil
	case CategoryAdd, CategoryImport, CategoryResearch:
		return PlacementCategory(raw), nil
	default:
		return "", pkgerrors.NewValidationError(fmt.Sprintf("unknown placement hint %q", raw))
	}
}

// Placement says where new content lands in its locus.
type Placement string

const (
	PlacementTop    Placement = "top"
	PlacementBottom Placement = "bottom"
)

// DefaultPlacement applies when a user has recorded no preference.
const DefaultPlacement = PlacementTop

// ParsePlacement validates a placement value.
func ParsePlacement(raw string) (Placement, error) {
	switch Placement(raw) {
	case PlacementTop, PlacementBottom:
		return Placement(raw), nil
	default:
		return "", pkgerrors.NewValidationError(fmt.Sprintf("unknown placement %q", raw))
	}
}
