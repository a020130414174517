package episodic

import (
	"fmt"

	"patterncore/pkg/domain"
)

// Driver identifies a concrete episode index implementation.
type Driver string

const (
	// DriverFlat is the exact in-memory cosine index (default).
	DriverFlat Driver = "flat"
	// DriverChromem backs the index with an embedded chromem-go collection.
	DriverChromem Driver = "chromem"
)

// Open selects an episode store implementation by driver name.
func Open(driver Driver, dim int) (domain.EpisodeStore, error) {
	switch driver {
	case DriverFlat, "":
		return NewFlatStore(dim), nil
	case DriverChromem:
		return NewChromemStore(dim)
	default:
		return nil, fmt.Errorf("unknown episodic driver %s", driver)
	}
}
