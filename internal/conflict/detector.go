// Package conflict detects pairwise scheduling conflicts between tasks.
//
// Two tasks conflict when any of six independent dimensions overlap:
// files, semantic components, exclusive resources, public interfaces,
// persistent state, or test environments. Conflicting tasks are never
// placed in the same parallel group.
package conflict

import (
	"path"
	"sort"
	"strings"

	"github.com/grovekit/grove/pkg/models"
)

// Dimension tags one axis along which two tasks can conflict.
type Dimension string

const (
	// DimensionFile marks overlapping target files or directories.
	DimensionFile Dimension = "file"
	// DimensionSemantic marks overlapping component ownership.
	DimensionSemantic Dimension = "semantic"
	// DimensionResource marks contention on compute or named resources.
	DimensionResource Dimension = "resource"
	// DimensionInterface marks modification of the same public interface.
	DimensionInterface Dimension = "interface"
	// DimensionState marks writes to the same persistent schema.
	DimensionState Dimension = "state"
	// DimensionTestEnv marks exclusive use of the same test environment.
	DimensionTestEnv Dimension = "test-environment"
)

// Descriptor is the symmetric result of checking one task pair.
type Descriptor struct {
	// Conflicted is true if any dimension overlaps.
	Conflicted bool `json:"conflicted"`
	// Dimensions lists the overlapping dimensions, sorted.
	Dimensions []Dimension `json:"dimensions,omitempty"`
}

// Severity is the number of conflicting dimensions.
func (d Descriptor) Severity() int {
	return len(d.Dimensions)
}

// Has reports whether the descriptor includes the given dimension.
func (d Descriptor) Has(dim Dimension) bool {
	for _, x := range d.Dimensions {
		if x == dim {
			return true
		}
	}
	return false
}

// Detector evaluates the six conflict dimensions for task pairs.
// It is stateless and safe for concurrent use.
type Detector struct{}

// NewDetector creates a new Detector.
func NewDetector() *Detector {
	return &Detector{}
}

// Detect evaluates all dimensions for the pair and ORs the results into
// a single descriptor. The result is symmetric: Detect(a, b) == Detect(b, a).
func (d *Detector) Detect(a, b *models.Task) Descriptor {
	var dims []Dimension

	if d.fileConflict(a, b) {
		dims = append(dims, DimensionFile)
	}
	if intersects(a.Components, b.Components) {
		dims = append(dims, DimensionSemantic)
	}
	if d.resourceConflict(a, b) {
		dims = append(dims, DimensionResource)
	}
	if intersects(a.Interfaces, b.Interfaces) {
		dims = append(dims, DimensionInterface)
	}
	if intersects(a.SchemaWrites, b.SchemaWrites) {
		dims = append(dims, DimensionState)
	}
	if intersects(a.TestEnvs, b.TestEnvs) {
		dims = append(dims, DimensionTestEnv)
	}

	sort.Slice(dims, func(i, j int) bool { return dims[i] < dims[j] })
	return Descriptor{
		Conflicted: len(dims) > 0,
		Dimensions: dims,
	}
}

// fileConflict checks for overlapping target files, overlapping target
// directories, or a target file of one task living under a target
// directory of the other.
func (d *Detector) fileConflict(a, b *models.Task) bool {
	if intersects(a.TargetFiles, b.TargetFiles) {
		return true
	}

	for _, da := range a.TargetDirs {
		for _, db := range b.TargetDirs {
			if dirsOverlap(da, db) {
				return true
			}
		}
	}

	return fileUnderDirs(a.TargetFiles, b.TargetDirs) ||
		fileUnderDirs(b.TargetFiles, a.TargetDirs)
}

// resourceConflict is true when both tasks are compute-intensive or both
// declare exclusive use of the same named external resource.
func (d *Detector) resourceConflict(a, b *models.Task) bool {
	if a.ResourceIntensive && b.ResourceIntensive {
		return true
	}
	return intersects(a.ExclusiveResources, b.ExclusiveResources)
}

// dirsOverlap is true when one directory path is a prefix of the other
// or they are the same directory.
func dirsOverlap(a, b string) bool {
	a = normalizeDir(a)
	b = normalizeDir(b)
	return strings.HasPrefix(a, b) || strings.HasPrefix(b, a)
}

// fileUnderDirs is true when any file sits inside any of the directories.
func fileUnderDirs(files, dirs []string) bool {
	for _, f := range files {
		f = strings.TrimPrefix(path.Clean(f), "/")
		for _, dir := range dirs {
			if strings.HasPrefix(f, normalizeDir(dir)) {
				return true
			}
		}
	}
	return false
}

// normalizeDir cleans a directory path and ensures a trailing slash so
// prefix checks match whole path segments.
func normalizeDir(dir string) string {
	dir = strings.TrimPrefix(path.Clean(dir), "/")
	if dir == "." || dir == "" {
		return ""
	}
	return dir + "/"
}

// intersects is true when the two string sets share any element.
func intersects(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, x := range a {
		set[x] = true
	}
	for _, y := range b {
		if set[y] {
			return true
		}
	}
	return false
}
