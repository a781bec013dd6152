package l4perception

import "math"

// EstimatedPointsPerCell sizes the grid map up front.
const EstimatedPointsPerCell = 4

type cellKey struct {
	x, y, z int64
}

// SpatialIndex buckets points into cubic cells so that a radius query
// only inspects the 27 cells around the query point. Cell size should
// equal the query radius.
type SpatialIndex struct {
	CellSize float64
	Grid     map[cellKey][]int
}

// NewSpatialIndex creates an empty index with the given cell size.
func NewSpatialIndex(cellSize float64) *SpatialIndex {
	return &SpatialIndex{
		CellSize: cellSize,
		Grid:     make(map[cellKey][]int),
	}
}

// Build indexes the points for which include returns true. A nil include
// indexes every point.
func (si *SpatialIndex) Build(points [][3]float32, include func(i int) bool) {
	si.Grid = make(map[cellKey][]int, len(points)/EstimatedPointsPerCell+1)
	for i, p := range points {
		if include != nil && !include(i) {
			continue
		}
		k := si.cell(p)
		si.Grid[k] = append(si.Grid[k], i)
	}
}

func (si *SpatialIndex) cell(p [3]float32) cellKey {
	return cellKey{
		x: int64(math.Floor(float64(p[0]) / si.CellSize)),
		y: int64(math.Floor(float64(p[1]) / si.CellSize)),
		z: int64(math.Floor(float64(p[2]) / si.CellSize)),
	}
}

// RegionQuery returns the indexed points within eps (Euclidean, 3D) of
// points[idx], including idx itself when it is indexed.
func (si *SpatialIndex) RegionQuery(points [][3]float32, idx int, eps float64) []int {
	p := points[idx]
	base := si.cell(p)
	eps2 := eps * eps
	var neighbors []int
	for dx := int64(-1); dx <= 1; dx++ {
		for dy := int64(-1); dy <= 1; dy++ {
			for dz := int64(-1); dz <= 1; dz++ {
				k := cellKey{base.x + dx, base.y + dy, base.z + dz}
				for _, j := range si.Grid[k] {
					q := points[j]
					ddx := float64(q[0]) - float64(p[0])
					ddy := float64(q[1]) - float64(p[1])
					ddz := float64(q[2]) - float64(p[2])
					if ddx*ddx+ddy*ddy+ddz*ddz <= eps2 {
						neighbors = append(neighbors, j)
					}
				}
			}
		}
	}
	return neighbors
}
