package l5tracks

import "math"

// forbiddenCost marks a track/cluster pair outside the association gate.
const forbiddenCost = 1e18

// hungarianAssign solves the rectangular assignment problem for an n×m
// cost matrix with the Kuhn–Munkres method (Jonker–Volgenant potentials).
// It returns assign[i] = column for row i, or -1 when row i is left
// unassigned or only forbidden columns remain for it.
func hungarianAssign(cost [][]float64) []int {
	n := len(cost)
	if n == 0 {
		return nil
	}
	m := len(cost[0])
	result := make([]int, n)
	if m == 0 {
		for i := range result {
			result[i] = -1
		}
		return result
	}

	dim := max(n, m)
	c := make([][]float64, dim)
	for i := range c {
		c[i] = make([]float64, dim)
		for j := range c[i] {
			if i < n && j < m {
				c[i][j] = math.Min(cost[i][j], forbiddenCost)
			} else {
				c[i][j] = forbiddenCost
			}
		}
	}

	// 1-indexed potentials; column 0 is virtual.
	const inf = math.MaxFloat64 / 2
	u := make([]float64, dim+1)
	v := make([]float64, dim+1)
	p := make([]int, dim+1)
	way := make([]int, dim+1)
	minv := make([]float64, dim+1)
	used := make([]bool, dim+1)

	for i := 1; i <= dim; i++ {
		p[0] = i
		j0 := 0
		for j := 1; j <= dim; j++ {
			minv[j] = inf
			used[j] = false
		}
		for {
			used[j0] = true
			i0 := p[j0]
			delta := inf
			j1 := -1
			for j := 1; j <= dim; j++ {
				if used[j] {
					continue
				}
				cur := c[i0-1][j-1] - u[i0] - v[j]
				if cur < minv[j] {
					minv[j] = cur
					way[j] = j0
				}
				if minv[j] < delta {
					delta = minv[j]
					j1 = j
				}
			}
			if j1 < 0 {
				break
			}
			for j := 0; j <= dim; j++ {
				if used[j] {
					u[p[j]] += delta
					v[j] -= delta
				} else {
					minv[j] -= delta
				}
			}
			j0 = j1
			if p[j0] == 0 {
				break
			}
		}
		for j0 != 0 {
			p[j0] = p[way[j0]]
			j0 = way[j0]
		}
	}

	rowAssign := make([]int, dim)
	for i := range rowAssign {
		rowAssign[i] = -1
	}
	for j := 1; j <= dim; j++ {
		if p[j] > 0 {
			rowAssign[p[j]-1] = j - 1
		}
	}
	for i := 0; i < n; i++ {
		col := rowAssign[i]
		if col < 0 || col >= m || cost[i][col] >= forbiddenCost {
			result[i] = -1
		} else {
			result[i] = col
		}
	}
	return result
}
