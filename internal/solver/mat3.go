package solver

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// Mat3 is a row-major 3x3 matrix.
type Mat3 [3][3]float64

func Identity3() Mat3 {
	return Mat3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// Mat3FromRowMajor builds a matrix from 9 row-major values.
func Mat3FromRowMajor(v [9]float64) Mat3 {
	var m Mat3
	for i := 0; i < 9; i++ {
		m[i/3][i%3] = v[i]
	}
	return m
}

func (m Mat3) RowMajor() [9]float64 {
	var out [9]float64
	for i := 0; i < 9; i++ {
		out[i] = m[i/3][i%3]
	}
	return out
}

func (m Mat3) Mul(o Mat3) Mat3 {
	var out Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				out[i][j] += m[i][k] * o[k][j]
			}
		}
	}
	return out
}

func (m Mat3) Transpose() Mat3 {
	var out Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = m[j][i]
		}
	}
	return out
}

// Apply returns m*v.
func (m Mat3) Apply(v r3.Vector) r3.Vector {
	return r3.Vector{
		X: m[0][0]*v.X + m[0][1]*v.Y + m[0][2]*v.Z,
		Y: m[1][0]*v.X + m[1][1]*v.Y + m[1][2]*v.Z,
		Z: m[2][0]*v.X + m[2][1]*v.Y + m[2][2]*v.Z,
	}
}

func (m Mat3) Det() float64 {
	return m[0][0]*(m[1][1]*m[2][2]-m[1][2]*m[2][1]) -
		m[0][1]*(m[1][0]*m[2][2]-m[1][2]*m[2][0]) +
		m[0][2]*(m[1][0]*m[2][1]-m[1][1]*m[2][0])
}

// CheckUnitRowsCols verifies every row and every column holds at least one
// element with magnitude >= min. A well-formed axis-permutation-like rotation
// passes; a badly skewed fit does not.
func (m Mat3) CheckUnitRowsCols(min float64) error {
	for i := 0; i < 3; i++ {
		if math.Max(math.Abs(m[i][0]), math.Max(math.Abs(m[i][1]), math.Abs(m[i][2]))) < min {
			return fmt.Errorf("bad row %d", i+1)
		}
	}
	for j := 0; j < 3; j++ {
		if math.Max(math.Abs(m[0][j]), math.Max(math.Abs(m[1][j]), math.Abs(m[2][j]))) < min {
			return fmt.Errorf("bad column %d", j+1)
		}
	}
	return nil
}

// FromVectors packs points into a 3xN matrix, one column per point.
func FromVectors(vs []r3.Vector) *mat.Dense {
	if len(vs) == 0 {
		return nil
	}
	m := mat.NewDense(3, len(vs), nil)
	for j, v := range vs {
		m.Set(0, j, v.X)
		m.Set(1, j, v.Y)
		m.Set(2, j, v.Z)
	}
	return m
}

// Rotation extracts the upper-left 3x3 block of a 4x4 homogeneous matrix.
func Rotation(m mat.Matrix) Mat3 {
	var out Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = m.At(i, j)
		}
	}
	return out
}

// Translation extracts the translation column of a 4x4 homogeneous matrix.
func Translation(m mat.Matrix) r3.Vector {
	return r3.Vector{X: m.At(0, 3), Y: m.At(1, 3), Z: m.At(2, 3)}
}

// FitRigid is the calibration entry point: a rigid SVD fit of src onto dst
// without scale.
func FitRigid(src, dst []r3.Vector) (Mat3, r3.Vector, error) {
	if len(src) != len(dst) || len(src) < 3 {
		return Mat3{}, r3.Vector{}, fmt.Errorf("%w: %d source and %d target points", ErrShape, len(src), len(dst))
	}
	m, err := AffineFromPoints(FromVectors(src), FromVectors(dst), Options{Algorithm: AlgorithmSVD})
	if err != nil {
		return Mat3{}, r3.Vector{}, err
	}
	return Rotation(m), Translation(m), nil
}
