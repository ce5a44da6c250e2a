package solver

import (
	"errors"
	"fmt"
	"math"
	"reflect"

	"gonum.org/v1/gonum/mat"
)

// Algorithm selects how the linear part of the transform is estimated.
type Algorithm int

const (
	// AlgorithmSVD is the rigid fit of Kabsch: SVD of the cross-covariance.
	AlgorithmSVD Algorithm = iota
	// AlgorithmQuaternion is the rigid fit of Horn. Only valid for 3D points.
	AlgorithmQuaternion
	// AlgorithmAffine permits shear (Hartley and Zisserman).
	AlgorithmAffine
)

func (a Algorithm) String() string {
	switch a {
	case AlgorithmSVD:
		return "svd"
	case AlgorithmQuaternion:
		return "quaternion"
	case AlgorithmAffine:
		return "affine"
	default:
		return fmt.Sprintf("algorithm(%d)", int(a))
	}
}

type Options struct {
	Algorithm Algorithm
	// Scale adds a uniform scale to the rigid fits. Ignored for AlgorithmAffine.
	Scale bool
}

var ErrShape = errors.New("solver: input arrays are of wrong shape")

// AffineFromPoints returns the (ndims+1)x(ndims+1) homogeneous matrix M that
// maps v0 onto v1 in a least-squares sense. v0 and v1 are ndims x npoints with
// npoints >= ndims.
func AffineFromPoints(v0, v1 mat.Matrix, opts Options) (*mat.Dense, error) {
	if isNil(v0) || isNil(v1) {
		return nil, fmt.Errorf("%w: nil input", ErrShape)
	}
	ndims, npts := v0.Dims()
	r1, c1 := v1.Dims()
	if ndims < 2 || npts < ndims || ndims != r1 || npts != c1 {
		return nil, fmt.Errorf("%w: v0 %dx%d v1 %dx%d", ErrShape, ndims, npts, r1, c1)
	}
	if opts.Algorithm == AlgorithmQuaternion && ndims != 3 {
		return nil, fmt.Errorf("%w: quaternion fit needs 3 dimensions, got %d", ErrShape, ndims)
	}

	src := mat.DenseCopyOf(v0)
	dst := mat.DenseCopyOf(v1)
	c0 := center(src)
	c1v := center(dst)

	var m *mat.Dense
	switch opts.Algorithm {
	case AlgorithmAffine:
		m = affineFit(src, dst, ndims)
	case AlgorithmQuaternion:
		m = quaternionFit(src, dst)
	default:
		m = kabschFit(src, dst, ndims)
	}

	if opts.Scale && opts.Algorithm != AlgorithmAffine {
		s0 := sumSquares(src)
		s1 := sumSquares(dst)
		if s0 > 0 {
			k := math.Sqrt(s1 / s0)
			for i := 0; i < ndims; i++ {
				for j := 0; j < ndims; j++ {
					m.Set(i, j, m.At(i, j)*k)
				}
			}
		}
	}

	// Move centroids back: M = T(+c1) * M * T(-c0).
	t0 := translation(ndims, c0, -1)
	t1inv := translation(ndims, c1v, 1)
	var tmp, out mat.Dense
	tmp.Mul(m, t0)
	out.Mul(t1inv, &tmp)

	if w := out.At(ndims, ndims); w != 0 && w != 1 {
		out.Scale(1/w, &out)
	}
	return &out, nil
}

// isNil also catches typed nil pointers such as (*mat.Dense)(nil).
func isNil(m mat.Matrix) bool {
	if m == nil {
		return true
	}
	v := reflect.ValueOf(m)
	return v.Kind() == reflect.Ptr && v.IsNil()
}

// center subtracts the per-row mean in place and returns the means.
func center(m *mat.Dense) []float64 {
	r, c := m.Dims()
	means := make([]float64, r)
	for i := 0; i < r; i++ {
		sum := 0.0
		for j := 0; j < c; j++ {
			sum += m.At(i, j)
		}
		means[i] = sum / float64(c)
		for j := 0; j < c; j++ {
			m.Set(i, j, m.At(i, j)-means[i])
		}
	}
	return means
}

func sumSquares(m *mat.Dense) float64 {
	r, c := m.Dims()
	sum := 0.0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := m.At(i, j)
			sum += v * v
		}
	}
	return sum
}

func translation(ndims int, t []float64, sign float64) *mat.Dense {
	m := identity(ndims + 1)
	for i := 0; i < ndims; i++ {
		m.Set(i, ndims, sign*t[i])
	}
	return m
}

func identity(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

func homogeneous(lin mat.Matrix, ndims int) *mat.Dense {
	m := identity(ndims + 1)
	for i := 0; i < ndims; i++ {
		for j := 0; j < ndims; j++ {
			m.Set(i, j, lin.At(i, j))
		}
	}
	return m
}

// kabschFit expects centered inputs.
func kabschFit(src, dst *mat.Dense, ndims int) *mat.Dense {
	var cov mat.Dense
	cov.Mul(dst, src.T())

	var svd mat.SVD
	if !svd.Factorize(&cov, mat.SVDFull) {
		return identity(ndims + 1)
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	s := svd.Values(nil)

	var r mat.Dense
	r.Mul(&u, v.T())
	if mat.Det(&r) < 0 {
		// Not a right handed system: flip the weakest singular direction.
		last := ndims - 1
		for i := 0; i < ndims; i++ {
			for j := 0; j < ndims; j++ {
				r.Set(i, j, r.At(i, j)-2*u.At(i, last)*v.At(j, last))
			}
		}
		s[last] *= -1
	}
	return homogeneous(&r, ndims)
}

// quaternionFit expects centered 3xN inputs.
func quaternionFit(src, dst *mat.Dense) *mat.Dense {
	_, n := src.Dims()
	var xx, yy, zz, xy, yz, zx, xz, yx, zy float64
	for k := 0; k < n; k++ {
		x0, y0, z0 := src.At(0, k), src.At(1, k), src.At(2, k)
		x1, y1, z1 := dst.At(0, k), dst.At(1, k), dst.At(2, k)
		xx += x0 * x1
		yy += y0 * y1
		zz += z0 * z1
		xy += x0 * y1
		yz += y0 * z1
		zx += z0 * x1
		xz += x0 * z1
		yx += y0 * x1
		zy += z0 * y1
	}
	sym := mat.NewSymDense(4, []float64{
		xx + yy + zz, yz - zy, zx - xz, xy - yx,
		yz - zy, xx - yy - zz, xy + yx, zx + xz,
		zx - xz, xy + yx, yy - xx - zz, yz + zy,
		xy - yx, zx + xz, yz + zy, zz - xx - yy,
	})

	var es mat.EigenSym
	if !es.Factorize(sym, true) {
		return identity(4)
	}
	vals := es.Values(nil)
	var vecs mat.Dense
	es.VectorsTo(&vecs)
	best := 0
	for i := range vals {
		if vals[i] > vals[best] {
			best = i
		}
	}
	q := [4]float64{vecs.At(0, best), vecs.At(1, best), vecs.At(2, best), vecs.At(3, best)}
	return quaternionMatrix(q)
}

// quaternionMatrix builds a homogeneous rotation from q = (w, x, y, z).
func quaternionMatrix(q [4]float64) *mat.Dense {
	n := q[0]*q[0] + q[1]*q[1] + q[2]*q[2] + q[3]*q[3]
	if n < 1e-12 {
		return identity(4)
	}
	k := math.Sqrt(2 / n)
	for i := range q {
		q[i] *= k
	}
	o := func(i, j int) float64 { return q[i] * q[j] }
	return mat.NewDense(4, 4, []float64{
		1 - o(2, 2) - o(3, 3), o(1, 2) - o(3, 0), o(1, 3) + o(2, 0), 0,
		o(1, 2) + o(3, 0), 1 - o(1, 1) - o(3, 3), o(2, 3) - o(1, 0), 0,
		o(1, 3) - o(2, 0), o(2, 3) + o(1, 0), 1 - o(1, 1) - o(2, 2), 0,
		0, 0, 0, 1,
	})
}

// affineFit expects centered inputs. The linear map comes from the dominant
// ndims-dimensional right singular subspace of the stacked [src; dst] matrix.
func affineFit(src, dst *mat.Dense, ndims int) *mat.Dense {
	_, n := src.Dims()
	stacked := mat.NewDense(2*ndims, n, nil)
	stacked.Slice(0, ndims, 0, n).(*mat.Dense).Copy(src)
	stacked.Slice(ndims, 2*ndims, 0, n).(*mat.Dense).Copy(dst)

	var svd mat.SVD
	if !svd.Factorize(stacked.T(), mat.SVDFull) {
		return identity(ndims + 1)
	}
	var v mat.Dense
	svd.VTo(&v)

	b := mat.DenseCopyOf(v.Slice(0, ndims, 0, ndims))
	c := mat.DenseCopyOf(v.Slice(ndims, 2*ndims, 0, ndims))
	var lin mat.Dense
	lin.Mul(c, pinv(b))
	return homogeneous(&lin, ndims)
}

// pinv is the Moore-Penrose pseudo-inverse via SVD, dropping singular values
// below 1e-15 of the largest.
func pinv(a *mat.Dense) *mat.Dense {
	r, c := a.Dims()
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		return mat.NewDense(c, r, nil)
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	s := svd.Values(nil)
	cutoff := 0.0
	if len(s) > 0 {
		cutoff = 1e-15 * s[0]
	}
	sinv := mat.NewDense(len(s), len(s), nil)
	for i, sv := range s {
		if sv > cutoff {
			sinv.Set(i, i, 1/sv)
		}
	}
	var tmp, out mat.Dense
	tmp.Mul(&v, sinv)
	out.Mul(&tmp, u.T())
	return &out
}
