package core

import (
	"github.com/gonum/blas"
	"github.com/gonum/blas/blas32"
	"github.com/gonum/blas/blas64"
)

// gemm64 computes (P1 x C1^T) * (P2 x C2^T) elementwise, where Cn are
// the child partials of patterns k0..k1-1 seen as a (patterns x states)
// matrix.
func gemm64(dst, p1, m1, p2, m2 []float64, k0, k1, s int, scratch []float64) {
	n := k1 - k0
	t1 := blas64.General{Rows: n, Cols: s, Stride: s, Data: scratch[:n*s]}
	t2 := blas64.General{Rows: n, Cols: s, Stride: s, Data: scratch[n*s : 2*n*s]}
	blas64.Gemm(blas.NoTrans, blas.Trans, 1,
		blas64.General{Rows: n, Cols: s, Stride: s, Data: p1[k0*s : k1*s]},
		blas64.General{Rows: s, Cols: s, Stride: s, Data: m1},
		0, t1)
	blas64.Gemm(blas.NoTrans, blas.Trans, 1,
		blas64.General{Rows: n, Cols: s, Stride: s, Data: p2[k0*s : k1*s]},
		blas64.General{Rows: s, Cols: s, Stride: s, Data: m2},
		0, t2)
	d := dst[k0*s : k1*s]
	for x := range d {
		d[x] = t1.Data[x] * t2.Data[x]
	}
}

func gemm32(dst, p1, m1, p2, m2 []float32, k0, k1, s int, scratch []float32) {
	n := k1 - k0
	t1 := blas32.General{Rows: n, Cols: s, Stride: s, Data: scratch[:n*s]}
	t2 := blas32.General{Rows: n, Cols: s, Stride: s, Data: scratch[n*s : 2*n*s]}
	blas32.Gemm(blas.NoTrans, blas.Trans, 1,
		blas32.General{Rows: n, Cols: s, Stride: s, Data: p1[k0*s : k1*s]},
		blas32.General{Rows: s, Cols: s, Stride: s, Data: m1},
		0, t1)
	blas32.Gemm(blas.NoTrans, blas.Trans, 1,
		blas32.General{Rows: n, Cols: s, Stride: s, Data: p2[k0*s : k1*s]},
		blas32.General{Rows: s, Cols: s, Stride: s, Data: m2},
		0, t2)
	d := dst[k0*s : k1*s]
	for x := range d {
		d[x] = t1.Data[x] * t2.Data[x]
	}
}
