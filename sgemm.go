// SPDX-License-Identifier: CC-BY-NC-4.0
// Copyright (c) 2025-2026 fumi-engineer

package nn

import "github.com/klauspost/cpuid/v2"

// Pure-Go single-precision GEMM kernels. Three variants cover the shapes
// the autodiff graph needs without ever materializing a transpose:
//
//	sgemm        C = alpha*A@B    + beta*C   A:[M,K] B:[K,N]
//	sgemmTransA  C = alpha*A^T@B  + beta*C   A:[K,M] B:[K,N]
//	sgemmTransB  C = alpha*A@B^T  + beta*C   A:[M,K] B:[N,K]
//
// lda/ldb/ldc are row strides of the respective matrices in flat storage.

// sgemmBlock is the cache-blocking tile size, sized so three float32 tiles
// fit in the L1 data cache.
var sgemmBlock = pickBlockSize()

func pickBlockSize() int {
	l1 := cpuid.CPU.Cache.L1D
	if l1 <= 0 {
		l1 = 32 * 1024
	}
	// 3 tiles of b*b float32 values should fit in L1D.
	b := 16
	for (b*2)*(b*2)*4*3 <= l1 {
		b *= 2
	}
	return b
}

// sgemm computes C = alpha*A@B + beta*C with ikj loop ordering and cache
// blocking. The inner j loop streams contiguous rows of B and C.
func sgemm(m, n, k int, alpha float32, a []float32, lda int, b []float32, ldb int, beta float32, c []float32, ldc int) {
	if m == 0 || n == 0 {
		return
	}
	if beta != 1 {
		for i := 0; i < m; i++ {
			row := c[i*ldc : i*ldc+n]
			if beta == 0 {
				for j := range row {
					row[j] = 0
				}
			} else {
				for j := range row {
					row[j] *= beta
				}
			}
		}
	}
	if k == 0 {
		return
	}
	bs := sgemmBlock
	for i0 := 0; i0 < m; i0 += bs {
		iMax := min(i0+bs, m)
		for p0 := 0; p0 < k; p0 += bs {
			pMax := min(p0+bs, k)
			for j0 := 0; j0 < n; j0 += bs {
				jMax := min(j0+bs, n)
				for i := i0; i < iMax; i++ {
					aRow := a[i*lda:]
					cRow := c[i*ldc : i*ldc+n]
					for p := p0; p < pMax; p++ {
						av := alpha * aRow[p]
						if av == 0 {
							continue
						}
						bRow := b[p*ldb:]
						for j := j0; j < jMax; j++ {
							cRow[j] += av * bRow[j]
						}
					}
				}
			}
		}
	}
}

// sgemmTransA computes C = alpha*A^T@B + beta*C where A is stored [K, M].
// Used for weight gradients: dW = dY^T @ X.
func sgemmTransA(m, n, k int, alpha float32, a []float32, lda int, b []float32, ldb int, beta float32, c []float32, ldc int) {
	if m == 0 || n == 0 {
		return
	}
	if beta != 1 {
		for i := 0; i < m; i++ {
			row := c[i*ldc : i*ldc+n]
			if beta == 0 {
				for j := range row {
					row[j] = 0
				}
			} else {
				for j := range row {
					row[j] *= beta
				}
			}
		}
	}
	if k == 0 {
		return
	}
	for p := 0; p < k; p++ {
		aRow := a[p*lda:]
		bRow := b[p*ldb:]
		for i := 0; i < m; i++ {
			av := alpha * aRow[i]
			if av == 0 {
				continue
			}
			cRow := c[i*ldc : i*ldc+n]
			for j := 0; j < n; j++ {
				cRow[j] += av * bRow[j]
			}
		}
	}
}

// sgemmTransB computes C = alpha*A@B^T + beta*C where B is stored [N, K].
// Each output element is a dot product of two contiguous rows, which keeps
// both operands sequential in memory.
func sgemmTransB(m, n, k int, alpha float32, a []float32, lda int, b []float32, ldb int, beta float32, c []float32, ldc int) {
	if m == 0 || n == 0 {
		return
	}
	for i := 0; i < m; i++ {
		aRow := a[i*lda : i*lda+k]
		cRow := c[i*ldc : i*ldc+n]
		for j := 0; j < n; j++ {
			bRow := b[j*ldb : j*ldb+k]
			sum := float32(0)
			for p := 0; p < k; p++ {
				sum += aRow[p] * bRow[p]
			}
			if beta == 0 {
				cRow[j] = alpha * sum
			} else {
				cRow[j] = alpha*sum + beta*cRow[j]
			}
		}
	}
}
