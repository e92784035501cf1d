package curation

import (
	"fmt"
	"math"
	"time"
)

var baseTime = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func score(v float64) *float64 {
	return &v
}

func photoAt(id string, offset time.Duration) *Photo {
	return &Photo{
		SourceID: id,
		URL:      fmt.Sprintf("https://cdn.example.com/images/%s/original.jpg", id),
		TakenAt:  baseTime.Add(offset),
	}
}

// gramVectors builds unit vectors whose pairwise cosine similarities equal
// the given upper-triangular values, via Cholesky decomposition.
func gramVectors(n int, sim func(i, j int) float64) [][]float32 {
	l := make([][]float64, n)
	for i := range l {
		l[i] = make([]float64, n)
	}
	for i := range n {
		for j := 0; j <= i; j++ {
			g := 1.0
			if i != j {
				g = sim(j, i)
			}
			sum := g
			for k := range j {
				sum -= l[i][k] * l[j][k]
			}
			if i == j {
				l[i][j] = math.Sqrt(sum)
			} else {
				l[i][j] = sum / l[j][j]
			}
		}
	}
	out := make([][]float32, n)
	for i := range n {
		out[i] = make([]float32, n)
		for k := range n {
			out[i][k] = float32(l[i][k])
		}
	}
	return out
}
