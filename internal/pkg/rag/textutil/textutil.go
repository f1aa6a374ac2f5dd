// Package textutil 提供检索与推荐共用的向量和文本工具函数。
package textutil

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"math"
	"unicode/utf8"
)

// CosineSimilarity 计算两个向量的余弦相似度。
// 返回值范围为 [-1, 1]；长度不一致或零向量返回 0。
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Blend 按指数移动平均合并两个向量：(1-weight)*prev + weight*next。
// prev 为空时直接返回 next 的副本；长度不一致时返回错误。
func Blend(prev, next []float32, weight float64) ([]float32, error) {
	if len(prev) == 0 {
		out := make([]float32, len(next))
		copy(out, next)
		return out, nil
	}
	if len(prev) != len(next) {
		return nil, &DimensionError{Want: len(prev), Got: len(next)}
	}

	out := make([]float32, len(prev))
	keep := 1 - weight
	for i := range prev {
		out[i] = float32(keep*float64(prev[i]) + weight*float64(next[i]))
	}
	return out, nil
}

// Mean 计算多个同维向量的逐元素平均值。
func Mean(vectors [][]float32) ([]float32, error) {
	if len(vectors) == 0 {
		return nil, nil
	}
	dim := len(vectors[0])
	sum := make([]float64, dim)
	for _, v := range vectors {
		if len(v) != dim {
			return nil, &DimensionError{Want: dim, Got: len(v)}
		}
		for i, x := range v {
			sum[i] += float64(x)
		}
	}

	out := make([]float32, dim)
	n := float64(len(vectors))
	for i := range sum {
		out[i] = float32(sum[i] / n)
	}
	return out, nil
}

// DimensionError 表示向量维度不一致。
type DimensionError struct {
	Want int
	Got  int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("向量维度不一致: 期望 %d，实际 %d", e.Want, e.Got)
}

// HashString 计算字符串的 MD5 哈希值。
func HashString(s string) string {
	hash := md5.Sum([]byte(s))
	return hex.EncodeToString(hash[:])
}

// TruncateString 截断字符串到指定的最大 Unicode 字符数。
func TruncateString(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxLen])
}
