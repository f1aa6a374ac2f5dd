// Package chunker 将文档切分为父子两级块。
//
// 切分按边界递归进行：先按段落，再按行、句子、单词，最后按任意字符位置，
// 保证每个块不超过字符上限，相邻块之间的重叠不超过配置值。
// 所有块都是原文的连续子串，长度和重叠均以 Unicode 字符计。
package chunker

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/kart-io/sage/internal/model"
)

// DefaultSeparators 由粗到细的切分边界，最后的空串表示按字符硬切。
var DefaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// keySpace 块键的 UUIDv5 命名空间，同一文档重建时键保持不变。
var keySpace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/kart-io/sage/chunk"))

// Options 两级切分参数。
type Options struct {
	ParentSize    int
	ParentOverlap int
	ChildSize     int
	ChildOverlap  int
}

// DefaultOptions 返回默认切分参数。
func DefaultOptions() Options {
	return Options{ParentSize: 2000, ParentOverlap: 200, ChildSize: 400, ChildOverlap: 50}
}

// Validate 校验切分参数。
func (o Options) Validate() error {
	if o.ParentSize <= 0 || o.ChildSize <= 0 {
		return fmt.Errorf("块大小必须为正数: parent=%d child=%d", o.ParentSize, o.ChildSize)
	}
	if o.ParentOverlap < 0 || o.ParentOverlap >= o.ParentSize {
		return fmt.Errorf("父块重叠必须在 [0, %d) 内: %d", o.ParentSize, o.ParentOverlap)
	}
	if o.ChildOverlap < 0 || o.ChildOverlap >= o.ChildSize {
		return fmt.Errorf("子块重叠必须在 [0, %d) 内: %d", o.ChildSize, o.ChildOverlap)
	}
	return nil
}

// Span 原文中的半开区间 [Start, End)，单位为字符。
type Span struct {
	Start int
	End   int
}

// Splitter 单级递归切分器。
type Splitter struct {
	size       int
	overlap    int
	separators [][]rune
}

// NewSplitter 创建切分器。
func NewSplitter(size, overlap int) (*Splitter, error) {
	if size <= 0 || overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("无效的切分参数: size=%d overlap=%d", size, overlap)
	}
	seps := make([][]rune, len(DefaultSeparators))
	for i, s := range DefaultSeparators {
		seps[i] = []rune(s)
	}
	return &Splitter{size: size, overlap: overlap, separators: seps}, nil
}

// Split 返回切分后的块区间，按原文顺序排列。仅含空白的块被丢弃。
func (s *Splitter) Split(text string) []Span {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	pieces := s.pieces(runes, Span{0, len(runes)}, s.separators)
	var out []Span
	for _, sp := range s.merge(pieces) {
		if strings.TrimSpace(string(runes[sp.Start:sp.End])) != "" {
			out = append(out, sp)
		}
	}
	return out
}

// SplitText 返回块文本。
func (s *Splitter) SplitText(text string) []string {
	runes := []rune(text)
	spans := s.Split(text)
	out := make([]string, len(spans))
	for i, sp := range spans {
		out[i] = string(runes[sp.Start:sp.End])
	}
	return out
}

// pieces 把区间切成连续且都不超过 size 的最小片段，分隔符归属前一片段。
func (s *Splitter) pieces(runes []rune, span Span, seps [][]rune) []Span {
	if span.End-span.Start <= s.size {
		return []Span{span}
	}
	if len(seps) == 0 || len(seps[0]) == 0 {
		return s.hardCut(span)
	}

	parts := cutAfter(runes, span, seps[0])
	if len(parts) == 1 {
		return s.pieces(runes, span, seps[1:])
	}

	out := make([]Span, 0, len(parts))
	for _, p := range parts {
		if p.End-p.Start <= s.size {
			out = append(out, p)
			continue
		}
		out = append(out, s.pieces(runes, p, seps[1:])...)
	}
	return out
}

func (s *Splitter) hardCut(span Span) []Span {
	var out []Span
	for start := span.Start; start < span.End; start += s.size {
		out = append(out, Span{start, min(start+s.size, span.End)})
	}
	return out
}

// merge 贪心合并片段；下一块从距离当前块末尾不超过 overlap 的最早片段开始。
func (s *Splitter) merge(pieces []Span) []Span {
	var chunks []Span
	i := 0
	for i < len(pieces) {
		start := pieces[i].Start
		j := i + 1
		for j < len(pieces) && pieces[j].End-start <= s.size {
			j++
		}
		end := pieces[j-1].End
		chunks = append(chunks, Span{start, end})
		if j == len(pieces) {
			break
		}

		next := j
		for k := i + 1; k < j; k++ {
			if end-pieces[k].Start <= s.overlap && pieces[j].End-pieces[k].Start <= s.size {
				next = k
				break
			}
		}
		i = next
	}
	return chunks
}

// cutAfter 在每个分隔符之后切开区间。
func cutAfter(runes []rune, span Span, sep []rune) []Span {
	var out []Span
	start := span.Start
	for i := span.Start; i+len(sep) <= span.End; {
		if hasPrefixAt(runes, i, sep) {
			i += len(sep)
			out = append(out, Span{start, i})
			start = i
			continue
		}
		i++
	}
	if start < span.End {
		out = append(out, Span{start, span.End})
	}
	return out
}

func hasPrefixAt(runes []rune, at int, sep []rune) bool {
	for k, r := range sep {
		if runes[at+k] != r {
			return false
		}
	}
	return true
}

// Chunker 两级切分：先切父块，再在每个父块内切子块。
type Chunker struct {
	opts   Options
	parent *Splitter
	child  *Splitter
}

// New 创建两级切分器。
func New(opts Options) (*Chunker, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	parent, err := NewSplitter(opts.ParentSize, opts.ParentOverlap)
	if err != nil {
		return nil, err
	}
	child, err := NewSplitter(opts.ChildSize, opts.ChildOverlap)
	if err != nil {
		return nil, err
	}
	return &Chunker{opts: opts, parent: parent, child: child}, nil
}

// Options 返回切分参数。
func (c *Chunker) Options() Options {
	return c.opts
}

// Split 切分单个文档，返回父块和带父块引用的子块。
func (c *Chunker) Split(doc model.Document) (parents, children []model.Chunk) {
	runes := []rune(doc.Content)
	for i, ps := range c.parent.Split(doc.Content) {
		content := string(runes[ps.Start:ps.End])
		parent := model.Chunk{
			Key:        chunkKey(doc.SourcePath, i),
			Content:    content,
			SourcePath: doc.SourcePath,
			TopicID:    doc.TopicID,
			Seq:        i,
			Offset:     ps.Start,
		}
		parents = append(parents, parent)

		childRunes := []rune(content)
		for j, cs := range c.child.Split(content) {
			children = append(children, model.Chunk{
				Key:        chunkKey(parent.Key, j),
				ParentKey:  parent.Key,
				Content:    string(childRunes[cs.Start:cs.End]),
				SourcePath: doc.SourcePath,
				TopicID:    doc.TopicID,
				Seq:        j,
				Offset:     cs.Start,
			})
		}
	}
	return parents, children
}

func chunkKey(scope string, seq int) string {
	return uuid.NewSHA1(keySpace, []byte(scope+"#"+strconv.Itoa(seq))).String()
}
