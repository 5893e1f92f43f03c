package rag

import (
	"hash/fnv"
	"strings"
	"sync"
	"unicode"
)

// DedupOptions 近重复合并配置
type DedupOptions struct {
	Threshold float64      // Jaccard 相似度阈值,达到即视为重复
	Rank      []Provenance // 来源可信度排序,靠前者优先保留
}

// AddResult 单个分块的去重裁决
type AddResult struct {
	// Keep 为 true 时该分块进入索引
	Keep bool
	// Aliases 需要并入本分块的来源文档(被吸收的重复分块的文档及其别名)
	Aliases []string
	// Supersedes 非空时,索引中该内容哈希的旧条目应被删除(本分块来源更可信)
	Supersedes string
	// KeptBy 被判重时指向吸收它的已保留分块的内容哈希
	KeptBy string
}

// Deduplicator 批内近重复检测。
// 用 rune 4-gram shingle 集合的 Jaccard 相似度判重;
// 重复时保留可信来源排名更高的分块,另一个坍缩为其别名。
// 状态是批作用域的,跨批请调用 Reset 或新建实例。
// 裁决只通过返回值传递:传入的 Chunk 归属各自文档的协程,
// 去重器绝不改写它们。
type Deduplicator struct {
	threshold float64
	rank      map[Provenance]int

	mu   sync.Mutex
	kept []*keptChunk
}

// keptChunk 已保留分块及其在去重器内部积累的别名台账
type keptChunk struct {
	chunk    *Chunk
	shingles map[uint64]struct{}
	aliases  []string
}

func (k *keptChunk) hasAlias(docID string) bool {
	for _, a := range k.aliases {
		if a == docID {
			return true
		}
	}
	return false
}

// NewDeduplicator 创建去重器
func NewDeduplicator(opts DedupOptions) *Deduplicator {
	if opts.Threshold <= 0 || opts.Threshold > 1 {
		opts.Threshold = 0.9
	}
	if len(opts.Rank) == 0 {
		opts.Rank = []Provenance{ProvenancePDFNative, ProvenanceWeb, ProvenancePDFScanned}
	}
	rank := make(map[Provenance]int, len(opts.Rank))
	for i, p := range opts.Rank {
		rank[p] = i
	}
	return &Deduplicator{
		threshold: opts.Threshold,
		rank:      rank,
	}
}

// Reset 清空批作用域状态
func (d *Deduplicator) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.kept = nil
}

// rankOf 来源可信度,数值越小越可信;未配置的来源排最后
func (d *Deduplicator) rankOf(p Provenance) int {
	if r, ok := d.rank[p]; ok {
		return r
	}
	return len(d.rank)
}

// Add 裁决一个分块。重复时:
//   - 已保留分块更可信 → Keep=false,本文档成为它的别名(KeptBy);
//   - 本分块更可信 → Keep=true 且 Supersedes 指向应删除的旧条目,
//     旧分块的文档与别名全部并入本分块。
func (d *Deduplicator) Add(chunk *Chunk) AddResult {
	shingles := shingleSet(chunk.Text)

	d.mu.Lock()
	defer d.mu.Unlock()

	for i, k := range d.kept {
		if jaccard(shingles, k.shingles) < d.threshold {
			continue
		}

		if d.rankOf(chunk.Provenance) < d.rankOf(k.chunk.Provenance) {
			// 新分块来源更可信,取代旧分块
			aliases := mergeAliases(k, chunk.DocumentID)
			old := k.chunk.ContentHash
			if old == chunk.ContentHash {
				// 文本逐字相同时内容哈希一致,Upsert 本身就是覆盖
				old = ""
			}
			d.kept[i] = &keptChunk{chunk: chunk, shingles: shingles, aliases: aliases}
			return AddResult{Keep: true, Aliases: aliases, Supersedes: old}
		}

		// 旧分块保留,本文档记作别名。
		// 只记到去重器自己的台账:已保留的 Chunk 归属另一个
		// 可能还在运行的文档协程,不能在这里改写它。
		if chunk.DocumentID != k.chunk.DocumentID && !k.hasAlias(chunk.DocumentID) {
			k.aliases = append(k.aliases, chunk.DocumentID)
			return AddResult{Keep: false, Aliases: []string{chunk.DocumentID}, KeptBy: k.chunk.ContentHash}
		}
		return AddResult{Keep: false, KeptBy: k.chunk.ContentHash}
	}

	d.kept = append(d.kept, &keptChunk{chunk: chunk, shingles: shingles})
	return AddResult{Keep: true}
}

// mergeAliases 被取代分块的文档与其积累的别名并入新分块
func mergeAliases(old *keptChunk, selfDoc string) []string {
	seen := map[string]struct{}{selfDoc: {}}
	var out []string
	add := func(id string) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	add(old.chunk.DocumentID)
	for _, a := range old.aliases {
		add(a)
	}
	return out
}

const shingleSize = 4

// shingleSet 文本的 rune 4-gram 指纹集合。
// 先折叠大小写并去掉空白,让排版差异不影响判重。
func shingleSet(text string) map[uint64]struct{} {
	var runes []rune
	for _, r := range strings.ToLower(text) {
		if unicode.IsSpace(r) {
			continue
		}
		runes = append(runes, r)
	}

	set := make(map[uint64]struct{})
	if len(runes) == 0 {
		return set
	}
	if len(runes) < shingleSize {
		set[hashRunes(runes)] = struct{}{}
		return set
	}
	for i := 0; i+shingleSize <= len(runes); i++ {
		set[hashRunes(runes[i:i+shingleSize])] = struct{}{}
	}
	return set
}

func hashRunes(runes []rune) uint64 {
	h := fnv.New64a()
	for _, r := range runes {
		h.Write([]byte{byte(r), byte(r >> 8), byte(r >> 16), byte(r >> 24)})
	}
	return h.Sum64()
}

// jaccard 集合相似度 |A∩B| / |A∪B|
func jaccard(a, b map[uint64]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for k := range small {
		if _, ok := large[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
