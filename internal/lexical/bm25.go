// Package lexical provides an in-memory BM25 index over chunk and
// pattern text for the keyword arm of hybrid retrieval.
package lexical

import (
	"math"
	"sort"
	"sync"

	"github.com/fyrsmithlabs/playbookd/internal/normalize"
)

const (
	k1 = 1.5
	b  = 0.75
)

// Document is one indexable text with filterable metadata.
type Document struct {
	ID       string
	Content  string
	Metadata map[string]string
}

// Hit is one ranked search result.
type Hit struct {
	ID       string
	Content  string
	Score    float64
	Metadata map[string]string
}

type indexedDoc struct {
	doc    Document
	terms  map[string]int
	length int
}

// Index is a BM25 inverted index. Safe for concurrent use.
type Index struct {
	mu       sync.RWMutex
	docs     map[string]*indexedDoc
	postings map[string]map[string]struct{} // term -> doc IDs
	totalLen int
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{
		docs:     make(map[string]*indexedDoc),
		postings: make(map[string]map[string]struct{}),
	}
}

// Add indexes documents, replacing any existing entry with the same ID.
func (idx *Index) Add(docs ...Document) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, doc := range docs {
		if doc.ID == "" {
			continue
		}
		idx.removeLocked(doc.ID)

		words := normalize.Keywords(doc.Content)
		terms := make(map[string]int, len(words))
		for _, w := range words {
			terms[w]++
		}
		idx.docs[doc.ID] = &indexedDoc{doc: doc, terms: terms, length: len(words)}
		idx.totalLen += len(words)
		for term := range terms {
			if idx.postings[term] == nil {
				idx.postings[term] = make(map[string]struct{})
			}
			idx.postings[term][doc.ID] = struct{}{}
		}
	}
}

// Remove drops documents by ID.
func (idx *Index) Remove(ids ...string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, id := range ids {
		idx.removeLocked(id)
	}
}

func (idx *Index) removeLocked(id string) {
	d, ok := idx.docs[id]
	if !ok {
		return
	}
	idx.totalLen -= d.length
	for term := range d.terms {
		delete(idx.postings[term], id)
		if len(idx.postings[term]) == 0 {
			delete(idx.postings, term)
		}
	}
	delete(idx.docs, id)
}

// Len returns the number of indexed documents.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.docs)
}

// Search returns up to k documents ranked by BM25 score, highest first,
// restricted to documents matching every filter (nil for none). Ties
// break on document ID for stable output.
func (idx *Index) Search(query string, k int, filters map[string]string) []Hit {
	if k <= 0 {
		return nil
	}
	terms := normalize.Keywords(query)
	if len(terms) == 0 {
		return nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	n := len(idx.docs)
	if n == 0 {
		return nil
	}
	avgLen := float64(idx.totalLen) / float64(n)

	scores := make(map[string]float64)
	for _, term := range terms {
		posting := idx.postings[term]
		if len(posting) == 0 {
			continue
		}
		idf := math.Log(1 + (float64(n)-float64(len(posting))+0.5)/(float64(len(posting))+0.5))
		for id := range posting {
			d := idx.docs[id]
			if !matchesFilters(d.doc.Metadata, filters) {
				continue
			}
			tf := float64(d.terms[term])
			denom := tf + k1*(1-b+b*float64(d.length)/avgLen)
			scores[id] += idf * tf * (k1 + 1) / denom
		}
	}

	hits := make([]Hit, 0, len(scores))
	for id, score := range scores {
		d := idx.docs[id]
		hits = append(hits, Hit{
			ID:       id,
			Content:  d.doc.Content,
			Score:    score,
			Metadata: d.doc.Metadata,
		})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

func matchesFilters(metadata, filters map[string]string) bool {
	for key, want := range filters {
		if metadata[key] != want {
			return false
		}
	}
	return true
}
