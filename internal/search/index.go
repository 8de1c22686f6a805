package search

import (
	"sort"
	"sync"
)

// Field identifies which text field of a message a posting came from.
type Field int

const (
	FieldContent Field = iota
	FieldThinking
)

// Posting records the occurrences of one stem in one (document, field) pair.
type Posting struct {
	DocID     string
	Field     Field
	Positions []int

	seq uint64 // insertion order across the whole index
}

type postingKey struct {
	docID string
	field Field
}

type termRef struct {
	stem  string
	field Field
}

// Index is an in-memory inverted index mapping stems to posting lists.
// It is the only mutable shared structure on the capture path: guarded by a
// RWMutex, last-writer-visible. Removal is atomic per document: a concurrent
// lookup sees either all of a document's postings or none.
type Index struct {
	mu    sync.RWMutex
	seq   uint64
	terms map[string]map[postingKey]*Posting
	docs  map[string][]termRef
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{
		terms: make(map[string]map[postingKey]*Posting),
		docs:  make(map[string][]termRef),
	}
}

// Add tokenizes text and appends position-tagged postings for each stem
// under the (docID, field) key. Indexing the same (docID, field) twice
// appends positions; callers index each captured message exactly once.
func (idx *Index) Add(docID string, field Field, text string) {
	tokens := Analyze(text)
	if len(tokens) == 0 {
		return
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	key := postingKey{docID: docID, field: field}
	for _, tok := range tokens {
		list, ok := idx.terms[tok.Stem]
		if !ok {
			list = make(map[postingKey]*Posting)
			idx.terms[tok.Stem] = list
		}
		p, ok := list[key]
		if !ok {
			idx.seq++
			p = &Posting{DocID: docID, Field: field, seq: idx.seq}
			list[key] = p
			idx.docs[docID] = append(idx.docs[docID], termRef{stem: tok.Stem, field: field})
		}
		p.Positions = append(p.Positions, tok.Position)
	}
}

// Remove purges every posting for a document, in time proportional to the
// document's own postings. Atomic relative to lookups: the write lock means
// no reader can observe a half-removed document.
func (idx *Index) Remove(docID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, ref := range idx.docs[docID] {
		list := idx.terms[ref.stem]
		delete(list, postingKey{docID: docID, field: ref.field})
		if len(list) == 0 {
			delete(idx.terms, ref.stem)
		}
	}
	delete(idx.docs, docID)
}

// Lookup returns copies of the posting list for a stem in insertion order.
func (idx *Index) Lookup(stem string) []Posting {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	list := idx.terms[stem]
	if len(list) == 0 {
		return nil
	}
	out := make([]Posting, 0, len(list))
	for _, p := range list {
		cp := *p
		cp.Positions = append([]int(nil), p.Positions...)
		out = append(out, cp)
	}
	sortPostings(out)
	return out
}

// DocMatch accumulates, per candidate document, the query-term hits in each
// field. Positions are word positions used later for snippets.
type DocMatch struct {
	DocID             string
	ContentHits       int
	ThinkingHits      int
	ContentPositions  []int
	ThinkingPositions []int
}

// Candidates returns the union of documents appearing in any queried stem's
// posting list (OR semantics). A document containing none of the stems is
// never a candidate. The whole union is gathered under one read lock so a
// concurrent Remove cannot leave a document half-represented.
func (idx *Index) Candidates(stems []string) map[string]*DocMatch {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	matches := make(map[string]*DocMatch)
	for _, stem := range stems {
		for _, p := range idx.terms[stem] {
			m, ok := matches[p.DocID]
			if !ok {
				m = &DocMatch{DocID: p.DocID}
				matches[p.DocID] = m
			}
			switch p.Field {
			case FieldContent:
				m.ContentHits += len(p.Positions)
				m.ContentPositions = append(m.ContentPositions, p.Positions...)
			case FieldThinking:
				m.ThinkingHits += len(p.Positions)
				m.ThinkingPositions = append(m.ThinkingPositions, p.Positions...)
			}
		}
	}
	return matches
}

// DocCount returns the number of indexed documents.
func (idx *Index) DocCount() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.docs)
}

func sortPostings(ps []Posting) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].seq < ps[j].seq })
}
