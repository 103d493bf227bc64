package index

import "github.com/huandu/skiplist"

// PostingList is the ordered set of document ordinals holding one term in one
// field. Ordinals are insertion positions, so list order is index order.
type PostingList struct {
	list *skiplist.SkipList
}

func newPostingList() *PostingList {
	return &PostingList{list: skiplist.New(skiplist.Uint64)}
}

func (p *PostingList) add(ord uint64) {
	p.list.Set(ord, nil)
}

// Len returns the number of documents in the list.
func (p *PostingList) Len() int {
	if p == nil {
		return 0
	}
	return p.list.Len()
}

// Ordinals returns the members in ascending order.
func (p *PostingList) Ordinals() []uint64 {
	if p == nil {
		return nil
	}
	out := make([]uint64, 0, p.list.Len())
	for e := p.list.Front(); e != nil; e = e.Next() {
		out = append(out, e.Key().(uint64))
	}
	return out
}

// TermEntry pairs a term with its postings, used for stats and snapshots.
type TermEntry struct {
	Field    string
	Term     string
	DocFreq  int
	Postings []uint64
}

// UnionLists merges posting lists into one ascending, duplicate-free slice by
// walking every list front to back and always taking the smallest head.
func UnionLists(lists ...*PostingList) []uint64 {
	iters := make([]*skiplist.Element, 0, len(lists))
	total := 0
	for _, l := range lists {
		if l.Len() == 0 {
			continue
		}
		iters = append(iters, l.list.Front())
		total += l.Len()
	}
	if len(iters) == 1 {
		return lists[indexOfNonEmpty(lists)].Ordinals()
	}
	out := make([]uint64, 0, total)
	for {
		var minKey uint64
		found := false
		for _, e := range iters {
			if e == nil {
				continue
			}
			k := e.Key().(uint64)
			if !found || k < minKey {
				minKey = k
				found = true
			}
		}
		if !found {
			return out
		}
		out = append(out, minKey)
		for i, e := range iters {
			if e != nil && e.Key().(uint64) == minKey {
				iters[i] = e.Next()
			}
		}
	}
}

func indexOfNonEmpty(lists []*PostingList) int {
	for i, l := range lists {
		if l.Len() > 0 {
			return i
		}
	}
	return -1
}

// Intersect returns the ordinals present in both ascending slices.
func Intersect(a, b []uint64) []uint64 {
	out := make([]uint64, 0, min(len(a), len(b)))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			out = append(out, a[i])
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return out
}
