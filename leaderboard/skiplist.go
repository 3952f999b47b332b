package leaderboard

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"

	"salkit/core"
)

// An indexable skip list keyed by (score in board order, subject asc). Each
// forward link records its span so ranks resolve in O(log n).

const maxLevel = 16
const pFactor = 0.25

type node struct {
	e    Entry
	next [maxLevel]*node
	span [maxLevel]int
}

type SkipList struct {
	mu        sync.RWMutex
	order     core.SortMethod
	head      *node
	lvl       int
	length    int
	bySubject map[core.SubjectID]*node
	rng       *rand.Rand
}

// NewSkipList ranks lower scores first for SortAscending and higher scores
// first for SortDescending.
func NewSkipList(order core.SortMethod) *SkipList {
	// Use crypto/rand to generate a secure seed for PCG
	var seed [16]byte
	if _, err := cryptorand.Read(seed[:]); err != nil {
		seed = [16]byte{}
	}
	seed1 := binary.BigEndian.Uint64(seed[:8])
	seed2 := binary.BigEndian.Uint64(seed[8:])

	return &SkipList{
		order:     order,
		head:      &node{},
		lvl:       1,
		bySubject: map[core.SubjectID]*node{},
		rng:       rand.New(rand.NewPCG(seed1, seed2)),
	}
}

func (s *SkipList) randomLevel() int {
	lvl := 1
	for lvl < maxLevel && s.rng.Float64() < pFactor {
		lvl++
	}
	return lvl
}

func (s *SkipList) less(a, b Entry) bool {
	if a.Score == b.Score {
		au, bu := a.Subject.Uint64(), b.Subject.Uint64()
		if au != bu {
			return au < bu
		}
		return a.Subject < b.Subject
	}
	if s.order == core.SortAscending {
		return a.Score < b.Score
	}
	return a.Score > b.Score
}

// Update inserts subject or moves it to a new score.
func (s *SkipList) Update(subject core.SubjectID, score int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.bySubject[subject]; ok {
		if old.e.Score == score {
			return
		}
		s.removeLocked(old.e)
	}
	e := Entry{Subject: subject, Score: score}
	var update [maxLevel]*node
	var rank [maxLevel]int
	cur := s.head
	for i := s.lvl - 1; i >= 0; i-- {
		if i < s.lvl-1 {
			rank[i] = rank[i+1]
		}
		for cur.next[i] != nil && s.less(cur.next[i].e, e) {
			rank[i] += cur.span[i]
			cur = cur.next[i]
		}
		update[i] = cur
	}
	lvl := s.randomLevel()
	if lvl > s.lvl {
		for i := s.lvl; i < lvl; i++ {
			rank[i] = 0
			update[i] = s.head
			update[i].span[i] = s.length
		}
		s.lvl = lvl
	}
	n := &node{e: e}
	for i := 0; i < lvl; i++ {
		n.next[i] = update[i].next[i]
		update[i].next[i] = n
		n.span[i] = update[i].span[i] - (rank[0] - rank[i])
		update[i].span[i] = rank[0] - rank[i] + 1
	}
	for i := lvl; i < s.lvl; i++ {
		update[i].span[i]++
	}
	s.length++
	s.bySubject[subject] = n
}

func (s *SkipList) removeLocked(e Entry) {
	var update [maxLevel]*node
	cur := s.head
	for i := s.lvl - 1; i >= 0; i-- {
		for cur.next[i] != nil && s.less(cur.next[i].e, e) {
			cur = cur.next[i]
		}
		update[i] = cur
	}
	target := update[0].next[0]
	if target == nil || target.e.Subject != e.Subject {
		return
	}
	for i := 0; i < s.lvl; i++ {
		if update[i].next[i] == target {
			update[i].span[i] += target.span[i] - 1
			update[i].next[i] = target.next[i]
		} else {
			update[i].span[i]--
		}
	}
	delete(s.bySubject, e.Subject)
	for s.lvl > 1 && s.head.next[s.lvl-1] == nil {
		s.lvl--
	}
	s.length--
}

func (s *SkipList) Remove(subject core.SubjectID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.bySubject[subject]; ok {
		s.removeLocked(n.e)
	}
}

func (s *SkipList) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.length
}

// Get returns the subject's entry with its rank.
func (s *SkipList) Get(subject core.SubjectID) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.bySubject[subject]
	if !ok {
		return Entry{}, false
	}
	e := n.e
	e.Rank = s.rankLocked(n.e)
	return e, true
}

// Rank returns the 1-based rank of subject, or 0 when absent.
func (s *SkipList) Rank(subject core.SubjectID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.bySubject[subject]
	if !ok {
		return 0
	}
	return s.rankLocked(n.e)
}

func (s *SkipList) rankLocked(e Entry) int {
	rank := 0
	cur := s.head
	for i := s.lvl - 1; i >= 0; i-- {
		for cur.next[i] != nil && !s.less(e, cur.next[i].e) {
			rank += cur.span[i]
			cur = cur.next[i]
		}
		if cur != s.head && cur.e.Subject == e.Subject {
			return rank
		}
	}
	return 0
}

func (s *SkipList) byRankLocked(r int) *node {
	traversed := 0
	cur := s.head
	for i := s.lvl - 1; i >= 0; i-- {
		for cur.next[i] != nil && traversed+cur.span[i] <= r {
			traversed += cur.span[i]
			cur = cur.next[i]
		}
		if traversed == r {
			return cur
		}
	}
	return nil
}

func (s *SkipList) TopN(n int) []Entry {
	if n <= 0 {
		return nil
	}
	return s.Range(1, n)
}

// Range returns ranks start..end inclusive, clipped to the board.
func (s *SkipList) Range(start, end int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rangeLocked(start, end)
}

func (s *SkipList) rangeLocked(start, end int) []Entry {
	if start < 1 {
		start = 1
	}
	if end > s.length {
		end = s.length
	}
	if end < start {
		return nil
	}
	out := make([]Entry, 0, end-start+1)
	cur := s.byRankLocked(start)
	for r := start; cur != nil && r <= end; r++ {
		e := cur.e
		e.Rank = r
		out = append(out, e)
		cur = cur.next[0]
	}
	return out
}

// Around returns the entries from before to after ranks relative to subject,
// e.g. Around(id, -5, 5). An absent subject yields nil.
func (s *SkipList) Around(subject core.SubjectID, before, after int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.bySubject[subject]
	if !ok {
		return nil
	}
	r := s.rankLocked(n.e)
	return s.rangeLocked(r+before, r+after)
}

var _ Board = (*SkipList)(nil)
