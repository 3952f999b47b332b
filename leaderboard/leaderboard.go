package leaderboard

import "salkit/core"

// Entry is one ranked score. Rank is 1-based and only set on query results.
type Entry struct {
	Subject core.SubjectID
	Score   int32
	Rank    int
}

// Board abstracts ranking operations over one leaderboard.
type Board interface {
	Update(subject core.SubjectID, score int32)
	Remove(subject core.SubjectID)
	Get(subject core.SubjectID) (Entry, bool)
	Rank(subject core.SubjectID) int
	TopN(n int) []Entry
	Range(start, end int) []Entry
	Around(subject core.SubjectID, before, after int) []Entry
	Len() int
}
