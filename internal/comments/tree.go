package comments

// The functions below never mutate their input; each returns a fresh forest
// that shares no slices with the one it was given.

// Normalize returns a deep copy in which every Replies slice is non-nil.
func Normalize(forest Forest) Forest {
	return Forest(cloneList(forest))
}

// Count returns the number of comments at every depth.
func Count(forest Forest) int {
	return countList(forest)
}

func countList(list []Comment) int {
	total := 0
	for _, c := range list {
		total += 1 + countList(c.Replies)
	}
	return total
}

// Find looks up a comment by id anywhere in the forest.
func Find(forest Forest, id int64) (*Comment, bool) {
	return findIn(forest, id)
}

func findIn(list []Comment, id int64) (*Comment, bool) {
	for i := range list {
		if list[i].ID == id {
			return &list[i], true
		}
		if found, ok := findIn(list[i].Replies, id); ok {
			return found, true
		}
	}
	return nil, false
}

// Prepend puts a new root comment in front of the existing ones.
func Prepend(forest Forest, c Comment) Forest {
	out := make(Forest, 0, len(forest)+1)
	out = append(out, cloneComment(c))
	out = append(out, cloneList(forest)...)
	return out
}

// AppendReply adds reply as the last reply of the comment with parentID.
// It reports false, and returns an unchanged copy, when parentID is unknown.
func AppendReply(forest Forest, parentID int64, reply Comment) (Forest, bool) {
	out := Normalize(forest)
	parent, ok := findIn(out, parentID)
	if !ok {
		return out, false
	}
	parent.Replies = append(parent.Replies, cloneComment(reply))
	return out, true
}

// Remove drops the comment with id, together with all of its replies, from
// whatever level it sits on. The removed subtree is returned, nil if absent.
func Remove(forest Forest, id int64) (Forest, *Comment) {
	var removed *Comment
	out := removeFrom(forest, id, &removed)
	return Forest(out), removed
}

func removeFrom(list []Comment, id int64, removed **Comment) []Comment {
	out := make([]Comment, 0, len(list))
	for _, c := range list {
		if c.ID == id {
			if *removed == nil {
				cp := cloneComment(c)
				*removed = &cp
			}
			continue
		}
		next := c
		next.Replies = removeFrom(c.Replies, id, removed)
		out = append(out, next)
	}
	return out
}

// MaxID returns the largest id in the forest, 0 when empty.
func MaxID(forest Forest) int64 {
	return maxIn(forest)
}

func maxIn(list []Comment) int64 {
	var max int64
	for _, c := range list {
		if c.ID > max {
			max = c.ID
		}
		if m := maxIn(c.Replies); m > max {
			max = m
		}
	}
	return max
}

// IDs lists the ids of c and every descendant, depth first.
func IDs(c Comment) []int64 {
	ids := []int64{c.ID}
	for _, r := range c.Replies {
		ids = append(ids, IDs(r)...)
	}
	return ids
}

// Walk visits every comment depth first, passing the id of its parent
// (0 for roots).
func Walk(forest Forest, fn func(parentID int64, c Comment)) {
	walk(forest, 0, fn)
}

func walk(list []Comment, parentID int64, fn func(int64, Comment)) {
	for _, c := range list {
		fn(parentID, c)
		walk(c.Replies, c.ID, fn)
	}
}

func cloneList(list []Comment) []Comment {
	out := make([]Comment, len(list))
	for i, c := range list {
		out[i] = cloneComment(c)
	}
	return out
}

func cloneComment(c Comment) Comment {
	c.Replies = cloneList(c.Replies)
	return c
}
