package comments

import (
	"reflect"
	"testing"
)

func sampleForest() Forest {
	return Forest{
		{ID: 1, Author: "Ann", Body: "root one", Replies: []Comment{
			{ID: 2, Author: "Bob", Body: "reply", Replies: []Comment{
				{ID: 3, Author: "Cara", Body: "deep", Replies: []Comment{}},
			}},
			{ID: 4, Author: "Dee", Body: "second reply", Replies: []Comment{}},
		}},
		{ID: 5, Author: "Eve", Body: "root two", Replies: []Comment{
			{ID: 6, Author: "Fin", Body: "other branch", Replies: []Comment{}},
		}},
	}
}

func shape(list []Comment) []any {
	out := make([]any, 0, len(list))
	for _, c := range list {
		out = append(out, []any{c.ID, shape(c.Replies)})
	}
	return out
}

func TestCountWalksEveryDepth(t *testing.T) {
	if got := Count(sampleForest()); got != 6 {
		t.Fatalf("Count() = %d, want 6", got)
	}
	if got := Count(Forest{}); got != 0 {
		t.Fatalf("Count(empty) = %d, want 0", got)
	}
}

func TestFindReachesDeepReplies(t *testing.T) {
	forest := sampleForest()
	found, ok := Find(forest, 3)
	if !ok {
		t.Fatal("expected to find id 3")
	}
	if found.Author != "Cara" {
		t.Fatalf("unexpected comment: %+v", found)
	}
	if _, ok := Find(forest, 99); ok {
		t.Fatal("did not expect to find id 99")
	}
}

func TestPrependPutsNewRootFirst(t *testing.T) {
	forest := sampleForest()
	next := Prepend(forest, Comment{ID: 7, Author: "Gus", Body: "new"})
	if next[0].ID != 7 {
		t.Fatalf("expected new root first, got %d", next[0].ID)
	}
	if next[0].Replies == nil {
		t.Fatal("expected replies to be an empty slice")
	}
	if len(forest) != 2 {
		t.Fatal("input forest was modified")
	}
}

func TestAppendReplyAddsLastAtAnyDepth(t *testing.T) {
	forest := sampleForest()
	next, ok := AppendReply(forest, 3, Comment{ID: 8, Author: "Hal", Body: "deeper"})
	if !ok {
		t.Fatal("expected parent 3 to be found")
	}
	parent, _ := Find(next, 3)
	if len(parent.Replies) != 1 || parent.Replies[0].ID != 8 {
		t.Fatalf("unexpected replies: %+v", parent.Replies)
	}

	next, ok = AppendReply(next, 1, Comment{ID: 9, Author: "Ivy", Body: "late"})
	if !ok {
		t.Fatal("expected parent 1 to be found")
	}
	root, _ := Find(next, 1)
	if last := root.Replies[len(root.Replies)-1]; last.ID != 9 {
		t.Fatalf("expected reply appended last, got %d", last.ID)
	}

	original, _ := Find(forest, 3)
	if len(original.Replies) != 0 {
		t.Fatal("input forest was modified")
	}
}

func TestAppendReplyUnknownParent(t *testing.T) {
	forest := sampleForest()
	next, ok := AppendReply(forest, 42, Comment{ID: 10})
	if ok {
		t.Fatal("expected unknown parent")
	}
	if !reflect.DeepEqual(shape(next), shape(forest)) {
		t.Fatal("forest changed for unknown parent")
	}
}

func TestRemoveDropsWholeSubtree(t *testing.T) {
	tests := []struct {
		name    string
		id      int64
		removed int
		want    []any
	}{
		{
			name:    "root with nested replies",
			id:      1,
			removed: 4,
			want:    []any{[]any{int64(5), []any{[]any{int64(6), []any{}}}}},
		},
		{
			name:    "middle of a branch",
			id:      2,
			removed: 2,
			want: []any{
				[]any{int64(1), []any{[]any{int64(4), []any{}}}},
				[]any{int64(5), []any{[]any{int64(6), []any{}}}},
			},
		},
		{
			name:    "leaf in another branch",
			id:      6,
			removed: 1,
			want: []any{
				[]any{int64(1), []any{
					[]any{int64(2), []any{[]any{int64(3), []any{}}}},
					[]any{int64(4), []any{}},
				}},
				[]any{int64(5), []any{}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			forest := sampleForest()
			next, removed := Remove(forest, tt.id)
			if removed == nil || removed.ID != tt.id {
				t.Fatalf("unexpected removed subtree: %+v", removed)
			}
			if got := Count(forest) - Count(next); got != tt.removed {
				t.Fatalf("removed %d comments, want %d", got, tt.removed)
			}
			if got := len(IDs(*removed)); got != tt.removed {
				t.Fatalf("IDs() returned %d ids, want %d", got, tt.removed)
			}
			if !reflect.DeepEqual(shape(next), tt.want) {
				t.Fatalf("shape = %v, want %v", shape(next), tt.want)
			}
		})
	}
}

func TestRemoveUnknownIDIsNoop(t *testing.T) {
	forest := sampleForest()
	next, removed := Remove(forest, 404)
	if removed != nil {
		t.Fatalf("expected nothing removed, got %+v", removed)
	}
	if !reflect.DeepEqual(shape(next), shape(forest)) {
		t.Fatal("forest changed for unknown id")
	}
}

func TestMaxIDAndWalk(t *testing.T) {
	forest := sampleForest()
	if got := MaxID(forest); got != 6 {
		t.Fatalf("MaxID() = %d, want 6", got)
	}

	parents := map[int64]int64{}
	Walk(forest, func(parentID int64, c Comment) {
		parents[c.ID] = parentID
	})
	want := map[int64]int64{1: 0, 2: 1, 3: 2, 4: 1, 5: 0, 6: 5}
	if !reflect.DeepEqual(parents, want) {
		t.Fatalf("Walk parents = %v, want %v", parents, want)
	}
}
