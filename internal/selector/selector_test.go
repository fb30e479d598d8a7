package selector

import (
	"fmt"
	"testing"

	"github.com/google/uuid"

	"github.com/evalhub/examsession/internal/model"
)

func makePool(n int) []model.Question {
	pool := make([]model.Question, n)
	for i := range pool {
		pool[i] = model.Question{
			ID:      uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("q-%d", i))),
			Content: fmt.Sprintf("question %d", i),
		}
	}
	return pool
}

func TestSelectDeterministic(t *testing.T) {
	pool := makePool(20)
	seed := "student:42:alice:exam:6f1c7a1e-0000-0000-0000-000000000001"

	first := Select(pool, 5, seed)
	second := Select(pool, 5, seed)

	if len(first) != 5 {
		t.Fatalf("expected 5 questions, got %d", len(first))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Fatalf("position %d differs between identical calls: %s vs %s", i, first[i].ID, second[i].ID)
		}
	}
}

func TestSelectIsSubsetOfPool(t *testing.T) {
	pool := makePool(30)
	ids := make(map[uuid.UUID]bool, len(pool))
	for _, q := range pool {
		ids[q.ID] = true
	}

	subset := Select(pool, 12, "seed-a")
	if len(subset) != 12 {
		t.Fatalf("expected 12 questions, got %d", len(subset))
	}

	seen := make(map[uuid.UUID]bool, len(subset))
	for _, q := range subset {
		if !ids[q.ID] {
			t.Errorf("question %s not present in source pool", q.ID)
		}
		if seen[q.ID] {
			t.Errorf("question %s selected twice", q.ID)
		}
		seen[q.ID] = true
	}
}

func TestSelectSmallPoolPassthrough(t *testing.T) {
	pool := makePool(4)

	got := Select(pool, 10, "any-seed")
	if len(got) != len(pool) {
		t.Fatalf("expected full pool of %d, got %d", len(pool), len(got))
	}
	for i := range pool {
		if got[i].ID != pool[i].ID {
			t.Fatalf("order changed at position %d", i)
		}
	}
}

func TestSelectDifferentSeedsDiverge(t *testing.T) {
	pool := makePool(50)

	a := Select(pool, 10, "student:1:alice:exam:x")
	b := Select(pool, 10, "student:2:bob:exam:x")

	same := true
	for i := range a {
		if a[i].ID != b[i].ID {
			same = false
			break
		}
	}
	if same {
		t.Fatal("distinct seeds produced identical selections")
	}
}

func TestSelectEmptyPool(t *testing.T) {
	if got := Select(nil, 5, "seed"); len(got) != 0 {
		t.Fatalf("expected empty subset, got %d entries", len(got))
	}
}

func TestSelectDoesNotMutatePool(t *testing.T) {
	pool := makePool(15)
	before := make([]uuid.UUID, len(pool))
	for i, q := range pool {
		before[i] = q.ID
	}

	Select(pool, 5, "seed")

	for i, q := range pool {
		if q.ID != before[i] {
			t.Fatalf("source pool mutated at position %d", i)
		}
	}
}
