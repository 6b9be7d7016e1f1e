package dirstore

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func Test_Query_Matches_On_Exact_Field_Equality(t *testing.T) {
	t.Parallel()

	rec := Record{
		"name":  "Pikachu",
		"level": int64(25),
		"stats": map[string]any{"hp": int64(35)},
	}

	tests := []struct {
		name string
		q    Query
		want bool
	}{
		{"nil_query", nil, true},
		{"empty_query", Query{}, true},
		{"single_field", Query{"name": "Pikachu"}, true},
		{"numeric_across_types", Query{"level": 25}, true},
		{"nested_tree", Query{"stats": map[string]any{"hp": 35}}, true},
		{"all_fields_must_match", Query{"name": "Pikachu", "level": 1}, false},
		{"missing_field", Query{"type": "electric"}, false},
		{"wrong_value", Query{"name": "Raichu"}, false},
		{"partial_nested_does_not_match", Query{"stats": map[string]any{}}, false},
	}

	for _, tc := range tests {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := tc.q.Matches(rec); got != tc.want {
				t.Errorf("Matches(%v) = %v, want %v", tc.q, got, tc.want)
			}
		})
	}
}

func Test_MatchRoot_Scans_List_Records_In_Order(t *testing.T) {
	t.Parallel()

	root := newListRoot([]Record{
		{"id": int64(1), "type": "electric"},
		{"id": int64(2), "type": "fire"},
		{"id": int64(3), "type": "electric"},
	})

	got := matchRoot(root, Query{"type": "electric"})

	want := []Record{
		{"id": int64(1), "type": "electric"},
		{"id": int64(3), "type": "electric"},
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("matchRoot mismatch (-want +got):\n%s", diff)
	}
}

func Test_MatchRoot_Scans_Map_Values_And_Skips_Scalars(t *testing.T) {
	t.Parallel()

	root := newMapRoot(map[string]any{
		"b_user": map[string]any{"role": "admin"},
		"a_user": map[string]any{"role": "admin"},
		"count":  int64(2),
	})

	got := matchRoot(root, Query{"role": "admin"})

	// Map values scan in sorted key order; scalar values never match.
	want := []Record{
		{"role": "admin"},
		{"role": "admin"},
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("matchRoot mismatch (-want +got):\n%s", diff)
	}

	if got := matchRoot(root, nil); len(got) != 2 {
		t.Errorf("nil query matched %d map values, want 2 (scalars skipped)", len(got))
	}
}

func Test_MatchRoot_On_Shapeless_Root_Is_Empty(t *testing.T) {
	t.Parallel()

	if got := matchRoot(Root{}, nil); got != nil {
		t.Errorf("matchRoot on shapeless root = %v, want nil", got)
	}
}
