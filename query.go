package dirstore

// Query filters records by exact field equality. Every field must compare
// deep-equal (after numeric canonicalization) to the record's value. A nil
// or empty Query matches everything.
//
//	pikachu, ok, err := col.FindOne(ctx, dirstore.Query{"name": "Pikachu"})
type Query map[string]any

// Matches reports whether the record satisfies every query field.
func (q Query) Matches(r Record) bool {
	for k, want := range q {
		got, ok := r[k]
		if !ok {
			return false
		}

		if !valueEqual(got, want) {
			return false
		}
	}

	return true
}

// matchRoot returns the records of a root matching q: list roots scan
// records, map roots scan map-typed values.
func matchRoot(root Root, q Query) []Record {
	var out []Record

	switch root.Shape() {
	case ShapeList:
		for _, rec := range root.List() {
			if q.Matches(rec) {
				out = append(out, rec)
			}
		}
	case ShapeMap:
		for _, k := range root.keys() {
			m, ok := asMap(root.Map()[k])
			if !ok {
				continue
			}

			if q.Matches(m) {
				out = append(out, Record(m))
			}
		}
	}

	return out
}
