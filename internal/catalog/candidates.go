package catalog

// CandidateSet merges query results by product id. Insertion order is kept;
// a later Put with an existing id replaces the stored product in place.
type CandidateSet struct {
	order []string
	byID  map[string]Product
}

// NewCandidateSet returns an empty set.
func NewCandidateSet() *CandidateSet {
	return &CandidateSet{byID: make(map[string]Product)}
}

// Put inserts or replaces p.
func (s *CandidateSet) Put(p Product) {
	if _, ok := s.byID[p.ID]; !ok {
		s.order = append(s.order, p.ID)
	}
	s.byID[p.ID] = p
}

// Merge puts every product of one query result.
func (s *CandidateSet) Merge(products []Product) {
	for _, p := range products {
		s.Put(p)
	}
}

// Get returns the product stored for id.
func (s *CandidateSet) Get(id string) (Product, bool) {
	p, ok := s.byID[id]
	return p, ok
}

// Len returns the number of distinct products.
func (s *CandidateSet) Len() int {
	return len(s.order)
}

// Products returns the products in insertion order.
func (s *CandidateSet) Products() []Product {
	out := make([]Product, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}
