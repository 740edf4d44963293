package skeleton

import (
	"sort"

	"github.com/pkg/errors"
)

// UserKey identifies a tracked user within one camera.
type UserKey struct {
	Camera int    `json:"camera"`
	User   UserID `json:"user"`
}

// IdentitySet is a union-find over per-camera users. Classes can be marked mutually exclusive,
// which forbids merging them; exclusions follow classes through later unions.
// It is not safe for concurrent mutation.
type IdentitySet struct {
	keys      []UserKey
	index     map[UserKey]int
	parent    []int
	rank      []int
	exclusive []map[int]struct{}

	global []int
	count  int
}

// NewIdentitySet starts with every key in its own class.
func NewIdentitySet(keys []UserKey) *IdentitySet {
	s := &IdentitySet{
		index:     make(map[UserKey]int, len(keys)),
		parent:    make([]int, 0, len(keys)),
		rank:      make([]int, 0, len(keys)),
		exclusive: make([]map[int]struct{}, 0, len(keys)),
	}
	for _, k := range keys {
		s.add(k)
	}
	return s
}

func (s *IdentitySet) add(k UserKey) int {
	if i, ok := s.index[k]; ok {
		return i
	}
	i := len(s.keys)
	s.keys = append(s.keys, k)
	s.index[k] = i
	s.parent = append(s.parent, i)
	s.rank = append(s.rank, 0)
	s.exclusive = append(s.exclusive, nil)
	s.global = nil
	return i
}

func (s *IdentitySet) lookup(k UserKey) (int, error) {
	i, ok := s.index[k]
	if !ok {
		return 0, errors.Errorf("unknown user %d on camera %d", k.User, k.Camera)
	}
	return i, nil
}

func (s *IdentitySet) find(i int) int {
	root := i
	for s.parent[root] != root {
		root = s.parent[root]
	}
	for s.parent[i] != root {
		next := s.parent[i]
		s.parent[i] = root
		i = next
	}
	return root
}

// Keys returns every key in insertion order.
func (s *IdentitySet) Keys() []UserKey {
	return append([]UserKey(nil), s.keys...)
}

// SetExclusive marks the classes of a and b as distinct people.
func (s *IdentitySet) SetExclusive(a, b UserKey) error {
	ia, err := s.lookup(a)
	if err != nil {
		return err
	}
	ib, err := s.lookup(b)
	if err != nil {
		return err
	}
	ra, rb := s.find(ia), s.find(ib)
	if ra == rb {
		return errors.Errorf("cannot mark %v and %v exclusive, they are already the same identity", a, b)
	}
	s.link(ra, rb)
	s.link(rb, ra)
	return nil
}

func (s *IdentitySet) link(from, to int) {
	if s.exclusive[from] == nil {
		s.exclusive[from] = map[int]struct{}{}
	}
	s.exclusive[from][to] = struct{}{}
}

// Exclusive reports whether the classes of a and b may not be merged.
func (s *IdentitySet) Exclusive(a, b UserKey) bool {
	ia, errA := s.lookup(a)
	ib, errB := s.lookup(b)
	if errA != nil || errB != nil {
		return false
	}
	return s.exclusiveRoots(s.find(ia), s.find(ib))
}

func (s *IdentitySet) exclusiveRoots(ra, rb int) bool {
	for other := range s.exclusive[ra] {
		if s.find(other) == rb {
			return true
		}
	}
	return false
}

// Same reports whether a and b are in one class.
func (s *IdentitySet) Same(a, b UserKey) bool {
	ia, errA := s.lookup(a)
	ib, errB := s.lookup(b)
	if errA != nil || errB != nil {
		return false
	}
	return s.find(ia) == s.find(ib)
}

// Union merges the classes of a and b. It returns false without merging when they are already
// one class or are exclusive.
func (s *IdentitySet) Union(a, b UserKey) (bool, error) {
	ia, err := s.lookup(a)
	if err != nil {
		return false, err
	}
	ib, err := s.lookup(b)
	if err != nil {
		return false, err
	}
	ra, rb := s.find(ia), s.find(ib)
	if ra == rb || s.exclusiveRoots(ra, rb) {
		return false, nil
	}
	if s.rank[ra] < s.rank[rb] {
		ra, rb = rb, ra
	}
	s.parent[rb] = ra
	if s.rank[ra] == s.rank[rb] {
		s.rank[ra]++
	}
	for other := range s.exclusive[rb] {
		other = s.find(other)
		s.link(ra, other)
		s.link(other, ra)
	}
	s.exclusive[rb] = nil
	s.global = nil
	return true, nil
}

// compact numbers classes densely from 0 in order of each class's first key.
func (s *IdentitySet) compact() {
	if s.global != nil {
		return
	}
	byRoot := map[int]int{}
	s.global = make([]int, len(s.keys))
	for i := range s.keys {
		r := s.find(i)
		g, ok := byRoot[r]
		if !ok {
			g = len(byRoot)
			byRoot[r] = g
		}
		s.global[i] = g
	}
	s.count = len(byRoot)
}

// GlobalID returns the dense identity of k.
func (s *IdentitySet) GlobalID(k UserKey) (int, bool) {
	i, ok := s.index[k]
	if !ok {
		return 0, false
	}
	s.compact()
	return s.global[i], true
}

// Count returns the number of distinct identities.
func (s *IdentitySet) Count() int {
	s.compact()
	return s.count
}

// Members returns the keys with global id g, ordered by camera then user.
func (s *IdentitySet) Members(g int) []UserKey {
	s.compact()
	var out []UserKey
	for i, k := range s.keys {
		if s.global[i] == g {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Camera != out[j].Camera {
			return out[i].Camera < out[j].Camera
		}
		return out[i].User < out[j].User
	})
	return out
}

// Mapping returns the global id of every key.
func (s *IdentitySet) Mapping() map[UserKey]int {
	s.compact()
	out := make(map[UserKey]int, len(s.keys))
	for i, k := range s.keys {
		out[k] = s.global[i]
	}
	return out
}
