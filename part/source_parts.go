package part

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"
)

var ErrBadSourcePartsSet = errors.New("malformed source parts set")

// SourcePartsSet names the parts a patch-derived part was built from
type SourcePartsSet struct {
	names []string
}

func (s *SourcePartsSet) Add(names ...string) {
	for _, n := range names {
		i := sort.SearchStrings(s.names, n)
		if i < len(s.names) && s.names[i] == n {
			continue
		}
		s.names = append(s.names, "")
		copy(s.names[i+1:], s.names[i:])
		s.names[i] = n
	}
}

func (s SourcePartsSet) Names() []string {
	return append([]string(nil), s.names...)
}

func (s SourcePartsSet) Empty() bool {
	return len(s.names) == 0
}

func (s SourcePartsSet) WriteBinary(w io.Writer) error {
	buf := binary.AppendUvarint(nil, uint64(len(s.names)))
	for _, n := range s.names {
		buf = binary.AppendUvarint(buf, uint64(len(n)))
		buf = append(buf, n...)
	}
	_, err := w.Write(buf)
	return err
}

func ReadSourcePartsSet(raw []byte) (SourcePartsSet, error) {
	n, read := binary.Uvarint(raw)
	if read <= 0 {
		return SourcePartsSet{}, ErrBadSourcePartsSet
	}
	raw = raw[read:]
	var s SourcePartsSet
	for i := uint64(0); i < n; i++ {
		l, read := binary.Uvarint(raw)
		if read <= 0 || uint64(len(raw)-read) < l {
			return SourcePartsSet{}, fmt.Errorf("%w: entry %d", ErrBadSourcePartsSet, i)
		}
		s.Add(string(raw[read : read+int(l)]))
		raw = raw[read+int(l):]
	}
	return s, nil
}
