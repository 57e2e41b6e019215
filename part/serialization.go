package part

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/danthegoodman1/icetree/block"
)

const serializationInfoVersion = 2

type (
	SerializationKind string

	SerializationInfo struct {
		Kind        SerializationKind
		NumRows     uint64
		NumDefaults uint64
	}

	// SerializationInfos describes how each column of a part is laid out
	SerializationInfos struct {
		order   []string
		columns map[string]*SerializationInfo
	}

	serializationColumnJSON struct {
		Name        string            `json:"name"`
		Kind        SerializationKind `json:"kind"`
		NumRows     uint64            `json:"num_rows"`
		NumDefaults uint64            `json:"num_defaults"`
	}

	serializationJSON struct {
		Version int                       `json:"version"`
		Columns []serializationColumnJSON `json:"columns"`
	}
)

const (
	SerializationDefault SerializationKind = "Default"
	// SerializationSparse stores only the non-default values plus their offsets
	SerializationSparse SerializationKind = "Sparse"
)

func NewSerializationInfos(columns block.NamesAndTypes) *SerializationInfos {
	s := &SerializationInfos{columns: map[string]*SerializationInfo{}}
	for _, c := range columns {
		s.order = append(s.order, c.Name)
		s.columns[c.Name] = &SerializationInfo{Kind: SerializationDefault}
	}
	return s
}

func (s *SerializationInfos) Get(column string) (*SerializationInfo, bool) {
	if s == nil {
		return nil, false
	}
	info, ok := s.columns[column]
	return info, ok
}

func (s *SerializationInfos) Kind(column string) SerializationKind {
	if info, ok := s.Get(column); ok {
		return info.Kind
	}
	return SerializationDefault
}

// Add accumulates row and default counts for every known column of b
func (s *SerializationInfos) Add(b block.Block) {
	for _, c := range b.Columns {
		info, ok := s.columns[c.Name]
		if !ok {
			continue
		}
		n := c.Len()
		info.NumRows += uint64(n)
		for i := 0; i < n; i++ {
			if c.IsDefaultAt(i) {
				info.NumDefaults++
			}
		}
	}
}

// ReplaceData copies the counts of other while keeping the chosen kinds
func (s *SerializationInfos) ReplaceData(other *SerializationInfos) {
	for name, info := range s.columns {
		if o, ok := other.Get(name); ok {
			info.NumRows = o.NumRows
			info.NumDefaults = o.NumDefaults
		}
	}
}

// AddCounts adds the counts other holds for the columns s knows
func (s *SerializationInfos) AddCounts(other *SerializationInfos) {
	if other == nil {
		return
	}
	for name, o := range other.columns {
		if info, ok := s.columns[name]; ok {
			info.NumRows += o.NumRows
			info.NumDefaults += o.NumDefaults
		}
	}
}

// ChooseKinds picks Sparse for columns whose share of defaults reaches ratio.
// A ratio of 1 or more disables sparse serialization.
func (s *SerializationInfos) ChooseKinds(ratio float64) {
	for _, info := range s.columns {
		info.Kind = SerializationDefault
		if ratio < 1 && info.NumRows > 0 && float64(info.NumDefaults)/float64(info.NumRows) >= ratio {
			info.Kind = SerializationSparse
		}
	}
}

// AllDefaults reports whether a column holds only default values
func (s *SerializationInfos) AllDefaults(column string) bool {
	info, ok := s.Get(column)
	return ok && info.NumRows > 0 && info.NumDefaults == info.NumRows
}

// NeedsFile reports whether any column uses a non-default serialization
func (s *SerializationInfos) NeedsFile() bool {
	if s == nil {
		return false
	}
	for _, info := range s.columns {
		if info.Kind != SerializationDefault {
			return true
		}
	}
	return false
}

// Remove drops a pruned column
func (s *SerializationInfos) Remove(column string) {
	delete(s.columns, column)
	for i, name := range s.order {
		if name == column {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *SerializationInfos) WriteJSON(w io.Writer) error {
	body := serializationJSON{Version: serializationInfoVersion, Columns: make([]serializationColumnJSON, 0, len(s.order))}
	for _, name := range s.order {
		info := s.columns[name]
		body.Columns = append(body.Columns, serializationColumnJSON{
			Name:        name,
			Kind:        info.Kind,
			NumRows:     info.NumRows,
			NumDefaults: info.NumDefaults,
		})
	}
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("error in json.Marshal: %w", err)
	}
	_, err = w.Write(b)
	return err
}

func ReadSerializationInfos(r io.Reader) (*SerializationInfos, error) {
	var body serializationJSON
	if err := json.NewDecoder(r).Decode(&body); err != nil {
		return nil, fmt.Errorf("error decoding serialization infos: %w", err)
	}
	if body.Version != serializationInfoVersion {
		return nil, fmt.Errorf("unsupported serialization info version %d", body.Version)
	}
	s := &SerializationInfos{columns: map[string]*SerializationInfo{}}
	for _, c := range body.Columns {
		s.order = append(s.order, c.Name)
		s.columns[c.Name] = &SerializationInfo{Kind: c.Kind, NumRows: c.NumRows, NumDefaults: c.NumDefaults}
	}
	return s, nil
}
