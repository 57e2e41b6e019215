package part

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
)

const ttlFormatVersion = 1

type (
	// TTLInfo is the range of expiration times observed for one rule, in unix seconds.
	// Zero means unset.
	TTLInfo struct {
		Min int64
		Max int64
	}

	// TTLInfosMap is keyed by a rule's result column, or by the target column for column TTLs
	TTLInfosMap map[string]TTLInfo

	TTLInfos struct {
		Table         TTLInfo
		Columns       TTLInfosMap
		RowsWhere     TTLInfosMap
		GroupBy       TTLInfosMap
		Moves         TTLInfosMap
		Recompression TTLInfosMap

		// PartMin and PartMax cover every rule that can drop data from the part
		PartMin int64
		PartMax int64
	}

	ttlEntryJSON struct {
		Name string `json:"name,omitempty"`
		Min  int64  `json:"min"`
		Max  int64  `json:"max"`
	}

	ttlInfosJSON struct {
		Table         *ttlEntryJSON  `json:"table,omitempty"`
		Columns       []ttlEntryJSON `json:"columns,omitempty"`
		RowsWhere     []ttlEntryJSON `json:"rows_where,omitempty"`
		GroupBy       []ttlEntryJSON `json:"group_by,omitempty"`
		Moves         []ttlEntryJSON `json:"moves,omitempty"`
		Recompression []ttlEntryJSON `json:"recompression,omitempty"`
	}
)

func (i *TTLInfo) Update(t int64) {
	if t == 0 {
		return
	}
	if i.Min == 0 || t < i.Min {
		i.Min = t
	}
	if t > i.Max {
		i.Max = t
	}
}

func (i *TTLInfo) Merge(o TTLInfo) {
	i.Update(o.Min)
	i.Update(o.Max)
}

func (i TTLInfo) Empty() bool {
	return i.Min == 0 && i.Max == 0
}

func NewTTLInfos() TTLInfos {
	return TTLInfos{
		Columns:       TTLInfosMap{},
		RowsWhere:     TTLInfosMap{},
		GroupBy:       TTLInfosMap{},
		Moves:         TTLInfosMap{},
		Recompression: TTLInfosMap{},
	}
}

func (t *TTLInfos) ensureMaps() {
	for _, m := range []*TTLInfosMap{&t.Columns, &t.RowsWhere, &t.GroupBy, &t.Moves, &t.Recompression} {
		if *m == nil {
			*m = TTLInfosMap{}
		}
	}
}

func (t *TTLInfos) UpdatePartMinMax(info TTLInfo) {
	if info.Min != 0 && (t.PartMin == 0 || info.Min < t.PartMin) {
		t.PartMin = info.Min
	}
	if info.Max > t.PartMax {
		t.PartMax = info.Max
	}
}

// Merge folds the bounds of other into t, used when a part replaces several others
func (t *TTLInfos) Merge(other TTLInfos) {
	t.ensureMaps()
	t.Table.Merge(other.Table)
	for _, pair := range [][2]TTLInfosMap{
		{t.Columns, other.Columns},
		{t.RowsWhere, other.RowsWhere},
		{t.GroupBy, other.GroupBy},
		{t.Moves, other.Moves},
		{t.Recompression, other.Recompression},
	} {
		for name, info := range pair[1] {
			cur := pair[0][name]
			cur.Merge(info)
			pair[0][name] = cur
		}
	}
	t.UpdatePartMinMax(TTLInfo{Min: other.PartMin, Max: other.PartMax})
}

// Empty reports whether no rule recorded any bound, in which case ttl.txt is not written
func (t TTLInfos) Empty() bool {
	if !t.Table.Empty() || t.PartMin != 0 || t.PartMax != 0 {
		return false
	}
	for _, m := range []TTLInfosMap{t.Columns, t.RowsWhere, t.GroupBy, t.Moves, t.Recompression} {
		for _, info := range m {
			if !info.Empty() {
				return false
			}
		}
	}
	return true
}

func (m TTLInfosMap) toJSON() []ttlEntryJSON {
	names := make([]string, 0, len(m))
	for name, info := range m {
		if !info.Empty() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	entries := make([]ttlEntryJSON, 0, len(names))
	for _, name := range names {
		entries = append(entries, ttlEntryJSON{Name: name, Min: m[name].Min, Max: m[name].Max})
	}
	return entries
}

func ttlMapFromJSON(entries []ttlEntryJSON) TTLInfosMap {
	m := TTLInfosMap{}
	for _, e := range entries {
		m[e.Name] = TTLInfo{Min: e.Min, Max: e.Max}
	}
	return m
}

func (t TTLInfos) Write(w io.Writer) error {
	body := ttlInfosJSON{
		Columns:       t.Columns.toJSON(),
		RowsWhere:     t.RowsWhere.toJSON(),
		GroupBy:       t.GroupBy.toJSON(),
		Moves:         t.Moves.toJSON(),
		Recompression: t.Recompression.toJSON(),
	}
	if !t.Table.Empty() {
		body.Table = &ttlEntryJSON{Min: t.Table.Min, Max: t.Table.Max}
	}
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("error in json.Marshal: %w", err)
	}
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "ttl format version: %d\n", ttlFormatVersion)
	bw.Write(b)
	return bw.Flush()
}

// ReadTTLInfos parses ttl.txt and recomputes the part level bounds
func ReadTTLInfos(r io.Reader) (TTLInfos, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return TTLInfos{}, fmt.Errorf("error in io.ReadAll: %w", err)
	}
	header, body, ok := strings.Cut(string(raw), "\n")
	if !ok {
		return TTLInfos{}, fmt.Errorf("missing ttl format header")
	}
	var version int
	if _, err := fmt.Sscanf(header, "ttl format version: %d", &version); err != nil {
		return TTLInfos{}, fmt.Errorf("error in Sscanf: %w", err)
	}
	if version != ttlFormatVersion {
		return TTLInfos{}, fmt.Errorf("unsupported ttl format version %d", version)
	}
	var parsed ttlInfosJSON
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return TTLInfos{}, fmt.Errorf("error in json.Unmarshal: %w", err)
	}
	t := TTLInfos{
		Columns:       ttlMapFromJSON(parsed.Columns),
		RowsWhere:     ttlMapFromJSON(parsed.RowsWhere),
		GroupBy:       ttlMapFromJSON(parsed.GroupBy),
		Moves:         ttlMapFromJSON(parsed.Moves),
		Recompression: ttlMapFromJSON(parsed.Recompression),
	}
	if parsed.Table != nil {
		t.Table = TTLInfo{Min: parsed.Table.Min, Max: parsed.Table.Max}
		t.UpdatePartMinMax(t.Table)
	}
	for _, m := range []TTLInfosMap{t.Columns, t.RowsWhere, t.GroupBy} {
		for _, info := range m {
			t.UpdatePartMinMax(info)
		}
	}
	return t, nil
}
