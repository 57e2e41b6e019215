package part_writer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/DataDog/sketches-go/ddsketch"
	"github.com/DataDog/sketches-go/ddsketch/mapping"
	"github.com/DataDog/sketches-go/ddsketch/store"
	"github.com/axiomhq/hyperloglog"
	"github.com/danthegoodman1/icetree/block"
)

const (
	statisticsVersion = 1
	quantileAccuracy  = 0.01
)

const (
	StatisticsMinMax   StatisticsKind = "minmax"
	StatisticsUniq     StatisticsKind = "uniq"
	StatisticsQuantile StatisticsKind = "quantile"
)

var ErrBadStatisticsFile = errors.New("malformed statistics file")

type (
	StatisticsKind string

	// ColumnStatistics asks the writer to collect statistics over one column
	ColumnStatistics struct {
		Column string           `json:"column" validate:"required"`
		Kinds  []StatisticsKind `json:"kinds" validate:"required,min=1"`
	}

	// Statistics is the decoded content of a statistics_<col>.stats file
	Statistics struct {
		Rows     uint64
		Min, Max float64
		HasRange bool
		Uniq     *hyperloglog.Sketch
		Quantile *ddsketch.DDSketch
	}

	statisticsCollector struct {
		column   block.NameAndType
		kinds    []StatisticsKind
		rows     uint64
		min, max float64
		hasRange bool
		uniq     *hyperloglog.Sketch
		quantile *ddsketch.DDSketch
	}
)

func numeric(t block.DataType) bool {
	switch t {
	case block.Int64, block.UInt64, block.Float64, block.DateTime:
		return true
	}
	return false
}

func newStatisticsCollector(column block.NameAndType, kinds []StatisticsKind) (*statisticsCollector, error) {
	sc := &statisticsCollector{column: column, kinds: kinds}
	for _, k := range kinds {
		switch k {
		case StatisticsMinMax:
			if !numeric(column.Type) {
				return nil, fmt.Errorf("%w: minmax over %s column %s", ErrUnsupportedStatistics, column.Type, column.Name)
			}
		case StatisticsUniq:
			sc.uniq = hyperloglog.New14()
		case StatisticsQuantile:
			if !numeric(column.Type) {
				return nil, fmt.Errorf("%w: quantile over %s column %s", ErrUnsupportedStatistics, column.Type, column.Name)
			}
			sketch, err := ddsketch.NewDefaultDDSketch(quantileAccuracy)
			if err != nil {
				return nil, fmt.Errorf("error in ddsketch.NewDefaultDDSketch: %w", err)
			}
			sc.quantile = sketch
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedStatistics, k)
		}
	}
	return sc, nil
}

func (sc *statisticsCollector) update(c block.Column) {
	var scratch []byte
	for i := 0; i < c.Len(); i++ {
		if sc.uniq != nil {
			scratch = c.AppendEncoded(scratch[:0], i, i+1)
			sc.uniq.Insert(scratch)
		}
		f, ok := c.Float64At(i)
		if !ok {
			continue
		}
		if !sc.hasRange || f < sc.min {
			sc.min = f
		}
		if !sc.hasRange || f > sc.max {
			sc.max = f
		}
		sc.hasRange = true
		if sc.quantile != nil {
			// ddsketch only rejects values outside its indexable range
			_ = sc.quantile.Add(f)
		}
	}
	sc.rows += uint64(c.Len())
}

func (sc *statisticsCollector) encode() ([]byte, error) {
	buf := []byte{statisticsVersion}
	buf = binary.AppendUvarint(buf, sc.rows)
	buf = binary.AppendUvarint(buf, uint64(len(sc.kinds)))
	for _, k := range sc.kinds {
		var payload []byte
		switch k {
		case StatisticsMinMax:
			payload = binary.LittleEndian.AppendUint64(payload, math.Float64bits(sc.min))
			payload = binary.LittleEndian.AppendUint64(payload, math.Float64bits(sc.max))
		case StatisticsUniq:
			b, err := sc.uniq.MarshalBinary()
			if err != nil {
				return nil, fmt.Errorf("error in hyperloglog MarshalBinary: %w", err)
			}
			payload = b
		case StatisticsQuantile:
			sc.quantile.Encode(&payload, false)
		}
		buf = binary.AppendUvarint(buf, uint64(len(k)))
		buf = append(buf, k...)
		buf = binary.AppendUvarint(buf, uint64(len(payload)))
		buf = append(buf, payload...)
	}
	return buf, nil
}

func DecodeStatistics(raw []byte) (*Statistics, error) {
	if len(raw) == 0 || raw[0] != statisticsVersion {
		return nil, fmt.Errorf("%w: bad version", ErrBadStatisticsFile)
	}
	raw = raw[1:]
	readUvarint := func() (uint64, error) {
		v, n := binary.Uvarint(raw)
		if n <= 0 {
			return 0, fmt.Errorf("%w: truncated", ErrBadStatisticsFile)
		}
		raw = raw[n:]
		return v, nil
	}
	readBytes := func() ([]byte, error) {
		l, err := readUvarint()
		if err != nil {
			return nil, err
		}
		if uint64(len(raw)) < l {
			return nil, fmt.Errorf("%w: truncated", ErrBadStatisticsFile)
		}
		b := raw[:l]
		raw = raw[l:]
		return b, nil
	}

	s := &Statistics{}
	var err error
	if s.Rows, err = readUvarint(); err != nil {
		return nil, err
	}
	count, err := readUvarint()
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < count; i++ {
		kind, err := readBytes()
		if err != nil {
			return nil, err
		}
		payload, err := readBytes()
		if err != nil {
			return nil, err
		}
		switch StatisticsKind(kind) {
		case StatisticsMinMax:
			if len(payload) != 16 {
				return nil, fmt.Errorf("%w: minmax payload of %d bytes", ErrBadStatisticsFile, len(payload))
			}
			s.Min = math.Float64frombits(binary.LittleEndian.Uint64(payload))
			s.Max = math.Float64frombits(binary.LittleEndian.Uint64(payload[8:]))
			s.HasRange = true
		case StatisticsUniq:
			var h hyperloglog.Sketch
			if err := h.UnmarshalBinary(payload); err != nil {
				return nil, fmt.Errorf("error in hyperloglog UnmarshalBinary: %w", err)
			}
			s.Uniq = &h
		case StatisticsQuantile:
			m, err := mapping.NewLogarithmicMapping(quantileAccuracy)
			if err != nil {
				return nil, fmt.Errorf("error in mapping.NewLogarithmicMapping: %w", err)
			}
			sketch, err := ddsketch.DecodeDDSketch(payload, store.DefaultProvider, m)
			if err != nil {
				return nil, fmt.Errorf("error in ddsketch.DecodeDDSketch: %w", err)
			}
			s.Quantile = sketch
		default:
			return nil, fmt.Errorf("%w: unknown kind %q", ErrBadStatisticsFile, kind)
		}
	}
	return s, nil
}
