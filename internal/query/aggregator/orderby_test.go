package aggregator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func int64p(v int64) *int64 { return &v }

func column(rows [][]interface{}, i int) []interface{} {
	out := make([]interface{}, len(rows))
	for r, row := range rows {
		out[r] = row[i]
	}
	return out
}

func TestOrderBySorter(t *testing.T) {
	tests := []struct {
		name    string
		indices []int
		desc    []bool
		rows    [][]interface{}
		col     int
		want    []interface{}
	}{
		{
			name: "ascending", indices: []int{0}, desc: []bool{false},
			rows: [][]interface{}{{int64(3)}, {int64(1)}, {int64(2)}},
			want: []interface{}{int64(1), int64(2), int64(3)},
		},
		{
			name: "descending on second column", indices: []int{1}, desc: []bool{true},
			rows: [][]interface{}{{"Gulu", 12.0}, {"Kitgum", 7.5}, {"Lira", 30.0}},
			want: []interface{}{"Lira", "Gulu", "Kitgum"},
		},
		{
			name: "mixed directions", indices: []int{0, 1}, desc: []bool{false, true},
			rows: [][]interface{}{{"202401", "Gulu"}, {"202402", "Amuru"}, {"202401", "Kitgum"}},
			col:  1,
			want: []interface{}{"Kitgum", "Gulu", "Amuru"},
		},
		{
			name: "null leads ascending", indices: []int{0}, desc: []bool{false},
			rows: [][]interface{}{{int64(2)}, {nil}, {int64(1)}},
			want: []interface{}{nil, int64(1), int64(2)},
		},
		{
			name: "null trails descending", indices: []int{0}, desc: []bool{true},
			rows: [][]interface{}{{nil}, {int64(2)}, {int64(1)}},
			want: []interface{}{int64(2), int64(1), nil},
		},
		{
			name: "stable for equal keys", indices: []int{0}, desc: []bool{false},
			rows: [][]interface{}{{int64(1), "first"}, {int64(0), "zero"}, {int64(1), "second"}},
			col:  1,
			want: []interface{}{"zero", "first", "second"},
		},
		{
			name: "numbers across types", indices: []int{0}, desc: []bool{false},
			rows: [][]interface{}{{2.5}, {int64(2)}, {int64(3)}},
			want: []interface{}{int64(2), 2.5, int64(3)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			NewOrderBySorter(tt.indices, tt.desc).Sort(tt.rows)
			assert.Equal(t, tt.want, column(tt.rows, tt.col))
		})
	}
}

func TestSortAndLimit(t *testing.T) {
	rows := make([][]interface{}, 100)
	for i := range rows {
		rows[i] = []interface{}{int64(100 - i)}
	}
	got := NewOrderBySorter([]int{0}, []bool{false}).SortAndLimit(rows, int64p(3), int64p(2))
	assert.Equal(t, []interface{}{int64(3), int64(4), int64(5)}, column(got, 0))
}

func TestLimit(t *testing.T) {
	rows := [][]interface{}{{1}, {2}, {3}}
	tests := []struct {
		limit, offset *int64
		want          int
	}{
		{nil, nil, 3},
		{int64p(0), nil, 0},
		{int64p(10), nil, 3},
		{int64p(2), int64p(1), 2},
		{nil, int64p(5), 0},
	}
	for _, tt := range tests {
		assert.Len(t, Limit(rows, tt.limit, tt.offset), tt.want)
	}
}

func TestAccumulators(t *testing.T) {
	values := []interface{}{int64(4), nil, 2.5, int64(4), "n/a"}
	tests := []struct {
		fn       string
		distinct bool
		want     interface{}
		empty    interface{}
	}{
		{"COUNT", false, int64(4), int64(0)},
		{"count", true, int64(3), int64(0)},
		{"SUM", false, 10.5, nil},
		{"SUM", true, 6.5, nil},
		{"AVG", false, 3.5, nil},
		{"MIN", false, 2.5, nil},
		{"MAX", false, "n/a", nil},
	}
	for _, tt := range tests {
		acc, err := NewAccumulator(tt.fn, tt.distinct)
		assert.NoError(t, err)
		empty, _ := NewAccumulator(tt.fn, tt.distinct)
		for _, v := range values {
			acc.Accumulate(v)
		}
		assert.Equal(t, tt.want, acc.Result(), "%s distinct=%v", tt.fn, tt.distinct)
		assert.Equal(t, tt.empty, empty.Result(), "empty %s", tt.fn)
	}

	_, err := NewAccumulator("MEDIAN", false)
	assert.Error(t, err)
}
