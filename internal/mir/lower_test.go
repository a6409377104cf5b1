package mir

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/cjit-project/cjit/internal/types"
)

// bigStruct returns a struct type big enough (and not a power of two in
// size) to force LargeStructABI's hidden-pointer rule.
func bigStruct(size int64) *types.Type {
	t := types.NewStruct("", false)
	t.Size = size
	t.Align = 8
	return t
}

func TestClassifyArgs(t *testing.T) {
	tests := []struct {
		name   string
		params []*types.Type
		want   []CallArgSlot
	}{
		{
			name:   "fits entirely in argument registers",
			params: []*types.Type{types.IntT(), types.IntT(), types.DoubleT()},
			want: []CallArgSlot{
				{Reg: 0, Class: ClassInt},
				{Reg: 1, Class: ClassInt},
				{Reg: 2, Class: ClassSSE},
			},
		},
		{
			name:   "spills past the fourth argument onto the stack",
			params: []*types.Type{types.IntT(), types.IntT(), types.IntT(), types.IntT(), types.IntT(), types.IntT()},
			want: []CallArgSlot{
				{Reg: 0, Class: ClassInt},
				{Reg: 1, Class: ClassInt},
				{Reg: 2, Class: ClassInt},
				{Reg: 3, Class: ClassInt},
				{Reg: -1, Class: ClassInt, StackSlot: 0},
				{Reg: -1, Class: ClassInt, StackSlot: 8},
			},
		},
		{
			name:   "large aggregate passes by hidden pointer, still an int-class slot",
			params: []*types.Type{bigStruct(24), types.IntT()},
			want: []CallArgSlot{
				{Reg: 0, Class: ClassInt, ByPointer: true},
				{Reg: 1, Class: ClassInt},
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := classifyArgs(tc.params)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("classifyArgs() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLargeStructABI(t *testing.T) {
	tests := []struct {
		size int64
		want bool
	}{
		{size: 1, want: false},
		{size: 8, want: false},
		{size: 4, want: false},
		{size: 3, want: true},  // not a power of two
		{size: 16, want: true}, // bigger than 8 bytes
	}
	for _, tc := range tests {
		if got := LargeStructABI(tc.size); got != tc.want {
			t.Errorf("LargeStructABI(%d) = %v, want %v", tc.size, got, tc.want)
		}
	}
}
