package domain

import "testing"

func mk(sizes ...int) []Chunk {
	out := make([]Chunk, len(sizes))
	for i, n := range sizes {
		out[i] = make(Chunk, n)
	}
	return out
}

func TestFitBatch(t *testing.T) {
	tests := []struct {
		name     string
		sizes    []int
		maxBytes int
		want     int
	}{
		{"disabled", []int{10, 10, 10}, 0, 3},
		{"negative disables", []int{10, 10}, -1, 2},
		{"all fit", []int{1, 2, 3}, 6, 3},
		{"trims tail", []int{2, 2, 5, 1}, 4, 2},
		{"oversized head kept alone", []int{9, 1}, 4, 1},
		{"single chunk", []int{9}, 4, 1},
		{"empty", nil, 4, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FitBatch(mk(tt.sizes...), tt.maxBytes)
			if len(got) != tt.want {
				t.Errorf("FitBatch() kept %d chunks, want %d", len(got), tt.want)
			}
		})
	}
}

func TestTotalBytes(t *testing.T) {
	if got := TotalBytes(mk(1, 2, 3)); got != 6 {
		t.Errorf("TotalBytes() = %d, want 6", got)
	}
	if got := TotalBytes(nil); got != 0 {
		t.Errorf("TotalBytes(nil) = %d, want 0", got)
	}
}

func TestCloneChunks(t *testing.T) {
	src := []Chunk{Chunk("abc")}
	cp := CloneChunks(src)
	src[0][0] = 'x'

	if string(cp[0]) != "abc" {
		t.Errorf("clone changed with source: %q", cp[0])
	}
}

func TestSenderState_String(t *testing.T) {
	tests := []struct {
		state SenderState
		want  string
	}{
		{SenderIdle, "Idle"},
		{SenderPosting, "Posting"},
		{SenderWaitingBackoff, "WaitingBackoff"},
		{SenderStopped, "Stopped"},
		{SenderState(99), "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
