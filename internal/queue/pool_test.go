package queue

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ehrlich-b/go-uring/internal/constants"
)

func TestGetBufferSizeClasses(t *testing.T) {
	tests := []struct {
		size    uint32
		wantCap int
	}{
		{1, 1},
		{512, 512},
		{4096, 4096},
		{4097, 8192},
		{60 << 10, 64 << 10},
		{400 << 10, 512 << 10},
		{1 << 20, 1 << 20},
		{1<<20 + 1, 1<<20 + 1}, // unpooled
	}

	for _, tt := range tests {
		buf := GetBuffer(tt.size)
		assert.Len(t, buf, int(tt.size))
		assert.Equal(t, tt.wantCap, cap(buf), "GetBuffer(%d)", tt.size)
		PutBuffer(buf)
	}
}

func TestPutBufferIgnoresForeignSlices(t *testing.T) {
	assert.NotPanics(t, func() {
		PutBuffer(nil)
		PutBuffer(make([]byte, 0))
		PutBuffer(make([]byte, 100<<10))
		PutBuffer(make([]byte, 4<<20))
	})
}

func TestBuffersAcrossGoroutines(t *testing.T) {
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(seed byte) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				buf := GetBuffer(constants.DefaultIOSize)
				for j := range buf {
					buf[j] = seed
				}
				for _, b := range buf {
					if b != seed {
						t.Errorf("buffer shared between goroutines")
						return
					}
				}
				PutBuffer(buf)
			}
		}(byte(g))
	}
	wg.Wait()
}

func BenchmarkGetPutBuffer(b *testing.B) {
	for _, size := range []uint32{4 << 10, 64 << 10, 1 << 20} {
		b.Run(fmt.Sprintf("%dK", size>>10), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				PutBuffer(GetBuffer(size))
			}
		})
	}
}
