package idgen

import (
	"regexp"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsOutOfRangeWorker(t *testing.T) {
	_, err := New(-1)
	assert.Error(t, err)

	_, err = New(maxWorkerID + 1)
	assert.Error(t, err)

	s, err := New(7)
	require.NoError(t, err)
	assert.NotZero(t, s.Generate())
}

func TestGenerate_UniqueUnderConcurrency(t *testing.T) {
	s, err := New(3)
	require.NoError(t, err)

	var (
		mu   sync.Mutex
		seen = make(map[int64]struct{})
		wg   sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				id := s.Generate()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 8*500)
}

func TestGenerateTransactionNo_Format(t *testing.T) {
	no := GenerateTransactionNo()
	assert.Regexp(t, regexp.MustCompile(`^TXN\d{14}\d{19}$`), no)
	assert.NotEqual(t, no, GenerateTransactionNo())
}

func TestGenerateVoucherCode(t *testing.T) {
	code := GenerateVoucherCode("tanishq")
	assert.Regexp(t, regexp.MustCompile(`^TAN-[0-9A-Z]{6}$`), code)
}
