package idgen

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/qaflow/config"
)

func TestSnowflakeUnique(t *testing.T) {
	g, err := NewGenerator(config.SnowflakeConfig{MachineID: 7})
	require.NoError(t, err)

	var mu sync.Mutex
	seen := make(map[int64]struct{})
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 500 {
				id := g.Generate()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 8*500)
}

func TestSonyflake(t *testing.T) {
	g, err := NewGenerator(config.SnowflakeConfig{Type: "sonyflake", MachineID: 3})
	require.NoError(t, err)
	assert.Positive(t, g.Generate())

	_, err = NewGenerator(config.SnowflakeConfig{Type: "sonyflake", MachineID: 70000})
	assert.ErrorIs(t, err, ErrInvalidMachineID)
}

func TestUnsupportedType(t *testing.T) {
	_, err := NewGenerator(config.SnowflakeConfig{Type: "uuid"})
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestCorrelationID(t *testing.T) {
	a, b := CorrelationID(), CorrelationID()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 36)
}

func TestGeneratorFunc(t *testing.T) {
	n := int64(41)
	g := GeneratorFunc(func() int64 { n++; return n })
	assert.Equal(t, "42", String(g))
}

func TestInvalidStartTime(t *testing.T) {
	_, err := NewGenerator(config.SnowflakeConfig{StartTime: "01/02/2020"})
	assert.ErrorIs(t, err, ErrInvalidStartTime)

	_, err = NewGenerator(config.SnowflakeConfig{MachineID: 4096})
	assert.ErrorIs(t, err, ErrInvalidMachineID)
}
