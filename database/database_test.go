package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/qaflow/xerrors"
)

func TestDialector(t *testing.T) {
	d, err := Dialector("mysql", "user:pass@tcp(localhost:3306)/qa")
	require.NoError(t, err)
	assert.Equal(t, "mysql", d.Name())

	d, err = Dialector("postgres", "host=localhost dbname=qa")
	require.NoError(t, err)
	assert.Equal(t, "postgres", d.Name())

	d, err = Dialector("", "user:pass@tcp(localhost:3306)/qa")
	require.NoError(t, err)
	assert.Equal(t, "mysql", d.Name())

	_, err = Dialector("clickhouse", "")
	assert.True(t, xerrors.Is(err, xerrors.KindValidation))
}
