package postgres

import (
	"math/big"
	"testing"
	"testing/fstest"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/synthex/internal/domain"
)

func TestDSN(t *testing.T) {
	assert.Equal(t,
		"postgres://synthex:pw@db.local:5432/synthex?sslmode=disable",
		DSN(ClientConfig{Host: "db.local", Database: "synthex", User: "synthex", Password: "pw"}),
	)
	assert.Equal(t,
		"postgres://u:p@h:6543/d?sslmode=require",
		DSN(ClientConfig{Host: "h", Port: 6543, Database: "d", User: "u", Password: "p", SSLMode: "require"}),
	)
	assert.Equal(t, "postgres://explicit", DSN(ClientConfig{DSN: "postgres://explicit", Host: "ignored"}))
	assert.Equal(t,
		"postgres://u:p%40ss%2Fword@h:5432/d?sslmode=disable",
		DSN(ClientConfig{Host: "h", Database: "d", User: "u", Password: "p@ss/word"}),
		"credentials are escaped",
	)
}

func TestEmbeddedMigrations(t *testing.T) {
	migrations, err := loadMigrations(migrationsFS)
	require.NoError(t, err)
	require.NotEmpty(t, migrations)
	assert.Equal(t, "001_init.sql", migrations[0].name)
	assert.Len(t, migrations[0].checksum, 64)

	for _, table := range []string{"markets", "market_contracts", "executions", "audit_log"} {
		assert.Contains(t, migrations[0].sql, "CREATE TABLE IF NOT EXISTS "+table+" (")
	}
}

func TestLoadMigrationsOrderAndSkipsEmpty(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/002_b.sql":  {Data: []byte("SELECT 2;")},
		"migrations/001_a.sql":  {Data: []byte("SELECT 1;")},
		"migrations/003_c.sql":  {Data: []byte("  \n")},
		"migrations/readme.txt": {Data: []byte("ignored")},
	}
	migrations, err := loadMigrations(fsys)
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, "001_a.sql", migrations[0].name)
	assert.Equal(t, "002_b.sql", migrations[1].name)
	assert.NotEqual(t, migrations[0].checksum, migrations[1].checksum)
}

func TestAuditListQuery(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	query, args := auditListQuery(domain.ListOpts{Event: "permit.", Since: &since, Limit: 20, Offset: 40})

	assert.Equal(t,
		"SELECT id, event, detail, created_at FROM audit_log"+
			" WHERE event LIKE $1 AND created_at >= $2 ORDER BY created_at DESC, id DESC LIMIT $3 OFFSET $4",
		query)
	assert.Equal(t, []any{"permit.%", since, 20, 40}, args)

	query, args = auditListQuery(domain.ListOpts{})
	assert.Equal(t, "SELECT id, event, detail, created_at FROM audit_log ORDER BY created_at DESC, id DESC", query)
	assert.Empty(t, args)

	_, args = auditListQuery(domain.ListOpts{Event: "guard_reject"})
	assert.Equal(t, []any{`guard\_reject%`}, args, "underscore matches literally")
}

func TestBigTextRoundTrip(t *testing.T) {
	huge, ok := new(big.Int).SetString("115792089237316195423570985008687907853269984665640564039457584007913129639935", 10)
	require.True(t, ok)

	for _, v := range []*big.Int{big.NewInt(0), big.NewInt(-2500000), huge} {
		got := textToBig(bigToText(v))
		require.NotNil(t, got)
		assert.Zero(t, v.Cmp(got), "value %s", v)
	}
	assert.Nil(t, bigToText(nil))
	assert.Nil(t, textToBig(nil))
	bad := "12x"
	assert.Nil(t, textToBig(&bad))
}

func TestContractsFromRow(t *testing.T) {
	c := contractsFromRow(31337, "0x00000000000000000000000000000000000000aa", "0x00000000000000000000000000000000000000bb", "0x00000000000000000000000000000000000000cc", 120)
	assert.Equal(t, common.HexToAddress("0xaa"), c.Engine)
	assert.Equal(t, common.HexToAddress("0xbb"), c.VAMM)
	assert.Equal(t, common.HexToAddress("0xcc"), c.PositionRegistry)
	assert.Equal(t, int64(31337), c.ChainID)
	assert.Equal(t, uint64(120), c.DeploymentBlock)
	assert.True(t, c.Valid())

	assert.Zero(t, contractsFromRow(1, "0x01", "0x02", "0x03", -1).DeploymentBlock)
	assert.Empty(t, txHashText(common.Hash{}))
}
