package identifier

import (
	"testing"
	"time"

	"github.com/marmos91/dittodsu/pkg/fault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeed_RoundTripAndAnchor(t *testing.T) {
	seed, err := NewSeed("default")
	require.NoError(t, err)

	parsed, err := Parse(seed.String())
	require.NoError(t, err)
	assert.Equal(t, seed.String(), parsed.String())

	sread, err := seed.DeriveSRead()
	require.NoError(t, err)

	seedAnchor, err := seed.AnchorID()
	require.NoError(t, err)
	sreadAnchor, err := sread.AnchorID()
	require.NoError(t, err)

	assert.Equal(t, seedAnchor, sreadAnchor)
	assert.True(t, Equal(seed, sread))
	assert.NotEqual(t, seed.String(), sread.String())

	assert.True(t, seed.CanSign())
	assert.False(t, sread.CanSign())
	assert.True(t, sread.CanAppend())
	assert.True(t, sread.IsReadOnly())
	assert.False(t, seed.IsReadOnly())
}

func TestHashLink_SignAndVerify(t *testing.T) {
	seed, err := NewSeed("default")
	require.NoError(t, err)
	sread, err := seed.DeriveSRead()
	require.NoError(t, err)

	ts := time.Unix(0, 1000)
	hl, err := NewHashLink(seed, "abcd", nil, ts, seed)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), hl.Timestamp())
	assert.Equal(t, "abcd", hl.BrickHash())

	data, err := hl.DataToSign(seed, nil)
	require.NoError(t, err)
	assert.True(t, seed.Verify(data, hl.Signature()))
	assert.True(t, sread.Verify(data, hl.Signature()))

	// A different previous entry changes the digest
	other, err := hl.DataToSign(seed, hl)
	require.NoError(t, err)
	assert.False(t, seed.Verify(other, hl.Signature()))

	parsed, err := Parse(hl.String())
	require.NoError(t, err)
	assert.Equal(t, hl.Signature(), parsed.Signature())
	assert.Equal(t, hl.Timestamp(), parsed.Timestamp())

	_, err = hl.AnchorID()
	assert.True(t, fault.IsDataInput(err))
}

func TestTransfer_NewOwnerVerifies(t *testing.T) {
	owner, err := NewSeed("default")
	require.NoError(t, err)
	next, err := NewSeed("default")
	require.NoError(t, err)
	nextPub, err := next.PublicKey()
	require.NoError(t, err)

	tr, err := NewTransfer(owner, nextPub, nil, time.Unix(0, 10), owner)
	require.NoError(t, err)
	assert.True(t, tr.IsTransfer())

	hl, err := NewHashLink(owner, "ff", tr, time.Unix(0, 20), next)
	require.NoError(t, err)
	data, err := hl.DataToSign(owner, tr)
	require.NoError(t, err)

	assert.True(t, tr.Verify(data, hl.Signature()))
	assert.False(t, owner.Verify(data, hl.Signature()))
}

func TestConstAndVersionless(t *testing.T) {
	c, err := NewConst("default", []byte("fixed-key"))
	require.NoError(t, err)
	assert.False(t, c.CanAppend())
	assert.False(t, c.CanSign())
	assert.False(t, c.IsReadOnly())

	hl, err := NewHashLink(c, "00", nil, time.Now(), c)
	require.NoError(t, err)
	assert.Nil(t, hl.Signature())

	v, err := NewVersionless("default", "/users/alice/profile", []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, "users/alice/profile", v.FilePath())
	assert.Equal(t, []byte("k"), v.EncryptionKey())
	assert.False(t, v.CanAppend())
	assert.False(t, v.IsReadOnly())

	parsed, err := Parse(v.String())
	require.NoError(t, err)
	assert.True(t, Equal(v, parsed))
}

func TestVersionHint(t *testing.T) {
	seed, err := NewSeed("default")
	require.NoError(t, err)

	_, ok := seed.Version()
	assert.False(t, ok)

	pinned := seed.WithVersion(3)
	n, ok := pinned.Version()
	require.True(t, ok)
	assert.Equal(t, uint64(3), n)
	assert.True(t, Equal(seed, pinned))

	parsed, err := Parse(pinned.String())
	require.NoError(t, err)
	n, ok = parsed.Version()
	require.True(t, ok)
	assert.Equal(t, uint64(3), n)

	assert.Equal(t, seed.String(), pinned.WithoutVersion().String())
}

func TestParse_Invalid(t *testing.T) {
	tests := []string{
		"",
		"nope",
		"ssi:seed:default",
		"ssi:unknown:default:abc::v0",
		"ssi:seed::abc::v0",
		"ssi:seed:default:0OIl::v0",
		"ssi:seed:default:abc::v0",
		"ssi:const:default:abc::v0:x=1",
	}
	for _, s := range tests {
		t.Run(s, func(t *testing.T) {
			_, err := Parse(s)
			require.Error(t, err)
			assert.True(t, fault.IsDataInput(err))
		})
	}
}
