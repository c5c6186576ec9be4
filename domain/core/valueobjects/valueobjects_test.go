package valueobjects

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "loci/pkg/errors"
)

func TestParseContentType(t *testing.T) {
	for _, ct := range AllContentTypes {
		t.Run(string(ct), func(t *testing.T) {
			parsed, err := ParseContentType(string(ct))
			require.NoError(t, err)
			assert.Equal(t, ct, parsed)
			assert.True(t, parsed.Valid())
		})
	}

	_, err := ParseContentType("widget")
	assert.True(t, pkgerrors.IsValidation(err))
	assert.False(t, ContentType("widget").Valid())
}

func TestParsePlacementCategory(t *testing.T) {
	tests := []struct {
		raw     string
		want    PlacementCategory
		wantErr bool
	}{
		{"", CategoryAdd, false},
		{"add", CategoryAdd, false},
		{"import", CategoryImport, false},
		{"research", CategoryResearch, false},
		{"paste", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParsePlacementCategory(tt.raw)
			if tt.wantErr {
				assert.True(t, pkgerrors.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPrincipal(t *testing.T) {
	user := UserPrincipal("u1")
	assert.True(t, user.IsAuthenticated())
	assert.NoError(t, user.RequireUser())
	assert.Equal(t, "u1", user.OwnerKey())

	guest := GuestPrincipal("sess-1")
	assert.True(t, guest.IsGuest())
	assert.Equal(t, "guest:sess-1", guest.OwnerKey())
	assert.NotEqual(t, UserPrincipal("sess-1").OwnerKey(), guest.OwnerKey())
	assert.Empty(t, Principal{}.OwnerKey())
	assert.True(t, pkgerrors.IsUnauthenticated(guest.RequireUser()))
	assert.NoError(t, guest.RequireAny())

	var nobody Principal
	assert.True(t, nobody.IsAnonymous())
	assert.True(t, pkgerrors.IsUnauthenticated(nobody.RequireAny()))
}

func TestOrderKeyString(t *testing.T) {
	assert.Equal(t, "n1", OrderKey{LocusID: "n1"}.String())
	assert.Equal(t, "n1/t1", OrderKey{LocusID: "n1", ParentID: "t1"}.String())
}
