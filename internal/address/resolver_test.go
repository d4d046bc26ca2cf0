package address

import (
	"strconv"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		want    Target
		wantErr error
	}{
		{"all lower", "all", All(), nil},
		{"all mixed case", "AlL", All(), nil},
		{"group", "g:3", InGroup(3), nil},
		{"group upper prefix", "G:12", InGroup(12), nil},
		{"group zero", "g:0", InGroup(0), nil},
		{"group malformed", "g:abc", InGroup(0), ErrMalformedGroup},
		{"group empty suffix", "g:", InGroup(0), ErrMalformedGroup},
		{"group negative", "g:-1", InGroup(0), ErrMalformedGroup},
		{"group overflow", "g:4294967296", InGroup(0), ErrMalformedGroup},
		{"numeric identity", "105", ID("105"), nil},
		{"sub instance identity", "105-2", ID("105-2"), nil},
		{"identity resembling prefix", "g3", ID("g3"), nil},
		{"identity containing all", "allx", ID("allx"), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.token)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveEmpty(t *testing.T) {
	_, err := Resolve("")
	assert.ErrorIs(t, err, ErrEmptyTarget)
}

func TestTargetString(t *testing.T) {
	assert.Equal(t, "all", All().String())
	assert.Equal(t, "g:4", InGroup(4).String())
	assert.Equal(t, "105-2", ID("105-2").String())
}

func TestResolveProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("any casing of all is broadcast", prop.ForAll(
		func(mask uint8) bool {
			var b strings.Builder
			for i, r := range AllKeyword {
				if mask&(1<<i) != 0 {
					r = r - 'a' + 'A'
				}
				b.WriteRune(r)
			}
			target, err := Resolve(b.String())
			return err == nil && target == All()
		},
		gen.UInt8(),
	))

	properties.Property("g:<n> resolves to Group(n)", prop.ForAll(
		func(n uint32) bool {
			target, err := Resolve("g:" + strconv.FormatUint(uint64(n), 10))
			return err == nil && target == InGroup(GroupID(n))
		},
		gen.UInt32(),
	))

	properties.Property("g:<non-integer> resolves to Group(0)", prop.ForAll(
		func(suffix string) bool {
			target, err := Resolve("g:" + suffix)
			return err != nil && target == InGroup(0)
		},
		gen.AlphaString(),
	))

	properties.Property("other tokens resolve verbatim to Individual", prop.ForAll(
		func(token string) bool {
			target, err := Resolve(token)
			return err == nil && target == ID(token)
		},
		gen.Identifier().SuchThat(func(s string) bool {
			return !strings.EqualFold(s, AllKeyword) &&
				!(len(s) >= 2 && strings.EqualFold(s[:2], GroupPrefix))
		}),
	))

	properties.TestingRun(t)
}
